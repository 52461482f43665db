// Package geth runs bytecode on go-ethereum's EVM. It is the only package
// that drives go-ethereum's interpreter; everything else talks to it through
// the core/vm Executor contract.
package geth

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

// DefaultFork is the rule set a dev chain runs when none is configured.
const DefaultFork = "cancun"

// forkLevel maps fork names to their position in the upgrade sequence.
var forkLevel = map[string]int{
	"frontier":         0,
	"homestead":        1,
	"tangerinewhistle": 2,
	"eip150":           2,
	"spuriousdragon":   3,
	"eip158":           3,
	"byzantium":        4,
	"constantinople":   5,
	"petersburg":       5,
	"istanbul":         6,
	"berlin":           7,
	"london":           8,
	"merge":            9,
	"paris":            9,
	"shanghai":         10,
	"cancun":           11,
}

// ForkSupported reports whether name is a known fork.
func ForkSupported(name string) bool {
	_, ok := forkLevel[strings.ToLower(name)]
	return ok
}

// ForkActive reports whether target is active on a chain running fork. An
// empty fork selects DefaultFork. Unknown names are never active.
func ForkActive(fork, target string) bool {
	if fork == "" {
		fork = DefaultFork
	}
	have, ok := forkLevel[strings.ToLower(fork)]
	want, known := forkLevel[strings.ToLower(target)]
	return ok && known && have >= want
}

// NewChainConfig returns a go-ethereum chain config with every fork up to
// and including fork active from genesis. An empty fork selects DefaultFork.
func NewChainConfig(chainID uint64, fork string) (*params.ChainConfig, error) {
	if fork == "" {
		fork = DefaultFork
	}
	level, ok := forkLevel[strings.ToLower(fork)]
	if !ok {
		return nil, fmt.Errorf("unsupported fork: %s", fork)
	}

	zero := big.NewInt(0)
	ts := uint64(0)
	c := &params.ChainConfig{ChainID: new(big.Int).SetUint64(chainID)}

	if level >= 1 {
		c.HomesteadBlock = zero
	}
	if level >= 2 {
		c.EIP150Block = zero
	}
	if level >= 3 {
		c.EIP155Block = zero
		c.EIP158Block = zero
	}
	if level >= 4 {
		c.ByzantiumBlock = zero
	}
	if level >= 5 {
		c.ConstantinopleBlock = zero
		c.PetersburgBlock = zero
	}
	if level >= 6 {
		c.IstanbulBlock = zero
	}
	if level >= 7 {
		c.BerlinBlock = zero
	}
	if level >= 8 {
		c.LondonBlock = zero
	}
	if level >= 9 {
		c.TerminalTotalDifficulty = zero
	}
	if level >= 10 {
		c.ShanghaiTime = &ts
	}
	if level >= 11 {
		c.CancunTime = &ts
		c.BlobScheduleConfig = &params.BlobScheduleConfig{Cancun: params.DefaultCancunBlobConfig}
	}
	return c, nil
}
