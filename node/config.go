// Package node assembles a dev chain: state and chain stores, the
// transaction processor, block producer and manager, and the read and
// what-if surface on top of them.
package node

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eth2030/devchain/core"
	"github.com/eth2030/devchain/geth"
	"github.com/eth2030/devchain/log"
	"github.com/eth2030/devchain/txpool"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config holds all configuration for a dev chain node.
type Config struct {
	// DataDir is the root directory for chain data. Empty keeps everything
	// in memory.
	DataDir string `toml:",omitempty"`
	// CacheSize is the leveldb cache in MiB and the number of cached blocks.
	CacheSize int

	ChainID  uint64
	Hardfork string
	Coinbase string `toml:",omitempty"`
	GasLimit uint64
	BaseFee  uint64

	// ForceFeeCapCheck rejects transactions priced below the base fee.
	ForceFeeCapCheck bool

	AutoMine bool
	// BlockTime enables interval mining.
	BlockTime    time.Duration `toml:"-"`
	BlockTimeRaw string        `toml:"BlockTime,omitempty"`
	// TimestampOffset is added, in seconds, to the wall clock.
	TimestampOffset int64

	MaxPendingTransactions int
	PoolOrdering           string

	// Alloc maps addresses to genesis balances in wei, hex or decimal.
	Alloc map[string]string `toml:",omitempty"`

	LogLevel  string
	LogFormat string

	// Logger overrides LogLevel and LogFormat.
	Logger *log.Logger `toml:"-"`
	// Now replaces the wall clock.
	Now func() time.Time `toml:"-"`
}

// DefaultConfig returns a Config for an in-memory auto-mining chain.
func DefaultConfig() Config {
	return Config{
		CacheSize:              64,
		ChainID:                core.DefaultChainID,
		Hardfork:               geth.DefaultFork,
		GasLimit:               core.DefaultGasLimit,
		BaseFee:                core.DefaultBaseFee,
		AutoMine:               true,
		MaxPendingTransactions: core.DefaultMaxPending,
		PoolOrdering:           txpool.OrderFIFO.String(),
		LogLevel:               "info",
		LogFormat:              "text",
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return errors.New("config: chain id must be greater than 0")
	}
	if c.GasLimit == 0 {
		return errors.New("config: gas limit must be greater than 0")
	}
	if !geth.ForkSupported(c.Hardfork) && c.Hardfork != "" {
		return fmt.Errorf("config: unknown hardfork %q", c.Hardfork)
	}
	if c.Coinbase != "" && !common.IsHexAddress(c.Coinbase) {
		return fmt.Errorf("config: invalid coinbase %q", c.Coinbase)
	}
	if c.BlockTime < 0 {
		return fmt.Errorf("config: negative block time %v", c.BlockTime)
	}
	if c.MaxPendingTransactions < 0 {
		return fmt.Errorf("config: invalid max pending transactions: %d", c.MaxPendingTransactions)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("config: invalid cache size: %d", c.CacheSize)
	}
	if c.PoolOrdering != "" {
		if _, err := txpool.ParseOrdering(c.PoolOrdering); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if _, err := c.GenesisAlloc(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ResolvePath resolves a path relative to the data directory.
func (c *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// ChainConfig derives the block and transaction rules. Fork-dependent
// switches follow Hardfork.
func (c *Config) ChainConfig() *core.ChainConfig {
	cc := core.DefaultChainConfig()
	cc.ChainID = c.ChainID
	cc.GasLimit = c.GasLimit
	cc.BaseFee = uint256.NewInt(c.BaseFee)
	if c.Coinbase != "" {
		cc.Coinbase = common.HexToAddress(c.Coinbase)
	}
	cc.EnableInitCodeWordGas = geth.ForkActive(c.Hardfork, "shanghai")
	cc.EnableRefundCap = geth.ForkActive(c.Hardfork, "london")
	cc.ForceFeeCapCheck = c.ForceFeeCapCheck
	return cc
}

// GenesisAlloc parses Alloc.
func (c *Config) GenesisAlloc() (core.GenesisAlloc, error) {
	alloc := make(core.GenesisAlloc, len(c.Alloc))
	for addr, bal := range c.Alloc {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("alloc: invalid address %q", addr)
		}
		v, err := ParseBalance(bal)
		if err != nil {
			return nil, fmt.Errorf("alloc %s: %w", addr, err)
		}
		alloc[common.HexToAddress(addr)] = core.GenesisAccount{Balance: v}
	}
	return alloc, nil
}

// ParseBalance reads a wei amount written in decimal or 0x-prefixed hex.
func ParseBalance(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	digits, base := s, 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits, base = s[2:], 16
	}
	b, ok := new(big.Int).SetString(digits, base)
	if !ok || b.Sign() < 0 {
		return nil, fmt.Errorf("invalid balance %q", s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("balance %q overflows 256 bits", s)
	}
	return v, nil
}

// RootLogger returns Logger, or builds one from LogLevel and LogFormat.
func (c *Config) RootLogger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	if c.LogFormat == "json" {
		return log.New(level)
	}
	return log.NewText(os.Stderr, level)
}
