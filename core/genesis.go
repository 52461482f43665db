package core

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"slices"
	"time"

	"github.com/eth2030/devchain/core/rawdb"
	"github.com/eth2030/devchain/core/state"
	"github.com/eth2030/devchain/core/types"
	"github.com/eth2030/devchain/crypto"
	"github.com/eth2030/devchain/trie"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// GenesisAccount is an account in the genesis allocation.
type GenesisAccount struct {
	Balance *uint256.Int
	Nonce   uint64
	Code    []byte
	Storage map[common.Hash]common.Hash
}

// GenesisAlloc maps pre-funded addresses to their accounts.
type GenesisAlloc map[common.Address]GenesisAccount

// Genesis describes block zero.
type Genesis struct {
	Config *ChainConfig
	Alloc  GenesisAlloc
	// Timestamp of the genesis block. Zero selects the wall clock.
	Timestamp uint64
}

// DefaultGenesis returns a genesis for config without allocations.
func DefaultGenesis(config *ChainConfig) *Genesis {
	return &Genesis{Config: config}
}

// Header builds the genesis header committing to stateRoot.
func (g *Genesis) Header(stateRoot common.Hash) *gethtypes.Header {
	ts := g.Timestamp
	if ts == 0 {
		ts = uint64(time.Now().Unix())
	}
	h := &gethtypes.Header{
		UncleHash:   gethtypes.EmptyUncleHash,
		Coinbase:    g.Config.Coinbase,
		Root:        stateRoot,
		TxHash:      gethtypes.EmptyRootHash,
		ReceiptHash: gethtypes.EmptyRootHash,
		Difficulty:  big.NewInt(1),
		Number:      new(big.Int),
		GasLimit:    g.Config.GasLimit,
		Time:        ts,
		Extra:       common.CopyBytes(g.Config.ExtraData),
		Nonce:       gethtypes.BlockNonce{},
		BaseFee:     new(big.Int),
	}
	if g.Config.BaseFee != nil {
		h.BaseFee = g.Config.BaseFee.ToBig()
	}
	return h
}

// Commit writes the allocation into st and the genesis block into chain,
// making it the head. It fails if chain already has a block.
func (g *Genesis) Commit(ctx context.Context, st state.Store, chain rawdb.ChainStore, roots *trie.RootCalculator) (*types.Block, error) {
	if g.Config == nil {
		return nil, fmt.Errorf("%w: genesis without chain config", ErrNilCollaborator)
	}
	if _, ok, err := chain.GetHeight(ctx); err != nil {
		return nil, err
	} else if ok {
		return nil, errors.New("genesis: chain already initialised")
	}
	hasher := crypto.NewHasher()
	if roots == nil {
		roots = trie.NewRootCalculator(nil, hasher)
	}

	for _, addr := range slices.SortedFunc(maps.Keys(g.Alloc), func(a, b common.Address) int { return a.Cmp(b) }) {
		if err := writeGenesisAccount(ctx, st, hasher, addr, g.Alloc[addr]); err != nil {
			return nil, fmt.Errorf("genesis account %v: %w", addr, err)
		}
	}
	root, _, err := roots.StateRoot(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("genesis state root: %w", err)
	}

	block := types.NewBlock(g.Header(root), nil)
	if err := chain.SaveBlock(ctx, block); err != nil {
		return nil, err
	}
	if err := chain.SaveLogs(ctx, 0, nil); err != nil {
		return nil, err
	}
	if err := chain.SaveBlockBloom(ctx, 0, gethtypes.Bloom{}); err != nil {
		return nil, err
	}
	if err := chain.SetHead(ctx, block.Hash); err != nil {
		return nil, err
	}
	return block, nil
}

func writeGenesisAccount(ctx context.Context, st state.Store, hasher *crypto.Hasher, addr common.Address, ga GenesisAccount) error {
	acc := types.NewAccount()
	acc.Nonce = ga.Nonce
	if ga.Balance != nil {
		acc.Balance.Set(ga.Balance)
	}
	if len(ga.Code) > 0 {
		acc.CodeHash = hasher.Hash(ga.Code)
		if err := st.SaveCode(ctx, acc.CodeHash, ga.Code); err != nil {
			return err
		}
	}
	if err := st.SaveAccount(ctx, addr, acc); err != nil {
		return err
	}
	for slot, value := range ga.Storage {
		if err := st.SaveStorage(ctx, addr, slot, value); err != nil {
			return err
		}
	}
	return nil
}

// SetupGenesis returns the genesis block of chain, committing g first when
// the chain is empty.
func SetupGenesis(ctx context.Context, st state.Store, chain rawdb.ChainStore, roots *trie.RootCalculator, g *Genesis) (*types.Block, error) {
	_, ok, err := chain.GetHeight(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return chain.GetBlockByNumber(ctx, 0)
	}
	return g.Commit(ctx, st, chain, roots)
}
