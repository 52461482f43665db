package main

import (
	"fmt"
	"strings"

	"github.com/eth2030/devchain/node"
	"github.com/urfave/cli/v2"
)

const (
	chainCategory   = "CHAIN"
	minerCategory   = "MINER"
	loggingCategory = "LOGGING"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file, applied before the other flags",
	}
	dataDirFlag = &cli.StringFlag{
		Name:     "datadir",
		Usage:    "Data directory for the chain database (empty keeps the chain in memory)",
		Category: chainCategory,
	}
	chainIDFlag = &cli.Uint64Flag{
		Name:     "chainid",
		Usage:    "Chain id used for replay protection",
		Value:    node.DefaultConfig().ChainID,
		Category: chainCategory,
	}
	hardforkFlag = &cli.StringFlag{
		Name:     "hardfork",
		Usage:    "EVM rule set active from genesis",
		Value:    node.DefaultConfig().Hardfork,
		Category: chainCategory,
	}
	coinbaseFlag = &cli.StringFlag{
		Name:     "coinbase",
		Usage:    "Fee recipient of mined blocks",
		Category: chainCategory,
	}
	gasLimitFlag = &cli.Uint64Flag{
		Name:     "gaslimit",
		Usage:    "Block gas limit",
		Value:    node.DefaultConfig().GasLimit,
		Category: chainCategory,
	}
	baseFeeFlag = &cli.Uint64Flag{
		Name:     "basefee",
		Usage:    "Base fee per gas in wei",
		Value:    node.DefaultConfig().BaseFee,
		Category: chainCategory,
	}
	allocFlag = &cli.StringSliceFlag{
		Name:     "alloc",
		Usage:    "Prefund an account at genesis, as address=wei (repeatable)",
		Category: chainCategory,
	}

	autoMineFlag = &cli.BoolFlag{
		Name:     "automine",
		Usage:    "Mine a block for every submitted transaction",
		Value:    true,
		Category: minerCategory,
	}
	blockTimeFlag = &cli.DurationFlag{
		Name:     "blocktime",
		Usage:    "Mine buffered transactions at this interval (0 disables interval mining)",
		Category: minerCategory,
	}
	maxPendingFlag = &cli.IntFlag{
		Name:     "txpool.maxpending",
		Usage:    "Maximum number of buffered transactions",
		Value:    node.DefaultConfig().MaxPendingTransactions,
		Category: minerCategory,
	}
	poolOrderingFlag = &cli.StringFlag{
		Name:     "txpool.ordering",
		Usage:    "Order buffered transactions are mined in (fifo, gasprice)",
		Value:    node.DefaultConfig().PoolOrdering,
		Category: minerCategory,
	}

	verbosityFlag = &cli.IntFlag{
		Name:     "verbosity",
		Usage:    "Logging verbosity: 1=error, 2=warn, 3=info, 4=debug",
		Value:    3,
		Category: loggingCategory,
	}
	logFormatFlag = &cli.StringFlag{
		Name:     "log.format",
		Usage:    "Log format (text, json)",
		Value:    node.DefaultConfig().LogFormat,
		Category: loggingCategory,
	}
)

var nodeFlags = []cli.Flag{
	configFlag,
	dataDirFlag,
	chainIDFlag,
	hardforkFlag,
	coinbaseFlag,
	gasLimitFlag,
	baseFeeFlag,
	allocFlag,
	autoMineFlag,
	blockTimeFlag,
	maxPendingFlag,
	poolOrderingFlag,
	verbosityFlag,
	logFormatFlag,
}

// makeConfig loads the config file, if any, and applies the flags the user
// set on top of it.
func makeConfig(ctx *cli.Context) (node.Config, error) {
	cfg := node.DefaultConfig()
	if path := ctx.String(configFlag.Name); path != "" {
		loaded, err := node.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
	}

	if ctx.IsSet(dataDirFlag.Name) {
		cfg.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(chainIDFlag.Name) {
		cfg.ChainID = ctx.Uint64(chainIDFlag.Name)
	}
	if ctx.IsSet(hardforkFlag.Name) {
		cfg.Hardfork = ctx.String(hardforkFlag.Name)
	}
	if ctx.IsSet(coinbaseFlag.Name) {
		cfg.Coinbase = ctx.String(coinbaseFlag.Name)
	}
	if ctx.IsSet(gasLimitFlag.Name) {
		cfg.GasLimit = ctx.Uint64(gasLimitFlag.Name)
	}
	if ctx.IsSet(baseFeeFlag.Name) {
		cfg.BaseFee = ctx.Uint64(baseFeeFlag.Name)
	}
	if ctx.IsSet(allocFlag.Name) {
		if cfg.Alloc == nil {
			cfg.Alloc = make(map[string]string)
		}
		for _, entry := range ctx.StringSlice(allocFlag.Name) {
			addr, bal, ok := strings.Cut(entry, "=")
			if !ok {
				return cfg, fmt.Errorf("invalid --%s %q, want address=wei", allocFlag.Name, entry)
			}
			cfg.Alloc[strings.TrimSpace(addr)] = strings.TrimSpace(bal)
		}
	}
	if ctx.IsSet(autoMineFlag.Name) {
		cfg.AutoMine = ctx.Bool(autoMineFlag.Name)
	}
	if ctx.IsSet(blockTimeFlag.Name) {
		cfg.BlockTime = ctx.Duration(blockTimeFlag.Name)
	}
	if ctx.IsSet(maxPendingFlag.Name) {
		cfg.MaxPendingTransactions = ctx.Int(maxPendingFlag.Name)
	}
	if ctx.IsSet(poolOrderingFlag.Name) {
		cfg.PoolOrdering = ctx.String(poolOrderingFlag.Name)
	}
	if ctx.IsSet(verbosityFlag.Name) {
		cfg.LogLevel = verbosityToLevel(ctx.Int(verbosityFlag.Name))
	}
	if ctx.IsSet(logFormatFlag.Name) {
		cfg.LogFormat = ctx.String(logFormatFlag.Name)
	}
	return cfg, cfg.Validate()
}

// verbosityToLevel maps the numeric verbosity onto a log level name.
func verbosityToLevel(v int) string {
	switch {
	case v <= 1:
		return "error"
	case v == 2:
		return "warn"
	case v == 3:
		return "info"
	default:
		return "debug"
	}
}
