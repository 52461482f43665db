// Command devchain runs a local Ethereum-compatible development chain.
//
// Usage:
//
//	devchain [flags]             run the chain until interrupted
//	devchain genesis [flags]     print the genesis header as JSON
//	devchain dumpconfig [flags]  print the resolved configuration as TOML
//	devchain version             print version information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/eth2030/devchain/node"
	"github.com/urfave/cli/v2"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "devchain",
		Usage:   "local Ethereum development chain",
		Version: version + " (commit " + commit + ")",
		Flags:   nodeFlags,
		Action:  runNode,
		Commands: []*cli.Command{
			{
				Name:   "genesis",
				Usage:  "Print the genesis block header as JSON",
				Flags:  nodeFlags,
				Action: printGenesis,
			},
			{
				Name:   "dumpconfig",
				Usage:  "Print the resolved configuration as TOML",
				Flags:  nodeFlags,
				Action: dumpConfig,
			},
			{
				Name:  "version",
				Usage: "Print version information",
				Action: func(ctx *cli.Context) error {
					_, err := fmt.Fprintf(ctx.App.Writer, "devchain %s (commit %s)\n", version, commit)
					return err
				},
			},
		},
	}
}

// runNode starts the chain and blocks until SIGINT or SIGTERM.
func runNode(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	logger := cfg.RootLogger()
	cfg.Logger = logger

	n, err := node.New(cfg)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := n.Start(sigCtx); err != nil {
		n.Close()
		return fmt.Errorf("start node: %w", err)
	}
	head, _ := n.BlockNumber(sigCtx)
	logger.Info("Dev chain running", "version", version, "chainid", n.ChainID(),
		"head", head, "automine", cfg.AutoMine, "blocktime", cfg.BlockTime)

	<-sigCtx.Done()
	logger.Info("Shutting down")
	return n.Close()
}

// printGenesis writes the genesis header of the configured chain.
func printGenesis(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	n, err := node.New(cfg)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	defer n.Close()

	genesis, err := n.BlockByNumber(context.Background(), 0)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(genesis.Header, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, string(out))
	return err
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	return cfg.Encode(ctx.App.Writer)
}
