package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eth2030/devchain/node"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// runApp runs the CLI with args and returns what it wrote to stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"devchain"}, args...))
	return out.String(), err
}

func TestDumpConfigDefaults(t *testing.T) {
	out, err := runApp(t, "dumpconfig")
	if err != nil {
		t.Fatalf("dumpconfig: %v", err)
	}
	cfg, err := node.ParseConfig([]byte(out))
	if err != nil {
		t.Fatalf("ParseConfig: %v\n%s", err, out)
	}
	def := node.DefaultConfig()
	if cfg.ChainID != def.ChainID || cfg.GasLimit != def.GasLimit || !cfg.AutoMine {
		t.Errorf("config = %+v", cfg)
	}
}

func TestDumpConfigFlags(t *testing.T) {
	out, err := runApp(t, "dumpconfig",
		"--chainid", "31337",
		"--hardfork", "london",
		"--coinbase", "0x00000000000000000000000000000000000000cb",
		"--gaslimit", "8000000",
		"--basefee", "7",
		"--automine=false",
		"--blocktime", "3s",
		"--txpool.maxpending", "16",
		"--txpool.ordering", "gasprice",
		"--alloc", "0x00000000000000000000000000000000000000aa=1000",
		"--alloc", "0x00000000000000000000000000000000000000bb = 0x10",
		"--verbosity", "4",
		"--log.format", "json",
	)
	if err != nil {
		t.Fatalf("dumpconfig: %v", err)
	}
	cfg, err := node.ParseConfig([]byte(out))
	if err != nil {
		t.Fatalf("ParseConfig: %v\n%s", err, out)
	}
	if cfg.ChainID != 31337 || cfg.Hardfork != "london" || cfg.GasLimit != 8_000_000 || cfg.BaseFee != 7 {
		t.Errorf("chain settings = %+v", cfg)
	}
	if cfg.AutoMine || cfg.BlockTime != 3*time.Second || cfg.MaxPendingTransactions != 16 || cfg.PoolOrdering != "gasprice" {
		t.Errorf("miner settings = %+v", cfg)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("log settings = %q %q", cfg.LogLevel, cfg.LogFormat)
	}
	alloc, err := cfg.GenesisAlloc()
	if err != nil {
		t.Fatalf("GenesisAlloc: %v", err)
	}
	if got := alloc[common.HexToAddress("0xaa")].Balance; got == nil || got.Uint64() != 1000 {
		t.Errorf("alloc 0xaa = %v", got)
	}
	if got := alloc[common.HexToAddress("0xbb")].Balance; got == nil || got.Uint64() != 16 {
		t.Errorf("alloc 0xbb = %v", got)
	}
}

func TestConfigFileWithFlagOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devchain.toml")
	data := "ChainID = 99\nGasLimit = 5000000\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := runApp(t, "dumpconfig", "--config", path, "--gaslimit", "6000000")
	if err != nil {
		t.Fatalf("dumpconfig: %v", err)
	}
	cfg, err := node.ParseConfig([]byte(out))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.ChainID != 99 {
		t.Errorf("chain id = %d, want 99 from file", cfg.ChainID)
	}
	if cfg.GasLimit != 6_000_000 {
		t.Errorf("gas limit = %d, want 6000000 from flag", cfg.GasLimit)
	}
}

func TestInvalidFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"alloc format", []string{"--alloc", "0xaa"}, "address=wei"},
		{"alloc balance", []string{"--alloc", "0x00000000000000000000000000000000000000aa=lots"}, "invalid balance"},
		{"hardfork", []string{"--hardfork", "osaka"}, "unknown hardfork"},
		{"chain id", []string{"--chainid", "0"}, "chain id"},
		{"config file", []string{"--config", "/nonexistent/devchain.toml"}, "config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, append([]string{"dumpconfig"}, tt.args...)...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestGenesisCommand(t *testing.T) {
	out, err := runApp(t, "genesis", "--chainid", "5", "--gaslimit", "12345678", "--verbosity", "1")
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	var header gethtypes.Header
	if err := json.Unmarshal([]byte(out), &header); err != nil {
		t.Fatalf("decode header: %v\n%s", err, out)
	}
	if header.Number.Sign() != 0 || header.GasLimit != 12_345_678 {
		t.Errorf("header = %+v", header)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, version) || !strings.Contains(out, commit) {
		t.Errorf("output = %q", out)
	}
}

func TestVerbosityToLevel(t *testing.T) {
	tests := []struct {
		v    int
		want string
	}{
		{0, "error"},
		{1, "error"},
		{2, "warn"},
		{3, "info"},
		{4, "debug"},
		{5, "debug"},
	}
	for _, tt := range tests {
		if got := verbosityToLevel(tt.v); got != tt.want {
			t.Errorf("verbosityToLevel(%d) = %q, want %q", tt.v, got, tt.want)
		}
	}
}
