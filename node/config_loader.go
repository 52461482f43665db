package node

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// LoadConfig reads a TOML configuration file on top of DefaultConfig.
// Unknown keys are an error.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes TOML configuration bytes on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		var perr toml.ParseError
		if errors.As(err, &perr) {
			return nil, errors.New(perr.ErrorWithPosition())
		}
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		slices.Sort(keys)
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if cfg.BlockTimeRaw != "" {
		d, err := time.ParseDuration(cfg.BlockTimeRaw)
		if err != nil {
			return nil, fmt.Errorf("BlockTime: %w", err)
		}
		cfg.BlockTime = d
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Encode writes c as TOML.
func (c *Config) Encode(w io.Writer) error {
	out := *c
	out.BlockTimeRaw = ""
	if c.BlockTime > 0 {
		out.BlockTimeRaw = c.BlockTime.String()
	}
	return toml.NewEncoder(w).Encode(&out)
}
