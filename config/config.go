package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// PrivateKeyEnv names the environment variable consulted when the signing key
// is not present in the configuration file.
const PrivateKeyEnv = "HASHNOTE_PRIVATE_KEY"

// LedgerMode selects which ledger client implementation the service runs with.
// The mode is fixed at startup; there is no runtime switching.
type LedgerMode string

const (
	ModeSimulated LedgerMode = "simulated"
	ModeReadOnly  LedgerMode = "readonly"
	ModeSigning   LedgerMode = "signing"
)

type Config struct {
	ListenAddress          string     `toml:"ListenAddress"`
	LedgerMode             LedgerMode `toml:"LedgerMode"`
	RPCEndpoint            string     `toml:"RPCEndpoint"`
	PrivateKey             string     `toml:"PrivateKey"`
	ContractAddress        string     `toml:"ContractAddress"`
	NetworkName            string     `toml:"NetworkName"`
	ChainID                uint64     `toml:"ChainID"`
	MinGasPriceWei         uint64     `toml:"MinGasPriceWei"`
	RPCTimeoutSeconds      uint64     `toml:"RPCTimeoutSeconds"`
	DatabasePath           string     `toml:"DatabasePath"`
	RateLimitMaxRequests   int        `toml:"RateLimitMaxRequests"`
	RateLimitWindowSeconds int        `toml:"RateLimitWindowSeconds"`
	JobToken               string     `toml:"JobToken"`
}

// Load loads the configuration from the given path. A missing file yields the
// defaults so a fresh checkout can start in simulated mode without any setup.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		applyDefaults(cfg)
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	applyDefaults(cfg)

	if cfg.PrivateKey == "" {
		cfg.PrivateKey = strings.TrimSpace(os.Getenv(PrivateKeyEnv))
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8085"
	}
	if cfg.LedgerMode == "" {
		cfg.LedgerMode = ModeSimulated
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "local"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 11155111 // sepolia
	}
	if cfg.MinGasPriceWei == 0 {
		cfg.MinGasPriceWei = 2_000_000_000
	}
	if cfg.RPCTimeoutSeconds == 0 {
		cfg.RPCTimeoutSeconds = 30
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		cfg.DatabasePath = "hashnote.db"
	}
	if cfg.RateLimitMaxRequests <= 0 {
		cfg.RateLimitMaxRequests = 10
	}
	if cfg.RateLimitWindowSeconds <= 0 {
		cfg.RateLimitWindowSeconds = 60
	}
	if strings.TrimSpace(cfg.JobToken) == "" {
		cfg.JobToken = "change-me-in-production"
	}
}

func validate(cfg *Config) error {
	switch cfg.LedgerMode {
	case ModeSimulated:
	case ModeReadOnly:
		if strings.TrimSpace(cfg.RPCEndpoint) == "" {
			return fmt.Errorf("readonly mode requires RPCEndpoint")
		}
	case ModeSigning:
		if strings.TrimSpace(cfg.RPCEndpoint) == "" {
			return fmt.Errorf("signing mode requires RPCEndpoint")
		}
		if strings.TrimSpace(cfg.PrivateKey) == "" {
			return fmt.Errorf("signing mode requires PrivateKey or %s", PrivateKeyEnv)
		}
	default:
		return fmt.Errorf("unknown LedgerMode %q", cfg.LedgerMode)
	}
	return nil
}

// RPCTimeout returns the configured transport timeout as a duration.
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutSeconds) * time.Second
}

// RateLimitWindow returns the configured admission window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}
