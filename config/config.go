package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config captures the runtime settings for the treasury daemon.
type Config struct {
	ListenAddress string         `toml:"listen"`
	DataDir       string         `toml:"data_dir"`
	Env           string         `toml:"env"`
	LogLevel      string         `toml:"log_level"`
	Treasury      TreasuryConfig `toml:"treasury"`
	Auth          AuthConfig     `toml:"auth"`
	RateLimit     RateLimit      `toml:"ratelimit"`
}

// TreasuryConfig holds the privileged identities and reconciliation settings.
// Addresses are 20-byte hex strings, with or without an 0x prefix.
type TreasuryConfig struct {
	Admin          string `toml:"admin"`
	DevWallet      string `toml:"dev_wallet"`
	ReserveMinimum string `toml:"reserve_minimum"`
}

// AuthConfig lists the API tokens accepted by the HTTP surface.
type AuthConfig struct {
	APITokens []string `toml:"api_tokens"`
}

// RateLimit bounds request throughput on the HTTP surface.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// Load reads the TOML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		ListenAddress: ":8651",
		DataDir:       "./treasury-data",
		Env:           "dev",
		LogLevel:      "info",
		RateLimit: RateLimit{
			RequestsPerSecond: 25,
			Burst:             50,
		},
	}
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8651"
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = "./treasury-data"
	}
	cfg.Env = strings.TrimSpace(cfg.Env)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	tokens := cfg.Auth.APITokens[:0]
	for _, token := range cfg.Auth.APITokens {
		if token = strings.TrimSpace(token); token != "" {
			tokens = append(tokens, token)
		}
	}
	cfg.Auth.APITokens = tokens
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if _, err := ParseAddress(cfg.Treasury.Admin); err != nil {
		return fmt.Errorf("treasury.admin: %w", err)
	}
	if _, err := ParseAddress(cfg.Treasury.DevWallet); err != nil {
		return fmt.Errorf("treasury.dev_wallet: %w", err)
	}
	if _, err := cfg.Treasury.ReserveMin(); err != nil {
		return fmt.Errorf("treasury.reserve_minimum: %w", err)
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("ratelimit.requests_per_second must be positive")
	}
	if cfg.RateLimit.Burst <= 0 {
		return fmt.Errorf("ratelimit.burst must be positive")
	}
	if len(cfg.Auth.APITokens) == 0 {
		return fmt.Errorf("auth.api_tokens must not be empty")
	}
	return nil
}

// AdminAddress returns the parsed admin identity.
func (t TreasuryConfig) AdminAddress() ([20]byte, error) {
	return ParseAddress(t.Admin)
}

// DevWalletAddress returns the parsed dev-wallet identity.
func (t TreasuryConfig) DevWalletAddress() ([20]byte, error) {
	return ParseAddress(t.DevWallet)
}

// ReserveMin returns the configured reserve minimum. An empty value means
// zero.
func (t TreasuryConfig) ReserveMin() (*big.Int, error) {
	raw := strings.TrimSpace(t.ReserveMinimum)
	if raw == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", t.ReserveMinimum)
	}
	return value, nil
}

// ParseAddress decodes a 20-byte hex identity, accepting an optional 0x
// prefix.
func ParseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return addr, fmt.Errorf("address required")
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("address %q must be %d bytes", raw, len(addr))
	}
	copy(addr[:], decoded)
	return addr, nil
}
