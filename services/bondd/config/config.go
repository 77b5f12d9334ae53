package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"bondvault/crypto"
	"bondvault/native/bond"
	"bondvault/storage"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses human readable duration strings for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for bondd.
type Config struct {
	ListenAddress string          `yaml:"listen" toml:"listen"`
	Environment   string          `yaml:"env" toml:"env"`
	JournalPath   string          `yaml:"journal" toml:"journal"`
	Logging       LoggingConfig   `yaml:"logging" toml:"logging"`
	Storage       StorageConfig   `yaml:"storage" toml:"storage"`
	Assets        AssetsConfig    `yaml:"assets" toml:"assets"`
	Bond          BondConfig      `yaml:"bond" toml:"bond"`
	Pool          PoolConfig      `yaml:"pool" toml:"pool"`
	Auth          AuthConfig      `yaml:"auth" toml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	// Funding is minted once, on a ledger whose asset supply is still zero.
	Funding []Allocation `yaml:"funding" toml:"funding"`
}

// LoggingConfig controls the structured log sink.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// StorageConfig selects the key-value backend for ledger state.
type StorageConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

// AssetsConfig names the two ledger assets and the custody account.
type AssetsConfig struct {
	Base    string   `yaml:"base" toml:"base"`
	Reserve string   `yaml:"reserve" toml:"reserve"`
	Custody string   `yaml:"custody" toml:"custody"`
	Extra   []string `yaml:"extra" toml:"extra"`
}

// BondConfig holds the initial deposit terms and the owner identity.
type BondConfig struct {
	VestPeriod  Duration `yaml:"vest_period" toml:"vest_period"`
	DiscountBps uint64   `yaml:"discount_bps" toml:"discount_bps"`
	MergePolicy string   `yaml:"merge_policy" toml:"merge_policy"`
	Owner       string   `yaml:"owner" toml:"owner"`
}

// PoolConfig selects the reserve source used for quoting.
type PoolConfig struct {
	Mode         string   `yaml:"mode" toml:"mode"`
	Reserve0     string   `yaml:"reserve0" toml:"reserve0"`
	Reserve1     string   `yaml:"reserve1" toml:"reserve1"`
	Endpoint     string   `yaml:"endpoint" toml:"endpoint"`
	Pair         string   `yaml:"pair" toml:"pair"`
	BaseIsToken1 bool     `yaml:"base_is_token1" toml:"base_is_token1"`
	MaxAge       Duration `yaml:"max_age" toml:"max_age"`
}

// AuthConfig configures request authentication.
type AuthConfig struct {
	JWTSecret       string   `yaml:"jwt_secret" toml:"jwt_secret"`
	Issuer          string   `yaml:"issuer" toml:"issuer"`
	Audience        string   `yaml:"audience" toml:"audience"`
	ClockSkew       Duration `yaml:"clock_skew" toml:"clock_skew"`
	SignatureWindow Duration `yaml:"signature_window" toml:"signature_window"`
}

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"rps" toml:"rps"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// Allocation is a funding entry.
type Allocation struct {
	Asset   string `yaml:"asset" toml:"asset"`
	Address string `yaml:"address" toml:"address"`
	Amount  string `yaml:"amount" toml:"amount"`
}

const (
	PoolModeStatic = "static"
	PoolModeEVM    = "evm"
)

// Load reads configuration from path. Files ending in .toml are decoded as
// TOML; anything else as YAML. BONDD_JWT_SECRET overrides auth.jwt_secret.
func Load(path string) (Config, error) {
	cfg := Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	default:
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	if secret := strings.TrimSpace(os.Getenv("BONDD_JWT_SECRET")); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7081"
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = "/var/data/bondd-journal.sqlite"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = string(storage.BackendLevelDB)
	}
	if cfg.Storage.Path == "" && cfg.Storage.Backend != string(storage.BackendMemory) {
		cfg.Storage.Path = "/var/data/bondd-state"
	}
	if cfg.Assets.Base == "" {
		cfg.Assets.Base = "NHB"
	}
	if cfg.Assets.Reserve == "" {
		cfg.Assets.Reserve = "ZNHB"
	}
	if cfg.Bond.VestPeriod.Duration == 0 {
		cfg.Bond.VestPeriod.Duration = 5 * 24 * time.Hour
	}
	if cfg.Pool.Mode == "" {
		cfg.Pool.Mode = PoolModeStatic
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 30 * time.Second
	}
	if cfg.Auth.SignatureWindow.Duration == 0 {
		cfg.Auth.SignatureWindow.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 5
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 10
	}
}

func validate(cfg Config) error {
	switch storage.Backend(strings.ToLower(cfg.Storage.Backend)) {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("storage.backend %q unsupported", cfg.Storage.Backend)
	}
	if strings.EqualFold(cfg.Assets.Base, cfg.Assets.Reserve) {
		return fmt.Errorf("assets.base and assets.reserve must differ")
	}
	if err := requireAddress(cfg.Assets.Custody); err != nil {
		return fmt.Errorf("assets.custody: %w", err)
	}
	if err := requireAddress(cfg.Bond.Owner); err != nil {
		return fmt.Errorf("bond.owner: %w", err)
	}
	settings := bond.Settings{VestPeriod: cfg.Bond.VestPeriod.Duration, DiscountBps: cfg.Bond.DiscountBps}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("bond: %w", err)
	}
	if _, err := bond.ParseMergePolicy(cfg.Bond.MergePolicy); err != nil {
		return fmt.Errorf("bond.merge_policy: %w", err)
	}
	switch strings.ToLower(cfg.Pool.Mode) {
	case PoolModeStatic:
		if _, err := ParseAmount(cfg.Pool.Reserve0); err != nil {
			return fmt.Errorf("pool.reserve0: %w", err)
		}
		if _, err := ParseAmount(cfg.Pool.Reserve1); err != nil {
			return fmt.Errorf("pool.reserve1: %w", err)
		}
	case PoolModeEVM:
		if strings.TrimSpace(cfg.Pool.Endpoint) == "" {
			return fmt.Errorf("pool.endpoint required for evm mode")
		}
		if !isHexAddress(cfg.Pool.Pair) {
			return fmt.Errorf("pool.pair must be a 0x address")
		}
	default:
		return fmt.Errorf("pool.mode %q unsupported", cfg.Pool.Mode)
	}
	if len(strings.TrimSpace(cfg.Auth.JWTSecret)) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	for i, alloc := range cfg.Funding {
		if _, err := crypto.ParseAddress(alloc.Address); err != nil {
			return fmt.Errorf("funding[%d].address: %w", i, err)
		}
		amount, err := ParseAmount(alloc.Amount)
		if err != nil || amount.Sign() == 0 {
			return fmt.Errorf("funding[%d].amount must be a positive integer", i)
		}
		if strings.TrimSpace(alloc.Asset) == "" {
			return fmt.Errorf("funding[%d].asset required", i)
		}
	}
	return nil
}

// ParseAmount parses a non-negative base-10 integer.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func requireAddress(raw string) error {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return err
	}
	if addr.IsZero() {
		return fmt.Errorf("zero address not allowed")
	}
	return nil
}

func isHexAddress(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return false
	}
	addr, err := crypto.ParseAddress(trimmed)
	return err == nil && !addr.IsZero()
}
