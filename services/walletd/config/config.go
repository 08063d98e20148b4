package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
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
	raw := value.Value
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

// Config captures runtime configuration for walletd.
type Config struct {
	ListenAddress string        `yaml:"listen"`
	NodeConfig    string        `yaml:"node_config"`
	LogFile       string        `yaml:"log_file"`
	Auth          AuthConfig    `yaml:"auth"`
	RateLimits    RateLimits    `yaml:"rate_limits"`
	Journal       JournalConfig `yaml:"journal"`
	Idempotency   Idempotency   `yaml:"idempotency"`
	Directory     Directory     `yaml:"directory"`
	PolicyFile    string        `yaml:"policy_file"`
	Webhooks      []Webhook     `yaml:"webhooks"`
	Shutdown      Duration      `yaml:"shutdown_timeout"`
}

// Idempotency configures the response cache behind the Idempotency-Key
// header. In-memory runs skip it.
type Idempotency struct {
	Path string   `yaml:"path"`
	TTL  Duration `yaml:"ttl"`
}

// Webhook forwards journaled events to an external receiver.
type Webhook struct {
	URL       string   `yaml:"url"`
	Secret    string   `yaml:"secret"`
	SecretEnv string   `yaml:"secret_env"`
	Topics    []string `yaml:"topics"`
}

// ResolvedSecret returns the signing secret, preferring the environment.
func (w Webhook) ResolvedSecret() string {
	if env := strings.TrimSpace(w.SecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(w.Secret)
}

// AuthConfig configures JWT caller authentication.
type AuthConfig struct {
	HMACSecret string   `yaml:"hmac_secret"`
	SecretEnv  string   `yaml:"hmac_secret_env"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	ClockSkew  Duration `yaml:"clock_skew"`
}

// RateLimit bounds requests per caller for one route group.
type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// RateLimits groups per-route-group limits.
type RateLimits struct {
	Relay   RateLimit `yaml:"relay"`
	Execute RateLimit `yaml:"execute"`
	Read    RateLimit `yaml:"read"`
}

// JournalConfig selects the event journal backend.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Directory lists the assets, prices and venues exposed to accounts.
type Directory struct {
	Assets []Asset `yaml:"assets"`
	Venues []Venue `yaml:"venues"`
}

// Asset registers a symbol and its USD price.
type Asset struct {
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
	PriceUSD string `yaml:"price_usd"`
}

// Venue configures one reference venue adapter.
type Venue struct {
	ID      uint64 `yaml:"id"`
	Type    string `yaml:"type"`
	Custody string `yaml:"custody"`
	// Vault and credit line.
	Asset string `yaml:"asset"`
	// Vault.
	ShareToken  string `yaml:"share_token"`
	RewardAsset string `yaml:"reward_asset"`
	// Pool.
	AssetA  string `yaml:"asset_a"`
	AssetB  string `yaml:"asset_b"`
	LPToken string `yaml:"lp_token"`
	FeeBps  uint32 `yaml:"fee_bps"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
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
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.NodeConfig == "" {
		cfg.NodeConfig = "./agentvault-data/config.toml"
	}
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = "sqlite"
	}
	if cfg.Journal.DSN == "" && cfg.Journal.Driver == "sqlite" {
		cfg.Journal.DSN = "./agentvault-data/journal.sqlite"
	}
	if cfg.Idempotency.Path == "" {
		cfg.Idempotency.Path = "./agentvault-data/idempotency.db"
	}
	if cfg.Idempotency.TTL.Duration == 0 {
		cfg.Idempotency.TTL.Duration = 24 * time.Hour
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.Shutdown.Duration == 0 {
		cfg.Shutdown.Duration = 5 * time.Second
	}
	defaultLimit(&cfg.RateLimits.Relay, 120, 20)
	defaultLimit(&cfg.RateLimits.Execute, 120, 20)
	defaultLimit(&cfg.RateLimits.Read, 600, 60)
}

func defaultLimit(limit *RateLimit, perMinute float64, burst int) {
	if limit.RequestsPerMinute <= 0 {
		limit.RequestsPerMinute = perMinute
	}
	if limit.Burst <= 0 {
		limit.Burst = burst
	}
}

// Secret resolves the JWT signing secret, preferring the environment.
func (a AuthConfig) Secret() string {
	if env := strings.TrimSpace(a.SecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(a.HMACSecret)
}

func validate(cfg Config) error {
	if cfg.Auth.Secret() == "" {
		return fmt.Errorf("auth: hmac secret must be configured")
	}
	switch cfg.Journal.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("journal: unsupported driver %q", cfg.Journal.Driver)
	}
	if strings.TrimSpace(cfg.Journal.DSN) == "" {
		return fmt.Errorf("journal: dsn required")
	}
	if len(cfg.Directory.Assets) == 0 {
		return fmt.Errorf("directory: at least one asset must be configured")
	}
	for i, hook := range cfg.Webhooks {
		if strings.TrimSpace(hook.URL) == "" || hook.ResolvedSecret() == "" {
			return fmt.Errorf("webhooks[%d]: url and secret required", i)
		}
	}
	seen := make(map[uint64]struct{}, len(cfg.Directory.Venues))
	for _, venue := range cfg.Directory.Venues {
		if venue.ID == 0 {
			return fmt.Errorf("directory: venue id must be positive")
		}
		if _, dup := seen[venue.ID]; dup {
			return fmt.Errorf("directory: duplicate venue id %d", venue.ID)
		}
		seen[venue.ID] = struct{}{}
		switch strings.ToLower(venue.Type) {
		case "vault", "pool", "credit":
		default:
			return fmt.Errorf("directory: venue %d has unknown type %q", venue.ID, venue.Type)
		}
	}
	return nil
}
