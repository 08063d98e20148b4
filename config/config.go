package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"agentvault/crypto"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk node configuration.
type Config struct {
	DataDir      string `toml:"DataDir"`
	NetworkName  string `toml:"NetworkName"`
	KeystorePath string `toml:"KeystorePath"`
	PolicyFile   string `toml:"PolicyFile"`
	NativeAsset  string `toml:"NativeAsset"`
	WrappedAsset string `toml:"WrappedAsset"`
	// Factories lists bech32 or hex addresses allowed to create accounts.
	// The operator key is appended when the list is empty.
	Factories []string `toml:"Factories"`

	Delays        Delays        `toml:"delays"`
	Batches       Batches       `toml:"batches"`
	Seed          Seed          `toml:"seed"`
	Subscriptions Subscriptions `toml:"subscriptions"`
	Clock         Clock         `toml:"clock"`
	Pauses        Pauses        `toml:"pauses"`
}

// Load loads the configuration from the given path, writing a default file
// and operator keystore on first use.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := defaults()
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = def.NetworkName
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = def.DataDir
	}
	if strings.TrimSpace(c.NativeAsset) == "" {
		c.NativeAsset = def.NativeAsset
	}
	if strings.TrimSpace(c.WrappedAsset) == "" {
		c.WrappedAsset = def.WrappedAsset
	}
	if c.Factories == nil {
		c.Factories = []string{}
	}
	if c.Delays == (Delays{}) {
		c.Delays = def.Delays
	}
	if c.Batches.MaxInstructions == 0 {
		c.Batches = def.Batches
	}
	if c.Subscriptions == (Subscriptions{}) {
		c.Subscriptions = def.Subscriptions
	}
	if c.Clock.IntervalSeconds == 0 {
		c.Clock.IntervalSeconds = def.Clock.IntervalSeconds
	}
}

func defaults() Config {
	return Config{
		DataDir:      "./agentvault-data",
		NetworkName:  "agentvault-local",
		NativeAsset:  "AVX",
		WrappedAsset: "WAVX",
		Factories:    []string{},
		Delays:       Delays{Default: 17_280, Min: 720, Max: 120_960},
		Batches:      Batches{MaxInstructions: 15},
		Subscriptions: Subscriptions{
			MaxTrial:  518_400,
			MaxPeriod: 518_400,
		},
		Clock: Clock{IntervalSeconds: 5},
	}
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.KeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.KeystorePath != keystorePath {
		cfg.KeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := defaults()
	cfg.KeystorePath = keystorePath
	cfg.Factories = []string{key.PubKey().Address().String()}

	if err := persist(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// persist rewrites path through a temp file so a crash never leaves a
// truncated config behind.
func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "operator.keystore")
}
