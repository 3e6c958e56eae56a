package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dposchain/crypto"

	"github.com/BurntSushi/toml"
)

const (
	DefaultNetworkName    = "dpos-local"
	DefaultMempoolMaxSize = 10000
	DefaultMetricsAddress = "127.0.0.1:9102"
)

// Config is the node configuration file.
type Config struct {
	DataDir            string `toml:"DataDir"`
	GenesisFile        string `toml:"GenesisFile"`
	NetworkName        string `toml:"NetworkName"`
	AddressPrefix      string `toml:"AddressPrefix"`
	ForgerKeystorePath string `toml:"ForgerKeystorePath"`

	Logging    Logging     `toml:"Logging"`
	Metrics    Metrics     `toml:"Metrics"`
	Telemetry  Telemetry   `toml:"Telemetry"`
	Milestones []Milestone `toml:"Milestones"`
	Exceptions Exceptions  `toml:"Exceptions"`
	HTLC       HTLC        `toml:"HTLC"`
	Mempool    Mempool     `toml:"Mempool"`
}

type loadOptions struct {
	passphrase func() (string, error)
}

// LoadOption customises Load.
type LoadOption func(*loadOptions)

// WithKeystorePassphrase sets the passphrase used to encrypt a forger
// keystore that Load has to create.
func WithKeystorePassphrase(passphrase string) LoadOption {
	return func(o *loadOptions) {
		o.passphrase = func() (string, error) { return passphrase, nil }
	}
}

// WithKeystorePassphraseSource defers passphrase resolution to source,
// which is only called when a keystore has to be created.
func WithKeystorePassphraseSource(source func() (string, error)) LoadOption {
	return func(o *loadOptions) {
		o.passphrase = source
	}
}

// Load loads the configuration from the given path. A missing file is
// created with defaults together with a fresh forger keystore, which
// requires a passphrase.
func Load(path string, opts ...LoadOption) (*Config, error) {
	var options loadOptions
	for _, opt := range opts {
		opt(&options)
	}

	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = DefaultNetworkName
	}
	if strings.TrimSpace(cfg.AddressPrefix) == "" {
		cfg.AddressPrefix = string(crypto.DefaultPrefix)
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Mempool.MaxSize == 0 {
		cfg.Mempool.MaxSize = DefaultMempoolMaxSize
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = 1
	}
	if len(cfg.Milestones) == 0 {
		cfg.Milestones = defaultMilestones()
	}
}

func defaultMilestones() []Milestone {
	active, blockTime := uint32(51), uint32(8)
	reward := uint64(0)
	enabled := false
	return []Milestone{{
		Height:          1,
		ActiveDelegates: &active,
		BlockTime:       &blockTime,
		Reward:          &reward,
		AIP11:           &enabled,
		HTLCEnabled:     &enabled,
	}}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string, options loadOptions) (*Config, error) {
	if options.passphrase == nil {
		return nil, errors.New("config: keystore passphrase required to create a default forger keystore")
	}
	passphrase, err := options.passphrase()
	if err != nil {
		return nil, fmt.Errorf("config: resolve keystore passphrase: %w", err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:            filepath.Join(filepath.Dir(path), "dpos-data"),
		ForgerKeystorePath: keystorePath,
		Metrics:            Metrics{ListenAddress: DefaultMetricsAddress},
	}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "forger.keystore")
}
