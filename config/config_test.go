package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dposchain/crypto"
)

const testKeystorePassphrase = "test-passphrase"

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesSections(t *testing.T) {
	path := writeConfig(t, `DataDir = "./data"
GenesisFile = "genesis.yaml"
NetworkName = "testnet"
AddressPrefix = "tdpos"
ForgerKeystorePath = "forger.keystore"

[Logging]
Level = "debug"
File = "node.log"
MaxSizeMB = 10
MaxBackups = 3

[Metrics]
ListenAddress = ":9102"

[Telemetry]
Enabled = true
Endpoint = "otel:4318"
Insecure = true
SampleRatio = 0.25
Headers = { authorization = "token" }

[[Milestones]]
Height = 1
ActiveDelegates = 4
BlockTime = 8
Reward = 0

[[Milestones]]
Height = 9
Reward = 2
AIP11 = true
HTLCEnabled = true

[Exceptions]
Transactions = ["abcdef01"]

[HTLC]
MinimumLockRounds = 2

[Mempool]
MaxSize = 50
RatePerSecond = 5
Burst = 10
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.NetworkName != "testnet" || cfg.Prefix() != crypto.TestnetPrefix {
		t.Fatalf("unexpected network: %q %q", cfg.NetworkName, cfg.AddressPrefix)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.MaxSizeMB != 10 || cfg.Logging.MaxBackups != 3 {
		t.Fatalf("unexpected logging: %+v", cfg.Logging)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.SampleRatio != 0.25 || cfg.Telemetry.Headers["authorization"] != "token" {
		t.Fatalf("unexpected telemetry: %+v", cfg.Telemetry)
	}
	if cfg.HTLC.MinimumLockRounds != 2 {
		t.Fatalf("unexpected htlc: %+v", cfg.HTLC)
	}
	if cfg.Mempool.MaxSize != 50 || cfg.Mempool.RatePerSecond != 5 || cfg.Mempool.Burst != 10 {
		t.Fatalf("unexpected mempool: %+v", cfg.Mempool)
	}
	if len(cfg.Exceptions.Transactions) != 1 {
		t.Fatalf("unexpected exceptions: %+v", cfg.Exceptions)
	}

	schedule, err := cfg.Schedule()
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	genesis := schedule.At(1)
	if genesis.ActiveDelegates != 4 || genesis.BlockTime != 8 || genesis.Reward != 0 || genesis.AIP11 {
		t.Fatalf("unexpected genesis milestone: %+v", genesis)
	}
	later := schedule.At(20)
	if later.ActiveDelegates != 4 || later.Reward != 2 || !later.AIP11 || !later.HTLCEnabled {
		t.Fatalf("unexpected inherited milestone: %+v", later)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `DataDir = "./data"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.NetworkName != DefaultNetworkName {
		t.Fatalf("expected default network, got %q", cfg.NetworkName)
	}
	if cfg.Prefix() != crypto.DefaultPrefix {
		t.Fatalf("expected default prefix, got %q", cfg.AddressPrefix)
	}
	if cfg.Mempool.MaxSize != DefaultMempoolMaxSize {
		t.Fatalf("expected default mempool size %d, got %d", DefaultMempoolMaxSize, cfg.Mempool.MaxSize)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected info level, got %q", cfg.Logging.Level)
	}
	if len(cfg.Milestones) != 1 || cfg.Milestones[0].Height != 1 {
		t.Fatalf("expected default genesis milestone, got %+v", cfg.Milestones)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `DataDir = "./data"
ValidatorKey = "deadbeef"

[P2P]
MaxPeers = 3
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected unknown keys to be rejected")
	}
	if !strings.Contains(err.Error(), "ValidatorKey") || !strings.Contains(err.Error(), "P2P") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadValidates(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"level", "[Logging]\nLevel = \"loud\"\n", "unknown log level"},
		{"telemetry", "[Telemetry]\nEnabled = true\n", "endpoint required"},
		{"sample", "[Telemetry]\nSampleRatio = 2.0\n", "sample ratio"},
		{"burst", "[Mempool]\nRatePerSecond = 1.0\n", "burst required"},
		{"exception", "[Exceptions]\nTransactions = [\"xyz\"]\n", "invalid id"},
		{"prefix", "AddressPrefix = \"bad1\"\n", "bech32 prefix"},
		{"milestone", "[[Milestones]]\nHeight = 2\nActiveDelegates = 4\nBlockTime = 8\n", "height 1"},
		{"split round", `[[Milestones]]
Height = 1
ActiveDelegates = 4
BlockTime = 8

[[Milestones]]
Height = 7
ActiveDelegates = 5
`, "splits a round"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, fmt.Sprintf("DataDir = \"./data\"\n%s", tc.body))
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadWithoutPassphraseFailsToCreateDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error when no keystore passphrase is provided")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no config file to be written, stat err: %v", err)
	}
}

func TestLoadCreatesKeystoreWithPassphrase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	passphrase := "strong-passphrase"

	cfg, err := Load(path, WithKeystorePassphrase(passphrase))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.ForgerKeystorePath == "" {
		t.Fatalf("expected forger keystore path to be set")
	}
	if _, err := os.Stat(cfg.ForgerKeystorePath); err != nil {
		t.Fatalf("expected keystore file to exist: %v", err)
	}

	key, err := crypto.LoadFromKeystore(cfg.ForgerKeystorePath, passphrase)
	if err != nil {
		t.Fatalf("failed to decrypt keystore: %v", err)
	}
	if key == nil {
		t.Fatalf("expected decrypted key")
	}

	reloaded, err := Load(path, WithKeystorePassphrase(testKeystorePassphrase))
	if err != nil {
		t.Fatalf("reload persisted default: %v", err)
	}
	if reloaded.ForgerKeystorePath != cfg.ForgerKeystorePath || reloaded.Metrics.ListenAddress != DefaultMetricsAddress {
		t.Fatalf("persisted config mismatch: %+v", reloaded)
	}
	if _, err := reloaded.Schedule(); err != nil {
		t.Fatalf("persisted milestones: %v", err)
	}
}
