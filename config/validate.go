package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"dposchain/observability/logging"
)

// ValidateConfig checks the decoded configuration for values the node
// cannot start with.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("DataDir must be set")
	}
	if strings.ContainsAny(cfg.AddressPrefix, " 1") {
		return fmt.Errorf("AddressPrefix %q is not a valid bech32 prefix", cfg.AddressPrefix)
	}
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.MaxBackups < 0 {
		return fmt.Errorf("logging: rotation limits must not be negative")
	}
	if cfg.Telemetry.Enabled && strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
		return fmt.Errorf("telemetry: endpoint required when enabled")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample ratio %v outside [0,1]", cfg.Telemetry.SampleRatio)
	}
	if cfg.Mempool.MaxSize < 0 {
		return fmt.Errorf("mempool: max size must not be negative")
	}
	if cfg.Mempool.RatePerSecond < 0 || cfg.Mempool.Burst < 0 {
		return fmt.Errorf("mempool: rate limits must not be negative")
	}
	if cfg.Mempool.RatePerSecond > 0 && cfg.Mempool.Burst == 0 {
		return fmt.Errorf("mempool: burst required when rate limiting")
	}
	for i, id := range cfg.Exceptions.Transactions {
		if _, err := hex.DecodeString(id); err != nil || id == "" {
			return fmt.Errorf("exceptions: transaction %d: invalid id %q", i, id)
		}
	}
	if _, err := cfg.Schedule(); err != nil {
		return err
	}
	return nil
}
