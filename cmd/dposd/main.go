package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"dposchain/cmd/internal/passphrase"
	"dposchain/config"
	"dposchain/core/genesis"
	"dposchain/observability/logging"
	telemetry "dposchain/observability/otel"
	"dposchain/storage"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	forgerPassEnv  = "DPOS_FORGER_PASS"
	genesisPathEnv = "DPOS_GENESIS"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dposd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to the genesis spec (overrides DPOS_GENESIS and config GenesisFile)")
	forge := flag.Bool("forge", false, "Unlock the forger keystore and report its slots")
	flag.Parse()

	passSource := passphrase.NewSource(forgerPassEnv)
	cfg, err := config.Load(*configFile, config.WithKeystorePassphraseSource(passSource.Get))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	env := strings.TrimSpace(cfg.Logging.Env)
	if fromEnv := strings.TrimSpace(os.Getenv("DPOS_ENV")); fromEnv != "" {
		env = fromEnv
	}
	logger, closeLog := logging.Setup("dposd", env,
		logging.WithLevel(level),
		logging.WithFile(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups))
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	headers := map[string]string{}
	for key, value := range telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")) {
		headers[key] = value
	}
	for key, value := range cfg.Telemetry.Headers {
		headers[key] = value
	}
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "dposd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     headers,
		Traces:      cfg.Telemetry.Enabled,
		Metrics:     cfg.Telemetry.Enabled,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
		}
	}()
	if cfg.Telemetry.Enabled {
		masked := make([]any, 0, len(headers))
		for key, value := range headers {
			masked = append(masked, logging.MaskField(key, value))
		}
		logger.Info("Telemetry enabled",
			slog.String("endpoint", cfg.Telemetry.Endpoint),
			slog.Group("headers", masked...))
	}

	genesisPath := resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv)
	if genesisPath == "" {
		return errors.New("no genesis spec: set -genesis, DPOS_GENESIS or GenesisFile")
	}
	spec, err := genesis.LoadSpec(genesisPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	n, err := openNode(ctx, cfg, spec, db, logger)
	if err != nil {
		db.Close()
		return err
	}
	defer n.close()

	if *forge {
		if err := n.unlockForger(passSource.Get); err != nil {
			return fmt.Errorf("unlock forger: %w", err)
		}
	}

	st, err := n.status()
	if err != nil {
		return err
	}
	logger.Info("Ledger ready",
		slog.String("network", st.Network),
		slog.Uint64("height", st.Height),
		slog.Uint64("round", st.Round),
		slog.String("stateRoot", st.StateRoot),
		slog.Int("activeDelegates", len(st.ActiveDelegates)),
		slog.String("currentForger", st.CurrentForger))

	if cfg.Metrics.ListenAddress == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              cfg.Metrics.ListenAddress,
		Handler:           otelhttp.NewHandler(newRouter(n), "dposd"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// resolveGenesisPath picks the genesis spec path: the flag wins over the
// environment, which wins over the config file.
func resolveGenesisPath(flagValue, configValue string, lookupEnv func(string) (string, bool)) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if value, ok := lookupEnv(genesisPathEnv); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(configValue)
}
