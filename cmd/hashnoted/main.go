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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"hashnote/anchor"
	"hashnote/api"
	"hashnote/config"
	"hashnote/ledger"
	"hashnote/observability/logging"
	telemetry "hashnote/observability/otel"
	"hashnote/ratelimit"
	"hashnote/storage"
)

const version = "1.0.0"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("HASHNOTE_ENV"))
	logger := logging.Setup("hashnoted", env)

	if err := run(*configFile, env, logger); err != nil {
		logger.Error("service exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configFile, env string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := setupTelemetry(ctx, env)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := storage.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	store := storage.NewStore(db)

	client, err := buildLedgerClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("build ledger client: %w", err)
	}

	recon := anchor.NewReconciler(store, client, logger)
	svc := anchor.NewService(store, client, recon, cfg, logger)
	limiter := ratelimit.New(cfg.RateLimitMaxRequests, cfg.RateLimitWindow())

	srv := &http.Server{
		Addr: cfg.ListenAddress,
		Handler: api.New(api.Config{
			Service:  svc,
			Limiter:  limiter,
			JobToken: cfg.JobToken,
			Version:  version,
			Logger:   logger,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting hashnoted",
			slog.String("listen", cfg.ListenAddress),
			slog.String("ledger_mode", string(cfg.LedgerMode)),
			slog.String("network", cfg.NetworkName))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("hashnoted stopped")
	return nil
}

func buildLedgerClient(cfg *config.Config, logger *slog.Logger) (ledger.Client, error) {
	switch cfg.LedgerMode {
	case config.ModeSimulated:
		return ledger.NewSimulated(logger), nil
	case config.ModeReadOnly:
		return ledger.NewReadOnly(cfg.RPCEndpoint, cfg.ContractAddress, cfg.RPCTimeout(), logger), nil
	case config.ModeSigning:
		return ledger.NewSigning(ledger.SigningConfig{
			Endpoint:        cfg.RPCEndpoint,
			PrivateKey:      cfg.PrivateKey,
			ContractAddress: cfg.ContractAddress,
			ChainID:         cfg.ChainID,
			MinGasPriceWei:  cfg.MinGasPriceWei,
			Timeout:         cfg.RPCTimeout(),
			Logger:          logger,
		})
	default:
		return nil, fmt.Errorf("unknown ledger mode %q", cfg.LedgerMode)
	}
}

func setupTelemetry(ctx context.Context, env string) (func(context.Context) error, error) {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return nil, nil
	}
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	return telemetry.Init(ctx, telemetry.Config{
		ServiceName: "hashnoted",
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     true,
		Traces:      true,
	})
}
