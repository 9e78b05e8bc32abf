package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/NimbusTA/oracle-service/internal/alerts"
	"github.com/NimbusTA/oracle-service/internal/config"
	"github.com/NimbusTA/oracle-service/internal/logger"
	"github.com/NimbusTA/oracle-service/internal/metrics"
	"github.com/NimbusTA/oracle-service/internal/oracle"
	"github.com/NimbusTA/oracle-service/internal/para"
	"github.com/NimbusTA/oracle-service/internal/pool"
	"github.com/NimbusTA/oracle-service/internal/relay"
	"github.com/NimbusTA/oracle-service/internal/stall"
	"github.com/NimbusTA/oracle-service/internal/submitter"
)

//go:embed config.example.yml
var configExample []byte

func main() {
	logger.Init()

	configFile := flag.String("config", "", "path to config file")
	flag.Parse()

	configPath, err := resolveConfigPath(*configFile)
	if err != nil {
		logger.Error("INIT", "Failed to resolve config path: %v", err)
		os.Exit(1)
	}
	if err := ensureDefaultConfig(configPath, configExample); err != nil {
		logger.Error("INIT", "Failed to ensure default config: %v", err)
		os.Exit(1)
	}

	logger.Info("INIT", "Loading config from %s...", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("INIT", "Failed to load config: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("INIT", "Invalid config: %v", err)
		os.Exit(1)
	}

	key, err := cfg.Oracle.LoadKey()
	if err != nil {
		logger.Error("INIT", "Failed to load signing key: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	exporter := metrics.NewExporter(cfg.Prometheus.MetricsPrefix, registry)

	relayPool := pool.New("relay", cfg.Relay.URLs)
	paraPool := pool.New("para", cfg.Para.URLs)

	relayClient := relay.NewClient(relayPool, cfg.Relay.SS58Format, cfg.Timing.ConnectTimeoutDur(), exporter)
	paraClient := para.NewClient(paraPool, cfg.ContractAddress(), cfg.Timing.ConnectTimeoutDur(), cfg.Timing.SubmitTimeoutDur(), exporter)

	logger.Info("INIT", "Verifying OracleMaster at %s...", cfg.Para.ContractAddr)
	if err := paraClient.VerifyContract(ctx); err != nil {
		logger.Error("INIT", "Contract verification failed: %v", err)
		os.Exit(1)
	}

	sub := submitter.New(
		paraClient,
		key,
		cfg.ContractAddress(),
		cfg.Oracle.GasLimit,
		new(big.Int).SetUint64(cfg.Oracle.MaxPriorityFeePerGas),
		cfg.Timing.SubmitTimeoutDur(),
		cfg.Oracle.DebugMode,
		exporter,
	)
	logger.Info("INIT", "Oracle account: %s", sub.From().Hex())

	if era, err := relayClient.ActiveEra(); err != nil {
		logger.Error("INIT", "Relay chain unreachable: %v", err)
		os.Exit(1)
	} else {
		logger.Info("INIT", "Relay chain active era: %d", era.Index)
	}

	notifier := alerts.NewNotifier(cfg.Alerts)
	detector := stall.New(cfg.Timing.EraUpdateDelayDur(), cfg.Timing.EraDelayTimeDur(), exporter, notifier)

	orc := oracle.New(relayClient, paraClient, sub, detector, exporter, relayPool, paraPool, oracle.Config{
		Frequency:         cfg.Timing.Frequency(),
		EraDurationBlocks: cfg.Timing.EraDurationBlocks,
		ConnectTimeout:    cfg.Timing.ConnectTimeoutDur(),
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Prometheus.Port),
		Handler: mux,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("INIT", "Serving metrics on :%d/metrics", cfg.Prometheus.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		err := detector.Run(groupCtx, 10*time.Second)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		err := orc.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	logger.Info("SYS", "Oracle started (debug mode: %v)", cfg.Oracle.DebugMode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("SYS", "Received %s, shutting down gracefully (grace %s, signal again to force)...",
			sig, cfg.Timing.ShutdownGraceDur())
		cancel()
	case <-groupCtx.Done():
		logger.Error("SYS", "A component stopped unexpectedly")
		cancel()
	}

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("SYS", "Shutdown finished with error: %v", err)
			os.Exit(1)
		}
	case <-sigCh:
		logger.Warn("SYS", "Second signal received, exiting immediately")
		os.Exit(1)
	case <-time.After(cfg.Timing.ShutdownGraceDur()):
		logger.Warn("SYS", "Shutdown grace period expired, exiting")
		os.Exit(1)
	}

	logger.Info("SYS", "Shutdown complete")
}

func resolveConfigPath(configFile string) (string, error) {
	if configFile != "" {
		return filepath.Abs(configFile)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".nimbus-oracle", "config.yml"), nil
}

func ensureDefaultConfig(path string, example []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if len(example) == 0 {
		return fmt.Errorf("embedded config.example.yml is empty")
	}
	return os.WriteFile(path, example, 0o644)
}
