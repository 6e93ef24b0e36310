// Command broker-worker runs the sandbox broker's four reconciliation
// loops against the CSP and the shared store: Sync, Cleanup, AutoExpiry and
// StaleDelete. It exposes no HTTP surface of its own; the admin trigger
// endpoints served by broker-api run these same loops on demand through the
// worker.Worker the two binaries both construct from the same Config.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/instruqt/sandbox-broker/pkg/breaker"
	"github.com/instruqt/sandbox-broker/pkg/clock"
	"github.com/instruqt/sandbox-broker/pkg/config"
	"github.com/instruqt/sandbox-broker/pkg/cspclient"
	"github.com/instruqt/sandbox-broker/pkg/log"
	"github.com/instruqt/sandbox-broker/pkg/storage"
	"github.com/instruqt/sandbox-broker/pkg/worker"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "broker-worker",
	Short:   "Sandbox broker reconciliation loops",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("broker-worker version %s (%s)\n", Version, Commit))
	cobra.OnInitialize(initLogging)
}

func initLogging() {
	cfg := config.Load()
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogFormat == "json",
	})
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()
	logger := log.WithComponent("broker-worker")

	store, err := storage.NewDynamoStore(ctx, storage.DynamoConfig{
		TableName:   cfg.DDBTableName,
		GSIStatus:   cfg.DDBGSIStatus,
		GSIOwner:    cfg.DDBGSIOwner,
		GSIIdem:     cfg.DDBGSIIdem,
		Region:      cfg.AWSRegion,
		EndpointURL: cfg.DDBEndpoint,
	})
	if err != nil {
		return fmt.Errorf("broker-worker: connect store: %w", err)
	}
	defer store.Close()

	clk := clock.Real{}

	csp, err := cspclient.New(cspclient.Config{
		BaseURL:        cfg.CSPBaseURL,
		APIToken:       cfg.CSPAPIToken,
		ConnectTimeout: cfg.CSPConnectTimeout,
		ReadTimeout:    cfg.CSPReadTimeout,
	})
	if err != nil {
		return fmt.Errorf("broker-worker: build csp client: %w", err)
	}

	brk := breaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout, clk)

	w := worker.New(store, csp, brk, clk, worker.Config{
		SyncInterval:             cfg.SyncInterval,
		CleanupInterval:          cfg.CleanupInterval,
		AutoExpiryInterval:       cfg.AutoExpiryInterval,
		StaleDeleteInterval:      cfg.StaleDeleteInterval,
		CleanupBatchSize:         cfg.CleanupBatchSize,
		CleanupBatchDelay:        cfg.CleanupBatchDelay,
		DeletionRetryMaxAttempts: cfg.DeletionRetryMaxAttempts,
		GracePeriod:              time.Duration(cfg.GracePeriodMinutes) * time.Minute,
		StaleGrace:               time.Duration(cfg.StaleGraceHours) * time.Hour,
	})

	w.Start()
	logger.Info().
		Dur("sync_interval", cfg.SyncInterval).
		Dur("cleanup_interval", cfg.CleanupInterval).
		Dur("auto_expiry_interval", cfg.AutoExpiryInterval).
		Dur("stale_delete_interval", cfg.StaleDeleteInterval).
		Msg("broker-worker loops started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutdown signal received")
	w.Stop()
	logger.Info().Msg("shutdown complete")
	return nil
}
