// Command broker-api serves the sandbox broker's consumer and admin HTTP
// API: /v1/allocate, /v1/sandboxes/{id}, /v1/sandboxes/{id}/mark-for-deletion,
// the /v1/admin/* endpoints, and /healthz, /readyz, /metrics.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/instruqt/sandbox-broker/pkg/admin"
	"github.com/instruqt/sandbox-broker/pkg/alloc"
	"github.com/instruqt/sandbox-broker/pkg/auth"
	"github.com/instruqt/sandbox-broker/pkg/breaker"
	"github.com/instruqt/sandbox-broker/pkg/clock"
	"github.com/instruqt/sandbox-broker/pkg/config"
	"github.com/instruqt/sandbox-broker/pkg/cspclient"
	"github.com/instruqt/sandbox-broker/pkg/httpapi"
	"github.com/instruqt/sandbox-broker/pkg/log"
	"github.com/instruqt/sandbox-broker/pkg/metrics"
	"github.com/instruqt/sandbox-broker/pkg/ratelimiter"
	"github.com/instruqt/sandbox-broker/pkg/storage"
	"github.com/instruqt/sandbox-broker/pkg/types"
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
	Use:     "broker-api",
	Short:   "Sandbox broker HTTP API",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("broker-api version %s (%s)\n", Version, Commit))
	rootCmd.Flags().String("addr", ":8080", "HTTP listen address")
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
	addr, _ := cmd.Flags().GetString("addr")
	cfg := config.Load()
	ctx := context.Background()
	logger := log.WithComponent("broker-api")

	store, err := storage.NewDynamoStore(ctx, storage.DynamoConfig{
		TableName:   cfg.DDBTableName,
		GSIStatus:   cfg.DDBGSIStatus,
		GSIOwner:    cfg.DDBGSIOwner,
		GSIIdem:     cfg.DDBGSIIdem,
		Region:      cfg.AWSRegion,
		EndpointURL: cfg.DDBEndpoint,
	})
	if err != nil {
		return fmt.Errorf("broker-api: connect store: %w", err)
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
		return fmt.Errorf("broker-api: build csp client: %w", err)
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

	engine := alloc.New(store, clk, cfg.KCandidates)
	adminSvc := admin.New(store, w)
	authenticator := auth.New(cfg.APIToken, cfg.AdminToken)
	limiter := ratelimiter.New(cfg.RateLimitRequestsPerSecond, cfg.RateLimitBurst, clk)

	gauges := metrics.NewGauges(func(ctx context.Context) (metrics.StatusCounts, error) {
		var counts metrics.StatusCounts
		err := store.Scan(ctx, func(sb *types.Sandbox) bool {
			counts.Total++
			switch sb.Status {
			case types.StatusAvailable:
				counts.Available++
			case types.StatusAllocated:
				counts.Allocated++
			case types.StatusPendingDeletion:
				counts.PendingDeletion++
			case types.StatusStale:
				counts.Stale++
			case types.StatusDeletionFailed:
				counts.DeletionFailed++
			}
			return true
		})
		return counts, err
	}, 60*time.Second)

	gaugeStopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := gauges.Refresh(ctx); err != nil {
					logger.Warn().Err(err).Msg("gauge refresh failed")
				}
			case <-gaugeStopCh:
				return
			}
		}
	}()
	defer close(gaugeStopCh)

	reaperStopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := limiter.Sweep(time.Hour); removed > 0 {
					logger.Debug().Int("removed", removed).Msg("rate limiter buckets swept")
				}
			case <-reaperStopCh:
				return
			}
		}
	}()
	defer close(reaperStopCh)

	handler := httpapi.NewRouter(httpapi.Deps{
		Engine:        engine,
		Admin:         adminSvc,
		Authenticator: authenticator,
		Limiter:       limiter,
		CORSOrigins:   cfg.CORSAllowedOrigins,
		VersionPrefix: cfg.APIVersionPrefix,
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("broker-api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("broker-api: shutdown: %w", err)
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
