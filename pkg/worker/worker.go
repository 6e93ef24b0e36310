package worker

import (
	"context"
	"time"

	"github.com/instruqt/sandbox-broker/pkg/breaker"
	"github.com/instruqt/sandbox-broker/pkg/clock"
	"github.com/instruqt/sandbox-broker/pkg/cspclient"
	"github.com/instruqt/sandbox-broker/pkg/storage"
)

// Config holds the tunables for all four loops. Zero-value durations fall
// back to the specification's defaults inside New.
type Config struct {
	SyncInterval        time.Duration
	CleanupInterval     time.Duration
	AutoExpiryInterval  time.Duration
	StaleDeleteInterval time.Duration

	CleanupBatchSize  int
	CleanupBatchDelay time.Duration

	DeletionRetryMaxAttempts int

	GracePeriod time.Duration
	StaleGrace  time.Duration
}

// Worker coordinates the four reconciliation loops, each on its own
// ticker, stopped together via a single shared channel.
type Worker struct {
	store   storage.Store
	csp     cspclient.Client
	breaker *breaker.Breaker
	clock   clock.Clock
	cfg     Config
	status  *statusTracker

	stopCh chan struct{}
}

// New creates a Worker. Pass a nil breaker to skip circuit breaking
// (mostly for tests); production wiring always supplies one.
func New(store storage.Store, csp cspclient.Client, brk *breaker.Breaker, clk clock.Clock, cfg Config) *Worker {
	cfg = applyDefaults(cfg)
	return &Worker{
		store:   store,
		csp:     csp,
		breaker: brk,
		clock:   clk,
		cfg:     cfg,
		status:  newStatusTracker(),
		stopCh:  make(chan struct{}),
	}
}

func applyDefaults(cfg Config) Config {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 600 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 300 * time.Second
	}
	if cfg.AutoExpiryInterval <= 0 {
		cfg.AutoExpiryInterval = 300 * time.Second
	}
	if cfg.StaleDeleteInterval <= 0 {
		cfg.StaleDeleteInterval = 86400 * time.Second
	}
	if cfg.CleanupBatchSize <= 0 {
		cfg.CleanupBatchSize = 10
	}
	if cfg.CleanupBatchDelay <= 0 {
		cfg.CleanupBatchDelay = 2 * time.Second
	}
	if cfg.DeletionRetryMaxAttempts <= 0 {
		cfg.DeletionRetryMaxAttempts = 3
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 30 * time.Minute
	}
	if cfg.StaleGrace <= 0 {
		cfg.StaleGrace = 24 * time.Hour
	}
	return cfg
}

// Start launches all four loops as background goroutines.
func (w *Worker) Start() {
	go w.runLoop("sync", w.cfg.SyncInterval, func(ctx context.Context) error {
		_, err := w.RunSync(ctx)
		return err
	})
	go w.runLoop("cleanup", w.cfg.CleanupInterval, func(ctx context.Context) error {
		_, err := w.RunCleanup(ctx)
		return err
	})
	go w.runLoop("autoexpiry", w.cfg.AutoExpiryInterval, func(ctx context.Context) error {
		_, err := w.RunAutoExpiry(ctx)
		return err
	})
	go w.runLoop("staledelete", w.cfg.StaleDeleteInterval, func(ctx context.Context) error {
		_, err := w.RunStaleDelete(ctx)
		return err
	})
}

// Stop signals all loops to exit. It does not block until they have
// actually returned; callers that need that should add their own
// WaitGroup around Start's goroutines.
func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) runLoop(name string, interval time.Duration, iterate func(context.Context) error) {
	logger := loopLogger(name)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", interval).Msg("loop started")

	for {
		select {
		case <-ticker.C:
			err := iterate(context.Background())
			w.status.record(name, w.clock.Now(), err)
			if err != nil {
				logger.Error().Err(err).Msg("loop iteration failed")
			}
		case <-w.stopCh:
			logger.Info().Msg("loop stopped")
			return
		}
	}
}
