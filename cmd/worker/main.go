package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"orchestrator/internal/app"
	"orchestrator/internal/infra"
)

// recoverer fails requests left mid-saga by a crashed API process.
type recoverer interface {
	RecoverStalled(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type recoveryWorker struct {
	recoverer  recoverer
	logger     infra.Logger
	stallAfter time.Duration
	interval   time.Duration
	batchSize  int
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.ServiceName, cfg.LogLevel).With().Str("process", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.WithoutJobQueue())
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: initialization failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Shutdown(shutdownCtx)
	}()

	worker := &recoveryWorker{
		recoverer:  a.Service,
		logger:     logger,
		stallAfter: cfg.RecoveryStallAfter,
		interval:   cfg.RecoveryPollInterval,
		batchSize:  cfg.RecoveryBatchSize,
	}
	logger.Info().Dur("stall_after", worker.stallAfter).Dur("interval", worker.interval).Msg("worker: recovery loop started")

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: stopped with error")
		return
	}
	logger.Info().Msg("worker: stopped")
}

// Run sweeps once per interval until ctx is cancelled. A full batch is
// followed immediately by another sweep.
func (w *recoveryWorker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.recoverer.RecoverStalled(ctx, w.stallAfter, w.batchSize)
		switch {
		case err != nil && ctx.Err() == nil:
			w.logger.Error().Err(err).Msg("worker: recovery sweep failed")
		case n > 0:
			w.logger.Info().Int("recovered", n).Msg("worker: stalled requests failed and refunded")
		}

		if err == nil && n >= w.batchSize {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.interval):
		}
	}
}
