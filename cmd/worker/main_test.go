package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type scriptedRecoverer struct {
	results []int
	errs    []error
	calls   int
	cancel  context.CancelFunc
}

func (s *scriptedRecoverer) RecoverStalled(_ context.Context, olderThan time.Duration, limit int) (int, error) {
	i := s.calls
	s.calls++
	if s.calls >= len(s.results) {
		s.cancel()
	}
	return s.results[i], s.errs[i]
}

func TestRunDrainsFullBatchesAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &scriptedRecoverer{
		results: []int{2, 2, 1},
		errs:    []error{nil, nil, nil},
		cancel:  cancel,
	}
	w := &recoveryWorker{recoverer: rec, logger: zerolog.Nop(), stallAfter: time.Minute, interval: time.Hour, batchSize: 2}

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not drain full batches without waiting")
	}
	if rec.calls != 3 {
		t.Fatalf("sweeps = %d, want 3", rec.calls)
	}
}

func TestRunKeepsGoingAfterSweepError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &scriptedRecoverer{
		results: []int{0, 0},
		errs:    []error{errors.New("db down"), nil},
		cancel:  cancel,
	}
	w := &recoveryWorker{recoverer: rec, logger: zerolog.Nop(), stallAfter: time.Minute, interval: time.Millisecond, batchSize: 10}

	if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v", err)
	}
	if rec.calls != 2 {
		t.Fatalf("sweeps = %d, want 2", rec.calls)
	}
}
