package oracle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ruteri/attested-randomness/functions"
	"github.com/ruteri/attested-randomness/interfaces"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	PollInterval time.Duration
	// Concurrency bounds the requests fulfilled at once.
	Concurrency int
}

// Worker polls the function queue and fulfills each request once, each on
// its own goroutine.
type Worker struct {
	cfg    WorkerConfig
	runner *FunctionRunner
	source RequestSource
	log    *slog.Logger

	mu   sync.Mutex
	seen map[interfaces.Identity]struct{}

	fulfilled atomic.Uint64
	failed    atomic.Uint64
}

func NewWorker(cfg WorkerConfig, runner *FunctionRunner, source RequestSource, log *slog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Worker{
		cfg:    cfg,
		runner: runner,
		source: source,
		log:    log,
		seen:   make(map[interfaces.Identity]struct{}),
	}
}

// Run polls until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.log.Info("oracle worker started", "function", w.runner.cfg.Function, "signer", w.runner.Signer())
	for {
		if err := w.Poll(ctx); err != nil {
			w.log.Warn("polling request queue failed", "err", err)
		}

		select {
		case <-ctx.Done():
			w.log.Info("oracle worker stopped", "fulfilled", w.fulfilled.Load(), "failed", w.failed.Load())
			return nil
		case <-ticker.C:
		}
	}
}

// Poll fulfills every pending request not attempted before and waits for
// the attempts to finish. Failed attempts are not retried while the request
// stays pending.
func (w *Worker) Poll(ctx context.Context) error {
	pending, err := w.source.PendingRequests(ctx, w.runner.cfg.Function)
	if err != nil {
		return err
	}
	w.forgetGone(pending)

	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for _, req := range pending {
		if !w.markSeen(req.Key) {
			continue
		}
		g.Go(func() error {
			if _, err := w.runner.Fulfill(ctx, req); err != nil {
				w.failed.Inc()
				return nil
			}
			w.fulfilled.Inc()
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) markSeen(key interfaces.Identity) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.seen[key]; ok {
		return false
	}
	w.seen[key] = struct{}{}
	return true
}

// forgetGone drops attempted requests that left the queue.
func (w *Worker) forgetGone(pending []functions.PendingRequest) {
	live := make(map[interfaces.Identity]struct{}, len(pending))
	for _, req := range pending {
		live[req.Key] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for key := range w.seen {
		if _, ok := live[key]; !ok {
			delete(w.seen, key)
		}
	}
}

// Stats returns the fulfilled and failed attempt counts.
func (w *Worker) Stats() (fulfilled, failed uint64) {
	return w.fulfilled.Load(), w.failed.Load()
}
