package chatsync

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"chatsync/internal/domain/chat"
)

const (
	DefaultMarkReadRPS         = 10
	DefaultMarkReadConcurrency = 4
)

// ReconcilerOptions configures a ReadReconciler.
type ReconcilerOptions struct {
	UserID      string
	RPS         float64
	Burst       int
	Concurrency int
	Logger      *slog.Logger
	Metrics     Metrics
	// Invalidate is called after at least one message was marked so unread
	// counts are re-fetched instead of patched locally.
	Invalidate []Invalidator
}

// ReconcileResult summarises one pass.
type ReconcileResult struct {
	Attempted int
	Marked    int
	Failed    int
}

// ReadReconciler marks the viewer's unread incoming messages as read.
type ReadReconciler struct {
	api         ReadMarker
	userID      string
	limiter     *rate.Limiter
	concurrency int
	logger      *slog.Logger
	metrics     Metrics
	invalidate  []Invalidator

	mu      sync.Mutex
	pending map[string]struct{}
}

func NewReadReconciler(api ReadMarker, opts ReconcilerOptions) *ReadReconciler {
	rps := opts.RPS
	if rps <= 0 {
		rps = DefaultMarkReadRPS
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultMarkReadConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadReconciler{
		api:         api,
		userID:      strings.TrimSpace(opts.UserID),
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		concurrency: concurrency,
		logger:      logger,
		metrics:     metricsOrNop(opts.Metrics),
		invalidate:  opts.Invalidate,
		pending:     make(map[string]struct{}),
	}
}

// Reconcile issues a mark-read request for every message that is unread and
// not authored by the viewer. Ids already being marked by an earlier pass
// are skipped. Failures are counted and logged; the next pass retries them
// because the server will still report them unread.
func (r *ReadReconciler) Reconcile(ctx context.Context, messages []chat.Message) ReconcileResult {
	targets := r.claim(messages)
	if len(targets) == 0 {
		return ReconcileResult{}
	}

	var marked, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, id := range targets {
		g.Go(func() error {
			defer r.release(id)
			if err := r.limiter.Wait(ctx); err != nil {
				failed.Add(1)
				return nil
			}
			_, err := r.api.MarkRead(ctx, id)
			r.metrics.MarkReadCompleted(err)
			if err != nil {
				failed.Add(1)
				r.logger.Warn("mark read failed", "message_id", id, "error", err)
				return nil
			}
			marked.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := ReconcileResult{
		Attempted: len(targets),
		Marked:    int(marked.Load()),
		Failed:    int(failed.Load()),
	}
	if result.Marked > 0 {
		for _, inv := range r.invalidate {
			inv.Invalidate()
		}
	}
	return result
}

func (r *ReadReconciler) claim(messages []chat.Message) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, msg := range messages {
		if !msg.NeedsRead(r.userID) || msg.ID == "" {
			continue
		}
		if _, busy := r.pending[msg.ID]; busy {
			continue
		}
		r.pending[msg.ID] = struct{}{}
		ids = append(ids, msg.ID)
	}
	return ids
}

func (r *ReadReconciler) release(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}
