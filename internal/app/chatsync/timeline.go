package chatsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chatsync/internal/domain/chat"
)

const DefaultTimelineInterval = 10 * time.Second

// TimelineOptions configures a TimelineSync.
type TimelineOptions struct {
	Interval time.Duration
	Logger   *slog.Logger
	Metrics  Metrics
	Now      func() time.Time
	OnError  func(error)
	OnChange func(TimelineSnapshot)
}

// TimelineSnapshot is the active conversation's message cache.
type TimelineSnapshot struct {
	Snapshot[chat.Message]
	Scope chat.Scope
}

// TimelineSync polls the selected conversation's messages. Nothing is
// fetched while no conversation is selected.
type TimelineSync struct {
	api      MessageLister
	logger   *slog.Logger
	metrics  Metrics
	now      func() time.Time
	onError  func(error)
	onChange func(TimelineSnapshot)
	poller   *poller
	flight   flight

	mu        sync.RWMutex
	seq       uint64
	scope     chat.Scope
	items     []chat.Message
	version   uint64
	fetchedAt time.Time
	lastErr   error
}

func NewTimelineSync(api MessageLister, opts TimelineOptions) *TimelineSync {
	s := &TimelineSync{
		api:      api,
		logger:   opts.Logger,
		metrics:  metricsOrNop(opts.Metrics),
		now:      opts.Now,
		onError:  opts.OnError,
		onChange: opts.OnChange,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.poller = newPoller(ResourceTimeline, intervalOr(opts.Interval, DefaultTimelineInterval), s.cycle)
	return s
}

// Run polls until ctx is cancelled.
func (s *TimelineSync) Run(ctx context.Context) {
	s.poller.run(ctx)
}

func (s *TimelineSync) cycle(ctx context.Context) {
	err := s.Refresh(ctx)
	switch {
	case err == nil, errors.Is(err, ErrCycleSkipped), errors.Is(err, ErrStaleResponse):
	case ctx.Err() != nil:
	default:
		s.logger.Warn("timeline refresh failed", "error", err)
	}
}

// Select makes scope the active conversation. The cache is cleared and any
// response still outstanding for the previous selection is dropped on arrival.
func (s *TimelineSync) Select(scope chat.Scope) {
	scope = scope.Normalize()
	if scope.ConversationID == "" {
		s.Deselect()
		return
	}
	s.mu.Lock()
	s.seq++
	s.scope = scope
	s.items = nil
	s.version++
	s.fetchedAt = time.Time{}
	s.lastErr = nil
	s.mu.Unlock()
	s.flight.abort()
	s.poller.kick()
}

// Deselect clears the selection and stops fetching.
func (s *TimelineSync) Deselect() {
	s.mu.Lock()
	if s.scope.ConversationID == "" {
		s.mu.Unlock()
		return
	}
	s.seq++
	s.scope = chat.Scope{}
	s.items = nil
	s.version++
	s.fetchedAt = time.Time{}
	s.lastErr = nil
	s.mu.Unlock()
	s.flight.abort()
}

// Selected reports the active scope; ok is false when nothing is selected.
func (s *TimelineSync) Selected() (chat.Scope, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scope, s.scope.ConversationID != ""
}

// Refresh fetches the selected conversation once and replaces the cache with
// the result. A response that arrives after the selection changed is
// discarded and reported as ErrStaleResponse.
func (s *TimelineSync) Refresh(ctx context.Context) error {
	s.mu.RLock()
	seq, scope := s.seq, s.scope
	s.mu.RUnlock()
	if scope.ConversationID == "" {
		return nil
	}

	fetchCtx, err := s.flight.begin(ctx, seq)
	if err != nil {
		admitted(s.metrics, ResourceTimeline, err)
		return err
	}
	defer s.flight.end(seq)

	fetched, err := s.api.ListMessages(fetchCtx, scope)
	if errors.Is(err, context.Canceled) && fetchCtx.Err() != nil {
		// Cancelled by a newer generation or by Stop.
		s.metrics.StaleDiscarded(ResourceTimeline)
		s.logger.Debug("discarded cancelled timeline fetch", "conversation_id", scope.ConversationID)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrStaleResponse
	}

	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		s.metrics.StaleDiscarded(ResourceTimeline)
		s.logger.Debug("discarded stale timeline response", "conversation_id", scope.ConversationID)
		return ErrStaleResponse
	}
	s.metrics.FetchCompleted(ResourceTimeline, err)
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		if s.onError != nil {
			s.onError(err)
		}
		return err
	}
	s.items = chat.ReplaceTimeline(s.items, fetched)
	s.version++
	s.fetchedAt = s.now()
	s.lastErr = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(snap)
	}
	return nil
}

// Invalidate requests an immediate refresh of the selected conversation.
func (s *TimelineSync) Invalidate() {
	s.poller.kick()
}

// Snapshot returns a copy of the cached timeline.
func (s *TimelineSync) Snapshot() TimelineSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *TimelineSync) snapshotLocked() TimelineSnapshot {
	return TimelineSnapshot{
		Snapshot: Snapshot[chat.Message]{
			Items:     cloneItems(s.items),
			Version:   s.version,
			FetchedAt: s.fetchedAt,
			Err:       s.lastErr,
		},
		Scope: s.scope,
	}
}

// LastError reports the most recent fetch failure for the selection, or nil.
func (s *TimelineSync) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}
