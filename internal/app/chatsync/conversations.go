package chatsync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatsync/internal/domain/chat"
)

const DefaultConversationInterval = 30 * time.Second

// ConversationOptions configures a ConversationSync.
type ConversationOptions struct {
	ProjectID string
	Interval  time.Duration
	Logger    *slog.Logger
	Metrics   Metrics
	Now       func() time.Time
	OnError   func(error)
	OnChange  func(Snapshot[chat.Conversation])
}

// ConversationSync keeps the viewer's conversation list in step with the server.
type ConversationSync struct {
	api      ConversationLister
	logger   *slog.Logger
	metrics  Metrics
	now      func() time.Time
	onError  func(error)
	onChange func(Snapshot[chat.Conversation])
	poller   *poller
	flight   flight

	mu        sync.RWMutex
	projectID string
	epoch     uint64
	items     []chat.Conversation
	version   uint64
	fetchedAt time.Time
	lastErr   error
}

func NewConversationSync(api ConversationLister, opts ConversationOptions) *ConversationSync {
	s := &ConversationSync{
		api:       api,
		logger:    opts.Logger,
		metrics:   metricsOrNop(opts.Metrics),
		now:       opts.Now,
		onError:   opts.OnError,
		onChange:  opts.OnChange,
		projectID: strings.TrimSpace(opts.ProjectID),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.poller = newPoller(ResourceConversations, intervalOr(opts.Interval, DefaultConversationInterval), s.cycle)
	return s
}

// Run polls until ctx is cancelled.
func (s *ConversationSync) Run(ctx context.Context) {
	s.poller.run(ctx)
}

func (s *ConversationSync) cycle(ctx context.Context) {
	err := s.Refresh(ctx)
	switch {
	case err == nil, errors.Is(err, ErrCycleSkipped), errors.Is(err, ErrStaleResponse):
	case ctx.Err() != nil:
	default:
		s.logger.Warn("conversation refresh failed", "error", err)
	}
}

// Refresh fetches the conversation list once. It returns ErrCycleSkipped
// when a fetch for the current scope is already outstanding. On failure the
// previous list is kept.
func (s *ConversationSync) Refresh(ctx context.Context) error {
	s.mu.RLock()
	epoch, projectID := s.epoch, s.projectID
	s.mu.RUnlock()

	fetchCtx, err := s.flight.begin(ctx, epoch)
	if err != nil {
		admitted(s.metrics, ResourceConversations, err)
		return err
	}
	defer s.flight.end(epoch)

	items, err := s.api.ListConversations(fetchCtx, projectID)
	if errors.Is(err, context.Canceled) && fetchCtx.Err() != nil {
		// Cancelled by a newer generation or by Stop.
		s.metrics.StaleDiscarded(ResourceConversations)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrStaleResponse
	}

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		s.metrics.StaleDiscarded(ResourceConversations)
		return ErrStaleResponse
	}
	s.metrics.FetchCompleted(ResourceConversations, err)
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		if s.onError != nil {
			s.onError(err)
		}
		return err
	}
	if items == nil {
		items = []chat.Conversation{}
	}
	s.items = items
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

// SetScope switches the project filter. Responses for the previous scope are
// discarded and a fetch for the new one starts immediately.
func (s *ConversationSync) SetScope(projectID string) {
	projectID = strings.TrimSpace(projectID)
	s.mu.Lock()
	if projectID == s.projectID {
		s.mu.Unlock()
		return
	}
	s.projectID = projectID
	s.epoch++
	s.items = nil
	s.version++
	s.lastErr = nil
	s.mu.Unlock()
	s.flight.abort()
	s.poller.kick()
}

// Invalidate requests an immediate refresh.
func (s *ConversationSync) Invalidate() {
	s.poller.kick()
}

// Snapshot returns a copy of the cached list.
func (s *ConversationSync) Snapshot() Snapshot[chat.Conversation] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *ConversationSync) snapshotLocked() Snapshot[chat.Conversation] {
	return Snapshot[chat.Conversation]{
		Items:     cloneItems(s.items),
		Version:   s.version,
		FetchedAt: s.fetchedAt,
		Err:       s.lastErr,
	}
}

// LastError reports the most recent fetch failure, or nil after a success.
func (s *ConversationSync) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// TotalUnread sums unread counts across the cached list.
func (s *ConversationSync) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return chat.TotalUnread(s.items)
}
