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

var ErrSessionStarted = errors.New("chatsync: session already started")

// Options configures a Session.
type Options struct {
	UserID               string
	ProjectID            string
	ConversationInterval time.Duration
	TimelineInterval     time.Duration
	MarkReadRPS          float64
	MarkReadBurst        int
	MarkReadConcurrency  int
	SendRetryMaxElapsed  time.Duration
	SendRetryIf          func(error) bool
	Logger               *slog.Logger
	Metrics              Metrics
	Now                  func() time.Time
	// OnUnauthorized runs once when the server rejects the credentials.
	OnUnauthorized func()
	// OnConversations and OnTimeline run after each accepted fetch.
	OnConversations func(Snapshot[chat.Conversation])
	OnTimeline      func(TimelineSnapshot)
}

// Notice is a user-visible background failure.
type Notice struct {
	Resource string
	Err      error
	At       time.Time
}

// Session wires one user's synchronizers, reconciler and pipelines.
type Session struct {
	userID     string
	logger     *slog.Logger
	now        func() time.Time
	onUnauth   func()
	unauthOnce sync.Once
	onTimeline func(TimelineSnapshot)

	conversations *ConversationSync
	timeline      *TimelineSync
	reconciler    *ReadReconciler
	sender        *SendPipeline
	uploader      *UploadPipeline
	composer      *Composer
	notices       chan Notice

	mu        sync.Mutex
	projectID string
	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewSession(api API, opts Options) (*Session, error) {
	if api == nil {
		return nil, ErrNotConfigured
	}
	userID := strings.TrimSpace(opts.UserID)
	if userID == "" {
		return nil, errors.New("chatsync: user id required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Session{
		userID:     userID,
		logger:     logger,
		now:        now,
		onUnauth:   opts.OnUnauthorized,
		onTimeline: opts.OnTimeline,
		notices:    make(chan Notice, 16),
		projectID:  strings.TrimSpace(opts.ProjectID),
	}
	s.conversations = NewConversationSync(api, ConversationOptions{
		ProjectID: s.projectID,
		Interval:  opts.ConversationInterval,
		Logger:    logger.With("resource", ResourceConversations),
		Metrics:   opts.Metrics,
		Now:       now,
		OnError:   s.noticeFunc(ResourceConversations),
		OnChange:  opts.OnConversations,
	})
	s.timeline = NewTimelineSync(api, TimelineOptions{
		Interval: opts.TimelineInterval,
		Logger:   logger.With("resource", ResourceTimeline),
		Metrics:  opts.Metrics,
		Now:      now,
		OnError:  s.noticeFunc(ResourceTimeline),
		OnChange: s.timelineChanged,
	})
	s.reconciler = NewReadReconciler(api, ReconcilerOptions{
		UserID:      userID,
		RPS:         opts.MarkReadRPS,
		Burst:       opts.MarkReadBurst,
		Concurrency: opts.MarkReadConcurrency,
		Logger:      logger,
		Metrics:     opts.Metrics,
		Invalidate:  []Invalidator{s.conversations},
	})
	s.sender = &SendPipeline{
		API:          api,
		Invalidators: []Invalidator{s.timeline, s.conversations},
		Logger:       logger,
		Metrics:      opts.Metrics,
	}
	s.uploader = &UploadPipeline{
		API:             api,
		Send:            s.sender,
		Logger:          logger,
		Metrics:         opts.Metrics,
		RetryMaxElapsed: opts.SendRetryMaxElapsed,
		RetryIf:         opts.SendRetryIf,
	}
	s.composer = NewComposer(s.sender)
	return s, nil
}

// Start begins polling. It returns immediately.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrSessionStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancel = cancel
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.conversations.Run(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.timeline.Run(runCtx)
	}()
	s.logger.Info("chat session started", "user_id", s.userID, "project_id", s.projectID)
	return nil
}

// Stop cancels every timer and outstanding request and waits for them to exit.
func (s *Session) Stop() {
	s.halt()
	s.wg.Wait()
}

func (s *Session) halt() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Unauthorized stops polling and hands control to the OnUnauthorized hook.
// It is safe to call from inside a request.
func (s *Session) Unauthorized() {
	s.unauthOnce.Do(func() {
		s.logger.Warn("credentials rejected, stopping chat session", "user_id", s.userID)
		s.halt()
		if s.onUnauth != nil {
			s.onUnauth()
		}
	})
}

// Select opens a conversation. An empty id deselects.
func (s *Session) Select(conversationID string) {
	s.mu.Lock()
	projectID := s.projectID
	s.mu.Unlock()
	s.timeline.Select(chat.Scope{ProjectID: projectID, ConversationID: conversationID})
}

func (s *Session) Deselect() {
	s.timeline.Deselect()
}

// SetProject changes the project filter for both caches.
func (s *Session) SetProject(projectID string) {
	projectID = strings.TrimSpace(projectID)
	s.mu.Lock()
	s.projectID = projectID
	s.mu.Unlock()
	s.conversations.SetScope(projectID)
	if scope, ok := s.timeline.Selected(); ok && scope.ProjectID != projectID {
		s.timeline.Select(chat.Scope{ProjectID: projectID, ConversationID: scope.ConversationID})
	}
}

func (s *Session) target() Target {
	scope, _ := s.timeline.Selected()
	return Target{ConversationID: scope.ConversationID, ProjectID: scope.ProjectID}
}

// Send posts text to the selected conversation.
func (s *Session) Send(ctx context.Context, text string) (chat.Message, error) {
	return s.sender.Send(ctx, s.target(), Draft{Text: text})
}

// SendDraft posts a fully specified draft to the selected conversation.
func (s *Session) SendDraft(ctx context.Context, draft Draft) (chat.Message, error) {
	return s.sender.Send(ctx, s.target(), draft)
}

// Upload stores files in the selected conversation and announces them.
func (s *Session) Upload(ctx context.Context, files []chat.File) (chat.Message, error) {
	return s.uploader.Upload(ctx, s.target(), files)
}

func (s *Session) Composer() *Composer {
	return s.composer
}

// Submit sends the composer's text to the selected conversation.
func (s *Session) Submit(ctx context.Context) (chat.Message, error) {
	return s.composer.Submit(ctx, s.target())
}

func (s *Session) Conversations() Snapshot[chat.Conversation] {
	return s.conversations.Snapshot()
}

func (s *Session) Timeline() TimelineSnapshot {
	return s.timeline.Snapshot()
}

// TotalUnread is the unread indicator, derived from the conversation cache.
func (s *Session) TotalUnread() int {
	return s.conversations.TotalUnread()
}

// Notices delivers background failures. Notices are dropped when nobody reads.
func (s *Session) Notices() <-chan Notice {
	return s.notices
}

func (s *Session) noticeFunc(resource string) func(error) {
	return func(err error) {
		select {
		case s.notices <- Notice{Resource: resource, Err: err, At: s.now()}:
		default:
		}
	}
}

func (s *Session) timelineChanged(snap TimelineSnapshot) {
	if s.onTimeline != nil {
		s.onTimeline(snap)
	}
	if chat.CountUnread(snap.Items, s.userID) == 0 {
		return
	}
	s.mu.Lock()
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		res := s.reconciler.Reconcile(ctx, snap.Items)
		if res.Failed > 0 {
			s.noticeFunc("read_state")(errors.New("some messages could not be marked as read"))
		}
	}()
}
