package chatsync

import (
	"context"
	"errors"
	"time"

	"chatsync/internal/domain/chat"
)

var (
	// ErrCycleSkipped is returned when a refresh is requested while the
	// previous one for the same resource is still outstanding.
	ErrCycleSkipped = errors.New("chatsync: cycle skipped, request in flight")
	// ErrStaleResponse marks a timeline response that arrived for a
	// conversation that is no longer selected. It is never surfaced to users.
	ErrStaleResponse = errors.New("chatsync: stale response discarded")
	// ErrNotConfigured is returned by components built without their API.
	ErrNotConfigured = errors.New("chatsync: missing dependencies")
)

// Resource names label metrics per synchronizer.
const (
	ResourceConversations = "conversations"
	ResourceTimeline      = "timeline"
)

// ConversationLister fetches the viewer's conversation list.
type ConversationLister interface {
	ListConversations(ctx context.Context, projectID string) ([]chat.Conversation, error)
}

// MessageLister fetches one conversation's messages.
type MessageLister interface {
	ListMessages(ctx context.Context, scope chat.Scope) ([]chat.Message, error)
}

// MessageSender creates a message.
type MessageSender interface {
	SendMessage(ctx context.Context, req chat.SendRequest) (chat.Message, error)
}

// ReadMarker marks a message read on the server.
type ReadMarker interface {
	MarkRead(ctx context.Context, messageID string) (chat.Message, error)
}

// AttachmentUploader stores files and returns their descriptors.
type AttachmentUploader interface {
	UploadAttachments(ctx context.Context, conversationID string, files []chat.File) ([]chat.Attachment, error)
}

// API is the full REST surface the engine consumes.
type API interface {
	ConversationLister
	MessageLister
	MessageSender
	ReadMarker
	AttachmentUploader
}

// Invalidator forces a cache to be re-fetched.
type Invalidator interface {
	Invalidate()
}

// Metrics receives engine events. Implementations must be safe for concurrent use.
type Metrics interface {
	FetchCompleted(resource string, err error)
	CycleSkipped(resource string)
	StaleDiscarded(resource string)
	MarkReadCompleted(err error)
	SendCompleted(err error)
	UploadCompleted(err error, orphaned bool)
}

type nopMetrics struct{}

func (nopMetrics) FetchCompleted(string, error) {}
func (nopMetrics) CycleSkipped(string)          {}
func (nopMetrics) StaleDiscarded(string)        {}
func (nopMetrics) MarkReadCompleted(error)      {}
func (nopMetrics) SendCompleted(error)          {}
func (nopMetrics) UploadCompleted(error, bool)  {}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

// Snapshot is an immutable copy of a cache. Version increases on every applied fetch.
type Snapshot[T any] struct {
	Items     []T
	Version   uint64
	FetchedAt time.Time
	Err       error
}

func cloneItems[T any](items []T) []T {
	if items == nil {
		return nil
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
