package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chatsync/internal/domain/chat"
)

type fakeAPI struct {
	mu sync.Mutex

	conversations []chat.Conversation
	messages      map[string][]chat.Message
	listErr       error
	sendErr       error
	uploadErr     error
	markErr       error
	attachments   []chat.Attachment

	// block, when set, holds ListMessages for that conversation until released.
	block   map[string]chan struct{}
	started chan string

	conversationCalls atomic.Int32
	messageCalls      atomic.Int32
	sendCalls         atomic.Int32
	uploadCalls       atomic.Int32
	markCalls         atomic.Int32

	sent   []chat.SendRequest
	marked []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		messages: make(map[string][]chat.Message),
		block:    make(map[string]chan struct{}),
		started:  make(chan string, 16),
	}
}

func (f *fakeAPI) ListConversations(ctx context.Context, projectID string) ([]chat.Conversation, error) {
	f.conversationCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]chat.Conversation, 0, len(f.conversations))
	for _, conv := range f.conversations {
		if projectID == "" || conv.ProjectID == projectID {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, scope chat.Scope) ([]chat.Message, error) {
	f.messageCalls.Add(1)
	f.mu.Lock()
	gate := f.block[scope.ConversationID]
	f.mu.Unlock()
	select {
	case f.started <- scope.ConversationID:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]chat.Message(nil), f.messages[scope.ConversationID]...), nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, req chat.SendRequest) (chat.Message, error) {
	f.sendCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return chat.Message{}, f.sendErr
	}
	f.sent = append(f.sent, req)
	return chat.Message{
		ID:             fmt.Sprintf("sent-%d", len(f.sent)),
		ConversationID: req.ConversationID,
		Message:        req.Message,
		MessageType:    req.MessageType,
		Attachments:    req.Attachments,
		CreatedAt:      time.Unix(int64(len(f.sent)), 0).UTC(),
	}, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, messageID string) (chat.Message, error) {
	f.markCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return chat.Message{}, f.markErr
	}
	f.marked = append(f.marked, messageID)
	for conv, msgs := range f.messages {
		for i := range msgs {
			if msgs[i].ID == messageID {
				f.messages[conv][i].IsRead = true
				return f.messages[conv][i], nil
			}
		}
	}
	return chat.Message{ID: messageID, IsRead: true}, nil
}

func (f *fakeAPI) UploadAttachments(ctx context.Context, conversationID string, files []chat.File) ([]chat.Attachment, error) {
	f.uploadCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	out := make([]chat.Attachment, 0, len(files))
	for _, file := range files {
		out = append(out, chat.Attachment{URL: "https://files.test/" + file.Name, Name: file.Name, Size: file.Size})
	}
	f.attachments = append(f.attachments, out...)
	return out, nil
}

func (f *fakeAPI) setMessages(conversationID string, msgs ...chat.Message) {
	f.mu.Lock()
	f.messages[conversationID] = msgs
	f.mu.Unlock()
}

func (f *fakeAPI) hold(conversationID string) chan struct{} {
	gate := make(chan struct{})
	f.mu.Lock()
	f.block[conversationID] = gate
	f.mu.Unlock()
	return gate
}

var errBoom = errors.New("boom")

type countingInvalidator struct{ n atomic.Int32 }

func (c *countingInvalidator) Invalidate() { c.n.Add(1) }

type recordingMetrics struct {
	mu      sync.Mutex
	skipped map[string]int
	stale   map[string]int
	fetches map[string]int
	orphans int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		skipped: make(map[string]int),
		stale:   make(map[string]int),
		fetches: make(map[string]int),
	}
}

func (m *recordingMetrics) FetchCompleted(resource string, err error) {
	m.mu.Lock()
	m.fetches[resource]++
	m.mu.Unlock()
}

func (m *recordingMetrics) CycleSkipped(resource string) {
	m.mu.Lock()
	m.skipped[resource]++
	m.mu.Unlock()
}

func (m *recordingMetrics) StaleDiscarded(resource string) {
	m.mu.Lock()
	m.stale[resource]++
	m.mu.Unlock()
}

func (m *recordingMetrics) MarkReadCompleted(error) {}
func (m *recordingMetrics) SendCompleted(error)     {}

func (m *recordingMetrics) UploadCompleted(err error, orphaned bool) {
	if orphaned {
		m.mu.Lock()
		m.orphans++
		m.mu.Unlock()
	}
}

func msgAt(id, sender string, sec int64, read bool) chat.Message {
	return chat.Message{
		ID:          id,
		SenderID:    sender,
		Message:     "hello " + id,
		MessageType: chat.MessageTypeText,
		IsRead:      read,
		CreatedAt:   time.Unix(sec, 0).UTC(),
	}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
