package chatsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"chatsync/internal/domain/chat"
)

// Target addresses the conversation a message is sent to.
type Target struct {
	ConversationID string
	ProjectID      string
}

// Draft is a message before submission. An empty Type means text.
type Draft struct {
	Text        string
	Type        chat.MessageType
	Attachments []chat.Attachment
}

// SendPipeline validates and submits messages. It never inserts the sent
// message locally; the caches pick it up on the next fetch.
type SendPipeline struct {
	API          MessageSender
	Invalidators []Invalidator
	Logger       *slog.Logger
	Metrics      Metrics
}

// Send rejects empty text and a missing conversation before any request is
// made. On success every registered cache is invalidated.
func (p *SendPipeline) Send(ctx context.Context, target Target, draft Draft) (chat.Message, error) {
	req, err := buildSendRequest(target, draft)
	if err != nil {
		return chat.Message{}, err
	}
	if p.API == nil {
		return chat.Message{}, ErrNotConfigured
	}
	msg, err := p.API.SendMessage(ctx, req)
	metricsOrNop(p.Metrics).SendCompleted(err)
	if err != nil {
		return chat.Message{}, fmt.Errorf("send message: %w", err)
	}
	for _, inv := range p.Invalidators {
		inv.Invalidate()
	}
	if p.Logger != nil {
		p.Logger.Debug("message sent", "message_id", msg.ID, "conversation_id", req.ConversationID)
	}
	return msg, nil
}

func buildSendRequest(target Target, draft Draft) (chat.SendRequest, error) {
	text := chat.NormalizeText(draft.Text)
	if text == "" {
		return chat.SendRequest{}, chat.ErrEmptyMessage
	}
	conversationID := strings.TrimSpace(target.ConversationID)
	if conversationID == "" {
		return chat.SendRequest{}, chat.ErrNoConversation
	}
	kind := draft.Type
	if kind == "" {
		kind = chat.MessageTypeText
	}
	if !kind.Valid() {
		return chat.SendRequest{}, fmt.Errorf("message type %q: %w", kind, chat.ErrInvalidInput)
	}
	if len(draft.Attachments) > 0 && !kind.CarriesAttachments() {
		return chat.SendRequest{}, fmt.Errorf("attachments on %s message: %w", kind, chat.ErrInvalidInput)
	}
	return chat.SendRequest{
		Message:        text,
		MessageType:    kind,
		Attachments:    draft.Attachments,
		ProjectID:      strings.TrimSpace(target.ProjectID),
		ConversationID: conversationID,
	}, nil
}

// Composer holds the text being typed. The text is cleared only after a
// successful send so a failed attempt can be retried as-is.
type Composer struct {
	pipeline *SendPipeline

	mu   sync.Mutex
	text string
}

func NewComposer(pipeline *SendPipeline) *Composer {
	return &Composer{pipeline: pipeline}
}

func (c *Composer) SetText(text string) {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
}

func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// Submit sends the current text to target.
func (c *Composer) Submit(ctx context.Context, target Target) (chat.Message, error) {
	c.mu.Lock()
	text := c.text
	c.mu.Unlock()

	msg, err := c.pipeline.Send(ctx, target, Draft{Text: text})
	if err != nil {
		return chat.Message{}, err
	}
	c.mu.Lock()
	if c.text == text {
		c.text = ""
	}
	c.mu.Unlock()
	return msg, nil
}
