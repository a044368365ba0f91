package chat

import (
	"errors"
	"io"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("chat: not found")
	ErrInvalidInput   = errors.New("chat: invalid input")
	ErrForbidden      = errors.New("chat: forbidden")
	ErrEmptyMessage   = errors.New("chat: message text is required")
	ErrNoConversation = errors.New("chat: no conversation selected")
)

// MessageType classifies a message body.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeFile   MessageType = "file"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeFile, MessageTypeImage, MessageTypeSystem:
		return true
	}
	return false
}

// CarriesAttachments reports whether messages of this type may reference uploaded files.
func (t MessageType) CarriesAttachments() bool {
	return t == MessageTypeFile || t == MessageTypeImage
}

// Attachment describes an uploaded file referenced by a message.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Sender is the denormalized profile snapshot embedded in every message.
type Sender struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

type Message struct {
	ID             string       `json:"id"`
	ProjectID      string       `json:"projectId,omitempty"`
	ConversationID string       `json:"conversationId,omitempty"`
	SenderID       string       `json:"senderId"`
	RecipientID    string       `json:"recipientId,omitempty"`
	Message        string       `json:"message"`
	MessageType    MessageType  `json:"messageType"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	IsRead         bool         `json:"isRead"`
	CreatedAt      time.Time    `json:"createdAt"`
	Sender         Sender       `json:"sender"`
}

// Counterpart returns the other side of the message from the viewer's point of view.
func (m Message) Counterpart(viewerID string) string {
	if m.SenderID == viewerID {
		return m.RecipientID
	}
	return m.SenderID
}

// NeedsRead reports whether the viewer still has to acknowledge the message.
func (m Message) NeedsRead(viewerID string) bool {
	return !m.IsRead && m.SenderID != viewerID
}

// File is one upload payload handed to the attachment pipeline.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Before orders messages by (CreatedAt, ID) ascending.
func Before(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortTimeline orders messages in place by (CreatedAt, ID).
func SortTimeline(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return Before(messages[i], messages[j])
	})
}

// ReplaceTimeline builds a timeline cache from a fresh fetch. Only fetched
// ids survive and a repeated id keeps its last copy. A message that previous
// already holds as read stays read. The result is ordered by (CreatedAt, ID).
func ReplaceTimeline(previous, fetched []Message) []Message {
	read := make(map[string]bool, len(previous))
	for _, msg := range previous {
		if msg.IsRead {
			read[msg.ID] = true
		}
	}
	index := make(map[string]int, len(fetched))
	out := make([]Message, 0, len(fetched))
	for _, msg := range fetched {
		// isRead never goes back to false.
		msg.IsRead = msg.IsRead || read[msg.ID]
		if pos, ok := index[msg.ID]; ok {
			msg.IsRead = msg.IsRead || out[pos].IsRead
			out[pos] = msg
			continue
		}
		index[msg.ID] = len(out)
		out = append(out, msg)
	}
	SortTimeline(out)
	return out
}

// CountUnread counts messages the viewer has not read and did not author.
func CountUnread(messages []Message, viewerID string) int {
	count := 0
	for _, msg := range messages {
		if msg.NeedsRead(viewerID) {
			count++
		}
	}
	return count
}

// NormalizeText trims the body; empty after trimming means the draft is not sendable.
func NormalizeText(text string) string {
	return strings.TrimSpace(text)
}

// SendRequest is the create-message payload.
type SendRequest struct {
	Message        string       `json:"message"`
	MessageType    MessageType  `json:"messageType,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ProjectID      string       `json:"projectId,omitempty"`
	ConversationID string       `json:"conversationId,omitempty"`
}
