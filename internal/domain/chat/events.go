package chat

import "time"

const (
	EventMessageCreated = "chat.message_created"
	EventMessageRead    = "chat.message_read"
)

// Event is emitted by the server of record whenever a message changes.
type Event interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}

type MessageCreated struct {
	MessageID   string      `json:"message_id"`
	ProjectID   string      `json:"project_id,omitempty"`
	SenderID    string      `json:"sender_id"`
	RecipientID string      `json:"recipient_id"`
	Type        MessageType `json:"message_type"`
	Attachments int         `json:"attachments"`
	At          time.Time   `json:"at"`
}

func (e MessageCreated) EventName() string     { return EventMessageCreated }
func (e MessageCreated) AggregateID() string   { return e.MessageID }
func (e MessageCreated) OccurredAt() time.Time { return e.At }

type MessageRead struct {
	MessageID string    `json:"message_id"`
	ReaderID  string    `json:"reader_id"`
	At        time.Time `json:"at"`
}

func (e MessageRead) EventName() string     { return EventMessageRead }
func (e MessageRead) AggregateID() string   { return e.MessageID }
func (e MessageRead) OccurredAt() time.Time { return e.At }
