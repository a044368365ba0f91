package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gocql/gocql"

	"chatsync/internal/domain/chat"
)

const messageColumns = `id, project_id, sender_id, recipient_id, body, message_type, attachments, is_read, created_at`

// MessageStore implements the chat message store on Scylla.
type MessageStore struct {
	session *gocql.Session
	logger  *slog.Logger
}

func NewMessageStore(session *gocql.Session, logger *slog.Logger) *MessageStore {
	return &MessageStore{session: session, logger: logger}
}

// Insert writes the message row and both participants' copies in one logged batch.
func (s *MessageStore) Insert(ctx context.Context, msg chat.Message) error {
	if s.session == nil {
		return errors.New("scylla session not initialized")
	}
	attachments, err := encodeAttachments(msg.Attachments)
	if err != nil {
		return err
	}
	created := msg.CreatedAt.UTC()
	applied, err := s.session.
		Query(`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
			msg.ID, msg.ProjectID, msg.SenderID, msg.RecipientID, msg.Message, string(msg.MessageType), attachments, msg.IsRead, created).
		WithContext(ctx).
		SerialConsistency(gocql.LocalSerial).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if !applied {
		return fmt.Errorf("message %s: %w", msg.ID, chat.ErrInvalidInput)
	}

	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, owner := range []string{msg.SenderID, msg.RecipientID} {
		batch.Query(`INSERT INTO messages_by_user (user_id, created_at, id, project_id, sender_id, recipient_id, body, message_type, attachments, is_read) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			owner, created, msg.ID, msg.ProjectID, msg.SenderID, msg.RecipientID, msg.Message, string(msg.MessageType), attachments, msg.IsRead)
	}
	if err := s.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("index message: %w", err)
	}
	return nil
}

func (s *MessageStore) ListForUser(ctx context.Context, userID, projectID string) ([]chat.Message, error) {
	if s.session == nil {
		return nil, errors.New("scylla session not initialized")
	}
	iter := s.session.
		Query(`SELECT `+messageColumns+` FROM messages_by_user WHERE user_id = ?`, userID).
		WithContext(ctx).
		Iter()
	out := make([]chat.Message, 0)
	for {
		msg, ok, err := scanMessage(iter)
		if err != nil {
			_ = iter.Close()
			return nil, err
		}
		if !ok {
			break
		}
		if projectID != "" && msg.ProjectID != projectID {
			continue
		}
		out = append(out, msg)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", userID, err)
	}
	return out, nil
}

func (s *MessageStore) ByID(ctx context.Context, id string) (chat.Message, error) {
	if s.session == nil {
		return chat.Message{}, errors.New("scylla session not initialized")
	}
	iter := s.session.
		Query(`SELECT `+messageColumns+` FROM messages WHERE id = ? LIMIT 1`, id).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	msg, ok, err := scanMessage(iter)
	closeErr := iter.Close()
	if err != nil {
		return chat.Message{}, err
	}
	if closeErr != nil {
		return chat.Message{}, closeErr
	}
	if !ok {
		return chat.Message{}, chat.ErrNotFound
	}
	return msg, nil
}

// MarkRead uses a conditional update so only the first caller observes a change.
func (s *MessageStore) MarkRead(ctx context.Context, id string) (chat.Message, bool, error) {
	msg, err := s.ByID(ctx, id)
	if err != nil {
		return chat.Message{}, false, err
	}
	if msg.IsRead {
		return msg, false, nil
	}
	applied, err := s.session.
		Query(`UPDATE messages SET is_read = true WHERE id = ? IF is_read = false`, id).
		WithContext(ctx).
		SerialConsistency(gocql.LocalSerial).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return chat.Message{}, false, fmt.Errorf("mark read: %w", err)
	}
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, owner := range []string{msg.SenderID, msg.RecipientID} {
		batch.Query(`UPDATE messages_by_user SET is_read = true WHERE user_id = ? AND created_at = ? AND id = ?`,
			owner, msg.CreatedAt, msg.ID)
	}
	if err := s.session.ExecuteBatch(batch); err != nil {
		return chat.Message{}, false, fmt.Errorf("mark read index: %w", err)
	}
	msg.IsRead = true
	return msg, applied, nil
}

func scanMessage(iter *gocql.Iter) (chat.Message, bool, error) {
	var (
		msg         chat.Message
		kind        string
		attachments string
	)
	if !iter.Scan(&msg.ID, &msg.ProjectID, &msg.SenderID, &msg.RecipientID, &msg.Message, &kind, &attachments, &msg.IsRead, &msg.CreatedAt) {
		return chat.Message{}, false, nil
	}
	msg.MessageType = chat.MessageType(kind)
	msg.CreatedAt = msg.CreatedAt.UTC()
	decoded, err := decodeAttachments(attachments)
	if err != nil {
		return chat.Message{}, false, err
	}
	msg.Attachments = decoded
	return msg, true, nil
}

func encodeAttachments(items []chat.Attachment) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode attachments: %w", err)
	}
	return string(raw), nil
}

func decodeAttachments(raw string) ([]chat.Attachment, error) {
	if raw == "" {
		return nil, nil
	}
	var items []chat.Attachment
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	return items, nil
}
