package memory

import (
	"context"
	"fmt"
	"sync"

	"chatsync/internal/domain/chat"
)

// MessageStore keeps messages in process memory.
type MessageStore struct {
	mu    sync.RWMutex
	byID  map[string]*chat.Message
	order []string
}

func NewMessageStore() *MessageStore {
	return &MessageStore{byID: make(map[string]*chat.Message)}
}

func (s *MessageStore) Insert(ctx context.Context, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[msg.ID]; exists {
		return fmt.Errorf("message %s: %w", msg.ID, chat.ErrInvalidInput)
	}
	stored := cloneMessage(msg)
	s.byID[msg.ID] = &stored
	s.order = append(s.order, msg.ID)
	return nil
}

func (s *MessageStore) ListForUser(ctx context.Context, userID, projectID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Message, 0)
	for _, id := range s.order {
		msg := s.byID[id]
		if msg.SenderID != userID && msg.RecipientID != userID {
			continue
		}
		if projectID != "" && msg.ProjectID != projectID {
			continue
		}
		out = append(out, cloneMessage(*msg))
	}
	return out, nil
}

func (s *MessageStore) ByID(ctx context.Context, id string) (chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.byID[id]
	if !ok {
		return chat.Message{}, chat.ErrNotFound
	}
	return cloneMessage(*msg), nil
}

func (s *MessageStore) MarkRead(ctx context.Context, id string) (chat.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok {
		return chat.Message{}, false, chat.ErrNotFound
	}
	if msg.IsRead {
		return cloneMessage(*msg), false, nil
	}
	msg.IsRead = true
	return cloneMessage(*msg), true, nil
}

func cloneMessage(msg chat.Message) chat.Message {
	msg.Attachments = append([]chat.Attachment(nil), msg.Attachments...)
	return msg
}
