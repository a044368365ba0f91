package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	appoutbox "chatsync/internal/app/outbox"
	domainchat "chatsync/internal/domain/chat"
)

// MessageStore persists messages. MarkRead must be idempotent and report
// whether the flag actually changed.
type MessageStore interface {
	Insert(ctx context.Context, msg domainchat.Message) error
	ListForUser(ctx context.Context, userID, projectID string) ([]domainchat.Message, error)
	ByID(ctx context.Context, id string) (domainchat.Message, error)
	MarkRead(ctx context.Context, id string) (domainchat.Message, bool, error)
}

// Directory resolves user and project display data.
type Directory interface {
	Participant(ctx context.Context, id string) (domainchat.Participant, error)
	Project(ctx context.Context, id string) (domainchat.Project, error)
}

// Presence tracks recently active users.
type Presence interface {
	Touch(ctx context.Context, userID string) error
	Online(ctx context.Context, userIDs []string) (map[string]bool, error)
}

// ObjectStore stores attachment bodies and returns their public URL.
type ObjectStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) (string, error)
}

// Service is the server of record for conversations and messages.
type Service struct {
	Messages  MessageStore
	Directory Directory
	Presence  Presence
	Objects   ObjectStore
	Outbox    appoutbox.Outbox
	Encoder   appoutbox.EventEncoder
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

var errServiceNotConfigured = errors.New("chat: service missing dependencies")

// ListConversations derives the viewer's conversations from their messages.
func (s *Service) ListConversations(ctx context.Context, viewerID, projectID string) ([]domainchat.Conversation, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	s.touch(ctx, viewerID)
	messages, err := s.Messages.ListForUser(ctx, viewerID, strings.TrimSpace(projectID))
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", viewerID, err)
	}
	convs := domainchat.Summarize(messages, viewerID)
	if len(convs) == 0 {
		return convs, nil
	}

	ids := make([]string, 0, len(convs))
	for _, conv := range convs {
		ids = append(ids, conv.ParticipantID)
	}
	online := s.online(ctx, ids)
	projects := map[string]string{}
	for i := range convs {
		conv := &convs[i]
		if p, err := s.Directory.Participant(ctx, conv.ParticipantID); err == nil {
			conv.ParticipantName = p.Name
			conv.ParticipantRole = p.Role
		}
		if conv.ProjectID != "" {
			name, ok := projects[conv.ProjectID]
			if !ok {
				if project, err := s.Directory.Project(ctx, conv.ProjectID); err == nil {
					name = project.Name
				}
				projects[conv.ProjectID] = name
			}
			conv.ProjectName = name
		}
		if conv.LastMessage != nil {
			last := s.present(ctx, *conv.LastMessage, viewerID, nil)
			conv.LastMessage = &last
		}
		conv.IsOnline = online[conv.ParticipantID]
	}
	return convs, nil
}

// ListMessages returns the viewer's messages in scope ordered by (createdAt, id).
func (s *Service) ListMessages(ctx context.Context, viewerID string, scope domainchat.Scope) ([]domainchat.Message, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	scope = scope.Normalize()
	s.touch(ctx, viewerID)
	messages, err := s.Messages.ListForUser(ctx, viewerID, scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", viewerID, err)
	}
	senders := map[string]domainchat.Sender{}
	out := make([]domainchat.Message, 0, len(messages))
	for _, msg := range messages {
		if !scope.Matches(msg, viewerID) {
			continue
		}
		out = append(out, s.present(ctx, msg, viewerID, senders))
	}
	domainchat.SortTimeline(out)
	return out, nil
}

// Send stores a message from the viewer to the conversation's counterpart.
func (s *Service) Send(ctx context.Context, viewerID string, req domainchat.SendRequest) (domainchat.Message, error) {
	if err := s.ensureDependencies(); err != nil {
		return domainchat.Message{}, err
	}
	text := domainchat.NormalizeText(req.Message)
	if text == "" {
		return domainchat.Message{}, fmt.Errorf("%w: %w", domainchat.ErrInvalidInput, domainchat.ErrEmptyMessage)
	}
	recipientID := strings.TrimSpace(req.ConversationID)
	if recipientID == "" {
		return domainchat.Message{}, fmt.Errorf("%w: %w", domainchat.ErrInvalidInput, domainchat.ErrNoConversation)
	}
	if recipientID == viewerID {
		return domainchat.Message{}, fmt.Errorf("%w: cannot message yourself", domainchat.ErrInvalidInput)
	}
	kind := req.MessageType
	if kind == "" {
		kind = domainchat.MessageTypeText
	}
	if !kind.Valid() {
		return domainchat.Message{}, fmt.Errorf("%w: unknown message type %q", domainchat.ErrInvalidInput, kind)
	}
	if len(req.Attachments) > 0 && !kind.CarriesAttachments() {
		return domainchat.Message{}, fmt.Errorf("%w: %s messages carry no attachments", domainchat.ErrInvalidInput, kind)
	}
	if _, err := s.Directory.Participant(ctx, recipientID); err != nil {
		return domainchat.Message{}, fmt.Errorf("recipient %s: %w", recipientID, err)
	}
	projectID := strings.TrimSpace(req.ProjectID)
	if projectID != "" {
		if _, err := s.Directory.Project(ctx, projectID); err != nil {
			return domainchat.Message{}, fmt.Errorf("project %s: %w", projectID, err)
		}
	}

	msg := domainchat.Message{
		ID:          s.newID(),
		ProjectID:   projectID,
		SenderID:    viewerID,
		RecipientID: recipientID,
		Message:     text,
		MessageType: kind,
		Attachments: append([]domainchat.Attachment(nil), req.Attachments...),
		CreatedAt:   s.now(),
	}
	if err := s.Messages.Insert(ctx, msg); err != nil {
		return domainchat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	s.record(ctx, domainchat.MessageCreated{
		MessageID:   msg.ID,
		ProjectID:   msg.ProjectID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		Type:        msg.MessageType,
		Attachments: len(msg.Attachments),
		At:          msg.CreatedAt,
	})
	s.touch(ctx, viewerID)
	if s.Logger != nil {
		s.Logger.Info("message sent", "message_id", msg.ID, "sender_id", viewerID, "recipient_id", recipientID, "type", kind)
	}
	return s.present(ctx, msg, viewerID, nil), nil
}

// MarkRead flags a message addressed to the viewer as read. Repeating the
// call, or calling it for the viewer's own message, changes nothing.
func (s *Service) MarkRead(ctx context.Context, viewerID, messageID string) (domainchat.Message, error) {
	if err := s.ensureDependencies(); err != nil {
		return domainchat.Message{}, err
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return domainchat.Message{}, domainchat.ErrInvalidInput
	}
	msg, err := s.Messages.ByID(ctx, messageID)
	if err != nil {
		return domainchat.Message{}, err
	}
	if msg.SenderID != viewerID && msg.RecipientID != viewerID {
		return domainchat.Message{}, domainchat.ErrNotFound
	}
	if msg.RecipientID != viewerID || msg.IsRead {
		return s.present(ctx, msg, viewerID, nil), nil
	}
	updated, changed, err := s.Messages.MarkRead(ctx, messageID)
	if err != nil {
		return domainchat.Message{}, fmt.Errorf("mark read %s: %w", messageID, err)
	}
	if changed {
		s.record(ctx, domainchat.MessageRead{MessageID: messageID, ReaderID: viewerID, At: s.now()})
	}
	return s.present(ctx, updated, viewerID, nil), nil
}

// Upload stores files for a conversation and returns their descriptors. No
// message is created; the caller announces the files separately.
func (s *Service) Upload(ctx context.Context, viewerID, conversationID string, files []domainchat.File) ([]domainchat.Attachment, error) {
	if err := s.ensureDependencies(); err != nil {
		return nil, err
	}
	if s.Objects == nil {
		return nil, errors.New("chat: attachment storage not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" || conversationID == viewerID {
		return nil, fmt.Errorf("%w: %w", domainchat.ErrInvalidInput, domainchat.ErrNoConversation)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files", domainchat.ErrInvalidInput)
	}
	if _, err := s.Directory.Participant(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("recipient %s: %w", conversationID, err)
	}
	prefix := conversationKey(viewerID, conversationID)
	out := make([]domainchat.Attachment, 0, len(files))
	for _, file := range files {
		name := path.Base(strings.TrimSpace(file.Name))
		if file.Body == nil || name == "" || name == "." || name == "/" {
			return nil, fmt.Errorf("%w: file name required", domainchat.ErrInvalidInput)
		}
		key := path.Join("chat", prefix, s.newID(), name)
		url, err := s.Objects.Upload(ctx, key, file.Body, file.ContentType)
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", name, err)
		}
		out = append(out, domainchat.Attachment{URL: url, Name: name, Size: file.Size})
	}
	if s.Logger != nil {
		s.Logger.Info("attachments stored", "uploader_id", viewerID, "conversation_id", conversationID, "files", len(out))
	}
	return out, nil
}

// present fills the viewer-relative conversation id and the sender snapshot.
func (s *Service) present(ctx context.Context, msg domainchat.Message, viewerID string, cache map[string]domainchat.Sender) domainchat.Message {
	msg.ConversationID = msg.Counterpart(viewerID)
	if sender, ok := cache[msg.SenderID]; ok {
		msg.Sender = sender
		return msg
	}
	sender := domainchat.Sender{ID: msg.SenderID}
	if p, err := s.Directory.Participant(ctx, msg.SenderID); err == nil {
		sender = p.Sender()
	}
	if cache != nil {
		cache[msg.SenderID] = sender
	}
	msg.Sender = sender
	return msg
}

func (s *Service) record(ctx context.Context, ev domainchat.Event) {
	if err := appoutbox.Record(ctx, s.Outbox, s.Encoder, ev); err != nil && s.Logger != nil {
		s.Logger.Error("record chat event failed", "event", ev.EventName(), "id", ev.AggregateID(), "error", err)
	}
}

func (s *Service) touch(ctx context.Context, userID string) {
	if s.Presence == nil {
		return
	}
	if err := s.Presence.Touch(ctx, userID); err != nil && s.Logger != nil {
		s.Logger.Debug("presence touch failed", "user_id", userID, "error", err)
	}
}

func (s *Service) online(ctx context.Context, ids []string) map[string]bool {
	if s.Presence == nil {
		return map[string]bool{}
	}
	online, err := s.Presence.Online(ctx, ids)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Debug("presence lookup failed", "error", err)
		}
		return map[string]bool{}
	}
	return online
}

func (s *Service) ensureDependencies() error {
	if s.Messages == nil || s.Directory == nil {
		return errServiceNotConfigured
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func conversationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}
