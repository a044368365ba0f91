package fixtures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"chatsync/internal/domain/chat"
)

// Set is the seed data for a local chat server.
type Set struct {
	Users    []User         `json:"users"`
	Projects []chat.Project `json:"projects"`
	Messages []chat.Message `json:"messages"`
}

// User is a directory entry with an optional fixed bearer token.
type User struct {
	chat.Participant
	Token string `json:"token,omitempty"`
}

type Directory interface {
	PutUser(p chat.Participant)
	PutProject(p chat.Project)
}

type Sessions interface {
	Register(ctx context.Context, token, userID string) error
	Issue(ctx context.Context, userID string) (string, error)
}

type MessageWriter interface {
	Insert(ctx context.Context, msg chat.Message) error
}

// Targets receives the seed data. Sessions and Messages are optional.
type Targets struct {
	Directory Directory
	Sessions  Sessions
	Messages  MessageWriter
	Logger    *slog.Logger
}

// Load reads a fixture file. A missing file yields an empty set.
func Load(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Set{}, nil
		}
		return Set{}, fmt.Errorf("read fixtures: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) (Set, error) {
	var set Set
	if err := json.NewDecoder(r).Decode(&set); err != nil {
		if errors.Is(err, io.EOF) {
			return Set{}, nil
		}
		return Set{}, fmt.Errorf("decode fixtures: %w", err)
	}
	return set, nil
}

// Apply seeds targets and returns the bearer token of every user.
func Apply(ctx context.Context, set Set, t Targets) (map[string]string, error) {
	if t.Directory == nil {
		return nil, errors.New("fixtures: directory required")
	}
	for _, p := range set.Projects {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("fixtures: project without id")
		}
		t.Directory.PutProject(p)
	}
	tokens := make(map[string]string, len(set.Users))
	for _, u := range set.Users {
		if strings.TrimSpace(u.ID) == "" {
			return nil, fmt.Errorf("fixtures: user without id")
		}
		t.Directory.PutUser(u.Participant)
		if t.Sessions == nil {
			continue
		}
		token := strings.TrimSpace(u.Token)
		var err error
		if token != "" {
			err = t.Sessions.Register(ctx, token, u.ID)
		} else {
			token, err = t.Sessions.Issue(ctx, u.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("fixtures: session for %s: %w", u.ID, err)
		}
		tokens[u.ID] = token
	}
	if t.Messages != nil {
		base := time.Now().UTC().Add(-time.Duration(len(set.Messages)) * time.Minute)
		for i, msg := range set.Messages {
			if msg.ID == "" || msg.SenderID == "" || msg.RecipientID == "" {
				return nil, fmt.Errorf("fixtures: message %d needs id, senderId and recipientId", i)
			}
			if msg.MessageType == "" {
				msg.MessageType = chat.MessageTypeText
			}
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			}
			msg.ConversationID = ""
			msg.Sender = chat.Sender{}
			if err := t.Messages.Insert(ctx, msg); err != nil {
				return nil, fmt.Errorf("fixtures: message %s: %w", msg.ID, err)
			}
		}
	}
	if t.Logger != nil {
		t.Logger.Info("fixtures loaded", "users", len(set.Users), "projects", len(set.Projects), "messages", len(set.Messages))
	}
	return tokens, nil
}
