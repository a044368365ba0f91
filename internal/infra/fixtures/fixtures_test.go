package fixtures

import (
	"context"
	"strings"
	"testing"

	authsvc "chatsync/internal/app/services/auth"
	"chatsync/internal/domain/chat"
	"chatsync/internal/infra/security"
	"chatsync/internal/infra/storage/memory"
)

const sample = `{
  "users": [
    {"id": "alice", "name": "Alice", "role": "client", "token": "alice-token"},
    {"id": "bob", "name": "Bob", "role": "manager"}
  ],
  "projects": [{"id": "p1", "name": "Website"}],
  "messages": [
    {"id": "m1", "senderId": "bob", "recipientId": "alice", "projectId": "p1", "message": "Kickoff tomorrow"},
    {"id": "m2", "senderId": "alice", "recipientId": "bob", "message": "Works for me", "isRead": true}
  ]
}`

func TestApplySeedsEveryTarget(t *testing.T) {
	set, err := Decode(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	dir := memory.NewDirectory()
	store := memory.NewMessageStore()
	auth := &authsvc.Service{Users: dir, Sessions: memory.NewSessionStore(), Tokens: security.RandomTokenGenerator{}}

	tokens, err := Apply(context.Background(), set, Targets{Directory: dir, Sessions: auth, Messages: store})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if tokens["alice"] != "alice-token" || tokens["bob"] == "" {
		t.Fatalf("unexpected tokens %v", tokens)
	}
	user, err := auth.ResolveToken(context.Background(), tokens["bob"])
	if err != nil || user.Name != "Bob" {
		t.Fatalf("issued token should resolve to bob, got %+v, %v", user, err)
	}
	msgs, _ := store.ListForUser(context.Background(), "alice", "")
	if len(msgs) != 2 || msgs[0].MessageType != chat.MessageTypeText || !msgs[0].CreatedAt.Before(msgs[1].CreatedAt) {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	set, err := Load("does-not-exist.json")
	if err != nil || len(set.Users) != 0 {
		t.Fatalf("expected empty set, got %+v, %v", set, err)
	}
}
