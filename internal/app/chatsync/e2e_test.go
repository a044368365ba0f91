package chatsync_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chatsync/internal/app/chatsync"
	authsvc "chatsync/internal/app/services/auth"
	chatsvc "chatsync/internal/app/services/chat"
	"chatsync/internal/domain/chat"
	"chatsync/internal/infra/chatapi"
	"chatsync/internal/infra/fixtures"
	ginserver "chatsync/internal/infra/http/gin"
	"chatsync/internal/infra/obs"
	"chatsync/internal/infra/storage/memory"
)

const seed = `{
  "users": [
    {"id": "alice", "name": "Alice", "token": "alice-token"},
    {"id": "bob", "name": "Bob", "token": "bob-token"}
  ],
  "messages": [
    {"id": "seed-1", "senderId": "bob", "recipientId": "alice", "message": "Morning"},
    {"id": "seed-2", "senderId": "bob", "recipientId": "alice", "message": "Call at 10?"}
  ]
}`

type server struct {
	*httptest.Server
	messages *memory.MessageStore
}

func newServer(t *testing.T) server {
	t.Helper()
	set, err := fixtures.Decode(strings.NewReader(seed))
	if err != nil {
		t.Fatalf("decode seed: %v", err)
	}
	dir := memory.NewDirectory()
	messages := memory.NewMessageStore()
	auth := &authsvc.Service{Users: dir, Sessions: memory.NewSessionStore()}
	if _, err := fixtures.Apply(context.Background(), set, fixtures.Targets{Directory: dir, Sessions: auth, Messages: messages}); err != nil {
		t.Fatalf("apply seed: %v", err)
	}
	svc := &chatsvc.Service{
		Messages:  messages,
		Directory: dir,
		Presence:  memory.NewPresence(time.Minute),
		Objects:   memory.NewObjectStore("http://files.test"),
		Outbox:    memory.NewOutbox(),
	}
	router := ginserver.NewRouter(
		ginserver.Options{Env: "test", BasePath: "/api"},
		obs.Middleware{},
		obs.HealthHandlers{},
		ginserver.Handlers{
			Chat:           ginserver.ChatHandler{Service: svc},
			AuthMiddleware: ginserver.AuthMiddleware{Resolver: auth}.Handle,
		},
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return server{Server: srv, messages: messages}
}

func newClient(t *testing.T, srv server, token string) *chatapi.Client {
	t.Helper()
	client, err := chatapi.NewClient(chatapi.Config{BaseURL: srv.URL + "/api", Token: token, Timeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestSessionAgainstServer(t *testing.T) {
	srv := newServer(t)
	client := newClient(t, srv, "alice-token")
	session, err := chatsync.NewSession(client, chatsync.Options{
		UserID:               "alice",
		ConversationInterval: time.Hour,
		TimelineInterval:     time.Hour,
		MarkReadRPS:          100,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	client.SetUnauthorizedHandler(session.Unauthorized)
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer session.Stop()

	if !eventually(func() bool { return session.TotalUnread() == 2 }) {
		t.Fatalf("expected two unread messages, got %d", session.TotalUnread())
	}
	convs := session.Conversations().Items
	if len(convs) != 1 || convs[0].ID != "bob" || convs[0].ParticipantName != "Bob" {
		t.Fatalf("unexpected conversations %+v", convs)
	}

	session.Select("bob")
	if !eventually(func() bool { return len(session.Timeline().Items) == 2 }) {
		t.Fatal("timeline never loaded")
	}
	if !eventually(func() bool { return session.TotalUnread() == 0 }) {
		t.Fatalf("opening the conversation should clear unread, still %d", session.TotalUnread())
	}
	for _, id := range []string{"seed-1", "seed-2"} {
		msg, err := srv.messages.ByID(context.Background(), id)
		if err != nil || !msg.IsRead {
			t.Fatalf("%s should be read on the server, got %+v, %v", id, msg, err)
		}
	}

	sent, err := session.Send(context.Background(), "  On my way  ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.Message != "On my way" || sent.SenderID != "alice" {
		t.Fatalf("unexpected sent message %+v", sent)
	}
	if !eventually(func() bool { return len(session.Timeline().Items) == 3 }) {
		t.Fatal("sent message should appear after the forced refresh")
	}

	files := []chat.File{{Name: "agenda.txt", ContentType: "text/plain", Body: strings.NewReader("1. intro")}}
	announced, err := session.Upload(context.Background(), files)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if announced.MessageType != chat.MessageTypeFile || announced.Message != chatsync.UploadSummary(1) || len(announced.Attachments) != 1 {
		t.Fatalf("unexpected upload message %+v", announced)
	}

	bob := newClient(t, srv, "bob-token")
	seen, err := bob.ListMessages(context.Background(), chat.Scope{ConversationID: "alice"})
	if err != nil {
		t.Fatalf("bob list: %v", err)
	}
	if len(seen) != 4 || seen[3].Attachments[0].Name != "agenda.txt" {
		t.Fatalf("bob should see the whole conversation, got %+v", seen)
	}
}

func TestSessionStopsOnRejectedToken(t *testing.T) {
	srv := newServer(t)
	client := newClient(t, srv, "revoked")
	var calls atomic.Int32
	session, err := chatsync.NewSession(client, chatsync.Options{
		UserID:               "alice",
		ConversationInterval: 20 * time.Millisecond,
		OnUnauthorized:       func() { calls.Add(1) },
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	client.SetUnauthorizedHandler(session.Unauthorized)
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer session.Stop()

	if !eventually(func() bool { return calls.Load() == 1 }) {
		t.Fatal("expected the unauthorized hook to run")
	}
	session.Stop()
	if _, err := client.ListConversations(context.Background(), ""); !errors.Is(err, chatapi.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("hook must run once, ran %d times", calls.Load())
	}
}
