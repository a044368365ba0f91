package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	domainchat "chatsync/internal/domain/chat"
	"chatsync/internal/infra/storage/memory"
)

type fixture struct {
	svc     *Service
	outbox  *memory.Outbox
	objects *memory.ObjectStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := memory.NewDirectory()
	for _, p := range []domainchat.Participant{
		{ID: "alice", Name: "Alice", Role: "client"},
		{ID: "bob", Name: "Bob", Role: "manager"},
		{ID: "carol", Name: "Carol"},
	} {
		dir.PutUser(p)
	}
	dir.PutProject(domainchat.Project{ID: "p1", Name: "Website"})
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seq := 0
	outbox := memory.NewOutbox()
	objects := memory.NewObjectStore("http://files.test")
	svc := &Service{
		Messages:  memory.NewMessageStore(),
		Directory: dir,
		Presence:  memory.NewPresence(time.Minute),
		Objects:   objects,
		Outbox:    outbox,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
		NewID: func() string {
			seq++
			return fmt.Sprintf("id%d", seq)
		},
	}
	return fixture{svc: svc, outbox: outbox, objects: objects}
}

func (f fixture) send(t *testing.T, from, to, text string) domainchat.Message {
	t.Helper()
	msg, err := f.svc.Send(context.Background(), from, domainchat.SendRequest{Message: text, ConversationID: to})
	if err != nil {
		t.Fatalf("send %s->%s: %v", from, to, err)
	}
	return msg
}

func TestSendRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		req  domainchat.SendRequest
		want error
	}{
		{"blank text", domainchat.SendRequest{Message: " \n ", ConversationID: "bob"}, domainchat.ErrEmptyMessage},
		{"no conversation", domainchat.SendRequest{Message: "hi"}, domainchat.ErrNoConversation},
		{"self", domainchat.SendRequest{Message: "hi", ConversationID: "alice"}, domainchat.ErrInvalidInput},
		{"unknown type", domainchat.SendRequest{Message: "hi", ConversationID: "bob", MessageType: "voice"}, domainchat.ErrInvalidInput},
		{"unknown recipient", domainchat.SendRequest{Message: "hi", ConversationID: "dave"}, domainchat.ErrNotFound},
		{"unknown project", domainchat.SendRequest{Message: "hi", ConversationID: "bob", ProjectID: "p404"}, domainchat.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Send(context.Background(), "alice", tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if len(f.outbox.Records()) != 0 {
		t.Fatalf("rejected sends must not emit events")
	}
}

func TestConversationsArePerCounterpart(t *testing.T) {
	f := newFixture(t)
	f.send(t, "bob", "alice", "one")
	f.send(t, "carol", "alice", "two")
	f.send(t, "bob", "alice", "three")
	f.send(t, "alice", "bob", "reply")

	convs, err := f.svc.ListConversations(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected two conversations, got %+v", convs)
	}
	byID := map[string]domainchat.Conversation{}
	for _, c := range convs {
		byID[c.ID] = c
	}
	if byID["bob"].UnreadCount != 2 || byID["bob"].LastMessage.Message != "reply" || byID["bob"].LastMessage.ConversationID != "bob" {
		t.Fatalf("unexpected bob conversation %+v", byID["bob"])
	}
	if byID["carol"].UnreadCount != 1 || byID["carol"].ParticipantName != "Carol" {
		t.Fatalf("unexpected carol conversation %+v", byID["carol"])
	}

	timeline, err := f.svc.ListMessages(context.Background(), "alice", domainchat.Scope{ConversationID: "bob"})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	got := make([]string, 0, len(timeline))
	for _, m := range timeline {
		got = append(got, m.Message)
	}
	if strings.Join(got, ",") != "one,three,reply" {
		t.Fatalf("unexpected timeline order %v", got)
	}
}

func TestMarkReadRules(t *testing.T) {
	f := newFixture(t)
	msg := f.send(t, "bob", "alice", "ping")
	ctx := context.Background()

	if _, err := f.svc.MarkRead(ctx, "carol", msg.ID); !errors.Is(err, domainchat.ErrNotFound) {
		t.Fatalf("outsiders must not see the message, got %v", err)
	}
	own, err := f.svc.MarkRead(ctx, "bob", msg.ID)
	if err != nil || own.IsRead {
		t.Fatalf("the sender cannot mark its own message, got %+v, %v", own, err)
	}
	for i := 0; i < 2; i++ {
		read, err := f.svc.MarkRead(ctx, "alice", msg.ID)
		if err != nil || !read.IsRead || read.ConversationID != "bob" {
			t.Fatalf("mark read #%d: %+v, %v", i, read, err)
		}
	}
	events := map[string]int{}
	for _, r := range f.outbox.Records() {
		events[r.Name]++
	}
	if events[domainchat.EventMessageCreated] != 1 || events[domainchat.EventMessageRead] != 1 {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestUploadKeysByConversation(t *testing.T) {
	f := newFixture(t)
	items, err := f.svc.Upload(context.Background(), "bob", "alice", []domainchat.File{
		{Name: "../../etc/report.pdf", ContentType: "application/pdf", Size: 4, Body: strings.NewReader("%PDF")},
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(items) != 1 || items[0].Name != "report.pdf" {
		t.Fatalf("unexpected attachments %+v", items)
	}
	if _, ok := f.objects.Get("chat/alice_bob/id1/report.pdf"); !ok {
		t.Fatalf("object stored under unexpected key, url %s", items[0].URL)
	}

	if _, err := f.svc.Upload(context.Background(), "bob", "bob", []domainchat.File{{Name: "x", Body: strings.NewReader("x")}}); !errors.Is(err, domainchat.ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}
}
