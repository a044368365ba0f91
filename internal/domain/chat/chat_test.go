package chat

import (
	"testing"
	"time"
)

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		elapsed time.Duration
		want    string
	}{
		{"future timestamp", -5 * time.Second, "just now"},
		{"under a minute", 30 * time.Second, "just now"},
		{"exactly a minute", time.Minute, "1m ago"},
		{"ninety seconds floors", 90 * time.Second, "1m ago"},
		{"just under an hour", 59*time.Minute + 59*time.Second, "59m ago"},
		{"an hour and change", 3700 * time.Second, "1h ago"},
		{"just under a day", 23*time.Hour + 59*time.Minute, "23h ago"},
		{"a day and change", 90000 * time.Second, "1d ago"},
		{"weeks", 15 * 24 * time.Hour, "15d ago"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatAge(now.Add(-tc.elapsed), now); got != tc.want {
				t.Fatalf("FormatAge(-%s) = %q, want %q", tc.elapsed, got, tc.want)
			}
		})
	}
}

func TestReplaceTimelineOrdersAndDeduplicates(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	fetched := []Message{
		{ID: "m3", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "m1", CreatedAt: base},
		{ID: "m2", CreatedAt: base.Add(time.Minute), IsRead: false},
		{ID: "m2", CreatedAt: base.Add(time.Minute), IsRead: true},
		{ID: "m0", CreatedAt: base.Add(2 * time.Minute)},
	}

	got := ReplaceTimeline(nil, fetched)

	wantIDs := []string{"m1", "m2", "m0", "m3"}
	if len(got) != len(wantIDs) {
		t.Fatalf("expected %d messages, got %d: %+v", len(wantIDs), len(got), got)
	}
	for i, msg := range got {
		if msg.ID != wantIDs[i] {
			t.Fatalf("position %d: expected %s, got %s", i, wantIDs[i], msg.ID)
		}
		if i > 0 && !Before(got[i-1], msg) {
			t.Fatalf("messages %s and %s out of order", got[i-1].ID, msg.ID)
		}
	}
	if !got[1].IsRead {
		t.Fatalf("expected last copy of m2 to win")
	}
}

func TestReplaceTimelineDropsMessagesMissingFromFetch(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	previous := []Message{
		{ID: "m1", CreatedAt: base, IsRead: true},
		{ID: "ghost", CreatedAt: base.Add(time.Minute)},
	}
	fetched := []Message{
		{ID: "m1", CreatedAt: base, IsRead: false, Message: "edited"},
		{ID: "m4", CreatedAt: base.Add(3 * time.Minute)},
	}

	got := ReplaceTimeline(previous, fetched)

	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m4" {
		t.Fatalf("expected only fetched ids, got %+v", got)
	}
	if !got[0].IsRead || got[0].Message != "edited" {
		t.Fatalf("expected fetched copy of m1 with read state kept, got %+v", got[0])
	}
	if got[1].IsRead {
		t.Fatalf("read state must not leak onto other messages")
	}
}

func TestCountUnreadIgnoresOwnMessages(t *testing.T) {
	messages := []Message{
		{ID: "1", SenderID: "me"},
		{ID: "2", SenderID: "peer"},
		{ID: "3", SenderID: "peer", IsRead: true},
		{ID: "4", SenderID: "peer"},
	}
	if got := CountUnread(messages, "me"); got != 2 {
		t.Fatalf("expected 2 unread, got %d", got)
	}
	if got := CountUnread(nil, "me"); got != 0 {
		t.Fatalf("expected 0 unread for empty timeline, got %d", got)
	}
}

func TestSummarizeDerivesConversations(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	messages := []Message{
		{ID: "a1", SenderID: "ana", RecipientID: "me", ProjectID: "p1", CreatedAt: base},
		{ID: "a2", SenderID: "me", RecipientID: "ana", ProjectID: "p1", CreatedAt: base.Add(time.Minute)},
		{ID: "a3", SenderID: "ana", RecipientID: "me", ProjectID: "p1", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "b1", SenderID: "bob", RecipientID: "me", ProjectID: "p2", CreatedAt: base.Add(5 * time.Minute), IsRead: true},
	}

	conversations := Summarize(messages, "me")

	if len(conversations) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(conversations))
	}
	if conversations[0].ID != "bob" || conversations[1].ID != "ana" {
		t.Fatalf("expected most recent first, got %s then %s", conversations[0].ID, conversations[1].ID)
	}
	ana := conversations[1]
	if ana.UnreadCount != 2 || ana.LastMessage == nil || ana.LastMessage.ID != "a3" || ana.ProjectID != "p1" {
		t.Fatalf("unexpected summary: %+v", ana)
	}
	if conversations[0].UnreadCount != 0 {
		t.Fatalf("expected read conversation to have 0 unread, got %d", conversations[0].UnreadCount)
	}
}

func TestScopeMatches(t *testing.T) {
	msg := Message{SenderID: "ana", RecipientID: "me", ProjectID: "p1"}
	if !(Scope{}).Matches(msg, "me") {
		t.Fatalf("global scope should match")
	}
	if !(Scope{ProjectID: "p1", ConversationID: "ana"}).Matches(msg, "me") {
		t.Fatalf("project+conversation scope should match")
	}
	if (Scope{ProjectID: "p2"}).Matches(msg, "me") {
		t.Fatalf("other project should not match")
	}
	if (Scope{}).Matches(msg, "eve") {
		t.Fatalf("non-participant should not match")
	}
}

func TestTotalUnreadSkipsNegativeCounts(t *testing.T) {
	convs := []Conversation{{ID: "a", UnreadCount: 2}, {ID: "b", UnreadCount: -1}, {ID: "c", UnreadCount: 3}}
	if got := TotalUnread(convs); got != 5 {
		t.Fatalf("TotalUnread = %d, want 5", got)
	}
	if got := TotalUnread(nil); got != 0 {
		t.Fatalf("TotalUnread(nil) = %d", got)
	}
}
