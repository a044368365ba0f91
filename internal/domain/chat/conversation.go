package chat

import (
	"sort"
	"strings"
)

// Conversation is a thread between the viewer and one counterpart, optionally
// scoped to a project. It is derived from messages and never stored directly.
type Conversation struct {
	ID              string   `json:"id"`
	ParticipantID   string   `json:"participantId"`
	ParticipantName string   `json:"participantName"`
	ParticipantRole string   `json:"participantRole,omitempty"`
	ProjectID       string   `json:"projectId,omitempty"`
	ProjectName     string   `json:"projectName,omitempty"`
	LastMessage     *Message `json:"lastMessage,omitempty"`
	UnreadCount     int      `json:"unreadCount"`
	IsOnline        bool     `json:"isOnline"`
}

// Participant is the directory entry the server uses to label a counterpart.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Avatar string `json:"avatar,omitempty"`
}

func (p Participant) Sender() Sender {
	return Sender{ID: p.ID, Name: p.Name, Email: p.Email, Role: p.Role, Avatar: p.Avatar}
}

// Project labels a project scope.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Scope narrows conversation and message queries.
type Scope struct {
	ProjectID      string
	ConversationID string
}

func (s Scope) Normalize() Scope {
	return Scope{
		ProjectID:      strings.TrimSpace(s.ProjectID),
		ConversationID: strings.TrimSpace(s.ConversationID),
	}
}

// Matches reports whether a message belongs to the scope as seen by viewerID.
func (s Scope) Matches(msg Message, viewerID string) bool {
	if msg.SenderID != viewerID && msg.RecipientID != viewerID {
		return false
	}
	if s.ProjectID != "" && msg.ProjectID != s.ProjectID {
		return false
	}
	if s.ConversationID != "" && msg.Counterpart(viewerID) != s.ConversationID {
		return false
	}
	return true
}

// Summarize derives the viewer's conversations from the messages they exchanged.
// Unread counts are recomputed from IsRead flags every time. Conversations are
// ordered by most recent activity first.
func Summarize(messages []Message, viewerID string) []Conversation {
	byCounterpart := make(map[string]*Conversation)
	order := make([]string, 0)
	for _, msg := range messages {
		counterpart := msg.Counterpart(viewerID)
		if counterpart == "" || counterpart == viewerID {
			continue
		}
		conv, ok := byCounterpart[counterpart]
		if !ok {
			conv = &Conversation{ID: counterpart, ParticipantID: counterpart, ProjectID: msg.ProjectID}
			byCounterpart[counterpart] = conv
			order = append(order, counterpart)
		}
		if conv.ProjectID != msg.ProjectID {
			conv.ProjectID = ""
		}
		if conv.LastMessage == nil || Before(*conv.LastMessage, msg) {
			last := msg
			conv.LastMessage = &last
		}
		if msg.NeedsRead(viewerID) {
			conv.UnreadCount++
		}
	}
	out := make([]Conversation, 0, len(order))
	for _, id := range order {
		out = append(out, *byCounterpart[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return Before(*out[j].LastMessage, *out[i].LastMessage)
	})
	return out
}

// TotalUnread sums unread counts across conversations.
func TotalUnread(conversations []Conversation) int {
	total := 0
	for _, conv := range conversations {
		if conv.UnreadCount > 0 {
			total += conv.UnreadCount
		}
	}
	return total
}
