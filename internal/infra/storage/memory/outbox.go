package memory

import (
	"context"
	"sync"
	"time"

	appoutbox "chatsync/internal/app/outbox"
)

type outboxEntry struct {
	record    appoutbox.EventRecord
	attempts  int
	next      time.Time
	claimed   bool
	sent      bool
	lastError string
}

// Outbox queues chat events in memory until the worker publishes them.
type Outbox struct {
	Now func() time.Time

	mu      sync.Mutex
	entries []*outboxEntry
	index   map[string]*outboxEntry
}

func NewOutbox() *Outbox {
	return &Outbox{index: make(map[string]*outboxEntry)}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry := &outboxEntry{record: record, next: o.now()}
	o.entries = append(o.entries, entry)
	o.index[record.ID] = entry
	return nil
}

func (o *Outbox) Claim(ctx context.Context, workerID string) (*appoutbox.Pending, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	for _, entry := range o.entries {
		if entry.sent || entry.claimed || entry.next.After(now) {
			continue
		}
		entry.claimed = true
		return &appoutbox.Pending{EventRecord: entry.record, Attempts: entry.attempts}, nil
	}
	return nil, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.index[id]; ok {
		entry.sent = true
		entry.claimed = false
	}
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.index[id]; ok {
		entry.claimed = false
		entry.attempts++
		entry.next = next
		entry.lastError = errMsg
	}
	return nil
}

// Records returns every queued record, sent or not, in insertion order.
func (o *Outbox) Records() []appoutbox.EventRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]appoutbox.EventRecord, 0, len(o.entries))
	for _, entry := range o.entries {
		out = append(out, entry.record)
	}
	return out
}

// Pending counts records not yet published.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, entry := range o.entries {
		if !entry.sent {
			n++
		}
	}
	return n
}

func (o *Outbox) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

var (
	_ appoutbox.Outbox = (*Outbox)(nil)
	_ appoutbox.Queue  = (*Outbox)(nil)
)
