package memory

import (
	"context"
	"sync"
	"time"
)

// Presence marks a user online for TTL after their last request.
type Presence struct {
	TTL time.Duration
	Now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewPresence(ttl time.Duration) *Presence {
	return &Presence{TTL: ttl, seen: make(map[string]time.Time)}
}

func (p *Presence) Touch(ctx context.Context, userID string) error {
	p.mu.Lock()
	p.seen[userID] = p.now()
	p.mu.Unlock()
	return nil
}

func (p *Presence) Online(ctx context.Context, userIDs []string) (map[string]bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	out := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		at, ok := p.seen[id]
		out[id] = ok && now.Sub(at) < p.ttl()
	}
	return out, nil
}

func (p *Presence) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Presence) ttl() time.Duration {
	if p.TTL <= 0 {
		return time.Minute
	}
	return p.TTL
}
