package memory

import (
	"context"
	"strings"
	"sync"

	"chatsync/internal/domain/chat"
)

// Directory holds users and projects loaded from fixtures.
type Directory struct {
	mu       sync.RWMutex
	users    map[string]chat.Participant
	projects map[string]chat.Project
}

func NewDirectory() *Directory {
	return &Directory{
		users:    make(map[string]chat.Participant),
		projects: make(map[string]chat.Project),
	}
}

func (d *Directory) PutUser(p chat.Participant) {
	d.mu.Lock()
	d.users[strings.TrimSpace(p.ID)] = p
	d.mu.Unlock()
}

func (d *Directory) PutProject(p chat.Project) {
	d.mu.Lock()
	d.projects[strings.TrimSpace(p.ID)] = p
	d.mu.Unlock()
}

func (d *Directory) Participant(ctx context.Context, id string) (chat.Participant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.users[id]
	if !ok {
		return chat.Participant{}, chat.ErrNotFound
	}
	return p, nil
}

func (d *Directory) Project(ctx context.Context, id string) (chat.Project, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.projects[id]
	if !ok {
		return chat.Project{}, chat.ErrNotFound
	}
	return p, nil
}
