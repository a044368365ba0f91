package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// Object is a stored attachment body.
type Object struct {
	ContentType string
	Data        []byte
}

// ObjectStore keeps attachment bodies in memory, for local runs and tests.
type ObjectStore struct {
	BaseURL string

	mu      sync.RWMutex
	objects map[string]Object
}

func NewObjectStore(baseURL string) *ObjectStore {
	return &ObjectStore{BaseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string]Object)}
}

func (s *ObjectStore) Upload(ctx context.Context, key string, reader io.Reader, contentType string) (string, error) {
	if reader == nil {
		return "", errors.New("memory: reader is required")
	}
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("memory: object key is required")
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.objects[key] = Object{ContentType: contentType, Data: buf.Bytes()}
	s.mu.Unlock()
	return s.BaseURL + "/" + key, nil
}

func (s *ObjectStore) Get(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj, ok
}

func (s *ObjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
