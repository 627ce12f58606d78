package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore はプロセス内にセッションを保持します。Redis を使わないローカル開発用です。
type MemoryStore struct {
	lock     sync.Mutex
	ttl      time.Duration
	sessions map[string]Bundle
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		sessions: make(map[string]Bundle),
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Bundle, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	bundle, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	if remaining(&bundle) <= 0 {
		delete(s.sessions, id)
		return nil, nil
	}
	return &bundle, nil
}

func (s *MemoryStore) Save(ctx context.Context, bundle *Bundle) error {
	if bundle == nil {
		return fmt.Errorf("bundle is nil")
	}
	if bundle.ID == "" {
		return fmt.Errorf("bundle.ID is required")
	}
	stamp(bundle, s.ttl)
	if remaining(bundle) <= 0 {
		return fmt.Errorf("session: expiresAt must be in the future")
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	s.sessions[bundle.ID] = *bundle
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, mutate func(*Bundle)) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	bundle, ok := s.sessions[id]
	if !ok || remaining(&bundle) <= 0 {
		delete(s.sessions, id)
		return ErrNotFound
	}
	mutate(&bundle)
	bundle.ID = id
	bundle.UpdatedAt = time.Now().UTC()
	if remaining(&bundle) <= 0 {
		delete(s.sessions, id)
		return nil
	}
	s.sessions[id] = bundle
	return nil
}
