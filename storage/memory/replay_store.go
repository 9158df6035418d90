package memorystore

import (
	"context"
	"sync"
	"time"
)

// ReplayStore is an in-memory webhook.ReplayStore. Marks are only shared
// within one process, so it suits single-node deployments and tests.
type ReplayStore struct {
	mu     sync.Mutex
	data   map[string]time.Time
	now    func() time.Time
	closed chan struct{}
	once   sync.Once
}

// NewReplayStore creates an empty store and starts a background goroutine
// that drops expired marks every minute.
func NewReplayStore() *ReplayStore {
	s := &ReplayStore{data: make(map[string]time.Time), now: time.Now, closed: make(chan struct{})}
	go s.cleanupLoop()
	return s
}

// MarkIfAbsent records id until now+ttl unless an unexpired mark exists.
func (s *ReplayStore) MarkIfAbsent(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp, ok := s.data[id]; ok && now.Before(exp) {
		return false, nil
	}
	s.data[id] = now.Add(ttl)
	return true, nil
}

func (s *ReplayStore) Release(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

// Len returns the number of marks, including expired ones not yet cleaned.
func (s *ReplayStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// cleanupLoop runs in the background and removes expired marks every minute.
func (s *ReplayStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.closed:
			return
		}
	}
}

func (s *ReplayStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, exp := range s.data {
		if !now.Before(exp) {
			delete(s.data, k)
		}
	}
}

// Close stops the background cleanup goroutine.
func (s *ReplayStore) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
