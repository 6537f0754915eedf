package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryBackend keeps sessions in process memory. Sessions idle for longer
// than the TTL are treated as absent; a zero TTL keeps them forever.
type MemoryBackend struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]Session

	lockMu sync.Mutex
	locks  map[string]*userLock
}

type userLock struct {
	ch   chan struct{}
	refs int
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]Session),
		locks:    make(map[string]*userLock),
	}
}

var _ Backend = (*MemoryBackend)(nil)

func (b *MemoryBackend) Load(_ context.Context, userID string) (Session, bool, error) {
	b.mu.RLock()
	s, ok := b.sessions[userID]
	b.mu.RUnlock()

	if !ok {
		return Session{}, false, nil
	}

	if b.expired(s) {
		b.mu.Lock()
		if cur, ok := b.sessions[userID]; ok && b.expired(cur) {
			delete(b.sessions, userID)
		}
		b.mu.Unlock()

		return Session{}, false, nil
	}

	return s, true, nil
}

func (b *MemoryBackend) Save(_ context.Context, s Session) error {
	if s.UserID == "" {
		return ErrUserIDRequired
	}

	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = b.now()
	}

	b.mu.Lock()
	b.sessions[s.UserID] = s
	b.mu.Unlock()

	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, userID string) error {
	b.mu.Lock()
	delete(b.sessions, userID)
	b.mu.Unlock()

	return nil
}

// Lock takes the user's lock. Waiters are released in no particular order.
func (b *MemoryBackend) Lock(ctx context.Context, userID string) (func(), error) {
	b.lockMu.Lock()

	l, ok := b.locks[userID]
	if !ok {
		l = &userLock{ch: make(chan struct{}, 1)}
		b.locks[userID] = l
	}

	l.refs++
	b.lockMu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		b.release(userID, l, false)

		return nil, fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
	}

	var once sync.Once

	return func() {
		once.Do(func() { b.release(userID, l, true) })
	}, nil
}

func (b *MemoryBackend) release(userID string, l *userLock, held bool) {
	if held {
		<-l.ch
	}

	b.lockMu.Lock()
	defer b.lockMu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(b.locks, userID)
	}
}

// Len reports the number of stored sessions, including expired ones not yet
// evicted.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.sessions)
}

func (b *MemoryBackend) expired(s Session) bool {
	return b.ttl > 0 && b.now().Sub(s.UpdatedAt) > b.ttl
}
