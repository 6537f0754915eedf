// Package session stores the conversation state of each user between
// webhook deliveries and serializes the processing of one user's events.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amp-labs/denguebot/logger"
	"go.uber.org/atomic"
)

var (
	// ErrUserIDRequired is returned for operations without a user id.
	ErrUserIDRequired = errors.New("session: user id is required")
	// ErrLockTimeout is returned when a user lock cannot be taken before the
	// context ends.
	ErrLockTimeout = errors.New("session: timed out waiting for user lock")
)

// PersistTimeout bounds the write that ends Do. The write runs detached from
// the caller's context so that an expired event still resets its session.
const PersistTimeout = 2 * time.Second

// Session is the persisted conversation position of one user.
type Session struct {
	UserID    string    `json:"user_id"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Backend persists sessions and provides per-user mutual exclusion.
type Backend interface {
	// Load returns the stored session. Absent or expired sessions report false.
	Load(ctx context.Context, userID string) (Session, bool, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, userID string) error
	// Lock blocks until the user's lock is held or ctx ends. The returned
	// function releases it.
	Lock(ctx context.Context, userID string) (func(), error)
}

// Manager applies session semantics over a backend: lazily created sessions
// at the initial state, and reset on failure.
type Manager struct {
	backend Backend
	initial *atomic.String
	now     func() time.Time
}

// NewManager creates a manager whose new sessions start at initial.
func NewManager(backend Backend, initial string) *Manager {
	return &Manager{
		backend: backend,
		initial: atomic.NewString(initial),
		now:     time.Now,
	}
}

// SetInitial changes the state new and reset sessions start in.
func (m *Manager) SetInitial(state string) {
	m.initial.Store(state)
}

// Initial returns the state new sessions start in.
func (m *Manager) Initial() string {
	return m.initial.Load()
}

// Get returns the user's session, or a fresh one at the initial state.
func (m *Manager) Get(ctx context.Context, userID string) (Session, error) {
	if userID == "" {
		return Session{}, ErrUserIDRequired
	}

	s, ok, err := m.backend.Load(ctx, userID)

	observe(opGet, err)

	if err != nil {
		return Session{}, fmt.Errorf("load session %s: %w", userID, err)
	}

	if !ok {
		return Session{UserID: userID, State: m.Initial()}, nil
	}

	return s, nil
}

// Set stores state for the user.
func (m *Manager) Set(ctx context.Context, userID, state string) error {
	if userID == "" {
		return ErrUserIDRequired
	}

	err := m.backend.Save(ctx, Session{UserID: userID, State: state, UpdatedAt: m.now()})

	observe(opSet, err)

	if err != nil {
		return fmt.Errorf("save session %s: %w", userID, err)
	}

	return nil
}

// Reset puts the user back at the initial state.
func (m *Manager) Reset(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUserIDRequired
	}

	err := m.backend.Save(ctx, Session{UserID: userID, State: m.Initial(), UpdatedAt: m.now()})

	observe(opReset, err)

	if err != nil {
		return fmt.Errorf("reset session %s: %w", userID, err)
	}

	return nil
}

// Delete forgets the user's session.
func (m *Manager) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUserIDRequired
	}

	err := m.backend.Delete(ctx, userID)

	observe(opDelete, err)

	return err
}

// Do runs fn with the user's session while holding the user's lock. The
// state fn returns is stored; when fn fails, its deadline included, the
// session is reset to the initial state and fn's error is returned.
func (m *Manager) Do(
	ctx context.Context,
	userID string,
	fn func(ctx context.Context, s Session) (string, error),
) (Session, error) {
	if userID == "" {
		return Session{}, ErrUserIDRequired
	}

	start := time.Now()

	unlock, err := m.backend.Lock(ctx, userID)
	lockWait.Observe(time.Since(start).Seconds())

	if err != nil {
		observe(opLock, err)

		return Session{}, err
	}
	defer unlock()

	current, err := m.Get(ctx, userID)
	if err != nil {
		return Session{}, err
	}

	next, fnErr := fn(ctx, current)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PersistTimeout)
	defer cancel()

	if fnErr != nil {
		if err := m.Reset(persistCtx, userID); err != nil {
			logger.Get(ctx).ErrorContext(ctx, "Failed to reset session after error",
				"user_id", userID,
				"error", err)

			return current, errors.Join(fnErr, err)
		}

		return Session{UserID: userID, State: m.Initial()}, fnErr
	}

	if err := m.Set(persistCtx, userID, next); err != nil {
		return current, err
	}

	return Session{UserID: userID, State: next, UpdatedAt: m.now()}, nil
}
