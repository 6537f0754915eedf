package statemachine

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/amp-labs/denguebot/event"
)

// Context carries one user's conversation through a single Fire call.
// Actions read the triggering event from it and may request cascades.
type Context struct {
	mu        sync.RWMutex
	UserID    string
	RequestID string
	State     string
	Event     *event.Event
	Data      map[string]any
	History   []StateTransition
	Path      []string // states entered during this request, in order
	CreatedAt time.Time
	UpdatedAt time.Time

	cascades []string
}

// StateTransition records a transition taken during a request.
type StateTransition struct {
	From      string
	To        string
	Trigger   string
	Timestamp time.Time
}

// NewContext creates a context for a user currently in state.
func NewContext(userID, state string, evt *event.Event) *Context {
	now := time.Now()

	return &Context{
		UserID:    userID,
		State:     state,
		Event:     evt,
		Data:      make(map[string]any),
		History:   []StateTransition{},
		Path:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Get retrieves a value from the context data.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, ok := c.Data[key]

	return val, ok
}

// Set stores a value in the context data.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Data == nil {
		c.Data = make(map[string]any)
	}

	c.Data[key] = value
	c.UpdatedAt = time.Now()
}

func (c *Context) snapshotData() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return maps.Clone(c.Data)
}

func (c *Context) restoreData(data map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Data = data
}

// GetString retrieves a string value from the context data.
func (c *Context) GetString(key string) (string, bool) {
	val, ok := c.Get(key)
	if !ok {
		return "", false
	}

	str, ok := val.(string)

	return str, ok
}

// Cascade requests that trigger be fired against the machine once the
// running action's state has been fully entered.
func (c *Context) Cascade(trigger string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cascades = append(c.cascades, trigger)
}

// PendingCascades returns the triggers requested but not yet fired.
func (c *Context) PendingCascades() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.cascades)
}

func (c *Context) takeCascades() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := c.cascades
	c.cascades = nil

	return pending
}

func (c *Context) dropCascades() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cascades = nil
}

// CurrentState returns the state the context is in.
func (c *Context) CurrentState() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.State
}

func (c *Context) setState(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.State = state
	c.UpdatedAt = time.Now()
}

// AddTransition records a transition in the history.
func (c *Context) AddTransition(from, to, trigger string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.History = append(c.History, StateTransition{
		From:      from,
		To:        to,
		Trigger:   trigger,
		Timestamp: time.Now(),
	})
	c.Path = append(c.Path, to)
}

// PathHistory returns a copy of the states entered so far.
func (c *Context) PathHistory() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.Path)
}

// Clone creates a copy of the context without pending cascades.
func (c *Context) Clone() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Context{
		UserID:    c.UserID,
		RequestID: c.RequestID,
		State:     c.State,
		Event:     c.Event,
		Data:      maps.Clone(c.Data),
		History:   slices.Clone(c.History),
		Path:      slices.Clone(c.Path),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
