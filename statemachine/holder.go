package statemachine

import (
	"context"
	"fmt"
	"sync"

	"github.com/amp-labs/denguebot/logger"
	"go.uber.org/atomic"
)

// Holder publishes the active machine. Readers take a snapshot with Load and
// keep using it for the whole request; Reload swaps in a new machine without
// disturbing in-flight fires.
type Holder struct {
	current atomic.Pointer[Machine]
	version atomic.Uint64
	reloads sync.Mutex
}

// NewHolder creates a holder publishing machine.
func NewHolder(machine *Machine) *Holder {
	holder := &Holder{}
	if machine != nil {
		holder.current.Store(machine)
		holder.version.Inc()
	}

	return holder
}

// Load returns the active machine, or nil if none has been published.
func (h *Holder) Load() *Machine {
	return h.current.Load()
}

// MustLoad returns the active machine or ErrNoMachine.
func (h *Holder) MustLoad() (*Machine, error) {
	machine := h.current.Load()
	if machine == nil {
		return nil, ErrNoMachine
	}

	return machine, nil
}

// Version increments on every successful publication.
func (h *Holder) Version() uint64 {
	return h.version.Load()
}

// Swap publishes machine and returns the previous one.
func (h *Holder) Swap(machine *Machine) *Machine {
	previous := h.current.Swap(machine)
	h.version.Inc()

	return previous
}

// Reload builds a new machine and publishes it. When build fails the active
// machine stays in place and the error is returned.
func (h *Holder) Reload(ctx context.Context, build func(ctx context.Context) (*Machine, error)) error {
	h.reloads.Lock()
	defer h.reloads.Unlock()

	machine, err := build(ctx)
	if err != nil {
		reloadsTotal.WithLabelValues(outcomeError).Inc()
		logger.Get(ctx).ErrorContext(ctx, "State machine reload failed, keeping previous configuration",
			"version", h.Version(),
			"error", err)

		return fmt.Errorf("reload: %w", err)
	}

	h.Swap(machine)
	reloadsTotal.WithLabelValues(outcomeSuccess).Inc()
	logger.Get(ctx).InfoContext(ctx, "State machine reloaded",
		"version", h.Version(),
		"states", len(machine.Table().States()))

	return nil
}
