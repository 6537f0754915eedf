package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/amp-labs/denguebot/event"
	"github.com/amp-labs/denguebot/logger"
	"go.uber.org/atomic"
)

// ErrBusy is returned when the async queue cannot take another batch.
var ErrBusy = errors.New("webhook: event queue is full")

// Processor handles a decoded batch of events in order.
type Processor interface {
	HandleAll(ctx context.Context, events []event.Event) error
}

// DispatchStats counts batches handed to the processor.
type DispatchStats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// dispatcher runs batches inline, or on a bounded pool when async. A batch
// is always processed sequentially by one worker.
type dispatcher struct {
	processor Processor
	pool      pond.Pool
	stopOnce  sync.Once

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func newDispatcher(processor Processor, async bool, workers, queueSize int) *dispatcher {
	d := &dispatcher{processor: processor}

	if async {
		d.pool = pond.NewPool(workers, pond.WithQueueSize(queueSize), pond.WithNonBlocking(true))
	}

	return d
}

func (d *dispatcher) dispatch(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	d.submitted.Inc()

	if d.pool == nil {
		d.run(ctx, events)

		return nil
	}

	// The batch outlives the request; keep its values, drop its deadline.
	detached := context.WithoutCancel(ctx)

	queuedBatches.Inc()

	err := d.pool.Go(func() {
		defer queuedBatches.Dec()

		d.run(detached, events)
	})
	if err != nil {
		queuedBatches.Dec()
		d.dropped.Inc()

		logger.Get(ctx).WarnContext(ctx, "Dropping webhook batch", "events", len(events), "error", err)

		return fmt.Errorf("%w: %w", ErrBusy, err)
	}

	return nil
}

func (d *dispatcher) run(ctx context.Context, events []event.Event) {
	if err := d.processor.HandleAll(ctx, events); err != nil {
		d.failed.Inc()

		logger.Get(ctx).ErrorContext(ctx, "Webhook batch had failures", "events", len(events), "error", err)
	}

	d.completed.Inc()
}

func (d *dispatcher) stats() DispatchStats {
	return DispatchStats{
		Submitted: d.submitted.Load(),
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

func (d *dispatcher) stop() {
	if d.pool != nil {
		d.stopOnce.Do(d.pool.StopAndWait)
	}
}
