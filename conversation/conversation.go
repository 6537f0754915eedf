// Package conversation runs inbound events through the active state machine,
// one user at a time, and keeps that machine up to date with its
// configuration documents.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amp-labs/denguebot/denguebot"
	"github.com/amp-labs/denguebot/event"
	"github.com/amp-labs/denguebot/logger"
	"github.com/amp-labs/denguebot/records"
	"github.com/amp-labs/denguebot/session"
	"github.com/amp-labs/denguebot/statemachine"
	"github.com/google/uuid"
)

// ErrNoUser is returned for events that carry no user id.
var ErrNoUser = errors.New("event has no user id")

// MessageLogger records inbound messages before they are processed.
type MessageLogger interface {
	LogMessage(ctx context.Context, msg records.MessageLog) (int64, error)
}

// Outcome is the result of handling one event.
type Outcome struct {
	RequestID string
	Session   session.Session
	Fire      statemachine.Result
}

// Option configures a Service.
type Option func(*Service)

// WithTrigger sets the trigger fired for every event.
func WithTrigger(trigger string) Option {
	return func(s *Service) {
		if trigger != "" {
			s.trigger = trigger
		}
	}
}

// WithEventTimeout bounds the handling of each event. Zero means no bound.
func WithEventTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		s.eventTimeout = timeout
	}
}

// WithLoader lets Reload rebuild the machine.
func WithLoader(loader *Loader) Option {
	return func(s *Service) {
		s.loader = loader
	}
}

// Service is the per-event pipeline: log the message, lock the user's
// session, fire the trigger from the stored state, then store the resulting
// state or reset the session when firing failed.
type Service struct {
	holder       *statemachine.Holder
	sessions     *session.Manager
	messages     MessageLogger
	loader       *Loader
	trigger      string
	eventTimeout time.Duration
}

// NewService creates a service firing events through the machine held by
// holder. The sessions' initial state follows the held machine.
func NewService(
	holder *statemachine.Holder,
	sessions *session.Manager,
	messages MessageLogger,
	opts ...Option,
) *Service {
	svc := &Service{
		holder:   holder,
		sessions: sessions,
		messages: messages,
		trigger:  denguebot.TriggerAdvance,
	}

	for _, opt := range opts {
		opt(svc)
	}

	if machine := holder.Load(); machine != nil {
		sessions.SetInitial(machine.InitialState())
	}

	return svc
}

// Holder returns the holder of the active machine.
func (s *Service) Holder() *statemachine.Holder {
	return s.holder
}

// Sessions returns the session manager.
func (s *Service) Sessions() *session.Manager {
	return s.sessions
}

// Handle processes a single event. When firing fails the user's session is
// reset to the initial state and the error is returned.
func (s *Service) Handle(ctx context.Context, evt *event.Event) (out Outcome, err error) {
	if evt == nil {
		return Outcome{}, fmt.Errorf("%w: nil event", statemachine.ErrContractViolation)
	}

	start := time.Now()

	defer func() {
		eventsTotal.WithLabelValues(string(evt.Kind), outcome(err)).Inc()
		eventDuration.Observe(time.Since(start).Seconds())
	}()

	if evt.UserID == "" {
		return Outcome{}, ErrNoUser
	}

	out.RequestID = uuid.NewString()

	ctx = logger.WithUserId(ctx, evt.UserID)
	ctx = logger.WithRequestId(ctx, out.RequestID)

	if s.eventTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.eventTimeout)
		defer cancel()
	}

	machine, err := s.holder.MustLoad()
	if err != nil {
		return out, err
	}

	var messageLogID int64

	if evt.IsMessage() && s.messages != nil {
		messageLogID, err = s.messages.LogMessage(ctx, records.MessageLog{
			UserID:      evt.UserID,
			SpeakTime:   evt.Timestamp,
			MessageType: evt.MessageType(),
			Content:     evt.Content(),
		})
		if err != nil {
			return out, fmt.Errorf("log message: %w", err)
		}
	}

	out.Session, err = s.sessions.Do(ctx, evt.UserID, func(ctx context.Context, current session.Session) (string, error) {
		fc := statemachine.NewContext(evt.UserID, current.State, evt)
		fc.RequestID = out.RequestID

		if messageLogID != 0 {
			fc.Set(denguebot.DataMessageLogID, messageLogID)
		}

		result, fireErr := machine.Fire(ctx, fc, s.trigger)
		out.Fire = result

		if fireErr != nil {
			return "", fireErr
		}

		return out.Fire.State, nil
	})
	if err != nil {
		logger.Get(ctx).ErrorContext(ctx, "Event handling failed, session reset",
			"kind", evt.Kind,
			"state", out.Fire.State,
			"error", err)

		return out, err
	}

	logger.Get(ctx).DebugContext(ctx, "Event handled",
		"kind", evt.Kind,
		"state", out.Session.State,
		"path", out.Fire.Path,
		"hops", out.Fire.Hops)

	return out, nil
}

// HandleAll processes events in order. A failing event does not stop the
// ones after it; all errors are returned joined.
func (s *Service) HandleAll(ctx context.Context, events []event.Event) error {
	var errs []error

	for i := range events {
		if _, err := s.Handle(ctx, &events[i]); err != nil {
			errs = append(errs, fmt.Errorf("event %d: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// Reload rebuilds the machine from the loader's documents and publishes it.
// When the rebuild fails the active machine is kept.
func (s *Service) Reload(ctx context.Context) error {
	if s.loader == nil {
		return ErrNoLoader
	}

	if err := s.holder.Reload(ctx, s.loader.Build); err != nil {
		return err
	}

	s.sessions.SetInitial(s.holder.Load().InitialState())

	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, session.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		return outcomeTimeout
	default:
		return outcomeError
	}
}
