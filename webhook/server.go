// Package webhook is the HTTP surface of the bot: the LINE callback, health
// and metrics endpoints, and the admin API.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/amp-labs/denguebot/conversation"
	"github.com/amp-labs/denguebot/event"
	"github.com/amp-labs/denguebot/logger"
	"github.com/amp-labs/denguebot/records"
	"github.com/amp-labs/denguebot/statemachine/visualizer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Defaults for Config fields left zero.
const (
	DefaultMaxBodyBytes = 1 << 20
	DefaultWorkers      = 8
	DefaultQueueSize    = 256
	DefaultRateLimit    = 600
	DefaultRateWindow   = time.Minute
	DefaultServiceName  = "denguebot"
)

// ErrMissingSecret is returned by New without a channel secret.
var ErrMissingSecret = errors.New("webhook: channel secret is required")

// Config configures a Server.
type Config struct {
	// ChannelSecret signs LINE webhook bodies.
	ChannelSecret string
	// AdminToken enables the admin API under /admin. Empty disables it.
	AdminToken string

	// Async acknowledges callbacks before processing their events.
	Async     bool
	Workers   int
	QueueSize int

	// RateLimit callbacks per RateWindow per client IP.
	RateLimit  int
	RateWindow time.Duration

	MaxBodyBytes int64
	ServiceName  string

	// Graphviz renders PNG diagrams.
	Graphviz visualizer.GraphvizRenderer
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}

	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}

	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}

	if c.RateWindow <= 0 {
		c.RateWindow = DefaultRateWindow
	}

	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}

	return c
}

// Records is the part of the record store the admin API exposes.
type Records interface {
	User(ctx context.Context, userID string) (records.User, error)
	Messages(ctx context.Context, userID string, limit int) ([]records.MessageLog, error)
	Replies(ctx context.Context, userID string, limit int) ([]records.ReplyLog, error)
	Suggestions(ctx context.Context, userID string) ([]records.Suggestion, error)
	GovReports(ctx context.Context, userID string) ([]records.GovReport, error)
	ZapperReports(ctx context.Context, userID string) ([]records.ZapperReport, error)
	UnrecognizedMessages(ctx context.Context, limit int) ([]records.UnrecognizedMessage, error)
	UnrecognizedCount(ctx context.Context) (int, error)
	SetCannedResponse(ctx context.Context, content, response string) error
}

// Server routes HTTP requests to the conversation service.
type Server struct {
	cfg      Config
	service  *conversation.Service
	records  Records
	dispatch *dispatcher
	handler  http.Handler
}

// New creates a server. Close it to drain the async pool.
func New(cfg Config, service *conversation.Service, store Records) (*Server, error) {
	if cfg.ChannelSecret == "" {
		return nil, ErrMissingSecret
	}

	cfg = cfg.withDefaults()

	s := &Server{
		cfg:      cfg,
		service:  service,
		records:  store,
		dispatch: newDispatcher(service, cfg.Async, cfg.Workers, cfg.QueueSize),
	}

	s.handler = otelhttp.NewHandler(s.routes(), cfg.ServiceName,
		otelhttp.WithFilter(shouldTrace),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return operation + " " + r.Method + " " + r.URL.Path
		}))

	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestContext)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.With(httprate.LimitByIP(s.cfg.RateLimit, s.cfg.RateWindow)).Post("/callback", s.callback)

	if s.cfg.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(bearer(s.cfg.AdminToken))
			r.Use(adminMetrics)

			r.Post("/fsm/reload", s.reload)
			r.Get("/fsm/diagram", s.diagram)
			r.Get("/stats", s.stats)
			r.Get("/sessions/{userID}", s.getSession)
			r.Delete("/sessions/{userID}", s.resetSession)
			r.Get("/users/{userID}", s.getUser)
			r.Get("/users/{userID}/messages", s.userMessages)
			r.Get("/users/{userID}/replies", s.userReplies)
			r.Get("/users/{userID}/suggestions", s.userSuggestions)
			r.Get("/users/{userID}/gov_reports", s.userGovReports)
			r.Get("/users/{userID}/zapper_reports", s.userZapperReports)
			r.Get("/unrecognized", s.unrecognized)
			r.Put("/unrecognized/responses", s.setCannedResponse)
		})
	}

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Stats reports the dispatcher counters.
func (s *Server) Stats() DispatchStats {
	return s.dispatch.stats()
}

// Close waits for queued batches to finish.
func (s *Server) Close() {
	s.dispatch.stop()
}

// callback verifies and decodes a LINE webhook call and hands its events to
// the conversation service. Once accepted the call is acknowledged whatever
// the processing outcome.
func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		callbacksTotal.WithLabelValues(resultMalformed).Inc()
		http.Error(w, "unreadable body", http.StatusBadRequest)

		return
	}

	if err := Verify(s.cfg.ChannelSecret, body, r.Header.Get(SignatureHeader)); err != nil {
		callbacksTotal.WithLabelValues(resultBadSignature).Inc()
		logger.Get(ctx).WarnContext(ctx, "Rejected webhook call", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	events, skipped, err := event.DecodeLINE(body)
	if err != nil {
		callbacksTotal.WithLabelValues(resultMalformed).Inc()
		logger.Get(ctx).WarnContext(ctx, "Malformed webhook body", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	if skipped > 0 {
		logger.Get(ctx).DebugContext(ctx, "Skipped events without a user", "count", skipped)
	}

	callbackEvents.Add(float64(len(events)))

	if err := s.dispatch.dispatch(ctx, events); err != nil {
		callbacksTotal.WithLabelValues(resultRejected).Inc()
		http.Error(w, err.Error(), http.StatusServiceUnavailable)

		return
	}

	callbacksTotal.WithLabelValues(resultAccepted).Inc()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	holder := s.service.Holder()

	if holder.Load() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "no state machine"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"fsm_version": holder.Version(),
	})
}

// requestContext tags the request context with chi's request id.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if id := middleware.GetReqID(ctx); id != "" {
			ctx = logger.WithRequestId(ctx, id)
		}

		// Probes and scrapes are frequent and uninteresting.
		if !shouldTrace(r) {
			ctx = logger.WithMuted(ctx, true)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func shouldTrace(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return false
	default:
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
