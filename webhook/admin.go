package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/amp-labs/denguebot/conversation"
	"github.com/amp-labs/denguebot/logger"
	"github.com/amp-labs/denguebot/records"
	"github.com/amp-labs/denguebot/statemachine/visualizer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultMessageLimit caps the message log listing when no limit is given.
const DefaultMessageLimit = 50

var (
	errUnauthorized   = errors.New("unauthorized")
	errBadLimit       = errors.New("limit must be a non-negative integer")
	errCannedResponse = errors.New("content and response are required")
)

func bearer(token string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))

			if subtle.ConstantTimeCompare(got, want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				writeError(w, http.StatusUnauthorized, errUnauthorized)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func adminMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}

		adminRequests.WithLabelValues(endpoint, strconv.Itoa(ww.Status()/100)+"xx").Inc()
	})
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	err := s.service.Reload(ctx)

	switch {
	case errors.Is(err, conversation.ErrNoLoader):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		logger.Get(ctx).InfoContext(ctx, "State machine reloaded through admin API")
		writeJSON(w, http.StatusOK, map[string]any{"fsm_version": s.service.Holder().Version()})
	}
}

func (s *Server) diagram(w http.ResponseWriter, r *http.Request) {
	machine, err := s.service.Holder().MustLoad()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)

		return
	}

	query := r.URL.Query()

	opts := visualizer.DefaultOptions().
		WithShowConditions(query.Get("conditions") != "false").
		WithDirection(query.Get("direction"))

	if path := query.Get("highlight"); path != "" {
		opts = opts.WithHighlightPath(strings.Split(path, ","))
	}

	out, contentType, err := visualizer.Render(r.Context(), machine.Table(), query.Get("format"), opts, s.cfg.Graphviz)

	switch {
	case errors.Is(err, visualizer.ErrUnknownFormat):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, visualizer.ErrDotNotFound):
		writeError(w, http.StatusNotImplemented, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
	}
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	unrecognized, err := s.records.UnrecognizedCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	holder := s.service.Holder()

	body := map[string]any{
		"dispatch":     s.dispatch.stats(),
		"fsm_version":  holder.Version(),
		"unrecognized": unrecognized,
	}

	if machine := holder.Load(); machine != nil {
		body["fsm_name"] = machine.Table().Config().Name
		body["states"] = len(machine.Table().States())
	}

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.Sessions().Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")
	sessions := s.service.Sessions()

	if err := sessions.Reset(ctx, userID); err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	logger.Get(ctx).InfoContext(ctx, "Session reset through admin API", "user_id", userID)

	sess, err := sessions.Get(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.records.User(r.Context(), chi.URLParam(r, "userID"))

	switch {
	case errors.Is(err, records.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, user)
	}
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultMessageLimit, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errBadLimit
	}

	return n, nil
}

// writeList answers with a JSON array, empty rather than null.
func writeList[T any](w http.ResponseWriter, items []T, err error) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	if items == nil {
		items = []T{}
	}

	writeJSON(w, http.StatusOK, items)
}

func (s *Server) userMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	messages, err := s.records.Messages(r.Context(), chi.URLParam(r, "userID"), limit)
	writeList(w, messages, err)
}

func (s *Server) userReplies(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	replies, err := s.records.Replies(r.Context(), chi.URLParam(r, "userID"), limit)
	writeList(w, replies, err)
}

func (s *Server) userSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := s.records.Suggestions(r.Context(), chi.URLParam(r, "userID"))
	writeList(w, suggestions, err)
}

func (s *Server) userGovReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.records.GovReports(r.Context(), chi.URLParam(r, "userID"))
	writeList(w, reports, err)
}

func (s *Server) userZapperReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.records.ZapperReports(r.Context(), chi.URLParam(r, "userID"))
	writeList(w, reports, err)
}

func (s *Server) unrecognized(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	messages, err := s.records.UnrecognizedMessages(r.Context(), limit)
	writeList(w, messages, err)
}

type cannedResponse struct {
	Content  string `json:"content"`
	Response string `json:"response"`
}

// setCannedResponse stores the answer given to future unrecognized
// messages with exactly this content.
func (s *Server) setCannedResponse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req cannedResponse

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)

		return
	}

	if strings.TrimSpace(req.Content) == "" || strings.TrimSpace(req.Response) == "" {
		writeError(w, http.StatusBadRequest, errCannedResponse)

		return
	}

	if err := s.records.SetCannedResponse(ctx, req.Content, req.Response); err != nil {
		writeError(w, http.StatusInternalServerError, err)

		return
	}

	logger.Get(ctx).InfoContext(ctx, "Canned response set through admin API", "content", req.Content)

	writeJSON(w, http.StatusOK, req)
}

var _ Processor = (*conversation.Service)(nil)
