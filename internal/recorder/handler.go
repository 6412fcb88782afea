package recorder

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"radio-recorder/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// maxCreateBody bounds the POST /v1/streams body.
const maxCreateBody = 16 << 10

// Handler exposes session HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes mounts the session endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/v1/streams", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)
		r.Get("/{stream_id}", h.GetSession)
		r.Delete("/{stream_id}", h.DeleteSession)
	})
}

// CreateSession handles POST /v1/streams.
// Body: { "uri": "https://radio.example/stream.mp3" }; ?uri= is accepted too.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCreateBody))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.log.Debug("invalid create body", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}
	if req.URI == "" {
		req.URI = r.URL.Query().Get("uri")
	}

	sess, err := h.svc.CreateSession(req.URI)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSourceURI):
			h.log.Info("session rejected", slog.String("uri", req.URI), slog.String("error", err.Error()))
			w.WriteHeader(http.StatusBadRequest)
		case errors.Is(err, ErrRegistryClosed):
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			h.log.Error("create session failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	if h.metrics != nil {
		h.metrics.IncSessionsCreated()
	}
	w.Header().Set("Location", sessionPath(sess.ID))
	h.writeJSON(w, http.StatusCreated, sess.View(accessURI(r, sess.ID)))
}

// ListSessions handles GET /v1/streams.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.svc.ListSessions()
	out := SessionListView{Streams: make([]SessionView, 0, len(sessions))}
	for _, sess := range sessions {
		out.Streams = append(out.Streams, sess.View(accessURI(r, sess.ID)))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// GetSession handles GET /v1/streams/{stream_id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "stream_id"))
	sess, ok := h.svc.GetSession(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, sess.View(accessURI(r, id)))
}

// DeleteSession handles DELETE /v1/streams/{stream_id}[?purge=true].
// It returns only after the session's worker has stopped.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "stream_id"))
	purge, _ := strconv.ParseBool(r.URL.Query().Get("purge"))

	sess, err := h.svc.DeleteSession(id, purge)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.log.Error("delete session failed", slog.String("stream_id", string(id)), slog.String("error", err.Error()))
		if sess == nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}

	if h.metrics != nil {
		h.metrics.IncSessionsDeleted()
	}
	h.writeJSON(w, http.StatusOK, sess.View(accessURI(r, id)))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("write response failed", slog.String("error", err.Error()))
	}
}

func sessionPath(id SessionID) string {
	return "/v1/streams/" + string(id)
}

// accessURI is the absolute URL of the session resource as seen by the caller.
func accessURI(r *http.Request, id SessionID) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	switch fwd := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))); fwd {
	case "http", "https":
		scheme = fwd
	}
	return scheme + "://" + r.Host + sessionPath(id)
}
