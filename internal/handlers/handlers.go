package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/felo/emailparser/internal/extraction"
	"github.com/felo/emailparser/internal/logging"
	"github.com/felo/emailparser/internal/parser"
	"github.com/felo/emailparser/internal/pipeline"
	"github.com/felo/emailparser/internal/store"
)

const (
	// ErrorHeader carries the failure reason on rejected requests
	ErrorHeader = "X-Error-Message"

	defaultMaxBody = 32 << 20
)

// ErrBadRequest marks requests rejected before reaching the pipeline or store
var ErrBadRequest = errors.New("bad request")

// Handlers holds all HTTP handlers and their dependencies
type Handlers struct {
	svc     *pipeline.Service
	store   store.Store
	maxBody int64
}

// New creates a new Handlers instance
func New(svc *pipeline.Service, st store.Store) *Handlers {
	return &Handlers{
		svc:     svc,
		store:   st,
		maxBody: defaultMaxBody,
	}
}

// decodeBody reads a JSON request body of at most h.maxBody bytes into v
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", ErrBadRequest, err)
	}
	return nil
}

// Routes mounts the JSON API on a chi router
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/parse", h.Parse)
		r.Get("/emails", h.ListEmails)
		r.Get("/email/{id}", h.GetEmail)
		r.Put("/email/{id}", h.UpdateEmail)
		r.Get("/analytics", h.Analytics)
	})

	return r
}

func requestLog(r *http.Request) *logrus.Entry {
	return logging.Log.WithField("trace_id", middleware.GetReqID(r.Context()))
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		requestLog(r).WithError(err).Error("Error encoding response")
	}
}

// writeError maps err to a status. Client side failures are 400 with the
// reason in ErrorHeader, unknown ids are a bare 404.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, store.ErrInvalidPatch),
		errors.Is(err, parser.ErrMalformedInput),
		errors.Is(err, extraction.ErrUpstream):
		requestLog(r).WithError(err).Warn("Request rejected")
		w.Header().Set(ErrorHeader, headerSafe(err.Error()))
		writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		requestLog(r).WithError(err).Error("Request failed")
		w.Header().Set(ErrorHeader, "internal error")
		writeJSON(w, r, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// headerSafe drops bytes that cannot appear in a header value
func headerSafe(s string) string {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\r' || c == '\n':
			b = append(b, ' ')
		case c < 0x20 && c != '\t', c == 0x7f:
		default:
			b = append(b, c)
		}
	}
	return string(b)
}
