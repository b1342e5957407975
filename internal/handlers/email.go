package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/felo/emailparser/internal/store"
)

// ListEmails returns every stored email, newest first
func (h *Handlers) ListEmails(w http.ResponseWriter, r *http.Request) {
	emails, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, emails)
}

// GetEmail returns a single email
func (h *Handlers) GetEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := emailID(w, r)
	if !ok {
		return
	}

	email, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, email)
}

// UpdateEmail merges the fields present in the body into a stored email
func (h *Handlers) UpdateEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := emailID(w, r)
	if !ok {
		return
	}

	var patch store.EmailPatch
	if err := h.decodeBody(w, r, &patch); err != nil {
		writeError(w, r, err)
		return
	}

	email, err := h.store.Merge(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}

	requestLog(r).WithField("email_id", id).Info("Email updated")
	writeJSON(w, r, http.StatusOK, email)
}

// Analytics returns counters computed over the store
func (h *Handlers) Analytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Analytics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, a)
}

func emailID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid email ID %q", ErrBadRequest, idStr))
		return 0, false
	}
	return id, true
}
