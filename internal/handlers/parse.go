package handlers

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/felo/emailparser/internal/parser"
)

// ParseRequest is the body of POST /api/parse. Body holds base64 when
// FileType is "msg".
type ParseRequest struct {
	Body     string `json:"body"`
	FileType string `json:"fileType"`
}

// Parse runs a raw email through extraction and returns the stored Email
func (h *Handlers) Parse(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	format, err := parser.ParseFormat(req.FileType)
	if err != nil {
		writeError(w, r, err)
		return
	}

	payload, err := decodePayload(req.Body, format)
	if err != nil {
		writeError(w, r, err)
		return
	}

	email, err := h.svc.Parse(r.Context(), payload, format)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, email)
}

func decodePayload(body string, format parser.Format) ([]byte, error) {
	if format != parser.FormatMSG {
		return []byte(body), nil
	}
	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(body))
	if err != nil {
		return nil, fmt.Errorf("%w: msg content is not valid base64: %v", parser.ErrMalformedInput, err)
	}
	return payload, nil
}
