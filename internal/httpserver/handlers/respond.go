package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cyb3rgh05t/komandorr/internal/domain"
	"github.com/cyb3rgh05t/komandorr/internal/httpserver/deps"
	"github.com/cyb3rgh05t/komandorr/internal/logger"
)

// maxBodyBytes bounds request bodies; storage pushes from large hosts are the biggest.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrServiceNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrServiceDisabled):
		return http.StatusConflict
	}
	switch domain.CodeOf(err) {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeFetch, domain.CodeStore:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, d deps.Deps, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		d.Logger.Error("request failed",
			logger.String("path", r.URL.Path),
			logger.Int("status", status),
			logger.Error(err))
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: string(domain.CodeOf(err))})
}

// decodeJSON reads a single JSON object into v. Unknown fields are ignored
// so agents can be newer than the server.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.Invalid("malformed body: %v", err)
	}
	return nil
}

// limitParam parses ?limit=, defaulting and capping to max.
func limitParam(r *http.Request, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return max, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, domain.Invalid("limit must be a positive integer, got %q", raw)
	}
	if n > max {
		n = max
	}
	return n, nil
}

// tail returns the last n samples.
func tail(s []domain.Sample, n int) []domain.Sample {
	if n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}
