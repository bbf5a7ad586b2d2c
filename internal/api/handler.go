// Package api provides HTTP handlers for the quote response workspace.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/quoteworks/internal/domain"
	"github.com/ashureev/quoteworks/internal/marketplace"
	"github.com/ashureev/quoteworks/internal/workspace"
)

// maxBodyBytes caps request bodies; every payload here is a short form field.
const maxBodyBytes = 64 << 10

// Handler provides common handler utilities.
type Handler struct {
	mgr    *workspace.Manager
	names  *marketplace.ManufacturerNames
	logger *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(mgr *workspace.Manager, names *marketplace.ManufacturerNames, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{mgr: mgr, names: names, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errorBody is the JSON shape of a failed request.
type errorBody struct {
	Error  string                  `json:"error"`
	Reason domain.ValidationReason `json:"reason,omitempty"`
	Item   string                  `json:"item_key,omitempty"`
}

// StatusFor maps an error class to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsPermissionDenied(err):
		return http.StatusForbidden
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsFailedPrecondition(err), errdefs.IsConflict(err):
		return http.StatusConflict
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with its mapped status. Validation errors carry their reason.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	body := errorBody{Error: err.Error()}
	if ve, ok := domain.IsValidationError(err); ok {
		body.Reason = ve.Reason
		body.Item = ve.ItemKey
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	JSON(w, status, body)
}

// decode reads a JSON body into v.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

func int64Param(r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func quoteIDParam(r *http.Request) (domain.QuoteID, bool) {
	id, ok := int64Param(r, "quoteID")
	return domain.QuoteID(id), ok
}
