package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ostrix/blastd/internal/campaign"
	"github.com/ostrix/blastd/internal/metrics"
	"github.com/ostrix/blastd/internal/store"
	"github.com/ostrix/blastd/internal/template"
)

// ErrorResponse is the error response
type ErrorResponse struct {
	Error      string               `json:"error"`
	Violations []template.Violation `json:"violations,omitempty"`
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// respondError maps a service error to an HTTP status. Validation failures
// carry the per-component violations so the client can show them inline.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *campaign.ValidationError
	switch {
	case errors.As(err, &verr):
		metrics.IncAPIError("validation")
		s.sendJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:      verr.Message,
			Violations: verr.Violations,
		})
	case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrStateConflict):
		metrics.IncAPIError("conflict")
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		metrics.IncAPIError("not_found")
		s.sendError(w, http.StatusNotFound, err.Error())
	default:
		metrics.IncAPIError("internal")
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.sendError(w, http.StatusInternalServerError, err.Error())
	}
}

// queryInt parses an integer query parameter, returning 0 when absent or bad
func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	if n < 0 {
		return 0
	}
	return n
}
