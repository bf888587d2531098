package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/adrianmcphee/canarystore"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	s.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
	})
}

// StatusFor maps an error to the HTTP status reported for it
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case canarystore.IsNotFound(err):
		return http.StatusNotFound
	case canarystore.IsDuplicateName(err), errors.Is(err, canarystore.ErrAmbiguousMatch):
		return http.StatusConflict
	case canarystore.IsBadInput(err):
		return http.StatusBadRequest
	case errors.Is(err, canarystore.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, canarystore.ErrDeserialize):
		return http.StatusInternalServerError
	case canarystore.IsUpstreamUnavailable(err):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}

	// Fatal metrics query failures carry no sentinel of their own
	var failure *canarystore.QueryFailure
	if errors.As(err, &failure) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func badRequest(reason string) error {
	return canarystore.WithContext(canarystore.ErrInvalidData, map[string]interface{}{"reason": reason})
}
