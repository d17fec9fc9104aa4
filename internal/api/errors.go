package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dunamismax/cropflow/internal/errs"
)

// statusFor maps an error kind to the HTTP status returned to clients.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}

	switch errs.KindOf(err) {
	case errs.KindInvalidInput:
		return http.StatusBadRequest
	case errs.KindDecode:
		return http.StatusUnprocessableEntity
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindQuota:
		return http.StatusInsufficientStorage
	case errs.KindNetwork:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError answers with the mapped status. Only unclassified failures are
// logged here; the pipeline logs its own.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := map[string]string{"error": err.Error()}
	if kind := errs.KindOf(err); kind != "" {
		body["kind"] = string(kind)
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}
