package controllers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/slhuckstead/accountmap/internal/domains"
)

const retryAfterSeconds = "5"

var statusByKind = map[domains.Kind]int{
	domains.KindUnauthenticated:       http.StatusUnauthorized,
	domains.KindUnauthorized:          http.StatusForbidden,
	domains.KindValidationFailed:      http.StatusBadRequest,
	domains.KindConflict:              http.StatusConflict,
	domains.KindNotFound:              http.StatusNotFound,
	domains.KindPayloadTooLarge:       http.StatusRequestEntityTooLarge,
	domains.KindRateLimited:           http.StatusTooManyRequests,
	domains.KindConfigurationError:    http.StatusInternalServerError,
	domains.KindDependencyUnavailable: http.StatusServiceUnavailable,
	domains.KindTimeout:               http.StatusGatewayTimeout,
	domains.KindInternal:              http.StatusInternalServerError,
}

func statusFor(kind domains.Kind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes err as an ErrorResponse. Causes are logged, never sent.
// A cancelled request gets no response at all.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	de := domains.As(err)
	requestID := RequestIDFrom(r.Context())

	if de.Kind == domains.KindCancelled {
		log.Printf("[http] %s %s cancelled by client (request %s)", r.Method, r.URL.Path, requestID)
		return
	}

	status := statusFor(de.Kind)
	if status >= http.StatusInternalServerError && de.Cause != nil {
		log.Printf("[http] %s %s failed (request %s): %v", r.Method, r.URL.Path, requestID, de.Cause)
	}
	if de.Kind == domains.KindRateLimited {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}

	respondJSON(w, status, domains.ErrorResponse{
		Error:     string(de.Kind),
		Message:   de.Message,
		Field:     de.Field,
		RequestID: requestID,
	})
}
