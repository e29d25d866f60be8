package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/checkout/internal/platform/requestctx"
	"github.com/hanko-field/checkout/internal/services"
)

// Error represents the canonical JSON error envelope returned by the API.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError constructs a new Error with the provided parameters.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, 80),
		Message: sanitize(message, 512),
		Status:  status,
	}
}

// WithRequestID sets the request identifier on the error payload.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = sanitize(id, 80)
	return e
}

// WithTraceID sets the trace identifier on the error payload.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = sanitize(id, 64)
	return e
}

// WithDetails attaches additional JSON-serialisable metadata.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	copyDetails := make(map[string]any, len(details))
	for k, v := range details {
		copyDetails[k] = v
	}
	e.Details = copyDetails
	return e
}

// WriteError writes the structured error as JSON to the provided response writer.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	requestID := err.RequestID
	if requestID == "" {
		requestID = sanitize(middleware.GetReqID(ctx), 80)
	}

	traceID := err.TraceID
	if traceID == "" {
		traceID = sanitize(requestctx.TraceID(ctx), 64)
	}

	payload := map[string]any{
		"error":   err.Code,
		"message": err.Message,
		"status":  status,
	}

	if requestID != "" {
		payload["request_id"] = requestID
	}
	if traceID != "" {
		payload["trace_id"] = traceID
	}
	for k, v := range err.Details {
		payload[k] = v
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var kindStatus = map[services.Kind]int{
	services.KindInvalidArgument:    http.StatusBadRequest,
	services.KindNotFound:           http.StatusNotFound,
	services.KindUnauthenticated:    http.StatusUnauthorized,
	services.KindForbidden:          http.StatusForbidden,
	services.KindConflict:           http.StatusConflict,
	services.KindLimitExceeded:      http.StatusUnprocessableEntity,
	services.KindExpired:            http.StatusUnprocessableEntity,
	services.KindGatewayUnreachable: http.StatusServiceUnavailable,
	services.KindGatewayRejected:    http.StatusPaymentRequired,
	services.KindNotConfigured:      http.StatusServiceUnavailable,
	services.KindInternal:           http.StatusInternalServerError,
}

// StatusForKind maps a service error kind onto an HTTP status.
func StatusForKind(kind services.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// FromServiceError converts a service error into the envelope. Internal failures never leak the
// underlying message.
func FromServiceError(err error) Error {
	kind := services.KindOf(err)
	status := StatusForKind(kind)
	message := "internal server error"
	if kind != services.KindInternal && err != nil {
		message = err.Error()
	}
	return NewError(kind.String(), message, status)
}

// WriteServiceError classifies err and writes it.
func WriteServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	WriteError(ctx, w, FromServiceError(err))
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func sanitize(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
