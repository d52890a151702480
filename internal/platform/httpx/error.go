package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/atelier-sucre/api/internal/platform/requestctx"
)

const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxTraceLen   = 64
)

// Error is the JSON error envelope every endpoint returns on failure.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError builds an Error from code, message and HTTP status.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clip(code, maxCodeLen),
		Message: clip(message, maxMessageLen),
		Status:  status,
	}
}

// WithRequestID stamps the request identifier onto the payload.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = clip(id, maxCodeLen)
	return e
}

// WithTraceID stamps the trace identifier onto the payload.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = clip(id, maxTraceLen)
	return e
}

// WithDetails adds JSON-serialisable metadata to the payload.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	e.Details = make(map[string]any, len(details))
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// payload flattens the error into the wire envelope. Request and trace ids
// fall back to the values carried on the context.
func (e Error) payload(ctx context.Context) (int, map[string]any) {
	status := e.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	body := map[string]any{
		"error":   e.Code,
		"message": e.Message,
		"status":  status,
	}

	requestID := e.RequestID
	if requestID == "" {
		requestID = clip(middleware.GetReqID(ctx), maxCodeLen)
	}
	if requestID != "" {
		body["request_id"] = requestID
	}

	traceID := e.TraceID
	if traceID == "" {
		traceID = clip(requestctx.TraceID(ctx), maxTraceLen)
	}
	if traceID != "" {
		body["trace_id"] = traceID
	}

	for k, v := range e.Details {
		body[k] = v
	}
	return status, body
}

// WriteError renders the error envelope as JSON on the response.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status, body := err.payload(ctx)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// clip folds newlines to spaces and truncates, keeping log-safe single-line values.
func clip(value string, limit int) string {
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
