package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/marketplace/internal/platform/requestctx"
)

const (
	codeLimit      = 80
	messageLimit   = 512
	requestIDLimit = 80
	traceIDLimit   = 64
)

// reserved envelope keys that details may not overwrite.
var reservedKeys = map[string]struct{}{
	"error": {}, "message": {}, "status": {}, "request_id": {}, "trace_id": {},
}

// Error is the JSON error envelope every endpoint answers failures with:
//
//	{"error": "<code>", "message": "...", "status": 409, "request_id": "...", "trace_id": "..."}
//
// Details are merged at the top level next to the fixed keys.
type Error struct {
	Code       string
	Message    string
	Status     int
	RequestID  string
	TraceID    string
	RetryAfter time.Duration
	Details    map[string]any
}

// NewError builds an envelope. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clip(code, codeLimit),
		Message: clip(message, messageLimit),
		Status:  status,
	}
}

func (e Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// WithRequestID pins the request id instead of reading it from the chi context.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = clip(id, requestIDLimit)
	return e
}

// WithTraceID pins the trace id instead of reading it from requestctx.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = clip(id, traceIDLimit)
	return e
}

// WithRetryAfter emits a Retry-After header rounded up to whole seconds.
func (e Error) WithRetryAfter(d time.Duration) Error {
	e.RetryAfter = d
	return e
}

// WithDetails merges extra keys into the envelope. Reserved keys are ignored.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		merged[k] = v
	}
	e.Details = merged
	return e
}

func (e Error) body(ctx context.Context) map[string]any {
	status := e.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	out := make(map[string]any, len(e.Details)+5)
	for k, v := range e.Details {
		out[k] = v
	}
	out["error"] = e.Code
	out["message"] = e.Message
	out["status"] = status

	if id := firstNonEmpty(e.RequestID, clip(middleware.GetReqID(ctx), requestIDLimit)); id != "" {
		out["request_id"] = id
	}
	if id := firstNonEmpty(e.TraceID, clip(requestctx.TraceID(ctx), traceIDLimit)); id != "" {
		out["trace_id"] = id
	}
	return out
}

// WriteError renders err as JSON, stamping request and trace ids from ctx when unset.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	header := w.Header()
	header.Set("Content-Type", "application/json")
	if err.RetryAfter > 0 {
		header.Set("Retry-After", strconv.Itoa(retrySeconds(err.RetryAfter)))
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err.body(ctx))
}

func retrySeconds(d time.Duration) int {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// clip flattens newlines and bounds the value so client-supplied text cannot split log lines.
func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
