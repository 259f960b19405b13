package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/hanko-field/marketplace/internal/domain"
	"github.com/hanko-field/marketplace/internal/platform/auth"
	"github.com/hanko-field/marketplace/internal/platform/httpx"
	"github.com/hanko-field/marketplace/internal/platform/pagination"
	"github.com/hanko-field/marketplace/internal/platform/requestctx"
	"github.com/hanko-field/marketplace/internal/platform/validation"
	"github.com/hanko-field/marketplace/internal/services"
)

const defaultBodyLimit = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body exceeds allowed size")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeBody reads the request body, checks it against the named schema and unmarshals it into dst.
// It writes the error response itself and reports whether the handler should continue.
func decodeBody(w http.ResponseWriter, r *http.Request, validator *validation.Validator, schema string, dst any) bool {
	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(r.Context(), w, err)
		return false
	}
	return decodeJSON(w, r, validator, schema, body, dst)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, validator *validation.Validator, schema string, body []byte, dst any) bool {
	if validator != nil {
		if err := validator.Validate(schema, body); err != nil {
			writeValidationError(r.Context(), w, err)
			return false
		}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeValidationError(ctx context.Context, w http.ResponseWriter, err error) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body failed validation", http.StatusBadRequest).
			WithDetails(map[string]any{"fields": verr.Fields}))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "request validation unavailable", http.StatusInternalServerError))
}

// writeServiceError maps the service error taxonomy onto HTTP statuses. Client-caused failures echo
// the error message; server-side failures are logged and replaced with a generic message.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	kind := services.KindOf(err)
	status := statusForKind(kind)
	message := err.Error()
	if services.SeverityOf(kind) == services.SeverityError {
		fields := []zap.Field{zap.Error(err), zap.String("kind", string(kind))}
		if key := requestctx.IdempotencyKey(ctx); key != "" {
			fields = append(fields, zap.String("idempotency_key", key))
		}
		requestctx.Logger(ctx).Error("request failed", fields...)
		message = "the request could not be completed"
	}
	httpx.WriteError(ctx, w, httpx.NewError(string(kind), message, status))
}

func statusForKind(kind services.ErrorKind) int {
	switch kind {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindBadRequest:
		return http.StatusBadRequest
	case services.KindInvalidSelection:
		return http.StatusUnprocessableEntity
	case services.KindInsufficientStock, services.KindConflict:
		return http.StatusConflict
	case services.KindForbidden:
		return http.StatusForbidden
	case services.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// principalFromRequest returns the authenticated caller or writes a 401.
func principalFromRequest(w http.ResponseWriter, r *http.Request) (services.Principal, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Principal{}, false
	}
	return identity.Principal(), true
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service is unavailable", http.StatusServiceUnavailable))
}

func parsePagination(w http.ResponseWriter, r *http.Request) (domain.Pagination, bool) {
	params, err := pagination.Parse(r.URL.Query())
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return domain.Pagination{}, false
	}
	return domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}, true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
