package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/marketplace/internal/platform/auth"
	"github.com/hanko-field/marketplace/internal/platform/validation"
	"github.com/hanko-field/marketplace/internal/services"
)

const (
	idempotencyHeader        = "Idempotency-Key"
	defaultCheckoutRateLimit = 10
	defaultCheckoutWindow    = time.Minute
)

// PaymentHandlers exposes payment creation and lookups for the shopper.
type PaymentHandlers struct {
	authn       *auth.Authenticator
	payments    services.PaymentService
	validator   *validation.Validator
	idempotency func(http.Handler) http.Handler
	limiter     rateLimiter
}

// PaymentOption customises the payment handlers.
type PaymentOption func(*PaymentHandlers)

// WithPaymentIdempotency guards payment creation with the given idempotency middleware.
func WithPaymentIdempotency(mw func(http.Handler) http.Handler) PaymentOption {
	return func(h *PaymentHandlers) { h.idempotency = mw }
}

// WithCheckoutRateLimit caps payment creation per caller. A non-positive limit disables throttling.
func WithCheckoutRateLimit(limit int, window time.Duration, clock func() time.Time) PaymentOption {
	return func(h *PaymentHandlers) { h.limiter = newFixedWindowLimiter(limit, window, clock) }
}

// NewPaymentHandlers constructs the /payments endpoints.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService, validator *validation.Validator, opts ...PaymentOption) *PaymentHandlers {
	h := &PaymentHandlers{
		authn:     authn,
		payments:  payments,
		validator: validator,
		limiter:   newFixedWindowLimiter(defaultCheckoutRateLimit, defaultCheckoutWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /payments endpoints onto the provided router.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleUser, auth.RoleAdmin))
	}
	create := http.Handler(http.HandlerFunc(h.createPayment))
	if h.idempotency != nil {
		create = h.idempotency(create)
	}
	r.With(throttleByCaller(h.limiter)).Method(http.MethodPost, "/", create)
	r.Get("/", h.listPayments)
	r.Get("/{paymentId}", h.getPayment)
	r.Get("/session/{sessionId}", h.getPaymentBySession)
}

type createPaymentRequest struct {
	OrderID string `json:"orderId"`
	Method  string `json:"method"`
}

func (h *PaymentHandlers) createPayment(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req createPaymentRequest
	if !decodeBody(w, r, h.validator, validation.PaymentCreate, &req) {
		return
	}
	email := ""
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		email = identity.Email
	}

	checkout, err := h.payments.CreatePayment(r.Context(), services.CreatePaymentCommand{
		OrderID:        strings.TrimSpace(req.OrderID),
		UserID:         principal.UserID,
		Method:         req.Method,
		CustomerEmail:  email,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyHeader)),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	resp := paymentResponse{
		Payment:     buildPaymentPayload(checkout.Payment),
		RedirectURL: checkout.RedirectURL,
		ExpiresAt:   formatTimePtr(checkout.ExpiresAt),
	}
	writeJSONResponse(w, http.StatusCreated, resp)
}

func (h *PaymentHandlers) listPayments(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.begin(w, r)
	if !ok {
		return
	}
	pager, ok := parsePagination(w, r)
	if !ok {
		return
	}
	page, err := h.payments.ListUserPayments(r.Context(), principal.UserID, pager)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	items := make([]paymentPayload, 0, len(page.Items))
	for _, payment := range page.Items {
		items = append(items, buildPaymentPayload(payment))
	}
	writeJSONResponse(w, http.StatusOK, paymentListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *PaymentHandlers) getPayment(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.begin(w, r)
	if !ok {
		return
	}
	payment, err := h.payments.GetPayment(r.Context(), strings.TrimSpace(chi.URLParam(r, "paymentId")), principal)
	h.respond(w, r, payment, err)
}

func (h *PaymentHandlers) getPaymentBySession(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.begin(w, r)
	if !ok {
		return
	}
	payment, err := h.payments.GetPaymentBySession(r.Context(), strings.TrimSpace(chi.URLParam(r, "sessionId")), principal)
	h.respond(w, r, payment, err)
}

func (h *PaymentHandlers) begin(w http.ResponseWriter, r *http.Request) (services.Principal, bool) {
	if h.payments == nil {
		serviceUnavailable(r.Context(), w, "payment")
		return services.Principal{}, false
	}
	return principalFromRequest(w, r)
}

func (h *PaymentHandlers) respond(w http.ResponseWriter, r *http.Request, payment services.Payment, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}
