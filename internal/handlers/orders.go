package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/marketplace/internal/domain"
	"github.com/hanko-field/marketplace/internal/platform/auth"
	"github.com/hanko-field/marketplace/internal/platform/httpx"
	"github.com/hanko-field/marketplace/internal/platform/textutil"
	"github.com/hanko-field/marketplace/internal/platform/validation"
	"github.com/hanko-field/marketplace/internal/services"
)

const (
	maxStreetLength     = 200
	maxCityLength       = 100
	maxPostalCodeLength = 20
	maxCountryLength    = 56
)

// OrderHandlers exposes checkout and the shopper's order history.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	validator   *validation.Validator
	idempotency func(http.Handler) http.Handler
}

// OrderOption customises the order handlers.
type OrderOption func(*OrderHandlers)

// WithOrderIdempotency guards order creation with the given idempotency middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderOption {
	return func(h *OrderHandlers) { h.idempotency = mw }
}

// NewOrderHandlers constructs the /orders endpoints.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, validator *validation.Validator, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders, validator: validator}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleUser, auth.RoleAdmin))
	}
	create := http.Handler(http.HandlerFunc(h.createOrder))
	if h.idempotency != nil {
		create = h.idempotency(create)
	}
	r.Method(http.MethodPost, "/", create)
	r.Get("/", h.listOrders)
	r.Get("/{orderId}", h.getOrder)
	r.Post("/{orderId}:cancel", h.cancelOrder)
}

type createOrderRequest struct {
	PaymentMethod   string          `json:"paymentMethod"`
	ShippingAddress *addressPayload `json:"shippingAddress"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.begin(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req createOrderRequest
	body, err := readLimitedBody(r, defaultBodyLimit)
	switch {
	case errors.Is(err, errEmptyBody):
	case err != nil:
		writeBodyError(ctx, w, err)
		return
	default:
		if !decodeJSON(w, r, h.validator, validation.OrderCreate, body, &req) {
			return
		}
	}

	method, ok := domain.ParsePaymentMethod(req.PaymentMethod)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unsupported payment method", http.StatusBadRequest))
		return
	}
	cmd := services.CreateOrderCommand{UserID: principal.UserID, PaymentMethod: method}
	if req.ShippingAddress != nil {
		cmd.ShippingAddress = sanitizeAddress(*req.ShippingAddress)
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.begin(w, r)
	if !ok {
		return
	}
	filter, ok := parseOrderListFilter(w, r)
	if !ok {
		return
	}
	page, err := h.orders.ListUserOrders(r.Context(), principal.UserID, filter)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(page.Items, page.NextPageToken))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.begin(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), strings.TrimSpace(chi.URLParam(r, "orderId")), principal)
	respondOrder(w, r, order, err)
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.begin(w, r)
	if !ok {
		return
	}
	order, err := h.orders.CancelOrder(r.Context(), services.CancelOrderCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderId")),
		UserID:  principal.UserID,
	})
	respondOrder(w, r, order, err)
}

func (h *OrderHandlers) begin(w http.ResponseWriter, r *http.Request) (services.Principal, bool) {
	if h.orders == nil {
		serviceUnavailable(r.Context(), w, "order")
		return services.Principal{}, false
	}
	return principalFromRequest(w, r)
}

// parseOrderListFilter reads pagination plus a comma separated status filter.
func parseOrderListFilter(w http.ResponseWriter, r *http.Request) (services.OrderListFilter, bool) {
	pager, ok := parsePagination(w, r)
	if !ok {
		return services.OrderListFilter{}, false
	}
	filter := services.OrderListFilter{Pagination: pager}
	for _, raw := range r.URL.Query()["status"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := domain.ParseOrderStatus(part)
			if !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_status", "unknown order status "+strings.TrimSpace(part), http.StatusBadRequest))
				return services.OrderListFilter{}, false
			}
			filter.Status = append(filter.Status, status)
		}
	}
	return filter, true
}

func sanitizeAddress(in addressPayload) *services.Address {
	return &services.Address{
		Street:     textutil.Sanitize(in.Street, maxStreetLength),
		City:       textutil.Sanitize(in.City, maxCityLength),
		PostalCode: textutil.Sanitize(in.PostalCode, maxPostalCodeLength),
		Country:    textutil.Sanitize(in.Country, maxCountryLength),
	}
}
