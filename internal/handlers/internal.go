package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/marketplace/internal/platform/auth"
	"github.com/hanko-field/marketplace/internal/platform/httpx"
	"github.com/hanko-field/marketplace/internal/platform/requestctx"
	"github.com/hanko-field/marketplace/internal/services"
)

// InternalHandlers serves service-to-service hooks. The router guards the group with OIDC.
type InternalHandlers struct {
	orders services.OrderService
}

// NewInternalHandlers constructs the /internal endpoints.
func NewInternalHandlers(orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes wires the internal hooks onto the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stores/{storeId}:mark-deleted", h.markStoreDeleted)
}

type markStoreDeletedResponse struct {
	StoreID       string `json:"storeId"`
	OrdersUpdated int    `json:"ordersUpdated"`
}

func (h *InternalHandlers) markStoreDeleted(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	storeID := strings.TrimSpace(chi.URLParam(r, "storeId"))
	if storeID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "store id is required", http.StatusBadRequest))
		return
	}
	updated, err := h.orders.MarkStoreDeleted(ctx, storeID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	caller := ""
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc != nil {
		caller = svc.Subject
	}
	requestctx.Logger(ctx).Info("store orders flagged",
		zap.String("store_id", storeID),
		zap.Int("orders_updated", updated),
		zap.String("caller", caller),
	)
	writeJSONResponse(w, http.StatusOK, markStoreDeletedResponse{StoreID: storeID, OrdersUpdated: updated})
}
