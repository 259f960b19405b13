package handlers

import (
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/marketplace/internal/platform/auth"
	"github.com/hanko-field/marketplace/internal/platform/httpx"
	"github.com/hanko-field/marketplace/internal/platform/storage"
	"github.com/hanko-field/marketplace/internal/platform/textutil"
	"github.com/hanko-field/marketplace/internal/platform/validation"
	"github.com/hanko-field/marketplace/internal/services"
)

const (
	maxItemNameLength   = 200
	maxMultipartMemory  = 1 << 20
	maxMultipartRequest = 6 << 20
	itemImageField      = "image"
)

// AdminHandlers exposes staff operations on orders and payments. Vendors are limited to orders that
// contain their store's items.
type AdminHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	payments  services.PaymentService
	validator *validation.Validator
}

// NewAdminHandlers constructs the /admin endpoints.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService, validator *validation.Validator) *AdminHandlers {
	return &AdminHandlers{authn: authn, orders: orders, payments: payments, validator: validator}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleVendor))
	}
	r.Put("/orders/{orderId}/status", h.updateOrderStatus)
	r.Delete("/orders/{orderId}", h.deleteOrder)
	r.Patch("/orders/{orderId}/items/{itemId}", h.updateOrderItem)
	r.Get("/stores/{storeId}/orders", h.listStoreOrders)
	r.Put("/payments/{paymentId}/status", h.updatePaymentStatus)
}

type statusUpdateRequest struct {
	Status string `json:"status"`
}

type orderItemUpdateRequest struct {
	Quantity *int    `json:"quantity"`
	Name     *string `json:"name"`
}

func (h *AdminHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.beginOrders(w, r)
	if !ok {
		return
	}
	var req statusUpdateRequest
	if !decodeBody(w, r, h.validator, validation.StatusUpdate, &req) {
		return
	}
	order, err := h.orders.UpdateOrderStatus(r.Context(), services.UpdateOrderStatusCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderId")),
		Status:  req.Status,
		Actor:   actor,
	})
	respondOrder(w, r, order, err)
}

func (h *AdminHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.beginOrders(w, r)
	if !ok {
		return
	}
	order, err := h.orders.DeleteOrder(r.Context(), services.DeleteOrderCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderId")),
		Actor:   actor,
	})
	respondOrder(w, r, order, err)
}

// updateOrderItem accepts either a JSON body or a multipart form carrying quantity, name and an image file.
func (h *AdminHandlers) updateOrderItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.beginOrders(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	cmd := services.UpdateOrderItemCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderId")),
		ItemID:  strings.TrimSpace(chi.URLParam(r, "itemId")),
		Actor:   actor,
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxMultipartRequest)
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeBodyError(ctx, w, errBodyTooLarge)
				return
			}
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid multipart form", http.StatusBadRequest))
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		if raw := strings.TrimSpace(r.FormValue("quantity")); raw != "" {
			quantity, err := strconv.Atoi(raw)
			if err != nil || quantity < 1 {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity must be a positive integer", http.StatusBadRequest))
				return
			}
			cmd.Quantity = &quantity
		}
		if _, present := r.MultipartForm.Value["name"]; present {
			name := textutil.Sanitize(r.FormValue("name"), maxItemNameLength)
			cmd.Name = &name
		}
		if file, header, err := r.FormFile(itemImageField); err == nil {
			defer file.Close()
			cmd.Image = &services.ImageUpload{
				FileName:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Size:        header.Size,
				Content:     file,
			}
		} else if !errors.Is(err, http.ErrMissingFile) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read image upload", http.StatusBadRequest))
			return
		}
	} else {
		var req orderItemUpdateRequest
		if !decodeBody(w, r, h.validator, validation.OrderItemUpdate, &req) {
			return
		}
		cmd.Quantity = req.Quantity
		if req.Name != nil {
			name := textutil.Sanitize(*req.Name, maxItemNameLength)
			cmd.Name = &name
		}
	}

	order, err := h.orders.UpdateOrderItem(ctx, cmd)
	switch {
	case errors.Is(err, storage.ErrUploadTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "image exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, storage.ErrContentTypeDenied):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_media_type", "image content type not allowed", http.StatusUnsupportedMediaType))
	default:
		respondOrder(w, r, order, err)
	}
}

func (h *AdminHandlers) listStoreOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.beginOrders(w, r)
	if !ok {
		return
	}
	storeID := strings.TrimSpace(chi.URLParam(r, "storeId"))
	if actor.Role == services.RoleVendor && actor.StoreID != storeID {
		httpx.WriteError(r.Context(), w, httpx.NewError(string(services.KindForbidden), "vendors may only list their own store's orders", http.StatusForbidden))
		return
	}
	filter, ok := parseOrderListFilter(w, r)
	if !ok {
		return
	}
	page, err := h.orders.ListStoreOrders(r.Context(), storeID, filter)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(page.Items, page.NextPageToken))
}

func (h *AdminHandlers) updatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		serviceUnavailable(r.Context(), w, "payment")
		return
	}
	actor, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	var req statusUpdateRequest
	if !decodeBody(w, r, h.validator, validation.StatusUpdate, &req) {
		return
	}
	payment, err := h.payments.UpdatePaymentStatus(r.Context(), services.UpdatePaymentStatusCommand{
		PaymentID: strings.TrimSpace(chi.URLParam(r, "paymentId")),
		Status:    req.Status,
		Actor:     actor,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}

func (h *AdminHandlers) beginOrders(w http.ResponseWriter, r *http.Request) (services.Principal, bool) {
	if h.orders == nil {
		serviceUnavailable(r.Context(), w, "order")
		return services.Principal{}, false
	}
	return principalFromRequest(w, r)
}

func respondOrder(w http.ResponseWriter, r *http.Request, order services.Order, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
