package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/marketplace/internal/platform/auth"
	"github.com/hanko-field/marketplace/internal/platform/validation"
	"github.com/hanko-field/marketplace/internal/services"
)

const defaultDisplayCurrency = "USD"

// CartHandlers exposes the authenticated shopper's cart.
type CartHandlers struct {
	authn     *auth.Authenticator
	carts     services.CartService
	validator *validation.Validator
	currency  string
}

// NewCartHandlers constructs the cart endpoints. currency is only used for display strings.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, validator *validation.Validator, currency string) *CartHandlers {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = defaultDisplayCurrency
	}
	return &CartHandlers{authn: authn, carts: carts, validator: validator, currency: currency}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleUser, auth.RoleAdmin))
	}
	r.Get("/", h.getCart)
	r.Put("/", h.setItems)
	r.Delete("/", h.deleteCart)
	r.Post("/items", h.addItem)
	r.Delete("/items/{itemId}", h.removeItem)
	r.Post("/coupon", h.applyCoupon)
	r.Delete("/coupon", h.removeCoupon)
}

type cartItemRequest struct {
	ProductID string           `json:"productId"`
	Quantity  int              `json:"quantity"`
	Variant   []variantPayload `json:"variant"`
}

func (req cartItemRequest) input() services.CartItemInput {
	return services.CartItemInput{
		ProductID: strings.TrimSpace(req.ProductID),
		Quantity:  req.Quantity,
		Variant:   parseVariant(req.Variant),
	}
}

type setCartItemsRequest struct {
	Items []cartItemRequest `json:"items"`
}

type applyCouponRequest struct {
	CouponID string `json:"couponId"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.begin(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.GetCart(r.Context(), principal.UserID)
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) setItems(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req setCartItemsRequest
	if !decodeBody(w, r, h.validator, validation.CartItems, &req) {
		return
	}
	items := make([]services.CartItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, item.input())
	}
	cart, err := h.carts.SetItems(r.Context(), services.SetCartItemsCommand{UserID: principal.UserID, Items: items})
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req cartItemRequest
	if !decodeBody(w, r, h.validator, validation.CartItem, &req) {
		return
	}
	cart, err := h.carts.AddItem(r.Context(), services.AddCartItemCommand{UserID: principal.UserID, Item: req.input()})
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.begin(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.RemoveItem(r.Context(), services.RemoveCartItemCommand{
		UserID: principal.UserID,
		ItemID: strings.TrimSpace(chi.URLParam(r, "itemId")),
	})
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req applyCouponRequest
	if !decodeBody(w, r, h.validator, validation.CartCoupon, &req) {
		return
	}
	cart, err := h.carts.ApplyCoupon(r.Context(), services.ApplyCouponCommand{UserID: principal.UserID, CouponID: req.CouponID})
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.begin(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.RemoveCoupon(r.Context(), principal.UserID)
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) deleteCart(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.begin(w, r)
	if !ok {
		return
	}
	if err := h.carts.DeleteCart(r.Context(), principal.UserID); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) begin(w http.ResponseWriter, r *http.Request) (services.Principal, bool) {
	if h.carts == nil {
		serviceUnavailable(r.Context(), w, "cart")
		return services.Principal{}, false
	}
	return principalFromRequest(w, r)
}

func (h *CartHandlers) respond(w http.ResponseWriter, r *http.Request, cart services.Cart, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart, h.currency)})
}
