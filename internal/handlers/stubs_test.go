package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/marketplace/internal/domain"
	"github.com/hanko-field/marketplace/internal/payments"
	"github.com/hanko-field/marketplace/internal/platform/auth"
	"github.com/hanko-field/marketplace/internal/platform/validation"
	"github.com/hanko-field/marketplace/internal/services"
)

var testValidator = validation.MustNew()

func withTestIdentity(identity *auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// mountForTest mounts routes under prefix behind a middleware that injects identity.
func mountForTest(prefix string, identity *auth.Identity, routes RouteRegistrar) http.Handler {
	r := chi.NewRouter()
	r.Use(withTestIdentity(identity))
	r.Route(prefix, func(group chi.Router) { routes(group) })
	return r
}

func doRequest(t *testing.T, h http.Handler, method, target string, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body, got %q: %v", rr.Body.String(), err)
	}
	return body
}

func shopper() *auth.Identity {
	return &auth.Identity{UID: "user-1", Email: "user@example.com", Role: auth.RoleUser}
}

type stubCartService struct {
	getFn          func(ctx context.Context, userID string) (services.Cart, error)
	setFn          func(ctx context.Context, cmd services.SetCartItemsCommand) (services.Cart, error)
	addFn          func(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error)
	removeFn       func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error)
	applyFn        func(ctx context.Context, cmd services.ApplyCouponCommand) (services.Cart, error)
	removeCouponFn func(ctx context.Context, userID string) (services.Cart, error)
	deleteFn       func(ctx context.Context, userID string) error
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.Cart, error) {
	if s.getFn == nil {
		return services.Cart{}, nil
	}
	return s.getFn(ctx, userID)
}

func (s *stubCartService) SetItems(ctx context.Context, cmd services.SetCartItemsCommand) (services.Cart, error) {
	if s.setFn == nil {
		return services.Cart{}, nil
	}
	return s.setFn(ctx, cmd)
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
	if s.addFn == nil {
		return services.Cart{}, nil
	}
	return s.addFn(ctx, cmd)
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	if s.removeFn == nil {
		return services.Cart{}, nil
	}
	return s.removeFn(ctx, cmd)
}

func (s *stubCartService) ApplyCoupon(ctx context.Context, cmd services.ApplyCouponCommand) (services.Cart, error) {
	if s.applyFn == nil {
		return services.Cart{}, nil
	}
	return s.applyFn(ctx, cmd)
}

func (s *stubCartService) RemoveCoupon(ctx context.Context, userID string) (services.Cart, error) {
	if s.removeCouponFn == nil {
		return services.Cart{}, nil
	}
	return s.removeCouponFn(ctx, userID)
}

func (s *stubCartService) DeleteCart(ctx context.Context, userID string) error {
	if s.deleteFn == nil {
		return nil
	}
	return s.deleteFn(ctx, userID)
}

type stubOrderService struct {
	createFn       func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	getFn          func(ctx context.Context, orderID string, actor services.Principal) (services.Order, error)
	listUserFn     func(ctx context.Context, userID string, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	listStoreFn    func(ctx context.Context, storeID string, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	updateStatusFn func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error)
	cancelFn       func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
	deleteFn       func(ctx context.Context, cmd services.DeleteOrderCommand) (services.Order, error)
	updateItemFn   func(ctx context.Context, cmd services.UpdateOrderItemCommand) (services.Order, error)
	markDeletedFn  func(ctx context.Context, storeID string) (int, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn == nil {
		return services.Order{}, nil
	}
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, actor services.Principal) (services.Order, error) {
	if s.getFn == nil {
		return services.Order{}, nil
	}
	return s.getFn(ctx, orderID, actor)
}

func (s *stubOrderService) ListUserOrders(ctx context.Context, userID string, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listUserFn == nil {
		return domain.CursorPage[services.Order]{}, nil
	}
	return s.listUserFn(ctx, userID, filter)
}

func (s *stubOrderService) ListStoreOrders(ctx context.Context, storeID string, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listStoreFn == nil {
		return domain.CursorPage[services.Order]{}, nil
	}
	return s.listStoreFn(ctx, storeID, filter)
}

func (s *stubOrderService) UpdateOrderStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.updateStatusFn == nil {
		return services.Order{}, nil
	}
	return s.updateStatusFn(ctx, cmd)
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn == nil {
		return services.Order{}, nil
	}
	return s.cancelFn(ctx, cmd)
}

func (s *stubOrderService) DeleteOrder(ctx context.Context, cmd services.DeleteOrderCommand) (services.Order, error) {
	if s.deleteFn == nil {
		return services.Order{}, nil
	}
	return s.deleteFn(ctx, cmd)
}

func (s *stubOrderService) UpdateOrderItem(ctx context.Context, cmd services.UpdateOrderItemCommand) (services.Order, error) {
	if s.updateItemFn == nil {
		return services.Order{}, nil
	}
	return s.updateItemFn(ctx, cmd)
}

func (s *stubOrderService) MarkStoreDeleted(ctx context.Context, storeID string) (int, error) {
	if s.markDeletedFn == nil {
		return 0, nil
	}
	return s.markDeletedFn(ctx, storeID)
}

type stubPaymentService struct {
	createFn       func(ctx context.Context, cmd services.CreatePaymentCommand) (services.PaymentCheckout, error)
	parseFn        func(payload []byte, signature string) (payments.Event, error)
	handleFn       func(ctx context.Context, event payments.Event) error
	updateStatusFn func(ctx context.Context, cmd services.UpdatePaymentStatusCommand) (services.Payment, error)
	getFn          func(ctx context.Context, paymentID string, actor services.Principal) (services.Payment, error)
	getSessionFn   func(ctx context.Context, sessionID string, actor services.Principal) (services.Payment, error)
	listFn         func(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[services.Payment], error)
}

func (s *stubPaymentService) CreatePayment(ctx context.Context, cmd services.CreatePaymentCommand) (services.PaymentCheckout, error) {
	if s.createFn == nil {
		return services.PaymentCheckout{}, nil
	}
	return s.createFn(ctx, cmd)
}

func (s *stubPaymentService) ParseProviderEvent(payload []byte, signature string) (payments.Event, error) {
	if s.parseFn == nil {
		return payments.Event{}, nil
	}
	return s.parseFn(payload, signature)
}

func (s *stubPaymentService) HandleProviderEvent(ctx context.Context, event payments.Event) error {
	if s.handleFn == nil {
		return nil
	}
	return s.handleFn(ctx, event)
}

func (s *stubPaymentService) UpdatePaymentStatus(ctx context.Context, cmd services.UpdatePaymentStatusCommand) (services.Payment, error) {
	if s.updateStatusFn == nil {
		return services.Payment{}, nil
	}
	return s.updateStatusFn(ctx, cmd)
}

func (s *stubPaymentService) GetPayment(ctx context.Context, paymentID string, actor services.Principal) (services.Payment, error) {
	if s.getFn == nil {
		return services.Payment{}, nil
	}
	return s.getFn(ctx, paymentID, actor)
}

func (s *stubPaymentService) GetPaymentBySession(ctx context.Context, sessionID string, actor services.Principal) (services.Payment, error) {
	if s.getSessionFn == nil {
		return services.Payment{}, nil
	}
	return s.getSessionFn(ctx, sessionID, actor)
}

func (s *stubPaymentService) ListUserPayments(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[services.Payment], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.Payment]{}, nil
	}
	return s.listFn(ctx, userID, pager)
}
