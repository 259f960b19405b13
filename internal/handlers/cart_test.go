package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/hanko-field/marketplace/internal/services"
)

func sampleCart() services.Cart {
	return services.Cart{
		ID:     "user-1",
		UserID: "user-1",
		Items: []services.CartItem{{
			ID:        "ci_1",
			ProductID: "prod-1",
			Quantity:  2,
			Price:     1250,
			Variant:   services.VariantSelection{{Name: "color", Value: "red"}},
		}},
		CouponID:           "c1",
		Total:              2500,
		Discount:           250,
		TotalAfterDiscount: 2250,
	}
}

func TestCartHandlersGetCart(t *testing.T) {
	svc := &stubCartService{getFn: func(_ context.Context, userID string) (services.Cart, error) {
		if userID != "user-1" {
			t.Fatalf("unexpected user %q", userID)
		}
		return sampleCart(), nil
	}}
	h := mountForTest("/cart", shopper(), NewCartHandlers(nil, svc, testValidator, "usd").Routes)

	rr := doRequest(t, h, http.MethodGet, "/cart", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	cart := decodeJSONBody(t, rr)["cart"].(map[string]any)
	if cart["totalAfterDiscount"] != float64(2250) {
		t.Fatalf("unexpected total %v", cart["totalAfterDiscount"])
	}
	if cart["display"] != "$22.50" || cart["currency"] != "USD" {
		t.Fatalf("unexpected display %v %v", cart["display"], cart["currency"])
	}
	items := cart["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["lineTotal"] != float64(2500) {
		t.Fatalf("unexpected items %v", items)
	}
}

func TestCartHandlersSetItems(t *testing.T) {
	var got services.SetCartItemsCommand
	svc := &stubCartService{setFn: func(_ context.Context, cmd services.SetCartItemsCommand) (services.Cart, error) {
		got = cmd
		return sampleCart(), nil
	}}
	h := mountForTest("/cart", shopper(), NewCartHandlers(nil, svc, testValidator, "").Routes)

	rr := doRequest(t, h, http.MethodPut, "/cart", `{"items":[{"productId":" prod-1 ","quantity":2,"variant":[{"name":"color","value":"red"}]}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.UserID != "user-1" || len(got.Items) != 1 {
		t.Fatalf("unexpected command %+v", got)
	}
	item := got.Items[0]
	if item.ProductID != "prod-1" || item.Quantity != 2 || len(item.Variant) != 1 || item.Variant[0].Value != "red" {
		t.Fatalf("unexpected item %+v", item)
	}
}

func TestCartHandlersRejectsInvalidBodies(t *testing.T) {
	called := false
	svc := &stubCartService{addFn: func(context.Context, services.AddCartItemCommand) (services.Cart, error) {
		called = true
		return services.Cart{}, nil
	}}
	h := mountForTest("/cart", shopper(), NewCartHandlers(nil, svc, testValidator, "").Routes)

	cases := map[string]struct {
		body   string
		status int
	}{
		"zero quantity":  {`{"productId":"p","quantity":0}`, http.StatusBadRequest},
		"missing field":  {`{"quantity":1}`, http.StatusBadRequest},
		"malformed json": {`{"productId":`, http.StatusBadRequest},
		"empty body":     {"", http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := doRequest(t, h, http.MethodPost, "/cart/items", tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
	if called {
		t.Fatalf("service must not be called for invalid bodies")
	}
}

func TestCartHandlersMapsServiceErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: color=blue", services.ErrInvalidSelection), http.StatusUnprocessableEntity, "invalid_selection"},
		{services.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
		{services.ErrCartProductAbsent, http.StatusNotFound, "not_found"},
		{services.ErrCouponExpired, http.StatusBadRequest, "bad_request"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		svc := &stubCartService{addFn: func(context.Context, services.AddCartItemCommand) (services.Cart, error) {
			return services.Cart{}, tc.err
		}}
		h := mountForTest("/cart", shopper(), NewCartHandlers(nil, svc, testValidator, "").Routes)
		rr := doRequest(t, h, http.MethodPost, "/cart/items", `{"productId":"p","quantity":1}`)
		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rr.Code)
		}
		body := decodeJSONBody(t, rr)
		if body["error"] != tc.code {
			t.Fatalf("%v: expected code %s, got %v", tc.err, tc.code, body["error"])
		}
		if tc.code == "internal" && body["message"] == "boom" {
			t.Fatalf("internal error details must not leak")
		}
	}
}

func TestCartHandlersCouponAndItemRoutes(t *testing.T) {
	var (
		couponID string
		removed  string
		cleared  bool
		deleted  bool
	)
	svc := &stubCartService{
		applyFn: func(_ context.Context, cmd services.ApplyCouponCommand) (services.Cart, error) {
			couponID = cmd.CouponID
			return sampleCart(), nil
		},
		removeFn: func(_ context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
			removed = cmd.ItemID
			return services.Cart{}, nil
		},
		removeCouponFn: func(context.Context, string) (services.Cart, error) {
			cleared = true
			return services.Cart{}, nil
		},
		deleteFn: func(context.Context, string) error {
			deleted = true
			return nil
		},
	}
	h := mountForTest("/cart", shopper(), NewCartHandlers(nil, svc, testValidator, "").Routes)

	if rr := doRequest(t, h, http.MethodPost, "/cart/coupon", `{"couponId":"SPRING"}`); rr.Code != http.StatusOK {
		t.Fatalf("apply coupon: %d %s", rr.Code, rr.Body.String())
	}
	if rr := doRequest(t, h, http.MethodDelete, "/cart/items/ci_9", ""); rr.Code != http.StatusOK {
		t.Fatalf("remove item: %d", rr.Code)
	}
	if rr := doRequest(t, h, http.MethodDelete, "/cart/coupon", ""); rr.Code != http.StatusOK {
		t.Fatalf("remove coupon: %d", rr.Code)
	}
	if rr := doRequest(t, h, http.MethodDelete, "/cart", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete cart: %d", rr.Code)
	}
	if couponID != "SPRING" || removed != "ci_9" || !cleared || !deleted {
		t.Fatalf("unexpected calls coupon=%q removed=%q cleared=%v deleted=%v", couponID, removed, cleared, deleted)
	}
}

func TestCartHandlersRequireIdentity(t *testing.T) {
	h := mountForTest("/cart", nil, NewCartHandlers(nil, &stubCartService{}, testValidator, "").Routes)
	rr := doRequest(t, h, http.MethodGet, "/cart", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	h = mountForTest("/cart", shopper(), NewCartHandlers(nil, nil, testValidator, "").Routes)
	rr = doRequest(t, h, http.MethodGet, "/cart", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
