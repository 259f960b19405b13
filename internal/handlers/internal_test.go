package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/hanko-field/marketplace/internal/services"
)

func TestInternalHandlersMarkStoreDeleted(t *testing.T) {
	var got string
	svc := &stubOrderService{markDeletedFn: func(_ context.Context, storeID string) (int, error) {
		got = storeID
		return 3, nil
	}}
	h := mountForTest("/internal", nil, NewInternalHandlers(svc).Routes)

	rr := doRequest(t, h, http.MethodPost, "/internal/stores/store-9:mark-deleted", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got != "store-9" {
		t.Fatalf("unexpected store %q", got)
	}
	if body := decodeJSONBody(t, rr); body["ordersUpdated"] != float64(3) || body["storeId"] != "store-9" {
		t.Fatalf("unexpected payload %v", body)
	}

	svc.markDeletedFn = func(context.Context, string) (int, error) {
		return 0, services.ErrOrderInvalidInput
	}
	if rr := doRequest(t, h, http.MethodPost, "/internal/stores/store-9:mark-deleted", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
