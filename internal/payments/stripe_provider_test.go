package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type fakeSessions struct {
	lastNew   *stripe.CheckoutSessionParams
	expiredID string
	session   *stripe.CheckoutSession
	newErr    error
	expireErr error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.lastNew = params
	if f.newErr != nil {
		return nil, f.newErr
	}
	return f.session, nil
}

func (f *fakeSessions) Expire(id string, params *stripe.CheckoutSessionExpireParams) (*stripe.CheckoutSession, error) {
	f.expiredID = id
	if f.expireErr != nil {
		return nil, f.expireErr
	}
	return &stripe.CheckoutSession{ID: id}, nil
}

func newTestProvider(t *testing.T, sessions *fakeSessions, secret string) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		Sessions:      sessions,
		WebhookSecret: secret,
		Clock:         func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestCreateCheckoutSessionBuildsLineItemsAndMetadata(t *testing.T) {
	sessions := &fakeSessions{session: &stripe.CheckoutSession{
		ID:            "cs_test_1",
		URL:           "https://checkout.stripe.test/cs_test_1",
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
	}}
	provider := newTestProvider(t, sessions, "")

	session, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{
		OrderID:          "ord_1",
		UserID:           "user_1",
		Currency:         "USD",
		SuccessURL:       "https://shop.test/ok",
		CancelURL:        "https://shop.test/cancel",
		AllowedCountries: []string{"US", "CA"},
		Items: []LineItem{
			{Name: "Mug", Quantity: 2, UnitAmount: 1250, SKU: "MUG-RED"},
			{Name: "Shipping", Quantity: 1, UnitAmount: 5000},
		},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "cs_test_1" || session.RedirectURL == "" || session.IntentID != "pi_1" {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.Provider != ProviderStripe {
		t.Fatalf("expected stripe provider, got %q", session.Provider)
	}

	params := sessions.lastNew
	if params == nil {
		t.Fatalf("expected session params to be captured")
	}
	if len(params.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(params.LineItems))
	}
	first := params.LineItems[0]
	if *first.Quantity != 2 || *first.PriceData.UnitAmount != 1250 || *first.PriceData.Currency != "usd" {
		t.Fatalf("unexpected first line %+v", first.PriceData)
	}
	if first.PriceData.ProductData.Metadata["sku"] != "MUG-RED" {
		t.Fatalf("expected sku metadata")
	}
	if params.Metadata["order_id"] != "ord_1" || params.PaymentIntentData.Metadata["user_id"] != "user_1" {
		t.Fatalf("expected order and user metadata, got %v", params.Metadata)
	}
	if len(params.ShippingAddressCollection.AllowedCountries) != 2 {
		t.Fatalf("expected allowed countries to be forwarded")
	}
}

func TestCreateCheckoutSessionRequiresItems(t *testing.T) {
	provider := newTestProvider(t, &fakeSessions{}, "")
	if _, err := provider.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{Currency: "USD"}); err == nil {
		t.Fatalf("expected error for empty session")
	}
}

func TestExpireCheckoutSession(t *testing.T) {
	sessions := &fakeSessions{}
	provider := newTestProvider(t, sessions, "")
	if err := provider.ExpireCheckoutSession(context.Background(), "cs_9"); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if sessions.expiredID != "cs_9" {
		t.Fatalf("expected cs_9 to be expired, got %q", sessions.expiredID)
	}

	sessions.expireErr = errors.New("boom")
	if err := provider.ExpireCheckoutSession(context.Background(), "cs_9"); err == nil {
		t.Fatalf("expected error to propagate")
	}
}

const sessionCompletedPayload = `{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "created": 1740823200,
  "data": {"object": {
    "id": "cs_test_1",
    "object": "checkout.session",
    "payment_intent": "pi_1",
    "metadata": {"order_id": "ord_1", "user_id": "user_1"},
    "customer_details": {"email": "buyer@example.com"}
  }}
}`

func TestParseEventWithoutSecretDecodesSession(t *testing.T) {
	provider := newTestProvider(t, &fakeSessions{}, "")
	event, err := provider.ParseEvent([]byte(sessionCompletedPayload), "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != EventCheckoutSessionCompleted || event.SessionID != "cs_test_1" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.OrderID != "ord_1" || event.PaymentIntentID != "pi_1" || event.CustomerEmail != "buyer@example.com" {
		t.Fatalf("unexpected identifiers %+v", event)
	}
}

func TestParseEventVerifiesSignature(t *testing.T) {
	secret := "whsec_test"
	provider := newTestProvider(t, &fakeSessions{}, secret)

	payload := []byte(sessionCompletedPayload)
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	header := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	event, err := provider.ParseEvent(payload, header)
	if err != nil {
		t.Fatalf("parse signed: %v", err)
	}
	if event.ID != "evt_1" {
		t.Fatalf("unexpected event id %q", event.ID)
	}

	tampered := []byte(strings.Replace(sessionCompletedPayload, "ord_1", "ord_2", 1))
	if _, err := provider.ParseEvent(tampered, header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestParseEventDecodesFailureAndRefund(t *testing.T) {
	provider := newTestProvider(t, &fakeSessions{}, "")

	failed := `{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{
		"id":"pi_2","object":"payment_intent","metadata":{"order_id":"ord_2"},
		"last_payment_error":{"message":"card declined"}}}}`
	event, err := provider.ParseEvent([]byte(failed), "")
	if err != nil {
		t.Fatalf("parse failed event: %v", err)
	}
	if event.PaymentIntentID != "pi_2" || event.OrderID != "ord_2" || event.FailureMessage != "card declined" {
		t.Fatalf("unexpected failure event %+v", event)
	}

	refunded := `{"id":"evt_3","type":"charge.refunded","data":{"object":{
		"id":"ch_3","object":"charge","payment_intent":"pi_3","metadata":{}}}}`
	event, err = provider.ParseEvent([]byte(refunded), "")
	if err != nil {
		t.Fatalf("parse refund event: %v", err)
	}
	if event.ChargeID != "ch_3" || event.PaymentIntentID != "pi_3" {
		t.Fatalf("unexpected refund event %+v", event)
	}

	if _, err := provider.ParseEvent([]byte(`{"id":""}`), ""); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}
