package payments

import (
	"context"
	"errors"
	"time"
)

// ProviderStripe names the hosted checkout provider recorded on payments.
const ProviderStripe = "stripe"

// Event types the orchestrator reconciles. Anything else is acknowledged and ignored.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventCheckoutSessionExpired   = "checkout.session.expired"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventPaymentIntentFailed      = "payment_intent.payment_failed"
	EventChargeRefunded           = "charge.refunded"
)

var (
	// ErrInvalidSignature indicates the webhook payload failed signature verification.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrInvalidEvent indicates the webhook payload could not be decoded.
	ErrInvalidEvent = errors.New("payments: invalid webhook event")
)

// LineItem describes a single line of a hosted checkout session. UnitAmount is in minor units.
type LineItem struct {
	Name        string
	Description string
	SKU         string
	Quantity    int64
	UnitAmount  int64
}

// CheckoutSessionRequest captures the payload required to create a checkout session.
type CheckoutSessionRequest struct {
	OrderID          string
	UserID           string
	Currency         string
	CustomerEmail    string
	SuccessURL       string
	CancelURL        string
	AllowedCountries []string
	IdempotencyKey   string
	Items            []LineItem
}

// CheckoutSession represents the provider session returned to the client.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	IntentID    string
	ExpiresAt   time.Time
}

// Event is a provider webhook event normalised to the identifiers the orchestrator needs.
type Event struct {
	ID              string
	Type            string
	SessionID       string
	PaymentIntentID string
	ChargeID        string
	OrderID         string
	UserID          string
	CustomerEmail   string
	FailureMessage  string
	Created         time.Time
}

// Provider is the contract the payment orchestrator depends on.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	ExpireCheckoutSession(ctx context.Context, sessionID string) error
	ParseEvent(payload []byte, signature string) (Event, error)
}
