package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/marketplace/internal/platform/httpx"
	"github.com/hanko-field/marketplace/internal/platform/idempotency"
	"github.com/hanko-field/marketplace/internal/platform/requestctx"
	"github.com/hanko-field/marketplace/internal/services"
)

const (
	maxWebhookBodySize    = 64 * 1024
	stripeSignatureHeader = "Stripe-Signature"
	webhookMeterName      = "github.com/hanko-field/marketplace/internal/handlers"
)

// WebhookHandlers receives payment provider callbacks. Events are deduplicated by provider event id.
type WebhookHandlers struct {
	payments services.PaymentService
	ledger   idempotency.EventLedger
	clock    func() time.Time
	eventTTL time.Duration
	events   metric.Int64Counter
}

// WebhookOption customises the webhook handlers.
type WebhookOption func(*WebhookHandlers)

// WithWebhookClock overrides the clock used to stamp processed events.
func WithWebhookClock(clock func() time.Time) WebhookOption {
	return func(h *WebhookHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithWebhookEventTTL controls how long processed event ids are remembered.
func WithWebhookEventTTL(ttl time.Duration) WebhookOption {
	return func(h *WebhookHandlers) {
		if ttl > 0 {
			h.eventTTL = ttl
		}
	}
}

// WithWebhookMeter records event outcomes on the given meter.
func WithWebhookMeter(meter metric.Meter) WebhookOption {
	return func(h *WebhookHandlers) {
		if meter == nil {
			return
		}
		if counter, err := meter.Int64Counter("webhooks.stripe.events", metric.WithDescription("Stripe webhook events by outcome")); err == nil {
			h.events = counter
		}
	}
}

// NewWebhookHandlers constructs the /webhooks endpoints.
func NewWebhookHandlers(payments services.PaymentService, ledger idempotency.EventLedger, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		payments: payments,
		ledger:   ledger,
		clock:    time.Now,
		eventTTL: idempotency.DefaultEventTTL,
	}
	WithWebhookMeter(otel.GetMeterProvider().Meter(webhookMeterName))(h)
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the provider callbacks onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)
}

func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment")
		return
	}
	logger := requestctx.Logger(ctx)

	payload, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	event, err := h.payments.ParseProviderEvent(payload, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		h.record(ctx, "rejected", "")
		logger.Warn("stripe webhook rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_webhook", "webhook payload could not be verified", http.StatusBadRequest))
		return
	}
	logger = logger.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))

	if h.ledger != nil {
		first, err := h.ledger.MarkProcessed(ctx, event.ID, h.clock().UTC(), h.eventTTL)
		if err != nil {
			h.record(ctx, "error", event.Type)
			logger.Error("stripe webhook dedupe failed", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook could not be recorded", http.StatusServiceUnavailable))
			return
		}
		if !first {
			h.record(ctx, "duplicate", event.Type)
			logger.Info("stripe webhook already processed")
			writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
			return
		}
	}

	if err := h.payments.HandleProviderEvent(ctx, event); err != nil {
		if h.ledger != nil {
			if forgetErr := h.ledger.Forget(ctx, event.ID); forgetErr != nil {
				logger.Error("stripe webhook ledger release failed", zap.Error(forgetErr))
			}
		}
		h.record(ctx, "error", event.Type)
		kind := services.KindOf(err)
		if services.SeverityOf(kind) == services.SeverityFail {
			logger.Warn("stripe webhook ignored", zap.Error(err))
			writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "ignored": true})
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	h.record(ctx, "processed", event.Type)
	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
}

func (h *WebhookHandlers) record(ctx context.Context, outcome, eventType string) {
	if h.events == nil {
		return
	}
	h.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("event_type", eventType),
	))
}
