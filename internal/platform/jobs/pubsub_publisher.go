package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/marketplace/internal/platform/money"
	"github.com/hanko-field/marketplace/internal/services"
)

// OrderEventMessage is the wire form of an order domain event.
type OrderEventMessage struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId"`
	UserID         string    `json:"userId"`
	StoreIDs       []string  `json:"storeIds,omitempty"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	CurrentStatus  string    `json:"currentStatus"`
	ActorID        string    `json:"actorId,omitempty"`
	TotalAmount    int64     `json:"totalAmount"`
	Currency       string    `json:"currency"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// PaymentEmailMessage asks the mailer to send a payment confirmation.
type PaymentEmailMessage struct {
	Template        string    `json:"template"`
	To              string    `json:"to"`
	PaymentID       string    `json:"paymentId"`
	OrderID         string    `json:"orderId"`
	UserID          string    `json:"userId"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	FormattedAmount string    `json:"formattedAmount"`
	PaidAt          time.Time `json:"paidAt"`
}

const paymentConfirmationTemplate = "payment_confirmation"

type topicPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// publish sends payload as JSON. orderingKey is only applied when the topic has message ordering
// enabled; Pub/Sub rejects keyed messages otherwise.
func (p topicPublisher) publish(ctx context.Context, payload any, attrs map[string]string, orderingKey string) (string, error) {
	if p.topic == nil {
		return "", errors.New("pubsub publisher: not initialised")
	}
	data, err := p.marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = orderingKey
	}
	result := p.topic.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil && msg.OrderingKey != "" {
		p.topic.ResumePublish(msg.OrderingKey)
	}
	return id, err
}

// PubSubOrderEventPublisher publishes order domain events. Messages are keyed by order id so a
// subscriber with ordering enabled sees an order's events in commit order.
type PubSubOrderEventPublisher struct {
	topicPublisher
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	return &PubSubOrderEventPublisher{topicPublisher{topic: topic, marshal: json.Marshal}}, nil
}

// PublishOrderEvent implements services.OrderEventPublisher.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}
	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", event.CurrentStatus)
	if len(event.StoreIDs) > 0 {
		attrs["storeIds"] = strings.Join(event.StoreIDs, ",")
	}

	if _, err := p.publish(ctx, OrderEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		UserID:         event.UserID,
		StoreIDs:       event.StoreIDs,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		TotalAmount:    event.TotalAmount,
		Currency:       event.Currency,
		OccurredAt:     event.OccurredAt.UTC(),
	}, attrs, event.OrderID); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// PubSubPaymentNotifier enqueues payment confirmation emails for the mailer worker.
type PubSubPaymentNotifier struct {
	topicPublisher
}

// NewPubSubPaymentNotifier constructs a Pub/Sub backed payment notifier.
func NewPubSubPaymentNotifier(topic *pubsub.Topic) (*PubSubPaymentNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub payment notifier: topic is required")
	}
	return &PubSubPaymentNotifier{topicPublisher{topic: topic, marshal: json.Marshal}}, nil
}

// NotifyPaymentCompleted implements services.PaymentNotifier.
func (n *PubSubPaymentNotifier) NotifyPaymentCompleted(ctx context.Context, notification services.PaymentNotification) error {
	if n == nil {
		return errors.New("pubsub payment notifier: not initialised")
	}
	to := strings.TrimSpace(notification.Email)
	if to == "" {
		return errors.New("pubsub payment notifier: recipient email is required")
	}

	attrs := make(map[string]string)
	setAttr(attrs, "template", paymentConfirmationTemplate)
	setAttr(attrs, "paymentId", notification.PaymentID)
	// the payment id doubles as the dedupe key for the mailer
	setAttr(attrs, "idempotencyKey", notification.PaymentID)

	if _, err := n.publish(ctx, PaymentEmailMessage{
		Template:        paymentConfirmationTemplate,
		To:              to,
		PaymentID:       notification.PaymentID,
		OrderID:         notification.OrderID,
		UserID:          notification.UserID,
		Amount:          notification.Amount,
		Currency:        notification.Currency,
		FormattedAmount: money.Format(notification.Amount, notification.Currency),
		PaidAt:          notification.PaidAt.UTC(),
	}, attrs, ""); err != nil {
		return fmt.Errorf("publish payment notification: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

var (
	_ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)
	_ services.PaymentNotifier     = (*PubSubPaymentNotifier)(nil)
)
