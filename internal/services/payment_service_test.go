package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/marketplace/internal/domain"
	"github.com/hanko-field/marketplace/internal/payments"
)

type stubProvider struct {
	createFn func(context.Context, payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	expireFn func(context.Context, string) error
	parseFn  func([]byte, string) (payments.Event, error)

	requests []payments.CheckoutSessionRequest
	expired  []string
}

func (s *stubProvider) CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	s.requests = append(s.requests, req)
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return payments.CheckoutSession{
		ID:          "cs_" + req.OrderID,
		Provider:    payments.ProviderStripe,
		RedirectURL: "https://checkout.test/" + req.OrderID,
		ExpiresAt:   pricingNow.Add(30 * time.Minute),
	}, nil
}

func (s *stubProvider) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	s.expired = append(s.expired, sessionID)
	if s.expireFn != nil {
		return s.expireFn(ctx, sessionID)
	}
	return nil
}

func (s *stubProvider) ParseEvent(payload []byte, signature string) (payments.Event, error) {
	if s.parseFn != nil {
		return s.parseFn(payload, signature)
	}
	return payments.Event{}, payments.ErrInvalidEvent
}

type recordingNotifier struct {
	sent []PaymentNotification
	err  error
}

func (n *recordingNotifier) NotifyPaymentCompleted(_ context.Context, notification PaymentNotification) error {
	n.sent = append(n.sent, notification)
	return n.err
}

func newPaymentFixture(t *testing.T) (*orderFixture, *recordingNotifier) {
	t.Helper()
	f := newOrderFixture(t)
	notifier := &recordingNotifier{}
	svc, err := NewPaymentService(PaymentServiceDeps{
		UnitOfWork:  f.reg,
		Payments:    f.reg.Payments(),
		Orders:      f.reg.Orders(),
		Provider:    f.provider,
		Notifier:    notifier,
		Events:      f.events,
		Checkout:    CheckoutURLs{SuccessURL: "https://shop.test/ok", CancelURL: "https://shop.test/cancel"},
		Clock:       func() time.Time { return pricingNow },
		IDGenerator: sequentialIDs("p"),
	})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	f.payments = svc
	return f, notifier
}

func (f *orderFixture) startCardCheckout(t *testing.T) (Order, PaymentCheckout) {
	t.Helper()
	order := f.placeRedOrder(t, 2)
	checkout, err := f.payments.CreatePayment(context.Background(), CreatePaymentCommand{OrderID: order.ID, UserID: "u1", Method: "credit_card"})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return order, checkout
}

func TestCreateCardPaymentOpensSession(t *testing.T) {
	f, _ := newPaymentFixture(t)
	order, checkout := f.startCardCheckout(t)

	if checkout.RedirectURL != "https://checkout.test/"+order.ID || checkout.ExpiresAt == nil {
		t.Fatalf("unexpected checkout %+v", checkout)
	}
	payment := checkout.Payment
	if payment.Status != domain.PaymentStatusPending || payment.Provider != payments.ProviderStripe || payment.SessionID != "cs_"+order.ID {
		t.Fatalf("unexpected payment %+v", payment)
	}
	if payment.Amount != order.TotalAmount {
		t.Fatalf("expected amount %d, got %d", order.TotalAmount, payment.Amount)
	}

	req := f.provider.requests[0]
	if req.CustomerEmail != "u1@example.com" || req.Currency != "USD" || req.SuccessURL != "https://shop.test/ok" {
		t.Fatalf("unexpected session request %+v", req)
	}
	var sum int64
	for _, item := range req.Items {
		sum += item.UnitAmount * item.Quantity
	}
	if sum != order.TotalAmount {
		t.Fatalf("session lines sum to %d, order total %d", sum, order.TotalAmount)
	}

	stored, _ := f.reg.Order(order.ID)
	if stored.Status != domain.OrderStatusProcessingPayment || stored.PaymentID != payment.ID {
		t.Fatalf("unexpected order after checkout %+v", stored)
	}

	_, err := f.payments.CreatePayment(context.Background(), CreatePaymentCommand{OrderID: order.ID, UserID: "u1", Method: "credit_card"})
	if !errors.Is(err, ErrPaymentExists) {
		t.Fatalf("expected ErrPaymentExists, got %v", err)
	}
	if len(f.provider.requests) != 1 {
		t.Fatalf("second attempt must not open a session")
	}
}

func TestCreatePaymentValidation(t *testing.T) {
	f, _ := newPaymentFixture(t)
	ctx := context.Background()
	order := f.placeRedOrder(t, 1)

	if _, err := f.payments.CreatePayment(ctx, CreatePaymentCommand{OrderID: order.ID, UserID: "u2", Method: "credit_card"}); !errors.Is(err, ErrPaymentForbidden) {
		t.Fatalf("expected ErrPaymentForbidden, got %v", err)
	}
	if _, err := f.payments.CreatePayment(ctx, CreatePaymentCommand{OrderID: "ord_missing", UserID: "u1"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if _, err := f.payments.CreatePayment(ctx, CreatePaymentCommand{OrderID: order.ID, UserID: "u1", Method: "iou"}); !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected ErrPaymentInvalidInput, got %v", err)
	}

	f.provider.createFn = func(context.Context, payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
		return payments.CheckoutSession{}, errors.New("card network down")
	}
	if _, err := f.payments.CreatePayment(ctx, CreatePaymentCommand{OrderID: order.ID, UserID: "u1"}); !errors.Is(err, ErrPaymentProvider) {
		t.Fatalf("expected ErrPaymentProvider, got %v", err)
	}
	stored, _ := f.reg.Order(order.ID)
	if stored.PaymentID != "" || stored.Status != domain.OrderStatusPending {
		t.Fatalf("provider failure must leave the order untouched, got %+v", stored)
	}
}

func TestCreatePaymentExpiresSessionWhenPersistFails(t *testing.T) {
	f, _ := newPaymentFixture(t)
	order := f.placeRedOrder(t, 1)

	f.reg.FailWrites(func(op string) error {
		if op == "PutPayment" {
			return errors.New("write failed")
		}
		return nil
	})
	if _, err := f.payments.CreatePayment(context.Background(), CreatePaymentCommand{OrderID: order.ID, UserID: "u1"}); err == nil {
		t.Fatalf("expected persist failure")
	}
	if len(f.provider.expired) != 1 || f.provider.expired[0] != "cs_"+order.ID {
		t.Fatalf("expected orphan session to be expired, got %v", f.provider.expired)
	}
}

func TestCreateCashOnDeliveryPayment(t *testing.T) {
	f, _ := newPaymentFixture(t)
	order := f.placeRedOrder(t, 1)

	checkout, err := f.payments.CreatePayment(context.Background(), CreatePaymentCommand{OrderID: order.ID, UserID: "u1", Method: "cash_on_delivery"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if checkout.RedirectURL != "" || checkout.Payment.Provider != "cash_on_delivery" {
		t.Fatalf("unexpected cod checkout %+v", checkout)
	}
	if len(f.provider.requests) != 0 {
		t.Fatalf("cash on delivery must not contact the provider")
	}
	stored, _ := f.reg.Order(order.ID)
	if stored.Status != domain.OrderStatusPending || stored.PaymentMethod != domain.PaymentMethodCashOnDelivery {
		t.Fatalf("unexpected order %+v", stored)
	}
}

func TestHandleCheckoutCompleted(t *testing.T) {
	f, notifier := newPaymentFixture(t)
	ctx := context.Background()
	order, checkout := f.startCardCheckout(t)

	event := payments.Event{
		ID:              "evt_1",
		Type:            payments.EventCheckoutSessionCompleted,
		SessionID:       checkout.Payment.SessionID,
		PaymentIntentID: "pi_1",
		OrderID:         order.ID,
	}
	if err := f.payments.HandleProviderEvent(ctx, event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	payment, _ := f.reg.Payment(checkout.Payment.ID)
	if payment.Status != domain.PaymentStatusCompleted || payment.PaidAt == nil || payment.TransactionID != "pi_1" {
		t.Fatalf("unexpected payment %+v", payment)
	}
	stored, _ := f.reg.Order(order.ID)
	if stored.Status != domain.OrderStatusPaid || stored.PaidAt == nil {
		t.Fatalf("expected paid order, got %+v", stored)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Email != "u1@example.com" {
		t.Fatalf("expected one notification, got %+v", notifier.sent)
	}

	eventsBefore := len(f.events.events)
	if err := f.payments.HandleProviderEvent(ctx, event); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(notifier.sent) != 1 || len(f.events.events) != eventsBefore {
		t.Fatalf("replayed event must be a no-op")
	}
}

func TestHandlePaymentFailedReleasesStock(t *testing.T) {
	f, notifier := newPaymentFixture(t)
	order, checkout := f.startCardCheckout(t)

	err := f.payments.HandleProviderEvent(context.Background(), payments.Event{
		ID:              "evt_2",
		Type:            payments.EventPaymentIntentFailed,
		SessionID:       checkout.Payment.SessionID,
		PaymentIntentID: "pi_2",
		FailureMessage:  "card declined",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	payment, _ := f.reg.Payment(checkout.Payment.ID)
	if payment.Status != domain.PaymentStatusFailed || payment.Error != "card declined" {
		t.Fatalf("unexpected payment %+v", payment)
	}
	stored, _ := f.reg.Order(order.ID)
	if stored.Status != domain.OrderStatusPaymentFailed {
		t.Fatalf("expected payment_failed, got %s", stored.Status)
	}
	if got := f.redStock(t); got != 5 {
		t.Fatalf("expected stock release, got %d", got)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("failures must not notify")
	}

	if _, err := f.payments.CreatePayment(context.Background(), CreatePaymentCommand{OrderID: order.ID, UserID: "u1"}); !errors.Is(err, ErrPaymentExists) {
		t.Fatalf("an order keeps a single payment, got %v", err)
	}
}

func TestHandleSessionExpiredCancelsOrder(t *testing.T) {
	f, _ := newPaymentFixture(t)
	order, checkout := f.startCardCheckout(t)

	err := f.payments.HandleProviderEvent(context.Background(), payments.Event{
		ID:        "evt_3",
		Type:      payments.EventCheckoutSessionExpired,
		SessionID: checkout.Payment.SessionID,
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	payment, _ := f.reg.Payment(checkout.Payment.ID)
	if payment.Status != domain.PaymentStatusExpired {
		t.Fatalf("expected expired payment, got %s", payment.Status)
	}
	stored, _ := f.reg.Order(order.ID)
	user, _ := f.reg.User("u1")
	if stored.Status != domain.OrderStatusCancelled || f.redStock(t) != 5 || user.CancelledOrders != 1 {
		t.Fatalf("expected compensated cancellation, order=%s stock=%d user=%+v", stored.Status, f.redStock(t), user)
	}
	last := f.events.events[len(f.events.events)-1]
	if last.Type != OrderEventCancelled {
		t.Fatalf("expected order.cancelled event, got %s", last.Type)
	}
}

func TestHandleChargeRefunded(t *testing.T) {
	f, _ := newPaymentFixture(t)
	ctx := context.Background()
	order, checkout := f.startCardCheckout(t)

	if err := f.payments.HandleProviderEvent(ctx, payments.Event{ID: "evt_4", Type: payments.EventPaymentIntentSucceeded, PaymentIntentID: "pi_4", OrderID: order.ID}); err != nil {
		t.Fatalf("succeed: %v", err)
	}
	if err := f.payments.HandleProviderEvent(ctx, payments.Event{ID: "evt_5", Type: payments.EventChargeRefunded, PaymentIntentID: "pi_4", ChargeID: "ch_4"}); err != nil {
		t.Fatalf("refund: %v", err)
	}
	payment, _ := f.reg.Payment(checkout.Payment.ID)
	if payment.Status != domain.PaymentStatusRefunded || payment.RefundedAt == nil {
		t.Fatalf("unexpected payment %+v", payment)
	}
	stored, _ := f.reg.Order(order.ID)
	if stored.Status != domain.OrderStatusRefunded {
		t.Fatalf("expected refunded order, got %s", stored.Status)
	}
	if got := f.redStock(t); got != 5 {
		t.Fatalf("expected unshipped stock released on refund, got %d", got)
	}
}

func TestRefundPendingCashOnDeliveryOrder(t *testing.T) {
	f, _ := newPaymentFixture(t)
	ctx := context.Background()
	order := f.placeRedOrder(t, 2)
	checkout, err := f.payments.CreatePayment(ctx, CreatePaymentCommand{OrderID: order.ID, UserID: "u1", Method: "cash_on_delivery"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	refunded, err := f.payments.UpdatePaymentStatus(ctx, UpdatePaymentStatusCommand{PaymentID: checkout.Payment.ID, Status: "refunded", Actor: adminActor})
	if err != nil {
		t.Fatalf("refund pending order: %v", err)
	}
	if refunded.RefundedAt == nil {
		t.Fatalf("expected refundedAt")
	}
	stored, _ := f.reg.Order(order.ID)
	if stored.Status != domain.OrderStatusRefunded || f.redStock(t) != 5 {
		t.Fatalf("expected refunded order with stock released, status=%s stock=%d", stored.Status, f.redStock(t))
	}
}

func TestHandleProviderEventEdges(t *testing.T) {
	f, _ := newPaymentFixture(t)
	ctx := context.Background()

	if err := f.payments.HandleProviderEvent(ctx, payments.Event{ID: "evt_6", Type: "customer.created"}); err != nil {
		t.Fatalf("unknown events are acknowledged, got %v", err)
	}
	err := f.payments.HandleProviderEvent(ctx, payments.Event{ID: "evt_7", Type: payments.EventCheckoutSessionCompleted, SessionID: "cs_unknown"})
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}

	f.provider.parseFn = func(payload []byte, signature string) (payments.Event, error) {
		if signature != "sig" {
			return payments.Event{}, payments.ErrInvalidSignature
		}
		return payments.Event{ID: "evt_8", Type: payments.EventCheckoutSessionCompleted}, nil
	}
	if _, err := f.payments.ParseProviderEvent([]byte(`{}`), "bad"); KindOf(err) != KindBadRequest {
		t.Fatalf("expected bad request for signature failure, got %v", err)
	}
	event, err := f.payments.ParseProviderEvent([]byte(`{}`), "sig")
	if err != nil || event.ID != "evt_8" {
		t.Fatalf("unexpected parse result %+v %v", event, err)
	}
}

func TestUpdatePaymentStatusMirrorsOrder(t *testing.T) {
	f, _ := newPaymentFixture(t)
	ctx := context.Background()
	order, checkout := f.startCardCheckout(t)
	id := checkout.Payment.ID

	if _, err := f.payments.UpdatePaymentStatus(ctx, UpdatePaymentStatusCommand{PaymentID: id, Status: "completed", Actor: Principal{UserID: "u1", Role: RoleUser}}); !errors.Is(err, ErrPaymentForbidden) {
		t.Fatalf("expected customers to be rejected, got %v", err)
	}
	if _, err := f.payments.UpdatePaymentStatus(ctx, UpdatePaymentStatusCommand{PaymentID: id, Status: "pending", Actor: adminActor}); !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected same-status update to fail, got %v", err)
	}

	completed, err := f.payments.UpdatePaymentStatus(ctx, UpdatePaymentStatusCommand{PaymentID: id, Status: "completed", Actor: vendorActor})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.PaidAt == nil {
		t.Fatalf("expected paidAt")
	}
	stored, _ := f.reg.Order(order.ID)
	if stored.Status != domain.OrderStatusPaid {
		t.Fatalf("expected order mirrored to paid, got %s", stored.Status)
	}
	if _, err := f.payments.UpdatePaymentStatus(ctx, UpdatePaymentStatusCommand{PaymentID: id, Status: "pending", Actor: adminActor}); !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected completed→pending to fail, got %v", err)
	}

	if _, err := f.payments.UpdatePaymentStatus(ctx, UpdatePaymentStatusCommand{PaymentID: id, Status: "refunded", Actor: adminActor}); err != nil {
		t.Fatalf("refund: %v", err)
	}
	stored, _ = f.reg.Order(order.ID)
	if stored.Status != domain.OrderStatusRefunded {
		t.Fatalf("expected refunded order, got %s", stored.Status)
	}
}

func TestGetPaymentAuthorization(t *testing.T) {
	f, _ := newPaymentFixture(t)
	ctx := context.Background()
	_, checkout := f.startCardCheckout(t)

	if _, err := f.payments.GetPayment(ctx, checkout.Payment.ID, Principal{UserID: "u2", Role: RoleUser}); !errors.Is(err, ErrPaymentForbidden) {
		t.Fatalf("expected ErrPaymentForbidden, got %v", err)
	}
	if _, err := f.payments.GetPaymentBySession(ctx, checkout.Payment.SessionID, vendorActor); err != nil {
		t.Fatalf("vendor lookup: %v", err)
	}
	page, err := f.payments.ListUserPayments(ctx, "u1", domain.Pagination{})
	if err != nil || len(page.Items) != 1 {
		t.Fatalf("unexpected list %+v %v", page, err)
	}
	if _, err := f.payments.GetPayment(ctx, "pay_missing", adminActor); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}
