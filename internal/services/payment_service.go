package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	domain "github.com/hanko-field/marketplace/internal/domain"
	"github.com/hanko-field/marketplace/internal/payments"
	"github.com/hanko-field/marketplace/internal/platform/pagination"
	"github.com/hanko-field/marketplace/internal/repositories"
)

const (
	paymentIDPrefix         = "pay_"
	providerCashOnDelivery  = "cash_on_delivery"
	checkoutSummaryLineName = "Order total"
)

// CheckoutURLs are the hosted checkout return targets.
type CheckoutURLs struct {
	SuccessURL       string
	CancelURL        string
	AllowedCountries []string
}

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	UnitOfWork  repositories.UnitOfWork
	Payments    repositories.PaymentRepository
	Orders      repositories.OrderRepository
	Provider    payments.Provider
	Notifier    PaymentNotifier
	Events      OrderEventPublisher
	Checkout    CheckoutURLs
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	uow      repositories.UnitOfWork
	payments repositories.PaymentRepository
	orders   repositories.OrderRepository
	provider payments.Provider
	notifier PaymentNotifier
	events   OrderEventPublisher
	checkout CheckoutURLs
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("payment service: unit of work is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{
		uow:      deps.UnitOfWork,
		payments: deps.Payments,
		orders:   deps.Orders,
		provider: deps.Provider,
		notifier: deps.Notifier,
		events:   deps.Events,
		checkout: deps.Checkout,
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

// CreatePayment creates the single payment for an order. Card payments open a hosted checkout
// session outside any transaction; if persisting the payment then fails the session is expired.
func (s *paymentService) CreatePayment(ctx context.Context, cmd CreatePaymentCommand) (_ PaymentCheckout, err error) {
	ctx, span := startSpan(ctx, "payments.create", attribute.String("order.id", cmd.OrderID))
	defer func() { endSpan(span, err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	uid := strings.TrimSpace(cmd.UserID)
	if orderID == "" || uid == "" {
		return PaymentCheckout{}, fmt.Errorf("%w: order id and user id are required", ErrPaymentInvalidInput)
	}
	method, ok := domain.ParsePaymentMethod(cmd.Method)
	if !ok {
		return PaymentCheckout{}, fmt.Errorf("%w: unsupported payment method %q", ErrPaymentInvalidInput, cmd.Method)
	}

	var (
		snapshot Order
		email    = strings.TrimSpace(cmd.CustomerEmail)
	)
	err = s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := checkPayable(order, uid); err != nil {
			return err
		}
		if email == "" {
			if user, err := tx.GetUser(ctx, uid); err == nil {
				email = user.Email
			}
		}
		snapshot = order
		return nil
	})
	if err != nil {
		return PaymentCheckout{}, mapRepositoryError(err, ErrOrderNotFound, ErrPaymentExists)
	}

	var session payments.CheckoutSession
	if method == domain.PaymentMethodCard {
		if s.provider == nil {
			return PaymentCheckout{}, fmt.Errorf("%w: no payment provider configured", ErrPaymentProvider)
		}
		session, err = s.provider.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
			OrderID:          snapshot.ID,
			UserID:           uid,
			Currency:         snapshot.Currency,
			CustomerEmail:    email,
			SuccessURL:       s.checkout.SuccessURL,
			CancelURL:        s.checkout.CancelURL,
			AllowedCountries: s.checkout.AllowedCountries,
			IdempotencyKey:   cmd.IdempotencyKey,
			Items:            checkoutLineItems(snapshot),
		})
		if err != nil {
			s.logger(ctx, "payment.session.failed", map[string]any{"orderId": orderID, "error": err.Error()})
			return PaymentCheckout{}, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
		}
	}

	var (
		created  Payment
		previous domain.OrderStatus
		updated  Order
	)
	err = s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		now := s.clock()
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := checkPayable(order, uid); err != nil {
			return err
		}

		payment := Payment{
			ID:              paymentIDPrefix + s.newID(),
			OrderID:         order.ID,
			UserID:          uid,
			Amount:          order.TotalAmount,
			Currency:        order.Currency,
			Method:          method,
			Status:          domain.PaymentStatusPending,
			Provider:        providerCashOnDelivery,
			SessionID:       session.ID,
			PaymentIntentID: session.IntentID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		target := domain.OrderStatusPending
		if method == domain.PaymentMethodCard {
			payment.Provider = payments.ProviderStripe
			target = domain.OrderStatusProcessingPayment
		}
		if err := tx.PutPayment(ctx, payment); err != nil {
			return err
		}

		previous = order.Status
		order.PaymentID = payment.ID
		order.PaymentMethod = method
		order.UpdatedAt = now
		if err := transitionOrder(ctx, tx, &order, target, now); err != nil {
			return err
		}
		if err := tx.PutOrder(ctx, order); err != nil {
			return err
		}
		created = payment
		updated = order
		return nil
	})
	if err != nil {
		if session.ID != "" {
			if expireErr := s.provider.ExpireCheckoutSession(ctx, session.ID); expireErr != nil {
				s.logger(ctx, "payment.session.expire.failed", map[string]any{"sessionId": session.ID, "error": expireErr.Error()})
			}
		}
		return PaymentCheckout{}, mapRepositoryError(err, ErrOrderNotFound, ErrPaymentExists)
	}

	s.logger(ctx, "payment.created", map[string]any{
		"paymentId": created.ID,
		"orderId":   created.OrderID,
		"method":    string(created.Method),
		"sessionId": created.SessionID,
	})
	if previous != updated.Status {
		publishOrderEvent(ctx, s.events, s.logger, OrderEventStatusChanged, updated, previous, uid, s.clock())
	}

	result := PaymentCheckout{Payment: created, RedirectURL: session.RedirectURL}
	if !session.ExpiresAt.IsZero() {
		result.ExpiresAt = domain.TimePtr(session.ExpiresAt)
	}
	return result, nil
}

func checkPayable(order Order, userID string) error {
	if order.UserID != userID {
		return ErrPaymentForbidden
	}
	if order.PaymentID != "" {
		return fmt.Errorf("%w: %s", ErrPaymentExists, order.PaymentID)
	}
	switch order.Status {
	case domain.OrderStatusPending, domain.OrderStatusPaymentFailed:
		return nil
	case domain.OrderStatusPaid:
		return fmt.Errorf("%w: order is already paid", ErrPaymentInvalidState)
	case domain.OrderStatusCancelled:
		return fmt.Errorf("%w: order is cancelled", ErrPaymentInvalidState)
	default:
		return fmt.Errorf("%w: order is %s", ErrPaymentInvalidState, order.Status)
	}
}

// checkoutLineItems mirrors the order lines, shipping and tax. A discounted order is charged as a
// single summary line so the session total matches the order total.
func checkoutLineItems(order Order) []payments.LineItem {
	if order.Discount > 0 {
		return []payments.LineItem{{
			Name:        checkoutSummaryLineName,
			Description: fmt.Sprintf("Order %s, %d item(s), discount applied", order.ID, len(order.Items)),
			Quantity:    1,
			UnitAmount:  order.TotalAmount,
		}}
	}
	items := make([]payments.LineItem, 0, len(order.Items)+2)
	for _, line := range order.Items {
		items = append(items, payments.LineItem{
			Name:        line.Name,
			Description: describeSelection(line.Variant),
			SKU:         line.SKU,
			Quantity:    int64(line.Quantity),
			UnitAmount:  line.Price,
		})
	}
	if order.ShippingFee > 0 {
		items = append(items, payments.LineItem{Name: "Shipping", Quantity: 1, UnitAmount: order.ShippingFee})
	}
	if order.Tax > 0 {
		items = append(items, payments.LineItem{Name: "Tax", Quantity: 1, UnitAmount: order.Tax})
	}
	return items
}

func describeSelection(selection domain.VariantSelection) string {
	parts := make([]string, 0, len(selection))
	for _, attr := range selection {
		parts = append(parts, attr.Name+": "+attr.Value)
	}
	return strings.Join(parts, ", ")
}

func (s *paymentService) ParseProviderEvent(payload []byte, signature string) (payments.Event, error) {
	if s.provider == nil {
		return payments.Event{}, fmt.Errorf("%w: no payment provider configured", ErrPaymentProvider)
	}
	return s.provider.ParseEvent(payload, signature)
}

// HandleProviderEvent reconciles one provider event into payment and order state. Replayed events
// are no-ops. Unknown event types are logged and ignored.
func (s *paymentService) HandleProviderEvent(ctx context.Context, event payments.Event) (err error) {
	ctx, span := startSpan(ctx, "payments.webhook", attribute.String("event.type", event.Type), attribute.String("event.id", event.ID))
	defer func() { endSpan(span, err) }()

	switch event.Type {
	case payments.EventCheckoutSessionCompleted, payments.EventPaymentIntentSucceeded,
		payments.EventPaymentIntentFailed, payments.EventCheckoutSessionExpired, payments.EventChargeRefunded:
	default:
		s.logger(ctx, "payment.webhook.ignored", map[string]any{"eventId": event.ID, "type": event.Type})
		return nil
	}

	var (
		result       webhookResult
		notification *PaymentNotification
	)
	err = s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		result = webhookResult{}
		notification = nil

		payment, err := locatePayment(ctx, tx, event)
		if err != nil {
			return err
		}
		order, err := tx.GetOrder(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		var user domain.User
		if event.CustomerEmail == "" {
			if found, err := tx.GetUser(ctx, payment.UserID); err == nil {
				user = found
			}
		}

		now := s.clock()
		result.previous = order.Status
		apply, target := reconcilePayment(&payment, event, now)
		if !apply {
			result.skipped = true
			result.order = order
			return nil
		}
		payment.UpdatedAt = now
		if err := tx.PutPayment(ctx, payment); err != nil {
			return err
		}

		if target != "" && order.Status != target {
			if canTransitionOrder(order.Status, target) {
				if err := transitionOrder(ctx, tx, &order, target, now); err != nil {
					return err
				}
				if err := tx.PutOrder(ctx, order); err != nil {
					return err
				}
			} else {
				result.stranded = target
			}
		}
		result.order = order

		if payment.Status == domain.PaymentStatusCompleted {
			email := event.CustomerEmail
			if email == "" {
				email = user.Email
			}
			notification = &PaymentNotification{
				PaymentID: payment.ID,
				OrderID:   payment.OrderID,
				UserID:    payment.UserID,
				Email:     email,
				Amount:    payment.Amount,
				Currency:  payment.Currency,
				PaidAt:    *payment.PaidAt,
			}
		}
		return nil
	})
	if err != nil {
		s.logger(ctx, "payment.webhook.failed", map[string]any{"eventId": event.ID, "type": event.Type, "error": err.Error()})
		return mapRepositoryError(err, ErrPaymentNotFound, ErrOrderConflict)
	}

	fields := map[string]any{
		"eventId": event.ID,
		"type":    event.Type,
		"orderId": result.order.ID,
		"status":  string(result.order.Status),
	}
	switch {
	case result.skipped:
		s.logger(ctx, "payment.webhook.duplicate", fields)
		return nil
	case result.stranded != "":
		fields["wanted"] = string(result.stranded)
		s.logger(ctx, "payment.webhook.order_not_advanced", fields)
	default:
		s.logger(ctx, "payment.webhook.applied", fields)
	}

	if result.previous != result.order.Status {
		eventType := OrderEventStatusChanged
		if result.order.Status == domain.OrderStatusCancelled {
			eventType = OrderEventCancelled
		}
		publishOrderEvent(ctx, s.events, s.logger, eventType, result.order, result.previous, "", s.clock())
	}
	if notification != nil {
		s.notify(ctx, *notification)
	}
	return nil
}

type webhookResult struct {
	order    Order
	previous domain.OrderStatus
	skipped  bool
	stranded domain.OrderStatus
}

// reconcilePayment applies the event to payment and returns whether it changed plus the order
// status the change implies.
func reconcilePayment(payment *Payment, event payments.Event, now time.Time) (bool, domain.OrderStatus) {
	at := now
	if !event.Created.IsZero() {
		at = event.Created.UTC()
	}
	switch event.Type {
	case payments.EventCheckoutSessionCompleted, payments.EventPaymentIntentSucceeded:
		if payment.Status == domain.PaymentStatusCompleted || payment.Status == domain.PaymentStatusRefunded {
			return false, ""
		}
		payment.Status = domain.PaymentStatusCompleted
		payment.PaidAt = domain.TimePtr(at)
		payment.Error = ""
		if event.PaymentIntentID != "" {
			payment.PaymentIntentID = event.PaymentIntentID
			payment.TransactionID = event.PaymentIntentID
		}
		return true, domain.OrderStatusPaid
	case payments.EventPaymentIntentFailed:
		if payment.Status != domain.PaymentStatusPending {
			return false, ""
		}
		payment.Status = domain.PaymentStatusFailed
		payment.Error = event.FailureMessage
		return true, domain.OrderStatusPaymentFailed
	case payments.EventCheckoutSessionExpired:
		if payment.Status != domain.PaymentStatusPending {
			return false, ""
		}
		payment.Status = domain.PaymentStatusExpired
		return true, domain.OrderStatusCancelled
	case payments.EventChargeRefunded:
		if payment.Status == domain.PaymentStatusRefunded {
			return false, ""
		}
		payment.Status = domain.PaymentStatusRefunded
		payment.RefundedAt = domain.TimePtr(at)
		if event.ChargeID != "" && payment.TransactionID == "" {
			payment.TransactionID = event.ChargeID
		}
		return true, domain.OrderStatusRefunded
	}
	return false, ""
}

// locatePayment resolves the event to a payment through the order id carried in metadata, then the
// checkout session, then the payment intent.
func locatePayment(ctx context.Context, tx repositories.Tx, event payments.Event) (Payment, error) {
	if orderID := strings.TrimSpace(event.OrderID); orderID != "" {
		order, err := tx.GetOrder(ctx, orderID)
		switch {
		case err == nil && order.PaymentID != "":
			return tx.GetPayment(ctx, order.PaymentID)
		case err != nil && !repositories.IsNotFound(err):
			return Payment{}, err
		}
	}
	if event.SessionID != "" {
		payment, err := tx.FindPaymentBySession(ctx, event.SessionID)
		if err == nil || !repositories.IsNotFound(err) {
			return payment, err
		}
	}
	if event.PaymentIntentID != "" {
		payment, err := tx.FindPaymentByIntent(ctx, event.PaymentIntentID)
		if err == nil || !repositories.IsNotFound(err) {
			return payment, err
		}
	}
	return Payment{}, fmt.Errorf("%w: no payment matches event %s", ErrPaymentNotFound, event.ID)
}

func (s *paymentService) notify(ctx context.Context, notification PaymentNotification) {
	if s.notifier == nil || notification.Email == "" {
		return
	}
	if err := s.notifier.NotifyPaymentCompleted(ctx, notification); err != nil {
		s.logger(ctx, "payment.notification.failed", map[string]any{
			"paymentId": notification.PaymentID,
			"error":     err.Error(),
		})
	}
}

// UpdatePaymentStatus is the staff override. The new status is mirrored onto the order.
func (s *paymentService) UpdatePaymentStatus(ctx context.Context, cmd UpdatePaymentStatusCommand) (Payment, error) {
	target, ok := domain.ParsePaymentStatus(cmd.Status)
	if !ok {
		return Payment{}, fmt.Errorf("%w: unknown status %q", ErrPaymentInvalidInput, cmd.Status)
	}
	if !cmd.Actor.IsStaff() {
		return Payment{}, ErrPaymentForbidden
	}
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return Payment{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}

	var (
		updated  Payment
		order    Order
		previous domain.OrderStatus
	)
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		payment, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		order, err = tx.GetOrder(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		if err := authorizeOrderWrite(order, cmd.Actor); err != nil {
			return ErrPaymentForbidden
		}
		if payment.Status == target {
			return fmt.Errorf("%w: payment already %s", ErrPaymentInvalidState, target)
		}
		if payment.Status == domain.PaymentStatusCompleted && target == domain.PaymentStatusPending {
			return fmt.Errorf("%w: cannot move completed payment back to pending", ErrPaymentInvalidState)
		}

		now := s.clock()
		payment.Status = target
		payment.UpdatedAt = now
		var mirror domain.OrderStatus
		switch target {
		case domain.PaymentStatusCompleted:
			if payment.PaidAt == nil {
				payment.PaidAt = domain.TimePtr(now)
			}
			mirror = domain.OrderStatusPaid
		case domain.PaymentStatusRefunded:
			payment.RefundedAt = domain.TimePtr(now)
			mirror = domain.OrderStatusRefunded
		case domain.PaymentStatusFailed:
			mirror = domain.OrderStatusPaymentFailed
		}
		if err := tx.PutPayment(ctx, payment); err != nil {
			return err
		}

		previous = order.Status
		if mirror != "" && order.Status != mirror {
			if err := transitionOrder(ctx, tx, &order, mirror, now); err != nil {
				return err
			}
			if err := tx.PutOrder(ctx, order); err != nil {
				return err
			}
		}
		updated = payment
		return nil
	})
	if err != nil {
		return Payment{}, mapRepositoryError(err, ErrPaymentNotFound, ErrOrderConflict)
	}

	s.logger(ctx, "payment.status.updated", map[string]any{
		"paymentId": updated.ID,
		"status":    string(updated.Status),
		"orderId":   order.ID,
		"actor":     cmd.Actor.UserID,
	})
	if previous != order.Status {
		publishOrderEvent(ctx, s.events, s.logger, OrderEventStatusChanged, order, previous, cmd.Actor.UserID, s.clock())
	}
	return updated, nil
}

func (s *paymentService) GetPayment(ctx context.Context, paymentID string, actor Principal) (Payment, error) {
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return Payment{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}
	payment, err := s.payments.FindByID(ctx, id)
	if err != nil {
		return Payment{}, mapRepositoryError(err, ErrPaymentNotFound, nil)
	}
	if err := s.authorizeRead(ctx, payment, actor); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

func (s *paymentService) GetPaymentBySession(ctx context.Context, sessionID string, actor Principal) (Payment, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return Payment{}, fmt.Errorf("%w: session id is required", ErrPaymentInvalidInput)
	}
	payment, err := s.payments.FindBySessionID(ctx, id)
	if err != nil {
		return Payment{}, mapRepositoryError(err, ErrPaymentNotFound, nil)
	}
	if err := s.authorizeRead(ctx, payment, actor); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

func (s *paymentService) ListUserPayments(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[Payment], error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[Payment]{}, fmt.Errorf("%w: user id is required", ErrPaymentInvalidInput)
	}
	page, err := s.payments.ListByUser(ctx, uid, pager)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) || errors.Is(err, pagination.ErrInvalidPageSize) {
			return domain.CursorPage[Payment]{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
		}
		return domain.CursorPage[Payment]{}, mapRepositoryError(err, ErrPaymentNotFound, nil)
	}
	return page, nil
}

func (s *paymentService) authorizeRead(ctx context.Context, payment Payment, actor Principal) error {
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RoleVendor:
		order, err := s.orders.FindByID(ctx, payment.OrderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, nil)
		}
		if order.HasStore(actor.StoreID) {
			return nil
		}
	default:
		if actor.UserID != "" && payment.UserID == actor.UserID {
			return nil
		}
	}
	return ErrPaymentForbidden
}
