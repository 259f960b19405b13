package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/marketplace/internal/domain"
	"github.com/hanko-field/marketplace/internal/platform/pagination"
	"github.com/hanko-field/marketplace/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "oi_"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	UnitOfWork  repositories.UnitOfWork
	Orders      repositories.OrderRepository
	Pricing     OrderPricingPolicy
	Assets      AssetStore
	Events      OrderEventPublisher
	Currency    string
	Meter       metric.Meter
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	uow       repositories.UnitOfWork
	orders    repositories.OrderRepository
	pricing   OrderPricingPolicy
	assets    AssetStore
	events    OrderEventPublisher
	currency  string
	checkouts outcomeCounter
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("order service: unit of work is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	pricing := deps.Pricing
	if pricing == nil {
		pricing = DefaultPricingPolicy()
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "USD"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		uow:       deps.UnitOfWork,
		orders:    deps.Orders,
		pricing:   pricing,
		assets:    deps.Assets,
		events:    deps.Events,
		currency:  currency,
		checkouts: newOutcomeCounter(deps.Meter, "orders.checkout", "Checkout attempts by outcome"),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateOrder converts the user's cart into a pending order in a single transaction. Any failure,
// including a stock shortfall on a later line, rolls back every reservation made before it.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (_ Order, err error) {
	ctx, span := startSpan(ctx, "orders.create", attribute.String("user.id", cmd.UserID))
	defer func() {
		s.checkouts.record(ctx, outcomeOf(err))
		endSpan(span, err)
	}()

	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	method, ok := domain.ParsePaymentMethod(string(cmd.PaymentMethod))
	if !ok {
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}

	var created Order
	err = s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		now := s.clock()

		cart, err := tx.GetCart(ctx, uid)
		if err != nil {
			if repositories.IsNotFound(err) {
				return ErrOrderEmptyCart
			}
			return err
		}
		if cart.Lifecycle.IsDeleted() || cart.IsEmpty() {
			return ErrOrderEmptyCart
		}

		address, err := resolveShippingAddress(ctx, tx, uid, cmd.ShippingAddress)
		if err != nil {
			return err
		}

		order := Order{
			ID:              orderIDPrefix + s.newID(),
			UserID:          uid,
			ShippingAddress: address,
			PaymentMethod:   method,
			Currency:        s.currency,
			Status:          domain.OrderStatusPending,
			Lifecycle:       domain.LifecycleActive,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		products := make(map[string]*domain.Product)
		var touched []string
		flatDemand := make(map[string]int64)
		for _, line := range cart.Items {
			product, err := loadProduct(ctx, tx, products, &touched, line.ProductID)
			if err != nil {
				return err
			}
			if product == nil {
				return fmt.Errorf("%w: product %s no longer exists", ErrInvalidSelection, line.ProductID)
			}
			resolved, err := ResolvePrice(*product, line.Variant, line.Quantity, now)
			if err != nil {
				return fmt.Errorf("product %s: %w", product.ID, err)
			}
			if !product.HasActiveVariants() && product.Stock != nil {
				flatDemand[product.ID] += int64(line.Quantity)
				if flatDemand[product.ID] > *product.Stock {
					return fmt.Errorf("%w: product %s has %d, need %d", ErrInsufficientStock, product.ID, *product.Stock, flatDemand[product.ID])
				}
			}
			if err := Reserve(product, line.Variant, line.Quantity); err != nil {
				return fmt.Errorf("product %s: %w", product.ID, err)
			}
			var reserved int
			if len(line.Variant) > 0 && product.HasActiveVariants() {
				reserved = line.Quantity
			}

			order.Items = append(order.Items, OrderItem{
				ID:               orderItemIDPrefix + s.newID(),
				ProductID:        product.ID,
				Store:            domain.StoreRef(product.StoreID),
				Name:             product.Name,
				Quantity:         line.Quantity,
				Price:            resolved.UnitPrice,
				Variant:          line.Variant.Clone(),
				SKU:              resolved.SKU,
				Image:            product.PrimaryImage(),
				ReservedQuantity: reserved,
			})
			order.Subtotal += resolved.UnitPrice * int64(line.Quantity)
		}

		if cart.CouponID != "" {
			discount, err := redeemCoupon(ctx, tx, cart.CouponID, &order, products, now)
			if err != nil {
				return err
			}
			order.CouponID = cart.CouponID
			order.Discount = discount
		}

		charges := s.pricing.CheckoutCharges(order.Subtotal)
		order.ShippingFee = charges.ShippingFee
		order.Tax = charges.Tax
		order.TotalAmount = max(0, order.Subtotal-order.Discount+order.ShippingFee+order.Tax)

		for _, id := range touched {
			if product := products[id]; product != nil && product.HasActiveVariants() {
				if err := tx.PutProduct(ctx, *product); err != nil {
					return err
				}
			}
		}
		for _, storeID := range order.StoreIDs() {
			if err := tx.ApplyStoreCounters(ctx, storeID, repositories.StoreCounterDelta{OrdersCount: 1}); err != nil {
				return err
			}
		}
		if err := tx.ApplyUserCounters(ctx, uid, repositories.UserCounterDelta{OrdersCount: 1, ActiveOrders: 1}); err != nil {
			return err
		}

		cart.Items = nil
		cart.CouponID = ""
		cart.Total, cart.Discount, cart.TotalAfterDiscount = 0, 0, 0
		cart.UpdatedAt = now
		if err := tx.PutCart(ctx, cart); err != nil {
			return err
		}
		if err := tx.PutOrder(ctx, order); err != nil {
			return err
		}
		created = order
		return nil
	})
	if err != nil {
		s.logger(ctx, "order.create.failed", map[string]any{"userId": uid, "error": err.Error()})
		return Order{}, mapRepositoryError(err, nil, ErrOrderConflict)
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId": created.ID,
		"userId":  uid,
		"items":   len(created.Items),
		"total":   created.TotalAmount,
	})
	s.publishEvent(ctx, OrderEventCreated, created, "", uid)
	return created, nil
}

func resolveShippingAddress(ctx context.Context, tx repositories.Tx, userID string, supplied *Address) (Address, error) {
	if supplied != nil && !supplied.IsZero() {
		return *supplied, nil
	}
	user, err := tx.GetUser(ctx, userID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Address{}, fmt.Errorf("%w: shipping address is required", ErrOrderInvalidInput)
		}
		return Address{}, err
	}
	address, ok := user.DefaultAddress()
	if !ok {
		return Address{}, fmt.Errorf("%w: shipping address is required", ErrOrderInvalidInput)
	}
	return address, nil
}

// redeemCoupon re-validates the cart's coupon against the checkout subtotal, then records the
// usage and bumps usedCount.
func redeemCoupon(ctx context.Context, tx repositories.Tx, couponID string, order *Order, products map[string]*domain.Product, now time.Time) (int64, error) {
	coupon, err := tx.GetCoupon(ctx, couponID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrCouponNotFound, couponID)
		}
		return 0, err
	}
	used, err := tx.HasCouponUsage(ctx, coupon.ID, order.UserID)
	if err != nil {
		return 0, err
	}
	input := CouponContext{Total: order.Subtotal, UsedByUser: used}
	for _, product := range products {
		if product != nil {
			input.Products = append(input.Products, *product)
		}
	}
	discount, err := EvaluateCoupon(&coupon, input, now)
	if err != nil {
		return 0, err
	}

	if err := tx.PutCouponUsage(ctx, domain.CouponUsage{
		CouponID: coupon.ID,
		UserID:   order.UserID,
		OrderID:  order.ID,
		UsedAt:   now,
	}); err != nil {
		return 0, err
	}
	coupon.UsedCount++
	coupon.UpdatedAt = now
	if err := tx.PutCoupon(ctx, coupon); err != nil {
		return 0, err
	}
	return discount, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, actor Principal) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	if err := authorizeOrderRead(order, actor); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) ListUserOrders(ctx context.Context, userID string, filter OrderListFilter) (domain.CursorPage[Order], error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListByUser(ctx, uid, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapListError(err)
	}
	return page, nil
}

func (s *orderService) ListStoreOrders(ctx context.Context, storeID string, filter OrderListFilter) (domain.CursorPage[Order], error) {
	sid := strings.TrimSpace(storeID)
	if sid == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: store id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListByStore(ctx, sid, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapListError(err)
	}
	return page, nil
}

// UpdateOrderStatus is the staff-driven transition. Re-applying the current status is a no-op.
func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	target, ok := domain.ParseOrderStatus(cmd.Status)
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}
	if !cmd.Actor.IsStaff() {
		return Order{}, ErrOrderForbidden
	}

	var (
		updated  Order
		previous domain.OrderStatus
	)
	err := s.withOrder(ctx, cmd.OrderID, func(ctx context.Context, tx repositories.Tx, order *Order) (bool, error) {
		if err := authorizeOrderWrite(*order, cmd.Actor); err != nil {
			return false, err
		}
		previous = order.Status
		if order.Status == target {
			updated = *order
			return false, nil
		}
		if target == domain.OrderStatusCancelled && order.Status == domain.OrderStatusDelivered {
			return false, fmt.Errorf("%w: cannot cancel delivered order", ErrOrderInvalidState)
		}
		if err := transitionOrder(ctx, tx, order, target, s.clock()); err != nil {
			return false, err
		}
		updated = *order
		return true, nil
	})
	if err != nil {
		return Order{}, err
	}
	if previous != updated.Status {
		s.logger(ctx, "order.status.updated", map[string]any{
			"orderId": updated.ID,
			"from":    string(previous),
			"to":      string(updated.Status),
			"actor":   cmd.Actor.UserID,
		})
		s.publishTransition(ctx, updated, previous, cmd.Actor.UserID)
	}
	return updated, nil
}

// CancelOrder is the customer self-service cancellation.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	var (
		updated  Order
		previous domain.OrderStatus
	)
	err := s.withOrder(ctx, cmd.OrderID, func(ctx context.Context, tx repositories.Tx, order *Order) (bool, error) {
		if order.UserID != uid {
			return false, ErrOrderForbidden
		}
		switch order.Status {
		case domain.OrderStatusCancelled:
			return false, ErrOrderAlreadyCancelled
		case domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusRefunded:
			return false, fmt.Errorf("%w: cannot cancel %s order", ErrOrderInvalidState, order.Status)
		}
		previous = order.Status
		if err := transitionOrder(ctx, tx, order, domain.OrderStatusCancelled, s.clock()); err != nil {
			return false, err
		}
		updated = *order
		return true, nil
	})
	if err != nil {
		return Order{}, err
	}
	s.logger(ctx, "order.cancelled", map[string]any{"orderId": updated.ID, "userId": uid, "from": string(previous)})
	s.publishTransition(ctx, updated, previous, uid)
	return updated, nil
}

// DeleteOrder soft-deletes an order, running the same compensation as a cancellation.
func (s *orderService) DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) (Order, error) {
	if !cmd.Actor.IsStaff() {
		return Order{}, ErrOrderForbidden
	}
	var (
		updated  Order
		previous domain.OrderStatus
	)
	err := s.withOrder(ctx, cmd.OrderID, func(ctx context.Context, tx repositories.Tx, order *Order) (bool, error) {
		if err := authorizeOrderWrite(*order, cmd.Actor); err != nil {
			return false, err
		}
		switch order.Status {
		case domain.OrderStatusCancelled:
			return false, ErrOrderAlreadyCancelled
		case domain.OrderStatusShipped, domain.OrderStatusDelivered:
			return false, fmt.Errorf("%w: cannot delete %s order", ErrOrderInvalidState, order.Status)
		}
		now := s.clock()
		previous = order.Status
		if err := transitionOrder(ctx, tx, order, domain.OrderStatusCancelled, now); err != nil {
			return false, err
		}
		order.StoreDeletedAt = domain.TimePtr(now)
		order.Lifecycle = domain.LifecycleDeleted
		updated = *order
		return true, nil
	})
	if err != nil {
		return Order{}, err
	}
	s.logger(ctx, "order.deleted", map[string]any{"orderId": updated.ID, "actor": cmd.Actor.UserID})
	s.publishTransition(ctx, updated, previous, cmd.Actor.UserID)
	return updated, nil
}

// UpdateOrderItem edits one line after checkout. The snapshot price is kept unless the quantity
// changes, in which case the line is re-priced at the product's current price.
func (s *orderService) UpdateOrderItem(ctx context.Context, cmd UpdateOrderItemCommand) (Order, error) {
	if !cmd.Actor.IsStaff() {
		return Order{}, ErrOrderForbidden
	}
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return Order{}, fmt.Errorf("%w: item id is required", ErrOrderInvalidInput)
	}
	if cmd.Quantity == nil && cmd.Name == nil && cmd.Image == nil {
		return Order{}, fmt.Errorf("%w: nothing to update", ErrOrderInvalidInput)
	}
	if cmd.Quantity != nil && *cmd.Quantity < 1 {
		return Order{}, fmt.Errorf("%w: quantity must be at least 1", ErrOrderInvalidInput)
	}
	var name string
	if cmd.Name != nil {
		name = strings.TrimSpace(*cmd.Name)
		if name == "" {
			return Order{}, fmt.Errorf("%w: name must not be empty", ErrOrderInvalidInput)
		}
	}

	var imageURL string
	if cmd.Image != nil {
		current, err := s.GetOrder(ctx, cmd.OrderID, cmd.Actor)
		if err != nil {
			return Order{}, err
		}
		if err := checkOrderEditable(current); err != nil {
			return Order{}, err
		}
		if s.assets == nil {
			return Order{}, errors.New("order: asset store is not configured")
		}
		imageURL, err = s.assets.StoreOrderItemImage(ctx, current.ID, itemID, *cmd.Image)
		if err != nil {
			return Order{}, fmt.Errorf("order: store item image: %w", err)
		}
	}

	var updated Order
	err := s.withOrder(ctx, cmd.OrderID, func(ctx context.Context, tx repositories.Tx, order *Order) (bool, error) {
		if err := authorizeOrderWrite(*order, cmd.Actor); err != nil {
			return false, err
		}
		if err := checkOrderEditable(*order); err != nil {
			return false, err
		}
		idx := -1
		for i := range order.Items {
			if order.Items[i].ID == itemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false, fmt.Errorf("%w: %s", ErrOrderItemNotFound, itemID)
		}
		item := &order.Items[idx]
		now := s.clock()

		if cmd.Quantity != nil && *cmd.Quantity != item.Quantity {
			product, err := tx.GetProduct(ctx, item.ProductID)
			if err != nil {
				if repositories.IsNotFound(err) {
					return false, fmt.Errorf("%w: product %s no longer exists", ErrInvalidSelection, item.ProductID)
				}
				return false, err
			}
			if err := resizeLineStock(&product, item, *cmd.Quantity); err != nil {
				return false, err
			}
			if err := tx.PutProduct(ctx, product); err != nil {
				return false, err
			}
			item.Price = currentLinePrice(product, item.Variant, now)
			item.Quantity = *cmd.Quantity
		}
		if cmd.Name != nil {
			item.Name = name
		}
		if imageURL != "" {
			item.Image = imageURL
		}

		var subtotal int64
		for _, line := range order.Items {
			subtotal += line.LineTotal()
		}
		charges := s.pricing.EditCharges(subtotal)
		order.Subtotal = subtotal
		order.ShippingFee = charges.ShippingFee
		order.Tax = charges.Tax
		order.TotalAmount = max(0, subtotal-order.Discount+charges.ShippingFee+charges.Tax)
		order.UpdatedAt = now
		updated = *order
		return true, nil
	})
	if err != nil {
		return Order{}, err
	}
	s.logger(ctx, "order.item.updated", map[string]any{
		"orderId": updated.ID,
		"itemId":  itemID,
		"total":   updated.TotalAmount,
	})
	return updated, nil
}

// MarkStoreDeleted flags every order carrying the store's items after the store is removed.
func (s *orderService) MarkStoreDeleted(ctx context.Context, storeID string) (int, error) {
	sid := strings.TrimSpace(storeID)
	if sid == "" {
		return 0, fmt.Errorf("%w: store id is required", ErrOrderInvalidInput)
	}
	count, err := s.orders.MarkStoreDeleted(ctx, sid, s.clock())
	if err != nil {
		return count, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	s.logger(ctx, "order.store.deleted", map[string]any{"storeId": sid, "orders": count})
	return count, nil
}

// withOrder loads the order inside a transaction, runs fn, and persists the order when fn reports
// a change.
func (s *orderService) withOrder(ctx context.Context, orderID string, fn func(context.Context, repositories.Tx, *Order) (bool, error)) error {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		order, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		changed, err := fn(ctx, tx, &order)
		if err != nil || !changed {
			return err
		}
		return tx.PutOrder(ctx, order)
	})
	return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
}

func (s *orderService) mapListError(err error) error {
	if errors.Is(err, pagination.ErrInvalidPageToken) || errors.Is(err, pagination.ErrInvalidPageSize) {
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
}

func (s *orderService) publishTransition(ctx context.Context, order Order, previous domain.OrderStatus, actor string) {
	eventType := OrderEventStatusChanged
	if order.Status == domain.OrderStatusCancelled {
		eventType = OrderEventCancelled
	}
	s.publishEvent(ctx, eventType, order, previous, actor)
}

func (s *orderService) publishEvent(ctx context.Context, eventType string, order Order, previous domain.OrderStatus, actor string) {
	publishOrderEvent(ctx, s.events, s.logger, eventType, order, previous, actor, s.clock())
}

func publishOrderEvent(ctx context.Context, events OrderEventPublisher, logger func(context.Context, string, map[string]any), eventType string, order Order, previous domain.OrderStatus, actor string, at time.Time) {
	if events == nil {
		return
	}
	event := OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		UserID:         order.UserID,
		StoreIDs:       order.StoreIDs(),
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		ActorID:        actor,
		TotalAmount:    order.TotalAmount,
		Currency:       order.Currency,
		OccurredAt:     at,
	}
	if err := events.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func authorizeOrderRead(order Order, actor Principal) error {
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RoleVendor:
		if order.HasStore(actor.StoreID) {
			return nil
		}
	default:
		if actor.UserID != "" && order.UserID == actor.UserID {
			return nil
		}
	}
	return ErrOrderForbidden
}

func authorizeOrderWrite(order Order, actor Principal) error {
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RoleVendor:
		if order.HasStore(actor.StoreID) {
			return nil
		}
	}
	return ErrOrderForbidden
}

func checkOrderEditable(order Order) error {
	switch order.Status {
	case domain.OrderStatusCancelled, domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusRefunded:
		return fmt.Errorf("%w: cannot edit %s order", ErrOrderInvalidState, order.Status)
	}
	return nil
}

// currentLinePrice prices a line at the product's current base price plus the modifiers of the
// options still on sale. Options removed since checkout contribute nothing.
func currentLinePrice(product domain.Product, selection domain.VariantSelection, asOf time.Time) int64 {
	price := EffectiveBasePrice(product, asOf)
	for _, attr := range selection {
		if option, ok := product.FindOption(attr.Name, attr.Value); ok {
			price += option.PriceModifier
		}
	}
	return price
}
