package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/marketplace/internal/domain"
	"github.com/hanko-field/marketplace/internal/repositories"
)

var (
	errCartUnitOfWorkRequired = errors.New("cart service: unit of work is required")
	errCartRepositoryRequired = errors.New("cart service: repository is required")
)

// CartServiceDeps wires the repository and clock dependencies for cart operations.
type CartServiceDeps struct {
	UnitOfWork  repositories.UnitOfWork
	Carts       repositories.CartRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type cartService struct {
	uow    repositories.UnitOfWork
	carts  repositories.CartRepository
	now    func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.UnitOfWork == nil {
		return nil, errCartUnitOfWorkRequired
	}
	if deps.Carts == nil {
		return nil, errCartRepositoryRequired
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
	return &cartService{
		uow:    deps.UnitOfWork,
		carts:  deps.Carts,
		now:    func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

// GetCart returns the user's cart. A user without a cart gets an empty, unsaved one.
func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	cart, err := s.carts.GetCart(ctx, uid)
	if err != nil {
		if repositories.IsNotFound(err) {
			return s.emptyCart(uid), nil
		}
		return Cart{}, mapRepositoryError(err, nil, ErrCartConflict)
	}
	if cart.Lifecycle.IsDeleted() {
		return s.emptyCart(uid), nil
	}
	return cart, nil
}

func (s *cartService) SetItems(ctx context.Context, cmd SetCartItemsCommand) (Cart, error) {
	for _, item := range cmd.Items {
		if err := validateItemInput(item); err != nil {
			return Cart{}, err
		}
	}
	return s.mutate(ctx, cmd.UserID, "cart.items.set", func(ctx context.Context, m *cartMutation) error {
		previous := m.cart.Items
		items := make([]CartItem, 0, len(cmd.Items))
		for _, input := range cmd.Items {
			idx := indexOfLine(items, input.ProductID, input.Variant)
			if idx >= 0 {
				items[idx].Quantity += input.Quantity
				continue
			}
			id := s.newID()
			if prev := indexOfLine(previous, input.ProductID, input.Variant); prev >= 0 {
				id = previous[prev].ID
			}
			items = append(items, CartItem{
				ID:        id,
				ProductID: strings.TrimSpace(input.ProductID),
				Quantity:  input.Quantity,
				Variant:   input.Variant.Clone(),
			})
		}
		for i := range items {
			if err := m.price(ctx, &items[i]); err != nil {
				return err
			}
		}
		m.cart.Items = items
		return nil
	})
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	if err := validateItemInput(cmd.Item); err != nil {
		return Cart{}, err
	}
	return s.mutate(ctx, cmd.UserID, "cart.items.add", func(ctx context.Context, m *cartMutation) error {
		if idx := indexOfLine(m.cart.Items, cmd.Item.ProductID, cmd.Item.Variant); idx >= 0 {
			line := m.cart.Items[idx]
			line.Quantity += cmd.Item.Quantity
			if err := m.price(ctx, &line); err != nil {
				return err
			}
			m.cart.Items[idx] = line
			return nil
		}
		line := CartItem{
			ID:        s.newID(),
			ProductID: strings.TrimSpace(cmd.Item.ProductID),
			Quantity:  cmd.Item.Quantity,
			Variant:   cmd.Item.Variant.Clone(),
		}
		if err := m.price(ctx, &line); err != nil {
			return err
		}
		m.cart.Items = append(m.cart.Items, line)
		return nil
	})
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return Cart{}, fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}
	return s.mutate(ctx, cmd.UserID, "cart.items.remove", func(_ context.Context, m *cartMutation) error {
		for i, item := range m.cart.Items {
			if item.ID == itemID {
				m.cart.Items = append(m.cart.Items[:i], m.cart.Items[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrCartItemNotFound, itemID)
	})
}

func (s *cartService) ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (Cart, error) {
	couponID := strings.TrimSpace(cmd.CouponID)
	if couponID == "" {
		return Cart{}, fmt.Errorf("%w: coupon id is required", ErrCartInvalidInput)
	}
	return s.mutate(ctx, cmd.UserID, "cart.coupon.apply", func(_ context.Context, m *cartMutation) error {
		m.cart.CouponID = couponID
		return nil
	})
}

func (s *cartService) RemoveCoupon(ctx context.Context, userID string) (Cart, error) {
	return s.mutate(ctx, userID, "cart.coupon.remove", func(_ context.Context, m *cartMutation) error {
		m.cart.CouponID = ""
		return nil
	})
}

// DeleteCart soft-deletes the cart. The next mutation starts a fresh one.
func (s *cartService) DeleteCart(ctx context.Context, userID string) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		cart, err := tx.GetCart(ctx, uid)
		if err != nil {
			return err
		}
		if cart.Lifecycle.IsDeleted() {
			return nil
		}
		cart.Items = nil
		cart.CouponID = ""
		cart.Total, cart.Discount, cart.TotalAfterDiscount = 0, 0, 0
		cart.Lifecycle = domain.LifecycleDeleted
		cart.UpdatedAt = s.now()
		return tx.PutCart(ctx, cart)
	})
	if err != nil {
		return mapRepositoryError(err, ErrCartItemNotFound, ErrCartConflict)
	}
	s.logger(ctx, "cart.deleted", map[string]any{"userId": uid})
	return nil
}

// cartMutation is the state shared by a mutation body and the recompute step that follows it.
type cartMutation struct {
	tx       repositories.Tx
	cart     *Cart
	asOf     time.Time
	products map[string]domain.Product
}

func (m *cartMutation) product(ctx context.Context, productID string) (domain.Product, error) {
	if product, ok := m.products[productID]; ok {
		return product, nil
	}
	product, err := m.tx.GetProduct(ctx, productID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Product{}, fmt.Errorf("%w: %s", ErrCartProductAbsent, productID)
		}
		return domain.Product{}, err
	}
	m.products[productID] = product
	return product, nil
}

// price resolves the line against the current product and updates its price and SKU.
func (m *cartMutation) price(ctx context.Context, line *CartItem) error {
	product, err := m.product(ctx, line.ProductID)
	if err != nil {
		return err
	}
	resolved, err := ResolvePrice(product, line.Variant, line.Quantity, m.asOf)
	if err != nil {
		return fmt.Errorf("product %s: %w", line.ProductID, err)
	}
	line.Price = resolved.UnitPrice
	line.SKU = resolved.SKU
	return nil
}

func (s *cartService) mutate(ctx context.Context, userID, event string, fn func(context.Context, *cartMutation) error) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	var saved Cart
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		now := s.now()
		cart, err := tx.GetCart(ctx, uid)
		switch {
		case repositories.IsNotFound(err):
			cart = s.emptyCart(uid)
		case err != nil:
			return err
		case cart.Lifecycle.IsDeleted():
			created := cart.CreatedAt
			cart = s.emptyCart(uid)
			cart.CreatedAt = created
		}

		m := &cartMutation{tx: tx, cart: &cart, asOf: now, products: map[string]domain.Product{}}
		if err := fn(ctx, m); err != nil {
			return err
		}
		if err := recomputeCart(ctx, m); err != nil {
			return err
		}
		cart.UpdatedAt = now
		if err := tx.PutCart(ctx, cart); err != nil {
			return err
		}
		saved = cart
		return nil
	})
	if err != nil {
		s.logger(ctx, event+".failed", map[string]any{"userId": uid, "error": err.Error()})
		return Cart{}, mapRepositoryError(err, nil, ErrCartConflict)
	}
	s.logger(ctx, event, map[string]any{
		"userId":             uid,
		"items":              len(saved.Items),
		"total":              saved.Total,
		"totalAfterDiscount": saved.TotalAfterDiscount,
	})
	return saved, nil
}

// recomputeCart refreshes the derived totals and re-validates an attached coupon. An attached
// coupon that is no longer eligible fails the mutation.
func recomputeCart(ctx context.Context, m *cartMutation) error {
	cart := m.cart
	var total int64
	for _, item := range cart.Items {
		total += item.LineTotal()
	}
	cart.Total = total
	cart.Discount = 0

	if cart.CouponID != "" {
		discount, err := evaluateCartCoupon(ctx, m)
		if err != nil {
			return err
		}
		cart.Discount = discount
	}
	cart.TotalAfterDiscount = max(0, cart.Total-cart.Discount)
	return nil
}

func evaluateCartCoupon(ctx context.Context, m *cartMutation) (int64, error) {
	coupon, err := m.tx.GetCoupon(ctx, m.cart.CouponID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrCouponNotFound, m.cart.CouponID)
		}
		return 0, err
	}
	used, err := m.tx.HasCouponUsage(ctx, coupon.ID, m.cart.UserID)
	if err != nil {
		return 0, err
	}
	input := CouponContext{Total: m.cart.Total, UsedByUser: used}
	if len(coupon.Scope) > 0 {
		for _, item := range m.cart.Items {
			product, err := m.product(ctx, item.ProductID)
			if err != nil {
				return 0, err
			}
			input.Products = append(input.Products, product)
		}
	}
	return EvaluateCoupon(&coupon, input, m.asOf)
}

func (s *cartService) emptyCart(userID string) Cart {
	now := s.now()
	return Cart{
		ID:        userID,
		UserID:    userID,
		Lifecycle: domain.LifecycleActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func validateItemInput(item CartItemInput) error {
	if strings.TrimSpace(item.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if item.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidSelection)
	}
	return nil
}

func indexOfLine(items []CartItem, productID string, variant domain.VariantSelection) int {
	productID = strings.TrimSpace(productID)
	for i, item := range items {
		if item.ProductID == productID && item.Variant.Equal(variant) {
			return i
		}
	}
	return -1
}
