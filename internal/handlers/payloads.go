package handlers

import (
	"github.com/hanko-field/marketplace/internal/platform/money"
	"github.com/hanko-field/marketplace/internal/services"
)

type variantPayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func buildVariant(selection services.VariantSelection) []variantPayload {
	out := make([]variantPayload, 0, len(selection))
	for _, attr := range selection {
		out = append(out, variantPayload{Name: attr.Name, Value: attr.Value})
	}
	return out
}

func parseVariant(in []variantPayload) services.VariantSelection {
	if len(in) == 0 {
		return nil
	}
	out := make(services.VariantSelection, 0, len(in))
	for _, attr := range in {
		out = append(out, services.VariantAttribute{Name: attr.Name, Value: attr.Value})
	}
	return out
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID                 string            `json:"id"`
	Items              []cartItemPayload `json:"items"`
	CouponID           string            `json:"couponId,omitempty"`
	Currency           string            `json:"currency"`
	Total              int64             `json:"total"`
	Discount           int64             `json:"discount"`
	TotalAfterDiscount int64             `json:"totalAfterDiscount"`
	Display            string            `json:"display"`
	UpdatedAt          string            `json:"updatedAt,omitempty"`
}

type cartItemPayload struct {
	ID        string           `json:"id"`
	ProductID string           `json:"productId"`
	Quantity  int              `json:"quantity"`
	Price     int64            `json:"price"`
	LineTotal int64            `json:"lineTotal"`
	SKU       string           `json:"sku,omitempty"`
	Variant   []variantPayload `json:"variant"`
}

func buildCartPayload(cart services.Cart, currency string) cartPayload {
	items := make([]cartItemPayload, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemPayload{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			LineTotal: item.LineTotal(),
			SKU:       item.SKU,
			Variant:   buildVariant(item.Variant),
		})
	}
	return cartPayload{
		ID:                 cart.ID,
		Items:              items,
		CouponID:           cart.CouponID,
		Currency:           currency,
		Total:              cart.Total,
		Discount:           cart.Discount,
		TotalAfterDiscount: cart.TotalAfterDiscount,
		Display:            money.Format(cart.TotalAfterDiscount, currency),
		UpdatedAt:          formatTime(cart.UpdatedAt),
	}
}

type addressPayload struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	UserID          string             `json:"userId"`
	Status          string             `json:"status"`
	Items           []orderItemPayload `json:"items"`
	ShippingAddress addressPayload     `json:"shippingAddress"`
	PaymentMethod   string             `json:"paymentMethod"`
	PaymentID       string             `json:"paymentId,omitempty"`
	CouponID        string             `json:"couponId,omitempty"`
	Currency        string             `json:"currency"`
	Subtotal        int64              `json:"subtotal"`
	Discount        int64              `json:"discount"`
	ShippingFee     int64              `json:"shippingFee"`
	Tax             int64              `json:"tax"`
	TotalAmount     int64              `json:"totalAmount"`
	Display         string             `json:"display"`
	StoreDeleted    bool               `json:"storeDeleted,omitempty"`
	PaidAt          string             `json:"paidAt,omitempty"`
	ShippedAt       string             `json:"shippedAt,omitempty"`
	DeliveredAt     string             `json:"deliveredAt,omitempty"`
	CancelledAt     string             `json:"cancelledAt,omitempty"`
	CreatedAt       string             `json:"createdAt"`
	UpdatedAt       string             `json:"updatedAt"`
}

type orderItemPayload struct {
	ID        string           `json:"id"`
	ProductID string           `json:"productId"`
	StoreID   string           `json:"storeId"`
	Name      string           `json:"name"`
	Quantity  int              `json:"quantity"`
	Price     int64            `json:"price"`
	LineTotal int64            `json:"lineTotal"`
	SKU       string           `json:"sku,omitempty"`
	Image     string           `json:"image,omitempty"`
	Variant   []variantPayload `json:"variant"`
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ID:        item.ID,
			ProductID: item.ProductID,
			StoreID:   item.Store.ID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.Price,
			LineTotal: item.LineTotal(),
			SKU:       item.SKU,
			Image:     item.Image,
			Variant:   buildVariant(item.Variant),
		})
	}
	return orderPayload{
		ID:     order.ID,
		UserID: order.UserID,
		Status: string(order.Status),
		Items:  items,
		ShippingAddress: addressPayload{
			Street:     order.ShippingAddress.Street,
			City:       order.ShippingAddress.City,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		},
		PaymentMethod: string(order.PaymentMethod),
		PaymentID:     order.PaymentID,
		CouponID:      order.CouponID,
		Currency:      order.Currency,
		Subtotal:      order.Subtotal,
		Discount:      order.Discount,
		ShippingFee:   order.ShippingFee,
		Tax:           order.Tax,
		TotalAmount:   order.TotalAmount,
		Display:       money.Format(order.TotalAmount, order.Currency),
		StoreDeleted:  order.StoreDeleted,
		PaidAt:        formatTimePtr(order.PaidAt),
		ShippedAt:     formatTimePtr(order.ShippedAt),
		DeliveredAt:   formatTimePtr(order.DeliveredAt),
		CancelledAt:   formatTimePtr(order.CancelledAt),
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
	}
}

func buildOrderList(page []services.Order, next string) orderListResponse {
	items := make([]orderPayload, 0, len(page))
	for _, order := range page {
		items = append(items, buildOrderPayload(order))
	}
	return orderListResponse{Items: items, NextPageToken: next}
}

type paymentResponse struct {
	Payment     paymentPayload `json:"payment"`
	RedirectURL string         `json:"redirectUrl,omitempty"`
	ExpiresAt   string         `json:"expiresAt,omitempty"`
}

type paymentListResponse struct {
	Items         []paymentPayload `json:"items"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

type paymentPayload struct {
	ID            string `json:"id"`
	OrderID       string `json:"orderId"`
	UserID        string `json:"userId"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Display       string `json:"display"`
	Method        string `json:"method"`
	Status        string `json:"status"`
	Provider      string `json:"provider,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	Error         string `json:"error,omitempty"`
	PaidAt        string `json:"paidAt,omitempty"`
	RefundedAt    string `json:"refundedAt,omitempty"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

func buildPaymentPayload(payment services.Payment) paymentPayload {
	return paymentPayload{
		ID:            payment.ID,
		OrderID:       payment.OrderID,
		UserID:        payment.UserID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Display:       money.Format(payment.Amount, payment.Currency),
		Method:        string(payment.Method),
		Status:        string(payment.Status),
		Provider:      payment.Provider,
		TransactionID: payment.TransactionID,
		SessionID:     payment.SessionID,
		Error:         payment.Error,
		PaidAt:        formatTimePtr(payment.PaidAt),
		RefundedAt:    formatTimePtr(payment.RefundedAt),
		CreatedAt:     formatTime(payment.CreatedAt),
		UpdatedAt:     formatTime(payment.UpdatedAt),
	}
}
