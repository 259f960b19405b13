package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatorAcceptsWellFormedBodies(t *testing.T) {
	v := MustNew()
	cases := map[string]string{
		CartItems:       `{"items":[{"productId":"p1","quantity":2,"variant":[{"name":"color","value":"red"}]}]}`,
		CartItem:        `{"productId":"p1","quantity":1}`,
		CartCoupon:      `{"couponId":"c1"}`,
		OrderCreate:     `{"paymentMethod":"cash_on_delivery","shippingAddress":{"street":"1 Main","city":"Austin","postalCode":"78701","country":"US"}}`,
		OrderItemUpdate: `{"quantity":3}`,
		PaymentCreate:   `{"orderId":"ord_1","method":"credit_card"}`,
		StatusUpdate:    `{"status":"shipped"}`,
	}
	for name, body := range cases {
		require.NoError(t, v.Validate(name, []byte(body)), name)
	}
	require.NoError(t, v.Validate(OrderCreate, []byte(`{}`)), "empty order body uses defaults")
}

func TestValidatorReportsFieldErrors(t *testing.T) {
	v := MustNew()

	err := v.Validate(CartItem, []byte(`{"productId":"","quantity":0,"extra":true}`))
	var verr *Error
	require.True(t, errors.As(err, &verr), "expected *Error, got %v", err)

	fields := map[string]bool{}
	for _, f := range verr.Fields {
		fields[f.Field] = true
	}
	require.True(t, fields["/productId"], "missing productId violation: %+v", verr.Fields)
	require.True(t, fields["/quantity"], "missing quantity violation: %+v", verr.Fields)

	err = v.Validate(CartItems, []byte(`{"items":[{"productId":"p1","quantity":1,"variant":[{"name":"color"}]}]}`))
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "/items/0/variant/0", verr.Fields[0].Field)

	err = v.Validate(OrderItemUpdate, []byte(`{}`))
	require.ErrorAs(t, err, &verr)
}

func TestValidatorMalformedAndUnknown(t *testing.T) {
	v := MustNew()

	var verr *Error
	require.ErrorAs(t, v.Validate(CartCoupon, []byte(`{"couponId":`)), &verr)
	require.Equal(t, "/", verr.Fields[0].Field)

	require.ErrorIs(t, v.Validate("nope", []byte(`{}`)), ErrUnknownSchema)
}
