package domain_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-cart-coupons/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkoutCart(t *testing.T) domain.Cart {
	t.Helper()
	cartID := uuid.New()
	event := domain.Event{ID: uuid.New(), Title: "Show", Date: time.Now(), CategoryID: uuid.New(), UnitPrice: domain.MustMoney("12.50")}
	return domain.Cart{
		ID:     cartID,
		UserID: uuid.New(),
		Items:  []domain.CartItem{domain.NewCartItem(cartID, event, 2, time.Now())},
	}
}

func TestNewCheckout_SnapshotsLines(t *testing.T) {
	cart := checkoutCart(t)
	c := domain.NewCheckout(cart, domain.NewQuote(cart, nil, nil), time.Now())

	assert.Equal(t, cart.ID, c.CartID)
	assert.Equal(t, cart.UserID, c.UserID)
	assert.Equal(t, domain.CheckoutPending, c.Status)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, cart.Items[0].EventID, c.Lines[0].EventID)
	assert.Equal(t, 2, c.Lines[0].Quantity)
	assert.True(t, domain.MustMoney("25").Equal(c.Total))

	cart.Items[0].Quantity = 5
	assert.Equal(t, 2, c.Lines[0].Quantity)
}

func TestCheckout_Matches(t *testing.T) {
	cart := checkoutCart(t)
	red := domain.NewRedemption(uuid.New(), cart.ID, cart.UserID, time.Now())
	q := domain.NewQuote(cart, &domain.Coupon{Code: "TEN", Type: domain.DiscountPercent, Value: domain.MustMoney("10")}, &red)
	c := domain.NewCheckout(cart, q, time.Now())

	assert.True(t, c.Matches(cart, &red.ID))
	assert.False(t, c.Matches(cart, nil), "coupon removed")
	other := uuid.New()
	assert.False(t, c.Matches(cart, &other), "coupon swapped")

	grown := cart
	grown.Items = append([]domain.CartItem{}, cart.Items...)
	grown.Items[0].Quantity++
	assert.False(t, c.Matches(grown, &red.ID), "quantity changed")

	grown.Items = append(cart.Items[:1:1], cart.Items[0])
	assert.False(t, c.Matches(grown, &red.ID), "line added")
}
