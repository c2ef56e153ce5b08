package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is the catalog view of an event at the moment an item is added.
type Event struct {
	ID         uuid.UUID
	Title      string
	Date       time.Time
	CategoryID uuid.UUID
	Capacity   int
	Remaining  int
	UnitPrice  Money
}

type CartItem struct {
	ID         uuid.UUID
	CartID     uuid.UUID
	EventID    uuid.UUID
	EventTitle string
	EventDate  time.Time
	CategoryID uuid.UUID
	Quantity   int
	// UnitPrice is captured when the item is first added and never
	// re-read from the catalog afterwards.
	UnitPrice Money
	AddedAt   time.Time
}

func (i CartItem) Subtotal() Money {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Cart struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Items     []CartItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c Cart) Subtotal() Money {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// QuantityFor returns how many tickets of the event the cart already holds.
func (c Cart) QuantityFor(eventID uuid.UUID) int {
	n := 0
	for _, item := range c.Items {
		if item.EventID == eventID {
			n += item.Quantity
		}
	}
	return n
}

func NewCartItem(cartID uuid.UUID, event Event, quantity int, now time.Time) CartItem {
	return CartItem{
		ID:         uuid.New(),
		CartID:     cartID,
		EventID:    event.ID,
		EventTitle: event.Title,
		EventDate:  event.Date,
		CategoryID: event.CategoryID,
		Quantity:   quantity,
		UnitPrice:  event.UnitPrice,
		AddedAt:    now,
	}
}
