package redemption

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-cart-coupons/internal/domain"
)

// memStore is a single-process stand-in for the CockroachDB repository.
type memStore struct {
	mu          sync.Mutex
	carts       map[uuid.UUID]*domain.Cart
	coupons     map[uuid.UUID]*domain.Coupon
	redemptions map[uuid.UUID]*domain.CouponRedemption
	checkouts   map[uuid.UUID]*domain.Checkout
	checkedOut  map[uuid.UUID]bool
	lookups     int
}

func newMemStore() *memStore {
	return &memStore{
		carts:       map[uuid.UUID]*domain.Cart{},
		coupons:     map[uuid.UUID]*domain.Coupon{},
		redemptions: map[uuid.UUID]*domain.CouponRedemption{},
		checkouts:   map[uuid.UUID]*domain.Checkout{},
		checkedOut:  map[uuid.UUID]bool{},
	}
}

func (m *memStore) addCart(userID uuid.UUID, items ...domain.CartItem) *domain.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart := &domain.Cart{ID: uuid.New(), UserID: userID}
	for _, it := range items {
		it.CartID = cart.ID
		cart.Items = append(cart.Items, it)
	}
	m.carts[cart.ID] = cart
	cp := *cart
	cp.Items = append([]domain.CartItem(nil), cart.Items...)
	return &cp
}

func (m *memStore) GetCart(_ context.Context, cartID uuid.UUID) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[cartID]
	if !ok || m.checkedOut[cartID] {
		return nil, errors.Wrapf(domain.ErrNotFound, "cart %s", cartID)
	}
	cp := *cart
	cp.Items = append([]domain.CartItem(nil), cart.Items...)
	return &cp, nil
}

func (m *memStore) Clear(ctx context.Context, cartID uuid.UUID) (*domain.CouponRedemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[cartID]
	if !ok || m.checkedOut[cartID] {
		return nil, domain.ErrNotFound
	}
	if m.pendingLocked(cartID) != nil {
		return nil, domain.ErrConflict
	}
	cart.Items = nil
	if red := m.activeLocked(cartID); red != nil {
		rel, _, err := m.releaseLocked(red.ID)
		return &rel, err
	}
	return nil, nil
}

func (m *memStore) Lookup(_ context.Context, code string) (*domain.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	for _, c := range m.coupons {
		if domain.NormalizeCode(c.Code) == domain.NormalizeCode(code) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrCouponNotFound
}

func (m *memStore) GetCoupon(_ context.Context, id uuid.UUID) (*domain.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[id]
	if !ok {
		return nil, domain.ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) SaveCoupon(_ context.Context, c domain.Coupon) (*domain.Coupon, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if old, ok := m.coupons[c.ID]; ok {
		c.RedemptionCount = old.RedemptionCount
	}
	m.coupons[c.ID] = &c
	cp := c
	return &cp, nil
}

func (m *memStore) Reserve(_ context.Context, couponID, cartID, userID uuid.UUID) (domain.ReserveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.openLocked(cartID); err != nil {
		return domain.ReserveResult{}, err
	}
	c, ok := m.coupons[couponID]
	if !ok {
		return domain.ReserveResult{}, domain.ErrCouponNotFound
	}
	if red := m.activeLocked(cartID); red != nil {
		if red.CouponID == couponID {
			return domain.ReserveResult{Redemption: *red, AlreadyReserved: true}, nil
		}
		return domain.ReserveResult{}, domain.ErrCouponAlreadyApplied
	}
	if !c.IsActive {
		return domain.ReserveResult{}, domain.ErrCouponInactive
	}
	if c.MaxRedemptions != nil && c.RedemptionCount >= *c.MaxRedemptions {
		return domain.ReserveResult{}, domain.ErrRedemptionLimitReached
	}
	c.RedemptionCount++
	red := domain.NewRedemption(couponID, cartID, userID, time.Now())
	m.redemptions[red.ID] = &red
	return domain.ReserveResult{Redemption: red}, nil
}

func (m *memStore) Release(_ context.Context, id uuid.UUID, _ string) (domain.CouponRedemption, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if red, ok := m.redemptions[id]; ok && red.Status.HoldsSlot() && m.pendingLocked(red.CartID) != nil {
		return *red, false, domain.ErrConflict
	}
	return m.releaseLocked(id)
}

func (m *memStore) releaseLocked(id uuid.UUID) (domain.CouponRedemption, bool, error) {
	red, ok := m.redemptions[id]
	if !ok {
		return domain.CouponRedemption{}, false, domain.ErrNotFound
	}
	if red.Status == domain.RedemptionCanceled {
		return *red, false, nil
	}
	if err := red.Transition(domain.RedemptionCanceled, time.Now()); err != nil {
		return *red, false, err
	}
	m.coupons[red.CouponID].RedemptionCount--
	return *red, true, nil
}

func (m *memStore) ActiveForCart(_ context.Context, cartID uuid.UUID) (*domain.CouponRedemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if red := m.activeLocked(cartID); red != nil {
		cp := *red
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) activeLocked(cartID uuid.UUID) *domain.CouponRedemption {
	for _, red := range m.redemptions {
		if red.CartID == cartID && red.Status.HoldsSlot() {
			return red
		}
	}
	return nil
}

func (m *memStore) CreateCheckout(_ context.Context, c domain.Checkout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.openLocked(c.CartID); err != nil {
		return err
	}
	cart, ok := m.carts[c.CartID]
	if !ok {
		return domain.ErrNotFound
	}
	var active *uuid.UUID
	if red := m.activeLocked(c.CartID); red != nil {
		active = &red.ID
	}
	if !c.Matches(*cart, active) {
		return domain.ErrConflict
	}
	m.checkouts[c.ID] = &c
	return nil
}

func (m *memStore) openLocked(cartID uuid.UUID) error {
	if m.checkedOut[cartID] {
		return domain.ErrNotFound
	}
	if m.pendingLocked(cartID) != nil {
		return domain.ErrConflict
	}
	return nil
}

func (m *memStore) GetCheckout(_ context.Context, id uuid.UUID) (*domain.Checkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.checkouts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) pendingLocked(cartID uuid.UUID) *domain.Checkout {
	for _, c := range m.checkouts {
		if c.CartID == cartID && c.Status == domain.CheckoutPending {
			return c
		}
	}
	return nil
}

func (m *memStore) CompleteCheckout(_ context.Context, cartID uuid.UUID) (*domain.Checkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.pendingLocked(cartID)
	if c == nil {
		return nil, domain.ErrNotFound
	}
	if c.RedemptionID != nil {
		red := m.redemptions[*c.RedemptionID]
		if err := red.Transition(domain.RedemptionApplied, time.Now()); err != nil {
			return nil, err
		}
	}
	c.Status = domain.CheckoutPaid
	m.carts[cartID].Items = nil
	m.checkedOut[cartID] = true
	cp := *c
	return &cp, nil
}

func (m *memStore) FailCheckout(_ context.Context, cartID uuid.UUID) (*domain.Checkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.pendingLocked(cartID)
	if c == nil {
		return nil, domain.ErrNotFound
	}
	if c.RedemptionID != nil {
		if _, _, err := m.releaseLocked(*c.RedemptionID); err != nil {
			return nil, err
		}
	}
	c.Status = domain.CheckoutFailed
	cp := *c
	return &cp, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) LogRedemption(_ context.Context, action string, _ domain.CouponRedemption) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return nil
}

func (a *recordingAudit) LogCheckout(_ context.Context, action string, _ domain.Checkout) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return nil
}

type recordingSales struct {
	sold map[uuid.UUID]int
}

func (s *recordingSales) RecordSale(_ context.Context, eventID uuid.UUID, quantity int) error {
	s.sold[eventID] += quantity
	return nil
}

type mapCache struct {
	entries map[string]domain.Coupon
}

func (c *mapCache) GetCoupon(_ context.Context, code string) (*domain.Coupon, error) {
	e, ok := c.entries[domain.NormalizeCode(code)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (c *mapCache) SetCoupon(_ context.Context, coupon domain.Coupon) error {
	c.entries[domain.NormalizeCode(coupon.Code)] = coupon
	return nil
}

func (c *mapCache) InvalidateCoupon(_ context.Context, code string) error {
	delete(c.entries, domain.NormalizeCode(code))
	return nil
}
