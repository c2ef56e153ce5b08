package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-cart-coupons/internal/domain"
	"github.com/robertarktes/ticket-cart-coupons/internal/idempotency"
	"github.com/robertarktes/ticket-cart-coupons/internal/payments"
)

type Engine interface {
	ApplyCoupon(ctx context.Context, cartID, userID uuid.UUID, code string) (domain.Quote, error)
	RemoveCoupon(ctx context.Context, cartID, userID uuid.UUID) (domain.Quote, error)
	Quote(ctx context.Context, cartID uuid.UUID) (domain.Quote, error)
	ClearCart(ctx context.Context, cartID, userID uuid.UUID) error
	BeginCheckout(ctx context.Context, cartID, userID uuid.UUID) (*domain.Checkout, error)
	HandlePaymentResult(ctx context.Context, checkoutID uuid.UUID, succeeded bool) (*domain.Checkout, error)
}

type Carts interface {
	AddItem(ctx context.Context, cartID, userID uuid.UUID, event domain.Event, quantity int) (domain.CartItem, error)
	RemoveItem(ctx context.Context, cartID, userID, itemID uuid.UUID) error
	GetCart(ctx context.Context, cartID uuid.UUID) (*domain.Cart, error)
}

type Catalog interface {
	GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error)
}

type Checkouts interface {
	GetCheckout(ctx context.Context, id uuid.UUID) (*domain.Checkout, error)
}

type CouponAdmin interface {
	SaveCoupon(ctx context.Context, c domain.Coupon) (*domain.Coupon, error)
}

type Idempotency interface {
	Get(ctx context.Context, key string) (*idempotency.Response, error)
	Set(ctx context.Context, key string, resp idempotency.Response) error
}

// ReadyCheck reports whether a backing service is reachable.
type ReadyCheck func(ctx context.Context) error

type Deps struct {
	Engine      Engine
	Carts       Carts
	Catalog     Catalog
	Checkouts   Checkouts
	Coupons     CouponAdmin
	Idempotency Idempotency
	Ready       map[string]ReadyCheck
}

type Handlers struct {
	engine    Engine
	carts     Carts
	catalog   Catalog
	checkouts Checkouts
	coupons   CouponAdmin
	idemp     Idempotency
	ready     map[string]ReadyCheck
}

func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		engine:    deps.Engine,
		carts:     deps.Carts,
		catalog:   deps.Catalog,
		checkouts: deps.Checkouts,
		coupons:   deps.Coupons,
		idemp:     deps.Idempotency,
		ready:     deps.Ready,
	}
}

func (h *Handlers) AddItem(w http.ResponseWriter, r *http.Request) {
	cartID, ok := uuidParam(w, r, "cartID")
	if !ok {
		return
	}
	var req struct {
		UserID   uuid.UUID `json:"user_id"`
		EventID  uuid.UUID `json:"event_id"`
		Quantity int       `json:"quantity"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == uuid.Nil || req.EventID == uuid.Nil || req.Quantity <= 0 {
		writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "user_id, event_id and a positive quantity are required"))
		return
	}

	event, err := h.catalog.GetEvent(r.Context(), req.EventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	item, err := h.carts.AddItem(r.Context(), cartID, req.UserID, event, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, itemView(item))
}

func (h *Handlers) RemoveItem(w http.ResponseWriter, r *http.Request) {
	cartID, ok := uuidParam(w, r, "cartID")
	if !ok {
		return
	}
	itemID, ok := uuidParam(w, r, "itemID")
	if !ok {
		return
	}
	userID, ok := userQuery(w, r)
	if !ok {
		return
	}
	if err := h.carts.RemoveItem(r.Context(), cartID, userID, itemID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	cartID, ok := uuidParam(w, r, "cartID")
	if !ok {
		return
	}
	userID, ok := userQuery(w, r)
	if !ok {
		return
	}
	if err := h.engine.ClearCart(r.Context(), cartID, userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	cartID, ok := uuidParam(w, r, "cartID")
	if !ok {
		return
	}
	cart, err := h.carts.GetCart(r.Context(), cartID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	quote, err := h.engine.Quote(r.Context(), cartID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]itemResponse, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, itemView(item))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cart_id": cart.ID,
		"user_id": cart.UserID,
		"items":   items,
		"quote":   quoteView(quote),
	})
}

func (h *Handlers) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	cartID, ok := uuidParam(w, r, "cartID")
	if !ok {
		return
	}
	var req struct {
		UserID uuid.UUID `json:"user_id"`
		Code   string    `json:"code"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == uuid.Nil || domain.NormalizeCode(req.Code) == "" {
		writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "user_id and code are required"))
		return
	}

	quote, err := h.engine.ApplyCoupon(r.Context(), cartID, req.UserID, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if quote.AlreadyReserved {
		status = http.StatusOK
	}
	writeJSON(w, status, quoteView(quote))
}

func (h *Handlers) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	cartID, ok := uuidParam(w, r, "cartID")
	if !ok {
		return
	}
	userID, ok := userQuery(w, r)
	if !ok {
		return
	}
	quote, err := h.engine.RemoveCoupon(r.Context(), cartID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteView(quote))
}

// CreateCheckout replays the stored response when the Idempotency-Key was
// already used.
func (h *Handlers) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(IdempotencyHeader)
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req struct {
		CartID uuid.UUID `json:"cart_id"`
		UserID uuid.UUID `json:"user_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.CartID == uuid.Nil || req.UserID == uuid.Nil {
		writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "cart_id and user_id are required"))
		return
	}

	c, err := h.engine.BeginCheckout(r.Context(), req.CartID, req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	data, err := json.Marshal(checkoutView(*c))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	w.Write(data)

	if err := h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusAccepted, Result: data}); err != nil {
		loggerFrom(r.Context()).WithError(err).Warn("failed to store idempotent response")
	}
}

func (h *Handlers) GetCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	c, err := h.checkouts.GetCheckout(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutView(*c))
}

func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, errors.Wrap(domain.ErrInvalidInput, err.Error()))
		return
	}
	res, succeeded, err := payments.ParseResult(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.engine.HandlePaymentResult(r.Context(), res.CheckoutID, succeeded)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutView(*c))
}

func (h *Handlers) SaveCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if !decode(w, r, &req) {
		return
	}
	coupon, err := req.toDomain()
	if err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := h.coupons.SaveCoupon(r.Context(), coupon)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, couponView(*saved))
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readyz fails if any backing service does not answer within two seconds.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.ready {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"unavailable": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
