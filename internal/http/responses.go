package http

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-cart-coupons/internal/domain"
)

const maxBodyBytes = 1 << 20

type itemResponse struct {
	ID         uuid.UUID `json:"id"`
	EventID    uuid.UUID `json:"event_id"`
	EventTitle string    `json:"event_title"`
	EventDate  time.Time `json:"event_date"`
	CategoryID uuid.UUID `json:"category_id"`
	Quantity   int       `json:"quantity"`
	UnitPrice  string    `json:"unit_price"`
	Subtotal   string    `json:"subtotal"`
}

func itemView(i domain.CartItem) itemResponse {
	return itemResponse{
		ID:         i.ID,
		EventID:    i.EventID,
		EventTitle: i.EventTitle,
		EventDate:  i.EventDate,
		CategoryID: i.CategoryID,
		Quantity:   i.Quantity,
		UnitPrice:  money(i.UnitPrice),
		Subtotal:   money(i.Subtotal()),
	}
}

func quoteView(q domain.Quote) map[string]interface{} {
	resp := map[string]interface{}{
		"cart_id":  q.CartID,
		"subtotal": money(q.Subtotal),
		"discount": money(q.Discount),
		"total":    money(q.Total),
	}
	if q.CouponCode != "" {
		resp["coupon_code"] = q.CouponCode
	}
	if q.RedemptionID != nil {
		resp["redemption_id"] = *q.RedemptionID
	}
	if q.AlreadyReserved {
		resp["already_reserved"] = true
	}
	return resp
}

func checkoutView(c domain.Checkout) map[string]interface{} {
	resp := map[string]interface{}{
		"checkout_id": c.ID,
		"cart_id":     c.CartID,
		"user_id":     c.UserID,
		"status":      c.Status,
		"subtotal":    money(c.Subtotal),
		"discount":    money(c.Discount),
		"total":       money(c.Total),
		"created_at":  c.CreatedAt.Format(time.RFC3339),
	}
	if c.RedemptionID != nil {
		resp["redemption_id"] = *c.RedemptionID
	}
	return resp
}

type couponRequest struct {
	ID             uuid.UUID   `json:"id"`
	Code           string      `json:"code"`
	Type           string      `json:"type"`
	Value          string      `json:"value"`
	MaxRedemptions *int        `json:"max_redemptions"`
	IsActive       *bool       `json:"is_active"`
	EventIDs       []uuid.UUID `json:"event_ids"`
	CategoryIDs    []uuid.UUID `json:"category_ids"`
}

func (req couponRequest) toDomain() (domain.Coupon, error) {
	typ, err := domain.ParseDiscountType(req.Type)
	if err != nil {
		return domain.Coupon{}, err
	}
	value, err := domain.NewMoney(req.Value)
	if err != nil {
		return domain.Coupon{}, errors.Wrapf(domain.ErrInvalidInput, "value %q", req.Value)
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	c := domain.Coupon{
		ID:             req.ID,
		Code:           req.Code,
		Type:           typ,
		Value:          value,
		MaxRedemptions: req.MaxRedemptions,
		IsActive:       active,
		EventIDs:       req.EventIDs,
		CategoryIDs:    req.CategoryIDs,
	}
	return c, c.Validate()
}

func couponView(c domain.Coupon) map[string]interface{} {
	resp := map[string]interface{}{
		"id":               c.ID,
		"code":             c.Code,
		"type":             c.Type,
		"value":            c.Value.String(),
		"redemption_count": c.RedemptionCount,
		"is_active":        c.IsActive,
		"event_ids":        c.EventIDs,
		"category_ids":     c.CategoryIDs,
	}
	if c.MaxRedemptions != nil {
		resp["max_redemptions"] = *c.MaxRedemptions
	}
	return resp
}

func money(m domain.Money) string {
	return m.StringFixed(domain.MinorUnits)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCouponInactive),
		errors.Is(err, domain.ErrCouponNotApplicable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRedemptionLimitReached),
		errors.Is(err, domain.ErrCouponAlreadyApplied),
		errors.Is(err, domain.ErrCapacityExceeded),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrSerializationFailure):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// errorCode is the stable machine-readable reason returned with an error.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrCouponNotFound):
		return "coupon_not_found"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrCouponInactive):
		return "coupon_inactive"
	case errors.Is(err, domain.ErrCouponNotApplicable):
		return "coupon_not_applicable"
	case errors.Is(err, domain.ErrRedemptionLimitReached):
		return "redemption_limit_reached"
	case errors.Is(err, domain.ErrCouponAlreadyApplied):
		return "coupon_already_applied"
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, domain.ErrSerializationFailure):
		return "retry"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	}
	return "internal"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		loggerFrom(r.Context()).WithError(err).Error("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": errorCode(err), "message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, r, errors.Wrap(domain.ErrInvalidInput, err.Error()))
		return false
	}
	return true
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, r, errors.Wrapf(domain.ErrInvalidInput, "invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

// userQuery reads the user_id query parameter that cart mutations without
// a request body must carry.
func userQuery(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil || id == uuid.Nil {
		writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "user_id query parameter is required"))
		return uuid.Nil, false
	}
	return id, true
}
