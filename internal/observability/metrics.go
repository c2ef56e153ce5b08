package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupons_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coupons_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBTxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coupons_db_tx_retries_total",
			Help: "Transactions re-run after a serialization failure",
		},
	)

	CouponApplyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupons_apply_total",
			Help: "Coupon apply attempts by outcome",
		},
		[]string{"result"},
	)

	RedemptionsReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupons_redemptions_released_total",
			Help: "Redemptions moved to CANCELED by reason",
		},
		[]string{"reason"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coupons_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coupons_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coupons_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
