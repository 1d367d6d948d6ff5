// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 核心协调子系统的业务指标。
// 全部通过 promauto 注册到默认 Registry，由 bootstrap 统一暴露 /metrics。
var (
	SagaCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bazaar_saga_total",
		Help: "Number of payment sagas by terminal status.",
	}, []string{"status"}) // COMPLETED / FAILED / STUCK

	SagaStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bazaar_saga_step_duration_seconds",
		Help:    "Duration of individual saga steps.",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})

	ReservationsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bazaar_reservations_expired_total",
		Help: "Number of reservations reclaimed by the TTL sweeper.",
	})

	CouponIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bazaar_coupon_issue_total",
		Help: "Coupon quota issuance attempts by outcome.",
	}, []string{"outcome"}) // issued / exhausted / duplicate / error

	IdempotencyHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bazaar_idempotency_acquire_total",
		Help: "Idempotency key acquisitions by result.",
	}, []string{"result"}) // new / processing / completed / failed / zombie

	IdempotencyReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bazaar_idempotency_reaped_total",
		Help: "Idempotency records reaped by the background sweeps.",
	}, []string{"sweep"}) // zombie / purge
)
