// Package metrics exposes prometheus collectors for escrow operations.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/catalogfi/otc/pkg/otc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records operation outcomes, latencies and emitted transfers.
type Collector struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	transfers  *prometheus.CounterVec
}

func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "otc"
	}

	c := &Collector{registry: prometheus.NewRegistry()}
	c.operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "operations_total",
			Help:      "Escrow operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	c.latency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "operation_duration_seconds",
			Help:      "Escrow operation latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	c.transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "transfers_total",
			Help:      "Transfer instructions emitted by asset kind",
		},
		[]string{"operation", "asset"},
	)
	c.registry.MustRegister(c.operations, c.latency, c.transfers)
	return c
}

// Observe records one finished operation.
func (c *Collector) Observe(operation string, started time.Time, transfers []otc.Transfer, err error) {
	c.operations.WithLabelValues(operation, Outcome(err)).Inc()
	c.latency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	if err != nil {
		return
	}
	for _, t := range transfers {
		c.transfers.WithLabelValues(operation, t.Asset.Kind.String()).Inc()
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Outcome maps an operation error onto a low cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, otc.ErrNotFound):
		return "not_found"
	case errors.Is(err, otc.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, otc.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, otc.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, otc.ErrExtraFundsReceived):
		return "extra_funds"
	case errors.Is(err, otc.ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, otc.ErrInvalidFeeConfiguration):
		return "invalid_fee"
	case errors.Is(err, otc.ErrNothingToClaim):
		return "nothing_to_claim"
	case errors.Is(err, otc.ErrExpired):
		return "expired"
	case errors.Is(err, otc.ErrInvalidItem):
		return "invalid_item"
	default:
		return "error"
	}
}
