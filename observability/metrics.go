package observability

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	bondMetricsOnce sync.Once
	bondRegistry    *BondMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// route activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bond",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bond",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total HTTP errors segmented by route and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "bond",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bond",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the rate limiter.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an HTTP request. The status code should be
// the one ultimately written to the response writer.
func (m *moduleMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// BondMetrics tracks ledger operations and the solvency picture.
type BondMetrics struct {
	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	errors        *prometheus.CounterVec
	totalEligible prometheus.Gauge
	holdings      *prometheus.GaugeVec
	paused        prometheus.Gauge
}

// Bond returns the singleton metrics registry for the bond ledger.
func Bond() *BondMetrics {
	bondMetricsOnce.Do(func() {
		bondRegistry = &BondMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bond",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Count of ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "bond",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bond",
				Subsystem: "ledger",
				Name:      "errors_total",
				Help:      "Count of aborted ledger operations segmented by operation and error class.",
			}, []string{"operation", "reason"}),
			totalEligible: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bond",
				Subsystem: "ledger",
				Name:      "total_eligible",
				Help:      "Aggregate outstanding reserve-asset claims.",
			}),
			holdings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "bond",
				Subsystem: "ledger",
				Name:      "custody_holdings",
				Help:      "Custody balances per asset as last observed by the ledger.",
			}, []string{"asset"}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bond",
				Subsystem: "ledger",
				Name:      "paused",
				Help:      "Indicates whether new deposits are paused (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			bondRegistry.operations,
			bondRegistry.latency,
			bondRegistry.errors,
			bondRegistry.totalEligible,
			bondRegistry.holdings,
			bondRegistry.paused,
		)
	})
	return bondRegistry
}

// Observe records one ledger operation. Reason is empty on success and a
// stable error class otherwise.
func (m *BondMetrics) Observe(operation string, duration time.Duration, reason string) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if reason != "" {
		outcome = "error"
		m.errors.WithLabelValues(op, reason).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// SetTotalEligible publishes the aggregate obligations.
func (m *BondMetrics) SetTotalEligible(total *big.Int) {
	if m == nil {
		return
	}
	m.totalEligible.Set(bigToFloat(total))
}

// SetHoldings publishes the custody balance for an asset.
func (m *BondMetrics) SetHoldings(asset string, amount *big.Int) {
	if m == nil {
		return
	}
	m.holdings.WithLabelValues(labelAsset(asset)).Set(bigToFloat(amount))
}

// SetPaused flips the pause gauge.
func (m *BondMetrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

func labelAsset(asset string) string {
	normalized := strings.ToUpper(strings.TrimSpace(asset))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
