// Package metrics exposes Prometheus counters for settlements, bonuses, accrual and sync.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "referral_ledger"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Transactions settled, by type and resulting status.",
		},
		[]string{"type", "status"},
	)

	bonusPayouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bonus_payouts_total",
			Help:      "Referral bonus transactions created, by level.",
		},
		[]string{"level"},
	)

	bonusPaidUSD = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bonus_paid_usd_total",
			Help:      "Total referral bonus amount credited in USD.",
		},
	)

	accrualRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accrual_runs_total",
			Help:      "Profit accrual attempts, by result.",
		},
		[]string{"result"},
	)

	withdrawalRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawal_rejections_total",
			Help:      "Withdrawal requests rejected at request time, by reason code.",
		},
		[]string{"reason"},
	)

	remoteSyncFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_sync_failures_total",
			Help:      "Entities that could not be pushed to the remote store.",
		},
		[]string{"entity"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		settlements,
		bonusPayouts,
		bonusPaidUSD,
		accrualRuns,
		withdrawalRejections,
		remoteSyncFailures,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Accrual results
const (
	AccrualApplied       = "applied"
	AccrualNotDue        = "not_due"
	AccrualInactive      = "inactive"
	AccrualInvalidAnchor = "invalid_anchor"
	AccrualError         = "error"
)

// RecordSettlement counts a transaction reaching a final status
func RecordSettlement(txType, status string) {
	settlements.WithLabelValues(txType, status).Inc()
}

// RecordBonusPayout counts one bonus row and adds its amount
func RecordBonusPayout(level int, amount decimal.Decimal) {
	bonusPayouts.WithLabelValues(strconv.Itoa(level)).Inc()
	f, _ := amount.Float64()
	bonusPaidUSD.Add(f)
}

// RecordAccrual counts an accrual attempt
func RecordAccrual(result string) {
	accrualRuns.WithLabelValues(result).Inc()
}

// RecordWithdrawalRejection counts a rejected withdrawal request
func RecordWithdrawalRejection(reason string) {
	withdrawalRejections.WithLabelValues(reason).Inc()
}

// RecordRemoteSyncFailure counts an entity push that gave up
func RecordRemoteSyncFailure(entity string) {
	remoteSyncFailures.WithLabelValues(entity).Inc()
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler is a mux middleware recording request counts and latency per route template
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if route == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
