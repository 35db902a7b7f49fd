// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Monitor metrics
	PollsTotal      prometheus.Counter
	PollErrors      prometheus.Counter
	PositionChanges *prometheus.CounterVec
	WatchedTraders  prometheus.Gauge

	// Copier metrics
	CopiesTotal    *prometheus.CounterVec
	CopyVolumeUSDC prometheus.Counter
	CopyQueueDrops prometheus.Counter

	// Execution metrics
	TradesTotal      *prometheus.CounterVec
	OrderLatency     prometheus.Histogram
	RealizedSlippage prometheus.Histogram

	// Risk metrics
	RiskRejections *prometheus.CounterVec
	TraderDrawdown *prometheus.GaugeVec
	TradersPaused  prometheus.Counter

	// Retry metrics
	RetriesScheduled  prometheus.Counter
	RetriesPending    prometheus.Gauge
	PermanentFailures prometheus.Counter

	// Exchange metrics
	APICallLatency *prometheus.HistogramVec
	APICallErrors  *prometheus.CounterVec

	// Health metrics
	WSClients          prometheus.Gauge
	LastSuccessfulPoll prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "copytrader"
	}

	return &Metrics{
		// Monitor metrics
		PollsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "polls_total",
			Help:      "Total number of wallet polls performed",
		}),
		PollErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "poll_errors_total",
			Help:      "Total number of failed wallet polls",
		}),
		PositionChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "position_changes_total",
			Help:      "Total number of detected position changes by kind",
		}, []string{"kind"}),
		WatchedTraders: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "watched_traders",
			Help:      "Number of traders currently being watched",
		}),

		// Copier metrics
		CopiesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "copier",
			Name:      "copies_total",
			Help:      "Total number of copy attempts by outcome",
		}, []string{"outcome"}),
		CopyVolumeUSDC: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "copier",
			Name:      "volume_usdc_total",
			Help:      "Total USDC volume of successful copies",
		}),
		CopyQueueDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "copier",
			Name:      "queue_drops_total",
			Help:      "Total number of events dropped from full trader queues",
		}),

		// Execution metrics
		TradesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "trades_total",
			Help:      "Total number of trades by side and final status",
		}, []string{"side", "status"}),
		OrderLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "order_latency_seconds",
			Help:      "Order placement latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		RealizedSlippage: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "realized_slippage_percent",
			Help:      "Realized slippage against the quoted price, in percent",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}),

		// Risk metrics
		RiskRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "rejections_total",
			Help:      "Total number of risk gate rejections by check",
		}, []string{"check"}),
		TraderDrawdown: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "trader_drawdown_percent",
			Help:      "Current drawdown from peak equity per trader, in percent",
		}, []string{"trader_id"}),
		TradersPaused: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "traders_paused_total",
			Help:      "Total number of automatic trader pauses",
		}),

		// Retry metrics
		RetriesScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "scheduled_total",
			Help:      "Total number of trade retries scheduled",
		}),
		RetriesPending: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "pending",
			Help:      "Number of trades currently waiting on a retry timer",
		}),
		PermanentFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "permanent_failures_total",
			Help:      "Total number of trades marked permanently failed",
		}),

		// Exchange metrics
		APICallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "api_call_latency_seconds",
			Help:      "Exchange API call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		APICallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exchange",
			Name:      "api_call_errors_total",
			Help:      "Total number of failed exchange API calls",
		}, []string{"endpoint"}),

		// Health metrics
		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "ws_clients",
			Help:      "Number of connected websocket clients",
		}),
		LastSuccessfulPoll: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_poll_timestamp",
			Help:      "Unix timestamp of the last successful wallet poll",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordPoll records one wallet poll.
func RecordPoll(err error) {
	DefaultMetrics.PollsTotal.Inc()
	if err != nil {
		DefaultMetrics.PollErrors.Inc()
		return
	}
	DefaultMetrics.LastSuccessfulPoll.SetToCurrentTime()
}

// UpdateWatchedTraders sets the watched-trader gauge.
func UpdateWatchedTraders(n int) {
	DefaultMetrics.WatchedTraders.Set(float64(n))
}

// RecordPositionChange increments the change counter for one kind.
func RecordPositionChange(kind string) {
	DefaultMetrics.PositionChanges.WithLabelValues(kind).Inc()
}

// RecordCopy records one copy attempt by outcome: success, failed, skipped.
func RecordCopy(outcome string, volumeUSDC float64) {
	DefaultMetrics.CopiesTotal.WithLabelValues(outcome).Inc()
	if volumeUSDC > 0 {
		DefaultMetrics.CopyVolumeUSDC.Add(volumeUSDC)
	}
}

// RecordTrade records a finished execution attempt.
func RecordTrade(side, status string, latencySeconds, slippagePct float64) {
	DefaultMetrics.TradesTotal.WithLabelValues(side, status).Inc()
	DefaultMetrics.OrderLatency.Observe(latencySeconds)
	if slippagePct >= 0 {
		DefaultMetrics.RealizedSlippage.Observe(slippagePct)
	}
}

// RecordQueueDrop increments the full-queue drop counter.
func RecordQueueDrop() {
	DefaultMetrics.CopyQueueDrops.Inc()
}

// RecordRiskRejection increments the rejection counter for one check.
func RecordRiskRejection(check string) {
	DefaultMetrics.RiskRejections.WithLabelValues(check).Inc()
}

// UpdateDrawdown sets a trader's drawdown gauge.
func UpdateDrawdown(traderID string, pct float64) {
	DefaultMetrics.TraderDrawdown.WithLabelValues(traderID).Set(pct)
}

// RecordTraderPaused increments the automatic-pause counter.
func RecordTraderPaused() {
	DefaultMetrics.TradersPaused.Inc()
}

// RecordRetryScheduled increments the scheduled retry counter.
func RecordRetryScheduled() {
	DefaultMetrics.RetriesScheduled.Inc()
}

// RecordPermanentFailure increments the permanent-failure counter.
func RecordPermanentFailure() {
	DefaultMetrics.PermanentFailures.Inc()
}

// UpdateRetriesPending sets the pending retry gauge.
func UpdateRetriesPending(n int) {
	DefaultMetrics.RetriesPending.Set(float64(n))
}

// RecordAPICall records one exchange API call.
func RecordAPICall(endpoint string, seconds float64, err error) {
	DefaultMetrics.APICallLatency.WithLabelValues(endpoint).Observe(seconds)
	if err != nil {
		DefaultMetrics.APICallErrors.WithLabelValues(endpoint).Inc()
	}
}

// UpdateWSClients sets the connected websocket client gauge.
func UpdateWSClients(n int) {
	DefaultMetrics.WSClients.Set(float64(n))
}
