package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics   *Metrics
	globalCollector *Collector
	globalMu        sync.RWMutex
)

// Metrics holds all Prometheus metrics for blastd
type Metrics struct {
	// Delivery counters
	MessagesSentTotal     *prometheus.CounterVec
	MessagesFailedTotal   *prometheus.CounterVec
	MessagesDeferredTotal *prometheus.CounterVec
	SendDurationSeconds   *prometheus.HistogramVec

	// Campaign gauges and counters
	CampaignsActive        prometheus.Gauge
	CampaignsFinishedTotal *prometheus.CounterVec
	RecipientsPending      prometheus.Gauge

	// Import counters
	ImportRowsTotal *prometheus.CounterVec
	ImportJobsTotal *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// Rate limiting
	RateLimitExceededTotal *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blastd_messages_sent_total",
				Help: "Total number of messages accepted by the provider",
			},
			[]string{"account"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blastd_messages_failed_total",
				Help: "Total number of permanently failed messages",
			},
			[]string{"account", "error_kind"},
		),
		MessagesDeferredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blastd_messages_deferred_total",
				Help: "Total number of messages deferred for retry",
			},
			[]string{"account"},
		),
		SendDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blastd_send_duration_seconds",
				Help:    "Provider send attempt duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"account"},
		),

		CampaignsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "blastd_campaigns_active",
				Help: "Number of campaigns currently dispatching",
			},
		),
		CampaignsFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blastd_campaigns_finished_total",
				Help: "Total number of campaigns reaching a terminal state",
			},
			[]string{"status"},
		),
		RecipientsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "blastd_recipients_pending",
				Help: "Number of recipients awaiting a delivery attempt",
			},
		),

		ImportRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blastd_import_rows_total",
				Help: "Total number of processed import rows by outcome",
			},
			[]string{"result"},
		),
		ImportJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blastd_import_jobs_total",
				Help: "Total number of import jobs by final status",
			},
			[]string{"status"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blastd_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blastd_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blastd_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		RateLimitExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blastd_ratelimit_exceeded_total",
				Help: "Total number of rate limit exceeded events",
			},
			[]string{"level"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "blastd_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "blastd_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "blastd_storage_used_bytes",
				Help: "SQLite database file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.MessagesDeferredTotal,
		m.SendDurationSeconds,
		m.CampaignsActive,
		m.CampaignsFinishedTotal,
		m.RecipientsPending,
		m.ImportRowsTotal,
		m.ImportJobsTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.RateLimitExceededTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// SetGlobalCollector routes the counter helpers through a collector so their
// values survive restarts. Counters fall back to the bare metrics instance
// when no collector is set.
func SetGlobalCollector(c *Collector) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCollector = c
}

func globalTracker() *Collector {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalCollector
}

// IncMessagesSent increments the sent message counter
func IncMessagesSent(account string) {
	if c := globalTracker(); c != nil {
		c.TrackMessageSent(account)
		return
	}
	if m := Global(); m != nil {
		m.MessagesSentTotal.WithLabelValues(account).Inc()
	}
}

// IncMessagesFailed increments the failed message counter
func IncMessagesFailed(account, errorKind string) {
	if c := globalTracker(); c != nil {
		c.TrackMessageFailed(account, errorKind)
		return
	}
	if m := Global(); m != nil {
		m.MessagesFailedTotal.WithLabelValues(account, errorKind).Inc()
	}
}

// IncMessagesDeferred increments the deferred message counter
func IncMessagesDeferred(account string) {
	if c := globalTracker(); c != nil {
		c.TrackMessageDeferred(account)
		return
	}
	if m := Global(); m != nil {
		m.MessagesDeferredTotal.WithLabelValues(account).Inc()
	}
}

// ObserveSendDuration records one provider attempt duration
func ObserveSendDuration(account string, seconds float64) {
	if m := Global(); m != nil {
		m.SendDurationSeconds.WithLabelValues(account).Observe(seconds)
	}
}

// IncCampaignFinished increments the finished campaign counter
func IncCampaignFinished(status string) {
	if c := globalTracker(); c != nil {
		c.TrackCampaignFinished(status)
		return
	}
	if m := Global(); m != nil {
		m.CampaignsFinishedTotal.WithLabelValues(status).Inc()
	}
}

// AddCampaignsActive adjusts the active campaign gauge
func AddCampaignsActive(delta float64) {
	if m := Global(); m != nil {
		m.CampaignsActive.Add(delta)
	}
}

// IncImportJob increments the import job counter
func IncImportJob(status string) {
	if c := globalTracker(); c != nil {
		c.TrackImportJob(status)
		return
	}
	if m := Global(); m != nil {
		m.ImportJobsTotal.WithLabelValues(status).Inc()
	}
}

// AddImportRows adds to the import row counter for one outcome
func AddImportRows(result string, n int) {
	if c := globalTracker(); c != nil {
		c.TrackImportRows(result, n)
		return
	}
	if m := Global(); m != nil {
		m.ImportRowsTotal.WithLabelValues(result).Add(float64(n))
	}
}

// IncRateLimitExceeded increments the rate limit exceeded counter
func IncRateLimitExceeded(level string) {
	if c := globalTracker(); c != nil {
		c.TrackRateLimitExceeded(level)
		return
	}
	if m := Global(); m != nil {
		m.RateLimitExceededTotal.WithLabelValues(level).Inc()
	}
}

// IncAPIRequest increments the API request counter
func IncAPIRequest(method, path, status string) {
	if c := globalTracker(); c != nil {
		c.TrackAPIRequest(method, path, status)
		return
	}
	if m := Global(); m != nil {
		m.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
	}
}

// ObserveAPIRequestDuration records an API request duration
func ObserveAPIRequestDuration(method, path string, seconds float64) {
	if m := Global(); m != nil {
		m.APIRequestDurationSeconds.WithLabelValues(method, path).Observe(seconds)
	}
}

// IncAPIError increments the API error counter
func IncAPIError(errorType string) {
	if c := globalTracker(); c != nil {
		c.TrackAPIError(errorType)
		return
	}
	if m := Global(); m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
