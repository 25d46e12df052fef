package metrics

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DispatchStats contains delivery backlog statistics for metrics
type DispatchStats struct {
	ActiveCampaigns   int64
	PendingRecipients int64
}

// DispatchStatsProvider provides delivery backlog statistics for metrics
type DispatchStatsProvider interface {
	DispatchStats(ctx context.Context) (*DispatchStats, error)
}

var bucketMetrics = []byte("metrics")

// ShadowCounters stores counter values for persistence
type ShadowCounters struct {
	MessagesSent      map[string]float64 `json:"messages_sent"`
	MessagesFailed    map[string]float64 `json:"messages_failed"`
	MessagesDeferred  map[string]float64 `json:"messages_deferred"`
	CampaignsFinished map[string]float64 `json:"campaigns_finished"`
	ImportRows        map[string]float64 `json:"import_rows"`
	ImportJobs        map[string]float64 `json:"import_jobs"`
	APIRequests       map[string]float64 `json:"api_requests"`
	APIErrors         map[string]float64 `json:"api_errors"`
	RateLimitExceeded map[string]float64 `json:"ratelimit_exceeded"`
}

// Collector handles metrics persistence and system gauge updates
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	dispatchStats DispatchStatsProvider
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	shadow ShadowCounters
	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(db *bolt.DB, m *Metrics, dispatchStats DispatchStatsProvider, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	// Create bucket if not exists
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		dispatchStats: dispatchStats,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		shadow: ShadowCounters{
			MessagesSent:      make(map[string]float64),
			MessagesFailed:    make(map[string]float64),
			MessagesDeferred:  make(map[string]float64),
			CampaignsFinished: make(map[string]float64),
			ImportRows:        make(map[string]float64),
			ImportJobs:        make(map[string]float64),
			APIRequests:       make(map[string]float64),
			APIErrors:         make(map[string]float64),
			RateLimitExceeded: make(map[string]float64),
		},
		stopCh: make(chan struct{}),
	}

	// Load persisted counters
	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	close(c.stopCh)
	c.wg.Wait()
	return c.persistCounters()
}

// loadCounters loads persisted counter values from BoltDB
func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data := bucket.Get([]byte("counters"))
		if data == nil {
			return nil
		}

		var shadow ShadowCounters
		if err := json.Unmarshal(data, &shadow); err != nil {
			return nil // Skip invalid data
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		// Restore delivery counters
		for k, v := range shadow.MessagesSent {
			c.shadow.MessagesSent[k] = v
			c.metrics.MessagesSentTotal.WithLabelValues(k).Add(v)
		}
		for k, v := range shadow.MessagesFailed {
			account, errorKind := splitLabelKey(k)
			c.shadow.MessagesFailed[k] = v
			c.metrics.MessagesFailedTotal.WithLabelValues(account, errorKind).Add(v)
		}
		for k, v := range shadow.MessagesDeferred {
			c.shadow.MessagesDeferred[k] = v
			c.metrics.MessagesDeferredTotal.WithLabelValues(k).Add(v)
		}

		// Restore campaign and import counters
		for k, v := range shadow.CampaignsFinished {
			c.shadow.CampaignsFinished[k] = v
			c.metrics.CampaignsFinishedTotal.WithLabelValues(k).Add(v)
		}
		for k, v := range shadow.ImportRows {
			c.shadow.ImportRows[k] = v
			c.metrics.ImportRowsTotal.WithLabelValues(k).Add(v)
		}
		for k, v := range shadow.ImportJobs {
			c.shadow.ImportJobs[k] = v
			c.metrics.ImportJobsTotal.WithLabelValues(k).Add(v)
		}

		// Restore API counters
		for k, v := range shadow.APIRequests {
			method, path, status := splitTripleLabelKey(k)
			c.shadow.APIRequests[k] = v
			c.metrics.APIRequestsTotal.WithLabelValues(method, path, status).Add(v)
		}
		for k, v := range shadow.APIErrors {
			c.shadow.APIErrors[k] = v
			c.metrics.APIErrorsTotal.WithLabelValues(k).Add(v)
		}

		// Restore rate limit counters
		for k, v := range shadow.RateLimitExceeded {
			c.shadow.RateLimitExceeded[k] = v
			c.metrics.RateLimitExceededTotal.WithLabelValues(k).Add(v)
		}

		return nil
	})
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	c.mu.Lock()
	shadow := c.shadow
	c.mu.Unlock()

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data, err := json.Marshal(shadow)
		if err != nil {
			return err
		}

		return bucket.Put([]byte("counters"), data)
	})
}

// persistLoop periodically persists counter values
func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

// updateSystemMetrics periodically updates system gauges
func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics(ctx)
		}
	}
}

// collectSystemMetrics collects current system state
func (c *Collector) collectSystemMetrics(ctx context.Context) {
	// Update uptime
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())

	// Update goroutines
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	// Update storage size
	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	// Update dispatch backlog
	if c.dispatchStats != nil {
		stats, err := c.dispatchStats.DispatchStats(ctx)
		if err == nil {
			c.metrics.CampaignsActive.Set(float64(stats.ActiveCampaigns))
			c.metrics.RecipientsPending.Set(float64(stats.PendingRecipients))
		}
	}
}

// TrackMessageSent tracks a sent message and updates shadow counter
func (c *Collector) TrackMessageSent(account string) {
	c.mu.Lock()
	c.shadow.MessagesSent[account]++
	c.mu.Unlock()
	c.metrics.MessagesSentTotal.WithLabelValues(account).Inc()
}

// TrackMessageFailed tracks a failed message and updates shadow counter
func (c *Collector) TrackMessageFailed(account, errorKind string) {
	key := makeLabelKey(account, errorKind)
	c.mu.Lock()
	c.shadow.MessagesFailed[key]++
	c.mu.Unlock()
	c.metrics.MessagesFailedTotal.WithLabelValues(account, errorKind).Inc()
}

// TrackMessageDeferred tracks a deferred message and updates shadow counter
func (c *Collector) TrackMessageDeferred(account string) {
	c.mu.Lock()
	c.shadow.MessagesDeferred[account]++
	c.mu.Unlock()
	c.metrics.MessagesDeferredTotal.WithLabelValues(account).Inc()
}

// TrackCampaignFinished tracks a campaign reaching a terminal state
func (c *Collector) TrackCampaignFinished(status string) {
	c.mu.Lock()
	c.shadow.CampaignsFinished[status]++
	c.mu.Unlock()
	c.metrics.CampaignsFinishedTotal.WithLabelValues(status).Inc()
}

// TrackImportRows tracks processed import rows by outcome
func (c *Collector) TrackImportRows(result string, n int) {
	c.mu.Lock()
	c.shadow.ImportRows[result] += float64(n)
	c.mu.Unlock()
	c.metrics.ImportRowsTotal.WithLabelValues(result).Add(float64(n))
}

// TrackImportJob tracks a finished import job
func (c *Collector) TrackImportJob(status string) {
	c.mu.Lock()
	c.shadow.ImportJobs[status]++
	c.mu.Unlock()
	c.metrics.ImportJobsTotal.WithLabelValues(status).Inc()
}

// TrackAPIRequest tracks an API request and updates shadow counter
func (c *Collector) TrackAPIRequest(method, path, status string) {
	key := makeTripleLabelKey(method, path, status)
	c.mu.Lock()
	c.shadow.APIRequests[key]++
	c.mu.Unlock()
	c.metrics.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// TrackAPIError tracks an API error and updates shadow counter
func (c *Collector) TrackAPIError(errorType string) {
	c.mu.Lock()
	c.shadow.APIErrors[errorType]++
	c.mu.Unlock()
	c.metrics.APIErrorsTotal.WithLabelValues(errorType).Inc()
}

// TrackRateLimitExceeded tracks rate limit exceeded and updates shadow counter
func (c *Collector) TrackRateLimitExceeded(level string) {
	c.mu.Lock()
	c.shadow.RateLimitExceeded[level]++
	c.mu.Unlock()
	c.metrics.RateLimitExceededTotal.WithLabelValues(level).Inc()
}

// Helper functions for label key serialization
func makeLabelKey(a, b string) string {
	return a + "|" + b
}

func splitLabelKey(key string) (string, string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func makeTripleLabelKey(a, b, c string) string {
	return a + "|" + b + "|" + c
}

func splitTripleLabelKey(key string) (string, string, string) {
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	parts = append(parts, key[start:])

	if len(parts) >= 3 {
		return parts[0], parts[1], parts[2]
	}
	if len(parts) == 2 {
		return parts[0], parts[1], ""
	}
	if len(parts) == 1 {
		return parts[0], "", ""
	}
	return "", "", ""
}
