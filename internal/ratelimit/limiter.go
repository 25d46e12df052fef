// Package ratelimit throttles outbound sends per account. Short-term pacing
// uses a token bucket; hour and day quotas are counted and persisted in bbolt
// so restarts do not reset them.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/time/rate"
)

var bucketRateLimits = []byte("rate_limits")

// Level represents the level of rate limiting
type Level string

const (
	LevelGlobal  Level = "global"
	LevelAccount Level = "account"
)

// Config contains rate limit configuration
type Config struct {
	// Global limits across all accounts
	Global *LimitConfig `yaml:"global,omitempty"`

	// Default limits for accounts without specific config
	DefaultAccount *LimitConfig `yaml:"default_account,omitempty"`

	// Per-account overrides, keyed by account ID
	Accounts map[string]*LimitConfig `yaml:"accounts,omitempty"`

	// Persistence settings
	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`
}

// LimitConfig contains rate limit values
type LimitConfig struct {
	MessagesPerSecond float64 `yaml:"messages_per_second" json:"messages_per_second"`
	MessagesPerHour   int     `yaml:"messages_per_hour" json:"messages_per_hour"`
	MessagesPerDay    int     `yaml:"messages_per_day" json:"messages_per_day"`
}

// Counter tracks hour and day windows for one key
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Limiter throttles sends at global and per-account level
type Limiter struct {
	db       *bolt.DB
	config   *Config
	counters map[string]*Counter      // key -> quota counter
	pacers   map[string]*rate.Limiter // account id -> token bucket
	mu       sync.RWMutex
	stopCh   chan struct{}
}

// NewLimiter creates a new rate limiter. db may be nil, in which case quota
// counters are held in memory only.
func NewLimiter(db *bolt.DB, cfg *Config) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	if db != nil {
		err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketRateLimits)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limits bucket: %w", err)
		}
	}

	l := &Limiter{
		db:       db,
		config:   cfg,
		counters: make(map[string]*Counter),
		pacers:   make(map[string]*rate.Limiter),
		stopCh:   make(chan struct{}),
	}

	if db != nil {
		if err := l.loadCounters(); err != nil {
			return nil, fmt.Errorf("failed to load counters: %w", err)
		}
		go l.persistLoop()
	}

	return l, nil
}

// accountLimit returns the effective limit config for an account
func (l *Limiter) accountLimit(accountID string) *LimitConfig {
	if lc, ok := l.config.Accounts[accountID]; ok {
		return lc
	}
	return l.config.DefaultAccount
}

// Wait blocks until the account's token bucket permits one send, or the
// context is cancelled. Quota windows are not consumed here.
func (l *Limiter) Wait(ctx context.Context, accountID string) error {
	limit := l.accountLimit(accountID)
	if limit == nil || limit.MessagesPerSecond <= 0 {
		return ctx.Err()
	}

	l.mu.Lock()
	pacer, ok := l.pacers[accountID]
	if !ok {
		burst := int(limit.MessagesPerSecond)
		if burst < 1 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(limit.MessagesPerSecond), burst)
		l.pacers[accountID] = pacer
	}
	l.mu.Unlock()

	return pacer.Wait(ctx)
}

// Allow checks hour and day quotas for the account and, when allowed,
// consumes one unit from each window.
func (l *Limiter) Allow(ctx context.Context, accountID string) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := &Result{Allowed: true}
	now := time.Now()
	checks := l.getChecks(accountID)

	for _, check := range checks {
		counter := l.getOrCreateCounter(check.key, now)
		l.resetExpiredCounters(counter, now)

		if check.limit.MessagesPerHour > 0 && counter.HourlyCount >= check.limit.MessagesPerHour {
			result.Allowed = false
			result.DeniedBy = check.level
			result.DeniedKey = check.key
			result.RetryAfter = counter.HourStart.Add(time.Hour).Sub(now)
			return result, nil
		}
		if check.limit.MessagesPerDay > 0 && counter.DailyCount >= check.limit.MessagesPerDay {
			result.Allowed = false
			result.DeniedBy = check.level
			result.DeniedKey = check.key
			result.RetryAfter = counter.DayStart.Add(24 * time.Hour).Sub(now)
			return result, nil
		}
	}

	for _, check := range checks {
		counter := l.counters[check.key]
		counter.HourlyCount++
		counter.DailyCount++
	}

	return result, nil
}

// Check reports whether a send would be allowed without consuming quota
func (l *Limiter) Check(ctx context.Context, accountID string) (*Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := &Result{Allowed: true}
	now := time.Now()

	for _, check := range l.getChecks(accountID) {
		counter, exists := l.counters[check.key]
		if !exists {
			continue
		}

		hourlyCount := counter.HourlyCount
		dailyCount := counter.DailyCount
		if now.Sub(counter.HourStart) >= time.Hour {
			hourlyCount = 0
		}
		if now.Sub(counter.DayStart) >= 24*time.Hour {
			dailyCount = 0
		}

		if check.limit.MessagesPerHour > 0 && hourlyCount >= check.limit.MessagesPerHour {
			result.Allowed = false
			result.DeniedBy = check.level
			result.DeniedKey = check.key
			result.RetryAfter = counter.HourStart.Add(time.Hour).Sub(now)
			return result, nil
		}
		if check.limit.MessagesPerDay > 0 && dailyCount >= check.limit.MessagesPerDay {
			result.Allowed = false
			result.DeniedBy = check.level
			result.DeniedKey = check.key
			result.RetryAfter = counter.DayStart.Add(24 * time.Hour).Sub(now)
			return result, nil
		}
	}

	return result, nil
}

// GetStats returns current counters for a limit key
func (l *Limiter) GetStats(ctx context.Context, level Level, key string) (*Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fullKey := makeKey(level, key)
	counter, exists := l.counters[fullKey]
	if !exists {
		return &Stats{Level: level, Key: key}, nil
	}

	now := time.Now()
	stats := &Stats{
		Level:       level,
		Key:         key,
		HourlyCount: counter.HourlyCount,
		DailyCount:  counter.DailyCount,
		HourStart:   counter.HourStart,
		DayStart:    counter.DayStart,
	}
	if now.Sub(counter.HourStart) >= time.Hour {
		stats.HourlyCount = 0
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		stats.DailyCount = 0
	}
	return stats, nil
}

// Stop stops the rate limiter and persists counters
func (l *Limiter) Stop() error {
	close(l.stopCh)
	if l.db == nil {
		return nil
	}
	return l.persistCounters()
}

// Result contains the rate limit check result
type Result struct {
	Allowed    bool
	DeniedBy   Level
	DeniedKey  string
	RetryAfter time.Duration
}

// Stats contains rate limit statistics
type Stats struct {
	Level       Level
	Key         string
	HourlyCount int
	DailyCount  int
	HourStart   time.Time
	DayStart    time.Time
}

type limitCheck struct {
	level Level
	key   string
	limit *LimitConfig
}

func (l *Limiter) getChecks(accountID string) []limitCheck {
	var checks []limitCheck

	if l.config.Global != nil {
		checks = append(checks, limitCheck{
			level: LevelGlobal,
			key:   makeKey(LevelGlobal, "global"),
			limit: l.config.Global,
		})
	}

	if accountID != "" {
		if limit := l.accountLimit(accountID); limit != nil {
			checks = append(checks, limitCheck{
				level: LevelAccount,
				key:   makeKey(LevelAccount, accountID),
				limit: limit,
			})
		}
	}

	return checks
}

func (l *Limiter) getOrCreateCounter(key string, now time.Time) *Counter {
	counter, exists := l.counters[key]
	if !exists {
		counter = &Counter{HourStart: now, DayStart: now}
		l.counters[key] = counter
	}
	return counter
}

func (l *Limiter) resetExpiredCounters(counter *Counter, now time.Time) {
	if now.Sub(counter.HourStart) >= time.Hour {
		counter.HourlyCount = 0
		counter.HourStart = now
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		counter.DailyCount = 0
		counter.DayStart = now
	}
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var counter Counter
			if err := json.Unmarshal(v, &counter); err != nil {
				return nil // Skip invalid entries
			}
			l.counters[string(k)] = &counter
			return nil
		})
	})
}

func (l *Limiter) persistCounters() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}

		for key, counter := range l.counters {
			data, err := json.Marshal(counter)
			if err != nil {
				continue
			}
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.persistCounters()
		}
	}
}

func makeKey(level Level, key string) string {
	return string(level) + ":" + key
}
