// Package sched runs periodic maintenance jobs on cron schedules.
package sched

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ostrix/blastd/internal/account"
)

// Promoter receives the scheduled-campaign nudge. The dispatcher's poll
// already picks up campaigns whose schedule elapsed; the cron job bounds
// the latency between schedule time and the claim pass.
type Promoter interface {
	Poke()
}

// Config contains scheduler settings
type Config struct {
	// ExpirySweepSpec is the cron spec for the account credential sweep
	ExpirySweepSpec string `yaml:"expiry_sweep"`

	// ExpiryWindow is how far ahead of credential expiry an account is
	// flagged expiring_soon
	ExpiryWindow time.Duration `yaml:"expiry_window"`

	// PromotionSpec is the cron spec for the scheduled-campaign nudge
	PromotionSpec string `yaml:"promotion"`
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		ExpirySweepSpec: "@every 1h",
		ExpiryWindow:    72 * time.Hour,
		PromotionSpec:   "@every 1m",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ExpirySweepSpec == "" {
		c.ExpirySweepSpec = def.ExpirySweepSpec
	}
	if c.ExpiryWindow <= 0 {
		c.ExpiryWindow = def.ExpiryWindow
	}
	if c.PromotionSpec == "" {
		c.PromotionSpec = def.PromotionSpec
	}
	return c
}

// Scheduler owns the cron runner
type Scheduler struct {
	cron     *cron.Cron
	accounts *account.Service
	promoter Promoter
	cfg      Config
	logger   *slog.Logger
}

// New creates a scheduler with the maintenance jobs registered. A nil
// promoter skips the campaign promotion job.
func New(accounts *account.Service, promoter Promoter, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(),
		accounts: accounts,
		promoter: promoter,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}

	if _, err := s.cron.AddFunc(s.cfg.ExpirySweepSpec, s.sweepExpiring); err != nil {
		return nil, err
	}
	if promoter != nil {
		if _, err := s.cron.AddFunc(s.cfg.PromotionSpec, s.promoteScheduled); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Start launches the cron runner
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started",
		"expiry_sweep", s.cfg.ExpirySweepSpec,
		"expiry_window", s.cfg.ExpiryWindow,
		"promotion", s.cfg.PromotionSpec)
}

// Stop stops the cron runner and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) sweepExpiring() {
	if err := s.accounts.SweepExpiring(s.cfg.ExpiryWindow); err != nil {
		s.logger.Error("account expiry sweep failed", "error", err)
	}
}

func (s *Scheduler) promoteScheduled() {
	s.promoter.Poke()
}
