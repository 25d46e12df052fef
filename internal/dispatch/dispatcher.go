package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ostrix/blastd/internal/account"
	"github.com/ostrix/blastd/internal/metrics"
	"github.com/ostrix/blastd/internal/models"
	"github.com/ostrix/blastd/internal/provider"
	"github.com/ostrix/blastd/internal/ratelimit"
	"github.com/ostrix/blastd/internal/store"
	"github.com/ostrix/blastd/internal/template"
)

// Config contains dispatcher settings
type Config struct {
	Workers        int           `yaml:"workers"`
	ClaimBatch     int           `yaml:"claim_batch"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// DefaultConfig returns the default dispatcher configuration
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		ClaimBatch:     50,
		PollInterval:   5 * time.Second,
		MaxRetries:     3,
		RetryInterval:  time.Minute,
		MaxBackoff:     15 * time.Minute,
		AttemptTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.ClaimBatch <= 0 {
		c.ClaimBatch = def.ClaimBatch
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = def.AttemptTimeout
	}
	return c
}

// Dispatcher drives queued campaigns through delivery. Each campaign is
// claimed by exactly one runner via the queued -> sending transition, then
// processed in batches until every recipient reaches a terminal state.
type Dispatcher struct {
	db         *store.DB
	campaigns  *store.CampaignRepository
	recipients *store.RecipientRepository
	audit      *store.AuditRepository
	accounts   *account.Service
	sender     provider.Provider
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
	cfg        Config

	mu      sync.Mutex
	running map[string]struct{}

	stopCh chan struct{}
	pokeCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a dispatcher
func New(db *store.DB, accounts *account.Service, sender provider.Provider, limiter *ratelimit.Limiter, logger *slog.Logger, cfg Config) *Dispatcher {
	return &Dispatcher{
		db:         db,
		campaigns:  store.NewCampaignRepository(db),
		recipients: store.NewRecipientRepository(db),
		audit:      store.NewAuditRepository(db),
		accounts:   accounts,
		sender:     sender,
		limiter:    limiter,
		logger:     logger,
		cfg:        cfg.withDefaults(),
		running:    make(map[string]struct{}),
		stopCh:     make(chan struct{}),
		pokeCh:     make(chan struct{}, 1),
	}
}

// Start launches the poll loop. Campaigns left in sending state by a
// previous run are picked up again before new claims happen.
func (d *Dispatcher) Start(ctx context.Context) {
	d.resume(ctx)

	d.wg.Add(1)
	go d.pollLoop(ctx)

	d.logger.Info("dispatcher started",
		"workers", d.cfg.Workers,
		"poll_interval", d.cfg.PollInterval,
		"max_retries", d.cfg.MaxRetries)
}

// Stop stops claiming new work and waits for in-flight attempts to finish
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// resume restarts campaigns that were mid-send when the process died
func (d *Dispatcher) resume(ctx context.Context) {
	stale, _, err := d.campaigns.List(models.CampaignListFilter{Status: models.CampaignSending})
	if err != nil {
		d.logger.Error("failed to list sending campaigns on startup", "error", err)
		return
	}
	for _, c := range stale {
		d.logger.Info("resuming campaign", "campaign_id", c.ID)
		d.launch(ctx, c)
	}
}

func (d *Dispatcher) pollLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.claimDue(ctx)
		case <-d.pokeCh:
			d.claimDue(ctx)
		}
	}
}

// Poke asks the poll loop to run a claim pass ahead of its next tick. Safe
// to call from any goroutine; a poke while one is already pending is
// coalesced.
func (d *Dispatcher) Poke() {
	select {
	case d.pokeCh <- struct{}{}:
	default:
	}
}

// claimDue claims every due queued campaign and starts a runner for each
func (d *Dispatcher) claimDue(ctx context.Context) {
	due, err := d.campaigns.ListDue(time.Now())
	if err != nil {
		d.logger.Error("failed to list due campaigns", "error", err)
		return
	}

	for _, c := range due {
		if err := d.campaigns.Transition(c.ID, models.CampaignQueued, models.CampaignSending); err != nil {
			// Lost the claim race or the campaign was cancelled meanwhile
			continue
		}
		c.Status = models.CampaignSending
		d.launch(ctx, c)
	}
}

// launch starts a runner goroutine unless one is already active for the campaign
func (d *Dispatcher) launch(ctx context.Context, c models.Campaign) {
	d.mu.Lock()
	if _, ok := d.running[c.ID]; ok {
		d.mu.Unlock()
		return
	}
	d.running[c.ID] = struct{}{}
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.running, c.ID)
			d.mu.Unlock()
		}()
		d.runCampaign(ctx, c)
	}()
}

// runCampaign processes one campaign in claim batches until the campaign
// leaves the sending state or every recipient is terminal.
func (d *Dispatcher) runCampaign(ctx context.Context, c models.Campaign) {
	logger := d.logger.With("campaign_id", c.ID, "account_id", c.AccountID)
	logger.Info("campaign dispatch started", "name", c.Name)

	metrics.AddCampaignsActive(1)
	defer metrics.AddCampaignsActive(-1)

	payload, err := d.buildPayload(&c)
	if err != nil {
		logger.Error("invalid template payload", "error", err)
		d.finishFailed(c.ID, fmt.Sprintf("template payload: %v", err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		default:
		}

		// Reload: cancellation and account faults flip the status underneath us
		cur, err := d.campaigns.GetByID(c.ID)
		if err != nil {
			logger.Error("failed to reload campaign", "error", err)
			return
		}
		if cur.Status != models.CampaignSending {
			logger.Info("campaign no longer sending", "status", cur.Status)
			return
		}

		batch, err := d.recipients.DuePending(c.ID, time.Now(), d.cfg.ClaimBatch)
		if err != nil {
			logger.Error("failed to claim recipients", "error", err)
			return
		}

		if len(batch) == 0 {
			stats, err := d.recipients.Stats(c.ID)
			if err != nil {
				logger.Error("failed to compute stats", "error", err)
				return
			}
			if stats.Done() {
				d.finishCompleted(c.ID, stats)
				logger.Info("campaign completed",
					"total", stats.Total, "sent", stats.Sent, "failed", stats.Failed)
				return
			}
			// Pending recipients exist but none is due yet; wait out the backoff
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-time.After(d.cfg.PollInterval):
			}
			continue
		}

		d.processBatch(ctx, &c, payload, batch)
	}
}

// processBatch fans a claimed batch out over the worker pool and waits for
// the whole batch before the next claim, so no recipient is ever processed
// by two workers.
func (d *Dispatcher) processBatch(ctx context.Context, c *models.Campaign, payload string, batch []models.CampaignRecipient) {
	sem := make(chan struct{}, d.cfg.Workers)
	var wg sync.WaitGroup

	for i := range batch {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-d.stopCh:
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(rec models.CampaignRecipient) {
			defer wg.Done()
			defer func() { <-sem }()
			d.attempt(ctx, c, payload, rec)
		}(batch[i])
	}

	wg.Wait()
}

// attempt performs one delivery attempt for a recipient
func (d *Dispatcher) attempt(ctx context.Context, c *models.Campaign, payload string, rec models.CampaignRecipient) {
	logger := d.logger.With("campaign_id", c.ID, "recipient_id", rec.ID, "phone", rec.Phone)

	if err := d.limiter.Wait(ctx, c.AccountID); err != nil {
		return
	}

	res, err := d.limiter.Allow(ctx, c.AccountID)
	if err != nil {
		logger.Error("rate limit check failed", "error", err)
		return
	}
	if !res.Allowed {
		metrics.IncRateLimitExceeded(string(res.DeniedBy))
		next := time.Now().Add(res.RetryAfter)
		if err := d.recipients.Reschedule(rec.ID, next); err != nil {
			logger.Error("failed to reschedule recipient", "error", err)
		}
		logger.Info("send deferred by quota",
			"denied_by", res.DeniedBy, "retry_after", res.RetryAfter)
		return
	}

	msg := provider.Message{
		To:      rec.Phone,
		Name:    rec.Name,
		Body:    rec.Message,
		Payload: payload,
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := d.sender.Send(sendCtx, c.AccountID, msg)
	metrics.ObserveSendDuration(c.AccountID, time.Since(start).Seconds())

	if err == nil {
		if err := d.recipients.MarkSent(rec.ID, receipt.Ref, time.Now()); err != nil {
			logger.Error("failed to mark recipient sent", "error", err)
			return
		}
		metrics.IncMessagesSent(c.AccountID)
		logger.Debug("message sent", "provider_ref", receipt.Ref)
		return
	}

	d.handleSendError(c, rec, err, logger)
}

// handleSendError routes a failed attempt by error kind
func (d *Dispatcher) handleSendError(c *models.Campaign, rec models.CampaignRecipient, sendErr error, logger *slog.Logger) {
	kind := provider.Classify(sendErr)

	switch kind {
	case provider.KindAccountFault:
		if err := d.recipients.MarkFailed(rec.ID, sendErr.Error(), false); err != nil {
			logger.Error("failed to mark recipient failed", "error", err)
		}
		metrics.IncMessagesFailed(c.AccountID, kind.String())
		logger.Error("account fault during send", "error", sendErr)
		d.failAccount(c.AccountID, sendErr.Error())

	case provider.KindPermanent:
		if err := d.recipients.MarkFailed(rec.ID, sendErr.Error(), false); err != nil {
			logger.Error("failed to mark recipient failed", "error", err)
		}
		metrics.IncMessagesFailed(c.AccountID, kind.String())
		logger.Warn("message permanently rejected", "error", sendErr)

	default: // transient, including timeouts and unclassified errors
		attempt := rec.Retries + 1
		if attempt >= d.cfg.MaxRetries {
			if err := d.recipients.MarkFailed(rec.ID, sendErr.Error(), true); err != nil {
				logger.Error("failed to mark recipient failed", "error", err)
			}
			metrics.IncMessagesFailed(c.AccountID, kind.String())
			logger.Warn("message failed after max retries",
				"retries", attempt, "error", sendErr)
			return
		}

		backoff := d.calculateBackoff(attempt)
		now := time.Now()
		if err := d.recipients.MarkDeferred(rec.ID, sendErr.Error(), now.Add(backoff), now); err != nil {
			logger.Error("failed to defer recipient", "error", err)
			return
		}
		metrics.IncMessagesDeferred(c.AccountID)
		logger.Info("message deferred",
			"attempt", attempt, "next_retry_in", backoff, "error", sendErr)
	}
}

// calculateBackoff returns the exponential retry delay for an attempt number
func (d *Dispatcher) calculateBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := 1 << (attempt - 1)
	backoff := d.cfg.RetryInterval * time.Duration(multiplier)
	if backoff > d.cfg.MaxBackoff {
		backoff = d.cfg.MaxBackoff
	}
	return backoff
}

// failAccount marks the account faulted and aborts everything it was
// dispatching. Queued campaigns pass through sending because failed is only
// reachable from there.
func (d *Dispatcher) failAccount(accountID, reason string) {
	if err := d.accounts.MarkFaulted(accountID, reason); err != nil {
		d.logger.Error("failed to mark account faulted", "account_id", accountID, "error", err)
	}

	active, err := d.campaigns.ListActiveByAccount(accountID)
	if err != nil {
		d.logger.Error("failed to list account campaigns", "account_id", accountID, "error", err)
		return
	}

	for _, c := range active {
		if c.Status == models.CampaignQueued {
			if err := d.campaigns.Transition(c.ID, models.CampaignQueued, models.CampaignSending); err != nil {
				continue
			}
		}
		if err := d.failCampaign(c.ID, accountID, reason); err != nil {
			d.logger.Error("failed to abort campaign", "campaign_id", c.ID, "error", err)
		}
	}
}

// failCampaign moves a sending campaign to failed, fails its pending
// recipients and writes the audit entry in one transaction.
func (d *Dispatcher) failCampaign(campaignID, accountID, reason string) error {
	err := d.db.InTx(func(tx *sql.Tx) error {
		if err := d.campaigns.WithTx(tx).Transition(campaignID, models.CampaignSending, models.CampaignFailed); err != nil {
			return err
		}
		if _, err := d.recipients.WithTx(tx).FailPending(campaignID, reason); err != nil {
			return err
		}
		return d.audit.WithTx(tx).Add(&models.AuditEntry{
			Action:     models.AuditCampaignFail,
			Actor:      "system",
			AccountID:  accountID,
			CampaignID: campaignID,
			Details:    reason,
		})
	})
	if err != nil {
		return err
	}
	metrics.IncCampaignFinished(string(models.CampaignFailed))
	return nil
}

// finishCompleted moves a fully dispatched campaign to completed
func (d *Dispatcher) finishCompleted(campaignID string, stats *models.CampaignStats) {
	details, _ := json.Marshal(stats)
	err := d.db.InTx(func(tx *sql.Tx) error {
		if err := d.campaigns.WithTx(tx).Transition(campaignID, models.CampaignSending, models.CampaignCompleted); err != nil {
			return err
		}
		return d.audit.WithTx(tx).Add(&models.AuditEntry{
			Action:     models.AuditCampaignComplete,
			Actor:      "system",
			CampaignID: campaignID,
			Details:    string(details),
		})
	})
	if err != nil {
		d.logger.Error("failed to complete campaign", "campaign_id", campaignID, "error", err)
		return
	}
	metrics.IncCampaignFinished(string(models.CampaignCompleted))
}

// finishFailed aborts a campaign the dispatcher cannot process at all
func (d *Dispatcher) finishFailed(campaignID, reason string) {
	c, err := d.campaigns.GetByID(campaignID)
	if err != nil {
		d.logger.Error("failed to load campaign", "campaign_id", campaignID, "error", err)
		return
	}
	if err := d.failCampaign(campaignID, c.AccountID, reason); err != nil {
		d.logger.Error("failed to abort campaign", "campaign_id", campaignID, "error", err)
	}
}

// buildPayload prepares the provider payload once per campaign run
func (d *Dispatcher) buildPayload(c *models.Campaign) (string, error) {
	if c.MessageType != models.MessageTemplate || c.Template == "" {
		return "", nil
	}
	tpl, err := template.Parse(c.Template)
	if err != nil {
		return "", err
	}
	payload, err := tpl.BuildPayload()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
