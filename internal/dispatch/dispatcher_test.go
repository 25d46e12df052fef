package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ostrix/blastd/internal/account"
	"github.com/ostrix/blastd/internal/audience"
	"github.com/ostrix/blastd/internal/campaign"
	"github.com/ostrix/blastd/internal/models"
	"github.com/ostrix/blastd/internal/provider"
	"github.com/ostrix/blastd/internal/ratelimit"
	"github.com/ostrix/blastd/internal/store"
)

const testKey = "6368616368613230706f6c7931333035746573746b65796d7573746265333221"

// fastConfig keeps retry and poll delays short enough for tests
func fastConfig() Config {
	return Config{
		Workers:        2,
		ClaimBatch:     10,
		PollInterval:   10 * time.Millisecond,
		MaxRetries:     3,
		RetryInterval:  time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

type testEnv struct {
	d       *Dispatcher
	svc     *campaign.Service
	db      *store.DB
	sandbox *provider.Sandbox
	acc     *models.Account
}

func setup(t *testing.T, cfg Config, rl *ratelimit.Config) *testEnv {
	t.Helper()

	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sandbox := provider.NewSandbox(logger)
	resolver := audience.NewResolver(db, nil, logger)
	svc := campaign.NewService(db, resolver, sandbox, logger)

	crypto, err := account.NewCrypto(testKey)
	if err != nil {
		t.Fatalf("failed to create crypto: %v", err)
	}
	accounts := account.NewService(db, crypto, logger)

	limiter, err := ratelimit.NewLimiter(nil, rl)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	t.Cleanup(func() { limiter.Stop() })

	acc := &models.Account{ProviderID: "wa-1", Name: "Main", Phone: "+628111000999", Status: models.AccountConnected}
	if err := store.NewAccountRepository(db).Create(acc); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}

	return &testEnv{
		d:       New(db, accounts, sandbox, limiter, logger, cfg),
		svc:     svc,
		db:      db,
		sandbox: sandbox,
		acc:     acc,
	}
}

// queueCampaign creates a free-text campaign for the given phones and moves
// it to queued with its recipients resolved.
func (e *testEnv) queueCampaign(t *testing.T, phones ...string) *models.Campaign {
	t.Helper()

	c, err := e.svc.Create(campaign.Params{
		Name:        "blast",
		AccountID:   e.acc.ID,
		MessageType: models.MessageFreeText,
		Body:        "Hello {name}!",
		Target:      &models.TargetQuery{Type: models.TargetManual, Manual: &models.ManualTarget{Phones: phones}},
		Actor:       "tester",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	queued, err := e.svc.Send(context.Background(), c.ID, "tester")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	return queued
}

// startSending claims the campaign the way the poll loop would
func (e *testEnv) startSending(t *testing.T, id string) *models.Campaign {
	t.Helper()
	if err := e.d.campaigns.Transition(id, models.CampaignQueued, models.CampaignSending); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	c, err := e.d.campaigns.GetByID(id)
	if err != nil || c == nil {
		t.Fatalf("reload failed: %v", err)
	}
	return c
}

func (e *testEnv) campaignStatus(t *testing.T, id string) models.CampaignStatus {
	t.Helper()
	c, err := e.d.campaigns.GetByID(id)
	if err != nil || c == nil {
		t.Fatalf("reload failed: %v", err)
	}
	return c.Status
}

func (e *testEnv) recipientByPhone(t *testing.T, campaignID, phone string) *models.CampaignRecipient {
	t.Helper()
	recs, err := e.d.recipients.List(models.RecipientFilter{CampaignID: campaignID})
	if err != nil {
		t.Fatalf("list recipients failed: %v", err)
	}
	for i := range recs {
		if recs[i].Phone == phone {
			return &recs[i]
		}
	}
	t.Fatalf("no recipient with phone %s", phone)
	return nil
}

func TestRunCampaignCompletes(t *testing.T) {
	e := setup(t, fastConfig(), nil)
	c := e.queueCampaign(t, "+628111000001", "+628111000002", "+628111000003")

	e.d.runCampaign(context.Background(), *e.startSending(t, c.ID))

	if got := e.campaignStatus(t, c.ID); got != models.CampaignCompleted {
		t.Fatalf("status = %s, want completed", got)
	}
	if sent := e.sandbox.Sent(); len(sent) != 3 {
		t.Errorf("sandbox accepted %d messages, want 3", len(sent))
	}

	stats, err := e.d.recipients.Stats(c.ID)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Sent != 3 || stats.Pending != 0 {
		t.Errorf("stats = %+v, want 3 sent, 0 pending", stats)
	}

	entries, err := e.d.audit.List(models.AuditFilter{Action: models.AuditCampaignComplete, CampaignID: c.ID})
	if err != nil {
		t.Fatalf("list audit failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected one completion audit entry, got %d", len(entries))
	}
	if entries[0].Actor != "system" {
		t.Errorf("completion actor = %s, want system", entries[0].Actor)
	}
}

func TestTransientFailureRetriesUntilBound(t *testing.T) {
	e := setup(t, fastConfig(), nil)
	bad := "+628111000002"
	e.sandbox.FailPhone(bad, provider.Transient("131056", errors.New("pair rate limited")))

	c := e.queueCampaign(t, "+628111000001", bad)
	e.d.runCampaign(context.Background(), *e.startSending(t, c.ID))

	if got := e.campaignStatus(t, c.ID); got != models.CampaignCompleted {
		t.Fatalf("status = %s, want completed", got)
	}

	rec := e.recipientByPhone(t, c.ID, bad)
	if rec.Status != models.RecipientFailed {
		t.Errorf("status = %s, want failed", rec.Status)
	}
	if rec.Retries != 3 {
		t.Errorf("retries = %d, want 3", rec.Retries)
	}
	if !strings.Contains(rec.LastError, "transient") {
		t.Errorf("last error %q does not record the transient failure", rec.LastError)
	}

	ok := e.recipientByPhone(t, c.ID, "+628111000001")
	if ok.Status != models.RecipientSent {
		t.Errorf("healthy recipient status = %s, want sent", ok.Status)
	}
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	e := setup(t, fastConfig(), nil)
	bad := "+628111000002"
	e.sandbox.FailPhone(bad, provider.Permanent("131026", errors.New("recipient cannot receive message")))

	c := e.queueCampaign(t, "+628111000001", bad)
	e.d.runCampaign(context.Background(), *e.startSending(t, c.ID))

	if got := e.campaignStatus(t, c.ID); got != models.CampaignCompleted {
		t.Fatalf("status = %s, want completed", got)
	}

	rec := e.recipientByPhone(t, c.ID, bad)
	if rec.Status != models.RecipientFailed {
		t.Errorf("status = %s, want failed", rec.Status)
	}
	if rec.Retries != 0 {
		t.Errorf("retries = %d, want 0 for a permanent failure", rec.Retries)
	}
	if sent := e.sandbox.Sent(); len(sent) != 1 {
		t.Errorf("sandbox accepted %d messages, want 1", len(sent))
	}
}

func TestAccountFaultHaltsAccountCampaigns(t *testing.T) {
	e := setup(t, fastConfig(), nil)
	bad := "+628111000002"
	e.sandbox.FailPhone(bad, provider.AccountFault("190", errors.New("access token expired")))

	running := e.queueCampaign(t, "+628111000001", bad, "+628111000003")
	waiting := e.queueCampaign(t, "+628111000011", "+628111000012")

	e.d.runCampaign(context.Background(), *e.startSending(t, running.ID))

	if got := e.campaignStatus(t, running.ID); got != models.CampaignFailed {
		t.Errorf("running campaign status = %s, want failed", got)
	}
	if got := e.campaignStatus(t, waiting.ID); got != models.CampaignFailed {
		t.Errorf("queued campaign status = %s, want failed", got)
	}

	acc, err := e.d.accounts.Get(e.acc.ID)
	if err != nil {
		t.Fatalf("get account failed: %v", err)
	}
	if acc.Status != models.AccountDisconnected {
		t.Errorf("account status = %s, want disconnected", acc.Status)
	}

	// No recipient of the aborted campaigns may stay pending
	for _, id := range []string{running.ID, waiting.ID} {
		stats, err := e.d.recipients.Stats(id)
		if err != nil {
			t.Fatalf("stats failed: %v", err)
		}
		if stats.Pending != 0 {
			t.Errorf("campaign %s still has %d pending recipients", id, stats.Pending)
		}
	}

	entries, err := e.d.audit.List(models.AuditFilter{Action: models.AuditCampaignFail})
	if err != nil {
		t.Fatalf("list audit failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected two campaign fail audit entries, got %d", len(entries))
	}
}

func TestQuotaDenialReschedulesWithoutRetry(t *testing.T) {
	rl := &ratelimit.Config{
		DefaultAccount: &ratelimit.LimitConfig{MessagesPerHour: 2},
	}
	e := setup(t, fastConfig(), rl)

	c := e.queueCampaign(t, "+628111000001", "+628111000002", "+628111000003", "+628111000004")
	claimed := e.startSending(t, c.ID)

	batch, err := e.d.recipients.DuePending(c.ID, time.Now(), 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	for _, rec := range batch {
		e.d.attempt(context.Background(), claimed, "", rec)
	}

	if sent := e.sandbox.Sent(); len(sent) != 2 {
		t.Fatalf("sandbox accepted %d messages, want 2", len(sent))
	}

	stats, err := e.d.recipients.Stats(c.ID)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Sent != 2 || stats.Pending != 2 {
		t.Fatalf("stats = %+v, want 2 sent, 2 pending", stats)
	}

	// Denied recipients keep their retry budget and get a future due time
	recs, err := e.d.recipients.List(models.RecipientFilter{CampaignID: c.ID, Status: models.RecipientPending})
	if err != nil {
		t.Fatalf("list recipients failed: %v", err)
	}
	for _, rec := range recs {
		if rec.Retries != 0 {
			t.Errorf("recipient %s retries = %d, want 0", rec.Phone, rec.Retries)
		}
		if rec.NextRetryAt == nil || !rec.NextRetryAt.After(time.Now().Add(30*time.Minute)) {
			t.Errorf("recipient %s has no quota backoff, next_retry_at = %v", rec.Phone, rec.NextRetryAt)
		}
	}
}

func TestCancelledCampaignStopsImmediately(t *testing.T) {
	e := setup(t, fastConfig(), nil)
	c := e.queueCampaign(t, "+628111000001", "+628111000002")

	claimed := e.startSending(t, c.ID)
	if _, err := e.svc.Cancel(c.ID, "tester"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	// The runner saw the claim succeed but the campaign was cancelled before
	// any attempt happened.
	claimed.Status = models.CampaignSending
	e.d.runCampaign(context.Background(), *claimed)

	if sent := e.sandbox.Sent(); len(sent) != 0 {
		t.Errorf("sandbox accepted %d messages after cancellation, want 0", len(sent))
	}
	if got := e.campaignStatus(t, c.ID); got != models.CampaignCancelled {
		t.Errorf("status = %s, want cancelled", got)
	}
}

func TestStartClaimsDueCampaigns(t *testing.T) {
	e := setup(t, fastConfig(), nil)
	c := e.queueCampaign(t, "+628111000001", "+628111000002")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.d.Start(ctx)
	defer e.d.Stop()

	waitForStatus(t, e, c.ID, models.CampaignCompleted)

	if sent := e.sandbox.Sent(); len(sent) != 2 {
		t.Errorf("sandbox accepted %d messages, want 2", len(sent))
	}
}

func TestStartResumesSendingCampaign(t *testing.T) {
	e := setup(t, fastConfig(), nil)
	c := e.queueCampaign(t, "+628111000001")

	// Simulate a crash after the claim but before any attempt
	e.startSending(t, c.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.d.Start(ctx)
	defer e.d.Stop()

	waitForStatus(t, e, c.ID, models.CampaignCompleted)
}

func TestPokeClaimsBeforeNextTick(t *testing.T) {
	cfg := fastConfig()
	cfg.PollInterval = time.Hour
	e := setup(t, cfg, nil)
	c := e.queueCampaign(t, "+628111000001")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.d.Start(ctx)
	defer e.d.Stop()

	e.d.Poke()

	waitForStatus(t, e, c.ID, models.CampaignCompleted)
}

func TestScheduledCampaignNotClaimedEarly(t *testing.T) {
	e := setup(t, fastConfig(), nil)

	future := time.Now().Add(time.Hour)
	c, err := e.svc.Create(campaign.Params{
		Name:        "later",
		AccountID:   e.acc.ID,
		MessageType: models.MessageFreeText,
		Body:        "Hello!",
		Target:      &models.TargetQuery{Type: models.TargetManual, Manual: &models.ManualTarget{Phones: []string{"+628111000001"}}},
		ScheduleAt:  &future,
		Actor:       "tester",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := e.svc.Send(context.Background(), c.ID, "tester"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	e.d.claimDue(context.Background())

	if got := e.campaignStatus(t, c.ID); got != models.CampaignQueued {
		t.Errorf("status = %s, want queued until the schedule elapses", got)
	}
}

func TestCalculateBackoff(t *testing.T) {
	d := &Dispatcher{cfg: Config{RetryInterval: time.Minute, MaxBackoff: 15 * time.Minute}}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 15 * time.Minute}, // capped
		{8, 15 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := d.calculateBackoff(tt.attempt); got != tt.want {
				t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func waitForStatus(t *testing.T, e *testEnv, id string, want models.CampaignStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if e.campaignStatus(t, id) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("campaign %s never reached %s, last status %s", id, want, e.campaignStatus(t, id))
}
