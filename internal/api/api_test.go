package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ostrix/blastd/internal/account"
	"github.com/ostrix/blastd/internal/audience"
	"github.com/ostrix/blastd/internal/campaign"
	"github.com/ostrix/blastd/internal/config"
	"github.com/ostrix/blastd/internal/ingest"
	"github.com/ostrix/blastd/internal/models"
	"github.com/ostrix/blastd/internal/provider"
	"github.com/ostrix/blastd/internal/store"
	"github.com/ostrix/blastd/internal/template"
)

const (
	testKey   = "6368616368613230706f6c7931333035746573746b65796d7573746265333221"
	testToken = "test-token"
)

type testEnv struct {
	srv     *Server
	ts      *httptest.Server
	db      *store.DB
	sandbox *provider.Sandbox
}

func setup(t *testing.T) *testEnv {
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

	crypto, err := account.NewCrypto(testKey)
	if err != nil {
		t.Fatalf("failed to create crypto: %v", err)
	}

	srv := NewServer(Deps{
		DB:                 db,
		Accounts:           account.NewService(db, crypto, logger),
		Campaigns:          campaign.NewService(db, resolver, sandbox, logger),
		Ingest:             ingest.NewService(db, logger),
		DefaultCountryCode: "62",
		Config:             &config.APIConfig{ListenAddr: ":0", AuthToken: testToken},
		Logger:             logger,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, ts: ts, db: db, sandbox: sandbox}
}

// do sends an authenticated JSON request and decodes the response into out
// when out is non-nil.
func (e *testEnv) do(t *testing.T, method, path string, body, out any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("X-Actor", "tester")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp
}

func (e *testEnv) connectAccount(t *testing.T) *models.Account {
	t.Helper()
	var acc models.Account
	resp := e.do(t, http.MethodPost, "/api/v1/accounts", ConnectAccountRequest{
		ProviderID: "wa-1",
		Name:       "Main",
		Phone:      "+628111000999",
		Credential: "token-123",
	}, &acc)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("connect account: status %d, want 201", resp.StatusCode)
	}
	return &acc
}

func TestHealthNoAuth(t *testing.T) {
	e := setup(t)

	resp, err := http.Get(e.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status %d, want 200", resp.StatusCode)
	}
	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("health status %q, want ok", health.Status)
	}
}

func TestAuthRequired(t *testing.T) {
	e := setup(t)

	resp, err := http.Get(e.ts.URL + "/api/v1/accounts")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status %d, want 401", resp.StatusCode)
	}

	var accounts []models.Account
	authed := e.do(t, http.MethodGet, "/api/v1/accounts", nil, &accounts)
	if authed.StatusCode != http.StatusOK {
		t.Errorf("authenticated status %d, want 200", authed.StatusCode)
	}
}

func TestAccountLifecycle(t *testing.T) {
	e := setup(t)
	acc := e.connectAccount(t)

	if acc.Status != models.AccountConnected {
		t.Errorf("status %s, want connected", acc.Status)
	}

	var listed []models.Account
	e.do(t, http.MethodGet, "/api/v1/accounts", nil, &listed)
	if len(listed) != 1 {
		t.Fatalf("listed %d accounts, want 1", len(listed))
	}

	resp := e.do(t, http.MethodPost, "/api/v1/accounts/"+acc.ID+"/disconnect", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("disconnect status %d, want 204", resp.StatusCode)
	}

	var got models.Account
	e.do(t, http.MethodGet, "/api/v1/accounts/"+acc.ID, nil, &got)
	if got.Status != models.AccountDisconnected {
		t.Errorf("status after disconnect %s, want disconnected", got.Status)
	}

	var refreshed models.Account
	resp = e.do(t, http.MethodPost, "/api/v1/accounts/"+acc.ID+"/refresh",
		RefreshAccountRequest{Credential: "token-456"}, &refreshed)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("refresh status %d, want 200", resp.StatusCode)
	}
	if refreshed.Status != models.AccountConnected {
		t.Errorf("status after refresh %s, want connected", refreshed.Status)
	}

	resp = e.do(t, http.MethodDelete, "/api/v1/accounts/"+acc.ID, nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("remove status %d, want 204", resp.StatusCode)
	}

	resp = e.do(t, http.MethodGet, "/api/v1/accounts/"+acc.ID, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get removed status %d, want 404", resp.StatusCode)
	}
}

func TestContactCreateAndUpdate(t *testing.T) {
	e := setup(t)

	var created models.Contact
	resp := e.do(t, http.MethodPost, "/api/v1/contacts", ContactRequest{
		Name:  "Budi",
		Phone: "0811-100-0001",
		Group: "vip",
		Tags:  []string{"priority"},
	}, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d, want 201", resp.StatusCode)
	}
	if created.PhoneNorm != "+628111000001" {
		t.Errorf("normalized phone %s, want +628111000001", created.PhoneNorm)
	}
	if !created.HasTag("priority") {
		t.Error("expected priority tag")
	}

	// Same phone in a different spelling is a duplicate.
	resp = e.do(t, http.MethodPost, "/api/v1/contacts", ContactRequest{
		Name:  "Budi Again",
		Phone: "+62 811 100 0001",
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status %d, want 409", resp.StatusCode)
	}

	var updated models.Contact
	resp = e.do(t, http.MethodPut, "/api/v1/contacts/"+created.ID, ContactRequest{
		Name:  "Budi Santoso",
		Phone: created.Phone,
		Group: "regular",
	}, &updated)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status %d, want 200", resp.StatusCode)
	}
	if updated.Name != "Budi Santoso" || updated.GroupName != "regular" {
		t.Errorf("update not applied: %+v", updated)
	}

	var vip []models.Contact
	e.do(t, http.MethodGet, "/api/v1/contacts?group=vip", nil, &vip)
	if len(vip) != 0 {
		t.Errorf("vip group has %d contacts after regroup, want 0", len(vip))
	}
}

func TestImportCSV(t *testing.T) {
	e := setup(t)

	csv := "phone,name,email\n" +
		"+628111000001,Budi,budi@example.com\n" +
		"+628111000002,Sari,\n" +
		"+628111000001,Budi Dup,\n" +
		"notaphone,Bad,\n"

	req, err := http.NewRequest(http.MethodPost,
		e.ts.URL+"/api/v1/imports?file_name=leads.csv&group=launch",
		strings.NewReader(csv))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "text/csv")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("import request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("import status %d, want 201", resp.StatusCode)
	}

	var job models.ImportJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Imported != 2 || job.Duplicate != 1 || job.Invalid != 1 {
		t.Errorf("counts imported=%d duplicate=%d invalid=%d, want 2/1/1",
			job.Imported, job.Duplicate, job.Invalid)
	}

	var rows []models.ImportRow
	e.do(t, http.MethodGet, "/api/v1/imports/"+job.ID+"/rows", nil, &rows)
	if len(rows) != 2 {
		t.Errorf("job has %d rows, want 2", len(rows))
	}

	var jobs []models.ImportJob
	e.do(t, http.MethodGet, "/api/v1/imports", nil, &jobs)
	if len(jobs) != 1 {
		t.Errorf("listed %d jobs, want 1", len(jobs))
	}
}

func TestCampaignFlow(t *testing.T) {
	e := setup(t)
	acc := e.connectAccount(t)

	var c models.Campaign
	resp := e.do(t, http.MethodPost, "/api/v1/campaigns", CampaignRequest{
		Name:        "promo",
		AccountID:   acc.ID,
		MessageType: models.MessageFreeText,
		Body:        "Hello {name}!",
		Variables:   []string{"name"},
		Target: &models.TargetQuery{
			Type:   models.TargetManual,
			Manual: &models.ManualTarget{Phones: []string{"+628111000001", "+628111000002"}},
		},
	}, &c)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d, want 201", resp.StatusCode)
	}
	if c.Status != models.CampaignDraft {
		t.Errorf("status %s, want draft", c.Status)
	}

	var queued models.Campaign
	resp = e.do(t, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/send", nil, &queued)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("send status %d, want 202", resp.StatusCode)
	}
	if queued.Status != models.CampaignQueued {
		t.Errorf("status after send %s, want queued", queued.Status)
	}

	var stats models.CampaignStats
	e.do(t, http.MethodGet, "/api/v1/campaigns/"+c.ID+"/stats", nil, &stats)
	if stats.Total != 2 || stats.Pending != 2 {
		t.Errorf("stats total=%d pending=%d, want 2/2", stats.Total, stats.Pending)
	}

	var recipients []models.CampaignRecipient
	e.do(t, http.MethodGet, "/api/v1/campaigns/"+c.ID+"/recipients?status=pending", nil, &recipients)
	if len(recipients) != 2 {
		t.Errorf("listed %d pending recipients, want 2", len(recipients))
	}

	var cancelled models.Campaign
	resp = e.do(t, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/cancel", nil, &cancelled)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status %d, want 200", resp.StatusCode)
	}
	if cancelled.Status != models.CampaignCancelled {
		t.Errorf("status after cancel %s, want cancelled", cancelled.Status)
	}

	// A cancelled campaign cannot be sent again.
	resp = e.do(t, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/send", nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("resend status %d, want 409", resp.StatusCode)
	}

	var entries []models.AuditEntry
	e.do(t, http.MethodGet, "/api/v1/audit?campaign_id="+c.ID, nil, &entries)
	actions := map[string]bool{}
	for _, entry := range entries {
		actions[entry.Action] = true
	}
	for _, want := range []string{models.AuditCampaignCreate, models.AuditCampaignSend, models.AuditCampaignCancel} {
		if !actions[want] {
			t.Errorf("audit log missing %s", want)
		}
	}
}

func TestCampaignValidationError(t *testing.T) {
	e := setup(t)
	acc := e.connectAccount(t)

	resp := e.do(t, http.MethodPost, "/api/v1/campaigns", CampaignRequest{
		Name:        "bad",
		AccountID:   acc.ID,
		MessageType: models.MessageTemplate,
		Template: &template.Template{
			Name:     "UPPER NAME",
			Language: "en_US",
			Category: "MARKETING",
			// no BODY component
		},
		Target: &models.TargetQuery{
			Type:   models.TargetManual,
			Manual: &models.ManualTarget{Phones: []string{"+628111000001"}},
		},
	}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("create status %d, want 422", resp.StatusCode)
	}
}

func TestCampaignNotFound(t *testing.T) {
	e := setup(t)

	resp := e.do(t, http.MethodGet, "/api/v1/campaigns/no-such-id", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status %d, want 404", resp.StatusCode)
	}
}

func TestCampaignTestSend(t *testing.T) {
	e := setup(t)
	acc := e.connectAccount(t)

	var c models.Campaign
	e.do(t, http.MethodPost, "/api/v1/campaigns", CampaignRequest{
		Name:        "probe",
		AccountID:   acc.ID,
		MessageType: models.MessageFreeText,
		Body:        "Hi {name}",
		Variables:   []string{"name"},
		Target: &models.TargetQuery{
			Type:   models.TargetManual,
			Manual: &models.ManualTarget{Phones: []string{"+628111000001"}},
		},
	}, &c)

	resp := e.do(t, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/test",
		TestSendRequest{Phone: "+628111000777"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("test send status %d, want 200", resp.StatusCode)
	}

	sent := e.sandbox.Sent()
	if len(sent) != 1 {
		t.Fatalf("sandbox accepted %d messages, want 1", len(sent))
	}
	if sent[0].To != "+628111000777" {
		t.Errorf("test message went to %s, want +628111000777", sent[0].To)
	}
}
