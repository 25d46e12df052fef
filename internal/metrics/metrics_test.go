package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}

	if m.Registry() == nil {
		t.Error("Registry() returned nil")
	}

	// Check that all metrics are registered
	if m.MessagesSentTotal == nil {
		t.Error("MessagesSentTotal is nil")
	}
	if m.MessagesFailedTotal == nil {
		t.Error("MessagesFailedTotal is nil")
	}
	if m.MessagesDeferredTotal == nil {
		t.Error("MessagesDeferredTotal is nil")
	}
	if m.CampaignsActive == nil {
		t.Error("CampaignsActive is nil")
	}
	if m.CampaignsFinishedTotal == nil {
		t.Error("CampaignsFinishedTotal is nil")
	}
	if m.RecipientsPending == nil {
		t.Error("RecipientsPending is nil")
	}
	if m.ImportRowsTotal == nil {
		t.Error("ImportRowsTotal is nil")
	}
	if m.APIRequestsTotal == nil {
		t.Error("APIRequestsTotal is nil")
	}
	if m.APIRequestDurationSeconds == nil {
		t.Error("APIRequestDurationSeconds is nil")
	}
}

func TestGlobalMetrics(t *testing.T) {
	// Initially global should be nil
	if Global() != nil {
		t.Error("Global() should be nil before SetGlobal")
	}

	m := New()
	SetGlobal(m)

	if Global() != m {
		t.Error("Global() did not return the set metrics")
	}

	// Cleanup
	SetGlobal(nil)
}

func TestIncMessagesSent(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncMessagesSent("acct-1")
	IncMessagesSent("acct-1")
	IncMessagesSent("acct-2")

	// Check counter value
	counter, err := m.MessagesSentTotal.GetMetricWithLabelValues("acct-1")
	if err != nil {
		t.Fatalf("Failed to get counter: %v", err)
	}

	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Counter.GetValue() != 2 {
		t.Errorf("Expected counter value 2, got %f", metric.Counter.GetValue())
	}
}

func TestIncMessagesFailed(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncMessagesFailed("acct-1", "permanent")
	IncMessagesFailed("acct-1", "account_fault")
	IncMessagesFailed("acct-1", "permanent")

	counter, err := m.MessagesFailedTotal.GetMetricWithLabelValues("acct-1", "permanent")
	if err != nil {
		t.Fatalf("Failed to get counter: %v", err)
	}

	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Counter.GetValue() != 2 {
		t.Errorf("Expected counter value 2, got %f", metric.Counter.GetValue())
	}
}

func TestIncCampaignFinished(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncCampaignFinished("completed")
	IncCampaignFinished("completed")
	IncCampaignFinished("cancelled")

	counter, err := m.CampaignsFinishedTotal.GetMetricWithLabelValues("completed")
	if err != nil {
		t.Fatalf("Failed to get counter: %v", err)
	}

	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Counter.GetValue() != 2 {
		t.Errorf("Expected completed campaigns 2, got %f", metric.Counter.GetValue())
	}
}

func TestAddImportRows(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	AddImportRows("imported", 10)
	AddImportRows("duplicate", 2)
	AddImportRows("imported", 5)

	counter, err := m.ImportRowsTotal.GetMetricWithLabelValues("imported")
	if err != nil {
		t.Fatalf("Failed to get counter: %v", err)
	}

	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Counter.GetValue() != 15 {
		t.Errorf("Expected imported rows 15, got %f", metric.Counter.GetValue())
	}
}

func TestIncRateLimitExceeded(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncRateLimitExceeded("global")
	IncRateLimitExceeded("account")
	IncRateLimitExceeded("global")

	counter, err := m.RateLimitExceededTotal.GetMetricWithLabelValues("global")
	if err != nil {
		t.Fatalf("Failed to get counter: %v", err)
	}

	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}

	if metric.Counter.GetValue() != 2 {
		t.Errorf("Expected rate limit exceeded 2, got %f", metric.Counter.GetValue())
	}
}

func TestGlobalNilSafe(t *testing.T) {
	SetGlobal(nil)

	// These should not panic when global is nil
	IncMessagesSent("acct-1")
	IncMessagesFailed("acct-1", "transient")
	IncMessagesDeferred("acct-1")
	ObserveSendDuration("acct-1", 0.1)
	IncCampaignFinished("failed")
	AddCampaignsActive(1)
	IncImportJob("completed")
	AddImportRows("invalid", 1)
	IncRateLimitExceeded("global")
	IncAPIError("server_error")
}
