package models

import "time"

// Audit action names. Every administrative action writes exactly one entry.
const (
	AuditAccountConnect    = "account.connect"
	AuditAccountDisconnect = "account.disconnect"
	AuditAccountRefresh    = "account.refresh"
	AuditAccountRemove     = "account.remove"
	AuditAccountExpiring   = "account.expiring_soon"
	AuditCampaignCreate    = "campaign.create"
	AuditCampaignUpdate    = "campaign.update"
	AuditCampaignDelete    = "campaign.delete"
	AuditCampaignSend      = "campaign.send"
	AuditCampaignCancel    = "campaign.cancel"
	AuditCampaignComplete  = "campaign.complete"
	AuditCampaignFail      = "campaign.fail"
	AuditTestSend          = "campaign.test_send"
	AuditImportComplete    = "import.complete"
	AuditImportFail        = "import.fail"
	AuditContactCreate     = "contact.create"
	AuditContactUpdate     = "contact.update"
)

// AuditEntry is one immutable record of an administrative action, ordered by
// creation time. Entries are never updated or deleted.
type AuditEntry struct {
	ID         int64     `json:"id"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	AccountID  string    `json:"account_id,omitempty"`
	CampaignID string    `json:"campaign_id,omitempty"`
	ImportID   string    `json:"import_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditFilter for listing audit entries
type AuditFilter struct {
	Action     string
	Actor      string
	CampaignID string
	Limit      int
	Offset     int
}
