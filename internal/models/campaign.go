package models

import "time"

// CampaignStatus represents the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignQueued    CampaignStatus = "queued"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// MessageType distinguishes template campaigns from free-text campaigns
type MessageType string

const (
	MessageTemplate MessageType = "template"
	MessageFreeText MessageType = "free_text"
)

// campaignTransitions lists the legal forward edges of the lifecycle.
// Anything not listed here is rejected, including every backward edge.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:   {CampaignQueued, CampaignCancelled},
	CampaignQueued:  {CampaignSending, CampaignCancelled},
	CampaignSending: {CampaignCompleted, CampaignFailed, CampaignCancelled},
}

// CanTransition reports whether from -> to is a legal campaign transition.
func (s CampaignStatus) CanTransition(to CampaignStatus) bool {
	for _, next := range campaignTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further automatic transition occurs from s.
func (s CampaignStatus) Terminal() bool {
	switch s {
	case CampaignCompleted, CampaignFailed, CampaignCancelled:
		return true
	}
	return false
}

// Campaign represents one outbound blast
type Campaign struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	AccountID   string         `json:"account_id"`
	MessageType MessageType    `json:"message_type"`
	Body        string         `json:"body,omitempty"`     // free-text body
	Template    string         `json:"template,omitempty"` // JSON template snapshot
	Variables   string         `json:"variables,omitempty"` // JSON array of field names, by placeholder index
	Target      string         `json:"target"`              // JSON target query
	ScheduleAt  *time.Time     `json:"schedule_at,omitempty"`
	Status      CampaignStatus `json:"status"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CampaignStats holds aggregate delivery counts, always recomputed from
// recipients rather than stored on the campaign.
type CampaignStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Read      int `json:"read"`
	Failed    int `json:"failed"`
}

// Done reports whether every recipient reached a terminal state.
func (s CampaignStats) Done() bool {
	return s.Total > 0 && s.Pending == 0
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	Status CampaignStatus
	Search string
	Limit  int
	Offset int
}
