package models

import "time"

// RecipientStatus represents the delivery state of a single recipient
type RecipientStatus string

const (
	RecipientPending   RecipientStatus = "pending"
	RecipientSent      RecipientStatus = "sent"
	RecipientDelivered RecipientStatus = "delivered"
	RecipientRead      RecipientStatus = "read"
	RecipientFailed    RecipientStatus = "failed"
)

// recipientRank orders the forward-only delivery progression.
var recipientRank = map[RecipientStatus]int{
	RecipientPending:   0,
	RecipientSent:      1,
	RecipientDelivered: 2,
	RecipientRead:      3,
}

// CanTransition reports whether the status may move from s to next.
// Status only moves forward along pending -> sent -> delivered -> read,
// or terminates at failed from any non-terminal state.
func (s RecipientStatus) CanTransition(next RecipientStatus) bool {
	if s == RecipientFailed {
		return false
	}
	if next == RecipientFailed {
		return true
	}
	from, ok := recipientRank[s]
	if !ok {
		return false
	}
	to, ok := recipientRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Terminal reports whether no further automatic transition occurs from s.
func (s RecipientStatus) Terminal() bool {
	switch s {
	case RecipientDelivered, RecipientRead, RecipientFailed:
		return true
	}
	return false
}

// CampaignRecipient represents one addressed delivery attempt of a campaign
type CampaignRecipient struct {
	ID          string          `json:"id"`
	CampaignID  string          `json:"campaign_id"`
	ContactID   string          `json:"contact_id,omitempty"` // weak reference, may be empty for bare phones
	Phone       string          `json:"phone"`                // normalized
	Name        string          `json:"name,omitempty"`
	Message     string          `json:"message"` // personalized, variables substituted
	Status      RecipientStatus `json:"status"`
	Retries     int             `json:"retries"`
	LastError   string          `json:"last_error,omitempty"`
	ProviderRef string          `json:"provider_ref,omitempty"` // opaque provider response id
	NextRetryAt *time.Time      `json:"next_retry_at,omitempty"`
	AttemptedAt *time.Time      `json:"attempted_at,omitempty"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RecipientFilter for filtering campaign recipients
type RecipientFilter struct {
	CampaignID string
	Status     RecipientStatus
	Limit      int
	Offset     int
}
