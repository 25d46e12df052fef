package models

import "time"

// AccountStatus represents the credential state of a messaging account
type AccountStatus string

const (
	AccountConnected    AccountStatus = "connected"
	AccountDisconnected AccountStatus = "disconnected"
	AccountExpiringSoon AccountStatus = "expiring_soon"
)

// Account represents a connected outbound messaging identity.
// The credential is opaque and stored encrypted; accounts are never silently
// deleted, only marked disconnected or explicitly removed.
type Account struct {
	ID           string        `json:"id"`
	ProviderID   string        `json:"provider_id"` // provider-side account id
	Name         string        `json:"name"`
	Phone        string        `json:"phone"`
	Credential   []byte        `json:"-"` // encrypted at rest
	CredExpireAt *time.Time    `json:"cred_expire_at,omitempty"`
	Status       AccountStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Usable reports whether the account may dispatch messages.
func (a *Account) Usable() bool {
	return a.Status == AccountConnected || a.Status == AccountExpiringSoon
}
