// Package account manages connected messaging accounts and their credential
// lifecycle.
package account

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/ostrix/blastd/internal/models"
	"github.com/ostrix/blastd/internal/store"
)

// ConnectParams describes a new account connection
type ConnectParams struct {
	ProviderID   string
	Name         string
	Phone        string
	Credential   []byte // plaintext, sealed before storage
	CredExpireAt *time.Time
	Actor        string
}

type Service struct {
	db        *store.DB
	accounts  *store.AccountRepository
	campaigns *store.CampaignRepository
	audit     *store.AuditRepository
	crypto    *Crypto
	logger    *slog.Logger
}

func NewService(db *store.DB, crypto *Crypto, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:        db,
		accounts:  store.NewAccountRepository(db),
		campaigns: store.NewCampaignRepository(db),
		audit:     store.NewAuditRepository(db),
		crypto:    crypto,
		logger:    logger,
	}
}

// Connect registers a new account with its credential sealed at rest
func (s *Service) Connect(p ConnectParams) (*models.Account, error) {
	sealed, err := s.crypto.Seal(p.Credential)
	if err != nil {
		return nil, err
	}

	acc := &models.Account{
		ProviderID:   p.ProviderID,
		Name:         p.Name,
		Phone:        p.Phone,
		Credential:   sealed,
		CredExpireAt: p.CredExpireAt,
		Status:       models.AccountConnected,
	}

	err = s.db.InTx(func(tx *sql.Tx) error {
		if err := s.accounts.WithTx(tx).Create(acc); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Add(&models.AuditEntry{
			Action:    models.AuditAccountConnect,
			Actor:     p.Actor,
			AccountID: acc.ID,
			Details:   acc.Phone,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account connected", "account_id", acc.ID, "phone", acc.Phone)
	return acc, nil
}

// Disconnect marks the account unusable without deleting it
func (s *Service) Disconnect(id, actor string) error {
	acc, err := s.get(id)
	if err != nil {
		return err
	}

	return s.db.InTx(func(tx *sql.Tx) error {
		if err := s.accounts.WithTx(tx).UpdateStatus(id, models.AccountDisconnected); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Add(&models.AuditEntry{
			Action:    models.AuditAccountDisconnect,
			Actor:     actor,
			AccountID: acc.ID,
		})
	})
}

// Refresh replaces the account credential and restores connected status
func (s *Service) Refresh(id string, credential []byte, expireAt *time.Time, actor string) (*models.Account, error) {
	acc, err := s.get(id)
	if err != nil {
		return nil, err
	}

	sealed, err := s.crypto.Seal(credential)
	if err != nil {
		return nil, err
	}
	acc.Credential = sealed
	acc.CredExpireAt = expireAt
	acc.Status = models.AccountConnected

	err = s.db.InTx(func(tx *sql.Tx) error {
		if err := s.accounts.WithTx(tx).Update(acc); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Add(&models.AuditEntry{
			Action:    models.AuditAccountRefresh,
			Actor:     actor,
			AccountID: acc.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account credential refreshed", "account_id", acc.ID)
	return acc, nil
}

// Remove deletes an account. Accounts with queued or sending campaigns
// cannot be removed.
func (s *Service) Remove(id, actor string) error {
	acc, err := s.get(id)
	if err != nil {
		return err
	}

	active, err := s.campaigns.ListActiveByAccount(id)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return fmt.Errorf("account %s has %d active campaigns, cancel them first: %w", id, len(active), store.ErrStateConflict)
	}

	return s.db.InTx(func(tx *sql.Tx) error {
		if err := s.accounts.WithTx(tx).Delete(id); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Add(&models.AuditEntry{
			Action:    models.AuditAccountRemove,
			Actor:     actor,
			AccountID: acc.ID,
			Details:   acc.Phone,
		})
	})
}

// Credential returns the decrypted credential of an account
func (s *Service) Credential(id string) ([]byte, error) {
	acc, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return s.crypto.Open(acc.Credential)
}

// Get returns the account or an error when it does not exist
func (s *Service) Get(id string) (*models.Account, error) {
	return s.get(id)
}

// List returns all accounts
func (s *Service) List() ([]models.Account, error) {
	return s.accounts.List()
}

// SweepExpiring walks credential expirations: accounts expiring within the
// window become expiring_soon, accounts past expiry become disconnected.
// Each status change is audited.
func (s *Service) SweepExpiring(window time.Duration) error {
	now := time.Now()
	accounts, err := s.accounts.ListExpiring(now.Add(window))
	if err != nil {
		return err
	}

	for _, acc := range accounts {
		if acc.CredExpireAt == nil {
			continue
		}

		var (
			next   models.AccountStatus
			action string
		)
		switch {
		case acc.CredExpireAt.Before(now):
			next, action = models.AccountDisconnected, models.AuditAccountDisconnect
		case acc.Status == models.AccountConnected:
			next, action = models.AccountExpiringSoon, models.AuditAccountExpiring
		default:
			continue // already marked
		}

		err := s.db.InTx(func(tx *sql.Tx) error {
			if err := s.accounts.WithTx(tx).UpdateStatus(acc.ID, next); err != nil {
				return err
			}
			return s.audit.WithTx(tx).Add(&models.AuditEntry{
				Action:    action,
				Actor:     "system",
				AccountID: acc.ID,
				Details:   fmt.Sprintf("credential expires %s", acc.CredExpireAt.Format(time.RFC3339)),
			})
		})
		if err != nil {
			return err
		}
		s.logger.Warn("account credential expiring", "account_id", acc.ID, "status", next)
	}

	return nil
}

// MarkFaulted disconnects an account after a provider-side account fault
func (s *Service) MarkFaulted(id, reason string) error {
	return s.db.InTx(func(tx *sql.Tx) error {
		if err := s.accounts.WithTx(tx).UpdateStatus(id, models.AccountDisconnected); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Add(&models.AuditEntry{
			Action:    models.AuditAccountDisconnect,
			Actor:     "system",
			AccountID: id,
			Details:   reason,
		})
	})
}

func (s *Service) get(id string) (*models.Account, error) {
	acc, err := s.accounts.GetByID(id)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, fmt.Errorf("account %s: %w", id, store.ErrNotFound)
	}
	return acc, nil
}
