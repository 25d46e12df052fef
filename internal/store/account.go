package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ostrix/blastd/internal/models"
)

type AccountRepository struct {
	q Querier
}

func NewAccountRepository(q Querier) *AccountRepository {
	return &AccountRepository{q: q}
}

// WithTx returns a copy of the repository bound to the transaction.
func (r *AccountRepository) WithTx(tx *sql.Tx) *AccountRepository {
	return &AccountRepository{q: tx}
}

// Create creates a new account
func (r *AccountRepository) Create(a *models.Account) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt

	_, err := r.q.Exec(`
		INSERT INTO accounts (id, provider_id, name, phone, credential, cred_expire_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProviderID, a.Name, a.Phone, a.Credential, a.CredExpireAt, a.Status, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetByID returns an account by ID, or nil if not found
func (r *AccountRepository) GetByID(id string) (*models.Account, error) {
	a := &models.Account{}
	err := r.q.QueryRow(`
		SELECT id, provider_id, name, phone, credential, cred_expire_at, status, created_at, updated_at
		FROM accounts WHERE id = ?`, id,
	).Scan(&a.ID, &a.ProviderID, &a.Name, &a.Phone, &a.Credential, &a.CredExpireAt, &a.Status, &a.CreatedAt, &a.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// List returns all accounts ordered by name
func (r *AccountRepository) List() ([]models.Account, error) {
	rows, err := r.q.Query(`
		SELECT id, provider_id, name, phone, credential, cred_expire_at, status, created_at, updated_at
		FROM accounts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.ProviderID, &a.Name, &a.Phone, &a.Credential, &a.CredExpireAt, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ListExpiring returns connected accounts whose credential expires before cutoff
func (r *AccountRepository) ListExpiring(cutoff time.Time) ([]models.Account, error) {
	rows, err := r.q.Query(`
		SELECT id, provider_id, name, phone, credential, cred_expire_at, status, created_at, updated_at
		FROM accounts
		WHERE status IN (?, ?) AND cred_expire_at IS NOT NULL AND cred_expire_at <= ?
		ORDER BY cred_expire_at`, models.AccountConnected, models.AccountExpiringSoon, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.ProviderID, &a.Name, &a.Phone, &a.Credential, &a.CredExpireAt, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Update updates a mutable account field set
func (r *AccountRepository) Update(a *models.Account) error {
	a.UpdatedAt = time.Now()
	_, err := r.q.Exec(`
		UPDATE accounts SET name = ?, phone = ?, credential = ?, cred_expire_at = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		a.Name, a.Phone, a.Credential, a.CredExpireAt, a.Status, a.UpdatedAt, a.ID,
	)
	return err
}

// UpdateStatus sets the account status
func (r *AccountRepository) UpdateStatus(id string, status models.AccountStatus) error {
	_, err := r.q.Exec("UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now(), id)
	return err
}

// Delete removes an account. Accounts are only removed explicitly; normal
// lifecycle transitions mark them disconnected instead.
func (r *AccountRepository) Delete(id string) error {
	_, err := r.q.Exec("DELETE FROM accounts WHERE id = ?", id)
	return err
}
