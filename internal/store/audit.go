package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ostrix/blastd/internal/models"
)

// AuditRepository is append-only. There is no update or delete.
type AuditRepository struct {
	q Querier
}

func NewAuditRepository(q Querier) *AuditRepository {
	return &AuditRepository{q: q}
}

// WithTx binds the repository to a transaction so the entry commits together
// with the state change it describes.
func (r *AuditRepository) WithTx(tx *sql.Tx) *AuditRepository {
	return &AuditRepository{q: tx}
}

// Add appends an audit entry
func (r *AuditRepository) Add(entry *models.AuditEntry) error {
	entry.CreatedAt = time.Now()

	res, err := r.q.Exec(`
		INSERT INTO audit_log (action, actor, account_id, campaign_id, import_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Action, entry.Actor, entry.AccountID, entry.CampaignID, entry.ImportID, entry.Details, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	entry.ID, err = res.LastInsertId()
	return err
}

// List returns audit entries matching the filter, newest first
func (r *AuditRepository) List(filter models.AuditFilter) ([]models.AuditEntry, error) {
	query := `
		SELECT id, action, actor, COALESCE(account_id, ''), COALESCE(campaign_id, ''),
			COALESCE(import_id, ''), COALESCE(details, ''), created_at
		FROM audit_log WHERE 1=1`
	args := []any{}

	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.Actor != "" {
		query += " AND actor = ?"
		args = append(args, filter.Actor)
	}
	if filter.CampaignID != "" {
		query += " AND campaign_id = ?"
		args = append(args, filter.CampaignID)
	}

	query += " ORDER BY id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor, &e.AccountID, &e.CampaignID, &e.ImportID, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
