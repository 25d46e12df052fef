package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ostrix/blastd/internal/models"
)

type RecipientRepository struct {
	q Querier
}

func NewRecipientRepository(q Querier) *RecipientRepository {
	return &RecipientRepository{q: q}
}

// WithTx returns a copy of the repository bound to the transaction.
func (r *RecipientRepository) WithTx(tx *sql.Tx) *RecipientRepository {
	return &RecipientRepository{q: tx}
}

// BulkCreate inserts the recipient set of a campaign. The unique
// (campaign_id, phone) constraint guarantees no duplicate recipients even if
// the caller races.
func (r *RecipientRepository) BulkCreate(recipients []models.CampaignRecipient) error {
	now := time.Now()
	for i := range recipients {
		rec := &recipients[i]
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		if rec.Status == "" {
			rec.Status = models.RecipientPending
		}
		rec.CreatedAt = now

		_, err := r.q.Exec(`
			INSERT INTO campaign_recipients (id, campaign_id, contact_id, phone, name, message, status, retries, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			rec.ID, rec.CampaignID, rec.ContactID, rec.Phone, rec.Name, rec.Message, rec.Status, rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create recipient %s: %w", rec.Phone, err)
		}
	}
	return nil
}

// GetByID returns a recipient by ID, or nil if not found
func (r *RecipientRepository) GetByID(id string) (*models.CampaignRecipient, error) {
	rec := &models.CampaignRecipient{}
	err := r.q.QueryRow(selectRecipient+" WHERE id = ?", id).Scan(scanRecipient(rec)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

const selectRecipient = `
	SELECT id, campaign_id, COALESCE(contact_id, ''), phone, COALESCE(name, ''), message, status, retries,
		COALESCE(last_error, ''), COALESCE(provider_ref, ''), next_retry_at, attempted_at, delivered_at, created_at
	FROM campaign_recipients`

func scanRecipient(rec *models.CampaignRecipient) []any {
	return []any{
		&rec.ID, &rec.CampaignID, &rec.ContactID, &rec.Phone, &rec.Name, &rec.Message, &rec.Status, &rec.Retries,
		&rec.LastError, &rec.ProviderRef, &rec.NextRetryAt, &rec.AttemptedAt, &rec.DeliveredAt, &rec.CreatedAt,
	}
}

// List returns recipients matching the filter in insertion order
func (r *RecipientRepository) List(filter models.RecipientFilter) ([]models.CampaignRecipient, error) {
	query := selectRecipient + " WHERE campaign_id = ?"
	args := []any{filter.CampaignID}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY created_at, id"

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

	recipients := []models.CampaignRecipient{}
	for rows.Next() {
		var rec models.CampaignRecipient
		if err := rows.Scan(scanRecipient(&rec)...); err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

// DuePending returns pending recipients ready for an attempt: never tried,
// or past their retry backoff.
func (r *RecipientRepository) DuePending(campaignID string, now time.Time, limit int) ([]models.CampaignRecipient, error) {
	rows, err := r.q.Query(selectRecipient+`
		WHERE campaign_id = ? AND status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at, id
		LIMIT ?`,
		campaignID, models.RecipientPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []models.CampaignRecipient{}
	for rows.Next() {
		var rec models.CampaignRecipient
		if err := rows.Scan(scanRecipient(&rec)...); err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

// Stats recomputes the aggregate counts of a campaign from its recipients.
// Counts are derived here and nowhere else, so they cannot drift.
func (r *RecipientRepository) Stats(campaignID string) (*models.CampaignStats, error) {
	rows, err := r.q.Query(`
		SELECT status, COUNT(*) FROM campaign_recipients WHERE campaign_id = ? GROUP BY status`,
		campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &models.CampaignStats{}
	for rows.Next() {
		var status models.RecipientStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch status {
		case models.RecipientPending:
			stats.Pending += count
		case models.RecipientSent:
			stats.Sent += count
		case models.RecipientDelivered:
			stats.Delivered += count
		case models.RecipientRead:
			stats.Read += count
		case models.RecipientFailed:
			stats.Failed += count
		}
	}
	return stats, rows.Err()
}

// MarkSent records a successful send attempt
func (r *RecipientRepository) MarkSent(id, providerRef string, at time.Time) error {
	_, err := r.q.Exec(`
		UPDATE campaign_recipients
		SET status = ?, provider_ref = ?, attempted_at = ?, last_error = '', next_retry_at = NULL
		WHERE id = ? AND status = ?`,
		models.RecipientSent, providerRef, at, id, models.RecipientPending)
	return err
}

// MarkDeferred records a transient failure: the retry counter increases and
// the recipient stays pending until the backoff elapses.
func (r *RecipientRepository) MarkDeferred(id, errMsg string, nextRetryAt, attemptedAt time.Time) error {
	_, err := r.q.Exec(`
		UPDATE campaign_recipients
		SET retries = retries + 1, last_error = ?, next_retry_at = ?, attempted_at = ?
		WHERE id = ? AND status = ?`,
		errMsg, nextRetryAt, attemptedAt, id, models.RecipientPending)
	return err
}

// Reschedule pushes a pending recipient's next attempt out without counting
// a retry. Used when the send quota is exhausted before an attempt starts.
func (r *RecipientRepository) Reschedule(id string, nextRetryAt time.Time) error {
	_, err := r.q.Exec(`
		UPDATE campaign_recipients SET next_retry_at = ? WHERE id = ? AND status = ?`,
		nextRetryAt, id, models.RecipientPending)
	return err
}

// MarkFailed terminates a pending recipient. countRetry is set when the
// failing attempt itself consumed a retry (transient failure at the retry
// bound). Recipients that already progressed past pending are left alone,
// so a late failure report can never downgrade a sent recipient.
func (r *RecipientRepository) MarkFailed(id, errMsg string, countRetry bool) error {
	bump := 0
	if countRetry {
		bump = 1
	}
	_, err := r.q.Exec(`
		UPDATE campaign_recipients
		SET status = ?, retries = retries + ?, last_error = ?, next_retry_at = NULL,
			attempted_at = COALESCE(attempted_at, ?)
		WHERE id = ? AND status = ?`,
		models.RecipientFailed, bump, errMsg, time.Now(), id, models.RecipientPending)
	return err
}

// Advance moves a sent recipient forward on an asynchronous provider
// callback. Backward moves are rejected by the conditional update.
func (r *RecipientRepository) Advance(id string, to models.RecipientStatus) error {
	var from []any
	switch to {
	case models.RecipientDelivered:
		from = []any{models.RecipientSent}
	case models.RecipientRead:
		from = []any{models.RecipientSent, models.RecipientDelivered}
	default:
		return fmt.Errorf("cannot advance recipient to %s", to)
	}

	query := `UPDATE campaign_recipients SET status = ?, delivered_at = COALESCE(delivered_at, ?) WHERE id = ? AND status IN (?` +
		repeatPlaceholder(len(from)-1) + `)`
	args := append([]any{to, time.Now(), id}, from...)

	res, err := r.q.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("recipient %s cannot move to %s", id, to)
	}
	return nil
}

// FailPending fails every untried recipient of a campaign with the given
// reason, leaving recipients that were already attempted untouched.
// Returns the number of recipients failed.
func (r *RecipientRepository) FailPending(campaignID, reason string) (int, error) {
	res, err := r.q.Exec(`
		UPDATE campaign_recipients SET status = ?, last_error = ?, next_retry_at = NULL
		WHERE campaign_id = ? AND status = ?`,
		models.RecipientFailed, reason, campaignID, models.RecipientPending)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func repeatPlaceholder(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}
