package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ostrix/blastd/internal/models"
)

// ErrInvalidTransition is returned when a campaign status change is not a
// legal forward edge of the lifecycle, or the campaign moved concurrently.
var ErrInvalidTransition = errors.New("invalid campaign status transition")

// ErrNotFound is wrapped by services when the aggregate an operation names
// does not exist.
var ErrNotFound = errors.New("not found")

// ErrStateConflict is wrapped by services when the current status of an
// aggregate forbids the requested operation.
var ErrStateConflict = errors.New("state conflict")

type CampaignRepository struct {
	q Querier
}

func NewCampaignRepository(q Querier) *CampaignRepository {
	return &CampaignRepository{q: q}
}

// WithTx returns a copy of the repository bound to the transaction.
func (r *CampaignRepository) WithTx(tx *sql.Tx) *CampaignRepository {
	return &CampaignRepository{q: tx}
}

// Create creates a new campaign in draft state
func (r *CampaignRepository) Create(c *models.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.CampaignDraft
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	_, err := r.q.Exec(`
		INSERT INTO campaigns (id, name, account_id, message_type, body, template, variables, target, schedule_at, status, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.AccountID, c.MessageType, c.Body, c.Template, c.Variables, c.Target, c.ScheduleAt, c.Status, c.CreatedBy, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID, or nil if not found
func (r *CampaignRepository) GetByID(id string) (*models.Campaign, error) {
	c := &models.Campaign{}
	err := r.q.QueryRow(`
		SELECT id, name, account_id, message_type, COALESCE(body, ''), COALESCE(template, ''), COALESCE(variables, ''),
			target, schedule_at, status, created_by, created_at, updated_at
		FROM campaigns WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.AccountID, &c.MessageType, &c.Body, &c.Template, &c.Variables,
		&c.Target, &c.ScheduleAt, &c.Status, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns campaigns matching the filter
func (r *CampaignRepository) List(filter models.CampaignListFilter) ([]models.Campaign, int, error) {
	countQuery := "SELECT COUNT(*) FROM campaigns WHERE 1=1"
	args := []any{}

	if filter.Status != "" {
		countQuery += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		countQuery += " AND name LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.q.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, name, account_id, message_type, COALESCE(body, ''), COALESCE(template, ''), COALESCE(variables, ''),
			target, schedule_at, status, created_by, created_at, updated_at
		FROM campaigns WHERE 1=1`

	args = []any{}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		query += " AND name LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}

	query += " ORDER BY updated_at DESC"

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
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.AccountID, &c.MessageType, &c.Body, &c.Template, &c.Variables,
			&c.Target, &c.ScheduleAt, &c.Status, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	return campaigns, total, rows.Err()
}

// ListDue returns queued campaigns whose schedule elapsed (or that have no
// schedule at all), ready to begin sending.
func (r *CampaignRepository) ListDue(now time.Time) ([]models.Campaign, error) {
	rows, err := r.q.Query(`
		SELECT id, name, account_id, message_type, COALESCE(body, ''), COALESCE(template, ''), COALESCE(variables, ''),
			target, schedule_at, status, created_by, created_at, updated_at
		FROM campaigns
		WHERE status = ? AND (schedule_at IS NULL OR schedule_at <= ?)
		ORDER BY created_at`, models.CampaignQueued, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.AccountID, &c.MessageType, &c.Body, &c.Template, &c.Variables,
			&c.Target, &c.ScheduleAt, &c.Status, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// ListActiveByAccount returns queued and sending campaigns of an account,
// used when an account fault aborts everything that account is dispatching.
func (r *CampaignRepository) ListActiveByAccount(accountID string) ([]models.Campaign, error) {
	rows, err := r.q.Query(`
		SELECT id, name, account_id, message_type, COALESCE(body, ''), COALESCE(template, ''), COALESCE(variables, ''),
			target, schedule_at, status, created_by, created_at, updated_at
		FROM campaigns
		WHERE account_id = ? AND status IN (?, ?)`,
		accountID, models.CampaignQueued, models.CampaignSending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.AccountID, &c.MessageType, &c.Body, &c.Template, &c.Variables,
			&c.Target, &c.ScheduleAt, &c.Status, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// Update updates the mutable fields of a draft campaign
func (r *CampaignRepository) Update(c *models.Campaign) error {
	c.UpdatedAt = time.Now()
	_, err := r.q.Exec(`
		UPDATE campaigns SET name = ?, account_id = ?, message_type = ?, body = ?, template = ?, variables = ?, target = ?, schedule_at = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.AccountID, c.MessageType, c.Body, c.Template, c.Variables, c.Target, c.ScheduleAt, c.UpdatedAt, c.ID,
	)
	return err
}

// Transition moves the campaign from one status to another. The move is
// validated against the state machine and applied with a conditional update,
// so a campaign that changed concurrently is never moved twice or backward.
func (r *CampaignRepository) Transition(id string, from, to models.CampaignStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	res, err := r.q.Exec("UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		to, time.Now(), id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: campaign %s is no longer %s", ErrInvalidTransition, id, from)
	}
	return nil
}

// Delete removes a campaign; its recipients are cascade-deleted.
func (r *CampaignRepository) Delete(id string) error {
	_, err := r.q.Exec("DELETE FROM campaigns WHERE id = ?", id)
	return err
}
