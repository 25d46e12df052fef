package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ostrix/blastd/internal/models"
)

type ImportJobRepository struct {
	q Querier
}

func NewImportJobRepository(q Querier) *ImportJobRepository {
	return &ImportJobRepository{q: q}
}

func (r *ImportJobRepository) WithTx(tx *sql.Tx) *ImportJobRepository {
	return &ImportJobRepository{q: tx}
}

// Create records a new import job in processing state
func (r *ImportJobRepository) Create(job *models.ImportJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.ImportProcessing
	}
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt

	_, err := r.q.Exec(`
		INSERT INTO import_jobs (id, file_name, status, total, imported, duplicate, invalid, group_name, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.FileName, job.Status, job.Total, job.Imported, job.Duplicate, job.Invalid,
		job.GroupName, job.CreatedBy, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}
	return nil
}

const selectImportJob = `
	SELECT id, file_name, status, total, imported, duplicate, invalid,
		COALESCE(group_name, ''), COALESCE(error, ''), created_by, created_at, updated_at
	FROM import_jobs`

func scanImportJob(job *models.ImportJob) []any {
	return []any{
		&job.ID, &job.FileName, &job.Status, &job.Total, &job.Imported, &job.Duplicate, &job.Invalid,
		&job.GroupName, &job.Error, &job.CreatedBy, &job.CreatedAt, &job.UpdatedAt,
	}
}

// GetByID returns an import job by ID, or nil if not found
func (r *ImportJobRepository) GetByID(id string) (*models.ImportJob, error) {
	job := &models.ImportJob{}
	err := r.q.QueryRow(selectImportJob+" WHERE id = ?", id).Scan(scanImportJob(job)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// List returns import jobs, newest first
func (r *ImportJobRepository) List(limit, offset int) ([]models.ImportJob, error) {
	query := selectImportJob + " ORDER BY created_at DESC, id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []models.ImportJob{}
	for rows.Next() {
		var job models.ImportJob
		if err := rows.Scan(scanImportJob(&job)...); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Complete finalizes a job with its counts
func (r *ImportJobRepository) Complete(job *models.ImportJob) error {
	job.Status = models.ImportCompleted
	job.UpdatedAt = time.Now()

	_, err := r.q.Exec(`
		UPDATE import_jobs SET status = ?, total = ?, imported = ?, duplicate = ?, invalid = ?, updated_at = ?
		WHERE id = ?`,
		job.Status, job.Total, job.Imported, job.Duplicate, job.Invalid, job.UpdatedAt, job.ID)
	return err
}

// Fail marks a job failed before any rows were committed
func (r *ImportJobRepository) Fail(id, reason string) error {
	_, err := r.q.Exec(`
		UPDATE import_jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		models.ImportFailed, reason, time.Now(), id)
	return err
}

// AddRow records one accepted row of an import job
func (r *ImportJobRepository) AddRow(row *models.ImportRow) error {
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	_, err := r.q.Exec(`
		INSERT INTO import_rows (id, job_id, row_num, phone, name, email, contact_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.JobID, row.RowNum, row.Phone, row.Name, row.Email, row.ContactID,
	)
	return err
}

const selectImportRow = `
	SELECT id, job_id, row_num, phone, COALESCE(name, ''), COALESCE(email, ''), COALESCE(contact_id, '')
	FROM import_rows`

// ListRows returns the accepted rows of a job in file order
func (r *ImportJobRepository) ListRows(jobID string) ([]models.ImportRow, error) {
	rows, err := r.q.Query(selectImportRow+" WHERE job_id = ? ORDER BY row_num", jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRows(rows)
}

// GetRows returns the subset of a job's rows with the given IDs, in file
// order. An empty ID list means all rows.
func (r *ImportJobRepository) GetRows(jobID string, rowIDs []string) ([]models.ImportRow, error) {
	if len(rowIDs) == 0 {
		return r.ListRows(jobID)
	}
	query := selectImportRow + " WHERE job_id = ? AND id IN (?" + repeatPlaceholder(len(rowIDs)-1) + ") ORDER BY row_num"
	args := []any{jobID}
	for _, id := range rowIDs {
		args = append(args, id)
	}

	rows, err := r.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRows(rows)
}

func collectRows(rows *sql.Rows) ([]models.ImportRow, error) {
	result := []models.ImportRow{}
	for rows.Next() {
		var row models.ImportRow
		if err := rows.Scan(&row.ID, &row.JobID, &row.RowNum, &row.Phone, &row.Name, &row.Email, &row.ContactID); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// SetRowContact links an import row to the contact it was converted into
func (r *ImportJobRepository) SetRowContact(rowID, contactID string) error {
	_, err := r.q.Exec(`UPDATE import_rows SET contact_id = ? WHERE id = ?`, contactID, rowID)
	return err
}
