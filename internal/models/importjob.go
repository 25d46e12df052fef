package models

import "time"

// ImportJobStatus represents the state of a bulk ingestion run
type ImportJobStatus string

const (
	ImportProcessing ImportJobStatus = "processing"
	ImportCompleted  ImportJobStatus = "completed"
	ImportFailed     ImportJobStatus = "failed"
)

// ImportJob represents one bulk contact ingestion run. Counts are only
// mutated by the ingestion pipeline and are immutable once completed.
type ImportJob struct {
	ID        string          `json:"id"`
	FileName  string          `json:"file_name"`
	Status    ImportJobStatus `json:"status"`
	Total     int             `json:"total"`
	Imported  int             `json:"imported"`
	Duplicate int             `json:"duplicate"`
	Invalid   int             `json:"invalid"`
	GroupName string          `json:"group,omitempty"` // optional target group
	Error     string          `json:"error,omitempty"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ImportRow is one parsed row kept with the job so campaign targeting can
// pull rows from a completed import without re-reading the source file.
type ImportRow struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	RowNum    int    `json:"row_num"`
	Phone     string `json:"phone"` // normalized
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	ContactID string `json:"contact_id,omitempty"` // set when persisted as a contact
}
