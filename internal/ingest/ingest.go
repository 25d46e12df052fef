// Package ingest turns bulk CSV contact files into deduplicated contacts and
// an ImportJob record carrying the per-run accounting.
package ingest

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/ostrix/blastd/internal/models"
	"github.com/ostrix/blastd/internal/phone"
	"github.com/ostrix/blastd/internal/store"
)

// csvRow maps the recognized import columns
type csvRow struct {
	Phone        string `csv:"phone"`
	Name         string `csv:"name"`
	Email        string `csv:"email"`
	Group        string `csv:"group"`
	Tags         string `csv:"tags"` // comma-separated
	CustomField1 string `csv:"custom_field_1"`
	CustomField2 string `csv:"custom_field_2"`
}

// Options controls one import run
type Options struct {
	FileName           string
	GroupName          string // default group for rows without one
	DefaultCountryCode string // applied to bare national numbers
	Actor              string
}

// Service runs CSV imports. Duplicate and invalid accounting happens here and
// is never recomputed later.
type Service struct {
	db       *store.DB
	contacts *store.ContactRepository
	jobs     *store.ImportJobRepository
	audit    *store.AuditRepository
	logger   *slog.Logger
}

func NewService(db *store.DB, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:       db,
		contacts: store.NewContactRepository(db),
		jobs:     store.NewImportJobRepository(db),
		audit:    store.NewAuditRepository(db),
		logger:   logger,
	}
}

// Import parses r and persists contacts. The returned job carries the final
// counts; a malformed header or empty file fails the job before any contact
// is written, and the failure itself is returned as nil error since it is
// recorded on the job.
func (s *Service) Import(r io.Reader, opts Options) (*models.ImportJob, error) {
	job := &models.ImportJob{
		FileName:  opts.FileName,
		GroupName: opts.GroupName,
		CreatedBy: opts.Actor,
	}
	if err := s.jobs.Create(job); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return s.failJob(job, fmt.Sprintf("read failed: %v", err))
	}

	rows, err := parseRows(data)
	if err != nil {
		return s.failJob(job, err.Error())
	}

	job.Total = len(rows)

	type accepted struct {
		rowNum  int
		contact models.Contact
		email   string
	}
	var keep []accepted
	seen := make(map[string]bool) // normalized phone -> already in this file

	for i, row := range rows {
		rowNum := i + 2 // 1-based plus header

		norm, err := phone.NormalizeWithCountry(row.Phone, opts.DefaultCountryCode)
		if err != nil || strings.TrimSpace(row.Name) == "" {
			job.Invalid++
			s.logger.Debug("import row invalid", "job_id", job.ID, "row", rowNum, "phone", row.Phone)
			continue
		}

		if seen[norm] {
			job.Duplicate++
			continue
		}
		seen[norm] = true

		group := row.Group
		if group == "" {
			group = opts.GroupName
		}

		keep = append(keep, accepted{
			rowNum: rowNum,
			email:  strings.TrimSpace(row.Email),
			contact: models.Contact{
				Name:         strings.TrimSpace(row.Name),
				Phone:        strings.TrimSpace(row.Phone),
				PhoneNorm:    norm,
				Email:        strings.TrimSpace(row.Email),
				GroupName:    group,
				Tags:         encodeTags(row.Tags),
				CustomFields: encodeFields(row.CustomField1, row.CustomField2),
				Source:       "csv_import",
			},
		})
	}

	err = s.db.InTx(func(tx *sql.Tx) error {
		contacts := s.contacts.WithTx(tx)
		jobs := s.jobs.WithTx(tx)

		for _, a := range keep {
			c := a.contact
			created, err := contacts.Upsert(&c)
			if err != nil {
				return err
			}
			if created {
				job.Imported++
			} else {
				job.Duplicate++
			}

			if err := jobs.AddRow(&models.ImportRow{
				JobID:     job.ID,
				RowNum:    a.rowNum,
				Phone:     c.PhoneNorm,
				Name:      c.Name,
				Email:     a.email,
				ContactID: c.ID,
			}); err != nil {
				return err
			}
		}

		if err := jobs.Complete(job); err != nil {
			return err
		}

		details, _ := json.Marshal(map[string]int{
			"total": job.Total, "imported": job.Imported,
			"duplicate": job.Duplicate, "invalid": job.Invalid,
		})
		return s.audit.WithTx(tx).Add(&models.AuditEntry{
			Action:   models.AuditImportComplete,
			Actor:    opts.Actor,
			ImportID: job.ID,
			Details:  string(details),
		})
	})
	if err != nil {
		return s.failJob(job, err.Error())
	}

	s.logger.Info("import completed",
		"job_id", job.ID,
		"file", job.FileName,
		"total", job.Total,
		"imported", job.Imported,
		"duplicate", job.Duplicate,
		"invalid", job.Invalid,
	)
	return job, nil
}

func (s *Service) failJob(job *models.ImportJob, reason string) (*models.ImportJob, error) {
	s.logger.Warn("import failed", "job_id", job.ID, "file", job.FileName, "reason", reason)
	if err := s.jobs.Fail(job.ID, reason); err != nil {
		return nil, err
	}
	if err := s.audit.Add(&models.AuditEntry{
		Action:   models.AuditImportFail,
		Actor:    job.CreatedBy,
		ImportID: job.ID,
		Details:  reason,
	}); err != nil {
		return nil, err
	}
	job.Status = models.ImportFailed
	job.Error = reason
	return job, nil
}

// parseRows validates the header and decodes all data rows. The phone and
// name columns are required in the header; other recognized columns are
// optional.
func parseRows(data []byte) ([]csvRow, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty file")
	}

	header, err := csv.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		return nil, fmt.Errorf("malformed header: %v", err)
	}
	cols := make(map[string]bool, len(header))
	for _, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = true
	}
	for _, required := range []string{"phone", "name"} {
		if !cols[required] {
			return nil, fmt.Errorf("malformed header: missing %q column", required)
		}
	}

	var rows []csvRow
	if err := gocsv.UnmarshalBytes(data, &rows); err != nil {
		return nil, fmt.Errorf("malformed csv: %v", err)
	}
	return rows, nil
}

func encodeTags(raw string) string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		return ""
	}
	data, _ := json.Marshal(tags)
	return string(data)
}

func encodeFields(f1, f2 string) string {
	fields := map[string]string{}
	if f1 = strings.TrimSpace(f1); f1 != "" {
		fields["custom_field_1"] = f1
	}
	if f2 = strings.TrimSpace(f2); f2 != "" {
		fields["custom_field_2"] = f2
	}
	if len(fields) == 0 {
		return ""
	}
	data, _ := json.Marshal(fields)
	return string(data)
}
