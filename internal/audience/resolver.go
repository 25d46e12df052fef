// Package audience resolves a campaign's target query into an ordered,
// deduplicated set of recipient candidates.
package audience

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ostrix/blastd/internal/models"
	"github.com/ostrix/blastd/internal/phone"
	"github.com/ostrix/blastd/internal/store"
)

// Candidate is one resolved audience member before recipient creation
type Candidate struct {
	ContactID string
	Phone     string // normalized
	Name      string
	Email     string
	Contact   *models.Contact // nil for bare phones and external leads
}

// Lead is one row returned by an external lead source
type Lead struct {
	Phone string
	Name  string
	Email string
}

// LeadSource resolves meta_form targets. Implementations query an external
// lead provider; the resolver only needs the rows back.
type LeadSource interface {
	Leads(ctx context.Context, formID, since string) ([]Lead, error)
}

// Resolver turns target queries into candidate lists. Resolution is read-only
// except for the explicit save-as-contacts and convert-to-contacts modes,
// which persist contacts before any recipient exists.
type Resolver struct {
	contacts *store.ContactRepository
	jobs     *store.ImportJobRepository
	leads    LeadSource // may be nil
	logger   *slog.Logger
}

func NewResolver(db *store.DB, leads LeadSource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		contacts: store.NewContactRepository(db),
		jobs:     store.NewImportJobRepository(db),
		leads:    leads,
		logger:   logger,
	}
}

// Resolve returns the campaign audience for q in deterministic order: source
// order preserved, duplicates removed keeping the first occurrence.
func (r *Resolver) Resolve(ctx context.Context, q *models.TargetQuery) ([]Candidate, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var (
		candidates []Candidate
		err        error
	)
	switch q.Type {
	case models.TargetManual:
		candidates, err = r.resolveManual(q.Manual)
	case models.TargetGroup:
		candidates, err = r.resolveGroup(q.Group)
	case models.TargetTag:
		candidates, err = r.resolveTag(q.Tag)
	case models.TargetImportJob:
		candidates, err = r.resolveImportJob(q.ImportJob)
	case models.TargetMetaForm:
		candidates, err = r.resolveMetaForm(ctx, q.MetaForm)
	default:
		return nil, fmt.Errorf("unknown target type: %s", q.Type)
	}
	if err != nil {
		return nil, err
	}

	return dedup(candidates, dedupKeyFor(q)), nil
}

func (r *Resolver) resolveManual(t *models.ManualTarget) ([]Candidate, error) {
	var out []Candidate
	for _, raw := range t.Phones {
		norm, err := phone.NormalizeWithCountry(raw, t.DefaultCountryCode)
		if err != nil {
			r.logger.Debug("skipping invalid manual phone", "phone", raw, "error", err)
			continue
		}
		out = append(out, Candidate{Phone: norm})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("manual target resolved to no valid phones")
	}

	if t.SaveAsContacts {
		for i := range out {
			c := &models.Contact{
				Phone:     out[i].Phone,
				PhoneNorm: out[i].Phone,
				Source:    "campaign",
			}
			if _, err := r.contacts.Upsert(c); err != nil {
				return nil, fmt.Errorf("failed to save manual phone as contact: %w", err)
			}
			out[i].ContactID = c.ID
			out[i].Name = c.Name
			out[i].Contact = c
		}
	}

	return out, nil
}

func (r *Resolver) resolveGroup(t *models.GroupTarget) ([]Candidate, error) {
	contacts, err := r.contacts.List(models.ContactFilter{Group: t.Name})
	if err != nil {
		return nil, err
	}
	return fromContacts(contacts), nil
}

// resolveTag returns contacts whose tag set intersects the query tags,
// in contact store order.
func (r *Resolver) resolveTag(t *models.TagTarget) ([]Candidate, error) {
	contacts, err := r.contacts.List(models.ContactFilter{})
	if err != nil {
		return nil, err
	}

	var matched []models.Contact
	for _, c := range contacts {
		for _, tag := range t.Tags {
			if c.HasTag(tag) {
				matched = append(matched, c)
				break
			}
		}
	}
	return fromContacts(matched), nil
}

func (r *Resolver) resolveImportJob(t *models.ImportJobTarget) ([]Candidate, error) {
	job, err := r.jobs.GetByID(t.JobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("import job %s: %w", t.JobID, store.ErrNotFound)
	}
	if job.Status != models.ImportCompleted {
		return nil, fmt.Errorf("import job %s is %s, only completed jobs can be targeted: %w", t.JobID, job.Status, store.ErrStateConflict)
	}

	rows, err := r.jobs.GetRows(t.JobID, t.RowIDs)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		cand := Candidate{
			ContactID: row.ContactID,
			Phone:     row.Phone,
			Name:      row.Name,
			Email:     row.Email,
		}

		if t.ConvertToContacts && cand.ContactID == "" {
			c := &models.Contact{
				Name:      row.Name,
				Phone:     row.Phone,
				PhoneNorm: row.Phone,
				Email:     row.Email,
				GroupName: job.GroupName,
				Source:    "csv_import",
			}
			if _, err := r.contacts.Upsert(c); err != nil {
				return nil, fmt.Errorf("failed to convert import row to contact: %w", err)
			}
			if err := r.jobs.SetRowContact(row.ID, c.ID); err != nil {
				return nil, err
			}
			cand.ContactID = c.ID
			cand.Contact = c
		}

		out = append(out, cand)
	}
	return out, nil
}

func (r *Resolver) resolveMetaForm(ctx context.Context, t *models.MetaFormTarget) ([]Candidate, error) {
	if r.leads == nil {
		return nil, fmt.Errorf("no lead source configured for meta_form targets")
	}

	leads, err := r.leads.Leads(ctx, t.FormID, t.Since)
	if err != nil {
		return nil, fmt.Errorf("lead source query failed: %w", err)
	}

	var out []Candidate
	for _, lead := range leads {
		norm, err := phone.Normalize(lead.Phone)
		if err != nil {
			r.logger.Debug("skipping lead with invalid phone", "form_id", t.FormID, "phone", lead.Phone)
			continue
		}
		out = append(out, Candidate{Phone: norm, Name: lead.Name, Email: lead.Email})
	}
	return out, nil
}

func fromContacts(contacts []models.Contact) []Candidate {
	out := make([]Candidate, 0, len(contacts))
	for i := range contacts {
		c := contacts[i]
		out = append(out, Candidate{
			ContactID: c.ID,
			Phone:     c.PhoneNorm,
			Name:      c.Name,
			Email:     c.Email,
			Contact:   &c,
		})
	}
	return out
}

func dedupKeyFor(q *models.TargetQuery) models.DedupKey {
	if q.Type == models.TargetImportJob && q.ImportJob.DedupKey == models.DedupEmail {
		return models.DedupEmail
	}
	return models.DedupPhone
}

// dedup keeps the first occurrence of each key, preserving input order.
// Email dedup falls back to the phone when a candidate has no email.
func dedup(in []Candidate, key models.DedupKey) []Candidate {
	seen := make(map[string]bool, len(in))
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		k := c.Phone
		if key == models.DedupEmail && c.Email != "" {
			k = "email:" + c.Email
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}
