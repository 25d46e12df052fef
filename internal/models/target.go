package models

import (
	"encoding/json"
	"fmt"
)

// TargetType identifies the audience source variant of a campaign
type TargetType string

const (
	TargetManual    TargetType = "manual"
	TargetGroup     TargetType = "group"
	TargetTag       TargetType = "tag"
	TargetImportJob TargetType = "imported_csv_job"
	TargetMetaForm  TargetType = "meta_form"
)

// DedupKey selects the field used to decide whether two rows are the same person
type DedupKey string

const (
	DedupPhone DedupKey = "phone"
	DedupEmail DedupKey = "email"
)

// TargetQuery is a tagged union describing where a campaign's audience comes
// from. Exactly one variant field matching Type is set.
type TargetQuery struct {
	Type TargetType `json:"type"`

	Manual    *ManualTarget    `json:"manual,omitempty"`
	Group     *GroupTarget     `json:"group,omitempty"`
	Tag       *TagTarget       `json:"tag,omitempty"`
	ImportJob *ImportJobTarget `json:"imported_csv_job,omitempty"`
	MetaForm  *MetaFormTarget  `json:"meta_form,omitempty"`
}

// ManualTarget is an explicit phone list, optionally saved as contacts with a
// default country code applied to bare national numbers.
type ManualTarget struct {
	Phones             []string `json:"phones"`
	DefaultCountryCode string   `json:"default_country_code,omitempty"`
	SaveAsContacts     bool     `json:"save_as_contacts,omitempty"`
}

// GroupTarget filters existing contacts by exact group name.
type GroupTarget struct {
	Name string `json:"name"`
}

// TagTarget filters existing contacts whose tag set intersects Tags.
type TagTarget struct {
	Tags []string `json:"tags"`
}

// ImportJobTarget pulls rows from a completed import job.
type ImportJobTarget struct {
	JobID             string   `json:"job_id"`
	RowIDs            []string `json:"row_ids,omitempty"` // optional explicit selection
	DedupKey          DedupKey `json:"dedup_key,omitempty"`
	ConvertToContacts bool     `json:"convert_to_contacts,omitempty"`
}

// MetaFormTarget is an external lead-source query resolved by a pluggable
// provider behind the audience resolver interface.
type MetaFormTarget struct {
	FormID string `json:"form_id"`
	Since  string `json:"since,omitempty"`
}

// Validate checks that the variant matching Type is present and well formed.
func (q *TargetQuery) Validate() error {
	switch q.Type {
	case TargetManual:
		if q.Manual == nil || len(q.Manual.Phones) == 0 {
			return fmt.Errorf("manual target requires at least one phone")
		}
	case TargetGroup:
		if q.Group == nil || q.Group.Name == "" {
			return fmt.Errorf("group target requires a group name")
		}
	case TargetTag:
		if q.Tag == nil || len(q.Tag.Tags) == 0 {
			return fmt.Errorf("tag target requires at least one tag")
		}
	case TargetImportJob:
		if q.ImportJob == nil || q.ImportJob.JobID == "" {
			return fmt.Errorf("import job target requires a job id")
		}
		switch q.ImportJob.DedupKey {
		case "", DedupPhone, DedupEmail:
		default:
			return fmt.Errorf("unknown dedup key: %s", q.ImportJob.DedupKey)
		}
	case TargetMetaForm:
		if q.MetaForm == nil || q.MetaForm.FormID == "" {
			return fmt.Errorf("meta form target requires a form id")
		}
	default:
		return fmt.Errorf("unknown target type: %s", q.Type)
	}
	return nil
}

// ParseTargetQuery decodes and validates a stored target query.
func ParseTargetQuery(data string) (*TargetQuery, error) {
	if data == "" {
		return nil, fmt.Errorf("empty target query")
	}
	q := &TargetQuery{}
	if err := json.Unmarshal([]byte(data), q); err != nil {
		return nil, fmt.Errorf("failed to parse target query: %w", err)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

// Encode serializes the query for storage on a campaign.
func (q *TargetQuery) Encode() (string, error) {
	if err := q.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("failed to encode target query: %w", err)
	}
	return string(data), nil
}
