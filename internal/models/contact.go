package models

import (
	"encoding/json"
	"time"
)

// Contact represents a deduplicated person record. The normalized phone is
// the dedup key and is unique within the workspace.
type Contact struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Phone        string    `json:"phone"`            // raw, as entered
	PhoneNorm    string    `json:"phone_normalized"` // canonical form, unique
	Email        string    `json:"email,omitempty"`
	GroupName    string    `json:"group,omitempty"`
	Tags         string    `json:"tags,omitempty"`          // JSON array
	CustomFields string    `json:"custom_fields,omitempty"` // JSON object
	Source       string    `json:"source"`                  // manual, csv_import, campaign, api
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TagList decodes the JSON tag array, returning nil on empty or bad data.
func (c *Contact) TagList() []string {
	if c.Tags == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(c.Tags), &tags); err != nil {
		return nil
	}
	return tags
}

// FieldMap decodes the JSON custom fields object.
func (c *Contact) FieldMap() map[string]string {
	if c.CustomFields == "" {
		return nil
	}
	var fields map[string]string
	if err := json.Unmarshal([]byte(c.CustomFields), &fields); err != nil {
		return nil
	}
	return fields
}

// HasTag reports whether the contact carries the given tag.
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.TagList() {
		if t == tag {
			return true
		}
	}
	return false
}

// ContactFilter for filtering contacts
type ContactFilter struct {
	Group  string
	Tag    string
	Search string
	Limit  int
	Offset int
}
