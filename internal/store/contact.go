package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ostrix/blastd/internal/models"
)

type ContactRepository struct {
	q Querier
}

func NewContactRepository(q Querier) *ContactRepository {
	return &ContactRepository{q: q}
}

// WithTx returns a copy of the repository bound to the transaction.
func (r *ContactRepository) WithTx(tx *sql.Tx) *ContactRepository {
	return &ContactRepository{q: tx}
}

// Create creates a new contact
func (r *ContactRepository) Create(c *models.Contact) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	_, err := r.q.Exec(`
		INSERT INTO contacts (id, name, phone, phone_norm, email, group_name, tags, custom_fields, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Phone, c.PhoneNorm, c.Email, c.GroupName, c.Tags, c.CustomFields, c.Source, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

// Upsert inserts the contact or, when the normalized phone already exists,
// updates the existing record in place. Returns true when a new row was
// created. The normalized phone is the dedup key: re-import of an existing
// phone updates, never duplicates.
func (r *ContactRepository) Upsert(c *models.Contact) (bool, error) {
	existing, err := r.GetByPhone(c.PhoneNorm)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return true, r.Create(c)
	}

	// Merge into the existing record: incoming non-empty fields win.
	if c.Name != "" {
		existing.Name = c.Name
	}
	if c.Email != "" {
		existing.Email = c.Email
	}
	if c.GroupName != "" {
		existing.GroupName = c.GroupName
	}
	if c.Tags != "" {
		existing.Tags = c.Tags
	}
	if c.CustomFields != "" {
		existing.CustomFields = c.CustomFields
	}
	c.ID = existing.ID
	return false, r.Update(existing)
}

// GetByID returns a contact by ID, or nil if not found
func (r *ContactRepository) GetByID(id string) (*models.Contact, error) {
	return r.getOne("id = ?", id)
}

// GetByPhone returns a contact by normalized phone, or nil if not found
func (r *ContactRepository) GetByPhone(phoneNorm string) (*models.Contact, error) {
	return r.getOne("phone_norm = ?", phoneNorm)
}

func (r *ContactRepository) getOne(where string, arg any) (*models.Contact, error) {
	c := &models.Contact{}
	err := r.q.QueryRow(`
		SELECT id, COALESCE(name, ''), phone, phone_norm, COALESCE(email, ''), COALESCE(group_name, ''),
			COALESCE(tags, ''), COALESCE(custom_fields, ''), source, created_at, updated_at
		FROM contacts WHERE `+where, arg,
	).Scan(&c.ID, &c.Name, &c.Phone, &c.PhoneNorm, &c.Email, &c.GroupName, &c.Tags, &c.CustomFields, &c.Source, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns contacts matching the filter, ordered by creation time
func (r *ContactRepository) List(filter models.ContactFilter) ([]models.Contact, error) {
	query := `
		SELECT id, COALESCE(name, ''), phone, phone_norm, COALESCE(email, ''), COALESCE(group_name, ''),
			COALESCE(tags, ''), COALESCE(custom_fields, ''), source, created_at, updated_at
		FROM contacts WHERE 1=1`
	args := []any{}

	if filter.Group != "" {
		query += " AND group_name = ?"
		args = append(args, filter.Group)
	}
	if filter.Tag != "" {
		// Tags are stored as a JSON array; match the quoted element.
		query += " AND tags LIKE ?"
		args = append(args, `%"`+filter.Tag+`"%`)
	}
	if filter.Search != "" {
		query += " AND (name LIKE ? OR phone_norm LIKE ?)"
		args = append(args, "%"+filter.Search+"%", "%"+filter.Search+"%")
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

	contacts := []models.Contact{}
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.PhoneNorm, &c.Email, &c.GroupName, &c.Tags, &c.CustomFields, &c.Source, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// Update updates a contact
func (r *ContactRepository) Update(c *models.Contact) error {
	c.UpdatedAt = time.Now()
	_, err := r.q.Exec(`
		UPDATE contacts SET name = ?, phone = ?, phone_norm = ?, email = ?, group_name = ?, tags = ?, custom_fields = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.Phone, c.PhoneNorm, c.Email, c.GroupName, c.Tags, c.CustomFields, c.UpdatedAt, c.ID,
	)
	return err
}
