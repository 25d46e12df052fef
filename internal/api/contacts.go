package api

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ostrix/blastd/internal/models"
	"github.com/ostrix/blastd/internal/phone"
)

// ContactRequest is the request body for contact creation and update
type ContactRequest struct {
	Name         string            `json:"name"`
	Phone        string            `json:"phone"`
	Email        string            `json:"email,omitempty"`
	Group        string            `json:"group,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// handleContactCreate handles POST /api/v1/contacts
func (s *Server) handleContactCreate(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := s.contactFromRequest(&req)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	c.Source = "api"

	if existing, err := s.contacts.GetByPhone(c.PhoneNorm); err != nil {
		s.respondError(w, r, err)
		return
	} else if existing != nil {
		s.sendError(w, http.StatusConflict, "contact with this phone already exists")
		return
	}

	err = s.db.InTx(func(tx *sql.Tx) error {
		if err := s.contacts.WithTx(tx).Create(c); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Add(&models.AuditEntry{
			Action:  models.AuditContactCreate,
			Actor:   actor(r),
			Details: c.PhoneNorm,
		})
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, c)
}

// handleContactList handles GET /api/v1/contacts
func (s *Server) handleContactList(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.contacts.List(models.ContactFilter{
		Group:  r.URL.Query().Get("group"),
		Tag:    r.URL.Query().Get("tag"),
		Search: r.URL.Query().Get("search"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, contacts)
}

// handleContactGet handles GET /api/v1/contacts/{id}
func (s *Server) handleContactGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.contacts.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "contact not found")
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleContactUpdate handles PUT /api/v1/contacts/{id}
func (s *Server) handleContactUpdate(w http.ResponseWriter, r *http.Request) {
	existing, err := s.contacts.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if existing == nil {
		s.sendError(w, http.StatusNotFound, "contact not found")
		return
	}

	var req ContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := s.contactFromRequest(&req)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	c.ID = existing.ID
	c.Source = existing.Source
	c.CreatedAt = existing.CreatedAt

	err = s.db.InTx(func(tx *sql.Tx) error {
		if err := s.contacts.WithTx(tx).Update(c); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Add(&models.AuditEntry{
			Action:  models.AuditContactUpdate,
			Actor:   actor(r),
			Details: c.PhoneNorm,
		})
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// contactFromRequest validates the request and assembles a contact model
// with the phone normalized and tags and custom fields encoded for storage.
func (s *Server) contactFromRequest(req *ContactRequest) (*models.Contact, error) {
	norm, err := phone.NormalizeWithCountry(req.Phone, s.countryCode)
	if err != nil {
		return nil, err
	}

	c := &models.Contact{
		Name:      req.Name,
		Phone:     req.Phone,
		PhoneNorm: norm,
		Email:     req.Email,
		GroupName: req.Group,
	}
	if len(req.Tags) > 0 {
		data, err := json.Marshal(req.Tags)
		if err != nil {
			return nil, err
		}
		c.Tags = string(data)
	}
	if len(req.CustomFields) > 0 {
		data, err := json.Marshal(req.CustomFields)
		if err != nil {
			return nil, err
		}
		c.CustomFields = string(data)
	}
	return c, nil
}
