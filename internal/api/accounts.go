package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ostrix/blastd/internal/account"
)

// ConnectAccountRequest is the request body for POST /accounts
type ConnectAccountRequest struct {
	ProviderID   string     `json:"provider_id"`
	Name         string     `json:"name"`
	Phone        string     `json:"phone"`
	Credential   string     `json:"credential"`
	CredExpireAt *time.Time `json:"cred_expire_at,omitempty"`
}

// RefreshAccountRequest is the request body for POST /accounts/{id}/refresh
type RefreshAccountRequest struct {
	Credential   string     `json:"credential"`
	CredExpireAt *time.Time `json:"cred_expire_at,omitempty"`
}

// handleAccountConnect handles POST /api/v1/accounts
func (s *Server) handleAccountConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ProviderID == "" || req.Phone == "" {
		s.sendError(w, http.StatusBadRequest, "provider_id and phone are required")
		return
	}
	if req.Credential == "" {
		s.sendError(w, http.StatusBadRequest, "credential is required")
		return
	}

	acc, err := s.accounts.Connect(account.ConnectParams{
		ProviderID:   req.ProviderID,
		Name:         req.Name,
		Phone:        req.Phone,
		Credential:   []byte(req.Credential),
		CredExpireAt: req.CredExpireAt,
		Actor:        actor(r),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, acc)
}

// handleAccountList handles GET /api/v1/accounts
func (s *Server) handleAccountList(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.List()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, accounts)
}

// handleAccountGet handles GET /api/v1/accounts/{id}
func (s *Server) handleAccountGet(w http.ResponseWriter, r *http.Request) {
	acc, err := s.accounts.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, acc)
}

// handleAccountRefresh handles POST /api/v1/accounts/{id}/refresh
func (s *Server) handleAccountRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Credential == "" {
		s.sendError(w, http.StatusBadRequest, "credential is required")
		return
	}

	acc, err := s.accounts.Refresh(chi.URLParam(r, "id"), []byte(req.Credential), req.CredExpireAt, actor(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, acc)
}

// handleAccountDisconnect handles POST /api/v1/accounts/{id}/disconnect
func (s *Server) handleAccountDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Disconnect(chi.URLParam(r, "id"), actor(r)); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAccountRemove handles DELETE /api/v1/accounts/{id}
func (s *Server) handleAccountRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Remove(chi.URLParam(r, "id"), actor(r)); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
