package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ostrix/blastd/internal/campaign"
	"github.com/ostrix/blastd/internal/models"
	"github.com/ostrix/blastd/internal/template"
)

// CampaignRequest is the request body for campaign creation and update
type CampaignRequest struct {
	Name        string              `json:"name"`
	AccountID   string              `json:"account_id"`
	MessageType models.MessageType  `json:"message_type"`
	Body        string              `json:"body,omitempty"`
	Template    *template.Template  `json:"template,omitempty"`
	Variables   []string            `json:"variables,omitempty"`
	Target      *models.TargetQuery `json:"target"`
	ScheduleAt  *time.Time          `json:"schedule_at,omitempty"`
}

// CampaignListResponse is the response for GET /campaigns
type CampaignListResponse struct {
	Campaigns []models.Campaign `json:"campaigns"`
	Total     int               `json:"total"`
}

// TestSendRequest is the request body for POST /campaigns/{id}/test
type TestSendRequest struct {
	Phone string `json:"phone"`
}

func (s *Server) campaignParams(r *http.Request, req *CampaignRequest) campaign.Params {
	return campaign.Params{
		Name:        req.Name,
		AccountID:   req.AccountID,
		MessageType: req.MessageType,
		Body:        req.Body,
		Template:    req.Template,
		Variables:   req.Variables,
		Target:      req.Target,
		ScheduleAt:  req.ScheduleAt,
		Actor:       actor(r),
	}
}

// handleCampaignCreate handles POST /api/v1/campaigns
func (s *Server) handleCampaignCreate(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := s.campaigns.Create(s.campaignParams(r, &req))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, c)
}

// handleCampaignList handles GET /api/v1/campaigns
func (s *Server) handleCampaignList(w http.ResponseWriter, r *http.Request) {
	campaigns, total, err := s.campaigns.List(models.CampaignListFilter{
		Status: models.CampaignStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, CampaignListResponse{Campaigns: campaigns, Total: total})
}

// handleCampaignGet handles GET /api/v1/campaigns/{id}
func (s *Server) handleCampaignGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleCampaignUpdate handles PUT /api/v1/campaigns/{id}
func (s *Server) handleCampaignUpdate(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := s.campaigns.Update(chi.URLParam(r, "id"), s.campaignParams(r, &req))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleCampaignDelete handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleCampaignDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.campaigns.Delete(chi.URLParam(r, "id"), actor(r)); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCampaignSend handles POST /api/v1/campaigns/{id}/send
func (s *Server) handleCampaignSend(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.Send(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusAccepted, c)
}

// handleCampaignCancel handles POST /api/v1/campaigns/{id}/cancel
func (s *Server) handleCampaignCancel(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.Cancel(chi.URLParam(r, "id"), actor(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleCampaignTest handles POST /api/v1/campaigns/{id}/test
func (s *Server) handleCampaignTest(w http.ResponseWriter, r *http.Request) {
	var req TestSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Phone == "" {
		s.sendError(w, http.StatusBadRequest, "phone is required")
		return
	}

	if err := s.campaigns.SendTest(r.Context(), chi.URLParam(r, "id"), req.Phone, actor(r)); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// handleCampaignStats handles GET /api/v1/campaigns/{id}/stats
func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.campaigns.Get(id); err != nil {
		s.respondError(w, r, err)
		return
	}

	stats, err := s.campaigns.Stats(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

// handleCampaignRecipients handles GET /api/v1/campaigns/{id}/recipients
func (s *Server) handleCampaignRecipients(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.campaigns.Get(id); err != nil {
		s.respondError(w, r, err)
		return
	}

	recipients, err := s.campaigns.Recipients(models.RecipientFilter{
		CampaignID: id,
		Status:     models.RecipientStatus(r.URL.Query().Get("status")),
		Limit:      queryInt(r, "limit"),
		Offset:     queryInt(r, "offset"),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, recipients)
}
