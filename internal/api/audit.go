package api

import (
	"net/http"

	"github.com/ostrix/blastd/internal/models"
)

// handleAuditList handles GET /api/v1/audit
func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit")
	if limit == 0 {
		limit = 100
	}

	entries, err := s.audit.List(models.AuditFilter{
		Action:     r.URL.Query().Get("action"),
		Actor:      r.URL.Query().Get("actor"),
		CampaignID: r.URL.Query().Get("campaign_id"),
		Limit:      limit,
		Offset:     queryInt(r, "offset"),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, entries)
}
