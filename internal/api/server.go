// Package api exposes the management REST API: accounts, contacts, imports,
// campaigns and the audit log.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ostrix/blastd/internal/account"
	"github.com/ostrix/blastd/internal/campaign"
	"github.com/ostrix/blastd/internal/config"
	"github.com/ostrix/blastd/internal/ingest"
	"github.com/ostrix/blastd/internal/metrics"
	"github.com/ostrix/blastd/internal/store"
)

// Deps carries everything the API layer needs
type Deps struct {
	DB        *store.DB
	Accounts  *account.Service
	Campaigns *campaign.Service
	Ingest    *ingest.Service

	// DefaultCountryCode is applied to bare national numbers on contact
	// creation and CSV imports triggered through the API.
	DefaultCountryCode string

	Config *config.APIConfig
	Logger *slog.Logger
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	db        *store.DB
	accounts  *account.Service
	campaigns *campaign.Service
	ingest    *ingest.Service
	contacts  *store.ContactRepository
	jobs      *store.ImportJobRepository
	audit     *store.AuditRepository

	countryCode string
	config      *config.APIConfig
	logger      *slog.Logger
	startTime   time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:      chi.NewRouter(),
		db:          deps.DB,
		accounts:    deps.Accounts,
		campaigns:   deps.Campaigns,
		ingest:      deps.Ingest,
		contacts:    store.NewContactRepository(deps.DB),
		jobs:        store.NewImportJobRepository(deps.DB),
		audit:       store.NewAuditRepository(deps.DB),
		countryCode: deps.DefaultCountryCode,
		config:      deps.Config,
		logger:      logger,
		startTime:   time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", s.handleAccountConnect)
			r.Get("/", s.handleAccountList)
			r.Get("/{id}", s.handleAccountGet)
			r.Post("/{id}/refresh", s.handleAccountRefresh)
			r.Post("/{id}/disconnect", s.handleAccountDisconnect)
			r.Delete("/{id}", s.handleAccountRemove)
		})

		r.Route("/contacts", func(r chi.Router) {
			r.Post("/", s.handleContactCreate)
			r.Get("/", s.handleContactList)
			r.Get("/{id}", s.handleContactGet)
			r.Put("/{id}", s.handleContactUpdate)
		})

		r.Route("/imports", func(r chi.Router) {
			r.Post("/", s.handleImportCreate)
			r.Get("/", s.handleImportList)
			r.Get("/{id}", s.handleImportGet)
			r.Get("/{id}/rows", s.handleImportRows)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.handleCampaignCreate)
			r.Get("/", s.handleCampaignList)
			r.Get("/{id}", s.handleCampaignGet)
			r.Put("/{id}", s.handleCampaignUpdate)
			r.Delete("/{id}", s.handleCampaignDelete)
			r.Post("/{id}/send", s.handleCampaignSend)
			r.Post("/{id}/cancel", s.handleCampaignCancel)
			r.Post("/{id}/test", s.handleCampaignTest)
			r.Get("/{id}/stats", s.handleCampaignStats)
			r.Get("/{id}/recipients", s.handleCampaignRecipients)
		})

		r.Get("/audit", s.handleAuditList)
	})
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: "0.1.0",
		Uptime:  time.Since(s.startTime).String(),
	})
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
