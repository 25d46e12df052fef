package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ostrix/blastd/internal/ingest"
	"github.com/ostrix/blastd/internal/metrics"
	"github.com/ostrix/blastd/internal/models"
)

// maxImportSize bounds the in-memory part of a multipart CSV upload
const maxImportSize = 32 << 20 // 32 MB

// handleImportCreate handles POST /api/v1/imports. The CSV comes either as a
// multipart "file" part or as the raw request body with a file_name query
// parameter.
func (s *Server) handleImportCreate(w http.ResponseWriter, r *http.Request) {
	var (
		reader   io.Reader
		fileName string
		group    string
	)

	if err := r.ParseMultipartForm(maxImportSize); err == nil {
		file, header, err := r.FormFile("file")
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "file part is required")
			return
		}
		defer file.Close()
		reader = file
		fileName = header.Filename
		group = r.FormValue("group")
	} else {
		reader = r.Body
		fileName = r.URL.Query().Get("file_name")
		group = r.URL.Query().Get("group")
		if fileName == "" {
			s.sendError(w, http.StatusBadRequest, "file_name is required for raw uploads")
			return
		}
	}

	job, err := s.ingest.Import(reader, ingest.Options{
		FileName:           fileName,
		GroupName:          group,
		DefaultCountryCode: s.countryCode,
		Actor:              actor(r),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	metrics.IncImportJob(string(job.Status))
	metrics.AddImportRows("imported", job.Imported)
	metrics.AddImportRows("duplicate", job.Duplicate)
	metrics.AddImportRows("invalid", job.Invalid)

	status := http.StatusCreated
	if job.Status == models.ImportFailed {
		// The job record exists but nothing was imported.
		status = http.StatusUnprocessableEntity
	}
	s.sendJSON(w, status, job)
}

// handleImportList handles GET /api/v1/imports
func (s *Server) handleImportList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(queryInt(r, "limit"), queryInt(r, "offset"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, jobs)
}

// handleImportGet handles GET /api/v1/imports/{id}
func (s *Server) handleImportGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if job == nil {
		s.sendError(w, http.StatusNotFound, "import job not found")
		return
	}
	s.sendJSON(w, http.StatusOK, job)
}

// handleImportRows handles GET /api/v1/imports/{id}/rows
func (s *Server) handleImportRows(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.GetByID(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if job == nil {
		s.sendError(w, http.StatusNotFound, "import job not found")
		return
	}

	rows, err := s.jobs.ListRows(id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, rows)
}
