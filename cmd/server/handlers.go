package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/tmazur/legalrag"
)

type handler struct {
	pipeline legalrag.Pipeline
}

func newHandler(p legalrag.Pipeline) *handler {
	return &handler{pipeline: p}
}

// POST /ingest
// Accepts a multipart file upload (fields: file, document_type, title) or
// JSON with a server-local path.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()

			data, err := io.ReadAll(file)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to read upload")
				slog.Error("reading upload", "error", err)
				return
			}

			// Sanitise filename to prevent path traversal.
			safeName := filepath.Base(header.Filename)

			var opts []legalrag.IngestOption
			if title := r.FormValue("title"); title != "" {
				opts = append(opts, legalrag.WithTitle(title))
			}
			if r.FormValue("force") != "" {
				opts = append(opts, legalrag.WithForce())
			}

			docID, err := h.pipeline.IngestBytes(ctx, safeName, data, r.FormValue("document_type"), opts...)
			if err != nil {
				writeIngestError(w, err)
				slog.Error("ingest error", "filename", safeName, "error", err)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"document_id": docID,
				"filename":    safeName,
			})
			return
		}
	}

	var req struct {
		Path         string `json:"path"`
		DocumentType string `json:"document_type"`
		Title        string `json:"title,omitempty"`
		Force        bool   `json:"force,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path'")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	var opts []legalrag.IngestOption
	if req.Title != "" {
		opts = append(opts, legalrag.WithTitle(req.Title))
	}
	if req.Force {
		opts = append(opts, legalrag.WithForce())
	}

	docID, err := h.pipeline.IngestFile(ctx, req.Path, req.DocumentType, opts...)
	if err != nil {
		writeIngestError(w, err)
		slog.Error("ingest error", "path", req.Path, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": docID,
		"path":        req.Path,
	})
}

// POST /ingest/directory
func (h *handler) handleIngestDirectory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Hour)
	defer cancel()

	var req struct {
		Dir          string `json:"dir"`
		DocumentType string `json:"document_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Dir == "" {
		writeError(w, http.StatusBadRequest, "dir is required")
		return
	}

	outcomes, err := h.pipeline.IngestDirectory(ctx, req.Dir, req.DocumentType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "directory ingestion failed")
		slog.Error("directory ingest error", "dir", req.Dir, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": outcomes})
}

// POST /ingest/api
func (h *handler) handleIngestAPI(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Hour)
	defer cancel()

	var req struct {
		ID           string `json:"id,omitempty"` // single-document fetch
		DocumentType string `json:"document_type,omitempty"`
		FromDate     string `json:"from_date,omitempty"`
		Limit        int    `json:"limit,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Limit < 0 || req.Limit > 1000 {
		req.Limit = 0 // use default
	}

	if req.ID != "" {
		docID, err := h.pipeline.IngestAPIDocument(ctx, req.ID)
		if err != nil {
			if errors.Is(err, legalrag.ErrInvalidConfig) {
				writeError(w, http.StatusConflict, "document api is not configured")
				return
			}
			writeIngestError(w, err)
			slog.Error("api ingest error", "api_id", req.ID, "error", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"document_id": docID, "api_id": req.ID})
		return
	}

	outcomes, err := h.pipeline.IngestAPI(ctx, req.DocumentType, req.FromDate, req.Limit)
	if err != nil {
		if errors.Is(err, legalrag.ErrInvalidConfig) {
			writeError(w, http.StatusConflict, "document api is not configured")
			return
		}
		writeError(w, http.StatusBadGateway, "fetching from document api failed")
		slog.Error("api ingest error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": outcomes})
}

// POST /search
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	var req struct {
		Query        string `json:"query"`
		DocumentType string `json:"document_type,omitempty"`
		Limit        int    `json:"limit,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit < 0 || req.Limit > 100 {
		req.Limit = 0 // use default
	}

	results, err := h.pipeline.Search(ctx, req.Query, req.DocumentType, req.Limit)
	if err != nil {
		writeServiceError(w, err)
		slog.Error("search error", "query", req.Query, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// POST /ask
func (h *handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	var req struct {
		Question     string `json:"question"`
		DocumentType string `json:"document_type,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := h.pipeline.Ask(ctx, req.Question, req.DocumentType)
	if err != nil && !errors.Is(err, legalrag.ErrNoSources) {
		writeServiceError(w, err)
		slog.Error("ask error", "question", req.Question, "error", err)
		return
	}

	// A no-sources outcome is a valid answer, not a failure.
	writeJSON(w, http.StatusOK, answer)
}

// POST /documents/{id}/supersede
func (h *handler) handleSupersede(w http.ResponseWriter, r *http.Request) {
	oldID := r.PathValue("id")

	var req struct {
		NewID string `json:"new_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.NewID == "" {
		writeError(w, http.StatusBadRequest, "new_id is required")
		return
	}

	if err := h.pipeline.RecordSupersession(r.Context(), oldID, req.NewID); err != nil {
		switch {
		case errors.Is(err, legalrag.ErrDocumentNotFound):
			writeError(w, http.StatusNotFound, "document not found")
		case errors.Is(err, legalrag.ErrRelationshipCycle):
			writeError(w, http.StatusConflict, "supersession would create a cycle")
		default:
			writeError(w, http.StatusInternalServerError, "recording supersession failed")
			slog.Error("supersede error", "old", oldID, "new", req.NewID, "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "superseded"})
}

// POST /documents/{id}/abolish
func (h *handler) handleAbolish(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.pipeline.AbolishDocument(r.Context(), id); err != nil {
		if errors.Is(err, legalrag.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "abolition failed")
		slog.Error("abolish error", "document_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "abolished"})
}

// GET /documents/{id}/current
func (h *handler) handleResolveCurrent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	doc, err := h.pipeline.ResolveCurrent(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, legalrag.ErrDocumentNotFound):
			writeError(w, http.StatusNotFound, "document not found")
		case errors.Is(err, legalrag.ErrRelationshipCycle):
			writeError(w, http.StatusConflict, "version chain contains a cycle")
		default:
			writeError(w, http.StatusInternalServerError, "resolving current version failed")
			slog.Error("resolve error", "document_id", id, "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// GET /documents/{id}
func (h *handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	doc, err := h.pipeline.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, legalrag.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load document")
		slog.Error("get document error", "document_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.pipeline.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		slog.Error("list documents error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeIngestError maps pipeline sentinels to HTTP statuses.
func writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, legalrag.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, legalrag.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, legalrag.ErrExtraction):
		writeError(w, http.StatusUnprocessableEntity, "text extraction failed")
	case errors.Is(err, legalrag.ErrEmbeddingService), errors.Is(err, legalrag.ErrIndexUnavailable):
		writeError(w, http.StatusBadGateway, "a backing service is unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "ingestion failed")
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, legalrag.ErrEmbeddingService),
		errors.Is(err, legalrag.ErrGenerationService),
		errors.Is(err, legalrag.ErrIndexUnavailable):
		writeError(w, http.StatusBadGateway, "a backing service is unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "request failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf("%s", msg)})
}
