package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/clario/internal/domain"
	"github.com/ashureev/clario/internal/store"
)

// Documents is the project document boundary.
type Documents interface {
	GetProject(ctx context.Context, id string) (*store.Project, error)
	PutDocument(ctx context.Context, id string, doc domain.Document) error
}

// ProjectHandler exposes the minimal document boundary used to seed and
// inspect project documents.
type ProjectHandler struct {
	docs        Documents
	maxBodySize int64
}

// NewProjectHandler creates a new project handler.
func NewProjectHandler(docs Documents, maxBodySize int64) *ProjectHandler {
	return &ProjectHandler{docs: docs, maxBodySize: maxBodySize}
}

// RegisterRoutes registers project routes.
func (h *ProjectHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/projects", func(r chi.Router) {
		r.Get("/{projectId}", h.Get)
		r.Put("/{projectId}", h.Put)
	})
}

type projectResponse struct {
	ProjectID string          `json:"projectId"`
	Name      string          `json:"name,omitempty"`
	Document  domain.Document `json:"document"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Get returns a project's document.
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectId")
	p, err := h.docs.GetProject(r.Context(), id)
	if errors.Is(err, store.ErrProjectNotFound) {
		Error(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load project", "error", err, "project_id", id)
		Error(w, http.StatusInternalServerError, "failed to load project")
		return
	}
	doc, err := domain.ParseDocument(p.Raw)
	if err != nil {
		Error(w, http.StatusUnprocessableEntity, "stored document is malformed")
		return
	}
	JSON(w, http.StatusOK, projectResponse{ProjectID: p.ID, Name: p.Name, Document: doc, UpdatedAt: p.UpdatedAt})
}

// Put replaces a project's document.
func (h *ProjectHandler) Put(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectId")
	var doc domain.Document
	if !decodeBody(w, r, h.maxBodySize, &doc) {
		return
	}
	if doc == nil {
		doc = domain.Document{}
	}
	if err := h.docs.PutDocument(r.Context(), id, doc); err != nil {
		slog.Error("Failed to store project document", "error", err, "project_id", id)
		Error(w, http.StatusInternalServerError, "failed to store document")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"projectId": id})
}
