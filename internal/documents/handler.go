package documents

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/archon-hq/archon/internal/authz"
	"github.com/archon-hq/archon/internal/shared"
)

// Handler exposes the document surface over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/orgs/{org}/documents", h.listDocuments)
	r.Post("/orgs/{org}/documents", h.createDocument)
	r.Post("/orgs/{org}/documents/{id}/share", h.shareDocument)
	r.Post("/orgs/{org}/documents/archive", h.archiveDocuments)
}

type documentResponse struct {
	Org         string          `json:"org"`
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	IsPublic    bool            `json:"is_public"`
	Archived    bool            `json:"archived"`
	Permissions map[string]bool `json:"permissions,omitempty"`
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	subject, ok := shared.SubjectFromContext(r.Context())
	if !ok {
		h.error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	docs, err := h.service.ListDocuments(r.Context(), subject, chi.URLParam(r, "org"))
	if err != nil {
		h.fail(w, r, "list documents", err)
		return
	}

	resp := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		perms := make(map[string]bool, len(d.Permissions))
		for action, allowed := range d.Permissions {
			perms[string(action)] = allowed
		}
		resp = append(resp, documentResponse{
			Org:         d.Org,
			ID:          d.ID,
			Title:       d.Title,
			IsPublic:    d.IsPublic,
			Archived:    d.Archived,
			Permissions: perms,
		})
	}
	h.json(w, http.StatusOK, map[string]any{"documents": resp})
}

func (h *Handler) createDocument(w http.ResponseWriter, r *http.Request) {
	subject, ok := shared.SubjectFromContext(r.Context())
	if !ok {
		h.error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var input NewDocument
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.error(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		h.error(w, http.StatusBadRequest, "invalid document payload")
		return
	}

	doc, err := h.service.Create(r.Context(), subject, chi.URLParam(r, "org"), input)
	if err != nil {
		h.fail(w, r, "create document", err)
		return
	}
	h.json(w, http.StatusCreated, documentResponse{
		Org: doc.Org, ID: doc.ID, Title: doc.Title, IsPublic: doc.IsPublic, Archived: doc.Archived,
	})
}

func (h *Handler) shareDocument(w http.ResponseWriter, r *http.Request) {
	subject, ok := shared.SubjectFromContext(r.Context())
	if !ok {
		h.error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var grant ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&grant); err != nil {
		h.error(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validate.Struct(grant); err != nil {
		h.error(w, http.StatusBadRequest, "invalid share payload")
		return
	}

	if err := h.service.Share(r.Context(), subject, chi.URLParam(r, "org"), chi.URLParam(r, "id"), grant); err != nil {
		h.fail(w, r, "share document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type archiveRequest struct {
	IDs []string `json:"ids" validate:"required,min=1"`
}

func (h *Handler) archiveDocuments(w http.ResponseWriter, r *http.Request) {
	subject, ok := shared.SubjectFromContext(r.Context())
	if !ok {
		h.error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req archiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid archive payload")
		return
	}

	if err := h.service.ArchiveBatch(r.Context(), subject, chi.URLParam(r, "org"), req.IDs); err != nil {
		h.fail(w, r, "archive documents", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
	} else {
		h.logger.Warn(op, slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	message := shared.UserSafeMessage(err)
	if status == http.StatusBadRequest {
		message = err.Error()
	}
	h.error(w, status, message)
}

func statusFor(err error) int {
	switch {
	case authz.IsAuthorizationError(err):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, authz.ErrEmptyBatch), errors.Is(err, authz.ErrDuplicateTarget), errors.Is(err, ErrUnknownDocRole):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) json(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}

func (h *Handler) error(w http.ResponseWriter, status int, message string) {
	h.json(w, status, map[string]string{"error": message})
}
