package directory

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

// Handler exposes the directory surface over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers directory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/users", h.listUsers)
	r.Patch("/users/roles", h.updateRoles)
	r.Delete("/users", h.deleteUsers)
	r.Post("/orgs/{org}/users", h.createUser)
	r.Get("/orgs/{org}", h.getOrganization)
}

type managedUserResponse struct {
	Username    string          `json:"username"`
	Org         string          `json:"org"`
	Role        string          `json:"role"`
	Permissions map[string]bool `json:"permissions,omitempty"`
}

type listUsersResponse struct {
	Self  managedUserResponse   `json:"self"`
	Users []managedUserResponse `json:"users"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	subject, ok := shared.SubjectFromContext(r.Context())
	if !ok {
		h.error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	self, others, err := h.service.ListManagedUsers(r.Context(), subject)
	if err != nil {
		h.fail(w, r, "list users", err)
		return
	}

	resp := listUsersResponse{
		Self:  managedUserResponse{Username: self.Username, Org: self.Org, Role: string(self.Role)},
		Users: make([]managedUserResponse, 0, len(others)),
	}
	for _, u := range others {
		perms := make(map[string]bool, len(u.Permissions))
		for action, allowed := range u.Permissions {
			perms[string(action)] = allowed
		}
		resp.Users = append(resp.Users, managedUserResponse{
			Username:    u.Username,
			Org:         u.Org,
			Role:        string(u.Role),
			Permissions: perms,
		})
	}
	h.json(w, http.StatusOK, resp)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	subject, ok := shared.SubjectFromContext(r.Context())
	if !ok {
		h.error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var input NewUser
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.error(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		h.error(w, http.StatusBadRequest, "invalid user payload")
		return
	}

	user, err := h.service.CreateUser(r.Context(), subject, chi.URLParam(r, "org"), input)
	if err != nil {
		h.fail(w, r, "create user", err)
		return
	}
	h.json(w, http.StatusCreated, managedUserResponse{Username: user.Username, Org: user.Org, Role: string(user.Role)})
}

type updateRolesRequest struct {
	Changes []RoleChange `json:"changes" validate:"required,min=1,dive"`
}

func (h *Handler) updateRoles(w http.ResponseWriter, r *http.Request) {
	subject, ok := shared.SubjectFromContext(r.Context())
	if !ok {
		h.error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req updateRolesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid role changes")
		return
	}

	if err := h.service.UpdateRoles(r.Context(), subject, req.Changes); err != nil {
		h.fail(w, r, "update roles", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type deleteUsersRequest struct {
	Usernames []string `json:"usernames" validate:"required,min=1"`
}

func (h *Handler) deleteUsers(w http.ResponseWriter, r *http.Request) {
	subject, ok := shared.SubjectFromContext(r.Context())
	if !ok {
		h.error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req deleteUsersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid delete payload")
		return
	}

	if err := h.service.DeleteUsers(r.Context(), subject, req.Usernames); err != nil {
		h.fail(w, r, "delete users", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getOrganization(w http.ResponseWriter, r *http.Request) {
	subject, ok := shared.SubjectFromContext(r.Context())
	if !ok {
		h.error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	org, err := h.service.GetOrganization(r.Context(), subject, chi.URLParam(r, "org"))
	if err != nil {
		h.fail(w, r, "get organization", err)
		return
	}
	h.json(w, http.StatusOK, map[string]any{"name": org.Name, "created_at": org.CreatedAt})
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
	case errors.Is(err, authz.ErrEmptyBatch), errors.Is(err, authz.ErrDuplicateTarget),
		errors.Is(err, ErrSelfTarget), errors.Is(err, ErrUnknownRole):
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
