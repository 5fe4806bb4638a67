// Package handler exposes the audit trail to administrators.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fairfin/internal/audit"
	identity "fairfin/internal/identity/models"
	"fairfin/internal/platform/middleware"
	dErrors "fairfin/pkg/domain-errors"
	"fairfin/pkg/platform/httputil"
)

const defaultLimit = 100

// Log reads the audit trail.
type Log interface {
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
	List(ctx context.Context, userID uuid.UUID) ([]audit.Event, error)
}

// UserResolver loads the acting user's stored record for the admin check.
type UserResolver interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Handler struct {
	log       Log
	users     UserResolver
	logger    *slog.Logger
	validator middleware.TokenValidator
}

func New(log Log, users UserResolver, validator middleware.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{
		log:       log,
		users:     users,
		logger:    logger,
		validator: validator,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Get("/admin/audit", h.handleListRecent)
		r.Get("/admin/audit/users/{userID}", h.handleListByUser)
	})
}

// requireAdmin resolves the acting user and checks the stored role.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	ctx := r.Context()
	userID, err := uuid.Parse(middleware.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid session"))
		return false
	}
	user, err := h.users.GetUser(ctx, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return false
	}
	if user.Role != identity.RoleAdmin {
		h.logger.WarnContext(ctx, "audit access denied",
			"request_id", middleware.GetRequestID(ctx),
			"user_id", user.ID,
			"role", string(user.Role),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "administrator role required"))
		return false
	}
	return true
}

func (h *Handler) handleListRecent(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	events, err := h.log.ListRecent(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) handleListByUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid user id"))
		return
	}
	events, err := h.log.List(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}
