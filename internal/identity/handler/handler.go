// Package handler exposes the login flow over HTTP. The heavy lifting
// happens at the identity collaborator; these endpoints only broker the
// redirect dance and mint portal sessions.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fairfin/internal/identity/models"
	"fairfin/internal/identity/oidc"
	"fairfin/internal/platform/middleware"
	dErrors "fairfin/pkg/domain-errors"
	"fairfin/pkg/platform/httputil"
)

// Service defines the identity operations the transport layer needs.
type Service interface {
	Authenticate(ctx context.Context, claims *oidc.Claims, requestedRole string) (*models.User, bool, error)
	StartSession(ctx context.Context, user *models.User, ipAddress, userAgent string) (*models.Session, string, error)
	EndSession(ctx context.Context, sessionID uuid.UUID) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// IdentityProvider is the outbound side of the login flow.
type IdentityProvider interface {
	BuildAuthURL(roleHint string) string
	Exchange(ctx context.Context, code string) (*oidc.TokenSet, error)
}

type Handler struct {
	identity  Service
	provider  IdentityProvider
	logger    *slog.Logger
	validator middleware.TokenValidator
}

func New(identity Service, provider IdentityProvider, validator middleware.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{
		identity:  identity,
		provider:  provider,
		logger:    logger,
		validator: validator,
	}
}

// Register wires the identity routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/auth/login", h.handleLogin)
	r.Get("/auth/callback", h.handleCallback)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Post("/auth/logout", h.handleLogout)
		r.Get("/me", h.handleMe)
	})
}

// handleLogin redirects the browser to the identity collaborator. The
// optional role query parameter rides along as a hint; the stored role still
// wins at authentication.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	http.Redirect(w, r, h.provider.BuildAuthURL(role), http.StatusFound)
}

type loginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
	IsNew bool         `json:"is_new"`
}

// handleCallback finishes the login: exchange the code, decode the identity
// claims, resolve the portal user, and mint a session token.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := r.URL.Query().Get("code")
	roleHint := r.URL.Query().Get("state")

	tokens, err := h.provider.Exchange(ctx, code)
	if err != nil {
		h.logger.WarnContext(ctx, "token exchange failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	claims, err := oidc.DecodeClaims(tokens.IDToken)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	user, isNew, err := h.identity.Authenticate(ctx, claims, roleHint)
	if err != nil {
		h.logger.WarnContext(ctx, "authentication rejected",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	_, signed, err := h.identity.StartSession(ctx, user, clientIP(r), r.UserAgent())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, loginResponse{Token: signed, User: user, IsNew: isNew})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, err := uuid.Parse(middleware.GetSessionID(ctx))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid session"))
		return
	}
	if err := h.identity.EndSession(ctx, sessionID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := uuid.Parse(middleware.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid session"))
		return
	}
	user, err := h.identity.GetUser(ctx, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}
