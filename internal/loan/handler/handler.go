// Package handler is the thin HTTP layer over the loan workflow. It resolves
// the acting user once per request and hands an explicit identity to the
// service; no business rules live here.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	identity "fairfin/internal/identity/models"
	"fairfin/internal/loan/models"
	"fairfin/internal/platform/middleware"
	dErrors "fairfin/pkg/domain-errors"
	"fairfin/pkg/platform/httputil"
)

// Service defines the loan operations the transport layer needs.
type Service interface {
	Submit(ctx context.Context, actor *identity.User, features models.FeatureSet) (*models.LoanApplication, error)
	RetryDecision(ctx context.Context, actor *identity.User, loanID uuid.UUID) (*models.LoanApplication, error)
	Get(ctx context.Context, actor *identity.User, loanID uuid.UUID) (*models.LoanApplication, error)
	ListOwnLoans(ctx context.Context, actor *identity.User) ([]models.LoanApplication, error)
	ListPendingLoans(ctx context.Context, actor *identity.User) ([]models.LoanApplication, error)
	Decide(ctx context.Context, actor *identity.User, loanID uuid.UUID, decision models.Status) (*models.LoanApplication, error)
	Withdraw(ctx context.Context, actor *identity.User, loanID uuid.UUID) (*models.LoanApplication, error)
	RequestEdit(ctx context.Context, actor *identity.User, loanID uuid.UUID, changes models.EditChanges) (*models.EditRequest, error)
	ResolveEdit(ctx context.Context, actor *identity.User, editID uuid.UUID, accept bool) (*models.EditRequest, error)
	ListEditRequests(ctx context.Context, actor *identity.User, loanID uuid.UUID) ([]models.EditRequest, error)
}

// UserResolver loads the acting user's stored record. Tokens carry a role
// claim but the stored role is authoritative.
type UserResolver interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Handler struct {
	loans     Service
	users     UserResolver
	logger    *slog.Logger
	validator middleware.TokenValidator
}

func New(loans Service, users UserResolver, validator middleware.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{
		loans:     loans,
		users:     users,
		logger:    logger,
		validator: validator,
	}
}

// Register wires the loan routes. Everything here requires a session.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Use(middleware.ContentTypeJSON)

		r.Post("/loans", h.handleSubmit)
		r.Get("/loans", h.handleListOwn)
		r.Get("/loans/pending", h.handleListPending)
		r.Get("/loans/{loanID}", h.handleGet)
		r.Post("/loans/{loanID}/retry", h.handleRetry)
		r.Post("/loans/{loanID}/withdraw", h.handleWithdraw)
		r.Post("/loans/{loanID}/decision", h.handleDecide)
		r.Post("/loans/{loanID}/edits", h.handleRequestEdit)
		r.Get("/loans/{loanID}/edits", h.handleListEdits)
		r.Post("/edits/{editID}/resolution", h.handleResolveEdit)
	})
}

// actor resolves the authenticated user's stored record.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (*identity.User, bool) {
	ctx := r.Context()
	userID, err := uuid.Parse(middleware.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid session"))
		return nil, false
	}
	user, err := h.users.GetUser(ctx, userID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			// Token outlived the account.
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "unknown user"))
			return nil, false
		}
		httputil.WriteError(w, err)
		return nil, false
	}
	return user, true
}

func (h *Handler) loanID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	return h.pathID(w, r, "loanID")
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

// handleSubmit files a new application. A scoring outage still persists the
// submission; the response is 202 with the pending application in that case.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var features models.FeatureSet
	if err := json.NewDecoder(r.Body).Decode(&features); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	loan, err := h.loans.Submit(ctx, actor, features)
	if err != nil {
		if loan != nil && dErrors.HasCode(err, dErrors.CodeUnavailable) {
			h.logger.WarnContext(ctx, "loan accepted without decision",
				"request_id", middleware.GetRequestID(ctx),
				"loan_id", loan.ID,
			)
			httputil.WriteJSON(w, http.StatusAccepted, loan)
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, loan)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}
	loan, err := h.loans.RetryDecision(r.Context(), actor, loanID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, loan)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}
	loan, err := h.loans.Get(r.Context(), actor, loanID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, loan)
}

func (h *Handler) handleListOwn(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	loans, err := h.loans.ListOwnLoans(r.Context(), actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, loans)
}

func (h *Handler) handleListPending(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	loans, err := h.loans.ListPendingLoans(r.Context(), actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, loans)
}

type decisionRequest struct {
	Decision string `json:"decision"`
}

func (h *Handler) handleDecide(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	decision, err := models.ParseStatus(req.Decision)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	loan, err := h.loans.Decide(r.Context(), actor, loanID, decision)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, loan)
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}
	loan, err := h.loans.Withdraw(r.Context(), actor, loanID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, loan)
}

func (h *Handler) handleRequestEdit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}

	var changes models.EditChanges
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	req, err := h.loans.RequestEdit(r.Context(), actor, loanID, changes)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, req)
}

func (h *Handler) handleListEdits(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	loanID, ok := h.loanID(w, r)
	if !ok {
		return
	}
	requests, err := h.loans.ListEditRequests(r.Context(), actor, loanID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, requests)
}

type resolutionRequest struct {
	Outcome string `json:"outcome"`
}

func (h *Handler) handleResolveEdit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	editID, ok := h.pathID(w, r, "editID")
	if !ok {
		return
	}

	var req resolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	var accept bool
	switch req.Outcome {
	case "accepted":
		accept = true
	case "rejected":
		accept = false
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "outcome must be accepted or rejected"))
		return
	}

	resolved, err := h.loans.ResolveEdit(ctx, actor, editID, accept)
	if err != nil {
		// An accepted edit can commit and still fail its rescore; report the
		// resolved request with 202 so the caller knows to retry the score.
		if resolved != nil && dErrors.HasCode(err, dErrors.CodeUnavailable) {
			h.logger.WarnContext(ctx, "edit resolved, rescore pending",
				"request_id", middleware.GetRequestID(ctx),
				"edit_id", editID,
			)
			httputil.WriteJSON(w, http.StatusAccepted, resolved)
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resolved)
}
