// Package service implements the loan decision workflow: submission,
// scoring, analyst review, withdrawal, and the edit request cycle. Every
// operation takes the acting user explicitly; nothing here reads identity
// from ambient request state.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fairfin/internal/audit"
	identity "fairfin/internal/identity/models"
	"fairfin/internal/loan/models"
	"fairfin/internal/loan/store"
	"fairfin/internal/platform/metrics"
	"fairfin/internal/platform/middleware"
	"fairfin/internal/scoring"
	dErrors "fairfin/pkg/domain-errors"
	"fairfin/pkg/platform/sentinel"
)

// UnitOfWork runs fn atomically: every mutation and audit entry inside fn
// commits or rolls back together.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AuditPublisher records state-changing actions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	loans   store.LoanStore
	edits   store.EditStore
	uow     UnitOfWork
	scorer  scoring.Scorer
	auditor AuditPublisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(loans store.LoanStore, edits store.EditStore, uow UnitOfWork, scorer scoring.Scorer, auditor AuditPublisher, opts ...Option) *Service {
	s := &Service{
		loans:   loans,
		edits:   edits,
		uow:     uow,
		scorer:  scorer,
		auditor: auditor,
		tracer:  otel.Tracer("fairfin/loan"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit files a new application and scores it. The pending application and
// its audit entry commit before the scorer is called, so a scoring outage
// never loses the submission: the loan stays pending and the error is
// surfaced as retryable alongside it.
func (s *Service) Submit(ctx context.Context, actor *identity.User, features models.FeatureSet) (*models.LoanApplication, error) {
	ctx, span := s.tracer.Start(ctx, "loan.Submit")
	defer span.End()

	if actor == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "acting user is required")
	}
	if actor.Role != identity.RoleCustomer {
		return nil, dErrors.New(dErrors.CodeForbidden, "only customers can submit loan applications")
	}

	loan, err := models.NewLoanApplication(uuid.New(), actor.ID, features, time.Now())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("loan_id", loan.ID.String()))

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.loans.Create(ctx, loan); err != nil {
			return err
		}
		return s.auditor.Emit(ctx, audit.Event{
			UserID:    actor.ID,
			Action:    audit.ActionLoanSubmitted,
			Detail:    loan.ID.String() + " " + features.Summary(),
			RequestID: middleware.GetRequestID(ctx),
		})
	})
	if err != nil {
		return nil, s.mapStoreErr(err, "failed to save loan application")
	}
	if s.metrics != nil {
		s.metrics.LoansSubmitted.Inc()
	}
	s.logInfo(ctx, "loan submitted", "loan_id", loan.ID, "user_id", actor.ID)

	return s.scoreAndFinalize(ctx, loan)
}

// RetryDecision rescores an application left pending by an earlier scoring
// outage. The owner and reviewers may retry.
func (s *Service) RetryDecision(ctx context.Context, actor *identity.User, loanID uuid.UUID) (*models.LoanApplication, error) {
	ctx, span := s.tracer.Start(ctx, "loan.RetryDecision",
		trace.WithAttributes(attribute.String("loan_id", loanID.String())),
	)
	defer span.End()

	loan, err := s.loadVisible(ctx, actor, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.StatusPending {
		return nil, dErrors.Newf(dErrors.CodeInvalidTransition, "loan is %s, not pending", loan.Status)
	}
	return s.scoreAndFinalize(ctx, loan)
}

// scoreAndFinalize calls the scoring collaborator with no locks held, then
// applies the verdict in a second unit of work. If the loan left the pending
// state while the scorer was deciding, the verdict is discarded.
func (s *Service) scoreAndFinalize(ctx context.Context, loan *models.LoanApplication) (*models.LoanApplication, error) {
	result, err := s.scorer.Score(ctx, loan.ID, loan.Features.Map())
	if err != nil {
		s.logWarn(ctx, "scoring unavailable, loan stays pending", "loan_id", loan.ID, "error", err)
		if dErrors.CodeOf(err) != dErrors.CodeUnavailable {
			err = dErrors.Wrap(err, dErrors.CodeUnavailable, "scoring service unavailable")
		}
		return loan, err
	}

	next := models.StatusDenied
	if result.Decision == scoring.DecisionApproved {
		next = models.StatusApproved
	}

	var updated *models.LoanApplication
	applied := false
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		fresh, err := s.loans.GetForUpdate(ctx, loan.ID)
		if err != nil {
			return err
		}
		if fresh.Status != models.StatusPending {
			// Withdrawn or decided while the scorer was out; drop the verdict.
			updated = fresh
			return nil
		}
		if err := fresh.Transition(next); err != nil {
			return err
		}
		fresh.Explanation = result.Attributions
		if err := s.loans.Update(ctx, fresh); err != nil {
			return err
		}
		updated = fresh
		applied = true
		return s.auditor.Emit(ctx, audit.Event{
			Action:    audit.ActionLoanDecided,
			Detail:    loan.ID.String() + " " + string(next),
			RequestID: middleware.GetRequestID(ctx),
		})
	})
	if err != nil {
		return nil, s.mapStoreErr(err, "failed to record loan decision")
	}
	if applied {
		if s.metrics != nil {
			s.metrics.Decisions.WithLabelValues(string(next), string(models.OriginModel)).Inc()
		}
		s.logInfo(ctx, "loan decided", "loan_id", loan.ID, "decision", string(next), "origin", "model")
	}
	return updated, nil
}

// Get returns a single application. Customers see only their own; a
// different owner's loan reads as not found rather than forbidden.
func (s *Service) Get(ctx context.Context, actor *identity.User, loanID uuid.UUID) (*models.LoanApplication, error) {
	return s.loadVisible(ctx, actor, loanID)
}

// ListOwnLoans returns the actor's applications, newest first.
func (s *Service) ListOwnLoans(ctx context.Context, actor *identity.User) ([]models.LoanApplication, error) {
	if actor == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "acting user is required")
	}
	loans, err := s.loans.ListByOwner(ctx, actor.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list loans")
	}
	return loans, nil
}

// ListPendingLoans returns the review queue, oldest first. Reviewers only.
func (s *Service) ListPendingLoans(ctx context.Context, actor *identity.User) ([]models.LoanApplication, error) {
	if actor == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "acting user is required")
	}
	if !actor.Role.CanReview() {
		return nil, dErrors.New(dErrors.CodeForbidden, "only analysts can list pending applications")
	}
	loans, err := s.loans.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pending loans")
	}
	return loans, nil
}

// loadVisible fetches a loan and applies the visibility rule: reviewers see
// everything, customers see their own.
func (s *Service) loadVisible(ctx context.Context, actor *identity.User, loanID uuid.UUID) (*models.LoanApplication, error) {
	if actor == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "acting user is required")
	}
	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return nil, s.mapStoreErr(err, "failed to load loan")
	}
	if loan.OwnerID != actor.ID && !actor.Role.CanReview() {
		return nil, dErrors.New(dErrors.CodeNotFound, "loan application not found")
	}
	return loan, nil
}

func (s *Service) mapStoreErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "loan application not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "the application changed underneath this request")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func (s *Service) logInfo(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, msg, args...)
	}
}

func (s *Service) logWarn(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, msg, args...)
	}
}
