package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fairfin/internal/audit"
	identity "fairfin/internal/identity/models"
	"fairfin/internal/loan/models"
	"fairfin/internal/platform/middleware"
	dErrors "fairfin/pkg/domain-errors"
	"fairfin/pkg/platform/sentinel"
)

// RequestEdit files a petition to amend or withdraw an application. Field
// amendments require a decided application (a pending one has nothing to
// reconsider); withdrawal petitions are accepted in any live state. Only the
// owner may file, and at most one pending request may exist per application.
func (s *Service) RequestEdit(ctx context.Context, actor *identity.User, loanID uuid.UUID, changes models.EditChanges) (*models.EditRequest, error) {
	ctx, span := s.tracer.Start(ctx, "loan.RequestEdit",
		trace.WithAttributes(attribute.String("loan_id", loanID.String())),
	)
	defer span.End()

	if actor == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "acting user is required")
	}

	req, err := models.NewEditRequest(uuid.New(), loanID, actor.ID, changes, time.Now())
	if err != nil {
		return nil, err
	}

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		loan, err := s.loans.Get(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.OwnerID != actor.ID {
			return dErrors.New(dErrors.CodeNotFound, "loan application not found")
		}
		if !changes.WithdrawRequested && !loan.Status.Decided() {
			return dErrors.Newf(dErrors.CodeInvalidTransition, "loan is %s; only decided applications can be amended", loan.Status)
		}
		if changes.WithdrawRequested && loan.Status.Terminal() {
			return dErrors.New(dErrors.CodeInvalidTransition, "loan is already withdrawn")
		}
		if err := s.edits.Create(ctx, req); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "an edit request is already pending for this application")
			}
			return err
		}
		return s.auditor.Emit(ctx, audit.Event{
			UserID:    actor.ID,
			Action:    audit.ActionEditRequested,
			Detail:    loanID.String(),
			RequestID: middleware.GetRequestID(ctx),
		})
	})
	if err != nil {
		return nil, s.mapStoreErr(err, "failed to file edit request")
	}
	if s.metrics != nil {
		s.metrics.EditsRequested.Inc()
	}
	s.logInfo(ctx, "edit requested", "loan_id", loanID, "edit_id", req.ID, "user_id", actor.ID)
	return req, nil
}

// ListEditRequests returns the edit history of an application, oldest first.
// Owners and reviewers may look.
func (s *Service) ListEditRequests(ctx context.Context, actor *identity.User, loanID uuid.UUID) ([]models.EditRequest, error) {
	if _, err := s.loadVisible(ctx, actor, loanID); err != nil {
		return nil, err
	}
	requests, err := s.edits.ListByLoan(ctx, loanID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list edit requests")
	}
	return requests, nil
}

// ResolveEdit accepts or rejects a pending edit request. Rejection leaves
// the application untouched. Acceptance either withdraws the application or
// applies the field overrides and reopens it as pending; reopened
// applications are rescored after the resolution commits, with no locks held
// while the scorer runs. A scoring outage at that point leaves the loan
// pending and surfaces as a retryable error next to the resolved request.
func (s *Service) ResolveEdit(ctx context.Context, actor *identity.User, editID uuid.UUID, accept bool) (*models.EditRequest, error) {
	ctx, span := s.tracer.Start(ctx, "loan.ResolveEdit",
		trace.WithAttributes(attribute.String("edit_id", editID.String())),
	)
	defer span.End()

	if actor == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "acting user is required")
	}
	if !actor.Role.CanReview() {
		return nil, dErrors.New(dErrors.CodeForbidden, "only analysts can resolve edit requests")
	}

	outcome := models.EditRejected
	if accept {
		outcome = models.EditAccepted
	}

	var resolved *models.EditRequest
	var reopened *models.LoanApplication
	withdrew := false
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		req, err := s.edits.GetForUpdate(ctx, editID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "edit request not found")
			}
			return err
		}
		if err := req.Resolve(outcome); err != nil {
			return err
		}
		if err := s.edits.Update(ctx, req); err != nil {
			return err
		}
		resolved = req
		if err := s.auditor.Emit(ctx, audit.Event{
			UserID:    actor.ID,
			Action:    audit.ActionEditResolved,
			Detail:    req.ID.String() + " " + string(outcome),
			RequestID: middleware.GetRequestID(ctx),
		}); err != nil {
			return err
		}
		if !accept {
			return nil
		}

		loan, err := s.loans.GetForUpdate(ctx, req.LoanID)
		if err != nil {
			return err
		}
		if req.Changes.WithdrawRequested {
			if loan.Status == models.StatusWithdrawn {
				return nil
			}
			if err := loan.Transition(models.StatusWithdrawn); err != nil {
				return err
			}
			if err := s.loans.Update(ctx, loan); err != nil {
				return err
			}
			withdrew = true
			return s.auditor.Emit(ctx, audit.Event{
				UserID:    actor.ID,
				Action:    audit.ActionLoanWithdrawn,
				Detail:    loan.ID.String() + " via edit request",
				RequestID: middleware.GetRequestID(ctx),
			})
		}

		next := req.Changes.ApplyTo(loan.Features)
		if err := next.Validate(); err != nil {
			return err
		}
		if err := loan.Transition(models.StatusPending); err != nil {
			return err
		}
		loan.Features = next
		loan.Explanation = nil
		if err := s.loans.Update(ctx, loan); err != nil {
			return err
		}
		reopened = loan
		return s.auditor.Emit(ctx, audit.Event{
			UserID:    actor.ID,
			Action:    audit.ActionLoanReopened,
			Detail:    loan.ID.String(),
			RequestID: middleware.GetRequestID(ctx),
		})
	})
	if err != nil {
		return nil, s.mapStoreErr(err, "failed to resolve edit request")
	}
	if s.metrics != nil {
		s.metrics.EditsResolved.WithLabelValues(string(outcome)).Inc()
		if withdrew {
			s.metrics.LoansWithdrawn.Inc()
		}
	}
	s.logInfo(ctx, "edit resolved", "edit_id", editID, "outcome", string(outcome), "analyst_id", actor.ID)

	if reopened != nil {
		if _, err := s.scoreAndFinalize(ctx, reopened); err != nil {
			return resolved, err
		}
	}
	return resolved, nil
}
