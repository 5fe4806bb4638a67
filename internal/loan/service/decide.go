package service

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fairfin/internal/audit"
	identity "fairfin/internal/identity/models"
	"fairfin/internal/loan/models"
	"fairfin/internal/platform/middleware"
	dErrors "fairfin/pkg/domain-errors"
)

// Decide records an analyst's decision on a pending application. Analyst
// decisions carry no model explanation; the explanation column is the model's
// voice only.
func (s *Service) Decide(ctx context.Context, actor *identity.User, loanID uuid.UUID, decision models.Status) (*models.LoanApplication, error) {
	ctx, span := s.tracer.Start(ctx, "loan.Decide",
		trace.WithAttributes(attribute.String("loan_id", loanID.String())),
	)
	defer span.End()

	if actor == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "acting user is required")
	}
	if !actor.Role.CanReview() {
		return nil, dErrors.New(dErrors.CodeForbidden, "only analysts can decide loan applications")
	}
	if decision != models.StatusApproved && decision != models.StatusDenied {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "decision must be approved or denied")
	}

	var updated *models.LoanApplication
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		loan, err := s.loans.GetForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != models.StatusPending {
			return dErrors.Newf(dErrors.CodeInvalidTransition, "loan is %s, not pending", loan.Status)
		}
		if err := loan.Transition(decision); err != nil {
			return err
		}
		loan.Explanation = nil
		if err := s.loans.Update(ctx, loan); err != nil {
			return err
		}
		updated = loan
		return s.auditor.Emit(ctx, audit.Event{
			UserID:    actor.ID,
			Action:    audit.ActionLoanOverride,
			Detail:    loanID.String() + " " + string(decision),
			RequestID: middleware.GetRequestID(ctx),
		})
	})
	if err != nil {
		return nil, s.mapStoreErr(err, "failed to record decision")
	}
	if s.metrics != nil {
		s.metrics.Decisions.WithLabelValues(string(decision), string(models.OriginAnalyst)).Inc()
	}
	s.logInfo(ctx, "loan decided", "loan_id", loanID, "decision", string(decision), "origin", "analyst", "analyst_id", actor.ID)
	return updated, nil
}

// Withdraw takes an application out of the workflow. Only the owner may
// withdraw; withdrawing an already-withdrawn application succeeds without a
// second audit entry.
func (s *Service) Withdraw(ctx context.Context, actor *identity.User, loanID uuid.UUID) (*models.LoanApplication, error) {
	ctx, span := s.tracer.Start(ctx, "loan.Withdraw",
		trace.WithAttributes(attribute.String("loan_id", loanID.String())),
	)
	defer span.End()

	if actor == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "acting user is required")
	}

	var updated *models.LoanApplication
	changed := false
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		loan, err := s.loans.GetForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.OwnerID != actor.ID {
			return dErrors.New(dErrors.CodeNotFound, "loan application not found")
		}
		if loan.Status == models.StatusWithdrawn {
			// Idempotent: already exactly where the caller wants it.
			updated = loan
			return nil
		}
		if err := loan.Transition(models.StatusWithdrawn); err != nil {
			return err
		}
		if err := s.loans.Update(ctx, loan); err != nil {
			return err
		}
		updated = loan
		changed = true
		return s.auditor.Emit(ctx, audit.Event{
			UserID:    actor.ID,
			Action:    audit.ActionLoanWithdrawn,
			Detail:    loanID.String(),
			RequestID: middleware.GetRequestID(ctx),
		})
	})
	if err != nil {
		return nil, s.mapStoreErr(err, "failed to withdraw loan")
	}
	if changed {
		if s.metrics != nil {
			s.metrics.LoansWithdrawn.Inc()
		}
		s.logInfo(ctx, "loan withdrawn", "loan_id", loanID, "user_id", actor.ID)
	}
	return updated, nil
}
