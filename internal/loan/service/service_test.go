package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"fairfin/internal/audit"
	identity "fairfin/internal/identity/models"
	"fairfin/internal/loan/models"
	"fairfin/internal/loan/store"
	"fairfin/internal/scoring"
	"fairfin/internal/scoring/mocks"
	"fairfin/internal/storage"
	dErrors "fairfin/pkg/domain-errors"
)

type LoanServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	loans    *store.InMemoryLoanStore
	edits    *store.InMemoryEditStore
	audits   *audit.InMemoryStore
	scorer   *mocks.MockScorer
	service  *Service
	customer *identity.User
	stranger *identity.User
	analyst  *identity.User
	admin    *identity.User
}

func TestLoanServiceSuite(t *testing.T) {
	suite.Run(t, new(LoanServiceSuite))
}

func (s *LoanServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.loans = store.NewInMemoryLoanStore()
	s.edits = store.NewInMemoryEditStore()
	s.audits = audit.NewInMemoryStore()
	s.scorer = mocks.NewMockScorer(s.ctrl)

	uow := storage.NewMemoryUnitOfWork(s.loans, s.edits, s.audits)
	s.service = New(s.loans, s.edits, uow, s.scorer, audit.NewPublisher(s.audits))

	s.customer = s.user("auth0|customer", "customer@example.com", identity.RoleCustomer)
	s.stranger = s.user("auth0|stranger", "stranger@example.com", identity.RoleCustomer)
	s.analyst = s.user("auth0|analyst", "analyst@example.com", identity.RoleAnalyst)
	s.admin = s.user("auth0|admin", "admin@example.com", identity.RoleAdmin)
}

func (s *LoanServiceSuite) user(subject, email string, role identity.Role) *identity.User {
	u, err := identity.NewUser(uuid.New(), subject, email, role, time.Now())
	s.Require().NoError(err)
	return u
}

func features() models.FeatureSet {
	return models.FeatureSet{
		Gender:           "Female",
		Age:              34,
		Region:           "Urban",
		EmploymentType:   "Salaried",
		AnnualIncome:     85000,
		CreditScore:      710,
		LoanAmount:       120000,
		LoanTenureMonths: 36,
		ExistingLoans:    1,
		MonthlyExpenses:  12000,
	}
}

func (s *LoanServiceSuite) auditCount() int {
	count, err := s.audits.Count(context.Background())
	s.Require().NoError(err)
	return count
}

func (s *LoanServiceSuite) expectVerdict(decision scoring.Decision) {
	s.scorer.EXPECT().
		Score(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&scoring.Result{
			Decision:     decision,
			Attributions: map[string]float64{"Credit_Score": 0.42},
		}, nil)
}

func (s *LoanServiceSuite) expectOutage() {
	s.scorer.EXPECT().
		Score(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeUnavailable, "scoring service unreachable"))
}

// submitDecided files an application for s.customer and scores it.
func (s *LoanServiceSuite) submitDecided(decision scoring.Decision) *models.LoanApplication {
	s.T().Helper()
	s.expectVerdict(decision)
	loan, err := s.service.Submit(context.Background(), s.customer, features())
	s.Require().NoError(err)
	return loan
}

// submitPending files an application that stays pending behind a scoring
// outage.
func (s *LoanServiceSuite) submitPending() *models.LoanApplication {
	s.T().Helper()
	s.expectOutage()
	loan, err := s.service.Submit(context.Background(), s.customer, features())
	s.Require().Error(err)
	s.Require().NotNil(loan)
	return loan
}

func (s *LoanServiceSuite) TestSubmitApproved() {
	loan := s.submitDecided(scoring.DecisionApproved)

	s.Equal(models.StatusApproved, loan.Status)
	s.InDelta(0.42, loan.Explanation["Credit_Score"], 1e-9)
	// One entry for the submission, one for the model's decision.
	s.Equal(2, s.auditCount())

	events, err := s.audits.ListRecent(context.Background(), 10)
	s.Require().NoError(err)
	s.Equal(audit.ActionLoanDecided, events[0].Action)
	s.True(events[0].System())
	s.Equal(audit.ActionLoanSubmitted, events[1].Action)
	s.Equal(s.customer.ID, events[1].UserID)
}

func (s *LoanServiceSuite) TestSubmitDenied() {
	loan := s.submitDecided(scoring.DecisionDenied)
	s.Equal(models.StatusDenied, loan.Status)
	s.Equal(2, s.auditCount())
}

func (s *LoanServiceSuite) TestSubmitSurvivesScoringOutage() {
	s.expectOutage()

	loan, err := s.service.Submit(context.Background(), s.customer, features())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.True(dErrors.Retryable(err))

	// The submission committed before the scorer was called.
	s.Require().NotNil(loan)
	stored, getErr := s.loans.Get(context.Background(), loan.ID)
	s.Require().NoError(getErr)
	s.Equal(models.StatusPending, stored.Status)
	s.Nil(stored.Explanation)
	s.Equal(1, s.auditCount())
}

func (s *LoanServiceSuite) TestRetryDecisionAfterOutage() {
	loan := s.submitPending()

	s.expectVerdict(scoring.DecisionApproved)
	decided, err := s.service.RetryDecision(context.Background(), s.customer, loan.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, decided.Status)
	s.Equal(2, s.auditCount())
}

func (s *LoanServiceSuite) TestRetryDecisionOnDecidedLoan() {
	loan := s.submitDecided(scoring.DecisionApproved)

	_, err := s.service.RetryDecision(context.Background(), s.customer, loan.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *LoanServiceSuite) TestSubmitRequiresCustomerRole() {
	for _, actor := range []*identity.User{s.analyst, s.admin} {
		_, err := s.service.Submit(context.Background(), actor, features())
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	}
	s.Equal(0, s.auditCount())
}

func (s *LoanServiceSuite) TestSubmitRejectsInvalidFeatures() {
	bad := features()
	bad.CreditScore = 0

	_, err := s.service.Submit(context.Background(), s.customer, bad)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	// Nothing persisted, nothing audited.
	loans, listErr := s.loans.ListByOwner(context.Background(), s.customer.ID)
	s.Require().NoError(listErr)
	s.Empty(loans)
	s.Equal(0, s.auditCount())
}

func (s *LoanServiceSuite) TestVerdictDroppedWhenLoanWithdrawnMidScore() {
	// The scorer runs with no locks held; a withdrawal can land between the
	// two phases. The stale verdict must be discarded.
	s.scorer.EXPECT().
		Score(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, loanID uuid.UUID, _ map[string]any) (*scoring.Result, error) {
			_, err := s.service.Withdraw(ctx, s.customer, loanID)
			s.Require().NoError(err)
			return &scoring.Result{Decision: scoring.DecisionApproved}, nil
		})

	loan, err := s.service.Submit(context.Background(), s.customer, features())
	s.Require().NoError(err)
	s.Equal(models.StatusWithdrawn, loan.Status)
	s.Nil(loan.Explanation)
	// Submitted + withdrawn; no decision entry for the dropped verdict.
	s.Equal(2, s.auditCount())
}

func (s *LoanServiceSuite) TestGetVisibility() {
	loan := s.submitDecided(scoring.DecisionApproved)
	ctx := context.Background()

	s.Run("owner sees own loan", func() {
		got, err := s.service.Get(ctx, s.customer, loan.ID)
		s.Require().NoError(err)
		s.Equal(loan.ID, got.ID)
	})
	s.Run("other customer gets not found", func() {
		_, err := s.service.Get(ctx, s.stranger, loan.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
	s.Run("analyst sees any loan", func() {
		_, err := s.service.Get(ctx, s.analyst, loan.ID)
		s.NoError(err)
	})
	s.Run("unknown id is not found", func() {
		_, err := s.service.Get(ctx, s.customer, uuid.New())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *LoanServiceSuite) TestListOwnLoansNewestFirst() {
	first := s.submitDecided(scoring.DecisionApproved)
	time.Sleep(5 * time.Millisecond)
	second := s.submitDecided(scoring.DecisionDenied)

	loans, err := s.service.ListOwnLoans(context.Background(), s.customer)
	s.Require().NoError(err)
	s.Require().Len(loans, 2)
	s.Equal(second.ID, loans[0].ID)
	s.Equal(first.ID, loans[1].ID)
}

func (s *LoanServiceSuite) TestListPendingLoansOldestFirst() {
	first := s.submitPending()
	time.Sleep(5 * time.Millisecond)
	second := s.submitPending()

	queue, err := s.service.ListPendingLoans(context.Background(), s.analyst)
	s.Require().NoError(err)
	s.Require().Len(queue, 2)
	s.Equal(first.ID, queue[0].ID)
	s.Equal(second.ID, queue[1].ID)
}

func (s *LoanServiceSuite) TestListPendingLoansRequiresReviewer() {
	_, err := s.service.ListPendingLoans(context.Background(), s.customer)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *LoanServiceSuite) TestAnalystDecidesPendingLoan() {
	loan := s.submitPending()
	before := s.auditCount()

	decided, err := s.service.Decide(context.Background(), s.analyst, loan.ID, models.StatusApproved)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, decided.Status)
	// Analyst decisions carry no model explanation.
	s.Nil(decided.Explanation)
	s.Equal(before+1, s.auditCount())
}

func (s *LoanServiceSuite) TestDecideRequiresReviewer() {
	loan := s.submitPending()

	_, err := s.service.Decide(context.Background(), s.customer, loan.ID, models.StatusApproved)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *LoanServiceSuite) TestDecideOnDecidedLoan() {
	loan := s.submitDecided(scoring.DecisionApproved)
	before := s.auditCount()

	_, err := s.service.Decide(context.Background(), s.analyst, loan.ID, models.StatusDenied)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	s.Equal(before, s.auditCount())
}

func (s *LoanServiceSuite) TestDecideRejectsBogusDecision() {
	loan := s.submitPending()

	_, err := s.service.Decide(context.Background(), s.analyst, loan.ID, models.StatusWithdrawn)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *LoanServiceSuite) TestWithdrawIsIdempotent() {
	loan := s.submitDecided(scoring.DecisionApproved)
	before := s.auditCount()

	withdrawn, err := s.service.Withdraw(context.Background(), s.customer, loan.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusWithdrawn, withdrawn.Status)
	s.Equal(before+1, s.auditCount())

	// Second withdrawal succeeds and records nothing.
	again, err := s.service.Withdraw(context.Background(), s.customer, loan.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusWithdrawn, again.Status)
	s.Equal(before+1, s.auditCount())
}

func (s *LoanServiceSuite) TestWithdrawOwnerOnly() {
	loan := s.submitDecided(scoring.DecisionApproved)
	before := s.auditCount()

	for _, actor := range []*identity.User{s.stranger, s.analyst} {
		_, err := s.service.Withdraw(context.Background(), actor, loan.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	}
	s.Equal(before, s.auditCount())
}

func (s *LoanServiceSuite) TestRequestEditOnDecidedLoan() {
	loan := s.submitDecided(scoring.DecisionDenied)
	before := s.auditCount()

	expenses := 8000.0
	req, err := s.service.RequestEdit(context.Background(), s.customer, loan.ID, models.EditChanges{NewMonthlyExpenses: &expenses})
	s.Require().NoError(err)
	s.Equal(models.EditPending, req.Status)
	s.Equal(before+1, s.auditCount())
}

func (s *LoanServiceSuite) TestRequestEditOnPendingLoan() {
	loan := s.submitPending()
	before := s.auditCount()

	expenses := 8000.0
	_, err := s.service.RequestEdit(context.Background(), s.customer, loan.ID, models.EditChanges{NewMonthlyExpenses: &expenses})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	s.Equal(before, s.auditCount())
}

func (s *LoanServiceSuite) TestWithdrawRequestAllowedOnPendingLoan() {
	loan := s.submitPending()

	req, err := s.service.RequestEdit(context.Background(), s.customer, loan.ID, models.EditChanges{WithdrawRequested: true})
	s.Require().NoError(err)

	resolved, err := s.service.ResolveEdit(context.Background(), s.analyst, req.ID, true)
	s.Require().NoError(err)
	s.Equal(models.EditAccepted, resolved.Status)

	stored, err := s.loans.Get(context.Background(), loan.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusWithdrawn, stored.Status)
}

func (s *LoanServiceSuite) TestWithdrawRequestOnWithdrawnLoan() {
	loan := s.submitDecided(scoring.DecisionApproved)
	_, err := s.service.Withdraw(context.Background(), s.customer, loan.ID)
	s.Require().NoError(err)
	before := s.auditCount()

	_, err = s.service.RequestEdit(context.Background(), s.customer, loan.ID, models.EditChanges{WithdrawRequested: true})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	s.Equal(before, s.auditCount())
}

func (s *LoanServiceSuite) TestSecondPendingEditRequestConflicts() {
	loan := s.submitDecided(scoring.DecisionDenied)

	expenses := 8000.0
	_, err := s.service.RequestEdit(context.Background(), s.customer, loan.ID, models.EditChanges{NewMonthlyExpenses: &expenses})
	s.Require().NoError(err)
	before := s.auditCount()

	tenure := 48
	_, err = s.service.RequestEdit(context.Background(), s.customer, loan.ID, models.EditChanges{NewLoanTenureMonths: &tenure})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	// A failed mutation leaves no audit trace.
	s.Equal(before, s.auditCount())
}

func (s *LoanServiceSuite) TestRequestEditOwnerOnly() {
	loan := s.submitDecided(scoring.DecisionDenied)

	expenses := 8000.0
	_, err := s.service.RequestEdit(context.Background(), s.stranger, loan.ID, models.EditChanges{NewMonthlyExpenses: &expenses})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *LoanServiceSuite) TestRequestEditRequiresAChange() {
	loan := s.submitDecided(scoring.DecisionDenied)

	_, err := s.service.RequestEdit(context.Background(), s.customer, loan.ID, models.EditChanges{})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *LoanServiceSuite) TestRejectEditLeavesLoanUntouched() {
	loan := s.submitDecided(scoring.DecisionDenied)
	expenses := 8000.0
	req, err := s.service.RequestEdit(context.Background(), s.customer, loan.ID, models.EditChanges{NewMonthlyExpenses: &expenses})
	s.Require().NoError(err)
	before := s.auditCount()

	resolved, err := s.service.ResolveEdit(context.Background(), s.analyst, req.ID, false)
	s.Require().NoError(err)
	s.Equal(models.EditRejected, resolved.Status)

	stored, err := s.loans.Get(context.Background(), loan.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusDenied, stored.Status)
	s.Equal(12000.0, stored.Features.MonthlyExpenses)
	s.Equal(before+1, s.auditCount())
}

func (s *LoanServiceSuite) TestAcceptEditReopensAndRescores() {
	loan := s.submitDecided(scoring.DecisionDenied)
	expenses := 8000.0
	req, err := s.service.RequestEdit(context.Background(), s.customer, loan.ID, models.EditChanges{NewMonthlyExpenses: &expenses})
	s.Require().NoError(err)
	before := s.auditCount()

	s.expectVerdict(scoring.DecisionApproved)
	resolved, err := s.service.ResolveEdit(context.Background(), s.analyst, req.ID, true)
	s.Require().NoError(err)
	s.Equal(models.EditAccepted, resolved.Status)

	stored, err := s.loans.Get(context.Background(), loan.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, stored.Status)
	s.Equal(8000.0, stored.Features.MonthlyExpenses)
	// Resolution, reopening, and the fresh decision each leave one entry.
	s.Equal(before+3, s.auditCount())
}

func (s *LoanServiceSuite) TestAcceptEditSurvivesRescoreOutage() {
	loan := s.submitDecided(scoring.DecisionDenied)
	expenses := 8000.0
	req, err := s.service.RequestEdit(context.Background(), s.customer, loan.ID, models.EditChanges{NewMonthlyExpenses: &expenses})
	s.Require().NoError(err)

	s.expectOutage()
	resolved, err := s.service.ResolveEdit(context.Background(), s.analyst, req.ID, true)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	// The resolution itself committed; only the rescore is outstanding.
	s.Require().NotNil(resolved)
	s.Equal(models.EditAccepted, resolved.Status)

	stored, storeErr := s.loans.Get(context.Background(), loan.ID)
	s.Require().NoError(storeErr)
	s.Equal(models.StatusPending, stored.Status)
	s.Equal(8000.0, stored.Features.MonthlyExpenses)
}

func (s *LoanServiceSuite) TestAcceptWithdrawRequest() {
	loan := s.submitDecided(scoring.DecisionApproved)
	req, err := s.service.RequestEdit(context.Background(), s.customer, loan.ID, models.EditChanges{WithdrawRequested: true})
	s.Require().NoError(err)
	before := s.auditCount()

	resolved, err := s.service.ResolveEdit(context.Background(), s.analyst, req.ID, true)
	s.Require().NoError(err)
	s.Equal(models.EditAccepted, resolved.Status)

	stored, err := s.loans.Get(context.Background(), loan.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusWithdrawn, stored.Status)
	// Resolution plus withdrawal.
	s.Equal(before+2, s.auditCount())
}

func (s *LoanServiceSuite) TestResolveEditTwice() {
	loan := s.submitDecided(scoring.DecisionApproved)
	req, err := s.service.RequestEdit(context.Background(), s.customer, loan.ID, models.EditChanges{WithdrawRequested: true})
	s.Require().NoError(err)

	_, err = s.service.ResolveEdit(context.Background(), s.analyst, req.ID, false)
	s.Require().NoError(err)

	_, err = s.service.ResolveEdit(context.Background(), s.analyst, req.ID, true)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *LoanServiceSuite) TestResolveEditRequiresReviewer() {
	loan := s.submitDecided(scoring.DecisionApproved)
	req, err := s.service.RequestEdit(context.Background(), s.customer, loan.ID, models.EditChanges{WithdrawRequested: true})
	s.Require().NoError(err)

	_, err = s.service.ResolveEdit(context.Background(), s.customer, req.ID, true)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *LoanServiceSuite) TestResolveUnknownEdit() {
	_, err := s.service.ResolveEdit(context.Background(), s.analyst, uuid.New(), true)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *LoanServiceSuite) TestListEditRequests() {
	loan := s.submitDecided(scoring.DecisionDenied)
	expenses := 8000.0
	req, err := s.service.RequestEdit(context.Background(), s.customer, loan.ID, models.EditChanges{NewMonthlyExpenses: &expenses})
	s.Require().NoError(err)

	s.Run("owner lists history", func() {
		history, err := s.service.ListEditRequests(context.Background(), s.customer, loan.ID)
		s.Require().NoError(err)
		s.Require().Len(history, 1)
		s.Equal(req.ID, history[0].ID)
	})
	s.Run("stranger gets not found", func() {
		_, err := s.service.ListEditRequests(context.Background(), s.stranger, loan.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
