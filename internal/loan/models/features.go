package models

import (
	"fmt"

	dErrors "fairfin/pkg/domain-errors"
)

// Feature vector field names as the scoring collaborator expects them. The
// JSON keys are part of the scoring wire contract and must not change
// independently of the model service.
var (
	genders         = map[string]bool{"Male": true, "Female": true}
	regions         = map[string]bool{"Urban": true, "Rural": true, "Semi-Urban": true}
	employmentTypes = map[string]bool{"Salaried": true, "Self-Employed": true, "Freelancer": true}
)

// FeatureSet is the applicant-supplied input to a loan application. It is
// validated once at submission and then treated as immutable except through
// an accepted edit request.
type FeatureSet struct {
	Gender           string  `json:"Gender"`
	Age              int     `json:"Age"`
	Region           string  `json:"Region"`
	EmploymentType   string  `json:"Employment_Type"`
	AnnualIncome     float64 `json:"Annual_Income"`
	CreditScore      int     `json:"Credit_Score"`
	LoanAmount       float64 `json:"Loan_Amount"`
	LoanTenureMonths int     `json:"Loan_Tenure_Months"`
	ExistingLoans    int     `json:"Existing_Loans"`
	MonthlyExpenses  float64 `json:"Monthly_Expenses"`
}

// Validate checks the feature vector against the schema the scoring
// collaborator was trained on.
//
// Errors: returns CodeValidation naming the first offending field.
func (f FeatureSet) Validate() error {
	if !genders[f.Gender] {
		return dErrors.Newf(dErrors.CodeValidation, "gender must be one of Male, Female; got %q", f.Gender)
	}
	if f.Age < 18 || f.Age > 100 {
		return dErrors.Newf(dErrors.CodeValidation, "age must be between 18 and 100; got %d", f.Age)
	}
	if !regions[f.Region] {
		return dErrors.Newf(dErrors.CodeValidation, "region must be one of Urban, Rural, Semi-Urban; got %q", f.Region)
	}
	if !employmentTypes[f.EmploymentType] {
		return dErrors.Newf(dErrors.CodeValidation, "employment type must be one of Salaried, Self-Employed, Freelancer; got %q", f.EmploymentType)
	}
	if f.AnnualIncome <= 0 {
		return dErrors.New(dErrors.CodeValidation, "annual income must be positive")
	}
	if f.CreditScore < 300 || f.CreditScore > 850 {
		return dErrors.Newf(dErrors.CodeValidation, "credit score must be between 300 and 850; got %d", f.CreditScore)
	}
	if f.LoanAmount <= 0 {
		return dErrors.New(dErrors.CodeValidation, "loan amount must be positive")
	}
	if f.LoanTenureMonths <= 0 {
		return dErrors.New(dErrors.CodeValidation, "loan tenure must be a positive number of months")
	}
	if f.ExistingLoans < 0 {
		return dErrors.New(dErrors.CodeValidation, "existing loans cannot be negative")
	}
	if f.MonthlyExpenses < 0 {
		return dErrors.New(dErrors.CodeValidation, "monthly expenses cannot be negative")
	}
	return nil
}

// Map flattens the feature set for the scoring collaborator.
func (f FeatureSet) Map() map[string]any {
	return map[string]any{
		"Gender":             f.Gender,
		"Age":                f.Age,
		"Region":             f.Region,
		"Employment_Type":    f.EmploymentType,
		"Annual_Income":      f.AnnualIncome,
		"Credit_Score":       f.CreditScore,
		"Loan_Amount":        f.LoanAmount,
		"Loan_Tenure_Months": f.LoanTenureMonths,
		"Existing_Loans":     f.ExistingLoans,
		"Monthly_Expenses":   f.MonthlyExpenses,
	}
}

// Summary renders a short human-readable description for audit details.
func (f FeatureSet) Summary() string {
	return fmt.Sprintf("amount=%.0f tenure=%dm income=%.0f score=%d", f.LoanAmount, f.LoanTenureMonths, f.AnnualIncome, f.CreditScore)
}
