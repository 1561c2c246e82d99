package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jmassawe/kikoba/pkg/models"
	"github.com/jmassawe/kikoba/pkg/settings"
	"github.com/jmassawe/kikoba/pkg/store"
)

// daysPerMonth is the flat month approximation used for due dates. Jamii
// period counting deliberately uses calendar months instead; the two must
// not be unified, since that would change financial outcomes.
const daysPerMonth = 30

// IssueLoanResult reports what was issued. Advisory is set when the
// duration had to be shortened to fit the savings cycle; the loan is still
// issued.
type IssueLoanResult struct {
	Loan           *models.Loan `json:"loan"`
	Months         int          `json:"months"`
	OriginalMonths int          `json:"original_months"`
	Advisory       string       `json:"advisory,omitempty"`
}

// resolveDuration maps a principal to a repayment duration in months using
// the group's four tiers, then caps the duration so the loan cannot outlive
// the savings cycle.
func resolveDuration(st *settings.Settings, principal decimal.Decimal, today time.Time) (months, originalMonths int, advisory string, err error) {
	for _, tier := range st.Tiers {
		if principal.LessThanOrEqual(tier.Ceiling) {
			months = tier.Months
			break
		}
	}
	if months == 0 {
		return 0, 0, "", validationf("loan amount exceeds the maximum allowed by group rules")
	}
	originalMonths = months

	if !st.CycleEnd.IsZero() {
		remainingDays := daysBetween(today, st.CycleEnd)
		if remainingDays <= 0 {
			return 0, 0, "", validationf("cannot issue loans: the savings cycle has ended")
		}
		maxMonths := remainingDays / daysPerMonth
		if months > maxMonths {
			months = maxMonths
			if months < 1 {
				months = 1
			}
			advisory = fmt.Sprintf(
				"loan duration adjusted from %d to %d months to fit within cycle end date (%s)",
				originalMonths, months, st.CycleEnd.Format(settings.DateLayout),
			)
		}
	}
	return months, originalMonths, advisory, nil
}

// IssueLoan validates the principal against the group's tiers, computes
// interest and due date, and persists the loan. Interest is fixed at
// issuance: round(principal x interest rate).
func (l *Ledger) IssueLoan(groupID, memberID uuid.UUID, principal decimal.Decimal) (*IssueLoanResult, error) {
	if principal.LessThanOrEqual(decimal.Zero) {
		return nil, validationf("loan principal must be positive")
	}
	if _, err := l.storage.GetMember(groupID, memberID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Resource: "member"}
		}
		return nil, err
	}

	st, err := l.settings.Load(groupID)
	if err != nil {
		return nil, err
	}

	today := l.today()
	months, originalMonths, advisory, err := resolveDuration(st, principal, today)
	if err != nil {
		return nil, err
	}

	interest := principal.Mul(st.InterestRate).Round(0)
	loan := &models.Loan{
		ID:        uuid.New(),
		MemberID:  memberID,
		GroupID:   groupID,
		Principal: principal,
		Interest:  interest,
		Total:     principal.Add(interest),
		Months:    months,
		StartDate: today,
		DueDate:   today.AddDate(0, 0, daysPerMonth*months),
		Status:    models.LoanStatusActive,
	}
	if err := l.storage.CreateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to issue loan: %w", err)
	}

	slog.Info("loan issued",
		"group_id", groupID,
		"member_id", memberID,
		"principal", principal.String(),
		"months", months,
		"due_date", loan.DueDate.Format(settings.DateLayout))

	return &IssueLoanResult{
		Loan:           loan,
		Months:         months,
		OriginalMonths: originalMonths,
		Advisory:       advisory,
	}, nil
}
