package ledger

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jmassawe/kikoba/pkg/models"
)

// AccruePenalties is the reconciliation step run before any balance read
// that involves loans. It finds Active/Overdue loans whose due date has
// passed, imposes a one-shot loan_late penalty of days-late x daily rate,
// and flips the loan to Overdue. Idempotent: a loan that already carries a
// loan_late penalty is skipped, so repeated runs insert at most one penalty
// per loan. The amount is frozen at first detection and does not keep
// growing on later runs.
func (l *Ledger) AccruePenalties(groupID uuid.UUID) error {
	st, err := l.settings.Load(groupID)
	if err != nil {
		return err
	}

	today := l.today()
	candidates, err := l.storage.OverdueCandidates(groupID, today)
	if err != nil {
		return err
	}

	for _, loan := range candidates {
		daysLate := daysBetween(loan.DueDate, today)
		if daysLate <= 0 {
			continue
		}

		exists, err := l.storage.HasLoanLatePenalty(groupID, loan.ID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		loanID := loan.ID
		p := &models.Penalty{
			ID:          uuid.New(),
			MemberID:    loan.MemberID,
			GroupID:     groupID,
			LoanID:      &loanID,
			Type:        models.PenaltyTypeLoanLate,
			Amount:      st.DailyPenalty.Mul(decimal.NewFromInt(int64(daysLate))),
			AmountPaid:  decimal.Zero,
			Description: fmt.Sprintf("Loan overdue by %d days", daysLate),
			Date:        today,
		}
		if err := l.storage.InsertLatePenalty(p); err != nil {
			return fmt.Errorf("failed to accrue penalty for loan %s: %w", loan.ID, err)
		}
		slog.Info("late penalty accrued",
			"group_id", groupID,
			"loan_id", loan.ID,
			"days_late", daysLate,
			"amount", p.Amount.String())
	}
	return nil
}

// refreshLoanStatus recomputes a loan's status from its total, cumulative
// repayments and due date, persisting only when it changed. Returns the
// derived status and remaining balance (unclamped).
func (l *Ledger) refreshLoanStatus(loan *models.Loan) (models.LoanStatus, decimal.Decimal, error) {
	repaid, err := l.storage.RepaidTotal(loan.GroupID, loan.ID)
	if err != nil {
		return "", decimal.Zero, err
	}
	remaining := loan.Total.Sub(repaid)

	var status models.LoanStatus
	switch {
	case remaining.LessThanOrEqual(decimal.Zero):
		status = models.LoanStatusCleared
	case l.today().After(dateOnly(loan.DueDate)):
		status = models.LoanStatusOverdue
	default:
		status = models.LoanStatusActive
	}

	if loan.Status != status {
		if err := l.storage.UpdateLoanStatus(loan.GroupID, loan.ID, status); err != nil {
			return "", decimal.Zero, err
		}
		loan.Status = status
	}
	return status, remaining, nil
}

// RefreshLoanStatuses recomputes every loan status in the group. Safe to
// call repeatedly; it has no effect beyond persisting changed statuses.
func (l *Ledger) RefreshLoanStatuses(groupID uuid.UUID) error {
	loans, err := l.storage.ListLoans(groupID)
	if err != nil {
		return err
	}
	for _, loan := range loans {
		if _, _, err := l.refreshLoanStatus(loan); err != nil {
			return err
		}
	}
	return nil
}

// LoanView is a loan with its derived repayment figures and freshly
// recomputed status.
type LoanView struct {
	Loan      *models.Loan    `json:"loan"`
	Repaid    decimal.Decimal `json:"repaid"`
	Remaining decimal.Decimal `json:"remaining"`
}

// Loans runs penalty accrual, then lists the group's loans with recomputed
// statuses and balances.
func (l *Ledger) Loans(groupID uuid.UUID) ([]*LoanView, error) {
	if err := l.AccruePenalties(groupID); err != nil {
		return nil, err
	}
	loans, err := l.storage.ListLoans(groupID)
	if err != nil {
		return nil, err
	}

	views := make([]*LoanView, 0, len(loans))
	for _, loan := range loans {
		_, remaining, err := l.refreshLoanStatus(loan)
		if err != nil {
			return nil, err
		}
		views = append(views, &LoanView{
			Loan:      loan,
			Repaid:    loan.Total.Sub(remaining),
			Remaining: remaining,
		})
	}
	return views, nil
}
