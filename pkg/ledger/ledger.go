// Package ledger implements the kikoba financial engine: loan tiering,
// penalty accrual, balance derivation, profit distribution and reporting.
// All derived values are recomputed from the transaction history on every
// call; nothing is stored redundantly.
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

// Ledger handles the business logic for a kikoba group's finances.
type Ledger struct {
	storage  store.Storage
	settings *settings.Resolver
	now      func() time.Time // injectable clock for date-sensitive rules
}

// NewLedger creates a Ledger over the given Storage implementation.
func NewLedger(s store.Storage) *Ledger {
	return &Ledger{
		storage:  s,
		settings: settings.NewResolver(s),
		now:      time.Now,
	}
}

// Settings returns the resolver for per-group configuration.
func (l *Ledger) Settings() *settings.Resolver {
	return l.settings
}

// today is the current date at UTC midnight. All due-date and penalty math
// works on whole dates.
func (l *Ledger) today() time.Time {
	return dateOnly(l.now())
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(dateOnly(to).Sub(dateOnly(from)).Hours() / 24)
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ---- groups and members ----

// CreateGroup creates the group together with its seed settings and its
// system member in one transaction. The system member acts as the
// counterpart for group-level expense entries.
func (l *Ledger) CreateGroup(name string) (*models.Group, error) {
	if name == "" {
		return nil, validationf("group name is required")
	}

	g := &models.Group{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: l.now(),
	}
	system := &models.Member{
		ID:         uuid.New(),
		GroupID:    g.ID,
		Name:       name + " (group account)",
		JoinedDate: l.today(),
		IsSystem:   true,
	}

	if err := l.storage.CreateGroup(g, system, settings.SeedPairs(name)); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	slog.Info("group created", "group_id", g.ID, "name", name)
	return g, nil
}

// AddMember registers an ordinary (non-system) member.
func (l *Ledger) AddMember(groupID uuid.UUID, name, phone string) (*models.Member, error) {
	if name == "" {
		return nil, validationf("member name is required")
	}
	if _, err := l.group(groupID); err != nil {
		return nil, err
	}

	m := &models.Member{
		ID:         uuid.New(),
		GroupID:    groupID,
		Name:       name,
		Phone:      phone,
		JoinedDate: l.today(),
	}
	if err := l.storage.CreateMember(m); err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	return m, nil
}

// UpdateMember changes a member's name and phone. The system member cannot
// be edited.
func (l *Ledger) UpdateMember(groupID, memberID uuid.UUID, name, phone string) error {
	if name == "" {
		return validationf("member name is required")
	}
	m, err := l.memberInGroup(groupID, memberID)
	if err != nil {
		return err
	}
	if m.IsSystem {
		return &ConflictError{Msg: "cannot modify the group's system account"}
	}
	m.Name = name
	m.Phone = phone
	if err := l.storage.UpdateMember(m); err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	return nil
}

// DeleteMember removes a member with no financial history. Members with
// contributions, loans or penalties are protected.
func (l *Ledger) DeleteMember(groupID, memberID uuid.UUID) error {
	m, err := l.memberInGroup(groupID, memberID)
	if err != nil {
		return err
	}
	if m.IsSystem {
		return &ConflictError{Msg: "cannot delete the group's system account"}
	}
	n, err := l.storage.MemberRecordCount(groupID, memberID)
	if err != nil {
		return err
	}
	if n > 0 {
		return &ConflictError{Msg: "cannot delete member with existing contributions, loans, or penalties"}
	}
	if err := l.storage.DeleteMember(groupID, memberID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Resource: "member"}
		}
		return fmt.Errorf("failed to delete member: %w", err)
	}
	return nil
}

func (l *Ledger) group(groupID uuid.UUID) (*models.Group, error) {
	g, err := l.storage.GetGroup(groupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Resource: "group"}
		}
		return nil, err
	}
	return g, nil
}

func (l *Ledger) memberInGroup(groupID, memberID uuid.UUID) (*models.Member, error) {
	m, err := l.storage.GetMember(groupID, memberID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Resource: "member"}
		}
		return nil, err
	}
	return m, nil
}

func (l *Ledger) systemMember(groupID uuid.UUID) (*models.Member, error) {
	m, err := l.storage.SystemMember(groupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &InvariantViolation{Msg: fmt.Sprintf("no system member found for group %s", groupID)}
		}
		return nil, err
	}
	return m, nil
}

// ---- contributions ----

// contribution types a caller may record or edit directly
func editableContributionType(t models.ContributionType) bool {
	switch t {
	case models.ContributionHisa, models.ContributionHisaAnzia, models.ContributionJamii:
		return true
	}
	return false
}

// RecordContribution books a dated money entry for a member. Type rejesho
// is routed to the member's most recent non-cleared loan as a repayment
// instead of being stored as a contribution.
func (l *Ledger) RecordContribution(groupID, memberID uuid.UUID, typ models.ContributionType, amount decimal.Decimal) (*models.Contribution, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, validationf("contribution amount must be positive")
	}
	if _, err := l.memberInGroup(groupID, memberID); err != nil {
		return nil, err
	}

	if typ == models.ContributionRejesho {
		loan, err := l.storage.LatestOpenLoan(groupID, memberID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, validationf("no active loan found for this member")
			}
			return nil, err
		}
		if _, err := l.RecordRepayment(groupID, loan.ID, amount); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if !editableContributionType(typ) {
		return nil, validationf("invalid contribution type %q", typ)
	}

	c := &models.Contribution{
		ID:       uuid.New(),
		MemberID: memberID,
		GroupID:  groupID,
		Type:     typ,
		Amount:   amount,
		Date:     l.today(),
	}
	if err := l.storage.CreateContribution(c); err != nil {
		return nil, fmt.Errorf("failed to record contribution: %w", err)
	}
	return c, nil
}

// UpdateContribution edits an ordinary contribution. System-generated
// jamii_deduction entries are protected.
func (l *Ledger) UpdateContribution(groupID, contributionID uuid.UUID, typ models.ContributionType, amount decimal.Decimal, date time.Time) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return validationf("contribution amount must be positive")
	}
	if !editableContributionType(typ) {
		return validationf("invalid contribution type %q", typ)
	}
	c, err := l.storage.GetContribution(groupID, contributionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Resource: "contribution"}
		}
		return err
	}
	if c.Type == models.ContributionJamiiDeduction {
		return &ConflictError{Msg: "cannot edit system-generated jamii deductions"}
	}
	c.Type = typ
	c.Amount = amount
	c.Date = dateOnly(date)
	if err := l.storage.UpdateContribution(c); err != nil {
		return fmt.Errorf("failed to update contribution: %w", err)
	}
	return nil
}

// DeleteContribution removes an ordinary contribution; jamii_deduction
// entries cannot be deleted through this path.
func (l *Ledger) DeleteContribution(groupID, contributionID uuid.UUID) error {
	c, err := l.storage.GetContribution(groupID, contributionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Resource: "contribution"}
		}
		return err
	}
	if c.Type == models.ContributionJamiiDeduction {
		return &ConflictError{Msg: "cannot delete system-generated jamii deductions"}
	}
	if err := l.storage.DeleteContribution(groupID, contributionID); err != nil {
		return fmt.Errorf("failed to delete contribution: %w", err)
	}
	return nil
}

// RecordJamiiDeduction books a group expense against the dues pool: a
// negative contribution attributed to the group's system member. These
// entries permanently reduce the distributable pool.
func (l *Ledger) RecordJamiiDeduction(groupID uuid.UUID, amount decimal.Decimal) (*models.Contribution, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, validationf("deduction amount must be positive")
	}
	system, err := l.systemMember(groupID)
	if err != nil {
		return nil, err
	}

	c := &models.Contribution{
		ID:       uuid.New(),
		MemberID: system.ID,
		GroupID:  groupID,
		Type:     models.ContributionJamiiDeduction,
		Amount:   amount.Neg(),
		Date:     l.today(),
	}
	if err := l.storage.CreateContribution(c); err != nil {
		return nil, fmt.Errorf("failed to record jamii deduction: %w", err)
	}
	slog.Info("jamii deduction recorded", "group_id", groupID, "amount", amount.String())
	return c, nil
}

// ---- repayments ----

// RecordRepayment books a repayment against a loan and recomputes the
// loan's status.
func (l *Ledger) RecordRepayment(groupID, loanID uuid.UUID, amount decimal.Decimal) (models.LoanStatus, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return "", validationf("repayment amount must be positive")
	}
	loan, err := l.storage.GetLoan(groupID, loanID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", &NotFoundError{Resource: "loan"}
		}
		return "", err
	}

	r := &models.Repayment{
		ID:      uuid.New(),
		LoanID:  loan.ID,
		GroupID: groupID,
		Amount:  amount,
		Date:    l.today(),
	}
	if err := l.storage.CreateRepayment(r); err != nil {
		return "", fmt.Errorf("failed to record repayment: %w", err)
	}

	status, _, err := l.refreshLoanStatus(loan)
	if err != nil {
		return "", err
	}
	return status, nil
}

// Repayments returns a loan's repayment history, newest first.
func (l *Ledger) Repayments(groupID, loanID uuid.UUID) ([]*models.Repayment, error) {
	if _, err := l.storage.GetLoan(groupID, loanID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Resource: "loan"}
		}
		return nil, err
	}
	return l.storage.ListRepayments(groupID, loanID)
}

// ---- penalties ----

// RecordManualPenalty imposes a hand-entered penalty on a member.
func (l *Ledger) RecordManualPenalty(groupID, memberID uuid.UUID, amount decimal.Decimal, description string) (*models.Penalty, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, validationf("penalty amount must be positive")
	}
	if _, err := l.memberInGroup(groupID, memberID); err != nil {
		return nil, err
	}

	p := &models.Penalty{
		ID:          uuid.New(),
		MemberID:    memberID,
		GroupID:     groupID,
		Type:        models.PenaltyTypeManual,
		Amount:      amount,
		AmountPaid:  decimal.Zero,
		Description: description,
		Date:        l.today(),
	}
	if err := l.storage.CreatePenalty(p); err != nil {
		return nil, fmt.Errorf("failed to record penalty: %w", err)
	}
	return p, nil
}

// PayPenalty applies a payment to a penalty. The applied amount is clamped
// to the outstanding balance; any excess is silently dropped. The payment
// is recorded on the penalty and as a penalty_payment contribution in one
// transaction.
func (l *Ledger) PayPenalty(groupID, penaltyID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, validationf("payment amount must be positive")
	}
	p, err := l.storage.GetPenalty(groupID, penaltyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, &NotFoundError{Resource: "penalty"}
		}
		return decimal.Zero, err
	}

	outstanding := p.Outstanding()
	if outstanding.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, validationf("penalty is already fully paid")
	}
	applied := decimal.Min(amount, outstanding)

	c := &models.Contribution{
		ID:       uuid.New(),
		MemberID: p.MemberID,
		GroupID:  groupID,
		Type:     models.ContributionPenaltyPayment,
		Amount:   applied,
		Date:     l.today(),
	}
	if err := l.storage.ApplyPenaltyPayment(groupID, penaltyID, p.AmountPaid.Add(applied), c); err != nil {
		return decimal.Zero, fmt.Errorf("failed to apply penalty payment: %w", err)
	}
	return applied, nil
}

// UpdatePenalty edits a manual penalty's amount and description. The new
// amount may not undercut what has already been paid, and system-generated
// loan_late penalties are immutable except through payment.
func (l *Ledger) UpdatePenalty(groupID, penaltyID uuid.UUID, amount decimal.Decimal, description string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return validationf("penalty amount must be positive")
	}
	p, err := l.storage.GetPenalty(groupID, penaltyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Resource: "penalty"}
		}
		return err
	}
	if p.Type == models.PenaltyTypeLoanLate {
		return &ConflictError{Msg: "cannot edit auto-generated loan penalties"}
	}
	if amount.LessThan(p.AmountPaid) {
		return validationf("amount cannot be less than already paid: %s", p.AmountPaid)
	}
	p.Amount = amount
	p.Description = description
	if err := l.storage.UpdatePenalty(p); err != nil {
		return fmt.Errorf("failed to update penalty: %w", err)
	}
	return nil
}

// DeletePenalty removes a manual penalty. Auto-generated loan_late
// penalties are protected; clearing the loan is the way out.
func (l *Ledger) DeletePenalty(groupID, penaltyID uuid.UUID) error {
	p, err := l.storage.GetPenalty(groupID, penaltyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Resource: "penalty"}
		}
		return err
	}
	if p.Type == models.PenaltyTypeLoanLate && p.LoanID != nil {
		return &ConflictError{Msg: "cannot delete auto-generated loan penalties"}
	}
	if err := l.storage.DeletePenalty(groupID, penaltyID); err != nil {
		return fmt.Errorf("failed to delete penalty: %w", err)
	}
	return nil
}

// Penalties lists the group's penalty ledger together with the total
// outstanding across all of them.
func (l *Ledger) Penalties(groupID uuid.UUID) ([]*models.Penalty, decimal.Decimal, error) {
	penalties, err := l.storage.ListPenalties(groupID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	outstanding := decimal.Zero
	for _, p := range penalties {
		outstanding = outstanding.Add(p.Outstanding())
	}
	return penalties, outstanding, nil
}

// ---- loan rules ----

// ReplaceLoanRules validates and atomically replaces the group's
// fine-grained duration policy.
func (l *Ledger) ReplaceLoanRules(groupID uuid.UUID, rules []*models.LoanRule) error {
	for _, r := range rules {
		if r.MinPrincipal.IsNegative() {
			return validationf("rule minimum cannot be negative")
		}
		if r.MaxPrincipal.LessThan(r.MinPrincipal) {
			return validationf("rule maximum %s is below its minimum %s", r.MaxPrincipal, r.MinPrincipal)
		}
		if r.Days <= 0 {
			return validationf("rule days must be positive")
		}
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		r.GroupID = groupID
	}
	if err := l.storage.ReplaceLoanRules(groupID, rules); err != nil {
		return fmt.Errorf("failed to replace loan rules: %w", err)
	}
	return nil
}

// LoanRules lists the group's duration policy, ordered by ascending minimum.
func (l *Ledger) LoanRules(groupID uuid.UUID) ([]*models.LoanRule, error) {
	return l.storage.ListLoanRules(groupID)
}

// ---- loan schedule edit ----

// UpdateLoanSchedule is the narrow loan edit path: due date and status
// only. Principal, interest and total are immutable once issued.
func (l *Ledger) UpdateLoanSchedule(groupID, loanID uuid.UUID, due time.Time, status models.LoanStatus) error {
	switch status {
	case models.LoanStatusActive, models.LoanStatusOverdue, models.LoanStatusCleared:
	default:
		return validationf("invalid loan status %q", status)
	}
	if due.IsZero() {
		return validationf("due date is required")
	}
	if err := l.storage.UpdateLoanSchedule(groupID, loanID, dateOnly(due), status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Resource: "loan"}
		}
		return fmt.Errorf("failed to update loan schedule: %w", err)
	}
	return nil
}
