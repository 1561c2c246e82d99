package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Group is the tenant boundary. Every business record below carries the
// owning group's ID and no query may cross it.
type Group struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Member belongs to exactly one group. Each group carries exactly one
// system member (IsSystem) acting as the counterpart for group-level
// expense entries; it is excluded from headcounts, share totals and
// profit distribution.
type Member struct {
	ID         uuid.UUID `json:"id"`
	GroupID    uuid.UUID `json:"group_id"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	JoinedDate time.Time `json:"joined_date"`
	IsSystem   bool      `json:"is_system"`
}

type ContributionType string

const (
	ContributionHisa           ContributionType = "hisa"
	ContributionHisaAnzia      ContributionType = "hisa anzia"
	ContributionJamii          ContributionType = "jamii"
	ContributionJamiiDeduction ContributionType = "jamii_deduction"
	ContributionPenaltyPayment ContributionType = "penalty_payment"

	// ContributionRejesho is a routing type only: recording a contribution
	// of this type books a repayment against the member's most recent
	// open loan. It is never persisted as a contribution row.
	ContributionRejesho ContributionType = "rejesho"
)

// Contribution is a dated, signed money entry. jamii_deduction rows are
// system generated, negative, and attributed to the group's system member.
type Contribution struct {
	ID       uuid.UUID        `json:"id"`
	MemberID uuid.UUID        `json:"member_id"`
	GroupID  uuid.UUID        `json:"group_id"`
	Type     ContributionType `json:"type"`
	Amount   decimal.Decimal  `json:"amount"`
	Date     time.Time        `json:"date"`
}

type LoanStatus string

const (
	LoanStatusActive  LoanStatus = "Active"
	LoanStatusOverdue LoanStatus = "Overdue"
	LoanStatusCleared LoanStatus = "Cleared"
)

// Loan principal, interest and total are immutable once issued. Status is
// derived from total, cumulative repayments and due date; only due date and
// status may be changed through the narrow edit path.
type Loan struct {
	ID        uuid.UUID       `json:"id"`
	MemberID  uuid.UUID       `json:"member_id"`
	GroupID   uuid.UUID       `json:"group_id"`
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	Total     decimal.Decimal `json:"total"`
	Months    int             `json:"months"`
	StartDate time.Time       `json:"start_date"`
	DueDate   time.Time       `json:"due_date"`
	Status    LoanStatus      `json:"status"`
}

// Repayment ("rejesho") reduces a loan's outstanding balance.
type Repayment struct {
	ID      uuid.UUID       `json:"id"`
	LoanID  uuid.UUID       `json:"loan_id"`
	GroupID uuid.UUID       `json:"group_id"`
	Amount  decimal.Decimal `json:"amount"`
	Date    time.Time       `json:"date"`
}

type PenaltyType string

const (
	PenaltyTypeLoanLate PenaltyType = "loan_late"
	PenaltyTypeManual   PenaltyType = "manual"
)

// Penalty records a gross imposed amount and the cumulative amount paid
// against it (AmountPaid <= Amount always). At most one loan_late penalty
// may exist per loan.
type Penalty struct {
	ID          uuid.UUID       `json:"id"`
	MemberID    uuid.UUID       `json:"member_id"`
	GroupID     uuid.UUID       `json:"group_id"`
	LoanID      *uuid.UUID      `json:"loan_id,omitempty"`
	Type        PenaltyType     `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Description string          `json:"description"`
	Date        time.Time       `json:"date"`
}

// Outstanding is the unpaid portion of the penalty.
func (p *Penalty) Outstanding() decimal.Decimal {
	return p.Amount.Sub(p.AmountPaid)
}

// LoanRule is a group-scoped duration policy row, finer grained than the
// four fixed tiers, ordered by ascending minimum principal.
type LoanRule struct {
	ID           uuid.UUID       `json:"id"`
	GroupID      uuid.UUID       `json:"group_id"`
	MinPrincipal decimal.Decimal `json:"min_principal"`
	MaxPrincipal decimal.Decimal `json:"max_principal"`
	Days         int             `json:"days"`
}
