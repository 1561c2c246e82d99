package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jmassawe/kikoba/pkg/models"
)

// ErrNotFound is returned when a record does not exist in the given group.
// An ID that exists in another group is indistinguishable from one that does
// not exist at all.
var ErrNotFound = errors.New("record not found")

// Storage defines the persistence operations for the kikoba engine. Every
// method is scoped by group; implementations must never return rows from
// another group. Multi-step writes (group creation, rule replacement,
// penalty insertion, penalty payment) are atomic.
type Storage interface {
	// CreateGroup persists the group, its system member and the seed
	// settings in one transaction.
	CreateGroup(g *models.Group, system *models.Member, seed map[string]string) error
	GetGroup(id uuid.UUID) (*models.Group, error)

	SettingsFor(groupID uuid.UUID) (map[string]string, error)
	UpsertSetting(groupID uuid.UUID, key, value string) error

	CreateMember(m *models.Member) error
	GetMember(groupID, id uuid.UUID) (*models.Member, error)
	// SystemMember returns the group's system member, ErrNotFound if absent.
	SystemMember(groupID uuid.UUID) (*models.Member, error)
	// ListMembers returns the group's non-system members.
	ListMembers(groupID uuid.UUID) ([]*models.Member, error)
	CountMembers(groupID uuid.UUID) (int, error)
	UpdateMember(m *models.Member) error
	DeleteMember(groupID, id uuid.UUID) error
	// MemberRecordCount counts the member's contributions, loans and
	// penalties; used to refuse deleting members with financial history.
	MemberRecordCount(groupID, memberID uuid.UUID) (int, error)

	// ReplaceLoanRules atomically swaps the group's rule set.
	ReplaceLoanRules(groupID uuid.UUID, rules []*models.LoanRule) error
	ListLoanRules(groupID uuid.UUID) ([]*models.LoanRule, error)

	CreateLoan(l *models.Loan) error
	GetLoan(groupID, id uuid.UUID) (*models.Loan, error)
	ListLoans(groupID uuid.UUID) ([]*models.Loan, error)
	LoansForMember(groupID, memberID uuid.UUID) ([]*models.Loan, error)
	// LatestOpenLoan returns the member's most recent non-cleared loan.
	LatestOpenLoan(groupID, memberID uuid.UUID) (*models.Loan, error)
	// OverdueCandidates returns Active/Overdue loans due strictly before
	// the given date.
	OverdueCandidates(groupID uuid.UUID, before time.Time) ([]*models.Loan, error)
	UpdateLoanStatus(groupID, id uuid.UUID, status models.LoanStatus) error
	// UpdateLoanSchedule is the narrow edit path: due date and status only.
	UpdateLoanSchedule(groupID, id uuid.UUID, due time.Time, status models.LoanStatus) error

	CreateRepayment(r *models.Repayment) error
	ListRepayments(groupID, loanID uuid.UUID) ([]*models.Repayment, error)
	RepaidTotal(groupID, loanID uuid.UUID) (decimal.Decimal, error)

	CreateContribution(c *models.Contribution) error
	GetContribution(groupID, id uuid.UUID) (*models.Contribution, error)
	ListContributions(groupID uuid.UUID) ([]*models.Contribution, error)
	UpdateContribution(c *models.Contribution) error
	DeleteContribution(groupID, id uuid.UUID) error
	// SumContributions totals a contribution type across the group,
	// optionally excluding one member (the system member, typically).
	SumContributions(groupID uuid.UUID, typ models.ContributionType, excludeMember *uuid.UUID) (decimal.Decimal, error)
	SumMemberContributions(groupID, memberID uuid.UUID, typ models.ContributionType) (decimal.Decimal, error)
	// MemberContributionTotals sums the member's contributions by type.
	MemberContributionTotals(groupID, memberID uuid.UUID) (map[models.ContributionType]decimal.Decimal, error)

	CreatePenalty(p *models.Penalty) error
	GetPenalty(groupID, id uuid.UUID) (*models.Penalty, error)
	ListPenalties(groupID uuid.UUID) ([]*models.Penalty, error)
	UpdatePenalty(p *models.Penalty) error
	DeletePenalty(groupID, id uuid.UUID) error
	HasLoanLatePenalty(groupID, loanID uuid.UUID) (bool, error)
	// InsertLatePenalty writes the penalty and flips its loan to Overdue in
	// one transaction, preserving at-most-one-penalty-per-loan under
	// concurrent accrual runs.
	InsertLatePenalty(p *models.Penalty) error
	// ApplyPenaltyPayment persists the new cumulative paid amount and the
	// matching penalty_payment contribution in one transaction.
	ApplyPenaltyPayment(groupID, penaltyID uuid.UUID, newPaid decimal.Decimal, c *models.Contribution) error
	// PenaltyTotals returns gross imposed and cumulative paid for the group.
	PenaltyTotals(groupID uuid.UUID) (imposed, paid decimal.Decimal, err error)
	MemberPenaltyOutstanding(groupID, memberID uuid.UUID) (decimal.Decimal, error)

	// TotalLoanInterest sums total minus principal across all group loans.
	TotalLoanInterest(groupID uuid.UUID) (decimal.Decimal, error)
	TotalPrincipal(groupID uuid.UUID) (decimal.Decimal, error)

	Close() error
}
