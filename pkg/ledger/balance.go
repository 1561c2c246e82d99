package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jmassawe/kikoba/pkg/models"
	"github.com/jmassawe/kikoba/pkg/settings"
)

// Read-side balance derivation. Everything here is recomputed from the
// transaction history on every call and never fails on absent data: a
// member with no transactions yields zero-valued aggregates.

// LoanBalances summarizes a member's position across all their loans.
// Remaining is clamped at zero; Overdue accumulates the remaining balances
// of loans past their due date.
type LoanBalances struct {
	Committed decimal.Decimal `json:"committed"`
	Repaid    decimal.Decimal `json:"repaid"`
	Remaining decimal.Decimal `json:"remaining"`
	Overdue   decimal.Decimal `json:"overdue"`
}

// MemberLoanBalances sums loan totals and repayments across all of the
// member's loans.
func (l *Ledger) MemberLoanBalances(groupID, memberID uuid.UUID) (*LoanBalances, error) {
	loans, err := l.storage.LoansForMember(groupID, memberID)
	if err != nil {
		return nil, err
	}

	today := l.today()
	b := &LoanBalances{
		Committed: decimal.Zero,
		Repaid:    decimal.Zero,
		Remaining: decimal.Zero,
		Overdue:   decimal.Zero,
	}
	for _, loan := range loans {
		repaid, err := l.storage.RepaidTotal(groupID, loan.ID)
		if err != nil {
			return nil, err
		}
		b.Committed = b.Committed.Add(loan.Total)
		b.Repaid = b.Repaid.Add(repaid)

		remaining := clampZero(loan.Total.Sub(repaid))
		if remaining.IsPositive() && dateOnly(loan.DueDate).Before(today) {
			b.Overdue = b.Overdue.Add(remaining)
		}
	}
	b.Remaining = clampZero(b.Committed.Sub(b.Repaid))
	return b, nil
}

// MemberPenaltyLiability is the member's total unpaid penalty amount.
func (l *Ledger) MemberPenaltyLiability(groupID, memberID uuid.UUID) (decimal.Decimal, error) {
	return l.storage.MemberPenaltyOutstanding(groupID, memberID)
}

// JamiiStatus tracks a member's periodic dues against the cycle-wide
// expectation.
type JamiiStatus struct {
	Paid      decimal.Decimal `json:"paid"`
	Expected  decimal.Decimal `json:"expected"`
	Shortfall decimal.Decimal `json:"shortfall"`
	Periods   int             `json:"periods"`
}

// cyclePeriods counts the dues periods in the configured savings cycle.
// Monthly uses the calendar year/month difference; weekly uses whole weeks
// (fractional weeks truncated); one-time is always a single period. An
// unconfigured cycle yields zero periods for the recurring frequencies.
func cyclePeriods(st *settings.Settings) int {
	switch st.JamiiFrequency {
	case settings.FrequencyOneTime:
		return 1
	case settings.FrequencyWeekly:
		if st.CycleStart.IsZero() || st.CycleEnd.IsZero() {
			return 0
		}
		weeks := daysBetween(st.CycleStart, st.CycleEnd) / 7
		if weeks < 0 {
			return 0
		}
		return weeks
	default: // monthly
		if st.CycleStart.IsZero() || st.CycleEnd.IsZero() {
			return 0
		}
		months := monthsBetween(st.CycleStart, st.CycleEnd)
		if months < 0 {
			return 0
		}
		return months
	}
}

// monthsBetween is the calendar year/month difference, not a day count.
func monthsBetween(start, end time.Time) int {
	return (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
}

// MemberJamiiStatus derives the member's dues position for the cycle.
func (l *Ledger) MemberJamiiStatus(groupID, memberID uuid.UUID) (*JamiiStatus, error) {
	st, err := l.settings.Load(groupID)
	if err != nil {
		return nil, err
	}
	paid, err := l.storage.SumMemberContributions(groupID, memberID, models.ContributionJamii)
	if err != nil {
		return nil, err
	}

	periods := cyclePeriods(st)
	expected := st.JamiiAmount.Mul(decimal.NewFromInt(int64(periods)))
	return &JamiiStatus{
		Paid:      paid,
		Expected:  expected,
		Shortfall: clampZero(expected.Sub(paid)),
		Periods:   periods,
	}, nil
}

// ShareUnits is a member's derived share position. Units are never stored:
// hisa contributions divided by the unit price. Hisa anzia counts toward
// savings but never toward units.
type ShareUnits struct {
	Contributed decimal.Decimal `json:"contributed"`
	Units       decimal.Decimal `json:"units"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// MemberShareUnits derives the member's hisa units.
func (l *Ledger) MemberShareUnits(groupID, memberID uuid.UUID) (*ShareUnits, error) {
	st, err := l.settings.Load(groupID)
	if err != nil {
		return nil, err
	}
	contributed, err := l.storage.SumMemberContributions(groupID, memberID, models.ContributionHisa)
	if err != nil {
		return nil, err
	}
	return &ShareUnits{
		Contributed: contributed,
		Units:       unitsFor(contributed, st.HisaUnitPrice),
		UnitPrice:   st.HisaUnitPrice,
	}, nil
}

func unitsFor(contributed, unitPrice decimal.Decimal) decimal.Decimal {
	if !unitPrice.IsPositive() {
		return decimal.Zero
	}
	return contributed.Div(unitPrice)
}

// TotalShareUnits derives the group's total hisa units, excluding the
// system member.
func (l *Ledger) TotalShareUnits(groupID uuid.UUID) (decimal.Decimal, error) {
	st, err := l.settings.Load(groupID)
	if err != nil {
		return decimal.Zero, err
	}
	system, err := l.systemMember(groupID)
	if err != nil {
		return decimal.Zero, err
	}
	total, err := l.storage.SumContributions(groupID, models.ContributionHisa, &system.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return unitsFor(total, st.HisaUnitPrice), nil
}

// GroupSavings is the group's total hisa savings, excluding the system
// member.
func (l *Ledger) GroupSavings(groupID uuid.UUID) (decimal.Decimal, error) {
	system, err := l.systemMember(groupID)
	if err != nil {
		return decimal.Zero, err
	}
	return l.storage.SumContributions(groupID, models.ContributionHisa, &system.ID)
}

// GroupOutstanding sums remaining loan balances across all non-system
// members. Deriving it from the per-member balances keeps it consistent
// with them by construction.
func (l *Ledger) GroupOutstanding(groupID uuid.UUID) (decimal.Decimal, error) {
	members, err := l.storage.ListMembers(groupID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, m := range members {
		b, err := l.MemberLoanBalances(groupID, m.ID)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(b.Remaining)
	}
	return total, nil
}

// ProfitPool is the group-level distributable pool breakdown.
type ProfitPool struct {
	TotalInterest    decimal.Decimal `json:"total_interest"`
	PenaltiesImposed decimal.Decimal `json:"penalties_imposed"`
	PenaltiesPaid    decimal.Decimal `json:"penalties_paid"`
	ExpectedJamii    decimal.Decimal `json:"expected_jamii_total"`
	JamiiCollected   decimal.Decimal `json:"total_jamii_collected"`
	JamiiSpent       decimal.Decimal `json:"jamii_spent"` // absolute value
	UnusedJamii      decimal.Decimal `json:"unused_jamii_balance"`
	LeadershipPay    decimal.Decimal `json:"leadership_pay_amount"`
	GrossPool        decimal.Decimal `json:"gross_distributable_pool"`
	NetPool          decimal.Decimal `json:"net_profit_pool"`
}

// GroupProfitPool derives the distributable pool: loan interest plus
// penalties imposed plus the jamii total expected from every member over
// the cycle, net of leadership pay and jamii already spent.
func (l *Ledger) GroupProfitPool(groupID uuid.UUID) (*ProfitPool, error) {
	st, err := l.settings.Load(groupID)
	if err != nil {
		return nil, err
	}

	interest, err := l.storage.TotalLoanInterest(groupID)
	if err != nil {
		return nil, err
	}
	imposed, paid, err := l.storage.PenaltyTotals(groupID)
	if err != nil {
		return nil, err
	}
	memberCount, err := l.storage.CountMembers(groupID)
	if err != nil {
		return nil, err
	}
	collected, err := l.storage.SumContributions(groupID, models.ContributionJamii, nil)
	if err != nil {
		return nil, err
	}
	spent, err := l.storage.SumContributions(groupID, models.ContributionJamiiDeduction, nil)
	if err != nil {
		return nil, err
	}
	spentAbs := spent.Abs()

	periods := cyclePeriods(st)
	expectedJamii := st.JamiiAmount.
		Mul(decimal.NewFromInt(int64(periods))).
		Mul(decimal.NewFromInt(int64(memberCount)))

	gross := interest.Add(imposed).Add(expectedJamii)
	return &ProfitPool{
		TotalInterest:    interest,
		PenaltiesImposed: imposed,
		PenaltiesPaid:    paid,
		ExpectedJamii:    expectedJamii,
		JamiiCollected:   collected,
		JamiiSpent:       spentAbs,
		UnusedJamii:      clampZero(collected.Add(spent)),
		LeadershipPay:    st.LeadershipPay,
		GrossPool:        gross,
		NetPool:          clampZero(gross.Sub(st.LeadershipPay).Sub(spentAbs)),
	}, nil
}
