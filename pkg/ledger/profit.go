package ledger

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemberPayout is one member's line in a profit distribution simulation.
type MemberPayout struct {
	MemberID        uuid.UUID       `json:"member_id"`
	MemberName      string          `json:"member_name"`
	Units           decimal.Decimal `json:"hisa_units"`
	Savings         decimal.Decimal `json:"savings"`
	ProfitShare     decimal.Decimal `json:"profit_share"`
	LoanRemaining   decimal.Decimal `json:"loan_balance_due"`
	PenaltiesDue    decimal.Decimal `json:"penalties_due"`
	JamiiShortfall  decimal.Decimal `json:"jamii_shortfall"`
	TotalDeductions decimal.Decimal `json:"total_deductions"`
	Payout          decimal.Decimal `json:"total_payout"`
}

// Distribution is the full result of a profit distribution simulation.
// When TotalUnits is zero the breakdown is empty but the pool figures are
// still populated for transparency.
type Distribution struct {
	Pool          *ProfitPool     `json:"pool"`
	ExtraJamii    decimal.Decimal `json:"jamii_deducted_current_proposal"`
	TotalExpenses decimal.Decimal `json:"total_jamii_expenses"`
	NetProfit     decimal.Decimal `json:"net_profit_to_distribute"`
	TotalUnits    decimal.Decimal `json:"total_hisa_units"`
	ProfitPerUnit decimal.Decimal `json:"profit_per_unit"`
	Breakdown     []*MemberPayout `json:"breakdown"`
}

// Distribute simulates the end-of-cycle profit distribution with a
// hypothetical additional jamii expense. It mutates nothing and is safe to
// call repeatedly with different extraJamii values.
func (l *Ledger) Distribute(groupID uuid.UUID, extraJamii decimal.Decimal) (*Distribution, error) {
	if extraJamii.IsNegative() {
		return nil, validationf("jamii expense cannot be negative")
	}

	pool, err := l.GroupProfitPool(groupID)
	if err != nil {
		return nil, err
	}

	totalExpenses := pool.JamiiSpent.Add(extraJamii)
	netProfit := clampZero(pool.GrossPool.Sub(pool.LeadershipPay).Sub(totalExpenses))

	totalUnits, err := l.TotalShareUnits(groupID)
	if err != nil {
		return nil, err
	}

	dist := &Distribution{
		Pool:          pool,
		ExtraJamii:    extraJamii,
		TotalExpenses: totalExpenses,
		NetProfit:     netProfit,
		TotalUnits:    totalUnits,
		ProfitPerUnit: decimal.Zero,
		Breakdown:     []*MemberPayout{},
	}
	if totalUnits.IsZero() {
		// No units, nothing to allocate; report the pool anyway.
		dist.NetProfit = decimal.Zero
		return dist, nil
	}

	perUnit := netProfit.Div(totalUnits)
	dist.ProfitPerUnit = perUnit

	members, err := l.storage.ListMembers(groupID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		shares, err := l.MemberShareUnits(groupID, m.ID)
		if err != nil {
			return nil, err
		}
		balances, err := l.MemberLoanBalances(groupID, m.ID)
		if err != nil {
			return nil, err
		}
		penalties, err := l.MemberPenaltyLiability(groupID, m.ID)
		if err != nil {
			return nil, err
		}
		jamii, err := l.MemberJamiiStatus(groupID, m.ID)
		if err != nil {
			return nil, err
		}

		share := shares.Units.Mul(perUnit).Round(0)
		deductions := balances.Remaining.Add(penalties).Add(jamii.Shortfall)
		dist.Breakdown = append(dist.Breakdown, &MemberPayout{
			MemberID:        m.ID,
			MemberName:      m.Name,
			Units:           shares.Units,
			Savings:         shares.Contributed,
			ProfitShare:     share,
			LoanRemaining:   balances.Remaining,
			PenaltiesDue:    penalties,
			JamiiShortfall:  jamii.Shortfall,
			TotalDeductions: deductions,
			Payout:          clampZero(shares.Contributed.Add(share).Sub(deductions)),
		})
	}
	return dist, nil
}
