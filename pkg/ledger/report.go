package ledger

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jmassawe/kikoba/pkg/models"
)

// Reporting aggregator: composes the balance calculator outputs into
// per-member and per-group snapshots for the presentation layer. Purely
// compositional, no new business rules. Members with no transactions show
// up with zeroed fields, never omitted.

// MemberSummary is the roster view with derived balances per member.
type MemberSummary struct {
	Member             *models.Member  `json:"member"`
	TotalContributions decimal.Decimal `json:"total_contributions"`
	Units              decimal.Decimal `json:"hisa_units"`
	LoansCommitted     decimal.Decimal `json:"total_loans_committed"`
	LoanOutstanding    decimal.Decimal `json:"total_outstanding"`
	PenaltiesDue       decimal.Decimal `json:"total_penalties"`
	JamiiPaid          decimal.Decimal `json:"jamii_paid"`
	JamiiExpected      decimal.Decimal `json:"jamii_expected"`
	JamiiShortfall     decimal.Decimal `json:"jamii_shortfall"`
}

// Members runs penalty accrual, then returns the group roster with derived
// balances.
func (l *Ledger) Members(groupID uuid.UUID) ([]*MemberSummary, error) {
	if err := l.AccruePenalties(groupID); err != nil {
		return nil, err
	}
	members, err := l.storage.ListMembers(groupID)
	if err != nil {
		return nil, err
	}

	summaries := make([]*MemberSummary, 0, len(members))
	for _, m := range members {
		totals, err := l.storage.MemberContributionTotals(groupID, m.ID)
		if err != nil {
			return nil, err
		}
		contributed := decimal.Zero
		for typ, amount := range totals {
			if typ == models.ContributionJamiiDeduction {
				continue
			}
			contributed = contributed.Add(amount)
		}

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

		summaries = append(summaries, &MemberSummary{
			Member:             m,
			TotalContributions: contributed,
			Units:              shares.Units,
			LoansCommitted:     balances.Committed,
			LoanOutstanding:    balances.Remaining,
			PenaltiesDue:       penalties,
			JamiiPaid:          jamii.Paid,
			JamiiExpected:      jamii.Expected,
			JamiiShortfall:     jamii.Shortfall,
		})
	}
	return summaries, nil
}

// MemberReport is the end-of-cycle statement line for one member.
type MemberReport struct {
	MemberID           uuid.UUID                                  `json:"member_id"`
	MemberName         string                                     `json:"member_name"`
	Contributions      map[models.ContributionType]decimal.Decimal `json:"contributions"`
	TotalContributions decimal.Decimal                            `json:"total_contributions"`
	Units              decimal.Decimal                            `json:"hisa_units"`
	LoansCommitted     decimal.Decimal                            `json:"total_loans"`
	LoansRepaid        decimal.Decimal                            `json:"total_rejesho"`
	LoanRemaining      decimal.Decimal                            `json:"remaining_loans"`
	LoanOverdue        decimal.Decimal                            `json:"total_overdue"`
	PenaltiesDue       decimal.Decimal                            `json:"total_penalties"`
	JamiiPaid          decimal.Decimal                            `json:"jamii_paid"`
	JamiiExpected      decimal.Decimal                            `json:"jamii_expected"`
	JamiiShortfall     decimal.Decimal                            `json:"jamii_shortfall"`
	NetPosition        decimal.Decimal                            `json:"net_contribution_position"`
	ExpectedShare      decimal.Decimal                            `json:"expected_profit_share"`
	NetPayout          decimal.Decimal                            `json:"net_payout"`
}

// Report runs penalty accrual and status recomputation, then builds the
// per-member statement using the current net pool. Savings here include
// hisa anzia; profit shares still derive from hisa units alone.
func (l *Ledger) Report(groupID uuid.UUID) ([]*MemberReport, error) {
	if err := l.AccruePenalties(groupID); err != nil {
		return nil, err
	}
	if err := l.RefreshLoanStatuses(groupID); err != nil {
		return nil, err
	}

	pool, err := l.GroupProfitPool(groupID)
	if err != nil {
		return nil, err
	}
	totalUnits, err := l.TotalShareUnits(groupID)
	if err != nil {
		return nil, err
	}
	perUnit := decimal.Zero
	if totalUnits.IsPositive() {
		perUnit = pool.NetPool.Div(totalUnits)
	}

	members, err := l.storage.ListMembers(groupID)
	if err != nil {
		return nil, err
	}

	reports := make([]*MemberReport, 0, len(members))
	for _, m := range members {
		totals, err := l.storage.MemberContributionTotals(groupID, m.ID)
		if err != nil {
			return nil, err
		}
		delete(totals, models.ContributionJamiiDeduction)

		totalContributions := decimal.Zero
		for _, amount := range totals {
			totalContributions = totalContributions.Add(amount)
		}
		savings := totals[models.ContributionHisa].Add(totals[models.ContributionHisaAnzia])

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

		netPosition := savings.Sub(balances.Remaining).Sub(penalties).Sub(jamii.Shortfall)
		expectedShare := shares.Units.Mul(perUnit).Round(0)
		reports = append(reports, &MemberReport{
			MemberID:           m.ID,
			MemberName:         m.Name,
			Contributions:      totals,
			TotalContributions: totalContributions,
			Units:              shares.Units,
			LoansCommitted:     balances.Committed,
			LoansRepaid:        balances.Repaid,
			LoanRemaining:      balances.Remaining,
			LoanOverdue:        balances.Overdue,
			PenaltiesDue:       penalties,
			JamiiPaid:          jamii.Paid,
			JamiiExpected:      jamii.Expected,
			JamiiShortfall:     jamii.Shortfall,
			NetPosition:        netPosition,
			ExpectedShare:      expectedShare,
			NetPayout:          netPosition.Add(expectedShare),
		})
	}
	return reports, nil
}

// Dashboard is the group-level overview consumed by the presentation
// layer.
type Dashboard struct {
	GroupName           string          `json:"group_name"`
	TotalMembers        int             `json:"total_members"`
	TotalSavings        decimal.Decimal `json:"total_contributions_hisa"`
	TotalUnits          decimal.Decimal `json:"total_hisa_units"`
	TotalPrincipal      decimal.Decimal `json:"total_principal_loaned"`
	LoanBalanceDue      decimal.Decimal `json:"loan_balance_due"`
	Pool                *ProfitPool     `json:"pool"`
	PenaltiesDue        decimal.Decimal `json:"penalties_due_net"`
	TotalJamiiShortfall decimal.Decimal `json:"total_jamii_shortfall"`
}

// GetDashboard runs penalty accrual, then assembles the group overview.
func (l *Ledger) GetDashboard(groupID uuid.UUID) (*Dashboard, error) {
	if _, err := l.group(groupID); err != nil {
		return nil, err
	}
	if err := l.AccruePenalties(groupID); err != nil {
		return nil, err
	}

	st, err := l.settings.Load(groupID)
	if err != nil {
		return nil, err
	}
	pool, err := l.GroupProfitPool(groupID)
	if err != nil {
		return nil, err
	}
	memberCount, err := l.storage.CountMembers(groupID)
	if err != nil {
		return nil, err
	}
	savings, err := l.GroupSavings(groupID)
	if err != nil {
		return nil, err
	}
	units, err := l.TotalShareUnits(groupID)
	if err != nil {
		return nil, err
	}
	principal, err := l.storage.TotalPrincipal(groupID)
	if err != nil {
		return nil, err
	}
	outstanding, err := l.GroupOutstanding(groupID)
	if err != nil {
		return nil, err
	}

	members, err := l.storage.ListMembers(groupID)
	if err != nil {
		return nil, err
	}
	shortfall := decimal.Zero
	for _, m := range members {
		jamii, err := l.MemberJamiiStatus(groupID, m.ID)
		if err != nil {
			return nil, err
		}
		shortfall = shortfall.Add(jamii.Shortfall)
	}

	return &Dashboard{
		GroupName:           st.GroupName,
		TotalMembers:        memberCount,
		TotalSavings:        savings,
		TotalUnits:          units,
		TotalPrincipal:      principal,
		LoanBalanceDue:      outstanding,
		Pool:                pool,
		PenaltiesDue:        pool.PenaltiesImposed.Sub(pool.PenaltiesPaid),
		TotalJamiiShortfall: shortfall,
	}, nil
}
