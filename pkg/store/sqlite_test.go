package store

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jmassawe/kikoba/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(t.TempDir() + "/test_store.db")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedGroup(t *testing.T, s *SQLiteStore) (*models.Group, *models.Member) {
	t.Helper()
	g := &models.Group{ID: uuid.New(), Name: "Umoja", CreatedAt: time.Now().UTC()}
	system := &models.Member{
		ID:         uuid.New(),
		GroupID:    g.ID,
		Name:       g.Name + " (group account)",
		JoinedDate: time.Now().UTC(),
		IsSystem:   true,
	}
	seed := map[string]string{"group_name": g.Name, "interest_rate": "0.10"}
	if err := s.CreateGroup(g, system, seed); err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	return g, system
}

func seedMember(t *testing.T, s *SQLiteStore, groupID uuid.UUID, name string) *models.Member {
	t.Helper()
	m := &models.Member{
		ID:         uuid.New(),
		GroupID:    groupID,
		Name:       name,
		Phone:      "0712000000",
		JoinedDate: time.Now().UTC(),
	}
	if err := s.CreateMember(m); err != nil {
		t.Fatalf("Failed to create member: %v", err)
	}
	return m
}

func seedLoan(t *testing.T, s *SQLiteStore, groupID, memberID uuid.UUID, principal int64, due time.Time) *models.Loan {
	t.Helper()
	p := decimal.NewFromInt(principal)
	interest := p.Div(decimal.NewFromInt(10)).Round(0)
	l := &models.Loan{
		ID:        uuid.New(),
		MemberID:  memberID,
		GroupID:   groupID,
		Principal: p,
		Interest:  interest,
		Total:     p.Add(interest),
		Months:    1,
		StartDate: due.AddDate(0, 0, -30),
		DueDate:   due,
		Status:    models.LoanStatusActive,
	}
	if err := s.CreateLoan(l); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}
	return l
}

func TestCreateGroup_SeedsSystemMemberAndSettings(t *testing.T) {
	s := newTestStore(t)
	g, system := seedGroup(t, s)

	got, err := s.SystemMember(g.ID)
	if err != nil {
		t.Fatalf("SystemMember failed: %v", err)
	}
	if got.ID != system.ID || !got.IsSystem {
		t.Errorf("Expected the seeded system member, got %+v", got)
	}

	pairs, err := s.SettingsFor(g.ID)
	if err != nil {
		t.Fatalf("SettingsFor failed: %v", err)
	}
	if pairs["interest_rate"] != "0.10" {
		t.Errorf("Expected seeded interest_rate 0.10, got %q", pairs["interest_rate"])
	}

	// system member is invisible to roster queries
	members, err := s.ListMembers(g.ID)
	if err != nil {
		t.Fatalf("ListMembers failed: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("Expected empty roster, got %d members", len(members))
	}
	n, err := s.CountMembers(g.ID)
	if err != nil {
		t.Fatalf("CountMembers failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected member count 0, got %d", n)
	}
}

func TestUpsertSetting_InsertThenUpdate(t *testing.T) {
	s := newTestStore(t)
	g, _ := seedGroup(t, s)

	if err := s.UpsertSetting(g.ID, "jamii_amount", "2500"); err != nil {
		t.Fatalf("UpsertSetting failed: %v", err)
	}
	if err := s.UpsertSetting(g.ID, "jamii_amount", "3000"); err != nil {
		t.Fatalf("UpsertSetting failed on update: %v", err)
	}

	pairs, err := s.SettingsFor(g.ID)
	if err != nil {
		t.Fatalf("SettingsFor failed: %v", err)
	}
	if pairs["jamii_amount"] != "3000" {
		t.Errorf("Expected jamii_amount 3000, got %q", pairs["jamii_amount"])
	}
}

func TestMembers_GroupScoping(t *testing.T) {
	s := newTestStore(t)
	g1, _ := seedGroup(t, s)
	g2, _ := seedGroup(t, s)
	m := seedMember(t, s, g1.ID, "Asha")

	if _, err := s.GetMember(g1.ID, m.ID); err != nil {
		t.Fatalf("GetMember in own group failed: %v", err)
	}
	if _, err := s.GetMember(g2.ID, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound across groups, got %v", err)
	}
	if err := s.DeleteMember(g2.ID, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting across groups, got %v", err)
	}
}

func TestUpdateMember_SystemMemberUntouchable(t *testing.T) {
	s := newTestStore(t)
	g, system := seedGroup(t, s)

	system.Name = "renamed"
	if err := s.UpdateMember(system); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound updating system member, got %v", err)
	}
	if err := s.DeleteMember(g.ID, system.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting system member, got %v", err)
	}
}

func TestMemberRecordCount(t *testing.T) {
	s := newTestStore(t)
	g, _ := seedGroup(t, s)
	m := seedMember(t, s, g.ID, "Juma")

	n, err := s.MemberRecordCount(g.ID, m.ID)
	if err != nil {
		t.Fatalf("MemberRecordCount failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 records for fresh member, got %d", n)
	}

	c := &models.Contribution{
		ID: uuid.New(), MemberID: m.ID, GroupID: g.ID,
		Type: models.ContributionHisa, Amount: decimal.NewFromInt(5000), Date: time.Now().UTC(),
	}
	if err := s.CreateContribution(c); err != nil {
		t.Fatalf("CreateContribution failed: %v", err)
	}
	seedLoan(t, s, g.ID, m.ID, 100000, time.Now().UTC().AddDate(0, 0, 30))

	n, err = s.MemberRecordCount(g.ID, m.ID)
	if err != nil {
		t.Fatalf("MemberRecordCount failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 records, got %d", n)
	}
}

func TestReplaceLoanRules_SwapsAtomically(t *testing.T) {
	s := newTestStore(t)
	g, _ := seedGroup(t, s)

	first := []*models.LoanRule{
		{ID: uuid.New(), GroupID: g.ID, MinPrincipal: decimal.Zero, MaxPrincipal: decimal.NewFromInt(100000), Days: 30},
		{ID: uuid.New(), GroupID: g.ID, MinPrincipal: decimal.NewFromInt(100000), MaxPrincipal: decimal.NewFromInt(500000), Days: 90},
	}
	if err := s.ReplaceLoanRules(g.ID, first); err != nil {
		t.Fatalf("ReplaceLoanRules failed: %v", err)
	}

	second := []*models.LoanRule{
		{ID: uuid.New(), GroupID: g.ID, MinPrincipal: decimal.Zero, MaxPrincipal: decimal.NewFromInt(1000000), Days: 60},
	}
	if err := s.ReplaceLoanRules(g.ID, second); err != nil {
		t.Fatalf("ReplaceLoanRules failed on swap: %v", err)
	}

	rules, err := s.ListLoanRules(g.ID)
	if err != nil {
		t.Fatalf("ListLoanRules failed: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("Expected 1 rule after swap, got %d", len(rules))
	}
	if rules[0].Days != 60 {
		t.Errorf("Expected 60 days, got %d", rules[0].Days)
	}
}

func TestLatestOpenLoan_SkipsCleared(t *testing.T) {
	s := newTestStore(t)
	g, _ := seedGroup(t, s)
	m := seedMember(t, s, g.ID, "Neema")

	old := seedLoan(t, s, g.ID, m.ID, 100000, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	recent := seedLoan(t, s, g.ID, m.ID, 200000, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))

	got, err := s.LatestOpenLoan(g.ID, m.ID)
	if err != nil {
		t.Fatalf("LatestOpenLoan failed: %v", err)
	}
	if got.ID != recent.ID {
		t.Errorf("Expected the most recent loan, got %s", got.ID)
	}

	if err := s.UpdateLoanStatus(g.ID, recent.ID, models.LoanStatusCleared); err != nil {
		t.Fatalf("UpdateLoanStatus failed: %v", err)
	}
	got, err = s.LatestOpenLoan(g.ID, m.ID)
	if err != nil {
		t.Fatalf("LatestOpenLoan failed: %v", err)
	}
	if got.ID != old.ID {
		t.Errorf("Expected the older open loan, got %s", got.ID)
	}

	if err := s.UpdateLoanStatus(g.ID, old.ID, models.LoanStatusCleared); err != nil {
		t.Fatalf("UpdateLoanStatus failed: %v", err)
	}
	if _, err := s.LatestOpenLoan(g.ID, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound with all loans cleared, got %v", err)
	}
}

func TestOverdueCandidates(t *testing.T) {
	s := newTestStore(t)
	g, _ := seedGroup(t, s)
	m := seedMember(t, s, g.ID, "Baraka")

	today := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	past := seedLoan(t, s, g.ID, m.ID, 100000, today.AddDate(0, 0, -10))
	seedLoan(t, s, g.ID, m.ID, 200000, today.AddDate(0, 0, 10))
	seedLoan(t, s, g.ID, m.ID, 300000, today)

	candidates, err := s.OverdueCandidates(g.ID, today)
	if err != nil {
		t.Fatalf("OverdueCandidates failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("Expected 1 overdue candidate, got %d", len(candidates))
	}
	if candidates[0].ID != past.ID {
		t.Errorf("Expected the past-due loan, got %s", candidates[0].ID)
	}

	// due today is not overdue; cleared loans never qualify
	if err := s.UpdateLoanStatus(g.ID, past.ID, models.LoanStatusCleared); err != nil {
		t.Fatalf("UpdateLoanStatus failed: %v", err)
	}
	candidates, err = s.OverdueCandidates(g.ID, today)
	if err != nil {
		t.Fatalf("OverdueCandidates failed: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("Expected no candidates, got %d", len(candidates))
	}
}

func TestRepaidTotal_ExactDecimalSum(t *testing.T) {
	s := newTestStore(t)
	g, _ := seedGroup(t, s)
	m := seedMember(t, s, g.ID, "Zawadi")
	l := seedLoan(t, s, g.ID, m.ID, 100000, time.Now().UTC().AddDate(0, 0, 30))

	for _, amt := range []string{"10000.10", "20000.20", "0.03"} {
		r := &models.Repayment{
			ID: uuid.New(), LoanID: l.ID, GroupID: g.ID,
			Amount: decimal.RequireFromString(amt), Date: time.Now().UTC(),
		}
		if err := s.CreateRepayment(r); err != nil {
			t.Fatalf("CreateRepayment failed: %v", err)
		}
	}

	total, err := s.RepaidTotal(g.ID, l.ID)
	if err != nil {
		t.Fatalf("RepaidTotal failed: %v", err)
	}
	if !total.Equal(decimal.RequireFromString("30000.33")) {
		t.Errorf("Expected 30000.33, got %s", total)
	}
}

func TestSumContributions_ExcludesMember(t *testing.T) {
	s := newTestStore(t)
	g, system := seedGroup(t, s)
	m := seedMember(t, s, g.ID, "Fatma")

	add := func(memberID uuid.UUID, typ models.ContributionType, amount int64) {
		c := &models.Contribution{
			ID: uuid.New(), MemberID: memberID, GroupID: g.ID,
			Type: typ, Amount: decimal.NewFromInt(amount), Date: time.Now().UTC(),
		}
		if err := s.CreateContribution(c); err != nil {
			t.Fatalf("CreateContribution failed: %v", err)
		}
	}
	add(m.ID, models.ContributionHisa, 50000)
	add(system.ID, models.ContributionHisa, 99999)
	add(m.ID, models.ContributionJamii, 2000)

	total, err := s.SumContributions(g.ID, models.ContributionHisa, &system.ID)
	if err != nil {
		t.Fatalf("SumContributions failed: %v", err)
	}
	if !total.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("Expected 50000 excluding system member, got %s", total)
	}

	total, err = s.SumContributions(g.ID, models.ContributionHisa, nil)
	if err != nil {
		t.Fatalf("SumContributions failed: %v", err)
	}
	if !total.Equal(decimal.NewFromInt(149999)) {
		t.Errorf("Expected 149999 without exclusion, got %s", total)
	}

	totals, err := s.MemberContributionTotals(g.ID, m.ID)
	if err != nil {
		t.Fatalf("MemberContributionTotals failed: %v", err)
	}
	if !totals[models.ContributionHisa].Equal(decimal.NewFromInt(50000)) {
		t.Errorf("Expected hisa total 50000, got %s", totals[models.ContributionHisa])
	}
	if !totals[models.ContributionJamii].Equal(decimal.NewFromInt(2000)) {
		t.Errorf("Expected jamii total 2000, got %s", totals[models.ContributionJamii])
	}
}

func TestInsertLatePenalty_OncePerLoan(t *testing.T) {
	s := newTestStore(t)
	g, _ := seedGroup(t, s)
	m := seedMember(t, s, g.ID, "Rehema")
	l := seedLoan(t, s, g.ID, m.ID, 100000, time.Now().UTC().AddDate(0, 0, -5))

	p := &models.Penalty{
		ID: uuid.New(), MemberID: m.ID, GroupID: g.ID, LoanID: &l.ID,
		Type: models.PenaltyTypeLoanLate, Amount: decimal.NewFromInt(5000),
		AmountPaid: decimal.Zero, Description: "Loan overdue by 5 days", Date: time.Now().UTC(),
	}
	if err := s.InsertLatePenalty(p); err != nil {
		t.Fatalf("InsertLatePenalty failed: %v", err)
	}

	// second insert for the same loan is a no-op
	dup := *p
	dup.ID = uuid.New()
	dup.Amount = decimal.NewFromInt(99999)
	if err := s.InsertLatePenalty(&dup); err != nil {
		t.Fatalf("InsertLatePenalty failed on duplicate: %v", err)
	}

	penalties, err := s.ListPenalties(g.ID)
	if err != nil {
		t.Fatalf("ListPenalties failed: %v", err)
	}
	if len(penalties) != 1 {
		t.Fatalf("Expected 1 penalty, got %d", len(penalties))
	}
	if !penalties[0].Amount.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("Expected the first penalty amount frozen, got %s", penalties[0].Amount)
	}

	loan, err := s.GetLoan(g.ID, l.ID)
	if err != nil {
		t.Fatalf("GetLoan failed: %v", err)
	}
	if loan.Status != models.LoanStatusOverdue {
		t.Errorf("Expected loan marked Overdue, got %s", loan.Status)
	}

	has, err := s.HasLoanLatePenalty(g.ID, l.ID)
	if err != nil {
		t.Fatalf("HasLoanLatePenalty failed: %v", err)
	}
	if !has {
		t.Errorf("Expected HasLoanLatePenalty true")
	}
}

func TestApplyPenaltyPayment_WritesBothRecords(t *testing.T) {
	s := newTestStore(t)
	g, _ := seedGroup(t, s)
	m := seedMember(t, s, g.ID, "Halima")

	p := &models.Penalty{
		ID: uuid.New(), MemberID: m.ID, GroupID: g.ID,
		Type: models.PenaltyTypeManual, Amount: decimal.NewFromInt(5000),
		AmountPaid: decimal.Zero, Description: "Missed meeting", Date: time.Now().UTC(),
	}
	if err := s.CreatePenalty(p); err != nil {
		t.Fatalf("CreatePenalty failed: %v", err)
	}

	c := &models.Contribution{
		ID: uuid.New(), MemberID: m.ID, GroupID: g.ID,
		Type: models.ContributionPenaltyPayment, Amount: decimal.NewFromInt(2000), Date: time.Now().UTC(),
	}
	if err := s.ApplyPenaltyPayment(g.ID, p.ID, decimal.NewFromInt(2000), c); err != nil {
		t.Fatalf("ApplyPenaltyPayment failed: %v", err)
	}

	got, err := s.GetPenalty(g.ID, p.ID)
	if err != nil {
		t.Fatalf("GetPenalty failed: %v", err)
	}
	if !got.AmountPaid.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("Expected amount_paid 2000, got %s", got.AmountPaid)
	}
	if !got.Outstanding().Equal(decimal.NewFromInt(3000)) {
		t.Errorf("Expected outstanding 3000, got %s", got.Outstanding())
	}

	paid, err := s.SumMemberContributions(g.ID, m.ID, models.ContributionPenaltyPayment)
	if err != nil {
		t.Fatalf("SumMemberContributions failed: %v", err)
	}
	if !paid.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("Expected penalty_payment contribution 2000, got %s", paid)
	}

	// unknown penalty leaves no contribution behind
	orphan := &models.Contribution{
		ID: uuid.New(), MemberID: m.ID, GroupID: g.ID,
		Type: models.ContributionPenaltyPayment, Amount: decimal.NewFromInt(999), Date: time.Now().UTC(),
	}
	if err := s.ApplyPenaltyPayment(g.ID, uuid.New(), decimal.NewFromInt(999), orphan); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for unknown penalty, got %v", err)
	}
	paid, err = s.SumMemberContributions(g.ID, m.ID, models.ContributionPenaltyPayment)
	if err != nil {
		t.Fatalf("SumMemberContributions failed: %v", err)
	}
	if !paid.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("Expected rollback to keep total at 2000, got %s", paid)
	}
}

func TestPenaltyTotals(t *testing.T) {
	s := newTestStore(t)
	g, _ := seedGroup(t, s)
	m := seedMember(t, s, g.ID, "Amina")

	for _, amt := range []int64{5000, 3000} {
		p := &models.Penalty{
			ID: uuid.New(), MemberID: m.ID, GroupID: g.ID,
			Type: models.PenaltyTypeManual, Amount: decimal.NewFromInt(amt),
			AmountPaid: decimal.NewFromInt(1000), Date: time.Now().UTC(),
		}
		if err := s.CreatePenalty(p); err != nil {
			t.Fatalf("CreatePenalty failed: %v", err)
		}
	}

	imposed, paid, err := s.PenaltyTotals(g.ID)
	if err != nil {
		t.Fatalf("PenaltyTotals failed: %v", err)
	}
	if !imposed.Equal(decimal.NewFromInt(8000)) {
		t.Errorf("Expected imposed 8000, got %s", imposed)
	}
	if !paid.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("Expected paid 2000, got %s", paid)
	}

	outstanding, err := s.MemberPenaltyOutstanding(g.ID, m.ID)
	if err != nil {
		t.Fatalf("MemberPenaltyOutstanding failed: %v", err)
	}
	if !outstanding.Equal(decimal.NewFromInt(6000)) {
		t.Errorf("Expected outstanding 6000, got %s", outstanding)
	}
}

func TestLoanAggregates(t *testing.T) {
	s := newTestStore(t)
	g, _ := seedGroup(t, s)
	m := seedMember(t, s, g.ID, "Salma")

	seedLoan(t, s, g.ID, m.ID, 100000, time.Now().UTC().AddDate(0, 0, 30))
	seedLoan(t, s, g.ID, m.ID, 200000, time.Now().UTC().AddDate(0, 0, 60))

	interest, err := s.TotalLoanInterest(g.ID)
	if err != nil {
		t.Fatalf("TotalLoanInterest failed: %v", err)
	}
	if !interest.Equal(decimal.NewFromInt(30000)) {
		t.Errorf("Expected total interest 30000, got %s", interest)
	}

	principal, err := s.TotalPrincipal(g.ID)
	if err != nil {
		t.Fatalf("TotalPrincipal failed: %v", err)
	}
	if !principal.Equal(decimal.NewFromInt(300000)) {
		t.Errorf("Expected total principal 300000, got %s", principal)
	}
}
