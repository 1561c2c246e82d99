package settings

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// fakeStore is an in-memory settings store for resolver tests.
type fakeStore struct {
	pairs map[string]string
	loads int
}

func newFakeStore(pairs map[string]string) *fakeStore {
	if pairs == nil {
		pairs = map[string]string{}
	}
	return &fakeStore{pairs: pairs}
}

func (f *fakeStore) SettingsFor(groupID uuid.UUID) (map[string]string, error) {
	f.loads++
	out := make(map[string]string, len(f.pairs))
	for k, v := range f.pairs {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) UpsertSetting(groupID uuid.UUID, key, value string) error {
	f.pairs[key] = value
	return nil
}

func TestLoad_EmptyStoreReturnsDefaults(t *testing.T) {
	r := NewResolver(newFakeStore(nil))

	s, err := r.Load(uuid.New())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !s.InterestRate.Equal(decimal.RequireFromString("0.10")) {
		t.Errorf("Expected default interest rate 0.10, got %s", s.InterestRate)
	}
	if !s.DailyPenalty.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Expected default daily penalty 1000, got %s", s.DailyPenalty)
	}
	if s.JamiiFrequency != FrequencyMonthly {
		t.Errorf("Expected monthly jamii frequency, got %s", s.JamiiFrequency)
	}
	if !s.CycleStart.IsZero() || !s.CycleEnd.IsZero() {
		t.Errorf("Expected unset cycle dates, got %s / %s", s.CycleStart, s.CycleEnd)
	}
	if !s.Tiers[1].Ceiling.Equal(decimal.NewFromInt(1000000)) || s.Tiers[1].Months != 3 {
		t.Errorf("Expected default tier 2 (1000000 -> 3 months), got %s -> %d", s.Tiers[1].Ceiling, s.Tiers[1].Months)
	}
}

func TestLoad_StoredValuesOverlayDefaults(t *testing.T) {
	r := NewResolver(newFakeStore(map[string]string{
		KeyInterestRate:     "0.12",
		KeyJamiiFrequency:   "weekly",
		KeyCycleStart:       "2026-01-01",
		"loan_tier1_amount": "300000",
		"loan_tier1_months": "2",
	}))

	s, err := r.Load(uuid.New())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !s.InterestRate.Equal(decimal.RequireFromString("0.12")) {
		t.Errorf("Expected interest rate 0.12, got %s", s.InterestRate)
	}
	if s.JamiiFrequency != FrequencyWeekly {
		t.Errorf("Expected weekly frequency, got %s", s.JamiiFrequency)
	}
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !s.CycleStart.Equal(want) {
		t.Errorf("Expected cycle start %s, got %s", want, s.CycleStart)
	}
	if !s.Tiers[0].Ceiling.Equal(decimal.NewFromInt(300000)) || s.Tiers[0].Months != 2 {
		t.Errorf("Expected tier 1 (300000 -> 2 months), got %s -> %d", s.Tiers[0].Ceiling, s.Tiers[0].Months)
	}
	// untouched tiers keep their defaults
	if !s.Tiers[3].Ceiling.Equal(decimal.NewFromInt(5000000)) {
		t.Errorf("Expected default tier 4 ceiling, got %s", s.Tiers[3].Ceiling)
	}
}

func TestLoad_UnparseableValuesFallBack(t *testing.T) {
	r := NewResolver(newFakeStore(map[string]string{
		KeyInterestRate:     "not-a-number",
		KeyCycleEnd:         "31/12/2026",
		KeyJamiiFrequency:   "fortnightly",
		"loan_tier2_months": "3.5",
	}))

	s, err := r.Load(uuid.New())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !s.InterestRate.Equal(decimal.RequireFromString("0.10")) {
		t.Errorf("Expected default interest rate, got %s", s.InterestRate)
	}
	if !s.CycleEnd.IsZero() {
		t.Errorf("Expected unset cycle end, got %s", s.CycleEnd)
	}
	if s.JamiiFrequency != FrequencyMonthly {
		t.Errorf("Expected default frequency, got %s", s.JamiiFrequency)
	}
	if s.Tiers[1].Months != 3 {
		t.Errorf("Expected default tier 2 months, got %d", s.Tiers[1].Months)
	}
}

func TestLoad_UnknownKeysKeptInRaw(t *testing.T) {
	r := NewResolver(newFakeStore(map[string]string{
		"meeting_day": "saturday",
	}))

	s, err := r.Load(uuid.New())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Raw["meeting_day"] != "saturday" {
		t.Errorf("Expected unknown key preserved in Raw, got %q", s.Raw["meeting_day"])
	}
}

func TestSet_InvalidatesCache(t *testing.T) {
	fs := newFakeStore(nil)
	r := NewResolver(fs)
	gid := uuid.New()

	if _, err := r.Load(gid); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := r.Load(gid); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if fs.loads != 1 {
		t.Errorf("Expected 1 store read with warm cache, got %d", fs.loads)
	}

	if err := r.Set(gid, KeyInterestRate, "0.20"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s, err := r.Load(gid)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if fs.loads != 2 {
		t.Errorf("Expected store re-read after Set, got %d reads", fs.loads)
	}
	if !s.InterestRate.Equal(decimal.RequireFromString("0.20")) {
		t.Errorf("Expected interest rate 0.20 after Set, got %s", s.InterestRate)
	}
}

func TestSet_CachesAreScopedPerGroup(t *testing.T) {
	fs := newFakeStore(nil)
	r := NewResolver(fs)
	a, b := uuid.New(), uuid.New()

	if _, err := r.Load(a); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := r.Load(b); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if fs.loads != 2 {
		t.Errorf("Expected separate cache entries per group, got %d reads", fs.loads)
	}
}
