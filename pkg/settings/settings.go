// Package settings resolves per-group configuration by overlaying stored
// key/value pairs onto compiled-in defaults. Missing or unparseable values
// always fall back to the default; loading never fails on absent keys.
package settings

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

type Frequency string

const (
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyOneTime Frequency = "one-time"
)

// Tier maps principals up to Ceiling to a repayment duration in months.
type Tier struct {
	Ceiling decimal.Decimal `json:"ceiling"`
	Months  int             `json:"months"`
}

// Settings is the typed per-group configuration. Zero CycleStart/CycleEnd
// mean "not configured".
type Settings struct {
	GroupName      string          `json:"group_name"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
	DailyPenalty   decimal.Decimal `json:"daily_penalty_amount"`
	LeadershipPay  decimal.Decimal `json:"leadership_pay_amount"`
	JamiiAmount    decimal.Decimal `json:"jamii_amount"`
	JamiiFrequency Frequency       `json:"jamii_frequency"`
	CycleStart     time.Time       `json:"cycle_start_date"`
	CycleEnd       time.Time       `json:"cycle_end_date"`
	HisaUnitPrice  decimal.Decimal `json:"hisa_unit_price"`
	Tiers          [4]Tier         `json:"loan_tiers"`

	// Raw holds every stored pair verbatim, including keys this package
	// does not interpret. Unknown keys on write are accepted and kept here.
	Raw map[string]string `json:"-"`
}

// Setting keys as stored in the settings table.
const (
	KeyGroupName      = "group_name"
	KeyInterestRate   = "interest_rate"
	KeyDailyPenalty   = "daily_penalty_amount"
	KeyLeadershipPay  = "leadership_pay_amount"
	KeyJamiiAmount    = "jamii_amount"
	KeyJamiiFrequency = "jamii_frequency"
	KeyCycleStart     = "cycle_start_date"
	KeyCycleEnd       = "cycle_end_date"
	KeyHisaUnitPrice  = "hisa_unit_price"
)

var tierAmountKeys = [4]string{"loan_tier1_amount", "loan_tier2_amount", "loan_tier3_amount", "loan_tier4_amount"}
var tierMonthKeys = [4]string{"loan_tier1_months", "loan_tier2_months", "loan_tier3_months", "loan_tier4_months"}

const DateLayout = "2006-01-02"

// Defaults returns the compiled-in default configuration.
func Defaults() *Settings {
	return &Settings{
		GroupName:      "Kikoba",
		InterestRate:   decimal.RequireFromString("0.10"),
		DailyPenalty:   decimal.NewFromInt(1000),
		LeadershipPay:  decimal.Zero,
		JamiiAmount:    decimal.NewFromInt(2000),
		JamiiFrequency: FrequencyMonthly,
		HisaUnitPrice:  decimal.NewFromInt(5000),
		Tiers: [4]Tier{
			{Ceiling: decimal.NewFromInt(500000), Months: 1},
			{Ceiling: decimal.NewFromInt(1000000), Months: 3},
			{Ceiling: decimal.NewFromInt(2000000), Months: 6},
			{Ceiling: decimal.NewFromInt(5000000), Months: 9},
		},
		Raw: map[string]string{},
	}
}

// SeedPairs are the rows written for a newly created group, mirroring the
// defaults so the stored configuration is visible and editable from day one.
func SeedPairs(groupName string) map[string]string {
	return map[string]string{
		KeyGroupName:      groupName,
		KeyInterestRate:   "0.10",
		KeyDailyPenalty:   "1000",
		KeyLeadershipPay:  "0",
		KeyJamiiAmount:    "2000",
		KeyJamiiFrequency: string(FrequencyMonthly),
		KeyCycleStart:     "",
		KeyCycleEnd:       "",
		KeyHisaUnitPrice:  "5000",
	}
}

// Store is the slice of the persistence layer the resolver needs.
type Store interface {
	SettingsFor(groupID uuid.UUID) (map[string]string, error)
	UpsertSetting(groupID uuid.UUID, key, value string) error
}

// Resolver loads typed settings per group. Loads are cached; Set invalidates
// the group's cache entry so the next load observes the new value.
type Resolver struct {
	store Store
	cache *cache.Cache
}

func NewResolver(s Store) *Resolver {
	return &Resolver{
		store: s,
		cache: cache.New(5*time.Minute, 10*time.Minute),
	}
}

// Load overlays the group's stored pairs onto the defaults. Values that do
// not parse are logged and ignored, keeping the default.
func (r *Resolver) Load(groupID uuid.UUID) (*Settings, error) {
	if v, ok := r.cache.Get(groupID.String()); ok {
		return v.(*Settings), nil
	}

	stored, err := r.store.SettingsFor(groupID)
	if err != nil {
		return nil, err
	}

	s := Defaults()
	s.Raw = stored

	if v, ok := stored[KeyGroupName]; ok && v != "" {
		s.GroupName = v
	}
	overlayDecimal(&s.InterestRate, stored, KeyInterestRate)
	overlayDecimal(&s.DailyPenalty, stored, KeyDailyPenalty)
	overlayDecimal(&s.LeadershipPay, stored, KeyLeadershipPay)
	overlayDecimal(&s.JamiiAmount, stored, KeyJamiiAmount)
	overlayDecimal(&s.HisaUnitPrice, stored, KeyHisaUnitPrice)
	if v, ok := stored[KeyJamiiFrequency]; ok {
		switch Frequency(v) {
		case FrequencyWeekly, FrequencyMonthly, FrequencyOneTime:
			s.JamiiFrequency = Frequency(v)
		}
	}
	overlayDate(&s.CycleStart, stored, KeyCycleStart)
	overlayDate(&s.CycleEnd, stored, KeyCycleEnd)
	for i := range s.Tiers {
		overlayDecimal(&s.Tiers[i].Ceiling, stored, tierAmountKeys[i])
		overlayInt(&s.Tiers[i].Months, stored, tierMonthKeys[i])
	}

	r.cache.Set(groupID.String(), s, cache.DefaultExpiration)
	return s, nil
}

// Set upserts one pair. Unknown keys are stored without validation.
func (r *Resolver) Set(groupID uuid.UUID, key, value string) error {
	if err := r.store.UpsertSetting(groupID, key, value); err != nil {
		return err
	}
	r.cache.Delete(groupID.String())
	return nil
}

func overlayDecimal(dst *decimal.Decimal, stored map[string]string, key string) {
	v, ok := stored[key]
	if !ok || v == "" {
		return
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		slog.Warn("unparseable numeric setting, using default", "key", key, "value", v)
		return
	}
	*dst = d
}

func overlayInt(dst *int, stored map[string]string, key string) {
	v, ok := stored[key]
	if !ok || v == "" {
		return
	}
	d, err := decimal.NewFromString(v)
	if err != nil || !d.IsInteger() {
		slog.Warn("unparseable integer setting, using default", "key", key, "value", v)
		return
	}
	*dst = int(d.IntPart())
}

func overlayDate(dst *time.Time, stored map[string]string, key string) {
	v, ok := stored[key]
	if !ok || v == "" {
		return
	}
	t, err := time.Parse(DateLayout, v)
	if err != nil {
		slog.Warn("unparseable date setting, ignoring", "key", key, "value", v)
		return
	}
	*dst = t
}
