package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// MemberClass classifies session members for rate lookup.
type MemberClass string

const (
	MemberStandard MemberClass = "standard"
	MemberForeign  MemberClass = "foreign"
	MemberPremium  MemberClass = "premium"
)

// InstanceStatus enumerates session instance lifecycle states.
type InstanceStatus string

const (
	StatusActive             InstanceStatus = "active"
	StatusCancelled          InstanceStatus = "cancelled"
	StatusInvalidCredentials InstanceStatus = "invalid_credentials"
	StatusNotLive            InstanceStatus = "not_live"
)

// Account is the billing view of a participant: its rate configuration and
// its position in the cascade hierarchy. Hierarchy writes live in the
// accounts module; the engine only reads.
type Account struct {
	ID           int64
	Name         string
	ParentID     *int64
	Rates        map[MemberClass]decimal.Decimal
	CascadeRates map[MemberClass]decimal.Decimal
}

// Weekdays is a seven-bit set over time.Weekday. The zero value selects
// every day, which preserves templates created before weekday selection
// existed.
type Weekdays uint8

// NewWeekdays builds a set from explicit weekdays.
func NewWeekdays(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w |= 1 << uint(d)
	}
	return w
}

// WeekdaysFromInts validates and converts 0..6 values (Sunday = 0).
func WeekdaysFromInts(days []int) (Weekdays, error) {
	var w Weekdays
	for _, d := range days {
		if d < 0 || d > 6 {
			return 0, ErrInvalidWeekday
		}
		w |= 1 << uint(d)
	}
	return w, nil
}

// Includes reports whether the set selects the given weekday.
func (w Weekdays) Includes(d time.Weekday) bool {
	if w == 0 {
		return true
	}
	return w&(1<<uint(d)) != 0
}

// Ints returns the selected weekdays as 0..6 values.
func (w Weekdays) Ints() []int {
	var out []int
	for d := 0; d < 7; d++ {
		if w&(1<<uint(d)) != 0 {
			out = append(out, d)
		}
	}
	return out
}

// RecurringTemplate is a reusable session definition owned by one account.
type RecurringTemplate struct {
	ID               int64
	AccountID        int64
	Name             string
	MeetingID        string
	Passcode         string
	StartTime        string
	MemberCount      int
	MemberClass      MemberClass
	Weekdays         Weekdays
	Active           bool
	LastMaterialized *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SessionInstance is one concrete dated occurrence.
type SessionInstance struct {
	ID               int64
	AccountID        int64
	TemplateID       *int64
	CascadeAccountID *int64
	Date             time.Time
	MemberCount      int
	MemberClass      MemberClass
	Attended         bool
	EvidenceRef      string
	Status           InstanceStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Qualifies reports whether the instance counts toward billing: attendance
// confirmed, backed by evidence, and not cancelled or credential-broken.
// Evaluated fresh on every recomputation, never cached.
func (s *SessionInstance) Qualifies() bool {
	if s == nil {
		return false
	}
	if !s.Attended || s.EvidenceRef == "" {
		return false
	}
	return s.Status != StatusCancelled && s.Status != StatusInvalidCredentials
}

// SessionInstanceInput carries fields for creating a session instance.
type SessionInstanceInput struct {
	AccountID        int64
	TemplateID       *int64
	CascadeAccountID *int64
	Date             time.Time
	MemberCount      int
	MemberClass      MemberClass
	Attended         bool
	EvidenceRef      string
	Status           InstanceStatus
}

// DailyDueEntry is the authoritative ledger row for one (account, date).
// It is always a full recomputation product.
type DailyDueEntry struct {
	AccountID        int64
	Date             time.Time
	Gross            decimal.Decimal
	AdvanceAmortized decimal.Decimal
	Net              decimal.Decimal
	SessionCount     int
	UpdatedAt        time.Time
}

// AdvancePayment is a manually recorded prepaid balance. Remaining only ever
// decreases; reversals never restore consumed advance.
type AdvancePayment struct {
	ID            int64
	AccountID     int64
	Remaining     decimal.Decimal
	EffectiveFrom time.Time
	Active        bool
	CreatedAt     time.Time
}

// AdvanceInput carries fields for recording an advance payment.
type AdvanceInput struct {
	AccountID     int64
	Amount        decimal.Decimal
	EffectiveFrom time.Time
}

// DateOf normalizes a timestamp to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDate reports whether two timestamps fall on the same UTC calendar date.
func SameDate(a, b time.Time) bool {
	return DateOf(a).Equal(DateOf(b))
}
