package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// resolveRate picks the rate for a member class from a rate table, falling
// back to the standard rate when the class has no explicit entry.
func resolveRate(rates map[MemberClass]decimal.Decimal, class MemberClass) (decimal.Decimal, error) {
	if r, ok := rates[class]; ok {
		if r.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: negative rate for %s", ErrRateNotConfigured, class)
		}
		return r, nil
	}
	if r, ok := rates[MemberStandard]; ok {
		if r.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: negative standard rate", ErrRateNotConfigured)
		}
		return r, nil
	}
	return decimal.Zero, fmt.Errorf("%w: no rate for %s and no standard fallback", ErrRateNotConfigured, class)
}

// BilledRate resolves the account's own rate for a member class.
func (a *Account) BilledRate(class MemberClass) (decimal.Decimal, error) {
	if a == nil {
		return decimal.Zero, ErrNotFound
	}
	rate, err := resolveRate(a.Rates, class)
	if err != nil {
		return decimal.Zero, fmt.Errorf("account %d: %w", a.ID, err)
	}
	return rate, nil
}

// CascadeRate resolves the rate this account charges for sessions cascaded
// to it by its children. Independent of the child's own billed rate.
func (a *Account) CascadeRate(class MemberClass) (decimal.Decimal, error) {
	if a == nil {
		return decimal.Zero, ErrNotFound
	}
	rate, err := resolveRate(a.CascadeRates, class)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cascade account %d: %w", a.ID, err)
	}
	return rate, nil
}
