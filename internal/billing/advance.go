package billing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// AdvanceConsumption is a planned decrement of one advance's remaining
// balance, committed atomically with the ledger upsert.
type AdvanceConsumption struct {
	AdvanceID int64
	Amount    decimal.Decimal
}

// amortizeAdvance determines how much of a freshly computed gross is covered
// by the account's prepaid balance. The advance is a consumable resource:
// only an event whose current snapshot qualifies consumes it, and then only
// by the delta the current ledger row has not amortized yet, so a replay
// that changes nothing consumes nothing. Reversals keep whatever was
// amortized before, capped at the new gross, and never credit the advance
// back.
func (s *Service) amortizeAdvance(ctx context.Context, accountID int64, date time.Time, gross decimal.Decimal, consume bool) (decimal.Decimal, *AdvanceConsumption, error) {
	already := decimal.Zero
	existing, err := s.repo.GetDailyDue(ctx, accountID, date)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return decimal.Zero, nil, err
	}
	if existing != nil {
		already = decimal.Min(existing.AdvanceAmortized, gross)
	}

	if !consume {
		return already, nil, nil
	}

	advance, err := s.repo.FindUsableAdvance(ctx, accountID, date)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return already, nil, nil
		}
		return decimal.Zero, nil, err
	}
	if advance == nil || !advance.Remaining.IsPositive() {
		return already, nil, nil
	}

	delta := decimal.Min(advance.Remaining, gross.Sub(already))
	if !delta.IsPositive() {
		return already, nil, nil
	}
	return already.Add(delta), &AdvanceConsumption{AdvanceID: advance.ID, Amount: delta}, nil
}
