package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// recomputeDailyDue rebuilds the (account, date) ledger row from every
// qualifying session the account owns on that date. Always a full
// replacement, never an incremental patch, so re-running it is safe.
func (s *Service) recomputeDailyDue(ctx context.Context, accountID int64, date time.Time, consume bool) error {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}

	sessions, err := s.repo.ListSessionsByOwner(ctx, accountID, date)
	if err != nil {
		return err
	}

	gross := decimal.Zero
	count := 0
	var rateErrs []error
	for i := range sessions {
		sess := &sessions[i]
		if !sess.Qualifies() {
			continue
		}
		rate, err := account.BilledRate(sess.MemberClass)
		if err != nil {
			// Missing rates block this session only; siblings still bill.
			rateErrs = append(rateErrs, fmt.Errorf("session %d: %w", sess.ID, err))
			continue
		}
		gross = gross.Add(rate.Mul(decimal.NewFromInt(int64(sess.MemberCount))))
		count++
	}

	if err := s.writeDailyDue(ctx, accountID, date, gross, count, consume); err != nil {
		rateErrs = append(rateErrs, err)
	}
	return errors.Join(rateErrs...)
}

// recomputeCascadeDue rebuilds the parent's cascaded ledger row from every
// session that cascades to it on that date, rated with the parent's own
// cascade rates. The parent's margin is never derived by subtracting the
// children's billed amounts.
func (s *Service) recomputeCascadeDue(ctx context.Context, parentID int64, date time.Time, consume bool) error {
	parent, err := s.repo.GetAccount(ctx, parentID)
	if err != nil {
		return err
	}

	sessions, err := s.repo.ListSessionsByCascade(ctx, parentID, date)
	if err != nil {
		return err
	}

	gross := decimal.Zero
	count := 0
	var rateErrs []error
	for i := range sessions {
		sess := &sessions[i]
		if !sess.Qualifies() {
			continue
		}
		rate, err := parent.CascadeRate(sess.MemberClass)
		if err != nil {
			rateErrs = append(rateErrs, fmt.Errorf("session %d: %w", sess.ID, err))
			continue
		}
		gross = gross.Add(rate.Mul(decimal.NewFromInt(int64(sess.MemberCount))))
		count++
	}

	if err := s.writeDailyDue(ctx, parentID, date, gross, count, consume); err != nil {
		rateErrs = append(rateErrs, err)
	}
	return errors.Join(rateErrs...)
}

// writeDailyDue is the shared write step: amortize, then delete-on-zero or
// upsert the fully recomputed row.
func (s *Service) writeDailyDue(ctx context.Context, accountID int64, date time.Time, gross decimal.Decimal, count int, consume bool) error {
	if count == 0 || !gross.IsPositive() {
		if err := s.repo.DeleteDailyDue(ctx, accountID, date); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		s.metrics.ObserveRecompute()
		return nil
	}

	amortized, consumption, err := s.amortizeAdvance(ctx, accountID, date, gross, consume)
	if err != nil {
		return err
	}

	entry := DailyDueEntry{
		AccountID:        accountID,
		Date:             date,
		Gross:            gross,
		AdvanceAmortized: amortized,
		Net:              gross.Sub(amortized),
		SessionCount:     count,
		UpdatedAt:        s.now(),
	}
	if err := s.repo.UpsertDailyDue(ctx, entry, consumption); err != nil {
		return err
	}
	if consumption != nil {
		s.metrics.AddAdvanceAmortized(consumption.Amount.InexactFloat64())
	}
	s.metrics.ObserveRecompute()
	s.logger.Debug("daily due recomputed",
		slog.Int64("account_id", accountID),
		slog.Time("date", date),
		slog.String("gross", gross.String()),
		slog.String("net", entry.Net.String()),
		slog.Int("sessions", count))
	return nil
}
