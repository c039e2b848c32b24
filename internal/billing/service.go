package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sessionledger/sessionledger/internal/observability"
	"github.com/sessionledger/sessionledger/internal/shared"
)

// RepositoryPort defines data access methods for the billing engine.
type RepositoryPort interface {
	GetAccount(ctx context.Context, id int64) (*Account, error)

	CreateSessionInstance(ctx context.Context, input SessionInstanceInput) (*SessionInstance, error)
	GetSessionInstance(ctx context.Context, id int64) (*SessionInstance, error)
	UpdateSessionInstance(ctx context.Context, instance *SessionInstance) error
	DeleteSessionInstance(ctx context.Context, id int64) error
	ListSessionsByOwner(ctx context.Context, accountID int64, date time.Time) ([]SessionInstance, error)
	ListSessionsByCascade(ctx context.Context, cascadeAccountID int64, date time.Time) ([]SessionInstance, error)
	HasInstanceForTemplate(ctx context.Context, templateID int64, date time.Time) (bool, error)

	ListActiveTemplates(ctx context.Context, accountScope *int64) ([]RecurringTemplate, error)
	MarkTemplateMaterialized(ctx context.Context, templateID int64, date time.Time) error

	GetDailyDue(ctx context.Context, accountID int64, date time.Time) (*DailyDueEntry, error)
	// UpsertDailyDue fully replaces the ledger row and, when consumption is
	// non-nil, decrements the advance balance in the same transaction.
	UpsertDailyDue(ctx context.Context, entry DailyDueEntry, consumption *AdvanceConsumption) error
	DeleteDailyDue(ctx context.Context, accountID int64, date time.Time) error

	FindUsableAdvance(ctx context.Context, accountID int64, date time.Time) (*AdvancePayment, error)
	CreateAdvance(ctx context.Context, input AdvanceInput) (*AdvancePayment, error)
}

// Locker serializes recomputations per (account, date) key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// Service is the billing reconciliation engine.
type Service struct {
	repo    RepositoryPort
	locks   Locker
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// ServiceConfig collects optional Service dependencies.
type ServiceConfig struct {
	Locks   Locker
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	s := &Service{
		repo:    repo,
		locks:   cfg.Locks,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
	if s.locks == nil {
		s.locks = shared.NopLocker{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// dueKey identifies one ledger row.
type dueKey struct {
	accountID int64
	date      time.Time
}

// OnSessionInstanceChanged is the single entry event for session instance
// mutations. Pass previous=nil for creates and current=nil for deletes. It
// recomputes every affected (account, date) ledger row and the cascade rows
// keyed by the instances' snapshot cascade accounts. Advance consumption
// happens on any event whose current snapshot qualifies, including edits
// that grow an already-qualifying obligation; the amortization delta rule
// makes pure replays consume nothing. Reversals never consume.
func (s *Service) OnSessionInstanceChanged(ctx context.Context, previous, current *SessionInstance) error {
	if previous == nil && current == nil {
		return nil
	}

	forward := current.Qualifies()
	reversal := previous.Qualifies() && !current.Qualifies()
	dropMissing := reversal || current == nil

	owners := map[dueKey]bool{}
	cascades := map[dueKey]bool{}
	if previous != nil {
		owners[dueKey{previous.AccountID, DateOf(previous.Date)}] = false
		if previous.CascadeAccountID != nil {
			cascades[dueKey{*previous.CascadeAccountID, DateOf(previous.Date)}] = false
		}
	}
	if current != nil {
		k := dueKey{current.AccountID, DateOf(current.Date)}
		owners[k] = owners[k] || forward
		if current.CascadeAccountID != nil {
			ck := dueKey{*current.CascadeAccountID, DateOf(current.Date)}
			cascades[ck] = cascades[ck] || forward
		}
	}

	var errs []error
	for key, consume := range owners {
		if err := s.recomputeWithRetry(ctx, key, consume, false); err != nil {
			if dropMissing && errors.Is(err, ErrNotFound) {
				s.logger.Warn("dropping reversal for missing account",
					slog.Int64("account_id", key.accountID),
					slog.Time("date", key.date),
					slog.Any("error", ErrReversalInconsistency))
				continue
			}
			errs = append(errs, err)
		}
	}
	for key, consume := range cascades {
		if err := s.recomputeWithRetry(ctx, key, consume, true); err != nil {
			if dropMissing && errors.Is(err, ErrNotFound) {
				s.logger.Warn("dropping cascade reversal for missing account",
					slog.Int64("account_id", key.accountID),
					slog.Time("date", key.date),
					slog.Any("error", ErrReversalInconsistency))
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// recomputeWithRetry serializes the recomputation under the per-key lock and
// retries once on a lost race. The recomputation is re-entrant, so the retry
// re-runs it wholesale.
func (s *Service) recomputeWithRetry(ctx context.Context, key dueKey, consume, cascade bool) error {
	lockKey := shared.DueLockKey(key.accountID, key.date)
	return s.locks.WithLock(ctx, lockKey, func() error {
		err := s.recompute(ctx, key, consume, cascade)
		if errors.Is(err, ErrConcurrencyConflict) {
			err = s.recompute(ctx, key, consume, cascade)
		}
		return err
	})
}

func (s *Service) recompute(ctx context.Context, key dueKey, consume, cascade bool) error {
	if cascade {
		return s.recomputeCascadeDue(ctx, key.accountID, key.date, consume)
	}
	return s.recomputeDailyDue(ctx, key.accountID, key.date, consume)
}

// CreateSession persists a new ad hoc session instance and dispatches the
// change event. The cascade account is snapshotted from the owner's current
// parent so later hierarchy reassignment cannot rewrite history.
func (s *Service) CreateSession(ctx context.Context, input SessionInstanceInput) (*SessionInstance, error) {
	owner, err := s.repo.GetAccount(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}
	if input.MemberCount <= 0 {
		return nil, ErrInvalidAmount
	}
	input.Date = DateOf(input.Date)
	input.CascadeAccountID = owner.ParentID
	if input.Status == "" {
		input.Status = StatusActive
	}
	if input.MemberClass == "" {
		input.MemberClass = MemberStandard
	}
	created, err := s.repo.CreateSessionInstance(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := s.OnSessionInstanceChanged(ctx, nil, created); err != nil {
		return created, err
	}
	return created, nil
}

// UpdateSession persists an edited session instance and dispatches the
// change event with the pre-change snapshot.
func (s *Service) UpdateSession(ctx context.Context, updated *SessionInstance) (*SessionInstance, error) {
	previous, err := s.repo.GetSessionInstance(ctx, updated.ID)
	if err != nil {
		return nil, err
	}
	updated.AccountID = previous.AccountID
	updated.TemplateID = previous.TemplateID
	updated.CascadeAccountID = previous.CascadeAccountID
	updated.Date = DateOf(updated.Date)
	if err := s.repo.UpdateSessionInstance(ctx, updated); err != nil {
		return nil, err
	}
	if err := s.OnSessionInstanceChanged(ctx, previous, updated); err != nil {
		return updated, err
	}
	return updated, nil
}

// DeleteSession removes a session instance. Deletion is a first-class
// reversal: the ledger self-corrects from the remaining evidence.
func (s *Service) DeleteSession(ctx context.Context, id int64) error {
	previous, err := s.repo.GetSessionInstance(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSessionInstance(ctx, id); err != nil {
		return err
	}
	return s.OnSessionInstanceChanged(ctx, previous, nil)
}

// AttachEvidence marks a session attended with the given proof reference,
// generating one when the caller has none, and dispatches the change event.
func (s *Service) AttachEvidence(ctx context.Context, id int64, ref string) (*SessionInstance, error) {
	previous, err := s.repo.GetSessionInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if ref == "" {
		ref = uuid.NewString()
	}
	updated := *previous
	updated.Attended = true
	updated.EvidenceRef = ref
	if err := s.repo.UpdateSessionInstance(ctx, &updated); err != nil {
		return nil, err
	}
	if err := s.OnSessionInstanceChanged(ctx, previous, &updated); err != nil {
		return &updated, err
	}
	return &updated, nil
}

// GetSession returns one session instance.
func (s *Service) GetSession(ctx context.Context, id int64) (*SessionInstance, error) {
	return s.repo.GetSessionInstance(ctx, id)
}

// GetDailyDue returns the ledger row for an account and date, or ErrNotFound
// when no qualifying sessions produced one.
func (s *Service) GetDailyDue(ctx context.Context, accountID int64, date time.Time) (*DailyDueEntry, error) {
	return s.repo.GetDailyDue(ctx, accountID, DateOf(date))
}

// RecordAdvance stores a manually recorded prepaid balance. The engine only
// ever reads and decrements it afterwards.
func (s *Service) RecordAdvance(ctx context.Context, accountID int64, amount decimal.Decimal, effectiveFrom time.Time) (*AdvancePayment, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if _, err := s.repo.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repo.CreateAdvance(ctx, AdvanceInput{
		AccountID:     accountID,
		Amount:        amount,
		EffectiveFrom: DateOf(effectiveFrom),
	})
}
