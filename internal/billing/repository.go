package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sessionledger/sessionledger/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the billing engine.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uniqueViolation = "23505"

// GetAccount loads an account with its billed and cascade rate tables.
func (r *Repository) GetAccount(ctx context.Context, id int64) (*Account, error) {
	var account Account
	var parentID pgtype.Int8
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, parent_id FROM accounts WHERE id = $1`, id,
	).Scan(&account.ID, &account.Name, &parentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		account.ParentID = &parentID.Int64
	}

	rows, err := r.pool.Query(ctx,
		`SELECT member_class, kind, rate FROM account_rates WHERE account_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	account.Rates = map[MemberClass]decimal.Decimal{}
	account.CascadeRates = map[MemberClass]decimal.Decimal{}
	for rows.Next() {
		var class, kind string
		var rate decimal.Decimal
		if err := rows.Scan(&class, &kind, &rate); err != nil {
			return nil, err
		}
		switch kind {
		case "cascade":
			account.CascadeRates[MemberClass(class)] = rate
		default:
			account.Rates[MemberClass(class)] = rate
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &account, nil
}

// CreateSessionInstance inserts one session instance.
func (r *Repository) CreateSessionInstance(ctx context.Context, input SessionInstanceInput) (*SessionInstance, error) {
	var templateID, cascadeID pgtype.Int8
	if input.TemplateID != nil {
		templateID = pgtype.Int8{Int64: *input.TemplateID, Valid: true}
	}
	if input.CascadeAccountID != nil {
		cascadeID = pgtype.Int8{Int64: *input.CascadeAccountID, Valid: true}
	}

	instance := SessionInstance{
		AccountID:        input.AccountID,
		TemplateID:       input.TemplateID,
		CascadeAccountID: input.CascadeAccountID,
		Date:             DateOf(input.Date),
		MemberCount:      input.MemberCount,
		MemberClass:      input.MemberClass,
		Attended:         input.Attended,
		EvidenceRef:      input.EvidenceRef,
		Status:           input.Status,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO session_instances (
			account_id, template_id, cascade_account_id, session_date,
			member_count, member_class, attended, evidence_ref, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		input.AccountID, templateID, cascadeID, instance.Date,
		input.MemberCount, string(input.MemberClass), input.Attended,
		input.EvidenceRef, string(input.Status),
	).Scan(&instance.ID, &instance.CreatedAt, &instance.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateInstance
		}
		return nil, err
	}
	return &instance, nil
}

// GetSessionInstance loads one session instance.
func (r *Repository) GetSessionInstance(ctx context.Context, id int64) (*SessionInstance, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, account_id, template_id, cascade_account_id, session_date,
			member_count, member_class, attended, evidence_ref, status,
			created_at, updated_at
		FROM session_instances WHERE id = $1`, id)
	instance, err := scanSessionInstance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return instance, err
}

// UpdateSessionInstance persists attendance, evidence, status and schedule
// edits.
func (r *Repository) UpdateSessionInstance(ctx context.Context, instance *SessionInstance) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE session_instances
		SET session_date = $2, member_count = $3, member_class = $4,
			attended = $5, evidence_ref = $6, status = $7, updated_at = NOW()
		WHERE id = $1`,
		instance.ID, DateOf(instance.Date), instance.MemberCount,
		string(instance.MemberClass), instance.Attended, instance.EvidenceRef,
		string(instance.Status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSessionInstance removes one session instance.
func (r *Repository) DeleteSessionInstance(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM session_instances WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessionsByOwner returns the account's sessions on a date.
func (r *Repository) ListSessionsByOwner(ctx context.Context, accountID int64, date time.Time) ([]SessionInstance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, template_id, cascade_account_id, session_date,
			member_count, member_class, attended, evidence_ref, status,
			created_at, updated_at
		FROM session_instances
		WHERE account_id = $1 AND session_date = $2
		ORDER BY id`, accountID, DateOf(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessionInstances(rows)
}

// ListSessionsByCascade returns every session cascading to the given parent
// on a date, across all of its children.
func (r *Repository) ListSessionsByCascade(ctx context.Context, cascadeAccountID int64, date time.Time) ([]SessionInstance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, template_id, cascade_account_id, session_date,
			member_count, member_class, attended, evidence_ref, status,
			created_at, updated_at
		FROM session_instances
		WHERE cascade_account_id = $1 AND session_date = $2
		ORDER BY id`, cascadeAccountID, DateOf(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessionInstances(rows)
}

// HasInstanceForTemplate reports whether a non-cancelled instance exists for
// (template, date). This is the materializer's idempotency guard.
func (r *Repository) HasInstanceForTemplate(ctx context.Context, templateID int64, date time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM session_instances
			WHERE template_id = $1 AND session_date = $2 AND status <> 'cancelled'
		)`, templateID, DateOf(date)).Scan(&exists)
	return exists, err
}

// ListActiveTemplates returns active templates, optionally scoped to one
// account.
func (r *Repository) ListActiveTemplates(ctx context.Context, accountScope *int64) ([]RecurringTemplate, error) {
	query := `
		SELECT id, account_id, name, meeting_id, passcode, start_time,
			member_count, member_class, weekdays, active, last_materialized,
			created_at, updated_at
		FROM recurring_templates
		WHERE active`
	args := []any{}
	if accountScope != nil {
		query += ` AND account_id = $1`
		args = append(args, *accountScope)
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []RecurringTemplate
	for rows.Next() {
		var tpl RecurringTemplate
		var weekdays int16
		var last pgtype.Date
		if err := rows.Scan(
			&tpl.ID, &tpl.AccountID, &tpl.Name, &tpl.MeetingID, &tpl.Passcode,
			&tpl.StartTime, &tpl.MemberCount, &tpl.MemberClass, &weekdays,
			&tpl.Active, &last, &tpl.CreatedAt, &tpl.UpdatedAt,
		); err != nil {
			return nil, err
		}
		tpl.Weekdays = Weekdays(weekdays)
		if last.Valid {
			t := last.Time
			tpl.LastMaterialized = &t
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

// MarkTemplateMaterialized records the advisory last-materialized date.
func (r *Repository) MarkTemplateMaterialized(ctx context.Context, templateID int64, date time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE recurring_templates
		SET last_materialized = $2, updated_at = NOW()
		WHERE id = $1`, templateID, DateOf(date))
	return err
}

// GetDailyDue loads the ledger row for (account, date).
func (r *Repository) GetDailyDue(ctx context.Context, accountID int64, date time.Time) (*DailyDueEntry, error) {
	var entry DailyDueEntry
	err := r.pool.QueryRow(ctx, `
		SELECT account_id, due_date, gross, advance_amortized, net,
			session_count, updated_at
		FROM daily_due_entries
		WHERE account_id = $1 AND due_date = $2`, accountID, DateOf(date),
	).Scan(&entry.AccountID, &entry.Date, &entry.Gross,
		&entry.AdvanceAmortized, &entry.Net, &entry.SessionCount, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	entry.Date = DateOf(entry.Date)
	return &entry, nil
}

// UpsertDailyDue fully replaces the ledger row keyed by (account, date).
// When a consumption is planned, the advance decrement commits in the same
// transaction as the ledger write so neither can land without the other.
func (r *Repository) UpsertDailyDue(ctx context.Context, entry DailyDueEntry, consumption *AdvanceConsumption) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if consumption != nil {
			tag, err := tx.Exec(ctx, `
				UPDATE advance_payments
				SET remaining = remaining - $2
				WHERE id = $1 AND remaining >= $2`,
				consumption.AdvanceID, consumption.Amount)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: advance %d", ErrConcurrencyConflict, consumption.AdvanceID)
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO daily_due_entries (
				account_id, due_date, gross, advance_amortized, net,
				session_count, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (account_id, due_date) DO UPDATE SET
				gross = EXCLUDED.gross,
				advance_amortized = EXCLUDED.advance_amortized,
				net = EXCLUDED.net,
				session_count = EXCLUDED.session_count,
				updated_at = NOW()`,
			entry.AccountID, DateOf(entry.Date), entry.Gross,
			entry.AdvanceAmortized, entry.Net, entry.SessionCount)
		return err
	})
}

// DeleteDailyDue removes the ledger row for (account, date), if any.
func (r *Repository) DeleteDailyDue(ctx context.Context, accountID int64, date time.Time) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM daily_due_entries WHERE account_id = $1 AND due_date = $2`,
		accountID, DateOf(date))
	return err
}

// FindUsableAdvance picks the most recently established active advance whose
// effective date does not postdate the billing date.
func (r *Repository) FindUsableAdvance(ctx context.Context, accountID int64, date time.Time) (*AdvancePayment, error) {
	var adv AdvancePayment
	err := r.pool.QueryRow(ctx, `
		SELECT id, account_id, remaining, effective_from, active, created_at
		FROM advance_payments
		WHERE account_id = $1 AND active AND effective_from <= $2
		ORDER BY effective_from DESC, created_at DESC, id DESC
		LIMIT 1`, accountID, DateOf(date),
	).Scan(&adv.ID, &adv.AccountID, &adv.Remaining, &adv.EffectiveFrom,
		&adv.Active, &adv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &adv, nil
}

// CreateAdvance records a prepaid balance.
func (r *Repository) CreateAdvance(ctx context.Context, input AdvanceInput) (*AdvancePayment, error) {
	adv := AdvancePayment{
		AccountID:     input.AccountID,
		Remaining:     input.Amount,
		EffectiveFrom: DateOf(input.EffectiveFrom),
		Active:        true,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO advance_payments (account_id, amount, remaining, effective_from, active, created_at)
		VALUES ($1, $2, $2, $3, TRUE, NOW())
		RETURNING id, created_at`,
		input.AccountID, input.Amount, adv.EffectiveFrom,
	).Scan(&adv.ID, &adv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &adv, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionInstance(row rowScanner) (*SessionInstance, error) {
	var instance SessionInstance
	var templateID, cascadeID pgtype.Int8
	var class, status string
	if err := row.Scan(
		&instance.ID, &instance.AccountID, &templateID, &cascadeID,
		&instance.Date, &instance.MemberCount, &class, &instance.Attended,
		&instance.EvidenceRef, &status, &instance.CreatedAt, &instance.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if templateID.Valid {
		instance.TemplateID = &templateID.Int64
	}
	if cascadeID.Valid {
		instance.CascadeAccountID = &cascadeID.Int64
	}
	instance.MemberClass = MemberClass(class)
	instance.Status = InstanceStatus(status)
	instance.Date = DateOf(instance.Date)
	return &instance, nil
}

func collectSessionInstances(rows pgx.Rows) ([]SessionInstance, error) {
	var instances []SessionInstance
	for rows.Next() {
		instance, err := scanSessionInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *instance)
	}
	return instances, rows.Err()
}
