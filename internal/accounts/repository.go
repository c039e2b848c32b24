package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for accounts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateAccount inserts a new account.
func (r *Repository) CreateAccount(ctx context.Context, input AccountInput) (*Account, error) {
	var parentID pgtype.Int8
	if input.ParentID != nil {
		parentID = pgtype.Int8{Int64: *input.ParentID, Valid: true}
	}
	account := Account{Name: input.Name, Role: input.Role, ParentID: input.ParentID}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (name, role, parent_id, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		input.Name, string(input.Role), parentID,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetAccount loads one account.
func (r *Repository) GetAccount(ctx context.Context, id int64) (*Account, error) {
	var account Account
	var role string
	var parentID pgtype.Int8
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, role, parent_id, created_at, updated_at
		FROM accounts WHERE id = $1`, id,
	).Scan(&account.ID, &account.Name, &role, &parentID,
		&account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	account.Role = Role(role)
	if parentID.Valid {
		account.ParentID = &parentID.Int64
	}
	return &account, nil
}

// ListAccounts returns all accounts.
func (r *Repository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, role, parent_id, created_at, updated_at
		FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var account Account
		var role string
		var parentID pgtype.Int8
		if err := rows.Scan(&account.ID, &account.Name, &role, &parentID,
			&account.CreatedAt, &account.UpdatedAt); err != nil {
			return nil, err
		}
		account.Role = Role(role)
		if parentID.Valid {
			account.ParentID = &parentID.Int64
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// UpdateParent re-points the cascade target.
func (r *Repository) UpdateParent(ctx context.Context, id int64, parentID *int64) error {
	var parent pgtype.Int8
	if parentID != nil {
		parent = pgtype.Int8{Int64: *parentID, Valid: true}
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET parent_id = $2, updated_at = NOW() WHERE id = $1`,
		id, parent)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertRate replaces one rate row.
func (r *Repository) UpsertRate(ctx context.Context, rate Rate) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO account_rates (account_id, member_class, kind, rate)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, member_class, kind)
		DO UPDATE SET rate = EXCLUDED.rate`,
		rate.AccountID, rate.MemberClass, string(rate.Kind), rate.Rate)
	return err
}

// ListRates returns every configured rate for an account.
func (r *Repository) ListRates(ctx context.Context, accountID int64) ([]Rate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT account_id, member_class, kind, rate
		FROM account_rates WHERE account_id = $1
		ORDER BY kind, member_class`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rates []Rate
	for rows.Next() {
		var rate Rate
		var kind string
		if err := rows.Scan(&rate.AccountID, &rate.MemberClass, &kind, &rate.Rate); err != nil {
			return nil, err
		}
		rate.Kind = RateKind(kind)
		rates = append(rates, rate)
	}
	return rates, rows.Err()
}
