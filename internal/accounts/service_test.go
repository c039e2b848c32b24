package accounts

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	accounts map[int64]*Account
	rates    map[string]Rate
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		accounts: make(map[int64]*Account),
		rates:    make(map[string]Rate),
	}
}

func rateKey(r Rate) string {
	return fmt.Sprintf("%d:%s:%s", r.AccountID, r.MemberClass, r.Kind)
}

func (r *memoryRepo) CreateAccount(ctx context.Context, input AccountInput) (*Account, error) {
	r.nextID++
	account := &Account{
		ID:       r.nextID,
		Name:     input.Name,
		Role:     input.Role,
		ParentID: input.ParentID,
	}
	r.accounts[account.ID] = account
	copied := *account
	return &copied, nil
}

func (r *memoryRepo) GetAccount(ctx context.Context, id int64) (*Account, error) {
	if a, ok := r.accounts[id]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (r *memoryRepo) ListAccounts(ctx context.Context) ([]Account, error) {
	var out []Account
	for _, a := range r.accounts {
		out = append(out, *a)
	}
	return out, nil
}

func (r *memoryRepo) UpdateParent(ctx context.Context, id int64, parentID *int64) error {
	a, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.ParentID = parentID
	return nil
}

func (r *memoryRepo) UpsertRate(ctx context.Context, rate Rate) error {
	r.rates[rateKey(rate)] = rate
	return nil
}

func (r *memoryRepo) ListRates(ctx context.Context, accountID int64) ([]Rate, error) {
	var out []Rate
	for _, rate := range r.rates {
		if rate.AccountID == accountID {
			out = append(out, rate)
		}
	}
	return out, nil
}

func TestCreateAccountValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, AccountInput{Name: "", Role: RoleClient})
	require.Error(t, err)

	_, err = svc.CreateAccount(ctx, AccountInput{Name: "x", Role: Role("owner")})
	require.ErrorIs(t, err, ErrInvalidRole)

	created, err := svc.CreateAccount(ctx, AccountInput{Name: "Northside Tutoring", Role: RoleCohost})
	require.NoError(t, err)
	require.Equal(t, RoleCohost, created.Role)
}

func TestParentMustBeCascadeTarget(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	client, err := svc.CreateAccount(ctx, AccountInput{Name: "Harbor Academy", Role: RoleClient})
	require.NoError(t, err)

	_, err = svc.CreateAccount(ctx, AccountInput{Name: "Lakeview Prep", Role: RoleClient, ParentID: &client.ID})
	require.ErrorIs(t, err, ErrInvalidParent)

	cohost, err := svc.CreateAccount(ctx, AccountInput{Name: "Northside Tutoring", Role: RoleCohost})
	require.NoError(t, err)

	created, err := svc.CreateAccount(ctx, AccountInput{Name: "Lakeview Prep", Role: RoleClient, ParentID: &cohost.ID})
	require.NoError(t, err)
	require.Equal(t, cohost.ID, *created.ParentID)

	missing := int64(99)
	_, err = svc.CreateAccount(ctx, AccountInput{Name: "Orphan", Role: RoleClient, ParentID: &missing})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAssignParentRejectsCycles(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	top, err := svc.CreateAccount(ctx, AccountInput{Name: "Top", Role: RoleAdmin})
	require.NoError(t, err)
	mid, err := svc.CreateAccount(ctx, AccountInput{Name: "Mid", Role: RoleCohost, ParentID: &top.ID})
	require.NoError(t, err)

	require.ErrorIs(t, svc.AssignParent(ctx, top.ID, &top.ID), ErrHierarchyCycle)
	require.ErrorIs(t, svc.AssignParent(ctx, top.ID, &mid.ID), ErrHierarchyCycle)

	// Detaching is always allowed.
	require.NoError(t, svc.AssignParent(ctx, mid.ID, nil))
}

func TestSetRate(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	cohost, err := svc.CreateAccount(ctx, AccountInput{Name: "Northside Tutoring", Role: RoleCohost})
	require.NoError(t, err)
	client, err := svc.CreateAccount(ctx, AccountInput{Name: "Harbor Academy", Role: RoleClient})
	require.NoError(t, err)

	require.NoError(t, svc.SetRate(ctx, client.ID, "standard", RateBilled, decimal.RequireFromString("0.80")))
	require.NoError(t, svc.SetRate(ctx, cohost.ID, "standard", RateCascade, decimal.RequireFromString("1.00")))

	// Clients do not receive cascaded obligations.
	err = svc.SetRate(ctx, client.ID, "standard", RateCascade, decimal.RequireFromString("1.00"))
	require.ErrorIs(t, err, ErrInvalidRate)

	err = svc.SetRate(ctx, client.ID, "vip", RateBilled, decimal.RequireFromString("1.00"))
	require.ErrorIs(t, err, ErrInvalidRate)

	err = svc.SetRate(ctx, client.ID, "standard", RateBilled, decimal.RequireFromString("-1"))
	require.ErrorIs(t, err, ErrInvalidRate)

	with, err := svc.GetAccount(ctx, client.ID)
	require.NoError(t, err)
	require.Len(t, with.Rates, 1)
	require.True(t, with.Rates[0].Rate.Equal(decimal.RequireFromString("0.80")))
}
