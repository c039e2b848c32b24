package accounts

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// RepositoryPort defines data access methods for accounts.
type RepositoryPort interface {
	CreateAccount(ctx context.Context, input AccountInput) (*Account, error)
	GetAccount(ctx context.Context, id int64) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	UpdateParent(ctx context.Context, id int64, parentID *int64) error
	UpsertRate(ctx context.Context, rate Rate) error
	ListRates(ctx context.Context, accountID int64) ([]Rate, error)
}

// Service handles account hierarchy and rate configuration.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// CreateAccount validates and persists a new account.
func (s *Service) CreateAccount(ctx context.Context, input AccountInput) (*Account, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name required", ErrInvalidRole)
	}
	if !input.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, input.Role)
	}
	if input.ParentID != nil {
		if err := s.validateParent(ctx, 0, *input.ParentID); err != nil {
			return nil, err
		}
	}
	return s.repo.CreateAccount(ctx, input)
}

// GetAccount returns one account with its rate configuration.
func (s *Service) GetAccount(ctx context.Context, id int64) (*AccountWithRates, error) {
	account, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	rates, err := s.repo.ListRates(ctx, id)
	if err != nil {
		return nil, err
	}
	return &AccountWithRates{Account: *account, Rates: rates}, nil
}

// ListAccounts returns all accounts.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.repo.ListAccounts(ctx)
}

// AssignParent re-points an account's cascade target. Hierarchy reassignment
// never rewrites history: existing session instances keep their snapshot
// cascade account.
func (s *Service) AssignParent(ctx context.Context, id int64, parentID *int64) error {
	if _, err := s.repo.GetAccount(ctx, id); err != nil {
		return err
	}
	if parentID != nil {
		if err := s.validateParent(ctx, id, *parentID); err != nil {
			return err
		}
	}
	return s.repo.UpdateParent(ctx, id, parentID)
}

// SetRate configures one rate row. Cascade rates are only meaningful for
// accounts whose role permits being a cascade target.
func (s *Service) SetRate(ctx context.Context, accountID int64, memberClass string, kind RateKind, rate decimal.Decimal) error {
	if !MemberClasses[memberClass] {
		return fmt.Errorf("%w: unknown member class %q", ErrInvalidRate, memberClass)
	}
	if rate.IsNegative() {
		return fmt.Errorf("%w: negative rate", ErrInvalidRate)
	}
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if kind == RateCascade && !account.Role.CascadeTarget() {
		return fmt.Errorf("%w: role %s has no cascade rate", ErrInvalidRate, account.Role)
	}
	return s.repo.UpsertRate(ctx, Rate{
		AccountID:   accountID,
		MemberClass: memberClass,
		Kind:        kind,
		Rate:        rate,
	})
}

// validateParent enforces the write-time hierarchy invariants: the parent
// exists, its role permits being a cascade target, and the assignment does
// not make the account its own ancestor.
func (s *Service) validateParent(ctx context.Context, accountID, parentID int64) error {
	if accountID != 0 && accountID == parentID {
		return ErrHierarchyCycle
	}
	parent, err := s.repo.GetAccount(ctx, parentID)
	if err != nil {
		return fmt.Errorf("parent %d: %w", parentID, err)
	}
	if !parent.Role.CascadeTarget() {
		return fmt.Errorf("%w: role %s", ErrInvalidParent, parent.Role)
	}

	// Walk the ancestor chain; the hierarchy is shallow so a bounded loop
	// doubles as corruption protection.
	seen := 0
	current := parent
	for current.ParentID != nil {
		if *current.ParentID == accountID {
			return ErrHierarchyCycle
		}
		if seen++; seen > 16 {
			return ErrHierarchyCycle
		}
		next, err := s.repo.GetAccount(ctx, *current.ParentID)
		if err != nil {
			return fmt.Errorf("ancestor %d: %w", *current.ParentID, err)
		}
		current = next
	}
	return nil
}
