package accounts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role enumerates positions in the billing hierarchy.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleCohost    Role = "cohost"
	RoleClient    Role = "client"
	RoleSubClient Role = "subclient"
)

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCohost, RoleClient, RoleSubClient:
		return true
	}
	return false
}

// CascadeTarget reports whether accounts of this role may receive cascaded
// obligations from children.
func (r Role) CascadeTarget() bool {
	return r == RoleAdmin || r == RoleCohost
}

// RateKind distinguishes an account's own billed rates from the rates it
// charges children that cascade to it.
type RateKind string

const (
	RateBilled  RateKind = "billed"
	RateCascade RateKind = "cascade"
)

// MemberClasses lists the accepted member classifications.
var MemberClasses = map[string]bool{
	"standard": true,
	"foreign":  true,
	"premium":  true,
}

// Account model.
type Account struct {
	ID        int64
	Name      string
	Role      Role
	ParentID  *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Rate is one configured rate row.
type Rate struct {
	AccountID   int64
	MemberClass string
	Kind        RateKind
	Rate        decimal.Decimal
}

// AccountInput carries fields for creating an account.
type AccountInput struct {
	Name     string
	Role     Role
	ParentID *int64
}

// AccountWithRates bundles an account with its rate configuration.
type AccountWithRates struct {
	Account
	Rates []Rate
}
