package accounts

import "errors"

var (
	// ErrNotFound indicates the account does not exist.
	ErrNotFound = errors.New("accounts: not found")
	// ErrInvalidRole indicates an unknown role value.
	ErrInvalidRole = errors.New("accounts: invalid role")
	// ErrInvalidParent indicates the parent cannot receive cascaded
	// obligations.
	ErrInvalidParent = errors.New("accounts: parent cannot be a cascade target")
	// ErrHierarchyCycle indicates the parent assignment would make the
	// account its own ancestor.
	ErrHierarchyCycle = errors.New("accounts: hierarchy cycle")
	// ErrInvalidRate indicates a negative rate or unknown member class.
	ErrInvalidRate = errors.New("accounts: invalid rate")
)
