package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a write violated a uniqueness or balance constraint.
	ErrConflict = errors.New("repository: conflict")
	// ErrInvalidArgument indicates the database rejected a value.
	ErrInvalidArgument = errors.New("repository: invalid argument")
	// ErrNegativeSpent indicates a ledger entry would drive spent below zero.
	ErrNegativeSpent = errors.New("repository: spent would become negative")
)
