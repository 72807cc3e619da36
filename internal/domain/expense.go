package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger entry kinds.
const (
	ExpenseKindExpense    = "expense"
	ExpenseKindAdjustment = "adjustment"
	ExpenseKindReversal   = "reversal"
)

// Expense is an immutable ledger entry. A project's spent total is the sum of
// its entries; corrections are new entries, never edits.
type Expense struct {
	ID             string
	ProjectID      string
	OrganizationID string
	Kind           string
	Amount         decimal.Decimal
	Description    string
	ActorID        string
	IdempotencyKey *string
	ReversesID     *string
	CreatedAt      time.Time
}
