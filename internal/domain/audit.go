package domain

import "time"

// Budget audit actions.
const (
	AuditBudgetUpdated   = "budget.updated"
	AuditExpenseLogged   = "expense.logged"
	AuditExpenseReversed = "expense.reversed"
)

// ExpenseAuditAction names the audit action for a ledger entry kind.
func ExpenseAuditAction(kind string) string {
	if kind == ExpenseKindReversal {
		return AuditExpenseReversed
	}
	return AuditExpenseLogged
}

// BudgetAudit records a change to a project's budget fields.
type BudgetAudit struct {
	ID             int64
	ProjectID      string
	OrganizationID string
	ActorID        string
	Action         string
	Before         []byte
	After          []byte
	CreatedAt      time.Time
}
