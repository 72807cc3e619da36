package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// BudgetState is the derived health of a project budget.
type BudgetState string

const (
	BudgetNoBudget BudgetState = "no_budget"
	BudgetOK       BudgetState = "ok"
	BudgetCaution  BudgetState = "caution"
	BudgetWarning  BudgetState = "warning"
	BudgetCritical BudgetState = "critical"
)

const (
	// DefaultAlertThreshold applies when a project is created without one.
	DefaultAlertThreshold = 80
	// CautionPercent and CriticalPercent are fixed, unlike the per-project alert threshold.
	CautionPercent  = 70
	CriticalPercent = 95
	// DefaultCurrency is used for projects created without a currency.
	DefaultCurrency = "USD"
)

// Currencies lists the display currencies a budget may carry. No conversion is performed.
var Currencies = []string{"USD", "EUR", "GBP", "INR", "LKR", "AUD", "CAD", "JPY"}

var (
	hundred         = decimal.NewFromInt(100)
	cautionPercent  = decimal.NewFromInt(CautionPercent)
	criticalPercent = decimal.NewFromInt(CriticalPercent)
)

// Severity orders states from harmless to worst. Unknown states rank lowest.
func (s BudgetState) Severity() int {
	switch s {
	case BudgetOK:
		return 1
	case BudgetCaution:
		return 2
	case BudgetWarning:
		return 3
	case BudgetCritical:
		return 4
	}
	return 0
}

// Budget is the budget embedded in a project.
type Budget struct {
	Planned        decimal.Decimal `json:"planned"`
	Spent          decimal.Decimal `json:"spent"`
	Currency       string          `json:"currency"`
	AlertThreshold int             `json:"alertThreshold"`
}

// NewBudget returns a zero budget carrying the defaults.
func NewBudget() Budget {
	return Budget{
		Planned:        decimal.Zero,
		Spent:          decimal.Zero,
		Currency:       DefaultCurrency,
		AlertThreshold: DefaultAlertThreshold,
	}
}

// BudgetStatus is computed from a Budget on every read and never stored.
type BudgetStatus struct {
	Percentage float64         `json:"percentage"`
	Remaining  decimal.Decimal `json:"remaining"`
	Status     BudgetState     `json:"status"`
	IsAlert    bool            `json:"isAlert"`
}

// RoundPercent applies the single rounding policy used for every percentage
// in the service: one decimal place, half away from zero.
func RoundPercent(v decimal.Decimal) decimal.Decimal {
	return v.Round(1)
}

// Percentage returns round(spent/planned*100, 1), or zero without a plan.
func (b Budget) Percentage() decimal.Decimal {
	if !b.Planned.IsPositive() {
		return decimal.Zero
	}
	return RoundPercent(b.Spent.Div(b.Planned).Mul(hundred))
}

// Evaluate derives the budget status. Thresholds compare against the rounded
// percentage so that the reported number and the state always agree.
func (b Budget) Evaluate() BudgetStatus {
	remaining := b.Planned.Sub(b.Spent)
	if !b.Planned.IsPositive() {
		return BudgetStatus{Percentage: 0, Remaining: remaining, Status: BudgetNoBudget}
	}
	pct := b.Percentage()
	threshold := decimal.NewFromInt(int64(b.AlertThreshold))

	state := BudgetOK
	switch {
	case pct.GreaterThanOrEqual(criticalPercent):
		state = BudgetCritical
	case pct.GreaterThanOrEqual(threshold):
		state = BudgetWarning
	case pct.GreaterThanOrEqual(cautionPercent):
		state = BudgetCaution
	}
	return BudgetStatus{
		Percentage: pct.InexactFloat64(),
		Remaining:  remaining,
		Status:     state,
		IsAlert:    pct.GreaterThanOrEqual(threshold),
	}
}

// ValidCurrency reports whether code is a supported display currency.
func ValidCurrency(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range Currencies {
		if c == code {
			return true
		}
	}
	return false
}

// MoneyScale is the number of decimal places stored for money amounts.
const MoneyScale = 2

// MaxMoney is the largest amount a numeric(14,2) column holds.
var MaxMoney = decimal.RequireFromString("999999999999.99")

// MoneyProblem describes why v cannot be stored as a money amount, or returns
// "" when it can. Amounts are never rounded silently.
func MoneyProblem(v decimal.Decimal) string {
	switch {
	case !v.Equal(v.Round(MoneyScale)):
		return "value must have at most 2 decimal places"
	case v.Abs().GreaterThan(MaxMoney):
		return "value must not exceed " + MaxMoney.StringFixed(MoneyScale)
	}
	return ""
}

// ValidAlertThreshold reports whether v is a percentage in [0, 100].
func ValidAlertThreshold(v int) bool {
	return v >= 0 && v <= 100
}
