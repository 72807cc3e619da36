package budget

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/pmdesk/internal/metrics"
)

var (
	expensesLogged = metrics.CounterVec(prometheus.CounterOpts{
		Name: "expenses_logged_total",
		Help: "Ledger entries appended, by kind",
	}, []string{"kind"})
	expenseAmount = metrics.CounterVec(prometheus.CounterOpts{
		Name: "expense_amount_total",
		Help: "Sum of logged expense amounts, by currency",
	}, []string{"currency"})
	alertsRaised = metrics.CounterVec(prometheus.CounterOpts{
		Name: "budget_alerts_raised_total",
		Help: "Budget changes that moved a project into a new alerting status",
	}, []string{"status"})
)
