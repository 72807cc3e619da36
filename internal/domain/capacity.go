package domain

import "github.com/shopspring/decimal"

const (
	// TeamLeaderMaxActive is the number of active projects a user may lead at once.
	TeamLeaderMaxActive = 1
	// MaxProjectsCeiling bounds any configured per-user capacity.
	MaxProjectsCeiling = 20
	// DefaultMemberMaxProjects and DefaultManagerMaxProjects seed capacity on role assignment.
	DefaultMemberMaxProjects  = 4
	DefaultManagerMaxProjects = 10
)

// Slot is the answer of a capacity check.
type Slot struct {
	Allowed        bool `json:"allowed"`
	AvailableSlots int  `json:"availableSlots"`
}

// CanAssign reports whether one more active assignment fits under maxProjects.
func CanAssign(maxProjects, active int) Slot {
	available := maxProjects - active
	if available < 0 {
		available = 0
	}
	return Slot{Allowed: active < maxProjects, AvailableSlots: available}
}

// CanLead applies the fixed team-leader ceiling to the number of projects already led.
func CanLead(activeLed int) Slot {
	return CanAssign(TeamLeaderMaxActive, activeLed)
}

// Capacity summarises a user's load against their ceiling.
type Capacity struct {
	MaxProjects           int     `json:"maxProjects"`
	ActiveProjects        int     `json:"activeProjects"`
	AvailableSlots        int     `json:"availableSlots"`
	CanTakeMore           bool    `json:"canTakeMore"`
	UtilizationPercentage float64 `json:"utilizationPercentage"`
}

// NewCapacity builds a Capacity report using the shared percentage rounding.
func NewCapacity(maxProjects, active int) Capacity {
	slot := CanAssign(maxProjects, active)
	utilization := 0.0
	if maxProjects > 0 {
		pct := decimal.NewFromInt(int64(active)).Div(decimal.NewFromInt(int64(maxProjects))).Mul(hundred)
		utilization = RoundPercent(pct).InexactFloat64()
	}
	return Capacity{
		MaxProjects:           maxProjects,
		ActiveProjects:        active,
		AvailableSlots:        slot.AvailableSlots,
		CanTakeMore:           slot.Allowed,
		UtilizationPercentage: utilization,
	}
}

// AssigneeLoad is the locked view of a user taken while an assignment is in progress.
type AssigneeLoad struct {
	UserID         string
	OrganizationID string
	Role           string
	MaxProjects    int
	// ProjectActive is set when the project being changed occupies capacity.
	// Slot checks apply only then; role checks always apply.
	ProjectActive bool
	// ActiveAssigned counts active projects the user manages or leads.
	ActiveAssigned int
	// ActiveLed counts active projects the user leads.
	ActiveLed int
}

// CapacityDefaults seeds and bounds per-user capacity.
type CapacityDefaults struct {
	Member  int
	Manager int
	Ceiling int
}

// NewCapacityDefaults fills unset values with the package defaults and keeps
// every value within the hard ceiling.
func NewCapacityDefaults(member, manager, ceiling int) CapacityDefaults {
	if ceiling <= 0 || ceiling > MaxProjectsCeiling {
		ceiling = MaxProjectsCeiling
	}
	if member <= 0 {
		member = DefaultMemberMaxProjects
	}
	if manager <= 0 {
		manager = DefaultManagerMaxProjects
	}
	return CapacityDefaults{Member: min(member, ceiling), Manager: min(manager, ceiling), Ceiling: ceiling}
}

// For returns the capacity seeded for role.
func (d CapacityDefaults) For(role string) int {
	switch role {
	case RoleProjectManager, RoleAdmin:
		return d.Manager
	}
	return d.Member
}

// Valid reports whether maxProjects is an acceptable explicit capacity.
func (d CapacityDefaults) Valid(maxProjects int) bool {
	return maxProjects >= 1 && maxProjects <= d.Ceiling
}
