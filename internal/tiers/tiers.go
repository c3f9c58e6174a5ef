package tiers

import "fmt"

// Plan represents a subscription plan.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanLTD      Plan = "ltd"
	PlanFreeLTD  Plan = "fltd"
	PlanSubBasic Plan = "sub_basic"
	PlanSubPro   Plan = "sub_pro"
)

// Config defines the limits for a plan.
//
// Extraction caps come in two shapes:
//   - Lifetime: summed across every month the user has ever used (free plan)
//   - Monthly:  read from the current YYYY-MM usage row (paid plans)
//
// A zero cap means "not applicable for this plan", never "unlimited": every
// plan carries exactly one of the two shapes.
type Config struct {
	// Identity
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`

	// Extraction caps (exactly one is non-zero)
	LifetimeExtracts int64 `json:"lifetime_extracts"`
	MonthlyExtracts  int64 `json:"monthly_extracts"`

	// Persisted meetings (0 = unlimited)
	MaxMeetings int64 `json:"max_meetings"`
}

// Configs maps plan names to their configurations.
// Adding a new plan is as simple as adding an entry to this map.
var Configs = map[Plan]Config{
	PlanFree: {
		Name:             "free",
		DisplayName:      "Free",
		LifetimeExtracts: 5,
		MaxMeetings:      3,
	},
	PlanLTD: {
		Name:            "ltd",
		DisplayName:     "Lifetime Deal",
		MonthlyExtracts: 50,
	},
	PlanFreeLTD: {
		Name:            "fltd",
		DisplayName:     "Founders Lifetime Deal",
		MonthlyExtracts: 100,
	},
	PlanSubBasic: {
		Name:            "sub_basic",
		DisplayName:     "Basic",
		MonthlyExtracts: 50,
	},
	PlanSubPro: {
		Name:            "sub_pro",
		DisplayName:     "Pro",
		MonthlyExtracts: 100,
	},
}

// Get returns the config for a plan. Unknown plans fall back to free so a
// bad row in the users table degrades to the most restrictive limits.
func Get(plan Plan) (Config, error) {
	config, exists := Configs[plan]
	if !exists {
		return Configs[PlanFree], fmt.Errorf("unknown plan: %s", plan)
	}
	return config, nil
}

// UsesLifetimeCap reports whether the plan's extraction cap is summed across
// all months rather than read from the current month.
func (c Config) UsesLifetimeCap() bool {
	return c.LifetimeExtracts > 0
}
