package model

// PlanTier is a user's subscription tier. API access is an entitlement of
// paid tiers; it is checked against the owner's current plan at verification
// time, not the plan at key issuance, since plans can downgrade.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanBusiness   PlanTier = "business"
	PlanEnterprise PlanTier = "enterprise"
)

// HasAPIAccess reports whether the tier is entitled to use the public API.
func (p PlanTier) HasAPIAccess() bool {
	switch p {
	case PlanPro, PlanBusiness, PlanEnterprise:
		return true
	}
	return false
}

// ValidPlan reports whether p is a known tier.
func ValidPlan(p PlanTier) bool {
	switch p {
	case PlanFree, PlanPro, PlanBusiness, PlanEnterprise:
		return true
	}
	return false
}

// TierLimits holds the three fixed-window request thresholds for a plan tier.
type TierLimits struct {
	PerMinute int `json:"per_minute" yaml:"per_minute"`
	PerHour   int `json:"per_hour" yaml:"per_hour"`
	PerDay    int `json:"per_day" yaml:"per_day"`
}

// tierLimits is the per-tier threshold table.
var tierLimits = map[PlanTier]TierLimits{
	PlanPro:        {PerMinute: 60, PerHour: 1000, PerDay: 10000},
	PlanBusiness:   {PerMinute: 300, PerHour: 5000, PerDay: 50000},
	PlanEnterprise: {PerMinute: 1000, PerHour: 20000, PerDay: 200000},
}

// LimitsForTier returns the rate thresholds for a tier. Tiers without an
// explicit entry fall back to the pro limits.
func LimitsForTier(p PlanTier) TierLimits {
	if l, ok := tierLimits[p]; ok {
		return l
	}
	return tierLimits[PlanPro]
}
