package membership

import "time"

// DefaultRenewalThresholdDays is how many days before expiry a new plan may
// be bought while the current one is still active.
const DefaultRenewalThresholdDays = 3

const day = 24 * time.Hour

// Site is the gym location a plan is bound to.
type Site struct {
	ID   int64   `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// State is a user's membership. A nil PlanEnd means the user never bought a plan.
type State struct {
	UserID  string     `json:"user_id"`
	PlanEnd *time.Time `json:"plan_end,omitempty"`
	Site    *Site      `json:"site,omitempty"`
}

// HasActivePlan reports whether the plan ends strictly after now.
func (s State) HasActivePlan(now time.Time) bool {
	return s.PlanEnd != nil && s.PlanEnd.After(now)
}

// Policy decides plan purchase eligibility.
type Policy struct {
	RenewalThresholdDays int
}

func NewPolicy(renewalThresholdDays int) Policy {
	return Policy{RenewalThresholdDays: renewalThresholdDays}
}

// DefaultPolicy returns a Policy with DefaultRenewalThresholdDays.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultRenewalThresholdDays)
}

// RemainingDays returns the whole days left on the plan, rounded up and
// floored at zero. ok is false when the state has no plan end.
func (p Policy) RemainingDays(s State, now time.Time) (days int, ok bool) {
	if s.PlanEnd == nil {
		return 0, false
	}
	left := s.PlanEnd.Sub(now)
	if left <= 0 {
		return 0, true
	}
	// Sub saturates for far-off ends, so round up without adding to left
	days = int(left / day)
	if left%day != 0 {
		days++
	}
	return days, true
}

// CanPurchaseNewPlan is true without an active plan, or when the active plan
// is inside the renewal window.
func (p Policy) CanPurchaseNewPlan(s State, now time.Time) bool {
	if !s.HasActivePlan(now) {
		return true
	}
	days, _ := p.RemainingDays(s, now)
	return days <= p.RenewalThresholdDays
}

// Activate returns a copy of s bound to site and ending at planEnd.
func (p Policy) Activate(s State, planEnd time.Time, site Site) State {
	end := planEnd
	bound := site
	return State{
		UserID:  s.UserID,
		PlanEnd: &end,
		Site:    &bound,
	}
}

// RenewalOpensAt is the instant the renewal window of a plan ending at planEnd opens.
func (p Policy) RenewalOpensAt(planEnd time.Time) time.Time {
	return planEnd.Add(-time.Duration(p.RenewalThresholdDays) * day)
}

// Status is the read view used to enable plan purchase actions.
type Status struct {
	HasActivePlan      bool       `json:"has_active_plan"`
	RemainingDays      *int       `json:"remaining_days"`
	CanPurchaseNewPlan bool       `json:"can_purchase_new_plan"`
	PlanEnd            *time.Time `json:"plan_end,omitempty"`
	Site               *Site      `json:"site,omitempty"`
}

func (p Policy) Status(s State, now time.Time) Status {
	st := Status{
		HasActivePlan:      s.HasActivePlan(now),
		CanPurchaseNewPlan: p.CanPurchaseNewPlan(s, now),
		PlanEnd:            s.PlanEnd,
		Site:               s.Site,
	}
	if days, ok := p.RemainingDays(s, now); ok {
		st.RemainingDays = &days
	}
	return st
}
