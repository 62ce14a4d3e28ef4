package membership

import "time"

const (
	EventPlanActivated          = "PlanActivated"
	EventPlanActivationReverted = "PlanActivationReverted"
)

type PlanActivated struct {
	UserID      string    `json:"user_id"`
	PlanEnd     time.Time `json:"plan_end"`
	Site        Site      `json:"site"`
	ActivatedAt time.Time `json:"activated_at"`
}

// PlanActivationReverted restores the state held before an activation whose
// checkout could not be committed.
type PlanActivationReverted struct {
	UserID     string    `json:"user_id"`
	Previous   State     `json:"previous"`
	RevertedAt time.Time `json:"reverted_at"`
}
