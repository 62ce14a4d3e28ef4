package membership

import "time"

// RenewalReminder asks an external scheduler to notify the user when the
// renewal window of a newly activated plan opens.
type RenewalReminder struct {
	UserID   string    `json:"user_id"`
	OrderID  string    `json:"order_id"`
	PlanEnd  time.Time `json:"plan_end"`
	RemindAt time.Time `json:"remind_at"`
	SiteName string    `json:"site_name"`
}

// Reminder builds the reminder for an activated state. ok is false when s
// has no plan end.
func (p Policy) Reminder(s State, orderID string) (r RenewalReminder, ok bool) {
	if s.PlanEnd == nil {
		return RenewalReminder{}, false
	}
	r = RenewalReminder{
		UserID:   s.UserID,
		OrderID:  orderID,
		PlanEnd:  *s.PlanEnd,
		RemindAt: p.RenewalOpensAt(*s.PlanEnd),
	}
	if s.Site != nil {
		r.SiteName = s.Site.Name
	}
	return r, true
}
