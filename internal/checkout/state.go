package checkout

// State of a single checkout attempt
type State string

const (
	StateValidating           State = "validating"
	StateReservingStock       State = "reserving_stock"
	StateActivatingMembership State = "activating_membership"
	StateRecordingOrder       State = "recording_order"
	StateCommitted            State = "committed"
	StateAborted              State = "aborted"
)

// validTransitions defines the allowed state transitions. Steps without work
// are skipped, so Validating may jump straight to RecordingOrder.
var validTransitions = map[State][]State{
	StateValidating:           {StateReservingStock, StateActivatingMembership, StateRecordingOrder, StateAborted},
	StateReservingStock:       {StateActivatingMembership, StateRecordingOrder, StateAborted},
	StateActivatingMembership: {StateRecordingOrder, StateAborted},
	StateRecordingOrder:       {StateCommitted, StateAborted},
	StateCommitted:            {},
	StateAborted:              {},
}

// CanTransitionTo checks if the transition is valid
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s State) IsTerminal() bool {
	return s == StateCommitted || s == StateAborted
}
