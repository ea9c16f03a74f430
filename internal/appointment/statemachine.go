package appointment

import "fmt"

// Transition is a requested status change. Creation (-> pending) is not a
// transition; it happens only through Reserve.
type Transition string

const (
	TransitionConfirm  Transition = "confirm"
	TransitionDecline  Transition = "decline"
	TransitionCancel   Transition = "cancel"
	TransitionComplete Transition = "complete"
)

var transitionTarget = map[Transition]Status{
	TransitionConfirm:  StatusConfirmed,
	TransitionDecline:  StatusDeclined,
	TransitionCancel:   StatusCancelled,
	TransitionComplete: StatusCompleted,
}

var transitionSources = map[Transition][]Status{
	TransitionConfirm:  {StatusPending},
	TransitionDecline:  {StatusPending, StatusConfirmed},
	TransitionCancel:   {StatusPending, StatusConfirmed},
	TransitionComplete: {StatusConfirmed},
}

// capabilities is the single role-gating table consulted for every status
// change. Role checks live here and nowhere else.
var capabilities = map[Role]map[Transition]bool{
	RolePatient: {
		TransitionCancel: true,
	},
	RoleProvider: {
		TransitionConfirm:  true,
		TransitionDecline:  true,
		TransitionComplete: true,
	},
	RoleStaff: {
		TransitionConfirm:  true,
		TransitionDecline:  true,
		TransitionComplete: true,
	},
	RoleAdmin: {
		TransitionConfirm:  true,
		TransitionDecline:  true,
		TransitionCancel:   true,
		TransitionComplete: true,
	},
}

// TargetStatus returns the status a transition lands in.
func TargetStatus(t Transition) (Status, bool) {
	s, ok := transitionTarget[t]
	return s, ok
}

// CanTransition reports whether the state machine permits moving out of
// `from` via `t`. Terminal states permit nothing.
func CanTransition(from Status, t Transition) bool {
	for _, s := range transitionSources[t] {
		if s == from {
			return true
		}
	}
	return false
}

// RoleAllowed reports whether the capability table grants `role` the
// transition `t`. Ownership checks (a patient cancelling someone else's
// appointment, a provider confirming another provider's) are layered on top
// by the service.
func RoleAllowed(role Role, t Transition) bool {
	return capabilities[role][t]
}

// InvalidTransitionError reports a transition attempted against a status that
// does not permit it. Current is the persisted status at the moment of the
// attempt; no write is performed.
type InvalidTransitionError struct {
	Current   Status
	Requested Transition
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s an appointment in status %q", e.Requested, e.Current)
}
