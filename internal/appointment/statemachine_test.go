package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetStatus(t *testing.T) {
	cases := map[Transition]Status{
		TransitionConfirm:  StatusConfirmed,
		TransitionDecline:  StatusDeclined,
		TransitionCancel:   StatusCancelled,
		TransitionComplete: StatusCompleted,
	}

	for tr, want := range cases {
		got, ok := TargetStatus(tr)
		require.True(t, ok, "transition %s", tr)
		assert.Equal(t, want, got)
	}

	_, ok := TargetStatus(Transition("reopen"))
	assert.False(t, ok)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from Status
		tr   Transition
		want bool
	}{
		{StatusPending, TransitionConfirm, true},
		{StatusPending, TransitionDecline, true},
		{StatusPending, TransitionCancel, true},
		{StatusPending, TransitionComplete, false},
		{StatusConfirmed, TransitionConfirm, false},
		{StatusConfirmed, TransitionDecline, true},
		{StatusConfirmed, TransitionCancel, true},
		{StatusConfirmed, TransitionComplete, true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.tr), "%s -> %s", tc.from, tc.tr)
	}
}

func TestTerminalStatusesPermitNothing(t *testing.T) {
	terminals := []Status{StatusDeclined, StatusCancelled, StatusCompleted}
	transitions := []Transition{TransitionConfirm, TransitionDecline, TransitionCancel, TransitionComplete}

	for _, from := range terminals {
		require.True(t, from.Terminal())
		for _, tr := range transitions {
			assert.False(t, CanTransition(from, tr), "%s must not permit %s", from, tr)
		}
	}
}

func TestRoleAllowed(t *testing.T) {
	// Patients may only cancel; clinic-side roles may not cancel on the
	// patient's behalf except admin.
	assert.True(t, RoleAllowed(RolePatient, TransitionCancel))
	assert.False(t, RoleAllowed(RolePatient, TransitionConfirm))
	assert.False(t, RoleAllowed(RolePatient, TransitionDecline))
	assert.False(t, RoleAllowed(RolePatient, TransitionComplete))

	for _, role := range []Role{RoleProvider, RoleStaff} {
		assert.True(t, RoleAllowed(role, TransitionConfirm))
		assert.True(t, RoleAllowed(role, TransitionDecline))
		assert.True(t, RoleAllowed(role, TransitionComplete))
		assert.False(t, RoleAllowed(role, TransitionCancel))
	}

	for _, tr := range []Transition{TransitionConfirm, TransitionDecline, TransitionCancel, TransitionComplete} {
		assert.True(t, RoleAllowed(RoleAdmin, tr))
	}
}

func TestInvalidTransitionErrorMessage(t *testing.T) {
	err := &InvalidTransitionError{Current: StatusCompleted, Requested: TransitionCancel}
	assert.Contains(t, err.Error(), "cancel")
	assert.Contains(t, err.Error(), "completed")
}
