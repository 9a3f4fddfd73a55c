package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlowStateMachine_ValidTransitions(t *testing.T) {
	sm := NewFlowStateMachine()

	tests := []struct {
		name        string
		from        FlowState
		action      FlowTransition
		expectedTo  FlowState
		shouldError bool
	}{
		// Valid transitions
		{"InProgress -> Paused via Pause", FlowStateInProgress, TransitionPause, FlowStatePaused, false},
		{"InProgress -> Completed via Complete", FlowStateInProgress, TransitionComplete, FlowStateCompleted, false},
		{"InProgress -> Cancelled via Cancel", FlowStateInProgress, TransitionCancel, FlowStateCancelled, false},
		{"Paused -> InProgress via Resume", FlowStatePaused, TransitionResume, FlowStateInProgress, false},
		{"Paused -> Cancelled via Cancel", FlowStatePaused, TransitionCancel, FlowStateCancelled, false},

		// Invalid transitions
		{"Paused -> Completed (invalid)", FlowStatePaused, TransitionComplete, FlowStatePaused, true},
		{"Completed -> InProgress (terminal)", FlowStateCompleted, TransitionResume, FlowStateCompleted, true},
		{"Cancelled -> InProgress (terminal)", FlowStateCancelled, TransitionResume, FlowStateCancelled, true},
		{"Cancelled -> Completed (terminal)", FlowStateCancelled, TransitionComplete, FlowStateCancelled, true},
		{"InProgress -> InProgress via Resume (invalid)", FlowStateInProgress, TransitionResume, FlowStateInProgress, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			newState, err := sm.Transition(tc.from, tc.action)

			if tc.shouldError {
				assert.Error(t, err)
				assert.Equal(t, tc.from, newState, "State should not change on invalid transition")
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.expectedTo, newState)
			}
		})
	}
}

func TestFlowStateMachine_CanTransition(t *testing.T) {
	sm := NewFlowStateMachine()

	assert.True(t, sm.CanTransition(FlowStateInProgress, TransitionPause))
	assert.True(t, sm.CanTransition(FlowStateInProgress, TransitionComplete))
	assert.True(t, sm.CanTransition(FlowStatePaused, TransitionResume))
	assert.False(t, sm.CanTransition(FlowStateCompleted, TransitionResume))
	assert.False(t, sm.CanTransition(FlowStateCancelled, TransitionPause))
}

func TestFlowStateMachine_ValidTransitionsFromState(t *testing.T) {
	sm := NewFlowStateMachine()

	assert.Len(t, sm.ValidTransitions(FlowStateInProgress), 3) // Pause, Complete, Cancel
	assert.Len(t, sm.ValidTransitions(FlowStatePaused), 2)     // Resume, Cancel
	assert.Len(t, sm.ValidTransitions(FlowStateCompleted), 0)  // Terminal state
	assert.Len(t, sm.ValidTransitions(FlowStateCancelled), 0)  // Terminal state
}

func TestFlowStateMachine_IsTerminal(t *testing.T) {
	sm := NewFlowStateMachine()

	assert.False(t, sm.IsTerminal(FlowStateInProgress))
	assert.False(t, sm.IsTerminal(FlowStatePaused))
	assert.True(t, sm.IsTerminal(FlowStateCompleted))
	assert.True(t, sm.IsTerminal(FlowStateCancelled))
}

func TestFlowStateMachine_StepTransitions(t *testing.T) {
	sm := NewFlowStateMachine()

	tests := []struct {
		name        string
		from        StepState
		action      StepTransition
		expectedTo  StepState
		shouldError bool
	}{
		{"Pending -> InProgress", StepStatePending, StepTransitionActivate, StepStateInProgress, false},
		{"Pending -> Waiting", StepStatePending, StepTransitionAwaitAssignee, StepStateWaitingForAssignee, false},
		{"Waiting -> Completed", StepStateWaitingForAssignee, StepTransitionComplete, StepStateCompleted, false},
		{"InProgress -> Failed", StepStateInProgress, StepTransitionFail, StepStateFailed, false},
		{"Failed -> InProgress via Retry", StepStateFailed, StepTransitionRetry, StepStateInProgress, false},
		{"Pending -> Skipped", StepStatePending, StepTransitionSkip, StepStateSkipped, false},

		{"Pending -> Completed (invalid)", StepStatePending, StepTransitionComplete, StepStatePending, true},
		{"Completed -> Skipped (terminal)", StepStateCompleted, StepTransitionSkip, StepStateCompleted, true},
		{"Skipped -> InProgress (terminal)", StepStateSkipped, StepTransitionActivate, StepStateSkipped, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := sm.StepTransition(tc.from, tc.action)
			if tc.shouldError {
				assert.Error(t, err)
				assert.Equal(t, tc.from, next)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.expectedTo, next)
			}
		})
	}
}

func TestStepStateHelpers(t *testing.T) {
	assert.True(t, IsStepTerminal(StepStateFailed))
	assert.True(t, IsStepTerminal(StepStateSkipped))
	assert.False(t, IsStepTerminal(StepStateWaitingForAssignee))
	assert.True(t, IsStepActive(StepStateWaitingForAssignee))
	assert.False(t, IsStepActive(StepStatePending))
}
