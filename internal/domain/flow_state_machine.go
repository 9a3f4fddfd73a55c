package domain

import (
	"fmt"

	"github.com/nexusflow/backend/pkg/constants"
)

// FlowState represents the current state of a flow instance
type FlowState string

const (
	// FlowStateInProgress indicates the instance is advancing through its steps
	FlowStateInProgress FlowState = constants.FlowInstanceStatusInProgress
	// FlowStatePaused indicates an operator halted advancement
	FlowStatePaused FlowState = constants.FlowInstanceStatusPaused
	// FlowStateCompleted indicates every reachable step reached a terminal state
	FlowStateCompleted FlowState = constants.FlowInstanceStatusCompleted
	// FlowStateCancelled indicates the instance was explicitly terminated
	FlowStateCancelled FlowState = constants.FlowInstanceStatusCancelled
)

// FlowTransition represents an action that can change flow state
type FlowTransition string

const (
	TransitionPause    FlowTransition = "Pause"
	TransitionResume   FlowTransition = "Resume"
	TransitionComplete FlowTransition = "Complete"
	TransitionCancel   FlowTransition = "Cancel"
)

// StepState represents the current state of a step execution
type StepState string

const (
	StepStatePending            StepState = constants.StepStatusPending
	StepStateWaitingForAssignee StepState = constants.StepStatusWaitingForAssignee
	StepStateInProgress         StepState = constants.StepStatusInProgress
	StepStateCompleted          StepState = constants.StepStatusCompleted
	StepStateSkipped            StepState = constants.StepStatusSkipped
	StepStateFailed             StepState = constants.StepStatusFailed
)

// StepTransition represents an action that can change step state
type StepTransition string

const (
	StepTransitionActivate      StepTransition = "Activate"
	StepTransitionAwaitAssignee StepTransition = "AwaitAssignee"
	StepTransitionComplete      StepTransition = "Complete"
	StepTransitionSkip          StepTransition = "Skip"
	StepTransitionFail          StepTransition = "Fail"
	StepTransitionRetry         StepTransition = "Retry"
)

// FlowStateMachine enforces valid state transitions for flow instances and
// their step executions. Invalid transitions return an error (fail-fast approach).
type FlowStateMachine struct {
	transitions     map[stateTransitionKey]FlowState
	stepTransitions map[stepTransitionKey]StepState
}

type stateTransitionKey struct {
	state      FlowState
	transition FlowTransition
}

type stepTransitionKey struct {
	state      StepState
	transition StepTransition
}

// NewFlowStateMachine creates a new state machine with the instance and step lifecycle rules.
// Instance diagram:
//
//	   [InProgress] ◄──Resume──┐
//	    │    │    \            │
//	 Pause Cancel Complete     │
//	    │    │      \          │
//	    ▼    ▼       ▼         │
//	[Paused] [Cancelled] [Completed]
//	    │        ▲             │
//	    └─Cancel─┘             │
//	    └──────────────────────┘
//
// Step diagram:
//
//	[Pending] ─Activate─► [InProgress] ─Complete─► [Completed]
//	    │                  ▲      │
//	AwaitAssignee   Activate/Retry Fail
//	    ▼                  │      ▼
//	[WaitingForAssignee] ──┘   [Failed]
//
//	Pending, WaitingForAssignee and InProgress can be skipped.
func NewFlowStateMachine() *FlowStateMachine {
	sm := &FlowStateMachine{
		transitions:     make(map[stateTransitionKey]FlowState),
		stepTransitions: make(map[stepTransitionKey]StepState),
	}

	sm.addTransition(FlowStateInProgress, TransitionPause, FlowStatePaused)
	sm.addTransition(FlowStateInProgress, TransitionComplete, FlowStateCompleted)
	sm.addTransition(FlowStateInProgress, TransitionCancel, FlowStateCancelled)
	sm.addTransition(FlowStatePaused, TransitionResume, FlowStateInProgress)
	sm.addTransition(FlowStatePaused, TransitionCancel, FlowStateCancelled)

	sm.addStepTransition(StepStatePending, StepTransitionActivate, StepStateInProgress)
	sm.addStepTransition(StepStatePending, StepTransitionAwaitAssignee, StepStateWaitingForAssignee)
	sm.addStepTransition(StepStatePending, StepTransitionSkip, StepStateSkipped)
	sm.addStepTransition(StepStateWaitingForAssignee, StepTransitionActivate, StepStateInProgress)
	sm.addStepTransition(StepStateWaitingForAssignee, StepTransitionComplete, StepStateCompleted)
	sm.addStepTransition(StepStateWaitingForAssignee, StepTransitionSkip, StepStateSkipped)
	sm.addStepTransition(StepStateWaitingForAssignee, StepTransitionFail, StepStateFailed)
	sm.addStepTransition(StepStateInProgress, StepTransitionComplete, StepStateCompleted)
	sm.addStepTransition(StepStateInProgress, StepTransitionSkip, StepStateSkipped)
	sm.addStepTransition(StepStateInProgress, StepTransitionFail, StepStateFailed)
	sm.addStepTransition(StepStateFailed, StepTransitionRetry, StepStateInProgress)

	return sm
}

func (sm *FlowStateMachine) addTransition(from FlowState, via FlowTransition, to FlowState) {
	sm.transitions[stateTransitionKey{state: from, transition: via}] = to
}

func (sm *FlowStateMachine) addStepTransition(from StepState, via StepTransition, to StepState) {
	sm.stepTransitions[stepTransitionKey{state: from, transition: via}] = to
}

// Transition attempts to transition from the current state using the given action.
// Returns the new state or an error if the transition is invalid.
func (sm *FlowStateMachine) Transition(current FlowState, action FlowTransition) (FlowState, error) {
	next, ok := sm.transitions[stateTransitionKey{state: current, transition: action}]
	if !ok {
		return current, fmt.Errorf("invalid state transition: cannot %s from %s", action, current)
	}
	return next, nil
}

// CanTransition checks if a transition is valid without performing it.
func (sm *FlowStateMachine) CanTransition(current FlowState, action FlowTransition) bool {
	_, ok := sm.transitions[stateTransitionKey{state: current, transition: action}]
	return ok
}

// ValidTransitions returns all valid transitions from the given state.
func (sm *FlowStateMachine) ValidTransitions(state FlowState) []FlowTransition {
	var result []FlowTransition
	for key := range sm.transitions {
		if key.state == state {
			result = append(result, key.transition)
		}
	}
	return result
}

// IsTerminal returns true if the state is a terminal state (no further transitions).
func (sm *FlowStateMachine) IsTerminal(state FlowState) bool {
	return state == FlowStateCompleted || state == FlowStateCancelled
}

// StepTransition attempts a step transition. Returns the new state or an error.
func (sm *FlowStateMachine) StepTransition(current StepState, action StepTransition) (StepState, error) {
	next, ok := sm.stepTransitions[stepTransitionKey{state: current, transition: action}]
	if !ok {
		return current, fmt.Errorf("invalid step transition: cannot %s from %s", action, current)
	}
	return next, nil
}

// IsStepTerminal returns true for completed, skipped and failed steps.
func IsStepTerminal(state StepState) bool {
	return state == StepStateCompleted || state == StepStateSkipped || state == StepStateFailed
}

// IsStepActive returns true for steps currently awaiting work.
func IsStepActive(state StepState) bool {
	return state == StepStateInProgress || state == StepStateWaitingForAssignee
}
