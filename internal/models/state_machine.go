// Package models provides data structures and state management for iron condor positions.
package models

import (
	"fmt"
	"time"
)

// PositionState represents the lifecycle state of a position
type PositionState string

const (
	StateCandidate PositionState = "candidate" // Built by the engine, not yet filled
	StateOpen      PositionState = "open"      // Entry combo filled, position is live
	StateClosing   PositionState = "closing"   // Unwind order submitted, awaiting fill
	StateClosed    PositionState = "closed"    // Unwind filled, terminal
)

// Transition conditions
const (
	ConditionEntryFilled   = "entry_filled"
	ConditionExitTriggered = "exit_triggered"
	ConditionExitAbandoned = "exit_abandoned"
	ConditionExitFilled    = "exit_filled"
)

// StateTransition defines valid state transitions
type StateTransition struct {
	From        PositionState
	To          PositionState
	Condition   string
	Description string
}

// ValidTransitions lists every allowed lifecycle move. CLOSED has no outgoing edge.
var ValidTransitions = []StateTransition{
	{StateCandidate, StateOpen, ConditionEntryFilled, "All four legs filled as one combo"},
	{StateOpen, StateClosing, ConditionExitTriggered, "Exit rule fired, unwind submitted"},
	{StateClosing, StateOpen, ConditionExitAbandoned, "Unwind failed, rejected or canceled"},
	{StateClosing, StateClosed, ConditionExitFilled, "Unwind combo filled"},
}

// StateMachine manages position state transitions
type StateMachine struct {
	transitionTime  time.Time
	transitionCount map[PositionState]int
	currentState    PositionState
	previousState   PositionState
}

// NewStateMachine creates a new state machine starting at CANDIDATE
func NewStateMachine() *StateMachine {
	return NewStateMachineFromState(StateCandidate)
}

// NewStateMachineFromState rebuilds a machine for a persisted position.
func NewStateMachineFromState(state PositionState) *StateMachine {
	if state == "" {
		state = StateCandidate
	}
	return &StateMachine{
		currentState:    state,
		previousState:   state,
		transitionCount: make(map[PositionState]int),
	}
}

// GetCurrentState returns the current state
func (sm *StateMachine) GetCurrentState() PositionState {
	return sm.currentState
}

// GetPreviousState returns the previous state
func (sm *StateMachine) GetPreviousState() PositionState {
	return sm.previousState
}

// GetTransitionTime returns when the last transition happened
func (sm *StateMachine) GetTransitionTime() time.Time {
	return sm.transitionTime
}

// IsValidTransition checks if a transition is valid
func (sm *StateMachine) IsValidTransition(to PositionState, condition string) error {
	for _, transition := range ValidTransitions {
		if transition.From == sm.currentState && transition.To == to && transition.Condition == condition {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s with condition '%s'",
		sm.currentState, to, condition)
}

// Transition moves to a new state. at is the snapshot time driving the move.
func (sm *StateMachine) Transition(to PositionState, condition string, at time.Time) error {
	if err := sm.IsValidTransition(to, condition); err != nil {
		return err
	}

	sm.previousState = sm.currentState
	sm.currentState = to
	sm.transitionTime = at.UTC()
	sm.transitionCount[to]++
	return nil
}

// GetTransitionCount returns how many times we've entered a state
func (sm *StateMachine) GetTransitionCount(state PositionState) int {
	return sm.transitionCount[state]
}

// IsTerminal reports whether the machine reached CLOSED
func (sm *StateMachine) IsTerminal() bool {
	return sm.currentState == StateClosed
}

// IsActive reports whether the position still counts against max_positions
func (sm *StateMachine) IsActive() bool {
	return sm.currentState == StateOpen || sm.currentState == StateClosing
}

// GetStateDescription returns a human-readable description of the current state
func (sm *StateMachine) GetStateDescription() string {
	switch sm.currentState {
	case StateCandidate:
		return "Candidate built, waiting for risk approval and entry fill"
	case StateOpen:
		return "Position open, exits evaluated every tick"
	case StateClosing:
		return "Unwind submitted, waiting for broker fill"
	case StateClosed:
		return "Position closed"
	default:
		return "Unknown state"
	}
}

// Copy creates a deep copy of the StateMachine
func (sm *StateMachine) Copy() *StateMachine {
	if sm == nil {
		return nil
	}

	newSM := &StateMachine{
		currentState:   sm.currentState,
		previousState:  sm.previousState,
		transitionTime: sm.transitionTime,
	}

	newSM.transitionCount = make(map[PositionState]int, len(sm.transitionCount))
	for k, v := range sm.transitionCount {
		newSM.transitionCount[k] = v
	}

	return newSM
}
