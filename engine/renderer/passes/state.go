package passes

import (
	"errors"
	"fmt"
)

var ErrInvalidState = errors.New("invalid pass state transition")

type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateActive
	StateDisabled
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateActive:
		return "active"
	case StateDisabled:
		return "disabled"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

func (s State) canTransition(to State) bool {
	switch s {
	case StateUninitialized:
		return to == StateInitialized || to == StateDestroyed
	case StateInitialized, StateActive, StateDisabled:
		return to == StateActive || to == StateDisabled || to == StateDestroyed
	default:
		return false
	}
}

// Transition moves s to the target state or fails with ErrInvalidState.
func (s *State) Transition(to State) error {
	if !s.canTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, *s, to)
	}
	*s = to
	return nil
}
