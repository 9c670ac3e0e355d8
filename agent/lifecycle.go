package agent

import (
	"errors"
	"fmt"
)

// ErrInvalidLoopTransition is returned when the loop attempts an illegal state change.
var ErrInvalidLoopTransition = errors.New("invalid loop state transition")

func isTerminalLoopState(state LoopState) bool {
	return state == LoopStateDone || state == LoopStateFailed
}

func validateLoopTransition(from, to LoopState) error {
	if from == to {
		return nil
	}
	if isTerminalLoopState(from) {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidLoopTransition, from)
	}
	allowed, ok := allowedLoopTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown source state %q", ErrInvalidLoopTransition, from)
	}
	if _, ok := allowed[to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidLoopTransition, from, to)
	}
	return nil
}

func transitionLoopState(state *LoopState, to LoopState) error {
	if err := validateLoopTransition(*state, to); err != nil {
		return err
	}
	*state = to
	return nil
}

var allowedLoopTransitions = map[LoopState]map[LoopState]struct{}{
	"": {
		LoopStateAwaitingModel: {},
		LoopStateFailed:        {},
	},
	LoopStateAwaitingModel: {
		LoopStateExecutingTools: {},
		LoopStateDone:           {},
		LoopStateFailed:         {},
	},
	LoopStateExecutingTools: {
		LoopStateAwaitingModel: {},
		LoopStateFailed:        {},
	},
	LoopStateDone:   {},
	LoopStateFailed: {},
}
