package core

import (
	"errors"
	"fmt"
	"time"
)

type CallbackState string

const (
	CallbackStateAwaiting   CallbackState = "awaiting_callback"
	CallbackStateValidating CallbackState = "validating"
	CallbackStateExchanging CallbackState = "exchanging"
	CallbackStatePersisting CallbackState = "persisting"
	CallbackStateCompleted  CallbackState = "completed"
	CallbackStateFailed     CallbackState = "failed"
)

type CallbackFailureReason string

const (
	CallbackFailureStateInvalid      CallbackFailureReason = "state_invalid"
	CallbackFailureStateExpired      CallbackFailureReason = "state_expired"
	CallbackFailureStateReplayed     CallbackFailureReason = "state_replayed"
	CallbackFailureOwnershipMismatch CallbackFailureReason = "ownership_mismatch"
	CallbackFailureExchangeFailed    CallbackFailureReason = "exchange_failed"
	CallbackFailurePersistenceFailed CallbackFailureReason = "persistence_failed"
)

// CallbackStateMachine tracks one callback's walk through
// awaiting_callback -> validating -> exchanging -> persisting -> completed.
// Failed absorbs from any non-terminal state. Terminal states are final:
// the authorization code is single use at the provider, so there is nothing
// to retry inside the machine.
type CallbackStateMachine struct {
	current CallbackState
	visited []CallbackState
	reason  CallbackFailureReason
	cause   error
}

func NewCallbackStateMachine() *CallbackStateMachine {
	return &CallbackStateMachine{
		current: CallbackStateAwaiting,
		visited: []CallbackState{CallbackStateAwaiting},
	}
}

func (m *CallbackStateMachine) Current() CallbackState {
	if m == nil {
		return ""
	}
	return m.current
}

func (m *CallbackStateMachine) Visited() []CallbackState {
	if m == nil {
		return nil
	}
	return append([]CallbackState(nil), m.visited...)
}

func (m *CallbackStateMachine) FailureReason() CallbackFailureReason {
	if m == nil {
		return ""
	}
	return m.reason
}

func (m *CallbackStateMachine) Terminal() bool {
	if m == nil {
		return false
	}
	return m.current == CallbackStateCompleted || m.current == CallbackStateFailed
}

func (m *CallbackStateMachine) Advance(next CallbackState) error {
	if m == nil {
		return fmt.Errorf("core: callback state machine is nil")
	}
	if !callbackTransitionAllowed(m.current, next) {
		return fmt.Errorf("core: invalid callback transition: %s -> %s", m.current, next)
	}
	m.current = next
	m.visited = append(m.visited, next)
	return nil
}

// Fail moves the machine to its absorbing failure state. Calling Fail from a
// terminal state is a programming error and panics in tests via the returned
// error path instead.
func (m *CallbackStateMachine) Fail(reason CallbackFailureReason, cause error) error {
	if m == nil {
		return fmt.Errorf("core: callback state machine is nil")
	}
	if m.Terminal() {
		return fmt.Errorf("core: invalid callback transition: %s -> %s", m.current, CallbackStateFailed)
	}
	m.current = CallbackStateFailed
	m.visited = append(m.visited, CallbackStateFailed)
	m.reason = reason
	m.cause = cause
	return nil
}

func callbackTransitionAllowed(current, next CallbackState) bool {
	allowed := map[CallbackState]map[CallbackState]struct{}{
		CallbackStateAwaiting: {
			CallbackStateValidating: {},
		},
		CallbackStateValidating: {
			CallbackStateExchanging: {},
		},
		CallbackStateExchanging: {
			CallbackStatePersisting: {},
		},
		CallbackStatePersisting: {
			CallbackStateCompleted: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

type CallbackResult struct {
	State         CallbackState
	FailureReason CallbackFailureReason
	Integration   Integration
	// Visited is the transition trail, in order, for observability.
	Visited     []CallbackState
	CompletedAt time.Time
}

func (r CallbackResult) Completed() bool {
	return r.State == CallbackStateCompleted
}

func failureReasonForStateError(err error) CallbackFailureReason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStateReplayed):
		return CallbackFailureStateReplayed
	case errors.Is(err, ErrStateExpired):
		return CallbackFailureStateExpired
	default:
		return CallbackFailureStateInvalid
	}
}
