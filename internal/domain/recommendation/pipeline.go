package recommendation

import (
	"fmt"
	"time"
)

// PipelineState is a step of one recommendation run
type PipelineState string

const (
	StateReceived            PipelineState = "RECEIVED"
	StateIntentParsed        PipelineState = "INTENT_PARSED"
	StateConstraintsResolved PipelineState = "CONSTRAINTS_RESOLVED"
	StateRetrieved           PipelineState = "RETRIEVED"
	StateValidated           PipelineState = "VALIDATED"
	StateDone                PipelineState = "DONE"
	StateFailed              PipelineState = "FAILED"
)

var nextState = map[PipelineState]PipelineState{
	StateReceived:            StateIntentParsed,
	StateIntentParsed:        StateConstraintsResolved,
	StateConstraintsResolved: StateRetrieved,
	StateRetrieved:           StateValidated,
	StateValidated:           StateDone,
}

// IsTerminal reports whether no further transition is allowed
func (s PipelineState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransitionTo checks whether the transition is valid
func (s PipelineState) CanTransitionTo(to PipelineState) bool {
	if s.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return nextState[s] == to
}

// Transition records one state change
type Transition struct {
	From PipelineState
	To   PipelineState
	At   time.Time
}

// PipelineRun tracks one run through the states. Not safe for concurrent
// use; each request owns its run.
type PipelineRun struct {
	requestID   string
	state       PipelineState
	startedAt   time.Time
	transitions []Transition
	failure     string
	now         func() time.Time
}

// NewPipelineRun starts a run in RECEIVED
func NewPipelineRun(requestID string, now func() time.Time) *PipelineRun {
	if now == nil {
		now = time.Now
	}
	return &PipelineRun{
		requestID: requestID,
		state:     StateReceived,
		startedAt: now(),
		now:       now,
	}
}

// RequestID returns the run's request ID
func (r *PipelineRun) RequestID() string { return r.requestID }

// State returns the current state
func (r *PipelineRun) State() PipelineState { return r.state }

// StartedAt returns when the run began
func (r *PipelineRun) StartedAt() time.Time { return r.startedAt }

// FailureReason returns why the run failed, if it did
func (r *PipelineRun) FailureReason() string { return r.failure }

// Transitions returns the recorded transitions
func (r *PipelineRun) Transitions() []Transition {
	out := make([]Transition, len(r.transitions))
	copy(out, r.transitions)
	return out
}

// Advance moves to the next state; skipping a state is rejected
func (r *PipelineRun) Advance(to PipelineState) error {
	if r.state.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrPipelineTerminated, r.state)
	}
	if to == StateFailed || !r.state.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, r.state, to)
	}
	r.record(to)
	return nil
}

// Fail moves the run to FAILED from any non-terminal state
func (r *PipelineRun) Fail(reason string) error {
	if r.state.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrPipelineTerminated, r.state)
	}
	r.failure = reason
	r.record(StateFailed)
	return nil
}

func (r *PipelineRun) record(to PipelineState) {
	r.transitions = append(r.transitions, Transition{From: r.state, To: to, At: r.now()})
	r.state = to
}
