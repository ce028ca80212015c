package agent

import (
	"fmt"
	"strings"
)

// State is the phase of one turn.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingModel State = "awaiting_model"
	StateStreamingText State = "streaming_text"
	StateAwaitingTool  State = "awaiting_tool"
	StateCompleted     State = "completed"
	StateError         State = "error"
	StateCancelled     State = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError || s == StateCancelled
}

// transitions lists the forward edges. Error and Cancelled are reachable
// from every non-terminal state and are not listed.
var transitions = map[State][]State{
	StateIdle:          {StateAwaitingModel},
	StateAwaitingModel: {StateStreamingText, StateAwaitingTool, StateCompleted},
	StateStreamingText: {StateStreamingText, StateAwaitingTool, StateCompleted},
	StateAwaitingTool:  {StateStreamingText, StateCompleted},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateError || to == StateCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Turn is the in-flight state of one user request. It is owned by the
// orchestrator goroutine running the turn and discarded when it ends.
type Turn struct {
	ID        string
	SessionID string
	State     State

	// Text accumulates every round's assistant text.
	Text strings.Builder
	// Round holds the text of the round being streamed.
	Round strings.Builder
	// Pending are the tool calls requested by the current round.
	Pending []pendingCall

	Iterations int
	ToolCalls  int
	history    []State
}

type pendingCall struct {
	ID    string
	Name  string
	Input []byte
	// BadInput is set when the model sent arguments that are not JSON;
	// Input is then "{}" and the call fails without reaching the dispatcher.
	BadInput string
}

func newTurn(id, sessionID string) *Turn {
	return &Turn{ID: id, SessionID: sessionID, State: StateIdle, history: []State{StateIdle}}
}

// transition moves the turn to next or reports an illegal edge.
func (t *Turn) transition(next State) error {
	if !CanTransition(t.State, next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.State, next)
	}
	t.State = next
	if n := len(t.history); n == 0 || t.history[n-1] != next {
		t.history = append(t.history, next)
	}
	return nil
}

// States returns the distinct states visited in order.
func (t *Turn) States() []State {
	return append([]State(nil), t.history...)
}
