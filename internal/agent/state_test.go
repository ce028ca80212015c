package agent

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateAwaitingModel, true},
		{StateIdle, StateStreamingText, false},
		{StateAwaitingModel, StateStreamingText, true},
		{StateAwaitingModel, StateAwaitingTool, true},
		{StateAwaitingModel, StateCompleted, true},
		{StateStreamingText, StateStreamingText, true},
		{StateStreamingText, StateAwaitingTool, true},
		{StateStreamingText, StateCompleted, true},
		{StateStreamingText, StateIdle, false},
		{StateAwaitingTool, StateStreamingText, true},
		{StateAwaitingTool, StateAwaitingModel, false},
		{StateIdle, StateError, true},
		{StateAwaitingTool, StateCancelled, true},
		{StateCompleted, StateError, false},
		{StateCancelled, StateStreamingText, false},
		{StateError, StateCancelled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTurn_TransitionHistory(t *testing.T) {
	turn := newTurn("t1", "s1")
	for _, next := range []State{StateAwaitingModel, StateStreamingText, StateStreamingText, StateAwaitingTool, StateStreamingText, StateCompleted} {
		if err := turn.transition(next); err != nil {
			t.Fatalf("transition(%s) error = %v", next, err)
		}
	}
	want := []State{StateIdle, StateAwaitingModel, StateStreamingText, StateAwaitingTool, StateStreamingText, StateCompleted}
	got := turn.States()
	if len(got) != len(want) {
		t.Fatalf("States() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("States() = %v, want %v", got, want)
		}
	}

	if err := turn.transition(StateError); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("transition from terminal error = %v", err)
	}
}
