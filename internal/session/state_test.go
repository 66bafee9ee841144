package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateConnecting, StateAwaitingReady, true},
		{StateAwaitingReady, StateStreaming, true},
		{StateStreaming, StateDraining, true},
		{StateDraining, StateClosed, true},
		{StateConnecting, StateClosed, true},
		{StateAwaitingReady, StateClosed, true},
		{StateStreaming, StateClosed, true},
		{StateConnecting, StateStreaming, false},
		{StateAwaitingReady, StateDraining, false},
		{StateDraining, StateStreaming, false},
		{StateStreaming, StateAwaitingReady, false},
		{StateClosed, StateConnecting, false},
		{StateClosed, StateClosed, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestMachine_HappyPath(t *testing.T) {
	m := NewMachine()
	var seen []State
	m.OnTransition(func(from, to State) { seen = append(seen, to) })

	for _, s := range []State{StateAwaitingReady, StateStreaming, StateDraining, StateClosed} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}

	if !m.Is(StateClosed) {
		t.Errorf("expected CLOSED, got %s", m.Current())
	}
	if len(seen) != 4 {
		t.Errorf("expected 4 observed transitions, got %v", seen)
	}
	select {
	case <-m.Done():
	default:
		t.Error("expected done channel to be closed")
	}
}

func TestMachine_RejectsSkippingDraining(t *testing.T) {
	m := NewMachine()
	_ = m.Transition(StateAwaitingReady)

	err := m.Transition(StateDraining)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if m.Current() != StateAwaitingReady {
		t.Errorf("state changed on rejected transition: %s", m.Current())
	}
}

func TestMachine_CloseOnce(t *testing.T) {
	m := NewMachine()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Close() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one close to win, got %d", wins.Load())
	}
}
