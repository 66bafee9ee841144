package session

import (
	"errors"
	"fmt"
	"sync"
)

var ErrInvalidTransition = errors.New("invalid state transition")

type State string

const (
	StateConnecting    State = "CONNECTING"
	StateAwaitingReady State = "AWAITING_READY"
	StateStreaming     State = "STREAMING"
	StateDraining      State = "DRAINING"
	StateClosed        State = "CLOSED"
)

func (s State) String() string {
	return string(s)
}

var transitions = map[State][]State{
	StateConnecting:    {StateAwaitingReady, StateClosed},
	StateAwaitingReady: {StateStreaming, StateClosed},
	StateStreaming:     {StateDraining, StateClosed},
	StateDraining:      {StateClosed},
}

func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Machine struct {
	mu           sync.Mutex
	state        State
	done         chan struct{}
	onTransition func(from, to State)
}

func NewMachine() *Machine {
	return &Machine{
		state: StateConnecting,
		done:  make(chan struct{}),
	}
}

// OnTransition registers fn to run after every accepted transition. It is
// called with the machine lock released.
func (m *Machine) OnTransition(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
}

func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Is(s State) bool {
	return m.Current() == s
}

func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	if to == StateClosed {
		close(m.done)
	}
	fn := m.onTransition
	m.mu.Unlock()

	if fn != nil {
		fn(from, to)
	}
	return nil
}

// Close moves the machine to StateClosed from any state. It reports whether
// this call performed the transition.
func (m *Machine) Close() bool {
	return m.Transition(StateClosed) == nil
}

func (m *Machine) Done() <-chan struct{} {
	return m.done
}
