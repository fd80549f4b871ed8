package ws

import "fmt"

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal - Closed и Failed конечные, переподключения нет.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:       {StateConnecting},
	StateConnecting: {StateOpen, StateFailed},
	StateOpen:       {StateClosed, StateFailed},
}

// CanTransition сообщает, разрешён ли переход from -> to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// stateMachine не потокобезопасна, её защищает мьютекс клиента.
type stateMachine struct {
	current State
	trace   []State
}

func newStateMachine() stateMachine {
	return stateMachine{
		current: StateIdle,
		trace:   []State{StateIdle},
	}
}

func (m *stateMachine) transition(to State) error {
	if !CanTransition(m.current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, m.current, to)
	}

	m.current = to
	m.trace = append(m.trace, to)

	return nil
}
