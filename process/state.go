package process

import "fmt"

// State is the lifecycle state of an application instance.
type State int

const (
	StateStarting State = iota
	StateReady
	StateStopping
	StateStopped
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateCrashed:
		return "crashed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateCrashed
}

// validTransitions lists the allowed target states for each state. A process
// that exits while stopping is stopped; an exit from any other live state is
// a crash.
var validTransitions = map[State][]State{
	StateStarting: {StateReady, StateStopping, StateCrashed},
	StateReady:    {StateStopping, StateCrashed},
	StateStopping: {StateStopped},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
