package topology

import "fmt"

// State is the observed lifecycle state of a service instance.
type State string

const (
	StateCreated    State = "created"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateExited     State = "exited"
	StateStopped    State = "stopped"
)

// Desired is what the operator asked for. Only an explicit stop sets
// DesiredStopped, and only a manual start clears it.
type Desired string

const (
	DesiredRunning Desired = "running"
	DesiredStopped Desired = "stopped"
)

var transitions = map[State][]State{
	StateCreated:    {StateRunning, StateExited, StateStopped},
	StateRunning:    {StateExited, StateRestarting, StateStopped},
	StateExited:     {StateRestarting, StateRunning, StateStopped},
	StateRestarting: {StateRunning, StateExited, StateStopped},
	StateStopped:    {StateRunning},
}

// Transition validates a state change. Staying in the same state is always
// allowed.
func Transition(from, to State) error {
	if from == to {
		return nil
	}
	for _, s := range transitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Live reports whether the instance occupies its ports (or is about to).
func (s State) Live() bool {
	return s == StateRunning || s == StateRestarting
}
