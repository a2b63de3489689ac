package system

import "fmt"

// SystemState is the lifecycle phase of the gateway process.
type SystemState int

const (
	StateInitializing SystemState = iota
	StateRunning
	StateRestarting
	StateStopping
	StateStopped
	StateError
)

var stateNames = [...]string{
	StateInitializing: "INITIALIZING",
	StateRunning:      "RUNNING",
	StateRestarting:   "RESTARTING",
	StateStopping:     "STOPPING",
	StateStopped:      "STOPPED",
	StateError:        "ERROR",
}

func (s SystemState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Restartable reports whether the gateway pipeline may be rebuilt.
func (s SystemState) Restartable() bool {
	return s == StateRunning || s == StateError
}

// transitions lists the allowed next states.
var transitions = map[SystemState]map[SystemState]bool{
	StateInitializing: {StateRunning: true, StateError: true, StateStopping: true},
	StateRunning:      {StateRestarting: true, StateStopping: true, StateError: true},
	StateRestarting:   {StateRunning: true, StateError: true, StateStopping: true},
	StateStopping:     {StateStopped: true, StateError: true},
	StateStopped:      {StateInitializing: true},
	StateError:        {StateInitializing: true, StateRestarting: true, StateStopping: true, StateStopped: true},
}

func ValidateTransition(from, to SystemState) error {
	next, ok := transitions[from]
	if !ok {
		return fmt.Errorf("invalid current state: %s", from)
	}
	if !next[to] {
		return fmt.Errorf("invalid state transition: %s -> %s", from, to)
	}
	return nil
}
