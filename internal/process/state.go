package process

// State is a server handle lifecycle state.
type State string

const (
	StateUnstarted   State = "unstarted"
	StateLaunched    State = "launched"
	StateReady       State = "ready"
	StateTerminating State = "terminating"
	StateTerminated  State = "terminated"
)

func (s State) String() string { return string(s) }

// validTransitions lists the forward moves of the handle state machine.
// Any started state may jump straight to Terminated when the process exits.
var validTransitions = map[State][]State{
	StateUnstarted:   {StateLaunched},
	StateLaunched:    {StateReady, StateTerminating, StateTerminated},
	StateReady:       {StateTerminating, StateTerminated},
	StateTerminating: {StateTerminated},
	StateTerminated:  {},
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
