package session

// State is the lifecycle state of a Session.
type State int32

const (
	// NotStarted has no child process. Stopping or losing the child returns here.
	NotStarted State = iota
	// Starting is resolving and spawning the child.
	Starting
	// Started has a live child accepting queries.
	Started
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Starting:
		return "starting"
	case Started:
		return "started"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	NotStarted: {Starting},
	Starting:   {Started, NotStarted},
	Started:    {NotStarted},
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
