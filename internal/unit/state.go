package unit

// State is a unit's position in its lifecycle:
// Idle -> Running(i) -> Waiting -> Running(i+1) -> ... -> Completed | Failed.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateWaiting
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
