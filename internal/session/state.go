package session

type State int

const (
	Idle State = iota
	Connecting
	Active
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal states are never left.
func (s State) Terminal() bool {
	return s == Stopped || s == Failed
}
