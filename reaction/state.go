package reaction

// State is the lifecycle state of a Reaction.
type State int

// Reaction states. Error and Finalized are terminal.
const (
	Uninitialized State = iota
	Provisioning
	Ready
	Running
	Stopped
	Error
	Finalized
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Provisioning:
		return "PROVISIONING"
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Stopped:
		return "STOPPED"
	case Error:
		return "ERROR"
	case Finalized:
		return "FINALIZED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Error || s == Finalized
}
