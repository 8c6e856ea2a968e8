package sitecache

// State is the lifecycle position of a controller.
type State int32

const (
	StateNew State = iota
	StateInstalling
	StateInstalled // waiting for activation
	StateActivating
	StateActivated
	StateRedundant // install failed or retired by a newer version; never serves
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}
