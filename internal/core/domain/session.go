package domain

// SessionState is the lifecycle of a compositing session.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionRunning
	SessionDraining
	SessionStopped
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionRunning:
		return "running"
	case SessionDraining:
		return "draining"
	case SessionStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Accepting reports whether control operations may still change the session.
func (s SessionState) Accepting() bool {
	return s == SessionIdle || s == SessionRunning
}

// DrainReport summarises sink finalization on stop.
type DrainReport struct {
	Finalized []SinkHandle          `json:"finalized"`
	Failed    map[SinkHandle]string `json:"failed,omitempty"`
}
