package domain

import "time"

// SessionMetrics is a point-in-time snapshot of the compositing session.
type SessionMetrics struct {
	SessionID      SessionID     `json:"session_id"`
	State          SessionState  `json:"state"`
	StreamsActive  int           `json:"streams_active"`
	VisibleStreams int           `json:"visible_streams"`
	PlanVersion    uint64        `json:"plan_version"`
	FramesRendered uint64        `json:"frames_rendered"`
	Uptime         time.Duration `json:"uptime"`
	Sinks          []SinkInfo    `json:"sinks"`
	Timestamp      time.Time     `json:"timestamp"`
}

// HealthScore is 100 when every sink runs and drops nothing, lower as sinks degrade or fail.
func (m SessionMetrics) HealthScore() float64 {
	if len(m.Sinks) == 0 {
		return 100
	}
	score := 0.0
	for _, s := range m.Sinks {
		switch s.State {
		case SinkRunning, SinkStarting, SinkFinishing, SinkFinished:
			score += 1
		case SinkDegraded:
			score += 0.5
		}
	}
	return score / float64(len(m.Sinks)) * 100
}
