package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventStreamAdded    EventType = "stream.added"
	EventStreamRemoved  EventType = "stream.removed"
	EventSpeakerChanged EventType = "speaker.changed"
	EventLayoutChanged  EventType = "layout.changed"
	EventSinkAdded      EventType = "sink.added"
	EventSinkRemoved    EventType = "sink.removed"
	EventSinkState      EventType = "sink.state"
	EventSessionState   EventType = "session.state"
)

// Event is a notification about a session change for external observers.
type Event struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	SessionID  SessionID       `json:"session_id"`
	Timestamp  time.Time       `json:"timestamp"`
	StreamID   StreamID        `json:"stream_id,omitempty"`
	Sink       SinkHandle      `json:"sink,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
