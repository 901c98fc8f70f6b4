package domain

import (
	"time"
)

type StreamID string
type SinkHandle string
type SessionID string

// StreamStatus turns a stream's audio or video on and off.
type StreamStatus struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

func (s StreamStatus) String() string {
	switch {
	case s.Video && s.Audio:
		return "audio/video"
	case s.Video:
		return "video only"
	case s.Audio:
		return "audio only"
	default:
		return "no media"
	}
}

type Stream struct {
	ID        StreamID     `json:"id"`
	Title     string       `json:"title"`
	Status    StreamStatus `json:"status"`
	Blinded   bool         `json:"blinded"`
	BlindMode BlindMode    `json:"blind_mode,omitempty"`
	AddedAt   time.Time    `json:"added_at"`
}
