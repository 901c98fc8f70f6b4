package domain

import "time"

// VideoLayer is one stream's picture inside a composed frame.
type VideoLayer struct {
	StreamID StreamID
	Region   Region
	Blank    bool
	Payload  []byte
	Title    string
}

// Frame is one tick of composed output, shared read-only by every sink.
type Frame struct {
	Seq          uint64
	PTS          time.Duration
	Duration     time.Duration
	PlanVersion  uint64
	Resolution   Size
	Layers       []VideoLayer
	Captions     []string
	Audio        []int16
	Contributors []StreamID
}
