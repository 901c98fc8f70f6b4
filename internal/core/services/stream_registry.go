package services

import (
	"fmt"
	"time"

	"talkmix/internal/core/domain"
	"talkmix/pkg/validation"
)

// StreamRegistry keeps the live streams in insertion order.
// It is not safe for concurrent use; the session serializes access.
type StreamRegistry struct {
	order   []domain.StreamID
	streams map[domain.StreamID]*domain.Stream
	now     func() time.Time
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		streams: make(map[domain.StreamID]*domain.Stream),
		now:     time.Now,
	}
}

// Add registers a stream with audio and video enabled.
func (r *StreamRegistry) Add(id domain.StreamID, title string) error {
	if err := validation.ValidateStreamID(string(id)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err)
	}
	if err := validation.ValidateTitle(title); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err)
	}
	if _, exists := r.streams[id]; exists {
		return fmt.Errorf("%w: %s", domain.ErrStreamExists, id)
	}

	r.streams[id] = &domain.Stream{
		ID:      id,
		Title:   title,
		Status:  domain.StreamStatus{Audio: true, Video: true},
		AddedAt: r.now(),
	}
	r.order = append(r.order, id)
	return nil
}

func (r *StreamRegistry) Remove(id domain.StreamID) error {
	if _, exists := r.streams[id]; !exists {
		return fmt.Errorf("%w: %s", domain.ErrStreamNotFound, id)
	}

	delete(r.streams, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *StreamRegistry) SetStatus(id domain.StreamID, audio, video bool) error {
	stream, exists := r.streams[id]
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrStreamNotFound, id)
	}
	stream.Status = domain.StreamStatus{Audio: audio, Video: video}
	return nil
}

func (r *StreamRegistry) SetTitle(id domain.StreamID, title string) error {
	stream, exists := r.streams[id]
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrStreamNotFound, id)
	}
	if err := validation.ValidateTitle(title); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err)
	}
	stream.Title = title
	return nil
}

func (r *StreamRegistry) Has(id domain.StreamID) bool {
	_, exists := r.streams[id]
	return exists
}

// Get returns a copy of the stream.
func (r *StreamRegistry) Get(id domain.StreamID) (domain.Stream, bool) {
	stream, exists := r.streams[id]
	if !exists {
		return domain.Stream{}, false
	}
	return *stream, true
}

func (r *StreamRegistry) Len() int {
	return len(r.order)
}

// List returns copies of all streams in insertion order.
func (r *StreamRegistry) List() []domain.Stream {
	out := make([]domain.Stream, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.streams[id])
	}
	return out
}

// Showable reports whether the stream can be placed in a layout.
func (r *StreamRegistry) Showable(id domain.StreamID) bool {
	stream, exists := r.streams[id]
	return exists && stream.Status.Video
}
