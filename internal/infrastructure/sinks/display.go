package sinks

import (
	"context"
	"sync"

	"talkmix/internal/core/domain"

	"go.uber.org/zap"
)

// DisplaySink presents frames live and persists nothing. The latest frame is
// kept for preview endpoints.
type DisplaySink struct {
	params domain.DisplayParams
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	latest *domain.Frame
	shown  uint64
}

func NewDisplaySink(params domain.DisplayParams, logger *zap.SugaredLogger) *DisplaySink {
	return &DisplaySink{params: params, logger: logger}
}

func (s *DisplaySink) Kind() domain.SinkKind {
	return domain.SinkDisplay
}

func (s *DisplaySink) Open(_ context.Context) error {
	s.logger.Infow("Display opened", "name", s.params.Name, "sync", s.params.Sync)
	return nil
}

func (s *DisplaySink) Write(_ context.Context, frame *domain.Frame) error {
	s.mu.Lock()
	s.latest = frame
	s.shown++
	s.mu.Unlock()
	return nil
}

// Latest returns the most recently shown frame, or nil before the first one.
func (s *DisplaySink) Latest() *domain.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *DisplaySink) Finalize(_ context.Context) error {
	s.mu.RLock()
	shown := s.shown
	s.mu.RUnlock()
	s.logger.Infow("Display closed", "name", s.params.Name, "frames", shown)
	return nil
}
