package sinks

import (
	"context"
	"fmt"
	"sync"

	"talkmix/internal/core/domain"

	"go.uber.org/zap"
)

// spawnFunc builds and opens a child sink wrapped in an unstarted worker.
type spawnFunc func(ctx context.Context, spec domain.SinkSpec) (*worker, error)

// FanoutSink hands every frame to a set of child sinks, each with its own
// queue and worker. A failing child is reported and never fails the group.
type FanoutSink struct {
	initial []domain.SinkSpec
	spawn   spawnFunc
	base    context.Context
	logger  *zap.SugaredLogger

	mu       sync.RWMutex
	children map[domain.SinkHandle]*worker
	order    []domain.SinkHandle
	failed   map[domain.SinkHandle]string
	closed   bool
}

func NewFanoutSink(base context.Context, params domain.FanoutParams, spawn spawnFunc, logger *zap.SugaredLogger) *FanoutSink {
	return &FanoutSink{
		initial:  params.Children,
		spawn:    spawn,
		base:     base,
		logger:   logger,
		children: make(map[domain.SinkHandle]*worker),
		failed:   make(map[domain.SinkHandle]string),
	}
}

func (s *FanoutSink) Kind() domain.SinkKind {
	return domain.SinkFanout
}

// Open starts the configured children. Children that fail to open are
// logged and skipped.
func (s *FanoutSink) Open(ctx context.Context) error {
	for i, spec := range s.initial {
		if _, err := s.AddChild(ctx, spec); err != nil {
			s.logger.Warnw("Skipping fanout child", "index", i, "kind", spec.Kind.String(), "error", err)
		}
	}
	return nil
}

// AddChild opens a new child and starts feeding it from the next frame.
func (s *FanoutSink) AddChild(ctx context.Context, spec domain.SinkSpec) (domain.SinkHandle, error) {
	if spec.Kind == domain.SinkFanout {
		return "", fmt.Errorf("%w: nested fanout is not supported", domain.ErrInvalidParameters)
	}
	if err := spec.Validate(); err != nil {
		return "", err
	}

	child, err := s.spawn(ctx, spec)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = child.sink.Finalize(ctx)
		child.releaseOutput()
		return "", fmt.Errorf("%w: fanout group is finishing", domain.ErrNotRunning)
	}
	s.children[child.handle] = child
	s.order = append(s.order, child.handle)
	s.mu.Unlock()

	child.start(s.base)
	s.logger.Infow("Fanout child added", "child", string(child.handle), "kind", spec.Kind.String())
	return child.handle, nil
}

// RemoveChild finalizes one child. The group keeps running.
func (s *FanoutSink) RemoveChild(ctx context.Context, handle domain.SinkHandle) error {
	s.mu.Lock()
	child, ok := s.children[handle]
	if ok {
		delete(s.children, handle)
		for i, h := range s.order {
			if h == handle {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: child %s", domain.ErrSinkNotFound, handle)
	}
	if err := child.finish(ctx); err != nil {
		s.logger.Warnw("Fanout child finalize failed", "child", string(handle), "error", err)
	}
	child.metrics.RemoveSink(handle, child.kind)
	return nil
}

// Write offers the frame to every child. Child overflow or failure stays
// with that child.
func (s *FanoutSink) Write(_ context.Context, frame *domain.Frame) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, handle := range s.order {
		s.children[handle].offer(frame)
	}
	return nil
}

// Finalize finishes every child concurrently. Failed children are recorded
// in Failed and do not make the group fail.
func (s *FanoutSink) Finalize(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	workers := make([]*worker, 0, len(s.order))
	for _, handle := range s.order {
		workers = append(workers, s.children[handle])
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(workers))
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w *worker) {
			defer wg.Done()
			errs[i] = w.finish(ctx)
		}(i, w)
	}
	wg.Wait()

	s.mu.Lock()
	for i, err := range errs {
		if err != nil {
			s.failed[workers[i].handle] = err.Error()
			s.logger.Warnw("Fanout child failed to finalize", "child", string(workers[i].handle), "error", err)
		}
	}
	s.mu.Unlock()
	return nil
}

// child returns a live child worker.
func (s *FanoutSink) child(handle domain.SinkHandle) (*worker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.children[handle]
	return w, ok
}

// Children snapshots the children in insertion order.
func (s *FanoutSink) Children() []domain.SinkInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := make([]domain.SinkInfo, 0, len(s.order))
	for _, handle := range s.order {
		infos = append(infos, s.children[handle].info())
	}
	return infos
}

// Failed lists children whose finalize failed, with the reason.
func (s *FanoutSink) Failed() map[domain.SinkHandle]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.SinkHandle]string, len(s.failed))
	for k, v := range s.failed {
		out[k] = v
	}
	return out
}
