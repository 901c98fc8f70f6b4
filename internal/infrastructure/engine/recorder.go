package engine

import (
	"context"
	"sync"
	"time"

	"talkmix/internal/core/domain"
	"talkmix/internal/core/ports"
)

// Recorder is an engine that only records the plans it receives. It lets the
// session be exercised without media.
type Recorder struct {
	mu          sync.Mutex
	interval    time.Duration
	plans       []*domain.RenderPlan
	failApply   error
	failCompose error
	seq         uint64
	closed      bool
}

func NewRecorder(interval time.Duration) *Recorder {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return &Recorder{interval: interval}
}

func (r *Recorder) Apply(_ context.Context, plan *domain.RenderPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failApply; err != nil {
		r.failApply = nil
		return err
	}
	r.plans = append(r.plans, plan.Clone())
	return nil
}

func (r *Recorder) Compose(_ context.Context) (*domain.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failCompose != nil {
		return nil, r.failCompose
	}
	frame := &domain.Frame{
		Seq:      r.seq,
		PTS:      time.Duration(r.seq) * r.interval,
		Duration: r.interval,
	}
	if n := len(r.plans); n > 0 {
		last := r.plans[n-1]
		frame.PlanVersion = last.Version
		frame.Resolution = last.Resolution
		for _, tile := range last.Tiles {
			frame.Layers = append(frame.Layers, domain.VideoLayer{
				StreamID: tile.StreamID,
				Region:   tile.Region,
				Blank:    tile.Blind != domain.BlindNone,
				Title:    tile.Title,
			})
		}
	}
	r.seq++
	return frame, nil
}

func (r *Recorder) FrameInterval() time.Duration {
	return r.interval
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// FailNextApply makes the next Apply return err.
func (r *Recorder) FailNextApply(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failApply = err
}

// FailCompose makes every Compose return err until cleared with nil.
func (r *Recorder) FailCompose(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failCompose = err
}

func (r *Recorder) Plans() []*domain.RenderPlan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.RenderPlan(nil), r.plans...)
}

// Last returns the most recent plan, or nil.
func (r *Recorder) Last() *domain.RenderPlan {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.plans) == 0 {
		return nil
	}
	return r.plans[len(r.plans)-1]
}

func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

var _ ports.Engine = (*Recorder)(nil)
