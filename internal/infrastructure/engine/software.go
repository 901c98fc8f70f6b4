package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"talkmix/internal/core/domain"
	"talkmix/internal/core/ports"
	"talkmix/pkg/optimize"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("engine closed")

type Config struct {
	FrameRate  int `yaml:"frame_rate"`
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	// MaxSources bounds the graph. Plans above it are refused as an engine failure.
	MaxSources int `yaml:"max_sources"`
	// MaxBuffered caps queued audio per source, in frames.
	MaxBuffered int `yaml:"max_buffered"`
}

func DefaultConfig() Config {
	return Config{
		FrameRate:   25,
		SampleRate:  48000,
		Channels:    2,
		MaxSources:  64,
		MaxBuffered: 50,
	}
}

type source struct {
	audio  []int16
	video  []byte
	frozen []byte
}

// Software is an in-process engine: it keeps the latest picture and queued
// PCM per source, composes layers in slot order and mixes audio by summing
// samples with clamping.
type Software struct {
	mu       sync.Mutex
	cfg      Config
	graph    *Graph
	sources  map[domain.StreamID]*source
	blinders map[domain.BlindMode]ports.Blinder
	scratch  *optimize.SamplePool
	version  uint64
	seq      uint64
	closed   bool
	now      func() time.Time
	logger   *zap.SugaredLogger
}

func NewSoftware(cfg Config, logger *zap.SugaredLogger) (*Software, error) {
	if cfg.FrameRate <= 0 {
		return nil, fmt.Errorf("%w: frame_rate must be positive", domain.ErrInvalidParameters)
	}
	if cfg.SampleRate <= 0 || cfg.SampleRate%cfg.FrameRate != 0 {
		return nil, fmt.Errorf("%w: sample_rate must be a positive multiple of frame_rate", domain.ErrInvalidParameters)
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = DefaultConfig().MaxBuffered
	}
	return &Software{
		cfg:      cfg,
		graph:    NewGraph(),
		sources:  make(map[domain.StreamID]*source),
		blinders: defaultBlinders(),
		scratch:  optimize.NewSamplePool(cfg.SampleRate / cfg.FrameRate * cfg.Channels),
		now:      time.Now,
		logger:   logger,
	}, nil
}

// SetBlinder replaces the implementation used for a blind mode.
func (e *Software) SetBlinder(b ports.Blinder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.blinders[b.Mode()] = b
}

func (e *Software) FrameInterval() time.Duration {
	return time.Second / time.Duration(e.cfg.FrameRate)
}

// SamplesPerFrame is the number of interleaved samples in each composed frame.
func (e *Software) SamplesPerFrame() int {
	return e.cfg.SampleRate / e.cfg.FrameRate * e.cfg.Channels
}

func (e *Software) Apply(ctx context.Context, plan *domain.RenderPlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("%w: %v", domain.ErrEngineFailure, ErrClosed)
	}
	if e.cfg.MaxSources > 0 && len(plan.Inputs) > e.cfg.MaxSources {
		return fmt.Errorf("%w: %d sources exceed capacity %d", domain.ErrEngineFailure, len(plan.Inputs), e.cfg.MaxSources)
	}

	ops, err := e.graph.Diff(plan)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
	}

	for _, op := range ops {
		switch op.Kind {
		case OpAddSource:
			e.sources[op.StreamID] = &source{}
		case OpRemoveSource:
			delete(e.sources, op.StreamID)
		case OpUpdateSource:
			e.updateSource(op)
		}
	}
	e.graph.Apply(ops)
	e.version = plan.Version

	if len(ops) > 0 {
		e.logger.Debugw("Graph reconciled", "plan_version", plan.Version, "ops", len(ops), "nodes", e.graph.Len())
	}
	return nil
}

// updateSource handles status and blind transitions of a known source. The
// freeze picture is taken when the source becomes freeze-blinded and kept,
// placed or not, until it is unblinded. PCM queued while muted is dropped
// on unmute.
func (e *Software) updateSource(op Op) {
	src, ok := e.sources[op.StreamID]
	if !ok {
		return
	}
	prev, _ := e.graph.Node(op.StreamID)
	switch {
	case op.Input.Blind != domain.BlindFreeze:
		src.frozen = nil
	case prev.Input.Blind != domain.BlindFreeze:
		src.frozen = src.video
	}
	if op.Input.Audio && !prev.Input.Audio {
		src.audio = src.audio[:0]
	}
}

// Feed queues media for a source. Pictures replace the previous one; PCM is
// appended and trimmed to MaxBuffered frames.
func (e *Software) Feed(id domain.StreamID, pcm []int16, picture []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, ok := e.sources[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrStreamNotFound, id)
	}
	if picture != nil {
		src.video = append([]byte(nil), picture...)
	}
	if len(pcm) > 0 {
		src.audio = append(src.audio, pcm...)
		if limit := e.SamplesPerFrame() * e.cfg.MaxBuffered; len(src.audio) > limit {
			src.audio = append(src.audio[:0:0], src.audio[len(src.audio)-limit:]...)
		}
	}
	return nil
}

func (e *Software) Compose(ctx context.Context) (*domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	interval := e.FrameInterval()
	frame := &domain.Frame{
		Seq:         e.seq,
		PTS:         time.Duration(e.seq) * interval,
		Duration:    interval,
		PlanVersion: e.version,
		Resolution:  e.graph.Resolution(),
	}
	e.seq++

	for _, node := range e.graph.Placed() {
		src := e.sources[node.Input.StreamID]
		layer := domain.VideoLayer{
			StreamID: node.Input.StreamID,
			Region:   node.Tile.Region,
			Title:    node.Tile.Title,
		}
		if src != nil {
			layer.Payload = src.video
		}
		if node.Tile.Blind != domain.BlindNone {
			layer.Blank = true
			var last []byte
			if src != nil {
				last = src.frozen
			}
			if blinder, ok := e.blinders[node.Tile.Blind]; ok {
				layer.Payload = blinder.Blind(last, node.Tile.Region)
			}
		}
		frame.Layers = append(frame.Layers, layer)
	}

	frame.Audio, frame.Contributors = e.mixLocked()
	frame.Captions = e.captionsLocked()
	return frame, nil
}

// mixLocked drains one frame of PCM from every source and sums the
// audio-enabled ones. Blind state never reaches the mix.
func (e *Software) mixLocked() ([]int16, []domain.StreamID) {
	n := e.SamplesPerFrame()
	sum := e.scratch.Get()
	defer e.scratch.Put(sum)
	var contributors []domain.StreamID

	for _, id := range e.graph.sortedIDs() {
		node, _ := e.graph.Node(id)
		src := e.sources[id]
		if src == nil || len(src.audio) == 0 {
			continue
		}
		take := n
		if len(src.audio) < take {
			take = len(src.audio)
		}
		// Muted sources still consume their share so they stay in step
		// with the clock.
		if node.Input.Audio {
			for i := 0; i < take; i++ {
				sum[i] += int32(src.audio[i])
			}
			contributors = append(contributors, id)
		}
		src.audio = src.audio[take:]
	}

	mixed := make([]int16, n)
	for i, v := range sum {
		mixed[i] = clampPCM(v)
	}
	return mixed, contributors
}

func (e *Software) captionsLocked() []string {
	overlay := e.graph.Overlay()
	var captions []string
	if overlay.ShowTitle && overlay.Title != "" {
		captions = append(captions, overlay.Title)
	}
	if overlay.Clock {
		captions = append(captions, e.now().Format(overlay.ClockFormat))
	}
	return captions
}

func (e *Software) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.sources = make(map[domain.StreamID]*source)
	e.logger.Infow("Engine closed", "frames", e.seq)
	return nil
}

func clampPCM(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

var _ ports.Engine = (*Software)(nil)
