package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"talkmix/internal/core/domain"
	"talkmix/internal/core/layout"
	"talkmix/internal/core/ports"
	"talkmix/pkg/tracing"
	"talkmix/pkg/validation"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// SessionConfig is the initial composition of a session.
type SessionConfig struct {
	InstanceID       string
	Layout           domain.LayoutKind
	MaxVisible       int
	Resolution       domain.Size
	Title            string
	ShowTitle        bool
	Clock            bool
	ClockFormat      string
	ShowStreamTitles bool
	TopPadding       int
	BlindMode        domain.BlindMode
	DrainTimeout     time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Layout:       domain.LayoutGrid,
		MaxVisible:   8,
		Resolution:   domain.SizeHD,
		Clock:        true,
		ClockFormat:  DefaultClockFormat,
		TopPadding:   DefaultTopPadding,
		BlindMode:    domain.BlindSolid,
		DrainTimeout: 10 * time.Second,
	}
}

// Session orchestrates streams, layout, overlays and sinks around one engine.
// Control operations are serialized by mu; the render loop never takes it
// while composing.
type Session struct {
	mu sync.Mutex

	id         domain.SessionID
	cfg        SessionConfig
	state      domain.SessionState
	layoutKind domain.LayoutKind
	maxVisible int
	resolution domain.Size

	registry *StreamRegistry
	speakers *SpeakerController
	overlay  *OverlayState
	blinds   *BlindController
	plan     *domain.RenderPlan
	version  uint64
	failure  error

	engine  ports.Engine
	sinks   ports.SinkManager
	events  ports.EventPublisher
	metrics ports.MetricsCollector
	logger  *zap.SugaredLogger

	cancel    context.CancelFunc
	loopDone  chan struct{}
	startedAt time.Time
	frames    *atomic.Uint64
}

func NewSession(
	cfg SessionConfig,
	engine ports.Engine,
	sinks ports.SinkManager,
	events ports.EventPublisher,
	metrics ports.MetricsCollector,
	logger *zap.SugaredLogger,
) (*Session, error) {
	if cfg.MaxVisible < 0 {
		return nil, fmt.Errorf("%w: max_visible %d", domain.ErrInvalidCapacity, cfg.MaxVisible)
	}
	if cfg.Resolution.Width <= 0 || cfg.Resolution.Height <= 0 {
		return nil, fmt.Errorf("%w: resolution %s", domain.ErrInvalidParameters, cfg.Resolution)
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultSessionConfig().DrainTimeout
	}

	id := domain.SessionID(uuid.New().String())
	s := &Session{
		id:         id,
		cfg:        cfg,
		state:      domain.SessionIdle,
		layoutKind: cfg.Layout,
		maxVisible: cfg.MaxVisible,
		resolution: cfg.Resolution,
		registry:   NewStreamRegistry(),
		speakers:   NewSpeakerController(),
		overlay:    NewOverlayState(cfg.Title, cfg.ShowTitle, cfg.Clock, cfg.ShowStreamTitles, cfg.ClockFormat, cfg.TopPadding),
		blinds:     NewBlindController(cfg.BlindMode),
		engine:     engine,
		sinks:      sinks,
		events:     events,
		metrics:    metrics,
		logger:     logger.With("session_id", string(id)),
		frames:     atomic.NewUint64(0),
	}
	return s, nil
}

func (s *Session) ID() domain.SessionID {
	return s.id
}

// Start applies the initial plan and begins the render cadence.
func (s *Session) Start(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "session.start")
	defer span.End()

	s.mu.Lock()
	switch s.state {
	case domain.SessionRunning:
		s.mu.Unlock()
		return domain.ErrAlreadyStarted
	case domain.SessionDraining, domain.SessionStopped:
		s.mu.Unlock()
		return domain.ErrNotRunning
	}

	if err := s.reconcileLocked(ctx); err != nil {
		s.mu.Unlock()
		s.fail(ctx, err, true)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.loopDone = done
	s.startedAt = time.Now()
	s.state = domain.SessionRunning
	s.mu.Unlock()

	s.metrics.RecordSessionState(domain.SessionRunning)
	s.publish(ctx, s.stateEvent(domain.SessionRunning))
	s.logger.Infow("Session started",
		"frame_interval", s.engine.FrameInterval(),
		"layout", s.layoutKind.String(),
		"max_visible", s.maxVisible,
	)

	go s.run(loopCtx, done)
	return nil
}

// Stop drains every sink within the drain timeout and releases the engine.
func (s *Session) Stop(ctx context.Context) (*domain.DrainReport, error) {
	ctx, span := tracing.StartSpan(ctx, "session.stop")
	defer span.End()

	s.mu.Lock()
	if !s.state.Accepting() {
		s.mu.Unlock()
		return nil, domain.ErrNotRunning
	}
	s.state = domain.SessionDraining
	s.mu.Unlock()

	s.metrics.RecordSessionState(domain.SessionDraining)
	s.publish(ctx, s.stateEvent(domain.SessionDraining))
	s.logger.Infow("Session draining", "drain_timeout", s.cfg.DrainTimeout)

	report := s.shutdown(ctx, true)

	s.mu.Lock()
	s.state = domain.SessionStopped
	s.mu.Unlock()

	s.metrics.RecordSessionState(domain.SessionStopped)
	s.publish(ctx, s.stateEvent(domain.SessionStopped))
	s.logger.Infow("Session stopped",
		"finalized", len(report.Finalized),
		"failed", len(report.Failed),
		"frames", s.frames.Load(),
	)
	return &report, nil
}

// Err returns the engine failure that stopped the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.engine.FrameInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := s.engine.Compose(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.fail(ctx, fmt.Errorf("%w: compose: %v", domain.ErrEngineFailure, err), false)
				return
			}
			s.frames.Inc()
			s.metrics.RecordFrame()
			s.sinks.Dispatch(frame)
		}
	}
}

// shutdown stops the render loop and finalizes the sinks. waitLoop must be
// false when called from the render loop itself.
func (s *Session) shutdown(ctx context.Context, waitLoop bool) domain.DrainReport {
	s.mu.Lock()
	cancel, done := s.cancel, s.loopDone
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		if waitLoop {
			<-done
		}
	}

	drainCtx, drainCancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DrainTimeout)
	defer drainCancel()
	report := s.sinks.FinalizeAll(drainCtx)

	if err := s.engine.Close(); err != nil {
		s.logger.Warnw("Failed to close engine", "error", err)
	}
	return report
}

// fail moves the session straight to Stopped after an engine failure.
func (s *Session) fail(ctx context.Context, err error, waitLoop bool) {
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	if s.state == domain.SessionStopped || s.state == domain.SessionDraining {
		s.mu.Unlock()
		return
	}
	s.state = domain.SessionStopped
	s.failure = err
	s.mu.Unlock()

	tracing.RecordError(ctx, err)
	s.logger.Errorw("Engine failure, stopping session", "error", err)

	report := s.shutdown(ctx, waitLoop)
	if len(report.Failed) > 0 {
		s.logger.Warnw("Sinks failed to finalize after engine failure", "failed", report.Failed)
	}

	s.metrics.RecordSessionState(domain.SessionStopped)
	s.publish(ctx, s.stateEvent(domain.SessionStopped))
}

// mutate runs fn under the session lock and reconciles the resulting plan.
// fn must validate before changing anything so rejected calls leave no trace.
func (s *Session) mutate(ctx context.Context, op string, fn func() ([]*domain.Event, error)) error {
	ctx, span := tracing.StartSpan(ctx, "session."+op)
	defer span.End()

	s.mu.Lock()
	if !s.state.Accepting() {
		s.mu.Unlock()
		return domain.ErrNotRunning
	}

	events, err := fn()
	if err != nil {
		s.mu.Unlock()
		tracing.RecordError(ctx, err)
		return err
	}

	if err := s.reconcileLocked(ctx); err != nil {
		s.mu.Unlock()
		s.fail(ctx, err, true)
		return fmt.Errorf("%s: %w", op, err)
	}
	version := s.version
	s.mu.Unlock()

	span.SetAttributes(tracing.PlanVersionKey.Int64(int64(version)))
	s.publish(ctx, events...)
	return nil
}

func (s *Session) reconcileLocked(ctx context.Context) error {
	start := time.Now()
	plan := s.buildPlanLocked()

	if err := s.engine.Apply(ctx, plan); err != nil {
		if errors.Is(err, domain.ErrEngineFailure) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
	}

	s.plan = plan
	s.version = plan.Version
	s.speakers.Observe(plan.Visible())
	s.metrics.RecordPlan(plan, s.registry.Len(), time.Since(start))

	s.logger.Debugw("Plan applied",
		"plan_version", plan.Version,
		"visible", len(plan.Tiles),
		"inputs", len(plan.Inputs),
	)
	return nil
}

func (s *Session) buildPlanLocked() *domain.RenderPlan {
	speaker := s.speakers.Current()
	placements := layout.Compute(layout.Request{
		Candidates: s.speakers.Candidates(s.registry.Showable),
		Speaker:    speaker,
		Kind:       s.layoutKind,
		MaxVisible: s.maxVisible,
		Canvas:     s.overlay.Canvas(s.resolution),
	})

	plan := &domain.RenderPlan{
		Version:    s.version + 1,
		Layout:     s.layoutKind,
		MaxVisible: s.maxVisible,
		Resolution: s.resolution,
		Tiles:      make([]domain.Tile, 0, len(placements)),
		Inputs:     make([]domain.Input, 0, s.registry.Len()),
		Overlay:    s.overlay.Snapshot(),
	}
	if s.registry.Showable(speaker) {
		plan.Speaker = speaker
	}

	for _, p := range placements {
		stream, _ := s.registry.Get(p.StreamID)
		tile := domain.Tile{
			StreamID: p.StreamID,
			Slot:     p.Slot,
			Region:   p.Region,
			Blind:    s.blinds.Mode(p.StreamID),
		}
		if s.overlay.StreamTitlesShown() {
			tile.Title = stream.Title
		}
		plan.Tiles = append(plan.Tiles, tile)
	}

	for _, stream := range s.registry.List() {
		plan.Inputs = append(plan.Inputs, domain.Input{
			StreamID: stream.ID,
			Audio:    stream.Status.Audio,
			Video:    stream.Status.Video,
			Blind:    s.blinds.Mode(stream.ID),
		})
	}
	return plan
}

func (s *Session) AddStream(ctx context.Context, id domain.StreamID, title string) error {
	return s.mutate(ctx, "add_stream", func() ([]*domain.Event, error) {
		if err := s.registry.Add(id, title); err != nil {
			return nil, err
		}
		s.speakers.Add(id)
		s.logger.Infow("Stream added", "stream_id", id, "title", title)
		return []*domain.Event{s.streamEvent(domain.EventStreamAdded, id, map[string]string{"title": title})}, nil
	})
}

func (s *Session) RemoveStream(ctx context.Context, id domain.StreamID) error {
	return s.mutate(ctx, "remove_stream", func() ([]*domain.Event, error) {
		if err := s.registry.Remove(id); err != nil {
			return nil, err
		}
		s.blinds.Forget(id)
		events := []*domain.Event{s.streamEvent(domain.EventStreamRemoved, id, nil)}
		if s.speakers.Forget(id) {
			s.logger.Infow("Speaker removed, focus cleared", "stream_id", id)
			events = append(events, s.streamEvent(domain.EventSpeakerChanged, "", map[string]string{"previous": string(id)}))
		}
		s.logger.Infow("Stream removed", "stream_id", id)
		return events, nil
	})
}

func (s *Session) SetStatus(ctx context.Context, id domain.StreamID, audio, video bool) error {
	return s.mutate(ctx, "set_status", func() ([]*domain.Event, error) {
		if err := s.registry.SetStatus(id, audio, video); err != nil {
			return nil, err
		}
		s.logger.Debugw("Stream status changed", "stream_id", id, "audio", audio, "video", video)
		return nil, nil
	})
}

func (s *Session) SetStreamTitle(ctx context.Context, id domain.StreamID, title string) error {
	return s.mutate(ctx, "set_stream_title", func() ([]*domain.Event, error) {
		return nil, s.registry.SetTitle(id, title)
	})
}

func (s *Session) SetBlind(ctx context.Context, id domain.StreamID, blinded bool, mode domain.BlindMode) error {
	return s.mutate(ctx, "set_blind", func() ([]*domain.Event, error) {
		if !s.registry.Has(id) {
			return nil, fmt.Errorf("%w: %s", domain.ErrStreamNotFound, id)
		}
		if err := s.blinds.Set(id, blinded, mode); err != nil {
			return nil, err
		}
		s.logger.Infow("Stream blind changed", "stream_id", id, "blinded", blinded, "mode", s.blinds.Mode(id).String())
		return nil, nil
	})
}

func (s *Session) SetTitle(ctx context.Context, title string) error {
	return s.mutate(ctx, "set_title", func() ([]*domain.Event, error) {
		if err := validation.ValidateTitle(title); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err)
		}
		s.overlay.SetTitle(title)
		return nil, nil
	})
}

func (s *Session) ShowTitle(ctx context.Context, show bool) error {
	return s.mutate(ctx, "show_title", func() ([]*domain.Event, error) {
		s.overlay.ShowTitle(show)
		return nil, nil
	})
}

func (s *Session) ShowStreamTitles(ctx context.Context, show bool) error {
	return s.mutate(ctx, "show_stream_titles", func() ([]*domain.Event, error) {
		s.overlay.ShowStreamTitles(show)
		return nil, nil
	})
}

func (s *Session) EnableClock(ctx context.Context, enabled bool) error {
	return s.mutate(ctx, "enable_clock", func() ([]*domain.Event, error) {
		s.overlay.EnableClock(enabled)
		return nil, nil
	})
}

func (s *Session) SetSpeaker(ctx context.Context, id domain.StreamID, mode domain.SpeakerMode) error {
	return s.mutate(ctx, "set_speaker", func() ([]*domain.Event, error) {
		if !s.registry.Has(id) {
			return nil, fmt.Errorf("%w: %s", domain.ErrStreamNotFound, id)
		}
		if err := s.speakers.Set(id, mode, s.maxVisible, s.registry.Showable); err != nil {
			return nil, err
		}
		s.logger.Infow("Speaker changed", "stream_id", id, "mode", mode.String())
		return []*domain.Event{s.streamEvent(domain.EventSpeakerChanged, id, map[string]string{"mode": mode.String()})}, nil
	})
}

func (s *Session) UnsetSpeaker(ctx context.Context) error {
	return s.mutate(ctx, "unset_speaker", func() ([]*domain.Event, error) {
		previous := s.speakers.Current()
		if !s.speakers.Unset() {
			return nil, nil
		}
		return []*domain.Event{s.streamEvent(domain.EventSpeakerChanged, "", map[string]string{"previous": string(previous)})}, nil
	})
}

func (s *Session) SetLayout(ctx context.Context, kind domain.LayoutKind, maxVisible int) error {
	return s.mutate(ctx, "set_layout", func() ([]*domain.Event, error) {
		if maxVisible < 0 {
			return nil, fmt.Errorf("%w: max_visible %d", domain.ErrInvalidCapacity, maxVisible)
		}
		if kind != domain.LayoutGrid && kind != domain.LayoutSpeaker {
			return nil, fmt.Errorf("%w: unknown layout %d", domain.ErrInvalidParameters, kind)
		}
		s.layoutKind = kind
		s.maxVisible = maxVisible
		s.logger.Infow("Layout changed", "layout", kind.String(), "max_visible", maxVisible)
		return []*domain.Event{s.streamEvent(domain.EventLayoutChanged, "", map[string]interface{}{
			"layout":      kind.String(),
			"max_visible": maxVisible,
		})}, nil
	})
}

// checkAccepting guards sink operations, which run outside the session lock.
func (s *Session) checkAccepting() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Accepting() {
		return domain.ErrNotRunning
	}
	return nil
}

func (s *Session) AddSink(ctx context.Context, spec domain.SinkSpec) (domain.SinkHandle, error) {
	ctx, span := tracing.StartSpan(ctx, "session.add_sink")
	defer span.End()
	span.SetAttributes(tracing.SinkKindKey.String(spec.Kind.String()))

	if err := s.checkAccepting(); err != nil {
		return "", err
	}
	handle, err := s.sinks.Add(ctx, spec)
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", err
	}
	s.publish(ctx, s.sinkEvent(domain.EventSinkAdded, handle, map[string]string{"kind": spec.Kind.String()}))
	return handle, nil
}

func (s *Session) RemoveSink(ctx context.Context, handle domain.SinkHandle) error {
	ctx, span := tracing.StartSpan(ctx, "session.remove_sink")
	defer span.End()
	span.SetAttributes(tracing.SinkKey.String(string(handle)))

	if err := s.checkAccepting(); err != nil {
		return err
	}
	if err := s.sinks.Remove(ctx, handle); err != nil {
		return err
	}
	s.publish(ctx, s.sinkEvent(domain.EventSinkRemoved, handle, nil))
	return nil
}

func (s *Session) AddSinkChild(ctx context.Context, group domain.SinkHandle, spec domain.SinkSpec) (domain.SinkHandle, error) {
	if err := s.checkAccepting(); err != nil {
		return "", err
	}
	handle, err := s.sinks.AddChild(ctx, group, spec)
	if err != nil {
		return "", err
	}
	s.publish(ctx, s.sinkEvent(domain.EventSinkAdded, handle, map[string]string{
		"kind":  spec.Kind.String(),
		"group": string(group),
	}))
	return handle, nil
}

func (s *Session) RemoveSinkChild(ctx context.Context, group, child domain.SinkHandle) error {
	if err := s.checkAccepting(); err != nil {
		return err
	}
	if err := s.sinks.RemoveChild(ctx, group, child); err != nil {
		return err
	}
	s.publish(ctx, s.sinkEvent(domain.EventSinkRemoved, child, map[string]string{"group": string(group)}))
	return nil
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Plan returns a copy of the last applied plan, or nil before the first one.
func (s *Session) Plan() *domain.RenderPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan.Clone()
}

func (s *Session) Streams() []domain.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()

	streams := s.registry.List()
	for i := range streams {
		mode := s.blinds.Mode(streams[i].ID)
		streams[i].Blinded = mode != domain.BlindNone
		streams[i].BlindMode = mode
	}
	return streams
}

func (s *Session) Speaker() domain.StreamID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speakers.Current()
}

func (s *Session) Sinks() []domain.SinkInfo {
	return s.sinks.List()
}

func (s *Session) Preview(handle domain.SinkHandle) (*domain.Frame, error) {
	return s.sinks.Latest(handle)
}

func (s *Session) Metrics() domain.SessionMetrics {
	s.mu.Lock()
	m := domain.SessionMetrics{
		SessionID:      s.id,
		State:          s.state,
		StreamsActive:  s.registry.Len(),
		PlanVersion:    s.version,
		FramesRendered: s.frames.Load(),
		Timestamp:      time.Now(),
	}
	if s.plan != nil {
		m.VisibleStreams = len(s.plan.Tiles)
	}
	if !s.startedAt.IsZero() {
		m.Uptime = time.Since(s.startedAt)
	}
	s.mu.Unlock()

	m.Sinks = s.sinks.List()
	return m
}

// SinkStateChanged reports sink health transitions as events. It is called
// from sink workers and the render loop, so publishing happens off their
// goroutines.
func (s *Session) SinkStateChanged(handle domain.SinkHandle, kind domain.SinkKind, state domain.SinkState) {
	event := s.sinkEvent(domain.EventSinkState, handle, map[string]string{
		"kind":  kind.String(),
		"state": state.String(),
	})
	go s.publish(context.Background(), event)
}

func (s *Session) publish(ctx context.Context, events ...*domain.Event) {
	for _, event := range events {
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger.Warnw("Failed to publish event", "type", event.Type, "error", err)
		}
	}
}

func (s *Session) newEvent(eventType domain.EventType, payload interface{}) *domain.Event {
	event := &domain.Event{
		Type:       eventType,
		InstanceID: s.cfg.InstanceID,
		SessionID:  s.id,
		Timestamp:  time.Now(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			event.Payload = raw
		}
	}
	return event
}

func (s *Session) streamEvent(eventType domain.EventType, id domain.StreamID, payload interface{}) *domain.Event {
	event := s.newEvent(eventType, payload)
	event.StreamID = id
	return event
}

func (s *Session) sinkEvent(eventType domain.EventType, handle domain.SinkHandle, payload interface{}) *domain.Event {
	event := s.newEvent(eventType, payload)
	event.Sink = handle
	return event
}

func (s *Session) stateEvent(state domain.SessionState) *domain.Event {
	return s.newEvent(domain.EventSessionState, map[string]string{"state": state.String()})
}

var _ ports.ControlService = (*Session)(nil)
