package ports

import (
	"context"
	"time"

	"talkmix/internal/core/domain"
)

// ControlService is the operation set exposed to the session-control layer.
type ControlService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (*domain.DrainReport, error)

	AddStream(ctx context.Context, id domain.StreamID, title string) error
	RemoveStream(ctx context.Context, id domain.StreamID) error
	SetStatus(ctx context.Context, id domain.StreamID, audio, video bool) error
	SetStreamTitle(ctx context.Context, id domain.StreamID, title string) error
	SetBlind(ctx context.Context, id domain.StreamID, blinded bool, mode domain.BlindMode) error

	SetTitle(ctx context.Context, title string) error
	ShowTitle(ctx context.Context, show bool) error
	ShowStreamTitles(ctx context.Context, show bool) error
	EnableClock(ctx context.Context, enabled bool) error

	SetSpeaker(ctx context.Context, id domain.StreamID, mode domain.SpeakerMode) error
	UnsetSpeaker(ctx context.Context) error
	SetLayout(ctx context.Context, kind domain.LayoutKind, maxVisible int) error

	AddSink(ctx context.Context, spec domain.SinkSpec) (domain.SinkHandle, error)
	RemoveSink(ctx context.Context, handle domain.SinkHandle) error
	AddSinkChild(ctx context.Context, group domain.SinkHandle, spec domain.SinkSpec) (domain.SinkHandle, error)
	RemoveSinkChild(ctx context.Context, group, child domain.SinkHandle) error

	State() domain.SessionState
	Plan() *domain.RenderPlan
	Speaker() domain.StreamID
	Streams() []domain.Stream
	Sinks() []domain.SinkInfo
	Metrics() domain.SessionMetrics
	Preview(handle domain.SinkHandle) (*domain.Frame, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event *domain.Event) error
	Close() error
}

type MetricsCollector interface {
	RecordPlan(plan *domain.RenderPlan, streams int, took time.Duration)
	RecordFrame()
	RecordSessionState(state domain.SessionState)
	RecordSinkWrite(handle domain.SinkHandle, kind domain.SinkKind)
	RecordSinkDrop(handle domain.SinkHandle, kind domain.SinkKind)
	RecordSinkFailure(handle domain.SinkHandle, kind domain.SinkKind)
	RecordSinkState(handle domain.SinkHandle, kind domain.SinkKind, state domain.SinkState)
	RemoveSink(handle domain.SinkHandle, kind domain.SinkKind)
}
