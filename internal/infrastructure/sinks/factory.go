package sinks

import (
	"fmt"

	"talkmix/internal/core/domain"
	"talkmix/internal/core/ports"

	"go.uber.org/zap"
)

// Factory builds the leaf sink kinds. Fanout groups are assembled by the
// Manager because their children need workers of their own.
type Factory struct {
	sampleRate int
	channels   int
	logger     *zap.SugaredLogger
}

func NewFactory(sampleRate, channels int, logger *zap.SugaredLogger) *Factory {
	return &Factory{sampleRate: sampleRate, channels: channels, logger: logger}
}

func (f *Factory) Create(spec domain.SinkSpec) (ports.Sink, error) {
	switch spec.Kind {
	case domain.SinkFile:
		return NewFileSink(*spec.File, f.logger), nil
	case domain.SinkSegmented:
		return NewSegmentedSink(*spec.Segmented, f.sampleRate, f.channels, f.logger), nil
	case domain.SinkDisplay:
		return NewDisplaySink(*spec.Display, f.logger), nil
	default:
		return nil, fmt.Errorf("%w: factory cannot build %s sinks", domain.ErrInvalidParameters, spec.Kind)
	}
}

var _ ports.SinkFactory = (*Factory)(nil)
