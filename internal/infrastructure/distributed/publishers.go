package distributed

import (
	"context"
	"errors"
	"sync"

	"talkmix/internal/core/domain"
	"talkmix/internal/core/ports"

	"go.uber.org/zap"
)

// LogPublisher writes events to the log. It stands in for the event bus
// when Redis is not configured.
type LogPublisher struct {
	logger *zap.SugaredLogger
}

func NewLogPublisher(logger *zap.SugaredLogger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event *domain.Event) error {
	p.logger.Debugw("session event",
		"type", event.Type,
		"stream_id", event.StreamID,
		"sink", event.Sink,
		"payload", string(event.Payload),
	)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}

// MultiPublisher hands every event to a set of publishers. Publishers can be
// added after the session that feeds it was built.
type MultiPublisher struct {
	mu         sync.RWMutex
	publishers []ports.EventPublisher
}

func NewMultiPublisher(publishers ...ports.EventPublisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

func (m *MultiPublisher) Add(p ports.EventPublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishers = append(m.publishers, p)
}

// Publish tries every publisher and joins their errors.
func (m *MultiPublisher) Publish(ctx context.Context, event *domain.Event) error {
	m.mu.RLock()
	publishers := append([]ports.EventPublisher(nil), m.publishers...)
	m.mu.RUnlock()

	var errs []error
	for _, p := range publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiPublisher) Close() error {
	m.mu.Lock()
	publishers := m.publishers
	m.publishers = nil
	m.mu.Unlock()

	var errs []error
	for _, p := range publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ ports.EventPublisher = (*LogPublisher)(nil)
	_ ports.EventPublisher = (*MultiPublisher)(nil)
)
