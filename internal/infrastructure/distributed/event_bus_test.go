package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"talkmix/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDecodeEvent(t *testing.T) {
	event := domain.Event{
		Type:       domain.EventSinkState,
		InstanceID: "mixer-1",
		Timestamp:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Sink:       "h1",
		Payload:    json.RawMessage(`{"state":"degraded"}`),
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, domain.EventSinkState, decoded.Type)
	assert.Equal(t, domain.SinkHandle("h1"), decoded.Sink)
	assert.JSONEq(t, `{"state":"degraded"}`, string(decoded.Payload))

	_, err = DecodeEvent([]byte(`{"instance_id":"x"}`))
	assert.Error(t, err)
	_, err = DecodeEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestNewEventBus_DefaultChannel(t *testing.T) {
	bus := NewEventBus(nil, "mixer-1", "", zap.NewNop().Sugar())
	assert.Equal(t, DefaultChannel, bus.channel)
	assert.NoError(t, bus.Close())
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(zap.NewNop().Sugar())
	assert.NoError(t, p.Publish(context.Background(), &domain.Event{Type: domain.EventStreamAdded, StreamID: "a"}))
	assert.NoError(t, p.Close())
}

func TestInstanceKey(t *testing.T) {
	assert.Equal(t, "talkmix:instance:mixer-1", instanceKey("mixer-1"))
}

type recordingPublisher struct {
	events []*domain.Event
	err    error
	closed bool
}

func (p *recordingPublisher) Publish(_ context.Context, event *domain.Event) error {
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error {
	p.closed = true
	return nil
}

func TestMultiPublisher(t *testing.T) {
	first := &recordingPublisher{err: errors.New("redis down")}
	second := &recordingPublisher{}
	multi := NewMultiPublisher(first)
	multi.Add(second)

	err := multi.Publish(context.Background(), &domain.Event{Type: domain.EventLayoutChanged})
	assert.ErrorContains(t, err, "redis down")
	assert.Len(t, first.events, 1)
	assert.Len(t, second.events, 1, "a failing publisher does not starve the others")

	require.NoError(t, multi.Close())
	assert.True(t, first.closed)
	assert.True(t, second.closed)
	assert.NoError(t, multi.Publish(context.Background(), &domain.Event{Type: domain.EventLayoutChanged}))
}
