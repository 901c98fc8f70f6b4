package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "talkmix", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig(), "test")
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestRecordError(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := StartSpan(context.Background(), "session.add_stream")
	RecordError(ctx, errors.New("stream exists"))
	AddSpanAttributes(ctx, StreamIDKey.String("a"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "session.add_stream", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), StreamIDKey.String("a"))
}

func TestTraceCommand(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := TraceCommand(context.Background(), "set_speaker", "client-1")
	MeasureDuration(ctx, time.Now().Add(-5*time.Millisecond))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "command.set_speaker", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), CommandKey.String("set_speaker"))
	assert.Contains(t, ended[0].Attributes(), ClientIDKey.String("client-1"))
}

func TestTraceHTTPRequest(t *testing.T) {
	recorder := withRecorder(t)

	_, span := TraceHTTPRequest(context.Background(), "POST", "/api/v1/session/streams")
	span.End()

	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, "http.POST", recorder.Ended()[0].Name())
}
