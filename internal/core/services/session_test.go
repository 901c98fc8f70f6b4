package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"talkmix/internal/core/domain"
	"talkmix/internal/infrastructure/engine"
	"talkmix/internal/infrastructure/monitoring"
	"talkmix/internal/infrastructure/sinks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event *domain.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockPublisher) Close() error {
	return m.Called().Error(0)
}

func eventOfType(eventType domain.EventType, stream domain.StreamID) interface{} {
	return mock.MatchedBy(func(e *domain.Event) bool {
		return e.Type == eventType && e.StreamID == stream
	})
}

type sessionFixture struct {
	session   *Session
	engine    *engine.Recorder
	sinks     *sinks.Manager
	publisher *mockPublisher
}

func newSessionFixture(t *testing.T, mutate func(*SessionConfig)) *sessionFixture {
	t.Helper()
	logger := zap.NewNop().Sugar()

	cfg := DefaultSessionConfig()
	cfg.InstanceID = "test"
	cfg.Clock = false
	cfg.DrainTimeout = time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	rec := engine.NewRecorder(5 * time.Millisecond)
	manager := sinks.NewManager(sinks.NewFactory(48000, 2, logger), sinks.DefaultWorkerConfig(), monitoring.NewNopCollector(), logger)
	publisher := &mockPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	s, err := NewSession(cfg, rec, manager, publisher, monitoring.NewNopCollector(), logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		if s.State().Accepting() {
			_, _ = s.Stop(context.Background())
		}
	})
	return &sessionFixture{session: s, engine: rec, sinks: manager, publisher: publisher}
}

func visible(t *testing.T, s *Session) []domain.StreamID {
	t.Helper()
	plan := s.Plan()
	require.NotNil(t, plan)
	return plan.Visible()
}

func TestSession_RemoveStreamsDownToEmpty(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	for i := 0; i < 8; i++ {
		require.NoError(t, s.AddStream(ctx, domain.StreamID(fmt.Sprint(i)), ""))
	}
	require.NoError(t, s.SetSpeaker(ctx, "0", domain.SpeakerShift))
	require.NoError(t, s.SetLayout(ctx, domain.LayoutGrid, 8))
	assert.ElementsMatch(t, ids("0", "1", "2", "3", "4", "5", "6", "7"), visible(t, s))

	require.NoError(t, s.RemoveStream(ctx, "0"))
	assert.ElementsMatch(t, ids("1", "2", "3", "4", "5", "6", "7"), visible(t, s))
	assert.Equal(t, domain.StreamID(""), s.Speaker())
	assert.Equal(t, domain.StreamID(""), s.Plan().Speaker)

	require.NoError(t, s.RemoveStream(ctx, "1"))
	require.NoError(t, s.RemoveStream(ctx, "2"))
	assert.ElementsMatch(t, ids("3", "4", "5", "6", "7"), visible(t, s))

	for _, id := range []string{"3", "4", "5", "6"} {
		require.NoError(t, s.RemoveStream(ctx, domain.StreamID(id)))
	}
	assert.Equal(t, ids("7"), visible(t, s))

	require.NoError(t, s.RemoveStream(ctx, "7"))
	assert.Empty(t, visible(t, s))
	assert.Empty(t, f.engine.Last().Inputs)

	f.publisher.AssertCalled(t, "Publish", mock.Anything, eventOfType(domain.EventStreamRemoved, "0"))
	f.publisher.AssertCalled(t, "Publish", mock.Anything, eventOfType(domain.EventSpeakerChanged, ""))
}

func TestSession_VisibleNeverExceedsCapacity(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	for _, kind := range []domain.LayoutKind{domain.LayoutGrid, domain.LayoutSpeaker} {
		for _, max := range []int{0, 1, 3, 5} {
			require.NoError(t, s.SetLayout(ctx, kind, max))
			for i := 0; i < 6; i++ {
				id := domain.StreamID(fmt.Sprintf("%s-%d-%d", kind, max, i))
				require.NoError(t, s.AddStream(ctx, id, ""))
				require.NoError(t, s.SetSpeaker(ctx, id, domain.SpeakerShift))

				plan := s.Plan()
				assert.LessOrEqual(t, len(plan.Tiles), max)
				if max > 0 {
					assert.True(t, plan.IsVisible(id), "speaker %s must be visible", id)
				}
			}
		}
	}

	for _, plan := range f.engine.Plans() {
		assert.LessOrEqual(t, len(plan.Tiles), plan.MaxVisible)
	}
}

func TestSession_SpeakerLayoutPutsSpeakerFirst(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.AddStream(ctx, domain.StreamID(id), id))
	}
	require.NoError(t, s.SetLayout(ctx, domain.LayoutSpeaker, 3))
	require.NoError(t, s.SetSpeaker(ctx, "d", domain.SpeakerSwap))

	plan := s.Plan()
	require.Len(t, plan.Tiles, 3)
	assert.Equal(t, domain.StreamID("d"), plan.Tiles[0].StreamID)
	assert.Equal(t, 0, plan.Tiles[0].Slot)
	assert.Equal(t, domain.StreamID("d"), plan.Speaker)
}

func TestSession_SpeakerWithoutVideoIsNotPlaced(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.AddStream(ctx, "a", ""))
	require.NoError(t, s.AddStream(ctx, "b", ""))
	require.NoError(t, s.SetSpeaker(ctx, "b", domain.SpeakerShift))
	require.NoError(t, s.SetStatus(ctx, "b", true, false))

	plan := s.Plan()
	assert.Equal(t, ids("a"), plan.Visible())
	assert.Equal(t, domain.StreamID(""), plan.Speaker)
	assert.Equal(t, domain.StreamID("b"), s.Speaker())
	assert.Len(t, plan.Inputs, 2, "audio of hidden streams still reaches the mix")

	require.NoError(t, s.SetStatus(ctx, "b", true, true))
	assert.Equal(t, domain.StreamID("b"), s.Plan().Speaker)
}

func TestSession_BlindKeepsAudio(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.AddStream(ctx, "a", ""))
	require.NoError(t, s.SetBlind(ctx, "a", true, domain.BlindNone))

	plan := s.Plan()
	require.Len(t, plan.Tiles, 1)
	assert.Equal(t, domain.BlindSolid, plan.Tiles[0].Blind)
	assert.Equal(t, []domain.Input{{StreamID: "a", Audio: true, Video: true, Blind: domain.BlindSolid}}, plan.Inputs)

	streams := s.Streams()
	require.Len(t, streams, 1)
	assert.True(t, streams[0].Blinded)

	err := s.SetBlind(ctx, "ghost", true, domain.BlindSolid)
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)
}

func TestSession_RejectedCallsLeavePlanUntouched(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.AddStream(ctx, "a", ""))

	before := s.Plan()
	applied := len(f.engine.Plans())

	assert.ErrorIs(t, s.SetLayout(ctx, domain.LayoutGrid, -1), domain.ErrInvalidCapacity)
	assert.ErrorIs(t, s.AddStream(ctx, "a", ""), domain.ErrStreamExists)
	assert.ErrorIs(t, s.RemoveStream(ctx, "zz"), domain.ErrStreamNotFound)
	assert.ErrorIs(t, s.SetSpeaker(ctx, "zz", domain.SpeakerShift), domain.ErrStreamNotFound)
	assert.ErrorIs(t, s.SetStreamTitle(ctx, "zz", "x"), domain.ErrStreamNotFound)

	assert.Equal(t, before, s.Plan())
	assert.Len(t, f.engine.Plans(), applied)
}

func TestSession_OverlayTitles(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.AddStream(ctx, "a", "Alice"))
	assert.Equal(t, "", s.Plan().Tiles[0].Title)
	assert.Equal(t, 0, s.Plan().Tiles[0].Region.Y)

	require.NoError(t, s.ShowStreamTitles(ctx, true))
	require.NoError(t, s.SetStreamTitle(ctx, "a", "Alice B."))
	assert.Equal(t, "Alice B.", s.Plan().Tiles[0].Title)

	require.NoError(t, s.SetTitle(ctx, "Weekly"))
	require.NoError(t, s.ShowTitle(ctx, true))
	plan := s.Plan()
	assert.Equal(t, "Weekly", plan.Overlay.Title)
	assert.Equal(t, DefaultTopPadding, plan.Overlay.TopPadding)
	assert.GreaterOrEqual(t, plan.Tiles[0].Region.Y, DefaultTopPadding)

	require.NoError(t, s.EnableClock(ctx, true))
	assert.True(t, s.Plan().Overlay.Clock)
}

func TestSession_Lifecycle(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()

	assert.Equal(t, domain.SessionIdle, s.State())
	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), domain.ErrAlreadyStarted)

	display, err := s.AddSink(ctx, domain.SinkSpec{Kind: domain.SinkDisplay})
	require.NoError(t, err)
	require.NoError(t, s.AddStream(ctx, "a", ""))

	require.Eventually(t, func() bool {
		frame, err := s.Preview(display)
		return err == nil && frame != nil && len(frame.Layers) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Greater(t, s.Metrics().FramesRendered, uint64(0))

	report, err := s.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.SinkHandle{display}, report.Finalized)
	assert.Equal(t, domain.SessionStopped, s.State())
	assert.True(t, f.engine.Closed())

	assert.ErrorIs(t, s.AddStream(ctx, "b", ""), domain.ErrNotRunning)
	assert.ErrorIs(t, s.SetLayout(ctx, domain.LayoutGrid, 2), domain.ErrNotRunning)
	_, err = s.AddSink(ctx, domain.SinkSpec{Kind: domain.SinkDisplay})
	assert.ErrorIs(t, err, domain.ErrNotRunning)
	assert.ErrorIs(t, s.Start(ctx), domain.ErrNotRunning)
	_, err = s.Stop(ctx)
	assert.ErrorIs(t, err, domain.ErrNotRunning)

	f.publisher.AssertCalled(t, "Publish", mock.Anything, mock.MatchedBy(func(e *domain.Event) bool {
		return e.Type == domain.EventSinkAdded && e.Sink == display
	}))
}

func TestSession_EngineFailureStopsSession(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	_, err := s.AddSink(ctx, domain.SinkSpec{Kind: domain.SinkDisplay})
	require.NoError(t, err)

	f.engine.FailNextApply(errors.New("out of decoder slots"))
	err = s.AddStream(ctx, "a", "")
	require.ErrorIs(t, err, domain.ErrEngineFailure)

	assert.Equal(t, domain.SessionStopped, s.State())
	assert.ErrorIs(t, s.Err(), domain.ErrEngineFailure)
	assert.True(t, f.engine.Closed())
	assert.Empty(t, s.Sinks())
	assert.ErrorIs(t, s.AddStream(ctx, "b", ""), domain.ErrNotRunning)
}

func TestSession_ComposeFailureStopsSession(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	f.engine.FailCompose(errors.New("pipeline stalled"))
	require.Eventually(t, func() bool {
		return s.State() == domain.SessionStopped
	}, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Err(), domain.ErrEngineFailure)
}

func TestSession_RemoveSinkKeepsOthers(t *testing.T) {
	f := newSessionFixture(t, nil)
	s := f.session
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	first, err := s.AddSink(ctx, domain.SinkSpec{Kind: domain.SinkDisplay, Name: "first"})
	require.NoError(t, err)
	second, err := s.AddSink(ctx, domain.SinkSpec{Kind: domain.SinkDisplay, Name: "second"})
	require.NoError(t, err)

	require.NoError(t, s.RemoveSink(ctx, first))
	assert.ErrorIs(t, s.RemoveSink(ctx, first), domain.ErrSinkNotFound)

	infos := s.Sinks()
	require.Len(t, infos, 1)
	assert.Equal(t, second, infos[0].Handle)

	_, err = s.AddSink(ctx, domain.SinkSpec{Kind: domain.SinkFile})
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestNewSession_RejectsNegativeCapacity(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.MaxVisible = -1
	_, err := NewSession(cfg, engine.NewRecorder(0), nil, nil, monitoring.NewNopCollector(), zap.NewNop().Sugar())
	assert.ErrorIs(t, err, domain.ErrInvalidCapacity)
}
