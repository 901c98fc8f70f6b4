package sinks

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"talkmix/internal/core/domain"
	"talkmix/internal/infrastructure/streaming"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"go.uber.org/zap"
)

// SegmentedSink cuts the composed stream into numbered video and audio
// chunks of segment_duration and keeps a manifest describing them. While
// running the manifest is dynamic; Finalize flushes the partial chunk and
// republishes it as static with the total duration.
//
// Write is idempotent per frame sequence: a frame whose write failed can be
// offered again, and a frame already stored is not stored twice.
type SegmentedSink struct {
	params    domain.SegmentedParams
	audio     lpcmTrack
	segmenter *streaming.Segmenter
	logger    *zap.SugaredLogger

	video    bytes.Buffer
	samples  []*fmp4.Sample
	origin   time.Duration
	start    time.Duration
	buffered time.Duration
	total    time.Duration
	number   int
	size     domain.Size
	opened   time.Time
	lastSeq  uint64
	started  bool
	stale    bool
	closed   bool
}

func NewSegmentedSink(params domain.SegmentedParams, sampleRate, channels int, logger *zap.SugaredLogger) *SegmentedSink {
	tracks := []streaming.TrackFormat{streaming.VideoFrames, streaming.AudioLPCM(sampleRate)}
	return &SegmentedSink{
		params:    params,
		audio:     lpcmTrack{sampleRate: sampleRate, channels: channels},
		segmenter: streaming.NewSegmenter(params.OutputDir, params.SegmentDurationValue(), tracks, logger),
		logger:    logger,
		number:    1,
	}
}

func (s *SegmentedSink) Kind() domain.SinkKind {
	return domain.SinkSegmented
}

func (s *SegmentedSink) Open(_ context.Context) error {
	if err := s.segmenter.Prepare(); err != nil {
		return err
	}

	var videoInit bytes.Buffer
	videoInit.WriteString("TMXV")
	putU32(&videoInit, uint32(s.params.Bitrate))
	audioInit, err := s.audio.header()
	if err != nil {
		return err
	}

	if err := s.segmenter.WriteInit(streaming.RepresentationVideo, videoInit.Bytes()); err != nil {
		return err
	}
	if err := s.segmenter.WriteInit(streaming.RepresentationAudio, audioInit); err != nil {
		return err
	}

	s.opened = time.Now()
	if err := s.publish(false); err != nil {
		return err
	}

	s.logger.Infow("Segmented output opened",
		"output_dir", s.params.OutputDir,
		"segment_duration", s.segmenter.SegmentDuration(),
		"segment_type", s.params.SegmentType,
	)
	return nil
}

func (s *SegmentedSink) Write(ctx context.Context, frame *domain.Frame) error {
	if s.closed {
		return domain.ErrSinkDone
	}
	if s.started && frame.Seq <= s.lastSeq {
		// already stored; only a manifest update may be outstanding
		return s.flushManifest()
	}

	videoLen, sampleCount, buffered := s.video.Len(), len(s.samples), s.buffered
	if !s.started {
		s.origin, s.start = frame.PTS, frame.PTS
	}

	record := recordPool.Get()
	encodeVideo(record, frame)
	putU32(&s.video, uint32(record.Len()))
	_, _ = record.WriteTo(&s.video)
	recordPool.Put(record)
	s.samples = append(s.samples, s.audio.sample(frame.Audio, frame.Duration))
	s.buffered += frame.Duration

	if s.buffered >= s.segmenter.SegmentDuration() {
		if err := s.cut(ctx); err != nil {
			s.video.Truncate(videoLen)
			s.samples = s.samples[:sampleCount]
			s.buffered = buffered
			return err
		}
		s.stale = true
	}

	s.started = true
	s.lastSeq = frame.Seq
	s.size = frame.Resolution
	return s.flushManifest()
}

// cut closes the buffered chunk pair under the next number. Nothing is
// recorded unless both chunks were written.
func (s *SegmentedSink) cut(ctx context.Context) error {
	if s.buffered == 0 {
		return nil
	}
	start := s.start - s.origin
	fragment, err := s.audio.fragment(s.number, streaming.ToTimescale(start, s.audio.sampleRate), s.samples)
	if err != nil {
		return err
	}
	if _, err := s.segmenter.CreateSegments(ctx, s.number, start, s.buffered, [][]byte{s.video.Bytes(), fragment}); err != nil {
		return err
	}

	s.total += s.buffered
	s.start += s.buffered
	s.number++
	s.buffered = 0
	s.video.Reset()
	s.samples = nil
	return nil
}

func (s *SegmentedSink) flushManifest() error {
	if !s.stale {
		return nil
	}
	if err := s.publish(false); err != nil {
		return err
	}
	s.stale = false
	return nil
}

func (s *SegmentedSink) publish(static bool) error {
	mpd := s.segmenter.GenerateManifest(streaming.ManifestOptions{
		Static:         static,
		Bandwidth:      s.params.Bitrate,
		Width:          s.size.Width,
		Height:         s.size.Height,
		SampleRate:     s.audio.sampleRate,
		AvailableSince: s.opened,
		Total:          s.total,
	})
	if err := s.segmenter.WriteManifest(mpd); err != nil {
		return fmt.Errorf("failed to publish manifest: %w", err)
	}
	return nil
}

// Segments reports how many chunk pairs were written.
func (s *SegmentedSink) Segments() int {
	return s.number - 1
}

func (s *SegmentedSink) Finalize(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.cut(ctx); err != nil {
		return fmt.Errorf("failed to flush last segment: %w", err)
	}
	if err := s.publish(true); err != nil {
		return err
	}

	s.logger.Infow("Segmented output finalized", "output_dir", s.params.OutputDir, "segments", s.Segments(), "duration", s.total)
	return nil
}
