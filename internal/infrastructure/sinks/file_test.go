package sinks

import (
	"bytes"
	"context"
	"encoding/xml"
	"os"
	"path/filepath"
	"testing"
	"time"

	"talkmix/internal/core/domain"
	"talkmix/internal/infrastructure/streaming"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestFileSink_IndexWrittenOnlyOnFinalize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec", "talk.tmx")
	params := domain.FileParams{Path: path, Bitrate: 2_000_000, SpeedPreset: "fast"}
	sink := NewFileSink(params, zap.NewNop().Sugar())
	ctx := context.Background()

	require.NoError(t, sink.Open(ctx))
	for i := uint64(0); i < 3; i++ {
		require.NoError(t, sink.Write(ctx, testFrame(i)))
	}
	require.NoError(t, sink.w.Flush())

	partial, err := ReadContainer(path)
	require.NoError(t, err)
	assert.False(t, partial.Indexed)
	assert.Len(t, partial.Frames, 3)

	require.NoError(t, sink.Finalize(ctx))
	require.NoError(t, sink.Finalize(ctx), "second finalize is a no-op")

	container, err := ReadContainer(path)
	require.NoError(t, err)
	assert.True(t, container.Indexed)
	assert.Equal(t, 2_000_000, container.Bitrate)
	assert.Equal(t, "fast", container.SpeedPreset)
	require.Len(t, container.Frames, 3)

	got := container.Frames[2]
	want := testFrame(2)
	assert.Equal(t, want.Seq, got.Seq)
	assert.Equal(t, want.PTS, got.PTS)
	assert.Equal(t, want.Resolution, got.Resolution)
	assert.Equal(t, want.Audio, got.Audio)
	assert.Equal(t, want.Captions, got.Captions)
	require.Len(t, got.Layers, 1)
	assert.Equal(t, want.Layers[0].Region, got.Layers[0].Region)
	assert.Equal(t, want.Layers[0].Payload, got.Layers[0].Payload)
	assert.Equal(t, "alice", got.Layers[0].Title)
}

func TestFileSink_MaxDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.tmx")
	sink := NewFileSink(domain.FileParams{Path: path, MaxDuration: 0.1}, zap.NewNop().Sugar())
	ctx := context.Background()
	require.NoError(t, sink.Open(ctx))

	for i := uint64(0); i < 3; i++ {
		require.NoError(t, sink.Write(ctx, testFrame(i)))
	}
	assert.ErrorIs(t, sink.Write(ctx, testFrame(3)), domain.ErrSinkDone)
	assert.ErrorIs(t, sink.Write(ctx, testFrame(4)), domain.ErrSinkDone)
	require.NoError(t, sink.Finalize(ctx))

	container, err := ReadContainer(path)
	require.NoError(t, err)
	assert.Len(t, container.Frames, 3)
	assert.Equal(t, 100*time.Millisecond, container.MaxDuration)
}

func TestFileSink_MaxDurationCountsFromFirstFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.tmx")
	sink := NewFileSink(domain.FileParams{Path: path, MaxDuration: 0.1}, zap.NewNop().Sugar())
	ctx := context.Background()
	require.NoError(t, sink.Open(ctx))

	// Added mid-session: PTS starts far from zero.
	for i := uint64(100); i < 103; i++ {
		require.NoError(t, sink.Write(ctx, testFrame(i)))
	}
	assert.ErrorIs(t, sink.Write(ctx, testFrame(103)), domain.ErrSinkDone)
	require.NoError(t, sink.Finalize(ctx))
}

func TestReadContainer_RejectsForeignFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.bin")
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WAVE"), 0o644))

	_, err := ReadContainer(path)
	assert.Error(t, err)
}

func TestSegmentedSink_ManifestLifecycle(t *testing.T) {
	dir := t.TempDir()
	params := domain.SegmentedParams{OutputDir: dir, SegmentDuration: 0.1, SegmentType: "mp4", Bitrate: 1_000_000}
	sink := NewSegmentedSink(params, 48000, 2, zap.NewNop().Sugar())
	ctx := context.Background()

	require.NoError(t, sink.Open(ctx))
	assert.FileExists(t, filepath.Join(dir, "init-stream0.tmv"))
	audioInit := readFile(t, filepath.Join(dir, "init-stream1.m4s"))
	require.Greater(t, len(audioInit), 8)
	assert.Equal(t, "ftyp", audioInit[4:8])
	assert.Contains(t, readFile(t, filepath.Join(dir, "dash.mpd")), `type="dynamic"`)

	for i := uint64(0); i < 7; i++ {
		require.NoError(t, sink.Write(ctx, testFrame(i)))
	}
	assert.Equal(t, 2, sink.Segments())
	assert.FileExists(t, filepath.Join(dir, "chunk-stream0-00001.tmv"))
	assert.FileExists(t, filepath.Join(dir, "chunk-stream1-00002.m4s"))

	require.NoError(t, sink.Finalize(ctx))
	require.NoError(t, sink.Finalize(ctx))
	assert.Equal(t, 3, sink.Segments())

	manifest := readFile(t, filepath.Join(dir, "dash.mpd"))
	assert.Contains(t, manifest, `type="static"`)
	assert.Contains(t, manifest, `mediaPresentationDuration="PT0.280S"`)
	assert.Contains(t, manifest, `chunk-stream$RepresentationID$-$Number%05d$.m4s`)
	assert.Contains(t, manifest, `mimeType="audio/mp4"`)

	assert.ErrorIs(t, sink.Write(ctx, testFrame(8)), domain.ErrSinkDone)
}

func TestSegmentedSink_RetriedWriteIsStoredOnce(t *testing.T) {
	dir := t.TempDir()
	params := domain.SegmentedParams{OutputDir: dir, SegmentDuration: 0.04, Bitrate: 1_000_000}
	sink := NewSegmentedSink(params, 48000, 2, zap.NewNop().Sugar())
	ctx := context.Background()
	require.NoError(t, sink.Open(ctx))

	blocker := filepath.Join(dir, "chunk-stream1-00001.m4s.tmp")
	require.NoError(t, os.Mkdir(blocker, 0o755))

	frame := testFrame(0)
	require.Error(t, sink.Write(ctx, frame))
	assert.Equal(t, 0, sink.Segments())

	require.NoError(t, os.Remove(blocker))
	require.NoError(t, sink.Write(ctx, frame))
	require.NoError(t, sink.Write(ctx, frame), "a replayed frame is not stored again")
	assert.Equal(t, 1, sink.Segments())

	video := sink.segmenter.Segments(streaming.RepresentationVideo)
	audio := sink.segmenter.Segments(streaming.RepresentationAudio)
	require.Len(t, video, 1)
	require.Len(t, audio, 1)

	var record bytes.Buffer
	encodeVideo(&record, frame)
	assert.Equal(t, int64(4+record.Len()), video[0].Size)
	assert.Equal(t, time.Duration(0), video[0].Start)
	assert.Equal(t, 40*time.Millisecond, video[0].Duration)

	data, err := os.ReadFile(filepath.Join(dir, "chunk-stream1-00001.m4s"))
	require.NoError(t, err)
	var parts fmp4.Parts
	require.NoError(t, parts.Unmarshal(data))
	require.Len(t, parts, 1)
	require.Len(t, parts[0].Tracks, 1)
	samples := parts[0].Tracks[0].Samples
	require.Len(t, samples, 1)
	assert.Equal(t, uint32(1920), samples[0].Duration)

	var pcm bytes.Buffer
	encodeAudio(&pcm, frame.Audio)
	assert.Equal(t, pcm.Bytes(), samples[0].Payload)

	var mpd streaming.MPD
	require.NoError(t, xml.Unmarshal([]byte(readFile(t, filepath.Join(dir, "dash.mpd"))), &mpd))
	for _, set := range mpd.Periods[0].AdaptationSets {
		assert.Len(t, set.Representations[0].SegmentTemplate.Timeline.S, 1)
	}
}
