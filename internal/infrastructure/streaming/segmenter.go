package streaming

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Representation indexes. Adaptation set 0 carries video, 1 carries audio.
const (
	RepresentationVideo = 0
	RepresentationAudio = 1
)

// ManifestName is the file the manifest is published under.
const ManifestName = "dash.mpd"

// TrackFormat describes how one representation is stored and announced.
type TrackFormat struct {
	Ext       string
	MimeType  string
	Codecs    string
	Timescale int
}

// VideoFrames is the composed picture stream as length-prefixed frame records.
var VideoFrames = TrackFormat{Ext: "tmv", MimeType: "video/x-talkmix-frames", Timescale: 1000}

// AudioLPCM is the mixed audio as fragmented MP4 with an ipcm track.
func AudioLPCM(sampleRate int) TrackFormat {
	return TrackFormat{Ext: "m4s", MimeType: "audio/mp4", Codecs: "ipcm", Timescale: sampleRate}
}

// Segment is one closed media chunk on disk.
type Segment struct {
	Representation int
	Number         int
	Start          time.Duration
	Duration       time.Duration
	FileName       string
	Size           int64
}

// Segmenter names and writes init segments, media chunks and the manifest
// for one output directory. Files become visible atomically via rename.
type Segmenter struct {
	dir             string
	tracks          []TrackFormat
	segmentDuration time.Duration
	logger          *zap.SugaredLogger

	mu       sync.Mutex
	segments map[int][]*Segment
}

// NewSegmenter creates a segmenter. tracks is indexed by representation.
func NewSegmenter(dir string, segmentDuration time.Duration, tracks []TrackFormat, logger *zap.SugaredLogger) *Segmenter {
	return &Segmenter{
		dir:             dir,
		tracks:          tracks,
		segmentDuration: segmentDuration,
		logger:          logger,
		segments:        make(map[int][]*Segment),
	}
}

func (s *Segmenter) Dir() string {
	return s.dir
}

func (s *Segmenter) SegmentDuration() time.Duration {
	return s.segmentDuration
}

func (s *Segmenter) Track(representation int) TrackFormat {
	return s.tracks[representation]
}

func InitName(representation int, ext string) string {
	return fmt.Sprintf("init-stream%d.%s", representation, ext)
}

func ChunkName(representation, number int, ext string) string {
	return fmt.Sprintf("chunk-stream%d-%05d.%s", representation, number, ext)
}

func (s *Segmenter) Prepare() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// WriteInit writes the initialization segment of a representation.
func (s *Segmenter) WriteInit(representation int, data []byte) error {
	return writeFileAtomic(filepath.Join(s.dir, InitName(representation, s.tracks[representation].Ext)), data)
}

// CreateSegments writes chunk number of every representation, chunks[i]
// being the payload of representation i. Segments are recorded for the
// manifest only once all files are in place, so a failed call can be
// repeated with the same number.
func (s *Segmenter) CreateSegments(ctx context.Context, number int, start, duration time.Duration, chunks [][]byte) ([]*Segment, error) {
	if len(chunks) != len(s.tracks) {
		return nil, fmt.Errorf("got %d chunks for %d representations", len(chunks), len(s.tracks))
	}

	created := make([]*Segment, 0, len(chunks))
	for rep, data := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := ChunkName(rep, number, s.tracks[rep].Ext)
		if err := writeFileAtomic(filepath.Join(s.dir, name), data); err != nil {
			return nil, err
		}
		created = append(created, &Segment{
			Representation: rep,
			Number:         number,
			Start:          start,
			Duration:       duration,
			FileName:       name,
			Size:           int64(len(data)),
		})
	}

	s.mu.Lock()
	for _, segment := range created {
		s.segments[segment.Representation] = append(s.segments[segment.Representation], segment)
	}
	s.mu.Unlock()

	s.logger.Debugw("created segments",
		"number", number,
		"start", start,
		"duration", duration,
	)
	return created, nil
}

// Segments returns the segments written for a representation, oldest first.
func (s *Segmenter) Segments(representation int) []*Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Segment(nil), s.segments[representation]...)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to publish %s: %w", filepath.Base(path), err)
	}
	return nil
}
