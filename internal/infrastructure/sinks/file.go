package sinks

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"talkmix/internal/core/domain"

	"go.uber.org/zap"
)

const (
	containerMagic   = "TMX1"
	indexMagic       = "TIDX"
	trailerMagic     = "TEND"
	containerVersion = 1
)

type indexEntry struct {
	offset uint64
	pts    time.Duration
}

// FileSink records the composed stream into one container file: a header,
// length-prefixed frame records and an index trailer written on Finalize.
type FileSink struct {
	params domain.FileParams
	logger *zap.SugaredLogger

	file     *os.File
	w        *bufio.Writer
	offset   uint64
	index    []indexEntry
	firstPTS time.Duration
	started  bool
	done     bool
}

func NewFileSink(params domain.FileParams, logger *zap.SugaredLogger) *FileSink {
	return &FileSink{params: params, logger: logger}
}

func (s *FileSink) Kind() domain.SinkKind {
	return domain.SinkFile
}

func (s *FileSink) Open(_ context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.params.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create recording directory: %w", err)
	}
	file, err := os.Create(s.params.Path)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}
	s.file = file
	s.w = bufio.NewWriterSize(file, 256<<10)

	var header bytes.Buffer
	header.WriteString(containerMagic)
	putU16(&header, containerVersion)
	putU32(&header, uint32(s.params.Bitrate))
	putString(&header, s.params.SpeedPreset)
	putU64(&header, uint64(s.params.MaxDurationValue()))
	putU64(&header, uint64(time.Now().UnixNano()))

	n, err := s.w.Write(header.Bytes())
	if err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	s.offset = uint64(n)

	s.logger.Infow("Recording opened", "path", s.params.Path, "bitrate", s.params.Bitrate, "speed_preset", s.params.SpeedPreset)
	return nil
}

// Write appends a record. Once max_duration is reached it returns
// domain.ErrSinkDone and accepts nothing more.
func (s *FileSink) Write(_ context.Context, frame *domain.Frame) error {
	if s.done {
		return domain.ErrSinkDone
	}
	if !s.started {
		s.firstPTS = frame.PTS
		s.started = true
	}
	if limit := s.params.MaxDurationValue(); limit > 0 && frame.PTS-s.firstPTS >= limit {
		s.done = true
		s.logger.Infow("Recording reached max duration", "path", s.params.Path, "max_duration", limit)
		return domain.ErrSinkDone
	}

	record := recordPool.Get()
	defer recordPool.Put(record)
	encodeFrame(record, frame)

	size := record.Len()
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(size))
	if _, err := s.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if _, err := record.WriteTo(s.w); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	s.index = append(s.index, indexEntry{offset: s.offset, pts: frame.PTS})
	s.offset += uint64(len(prefix) + size)
	return nil
}

// Finalize writes the index trailer and closes the file.
func (s *FileSink) Finalize(ctx context.Context) error {
	if s.file == nil {
		return nil
	}
	defer func() { s.file = nil }()

	if err := ctx.Err(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("recording not finalized: %w", err)
	}

	var trailer bytes.Buffer
	trailer.WriteString(indexMagic)
	putU32(&trailer, uint32(len(s.index)))
	for _, entry := range s.index {
		putU64(&trailer, entry.offset)
		putU64(&trailer, uint64(entry.pts))
	}
	putU64(&trailer, s.offset)
	trailer.WriteString(trailerMagic)

	if _, err := s.w.Write(trailer.Bytes()); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("failed to flush recording: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("failed to sync recording: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close recording: %w", err)
	}

	s.logger.Infow("Recording finalized", "path", s.params.Path, "frames", len(s.index), "bytes", s.offset)
	return nil
}

// Container is a parsed recording.
type Container struct {
	Bitrate     int
	SpeedPreset string
	MaxDuration time.Duration
	CreatedAt   time.Time
	Frames      []*domain.Frame
	// Indexed is true only for recordings finalized with an index trailer.
	Indexed bool
}

// ReadContainer parses a recording written by FileSink. Unfinalized files
// are read up to the last complete record.
func ReadContainer(path string) (*Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < len(containerMagic)+2 || string(data[:4]) != containerMagic {
		return nil, fmt.Errorf("%s: not a recording", path)
	}

	r := bytes.NewReader(data[4:])
	var version uint16
	var bitrate uint32
	var maxDuration, created uint64
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, err
	}
	if version != containerVersion {
		return nil, fmt.Errorf("%s: unsupported version %d", path, version)
	}
	if err := binary.Read(r, binary.BigEndian, &bitrate); err != nil {
		return nil, err
	}
	preset, err := readString(r)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &maxDuration); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &created); err != nil {
		return nil, err
	}

	c := &Container{
		Bitrate:     int(bitrate),
		SpeedPreset: preset,
		MaxDuration: time.Duration(maxDuration),
		CreatedAt:   time.Unix(0, int64(created)),
	}

	end := len(data)
	if len(data) >= 12 && string(data[len(data)-4:]) == trailerMagic {
		indexOffset := binary.BigEndian.Uint64(data[len(data)-12:])
		if indexOffset+4 <= uint64(len(data)) && string(data[indexOffset:indexOffset+4]) == indexMagic {
			end = int(indexOffset)
			c.Indexed = true
		}
	}

	pos := len(data) - r.Len()
	for pos+4 <= end {
		size := int(binary.BigEndian.Uint32(data[pos:]))
		if pos+4+size > end {
			break
		}
		frame, err := decodeFrame(data[pos+4 : pos+4+size])
		if err != nil {
			return nil, err
		}
		c.Frames = append(c.Frames, frame)
		pos += 4 + size
	}
	return c, nil
}
