package sinks

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"talkmix/internal/core/domain"
	"talkmix/pkg/optimize"
)

var errShortRecord = errors.New("short record")

// encodeVideo serializes the picture part of a frame: timing, canvas and layers.
func encodeVideo(buf *bytes.Buffer, frame *domain.Frame) {
	putU64(buf, frame.Seq)
	putU64(buf, uint64(frame.PTS))
	putU64(buf, uint64(frame.Duration))
	putU64(buf, frame.PlanVersion)
	putU32(buf, uint32(frame.Resolution.Width))
	putU32(buf, uint32(frame.Resolution.Height))

	putU16(buf, uint16(len(frame.Layers)))
	for _, layer := range frame.Layers {
		putString(buf, string(layer.StreamID))
		putU32(buf, uint32(int32(layer.Region.X)))
		putU32(buf, uint32(int32(layer.Region.Y)))
		putU32(buf, uint32(layer.Region.Width))
		putU32(buf, uint32(layer.Region.Height))
		if layer.Blank {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		putBytes(buf, layer.Payload)
		putString(buf, layer.Title)
	}

	putU16(buf, uint16(len(frame.Captions)))
	for _, caption := range frame.Captions {
		putString(buf, caption)
	}
}

// encodeAudio serializes mixed PCM as little-endian int16 samples.
func encodeAudio(buf *bytes.Buffer, pcm []int16) {
	var sample [2]byte
	for _, v := range pcm {
		binary.LittleEndian.PutUint16(sample[:], uint16(v))
		buf.Write(sample[:])
	}
}

var recordPool = optimize.NewBufferPool(64<<10, 8<<20)

// encodeFrame appends the full record stored by the container: video then audio.
func encodeFrame(buf *bytes.Buffer, frame *domain.Frame) {
	encodeVideo(buf, frame)
	putU32(buf, uint32(len(frame.Audio)))
	encodeAudio(buf, frame.Audio)
}

// decodeFrame reverses encodeFrame.
func decodeFrame(data []byte) (*domain.Frame, error) {
	r := bytes.NewReader(data)
	frame := &domain.Frame{}

	var err error
	read := func(v interface{}) {
		if err == nil {
			err = binary.Read(r, binary.BigEndian, v)
		}
	}

	var pts, dur uint64
	var width, height uint32
	var layers, captions uint16
	read(&frame.Seq)
	read(&pts)
	read(&dur)
	read(&frame.PlanVersion)
	read(&width)
	read(&height)
	read(&layers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errShortRecord, err)
	}
	frame.PTS = time.Duration(pts)
	frame.Duration = time.Duration(dur)
	frame.Resolution = domain.Size{Width: int(width), Height: int(height)}

	for i := 0; i < int(layers); i++ {
		var layer domain.VideoLayer
		var x, y int32
		var w, h uint32
		var blank uint8
		id, e := readString(r)
		if e != nil {
			return nil, e
		}
		layer.StreamID = domain.StreamID(id)
		read(&x)
		read(&y)
		read(&w)
		read(&h)
		read(&blank)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errShortRecord, err)
		}
		layer.Region = domain.Region{X: int(x), Y: int(y), Width: int(w), Height: int(h)}
		layer.Blank = blank == 1
		if layer.Payload, e = readBytes(r); e != nil {
			return nil, e
		}
		if layer.Title, e = readString(r); e != nil {
			return nil, e
		}
		frame.Layers = append(frame.Layers, layer)
	}

	read(&captions)
	for i := 0; i < int(captions) && err == nil; i++ {
		var caption string
		caption, err = readString(r)
		frame.Captions = append(frame.Captions, caption)
	}

	var samples uint32
	read(&samples)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errShortRecord, err)
	}
	if samples > 0 {
		raw := make([]byte, int(samples)*2)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errShortRecord, err)
		}
		frame.Audio = make([]int16, samples)
		for i := range frame.Audio {
			frame.Audio[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	}
	return frame, nil
}

func putU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putString(buf *bytes.Buffer, s string) {
	putU16(buf, uint16(len(s)))
	buf.WriteString(s)
}

func putBytes(buf *bytes.Buffer, b []byte) {
	putU32(buf, uint32(len(b)))
	buf.Write(b)
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", fmt.Errorf("%w: %v", errShortRecord, err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("%w: %v", errShortRecord, err)
	}
	return string(b), nil
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", errShortRecord, err)
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: %v", errShortRecord, err)
	}
	return b, nil
}
