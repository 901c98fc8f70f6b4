package sinks

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
)

const audioTrackID = 1

// lpcmTrack writes mixed PCM as a fragmented MP4 audio track: 16-bit
// little-endian interleaved samples, one fMP4 sample per composed frame.
type lpcmTrack struct {
	sampleRate int
	channels   int
}

func (t lpcmTrack) header() ([]byte, error) {
	initSegment := fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        audioTrackID,
			TimeScale: uint32(t.sampleRate),
			Codec: &mp4.CodecLPCM{
				LittleEndian: true,
				BitDepth:     16,
				SampleRate:   t.sampleRate,
				ChannelCount: t.channels,
			},
		}},
	}
	var buf seekablebuffer.Buffer
	if err := initSegment.Marshal(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode audio init segment: %w", err)
	}
	return buf.Bytes(), nil
}

func (t lpcmTrack) sample(pcm []int16, duration time.Duration) *fmp4.Sample {
	payload := make([]byte, 2*len(pcm))
	for i, v := range pcm {
		binary.LittleEndian.PutUint16(payload[2*i:], uint16(v))
	}
	return &fmp4.Sample{
		Duration: uint32(int64(duration) * int64(t.sampleRate) / int64(time.Second)),
		Payload:  payload,
	}
}

// fragment packs samples into the moof+mdat pair of chunk number, starting
// at baseTime ticks of the track clock.
func (t lpcmTrack) fragment(number int, baseTime int64, samples []*fmp4.Sample) ([]byte, error) {
	part := fmp4.Part{
		SequenceNumber: uint32(number),
		Tracks: []*fmp4.PartTrack{{
			ID:       audioTrackID,
			BaseTime: uint64(baseTime),
			Samples:  samples,
		}},
	}
	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode audio fragment: %w", err)
	}
	return buf.Bytes(), nil
}
