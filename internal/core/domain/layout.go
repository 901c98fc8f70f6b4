package domain

import (
	"fmt"
	"strings"
)

// LayoutKind selects how visible streams are arranged on the output canvas.
type LayoutKind int

const (
	LayoutGrid LayoutKind = iota
	LayoutSpeaker
)

func (k LayoutKind) String() string {
	switch k {
	case LayoutGrid:
		return "grid"
	case LayoutSpeaker:
		return "speaker"
	default:
		return "unknown"
	}
}

// ParseLayoutKind accepts the names produced by LayoutKind.String.
func ParseLayoutKind(s string) (LayoutKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "grid":
		return LayoutGrid, nil
	case "speaker", "speaker-focus":
		return LayoutSpeaker, nil
	default:
		return 0, fmt.Errorf("%w: unknown layout %q", ErrInvalidParameters, s)
	}
}

func (k LayoutKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *LayoutKind) UnmarshalText(text []byte) error {
	parsed, err := ParseLayoutKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// SpeakerMode decides how a new speaker enters the visible set.
type SpeakerMode int

const (
	SpeakerShift SpeakerMode = iota
	SpeakerSwap
)

func (m SpeakerMode) String() string {
	switch m {
	case SpeakerShift:
		return "shift"
	case SpeakerSwap:
		return "swap"
	default:
		return "unknown"
	}
}

func ParseSpeakerMode(s string) (SpeakerMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "shift":
		return SpeakerShift, nil
	case "swap":
		return SpeakerSwap, nil
	default:
		return 0, fmt.Errorf("%w: unknown speaker mode %q", ErrInvalidParameters, s)
	}
}

// Size is a pixel dimension.
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

var (
	SizeSD  = Size{Width: 640, Height: 480}
	SizeHD  = Size{Width: 1280, Height: 720}
	SizeFHD = Size{Width: 1920, Height: 1080}
	SizeQHD = Size{Width: 2560, Height: 1440}
	SizeUHD = Size{Width: 3840, Height: 2160}
)

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Ratio returns width/height, or 0 for an empty size.
func (s Size) Ratio() float64 {
	if s.Height == 0 {
		return 0
	}
	return float64(s.Width) / float64(s.Height)
}

// ParseResolution understands preset names (sd, hd, fhd, qhd, uhd) and WxH.
func ParseResolution(s string) (Size, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sd":
		return SizeSD, nil
	case "hd":
		return SizeHD, nil
	case "fhd":
		return SizeFHD, nil
	case "qhd":
		return SizeQHD, nil
	case "uhd", "4k":
		return SizeUHD, nil
	}
	var size Size
	if _, err := fmt.Sscanf(s, "%dx%d", &size.Width, &size.Height); err != nil || size.Width <= 0 || size.Height <= 0 {
		return Size{}, fmt.Errorf("%w: invalid resolution %q", ErrInvalidParameters, s)
	}
	return size, nil
}

// Region is a placement on the output canvas.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}
