package domain

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"talkmix/pkg/validation"
)

// SinkKind is the closed set of output kinds.
type SinkKind int

const (
	SinkFile SinkKind = iota + 1
	SinkSegmented
	SinkDisplay
	SinkFanout
)

func (k SinkKind) String() string {
	switch k {
	case SinkFile:
		return "file"
	case SinkSegmented:
		return "segmented"
	case SinkDisplay:
		return "display"
	case SinkFanout:
		return "fanout"
	default:
		return "unknown"
	}
}

func ParseSinkKind(s string) (SinkKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "file", "mp4", "matroska":
		return SinkFile, nil
	case "segmented", "dash":
		return SinkSegmented, nil
	case "display", "system":
		return SinkDisplay, nil
	case "fanout", "multi":
		return SinkFanout, nil
	default:
		return 0, fmt.Errorf("%w: unknown sink kind %q", ErrInvalidParameters, s)
	}
}

func (k SinkKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *SinkKind) UnmarshalText(text []byte) error {
	parsed, err := ParseSinkKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k *SinkKind) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return k.UnmarshalText([]byte(s))
}

var speedPresets = []string{
	"none", "ultrafast", "superfast", "veryfast", "faster", "fast",
	"medium", "slow", "slower", "veryslow", "placebo",
}

// FileParams configures a single-file container recording.
type FileParams struct {
	Path        string  `json:"path" yaml:"path"`
	Bitrate     int     `json:"bitrate" yaml:"bitrate"`
	SpeedPreset string  `json:"speed_preset,omitempty" yaml:"speed_preset"`
	MaxDuration float64 `json:"max_duration,omitempty" yaml:"max_duration"` // seconds, 0 = unbounded
}

// MaxDurationValue converts MaxDuration seconds into a time.Duration.
func (p FileParams) MaxDurationValue() time.Duration {
	return time.Duration(p.MaxDuration * float64(time.Second))
}

// SegmentedParams configures a manifest + segments output.
type SegmentedParams struct {
	OutputDir       string  `json:"output_dir" yaml:"output_dir"`
	Bitrate         int     `json:"bitrate" yaml:"bitrate"`
	SegmentDuration float64 `json:"segment_duration" yaml:"segment_duration"` // seconds
	SegmentType     string  `json:"segment_type,omitempty" yaml:"segment_type"`
}

func (p SegmentedParams) SegmentDurationValue() time.Duration {
	return time.Duration(p.SegmentDuration * float64(time.Second))
}

// DisplayParams configures a live display without persisted output.
type DisplayParams struct {
	Name string `json:"name,omitempty" yaml:"name"`
	Sync bool   `json:"sync" yaml:"sync"`
}

// FanoutParams lists the children a fan-out group starts with.
type FanoutParams struct {
	Children []SinkSpec `json:"children" yaml:"children"`
}

// SinkSpec is a tagged variant: exactly the params matching Kind are set.
type SinkSpec struct {
	Kind      SinkKind         `json:"kind" yaml:"kind"`
	Name      string           `json:"name,omitempty" yaml:"name"`
	QueueSize int              `json:"queue_size,omitempty" yaml:"queue_size"`
	File      *FileParams      `json:"file,omitempty" yaml:"file"`
	Segmented *SegmentedParams `json:"segmented,omitempty" yaml:"segmented"`
	Display   *DisplayParams   `json:"display,omitempty" yaml:"display"`
	Fanout    *FanoutParams    `json:"fanout,omitempty" yaml:"fanout"`
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameters, fmt.Sprintf(format, args...))
}

// Output is the file or directory the sink writes, cleaned so equal
// locations compare equal. It is empty for kinds that persist nothing.
func (s SinkSpec) Output() string {
	switch {
	case s.Kind == SinkFile && s.File != nil:
		return filepath.Clean(s.File.Path)
	case s.Kind == SinkSegmented && s.Segmented != nil:
		return filepath.Clean(s.Segmented.OutputDir)
	default:
		return ""
	}
}

// strayParams names the parameter blocks set for a kind other than Kind.
func (s *SinkSpec) strayParams() []string {
	var stray []string
	if s.File != nil && s.Kind != SinkFile {
		stray = append(stray, "file")
	}
	if s.Segmented != nil && s.Kind != SinkSegmented {
		stray = append(stray, "segmented")
	}
	if s.Display != nil && s.Kind != SinkDisplay {
		stray = append(stray, "display")
	}
	if s.Fanout != nil && s.Kind != SinkFanout {
		stray = append(stray, "fanout")
	}
	return stray
}

// Validate checks the sink definition and fills kind-specific defaults.
func (s *SinkSpec) Validate() error {
	if s.QueueSize < 0 {
		return invalid("queue_size must be >= 0")
	}
	if err := validation.ValidateName(s.Name); err != nil {
		return invalid("%v", err)
	}
	if stray := s.strayParams(); len(stray) > 0 {
		return invalid("%s sink does not take %s parameters", s.Kind, strings.Join(stray, ", "))
	}
	switch s.Kind {
	case SinkFile:
		if s.File == nil {
			return invalid("file sink requires file parameters")
		}
		return s.File.validate()
	case SinkSegmented:
		if s.Segmented == nil {
			return invalid("segmented sink requires segmented parameters")
		}
		return s.Segmented.validate()
	case SinkDisplay:
		if s.Display == nil {
			s.Display = &DisplayParams{}
		}
		return nil
	case SinkFanout:
		if s.Fanout == nil {
			s.Fanout = &FanoutParams{}
		}
		outputs := make(map[string]int)
		for i := range s.Fanout.Children {
			child := &s.Fanout.Children[i]
			if child.Kind == SinkFanout {
				return invalid("fanout child %d: nested fanout is not supported", i)
			}
			if err := child.Validate(); err != nil {
				return fmt.Errorf("fanout child %d: %w", i, err)
			}
			if output := child.Output(); output != "" {
				if first, dup := outputs[output]; dup {
					return invalid("fanout children %d and %d both write %s", first, i, output)
				}
				outputs[output] = i
			}
		}
		return nil
	default:
		return invalid("unknown sink kind %d", s.Kind)
	}
}

func (p *FileParams) validate() error {
	if strings.TrimSpace(p.Path) == "" {
		return invalid("file.path must not be empty")
	}
	if p.Bitrate < 0 {
		return invalid("file.bitrate must be >= 0")
	}
	if p.MaxDuration < 0 || math.IsNaN(p.MaxDuration) {
		return invalid("file.max_duration must be >= 0")
	}
	if p.SpeedPreset == "" {
		p.SpeedPreset = "medium"
	}
	for _, preset := range speedPresets {
		if strings.EqualFold(preset, p.SpeedPreset) {
			p.SpeedPreset = preset
			return nil
		}
	}
	return invalid("file.speed_preset %q is unknown", p.SpeedPreset)
}

func (p *SegmentedParams) validate() error {
	if strings.TrimSpace(p.OutputDir) == "" {
		return invalid("segmented.output_dir must not be empty")
	}
	if p.SegmentDuration <= 0 || math.IsNaN(p.SegmentDuration) || math.IsInf(p.SegmentDuration, 0) {
		return invalid("segmented.segment_duration must be > 0")
	}
	if p.Bitrate < 0 {
		return invalid("segmented.bitrate must be >= 0")
	}
	if p.Bitrate == 0 {
		p.Bitrate = 0x0010_0000
	}
	switch strings.ToLower(p.SegmentType) {
	case "":
		p.SegmentType = "auto"
	case "auto", "mp4":
		p.SegmentType = strings.ToLower(p.SegmentType)
	case "webm":
		return invalid("segmented.segment_type webm is not supported, use mp4")
	default:
		return invalid("segmented.segment_type %q is unknown", p.SegmentType)
	}
	return nil
}

// SinkState is a sink's health as seen by the manager.
type SinkState int

const (
	SinkStarting SinkState = iota
	SinkRunning
	SinkDegraded
	SinkFinishing
	SinkFinished
	SinkFailed
)

func (s SinkState) String() string {
	switch s {
	case SinkStarting:
		return "starting"
	case SinkRunning:
		return "running"
	case SinkDegraded:
		return "degraded"
	case SinkFinishing:
		return "finishing"
	case SinkFinished:
		return "finished"
	case SinkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s SinkState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the sink no longer consumes frames.
func (s SinkState) Terminal() bool {
	return s == SinkFinished || s == SinkFailed
}

// SinkInfo is a snapshot of one registered sink.
type SinkInfo struct {
	Handle   SinkHandle `json:"handle"`
	Kind     SinkKind   `json:"kind"`
	Name     string     `json:"name"`
	State    SinkState  `json:"state"`
	Written  uint64     `json:"written"`
	Dropped  uint64     `json:"dropped"`
	Failures uint64     `json:"failures"`
	LastErr  string     `json:"last_error,omitempty"`
	Children []SinkInfo `json:"children,omitempty"`
}
