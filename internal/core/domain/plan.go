package domain

import (
	"fmt"
	"strings"
)

// BlindMode selects what a blinded stream shows instead of its video.
type BlindMode int

const (
	BlindNone BlindMode = iota
	BlindSolid
	BlindFreeze
)

func (m BlindMode) String() string {
	switch m {
	case BlindNone:
		return "none"
	case BlindSolid:
		return "solid"
	case BlindFreeze:
		return "freeze"
	default:
		return "unknown"
	}
}

func ParseBlindMode(s string) (BlindMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "solid":
		return BlindSolid, nil
	case "freeze":
		return BlindFreeze, nil
	case "none":
		return BlindNone, nil
	default:
		return 0, fmt.Errorf("%w: unknown blind mode %q", ErrInvalidParameters, s)
	}
}

func (m BlindMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *BlindMode) UnmarshalText(text []byte) error {
	parsed, err := ParseBlindMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Tile places one visible stream. Slot 0 is the primary region.
type Tile struct {
	StreamID StreamID  `json:"stream_id"`
	Slot     int       `json:"slot"`
	Region   Region    `json:"region"`
	Blind    BlindMode `json:"blind"`
	Title    string    `json:"title,omitempty"`
}

// Input is a live stream's contribution to the mix, visible or not. Blind
// is carried here as well as on the tile so a freeze survives the stream
// leaving and re-entering the visible set.
type Input struct {
	StreamID StreamID  `json:"stream_id"`
	Audio    bool      `json:"audio"`
	Video    bool      `json:"video"`
	Blind    BlindMode `json:"blind"`
}

// SessionOverlay holds the decorations drawn over the composed canvas.
type SessionOverlay struct {
	Title            string `json:"title"`
	ShowTitle        bool   `json:"show_title"`
	Clock            bool   `json:"clock"`
	ClockFormat      string `json:"clock_format"`
	ShowStreamTitles bool   `json:"show_stream_titles"`
	TopPadding       int    `json:"top_padding"`
}

// RenderPlan is the fully resolved description the engine renders from.
// It is rebuilt from session state after every accepted mutation.
type RenderPlan struct {
	Version    uint64         `json:"version"`
	Layout     LayoutKind     `json:"layout"`
	MaxVisible int            `json:"max_visible"`
	Resolution Size           `json:"resolution"`
	Speaker    StreamID       `json:"speaker,omitempty"`
	Tiles      []Tile         `json:"tiles"`
	Inputs     []Input        `json:"inputs"`
	Overlay    SessionOverlay `json:"overlay"`
}

// Visible returns the ids of the placed streams in slot order.
func (p *RenderPlan) Visible() []StreamID {
	if p == nil {
		return nil
	}
	ids := make([]StreamID, 0, len(p.Tiles))
	for _, t := range p.Tiles {
		ids = append(ids, t.StreamID)
	}
	return ids
}

// IsVisible reports whether id has a tile in the plan.
func (p *RenderPlan) IsVisible(id StreamID) bool {
	if p == nil {
		return false
	}
	for _, t := range p.Tiles {
		if t.StreamID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to other goroutines.
func (p *RenderPlan) Clone() *RenderPlan {
	if p == nil {
		return nil
	}
	c := *p
	c.Tiles = append([]Tile(nil), p.Tiles...)
	c.Inputs = append([]Input(nil), p.Inputs...)
	return &c
}
