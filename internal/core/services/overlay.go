package services

import (
	"talkmix/internal/core/domain"
)

// DefaultClockFormat renders date, time and zone.
const DefaultClockFormat = "2006-01-02 15:04:05 MST"

// DefaultTopPadding is the band reserved above the streams for title and clock.
const DefaultTopPadding = 56

// OverlayState holds the session-level decorations. It never influences which
// streams are visible, only the canvas they are placed on.
type OverlayState struct {
	title            string
	showTitle        bool
	clock            bool
	clockFormat      string
	showStreamTitles bool
	topPadding       int
}

func NewOverlayState(title string, showTitle, clock, showStreamTitles bool, clockFormat string, topPadding int) *OverlayState {
	if clockFormat == "" {
		clockFormat = DefaultClockFormat
	}
	if topPadding < 0 {
		topPadding = 0
	}
	return &OverlayState{
		title:            title,
		showTitle:        showTitle,
		clock:            clock,
		clockFormat:      clockFormat,
		showStreamTitles: showStreamTitles,
		topPadding:       topPadding,
	}
}

func (o *OverlayState) SetTitle(title string)      { o.title = title }
func (o *OverlayState) ShowTitle(show bool)        { o.showTitle = show }
func (o *OverlayState) EnableClock(enabled bool)   { o.clock = enabled }
func (o *OverlayState) ShowStreamTitles(show bool) { o.showStreamTitles = show }
func (o *OverlayState) StreamTitlesShown() bool    { return o.showStreamTitles }

// banner reports whether the top band is drawn.
func (o *OverlayState) banner() bool {
	return (o.showTitle && o.title != "") || o.clock
}

// Canvas returns the area available to the layout for the given output size.
func (o *OverlayState) Canvas(resolution domain.Size) domain.Region {
	canvas := domain.Region{Width: resolution.Width, Height: resolution.Height}
	if o.banner() && o.topPadding < resolution.Height {
		canvas.Y = o.topPadding
		canvas.Height -= o.topPadding
	}
	return canvas
}

func (o *OverlayState) Snapshot() domain.SessionOverlay {
	padding := 0
	if o.banner() {
		padding = o.topPadding
	}
	return domain.SessionOverlay{
		Title:            o.title,
		ShowTitle:        o.showTitle,
		Clock:            o.clock,
		ClockFormat:      o.clockFormat,
		ShowStreamTitles: o.showStreamTitles,
		TopPadding:       padding,
	}
}
