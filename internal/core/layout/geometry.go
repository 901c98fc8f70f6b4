package layout

import (
	"math"

	"talkmix/internal/core/domain"
)

// viewerScale is how many viewer tiles fit across the canvas width in speaker layout.
const viewerScale = 4

type geometry interface {
	view(slot int) domain.Region
}

func ratio(canvas domain.Region) float64 {
	if canvas.Height <= 0 {
		return 1
	}
	return float64(canvas.Width) / float64(canvas.Height)
}

type gridGeometry struct {
	canvas  domain.Region
	columns int
	rows    int
	width   int
	height  int
	padding int
}

func newGridGeometry(canvas domain.Region, visibles int) gridGeometry {
	columns, rows := 1, 1
	if visibles > 1 {
		columns = int(math.Sqrt(float64(visibles)) + 0.9)
		rows = (visibles + columns - 1) / columns
		if rows > columns {
			columns, rows = columns+1, rows-1
		}
	}
	width := canvas.Width / columns
	height := int(float64(width) / ratio(canvas))
	padding := (canvas.Height - height*rows) / 2
	if padding < 0 {
		padding = 0
	}
	return gridGeometry{
		canvas:  canvas,
		columns: columns,
		rows:    rows,
		width:   width,
		height:  height,
		padding: padding,
	}
}

func (g gridGeometry) view(slot int) domain.Region {
	row := slot / g.columns
	column := slot % g.columns
	return domain.Region{
		X:      g.canvas.X + g.width*column,
		Y:      g.canvas.Y + g.height*row + g.padding,
		Width:  g.width,
		Height: g.height,
	}
}

// speakerGeometry puts slot 0 in a large primary region. Viewers fill a column
// on the right and continue leftwards along the bottom.
type speakerGeometry struct {
	canvas   domain.Region
	visibles int
}

func (s speakerGeometry) viewersWidth() int {
	switch s.visibles {
	case 0, 1:
		return 0
	case 2:
		return s.canvas.Width / 2
	default:
		return s.canvas.Width / viewerScale
	}
}

func (s speakerGeometry) viewersHeight() int {
	return int(float64(s.viewersWidth()) / ratio(s.canvas))
}

func (s speakerGeometry) speakerHeight() int {
	return s.canvas.Height - s.viewersHeight()
}

func (s speakerGeometry) speakerWidth() int {
	return int(float64(s.speakerHeight()) * ratio(s.canvas))
}

func (s speakerGeometry) view(slot int) domain.Region {
	if slot == 0 {
		y := 0
		if s.visibles == 2 {
			y = s.canvas.Height / 4
		}
		return domain.Region{
			X:      s.canvas.X,
			Y:      s.canvas.Y + y,
			Width:  s.speakerWidth(),
			Height: s.speakerHeight(),
		}
	}

	region := domain.Region{Width: s.viewersWidth(), Height: s.viewersHeight()}
	index := slot - 1
	switch {
	case s.visibles == 2:
		region.X = s.canvas.Width / 2
		region.Y = s.canvas.Height / 4
	case index < viewerScale:
		region.X = s.speakerWidth()
		region.Y = s.viewersHeight() * index
	default:
		offset := s.viewersWidth() * (index - viewerScale + 1)
		region.X = s.speakerWidth() - offset
		region.Y = s.speakerHeight()
	}
	region.X += s.canvas.X
	region.Y += s.canvas.Y
	return region
}
