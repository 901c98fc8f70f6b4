// Package layout maps an ordered candidate list onto regions of the output canvas.
package layout

import (
	"talkmix/internal/core/domain"
)

// Request is the input of Compute. Candidates must already be filtered to
// streams that can be shown and ordered by priority.
type Request struct {
	Candidates []domain.StreamID
	Speaker    domain.StreamID
	Kind       domain.LayoutKind
	MaxVisible int
	Canvas     domain.Region
}

// Placement is one visible stream and where it is drawn.
type Placement struct {
	StreamID domain.StreamID
	Slot     int
	Region   domain.Region
}

// Compute selects the visible subset and places it. It never returns more than
// MaxVisible placements, and a speaker present in Candidates is always placed
// when MaxVisible >= 1.
func Compute(req Request) []Placement {
	if req.MaxVisible <= 0 || len(req.Candidates) == 0 {
		return nil
	}

	speaker := req.Speaker
	if speaker != "" && !contains(req.Candidates, speaker) {
		speaker = ""
	}

	kind := req.Kind
	if kind == domain.LayoutSpeaker && speaker == "" {
		kind = domain.LayoutGrid
	}

	var selected []domain.StreamID
	switch kind {
	case domain.LayoutSpeaker:
		selected = selectSpeaker(req.Candidates, speaker, req.MaxVisible)
	default:
		selected = selectGrid(req.Candidates, speaker, req.MaxVisible)
	}

	var geo geometry
	switch kind {
	case domain.LayoutSpeaker:
		geo = speakerGeometry{canvas: req.Canvas, visibles: len(selected)}
	default:
		geo = newGridGeometry(req.Canvas, len(selected))
	}

	placements := make([]Placement, 0, len(selected))
	for slot, id := range selected {
		placements = append(placements, Placement{
			StreamID: id,
			Slot:     slot,
			Region:   geo.view(slot),
		})
	}
	return placements
}

func selectGrid(candidates []domain.StreamID, speaker domain.StreamID, max int) []domain.StreamID {
	n := len(candidates)
	if n > max {
		n = max
	}
	selected := append([]domain.StreamID(nil), candidates[:n]...)
	if speaker != "" && !contains(selected, speaker) {
		// speaker sits further down the order; it takes the last slot
		selected[len(selected)-1] = speaker
	}
	return selected
}

func selectSpeaker(candidates []domain.StreamID, speaker domain.StreamID, max int) []domain.StreamID {
	size := len(candidates)
	if size > max {
		size = max
	}
	selected := make([]domain.StreamID, 0, size)
	selected = append(selected, speaker)
	for _, id := range candidates {
		if len(selected) >= max {
			break
		}
		if id != speaker {
			selected = append(selected, id)
		}
	}
	return selected
}

func contains(ids []domain.StreamID, id domain.StreamID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
