package layout

import (
	"fmt"
	"testing"

	"talkmix/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hd = domain.Region{Width: 1280, Height: 720}

func ids(n int) []domain.StreamID {
	out := make([]domain.StreamID, n)
	for i := range out {
		out[i] = domain.StreamID(fmt.Sprintf("%d", i))
	}
	return out
}

func visible(placements []Placement) []domain.StreamID {
	out := make([]domain.StreamID, 0, len(placements))
	for _, p := range placements {
		out = append(out, p.StreamID)
	}
	return out
}

func TestCompute_NeverExceedsCapacity(t *testing.T) {
	for _, kind := range []domain.LayoutKind{domain.LayoutGrid, domain.LayoutSpeaker} {
		for _, max := range []int{0, 1, 3, 8, 1 << 20} {
			for _, n := range []int{0, 1, 2, 5, 8, 20} {
				for _, speaker := range []domain.StreamID{"", "0", "4", "missing"} {
					t.Run(fmt.Sprintf("%s/max=%d/n=%d/speaker=%q", kind, max, n, speaker), func(t *testing.T) {
						placements := Compute(Request{
							Candidates: ids(n),
							Speaker:    speaker,
							Kind:       kind,
							MaxVisible: max,
							Canvas:     hd,
						})

						assert.LessOrEqual(t, len(placements), max)
						assert.LessOrEqual(t, len(placements), n)
						if max >= 1 && speaker != "" && containsID(ids(n), speaker) {
							assert.Contains(t, visible(placements), speaker)
						}
						for slot, p := range placements {
							assert.Equal(t, slot, p.Slot)
						}
					})
				}
			}
		}
	}
}

func containsID(list []domain.StreamID, id domain.StreamID) bool {
	return contains(list, id)
}

func TestCompute_EmptyInputs(t *testing.T) {
	assert.Empty(t, Compute(Request{Candidates: ids(4), MaxVisible: 0, Canvas: hd}))
	assert.Empty(t, Compute(Request{Candidates: nil, MaxVisible: 4, Canvas: hd}))
	assert.Empty(t, Compute(Request{Candidates: ids(4), MaxVisible: -1, Canvas: hd}))
}

func TestCompute_GridKeepsInsertionOrder(t *testing.T) {
	placements := Compute(Request{Candidates: ids(6), Kind: domain.LayoutGrid, MaxVisible: 4, Canvas: hd})

	assert.Equal(t, []domain.StreamID{"0", "1", "2", "3"}, visible(placements))
}

func TestCompute_GridPullsInSpeakerBeyondCapacity(t *testing.T) {
	placements := Compute(Request{
		Candidates: ids(6),
		Speaker:    "5",
		Kind:       domain.LayoutGrid,
		MaxVisible: 3,
		Canvas:     hd,
	})

	assert.Equal(t, []domain.StreamID{"0", "1", "5"}, visible(placements))
}

func TestCompute_SpeakerTakesPrimarySlot(t *testing.T) {
	placements := Compute(Request{
		Candidates: ids(5),
		Speaker:    "3",
		Kind:       domain.LayoutSpeaker,
		MaxVisible: 3,
		Canvas:     hd,
	})

	assert.Equal(t, []domain.StreamID{"3", "0", "1"}, visible(placements))
	assert.Greater(t, placements[0].Region.Width, placements[1].Region.Width)
}

func TestCompute_SpeakerWithoutSpeakerFallsBackToGrid(t *testing.T) {
	grid := Compute(Request{Candidates: ids(4), Kind: domain.LayoutGrid, MaxVisible: 4, Canvas: hd})
	speaker := Compute(Request{Candidates: ids(4), Kind: domain.LayoutSpeaker, MaxVisible: 4, Canvas: hd})

	assert.Equal(t, grid, speaker)
}

func TestCompute_IgnoresUnknownSpeaker(t *testing.T) {
	placements := Compute(Request{
		Candidates: ids(3),
		Speaker:    "gone",
		Kind:       domain.LayoutSpeaker,
		MaxVisible: 2,
		Canvas:     hd,
	})

	assert.Equal(t, []domain.StreamID{"0", "1"}, visible(placements))
}

func TestGridGeometry(t *testing.T) {
	tests := []struct {
		name     string
		visibles int
		columns  int
		rows     int
		slot     int
		want     domain.Region
	}{
		{name: "single", visibles: 1, columns: 1, rows: 1, slot: 0, want: domain.Region{X: 0, Y: 0, Width: 1280, Height: 720}},
		{name: "two side by side centred", visibles: 2, columns: 2, rows: 1, slot: 1, want: domain.Region{X: 640, Y: 180, Width: 640, Height: 360}},
		{name: "three", visibles: 3, columns: 2, rows: 2, slot: 2, want: domain.Region{X: 0, Y: 360, Width: 640, Height: 360}},
		{name: "four", visibles: 4, columns: 2, rows: 2, slot: 3, want: domain.Region{X: 640, Y: 360, Width: 640, Height: 360}},
		{name: "five", visibles: 5, columns: 3, rows: 2, slot: 4, want: domain.Region{X: 426, Y: 360, Width: 426, Height: 239}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGridGeometry(hd, tt.visibles)

			assert.Equal(t, tt.columns, g.columns)
			assert.Equal(t, tt.rows, g.rows)
			assert.Equal(t, tt.want, g.view(tt.slot))
		})
	}
}

func TestSpeakerGeometry(t *testing.T) {
	t.Run("alone fills the canvas", func(t *testing.T) {
		s := speakerGeometry{canvas: hd, visibles: 1}
		assert.Equal(t, domain.Region{Width: 1280, Height: 720}, s.view(0))
	})

	t.Run("one viewer beside the speaker", func(t *testing.T) {
		s := speakerGeometry{canvas: hd, visibles: 2}
		assert.Equal(t, domain.Region{X: 0, Y: 180, Width: 640, Height: 360}, s.view(0))
		assert.Equal(t, domain.Region{X: 640, Y: 180, Width: 640, Height: 360}, s.view(1))
	})

	t.Run("viewers on the right then along the bottom", func(t *testing.T) {
		s := speakerGeometry{canvas: hd, visibles: 6}
		assert.Equal(t, domain.Region{X: 0, Y: 0, Width: 960, Height: 540}, s.view(0))
		assert.Equal(t, domain.Region{X: 960, Y: 0, Width: 320, Height: 180}, s.view(1))
		assert.Equal(t, domain.Region{X: 960, Y: 540, Width: 320, Height: 180}, s.view(4))
		assert.Equal(t, domain.Region{X: 640, Y: 540, Width: 320, Height: 180}, s.view(5))
	})
}

func TestCompute_CanvasOffset(t *testing.T) {
	canvas := domain.Region{X: 0, Y: 56, Width: 1280, Height: 664}
	placements := Compute(Request{Candidates: ids(1), Kind: domain.LayoutGrid, MaxVisible: 1, Canvas: canvas})

	require.Len(t, placements, 1)
	assert.GreaterOrEqual(t, placements[0].Region.Y, 56)
}
