package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkSpec_RejectsParamsOfOtherKinds(t *testing.T) {
	tests := []struct {
		name string
		spec SinkSpec
	}{
		{"display with file", SinkSpec{Kind: SinkDisplay, File: &FileParams{Path: "x.tmx"}}},
		{"file with segmented", SinkSpec{Kind: SinkFile, File: &FileParams{Path: "x.tmx"}, Segmented: &SegmentedParams{OutputDir: "d", SegmentDuration: 1}}},
		{"segmented with fanout", SinkSpec{Kind: SinkSegmented, Segmented: &SegmentedParams{OutputDir: "d", SegmentDuration: 1}, Fanout: &FanoutParams{}}},
		{"fanout with display", SinkSpec{Kind: SinkFanout, Display: &DisplayParams{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.spec.Validate(), ErrInvalidParameters)
		})
	}
}

func TestSinkSpec_FanoutChildrenMustNotShareOutput(t *testing.T) {
	spec := SinkSpec{Kind: SinkFanout, Fanout: &FanoutParams{Children: []SinkSpec{
		{Kind: SinkFile, File: &FileParams{Path: "rec/talk.tmx"}},
		{Kind: SinkDisplay},
		{Kind: SinkFile, File: &FileParams{Path: "rec//talk.tmx"}},
	}}}
	err := spec.Validate()
	require.ErrorIs(t, err, ErrInvalidParameters)
	assert.Contains(t, err.Error(), "0 and 2")

	spec.Fanout.Children[2].File.Path = "rec/other.tmx"
	assert.NoError(t, spec.Validate())
}

func TestSinkSpec_Defaults(t *testing.T) {
	spec := SinkSpec{Kind: SinkSegmented, Segmented: &SegmentedParams{OutputDir: "dash", SegmentDuration: 2}}
	require.NoError(t, spec.Validate())
	assert.Equal(t, "auto", spec.Segmented.SegmentType)
	assert.Equal(t, "dash", spec.Output())

	webm := SinkSpec{Kind: SinkSegmented, Segmented: &SegmentedParams{OutputDir: "dash", SegmentDuration: 2, SegmentType: "webm"}}
	assert.ErrorIs(t, webm.Validate(), ErrInvalidParameters)

	display := SinkSpec{Kind: SinkDisplay}
	require.NoError(t, display.Validate())
	assert.NotNil(t, display.Display)
	assert.Empty(t, display.Output())
}
