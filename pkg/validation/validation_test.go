package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateStreamID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "alice", false},
		{"uuid", "7f0c1c2e-8a34-4d57-9a7e-0f6b3d1c2a90", false},
		{"unicode", "zoë-cam", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"inner space", "a b", true},
		{"newline", "a\nb", true},
		{"too long", strings.Repeat("x", MaxIDLength+1), true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStreamID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTitle(t *testing.T) {
	assert.NoError(t, ValidateTitle(""))
	assert.NoError(t, ValidateTitle("Weekly sync – Q3"))
	assert.NoError(t, ValidateTitle(strings.Repeat("é", MaxTitleLength)))
	assert.Error(t, ValidateTitle(strings.Repeat("é", MaxTitleLength+1)))
	assert.Error(t, ValidateTitle("two\nlines"))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("archive"))
	assert.Error(t, ValidateName(strings.Repeat("n", MaxNameLength+1)))
	assert.Error(t, ValidateName("tab\there"))
}

func TestValidateClockFormat(t *testing.T) {
	assert.NoError(t, ValidateClockFormat("2006-01-02 15:04:05 MST"))
	assert.NoError(t, ValidateClockFormat("15:04"))
	assert.Error(t, ValidateClockFormat(""))
	assert.Error(t, ValidateClockFormat("hello"))
}
