package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxIDLength    = 128
	MaxTitleLength = 200
	MaxNameLength  = 64
)

// ValidateStreamID accepts any printable id without whitespace.
func ValidateStreamID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("stream id is required")
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("stream id is too long (max %d bytes)", MaxIDLength)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("stream id is not valid UTF-8")
	}
	for _, r := range id {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return fmt.Errorf("stream id contains invalid character %q", r)
		}
	}
	return nil
}

// ValidateTitle checks a caption: empty is allowed, line breaks are not.
func ValidateTitle(title string) error {
	return validateText(title, "title", MaxTitleLength)
}

// ValidateName checks a sink name.
func ValidateName(name string) error {
	return validateText(name, "name", MaxNameLength)
}

func validateText(s, field string, max int) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%s is not valid UTF-8", field)
	}
	if n := utf8.RuneCountInString(s); n > max {
		return fmt.Errorf("%s is too long (%d characters, max %d)", field, n, max)
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return fmt.Errorf("%s contains control character %q", field, r)
		}
	}
	return nil
}

// ValidateClockFormat requires a layout that renders something time dependent.
func ValidateClockFormat(format string) error {
	if strings.TrimSpace(format) == "" {
		return fmt.Errorf("clock format is required")
	}
	if err := validateText(format, "clock format", MaxTitleLength); err != nil {
		return err
	}
	for _, token := range []string{"2006", "06", "01", "Jan", "02", "15", "03", "04", "05", "PM", "MST", "Mon"} {
		if strings.Contains(format, token) {
			return nil
		}
	}
	return fmt.Errorf("clock format %q has no time fields", format)
}
