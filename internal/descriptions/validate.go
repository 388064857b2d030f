package descriptions

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Length limits of the Telegram bot profile fields, in characters.
const (
	MaxShortDescription = 120
	MaxDescription      = 512
)

var (
	ErrNotFound       = errors.New("description not found")
	ErrNoDescriptions = errors.New("no descriptions configured")
)

// LimitFor returns the length limit of a profile field.
func LimitFor(field string) int {
	if field == "description" {
		return MaxDescription
	}
	return MaxShortDescription
}

// invisible runes that would hide content in a profile text.
var invisible = []rune{'\u200B', '\u200C', '\u200D', '\u2060', '\uFEFF'}

// Length counts characters after NFC normalization, so a composed and a
// decomposed "é" both count as one.
func Length(text string) int {
	return utf8.RuneCountInString(norm.NFC.String(text))
}

// ValidateText checks text for use as a profile description.
func ValidateText(text string, limit int) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("description text cannot be empty")
	}
	if n := Length(text); limit > 0 && n > limit {
		return fmt.Errorf("text too long: %d chars (max %d)", n, limit)
	}
	for _, r := range text {
		switch {
		case r == '\uFFFC':
			return errors.New("embedded objects are not allowed, only text")
		case unicode.IsControl(r) && r != '\n' && r != '\t':
			return fmt.Errorf("invalid character U+%04X, only text is allowed", r)
		}
	}
	for _, r := range invisible {
		if strings.ContainsRune(text, r) {
			return fmt.Errorf("invisible character U+%04X is not allowed", r)
		}
	}
	return nil
}

func ValidateID(id string) error {
	switch {
	case id == "":
		return errors.New("id cannot be empty")
	case strings.IndexFunc(id, unicode.IsSpace) >= 0:
		return errors.New("id cannot contain spaces")
	}
	return nil
}

// EntryError describes a problem with one entry.
type EntryError struct {
	Index int
	ID    string
	Err   error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("description %d (id: %s): %v", e.Index+1, e.ID, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// ValidateAll checks every entry and returns one result per entry (nil when
// valid). Duplicate ids are reported on the later entry.
func ValidateAll(list []Description, limit int) []error {
	out := make([]error, len(list))
	seen := make(map[string]bool, len(list))
	for i, d := range list {
		var err error
		switch {
		case seen[d.ID]:
			err = fmt.Errorf("duplicate id %q", d.ID)
		case ValidateID(d.ID) != nil:
			err = ValidateID(d.ID)
		case d.DurationSecs <= 0:
			err = fmt.Errorf("invalid duration %d seconds (must be > 0)", d.DurationSecs)
		default:
			err = ValidateText(d.Text, limit)
		}
		seen[d.ID] = true
		if err != nil {
			out[i] = &EntryError{Index: i, ID: d.ID, Err: err}
		}
	}
	return out
}

// ValidateEntries returns the first entry problem. An empty list is valid.
func ValidateEntries(list []Description, limit int) error {
	for _, err := range ValidateAll(list, limit) {
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate is ValidateEntries that also rejects an empty list. It is what
// the validate command reports.
func Validate(list []Description, limit int) error {
	if len(list) == 0 {
		return ErrNoDescriptions
	}
	return ValidateEntries(list, limit)
}
