// Package validation checks user-supplied locations against the configured set.
package validation

import (
	"errors"
	"strings"
	"unicode"
)

var (
	// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
	ErrLocationEmpty = errors.New("location is required")
	// ErrLocationTooLong is returned when location exceeds MaxLocationRunes.
	ErrLocationTooLong = errors.New("location too long")
	// ErrLocationInvalidChars is returned for control or symbol characters.
	ErrLocationInvalidChars = errors.New("location contains invalid characters")
	// ErrLocationUnknown is returned when the location is not in the configured set.
	ErrLocationUnknown = errors.New("location not supported")
)

const MaxLocationRunes = 32

// Locations is an ordered allow-list of location names.
type Locations struct {
	list []string
	set  map[string]struct{}
}

func NewLocations(names []string) *Locations {
	l := &Locations{set: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := l.set[n]; dup {
			continue
		}
		l.set[n] = struct{}{}
		l.list = append(l.list, n)
	}
	return l
}

// List returns the locations in configured order. The caller must not modify it.
func (l *Locations) List() []string {
	return l.list
}

// Validate trims input and returns it if it names a configured location.
// Errors are suitable for 400 INVALID_LOCATION responses.
func (l *Locations) Validate(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrLocationEmpty
	}
	if len(r) > MaxLocationRunes {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !unicode.IsLetter(c) && !unicode.IsNumber(c) && c != ' ' {
			return "", ErrLocationInvalidChars
		}
	}
	if _, ok := l.set[s]; !ok {
		return "", ErrLocationUnknown
	}
	return s, nil
}
