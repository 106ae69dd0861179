package counter

import (
	"errors"
	"strings"
)

// Color is one of the fixed set of counters clients may vote for.
type Color string

const (
	Red    Color = "red"
	Green  Color = "green"
	Blue   Color = "blue"
	Purple Color = "purple"
)

// Colors lists every valid color in display order.
var Colors = []Color{Red, Green, Blue, Purple}

// ErrInvalidColor is returned for any token outside Colors.
var ErrInvalidColor = errors.New("invalid color")

// ParseColor normalizes a client token (case and surrounding whitespace are
// ignored) and checks it against the fixed set.
func ParseColor(s string) (Color, error) {
	c := Color(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", ErrInvalidColor
	}
	return c, nil
}

func (c Color) Valid() bool {
	switch c {
	case Red, Green, Blue, Purple:
		return true
	}
	return false
}

func (c Color) String() string { return string(c) }
