package models

import "fmt"

// Mode is the party-size topology of a ranked match.
type Mode string

const (
	Mode1v1 Mode = "1v1"
	Mode2v2 Mode = "2v2"
	Mode3v3 Mode = "3v3"
)

// AllModes in display order. Queue processing iterates this.
var AllModes = []Mode{Mode1v1, Mode2v2, Mode3v3}

// ParseMode validates a client-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Mode1v1, Mode2v2, Mode3v3:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// TeamSize is the number of players per side.
func (m Mode) TeamSize() int {
	switch m {
	case Mode2v2:
		return 2
	case Mode3v3:
		return 3
	default:
		return 1
	}
}

// GroupSize is the total number of players needed for a match.
func (m Mode) GroupSize() int {
	return m.TeamSize() * 2
}

// ScoreLimit is the number of goals that ends a match in this mode.
func (m Mode) ScoreLimit() int {
	if m == Mode1v1 {
		return 3
	}
	return 5
}
