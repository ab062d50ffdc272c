package suite

import (
	"fmt"
	"strings"
)

type Mode int

const (
	// Sequential drives each knob to completion before starting the next.
	Sequential Mode = iota
	// Interleaved gives every unsettled knob one tick per round.
	Interleaved
)

func (m Mode) String() string {
	switch m {
	case Sequential:
		return "sequential"
	case Interleaved:
		return "interleaved"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequential", "seq":
		return Sequential, nil
	case "interleaved", "parallel", "par":
		return Interleaved, nil
	default:
		return 0, fmt.Errorf("unknown mode: %s", s)
	}
}
