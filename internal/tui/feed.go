package tui

import (
	"sync"

	"github.com/san-kum/knobsuite/internal/knob"
)

// Feed keeps the latest snapshot and a bounded position history per
// channel. Register it on the suite with suite.WithObserver.
type Feed struct {
	mu      sync.Mutex
	keep    int
	last    []knob.Snapshot
	seen    []bool
	history [][]float64
}

func NewFeed(channels, keep int) *Feed {
	if keep < 1 {
		keep = 1
	}
	return &Feed{
		keep:    keep,
		last:    make([]knob.Snapshot, channels),
		seen:    make([]bool, channels),
		history: make([][]float64, channels),
	}
}

func (f *Feed) OnTick(channel int, snap knob.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if channel < 0 || channel >= len(f.last) {
		return
	}
	f.last[channel] = snap
	f.seen[channel] = true
	h := append(f.history[channel], snap.Position)
	if len(h) > f.keep {
		h = h[len(h)-f.keep:]
	}
	f.history[channel] = h
}

// Last returns the newest snapshot of channel, if it has ticked yet.
func (f *Feed) Last(channel int) (knob.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if channel < 0 || channel >= len(f.last) {
		return knob.Snapshot{}, false
	}
	return f.last[channel], f.seen[channel]
}

func (f *Feed) History(channel int) []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if channel < 0 || channel >= len(f.history) {
		return nil
	}
	out := make([]float64, len(f.history[channel]))
	copy(out, f.history[channel])
	return out
}
