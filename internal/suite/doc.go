// Package suite coordinates several knob controllers sharing one bus.
//
// The suite owns the only loop that touches the bus. Channels are serviced
// in index order from a single goroutine and the clock's Sleep is the only
// place the loop yields, so two transactions can never overlap.
//
// A move is Begin followed by Round until it reports done. In Sequential
// mode each Round ticks the lowest unsettled channel once, which drives the
// knobs to their targets one after another. In Interleaved mode each Round
// ticks every unsettled channel once, pausing one sampling interval after
// each, so all knobs travel together. MoveTo does both steps.
package suite
