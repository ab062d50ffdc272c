// Package sim provides a simulated knob bench: continuous servos turning
// potentiometers read by a quantising ADC. A Bench satisfies both the bus
// driver and the clock used by the controllers, so a whole suite can run
// faster than real time and deterministically under a fixed seed.
package sim
