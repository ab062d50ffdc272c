// Package control provides the feedback controller used by each knob.
//
// [BoundedPID] is a discrete PID whose output range can be tightened between
// steps. Narrowing the range is how a caller limits actuator speed near the
// ends of travel; the integral term is clamped to the same range so a
// saturated loop recovers without windup.
//
// # Usage
//
//	pid, err := control.NewBoundedPID(control.Gains{Kp: 0.4, Ki: 0.33, Kd: 0.05}, 0.005, 17, 77, 47)
//	pid.SetSetpoint(127)
//	out := pid.Step(position) // called once per sampling interval
//	pid.SetOutputBounds(44, 77) // applies from the next Step
package control
