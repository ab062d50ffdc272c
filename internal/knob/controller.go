package knob

import (
	"context"
	"math"
	"time"

	"github.com/san-kum/knobsuite/internal/bus"
	"github.com/san-kum/knobsuite/internal/clock"
	"github.com/san-kum/knobsuite/internal/control"
	"github.com/san-kum/knobsuite/internal/fault"
	"github.com/san-kum/knobsuite/internal/filter"
)

// Controller drives one knob. It is not safe for concurrent use; a suite
// ticks its controllers one at a time.
type Controller struct {
	channel int
	cfg     Config
	drv     bus.Driver
	clk     clock.Clock

	sensor   *filter.MovingAverage
	settling *filter.MovingAverage
	pid      *control.BoundedPID
	primed   bool

	state        State
	target       float64
	lastAchieved float64
	tolerance    float64
	position     float64
	command      float64
	clean        bool

	// per move
	startSetpoint float64
	startTime     time.Time
	approach      float64
	overshoot     float64
	minSpeed      float64
	maxSpeed      float64
	ticks         int

	last    LogRecord
	hasLast bool
}

// New builds a controller aiming for the middle of the position domain. It
// starts out Moving because the knob's real position is not known yet.
func New(channel int, cfg Config, drv bus.Driver, clk clock.Clock) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if drv == nil {
		return nil, fault.Configf("channel %d has no bus driver", channel)
	}
	if clk == nil {
		clk = clock.Wall{}
	}

	mid := cfg.Midpoint()
	sensor, err := filter.NewMovingAverage(cfg.FilterSize, mid)
	if err != nil {
		return nil, err
	}
	settling, err := filter.NewMovingAverage(cfg.SettlingWindow(), 0)
	if err != nil {
		return nil, err
	}
	lower, upper := cfg.OutputBounds(mid)
	pid, err := control.NewBoundedPID(cfg.Gains, cfg.SamplingInterval.Seconds(), lower, upper, cfg.Neutral())
	if err != nil {
		return nil, err
	}
	pid.SetSetpoint(mid)

	c := &Controller{
		channel:      channel,
		cfg:          cfg,
		drv:          drv,
		clk:          clk,
		sensor:       sensor,
		settling:     settling,
		pid:          pid,
		target:       mid,
		lastAchieved: mid,
		position:     mid,
		command:      cfg.StopCommand,
	}
	c.begin(mid)
	return c, nil
}

// ValidateTarget checks that sp lies inside the position domain.
func (c *Controller) ValidateTarget(sp float64) error {
	if math.IsNaN(sp) || sp < c.cfg.MinPosition || sp > c.cfg.MaxPosition {
		return fault.Configf("channel %d: setpoint %v outside [%v, %v]",
			c.channel, sp, c.cfg.MinPosition, c.cfg.MaxPosition)
	}
	return nil
}

// SetTarget starts a move to sp. Asking an idle controller for the position
// it already holds, or a moving one for the target it is already chasing,
// changes nothing.
func (c *Controller) SetTarget(sp float64) error {
	if err := c.ValidateTarget(sp); err != nil {
		return err
	}
	if c.state == Idle && sp == c.lastAchieved {
		return nil
	}
	if c.state != Idle && sp == c.target {
		return nil
	}
	from := c.target
	c.target = sp
	c.pid.SetSetpoint(sp)
	c.begin(from)
	return nil
}

func (c *Controller) begin(from float64) {
	c.startSetpoint = from
	c.state = Moving
	c.clean = false
	c.tolerance = c.cfg.Tolerance
	c.settling.Reset(0)
	c.startTime = c.clk.Now()
	c.approach = 0
	c.overshoot = 0
	c.minSpeed = math.Inf(1)
	c.maxSpeed = math.Inf(-1)
	c.ticks = 0
	if c.primed {
		c.approach = direction(c.target - c.position)
	}
}

// prime fills the sensor filter with live readings so the first position
// the PID sees is a real average rather than the construction fill value.
func (c *Controller) prime(ctx context.Context) error {
	samples := make([]float64, c.cfg.FilterSize)
	for i := range samples {
		raw, err := c.drv.ReadPosition(ctx, c.channel)
		if err != nil {
			return err
		}
		samples[i] = float64(raw)
	}
	c.position = c.sensor.Prime(samples...)
	c.primed = true
	return nil
}

func (c *Controller) read(ctx context.Context) error {
	if !c.primed {
		if err := c.prime(ctx); err != nil {
			return err
		}
		if c.approach == 0 {
			c.approach = direction(c.target - c.position)
		}
	}
	raw, err := c.drv.ReadPosition(ctx, c.channel)
	if err != nil {
		return err
	}
	c.position = c.sensor.Push(float64(raw))
	return nil
}

// tick holds everything one Update may change before its actuator write.
type tick struct {
	sensor    *filter.MovingAverage
	settling  *filter.MovingAverage
	pid       *control.BoundedPID
	primed    bool
	position  float64
	approach  float64
	overshoot float64
	ticks     int
}

func (c *Controller) save() tick {
	return tick{
		sensor:    c.sensor.Clone(),
		settling:  c.settling.Clone(),
		pid:       c.pid.Clone(),
		primed:    c.primed,
		position:  c.position,
		approach:  c.approach,
		overshoot: c.overshoot,
		ticks:     c.ticks,
	}
}

func (c *Controller) restore(t tick) {
	c.sensor = t.sensor
	c.settling = t.settling
	c.pid = t.pid
	c.primed = t.primed
	c.position = t.position
	c.approach = t.approach
	c.overshoot = t.overshoot
	c.ticks = t.ticks
}

// Update runs one control tick. It does nothing while Idle. Bus errors are
// returned as they are. A failed tick is rolled back completely, so retrying
// it behaves as if the failure never happened.
func (c *Controller) Update(ctx context.Context) (err error) {
	if c.state == Idle {
		return nil
	}
	saved := c.save()
	defer func() {
		if err != nil {
			c.restore(saved)
		}
	}()

	if err := c.read(ctx); err != nil {
		return err
	}

	out := c.pid.Step(c.position)
	cmd := out
	if out > c.cfg.Neutral() {
		cmd = out + c.cfg.DeadzoneSize
	}

	// Tightened bounds apply from the next step.
	lower, upper := c.cfg.OutputBounds(c.position)
	if err := c.pid.SetOutputBounds(lower, upper); err != nil {
		return err
	}

	errorDelta := c.position - c.target
	within := 0.0
	if math.Abs(errorDelta) < c.tolerance {
		within = 1
	}
	settled := c.settling.Push(within) >= 1
	if past := c.approach * errorDelta; past > c.overshoot {
		c.overshoot = past
	}
	c.ticks++

	if settled {
		if err := c.drv.SetActuatorCommand(ctx, c.channel, c.cfg.StopCommand); err != nil {
			return err
		}
		c.command = c.cfg.StopCommand
		c.finish()
		return nil
	}

	if err := c.drv.SetActuatorCommand(ctx, c.channel, cmd); err != nil {
		return err
	}
	c.command = cmd
	c.trackSpeed(cmd)
	if within == 1 {
		c.state = Settling
	} else {
		c.state = Moving
	}
	return nil
}

func (c *Controller) trackSpeed(cmd float64) {
	c.minSpeed = math.Min(c.minSpeed, cmd)
	c.maxSpeed = math.Max(c.maxSpeed, cmd)
}

func (c *Controller) finish() {
	if c.minSpeed > c.maxSpeed {
		// settled on the first tick; only the stop command went out
		c.trackSpeed(c.cfg.StopCommand)
	}
	c.last = LogRecord{
		Channel:        c.channel,
		StartSetpoint:  c.startSetpoint,
		EndSetpoint:    c.target,
		ElapsedSeconds: c.clk.Now().Sub(c.startTime).Seconds(),
		Overshoot:      c.overshoot,
		MinSpeed:       c.minSpeed,
		MaxSpeed:       c.maxSpeed,
		Ticks:          c.ticks,
	}
	c.hasLast = true
	c.tolerance = c.cfg.SettledTolerance
	c.lastAchieved = c.target
	c.state = Idle
	c.clean = true
}

// CheckHold re-reads an idle knob. If it has drifted outside the relaxed
// tolerance, for instance because someone turned it by hand, the controller
// goes back to Moving toward the same target.
func (c *Controller) CheckHold(ctx context.Context) error {
	if c.state != Idle {
		return nil
	}
	if err := c.read(ctx); err != nil {
		return err
	}
	if math.Abs(c.position-c.target) < c.tolerance {
		return nil
	}
	// derivative history is stale after idling
	c.pid.Reset()
	c.begin(c.target)
	return nil
}

// Stop parks the servo without touching controller state.
func (c *Controller) Stop(ctx context.Context) error {
	if err := c.drv.SetActuatorCommand(ctx, c.channel, c.cfg.StopCommand); err != nil {
		return err
	}
	c.command = c.cfg.StopCommand
	return nil
}

func (c *Controller) Channel() int              { return c.channel }
func (c *Controller) Config() Config            { return c.cfg }
func (c *Controller) Target() float64           { return c.target }
func (c *Controller) LastAchieved() float64     { return c.lastAchieved }
func (c *Controller) State() State              { return c.state }
func (c *Controller) Settled() bool             { return c.state == Idle }
func (c *Controller) TerminatedCleanly() bool   { return c.clean }
func (c *Controller) ActiveTolerance() float64  { return c.tolerance }
func (c *Controller) Position() float64         { return c.position }
func (c *Controller) Command() float64          { return c.command }
func (c *Controller) Overshoot() float64        { return c.overshoot }
func (c *Controller) Ticks() int                { return c.ticks }
func (c *Controller) SettlingFraction() float64 { return c.settling.Value() }

func (c *Controller) OutputBounds() (lower, upper float64) { return c.pid.OutputBounds() }

// SpeedRange returns the smallest and largest command of the current move.
func (c *Controller) SpeedRange() (lo, hi float64) {
	if c.ticks == 0 {
		return 0, 0
	}
	return c.minSpeed, c.maxSpeed
}

// LastLog returns the record of the most recent completed move.
func (c *Controller) LastLog() (LogRecord, bool) {
	return c.last, c.hasLast
}

func (c *Controller) Snapshot() Snapshot {
	lower, upper := c.pid.OutputBounds()
	return Snapshot{
		Channel:   c.channel,
		State:     c.state,
		Target:    c.target,
		Position:  c.position,
		Command:   c.command,
		Lower:     lower,
		Upper:     upper,
		Tolerance: c.tolerance,
		Settling:  c.settling.Value(),
		Overshoot: c.overshoot,
		Ticks:     c.ticks,
	}
}

func direction(d float64) float64 {
	switch {
	case d > 0:
		return 1
	case d < 0:
		return -1
	}
	return 0
}
