package knob

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/knobsuite/internal/bus"
	"github.com/san-kum/knobsuite/internal/fault"
	"github.com/san-kum/knobsuite/internal/sim"
)

func newBenchController(t *testing.T, initial float64, modify ...func(*sim.BenchConfig)) (*Controller, *sim.Bench) {
	t.Helper()
	bcfg := sim.DefaultBenchConfig(1)
	bcfg.Initial = []float64{initial}
	for _, m := range modify {
		m(&bcfg)
	}
	bench, err := sim.NewBench(bcfg)
	require.NoError(t, err)

	c, err := New(0, DefaultConfig(), bench, bench)
	require.NoError(t, err)
	return c, bench
}

// drive ticks c at the sampling interval until it settles.
func drive(t *testing.T, c *Controller, bench *sim.Bench, maxTicks int) int {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= maxTicks; i++ {
		require.NoError(t, c.Update(ctx))
		if c.Settled() {
			return i
		}
		require.NoError(t, bench.Sleep(ctx, c.Config().SamplingInterval))
	}
	t.Fatalf("channel %d did not settle at %.1f within %d ticks (position %.2f)",
		c.Channel(), c.Target(), maxTicks, c.Position())
	return 0
}

func TestNewRejectsBadConfig(t *testing.T) {
	bench, err := sim.NewBench(sim.DefaultBenchConfig(1))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.FilterSize = 0
	_, err = New(0, cfg, bench, bench)
	assert.ErrorIs(t, err, fault.ErrConfiguration)

	_, err = New(0, DefaultConfig(), nil, bench)
	assert.ErrorIs(t, err, fault.ErrConfiguration)
}

func TestNewStartsMovingToMidpoint(t *testing.T) {
	c, _ := newBenchController(t, 127)

	assert.Equal(t, Moving, c.State())
	assert.Equal(t, 127.0, c.Target())
	assert.False(t, c.Settled())
	assert.False(t, c.TerminatedCleanly())
	assert.Equal(t, 1.0, c.ActiveTolerance())
	_, ok := c.LastLog()
	assert.False(t, ok)
}

func TestSettlesAfterWindowAtStaticTarget(t *testing.T) {
	c, bench := newBenchController(t, 127)
	ctx := context.Background()
	window := c.Config().SettlingWindow()

	prev := c.SettlingFraction()
	for i := 1; i < window; i++ {
		require.NoError(t, c.Update(ctx))
		require.NoError(t, bench.Sleep(ctx, c.Config().SamplingInterval))

		require.False(t, c.Settled(), "settled early at tick %d", i)
		assert.Equal(t, Settling, c.State())
		assert.GreaterOrEqual(t, c.SettlingFraction(), prev)
		prev = c.SettlingFraction()
	}

	require.NoError(t, c.Update(ctx))
	assert.True(t, c.Settled())
	assert.True(t, c.TerminatedCleanly())
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 180.0, bench.Command(0))
	assert.Equal(t, 5.0, c.ActiveTolerance())
	assert.Equal(t, 127.0, c.LastAchieved())

	rec, ok := c.LastLog()
	require.True(t, ok)
	assert.Equal(t, 0, rec.Channel)
	assert.Equal(t, 127.0, rec.StartSetpoint)
	assert.Equal(t, 127.0, rec.EndSetpoint)
	assert.Equal(t, window, rec.Ticks)
	assert.InDelta(t, float64(window-1)*0.005, rec.ElapsedSeconds, 1e-9)
	assert.True(t, rec.Stationary())
}

func TestUpdateWhileIdleDoesNothing(t *testing.T) {
	c, bench := newBenchController(t, 127)
	drive(t, c, bench, 100)

	require.NoError(t, bench.SetActuatorCommand(context.Background(), 0, 60))
	require.NoError(t, c.Update(context.Background()))
	assert.Equal(t, 60.0, bench.Command(0))
	assert.Equal(t, Idle, c.State())
}

func TestRetargetResetsTolerance(t *testing.T) {
	c, bench := newBenchController(t, 127)
	drive(t, c, bench, 100)
	require.Equal(t, 5.0, c.ActiveTolerance())

	require.NoError(t, c.SetTarget(140))
	assert.Equal(t, 1.0, c.ActiveTolerance())
	assert.Equal(t, Moving, c.State())
	assert.False(t, c.Settled())
	assert.False(t, c.TerminatedCleanly())
	assert.Equal(t, 0.0, c.SettlingFraction())
	assert.Equal(t, 0, c.Ticks())
}

func TestSetTargetNoOps(t *testing.T) {
	c, bench := newBenchController(t, 127)
	drive(t, c, bench, 100)

	require.NoError(t, c.SetTarget(127))
	assert.Equal(t, Idle, c.State(), "same target while idle")
	assert.Equal(t, 5.0, c.ActiveTolerance())

	require.NoError(t, c.SetTarget(200))
	require.NoError(t, c.Update(context.Background()))
	ticks := c.Ticks()
	require.NoError(t, c.SetTarget(200))
	assert.Equal(t, ticks, c.Ticks(), "same target while moving keeps the move")
}

func TestSetTargetOutsideDomain(t *testing.T) {
	c, _ := newBenchController(t, 127)

	for _, sp := range []float64{-1, 256, math.NaN()} {
		assert.ErrorIs(t, c.SetTarget(sp), fault.ErrConfiguration)
	}
	assert.Equal(t, 127.0, c.Target())
}

func TestBoundaryBlending(t *testing.T) {
	tests := []struct {
		name         string
		position     float64
		target       float64
		lower, upper float64
	}{
		{"near min", 5, 10, 44, 77},
		{"center", 127, 140, 17, 77},
		{"padding", 30, 60, 30.5, 77},
		{"near max", 250, 245, 17, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newBenchController(t, tt.position)
			require.NoError(t, c.SetTarget(tt.target))
			require.NoError(t, c.Update(context.Background()))

			lower, upper := c.OutputBounds()
			assert.InDelta(t, tt.lower, lower, 1e-9)
			assert.InDelta(t, tt.upper, upper, 1e-9)
		})
	}
}

func TestDeadZoneCompensation(t *testing.T) {
	t.Run("forward skips the dead zone", func(t *testing.T) {
		c, bench := newBenchController(t, 127)
		require.NoError(t, c.SetTarget(140))
		require.NoError(t, c.Update(context.Background()))

		// 0.4*13 + 47 + 0.33*13*0.005, shifted by the dead zone width
		assert.InDelta(t, 56.22145, bench.Command(0), 1e-9)
	})

	t.Run("reverse is passed through", func(t *testing.T) {
		c, bench := newBenchController(t, 127)
		require.NoError(t, c.SetTarget(100))
		require.NoError(t, c.Update(context.Background()))

		assert.InDelta(t, 36.15545, bench.Command(0), 1e-9)
	})
}

func TestConvergesOnBench(t *testing.T) {
	tests := []struct {
		name      string
		initial   float64
		setpoints []float64
	}{
		{"down to min region", 127, []float64{5}},
		{"up to max region", 127, []float64{250}},
		{"short hop", 127, []float64{140}},
		{"sweep", 5, []float64{250, 30, 225}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, bench := newBenchController(t, tt.initial)
			for _, sp := range tt.setpoints {
				from := c.Target()
				require.NoError(t, c.SetTarget(sp))
				ticks := drive(t, c, bench, 5000)

				assert.InDelta(t, sp, bench.Position(0), 1.5)
				assert.False(t, bench.Moving(0))

				rec, ok := c.LastLog()
				require.True(t, ok)
				assert.Equal(t, from, rec.StartSetpoint)
				assert.Equal(t, sp, rec.EndSetpoint)
				assert.Equal(t, ticks, rec.Ticks)
				assert.GreaterOrEqual(t, rec.Overshoot, 0.0)
				assert.LessOrEqual(t, rec.MinSpeed, rec.MaxSpeed)
				assert.InDelta(t, float64(ticks-1)*0.005, rec.ElapsedSeconds, 1e-9)
			}
		})
	}
}

// scriptedDriver replays positions, repeating the last one, and can fail a
// single actuator write.
type scriptedDriver struct {
	positions []uint8
	reads     int
	writes    int
	failWrite int
}

func (d *scriptedDriver) ReadPosition(_ context.Context, _ int) (uint8, error) {
	v := d.positions[min(d.reads, len(d.positions)-1)]
	d.reads++
	return v, nil
}

func (d *scriptedDriver) SetActuatorCommand(_ context.Context, channel int, _ float64) error {
	d.writes++
	if d.writes == d.failWrite {
		return bus.Wrap(bus.OpWrite, channel, errors.New("nak"))
	}
	return nil
}

func newScriptedController(t *testing.T, cfg Config, d *scriptedDriver) *Controller {
	t.Helper()
	c, err := New(0, cfg, d, nil)
	require.NoError(t, err)
	return c
}

func TestOvershootTracksApproachDirection(t *testing.T) {
	tests := []struct {
		name      string
		target    float64
		positions []uint8
		want      float64
	}{
		{"upward past target", 200, []uint8{150, 180, 203, 201}, 3},
		{"downward past target", 50, []uint8{150, 80, 46, 49}, 4},
		{"upward short of target", 200, []uint8{150, 160, 180, 199}, 0},
		{"downward short of target", 50, []uint8{150, 90, 60, 51}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.FilterSize = 1
			d := &scriptedDriver{positions: tt.positions}
			c := newScriptedController(t, cfg, d)
			require.NoError(t, c.SetTarget(tt.target))

			// priming consumes the first position
			for range len(tt.positions) - 1 {
				require.NoError(t, c.Update(context.Background()))
			}
			assert.Equal(t, tt.want, c.Overshoot())
		})
	}
}

func TestOvershootOnLongBenchMove(t *testing.T) {
	c, bench := newBenchController(t, 127)
	require.NoError(t, c.SetTarget(5))
	drive(t, c, bench, 5000)

	rec, _ := c.LastLog()
	assert.Greater(t, rec.Overshoot, 0.0, "the default gains run past a long downward move")
	assert.Less(t, rec.MinSpeed, c.Config().Neutral())
}

func TestFailedWriteRollsBackTick(t *testing.T) {
	ctx := context.Background()
	window := DefaultConfig().SettlingWindow()

	t.Run("settling window", func(t *testing.T) {
		d := &scriptedDriver{positions: []uint8{127}, failWrite: 10}
		c := newScriptedController(t, DefaultConfig(), d)

		ok := 0
		for !c.Settled() {
			before := c.Snapshot()
			if err := c.Update(ctx); err != nil {
				assert.ErrorIs(t, err, bus.ErrBus)
				assert.Equal(t, before, c.Snapshot())
				continue
			}
			ok++
			require.LessOrEqual(t, ok, window)
		}
		assert.Equal(t, window, ok)
		assert.Equal(t, window+1, d.writes)

		rec, has := c.LastLog()
		require.True(t, has)
		assert.Equal(t, window, rec.Ticks)
	})

	t.Run("integral", func(t *testing.T) {
		clean := newScriptedController(t, DefaultConfig(), &scriptedDriver{positions: []uint8{127}})
		flaky := newScriptedController(t, DefaultConfig(), &scriptedDriver{positions: []uint8{127}, failWrite: 3})
		require.NoError(t, clean.SetTarget(140))
		require.NoError(t, flaky.SetTarget(140))

		for i := 1; i <= 10; i++ {
			require.NoError(t, clean.Update(ctx))
			err := flaky.Update(ctx)
			if i == 3 {
				require.ErrorIs(t, err, bus.ErrBus)
				require.NoError(t, flaky.Update(ctx))
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, clean.Snapshot(), flaky.Snapshot(), "tick %d", i)
		}
	})
}

func TestSettleOnFirstTickLogsStopCommand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SettlingTime = cfg.SamplingInterval
	c := newScriptedController(t, cfg, &scriptedDriver{positions: []uint8{127}})

	require.NoError(t, c.Update(context.Background()))
	require.True(t, c.Settled())

	rec, ok := c.LastLog()
	require.True(t, ok)
	assert.Equal(t, cfg.StopCommand, rec.MinSpeed)
	assert.Equal(t, cfg.StopCommand, rec.MaxSpeed)
}

func TestCheckHoldRestartsBumpedKnob(t *testing.T) {
	c, bench := newBenchController(t, 127)
	ctx := context.Background()
	drive(t, c, bench, 100)

	// A small nudge stays inside the relaxed tolerance.
	bench.SetPosition(0, 129)
	for i := 0; i < 20; i++ {
		require.NoError(t, c.CheckHold(ctx))
	}
	assert.Equal(t, Idle, c.State())

	bench.SetPosition(0, 140)
	for i := 0; i < 20 && c.State() == Idle; i++ {
		require.NoError(t, c.CheckHold(ctx))
	}
	require.Equal(t, Moving, c.State())
	assert.Equal(t, 127.0, c.Target())
	assert.Equal(t, 1.0, c.ActiveTolerance())

	drive(t, c, bench, 5000)
	assert.InDelta(t, 127, bench.Position(0), 1.5)
}

func TestCheckHoldIgnoresMovingController(t *testing.T) {
	c, bench := newBenchController(t, 127, func(b *sim.BenchConfig) { b.FailEvery = 1 })
	assert.NoError(t, c.CheckHold(context.Background()))
	assert.Equal(t, 0, bench.Faults())
}

func TestBusErrorsPreserveState(t *testing.T) {
	c, _ := newBenchController(t, 127, func(b *sim.BenchConfig) { b.FailEvery = 20 })
	ctx := context.Background()

	// priming takes 15 reads, so the first tick is ops 1-17
	require.NoError(t, c.Update(ctx))
	require.NoError(t, c.Update(ctx))

	err := c.Update(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, bus.ErrBus)
	assert.Equal(t, 2, c.Ticks())
	assert.Equal(t, Settling, c.State())

	require.NoError(t, c.Update(ctx))
	assert.Equal(t, 3, c.Ticks())
}

func TestPrimingFailureIsRetried(t *testing.T) {
	c, bench := newBenchController(t, 127, func(b *sim.BenchConfig) { b.FailEvery = 10 })
	ctx := context.Background()

	assert.ErrorIs(t, c.Update(ctx), bus.ErrBus)
	assert.Equal(t, 0, c.Ticks())
	assert.Equal(t, 1, bench.Faults())
}

func TestStopParksServo(t *testing.T) {
	c, bench := newBenchController(t, 127)
	require.NoError(t, bench.SetActuatorCommand(context.Background(), 0, 70))

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, 180.0, bench.Command(0))
	assert.Equal(t, 180.0, c.Command())
	assert.Equal(t, Moving, c.State())
}

func TestSnapshot(t *testing.T) {
	c, _ := newBenchController(t, 5)
	require.NoError(t, c.SetTarget(10))
	require.NoError(t, c.Update(context.Background()))

	s := c.Snapshot()
	assert.Equal(t, 0, s.Channel)
	assert.Equal(t, 10.0, s.Target)
	assert.Equal(t, 5.0, s.Position)
	assert.Equal(t, 44.0, s.Lower)
	assert.Equal(t, 77.0, s.Upper)
	assert.Equal(t, 1, s.Ticks)
	assert.Equal(t, Moving, s.State)
}
