package suite

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/san-kum/knobsuite/internal/bus"
	"github.com/san-kum/knobsuite/internal/clock"
	"github.com/san-kum/knobsuite/internal/config"
	"github.com/san-kum/knobsuite/internal/fault"
	"github.com/san-kum/knobsuite/internal/knob"
	"github.com/san-kum/knobsuite/internal/metrics"
)

// Suite moves a fixed set of knobs. Index i of every slice it takes or
// returns is channel i. A Suite is not safe for concurrent use.
type Suite struct {
	knobs     []*knob.Controller
	settled   []bool
	moveTicks []int
	latest    []*knob.LogRecord
	history   []knob.LogRecord

	interval  time.Duration
	clk       clock.Clock
	log       logr.Logger
	rec       *metrics.Recorder
	retry     func() backoff.BackOff
	maxTicks  int
	observers []Observer
}

func New(controllers []*knob.Controller, opts ...Option) (*Suite, error) {
	if len(controllers) == 0 {
		return nil, fault.Configf("suite needs at least one controller")
	}
	interval := controllers[0].Config().SamplingInterval
	for i, c := range controllers {
		if c == nil {
			return nil, fault.Configf("controller %d is nil", i)
		}
		if c.Channel() != i {
			return nil, fault.Configf("controller at index %d drives channel %d", i, c.Channel())
		}
		if c.Config().SamplingInterval != interval {
			return nil, fault.Configf("channel %d samples every %v, channel 0 every %v",
				i, c.Config().SamplingInterval, interval)
		}
	}

	s := &Suite{
		knobs:     controllers,
		settled:   make([]bool, len(controllers)),
		moveTicks: make([]int, len(controllers)),
		latest:    make([]*knob.LogRecord, len(controllers)),
		interval:  interval,
		clk:       clock.Wall{},
		log:       logr.Discard(),
		retry:     DefaultRetry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxTicks < 0 {
		return nil, fault.Configf("max ticks must not be negative, got %d", s.maxTicks)
	}
	for i := range s.knobs {
		s.refresh(i)
	}
	return s, nil
}

// Build creates one controller per configured channel, all sharing drv and
// clk, and wraps them in a Suite. Options given here override the ones
// derived from cfg.
func Build(cfg *config.Config, drv bus.Driver, clk clock.Clock, opts ...Option) (*Suite, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	controllers := make([]*knob.Controller, cfg.Channels)
	for ch := range controllers {
		kc, err := cfg.KnobConfig(ch)
		if err != nil {
			return nil, err
		}
		c, err := knob.New(ch, kc, drv, clk)
		if err != nil {
			return nil, err
		}
		controllers[ch] = c
	}

	base := []Option{
		WithClock(clk),
		WithMaxTicks(cfg.MaxTicks),
		WithRetry(ExponentialRetry(cfg.Retry.InitialInterval, cfg.Retry.MaxInterval)),
	}
	return New(controllers, append(base, opts...)...)
}

// MoveTo drives every knob to its setpoint and returns once all of them have
// settled. Only bus errors are retried; anything else, including ctx being
// cancelled, ends the move and is returned.
func (s *Suite) MoveTo(ctx context.Context, setpoints []float64, mode Mode) error {
	if err := s.Begin(ctx, setpoints); err != nil {
		return err
	}
	for {
		done, err := s.Round(ctx, mode)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Begin hands out new targets without moving anything. Knobs that are
// already holding their target are re-read so a bumped knob moves again.
func (s *Suite) Begin(ctx context.Context, setpoints []float64) error {
	if len(setpoints) != len(s.knobs) {
		return &ArityError{Want: len(s.knobs), Got: len(setpoints)}
	}
	for i, c := range s.knobs {
		if err := c.ValidateTarget(setpoints[i]); err != nil {
			return err
		}
	}

	for i, c := range s.knobs {
		if err := c.SetTarget(setpoints[i]); err != nil {
			return err
		}
		if err := s.Retry(ctx, i, c.CheckHold); err != nil {
			return err
		}
		s.moveTicks[i] = 0
		s.refresh(i)
		s.log.V(1).Info("target set", "channel", i, "target", setpoints[i],
			"state", c.State().String(), "settled", s.settled[i])
	}
	return nil
}

// Round performs one step of the current move and reports whether every
// knob has settled.
func (s *Suite) Round(ctx context.Context, mode Mode) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	switch mode {
	case Sequential:
		for i := range s.knobs {
			if s.settled[i] {
				continue
			}
			if err := s.tick(ctx, i); err != nil {
				return false, err
			}
			if err := s.clk.Sleep(ctx, s.interval); err != nil {
				return false, err
			}
			break
		}
	case Interleaved:
		for i := range s.knobs {
			if s.settled[i] {
				continue
			}
			if err := s.tick(ctx, i); err != nil {
				return false, err
			}
			if err := s.clk.Sleep(ctx, s.interval); err != nil {
				return false, err
			}
		}
	default:
		return false, fault.Configf("unknown mode %v", mode)
	}
	return s.AllSettled(), nil
}

func (s *Suite) tick(ctx context.Context, i int) error {
	c := s.knobs[i]
	if s.maxTicks > 0 && s.moveTicks[i] >= s.maxTicks {
		return &DidNotSettleError{Channel: i, Ticks: s.moveTicks[i], Target: c.Target()}
	}
	if err := s.Retry(ctx, i, c.Update); err != nil {
		return err
	}
	s.moveTicks[i]++

	snap := c.Snapshot()
	s.rec.ObserveTick(snap)
	for _, o := range s.observers {
		o.OnTick(i, snap)
	}
	s.refresh(i)
	return nil
}

// refresh recomputes settled[i] and collects the log of a freshly finished
// move.
func (s *Suite) refresh(i int) {
	c := s.knobs[i]
	was := s.settled[i]
	s.settled[i] = c.Settled() && c.TerminatedCleanly()
	if was || !s.settled[i] {
		return
	}
	rec, ok := c.LastLog()
	if !ok {
		return
	}
	s.latest[i] = &rec
	s.history = append(s.history, rec)
	s.rec.ObserveMove(rec)
	s.log.Info("knob settled", "channel", i, "target", rec.EndSetpoint,
		"seconds", rec.ElapsedSeconds, "overshoot", rec.Overshoot, "ticks", rec.Ticks)
}

// Retry runs op until it succeeds, fails with something other than a bus
// error, or the retry policy gives up. ch labels the failures in logs and
// metrics; it need not belong to a knob.
func (s *Suite) Retry(ctx context.Context, ch int, op func(context.Context) error) error {
	var policy backoff.BackOff
	for {
		err := op(ctx)
		if err == nil || !errors.Is(err, fault.ErrBus) {
			return err
		}

		name := "unknown"
		var be *fault.BusError
		if errors.As(err, &be) {
			name = be.Op
		}
		s.rec.ObserveBusError(ch, name)

		if policy == nil {
			policy = s.retry()
		}
		pause := policy.NextBackOff()
		if pause == backoff.Stop {
			s.log.Error(err, "bus error, giving up", "channel", ch)
			return err
		}
		s.log.Error(err, "bus error, retrying", "channel", ch, "pause", pause)
		if err := s.clk.Sleep(ctx, pause); err != nil {
			return err
		}
	}
}

// StopAll parks every servo.
func (s *Suite) StopAll(ctx context.Context) error {
	var errs []error
	for i, c := range s.knobs {
		if err := s.Retry(ctx, i, c.Stop); err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// Settled returns a copy of the per-channel settled flags.
func (s *Suite) Settled() []bool {
	out := make([]bool, len(s.settled))
	copy(out, s.settled)
	return out
}

func (s *Suite) AllSettled() bool {
	for _, ok := range s.settled {
		if !ok {
			return false
		}
	}
	return true
}

// Logs returns the most recent move record of every channel that has
// completed one, in channel order.
func (s *Suite) Logs() []knob.LogRecord {
	out := make([]knob.LogRecord, 0, len(s.latest))
	for _, rec := range s.latest {
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out
}

// History returns every move record in completion order.
func (s *Suite) History() []knob.LogRecord {
	out := make([]knob.LogRecord, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Suite) Controllers() []*knob.Controller {
	out := make([]*knob.Controller, len(s.knobs))
	copy(out, s.knobs)
	return out
}

func (s *Suite) Len() int                { return len(s.knobs) }
func (s *Suite) Interval() time.Duration { return s.interval }
func (s *Suite) Clock() clock.Clock      { return s.clk }
