// Package experiment runs timed move sequences on a knob suite and
// collects what each move did.
package experiment

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/go-logr/logr"

	"github.com/san-kum/knobsuite/internal/control"
	"github.com/san-kum/knobsuite/internal/knob"
	"github.com/san-kum/knobsuite/internal/plan"
	"github.com/san-kum/knobsuite/internal/storage"
	"github.com/san-kum/knobsuite/internal/suite"
)

// ErrAborted is returned when the abort switch ends a run early. The run
// collected up to that point is returned alongside it.
var ErrAborted = errors.New("experiment: aborted by switch")

// EdgeMargin keeps random demo setpoints away from the end stops.
const EdgeMargin = 5

type Runner struct {
	suite *suite.Suite
	mode  suite.Mode
	log   logr.Logger
	pause time.Duration
	abort AbortFunc
	traj  *Trajectory
	meta  storage.RunMetadata
}

type Option func(*Runner)

func WithLogger(l logr.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithPause sets the rest between moves. It is spent on the suite's clock.
func WithPause(d time.Duration) Option {
	return func(r *Runner) { r.pause = d }
}

func WithAbort(f AbortFunc) Option {
	return func(r *Runner) { r.abort = f }
}

// WithTrajectory attaches the recorder already registered on the suite so
// its samples and metrics end up in the run.
func WithTrajectory(t *Trajectory) Option {
	return func(r *Runner) { r.traj = t }
}

// WithMetadata sets the descriptive fields stored with every run.
func WithMetadata(m storage.RunMetadata) Option {
	return func(r *Runner) { r.meta = m }
}

func New(s *suite.Suite, mode suite.Mode, opts ...Option) *Runner {
	r := &Runner{
		suite: s,
		mode:  mode,
		log:   logr.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mirrored spreads one setpoint over every channel: even channels get p,
// odd channels its reflection about the middle of their domain.
func (r *Runner) Mirrored(p float64) []float64 {
	cs := r.suite.Controllers()
	out := make([]float64, len(cs))
	for i, c := range cs {
		cfg := c.Config()
		if i%2 == 0 {
			out[i] = p
		} else {
			out[i] = cfg.MaxPosition - (p - cfg.MinPosition)
		}
	}
	return out
}

func (r *Runner) center() []float64 {
	cs := r.suite.Controllers()
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Config().Midpoint()
	}
	return out
}

// Move drives every knob to setpoints and returns the moves that completed
// on the way, grouped by channel.
func (r *Runner) Move(ctx context.Context, setpoints []float64) ([][]knob.LogRecord, error) {
	before := len(r.suite.History())
	if err := r.suite.MoveTo(ctx, setpoints, r.mode); err != nil {
		return nil, err
	}
	done := r.suite.History()[before:]
	return storage.GroupByChannel(done, r.suite.Len()), nil
}

// Run centres the knobs, carries them to the first setpoint of p, then
// visits the remaining setpoints in order with mirrored targets. Only the
// plan's own moves are recorded.
func (r *Runner) Run(ctx context.Context, p *plan.Plan) (*storage.Run, error) {
	run := r.newRun(p)
	if len(p.Setpoints) == 0 {
		return run, nil
	}

	if _, err := r.Move(ctx, r.center()); err != nil {
		return run, err
	}
	if _, err := r.Move(ctx, r.Mirrored(p.Setpoints[0])); err != nil {
		return run, err
	}
	if r.traj != nil {
		r.traj.Reset()
	}
	if err := r.rest(ctx); err != nil {
		return run, err
	}

	for i, sp := range p.Setpoints[1:] {
		targets := r.Mirrored(sp)
		r.log.V(1).Info("moving", "step", i+1, "of", len(p.Setpoints)-1, "targets", targets)
		logs, err := r.Move(ctx, targets)
		if err != nil {
			r.finish(run)
			return run, err
		}
		for ch := range logs {
			run.Logs[ch] = append(run.Logs[ch], logs[ch]...)
		}
		if err := r.rest(ctx); err != nil {
			r.finish(run)
			return run, err
		}
	}
	r.finish(run)
	r.log.Info("experiment finished", "moves", run.Meta.Moves)
	return run, nil
}

// RandomMove sends the knobs to a random mirrored setpoint at least
// EdgeMargin away from either end of channel 0's domain.
func (r *Runner) RandomMove(ctx context.Context, rng *rand.Rand) ([][]knob.LogRecord, error) {
	cfg := r.suite.Controllers()[0].Config()
	lo := int(cfg.MinPosition) + EdgeMargin
	hi := int(cfg.MaxPosition) - EdgeMargin
	sp := float64(lo + rng.Intn(hi-lo+1))
	r.log.Info("random move", "setpoint", sp)
	return r.Move(ctx, r.Mirrored(sp))
}

// rest waits out the pause, then polls the abort switch.
func (r *Runner) rest(ctx context.Context) error {
	if r.pause > 0 {
		if err := r.suite.Clock().Sleep(ctx, r.pause); err != nil {
			return err
		}
	}
	if r.abort == nil {
		return nil
	}
	stop, err := r.abort(ctx)
	if err != nil {
		return err
	}
	if stop {
		r.log.Info("abort switch thrown")
		return ErrAborted
	}
	return nil
}

func (r *Runner) newRun(p *plan.Plan) *storage.Run {
	meta := r.meta
	meta.Mode = r.mode.String()
	meta.Channels = r.suite.Len()
	if meta.Gains == (control.Gains{}) {
		meta.Gains = r.suite.Controllers()[0].Config().Gains
	}
	run := &storage.Run{
		Meta: meta,
		Logs: make([][]knob.LogRecord, r.suite.Len()),
	}
	for ch := range run.Logs {
		run.Logs[ch] = []knob.LogRecord{}
	}
	return run
}

func (r *Runner) finish(run *storage.Run) {
	run.Meta.Moves = 0
	for _, logs := range run.Logs {
		run.Meta.Moves += len(logs)
	}
	if r.traj != nil {
		run.Trajectory = r.traj.Samples()
		run.Meta.Metrics = r.traj.Metrics()
	}
}
