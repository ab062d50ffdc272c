package suite

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/san-kum/knobsuite/internal/clock"
	"github.com/san-kum/knobsuite/internal/knob"
	"github.com/san-kum/knobsuite/internal/metrics"
)

// Observer is told about every completed tick.
type Observer interface {
	OnTick(channel int, snap knob.Snapshot)
}

type ObserverFunc func(channel int, snap knob.Snapshot)

func (f ObserverFunc) OnTick(channel int, snap knob.Snapshot) { f(channel, snap) }

type Option func(*Suite)

func WithClock(c clock.Clock) Option {
	return func(s *Suite) {
		if c != nil {
			s.clk = c
		}
	}
}

func WithLogger(l logr.Logger) Option {
	return func(s *Suite) { s.log = l }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Suite) { s.rec = r }
}

// WithRetry sets the pause policy for bus errors. The factory is called once
// per failing transaction so every retry sequence starts fresh.
func WithRetry(policy func() backoff.BackOff) Option {
	return func(s *Suite) {
		if policy != nil {
			s.retry = policy
		}
	}
}

// WithMaxTicks bounds the ticks one channel may spend on a single move. Zero
// means no bound.
func WithMaxTicks(n int) Option {
	return func(s *Suite) { s.maxTicks = n }
}

func WithObserver(o Observer) Option {
	return func(s *Suite) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// ExponentialRetry returns a policy that backs off from initial up to
// maxInterval and never gives up on its own.
func ExponentialRetry(initial, maxInterval time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = maxInterval
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

// DefaultRetry pauses 10ms after the first failure, growing to one second.
func DefaultRetry() func() backoff.BackOff {
	return ExponentialRetry(10*time.Millisecond, time.Second)
}
