package sim

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/san-kum/knobsuite/internal/bus"
	"github.com/san-kum/knobsuite/internal/fault"
)

var errInjected = errors.New("injected fault")

type BenchConfig struct {
	Channels    int           `yaml:"channels"`
	Initial     []float64     `yaml:"initial"`
	MinPosition float64       `yaml:"min_position"`
	MaxPosition float64       `yaml:"max_position"`
	Gain        float64       `yaml:"gain"`
	DeadLow     float64       `yaml:"dead_low"`
	DeadHigh    float64       `yaml:"dead_high"`
	MaxCommand  float64       `yaml:"max_command"`
	Noise       float64       `yaml:"noise"`
	Seed        int64         `yaml:"seed"`
	Step        time.Duration `yaml:"step"`
	Integrator  string        `yaml:"integrator"`
	// FailEvery makes every n-th bus transaction fail. Zero disables it.
	FailEvery int `yaml:"fail_every"`
}

func DefaultBenchConfig(channels int) BenchConfig {
	s := DefaultServo()
	return BenchConfig{
		Channels:    channels,
		MinPosition: 0,
		MaxPosition: 255,
		Gain:        s.Gain,
		DeadLow:     s.DeadLow,
		DeadHigh:    s.DeadHigh,
		MaxCommand:  s.MaxCommand,
		Seed:        1,
		Step:        time.Millisecond,
		Integrator:  "euler",
	}
}

func (c BenchConfig) validate() error {
	switch {
	case c.Channels <= 0:
		return fault.Configf("bench needs at least one channel, got %d", c.Channels)
	case len(c.Initial) > c.Channels:
		return fault.Configf("%d initial positions for %d channels", len(c.Initial), c.Channels)
	case c.MinPosition >= c.MaxPosition:
		return fault.Configf("bench travel [%v, %v] is empty", c.MinPosition, c.MaxPosition)
	case c.Step <= 0:
		return fault.Configf("bench step must be positive, got %v", c.Step)
	case c.FailEvery < 0:
		return fault.Configf("fail_every must not be negative, got %d", c.FailEvery)
	}
	return nil
}

// Bench simulates a set of knobs on a shared bus. Time only moves when Sleep
// is called, and Sleep returns immediately after advancing the plant.
type Bench struct {
	mu    sync.Mutex
	cfg   BenchConfig
	servo *Servo
	integ Integrator
	rng   *rand.Rand

	pos     []float64
	cmd     []float64
	now     time.Time
	elapsed float64
	ops     int
	faults  int
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func NewBench(cfg BenchConfig) (*Bench, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	integ, err := NewIntegrator(cfg.Integrator)
	if err != nil {
		return nil, fault.Configf("%v", err)
	}

	b := &Bench{
		cfg: cfg,
		servo: &Servo{
			Gain:       cfg.Gain,
			DeadLow:    cfg.DeadLow,
			DeadHigh:   cfg.DeadHigh,
			MaxCommand: cfg.MaxCommand,
		},
		integ: integ,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		pos:   make([]float64, cfg.Channels),
		cmd:   make([]float64, cfg.Channels),
		now:   epoch,
	}
	mid := (cfg.MinPosition + cfg.MaxPosition) / 2
	for i := range b.pos {
		b.pos[i] = mid
		if i < len(cfg.Initial) {
			b.pos[i] = cfg.Initial[i]
		}
		// parked until told otherwise
		b.cmd[i] = cfg.MaxCommand + 1
	}
	return b, nil
}

func (b *Bench) checkChannel(op string, ch int) error {
	if ch < 0 || ch >= len(b.pos) {
		return bus.Wrap(op, ch, errors.New("no such channel"))
	}
	return nil
}

// inject must be called with mu held.
func (b *Bench) inject(op string, ch int) error {
	b.ops++
	if b.cfg.FailEvery > 0 && b.ops%b.cfg.FailEvery == 0 {
		b.faults++
		return bus.Wrap(op, ch, errInjected)
	}
	return nil
}

func (b *Bench) ReadPosition(ctx context.Context, ch int) (uint8, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkChannel(bus.OpRead, ch); err != nil {
		return 0, err
	}
	if err := b.inject(bus.OpRead, ch); err != nil {
		return 0, err
	}
	v := b.pos[ch]
	if b.cfg.Noise > 0 {
		v += b.rng.NormFloat64() * b.cfg.Noise
	}
	v = math.Round(v)
	return uint8(math.Max(0, math.Min(255, v))), nil
}

func (b *Bench) SetActuatorCommand(ctx context.Context, ch int, cmd float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkChannel(bus.OpWrite, ch); err != nil {
		return err
	}
	if err := b.inject(bus.OpWrite, ch); err != nil {
		return err
	}
	b.cmd[ch] = cmd
	return nil
}

func (b *Bench) Now() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now
}

// Sleep advances simulated time by d, integrating every servo in Step sized
// increments. It never blocks.
func (b *Bench) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	n := int(math.Ceil(float64(d) / float64(b.cfg.Step)))
	h := d.Seconds() / float64(n)
	for i := 0; i < n; i++ {
		for ch := range b.pos {
			x := b.integ.Step(b.servo, State{b.pos[ch]}, Control{b.cmd[ch]}, b.elapsed, h)
			b.pos[ch] = math.Max(b.cfg.MinPosition, math.Min(b.cfg.MaxPosition, x[0]))
		}
		b.elapsed += h
	}
	b.now = b.now.Add(d)
	return nil
}

// Position returns the true, unquantised position of ch.
func (b *Bench) Position(ch int) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos[ch]
}

// SetPosition moves a knob by hand.
func (b *Bench) SetPosition(ch int, v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pos[ch] = v
}

// Command returns the last command written to ch.
func (b *Bench) Command(ch int) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cmd[ch]
}

// Moving reports whether ch is currently being driven.
func (b *Bench) Moving(ch int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.servo.Velocity(b.cmd[ch]) != 0
}

// Faults returns how many transactions were failed on purpose.
func (b *Bench) Faults() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.faults
}

// Elapsed is the simulated time since the bench was built.
func (b *Bench) Elapsed() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now.Sub(epoch)
}

func (b *Bench) Channels() int { return len(b.pos) }
