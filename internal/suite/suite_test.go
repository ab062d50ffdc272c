package suite_test

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/san-kum/knobsuite/internal/bus"
	"github.com/san-kum/knobsuite/internal/config"
	"github.com/san-kum/knobsuite/internal/fault"
	"github.com/san-kum/knobsuite/internal/knob"
	"github.com/san-kum/knobsuite/internal/metrics"
	"github.com/san-kum/knobsuite/internal/sim"
	"github.com/san-kum/knobsuite/internal/suite"
)

func newBenchSuite(initial []float64, mutate func(*config.Config), opts ...suite.Option) (*suite.Suite, *sim.Bench) {
	cfg := config.DefaultConfig()
	cfg.Channels = len(initial)
	cfg.Sim.Initial = initial
	cfg.MaxTicks = 5000
	if mutate != nil {
		mutate(cfg)
	}
	bench, err := sim.NewBench(cfg.BenchConfig())
	Expect(err).NotTo(HaveOccurred())

	s, err := suite.Build(cfg, bench, bench, opts...)
	Expect(err).NotTo(HaveOccurred())
	return s, bench
}

func constantRetry() func() backoff.BackOff {
	return func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
}

func expectNear(bench *sim.Bench, setpoints []float64) {
	for ch, sp := range setpoints {
		ExpectWithOffset(1, bench.Position(ch)).To(BeNumerically("~", sp, 1.5), "channel %d", ch)
		ExpectWithOffset(1, bench.Moving(ch)).To(BeFalse(), "channel %d still driven", ch)
	}
}

var _ = Describe("Suite", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("construction", func() {
		It("rejects an empty controller list", func() {
			_, err := suite.New(nil)
			Expect(err).To(MatchError(fault.ErrConfiguration))
		})

		It("rejects controllers out of channel order", func() {
			bench, err := sim.NewBench(sim.DefaultBenchConfig(2))
			Expect(err).NotTo(HaveOccurred())
			c1, err := knob.New(1, knob.DefaultConfig(), bench, bench)
			Expect(err).NotTo(HaveOccurred())

			_, err = suite.New([]*knob.Controller{c1})
			Expect(err).To(MatchError(fault.ErrConfiguration))
		})

		It("starts with nothing settled", func() {
			s, _ := newBenchSuite([]float64{127, 127}, nil)
			Expect(s.Len()).To(Equal(2))
			Expect(s.Settled()).To(Equal([]bool{false, false}))
			Expect(s.AllSettled()).To(BeFalse())
			Expect(s.Logs()).To(BeEmpty())
			Expect(s.Interval()).To(Equal(5 * time.Millisecond))
		})
	})

	Describe("MoveTo", func() {
		It("terminates for the midpoint on a bench already there", func() {
			s, bench := newBenchSuite([]float64{127, 127}, nil)

			Expect(s.MoveTo(ctx, []float64{127, 127}, suite.Sequential)).To(Succeed())
			Expect(s.AllSettled()).To(BeTrue())
			Expect(s.Settled()).To(Equal([]bool{true, true}))

			logs := s.Logs()
			Expect(logs).To(HaveLen(2))
			for ch, rec := range logs {
				Expect(rec.Channel).To(Equal(ch))
				Expect(rec.Ticks).To(Equal(50))
				Expect(rec.EndSetpoint).To(Equal(127.0))
			}
			Expect(bench.Command(0)).To(Equal(180.0))
			Expect(bench.Command(1)).To(Equal(180.0))
		})

		It("terminates for the midpoint from elsewhere", func() {
			s, bench := newBenchSuite([]float64{60, 200}, nil)

			Expect(s.MoveTo(ctx, []float64{127, 127}, suite.Interleaved)).To(Succeed())
			expectNear(bench, []float64{127, 127})
		})

		It("returns at once when every knob already holds its target", func() {
			s, bench := newBenchSuite([]float64{127, 127}, nil)
			Expect(s.MoveTo(ctx, []float64{127, 127}, suite.Sequential)).To(Succeed())
			before := bench.Elapsed()

			Expect(s.MoveTo(ctx, []float64{127, 127}, suite.Interleaved)).To(Succeed())
			Expect(bench.Elapsed()).To(Equal(before))
			Expect(s.History()).To(HaveLen(2))
		})

		It("reports an arity error without moving anything", func() {
			s, bench := newBenchSuite([]float64{127, 127}, nil)

			err := s.MoveTo(ctx, []float64{1, 2, 3}, suite.Sequential)
			Expect(err).To(MatchError(suite.ErrArity))

			var ae *suite.ArityError
			Expect(errors.As(err, &ae)).To(BeTrue())
			Expect(ae.Want).To(Equal(2))
			Expect(ae.Got).To(Equal(3))

			Expect(bench.Elapsed()).To(BeZero())
			for _, c := range s.Controllers() {
				Expect(c.Ticks()).To(BeZero())
				Expect(c.Target()).To(Equal(127.0))
			}
			Expect(bench.Moving(0)).To(BeFalse())
		})

		It("rejects setpoints outside the domain before touching any knob", func() {
			s, _ := newBenchSuite([]float64{127, 127}, nil)

			err := s.MoveTo(ctx, []float64{100, 300}, suite.Sequential)
			Expect(err).To(MatchError(fault.ErrConfiguration))
			Expect(s.Controllers()[0].Target()).To(Equal(127.0))
		})

		It("moves knobs one after another in sequential mode", func() {
			var order []int
			obs := suite.ObserverFunc(func(ch int, _ knob.Snapshot) {
				if len(order) == 0 || order[len(order)-1] != ch {
					order = append(order, ch)
				}
			})
			s, bench := newBenchSuite([]float64{127, 127}, nil, suite.WithObserver(obs))

			Expect(s.MoveTo(ctx, []float64{60, 200}, suite.Sequential)).To(Succeed())
			Expect(order).To(Equal([]int{0, 1}))
			expectNear(bench, []float64{60, 200})
		})

		It("alternates knobs in interleaved mode", func() {
			var order []int
			obs := suite.ObserverFunc(func(ch int, _ knob.Snapshot) { order = append(order, ch) })
			s, _ := newBenchSuite([]float64{127, 127}, nil, suite.WithObserver(obs))

			Expect(s.MoveTo(ctx, []float64{60, 200}, suite.Interleaved)).To(Succeed())
			Expect(order[:6]).To(Equal([]int{0, 1, 0, 1, 0, 1}))
		})

		It("reaches the same positions in both modes", func() {
			plan := [][]float64{{60, 200}, {200, 60}, {5, 250}, {127, 127}}
			seq, seqBench := newBenchSuite([]float64{127, 127}, nil)
			par, parBench := newBenchSuite([]float64{127, 127}, nil)

			for _, sp := range plan {
				Expect(seq.MoveTo(ctx, sp, suite.Sequential)).To(Succeed())
				Expect(par.MoveTo(ctx, sp, suite.Interleaved)).To(Succeed())

				expectNear(seqBench, sp)
				expectNear(parBench, sp)
				for ch := range sp {
					Expect(seqBench.Position(ch)).To(BeNumerically("~", parBench.Position(ch), 2))
				}
			}

			Expect(seq.History()).To(HaveLen(len(plan) * 2))
			Expect(par.History()).To(HaveLen(len(plan) * 2))
		})

		It("re-drives a knob that was bumped after settling", func() {
			s, bench := newBenchSuite([]float64{127, 127}, nil)
			Expect(s.MoveTo(ctx, []float64{127, 127}, suite.Sequential)).To(Succeed())

			bench.SetPosition(1, 160)
			for i := 0; i < 5 && len(s.History()) == 2; i++ {
				Expect(s.MoveTo(ctx, []float64{127, 127}, suite.Sequential)).To(Succeed())
			}

			history := s.History()
			Expect(history).To(HaveLen(3))
			Expect(history[2].Channel).To(Equal(1))
			Expect(history[2].Stationary()).To(BeTrue())
			expectNear(bench, []float64{127, 127})
		})

		It("stops when the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			defer cancel()
			ticks := 0
			obs := suite.ObserverFunc(func(int, knob.Snapshot) {
				ticks++
				if ticks == 20 {
					cancel()
				}
			})
			s, _ := newBenchSuite([]float64{127, 127}, nil, suite.WithObserver(obs))

			err := s.MoveTo(cctx, []float64{5, 250}, suite.Interleaved)
			Expect(err).To(MatchError(context.Canceled))
			Expect(ticks).To(Equal(20))
			Expect(s.AllSettled()).To(BeFalse())
		})

		It("fails with DidNotSettle when a knob runs out of ticks", func() {
			s, _ := newBenchSuite([]float64{127, 127}, nil, suite.WithMaxTicks(10))

			err := s.MoveTo(ctx, []float64{5, 127}, suite.Sequential)
			Expect(err).To(MatchError(suite.ErrDidNotSettle))

			var dns *suite.DidNotSettleError
			Expect(errors.As(err, &dns)).To(BeTrue())
			Expect(dns.Channel).To(Equal(0))
			Expect(dns.Ticks).To(Equal(10))
			Expect(dns.Target).To(Equal(5.0))
		})

		It("rejects an unknown mode", func() {
			s, _ := newBenchSuite([]float64{127}, nil)
			Expect(s.Begin(ctx, []float64{127})).To(Succeed())
			_, err := s.Round(ctx, suite.Mode(7))
			Expect(err).To(MatchError(fault.ErrConfiguration))
		})
	})

	Describe("bus errors", func() {
		It("retries failed transactions without losing progress", func() {
			reg := prometheus.NewRegistry()
			rec := metrics.NewRecorder(reg)
			s, bench := newBenchSuite([]float64{127, 127},
				func(c *config.Config) { c.Sim.FailEvery = 50 },
				suite.WithRetry(constantRetry()),
				suite.WithMetrics(rec),
			)

			Expect(s.MoveTo(ctx, []float64{60, 200}, suite.Interleaved)).To(Succeed())
			expectNear(bench, []float64{60, 200})
			Expect(bench.Faults()).To(BeNumerically(">", 10))

			total := 0.0
			for _, ch := range []string{"0", "1"} {
				for _, op := range []string{bus.OpRead, bus.OpWrite} {
					total += testutil.ToFloat64(rec.BusErrors.WithLabelValues(ch, op))
				}
			}
			Expect(total).To(Equal(float64(bench.Faults())))
			Expect(testutil.ToFloat64(rec.Moves.WithLabelValues("0"))).To(Equal(1.0))
		})

		It("gives up when the retry policy stops", func() {
			s, _ := newBenchSuite([]float64{127, 127},
				func(c *config.Config) { c.Sim.FailEvery = 50 },
				suite.WithRetry(func() backoff.BackOff { return &backoff.StopBackOff{} }),
			)

			err := s.MoveTo(ctx, []float64{60, 200}, suite.Sequential)
			Expect(err).To(MatchError(bus.ErrBus))
		})
	})

	Describe("StopAll", func() {
		It("parks every servo", func() {
			s, bench := newBenchSuite([]float64{127, 127, 127}, nil)
			for ch := 0; ch < 3; ch++ {
				Expect(bench.SetActuatorCommand(ctx, ch, 70)).To(Succeed())
			}

			Expect(s.StopAll(ctx)).To(Succeed())
			for ch := 0; ch < 3; ch++ {
				Expect(bench.Command(ch)).To(Equal(180.0))
			}
		})
	})
})

var _ = DescribeTable("ParseMode",
	func(in string, want suite.Mode) {
		got, err := suite.ParseMode(in)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(want))
		Expect(got.String()).To(Equal(want.String()))
	},
	Entry("empty", "", suite.Sequential),
	Entry("sequential", "sequential", suite.Sequential),
	Entry("interleaved", "Interleaved", suite.Interleaved),
	Entry("parallel alias", "parallel", suite.Interleaved),
)

var _ = It("rejects unknown modes", func() {
	_, err := suite.ParseMode("diagonal")
	Expect(err).To(HaveOccurred())
	Expect(suite.Mode(9).String()).To(Equal("Mode(9)"))
})
