package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/san-kum/knobsuite/internal/knob"
)

// Recorder holds the Prometheus collectors for a suite. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	Ticks     *prometheus.CounterVec
	BusErrors *prometheus.CounterVec
	Moves     *prometheus.CounterVec
	Settle    *prometheus.HistogramVec
	Overshoot *prometheus.HistogramVec
	Position  *prometheus.GaugeVec
}

// NewRecorder creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		Ticks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knobsuite_ticks_total",
				Help: "Control ticks executed per channel",
			},
			[]string{"channel"},
		),
		BusErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knobsuite_bus_errors_total",
				Help: "Failed bus transactions per channel and operation",
			},
			[]string{"channel", "op"},
		),
		Moves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knobsuite_moves_total",
				Help: "Completed moves per channel",
			},
			[]string{"channel"},
		),
		Settle: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "knobsuite_settle_seconds",
				Help:    "Time from new setpoint to settled",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
			},
			[]string{"channel"},
		),
		Overshoot: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "knobsuite_overshoot",
				Help:    "Overshoot past the setpoint in ADC counts",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40},
			},
			[]string{"channel"},
		),
		Position: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "knobsuite_position",
				Help: "Filtered knob position",
			},
			[]string{"channel"},
		),
	}
}

func label(ch int) string { return strconv.Itoa(ch) }

func (r *Recorder) ObserveTick(s knob.Snapshot) {
	if r == nil {
		return
	}
	ch := label(s.Channel)
	r.Ticks.WithLabelValues(ch).Inc()
	r.Position.WithLabelValues(ch).Set(s.Position)
}

func (r *Recorder) ObserveBusError(channel int, op string) {
	if r == nil {
		return
	}
	r.BusErrors.WithLabelValues(label(channel), op).Inc()
}

func (r *Recorder) ObserveMove(rec knob.LogRecord) {
	if r == nil {
		return
	}
	ch := label(rec.Channel)
	r.Moves.WithLabelValues(ch).Inc()
	r.Settle.WithLabelValues(ch).Observe(rec.ElapsedSeconds)
	r.Overshoot.WithLabelValues(ch).Observe(rec.Overshoot)
}
