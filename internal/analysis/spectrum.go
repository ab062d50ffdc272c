package analysis

import (
	"math/cmplx"
	"time"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/stat"
)

// Hunting finds the strongest oscillation in a series sampled every dt,
// typically position minus target while a knob settles. It returns the
// frequency in Hz and the amplitude of that component; a series too short
// to hold one cycle yields zeros.
func Hunting(series []float64, dt time.Duration) (freq, amplitude float64) {
	n := len(series)
	if n < 4 || dt <= 0 {
		return 0, 0
	}

	mean := stat.Mean(series, nil)
	centered := make([]float64, n)
	for i, v := range series {
		centered[i] = v - mean
	}

	coeff := fft.FFTReal(centered)

	best := 0
	bestMag := 0.0
	for k := 1; k <= n/2; k++ {
		if mag := cmplx.Abs(coeff[k]); mag > bestMag {
			best, bestMag = k, mag
		}
	}
	if best == 0 {
		return 0, 0
	}

	amplitude = 2 * bestMag / float64(n)
	if n%2 == 0 && best == n/2 {
		amplitude = bestMag / float64(n)
	}
	return float64(best) / (float64(n) * dt.Seconds()), amplitude
}
