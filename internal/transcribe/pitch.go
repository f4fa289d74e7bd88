package transcribe

import (
	"math"

	"github.com/stemtranscriber/api/internal/model"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Frame is one analysis window's pitch estimate.
type Frame struct {
	Hz         float64
	Voiced     bool
	Confidence float64
}

// Range bounds the fundamental frequency search.
type Range struct {
	FMin float64
	FMax float64
}

const (
	hzE1 = 41.2034
	hzE2 = 82.4069
	hzC5 = 523.2511
)

// RangeFor returns the search range for an instrument: the floor is the
// lowest open string, the ceiling is C5 for both.
func RangeFor(instrument model.Instrument) Range {
	if instrument == model.InstrumentGuitar {
		return Range{FMin: hzE2, FMax: hzC5}
	}
	return Range{FMin: hzE1, FMax: hzC5}
}

// PitchEstimator produces one Frame per hop over the input signal.
type PitchEstimator interface {
	Estimate(samples []float64, sampleRate int, r Range) []Frame
}

// ProgressFunc receives the number of frames analysed so far and the total.
type ProgressFunc func(done, total int)

// ReportingEstimator is a PitchEstimator that reports progress while it runs.
type ReportingEstimator interface {
	PitchEstimator
	EstimateWithProgress(samples []float64, sampleRate int, r Range, report ProgressFunc) []Frame
}

// reportEvery is how many frames YIN analyses between progress reports.
const reportEvery = 512

// YIN estimates pitch with the YIN cumulative mean normalized difference,
// computing the autocorrelation term with an FFT.
type YIN struct {
	FrameLength int
	HopLength   int
	// Threshold on the normalized difference below which a lag is accepted.
	Threshold float64
}

func NewYIN(frameLength, hopLength int) *YIN {
	return &YIN{FrameLength: frameLength, HopLength: hopLength, Threshold: 0.15}
}

func (y *YIN) Estimate(samples []float64, sampleRate int, r Range) []Frame {
	return y.EstimateWithProgress(samples, sampleRate, r, nil)
}

func (y *YIN) EstimateWithProgress(samples []float64, sampleRate int, r Range, report ProgressFunc) []Frame {
	if len(samples) == 0 || y.FrameLength <= 0 || y.HopLength <= 0 {
		return nil
	}

	frameLen := y.FrameLength
	window := frameLen / 2
	minLag := int(math.Floor(float64(sampleRate) / r.FMax))
	if minLag < 2 {
		minLag = 2
	}
	maxLag := int(math.Ceil(float64(sampleRate) / r.FMin))
	if maxLag > frameLen-window-1 {
		maxLag = frameLen - window - 1
	}
	if maxLag <= minLag {
		return make([]Frame, 1+len(samples)/y.HopLength)
	}

	// centered frames: frame i is centered on sample i*hop
	half := frameLen / 2
	padded := make([]float64, len(samples)+frameLen+1)
	copy(padded[half:], samples)

	n := 1
	for n < frameLen+window {
		n <<= 1
	}
	fft := fourier.NewFFT(n)
	a := make([]float64, n)
	b := make([]float64, n)
	ca := make([]complex128, n/2+1)
	cb := make([]complex128, n/2+1)
	acf := make([]float64, n)
	diff := make([]float64, maxLag+2)
	cmnd := make([]float64, maxLag+2)
	prefix := make([]float64, frameLen+1)

	numFrames := 1 + len(samples)/y.HopLength
	frames := make([]Frame, numFrames)
	for i := range frames {
		if report != nil && i > 0 && i%reportEvery == 0 {
			report(i, numFrames)
		}
		x := padded[i*y.HopLength : i*y.HopLength+frameLen]

		for j, v := range x {
			prefix[j+1] = prefix[j] + v*v
		}
		e0 := prefix[window]
		if e0 < 1e-10 {
			continue
		}

		for j := range a {
			a[j], b[j] = 0, 0
		}
		copy(a, x[:window])
		copy(b, x)
		fft.Coefficients(ca, a)
		fft.Coefficients(cb, b)
		for k := range ca {
			ca[k] = complex(real(ca[k]), -imag(ca[k])) * cb[k]
		}
		fft.Sequence(acf, ca)

		scale := 1 / float64(n)
		for tau := 0; tau <= maxLag+1; tau++ {
			et := prefix[tau+window] - prefix[tau]
			diff[tau] = e0 + et - 2*acf[tau]*scale
			if diff[tau] < 0 {
				diff[tau] = 0
			}
		}

		cmnd[0] = 1
		running := 0.0
		for tau := 1; tau <= maxLag+1; tau++ {
			running += diff[tau]
			if running == 0 {
				cmnd[tau] = 1
				continue
			}
			cmnd[tau] = diff[tau] * float64(tau) / running
		}

		frames[i] = y.pick(cmnd, minLag, maxLag, sampleRate, r)
	}
	if report != nil {
		report(numFrames, numFrames)
	}
	return frames
}

func (y *YIN) pick(cmnd []float64, minLag, maxLag, sampleRate int, r Range) Frame {
	best := -1
	for tau := minLag; tau <= maxLag; tau++ {
		if cmnd[tau] < y.Threshold {
			for tau+1 <= maxLag && cmnd[tau+1] < cmnd[tau] {
				tau++
			}
			best = tau
			break
		}
	}

	if best < 0 {
		lowest := 1.0
		for tau := minLag; tau <= maxLag; tau++ {
			if cmnd[tau] < lowest {
				lowest = cmnd[tau]
			}
		}
		return Frame{Confidence: clamp01(1 - lowest)}
	}

	lag := float64(best)
	if best > 0 && best+1 < len(cmnd) {
		l, c, rr := cmnd[best-1], cmnd[best], cmnd[best+1]
		den := l - 2*c + rr
		if den != 0 {
			shift := (l - rr) / (2 * den)
			if math.Abs(shift) < 1 {
				lag += shift
			}
		}
	}

	hz := float64(sampleRate) / lag
	if hz < r.FMin || hz > r.FMax {
		return Frame{Confidence: clamp01(1 - cmnd[best])}
	}
	return Frame{Hz: hz, Voiced: true, Confidence: clamp01(1 - cmnd[best])}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
