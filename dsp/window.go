package dsp

import "math"

// besselI0 evaluates the zeroth-order modified Bessel function of the first
// kind via its power series; the Kaiser window needs nothing more precise
// than this for filter design purposes.
func besselI0(x float64) float64 {
	sum := 1.0
	term := 1.0
	halfX := x / 2
	for k := 1; k < 32; k++ {
		term *= (halfX / float64(k)) * (halfX / float64(k))
		sum += term
		if term < sum*1e-15 {
			break
		}
	}
	return sum
}

// KaiserWindow returns the N-tap Kaiser window of shape parameter alpha:
//
//	w[n] = I0(pi*alpha*sqrt(1-((2n/(N-1))-1)^2)) / I0(pi*alpha)
func KaiserWindow(n int, alpha float64) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	denom := besselI0(math.Pi * alpha)
	for i := 0; i < n; i++ {
		r := (2*float64(i)/float64(n-1) - 1)
		arg := math.Pi * alpha * math.Sqrt(math.Max(0, 1-r*r))
		w[i] = besselI0(arg) / denom
	}
	return w
}

// HannWindow returns the N-tap Hann window, used by the FFT peak finder and
// the VIS leader-tone scan.
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := 0; i < n; i++ {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// LowpassFIR designs an N-tap linear-phase low-pass FIR filter with cutoff
// fc (Hz) at sample rate rate, windowed by a Kaiser window of shape alpha.
func LowpassFIR(n int, fc, rate, alpha float64) []float64 {
	taps := make([]float64, n)
	win := KaiserWindow(n, alpha)
	mid := float64(n-1) / 2
	for i := 0; i < n; i++ {
		x := float64(i) - mid
		taps[i] = sinc(2*fc*x/rate) * win[i]
	}
	// Normalize for unity DC gain.
	sum := 0.0
	for _, t := range taps {
		sum += t
	}
	if sum != 0 {
		for i := range taps {
			taps[i] /= sum
		}
	}
	return taps
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// OddLength rounds n to the nearest integer and sets its lowest bit, so an
// even result moves up by one to the next odd integer; the shape every filter and
// moving-average length in the demodulator is specified in ("round(...) | 1").
func OddLength(n float64) int {
	r := int(math.Round(n))
	return r | 1
}
