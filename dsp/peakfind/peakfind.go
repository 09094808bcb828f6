// Package peakfind locates the dominant frequency in a windowed slice of PCM
// samples via a real FFT, refined to sub-bin precision by clamped quadratic
// interpolation of the three bins around the peak.
package peakfind

import (
	"container/list"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/n0call/sstvcore/dsp"
)

// windowCacheCapacity bounds the number of distinct window lengths kept
// cached at once. An SSTV mode's adaptive window ladder (see linedecode's
// SNR tiers) only ever cycles through a handful of lengths, but a bound is
// still enforced per the LRU policy rather than letting the map grow
// unboundedly across many Finders/modes sharing one process.
const windowCacheCapacity = 8

// Finder holds the FFT plan and window cache for one sample rate / FFT size
// combination. It is not safe for concurrent use from multiple goroutines
// without external synchronization, matching the single-threaded per-line
// decode loop it is built for.
type Finder struct {
	sampleRate float64
	fftSize    int
	fft        *fourier.FFT

	windowMu sync.Mutex
	windows  *windowLRU

	input  []float64
	coeffs []complex128
	power  []float64
}

// windowLRU is a small bounded cache of Hann-window coefficient slices
// keyed by window length, evicting the least-recently-used entry once
// windowCacheCapacity is exceeded.
type windowLRU struct {
	capacity int
	ll       *list.List
	entries  map[int]*list.Element
}

type windowLRUEntry struct {
	length int
	coeffs []float64
}

func newWindowLRU(capacity int) *windowLRU {
	return &windowLRU{
		capacity: capacity,
		ll:       list.New(),
		entries:  make(map[int]*list.Element),
	}
}

func (c *windowLRU) get(n int) ([]float64, bool) {
	el, ok := c.entries[n]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*windowLRUEntry).coeffs, true
}

func (c *windowLRU) put(n int, coeffs []float64) {
	if el, ok := c.entries[n]; ok {
		el.Value.(*windowLRUEntry).coeffs = coeffs
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&windowLRUEntry{length: n, coeffs: coeffs})
	c.entries[n] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.entries, oldest.Value.(*windowLRUEntry).length)
	}
}

// New builds a Finder over an fftSize-point real FFT at the given sample
// rate. fftSize must be a power of two.
func New(sampleRate float64, fftSize int) *Finder {
	return &Finder{
		sampleRate: sampleRate,
		fftSize:    fftSize,
		fft:        fourier.NewFFT(fftSize),
		windows:    newWindowLRU(windowCacheCapacity),
		input:      make([]float64, fftSize),
		coeffs:     make([]complex128, fftSize/2+1),
		power:      make([]float64, fftSize/2+1),
	}
}

// hannWindow returns a cached Hann window of length n, building it on first
// use. Window lengths repeat across an SSTV mode's fixed set of adaptive
// sizes, so caching avoids rebuilding the same window every pixel; the
// cache itself is a bounded LRU rather than an unbounded map, per §4.2.
func (f *Finder) hannWindow(n int) []float64 {
	f.windowMu.Lock()
	defer f.windowMu.Unlock()
	if w, ok := f.windows.get(n); ok {
		return w
	}
	w := dsp.HannWindow(n)
	f.windows.put(n, w)
	return w
}

// Bin returns the FFT bin index nearest frequency Hz.
func (f *Finder) Bin(hz float64) int {
	return int(math.Round(hz / f.sampleRate * float64(f.fftSize)))
}

// Peak finds the dominant frequency within [loBin, hiBin] of the FFT of a
// Hann-windowed slice of samples centered so that the window's midpoint
// falls on centerIdx. samples is the full PCM buffer; windowLen is the
// number of samples to window (<= fftSize, zero-padded above that).
func (f *Finder) Peak(samples []float64, centerIdx, windowLen, loBin, hiBin int) float64 {
	win := f.hannWindow(windowLen)

	for i := range f.input {
		f.input[i] = 0
	}
	start := centerIdx - windowLen/2
	for i := 0; i < windowLen; i++ {
		idx := start + i
		if idx >= 0 && idx < len(samples) {
			f.input[i] = samples[idx] * win[i]
		}
	}

	coeffs := f.fft.Coefficients(f.coeffs, f.input)

	maxBin := loBin
	maxPower := 0.0
	if loBin < 0 {
		loBin = 0
	}
	if hiBin >= len(coeffs) {
		hiBin = len(coeffs) - 1
	}
	for i := loBin; i <= hiBin; i++ {
		p := real(coeffs[i])*real(coeffs[i]) + imag(coeffs[i])*imag(coeffs[i])
		f.power[i] = p
		if p > maxPower {
			maxPower = p
			maxBin = i
		}
	}

	return f.interpolate(maxBin, loBin, hiBin)
}

// interpolate refines the integer peak bin to sub-bin precision using
// quadratic interpolation of the peak bin and its two neighbors' linear
// magnitudes, falling back to the raw bin frequency when the neighbors
// aren't usable (peak at the search-band edge, or a neighbor with
// non-positive power). The result is clamped to within half a bin of
// maxBin, since quadratic interpolation over a near-flat or inverted
// triple can otherwise place the estimate arbitrarily far away.
func (f *Finder) interpolate(maxBin, loBin, hiBin int) float64 {
	if maxBin <= loBin || maxBin >= hiBin ||
		f.power[maxBin] <= 0 || f.power[maxBin-1] <= 0 || f.power[maxBin+1] <= 0 {
		return float64(maxBin) / float64(f.fftSize) * f.sampleRate
	}

	ym1 := math.Sqrt(f.power[maxBin-1])
	y0 := math.Sqrt(f.power[maxBin])
	yp1 := math.Sqrt(f.power[maxBin+1])

	denom := ym1 - 2*y0 + yp1
	delta := 0.0
	if denom != 0 {
		delta = 0.5 * (ym1 - yp1) / denom
	}
	switch {
	case delta > 0.5:
		delta = 0.5
	case delta < -0.5:
		delta = -0.5
	}

	return (float64(maxBin) + delta) / float64(f.fftSize) * f.sampleRate
}

// BandPower sums FFT bin power over [loBin, hiBin] of one Hann-windowed
// slice centered at centerIdx, without the sub-bin interpolation Peak does.
// Used for signal-quality estimation (e.g. video-band vs. noise-band power
// ratios) rather than frequency location.
func (f *Finder) BandPower(samples []float64, centerIdx, windowLen, loBin, hiBin int) float64 {
	win := f.hannWindow(windowLen)

	for i := range f.input {
		f.input[i] = 0
	}
	start := centerIdx - windowLen/2
	for i := 0; i < windowLen; i++ {
		idx := start + i
		if idx >= 0 && idx < len(samples) {
			f.input[i] = samples[idx] * win[i]
		}
	}

	coeffs := f.fft.Coefficients(f.coeffs, f.input)

	if loBin < 0 {
		loBin = 0
	}
	if hiBin >= len(coeffs) {
		hiBin = len(coeffs) - 1
	}
	sum := 0.0
	for i := loBin; i <= hiBin; i++ {
		sum += real(coeffs[i])*real(coeffs[i]) + imag(coeffs[i])*imag(coeffs[i])
	}
	return sum
}

// PixelValue maps a demodulated frequency to an 8-bit luminance/chrominance
// sample, clamped to [0, 255]. The 1500-2300 Hz video band spans the full
// output range.
func PixelValue(freqHz float64) uint8 {
	v := math.Round((freqHz - 1500.0) * 255.0 / 800.0)
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return uint8(v)
}
