package dsp

// ComplexFIR is a fixed-length FIR filter over a complex sample stream. It
// keeps the last len(taps) samples in a circular buffer so each Push costs
// O(len(taps)) with no slice shifting.
type ComplexFIR struct {
	taps []float64
	buf  []complex128
	pos  int
}

// NewComplexFIR builds a filter from the given (real-valued) tap set.
func NewComplexFIR(taps []float64) *ComplexFIR {
	return &ComplexFIR{
		taps: taps,
		buf:  make([]complex128, len(taps)),
	}
}

// Push inserts a new sample and returns the filtered output
// sum(taps[i] * x[(pos-i)]) over the filter's delay line.
func (f *ComplexFIR) Push(sample complex128) complex128 {
	f.buf[f.pos] = sample
	var out complex128
	n := len(f.taps)
	idx := f.pos
	for i := 0; i < n; i++ {
		out += complex(f.taps[i], 0) * f.buf[idx]
		idx--
		if idx < 0 {
			idx = n - 1
		}
	}
	f.pos++
	if f.pos == n {
		f.pos = 0
	}
	return out
}

// Len returns the number of taps.
func (f *ComplexFIR) Len() int { return len(f.taps) }
