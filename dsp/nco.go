// Package dsp provides the low-level signal-processing primitives shared by
// the demodulator and encoder: a numerically-controlled oscillator, window
// functions, FIR filtering, a Schmitt trigger and delay line.
package dsp

import "math/cmplx"

// NCO is a numerically-controlled oscillator: a unit-magnitude complex phasor
// rotated by a fixed angular step on every call to Step. Renormalizing after
// each multiply keeps the magnitude from drifting away from 1 over long runs,
// the same trick the baseband mixer needs for a multi-minute SSTV
// transmission.
type NCO struct {
	phasor complex128
	delta  complex128
}

// NewNCO builds an oscillator at the given normalized angular frequency
// (radians/sample).
func NewNCO(radiansPerSample float64) *NCO {
	return &NCO{
		phasor: complex(1, 0),
		delta:  cmplx.Exp(complex(0, radiansPerSample)),
	}
}

// Step advances the oscillator by one sample and returns the new phasor.
func (o *NCO) Step() complex128 {
	o.phasor *= o.delta
	o.phasor /= complex(cmplx.Abs(o.phasor), 0)
	return o.phasor
}

// Mix multiplies a real sample by the conjugate of the current phasor,
// producing a complex baseband sample, then advances the oscillator.
func (o *NCO) Mix(sample float64) complex128 {
	baseband := complex(sample, 0) * cmplx.Conj(o.phasor)
	o.Step()
	return baseband
}

// Reset returns the oscillator to zero phase.
func (o *NCO) Reset() {
	o.phasor = complex(1, 0)
}
