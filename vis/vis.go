// Package vis decodes the VIS (Vertical Interval Signaling) header that
// identifies an SSTV transmission's mode: a 300 ms leader tone, a 10 ms
// break, a second 300 ms leader, then 10 consecutive 30 ms bits (1200 Hz
// start/stop, 1100/1300 Hz data). Grounded on spec.md's own single-pass
// leader/validate/parity-correct algorithm rather than the teacher's
// sliding-correlation detector (audio_extensions/sstv/vis.go), but reusing
// that file's 500-3300 Hz leader-tone search band; frequencies come from
// dsp/peakfind's FFT peak with clamped quadratic interpolation.
package vis

import (
	"errors"
	"math"

	"github.com/n0call/sstvcore/dsp/peakfind"
	"github.com/n0call/sstvcore/modes"
)

var (
	// ErrLeaderInvalid means the pre-break leader tone wasn't within
	// tolerance of 1900 Hz.
	ErrLeaderInvalid = errors.New("vis: leader tone out of tolerance")
	// ErrBitOutOfRange means some bit's estimated frequency didn't land
	// near any of the expected tones.
	ErrBitOutOfRange = errors.New("vis: bit frequency out of tolerance")
	// ErrParityUnrecoverable means parity failed and no single-bit flip
	// produced a known mode.
	ErrParityUnrecoverable = errors.New("vis: parity check failed")
	// ErrUnknownMode means the decoded (possibly corrected) code has no
	// registered mode.
	ErrUnknownMode = errors.New("vis: code does not match a known mode")
)

const (
	leaderToleranceHz = 100.0
	bitToleranceHz    = 100.0
	breakDuration     = 10e-3
	leaderDuration    = 300e-3
	leaderCheckWindow = 60e-3
	bitDuration       = 30e-3
	bitSkipSamples    = 5 // transition guard, in samples, independent of sample rate

	startStopHz = 1200.0
	dataOneHz   = 1100.0
	dataZeroHz  = 1300.0
	leaderHz    = 1900.0

	searchLoHz = 500.0
	searchHiHz = 3300.0
)

// Result is a successfully decoded VIS header.
type Result struct {
	Code      uint8
	Mode      *modes.Mode
	Corrected bool // true if a single-bit parity correction was applied
}

// Decoder estimates frequencies from raw audio via an FFT peak finder and
// decodes a VIS header at a candidate break index.
type Decoder struct {
	sampleRate float64
	finder     *peakfind.Finder
}

// New builds a VIS decoder over raw audio sampled at sampleRate.
func New(sampleRate float64, finder *peakfind.Finder) *Decoder {
	return &Decoder{sampleRate: sampleRate, finder: finder}
}

// RequiredSamplesAfterBreak is the number of samples after breakIndex a
// candidate needs available before Decode can run: 300 ms post-break
// leader + 60 ms tolerance + 300 ms VIS.
func (d *Decoder) RequiredSamplesAfterBreak() int {
	return int(math.Round((leaderDuration + leaderCheckWindow + leaderDuration) * d.sampleRate))
}

// ImageStartOffset returns the sample offset from breakIndex at which image
// data is assumed to begin.
func (d *Decoder) ImageStartOffset() int64 {
	return int64(math.Round((breakDuration + leaderDuration + leaderDuration) * d.sampleRate))
}

// Decode attempts to decode a VIS header given a candidate breakIndex into
// raw audio samples.
func (d *Decoder) Decode(samples []float64, breakIndex int64) (Result, error) {
	if err := d.validateLeader(samples, breakIndex); err != nil {
		return Result{}, err
	}

	start := breakIndex + int64(math.Round((breakDuration+leaderDuration)*d.sampleRate))
	bits := make([]int, 10)
	for i := 0; i < 10; i++ {
		freq, err := d.estimateBit(samples, start, i)
		if err != nil {
			return Result{}, err
		}
		bit, err := classifyBit(i, freq)
		if err != nil {
			return Result{}, err
		}
		bits[i] = bit
	}

	code, corrected, err := decodeWithParity(bits)
	if err != nil {
		return Result{}, err
	}

	mode := modes.GetByVIS(code)
	if mode == nil {
		return Result{}, ErrUnknownMode
	}

	return Result{Code: code, Mode: mode, Corrected: corrected}, nil
}

func (d *Decoder) validateLeader(samples []float64, breakIndex int64) error {
	n := int(math.Round(leaderCheckWindow * d.sampleRate))
	if n < 1 {
		n = 1
	}
	start := breakIndex - int64(n)
	if start < 0 || breakIndex > int64(len(samples)) {
		return ErrLeaderInvalid
	}
	center := start + int64(n)/2
	freq := d.finder.Peak(samples, int(center), n, d.finder.Bin(searchLoHz), d.finder.Bin(searchHiHz))
	if math.Abs(freq-leaderHz) > leaderToleranceHz {
		return ErrLeaderInvalid
	}
	return nil
}

func (d *Decoder) estimateBit(samples []float64, start int64, bit int) (float64, error) {
	bitStart := start + int64(math.Round(float64(bit)*bitDuration*d.sampleRate))
	bitLen := int(math.Round(bitDuration * d.sampleRate))
	skip := bitSkipSamples
	windowLen := bitLen - 2*skip
	if windowLen < 1 {
		windowLen = 1
	}
	center := bitStart + int64(skip) + int64(windowLen)/2
	if center < 0 || int(center) >= len(samples) {
		return 0, ErrBitOutOfRange
	}
	freq := d.finder.Peak(samples, int(center), windowLen, d.finder.Bin(searchLoHz), d.finder.Bin(searchHiHz))
	return freq, nil
}

func classifyBit(index int, freq float64) (int, error) {
	if index == 0 || index == 9 {
		if math.Abs(freq-startStopHz) > bitToleranceHz {
			return 0, ErrBitOutOfRange
		}
		return 0, nil
	}
	switch {
	case math.Abs(freq-dataOneHz) <= bitToleranceHz:
		return 1, nil
	case math.Abs(freq-dataZeroHz) <= bitToleranceHz:
		return 0, nil
	default:
		return 0, ErrBitOutOfRange
	}
}

// decodeWithParity assembles bits[1..7] LSB-first into a 7-bit code, checks
// even parity against bits[8], and attempts a single-bit correction if
// parity fails.
func decodeWithParity(bits []int) (uint8, bool, error) {
	assemble := func(b []int) uint8 {
		var code uint8
		for i := 0; i < 7; i++ {
			if b[i+1] != 0 {
				code |= 1 << uint(i)
			}
		}
		return code
	}

	parityOf := func(b []int) int {
		p := 0
		for i := 1; i <= 7; i++ {
			p ^= b[i]
		}
		return p
	}

	if parityOf(bits) == bits[8] {
		code := assemble(bits)
		if modes.GetByVIS(code) != nil {
			return code, false, nil
		}
	}

	for flip := 1; flip <= 7; flip++ {
		trial := append([]int(nil), bits...)
		trial[flip] ^= 1
		if parityOf(trial) != trial[8] {
			continue
		}
		code := assemble(trial)
		if modes.GetByVIS(code) != nil {
			return code, true, nil
		}
	}

	return 0, false, ErrParityUnrecoverable
}
