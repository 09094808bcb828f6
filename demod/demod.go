// Package demod implements the FM demodulator: complex-baseband
// down-conversion, a Kaiser-windowed low-pass FIR, a phase-difference
// discriminator, and Schmitt-triggered sync-pulse detection with width
// classification. Grounded on the teacher's video_demod.go
// demodulateFrequency/detectSync pair and on bemasher-rtldavis/dsp's
// RotateFs4 + FIR9 + Discriminate pipeline, generalized from a fixed
// intermediate frequency to an NCO-mixed one.
package demod

import (
	"math"
	"math/cmplx"

	"github.com/n0call/sstvcore/dsp"
)

const (
	bandCenterHz    = 1900.0
	bandHalfWidthHz = 400.0 // normalized output spans +-1 == +-400 Hz around the center
	bandwidthHz     = 2 * bandHalfWidthHz

	syncTargetHz  = 1200.0
	porchTargetHz = 1500.0

	lpfCutoffHz  = 900.0
	kaiserAlpha  = 3.0
	rejectToleranceHz = 50.0
)

func normalize(hz float64) float64 { return hz / bandHalfWidthHz }

var (
	syncTargetNorm  = (syncTargetHz - bandCenterHz) / bandHalfWidthHz
	porchTargetNorm = (porchTargetHz - bandCenterHz) / bandHalfWidthHz
)

// Width is a classified sync-pulse duration.
type Width int

const (
	Width5ms Width = iota
	Width9ms
	Width20ms
)

// SyncEvent is emitted when the Schmitt trigger releases after a
// sufficiently long, sufficiently on-target low period.
type SyncEvent struct {
	Width           Width
	SampleIndex     int64
	FrequencyOffset float64 // delayed normalized frequency minus the sync target
}

// Demodulator converts a stream of real audio samples into a parallel
// stream of normalized instantaneous frequency values (0 at 1900 Hz, +-1 at
// the edges of the 800 Hz video band) and zero or more SyncEvents.
type Demodulator struct {
	sampleRate float64

	nco *dsp.NCO
	lpf *dsp.ComplexFIR

	prevBaseband complex128
	haveBaseband bool

	avgLen    int
	movingAvg *dsp.MovingSum
	delay     *dsp.DelayLine
	trigger   *dsp.SchmittTrigger

	filterDelay int
	sampleIndex int64

	syncCounter int
	low         bool
}

// New builds a demodulator for the given sample rate.
func New(sampleRate float64) *Demodulator {
	filterLen := dsp.OddLength(0.002 * sampleRate)
	taps := dsp.LowpassFIR(filterLen, lpfCutoffHz, sampleRate, kaiserAlpha)
	avgLen := dsp.OddLength(0.0025 * sampleRate)

	low := syncTargetNorm + (porchTargetNorm-syncTargetNorm)*0.25
	high := syncTargetNorm + (porchTargetNorm-syncTargetNorm)*0.5

	return &Demodulator{
		sampleRate:  sampleRate,
		nco:         dsp.NewNCO(2 * math.Pi * bandCenterHz / sampleRate),
		lpf:         dsp.NewComplexFIR(taps),
		avgLen:      avgLen,
		movingAvg:   dsp.NewMovingSum(avgLen),
		delay:       dsp.NewDelayLine(avgLen),
		trigger:     dsp.NewSchmittTrigger(low, high, false),
		filterDelay: (filterLen - 1) / 2,
	}
}

// Process runs the pipeline over a chunk of samples, writing the normalized
// frequency for samples[i] into freqOut[i] (freqOut must be at least as
// long as samples) and appending sync events to events.
func (d *Demodulator) Process(samples []float64, freqOut []float64, events []SyncEvent) []SyncEvent {
	for i, s := range samples {
		freq, ev, ok := d.step(s)
		freqOut[i] = freq
		if ok {
			events = append(events, ev)
		}
	}
	return events
}

func (d *Demodulator) step(sample float64) (float64, SyncEvent, bool) {
	baseband := d.nco.Mix(sample)
	filtered := d.lpf.Push(baseband)

	var normFreq float64
	if d.haveBaseband {
		phaseDiff := cmplx.Phase(filtered * cmplx.Conj(d.prevBaseband))
		normFreq = phaseDiff * d.sampleRate / (bandwidthHz * math.Pi)
	}
	d.prevBaseband = filtered
	d.haveBaseband = true

	d.movingAvg.Push(normFreq)
	smoothed := d.movingAvg.Mean()
	delayed := d.delay.Push(smoothed)

	triggerHigh := d.trigger.Update(smoothed)
	low := !triggerHigh

	var (
		ev SyncEvent
		ok bool
	)
	idx := d.sampleIndex
	d.sampleIndex++

	if d.low && !low {
		counterAtRelease := d.syncCounter
		ev, ok = d.classify(counterAtRelease, delayed)
		if ok {
			ev.SampleIndex = idx - int64(d.filterDelay) - int64(counterAtRelease)
		}
	}
	if low {
		d.syncCounter++
	} else {
		d.syncCounter = 0
	}
	d.low = low

	return normFreq, ev, ok
}

func (d *Demodulator) classify(counter int, delayedFreq float64) (SyncEvent, bool) {
	lowBound := int(math.Round(0.0025 * d.sampleRate))
	upperBound := int(math.Round(0.025 * d.sampleRate))
	if counter < lowBound || counter > upperBound {
		return SyncEvent{}, false
	}
	if math.Abs(delayedFreq-syncTargetNorm)*bandHalfWidthHz > rejectToleranceHz {
		return SyncEvent{}, false
	}

	durationMs := float64(counter) / d.sampleRate * 1000
	var w Width
	switch {
	case durationMs <= 7.0:
		w = Width5ms
	case durationMs <= 14.5:
		w = Width9ms
	default:
		w = Width20ms
	}

	return SyncEvent{
		Width:           w,
		FrequencyOffset: delayedFreq - syncTargetNorm,
	}, true
}
