// Package syncarbiter maintains per-pulse-width rings of recent sync-pulse
// positions and infers the latched SSTV mode from their timing, deferring
// to a VIS-indicated mode when one arrives. Grounded on the teacher's
// pulse-width/timing logic in audio_extensions/sstv/video_demod.go; no
// direct teacher equivalent exists for the ring-based mean/stddev
// arbitration itself, which this repo builds using
// gonum.org/v1/gonum/stat, continuing the FFT-work gonum dependency.
package syncarbiter

import (
	"gonum.org/v1/gonum/stat"

	"github.com/n0call/sstvcore/demod"
	"github.com/n0call/sstvcore/modes"
)

const (
	ringSize               = 5
	stddevToleranceSec     = 1e-3
	matchToleranceSec      = 1e-3
	visOverrideFraction    = 0.10
	visOverrideWidthTolSec = 5e-3
)

// ring holds the last N sync-pulse sample indices, frequency offsets, and
// the N-1 inter-pulse intervals derived from them.
type ring struct {
	indices   []int64
	freqs     []float64
	intervals []float64
}

func newRing() *ring {
	return &ring{}
}

func (r *ring) push(index int64, freqOffset float64) {
	r.indices = append(r.indices, index)
	r.freqs = append(r.freqs, freqOffset)
	if len(r.indices) > ringSize {
		r.indices = r.indices[1:]
		r.freqs = r.freqs[1:]
	}
	if len(r.indices) >= 2 {
		interval := float64(r.indices[len(r.indices)-1] - r.indices[len(r.indices)-2])
		r.intervals = append(r.intervals, interval)
		if len(r.intervals) > ringSize-1 {
			r.intervals = r.intervals[1:]
		}
	}
}

func (r *ring) shift(delta int64) {
	kept := r.indices[:0]
	for _, idx := range r.indices {
		shifted := idx - delta
		if shifted > 0 {
			kept = append(kept, shifted)
		}
	}
	r.indices = kept
}

// Method is how a mode was latched.
type Method int

const (
	MethodTiming Method = iota
	MethodVIS
)

// Arbiter tracks sync history per pulse width and infers/latches a mode
// from inter-pulse timing, or from an explicit VIS resolution.
type Arbiter struct {
	sampleRate float64
	rings      map[demod.Width]*ring

	latched *modes.Mode
	method  Method

	linesDecoded int
	totalLines   int
}

// New builds an arbiter for the given sample rate.
func New(sampleRate float64) *Arbiter {
	return &Arbiter{
		sampleRate: sampleRate,
		rings: map[demod.Width]*ring{
			demod.Width5ms:  newRing(),
			demod.Width9ms:  newRing(),
			demod.Width20ms: newRing(),
		},
	}
}

// Latched returns the currently latched mode, or nil.
func (a *Arbiter) Latched() *modes.Mode { return a.latched }

// SetProgress records how many of the latched mode's lines have been
// decoded, used to evaluate the VIS-override window.
func (a *Arbiter) SetProgress(linesDecoded, totalLines int) {
	a.linesDecoded = linesDecoded
	a.totalLines = totalLines
}

// Shift adjusts every stored sample index by -delta, discarding entries
// that become non-positive, mirroring the ring audio buffer's own shift.
func (a *Arbiter) Shift(delta int64) {
	for _, r := range a.rings {
		r.shift(delta)
	}
}

// Observe feeds a new sync-pulse event and attempts mode inference from
// recent timing. Returns the mode and true if a new timing latch occurred
// this call.
func (a *Arbiter) Observe(ev demod.SyncEvent) (*modes.Mode, bool) {
	r := a.rings[ev.Width]
	r.push(ev.SampleIndex, ev.FrequencyOffset)

	if len(r.intervals) < 1 {
		return nil, false
	}

	mean, sd := stat.MeanStdDev(r.intervals, nil)
	if sd > stddevToleranceSec*a.sampleRate {
		return nil, false
	}

	candidate, dist := closestModeByLineTime(mean, a.sampleRate)
	if candidate == nil || dist > matchToleranceSec*a.sampleRate {
		return nil, false
	}

	if a.latched == nil {
		a.latched = candidate
		a.method = MethodTiming
		return candidate, true
	}

	if candidate.ID == a.latched.ID {
		return a.latched, false
	}

	expected := a.latched.LineTime * a.sampleRate
	if abs64(mean-expected) <= matchToleranceSec*a.sampleRate {
		return nil, false
	}

	// A different mode matched the mean, but a latched mode is never
	// replaced on timing alone; ignore to avoid chasing noise.
	return nil, false
}

// LatchVIS overrides timing-based detection with a VIS-resolved mode. It
// refuses to override an existing timing latch unless less than 10% of the
// image has been decoded, or the new mode's sync width matches the current
// one within 5 ms.
func (a *Arbiter) LatchVIS(m *modes.Mode) bool {
	if a.latched == nil || a.method == MethodVIS {
		a.latched = m
		a.method = MethodVIS
		return true
	}

	fractionDecoded := 0.0
	if a.totalLines > 0 {
		fractionDecoded = float64(a.linesDecoded) / float64(a.totalLines)
	}
	widthMatches := abs64(m.SyncPulse-a.latched.SyncPulse) <= visOverrideWidthTolSec

	if fractionDecoded < visOverrideFraction || widthMatches {
		a.latched = m
		a.method = MethodVIS
		for _, r := range a.rings {
			*r = ring{}
		}
		return true
	}
	return false
}

// Reset clears all sync history and the latched mode.
func (a *Arbiter) Reset() {
	for w := range a.rings {
		a.rings[w] = newRing()
	}
	a.latched = nil
	a.linesDecoded = 0
	a.totalLines = 0
}

func closestModeByLineTime(meanSamples, sampleRate float64) (*modes.Mode, float64) {
	var best *modes.Mode
	bestDist := -1.0
	for _, m := range modes.All() {
		expected := m.LineTime * sampleRate
		dist := abs64(meanSamples - expected)
		if bestDist < 0 || dist < bestDist {
			best = m
			bestDist = dist
		}
	}
	return best, bestDist
}

func abs64(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
