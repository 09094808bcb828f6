package dsp

// SchmittTrigger is a hysteresis-latched boolean comparator: it flips true
// once the input rises above high, and false once it falls below low,
// holding its state in between. This rejects the single-sample chatter a
// plain threshold comparator would produce around the FM discriminator's
// sync-pulse edges.
type SchmittTrigger struct {
	low, high float64
	state     bool
}

// NewSchmittTrigger builds a trigger with the given low/high thresholds and
// initial state.
func NewSchmittTrigger(low, high float64, initial bool) *SchmittTrigger {
	return &SchmittTrigger{low: low, high: high, state: initial}
}

// Update feeds a new sample and returns the resulting state.
func (t *SchmittTrigger) Update(value float64) bool {
	switch {
	case value >= t.high:
		t.state = true
	case value <= t.low:
		t.state = false
	}
	return t.state
}

// State returns the current latched state without feeding a new sample.
func (t *SchmittTrigger) State() bool { return t.state }
