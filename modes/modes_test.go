package modes

import (
	"math"
	"testing"
)

const sampleRate = 48000.0

func TestAllModesValidate(t *testing.T) {
	for _, m := range All() {
		if err := m.Validate(); err != nil {
			t.Errorf("mode %s failed validation: %v", m.Name, err)
		}
	}
}

// TestLineTimeInvariant checks spec's quantified invariant:
// lineTime * R ~= syncPulse*R + syncPorch*R + sum(scanTimes + separatorPulses), within 1 sample.
func TestLineTimeInvariant(t *testing.T) {
	for _, m := range All() {
		sum := m.SyncPulse + m.SyncPorch
		for c := 0; c < m.ChannelCount; c++ {
			sum += m.ScanTimes[c] + m.SeparatorPulses[c]
		}
		gotSamples := m.LineTime * sampleRate
		wantSamples := sum * sampleRate
		if math.Abs(gotSamples-wantSamples) > 1 {
			t.Errorf("mode %s: lineTime*R = %.3f, sum*R = %.3f, diff > 1 sample", m.Name, gotSamples, wantSamples)
		}
	}
}

func TestGetByVIS(t *testing.T) {
	m := GetByVIS(VISMartinM1)
	if m == nil || m.Name != "Martin M1" {
		t.Fatalf("GetByVIS(VISMartinM1) = %v, want Martin M1", m)
	}
	if GetByVIS(0xFF) != nil {
		t.Fatalf("GetByVIS(0xFF) should be nil")
	}
}

func TestPulseWidthBuckets(t *testing.T) {
	five, nine, twenty := PulseWidthBuckets()
	if len(five)+len(nine)+len(twenty) != len(All()) {
		t.Fatalf("buckets don't cover all modes: %d + %d + %d != %d", len(five), len(nine), len(twenty), len(All()))
	}
	for _, m := range nine {
		if m.SyncPulse < 7e-3 || m.SyncPulse >= 14.5e-3 {
			t.Errorf("mode %s in 9ms bucket has syncPulse %v", m.Name, m.SyncPulse)
		}
	}
}

func TestMartinChannelOffsetOrder(t *testing.T) {
	m := GetByVIS(VISMartinM1)
	// transmission order is G(1), B(2), R(0); offsets must be strictly
	// increasing in transmission order.
	og := m.ChannelOffset(0, 1)
	ob := m.ChannelOffset(0, 2)
	or := m.ChannelOffset(0, 0)
	if !(og < ob && ob < or) {
		t.Fatalf("Martin M1 channel offsets not in transmission order: G=%v B=%v R=%v", og, ob, or)
	}
}

func TestScottieMidLineSync(t *testing.T) {
	m := GetByVIS(VISScottieS1)
	// G and B (positions before the mid-line sync) must have non-positive
	// offsets; R (after sync) must have a positive offset.
	if m.ChannelOffset(0, 1) > 0 {
		t.Errorf("Scottie S1 green offset should be <= 0, got %v", m.ChannelOffset(0, 1))
	}
	if m.ChannelOffset(0, 2) > 0 {
		t.Errorf("Scottie S1 blue offset should be <= 0, got %v", m.ChannelOffset(0, 2))
	}
	if m.ChannelOffset(0, 0) <= 0 {
		t.Errorf("Scottie S1 red offset should be > 0, got %v", m.ChannelOffset(0, 0))
	}
}

func TestScanTimeMatchesWidth(t *testing.T) {
	m := GetByVIS(VISMartinM1)
	for c := 0; c < m.ChannelCount; c++ {
		st := m.ScanTime(0, c)
		if st <= 0 {
			t.Errorf("channel %d scan time should be positive, got %v", c, st)
		}
	}
}
