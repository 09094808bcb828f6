package linedecode

import (
	"math"
	"testing"

	"github.com/n0call/sstvcore/dsp/peakfind"
	"github.com/n0call/sstvcore/modes"
)

const sampleRate = 48000.0

func tone(freq float64, n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.Sin(2 * math.Pi * freq * float64(i) / sampleRate)
	}
	return s
}

// buildLine synthesizes one line of a mode at a uniform luminance level for
// every channel, preceded by enough lead-in samples to act as channelStart=0.
func buildLine(m *modes.Mode, freqHz float64) []float64 {
	total := int(math.Round(m.LineTime * sampleRate * 2))
	s := make([]float64, total)
	copy(s, tone(freqHz, total))
	return s
}

func TestDecodeLineUniformTone(t *testing.T) {
	m := modes.GetByVIS(modes.VISMartinM1)
	samples := buildLine(m, 1900) // mid-gray
	finder := peakfind.New(sampleRate, 4096)
	d := New(sampleRate, finder)

	channels := d.DecodeLine(samples, 0, 0, m)
	if len(channels) != m.ChannelCount {
		t.Fatalf("got %d channels, want %d", len(channels), m.ChannelCount)
	}
	for c, row := range channels {
		if len(row) != m.Width {
			t.Fatalf("channel %d: width %d, want %d", c, len(row), m.Width)
		}
		for p, v := range row {
			if math.Abs(float64(v)-127) > 10 {
				t.Errorf("channel %d pixel %d: value %d, want near 127", c, p, v)
			}
		}
	}
}

func TestDecodeLineGradient(t *testing.T) {
	m := modes.GetByVIS(modes.VISScottieS1)
	// Synthesize a swept-frequency line covering the video band so pixel
	// values should increase monotonically within each channel.
	total := int(math.Round(m.LineTime * sampleRate * 2))
	samples := make([]float64, total)
	phase := 0.0
	for i := range samples {
		frac := float64(i) / float64(total)
		freq := 1500 + frac*800
		phase += 2 * math.Pi * freq / sampleRate
		samples[i] = math.Sin(phase)
	}

	finder := peakfind.New(sampleRate, 4096)
	d := New(sampleRate, finder)
	channels := d.DecodeLine(samples, 0, 0, m)

	for c, row := range channels {
		increasing := 0
		for p := 1; p < len(row); p++ {
			if row[p] >= row[p-1] {
				increasing++
			}
		}
		if float64(increasing) < float64(len(row)-1)*0.8 {
			t.Errorf("channel %d: expected mostly monotonic increase, got %d/%d", c, increasing, len(row)-1)
		}
	}
}

func TestDecodeLinePartiallyOutsideBuffer(t *testing.T) {
	m := modes.GetByVIS(modes.VISMartinM1)
	// A buffer far too short for the whole line: only the first channel's
	// early pixels have any real signal, the rest should decode using
	// whatever partial/zero-padded window is available without panicking.
	short := tone(1900, int(0.05*sampleRate))
	finder := peakfind.New(sampleRate, 4096)
	d := New(sampleRate, finder)

	channels := d.DecodeLine(short, 0, 0, m)
	if len(channels) != m.ChannelCount {
		t.Fatalf("got %d channels, want %d", len(channels), m.ChannelCount)
	}
	for c, row := range channels {
		if len(row) != m.Width {
			t.Fatalf("channel %d: width %d, want %d", c, len(row), m.Width)
		}
	}
}

func TestDecodeLineSyncIndexBeforeZero(t *testing.T) {
	m := modes.GetByVIS(modes.VISScottieS1) // mid-line sync: negative channel offsets
	samples := buildLine(m, 1900)
	finder := peakfind.New(sampleRate, 4096)
	d := New(sampleRate, finder)

	// Should not panic even though some channel offsets are negative and
	// syncIndex is near zero, pushing some windows before sample 0.
	channels := d.DecodeLine(samples, 10, 0, m)
	if len(channels) != m.ChannelCount {
		t.Fatalf("got %d channels, want %d", len(channels), m.ChannelCount)
	}
}

func TestAdaptiveWindowLenWidensAsSNRDegrades(t *testing.T) {
	const nominal = 48
	if got := adaptiveWindowLen(nominal, 25); got != nominal {
		t.Fatalf("at 25 dB: got %d, want unchanged %d", got, nominal)
	}
	prev := nominal
	for _, snr := range []float64{15, 9.5, -5} {
		got := adaptiveWindowLen(nominal, snr)
		if got <= prev && snr < 20 {
			t.Errorf("at %v dB: window %d not wider than previous tier %d", snr, got, prev)
		}
		prev = got
	}
}

// TestDecodeLineAdaptiveMatchesOnCleanTone checks that enabling Adaptive on
// a clean, noise-free uniform tone still decodes correctly: a high
// estimated SNR should keep the nominal window, leaving the decode
// unaffected.
func TestDecodeLineAdaptiveMatchesOnCleanTone(t *testing.T) {
	m := modes.GetByVIS(modes.VISMartinM1)
	samples := buildLine(m, 1900)
	finder := peakfind.New(sampleRate, 4096)
	d := New(sampleRate, finder)
	d.SetAdaptive(true)

	channels := d.DecodeLine(samples, 0, 0, m)
	for c, row := range channels {
		for p, v := range row {
			if math.Abs(float64(v)-127) > 10 {
				t.Errorf("channel %d pixel %d: value %d, want near 127", c, p, v)
			}
		}
	}
}

func TestEstimateSNRHighForCleanTone(t *testing.T) {
	finder := peakfind.New(sampleRate, 4096)
	d := New(sampleRate, finder)
	samples := tone(1900, 4096)

	snr := d.estimateSNR(samples, 2048)
	if snr < 10 {
		t.Fatalf("estimateSNR() = %v dB, want >= 10 dB for a clean tone", snr)
	}
}
