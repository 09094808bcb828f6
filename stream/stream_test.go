package stream

import (
	"math"
	"testing"

	"github.com/n0call/sstvcore/dsp/peakfind"
	"github.com/n0call/sstvcore/fsk"
	"github.com/n0call/sstvcore/imagebuf"
	"github.com/n0call/sstvcore/modes"
)

const sampleRate = 48000.0

const (
	leaderHz      = 1900.0
	breakStopHz   = 1200.0
	breakDuration = 10e-3
	leaderDur     = 300e-3
	bitDuration   = 30e-3
	dataOneHz     = 1100.0
	dataZeroHz    = 1300.0
)

// appendTone appends a phase-continuous tone segment to dst, carrying phase
// across calls so successive segments don't click at their boundary.
func appendTone(dst []float64, phase *float64, freq, duration float64) []float64 {
	n := int(math.Round(duration * sampleRate))
	for i := 0; i < n; i++ {
		dst = append(dst, math.Sin(*phase))
		*phase += 2 * math.Pi * freq / sampleRate
		for *phase > 2*math.Pi {
			*phase -= 2 * math.Pi
		}
	}
	return dst
}

// buildVISHeader synthesizes leader+break+leader+10 VIS bits for code,
// optionally flipping one data bit (1..7) to simulate corruption.
func buildVISHeader(phase *float64, code uint8, flipBit int) []float64 {
	var s []float64
	s = appendTone(s, phase, leaderHz, leaderDur)
	s = appendTone(s, phase, breakStopHz, breakDuration)
	s = appendTone(s, phase, leaderHz, leaderDur)

	bits := make([]int, 10)
	parity := 0
	for i := 0; i < 7; i++ {
		b := int((code >> uint(i)) & 1)
		bits[i+1] = b
		parity ^= b
	}
	bits[8] = parity
	if flipBit >= 1 && flipBit <= 7 {
		bits[flipBit] ^= 1
	}
	for i, b := range bits {
		freq := breakStopHz
		switch {
		case i == 0 || i == 9:
			freq = breakStopHz
		case b == 1:
			freq = dataOneHz
		default:
			freq = dataZeroHz
		}
		s = appendTone(s, phase, freq, bitDuration)
	}
	return s
}

// pixelFreq maps an 8-bit luminance value to its video-band tone.
func pixelFreq(v uint8) float64 {
	return 1500.0 + float64(v)/255.0*800.0
}

// buildLine synthesizes one scan line of mode m by walking its channel
// order, inserting the sync+porch pair immediately before transmission
// position m.SyncChannel, exactly mirroring the channelOffset/scanTime
// model in package modes.
func buildLine(phase *float64, m *modes.Mode, pixel func(channel, x int) uint8) []float64 {
	var s []float64
	for pos, c := range m.ChannelOrder {
		if pos == m.SyncChannel {
			s = appendTone(s, phase, breakStopHz, m.SyncPulse)
			s = appendTone(s, phase, 1500.0, m.SyncPorch)
		}
		width := m.Width
		pixelTime := m.ScanTime(0, c) / float64(width)
		for x := 0; x < width; x++ {
			s = appendTone(s, phase, pixelFreq(pixel(c, x)), pixelTime)
		}
		if sep := m.SeparatorPulses[c]; sep > 0 {
			s = appendTone(s, phase, 1500.0, sep)
		}
	}
	return s
}

func gradientPixel(_, x int) uint8 {
	return uint8(x % 256)
}

func newFinder() *peakfind.Finder {
	return peakfind.New(sampleRate, 4096)
}

func TestRingBufferPushAndExtract(t *testing.T) {
	r := NewRingBuffer(8)
	r.Push([]float64{1, 2, 3, 4, 5})
	if r.Oldest() != 0 || r.Newest() != 5 {
		t.Fatalf("Oldest/Newest = %d/%d, want 0/5", r.Oldest(), r.Newest())
	}
	r.Push([]float64{6, 7, 8, 9})
	if r.Oldest() != 1 || r.Newest() != 9 {
		t.Fatalf("after overflow, Oldest/Newest = %d/%d, want 1/9", r.Oldest(), r.Newest())
	}
	out := r.Extract(1, 9)
	want := []float64{2, 3, 4, 5, 6, 7, 8, 9}
	for i, v := range want {
		if out[i] != v {
			t.Fatalf("Extract()[%d] = %v, want %v", i, out[i], v)
		}
	}
}

func TestRingBufferExtractZeroPadsMissingIndices(t *testing.T) {
	r := NewRingBuffer(4)
	r.Push([]float64{1, 2})
	out := r.Extract(-2, 4)
	want := []float64{0, 0, 1, 2, 0, 0}
	for i, v := range want {
		if out[i] != v {
			t.Fatalf("Extract()[%d] = %v, want %v", i, out[i], v)
		}
	}
}

// TestControllerMartinM1RoundTrip synthesizes a full Martin M1 image with a
// horizontal gradient, feeds it through the controller in small chunks, and
// checks the decoded image matches the gradient within the round-trip
// tolerance.
func TestControllerMartinM1RoundTrip(t *testing.T) {
	m := modes.GetByVIS(modes.VISMartinM1)

	var phase float64
	audio := buildVISHeader(&phase, modes.VISMartinM1, -1)
	for line := 0; line < m.Height; line++ {
		audio = append(audio, buildLine(&phase, m, gradientPixel)...)
	}

	var detectedMode *modes.Mode
	cb := Callbacks{
		OnModeDetected: func(dm *modes.Mode) { detectedMode = dm },
	}
	c := New(sampleRate, 3.0, newFinder(), cb)

	const chunk = 4096
	for i := 0; i < len(audio); i += chunk {
		end := i + chunk
		if end > len(audio) {
			end = len(audio)
		}
		c.Feed(audio[i:end])
	}

	if detectedMode == nil || detectedMode.ID != modes.VISMartinM1 {
		t.Fatalf("detected mode = %v, want Martin M1", detectedMode)
	}
	// No following VIS header ends the sample, so the image only finishes
	// once flushed, per §4.9.
	completed, ok := c.Flush()
	if !ok || completed == nil {
		t.Fatalf("image never completed")
	}

	// Spot-check a handful of columns on a mid-image line for the gray
	// (luminance-only) gradient value, tolerant of interpolation error.
	line := m.Height / 2
	for x := 0; x < m.Width; x += 32 {
		want := int(gradientPixel(0, x))
		got := int(completed.ToRGB()[(line*m.Width+x)*3+1]) // G channel carries logical channel 0
		if diff := got - want; diff < -4 || diff > 4 {
			t.Errorf("line %d col %d: got %d, want ~%d (±4)", line, x, got, want)
		}
	}
}

// TestControllerVISSingleBitCorrectionRecovers synthesizes a VIS header for
// Martin M2 with one data bit flipped and checks the controller still
// detects Martin M2 via single-bit parity correction.
func TestControllerVISSingleBitCorrectionRecovers(t *testing.T) {
	m := modes.GetByVIS(modes.VISMartinM2)

	var phase float64
	audio := buildVISHeader(&phase, modes.VISMartinM2, 3)
	// A couple of lines so the controller has something to decode after VIS.
	for line := 0; line < 2; line++ {
		audio = append(audio, buildLine(&phase, m, gradientPixel)...)
	}

	var detectedMode *modes.Mode
	var gotError error
	cb := Callbacks{
		OnModeDetected: func(dm *modes.Mode) { detectedMode = dm },
		OnError:        func(err error) { gotError = err },
	}
	c := New(sampleRate, 3.0, newFinder(), cb)

	const chunk = 4096
	for i := 0; i < len(audio); i += chunk {
		end := i + chunk
		if end > len(audio) {
			end = len(audio)
		}
		c.Feed(audio[i:end])
	}

	if gotError != nil {
		t.Fatalf("unexpected VIS error: %v", gotError)
	}
	if detectedMode == nil || detectedMode.ID != modes.VISMartinM2 {
		t.Fatalf("detected mode = %v, want Martin M2 despite single-bit corruption", detectedMode)
	}
}

// TestControllerCancelDuringLineDecoding feeds a partial Martin M1 stream,
// cancels mid-image, and checks Feed stops doing work without panicking
// while the partial image remains inspectable.
func TestControllerCancelDuringLineDecoding(t *testing.T) {
	m := modes.GetByVIS(modes.VISMartinM1)

	var phase float64
	audio := buildVISHeader(&phase, modes.VISMartinM1, -1)
	for line := 0; line < 5; line++ {
		audio = append(audio, buildLine(&phase, m, gradientPixel)...)
	}

	var lines int
	cb := Callbacks{OnLine: func(int) { lines++ }}
	c := New(sampleRate, 3.0, newFinder(), cb)

	const chunk = 4096
	cancelled := false
	for i := 0; i < len(audio); i += chunk {
		end := i + chunk
		if end > len(audio) {
			end = len(audio)
		}
		if !c.Feed(audio[i:end]) && !cancelled {
			t.Fatalf("Feed returned false before Cancel was called")
		}
		if lines >= 2 && !cancelled {
			c.Cancel()
			cancelled = true
		}
	}

	if c.State() != Cancelled {
		t.Fatalf("state = %v, want Cancelled", c.State())
	}
	if cont := c.Feed([]float64{0, 0, 0}); cont {
		t.Fatalf("Feed after Cancel should return false")
	}
	if c.Partial() == nil {
		t.Fatalf("expected a partial image to remain available after cancel")
	}
}

// fskBitRev mirrors package fsk's bit-reversal table, duplicated here
// (rather than imported) since it's private to that package and this test
// only needs it to synthesize a transmit-side signal, not to decode one.
var fskBitRev = [64]uint8{
	0x00, 0x20, 0x10, 0x30, 0x08, 0x28, 0x18, 0x38,
	0x04, 0x24, 0x14, 0x34, 0x0c, 0x2c, 0x1c, 0x3c,
	0x02, 0x22, 0x12, 0x32, 0x0a, 0x2a, 0x1a, 0x3a,
	0x06, 0x26, 0x16, 0x36, 0x0e, 0x2e, 0x1e, 0x3e,
	0x01, 0x21, 0x11, 0x31, 0x09, 0x29, 0x19, 0x39,
	0x05, 0x25, 0x15, 0x35, 0x0d, 0x2d, 0x1d, 0x3d,
	0x03, 0x23, 0x13, 0x33, 0x0b, 0x2b, 0x1b, 0x3b,
	0x07, 0x27, 0x17, 0x37, 0x0f, 0x2f, 0x1f, 0x3f,
}

func fskRawBitsFor6(v uint8) [6]int {
	var raw uint8
	for candidate := 0; candidate < 64; candidate++ {
		if fskBitRev[candidate] == v {
			raw = uint8(candidate)
			break
		}
	}
	var bits [6]int
	for i := 0; i < 6; i++ {
		bits[i] = int((raw >> uint(i)) & 1)
	}
	return bits
}

func appendFSKBit(dst []float64, phase *float64, bit int) []float64 {
	freq := 2100.0
	if bit == 1 {
		freq = 1900.0
	}
	return appendTone(dst, phase, freq, 22e-3)
}

func buildFSKSignal(phase *float64, payload string) []float64 {
	var out []float64
	for _, v := range []uint8{0x20, 0x2a} {
		for _, b := range fskRawBitsFor6(v) {
			out = appendFSKBit(out, phase, b)
		}
	}
	for i := 0; i < len(payload); i++ {
		for _, b := range fskRawBitsFor6(payload[i] - 0x20) {
			out = appendFSKBit(out, phase, b)
		}
	}
	for _, b := range fskRawBitsFor6(0) { // terminator
		out = appendFSKBit(out, phase, b)
	}
	return out
}

// TestControllerDecodesFSKIDAfterImage synthesizes a Martin M1 image
// immediately followed by an FSK callsign ID, and checks OnFSKID fires
// with the expected string once enough trailing audio has been fed.
func TestControllerDecodesFSKIDAfterImage(t *testing.T) {
	m := modes.GetByVIS(modes.VISMartinM1)

	var phase float64
	imageAudio := buildVISHeader(&phase, modes.VISMartinM1, -1)
	for line := 0; line < m.Height; line++ {
		imageAudio = append(imageAudio, buildLine(&phase, m, gradientPixel)...)
	}
	tailAudio := buildFSKSignal(&phase, "ABC")
	// Pad with silence so the listening window's deadline is reached.
	tailAudio = append(tailAudio, make([]float64, int(fskListenSeconds*sampleRate))...)

	var gotID string
	cb := Callbacks{OnFSKID: func(id string) { gotID = id }}
	c := New(sampleRate, fskListenSeconds+2.0, newFinder(), cb)
	c.SetFSKDecoder(fsk.New(sampleRate, newFinder()))

	const chunk = 4096
	for i := 0; i < len(imageAudio); i += chunk {
		end := i + chunk
		if end > len(imageAudio) {
			end = len(imageAudio)
		}
		c.Feed(imageAudio[i:end])
	}
	// Nothing marks the image's natural end on the wire (no following VIS
	// header precedes the FSK tones), so a caller flushes once it knows the
	// video portion is over, arming the trailing FSK listening window.
	if _, ok := c.Flush(); !ok {
		t.Fatalf("Flush did not finalize the image before the FSK tail")
	}

	for i := 0; i < len(tailAudio); i += chunk {
		end := i + chunk
		if end > len(tailAudio) {
			end = len(tailAudio)
		}
		c.Feed(tailAudio[i:end])
	}

	if gotID != "ABC" {
		t.Fatalf("OnFSKID delivered %q, want %q", gotID, "ABC")
	}
}

func TestDriftTrackerEMA(t *testing.T) {
	var d driftTracker
	d.update(10)
	if d.ema != 10 {
		t.Fatalf("first update should seed ema directly, got %v", d.ema)
	}
	d.update(0)
	want := driftAlpha*0 + (1-driftAlpha)*10
	if math.Abs(d.ema-want) > 1e-9 {
		t.Fatalf("ema = %v, want %v", d.ema, want)
	}
}

func TestApplySlantCorrectionSkipsBelowThreshold(t *testing.T) {
	m := modes.GetByVIS(modes.VISMartinM1)
	img := imagebuf.New(m)
	row := make([]uint8, m.Width)
	for i := range row {
		row[i] = uint8(i % 256)
	}
	img.StoreLine(10, [][]uint8{row, row, row})
	before := append([]uint8(nil), img.ToRGB()...)

	nominal := m.LineTime * sampleRate
	// A drift of 1e-4 of a line (about 2 samples per line) is about
	// 0.03 px per line, well under 0.1 px.
	applySlantCorrection(img, 0.0001*nominal, nominal)

	after := img.ToRGB()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("pixel %d changed despite sub-threshold drift", i)
			break
		}
	}
}

func TestApplySlantCorrectionShiftsRows(t *testing.T) {
	m := modes.GetByVIS(modes.VISMartinM1)
	img := imagebuf.New(m)
	row := make([]uint8, m.Width)
	for i := range row {
		row[i] = uint8(i % 256)
	}
	for line := 0; line < 3; line++ {
		img.StoreLine(line, [][]uint8{row, row, row})
	}

	nominal := m.LineTime * sampleRate
	pixelsPerLine := 2.0
	applySlantCorrection(img, pixelsPerLine*nominal/float64(m.Width), nominal)

	for line := 0; line < 3; line++ {
		shift := int(math.Round(float64(line) * pixelsPerLine))
		shift = ((shift % m.Width) + m.Width) % m.Width
		for x := 0; x < m.Width; x++ {
			want := row[(x-shift+m.Width)%m.Width]
			got := img.ToRGB()[(line*m.Width+x)*3+1] // G plane
			if got != want {
				t.Fatalf("line %d col %d: got %d, want %d", line, x, got, want)
			}
		}
	}
}

// TestControllerMidStreamVISInterruptSwitchesMode synthesizes Martin M1
// starting an image, then a fresh VIS header for Martin M2 cutting in
// partway through (as a new transmission overlapping the tail of the old
// one would), and checks the controller abandons the M1 image and starts
// decoding M2, emitting the interrupted M1 image via OnImageComplete rather
// than silently dropping it: per §4.9, arrival of a new VIS header is one of
// the two events that ends the current image. A genuine mid-stream mode
// change can only be recognized this way, via a new VIS break, since the
// arbiter refuses to relatch away from an already-latched mode on sync
// timing alone.
func TestControllerMidStreamVISInterruptSwitchesMode(t *testing.T) {
	m1 := modes.GetByVIS(modes.VISMartinM1)
	m2 := modes.GetByVIS(modes.VISMartinM2)

	var phase float64
	audio := buildVISHeader(&phase, modes.VISMartinM1, -1)
	for line := 0; line < 3; line++ {
		audio = append(audio, buildLine(&phase, m1, gradientPixel)...)
	}
	audio = append(audio, buildVISHeader(&phase, modes.VISMartinM2, -1)...)
	for line := 0; line < 2; line++ {
		audio = append(audio, buildLine(&phase, m2, gradientPixel)...)
	}

	var detected []*modes.Mode
	var completedModes []string
	cb := Callbacks{
		OnModeDetected:  func(dm *modes.Mode) { detected = append(detected, dm) },
		OnImageComplete: func(img *imagebuf.Buffer) { completedModes = append(completedModes, img.Mode().Name) },
	}
	c := New(sampleRate, 3.0, newFinder(), cb)

	const chunk = 4096
	for i := 0; i < len(audio); i += chunk {
		end := i + chunk
		if end > len(audio) {
			end = len(audio)
		}
		c.Feed(audio[i:end])
	}

	if len(detected) < 2 {
		t.Fatalf("expected two OnModeDetected calls, got %d: %v", len(detected), detected)
	}
	if detected[0].ID != m1.ID {
		t.Fatalf("first detected mode = %v, want Martin M1", detected[0])
	}
	if detected[len(detected)-1].ID != m2.ID {
		t.Fatalf("final detected mode = %v, want Martin M2", detected[len(detected)-1])
	}
	if c.Mode() == nil || c.Mode().ID != m2.ID {
		t.Fatalf("controller ended on mode %v, want Martin M2", c.Mode())
	}
	if len(completedModes) != 1 || completedModes[0] != m1.Name {
		t.Fatalf("OnImageComplete calls = %v, want exactly one completed image for %s", completedModes, m1.Name)
	}
}

// TestControllerForceModeSkipsVISDetection checks that SetForceMode latches
// the given mode on the very first sync pulse, decoding a full image even
// though no VIS header is ever transmitted.
func TestControllerForceModeSkipsVISDetection(t *testing.T) {
	m := modes.GetByVIS(modes.VISMartinM1)

	var phase float64
	var audio []float64
	for line := 0; line < m.Height; line++ {
		audio = append(audio, buildLine(&phase, m, gradientPixel)...)
	}

	var detectedMode *modes.Mode
	cb := Callbacks{
		OnModeDetected: func(dm *modes.Mode) { detectedMode = dm },
	}
	c := New(sampleRate, 3.0, newFinder(), cb)
	c.SetForceMode(m)

	const chunk = 4096
	for i := 0; i < len(audio); i += chunk {
		end := i + chunk
		if end > len(audio) {
			end = len(audio)
		}
		c.Feed(audio[i:end])
	}

	if detectedMode == nil || detectedMode.ID != m.ID {
		t.Fatalf("detected mode = %v, want %v (forced)", detectedMode, m)
	}
	completed, ok := c.Flush()
	if !ok || completed == nil {
		t.Fatalf("image never completed under forced mode")
	}
}

func TestControllerSetAdaptiveDoesNotPanic(t *testing.T) {
	c := New(sampleRate, 3.0, newFinder(), Callbacks{})
	c.SetAdaptive(true)
	c.SetAdaptive(false)
}
