// Package stream drives the end-to-end decode pipeline: feed raw PCM in
// arbitrary-sized chunks (or one single batch), and it searches for a VIS
// header, decodes the following image line by line, tracks slant drift,
// and emits progress through named callback slots. Grounded on
// audio_extensions/sstv/decoder.go's state enum and pcm_buffer.go's
// retention window, but replaces pcm_buffer.go's shift-on-fill
// SlidingPCMBuffer with RingBuffer, and folds the teacher's separate
// batch/streaming code paths into the single Feed/Flush entry points
// below (both are just calls to the same method).
package stream

import (
	"math"

	"github.com/n0call/sstvcore/demod"
	"github.com/n0call/sstvcore/dsp/peakfind"
	"github.com/n0call/sstvcore/fsk"
	"github.com/n0call/sstvcore/imagebuf"
	"github.com/n0call/sstvcore/linedecode"
	"github.com/n0call/sstvcore/modes"
	"github.com/n0call/sstvcore/syncarbiter"
	"github.com/n0call/sstvcore/vis"
)

// State is the controller's current phase.
type State int

const (
	Searching State = iota
	DecodingVIS
	DecodingImage
	Cancelled
)

func (s State) String() string {
	switch s {
	case Searching:
		return "searching"
	case DecodingVIS:
		return "decoding-vis"
	case DecodingImage:
		return "decoding-image"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Callbacks are named hooks the controller invokes as decoding progresses.
// Any subset may be left nil.
type Callbacks struct {
	OnSearching     func()
	OnModeDetected  func(m *modes.Mode)
	OnLine          func(line int)
	OnImageComplete func(img *imagebuf.Buffer)
	OnReset         func()
	OnStateChange   func(s State)
	OnError         func(err error)
	OnFSKID         func(id string)
}

const (
	driftAlpha            = 0.1
	lineLookaheadMargin   = 0.02 // seconds, extra samples awaited past a line's nominal duration
	visLookbackMargin     = 0.07 // seconds, safety margin ahead of the 60ms leader check window
	syncMatchToleranceSec = 0.01
	fskListenSeconds      = 6.0 // covers the sync word plus up to 10 payload bytes at 22ms/bit
)

// Controller runs the search/VIS/image state machine over a stream of raw
// audio samples.
type Controller struct {
	sampleRate float64

	demodulator  *demod.Demodulator
	visDecoder   *vis.Decoder
	lineDecoder  *linedecode.Decoder
	arbiter      *syncarbiter.Arbiter
	ring         *RingBuffer

	state State
	cb    Callbacks

	havePendingBreak bool
	pendingBreak     int64

	mode       *modes.Mode
	img        *imagebuf.Buffer
	line       int
	totalLines int
	maxLines   int
	syncIndex  int64
	drift      driftTracker

	recentEvents []demod.SyncEvent

	freqScratch  []float64
	eventScratch []demod.SyncEvent

	fskDecoder   *fsk.Decoder
	fskListening bool
	fskStart     int64
	fskDeadline  int64

	forcedMode *modes.Mode
}

// driftTracker maintains an exponential moving average of the sample-count
// difference between predicted and observed sync arrival, one line at a
// time (alpha = 0.1).
type driftTracker struct {
	ema  float64
	have bool
}

func (d *driftTracker) update(delta float64) {
	if !d.have {
		d.ema = delta
		d.have = true
		return
	}
	d.ema = driftAlpha*delta + (1-driftAlpha)*d.ema
}

func (d *driftTracker) reset() { *d = driftTracker{} }

// New builds a Controller over one shared FFT peak finder. ringCapacitySeconds
// should comfortably exceed twice the longest registered mode's line time so
// a full pixel window (including negative, pre-sync channel offsets) is
// always retained; callers decoding only known short modes may pass a
// smaller value.
func New(sampleRate float64, ringCapacitySeconds float64, finder *peakfind.Finder, cb Callbacks) *Controller {
	return &Controller{
		sampleRate:  sampleRate,
		demodulator: demod.New(sampleRate),
		visDecoder:  vis.New(sampleRate, finder),
		lineDecoder: linedecode.New(sampleRate, finder),
		arbiter:     syncarbiter.New(sampleRate),
		ring:        NewRingBuffer(int(math.Round(ringCapacitySeconds * sampleRate))),
		state:       Searching,
		cb:          cb,
	}
}

// State returns the controller's current phase.
func (c *Controller) State() State { return c.state }

// Mode returns the currently latched mode, or nil while searching.
func (c *Controller) Mode() *modes.Mode { return c.mode }

// Partial returns the image buffer being decoded (possibly incomplete), or
// nil if no image is in progress.
func (c *Controller) Partial() *imagebuf.Buffer { return c.img }

// SetFSKDecoder enables optional post-image FSK callsign ID decoding: once
// an image ends, whether by a new VIS header or by Flush, the next
// fskListenSeconds of audio fed
// through the ring is decoded once and reported via Callbacks.OnFSKID.
// Passing nil (the default) disables the feature entirely, per §4.11's
// additive, opt-in policy. Callers enabling this should size the ring
// comfortably past fskListenSeconds so the trailing audio hasn't already
// been evicted by the time it's extracted.
func (c *Controller) SetFSKDecoder(d *fsk.Decoder) { c.fskDecoder = d }

// SetForceMode skips VIS detection entirely: the controller latches m on
// the very first sync pulse it observes, of any width, rather than waiting
// for and validating a VIS header. Passing nil (the default) restores
// normal VIS-driven detection. Intended for callers who already know the
// transmitted mode out of band.
func (c *Controller) SetForceMode(m *modes.Mode) { c.forcedMode = m }

// SetAdaptive enables or disables SNR-adaptive pixel window widening on the
// underlying line decoder (see linedecode.Decoder.SetAdaptive).
func (c *Controller) SetAdaptive(enabled bool) { c.lineDecoder.SetAdaptive(enabled) }

func (c *Controller) setState(s State) {
	if s == c.state {
		return
	}
	c.state = s
	if c.cb.OnStateChange != nil {
		c.cb.OnStateChange(s)
	}
}

// Feed processes one chunk of raw audio, arbitrary length. It is the single
// entry point for both streaming (many small chunks) and batch (one large
// chunk) use: Decode-the-whole-buffer callers simply call Feed once with the
// entire buffer and then Flush. Returns false once the controller has been
// cancelled and is ignoring further input.
func (c *Controller) Feed(chunk []float64) bool {
	if c.state == Cancelled {
		return false
	}
	if len(chunk) == 0 {
		return true
	}

	c.ring.Push(chunk)

	if cap(c.freqScratch) < len(chunk) {
		c.freqScratch = make([]float64, len(chunk))
	}
	events := c.demodulator.Process(chunk, c.freqScratch[:len(chunk)], c.eventScratch[:0])
	c.eventScratch = events
	c.recentEvents = append(c.recentEvents, events...)
	if len(c.recentEvents) > 64 {
		c.recentEvents = c.recentEvents[len(c.recentEvents)-64:]
	}

	switch c.state {
	case Searching:
		c.runSearching(events)
	case DecodingVIS:
		c.runDecodingVIS()
	case DecodingImage:
		// A fresh VIS break arriving mid-image means a new transmission has
		// started; ambiguousSyncWidth(c.mode) guards against every ordinary
		// sync pulse of a 9ms-sync family (Scottie, Robot) being mistaken
		// for one, since a VIS break tone is always ~10ms regardless of
		// what mode follows it.
		if c.forcedMode == nil && !c.havePendingBreak && !ambiguousSyncWidth(c.mode) {
			c.checkForVISCandidate(events)
		}
		if c.havePendingBreak {
			c.setState(DecodingVIS)
			c.runDecodingVIS()
			return true
		}
		c.runDecodingImage()
	}

	c.pollFSKID()
	return true
}

// pollFSKID runs the FSK decode attempt once enough trailing audio has
// accumulated in the ring after an image completed. It is checked on every
// Feed independently of the search/VIS/image state machine, since a
// completed image and the search for the next VIS header proceed
// concurrently with FSK ID listening.
func (c *Controller) pollFSKID() {
	if !c.fskListening || c.ring.Newest() < c.fskDeadline {
		return
	}
	c.fskListening = false
	samples := c.ring.Extract(c.fskStart, c.fskDeadline)
	id := c.fskDecoder.Decode(samples)
	if id != "" && c.cb.OnFSKID != nil {
		c.cb.OnFSKID(id)
	}
}

// ambiguousSyncWidth reports whether m's own sync pulses already fall in the
// same ~9ms bucket a VIS break tone does, making a mid-image Width9ms event
// too ambiguous to treat as evidence of a new transmission starting.
func ambiguousSyncWidth(m *modes.Mode) bool {
	return m.SyncPulse >= 7e-3 && m.SyncPulse < 14.5e-3
}

func (c *Controller) checkForVISCandidate(events []demod.SyncEvent) {
	for _, ev := range events {
		if ev.Width != demod.Width9ms {
			continue
		}
		c.pendingBreak = ev.SampleIndex
		c.havePendingBreak = true
		return
	}
}

func (c *Controller) runSearching(events []demod.SyncEvent) {
	if c.forcedMode != nil {
		if len(events) > 0 {
			c.startImage(c.forcedMode, events[0].SampleIndex)
			return
		}
		if c.cb.OnSearching != nil {
			c.cb.OnSearching()
		}
		return
	}

	if c.havePendingBreak {
		c.runDecodingVIS()
		return
	}
	c.checkForVISCandidate(events)
	if c.havePendingBreak {
		c.setState(DecodingVIS)
		c.runDecodingVIS()
		return
	}
	if c.cb.OnSearching != nil {
		c.cb.OnSearching()
	}
}

func (c *Controller) runDecodingVIS() {
	need := int64(c.visDecoder.RequiredSamplesAfterBreak())
	if c.ring.Newest() < c.pendingBreak+need {
		return // not enough lookahead yet; retry on the next Feed
	}

	lookback := int64(math.Round(visLookbackMargin * c.sampleRate))
	lo := c.pendingBreak - lookback
	if lo < c.ring.Oldest() {
		lo = c.ring.Oldest()
	}
	hi := c.pendingBreak + need
	samples := c.ring.Extract(lo, hi)

	result, err := c.visDecoder.Decode(samples, c.pendingBreak-lo)
	c.havePendingBreak = false
	if err != nil {
		if c.cb.OnError != nil {
			c.cb.OnError(err)
		}
		c.setState(Searching)
		return
	}

	c.startImage(result.Mode, c.pendingBreak+c.visDecoder.ImageStartOffset())
}

// startImage begins decoding a newly latched mode, first completing and
// emitting any image still in progress: a fresh VIS header always ends the
// previous transmission, per §4.9's "arrival of a new VIS header" completion
// trigger, rather than silently discarding it in favor of the new one.
func (c *Controller) startImage(m *modes.Mode, syncIndex int64) {
	if c.img != nil {
		c.finishImage()
	}

	c.mode = m
	c.img = imagebuf.New(m)
	c.line = 0
	c.totalLines = m.Height
	c.maxLines = m.Height + imagebuf.SlackLines
	if m.ChannelCount == 4 {
		c.totalLines = m.Height / 2
		c.maxLines = (m.Height + imagebuf.SlackLines) / 2
	}
	c.syncIndex = syncIndex
	c.drift.reset()
	c.arbiter.LatchVIS(m)
	c.arbiter.SetProgress(0, c.totalLines)

	if c.cb.OnModeDetected != nil {
		c.cb.OnModeDetected(m)
	}
	c.setState(DecodingImage)
	c.runDecodingImage()
}

func (c *Controller) runDecodingImage() {
	// Do not auto-complete at mode.height: decoding continues into the
	// slack region until a fresh VIS header (handled by startImage, via
	// advanceSync or Feed's own break check) or an explicit Flush ends
	// the image. Once c.line reaches maxLines (the slack region is
	// exhausted) no further line is decoded, on this or any later call.
	for c.state == DecodingImage && c.line < c.maxLines {
		lineSamples := int64(math.Round(c.mode.LineTime * c.sampleRate))
		margin := int64(math.Round(lineLookaheadMargin * c.sampleRate))
		hi := c.syncIndex + lineSamples + margin
		if c.ring.Newest() < hi {
			return // wait for more samples
		}

		lo := c.syncIndex - lineSamples
		if lo < c.ring.Oldest() {
			lo = c.ring.Oldest()
		}
		samples := c.ring.Extract(lo, hi)
		localSync := c.syncIndex - lo

		channels := c.lineDecoder.DecodeLine(samples, localSync, c.line, c.mode)
		if c.mode.ChannelCount == 4 {
			c.img.StorePDPair(c.line, channels)
		} else {
			c.img.StoreLine(c.line, channels)
		}
		if c.cb.OnLine != nil {
			c.cb.OnLine(c.line)
		}
		c.arbiter.SetProgress(c.img.LinesDecoded(), c.totalLines)

		c.advanceSync(lineSamples)
		c.line++
	}
}

// advanceSync predicts the next line's sync index, correcting against an
// actually-observed sync pulse near the prediction when one is available
// and updating the drift EMA from it; with no pulse near the prediction,
// the current EMA offsets the prediction unchanged. The matched pulse is also fed to
// the arbiter for its own timing confirmation; genuine mid-stream mode
// switches are detected separately in Feed by watching for a fresh VIS
// break, since Observe intentionally refuses to relatch away from an
// already-latched mode on timing alone.
func (c *Controller) advanceSync(lineSamples int64) {
	predicted := c.syncIndex + lineSamples
	tolerance := int64(math.Round(syncMatchToleranceSec * c.sampleRate))

	var matched *demod.SyncEvent
	for i := range c.recentEvents {
		ev := &c.recentEvents[i]
		delta := ev.SampleIndex - predicted
		if delta < 0 {
			delta = -delta
		}
		if delta <= tolerance {
			matched = ev
			break
		}
	}

	if matched == nil {
		c.syncIndex = predicted + int64(math.Round(c.drift.ema))
		return
	}

	c.drift.update(float64(matched.SampleIndex - predicted))
	c.syncIndex = matched.SampleIndex

	if newMode, changed := c.arbiter.Observe(*matched); changed && newMode.ID != c.mode.ID {
		c.startImage(newMode, c.syncIndex)
	}
}

func (c *Controller) finishImage() {
	applySlantCorrection(c.img, c.drift.ema, c.mode.LineTime*c.sampleRate)
	if c.cb.OnImageComplete != nil {
		c.cb.OnImageComplete(c.img)
	}
	c.armFSKListening()
	c.mode = nil
	c.img = nil
	c.line = 0
	c.totalLines = 0
	c.maxLines = 0
	c.drift.reset()
	c.setState(Searching)
}

// armFSKListening starts the post-image FSK callsign listening window, per
// §4.11, off the sync index an image ended at, regardless of whether that
// end came from finishImage's own completion or an explicit Flush.
func (c *Controller) armFSKListening() {
	if c.fskDecoder == nil {
		return
	}
	c.fskListening = true
	c.fskStart = c.syncIndex
	c.fskDeadline = c.syncIndex + int64(math.Round(fskListenSeconds*c.sampleRate))
}

// applySlantCorrection undoes a consistent per-line sample-count drift by
// shifting each decoded line horizontally: pixelsPerLine expresses the
// drift as a fraction of one line's width, accumulated linearly over the
// lines already decoded, with wrap-around at the row edges. Drift under
// one tenth of a pixel per line is treated as noise and left uncorrected.
func applySlantCorrection(img *imagebuf.Buffer, driftSamplesPerLine, nominalSamplesPerLine float64) {
	if img == nil || nominalSamplesPerLine == 0 {
		return
	}
	m := img.Mode()
	pixelsPerLine := driftSamplesPerLine / nominalSamplesPerLine * float64(m.Width)
	if math.Abs(pixelsPerLine) < 0.1 {
		return
	}
	rows := img.LinesDecoded()
	for y := 0; y < rows; y++ {
		shift := int(math.Round(float64(y) * pixelsPerLine))
		img.ShiftLine(y, shift)
	}
}

// Flush finalizes any image still in progress at end of stream, returning it
// (possibly partial) if one was being decoded. Per §4.9, flush decodes
// remaining lines up to buffer exhaustion, accepting a final partial line
// whose available sample count is at least half a nominal line's, rather
// than only returning whatever runDecodingImage's full-line-plus-margin gate
// already committed to the buffer.
func (c *Controller) Flush() (*imagebuf.Buffer, bool) {
	if c.state != DecodingImage || c.img == nil {
		return nil, false
	}

	lineSamples := int64(math.Round(c.mode.LineTime * c.sampleRate))
	if available := c.ring.Newest() - c.syncIndex; available >= lineSamples/2 {
		lo := c.syncIndex - lineSamples
		if lo < c.ring.Oldest() {
			lo = c.ring.Oldest()
		}
		hi := c.ring.Newest()
		samples := c.ring.Extract(lo, hi)
		localSync := c.syncIndex - lo

		channels := c.lineDecoder.DecodeLine(samples, localSync, c.line, c.mode)
		if c.mode.ChannelCount == 4 {
			c.img.StorePDPair(c.line, channels)
		} else {
			c.img.StoreLine(c.line, channels)
		}
		if c.cb.OnLine != nil {
			c.cb.OnLine(c.line)
		}
	}

	img := c.img
	applySlantCorrection(img, c.drift.ema, c.mode.LineTime*c.sampleRate)
	c.armFSKListening()
	c.mode = nil
	c.img = nil
	c.line = 0
	c.totalLines = 0
	c.maxLines = 0
	c.setState(Searching)
	return img, true
}

// Cancel stops processing; Feed becomes a no-op until Reset.
func (c *Controller) Cancel() {
	c.setState(Cancelled)
}

// Reset clears all decode state, ring history, and sync arbitration,
// returning the controller to Searching.
func (c *Controller) Reset() {
	c.havePendingBreak = false
	c.mode = nil
	c.img = nil
	c.line = 0
	c.totalLines = 0
	c.maxLines = 0
	c.drift.reset()
	c.recentEvents = nil
	c.fskListening = false
	c.arbiter.Reset()
	c.ring = NewRingBuffer(int(c.ring.cap))
	c.demodulator = demod.New(c.sampleRate)
	c.state = Searching
	if c.cb.OnReset != nil {
		c.cb.OnReset()
	}
}
