// Package sstvcore is the public façade over the SSTV codec engine: build
// a Config, construct an Engine, and either stream chunks through it with
// Feed/Flush or hand it one complete sample buffer via Decode. Grounded on
// the teacher's decoder.go (SSTVDecoder orchestrating VIS detection, video
// demodulation, sync correction, and optional FSK ID behind one struct)
// and extension.go (SSTVConfig's toggles, reused here as Config).
package sstvcore

import (
	"log"

	"github.com/google/uuid"

	"github.com/n0call/sstvcore/dsp/peakfind"
	"github.com/n0call/sstvcore/fsk"
	"github.com/n0call/sstvcore/imagebuf"
	"github.com/n0call/sstvcore/modes"
	"github.com/n0call/sstvcore/stream"
)

// DecodedImage is the caller-facing result of a completed decode: the
// RGB-converted pixels plus the metadata the teacher's sendModeDetected/
// sendImageStart/sendComplete messages carried separately.
type DecodedImage struct {
	ModeName     string
	Width        int
	Height       int
	RGB          []uint8
	LinesDecoded int
	FSKCallsign  string
}

func newDecodedImage(img *imagebuf.Buffer, callsign string) *DecodedImage {
	m := img.Mode()
	return &DecodedImage{
		ModeName:     m.Name,
		Width:        m.Width,
		Height:       m.Height,
		RGB:          img.ToRGB(),
		LinesDecoded: img.LinesDecoded(),
		FSKCallsign:  callsign,
	}
}

// Events are the caller-facing hooks forwarded from stream.Callbacks once
// Engine has attached its own logging and metrics. Any subset may be left
// nil; OnImageComplete here carries a DecodedImage rather than the raw
// imagebuf.Buffer the streaming layer uses internally.
type Events struct {
	OnSearching     func()
	OnModeDetected  func(m *modes.Mode)
	OnLine          func(line int)
	OnImageComplete func(img *DecodedImage)
	OnReset         func()
	OnStateChange   func(s stream.State)
	OnError         func(err error)
	OnFSKID         func(id string)
}

// Engine is one decode session: a session-tagged wrapper around
// stream.Controller (plus an optional fsk.Decoder) that adds logging,
// metrics, and the batch Decode entry point on top of the streaming
// Feed/Flush primitives. Matches the teacher's SSTVDecoder as the single
// orchestration point a caller talks to, generalized from one singleton
// decoder per server process to one Engine per session so many can run
// concurrently, each with its own session ID in its log lines per §5.
type Engine struct {
	sessionID string
	logger    *log.Logger
	metrics   *Metrics
	events    Events

	controller *stream.Controller

	pendingImg      *imagebuf.Buffer
	pendingCallsign string
	pendingErr      error
}

// New builds an Engine from cfg. logger defaults to log.Default() if nil;
// metrics is optional (nil disables metrics recording entirely); events is
// optional (zero value subscribes to nothing).
func New(cfg Config, logger *log.Logger, metrics *Metrics, events Events) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}

	e := &Engine{
		sessionID: uuid.New().String(),
		logger:    logger,
		metrics:   metrics,
		events:    events,
	}

	finder := peakfind.New(cfg.SampleRate, cfg.FFTSize)
	e.controller = stream.New(cfg.SampleRate, cfg.RingBufferSeconds, finder, e.callbacks())
	e.controller.SetAdaptive(cfg.Adaptive)
	if cfg.DecodeFSKID {
		e.controller.SetFSKDecoder(fsk.New(cfg.SampleRate, peakfind.New(cfg.SampleRate, cfg.FFTSize)))
	}
	if cfg.ForceModeVIS != 0 {
		// Already validated above: modes.GetByVIS(cfg.ForceModeVIS) is non-nil.
		e.controller.SetForceMode(modes.GetByVIS(cfg.ForceModeVIS))
	}

	return e, nil
}

// callbacks builds the stream.Callbacks set installed on the underlying
// Controller: every slot logs and records metrics first, tracks the
// engine's own pending-completion state, then forwards to e.events if the
// caller registered a hook for it.
func (e *Engine) callbacks() stream.Callbacks {
	return stream.Callbacks{
		OnSearching: func() {
			if e.events.OnSearching != nil {
				e.events.OnSearching()
			}
		},
		OnModeDetected: func(m *modes.Mode) {
			e.logger.Printf("[SSTV %s] mode detected: %s", e.sessionID, m.Name)
			e.metrics.recordModeDetected(m.Name, "vis")
			if e.events.OnModeDetected != nil {
				e.events.OnModeDetected(m)
			}
		},
		OnLine: func(line int) {
			e.metrics.recordLine()
			if e.events.OnLine != nil {
				e.events.OnLine(line)
			}
		},
		OnImageComplete: func(img *imagebuf.Buffer) {
			e.logger.Printf("[SSTV %s] image complete: %s (%d lines)", e.sessionID, img.Mode().Name, img.LinesDecoded())
			e.metrics.recordImageCompleted(img.Mode().Name)
			e.pendingImg = img
			if e.events.OnImageComplete != nil {
				e.events.OnImageComplete(newDecodedImage(img, e.pendingCallsign))
			}
		},
		OnReset: func() {
			e.pendingImg = nil
			e.pendingCallsign = ""
			e.pendingErr = nil
			if e.events.OnReset != nil {
				e.events.OnReset()
			}
		},
		OnStateChange: func(s stream.State) {
			if e.events.OnStateChange != nil {
				e.events.OnStateChange(s)
			}
		},
		OnError: func(err error) {
			e.logger.Printf("[SSTV %s] error: %v", e.sessionID, err)
			e.metrics.recordVISRejected()
			e.pendingErr = err
			if e.events.OnError != nil {
				e.events.OnError(err)
			}
		},
		OnFSKID: func(id string) {
			e.logger.Printf("[SSTV %s] FSK ID: %s", e.sessionID, id)
			e.metrics.recordFSKID()
			e.pendingCallsign = id
			if e.events.OnFSKID != nil {
				e.events.OnFSKID(id)
			}
		},
	}
}

// SessionID returns the uuid.New() identity this engine was tagged with at
// construction, also present in every one of its log lines.
func (e *Engine) SessionID() string { return e.sessionID }

// Feed streams one chunk of raw audio through the engine. Returns false
// once the engine has been cancelled.
func (e *Engine) Feed(chunk []float64) bool { return e.controller.Feed(chunk) }

// Flush finalizes any image still in progress at end of stream.
func (e *Engine) Flush() (*DecodedImage, bool) {
	img, ok := e.controller.Flush()
	if !ok {
		return nil, false
	}
	result := newDecodedImage(img, e.pendingCallsign)
	e.pendingCallsign = ""
	return result, true
}

// Cancel stops processing; Feed becomes a no-op until Reset.
func (e *Engine) Cancel() { e.controller.Cancel() }

// Reset clears all decode state, returning the engine to searching.
func (e *Engine) Reset() { e.controller.Reset() }

// State returns the engine's current phase.
func (e *Engine) State() stream.State { return e.controller.State() }

// Partial returns the image buffer being decoded (possibly incomplete), or
// nil if no image is in progress.
func (e *Engine) Partial() *imagebuf.Buffer { return e.controller.Partial() }

// Decode runs a complete batch decode over samples: feeds the entire
// buffer through the streaming pipeline in 65536-sample chunks, then
// flushes if no image completed during the feed,
// matching the "unbounded engine fed once with the full sample vector
// followed by flush" factoring (see stream/controller.go's package doc)
// rather than a second stream.Batch type, since Controller's Feed/Flush
// pair already implements exactly that shape. Returns (nil, nil) when no
// image completed — a VIS-rejected candidate or total silence is a
// recoverable result, never an error, here.
func (e *Engine) Decode(samples []float64) (*DecodedImage, error) {
	if len(samples) == 0 {
		return nil, newError(KindInvalidInput, "samples is empty", nil)
	}

	e.pendingImg = nil
	e.pendingCallsign = ""
	e.pendingErr = nil

	const chunkSize = 65536
	for i := 0; i < len(samples); i += chunkSize {
		end := i + chunkSize
		if end > len(samples) {
			end = len(samples)
		}
		e.controller.Feed(samples[i:end])
	}

	if e.pendingImg == nil {
		if flushed, ok := e.controller.Flush(); ok {
			e.pendingImg = flushed
		}
	}
	if e.pendingImg == nil {
		return nil, nil
	}

	result := newDecodedImage(e.pendingImg, e.pendingCallsign)
	e.pendingImg = nil
	return result, nil
}
