// Package linedecode extracts one scan line's per-channel pixel values
// from raw audio, given a sync edge and a mode's timing functions.
// Grounded on audio_extensions/sstv/video_common.go and video_demod.go's
// per-pixel FFT window extraction, generalized here to the channelOffset/
// scanTime closures in package modes instead of a per-format switch.
package linedecode

import (
	"math"

	"github.com/n0call/sstvcore/dsp/peakfind"
	"github.com/n0call/sstvcore/modes"
)

// Decoder extracts per-channel pixel rows from raw audio using a shared
// FFT peak finder.
type Decoder struct {
	sampleRate float64
	finder     *peakfind.Finder
	adaptive   bool
}

// New builds a line decoder over raw audio sampled at sampleRate.
func New(sampleRate float64, finder *peakfind.Finder) *Decoder {
	return &Decoder{sampleRate: sampleRate, finder: finder}
}

// SetAdaptive enables or disables SNR-adaptive window widening (disabled by
// default): once enabled, each channel's pixel window is widened as the
// estimated signal-to-noise ratio degrades, trading frequency resolution
// for noise rejection instead of always using the mode's static
// WindowFactor.
func (d *Decoder) SetAdaptive(enabled bool) { d.adaptive = enabled }

const snrAnalysisWindow = 1024

// estimateSNR compares power in the 1500-2300 Hz video band against power
// in the 400-800 Hz and 2700-3400 Hz noise-only bands around centerIdx,
// returning an estimate in dB floored at -20. Grounded on
// audio_extensions/sstv/video_demod.go's estimateSNR; this pipeline works
// on raw, un-shifted audio, so there is no headerShift term to add to the
// band edges.
func (d *Decoder) estimateSNR(samples []float64, centerIdx int64) float64 {
	videoLo, videoHi := d.finder.Bin(1500), d.finder.Bin(2300)
	noiseLo1, noiseHi1 := d.finder.Bin(400), d.finder.Bin(800)
	noiseLo2, noiseHi2 := d.finder.Bin(2700), d.finder.Bin(3400)

	pVideo := d.finder.BandPower(samples, int(centerIdx), snrAnalysisWindow, videoLo, videoHi)
	pNoiseOnly := d.finder.BandPower(samples, int(centerIdx), snrAnalysisWindow, noiseLo1, noiseHi1) +
		d.finder.BandPower(samples, int(centerIdx), snrAnalysisWindow, noiseLo2, noiseHi2)

	videoBins := float64(videoHi - videoLo + 1)
	noiseBins := float64((noiseHi1 - noiseLo1 + 1) + (noiseHi2 - noiseLo2 + 1))
	receiverBins := float64(d.finder.Bin(3400) - d.finder.Bin(400))

	pNoise := pNoiseOnly * receiverBins / noiseBins
	pSignal := pVideo - pNoiseOnly*videoBins/noiseBins

	ratio := pSignal / pNoise
	if ratio < 0.01 {
		return -20
	}
	return 10 * math.Log10(ratio)
}

// adaptiveWindowLen widens nominal in the same four-tier shape as the
// teacher's selectWindowIndex ladder (20/10/9 dB thresholds), scaled
// relative to the mode's own nominal pixel window instead of the teacher's
// fixed absolute sample counts, since those were sized for one specific
// sample rate and analysis window.
func adaptiveWindowLen(nominal int, snrDB float64) int {
	switch {
	case snrDB >= 20:
		return nominal
	case snrDB >= 10:
		return nominal * 4 / 3
	case snrDB >= 9:
		return nominal * 2
	default:
		return nominal * 8 / 3
	}
}

// DecodeLine extracts m.Width pixels for every logical channel of line
// index line, given the sample index of that line's reference sync edge.
// Pixels whose window falls entirely outside samples are left at zero;
// a window only partially outside samples is still decoded, with the
// missing part zero-padded by Peak.
func (d *Decoder) DecodeLine(samples []float64, syncIndex int64, line int, m *modes.Mode) [][]uint8 {
	channels := make([][]uint8, m.ChannelCount)
	for c := 0; c < m.ChannelCount; c++ {
		channels[c] = d.decodeChannel(samples, syncIndex, line, c, m)
	}
	return channels
}

func (d *Decoder) decodeChannel(samples []float64, syncIndex int64, line, c int, m *modes.Mode) []uint8 {
	width := m.Width
	row := make([]uint8, width)

	scanTime := m.ScanTime(line, c)
	if scanTime <= 0 {
		return row
	}
	pixelTime := scanTime / float64(width)
	channelStart := syncIndex + int64(math.Floor(m.ChannelOffset(line, c)*d.sampleRate))

	halfWindow := pixelTime * m.WindowFactor / 2
	windowLen := int(math.Round(2 * halfWindow * d.sampleRate))
	if windowLen < 1 {
		windowLen = 1
	}
	if d.adaptive {
		snr := d.estimateSNR(samples, channelStart)
		windowLen = adaptiveWindowLen(windowLen, snr)
	}

	loBin := d.finder.Bin(1500)
	hiBin := d.finder.Bin(2300)

	for p := 0; p < width; p++ {
		center := channelStart + int64(math.Round(float64(p)*pixelTime*d.sampleRate))
		lo := center - int64(windowLen)/2
		hi := lo + int64(windowLen)
		if hi <= 0 || lo >= int64(len(samples)) {
			continue // window entirely outside the buffer; leave pixel at zero
		}
		// Peak zero-pads any portion of the window outside samples, so a
		// window only partially outside the buffer still decodes.
		freq := d.finder.Peak(samples, int(center), windowLen, loBin, hiBin)
		row[p] = peakfind.PixelValue(freq)
	}
	return row
}
