// Package encode synthesizes an SSTV audio signal for a given mode from an
// RGB image, the reverse of the demod/vis/linedecode decode pipeline. No
// teacher file plays this role directly (the teacher is decode-only);
// grounded on modes' channel timing run in reverse and on the teacher's
// vis.go bit layout for the VIS header.
package encode

import (
	"errors"
	"math"

	"github.com/n0call/sstvcore/modes"
)

// ErrImageSize means the supplied RGB buffer doesn't match width*height*3.
var ErrImageSize = errors.New("encode: rgb buffer length does not match width*height*3")

const (
	voxToneHz      = 1900.0
	voxToneDur     = 100e-3
	voxGapDur      = 100e-3
	leaderHz       = 1900.0
	leaderDur      = 300e-3
	breakHz        = 1200.0
	breakDur       = 10e-3
	calPorchDur    = 30e-3
	startSyncHz    = 1200.0
	startSyncDur   = 9e-3
	visBitDur      = 30e-3
	visStartStopHz = 1200.0
	visOneHz       = 1100.0
	visZeroHz      = 1300.0
	syncToneHz     = 1200.0
	porchToneHz    = 1500.0
)

// Encoder synthesizes audio for one mode at a fixed sample rate.
type Encoder struct {
	mode                 *modes.Mode
	sampleRate           float64
	addCalibrationHeader bool
	addVoxTones          bool
}

// New builds an Encoder for mode m, with the calibration header and VOX
// tone preamble each independently optional (§4.10 steps 1-2).
func New(m *modes.Mode, sampleRate float64, addCalibrationHeader, addVoxTones bool) *Encoder {
	return &Encoder{mode: m, sampleRate: sampleRate, addCalibrationHeader: addCalibrationHeader, addVoxTones: addVoxTones}
}

// Encode synthesizes a complete transmission for the given interleaved RGB
// image, resizing to the mode's canonical dimensions via nearest-neighbor
// if the supplied size doesn't already match.
func (e *Encoder) Encode(rgb []uint8, width, height int) ([]float64, error) {
	if len(rgb) != width*height*3 {
		return nil, ErrImageSize
	}
	img := resizeNearest(rgb, width, height, e.mode.Width, e.mode.Height)

	var phase float64
	var out []float64

	if e.addVoxTones {
		out = e.appendTone(out, &phase, voxToneHz, voxToneDur)
		out = e.appendSilence(out, &phase, voxGapDur)
		out = e.appendTone(out, &phase, voxToneHz, voxToneDur)
		out = e.appendSilence(out, &phase, voxGapDur)
	}
	if e.addCalibrationHeader {
		out = e.appendTone(out, &phase, leaderHz, leaderDur)
		out = e.appendTone(out, &phase, breakHz, breakDur)
		out = e.appendTone(out, &phase, leaderHz, leaderDur)
		out = e.appendTone(out, &phase, breakHz, calPorchDur)
	}

	out = e.appendLeaderAndBreak(out, &phase)
	out = e.appendVISCode(out, &phase, e.mode.ID)
	if e.mode.HasStartSync {
		out = e.appendTone(out, &phase, startSyncHz, startSyncDur)
	}

	totalLines := e.mode.Height
	if e.mode.ChannelCount == 4 {
		totalLines = e.mode.Height / 2
	}
	for line := 0; line < totalLines; line++ {
		out = e.appendLine(out, &phase, img, line)
	}
	return out, nil
}

// appendLeaderAndBreak emits the VIS header's own leader/break/leader,
// independent of the optional calibration header above (§4.10 step 3 is
// always preceded by this pair per the wire format in §6).
func (e *Encoder) appendLeaderAndBreak(dst []float64, phase *float64) []float64 {
	dst = e.appendTone(dst, phase, leaderHz, leaderDur)
	dst = e.appendTone(dst, phase, breakHz, breakDur)
	dst = e.appendTone(dst, phase, leaderHz, leaderDur)
	return dst
}

// appendVISCode emits 7 data bits LSB-first with an even-parity bit and
// 1200 Hz start/stop delimiters, mirroring vis.Decoder's bit layout.
func (e *Encoder) appendVISCode(dst []float64, phase *float64, code uint8) []float64 {
	dst = e.appendTone(dst, phase, visStartStopHz, visBitDur)
	parity := 0
	for i := 0; i < 7; i++ {
		bit := int((code >> uint(i)) & 1)
		parity ^= bit
		dst = e.appendTone(dst, phase, bitFreq(bit), visBitDur)
	}
	dst = e.appendTone(dst, phase, bitFreq(parity), visBitDur)
	dst = e.appendTone(dst, phase, visStartStopHz, visBitDur)
	return dst
}

func bitFreq(bit int) float64 {
	if bit == 1 {
		return visOneHz
	}
	return visZeroHz
}

// appendLine emits one transmitted line (or, for PD's four-channel
// layout, one line pair): sync+porch immediately before transmission
// position SyncChannel, then every channel's pixel tones and trailing
// separator in ChannelOrder, exactly mirroring the channelOffset/scanTime
// layout modes.Mode's closures describe for decode.
func (e *Encoder) appendLine(dst []float64, phase *float64, img []uint8, line int) []float64 {
	m := e.mode
	width := m.Width
	for pos, c := range m.ChannelOrder {
		if pos == m.SyncChannel {
			dst = e.appendTone(dst, phase, syncToneHz, m.SyncPulse)
			if m.SyncPorch > 0 {
				dst = e.appendTone(dst, phase, porchToneHz, m.SyncPorch)
			}
		}
		row := e.channelRow(img, line, c)
		pixelTime := m.ScanTimes[c] / float64(width)
		for x := 0; x < width; x++ {
			dst = e.appendTone(dst, phase, pixelFreq(row[x]), pixelTime)
		}
		if sep := m.SeparatorPulses[c]; sep > 0 {
			dst = e.appendTone(dst, phase, porchToneHz, sep)
		}
	}
	return dst
}

// channelRow computes one logical channel's pixel row for the transmitted
// line (or pair, for PD), converting color space at the encoder input per
// §4.10: RGB passes through, GBR reorders planes, Grayscale uses luminance
// only, and YCrCb derives V = R-Y and U = B-Y (offset +128) in BT.601
// full-range, averaging chroma across both lines of a PD pair before
// encoding.
func (e *Encoder) channelRow(img []uint8, line, c int) []uint8 {
	m := e.mode
	width := m.Width
	row := make([]uint8, width)

	switch m.ColorFormat {
	case modes.RGB:
		for x := 0; x < width; x++ {
			r, g, b := pixelAt(img, width, line, x)
			switch c {
			case 0:
				row[x] = r
			case 1:
				row[x] = g
			case 2:
				row[x] = b
			}
		}
	case modes.GBR:
		for x := 0; x < width; x++ {
			r, g, b := pixelAt(img, width, line, x)
			switch c {
			case 0:
				row[x] = g
			case 1:
				row[x] = b
			case 2:
				row[x] = r
			}
		}
	case modes.Grayscale:
		for x := 0; x < width; x++ {
			r, g, b := pixelAt(img, width, line, x)
			row[x] = luma(r, g, b)
		}
	case modes.YCrCb:
		e.fillYCrCbRow(row, img, line, c)
	}
	return row
}

func (e *Encoder) fillYCrCbRow(row []uint8, img []uint8, line, c int) {
	m := e.mode
	width := m.Width

	switch m.ChannelCount {
	case 2:
		// 4:2:0: channel 0 is Y every line; channel 1 alternates V on even
		// lines, U on odd lines, each taken from this line's own pixels.
		for x := 0; x < width; x++ {
			r, g, b := pixelAt(img, width, line, x)
			y := luma(r, g, b)
			if c == 0 {
				row[x] = y
				continue
			}
			if line%2 == 0 {
				row[x] = chromaV(r, y)
			} else {
				row[x] = chromaU(b, y)
			}
		}
	case 4:
		// PD: line is the pair index; channel 0 = Y of the even image
		// line, channel 3 = Y of the odd, channels 1/2 = V/U averaged
		// across both lines of the pair.
		evenLine, oddLine := line*2, line*2+1
		switch c {
		case 0:
			for x := 0; x < width; x++ {
				r, g, b := pixelAt(img, width, evenLine, x)
				row[x] = luma(r, g, b)
			}
		case 3:
			for x := 0; x < width; x++ {
				r, g, b := pixelAt(img, width, oddLine, x)
				row[x] = luma(r, g, b)
			}
		case 1, 2:
			for x := 0; x < width; x++ {
				evenR, evenG, evenB := pixelAt(img, width, evenLine, x)
				oddR, oddG, oddB := pixelAt(img, width, oddLine, x)
				evenY := luma(evenR, evenG, evenB)
				oddY := luma(oddR, oddG, oddB)
				if c == 1 {
					row[x] = clamp8((float64(chromaV(evenR, evenY)) + float64(chromaV(oddR, oddY))) / 2)
				} else {
					row[x] = clamp8((float64(chromaU(evenB, evenY)) + float64(chromaU(oddB, oddY))) / 2)
				}
			}
		}
	default:
		// 4:2:2/4:4:4: Y, V, U each present in full on every line.
		for x := 0; x < width; x++ {
			r, g, b := pixelAt(img, width, line, x)
			y := luma(r, g, b)
			switch c {
			case 0:
				row[x] = y
			case 1:
				row[x] = chromaV(r, y)
			case 2:
				row[x] = chromaU(b, y)
			}
		}
	}
}

func pixelAt(img []uint8, width, line, x int) (r, g, b uint8) {
	i := (line*width + x) * 3
	return img[i], img[i+1], img[i+2]
}

func luma(r, g, b uint8) uint8 {
	return clamp8(0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b))
}

func chromaV(r, y uint8) uint8 { return clamp8(float64(r) - float64(y) + 128) }
func chromaU(b, y uint8) uint8 { return clamp8(float64(b) - float64(y) + 128) }

func clamp8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// pixelFreq maps an 8-bit sample to its video-band tone (§6).
func pixelFreq(v uint8) float64 {
	return 1500.0 + float64(v)/255.0*800.0
}

// appendTone writes duration seconds of a sine at freq, carrying phase
// across calls (mod 2π, to avoid unbounded growth) so consecutive tones
// never click at their boundary.
func (e *Encoder) appendTone(dst []float64, phase *float64, freq, duration float64) []float64 {
	n := int(math.Round(duration * e.sampleRate))
	step := 2 * math.Pi * freq / e.sampleRate
	for i := 0; i < n; i++ {
		dst = append(dst, math.Sin(*phase))
		*phase += step
	}
	*phase = math.Mod(*phase, 2*math.Pi)
	return dst
}

func (e *Encoder) appendSilence(dst []float64, phase *float64, duration float64) []float64 {
	n := int(math.Round(duration * e.sampleRate))
	for i := 0; i < n; i++ {
		dst = append(dst, 0)
	}
	return dst
}

// resizeNearest resizes an interleaved RGB buffer from srcW x srcH to
// dstW x dstH via nearest-neighbor sampling (§4.10, "image resized to
// mode's canonical dimensions via nearest-neighbor if necessary").
func resizeNearest(src []uint8, srcW, srcH, dstW, dstH int) []uint8 {
	if srcW == dstW && srcH == dstH {
		out := make([]uint8, len(src))
		copy(out, src)
		return out
	}
	out := make([]uint8, dstW*dstH*3)
	for y := 0; y < dstH; y++ {
		sy := y * srcH / dstH
		if sy >= srcH {
			sy = srcH - 1
		}
		for x := 0; x < dstW; x++ {
			sx := x * srcW / dstW
			if sx >= srcW {
				sx = srcW - 1
			}
			si := (sy*srcW + sx) * 3
			di := (y*dstW + x) * 3
			out[di], out[di+1], out[di+2] = src[si], src[si+1], src[si+2]
		}
	}
	return out
}
