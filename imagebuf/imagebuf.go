// Package imagebuf accumulates decoded scan lines into planar channel
// storage and converts them to RGB, including the line-parity chroma
// interpolation 4:2:0 modes need. Grounded on
// audio_extensions/sstv/video_common.go's pixel grid and its YCrCb-to-RGB
// conversion.
package imagebuf

import (
	"image"

	"github.com/n0call/sstvcore/modes"
)

// SlackLines is the number of extra rows allocated past a mode's nominal
// height, absorbing an over-length transmission that keeps sending lines
// past mode.height. Completion never happens automatically at mode.height;
// decoding continues into this slack region until a fresh VIS header or an
// explicit Flush ends the image.
const SlackLines = 128

// Buffer holds one image's planar channel data as it is decoded line by
// line, plus the RGB conversion logic for the mode's color format.
type Buffer struct {
	mode *modes.Mode

	// planes[c] is an allocatedHeight*Width row-major plane for logical
	// channel c, allocatedHeight = mode.Height + SlackLines.
	planes          [][]uint8
	allocatedHeight int

	linesDecoded int
}

// New allocates a Buffer for the given mode with all planes zeroed,
// including the trailing slack region.
func New(m *modes.Mode) *Buffer {
	b := &Buffer{}
	b.allocate(m)
	return b
}

func (b *Buffer) allocate(m *modes.Mode) {
	b.mode = m
	b.allocatedHeight = m.Height + SlackLines
	b.planes = make([][]uint8, m.ChannelCount)
	for c := range b.planes {
		b.planes[c] = make([]uint8, m.Width*b.allocatedHeight)
	}
	b.linesDecoded = 0
}

// Mode returns the mode this buffer was allocated for.
func (b *Buffer) Mode() *modes.Mode { return b.mode }

// LinesDecoded returns how many lines have been written via advanceLine,
// possibly exceeding mode.Height once decoding has run into the slack
// region.
func (b *Buffer) LinesDecoded() int { return b.linesDecoded }

func (b *Buffer) setPixel(c, line, x int, v uint8) {
	if line < 0 || line >= b.allocatedHeight || x < 0 || x >= b.mode.Width {
		return
	}
	b.planes[c][line*b.mode.Width+x] = v
}

func (b *Buffer) getPixel(c, line, x int) uint8 {
	if line < 0 || line >= b.allocatedHeight || x < 0 || x >= b.mode.Width {
		return 0
	}
	return b.planes[c][line*b.mode.Width+x]
}

// StoreLine writes one line's decoded per-channel rows (as returned by
// linedecode.Decoder.DecodeLine) into the buffer at the given line index,
// then advances linesDecoded. Like StorePDPair, it changes line-progress
// state only through advanceLine.
func (b *Buffer) StoreLine(line int, channels [][]uint8) {
	for c, row := range channels {
		for x, v := range row {
			b.setPixel(c, line, x, v)
		}
	}
	b.advanceLine(line)
}

func (b *Buffer) advanceLine(line int) {
	if line+1 > b.linesDecoded {
		b.linesDecoded = line + 1
	}
}

// StorePDPair writes one PD-family line pair's four logical channels
// (Y-even, V, U, Y-odd) into the two image lines the pair covers: Y-even
// goes to line pairIndex*2, Y-odd to pairIndex*2+1, and the shared V/U
// chroma is duplicated into both, so convertLineToRGB can read every image
// line uniformly regardless of which half of the pair it belongs to.
func (b *Buffer) StorePDPair(pairIndex int, channels [][]uint8) {
	evenLine := pairIndex * 2
	oddLine := evenLine + 1

	for x, v := range channels[0] {
		b.setPixel(0, evenLine, x, v)
	}
	for x, v := range channels[3] {
		b.setPixel(3, oddLine, x, v)
	}
	for x := range channels[1] {
		b.setPixel(1, evenLine, x, channels[1][x])
		b.setPixel(1, oddLine, x, channels[1][x])
		b.setPixel(2, evenLine, x, channels[2][x])
		b.setPixel(2, oddLine, x, channels[2][x])
	}
	b.advanceLine(oddLine)
}

// convertLineToRGB converts one line to interleaved RGB, applying the
// mode's color format and, for 4:2:0 YCrCb modes, line-parity chroma
// interpolation: even lines carry V and odd lines carry U, and the other
// component is borrowed through borrowChroma from the line above, or from
// the line below when there is no line above; only when neither neighbor
// exists does the borrowed channel default to 128 (no color shift).
func (b *Buffer) convertLineToRGB(line int, out []uint8) {
	width := b.mode.Width
	switch b.mode.ColorFormat {
	case modes.RGB:
		for x := 0; x < width; x++ {
			out[x*3+0] = b.getPixel(0, line, x)
			out[x*3+1] = b.getPixel(1, line, x)
			out[x*3+2] = b.getPixel(2, line, x)
		}
	case modes.GBR:
		for x := 0; x < width; x++ {
			out[x*3+0] = b.getPixel(2, line, x) // R
			out[x*3+1] = b.getPixel(0, line, x) // G
			out[x*3+2] = b.getPixel(1, line, x) // B
		}
	case modes.Grayscale:
		for x := 0; x < width; x++ {
			y := b.getPixel(0, line, x)
			out[x*3+0] = y
			out[x*3+1] = y
			out[x*3+2] = y
		}
	case modes.YCrCb:
		b.convertYCrCbLine(line, out)
	}
}

func (b *Buffer) convertYCrCbLine(line int, out []uint8) {
	width := b.mode.Width
	switch b.mode.ChannelCount {
	case 2:
		// 2-channel: channel 0 is Y, channel 1 alternates V (even lines)
		// / U (odd lines) by line parity.
		for x := 0; x < width; x++ {
			y := b.getPixel(0, line, x)
			var u, v uint8
			if line%2 == 0 {
				v = b.getPixel(1, line, x)
				u = b.borrowChroma(1, line-1, line+1, x)
			} else {
				u = b.getPixel(1, line, x)
				v = b.borrowChroma(1, line-1, line+1, x)
			}
			out[x*3+0], out[x*3+1], out[x*3+2] = ycrcbToRGB(y, u, v)
		}
	case 4:
		// PD family: channel 0 = Y-even, channel 3 = Y-odd, channels
		// 1/2 = V/U shared by both lines of the pair. Callers pass the
		// image line index directly: StorePDPair stores the even Y in
		// channel 0 at the even line and the odd Y in channel 3 at the odd
		// line, and duplicates V/U into both lines.
		yChannel := 0
		if line%2 == 1 {
			yChannel = 3
		}
		for x := 0; x < width; x++ {
			y := b.getPixel(yChannel, line, x)
			v := b.getPixel(1, line, x)
			u := b.getPixel(2, line, x)
			out[x*3+0], out[x*3+1], out[x*3+2] = ycrcbToRGB(y, u, v)
		}
	default:
		// 3-channel: plane 0 = Y, plane 1 = V, plane 2 = U, all present
		// every line (Robot 72).
		for x := 0; x < width; x++ {
			y := b.getPixel(0, line, x)
			v := b.getPixel(1, line, x)
			u := b.getPixel(2, line, x)
			out[x*3+0], out[x*3+1], out[x*3+2] = ycrcbToRGB(y, u, v)
		}
	}
}

// borrowChroma reads channel c from the nearer of the two neighboring
// lines (preferring above), defaulting to neutral 128 if both are out of
// range. below is bounded by the image's currently decoded row count, not
// the mode's nominal height, so a last-rendered line in the slack region
// doesn't borrow from an undecoded row just because it's still within
// allocatedHeight.
func (b *Buffer) borrowChroma(c, above, below, x int) uint8 {
	if above >= 0 {
		return b.getPixel(c, above, x)
	}
	if below < b.linesDecoded {
		return b.getPixel(c, below, x)
	}
	return 128
}

// ycrcbToRGB converts one YCrCb sample to RGB using BT.601 full-range
// coefficients, clamped to [0, 255].
func ycrcbToRGB(y, u, v uint8) (r, g, bl uint8) {
	fy := float64(y)
	fu := float64(u) - 128
	fv := float64(v) - 128

	fr := fy + 1.402*fv
	fg := fy - 0.344136*fu - 0.714136*fv
	fb := fy + 1.772*fu

	return clamp8(fr), clamp8(fg), clamp8(fb)
}

func clamp8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// ToRGB converts every decoded line to an interleaved RGB byte slice,
// Width*LinesDecoded()*3 long — all decoded lines, which may exceed
// mode.Height once decoding has run into the slack region.
func (b *Buffer) ToRGB() []uint8 {
	rows := b.linesDecoded
	out := make([]uint8, b.mode.Width*rows*3)
	for line := 0; line < rows; line++ {
		b.convertLineToRGB(line, out[line*b.mode.Width*3:])
	}
	return out
}

// ToImage renders the buffer as a standard library image.RGBA, one row per
// decoded line.
func (b *Buffer) ToImage() *image.RGBA {
	rgb := b.ToRGB()
	rows := b.linesDecoded
	img := image.NewRGBA(image.Rect(0, 0, b.mode.Width, rows))
	for line := 0; line < rows; line++ {
		for x := 0; x < b.mode.Width; x++ {
			i := (line*b.mode.Width + x) * 3
			o := img.PixOffset(x, line)
			img.Pix[o+0] = rgb[i+0]
			img.Pix[o+1] = rgb[i+1]
			img.Pix[o+2] = rgb[i+2]
			img.Pix[o+3] = 255
		}
	}
	return img
}

// ShiftLine rotates every channel's row at the given image line by shift
// columns, with wrap-around, correcting horizontal slant from an
// accumulated timing drift.
func (b *Buffer) ShiftLine(line, shift int) {
	if line < 0 || line >= b.allocatedHeight {
		return
	}
	width := b.mode.Width
	shift = ((shift % width) + width) % width
	if shift == 0 {
		return
	}
	tmp := make([]uint8, width)
	for _, p := range b.planes {
		row := p[line*width : line*width+width]
		for x := 0; x < width; x++ {
			tmp[(x+shift)%width] = row[x]
		}
		copy(row, tmp)
	}
}

// Reset zeroes every plane and the line count without reallocating,
// reusing the buffer for the next image of the same mode.
func (b *Buffer) Reset() {
	for _, p := range b.planes {
		for i := range p {
			p[i] = 0
		}
	}
	b.linesDecoded = 0
}

// Clear releases the plane storage entirely, for when the buffer will not
// decode another image of this mode.
func (b *Buffer) Clear() {
	b.planes = nil
	b.linesDecoded = 0
}
