// Package fsk decodes the optional FSK callsign ID some SSTV transmitters
// append after the image: 45.45-baud (22ms/bit), 1900 Hz for a 1 bit,
// 2100 Hz for a 0, 6-bit bytes LSB-first, framed by a bit-reversed 0x20
// 0x2A sync word and terminated by a value below 0x0D. Grounded on
// audio_extensions/sstv/fsk_id.go's bit-reversal table and sync-word
// search, restructured around dsp/peakfind's shared FFT machinery instead
// of the teacher's private FFT call.
package fsk

import (
	"math"

	"github.com/n0call/sstvcore/dsp/peakfind"
)

const (
	bitDuration = 22e-3 // 45.45 baud
	oneHz       = 1900.0
	zeroHz      = 2100.0
	searchLoHz  = 1850.0
	searchHiHz  = 2150.0

	syncByte1 = 0x20
	syncByte2 = 0x2a

	maxCallsignLen = 10
)

// bitRev maps a raw 6-bit value to its bit-reversed counterpart, matching
// the teacher's lookup table for the transmitter's LSB-first bit order.
var bitRev = [64]uint8{
	0x00, 0x20, 0x10, 0x30, 0x08, 0x28, 0x18, 0x38,
	0x04, 0x24, 0x14, 0x34, 0x0c, 0x2c, 0x1c, 0x3c,
	0x02, 0x22, 0x12, 0x32, 0x0a, 0x2a, 0x1a, 0x3a,
	0x06, 0x26, 0x16, 0x36, 0x0e, 0x2e, 0x1e, 0x3e,
	0x01, 0x21, 0x11, 0x31, 0x09, 0x29, 0x19, 0x39,
	0x05, 0x25, 0x15, 0x35, 0x0d, 0x2d, 0x1d, 0x3d,
	0x03, 0x23, 0x13, 0x33, 0x0b, 0x2b, 0x1b, 0x3b,
	0x07, 0x27, 0x17, 0x37, 0x0f, 0x2f, 0x1f, 0x3f,
}

// Decoder locates and decodes an FSK callsign ID within a slice of raw
// audio, reusing a shared dsp/peakfind.Finder for its frequency estimates.
type Decoder struct {
	sampleRate float64
	finder     *peakfind.Finder
}

// New builds an FSK decoder over raw audio sampled at sampleRate.
func New(sampleRate float64, finder *peakfind.Finder) *Decoder {
	return &Decoder{sampleRate: sampleRate, finder: finder}
}

// Decode scans samples from the start for the sync word and payload,
// returning the decoded callsign, or "" if none is found. A missing or
// malformed ID is never an error: the caller sees an empty string exactly
// as it would see a legitimate absence of an ID.
func (d *Decoder) Decode(samples []float64) string {
	bitLen := int(math.Round(bitDuration * d.sampleRate))
	if bitLen < 1 {
		return ""
	}
	loBin := d.finder.Bin(searchLoHz)
	hiBin := d.finder.Bin(searchHiHz)

	var window []int // last 12 raw bits seen while searching for sync, oldest first
	inSync := false
	var asciiByte uint8
	bitPtr := 0
	var out []byte

	center := bitLen / 2
	for center+bitLen/2 < len(samples) && len(out) < maxCallsignLen {
		freq := d.finder.Peak(samples, center, bitLen, loBin, hiBin)
		bit := 0
		if math.Abs(freq-oneHz) <= math.Abs(freq-zeroHz) {
			bit = 1
		}

		if !inSync {
			window = append(window, bit)
			if len(window) > 12 {
				window = window[len(window)-12:]
			}
			if len(window) == 12 && matchesSync(window) {
				inSync = true
				asciiByte = 0
				bitPtr = 0
			}
		} else {
			asciiByte |= uint8(bit) << uint(bitPtr)
			bitPtr++
			if bitPtr == 6 {
				v := bitRev[asciiByte]
				if v < 0x0d {
					break
				}
				out = append(out, v+0x20)
				bitPtr = 0
				asciiByte = 0
			}
		}

		center += bitLen
	}

	return string(out)
}

// matchesSync checks whether the last 12 raw bits, split into two 6-bit
// LSB-first bytes and run through the bit-reversal table, spell the
// 0x20 0x2A sync word.
func matchesSync(window []int) bool {
	var raw1, raw2 uint8
	for i := 0; i < 6; i++ {
		raw1 |= uint8(window[i]) << uint(i)
		raw2 |= uint8(window[i+6]) << uint(i)
	}
	return bitRev[raw1] == syncByte1 && bitRev[raw2] == syncByte2
}
