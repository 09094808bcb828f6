package wavio

import (
	"bytes"
	"math"
	"testing"
)

func sineSamples(n int, freq, sampleRate float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / sampleRate)
	}
	return out
}

func TestWriteAllThenReadAllRoundTrips(t *testing.T) {
	const sampleRate = 48000
	want := sineSamples(4800, 1000, sampleRate)

	var buf bytes.Buffer
	if err := WriteAll(&buf, sampleRate, 1, want); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	got, info, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if info.SampleRate != sampleRate || info.Channels != 1 {
		t.Fatalf("info = %+v, want sampleRate %d channels 1", info, sampleRate)
	}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if diff := math.Abs(got[i] - want[i]); diff > 1e-3 {
			t.Fatalf("sample %d = %v, want ~%v", i, got[i], want[i])
		}
	}
}

func TestWriterWriteFloat64ThenCloseMatchesWriteAll(t *testing.T) {
	const sampleRate = 48000
	samples := sineSamples(1000, 440, sampleRate)

	var viaWriter bytes.Buffer
	w := NewWriter(&viaWriter, sampleRate, 1)
	if err := w.WriteFloat64(samples); err != nil {
		t.Fatalf("WriteFloat64: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var viaWriteAll bytes.Buffer
	if err := WriteAll(&viaWriteAll, sampleRate, 1, samples); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	gotWriter, infoWriter, err := ReadAll(&viaWriter)
	if err != nil {
		t.Fatalf("ReadAll(writer output): %v", err)
	}
	gotAll, infoAll, err := ReadAll(&viaWriteAll)
	if err != nil {
		t.Fatalf("ReadAll(WriteAll output): %v", err)
	}
	if infoWriter != infoAll {
		t.Fatalf("info mismatch: %+v vs %+v", infoWriter, infoAll)
	}
	if len(gotWriter) != len(gotAll) {
		t.Fatalf("len mismatch: %d vs %d", len(gotWriter), len(gotAll))
	}
	for i := range gotWriter {
		if gotWriter[i] != gotAll[i] {
			t.Fatalf("sample %d differs: %v vs %v", i, gotWriter[i], gotAll[i])
		}
	}
}

func TestReadAllClampsOutOfRangeSamples(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAll(&buf, 48000, 1, []float64{2.0, -2.0, 0.5}); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	got, _, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if got[0] < 0.99 || got[0] > 1.0 {
		t.Fatalf("clamped-high sample = %v, want ~1.0", got[0])
	}
	if got[1] > -0.99 || got[1] < -1.0 {
		t.Fatalf("clamped-low sample = %v, want ~-1.0", got[1])
	}
}

func TestReadAllSkipsUnknownChunks(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAll(&buf, 48000, 2, []float64{0.1, -0.1}); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	encoded := buf.Bytes()

	// Splice a bogus "LIST" chunk between the fmt and data chunks (fmt
	// chunk header + 16-byte body = 8 + 16 = 24 bytes into the file, after
	// the 12-byte RIFF header).
	const fmtChunkEnd = 12 + 8 + 16
	bogus := append([]byte{'L', 'I', 'S', 'T'}, 4, 0, 0, 0)
	bogus = append(bogus, 0xde, 0xad, 0xbe, 0xef)

	spliced := append([]byte{}, encoded[:fmtChunkEnd]...)
	spliced = append(spliced, bogus...)
	spliced = append(spliced, encoded[fmtChunkEnd:]...)

	got, info, err := ReadAll(bytes.NewReader(spliced))
	if err != nil {
		t.Fatalf("ReadAll with spliced chunk: %v", err)
	}
	if info.Channels != 2 {
		t.Fatalf("info.Channels = %d, want 2", info.Channels)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
}

func TestReadAllRejectsNonWAVInput(t *testing.T) {
	_, _, err := ReadAll(bytes.NewReader([]byte("not a wav file at all......")))
	if err == nil {
		t.Fatalf("expected an error for non-WAV input")
	}
}
