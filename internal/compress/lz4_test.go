package compress

import (
	"bytes"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("sensor-telemetry-frame"), 20)

	compressed, err := Compress(original)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if len(compressed) == 0 {
		t.Fatal("Compress() returned empty output for non-empty input")
	}

	decompressed, err := Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress() error = %v", err)
	}
	if !bytes.Equal(decompressed, original) {
		t.Fatalf("Decompress(Compress(x)) != x")
	}
}

func TestCompressEmpty(t *testing.T) {
	out, err := Compress(nil)
	if err != nil {
		t.Fatalf("Compress(nil) error = %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("Compress(nil) = %v, want empty", out)
	}
}
