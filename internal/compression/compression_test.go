package compression

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pierrec/lz4/v4"
)

func TestCompressRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte{0, 0, 0, 255}, 1024)
	encoded, algorithm, err := Compress(src)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if algorithm != AlgorithmLZ4 {
		t.Fatalf("expected lz4 for repetitive input, got %q", algorithm)
	}
	if len(encoded) >= len(src) {
		t.Fatalf("expected smaller payload, got %d >= %d", len(encoded), len(src))
	}
	got, err := Decompress(encoded, algorithm, len(src))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecompressFrame(t *testing.T) {
	src := bytes.Repeat([]byte("flash"), 500)
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	got, err := Decompress(buf.Bytes(), AlgorithmLZ4Frame, len(src))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("frame round trip mismatch")
	}
}

func TestDecompressErrors(t *testing.T) {
	if _, err := Decompress([]byte{1, 2}, AlgorithmNone, 3); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected size mismatch, got %v", err)
	}
	if _, err := Decompress(nil, "zstd", 0); err == nil {
		t.Fatalf("expected unsupported algorithm error")
	}
	if _, err := Decompress([]byte{1}, AlgorithmLZ4, -1); err == nil {
		t.Fatalf("expected invalid size error")
	}
}

func TestDecompressRejectsOversizedDeclaration(t *testing.T) {
	for _, algorithm := range []string{AlgorithmLZ4, AlgorithmLZ4Frame, AlgorithmNone} {
		if _, err := Decompress([]byte{0x10, 'a'}, algorithm, 1<<50); !errors.Is(err, ErrSizeTooLarge) {
			t.Fatalf("%s: expected ErrSizeTooLarge, got %v", algorithm, err)
		}
	}
	// Within the global bound but beyond what two lz4 bytes can expand to.
	if _, err := Decompress([]byte{0x10, 'a'}, AlgorithmLZ4, 1<<20); !errors.Is(err, ErrSizeTooLarge) {
		t.Fatalf("expected ErrSizeTooLarge for implausible ratio, got %v", err)
	}
}
