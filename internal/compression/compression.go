package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pierrec/lz4/v4"
)

const (
	AlgorithmNone     = "none"
	AlgorithmLZ4      = "lz4"
	AlgorithmLZ4Frame = "lz4-frame"
)

// MaxDecompressedSize bounds the uncompressed size a caller may request.
const MaxDecompressedSize = 256 << 20

// lz4 cannot expand one input byte into more than 255 output bytes.
const lz4MaxRatio = 255

var (
	ErrSizeMismatch = errors.New("decompressed size mismatch")
	ErrSizeTooLarge = errors.New("declared uncompressed size too large")
)

// Decompress expands encoded to exactly size bytes.
func Decompress(encoded []byte, algorithm string, size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid uncompressed size %d", size)
	}
	if size > MaxDecompressedSize {
		return nil, fmt.Errorf("%w: %d", ErrSizeTooLarge, size)
	}
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case AlgorithmNone, "":
		if len(encoded) != size {
			return nil, ErrSizeMismatch
		}
		return encoded, nil
	case AlgorithmLZ4:
		if size == 0 {
			return []byte{}, nil
		}
		if size/lz4MaxRatio > len(encoded) {
			return nil, fmt.Errorf("%w: %d from %d encoded bytes", ErrSizeTooLarge, size, len(encoded))
		}
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(encoded, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 block: %w", err)
		}
		if n != size {
			return nil, ErrSizeMismatch
		}
		return dst, nil
	case AlgorithmLZ4Frame:
		dst := make([]byte, 0, size)
		buf := bytes.NewBuffer(dst)
		src := io.LimitReader(lz4.NewReader(bytes.NewReader(encoded)), int64(size)+1)
		if _, err := io.Copy(buf, src); err != nil {
			return nil, fmt.Errorf("lz4 frame: %w", err)
		}
		if buf.Len() != size {
			return nil, ErrSizeMismatch
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", algorithm)
	}
}

// Compress encodes src as an LZ4 block. Incompressible input is returned
// as is with AlgorithmNone.
func Compress(src []byte) ([]byte, string, error) {
	if len(src) == 0 {
		return []byte{}, AlgorithmNone, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, "", fmt.Errorf("lz4 block: %w", err)
	}
	if n == 0 || n >= len(src) {
		return src, AlgorithmNone, nil
	}
	return dst[:n], AlgorithmLZ4, nil
}
