package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"flashguard-go/internal/compression"
)

// RFC 8746 typed arrays plus a private tag for LZ4 payloads.
const (
	tagMultiDimArray = 40
	tagUint8         = 64
	tagUint16LE      = 69
	tagFloat32LE     = 85
	tagLZ4           = 56501
)

// decodeMultiDimArray flattens [[rows, cols], typed array] into row-major
// bytes after checking the declared shape.
func decodeMultiDimArray(tag cbor.Tag) ([]byte, error) {
	items, ok := tag.Content.([]any)
	if !ok || len(items) != 2 {
		return nil, fmt.Errorf("invalid multidim array content")
	}

	dimsRaw, ok := items[0].([]any)
	if !ok || len(dimsRaw) != 2 {
		return nil, fmt.Errorf("invalid multidim dimensions")
	}
	rows, err := toInt(dimsRaw[0])
	if err != nil {
		return nil, err
	}
	cols, err := toInt(dimsRaw[1])
	if err != nil {
		return nil, err
	}

	flat, err := decodeTypedArray(items[1])
	if err != nil {
		return nil, err
	}
	if rows < 0 || cols < 0 || rows*cols != len(flat) {
		return nil, errors.New("dimension mismatch")
	}
	return flat, nil
}

// decodeTypedArray returns 8-bit samples. Wider samples are scaled down:
// uint16 keeps its high byte, float32 is read as [0,1] and clamped.
func decodeTypedArray(value any) ([]byte, error) {
	tag, ok := value.(cbor.Tag)
	if !ok {
		return nil, fmt.Errorf("expected typed array tag")
	}

	data, err := extractBytes(tag)
	if err != nil {
		return nil, err
	}

	switch tag.Number {
	case tagUint8:
		return data, nil
	case tagUint16LE:
		return uint16ToBytes(data), nil
	case tagFloat32LE:
		return float32ToBytes(data), nil
	default:
		return nil, fmt.Errorf("unsupported typed array tag %d", tag.Number)
	}
}

func extractBytes(tag cbor.Tag) ([]byte, error) {
	switch v := tag.Content.(type) {
	case []byte:
		return v, nil
	case cbor.Tag:
		if v.Number != tagLZ4 {
			return nil, fmt.Errorf("unsupported nested tag %d", v.Number)
		}
		items, ok := v.Content.([]any)
		if !ok {
			return nil, errors.New("invalid lz4 tag content")
		}
		return decompressWrapper(items)
	default:
		return nil, fmt.Errorf("unsupported typed array content %T", v)
	}
}

// decompressWrapper expands ["lz4", uncompressed size, payload].
func decompressWrapper(items []any) ([]byte, error) {
	if len(items) != 3 {
		return nil, errors.New("invalid compressed payload")
	}
	algorithm, ok := items[0].(string)
	if !ok {
		return nil, errors.New("invalid compression algorithm")
	}
	size, err := toInt(items[1])
	if err != nil {
		return nil, err
	}
	encoded, ok := items[2].([]byte)
	if !ok {
		return nil, errors.New("invalid compressed bytes")
	}
	return compression.Decompress(encoded, algorithm, size)
}

func uint16ToBytes(data []byte) []byte {
	out := make([]byte, len(data)/2)
	for i := range out {
		out[i] = byte(binary.LittleEndian.Uint16(data[i*2:i*2+2]) >> 8)
	}
	return out
}

func float32ToBytes(data []byte) []byte {
	out := make([]byte, len(data)/4)
	for i := range out {
		v := math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
		switch {
		case math.IsNaN(float64(v)) || v <= 0:
			out[i] = 0
		case v >= 1:
			out[i] = 255
		default:
			out[i] = byte(math.Round(float64(v) * 255))
		}
	}
	return out
}
