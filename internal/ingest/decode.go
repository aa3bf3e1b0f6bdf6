package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"

	"flashguard-go/internal/types"
)

type Codec string

const (
	CodecCBOR    Codec = "cbor"
	CodecMsgpack Codec = "msgpack"
)

var ErrUnsupportedMessage = errors.New("unsupported message")

func ParseCodec(s string) (Codec, error) {
	switch Codec(strings.ToLower(strings.TrimSpace(s))) {
	case "", CodecCBOR:
		return CodecCBOR, nil
	case CodecMsgpack, "mpk":
		return CodecMsgpack, nil
	default:
		return "", fmt.Errorf("unknown codec %q", s)
	}
}

// Decode parses one wire message. nowMs stands in for a missing timestamp.
//
//	{type: "frame", source, timestamp_ms, width, height, format, pixels}
//	{type: "lifecycle", source, event, timestamp_ms}
func Decode(payload []byte, codec Codec, nowMs int64) (types.Message, error) {
	var fields map[string]any
	var err error
	switch codec {
	case CodecMsgpack:
		err = msgpack.Unmarshal(payload, &fields)
	default:
		err = cbor.Unmarshal(payload, &fields)
	}
	if err != nil {
		return types.Message{}, fmt.Errorf("%s decode: %w", codec, err)
	}
	return decodeFields(fields, nowMs)
}

func decodeFields(fields map[string]any, nowMs int64) (types.Message, error) {
	msgType, _ := fields["type"].(string)
	key, _ := fields["source"].(string)
	if key == "" {
		return types.Message{}, fmt.Errorf("%w: missing source", ErrUnsupportedMessage)
	}

	ts := nowMs
	if raw, ok := fields["timestamp_ms"]; ok && raw != nil {
		v, err := toInt64(raw)
		if err != nil {
			return types.Message{}, fmt.Errorf("timestamp_ms: %w", err)
		}
		ts = v
	}

	switch msgType {
	case types.MessageFrame:
		frame, err := decodeFrame(fields)
		if err != nil {
			return types.Message{}, err
		}
		frame.TimestampMs = ts
		return types.Message{Type: msgType, Key: key, Frame: frame, TimestampMs: ts}, nil

	case types.MessageLifecycle:
		event, _ := fields["event"].(string)
		lc, ok := types.ParseLifecycle(event)
		if !ok {
			return types.Message{}, fmt.Errorf("%w: lifecycle event %q", ErrUnsupportedMessage, event)
		}
		return types.Message{Type: msgType, Key: key, Lifecycle: lc, TimestampMs: ts}, nil

	default:
		return types.Message{}, fmt.Errorf("%w: type %q", ErrUnsupportedMessage, msgType)
	}
}

// decodeFrame fills everything but the timestamp. Malformed pixel buffers
// are passed through; the analyzer rejects them and resets its baseline.
func decodeFrame(fields map[string]any) (types.FrameSample, error) {
	width, err := toInt(fields["width"])
	if err != nil {
		return types.FrameSample{}, fmt.Errorf("width: %w", err)
	}
	height, err := toInt(fields["height"])
	if err != nil {
		return types.FrameSample{}, fmt.Errorf("height: %w", err)
	}
	format := types.FormatRGBA
	if s, ok := fields["format"].(string); ok && s != "" {
		format = types.PixelFormat(strings.ToLower(s))
		if format.Channels() == 0 {
			return types.FrameSample{}, fmt.Errorf("%w: pixel format %q", ErrUnsupportedMessage, s)
		}
	}
	var pixels []byte
	if raw, ok := fields["pixels"]; ok && raw != nil {
		pixels, err = decodePixels(raw)
		if err != nil {
			return types.FrameSample{}, fmt.Errorf("pixels: %w", err)
		}
	}
	return types.FrameSample{
		Pixels: pixels,
		Width:  width,
		Height: height,
		Format: format,
	}, nil
}

func decodePixels(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case []any:
		return decompressWrapper(v)
	case cbor.Tag:
		switch v.Number {
		case tagMultiDimArray:
			return decodeMultiDimArray(v)
		case tagLZ4:
			items, ok := v.Content.([]any)
			if !ok {
				return nil, errors.New("invalid lz4 tag content")
			}
			return decompressWrapper(items)
		default:
			return decodeTypedArray(v)
		}
	default:
		return nil, fmt.Errorf("unsupported pixel payload %T", value)
	}
}

func toInt(v any) (int, error) {
	n, err := toInt64(v)
	return int(n), err
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}
