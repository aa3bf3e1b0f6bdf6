package ingest

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"

	"flashguard-go/internal/compression"
	"flashguard-go/internal/types"
)

type wireMessage struct {
	Type        string `cbor:"type" msgpack:"type"`
	Source      string `cbor:"source" msgpack:"source"`
	TimestampMs int64  `cbor:"timestamp_ms,omitempty" msgpack:"timestamp_ms,omitempty"`
	Event       string `cbor:"event,omitempty" msgpack:"event,omitempty"`
	Width       int    `cbor:"width,omitempty" msgpack:"width,omitempty"`
	Height      int    `cbor:"height,omitempty" msgpack:"height,omitempty"`
	Format      string `cbor:"format,omitempty" msgpack:"format,omitempty"`
	Pixels      any    `cbor:"pixels,omitempty" msgpack:"pixels,omitempty"`
}

// Encode is the inverse of Decode. With compress set, pixels are LZ4
// wrapped when that makes them smaller.
func Encode(msg types.Message, codec Codec, compress bool) ([]byte, error) {
	wire := wireMessage{
		Type:        msg.Type,
		Source:      msg.Key,
		TimestampMs: msg.TimestampMs,
	}
	switch msg.Type {
	case types.MessageFrame:
		wire.Width = msg.Frame.Width
		wire.Height = msg.Frame.Height
		wire.Format = string(msg.Frame.Format)
		if msg.Frame.TimestampMs != 0 {
			wire.TimestampMs = msg.Frame.TimestampMs
		}
		pixels, err := encodePixels(msg.Frame.Pixels, codec, compress)
		if err != nil {
			return nil, err
		}
		wire.Pixels = pixels
	case types.MessageLifecycle:
		wire.Event = string(msg.Lifecycle)
	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnsupportedMessage, msg.Type)
	}

	if codec == CodecMsgpack {
		return msgpack.Marshal(&wire)
	}
	return cbor.Marshal(&wire)
}

func encodePixels(pixels []byte, codec Codec, compress bool) (any, error) {
	if !compress {
		return pixels, nil
	}
	encoded, algorithm, err := compression.Compress(pixels)
	if err != nil {
		return nil, err
	}
	if algorithm == compression.AlgorithmNone {
		return pixels, nil
	}
	wrapper := []any{algorithm, len(pixels), encoded}
	if codec == CodecMsgpack {
		return wrapper, nil
	}
	return cbor.Tag{Number: tagLZ4, Content: wrapper}, nil
}
