package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"

	"flashguard-go/internal/ingest"
	"flashguard-go/internal/output"
)

var errLimit = errors.New("limit reached")

func main() {
	var (
		path   = flag.String("path", "", "Path to rawlog .bin file")
		limit  = flag.Int("limit", 1, "Number of records to dump (0 for all)")
		codec  = flag.String("codec", "cbor", "Payload codec (cbor or msgpack)")
		pixels = flag.Bool("pixels", false, "Include pixel payloads as base64")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("path is required")
	}
	codecValue, err := ingest.ParseCodec(*codec)
	if err != nil {
		log.Fatal(err)
	}

	count := 0
	err = output.ReadRawLogFile(*path, func(rec output.RawRecord) error {
		if *limit > 0 && count >= *limit {
			return errLimit
		}
		count++
		if len(rec.Payload) == 0 {
			log.Printf("record %d: empty payload", rec.Index)
			return nil
		}

		var decoded map[string]any
		if codecValue == ingest.CodecMsgpack {
			err = msgpack.Unmarshal(rec.Payload, &decoded)
		} else {
			err = cbor.Unmarshal(rec.Payload, &decoded)
		}
		if err != nil {
			log.Printf("record %d: %s decode error: %v", rec.Index, codecValue, err)
			return nil
		}
		if !*pixels {
			if v, ok := decoded["pixels"]; ok {
				decoded["pixels"] = describePixels(v)
			}
		}

		pretty, err := json.MarshalIndent(output.NormalizeJSONValue(decoded), "", "  ")
		if err != nil {
			log.Printf("record %d: JSON encode error: %v", rec.Index, err)
			return nil
		}
		log.Printf("record %d timestamp=%s size=%d", rec.Index, rec.Time.Format(time.RFC3339Nano), len(rec.Payload))
		fmt.Println(string(pretty))
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		log.Fatalf("read rawlog: %v", err)
	}
}

func describePixels(value any) string {
	switch v := value.(type) {
	case []byte:
		return fmt.Sprintf("%d bytes", len(v))
	case []any:
		if len(v) == 3 {
			return fmt.Sprintf("compressed %v, %v bytes", v[0], v[1])
		}
		return fmt.Sprintf("array of %d", len(v))
	case cbor.Tag:
		if items, ok := v.Content.([]any); ok && len(items) == 3 {
			return fmt.Sprintf("tag %d: %v, %v bytes", v.Number, items[0], items[1])
		}
		return fmt.Sprintf("tag %d", v.Number)
	default:
		return fmt.Sprintf("type %T", value)
	}
}
