package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"flashguard-go/internal/types"
)

func TestRawLogRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewRawLogWriter(dir, "raw_cbor")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	payloads := [][]byte{{1, 2, 3}, {}, bytes.Repeat([]byte{7}, 300)}
	for _, p := range payloads {
		if err := w.Record(p); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Record([]byte{1}); err == nil {
		t.Fatalf("expected error after close")
	}

	var got [][]byte
	err = ReadRawLogFile(w.Path(), func(rec RawRecord) error {
		if rec.Index != len(got) {
			t.Fatalf("unexpected index %d", rec.Index)
		}
		got = append(got, rec.Payload)
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != len(payloads) {
		t.Fatalf("expected %d records, got %d", len(payloads), len(got))
	}
	for i := range payloads {
		if !bytes.Equal(got[i], payloads[i]) {
			t.Fatalf("record %d mismatch", i)
		}
	}
}

func TestReadRawLogErrors(t *testing.T) {
	if err := ReadRawLog(strings.NewReader("BADMAGIC"), func(RawRecord) error { return nil }); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected bad magic, got %v", err)
	}

	truncated := RawLogMagic + string(make([]byte, 8)) + "\x05\x00\x00\x00ab"
	err := ReadRawLog(strings.NewReader(truncated), func(RawRecord) error { return nil })
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestSeriesWriter(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSeriesWriter(dir, "run", nil)
	if err != nil {
		t.Fatalf("new series: %v", err)
	}
	s.Frame(types.FrameRecord{Key: "tab", TimestampMs: 10, Brightness: 12.5, Delta: 100, FrequencyHz: 3, Hazard: true})
	s.Transition(types.TransitionRecord{Key: "tab", TimestampMs: 10, Event: types.EventTrigger, Reason: types.ReasonHazard})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	s.Frame(types.FrameRecord{Key: "late"})

	frames, err := os.ReadFile(filepath.Join(dir, "run_frames.csv"))
	if err != nil {
		t.Fatalf("read frames: %v", err)
	}
	if !strings.Contains(string(frames), "tab, 10, 12.500, 100.000, 3, true") {
		t.Fatalf("unexpected frames csv: %q", frames)
	}
	if strings.Contains(string(frames), "late") {
		t.Fatalf("frame written after close")
	}
	transitions, err := os.ReadFile(filepath.Join(dir, "run_transitions.csv"))
	if err != nil {
		t.Fatalf("read transitions: %v", err)
	}
	if !strings.Contains(string(transitions), "tab, 10, trigger, hazard") {
		t.Fatalf("unexpected transitions csv: %q", transitions)
	}
}

func TestNormalizeJSONValue(t *testing.T) {
	in := map[any]any{
		"pixels": []byte{1, 2},
		uint64(3): []any{cbor.Tag{Number: 64, Content: []byte{9}}},
	}
	out := NormalizeJSONValue(in)
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"pixels":"AQI="`) || !strings.Contains(s, `"3":[{"tag":64,"value":"CQ=="}]`) {
		t.Fatalf("unexpected json %s", s)
	}
}
