package output

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"flashguard-go/internal/types"
)

func Timestamp() string {
	return time.Now().Format("20060102_150405")
}

// SeriesWriter records frame and transition records as CSV files, one pair
// per run. It implements diagnostics.Sink.
type SeriesWriter struct {
	mu          sync.Mutex
	log         *slog.Logger
	frames      *os.File
	transitions *os.File
	fw          *bufio.Writer
	tw          *bufio.Writer
	errors      uint64
}

func NewSeriesWriter(outputDir, runTimestamp string, log *slog.Logger) (*SeriesWriter, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	frames, err := os.Create(filepath.Join(outputDir, fmt.Sprintf("%s_frames.csv", runTimestamp)))
	if err != nil {
		return nil, err
	}
	transitions, err := os.Create(filepath.Join(outputDir, fmt.Sprintf("%s_transitions.csv", runTimestamp)))
	if err != nil {
		_ = frames.Close()
		return nil, err
	}
	s := &SeriesWriter{
		log:         log,
		frames:      frames,
		transitions: transitions,
		fw:          bufio.NewWriter(frames),
		tw:          bufio.NewWriter(transitions),
	}
	_, _ = fmt.Fprintln(s.fw, "source, timestamp_ms, brightness, delta, frequency_hz, hazard")
	_, _ = fmt.Fprintln(s.tw, "source, timestamp_ms, event, reason")
	return s, nil
}

func (s *SeriesWriter) Frame(rec types.FrameRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fw == nil {
		return
	}
	_, err := fmt.Fprintf(s.fw, "%s, %d, %.3f, %.3f, %d, %t\n",
		rec.Key, rec.TimestampMs, rec.Brightness, rec.Delta, rec.FrequencyHz, rec.Hazard)
	s.check(err)
}

func (s *SeriesWriter) Transition(rec types.TransitionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tw == nil {
		return
	}
	_, err := fmt.Fprintf(s.tw, "%s, %d, %s, %s\n", rec.Key, rec.TimestampMs, rec.Event, rec.Reason)
	if err == nil {
		err = s.tw.Flush()
	}
	s.check(err)
}

func (s *SeriesWriter) Warn(string, error) {}

// Flush pushes buffered frame rows to disk.
func (s *SeriesWriter) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fw == nil {
		return nil
	}
	if err := s.fw.Flush(); err != nil {
		return err
	}
	return s.tw.Flush()
}

func (s *SeriesWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fw == nil {
		return nil
	}
	err := s.fw.Flush()
	if ferr := s.tw.Flush(); err == nil {
		err = ferr
	}
	if cerr := s.frames.Close(); err == nil {
		err = cerr
	}
	if cerr := s.transitions.Close(); err == nil {
		err = cerr
	}
	s.fw, s.tw = nil, nil
	return err
}

func (s *SeriesWriter) check(err error) {
	if err == nil {
		return
	}
	s.errors++
	if s.errors == 1 || s.errors%100 == 0 {
		s.log.Warn("series write failed", "err", err, "errors_total", s.errors)
	}
}

// NormalizeJSONValue turns decoded CBOR/msgpack values into something
// encoding/json accepts: map keys become strings, byte strings become
// base64 and tags become {"tag": n, "value": v}.
func NormalizeJSONValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = NormalizeJSONValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = NormalizeJSONValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = NormalizeJSONValue(item)
		}
		return out
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case cbor.Tag:
		return map[string]any{"tag": val.Number, "value": NormalizeJSONValue(val.Content)}
	default:
		return v
	}
}
