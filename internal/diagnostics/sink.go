package diagnostics

import (
	"fmt"
	"log/slog"

	"flashguard-go/internal/types"
)

// Sink observes detection output. Implementations must not block for long;
// they never influence detection.
type Sink interface {
	Frame(types.FrameRecord)
	Transition(types.TransitionRecord)
	Warn(msg string, err error)
}

type Nop struct{}

func (Nop) Frame(types.FrameRecord)           {}
func (Nop) Transition(types.TransitionRecord) {}
func (Nop) Warn(string, error)                {}

// Logger writes records to slog. Frame records are only logged while
// debug() reports true.
type Logger struct {
	log   *slog.Logger
	debug func() bool
}

func NewLogger(log *slog.Logger, debug func() bool) *Logger {
	if log == nil {
		log = slog.Default()
	}
	if debug == nil {
		debug = func() bool { return false }
	}
	return &Logger{log: log, debug: debug}
}

func (l *Logger) Frame(rec types.FrameRecord) {
	if !l.debug() {
		return
	}
	l.log.Debug("frame",
		"source", rec.Key,
		"t", rec.TimestampMs,
		"brightness", rec.Brightness,
		"delta", rec.Delta,
		"hz", rec.FrequencyHz,
		"hazard", rec.Hazard,
	)
}

func (l *Logger) Transition(rec types.TransitionRecord) {
	l.log.Info("suppression "+string(rec.Event),
		"source", rec.Key,
		"reason", rec.Reason,
		"t", rec.TimestampMs,
	)
}

func (l *Logger) Warn(msg string, err error) {
	if err != nil {
		l.log.Warn(msg, "err", err)
		return
	}
	l.log.Warn(msg)
}

// Fanout forwards to every sink. A panicking sink is logged and skipped so
// the others still receive the record.
type Fanout struct {
	sinks []Sink
	log   *slog.Logger
}

func NewFanout(log *slog.Logger, sinks ...Sink) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Fanout{sinks: out, log: log}
}

func (f *Fanout) Add(s Sink) {
	if s != nil {
		f.sinks = append(f.sinks, s)
	}
}

func (f *Fanout) Frame(rec types.FrameRecord) {
	for _, s := range f.sinks {
		f.guard(func() { s.Frame(rec) })
	}
}

func (f *Fanout) Transition(rec types.TransitionRecord) {
	for _, s := range f.sinks {
		f.guard(func() { s.Transition(rec) })
	}
}

func (f *Fanout) Warn(msg string, err error) {
	for _, s := range f.sinks {
		f.guard(func() { s.Warn(msg, err) })
	}
}

func (f *Fanout) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("diagnostic sink panic", "err", fmt.Sprint(r))
		}
	}()
	fn()
}
