package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"flashguard-go/internal/config"
	"flashguard-go/internal/ingest"
	"flashguard-go/internal/output"
	"flashguard-go/internal/pipeline"
	"flashguard-go/internal/processing"
	"flashguard-go/internal/suppression"
	"flashguard-go/internal/types"
)

func main() {
	var (
		path     = flag.String("path", "", "Path to rawlog .bin file")
		codec    = flag.String("codec", "cbor", "Payload codec (cbor or msgpack)")
		settings = flag.String("settings", "", "Settings file to replay with (defaults otherwise)")
		quiet    = flag.Bool("quiet", false, "Only print the summary")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("missing -path")
	}
	codecValue, err := ingest.ParseCodec(*codec)
	if err != nil {
		log.Fatal(err)
	}
	s := config.Defaults()
	if *settings != "" {
		s, err = config.LoadSettings(*settings)
		if err != nil {
			log.Fatalf("load settings: %v", err)
		}
	}
	provider, err := config.NewProvider(s)
	if err != nil {
		log.Fatalf("settings: %v", err)
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatalf("open rawlog: %v", err)
	}
	defer f.Close()

	var w io.Writer = os.Stdout
	if *quiet {
		w = io.Discard
	}
	sum, err := replay(f, codecValue, provider, w)
	if err != nil {
		log.Printf("replay stopped: %v", err)
	}
	sum.print(os.Stdout)
}

type summary struct {
	records        int
	decodeFailures int
	frames         int
	shows          int
	hides          int
	transitions    []types.TransitionRecord
	stats          map[string]processing.SourceStats
}

func (s summary) print(w io.Writer) {
	fmt.Fprintf(w, "summary: records=%d decode_failures=%d frames=%d transitions=%d overlay_shows=%d overlay_hides=%d\n",
		s.records, s.decodeFailures, s.frames, len(s.transitions), s.shows, s.hides)
	keys := make([]string, 0, len(s.stats))
	for k := range s.stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		st := s.stats[k]
		fmt.Fprintf(w, "  %s: frames=%d skipped=%d flashes=%d peak_hz=%d triggers=%d releases=%d\n",
			st.Key, st.Frames, st.SkippedFrames, st.FlashEvents, st.PeakFrequencyHz, st.Triggers, st.Releases)
	}
}

type countingOverlay struct {
	shows, hides *int
}

func (o countingOverlay) Show()                          { *o.shows++ }
func (o countingOverlay) Hide()                          { *o.hides++ }
func (o countingOverlay) SetAppearance(types.Appearance) {}

type transitionPrinter struct {
	w   io.Writer
	sum *summary
}

func (p transitionPrinter) Frame(types.FrameRecord) { p.sum.frames++ }

func (p transitionPrinter) Transition(rec types.TransitionRecord) {
	p.sum.transitions = append(p.sum.transitions, rec)
	fmt.Fprintf(p.w, "%d %s %s (%s)\n", rec.TimestampMs, rec.Key, rec.Event, rec.Reason)
}

func (p transitionPrinter) Warn(msg string, err error) {
	fmt.Fprintf(p.w, "warning: %s: %v\n", msg, err)
}

// replay feeds a raw log through the detection chain on a virtual clock:
// before each message every source gets a cooldown tick at that message's
// time, and a final tick after the last message flushes pending releases.
func replay(r io.Reader, codec ingest.Codec, provider *config.Provider, w io.Writer) (summary, error) {
	var sum summary
	stats := processing.NewAggregator()
	coordinator := suppression.NewCoordinator(countingOverlay{shows: &sum.shows, hides: &sum.hides}, types.Appearance{})

	var clock int64
	registry := pipeline.NewRegistry(pipeline.Deps{
		Provider: provider,
		Signal:   coordinator,
		Sink:     transitionPrinter{w: w, sum: &sum},
		Stats:    stats,
	}, pipeline.RegistryOptions{
		Now: func() int64 { return clock },
	})

	tickAll := func(now int64) {
		for _, src := range registry.Sources() {
			if p, ok := registry.Pipeline(src.Key); ok {
				p.Tick(now)
			}
		}
	}

	err := output.ReadRawLog(r, func(rec output.RawRecord) error {
		sum.records++
		msg, err := ingest.Decode(rec.Payload, codec, rec.Time.UnixMilli())
		if err != nil {
			sum.decodeFailures++
			return nil
		}
		if msg.TimestampMs > clock {
			clock = msg.TimestampMs
		}
		tickAll(clock)
		registry.Dispatch(msg)
		return nil
	})

	tickAll(clock + int64(provider.Detection().CooldownMs) + 1)
	sum.stats = registry.Stats()
	registry.Close()
	return sum, err
}
