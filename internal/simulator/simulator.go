package simulator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"flashguard-go/internal/types"
)

type Options struct {
	Sources int
	FPS     float64
	Width   int
	Height  int
	Seed    int64
	Now     func() int64
}

// Each simulated source cycles through these phases.
const (
	phaseCalm   = 4 * time.Second
	phaseStrobe = 2 * time.Second
	phasePaused = 1 * time.Second
)

type source struct {
	key    string
	offset time.Duration
	paused bool
	base   float64
	pixels []byte
}

// Stream emits grayscale frames for opts.Sources sources. Every source
// alternates between a calm scene with mild noise and a black/white strobe
// burst, and is paused briefly once per cycle.
func Stream(ctx context.Context, opts Options) <-chan types.Message {
	if opts.Sources < 1 {
		opts.Sources = 1
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.Width < 1 || opts.Height < 1 {
		opts.Width, opts.Height = 32, 18
	}
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().UnixMilli() }
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}

	out := make(chan types.Message, opts.Sources*2)
	go func() {
		defer close(out)

		rng := rand.New(rand.NewSource(opts.Seed))
		cycle := phaseCalm + phaseStrobe + phasePaused
		sources := make([]*source, opts.Sources)
		for i := range sources {
			sources[i] = &source{
				key:    fmt.Sprintf("sim-%d", i),
				offset: time.Duration(i) * cycle / time.Duration(opts.Sources),
				base:   60 + rng.Float64()*120,
				pixels: make([]byte, opts.Width*opts.Height),
			}
		}

		frameInterval := time.Duration(float64(time.Second) / opts.FPS)
		ticker := time.NewTicker(frameInterval)
		defer ticker.Stop()
		start := time.Now()
		frameNo := 0

		send := func(msg types.Message) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- msg:
				return true
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			frameNo++
			now := opts.Now()
			elapsed := time.Since(start)

			for _, src := range sources {
				pos := (elapsed + src.offset) % cycle
				wantPaused := pos >= phaseCalm+phaseStrobe
				if wantPaused != src.paused {
					src.paused = wantPaused
					event := types.LifecycleResumed
					if wantPaused {
						event = types.LifecyclePaused
					}
					if !send(types.Message{Type: types.MessageLifecycle, Key: src.key, Lifecycle: event, TimestampMs: now}) {
						return
					}
				}
				if src.paused {
					continue
				}

				level := src.base
				if pos >= phaseCalm {
					// Toggle every other frame; at 30 fps this is a 7.5 Hz strobe.
					if (frameNo/2)%2 == 0 {
						level = 10
					} else {
						level = 245
					}
				}
				fill(src.pixels, level, rng)

				frame := types.FrameSample{
					Pixels:      append([]byte(nil), src.pixels...),
					Width:       opts.Width,
					Height:      opts.Height,
					Format:      types.FormatGray,
					TimestampMs: now,
				}
				if !send(types.Message{Type: types.MessageFrame, Key: src.key, Frame: frame, TimestampMs: now}) {
					return
				}
			}
		}
	}()

	return out
}

func fill(pixels []byte, level float64, rng *rand.Rand) {
	sigma := math.Sqrt(level) / 2
	for i := range pixels {
		v := level + rng.NormFloat64()*sigma
		switch {
		case v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		pixels[i] = byte(v)
	}
}
