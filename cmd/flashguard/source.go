package main

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"flashguard-go/internal/config"
	"flashguard-go/internal/ingest"
	"flashguard-go/internal/simulator"
	"flashguard-go/internal/types"
)

// startSource returns the message stream: simulated sources in debug mode,
// otherwise the ZMQ ingest, restarted when it stops and optionally falling
// back to the simulator when it cannot start.
func startSource(ctx context.Context, cfg config.AppConfig, codec ingest.Codec, recorder ingest.RawRecorder, status *statusBoard, log *slog.Logger) <-chan types.Message {
	simOpts := simulator.Options{Sources: cfg.DebugSources, FPS: cfg.DebugFPS}

	if cfg.Debug {
		status.set("source", "simulator")
		return recordSimulated(ctx, simulator.Stream(ctx, simOpts), codec, recorder, log)
	}

	status.set("source", "stream")
	out := make(chan types.Message, 128)
	go func() {
		defer close(out)
		var ingestCancel context.CancelFunc
		var in <-chan types.Message
		startIngest := func() {
			if ingestCancel != nil {
				ingestCancel()
			}
			ingestCtx, cancel := context.WithCancel(ctx)
			ingestCancel = cancel
			msgs, err := ingest.Stream(ingestCtx, ingest.Options{
				Endpoint: cfg.Endpoint,
				Codec:    codec,
				LogEvery: cfg.IngestLogEvery,
				Recorder: recorder,
				Logger:   log,
			})
			if err == nil {
				in = msgs
				return
			}
			if !cfg.IngestFallback {
				log.Error("failed to start ingest", "endpoint", cfg.Endpoint, "err", err)
				os.Exit(1)
			}
			log.Warn("failed to start ingest, falling back to simulator", "endpoint", cfg.Endpoint, "err", err)
			status.set("source", "simulator")
			in = simulator.Stream(ingestCtx, simOpts)
		}
		startIngest()
		for {
			select {
			case <-ctx.Done():
				ingestCancel()
				return
			case msg, ok := <-in:
				if !ok {
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Second):
					}
					startIngest()
					continue
				}
				select {
				case <-ctx.Done():
					return
				case out <- msg:
				}
			}
		}
	}()
	return out
}

// recordSimulated writes simulated messages to the raw log in wire form so
// a debug session can be replayed later.
func recordSimulated(ctx context.Context, in <-chan types.Message, codec ingest.Codec, recorder ingest.RawRecorder, log *slog.Logger) <-chan types.Message {
	if recorder == nil {
		return in
	}
	out := make(chan types.Message, 128)
	go func() {
		defer close(out)
		for msg := range in {
			payload, err := ingest.Encode(msg, codec, true)
			if err == nil {
				err = recorder.Record(payload)
			}
			if err != nil {
				log.Warn("raw log write failed", "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case out <- msg:
			}
		}
	}()
	return out
}

type statusBoard struct {
	mu     sync.Mutex
	values map[string]any
}

func (b *statusBoard) set(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.values == nil {
		b.values = map[string]any{}
	}
	b.values[key] = value
}

func (b *statusBoard) copy() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]any, len(b.values)+8)
	for k, v := range b.values {
		out[k] = v
	}
	return out
}
