package simulator

import (
	"context"
	"testing"
	"time"

	"flashguard-go/internal/types"
)

func TestStreamEmitsFramesPerSource(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs := Stream(ctx, Options{Sources: 2, FPS: 200, Width: 4, Height: 3, Seed: 1})
	seen := map[string]int{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 || seen["sim-0"] < 3 || seen["sim-1"] < 3 {
		select {
		case msg := <-msgs:
			if msg.Type != types.MessageFrame {
				continue
			}
			if len(msg.Frame.Pixels) != 12 || msg.Frame.Format != types.FormatGray {
				t.Fatalf("unexpected frame %+v", msg.Frame)
			}
			seen[msg.Key]++
		case <-deadline:
			t.Fatalf("timed out, saw %v", seen)
		}
	}

	cancel()
	for range msgs {
	}
}
