package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"

	"flashguard-go/internal/types"
)

type RawRecorder interface {
	Record(payload []byte) error
}

type Options struct {
	Endpoint string
	Codec    Codec
	LogEvery int
	Recorder RawRecorder
	Logger   *slog.Logger
	Now      func() int64
}

var (
	decodeFailures atomic.Uint64
	decodeCount    atomic.Uint64
	decodeNanos    atomic.Uint64
	logCounter     atomic.Uint64
)

func DecodeFailures() uint64 {
	return decodeFailures.Load()
}

func DecodeTiming() (uint64, uint64) {
	return decodeCount.Load(), decodeNanos.Load()
}

// Stream connects a PULL socket to opts.Endpoint and emits decoded frame
// and lifecycle messages until ctx is done.
func Stream(ctx context.Context, opts Options) (<-chan types.Message, error) {
	if opts.LogEvery < 1 {
		opts.LogEvery = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().UnixMilli() }
	}
	codec, err := ParseCodec(string(opts.Codec))
	if err != nil {
		return nil, err
	}

	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, fmt.Errorf("zmq socket: %w", err)
	}
	if err := socket.SetRcvtimeo(250 * time.Millisecond); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("zmq rcvtimeo: %w", err)
	}
	if err := socket.Connect(opts.Endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("zmq connect %s: %w", opts.Endpoint, err)
	}

	out := make(chan types.Message, 128)
	go func() {
		defer close(out)
		defer socket.Close()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			payload, err := socket.RecvBytes(0)
			if err != nil {
				if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
					continue
				}
				logEveryN(opts.Logger, opts.LogEvery, "ingest recv error", "err", err)
				continue
			}

			if opts.Recorder != nil {
				if err := opts.Recorder.Record(payload); err != nil {
					logEveryN(opts.Logger, opts.LogEvery, "raw log write failed", "err", err)
				}
			}

			start := time.Now()
			msg, err := Decode(payload, codec, opts.Now())
			decodeCount.Add(1)
			decodeNanos.Add(uint64(time.Since(start).Nanoseconds()))
			if err != nil {
				decodeFailures.Add(1)
				logEveryN(opts.Logger, opts.LogEvery, "ingest decode skipped message", "err", err)
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- msg:
			}
		}
	}()

	return out, nil
}

func logEveryN(log *slog.Logger, n int, msg string, args ...any) {
	if logCounter.Add(1)%uint64(n) == 0 {
		log.Warn(msg, args...)
	}
}
