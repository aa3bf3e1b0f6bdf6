package pipeline

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"flashguard-go/internal/processing"
	"flashguard-go/internal/types"
)

const DefaultTick = 100 * time.Millisecond

type RegistryOptions struct {
	// Tick is the cooldown timer period per playing source. Zero or
	// negative disables the timers.
	Tick   time.Duration
	Now    func() int64
	Logger *slog.Logger
}

type SourceInfo struct {
	Key     string         `json:"key"`
	ID      types.SourceID `json:"id"`
	Playing bool           `json:"playing"`
}

type source struct {
	pipe  *Pipeline
	clock frameClock
	stop  chan struct{}
	done  chan struct{}
}

// frameClock maps wall time onto a source's own timestamp domain: the last
// frame timestamp plus the wall time elapsed since that frame arrived.
type frameClock struct {
	mu   sync.Mutex
	ts   int64
	wall int64
	set  bool
}

func (c *frameClock) observe(ts, wall int64) {
	c.mu.Lock()
	c.ts, c.wall, c.set = ts, wall, true
	c.mu.Unlock()
}

func (c *frameClock) at(wall int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return wall
	}
	elapsed := wall - c.wall
	if elapsed < 0 {
		elapsed = 0
	}
	return c.ts + elapsed
}

// Registry owns one Pipeline per source key and its cooldown timer.
type Registry struct {
	mu      sync.Mutex
	deps    Deps
	opts    RegistryOptions
	sources map[string]*source
	closed  bool
	skipped uint64
}

func NewRegistry(deps Deps, opts RegistryOptions) *Registry {
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().UnixMilli() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if deps.Stats == nil {
		deps.Stats = processing.NewAggregator()
	}
	return &Registry{
		deps:    deps,
		opts:    opts,
		sources: make(map[string]*source),
	}
}

// Track returns the SourceID for key, creating its pipeline on first use.
// It reports false once the registry is closed.
func (r *Registry) Track(key string) (types.SourceID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.track(key)
	if !ok {
		return types.SourceID{}, false
	}
	return s.pipe.ID(), true
}

func (r *Registry) track(key string) (*source, bool) {
	if r.closed {
		return nil, false
	}
	if s, ok := r.sources[key]; ok {
		return s, true
	}
	s := &source{pipe: New(types.NewSourceID(), key, r.deps)}
	r.sources[key] = s
	r.opts.Logger.Info("source tracked", "source", key, "id", s.pipe.ID())
	return s, true
}

// Dispatch routes one ingest message. Frames implicitly track their source
// and start its timer. Messages for unknown or removed sources other than
// frames are dropped. Messages without a timestamp are stamped on the
// source's frame clock.
func (r *Registry) Dispatch(msg types.Message) {
	wall := r.opts.Now()

	switch msg.Type {
	case types.MessageFrame:
		r.mu.Lock()
		s, ok := r.track(msg.Key)
		if ok {
			r.startTimer(s)
		}
		r.mu.Unlock()
		if !ok {
			return
		}
		sample := msg.Frame
		sample.Source = s.pipe.ID()
		if sample.TimestampMs == 0 {
			sample.TimestampMs = msg.TimestampMs
		}
		if sample.TimestampMs == 0 {
			sample.TimestampMs = s.clock.at(wall)
		}
		s.clock.observe(sample.TimestampMs, wall)
		if err := s.pipe.Frame(sample); err != nil {
			r.noteSkipped(msg.Key, err)
		}

	case types.MessageLifecycle:
		if msg.Lifecycle == types.LifecycleRemoved {
			r.untrack(msg.Key, func(s *source) int64 { return stamp(msg, s, wall) })
			return
		}
		r.mu.Lock()
		s, ok := r.sources[msg.Key]
		if !ok || r.closed {
			r.mu.Unlock()
			return
		}
		now := stamp(msg, s, wall)
		switch msg.Lifecycle {
		case types.LifecyclePaused, types.LifecycleEnded:
			r.stopTimer(s)
		case types.LifecycleResumed:
			r.startTimer(s)
		}
		r.mu.Unlock()
		s.pipe.Lifecycle(msg.Lifecycle, now)
	}
}

func stamp(msg types.Message, s *source, wall int64) int64 {
	if msg.TimestampMs != 0 {
		return msg.TimestampMs
	}
	return s.clock.at(wall)
}

func (r *Registry) noteSkipped(key string, err error) {
	r.mu.Lock()
	r.skipped++
	n := r.skipped
	r.mu.Unlock()
	if errors.Is(err, processing.ErrEmptyFrame) || errors.Is(err, processing.ErrInvalidBrightness) {
		if n == 1 || n%100 == 0 {
			r.opts.Logger.Debug("frame skipped", "source", key, "err", err, "skipped_total", n)
		}
		return
	}
	r.opts.Logger.Warn("frame failed", "source", key, "err", err)
}

// Untrack stops the source's timer, waits for it to exit and closes the
// pipeline, releasing the source if it was active.
func (r *Registry) Untrack(key string) {
	wall := r.opts.Now()
	r.untrack(key, func(s *source) int64 { return s.clock.at(wall) })
}

func (r *Registry) untrack(key string, nowFn func(*source) int64) {
	r.mu.Lock()
	s, ok := r.sources[key]
	if ok {
		delete(r.sources, key)
		r.stopTimer(s)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	s.pipe.Close(nowFn(s))
	r.deps.Stats.Remove(s.pipe.ID())
	r.opts.Logger.Info("source removed", "source", key)
}

func (r *Registry) Pipeline(key string) (*Pipeline, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[key]
	if !ok {
		return nil, false
	}
	return s.pipe, true
}

func (r *Registry) Sources() []SourceInfo {
	r.mu.Lock()
	out := make([]SourceInfo, 0, len(r.sources))
	for key, s := range r.sources {
		out = append(out, SourceInfo{Key: key, ID: s.pipe.ID(), Playing: s.stop != nil})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (r *Registry) Stats() map[string]processing.SourceStats {
	return r.deps.Stats.SnapshotCopy()
}

// Close tears down every source. Later calls to Dispatch are ignored.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	keys := make([]string, 0, len(r.sources))
	for key := range r.sources {
		keys = append(keys, key)
	}
	r.mu.Unlock()
	wall := r.opts.Now()
	for _, key := range keys {
		r.untrack(key, func(s *source) int64 { return s.clock.at(wall) })
	}
}

// startTimer and stopTimer are called with r.mu held. The timer goroutine
// never takes r.mu, so stopTimer can wait for it.
func (r *Registry) startTimer(s *source) {
	if r.opts.Tick <= 0 || s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func(pipe *Pipeline, clock *frameClock, stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(r.opts.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				pipe.Tick(clock.at(r.opts.Now()))
			}
		}
	}(s.pipe, &s.clock, s.stop, s.done)
}

func (r *Registry) stopTimer(s *source) {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.done = nil
}
