package pipeline

import (
	"sync"

	"flashguard-go/internal/config"
	"flashguard-go/internal/cooldown"
	"flashguard-go/internal/diagnostics"
	"flashguard-go/internal/processing"
	"flashguard-go/internal/types"
)

type Deps struct {
	Provider *config.Provider
	Signal   cooldown.Signaler
	Sink     diagnostics.Sink
	Stats    *processing.Aggregator
}

type nopSignal struct{}

func (nopSignal) Trigger(types.SourceID) {}
func (nopSignal) Release(types.SourceID) {}

// DetectionState is a point-in-time copy of one source's detection state.
type DetectionState struct {
	PrevBrightness  float64 `json:"prev_brightness"`
	HasPrev         bool    `json:"has_prev"`
	FlashTimestamps []int64 `json:"flash_timestamps"`
	LastFlashAtMs   int64   `json:"last_flash_at_ms"`
	Active          bool    `json:"active"`
}

// Pipeline runs the per-source detection chain: luminance, flash window and
// cooldown. Frame, Tick and Lifecycle are each atomic with respect to one
// another. After Close every call is a no-op.
type Pipeline struct {
	mu       sync.Mutex
	id       types.SourceID
	key      string
	deps     Deps
	analyzer processing.LuminanceAnalyzer
	window   processing.FlashWindow
	cooldown *cooldown.Controller
	closed   bool
}

func New(id types.SourceID, key string, deps Deps) *Pipeline {
	if deps.Provider == nil {
		deps.Provider, _ = config.NewProvider(config.Defaults())
	}
	if deps.Signal == nil {
		deps.Signal = nopSignal{}
	}
	if deps.Sink == nil {
		deps.Sink = diagnostics.Nop{}
	}
	if deps.Stats == nil {
		deps.Stats = processing.NewAggregator()
	}
	return &Pipeline{
		id:       id,
		key:      key,
		deps:     deps,
		cooldown: cooldown.New(id, deps.Signal),
	}
}

func (p *Pipeline) ID() types.SourceID { return p.id }
func (p *Pipeline) Key() string        { return p.key }

// Frame processes one sampled frame. A malformed frame resets the
// brightness baseline and returns processing.ErrEmptyFrame; no other stage
// runs for it.
func (p *Pipeline) Frame(sample types.FrameSample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}

	cfg := p.deps.Provider.Detection()
	now := sample.TimestampMs

	luma, err := p.analyzer.Analyze(sample)
	if err != nil {
		p.deps.Stats.AddSkipped(p.id, p.key)
		return err
	}

	flashed := luma.Delta > cfg.BrightnessDeltaThreshold
	cls := p.window.Observe(luma.Delta, now, cfg)

	rec := types.FrameRecord{
		Source:      p.id,
		Key:         p.key,
		TimestampMs: now,
		Brightness:  luma.Brightness,
		Delta:       luma.Delta,
		FrequencyHz: cls.FrequencyHz,
		Hazard:      cls.Hazard,
	}
	p.deps.Stats.AddFrame(rec, flashed)
	p.deps.Sink.Frame(rec)

	if tr, ok := p.cooldown.Observe(cls.Hazard, now, cfg.CooldownMs); ok {
		p.emit(tr)
	}
	return nil
}

// Tick is the periodic cooldown check, independent of frame arrival.
func (p *Pipeline) Tick(nowMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if tr, ok := p.cooldown.Expire(nowMs, p.deps.Provider.Detection().CooldownMs); ok {
		p.emit(tr)
	}
}

// Lifecycle applies a playback event. Pause and end release immediately
// and drop the brightness baseline so the first frame after a gap is not
// read as a flash. Removal closes the pipeline.
func (p *Pipeline) Lifecycle(ev types.Lifecycle, nowMs int64) {
	if ev == types.LifecycleRemoved {
		p.Close(nowMs)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	switch ev {
	case types.LifecyclePaused:
		p.forceIdle(nowMs, types.ReasonPaused)
		p.analyzer.Reset()
	case types.LifecycleEnded:
		p.forceIdle(nowMs, types.ReasonEnded)
		p.analyzer.Reset()
		p.window.Reset()
	}
}

// Close releases the source if active and disables the pipeline.
func (p *Pipeline) Close(nowMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.forceIdle(nowMs, types.ReasonRemoved)
	p.closed = true
}

func (p *Pipeline) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pipeline) State() DetectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.analyzer.Previous()
	last, active := p.cooldown.LastFlashAt()
	return DetectionState{
		PrevBrightness:  prev,
		HasPrev:         ok,
		FlashTimestamps: p.window.Timestamps(),
		LastFlashAtMs:   last,
		Active:          active,
	}
}

func (p *Pipeline) forceIdle(nowMs int64, reason types.TransitionReason) {
	if tr, ok := p.cooldown.ForceIdle(nowMs, reason); ok {
		p.emit(tr)
	}
}

func (p *Pipeline) emit(tr cooldown.Transition) {
	rec := types.TransitionRecord{
		Source:      p.id,
		Key:         p.key,
		TimestampMs: tr.AtMs,
		Event:       tr.Event,
		Reason:      tr.Reason,
	}
	p.deps.Stats.AddTransition(rec)
	p.deps.Sink.Transition(rec)
}
