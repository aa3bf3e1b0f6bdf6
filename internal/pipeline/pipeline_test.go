package pipeline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"flashguard-go/internal/config"
	"flashguard-go/internal/processing"
	"flashguard-go/internal/suppression"
	"flashguard-go/internal/types"
)

type fakeOverlay struct {
	mu      sync.Mutex
	shows   int
	hides   int
	visible bool
}

func (f *fakeOverlay) Show() {
	f.mu.Lock()
	f.shows++
	f.visible = true
	f.mu.Unlock()
}

func (f *fakeOverlay) Hide() {
	f.mu.Lock()
	f.hides++
	f.visible = false
	f.mu.Unlock()
}

func (f *fakeOverlay) SetAppearance(types.Appearance) {}

func (f *fakeOverlay) counts() (int, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shows, f.hides, f.visible
}

type recordingSink struct {
	mu          sync.Mutex
	frames      []types.FrameRecord
	transitions []types.TransitionRecord
}

func (r *recordingSink) Frame(rec types.FrameRecord) {
	r.mu.Lock()
	r.frames = append(r.frames, rec)
	r.mu.Unlock()
}

func (r *recordingSink) Transition(rec types.TransitionRecord) {
	r.mu.Lock()
	r.transitions = append(r.transitions, rec)
	r.mu.Unlock()
}

func (r *recordingSink) Warn(string, error) {}

func (r *recordingSink) events() []types.TransitionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.TransitionRecord(nil), r.transitions...)
}

func grayFrame(level byte, t int64) types.FrameSample {
	pixels := make([]byte, 4)
	for i := range pixels {
		pixels[i] = level
	}
	return types.FrameSample{Pixels: pixels, Width: 2, Height: 2, Format: types.FormatGray, TimestampMs: t}
}

type harness struct {
	overlay  *fakeOverlay
	coord    *suppression.Coordinator
	sink     *recordingSink
	provider *config.Provider
	stats    *processing.Aggregator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	provider, err := config.NewProvider(config.Defaults())
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	ov := &fakeOverlay{}
	return &harness{
		overlay:  ov,
		coord:    suppression.NewCoordinator(ov, types.Appearance{}),
		sink:     &recordingSink{},
		provider: provider,
		stats:    processing.NewAggregator(),
	}
}

func (h *harness) deps() Deps {
	return Deps{Provider: h.provider, Signal: h.coord, Sink: h.sink, Stats: h.stats}
}

// strobe feeds alternating black/white frames every step ms in [from, to).
func strobe(p *Pipeline, from, to, step int64) {
	level := byte(0)
	for t := from; t < to; t += step {
		_ = p.Frame(grayFrame(level, t))
		level ^= 0xff
	}
}

func TestPipelineStrobeTriggersAndCoolsDown(t *testing.T) {
	h := newHarness(t)
	p := New(types.NewSourceID(), "tab-1", h.deps())

	strobe(p, 0, 200, 50)
	if !h.coord.Visible() {
		t.Fatalf("expected overlay visible after strobe")
	}
	st := p.State()
	if !st.Active || st.LastFlashAtMs != 150 {
		t.Fatalf("unexpected state %+v", st)
	}

	p.Tick(649)
	if !h.coord.Visible() {
		t.Fatalf("released before cooldown elapsed")
	}
	p.Tick(651)
	if h.coord.Visible() {
		t.Fatalf("expected release after cooldown")
	}

	events := h.sink.events()
	if len(events) != 2 || events[0].Event != types.EventTrigger || events[1].Reason != types.ReasonCooldown {
		t.Fatalf("unexpected transitions %+v", events)
	}
	stats := h.stats.SnapshotCopy()[p.ID().String()]
	if stats.Triggers != 1 || stats.Releases != 1 || stats.PeakFrequencyHz < 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPipelineEmptyFrameResetsBaseline(t *testing.T) {
	h := newHarness(t)
	p := New(types.NewSourceID(), "tab-1", h.deps())

	if err := p.Frame(grayFrame(0, 0)); err != nil {
		t.Fatalf("frame: %v", err)
	}
	err := p.Frame(types.FrameSample{TimestampMs: 16})
	if !errors.Is(err, processing.ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
	if err := p.Frame(grayFrame(255, 33)); err != nil {
		t.Fatalf("frame: %v", err)
	}
	last := h.sink.frames[len(h.sink.frames)-1]
	if last.Delta != 0 {
		t.Fatalf("expected delta 0 after empty frame, got %v", last.Delta)
	}
	if got := h.stats.SnapshotCopy()[p.ID().String()].SkippedFrames; got != 1 {
		t.Fatalf("expected 1 skipped frame, got %d", got)
	}
}

func TestPipelinePauseReleasesImmediately(t *testing.T) {
	h := newHarness(t)
	p := New(types.NewSourceID(), "tab-1", h.deps())

	strobe(p, 0, 200, 50)
	p.Lifecycle(types.LifecyclePaused, 210)
	if h.coord.Visible() {
		t.Fatalf("expected immediate release on pause")
	}
	events := h.sink.events()
	if events[len(events)-1].Reason != types.ReasonPaused {
		t.Fatalf("expected paused release, got %+v", events)
	}
	if st := p.State(); st.HasPrev {
		t.Fatalf("expected baseline dropped on pause")
	}
}

func TestPipelineClosedIsNoop(t *testing.T) {
	h := newHarness(t)
	p := New(types.NewSourceID(), "tab-1", h.deps())
	strobe(p, 0, 200, 50)

	p.Close(300)
	if h.coord.Visible() {
		t.Fatalf("close did not release the source")
	}
	p.Close(301)
	strobe(p, 400, 600, 50)
	p.Tick(2000)
	p.Lifecycle(types.LifecyclePaused, 2001)

	if shows, hides, _ := h.overlay.counts(); shows != 1 || hides != 1 {
		t.Fatalf("closed pipeline touched the overlay: shows=%d hides=%d", shows, hides)
	}
}

func TestPipelineReadsConfigEachTick(t *testing.T) {
	h := newHarness(t)
	p := New(types.NewSourceID(), "tab-1", h.deps())
	strobe(p, 0, 200, 50)

	next := h.provider.Settings()
	next.CooldownTime = 5000
	if err := h.provider.Update(next); err != nil {
		t.Fatalf("update: %v", err)
	}
	p.Tick(1000)
	if !h.coord.Visible() {
		t.Fatalf("new cooldown not applied on the next tick")
	}
	p.Tick(5151)
	if h.coord.Visible() {
		t.Fatalf("expected release after the extended cooldown")
	}
}

func TestRegistryMultiSource(t *testing.T) {
	h := newHarness(t)
	r := NewRegistry(h.deps(), RegistryOptions{Now: func() int64 { return 0 }})
	defer r.Close()

	frame := func(key string, level byte, t int64) types.Message {
		return types.Message{Type: types.MessageFrame, Key: key, Frame: grayFrame(level, t)}
	}

	// A strobes from 0, B from 10; both go quiet afterwards.
	level := byte(0)
	for i := int64(0); i < 4; i++ {
		r.Dispatch(frame("a", level, i*33))
		r.Dispatch(frame("b", level, 10+i*33))
		level ^= 0xff
	}
	if shows, _, visible := h.overlay.counts(); shows != 1 || !visible {
		t.Fatalf("expected a single show, got shows=%d visible=%v", shows, visible)
	}

	pa, _ := r.Pipeline("a")
	pb, _ := r.Pipeline("b")
	pa.Tick(600)
	if !h.coord.Visible() {
		t.Fatalf("overlay hidden while B active")
	}
	pb.Tick(620)
	if shows, hides, visible := h.overlay.counts(); shows != 1 || hides != 1 || visible {
		t.Fatalf("unexpected overlay history shows=%d hides=%d visible=%v", shows, hides, visible)
	}
}

func TestRegistryUntrackReleasesActiveSource(t *testing.T) {
	h := newHarness(t)
	r := NewRegistry(h.deps(), RegistryOptions{Tick: 5 * time.Millisecond, Now: func() int64 { return 100 }})

	level := byte(0)
	for i := int64(0); i < 4; i++ {
		r.Dispatch(types.Message{Type: types.MessageFrame, Key: "tab", Frame: grayFrame(level, i*20)})
		level ^= 0xff
	}
	if !h.coord.Visible() {
		t.Fatalf("expected overlay visible")
	}
	if got := r.Sources(); len(got) != 1 || !got[0].Playing {
		t.Fatalf("unexpected sources %+v", got)
	}

	r.Dispatch(types.Message{Type: types.MessageLifecycle, Key: "tab", Lifecycle: types.LifecycleRemoved})
	if h.coord.Visible() {
		t.Fatalf("removal did not release the source")
	}
	if len(r.Sources()) != 0 {
		t.Fatalf("source still tracked after removal")
	}
	events := h.sink.events()
	if last := events[len(events)-1]; last.Reason != types.ReasonRemoved {
		t.Fatalf("expected removed release, got %+v", last)
	}

	r.Dispatch(types.Message{Type: types.MessageLifecycle, Key: "tab", Lifecycle: types.LifecyclePaused})
	r.Untrack("tab")
	r.Close()
	r.Dispatch(types.Message{Type: types.MessageFrame, Key: "late", Frame: grayFrame(0, 1)})
	if len(r.Sources()) != 0 {
		t.Fatalf("closed registry accepted a new source")
	}
}

func TestRegistryTimerReleases(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	now := int64(0)
	clock := func() int64 {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	r := NewRegistry(h.deps(), RegistryOptions{Tick: 2 * time.Millisecond, Now: clock})
	defer r.Close()

	level := byte(0)
	for i := int64(0); i < 4; i++ {
		r.Dispatch(types.Message{Type: types.MessageFrame, Key: "tab", Frame: grayFrame(level, i*20)})
		level ^= 0xff
	}
	if !h.coord.Visible() {
		t.Fatalf("expected overlay visible")
	}

	mu.Lock()
	now = 10_000
	mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for h.coord.Visible() {
		if time.Now().After(deadline) {
			t.Fatalf("timer never released the source")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRegistryPauseStopsTimer(t *testing.T) {
	h := newHarness(t)
	r := NewRegistry(h.deps(), RegistryOptions{Tick: time.Millisecond})
	defer r.Close()

	r.Dispatch(types.Message{Type: types.MessageFrame, Key: "tab", Frame: grayFrame(10, 0)})
	r.Dispatch(types.Message{Type: types.MessageLifecycle, Key: "tab", Lifecycle: types.LifecyclePaused})
	if got := r.Sources(); len(got) != 1 || got[0].Playing {
		t.Fatalf("expected paused source, got %+v", got)
	}
	r.Dispatch(types.Message{Type: types.MessageLifecycle, Key: "tab", Lifecycle: types.LifecycleResumed})
	if got := r.Sources(); !got[0].Playing {
		t.Fatalf("expected timer restarted on resume")
	}
}

func TestRegistryTimerFollowsSourceClock(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	wall := int64(1_790_000_000_000)
	clock := func() int64 {
		mu.Lock()
		defer mu.Unlock()
		return wall
	}
	advance := func(ms int64) {
		mu.Lock()
		wall += ms
		mu.Unlock()
	}
	r := NewRegistry(h.deps(), RegistryOptions{Tick: time.Millisecond, Now: clock})
	defer r.Close()

	// Media-time stamps far from the wall clock.
	level := byte(0)
	for ts := int64(5000); ts < 5200; ts += 40 {
		r.Dispatch(types.Message{Type: types.MessageFrame, Key: "video", Frame: grayFrame(level, ts)})
		level ^= 0xff
		advance(40)
	}
	if !h.coord.Visible() {
		t.Fatalf("expected overlay visible")
	}

	// Many timer ticks inside the cooldown must not release.
	time.Sleep(30 * time.Millisecond)
	if shows, hides, visible := h.overlay.counts(); shows != 1 || hides != 0 || !visible {
		t.Fatalf("released early: shows=%d hides=%d visible=%v", shows, hides, visible)
	}

	advance(int64(config.DefaultCooldownMs) + 100)
	deadline := time.Now().Add(2 * time.Second)
	for h.coord.Visible() {
		if time.Now().After(deadline) {
			t.Fatalf("timer never released the source")
		}
		time.Sleep(2 * time.Millisecond)
	}
	events := h.sink.events()
	last := events[len(events)-1]
	if last.Reason != types.ReasonCooldown || last.TimestampMs < 5160+int64(config.DefaultCooldownMs) || last.TimestampMs > 10_000 {
		t.Fatalf("expected cooldown release on the media clock, got %+v", last)
	}
}
