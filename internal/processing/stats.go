package processing

import (
	"sync"

	"flashguard-go/internal/types"
)

type SourceStats struct {
	Key             string  `json:"key"`
	Frames          uint64  `json:"frames"`
	SkippedFrames   uint64  `json:"skipped_frames"`
	FlashEvents     uint64  `json:"flash_events"`
	PeakFrequencyHz uint32  `json:"peak_frequency_hz"`
	FrequencyHz     uint32  `json:"frequency_hz"`
	Brightness      float64 `json:"brightness"`
	Delta           float64 `json:"delta"`
	Hazard          bool    `json:"hazard"`
	Active          bool    `json:"active"`
	Triggers        uint64  `json:"triggers"`
	Releases        uint64  `json:"releases"`
	LastFrameMs     int64   `json:"last_frame_ms"`
}

// Aggregator collects per-source counters for status reporting. It is
// shared by all pipelines and only ever observes them.
type Aggregator struct {
	mu   sync.Mutex
	data map[types.SourceID]*SourceStats
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		data: make(map[types.SourceID]*SourceStats),
	}
}

func (a *Aggregator) entry(id types.SourceID, key string) *SourceStats {
	st, ok := a.data[id]
	if !ok {
		st = &SourceStats{Key: key}
		a.data[id] = st
	}
	return st
}

func (a *Aggregator) AddFrame(rec types.FrameRecord, flashed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.entry(rec.Source, rec.Key)
	st.Frames++
	if flashed {
		st.FlashEvents++
	}
	st.FrequencyHz = rec.FrequencyHz
	st.PeakFrequencyHz = max(st.PeakFrequencyHz, rec.FrequencyHz)
	st.Brightness = rec.Brightness
	st.Delta = rec.Delta
	st.Hazard = rec.Hazard
	st.LastFrameMs = rec.TimestampMs
}

func (a *Aggregator) AddSkipped(id types.SourceID, key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entry(id, key).SkippedFrames++
}

func (a *Aggregator) AddTransition(rec types.TransitionRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.entry(rec.Source, rec.Key)
	switch rec.Event {
	case types.EventTrigger:
		st.Triggers++
		st.Active = true
	case types.EventRelease:
		st.Releases++
		st.Active = false
	}
}

func (a *Aggregator) Remove(id types.SourceID) {
	a.mu.Lock()
	delete(a.data, id)
	a.mu.Unlock()
}

func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.data = make(map[types.SourceID]*SourceStats)
	a.mu.Unlock()
}

func (a *Aggregator) SnapshotCopy() map[string]SourceStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	snapshot := make(map[string]SourceStats, len(a.data))
	for id, st := range a.data {
		snapshot[id.String()] = *st
	}
	return snapshot
}
