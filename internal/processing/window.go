package processing

import "flashguard-go/internal/config"

type Classification struct {
	FrequencyHz uint32
	Hazard      bool
}

// FlashWindow counts threshold-crossing luminance deltas inside a trailing
// time window. Timestamps are kept in non-decreasing insertion order.
type FlashWindow struct {
	timestamps []int64
}

// Observe prunes expired events, records a new one when delta crosses the
// threshold and classifies the resulting frequency. Already recorded events
// are never re-evaluated against a changed threshold.
func (w *FlashWindow) Observe(delta float64, nowMs int64, cfg config.DetectionConfig) Classification {
	w.Prune(nowMs, cfg.WindowMs)

	if delta > cfg.BrightnessDeltaThreshold {
		w.timestamps = append(w.timestamps, nowMs)
	}

	freq := uint32(len(w.timestamps))
	return Classification{
		FrequencyHz: freq,
		Hazard:      freq >= cfg.FlashFrequencyThresholdHz,
	}
}

// Prune drops the prefix of events that are windowMs or more older than nowMs.
func (w *FlashWindow) Prune(nowMs int64, windowMs uint32) {
	keep := len(w.timestamps)
	for i, t := range w.timestamps {
		if nowMs-t < int64(windowMs) {
			keep = i
			break
		}
	}
	if keep == 0 {
		return
	}
	n := copy(w.timestamps, w.timestamps[keep:])
	w.timestamps = w.timestamps[:n]
}

func (w *FlashWindow) Len() int {
	return len(w.timestamps)
}

func (w *FlashWindow) Timestamps() []int64 {
	return append([]int64(nil), w.timestamps...)
}

func (w *FlashWindow) Reset() {
	w.timestamps = w.timestamps[:0]
}
