package cooldown

import (
	"flashguard-go/internal/types"
)

type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Signaler receives the debounced suppression requests of a controller.
type Signaler interface {
	Trigger(types.SourceID)
	Release(types.SourceID)
}

type Transition struct {
	Event  types.TransitionEvent
	Reason types.TransitionReason
	AtMs   int64
}

// Controller turns per-frame hazard classifications of one source into a
// debounced active/inactive request. Exactly one Trigger is sent per
// Idle->Active change and exactly one Release per Active->Idle change.
// Callers serialize access.
type Controller struct {
	source        types.SourceID
	signal        Signaler
	state         State
	lastFlashAtMs int64
}

func New(source types.SourceID, signal Signaler) *Controller {
	return &Controller{
		source: source,
		signal: signal,
	}
}

// Observe applies one classification. A hazard activates the source or
// refreshes its cooldown; otherwise the cooldown expiry is checked.
func (c *Controller) Observe(hazard bool, nowMs int64, cooldownMs uint32) (Transition, bool) {
	if !hazard {
		return c.Expire(nowMs, cooldownMs)
	}
	c.lastFlashAtMs = nowMs
	if c.state == Active {
		return Transition{}, false
	}
	c.state = Active
	c.signal.Trigger(c.source)
	return Transition{Event: types.EventTrigger, Reason: types.ReasonHazard, AtMs: nowMs}, true
}

// Expire releases an active source once more than cooldownMs passed since
// its last hazard. It is driven by the periodic timer as well as by frames.
func (c *Controller) Expire(nowMs int64, cooldownMs uint32) (Transition, bool) {
	if c.state != Active || nowMs-c.lastFlashAtMs <= int64(cooldownMs) {
		return Transition{}, false
	}
	return c.release(nowMs, types.ReasonCooldown), true
}

// ForceIdle releases immediately, bypassing the cooldown. Used for pause,
// end of stream and removal.
func (c *Controller) ForceIdle(nowMs int64, reason types.TransitionReason) (Transition, bool) {
	if c.state != Active {
		return Transition{}, false
	}
	return c.release(nowMs, reason), true
}

func (c *Controller) release(nowMs int64, reason types.TransitionReason) Transition {
	c.state = Idle
	c.signal.Release(c.source)
	return Transition{Event: types.EventRelease, Reason: reason, AtMs: nowMs}
}

func (c *Controller) State() State {
	return c.state
}

// LastFlashAt returns the time of the last hazard while active.
func (c *Controller) LastFlashAt() (int64, bool) {
	return c.lastFlashAtMs, c.state == Active
}
