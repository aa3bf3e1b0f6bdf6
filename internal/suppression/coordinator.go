package suppression

import (
	"sort"
	"sync"

	"flashguard-go/internal/types"
)

// Overlay is the full-viewport cover the coordinator drives.
type Overlay interface {
	Show()
	Hide()
	SetAppearance(types.Appearance)
}

// Coordinator aggregates per-source activity into one overlay. The overlay
// is visible exactly when at least one source is active.
type Coordinator struct {
	mu         sync.Mutex
	overlay    Overlay
	active     map[types.SourceID]struct{}
	appearance types.Appearance
}

func NewCoordinator(overlay Overlay, appearance types.Appearance) *Coordinator {
	if overlay == nil {
		overlay = Nop{}
	}
	overlay.SetAppearance(appearance)
	return &Coordinator{
		overlay:    overlay,
		active:     make(map[types.SourceID]struct{}),
		appearance: appearance,
	}
}

func (c *Coordinator) Trigger(id types.SourceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[id]; ok {
		return
	}
	c.active[id] = struct{}{}
	if len(c.active) == 1 {
		c.overlay.Show()
	}
}

func (c *Coordinator) Release(id types.SourceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[id]; !ok {
		return
	}
	delete(c.active, id)
	if len(c.active) == 0 {
		c.overlay.Hide()
	}
}

// UpdateAppearance forwards the new look to the overlay without touching
// visibility.
func (c *Coordinator) UpdateAppearance(a types.Appearance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appearance = a
	c.overlay.SetAppearance(a)
}

func (c *Coordinator) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active) > 0
}

func (c *Coordinator) Appearance() types.Appearance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appearance
}

// Active returns the active source IDs in string order.
func (c *Coordinator) Active() []types.SourceID {
	c.mu.Lock()
	ids := make([]types.SourceID, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
