package suppression

import "flashguard-go/internal/types"

type Nop struct{}

func (Nop) Show()                          {}
func (Nop) Hide()                          {}
func (Nop) SetAppearance(types.Appearance) {}

// Fanout drives several overlays as one, e.g. the websocket broadcaster
// and a log line per visibility change.
type Fanout []Overlay

func (f Fanout) Show() {
	for _, o := range f {
		o.Show()
	}
}

func (f Fanout) Hide() {
	for _, o := range f {
		o.Hide()
	}
}

func (f Fanout) SetAppearance(a types.Appearance) {
	for _, o := range f {
		o.SetAppearance(a)
	}
}
