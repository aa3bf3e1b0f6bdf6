package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// Provider holds the latest accepted Settings. Readers always get the
// current snapshot; a rejected update leaves the last-known-good in force.
type Provider struct {
	current   atomic.Pointer[Settings]
	mu        sync.Mutex
	observers []func(Settings)
}

// NewProvider starts from initial, falling back to Defaults when initial is
// invalid. The validation error is returned so the caller can report it.
func NewProvider(initial Settings) (*Provider, error) {
	p := &Provider{}
	err := initial.Validate()
	if err != nil {
		initial = Defaults()
	}
	p.current.Store(&initial)
	return p, err
}

func (p *Provider) Settings() Settings {
	return *p.current.Load()
}

func (p *Provider) Detection() DetectionConfig {
	return p.current.Load().Detection()
}

func (p *Provider) Update(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.current.Store(&s)
	observers := append([]func(Settings){}, p.observers...)
	p.mu.Unlock()
	for _, fn := range observers {
		fn(s)
	}
	return nil
}

// Patch merges a partial JSON settings document over the current snapshot.
func (p *Provider) Patch(data []byte) (Settings, error) {
	next := p.Settings()
	if err := json.Unmarshal(data, &next); err != nil {
		return p.Settings(), fmt.Errorf("decode settings patch: %w", err)
	}
	if err := p.Update(next); err != nil {
		return p.Settings(), err
	}
	return next, nil
}

func (p *Provider) OnChange(fn func(Settings)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.observers = append(p.observers, fn)
	p.mu.Unlock()
}
