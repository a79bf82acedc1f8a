package realtime

import (
	"context"
	"sync"
)

// Binding owns at most one subscription on behalf of a consumer whose
// descriptor or enabled state changes over time.
type Binding struct {
	syncer *Syncer
	opts   Options

	mu      sync.Mutex
	sub     *Subscription
	desc    Descriptor
	enabled bool
	missed  bool
}

func NewBinding(s *Syncer, opts Options) *Binding {
	return &Binding{syncer: s, opts: opts}
}

// Set applies a new descriptor and enabled flag. When either differs from
// the current state the existing subscription is torn down before a new one
// is established. A held subscription whose channel failed is replaced even
// if nothing changed, and its key is invalidated once the replacement is up.
func (b *Binding) Set(ctx context.Context, desc Descriptor, enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	revive := b.sub != nil && b.sub.Failed()
	if revive {
		b.missed = true
	}
	if !revive && b.enabled == enabled && b.desc.Equal(desc) && (b.sub != nil || !enabled) {
		return nil
	}
	if b.sub != nil {
		b.sub.Close()
		b.sub = nil
	}
	b.desc, b.enabled = desc, enabled
	if !enabled {
		b.missed = false
		return nil
	}
	sub, err := b.syncer.Subscribe(ctx, desc, b.opts)
	if err != nil {
		return err
	}
	b.sub = sub
	if b.missed {
		// changes were missed while the channel was gone
		sub.invalidate(ctx, b.syncer.logger)
	}
	b.missed = false
	return nil
}

// Active reports whether a live subscription is currently held.
func (b *Binding) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sub != nil && !b.sub.Failed()
}

// Close tears down the held subscription, if any.
func (b *Binding) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		b.sub.Close()
		b.sub = nil
	}
	b.enabled = false
}
