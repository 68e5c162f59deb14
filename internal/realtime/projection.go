package realtime

import "sync"

// Projection is the consumer-side view built from a realtime stream. It keeps
// the newest event per entity, so redelivered or stale events are no-ops.
type Projection struct {
	mu       sync.RWMutex
	entities map[string]Event
	cursor   uint64
}

// NewProjection creates an empty projection.
func NewProjection() *Projection {
	return &Projection{entities: make(map[string]Event)}
}

// Apply merges ev and reports whether the view changed.
func (p *Projection) Apply(ev Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.Offset > p.cursor {
		p.cursor = ev.Offset
	}
	current, ok := p.entities[ev.Key()]
	if ok && current.Version >= ev.Version {
		return false
	}
	p.entities[ev.Key()] = ev
	return true
}

// Get returns the newest event seen for an entity.
func (p *Projection) Get(entityType EntityType, entityID string) (Event, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ev, ok := p.entities[string(entityType)+":"+entityID]
	return ev, ok
}

// Cursor is the highest offset applied; pass it as "since" when reconnecting.
func (p *Projection) Cursor() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cursor
}

// Snapshot returns the current state of every entity.
func (p *Projection) Snapshot() map[string]Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Event, len(p.entities))
	for k, v := range p.entities {
		out[k] = v
	}
	return out
}
