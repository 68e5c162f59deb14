package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"dispatch/internal/logger"
	"dispatch/internal/metrics"
)

const (
	defaultBufferSize = 64
	defaultReplaySize = 512
)

// ErrTenantRequired is returned when subscribing or publishing without a tenant.
var ErrTenantRequired = errors.New("tenant id is required")

// Audience narrows a tenant subscription. Driver subscriptions only receive
// events addressed to the driver; client subscriptions only events about the
// client's own requests. An empty audience receives the whole tenant topic.
type Audience struct {
	DriverID string
	ClientID string
}

func (a Audience) matches(ev Event) bool {
	if a.DriverID != "" && ev.DriverID != a.DriverID {
		return false
	}
	if a.ClientID != "" && ev.ClientID != a.ClientID {
		return false
	}
	return true
}

// HubOptions configures a Hub.
type HubOptions struct {
	BufferSize int
	ReplaySize int
	Logger     *logger.Logger
	Metrics    *metrics.DispatchMetrics
}

// Hub is the in-process broadcaster. It assigns per-tenant offsets, keeps a
// bounded replay log, and drops events older than what subscribers already saw
// for the same entity.
type Hub struct {
	mu         sync.Mutex
	tenants    map[string]*topic
	bufferSize int
	replaySize int
	logger     *logger.Logger
	metrics    *metrics.DispatchMetrics
}

type topic struct {
	offset      uint64
	log         []Event
	lastVersion map[string]int64
	subs        map[string]*Subscription
}

// Subscription is one consumer of a tenant topic.
type Subscription struct {
	ID       string
	TenantID string
	Audience Audience
	// Offset is the topic offset at the moment of subscribing.
	Offset uint64
	// Resync is set when since was ahead of the topic, which happens after
	// the hub restarted. The consumer must reload its state.
	Resync bool

	ch     chan Event
	lagged bool
	closed bool
	hub    *Hub
}

// NewHub creates a Hub.
func NewHub(opts HubOptions) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.ReplaySize <= 0 {
		opts.ReplaySize = defaultReplaySize
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Hub{
		tenants:    make(map[string]*topic),
		bufferSize: opts.BufferSize,
		replaySize: opts.ReplaySize,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

var _ Publisher = (*Hub)(nil)

func (h *Hub) topicLocked(tenantID string) *topic {
	t, ok := h.tenants[tenantID]
	if !ok {
		t = &topic{
			lastVersion: make(map[string]int64),
			subs:        make(map[string]*Subscription),
		}
		h.tenants[tenantID] = t
	}
	return t
}

// Publish delivers ev to matching subscribers of its tenant. An event whose
// version is not newer than the last one published for the same entity is
// dropped; subscribers already hold a state at least that new.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	if ev.TenantID == "" {
		return ErrTenantRequired
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topicLocked(ev.TenantID)
	key := ev.Key()
	if last, ok := t.lastVersion[key]; ok && ev.Version <= last {
		h.metrics.IncRealtimeDropped("stale")
		return nil
	}
	t.lastVersion[key] = ev.Version

	t.offset++
	ev.Offset = t.offset
	t.log = append(t.log, ev)
	if len(t.log) > h.replaySize {
		t.log = append([]Event(nil), t.log[len(t.log)-h.replaySize:]...)
	}
	if len(t.lastVersion) > 4*h.replaySize {
		t.compactVersions()
	}

	for _, sub := range t.subs {
		if !sub.Audience.matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow consumer: close it so the client reconnects and replays from its cursor.
			sub.lagged = true
			h.removeLocked(t, sub)
			h.metrics.IncRealtimeDropped("lagged")
			h.logger.Warn(h.logger.WithFields(ctx, map[string]any{
				"tenant_id":       ev.TenantID,
				"subscription_id": sub.ID,
			}), "realtime subscriber lagged, closing")
		}
	}
	return nil
}

// compactVersions forgets versions of entities no longer in the replay log.
func (t *topic) compactVersions() {
	keep := make(map[string]int64, len(t.log))
	for _, ev := range t.log {
		keep[ev.Key()] = t.lastVersion[ev.Key()]
	}
	t.lastVersion = keep
}

// Subscribe opens a subscription on a tenant topic. When since is non-zero,
// retained events with a greater offset are replayed first; the consumer may
// see events it already applied and must merge idempotently.
func (h *Hub) Subscribe(tenantID string, audience Audience, since uint64) (*Subscription, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topicLocked(tenantID)
	resync := since > t.offset
	if resync {
		since = 0
	}
	var replay []Event
	if since > 0 {
		for _, ev := range t.log {
			if ev.Offset > since && audience.matches(ev) {
				replay = append(replay, ev)
			}
		}
	}

	sub := &Subscription{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Audience: audience,
		Offset:   t.offset,
		Resync:   resync,
		ch:       make(chan Event, h.bufferSize+len(replay)),
		hub:      h,
	}
	for _, ev := range replay {
		sub.ch <- ev
	}
	t.subs[sub.ID] = sub
	h.metrics.AddSubscribers(1)
	return sub, nil
}

// Offset returns the latest offset assigned on a tenant topic.
func (h *Hub) Offset(tenantID string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.tenants[tenantID]; ok {
		return t.offset
	}
	return 0
}

// Snapshot folds the retained log of a tenant into a projection for the
// audience. Its cursor is the offset to subscribe from afterwards.
func (h *Hub) Snapshot(tenantID string, audience Audience) *Projection {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := NewProjection()
	t, ok := h.tenants[tenantID]
	if !ok {
		return p
	}
	for _, ev := range t.log {
		if audience.matches(ev) {
			p.Apply(ev)
		}
	}
	if t.offset > p.cursor {
		p.cursor = t.offset
	}
	return p
}

// Close ends every open subscription, e.g. on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.tenants {
		for _, sub := range t.subs {
			h.removeLocked(t, sub)
		}
	}
}

func (h *Hub) removeLocked(t *topic, sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(t.subs, sub.ID)
	close(sub.ch)
	h.metrics.AddSubscribers(-1)
}

// Events is the stream of delivered events. It is closed when the
// subscription is closed or falls behind.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Lagged reports whether the hub closed the subscription for falling behind.
func (s *Subscription) Lagged() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.lagged
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if t, ok := s.hub.tenants[s.TenantID]; ok {
		s.hub.removeLocked(t, s)
	}
}
