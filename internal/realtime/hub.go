package realtime

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultPingInterval is how often every subscriber is pinged for liveness.
const DefaultPingInterval = 30 * time.Second

// Hub is the process-wide registry of live subscribers, keyed by owner.
type Hub struct {
	mu           sync.RWMutex
	owners       map[int64]map[Sink]struct{}
	pingInterval time.Duration
}

func NewHub(pingInterval time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	return &Hub{
		owners:       make(map[int64]map[Sink]struct{}),
		pingInterval: pingInterval,
	}
}

func (h *Hub) Register(ownerID int64, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.owners[ownerID] == nil {
		h.owners[ownerID] = make(map[Sink]struct{})
	}
	h.owners[ownerID][sink] = struct{}{}
	log.Printf("[hub][register] owner=%d subscribers=%d", ownerID, len(h.owners[ownerID]))
}

// Unregister removes and closes the sink. Calling it for a sink that was
// already pruned is harmless.
func (h *Hub) Unregister(ownerID int64, sink Sink) {
	h.mu.Lock()
	if sinks, ok := h.owners[ownerID]; ok {
		delete(sinks, sink)
		if len(sinks) == 0 {
			delete(h.owners, ownerID)
		}
	}
	h.mu.Unlock()
	_ = sink.Close()
}

// Publish hands ev to every subscriber of ownerID on the caller's goroutine,
// so sinks must return promptly. A sink that fails is pruned and the event is
// dropped for it.
func (h *Hub) Publish(ownerID int64, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	for _, sink := range h.snapshot(ownerID) {
		if err := sink.Send(ev); err != nil {
			log.Printf("[hub][publish][prune] owner=%d type=%s: %v", ownerID, ev.Type, err)
			h.Unregister(ownerID, sink)
		}
	}
}

// Subscribers returns the number of live subscribers for ownerID.
func (h *Hub) Subscribers(ownerID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners[ownerID])
}

// PingAll pings every subscriber once and prunes the ones that fail.
func (h *Hub) PingAll() {
	h.mu.RLock()
	type entry struct {
		owner int64
		sink  Sink
	}
	var all []entry
	for owner, sinks := range h.owners {
		for s := range sinks {
			all = append(all, entry{owner, s})
		}
	}
	h.mu.RUnlock()

	for _, e := range all {
		if err := e.sink.Ping(); err != nil {
			log.Printf("[hub][ping][prune] owner=%d: %v", e.owner, err)
			h.Unregister(e.owner, e.sink)
		}
	}
}

// Run pings subscribers on the configured interval until ctx is done, then
// closes every remaining sink.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.PingAll()
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

func (h *Hub) snapshot(ownerID int64) []Sink {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sinks := h.owners[ownerID]
	out := make([]Sink, 0, len(sinks))
	for s := range sinks {
		out = append(out, s)
	}
	return out
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	owners := h.owners
	h.owners = make(map[int64]map[Sink]struct{})
	h.mu.Unlock()

	for _, sinks := range owners {
		for s := range sinks {
			_ = s.Close()
		}
	}
}
