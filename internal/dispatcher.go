package internal

import (
	"log"
	"sync"
)

// Sink is the outbound half of one connection. Deliver must not block: it
// reports false when the payload could not be queued.
type Sink interface {
	Deliver(payload []byte) bool
}

// Dispatcher is the only path outbound traffic takes. Each fan-out encodes
// the event once and hands the same bytes to every recipient's Sink.
type Dispatcher struct {
	registry *Registry
	metrics  *Metrics
	mutex    sync.RWMutex
	sinks    map[string]Sink
}

func NewDispatcher(registry *Registry, metrics *Metrics) *Dispatcher {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Dispatcher{
		registry: registry,
		metrics:  metrics,
		sinks:    make(map[string]Sink),
	}
}

// Attach binds a sink to a connection id, replacing any previous one.
func (d *Dispatcher) Attach(id string, sink Sink) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.sinks[id] = sink
}

func (d *Dispatcher) Detach(id string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	delete(d.sinks, id)
}

// SendTo delivers event to a single connection and returns the number of
// successful deliveries (0 or 1).
func (d *Dispatcher) SendTo(id string, event Outbound) int {
	return d.fanOut([]string{id}, event)
}

// BroadcastRoom delivers event to every member of room except exclude.
func (d *Dispatcher) BroadcastRoom(room string, event Outbound, exclude string) int {
	members := d.registry.MembersOf(room)
	ids := make([]string, 0, len(members))
	for _, member := range members {
		if member.ID == exclude {
			continue
		}
		ids = append(ids, member.ID)
	}
	return d.fanOut(ids, event)
}

// BroadcastAll delivers event to every registered connection.
func (d *Dispatcher) BroadcastAll(event Outbound) int {
	return d.fanOut(d.registry.IDs(), event)
}

func (d *Dispatcher) fanOut(ids []string, event Outbound) int {
	if len(ids) == 0 {
		return 0
	}
	payload, err := encodeOutbound(event)
	if err != nil {
		log.Printf("dispatch: %v", err)
		return 0
	}
	delivered := 0
	for _, id := range ids {
		sink := d.sink(id)
		if sink == nil || !sink.Deliver(payload) {
			d.metrics.IncDropped()
			log.Printf("dispatch: dropped %s for connection %s", event.outboundType(), id)
			continue
		}
		delivered++
	}
	return delivered
}

// Sinks returns a snapshot of every attached sink.
func (d *Dispatcher) Sinks() []Sink {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	sinks := make([]Sink, 0, len(d.sinks))
	for _, sink := range d.sinks {
		sinks = append(sinks, sink)
	}
	return sinks
}

func (d *Dispatcher) sink(id string) Sink {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.sinks[id]
}
