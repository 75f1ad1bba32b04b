// Package kb holds the entity registry owned by one orchestrator: which
// EntityIDs are bound to an active stream, and the last sample each emitted.
package kb

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/signalsfoundry/telemetry-generator/model"
)

var (
	// ErrDuplicateEntity is returned when an EntityID is already bound to an active stream.
	ErrDuplicateEntity = errors.New("entity already registered")
	// ErrEntityNotFound is returned for lookups of unknown EntityIDs.
	ErrEntityNotFound = errors.New("entity not found")
)

// EventType indicates what kind of change happened in the registry.
type EventType int

const (
	EventEntityRegistered EventType = iota
	EventSampleEmitted
	EventEntityDeactivated
)

func (t EventType) String() string {
	switch t {
	case EventEntityRegistered:
		return "registered"
	case EventSampleEmitted:
		return "sample"
	case EventEntityDeactivated:
		return "deactivated"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type   EventType
	Entity EntityRecord
}

// EntityRecord is a snapshot of one registry entry.
type EntityRecord struct {
	Identity model.EntityIdentity
	// Schema is the encoder schema the entity's messages are tagged with.
	Schema string
	Active bool
	// Order is the registration index; it breaks timestamp ties during merge.
	Order   int
	Emitted uint64
	// Last is the most recent emitted sample; zero until the first emission.
	Last model.TelemetrySample
}

type subscription struct {
	id int
	fn func(Event)
}

// Registry is an in-memory, thread-safe EntityID → entity map. It is never
// shared between orchestrators.
type Registry struct {
	mu sync.RWMutex

	entities map[model.EntityID]*EntityRecord
	order    int

	subs   []subscription
	nextID int
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entities: make(map[model.EntityID]*EntityRecord)}
}

// Register binds identity to a new active entry. An inactive entry with the
// same ID is replaced; an active one is rejected with ErrDuplicateEntity.
func (r *Registry) Register(identity model.EntityIdentity, schema string) (EntityRecord, error) {
	if identity.ID == "" {
		return EntityRecord{}, errors.New("entity ID must not be empty")
	}
	r.mu.Lock()
	if existing, ok := r.entities[identity.ID]; ok && existing.Active {
		r.mu.Unlock()
		return EntityRecord{}, fmt.Errorf("%w: %q", ErrDuplicateEntity, identity.ID)
	}
	rec := &EntityRecord{Identity: identity, Schema: schema, Active: true, Order: r.order}
	r.order++
	r.entities[identity.ID] = rec
	snap := *rec
	subs := r.snapshotSubs()
	r.mu.Unlock()

	notify(subs, Event{Type: EventEntityRegistered, Entity: snap})
	return snap, nil
}

// RecordSample stores s as the entity's last sample and notifies subscribers.
func (r *Registry) RecordSample(s model.TelemetrySample) error {
	r.mu.Lock()
	rec, ok := r.entities[s.EntityID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrEntityNotFound, s.EntityID)
	}
	rec.Last = s
	rec.Emitted++
	snap := *rec
	subs := r.snapshotSubs()
	r.mu.Unlock()

	notify(subs, Event{Type: EventSampleEmitted, Entity: snap})
	return nil
}

// Deactivate marks the entity's stream as finished. The ID may then be
// registered again. Deactivating an inactive entity is a no-op.
func (r *Registry) Deactivate(id model.EntityID) error {
	r.mu.Lock()
	rec, ok := r.entities[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrEntityNotFound, id)
	}
	if !rec.Active {
		r.mu.Unlock()
		return nil
	}
	rec.Active = false
	snap := *rec
	subs := r.snapshotSubs()
	r.mu.Unlock()

	notify(subs, Event{Type: EventEntityDeactivated, Entity: snap})
	return nil
}

// Get returns a snapshot of the entity.
func (r *Registry) Get(id model.EntityID) (EntityRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entities[id]
	if !ok {
		return EntityRecord{}, false
	}
	return *rec, true
}

// List returns snapshots of all entities in registration order.
func (r *Registry) List() []EntityRecord {
	r.mu.RLock()
	res := make([]EntityRecord, 0, len(r.entities))
	for _, rec := range r.entities {
		res = append(res, *rec)
	}
	r.mu.RUnlock()

	slices.SortFunc(res, func(a, b EntityRecord) int { return a.Order - b.Order })
	return res
}

// ActiveCount reports how many entities are bound to a live stream.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.entities {
		if rec.Active {
			n++
		}
	}
	return n
}

// Subscribe registers a callback for registry events. Callbacks run on the
// mutating goroutine, outside the lock. It returns an unsubscribe function.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs = append(r.subs, subscription{id: id, fn: fn})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.subs {
			if s.id == id {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

// snapshotSubs must be called with r.mu held.
func (r *Registry) snapshotSubs() []subscription {
	return append([]subscription(nil), r.subs...)
}

func notify(subs []subscription, e Event) {
	for _, s := range subs {
		s.fn(e)
	}
}
