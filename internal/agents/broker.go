package agents

import (
	"fmt"
)

// Broker is the registry of shared resources for one simulation. Resources are
// kept in registration order, which is also the tie-break order for searches.
type Broker struct {
	env       *Env
	params    *Params
	resources []*SharedResource
	byID      map[ResourceID]*SharedResource
	nextID    ResourceID
}

// NewBroker creates an empty registry.
func NewBroker(env *Env, params *Params) *Broker {
	return &Broker{
		env:    env,
		params: params,
		byID:   make(map[ResourceID]*SharedResource),
		nextID: 1,
	}
}

// Register adds a resource built from spec.
func (b *Broker) Register(spec ResourceSpec) (*SharedResource, error) {
	if spec.Category == CategoryNone {
		return nil, fmt.Errorf("resource %q: category is required", spec.Name)
	}
	if spec.Duration <= 0 {
		return nil, fmt.Errorf("resource %q: duration must be positive, got %v", spec.Name, spec.Duration)
	}
	if spec.QueueLimit < 0 {
		return nil, fmt.Errorf("resource %q: negative queue limit %d", spec.Name, spec.QueueLimit)
	}
	r := &SharedResource{
		ID:     b.nextID,
		spec:   spec,
		env:    b.env,
		params: b.params,
	}
	b.nextID++
	b.resources = append(b.resources, r)
	b.byID[r.ID] = r
	return r, nil
}

// Resources returns every resource in registration order. Callers must not modify the slice.
func (b *Broker) Resources() []*SharedResource {
	return b.resources
}

// Resource looks a resource up by ID.
func (b *Broker) Resource(id ResourceID) (*SharedResource, bool) {
	r, ok := b.byID[id]
	return r, ok
}

// Service runs every resource's service protocol in registration order.
func (b *Broker) Service(dt float64) {
	for _, r := range b.resources {
		r.Service(dt)
	}
}

// Snapshots returns the occupancy and queue of every resource.
func (b *Broker) Snapshots() []ResourceSnapshot {
	out := make([]ResourceSnapshot, 0, len(b.resources))
	for _, r := range b.resources {
		out = append(out, r.Snapshot())
	}
	return out
}

// CheckInvariants verifies single occupancy, the queue bound, and that no agent
// holds a place at more than one resource.
func (b *Broker) CheckInvariants() error {
	holder := make(map[*Agent]*SharedResource)
	claim := func(a *Agent, r *SharedResource) error {
		if prev, ok := holder[a]; ok && prev != r {
			return fmt.Errorf("agent %d holds places at %q and %q", a.ID, prev.spec.Name, r.spec.Name)
		}
		holder[a] = r
		return nil
	}

	for _, r := range b.resources {
		waiting := r.waiting()
		if len(r.queue) > r.spec.QueueLimit {
			return fmt.Errorf("resource %q: queue length %d exceeds limit %d", r.spec.Name, len(r.queue), r.spec.QueueLimit)
		}
		if r.occupantQueued && (len(r.queue) == 0 || r.queue[0] != r.occupant) {
			return fmt.Errorf("resource %q: queued occupant is not at the head", r.spec.Name)
		}
		if occ := r.occupant; occ != nil {
			if occ.needs.current != r {
				return fmt.Errorf("resource %q: occupant %d does not reference it", r.spec.Name, occ.ID)
			}
			for _, w := range waiting {
				if w == occ {
					return fmt.Errorf("resource %q: occupant %d is also waiting", r.spec.Name, occ.ID)
				}
			}
			if err := claim(occ, r); err != nil {
				return err
			}
		}
		seen := make(map[*Agent]bool, len(waiting))
		for _, w := range waiting {
			if seen[w] {
				return fmt.Errorf("resource %q: agent %d queued twice", r.spec.Name, w.ID)
			}
			seen[w] = true
			if w.queuedAt != r {
				return fmt.Errorf("resource %q: queued agent %d does not reference it", r.spec.Name, w.ID)
			}
			if err := claim(w, r); err != nil {
				return err
			}
		}
	}
	return nil
}
