package abac

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ============================================================================
// DIRECTORY (entity and policy lookups)
// ============================================================================

// Directory is the read side the engine resolves a request against. Lookups
// return the package's not-found sentinels (wrapped or not) for missing
// entities; any other error is treated as a system failure.
type Directory interface {
	SubjectByID(ctx context.Context, id int64) (*Subject, error)
	ResourceByURI(ctx context.Context, uri string) (*Resource, error)
	ResourceByID(ctx context.Context, id int64) (*Resource, error)
	ActionByName(ctx context.Context, name string) (*Action, error)
	// ApplicablePolicies returns the active policies bound to actionID plus
	// the global ones, in evaluation order.
	ApplicablePolicies(ctx context.Context, actionID *int64) ([]*Policy, error)
}

// Seeder is the write side used to load a snapshot into a directory. Each Put
// assigns an ID when the entity has none and writes it back.
type Seeder interface {
	PutSubject(ctx context.Context, s *Subject) error
	PutResource(ctx context.Context, r *Resource) error
	PutAction(ctx context.Context, a *Action) error
	PutPolicy(ctx context.Context, p *Policy) error
}

// MemoryDirectory keeps every entity in maps guarded by a RWMutex
type MemoryDirectory struct {
	mu        sync.RWMutex
	subjects  map[int64]*Subject
	resources map[int64]*Resource
	byURI     map[string]int64
	actions   map[int64]*Action
	byName    map[string]int64
	policies  map[int64]*Policy
	nextID    map[string]int64
	now       func() time.Time
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		subjects:  make(map[int64]*Subject),
		resources: make(map[int64]*Resource),
		byURI:     make(map[string]int64),
		actions:   make(map[int64]*Action),
		byName:    make(map[string]int64),
		policies:  make(map[int64]*Policy),
		nextID:    make(map[string]int64),
		now:       time.Now,
	}
}

func (d *MemoryDirectory) assignID(kind string, id *int64) {
	if *id == 0 {
		d.nextID[kind]++
		*id = d.nextID[kind]
		return
	}
	if *id > d.nextID[kind] {
		d.nextID[kind] = *id
	}
}

func (d *MemoryDirectory) PutSubject(_ context.Context, s *Subject) error {
	if s == nil {
		return fmt.Errorf("put subject: nil subject")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assignID("subject", &s.ID)
	if s.CreatedAt.IsZero() {
		s.CreatedAt = d.now().UTC()
	}
	cp := *s
	cp.Attributes = append([]Attribute(nil), s.Attributes...)
	d.subjects[s.ID] = &cp
	return nil
}

func (d *MemoryDirectory) PutResource(_ context.Context, r *Resource) error {
	if r == nil {
		return fmt.Errorf("put resource: nil resource")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.byURI[r.URI]; ok && id != r.ID {
		if r.ID != 0 {
			return fmt.Errorf("put resource: uri %q already used by resource %d", r.URI, id)
		}
		r.ID = id
	}
	d.assignID("resource", &r.ID)
	if old, ok := d.resources[r.ID]; ok && old.URI != r.URI {
		delete(d.byURI, old.URI)
	}
	cp := *r
	cp.Attributes = append([]Attribute(nil), r.Attributes...)
	d.resources[r.ID] = &cp
	d.byURI[r.URI] = r.ID
	return nil
}

func (d *MemoryDirectory) PutAction(_ context.Context, a *Action) error {
	if a == nil || a.Name == "" {
		return fmt.Errorf("put action: name is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.byName[a.Name]; ok && id != a.ID {
		if a.ID != 0 {
			return fmt.Errorf("put action: name %q already used by action %d", a.Name, id)
		}
		a.ID = id
	}
	d.assignID("action", &a.ID)
	if old, ok := d.actions[a.ID]; ok && old.Name != a.Name {
		delete(d.byName, old.Name)
	}
	cp := *a
	d.actions[a.ID] = &cp
	d.byName[a.Name] = a.ID
	return nil
}

func (d *MemoryDirectory) PutPolicy(_ context.Context, p *Policy) error {
	if p == nil {
		return fmt.Errorf("put policy: nil policy")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assignID("policy", &p.ID)
	now := d.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	d.policies[p.ID] = &cp
	return nil
}

// DeletePolicy removes a policy; deleting an unknown id reports ErrPolicyNotFound
func (d *MemoryDirectory) DeletePolicy(_ context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.policies[id]; !ok {
		return fmt.Errorf("delete policy %d: %w", id, ErrPolicyNotFound)
	}
	delete(d.policies, id)
	return nil
}

func (d *MemoryDirectory) SubjectByID(_ context.Context, id int64) (*Subject, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.subjects[id]
	if !ok {
		return nil, ErrSubjectNotFound
	}
	cp := *s
	return &cp, nil
}

func (d *MemoryDirectory) ResourceByURI(_ context.Context, uri string) (*Resource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byURI[uri]
	if !ok {
		return nil, ErrResourceNotFound
	}
	cp := *d.resources[id]
	return &cp, nil
}

func (d *MemoryDirectory) ResourceByID(_ context.Context, id int64) (*Resource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.resources[id]
	if !ok {
		return nil, ErrResourceNotFound
	}
	cp := *r
	return &cp, nil
}

func (d *MemoryDirectory) ActionByName(_ context.Context, name string) (*Action, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byName[name]
	if !ok {
		return nil, ErrActionNotFound
	}
	cp := *d.actions[id]
	return &cp, nil
}

func (d *MemoryDirectory) ApplicablePolicies(_ context.Context, actionID *int64) ([]*Policy, error) {
	d.mu.RLock()
	all := make([]*Policy, 0, len(d.policies))
	for _, p := range d.policies {
		all = append(all, p)
	}
	d.mu.RUnlock()
	return SelectApplicable(all, actionID), nil
}

// Policies lists every stored policy ordered by id
func (d *MemoryDirectory) Policies(_ context.Context) []*Policy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Policy, 0, len(d.policies))
	for _, p := range d.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Actions lists every stored action ordered by id
func (d *MemoryDirectory) Actions(_ context.Context) []*Action {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Action, 0, len(d.actions))
	for _, a := range d.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
