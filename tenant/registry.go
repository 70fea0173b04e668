package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	engine "github.com/eventengine/eventengine"
)

// Registry is an in-memory tenant directory, guarded the same way the
// in-memory repository guards its stream map: one RWMutex over a plain
// map, read-mostly and cheap to reason about at the scale a single engine
// node's tenant count implies.
type Registry struct {
	mu      sync.RWMutex
	tenants map[engine.TenantId]*Tenant
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tenants: make(map[engine.TenantId]*Tenant)}
}

// Create registers t. Returns *engine.ValidationError if a tenant with the
// same id already exists.
func (r *Registry) Create(ctx context.Context, t *Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tenants[t.ID]; exists {
		return &engine.ValidationError{Field: "tenant_id", Reason: "already exists"}
	}
	r.tenants[t.ID] = t
	return nil
}

// Get returns the tenant for id, or *engine.EntityNotFoundError if absent.
func (r *Registry) Get(ctx context.Context, id engine.TenantId) (*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	if !ok {
		return nil, &engine.EntityNotFoundError{StreamID: string(id)}
	}
	return t, nil
}

// List returns every registered tenant in no particular order.
func (r *Registry) List(ctx context.Context) ([]*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, t)
	}
	return out, nil
}

// Count returns the number of registered tenants.
func (r *Registry) Count(ctx context.Context) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants)
}

// Update replaces the stored tenant for t.ID, e.g. after Deactivate or
// RecordIngest mutate it in place via a caller holding its own reference
// (Update exists for callers — such as eventctl — that reload a tenant
// from disk, mutate a copy, and need to persist it back explicitly).
func (r *Registry) Update(ctx context.Context, t *Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tenants[t.ID]; !exists {
		return &engine.EntityNotFoundError{StreamID: string(t.ID)}
	}
	r.tenants[t.ID] = t
	return nil
}

// SaveToFile serializes every tenant to path as JSON, for CLI tooling that
// has no long-running store.Store process to hold the registry in memory
// between invocations.
func (r *Registry) SaveToFile(path string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		list = append(list, t)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("tenant: marshal registry: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadRegistryFromFile reads a Registry previously written by SaveToFile.
// A missing file is not an error: it returns an empty Registry, matching
// the behavior of a brand-new engine deployment.
func LoadRegistryFromFile(path string) (*Registry, error) {
	reg := NewRegistry()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tenant: read %s: %w", path, err)
	}
	var list []*Tenant
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("tenant: parse %s: %w", path, err)
	}
	for _, t := range list {
		reg.tenants[t.ID] = t
	}
	return reg, nil
}
