// Package registry caches per-tenant custom-field definitions. The compiler
// consults it to resolve custom-field keys to display names, types, and the
// optional delimiter used by comma-joined multi-valued text fields.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FieldDef describes one tenant-configured custom field.
type FieldDef struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
	// Delimiter splits a single text value into multiple logical values
	// before matching; empty means the field is single-valued.
	Delimiter string `json:"delimiter,omitempty"`
}

// Loader fetches the custom-field definitions for one tenant. Implementations
// typically read a configuration table or an external config service.
type Loader interface {
	LoadFields(ctx context.Context, tenant string) ([]FieldDef, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, tenant string) ([]FieldDef, error)

// LoadFields implements Loader.
func (f LoaderFunc) LoadFields(ctx context.Context, tenant string) ([]FieldDef, error) {
	return f(ctx, tenant)
}

// Provider is the narrow read interface the query compiler depends on.
// An unknown key is not an error: ok is false and the compiler emits a
// predicate that matches no rows.
type Provider interface {
	Field(ctx context.Context, tenant, key string) (FieldDef, bool, error)
}

// Registry is a read-through cache over a Loader. Entries refresh after TTL;
// concurrent refreshes for the same tenant collapse into one load.
type Registry struct {
	loader Loader
	ttl    time.Duration

	mu      sync.Mutex
	tenants map[string]*tenantEntry
}

type tenantEntry struct {
	once   sync.Once
	fields map[string]FieldDef
	err    error

	// loadedAt stays zero while the load is in flight and is set under
	// Registry.mu on success; only completed entries are eligible for expiry.
	loadedAt time.Time
}

// New creates a Registry with the given refresh interval.
func New(loader Loader, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Registry{
		loader:  loader,
		ttl:     ttl,
		tenants: map[string]*tenantEntry{},
	}
}

// Field resolves one custom-field key for a tenant.
func (r *Registry) Field(ctx context.Context, tenant, key string) (FieldDef, bool, error) {
	fields, err := r.fields(ctx, tenant)
	if err != nil {
		return FieldDef{}, false, err
	}
	def, ok := fields[key]
	return def, ok, nil
}

func (r *Registry) fields(ctx context.Context, tenant string) (map[string]FieldDef, error) {
	r.mu.Lock()
	entry, ok := r.tenants[tenant]
	if !ok || (!entry.loadedAt.IsZero() && time.Since(entry.loadedAt) > r.ttl) {
		entry = &tenantEntry{}
		r.tenants[tenant] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		defs, err := r.loader.LoadFields(ctx, tenant)
		if err != nil {
			entry.err = fmt.Errorf("registry: load custom fields for %s: %w", tenant, err)
			// Drop the failed entry so the next call retries.
			r.mu.Lock()
			if r.tenants[tenant] == entry {
				delete(r.tenants, tenant)
			}
			r.mu.Unlock()
			return
		}
		entry.fields = make(map[string]FieldDef, len(defs))
		for _, d := range defs {
			entry.fields[d.Key] = d
		}
		r.mu.Lock()
		entry.loadedAt = time.Now()
		r.mu.Unlock()
	})
	return entry.fields, entry.err
}

// Static returns a Provider backed by a fixed definition list; used by tests
// and single-tenant embedding.
func Static(defs ...FieldDef) Provider {
	m := make(map[string]FieldDef, len(defs))
	for _, d := range defs {
		m[d.Key] = d
	}
	return staticProvider(m)
}

type staticProvider map[string]FieldDef

func (p staticProvider) Field(_ context.Context, _ string, key string) (FieldDef, bool, error) {
	def, ok := p[key]
	return def, ok, nil
}
