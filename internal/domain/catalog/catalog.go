// Package catalog holds the tenant-configurable status and category values
// used by the planning domain. Values are data, not compiled enums: labels,
// legacy codes and transition rules come from configuration, and a Value can
// only be obtained from a Catalog.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type Category string

const (
	SquadStatus         Category = "squad_status"
	EpicStatus          Category = "epic_status"
	EpicHealth          Category = "epic_health"
	FeatureStatus       Category = "feature_status"
	PlanningCycleStatus Category = "planning_cycle_status"
	ScenarioStatus      Category = "scenario_status"
	DependencyType      Category = "dependency_type"
	DependencyRisk      Category = "dependency_risk"
	CommitmentTier      Category = "commitment_tier"
)

// Categories lists every category a complete catalog must define.
var Categories = []Category{
	SquadStatus,
	EpicStatus,
	EpicHealth,
	FeatureStatus,
	PlanningCycleStatus,
	ScenarioStatus,
	DependencyType,
	DependencyRisk,
	CommitmentTier,
}

// ErrUnknownValue is returned when a slug or legacy code is not in the catalog.
var ErrUnknownValue = errors.New("unknown catalog value")

// Entry is the configuration form of a catalog value.
type Entry struct {
	ID          string         `yaml:"id" toml:"id" json:"id"`
	Slug        string         `yaml:"slug" toml:"slug" json:"slug"`
	Label       string         `yaml:"label" toml:"label" json:"label"`
	Legacy      string         `yaml:"legacy,omitempty" toml:"legacy" json:"legacy,omitempty"`
	Initial     bool           `yaml:"initial,omitempty" toml:"initial" json:"initial,omitempty"`
	Closed      bool           `yaml:"closed,omitempty" toml:"closed" json:"closed,omitempty"`
	Transitions []string       `yaml:"transitions,omitempty" toml:"transitions" json:"transitions,omitempty"`
	Metadata    map[string]any `yaml:"metadata,omitempty" toml:"metadata" json:"metadata,omitempty"`
}

// Definition maps each category to its ordered entries.
type Definition map[Category][]Entry

// Value is an immutable catalog value. The zero Value is "unset".
type Value struct {
	category Category
	entry    *Entry
}

func (v Value) IsZero() bool       { return v.entry == nil }
func (v Value) Category() Category { return v.category }

func (v Value) ID() string {
	if v.entry == nil {
		return ""
	}
	return v.entry.ID
}

func (v Value) Slug() string {
	if v.entry == nil {
		return ""
	}
	return v.entry.Slug
}

func (v Value) Label() string {
	if v.entry == nil {
		return ""
	}
	return v.entry.Label
}

func (v Value) Legacy() string {
	if v.entry == nil {
		return ""
	}
	return v.entry.Legacy
}

// Metadata returns a copy of the value's free-form metadata.
func (v Value) Metadata() map[string]any {
	if v.entry == nil || len(v.entry.Metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(v.entry.Metadata))
	for k, val := range v.entry.Metadata {
		out[k] = val
	}
	return out
}

func (v Value) IsInitial() bool { return v.entry != nil && v.entry.Initial }
func (v Value) IsClosed() bool  { return v.entry != nil && v.entry.Closed }

// Equal reports whether both values name the same slug in the same category.
func (v Value) Equal(other Value) bool {
	return v.category == other.category && v.Slug() == other.Slug()
}

// CanTransitionTo consults the entry's allow-list. Only listed slugs of the
// same category are reachable.
func (v Value) CanTransitionTo(next Value) bool {
	if v.entry == nil || next.entry == nil || v.category != next.category {
		return false
	}
	for _, slug := range v.entry.Transitions {
		if slug == next.entry.Slug {
			return true
		}
	}
	return false
}

func (v Value) String() string { return v.Slug() }

type valueJSON struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Label string `json:"label"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.entry == nil {
		return []byte("null"), nil
	}
	return json.Marshal(valueJSON{ID: v.entry.ID, Slug: v.entry.Slug, Label: v.entry.Label})
}

type categoryIndex struct {
	entries  []*Entry
	bySlug   map[string]*Entry
	byLegacy map[string]*Entry
	initial  *Entry
}

// Catalog is an indexed, validated Definition.
type Catalog struct {
	categories map[Category]*categoryIndex
}

// New validates def and builds a Catalog. Entries are copied.
func New(def Definition) (*Catalog, error) {
	c := &Catalog{categories: make(map[Category]*categoryIndex, len(def))}
	for category, entries := range def {
		idx := &categoryIndex{
			bySlug:   make(map[string]*Entry, len(entries)),
			byLegacy: make(map[string]*Entry),
		}
		for i := range entries {
			e := entries[i]
			e.Slug = strings.TrimSpace(e.Slug)
			if e.Slug == "" {
				return nil, fmt.Errorf("catalog %s: entry %d has empty slug", category, i)
			}
			if _, dup := idx.bySlug[e.Slug]; dup {
				return nil, fmt.Errorf("catalog %s: duplicate slug %s", category, e.Slug)
			}
			if e.ID == "" {
				e.ID = string(category) + ":" + e.Slug
			}
			if e.Label == "" {
				e.Label = e.Slug
			}
			e.Transitions = append([]string(nil), e.Transitions...)
			entry := &e
			if entry.Initial {
				if idx.initial != nil {
					return nil, fmt.Errorf("catalog %s: more than one initial entry", category)
				}
				idx.initial = entry
			}
			idx.entries = append(idx.entries, entry)
			idx.bySlug[entry.Slug] = entry
			if entry.Legacy != "" {
				idx.byLegacy[entry.Legacy] = entry
			}
		}
		for _, e := range idx.entries {
			for _, to := range e.Transitions {
				if _, ok := idx.bySlug[to]; !ok {
					return nil, fmt.Errorf("catalog %s: %s transitions to unknown slug %s", category, e.Slug, to)
				}
			}
		}
		c.categories[category] = idx
	}
	return c, nil
}

// Lookup resolves key as a slug first, then as a legacy code.
func (c *Catalog) Lookup(category Category, key string) (Value, error) {
	idx, ok := c.categories[category]
	if !ok {
		return Value{}, fmt.Errorf("%w: category %s not configured", ErrUnknownValue, category)
	}
	key = strings.TrimSpace(key)
	if e, ok := idx.bySlug[key]; ok {
		return Value{category: category, entry: e}, nil
	}
	if e, ok := idx.byLegacy[key]; ok {
		return Value{category: category, entry: e}, nil
	}
	return Value{}, fmt.Errorf("%w: %s %q", ErrUnknownValue, category, key)
}

// Initial returns the entry flagged initial, or the first entry.
func (c *Catalog) Initial(category Category) (Value, error) {
	idx, ok := c.categories[category]
	if !ok || len(idx.entries) == 0 {
		return Value{}, fmt.Errorf("%w: category %s not configured", ErrUnknownValue, category)
	}
	if idx.initial != nil {
		return Value{category: category, entry: idx.initial}, nil
	}
	return Value{category: category, entry: idx.entries[0]}, nil
}

// Values returns the category's values in configuration order.
func (c *Catalog) Values(category Category) []Value {
	idx, ok := c.categories[category]
	if !ok {
		return nil
	}
	out := make([]Value, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, Value{category: category, entry: e})
	}
	return out
}

// Missing lists the required categories absent from the catalog.
func (c *Catalog) Missing() []Category {
	var missing []Category
	for _, cat := range Categories {
		if idx, ok := c.categories[cat]; !ok || len(idx.entries) == 0 {
			missing = append(missing, cat)
		}
	}
	return missing
}

// Lookup is the port the domain and engine use to resolve catalog values.
type Lookup interface {
	Lookup(tenantID string, category Category, key string) (Value, error)
	Initial(tenantID string, category Category) (Value, error)
}

// Registry resolves values per tenant, falling back to a default catalog.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	fallback *Catalog
	tenants  map[string]*Catalog
}

func NewRegistry(fallback *Catalog) *Registry {
	return &Registry{fallback: fallback, tenants: make(map[string]*Catalog)}
}

// Set installs a tenant-specific catalog; nil removes the override.
func (r *Registry) Set(tenantID string, c *Catalog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c == nil {
		delete(r.tenants, tenantID)
		return
	}
	r.tenants[tenantID] = c
}

// For returns the catalog in effect for tenantID.
func (r *Registry) For(tenantID string) *Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.tenants[tenantID]; ok {
		return c
	}
	return r.fallback
}

// Tenants lists tenants with an override, sorted.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Lookup(tenantID string, category Category, key string) (Value, error) {
	c := r.For(tenantID)
	if c == nil {
		return Value{}, fmt.Errorf("%w: no catalog for tenant %s", ErrUnknownValue, tenantID)
	}
	return c.Lookup(category, key)
}

func (r *Registry) Initial(tenantID string, category Category) (Value, error) {
	c := r.For(tenantID)
	if c == nil {
		return Value{}, fmt.Errorf("%w: no catalog for tenant %s", ErrUnknownValue, tenantID)
	}
	return c.Initial(category)
}
