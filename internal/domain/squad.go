package domain

import (
	"fmt"
	"strings"
	"time"

	"quarterplan/internal/domain/catalog"
)

type SquadRecord struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	ProductID       string        `json:"product_id,omitempty"`
	Name            string        `json:"name"`
	Slug            string        `json:"slug"`
	Description     string        `json:"description,omitempty"`
	Status          catalog.Value `json:"status"`
	DefaultCapacity float64       `json:"default_capacity"`
	Color           string        `json:"color,omitempty"`
	Timezone        string        `json:"timezone,omitempty"`
	CreatedAt       string        `json:"created_at" format:"date-time"`
	UpdatedAt       string        `json:"updated_at" format:"date-time"`
}

// Squad is a delivery team. Slug uniqueness within the tenant is checked by
// the caller before construction.
type Squad struct {
	rec SquadRecord
}

type NewSquadParams struct {
	ID              string
	TenantID        string
	ProductID       string
	Name            string
	Slug            string
	Description     string
	Color           string
	Timezone        string
	DefaultCapacity float64
	Status          catalog.Value
	Now             time.Time
}

func NewSquad(p NewSquadParams) (*Squad, error) {
	if err := requireIdentity(p.ID, p.TenantID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: squad name is required", ErrInvalidInput)
	}
	slug := Slugify(p.Slug)
	if slug == "" {
		slug = Slugify(name)
	}
	if slug == "" {
		return nil, fmt.Errorf("%w: squad slug is required", ErrInvalidInput)
	}
	if p.DefaultCapacity < 0 {
		return nil, fmt.Errorf("%w: default capacity %.2f is negative", ErrInvalidCapacity, p.DefaultCapacity)
	}
	if err := requireCategory(p.Status, catalog.SquadStatus); err != nil {
		return nil, err
	}
	now := stamp(p.Now)
	return &Squad{rec: SquadRecord{
		ID:              p.ID,
		TenantID:        p.TenantID,
		ProductID:       strings.TrimSpace(p.ProductID),
		Name:            name,
		Slug:            slug,
		Description:     p.Description,
		Status:          p.Status,
		DefaultCapacity: p.DefaultCapacity,
		Color:           p.Color,
		Timezone:        p.Timezone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}}, nil
}

func RestoreSquad(r SquadRecord) *Squad { return &Squad{rec: r} }

func (s *Squad) ID() string            { return s.rec.ID }
func (s *Squad) Record() SquadRecord   { return s.rec }
func (s *Squad) Status() catalog.Value { return s.rec.Status }

// SquadPatch carries the fields Update may change; nil means untouched.
type SquadPatch struct {
	Name            *string
	Description     *string
	Timezone        *string
	Color           *string
	DefaultCapacity *float64
}

func (s *Squad) Update(p SquadPatch, now time.Time) error {
	if p.DefaultCapacity != nil && *p.DefaultCapacity < 0 {
		return fmt.Errorf("%w: default capacity %.2f is negative", ErrInvalidCapacity, *p.DefaultCapacity)
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: squad name cannot be empty", ErrInvalidInput)
	}
	if p.Name != nil {
		s.rec.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		s.rec.Description = *p.Description
	}
	if p.Timezone != nil {
		s.rec.Timezone = *p.Timezone
	}
	if p.Color != nil {
		s.rec.Color = *p.Color
	}
	if p.DefaultCapacity != nil {
		s.rec.DefaultCapacity = *p.DefaultCapacity
	}
	s.rec.UpdatedAt = stamp(now)
	return nil
}

// ChangeStatus is unconditional: deactivating a squad does not look at the
// epics or quarters that reference it.
func (s *Squad) ChangeStatus(status catalog.Value, now time.Time) error {
	if err := requireCategory(status, catalog.SquadStatus); err != nil {
		return err
	}
	s.rec.Status = status
	s.rec.UpdatedAt = stamp(now)
	return nil
}

func requireIdentity(id, tenantID string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("%w: tenant is required", ErrInvalidInput)
	}
	return nil
}

func requireCategory(v catalog.Value, want catalog.Category) error {
	if v.IsZero() {
		return fmt.Errorf("%w: %s value is required", ErrInvalidInput, want)
	}
	if v.Category() != want {
		return fmt.Errorf("%w: expected %s value, got %s", ErrInvalidInput, want, v.Category())
	}
	return nil
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}
