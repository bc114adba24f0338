package domain

import (
	"fmt"
	"strings"
	"time"

	"quarterplan/internal/domain/catalog"
)

type EpicRecord struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	SquadID         string        `json:"squad_id,omitempty"`
	ProductID       string        `json:"product_id,omitempty"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	Status          catalog.Value `json:"status"`
	Health          catalog.Value `json:"health"`
	Quarter         string        `json:"quarter"`
	ProgressPercent float64       `json:"progress_percent"`
	CreatedAt       string        `json:"created_at" format:"date-time"`
	UpdatedAt       string        `json:"updated_at" format:"date-time"`
}

type Epic struct {
	rec EpicRecord
}

type NewEpicParams struct {
	ID          string
	TenantID    string
	SquadID     string
	ProductID   string
	Title       string
	Description string
	Status      catalog.Value
	Health      catalog.Value
	Quarter     string
	Now         time.Time
}

func NewEpic(p NewEpicParams) (*Epic, error) {
	if err := requireIdentity(p.ID, p.TenantID); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: epic title is required", ErrInvalidInput)
	}
	quarter, err := ParseQuarter(p.Quarter)
	if err != nil {
		return nil, err
	}
	if err := requireCategory(p.Status, catalog.EpicStatus); err != nil {
		return nil, err
	}
	if err := requireCategory(p.Health, catalog.EpicHealth); err != nil {
		return nil, err
	}
	now := stamp(p.Now)
	return &Epic{rec: EpicRecord{
		ID:          p.ID,
		TenantID:    p.TenantID,
		SquadID:     strings.TrimSpace(p.SquadID),
		ProductID:   strings.TrimSpace(p.ProductID),
		Title:       title,
		Description: p.Description,
		Status:      p.Status,
		Health:      p.Health,
		Quarter:     quarter,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}, nil
}

func RestoreEpic(r EpicRecord) *Epic { return &Epic{rec: r} }

func (e *Epic) ID() string         { return e.rec.ID }
func (e *Epic) Record() EpicRecord { return e.rec }

// UpdateStatus has no guard beyond the catalog category.
func (e *Epic) UpdateStatus(status catalog.Value, now time.Time) error {
	if err := requireCategory(status, catalog.EpicStatus); err != nil {
		return err
	}
	e.rec.Status = status
	e.rec.UpdatedAt = stamp(now)
	return nil
}

func (e *Epic) UpdateHealth(health catalog.Value, now time.Time) error {
	if err := requireCategory(health, catalog.EpicHealth); err != nil {
		return err
	}
	e.rec.Health = health
	e.rec.UpdatedAt = stamp(now)
	return nil
}

// UpdateProgress stores the value as given; range checks belong to the caller.
func (e *Epic) UpdateProgress(percent float64, now time.Time) {
	e.rec.ProgressPercent = percent
	e.rec.UpdatedAt = stamp(now)
}

// AssignSquad sets the owning squad; an empty id unassigns.
func (e *Epic) AssignSquad(squadID string, now time.Time) {
	e.rec.SquadID = strings.TrimSpace(squadID)
	e.rec.UpdatedAt = stamp(now)
}

func (e *Epic) UpdateDetails(title, description *string, now time.Time) error {
	if title != nil && strings.TrimSpace(*title) == "" {
		return fmt.Errorf("%w: epic title cannot be empty", ErrInvalidInput)
	}
	if title != nil {
		e.rec.Title = strings.TrimSpace(*title)
	}
	if description != nil {
		e.rec.Description = *description
	}
	e.rec.UpdatedAt = stamp(now)
	return nil
}
