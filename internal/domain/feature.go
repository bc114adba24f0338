package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"quarterplan/internal/domain/catalog"
)

type FeatureRecord struct {
	ID                 string        `json:"id"`
	TenantID           string        `json:"tenant_id"`
	EpicID             string        `json:"epic_id"`
	Title              string        `json:"title"`
	Description        string        `json:"description,omitempty"`
	SquadID            string        `json:"squad_id,omitempty"`
	Estimate           float64       `json:"estimate"`
	Status             catalog.Value `json:"status"`
	RiskNotes          string        `json:"risk_notes,omitempty"`
	AcceptanceCriteria string        `json:"acceptance_criteria,omitempty"`
	DependsOn          []string      `json:"depends_on"`
	ReviewerID         string        `json:"reviewer_id,omitempty"`
	ReviewedAt         *string       `json:"reviewed_at,omitempty" format:"date-time"`
	CreatedAt          string        `json:"created_at" format:"date-time"`
	UpdatedAt          string        `json:"updated_at" format:"date-time"`
}

type Feature struct {
	rec FeatureRecord
}

type NewFeatureParams struct {
	ID                 string
	TenantID           string
	EpicID             string
	Title              string
	Description        string
	SquadID            string
	Estimate           float64
	Status             catalog.Value
	RiskNotes          string
	AcceptanceCriteria string
	DependsOn          []string
	Now                time.Time
}

func NewFeature(p NewFeatureParams) (*Feature, error) {
	if err := requireIdentity(p.ID, p.TenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.EpicID) == "" {
		return nil, fmt.Errorf("%w: parent epic is required", ErrInvalidInput)
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: feature title is required", ErrInvalidInput)
	}
	if err := validateEstimate(p.Estimate); err != nil {
		return nil, err
	}
	if err := requireCategory(p.Status, catalog.FeatureStatus); err != nil {
		return nil, err
	}
	deps, err := featureDependencies(p.ID, p.DependsOn)
	if err != nil {
		return nil, err
	}
	now := stamp(p.Now)
	return &Feature{rec: FeatureRecord{
		ID:                 p.ID,
		TenantID:           p.TenantID,
		EpicID:             strings.TrimSpace(p.EpicID),
		Title:              title,
		Description:        p.Description,
		SquadID:            strings.TrimSpace(p.SquadID),
		Estimate:           p.Estimate,
		Status:             p.Status,
		RiskNotes:          p.RiskNotes,
		AcceptanceCriteria: p.AcceptanceCriteria,
		DependsOn:          deps,
		CreatedAt:          now,
		UpdatedAt:          now,
	}}, nil
}

func RestoreFeature(r FeatureRecord) *Feature {
	r.DependsOn = append([]string(nil), r.DependsOn...)
	return &Feature{rec: r}
}

func (f *Feature) ID() string { return f.rec.ID }

func (f *Feature) Record() FeatureRecord {
	r := f.rec
	r.DependsOn = append([]string{}, f.rec.DependsOn...)
	return r
}

// FeatureDetails patches descriptive fields; nil means untouched.
type FeatureDetails struct {
	Title              *string
	Description        *string
	Estimate           *float64
	RiskNotes          *string
	AcceptanceCriteria *string
}

// UpdateDetails never touches status, squad or dependencies.
func (f *Feature) UpdateDetails(d FeatureDetails, now time.Time) error {
	if d.Title != nil && strings.TrimSpace(*d.Title) == "" {
		return fmt.Errorf("%w: feature title cannot be empty", ErrInvalidInput)
	}
	if d.Estimate != nil {
		if err := validateEstimate(*d.Estimate); err != nil {
			return err
		}
	}
	if d.Title != nil {
		f.rec.Title = strings.TrimSpace(*d.Title)
	}
	if d.Description != nil {
		f.rec.Description = *d.Description
	}
	if d.Estimate != nil {
		f.rec.Estimate = *d.Estimate
	}
	if d.RiskNotes != nil {
		f.rec.RiskNotes = *d.RiskNotes
	}
	if d.AcceptanceCriteria != nil {
		f.rec.AcceptanceCriteria = *d.AcceptanceCriteria
	}
	f.rec.UpdatedAt = stamp(now)
	return nil
}

func (f *Feature) UpdateStatus(status catalog.Value, now time.Time) error {
	if err := requireCategory(status, catalog.FeatureStatus); err != nil {
		return err
	}
	f.rec.Status = status
	f.rec.UpdatedAt = stamp(now)
	return nil
}

func (f *Feature) AssignSquad(squadID string, now time.Time) {
	f.rec.SquadID = strings.TrimSpace(squadID)
	f.rec.UpdatedAt = stamp(now)
}

// SetDependencies replaces the declared dependency IDs, dropping duplicates.
func (f *Feature) SetDependencies(ids []string, now time.Time) error {
	deps, err := featureDependencies(f.rec.ID, ids)
	if err != nil {
		return err
	}
	f.rec.DependsOn = deps
	f.rec.UpdatedAt = stamp(now)
	return nil
}

func (f *Feature) MarkReviewed(reviewerID string, now time.Time) error {
	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return fmt.Errorf("%w: reviewer is required", ErrInvalidInput)
	}
	at := stamp(now)
	f.rec.ReviewerID = reviewerID
	f.rec.ReviewedAt = &at
	f.rec.UpdatedAt = at
	return nil
}

func featureDependencies(selfID string, ids []string) ([]string, error) {
	deps := dedupe(ids)
	for _, id := range deps {
		if id == selfID {
			return nil, fmt.Errorf("%w: %s", ErrSelfDependency, selfID)
		}
	}
	if deps == nil {
		deps = []string{}
	}
	return deps, nil
}

func validateEstimate(v float64) error {
	if math.IsNaN(v) || v < 0 {
		return fmt.Errorf("%w: %.2f", ErrInvalidEstimate, v)
	}
	return nil
}
