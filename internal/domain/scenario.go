package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"quarterplan/internal/domain/catalog"
)

const (
	ScenarioPublished = "published"
	ScenarioArchived  = "archived"

	// MaxAdjustmentPercent bounds a squad capacity delta in either direction.
	MaxAdjustmentPercent = 100.0
)

type SquadAdjustment struct {
	SquadID      string  `json:"squad_id"`
	DeltaPercent float64 `json:"delta_percent"`
}

// ScenarioResult is the outcome of a feasibility run.
type ScenarioResult struct {
	Fitting     []string `json:"fitting"`
	Overflowing []string `json:"overflowing"`
	Comments    []string `json:"comments,omitempty"`
}

type ScenarioRecord struct {
	ID                 string            `json:"id"`
	TenantID           string            `json:"tenant_id"`
	Name               string            `json:"name"`
	PlanningCycleID    string            `json:"planning_cycle_id,omitempty"`
	Quarter            string            `json:"quarter"`
	Status             catalog.Value     `json:"status"`
	Adjustments        []SquadAdjustment `json:"adjustments"`
	IncludeContractors bool              `json:"include_contractors"`
	ConsiderVacations  bool              `json:"consider_vacations"`
	RiskBufferPercent  float64           `json:"risk_buffer_percent"`
	Result             *ScenarioResult   `json:"result,omitempty"`
	CreatedAt          string            `json:"created_at" format:"date-time"`
	UpdatedAt          string            `json:"updated_at" format:"date-time"`
}

// Scenario is a hypothetical capacity adjustment used to test a quarter's
// feasibility before committing.
type Scenario struct {
	rec ScenarioRecord
}

// ScenarioParameters patches the simulation switches; nil means untouched.
type ScenarioParameters struct {
	IncludeContractors *bool
	ConsiderVacations  *bool
	RiskBufferPercent  *float64
}

type NewScenarioParams struct {
	ID              string
	TenantID        string
	Name            string
	PlanningCycleID string
	Quarter         string
	Status          catalog.Value
	Adjustments     []SquadAdjustment
	Parameters      ScenarioParameters
	Now             time.Time
}

func NewScenario(p NewScenarioParams) (*Scenario, error) {
	if err := requireIdentity(p.ID, p.TenantID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: scenario name is required", ErrInvalidInput)
	}
	quarter, err := ParseQuarter(p.Quarter)
	if err != nil {
		return nil, err
	}
	if err := requireCategory(p.Status, catalog.ScenarioStatus); err != nil {
		return nil, err
	}
	adjustments, err := normalizeAdjustments(p.Adjustments)
	if err != nil {
		return nil, err
	}
	if err := validateParameters(p.Parameters); err != nil {
		return nil, err
	}
	now := stamp(p.Now)
	s := &Scenario{rec: ScenarioRecord{
		ID:                 p.ID,
		TenantID:           p.TenantID,
		Name:               name,
		PlanningCycleID:    strings.TrimSpace(p.PlanningCycleID),
		Quarter:            quarter,
		Status:             p.Status,
		Adjustments:        adjustments,
		IncludeContractors: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}}
	s.applyParameters(p.Parameters)
	return s, nil
}

func RestoreScenario(r ScenarioRecord) *Scenario { return &Scenario{rec: r} }

func (s *Scenario) ID() string { return s.rec.ID }

func (s *Scenario) Record() ScenarioRecord {
	r := s.rec
	r.Adjustments = append([]SquadAdjustment{}, s.rec.Adjustments...)
	if s.rec.Result != nil {
		res := copyResult(*s.rec.Result)
		r.Result = &res
	}
	return r
}

func (s *Scenario) Status() catalog.Value { return s.rec.Status }

// Adjustment returns the delta recorded for squadID, 0 when none.
func (s *Scenario) Adjustment(squadID string) float64 {
	for _, a := range s.rec.Adjustments {
		if a.SquadID == squadID {
			return a.DeltaPercent
		}
	}
	return 0
}

// UpdateAdjustments replaces the per-squad deltas. A later entry for the
// same squad wins.
func (s *Scenario) UpdateAdjustments(deltas []SquadAdjustment, now time.Time) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	adjustments, err := normalizeAdjustments(deltas)
	if err != nil {
		return err
	}
	s.rec.Adjustments = adjustments
	s.rec.UpdatedAt = stamp(now)
	return nil
}

func (s *Scenario) UpdateParameters(p ScenarioParameters, now time.Time) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	if err := validateParameters(p); err != nil {
		return err
	}
	s.applyParameters(p)
	s.rec.UpdatedAt = stamp(now)
	return nil
}

// SetStatus follows the catalog allow-list of the current status.
func (s *Scenario) SetStatus(next catalog.Value, now time.Time) error {
	if err := requireCategory(next, catalog.ScenarioStatus); err != nil {
		return err
	}
	if !s.rec.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: scenario %s cannot move from %s to %s", ErrInvalidTransition, s.rec.ID, s.rec.Status.Slug(), next.Slug())
	}
	s.rec.Status = next
	s.rec.UpdatedAt = stamp(now)
	return nil
}

func (s *Scenario) Publish(lookup catalog.Lookup, now time.Time) error {
	return s.moveTo(lookup, ScenarioPublished, now)
}

func (s *Scenario) Archive(lookup catalog.Lookup, now time.Time) error {
	return s.moveTo(lookup, ScenarioArchived, now)
}

func (s *Scenario) RecordResult(result ScenarioResult, now time.Time) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	res := copyResult(result)
	s.rec.Result = &res
	s.rec.UpdatedAt = stamp(now)
	return nil
}

func (s *Scenario) moveTo(lookup catalog.Lookup, slug string, now time.Time) error {
	next, err := lookup.Lookup(s.rec.TenantID, catalog.ScenarioStatus, slug)
	if err != nil {
		return err
	}
	return s.SetStatus(next, now)
}

func (s *Scenario) requireOpen() error {
	if s.rec.Status.IsClosed() {
		return fmt.Errorf("%w: scenario %s is %s", ErrAlreadyTerminal, s.rec.ID, s.rec.Status.Slug())
	}
	return nil
}

func (s *Scenario) applyParameters(p ScenarioParameters) {
	if p.IncludeContractors != nil {
		s.rec.IncludeContractors = *p.IncludeContractors
	}
	if p.ConsiderVacations != nil {
		s.rec.ConsiderVacations = *p.ConsiderVacations
	}
	if p.RiskBufferPercent != nil {
		s.rec.RiskBufferPercent = *p.RiskBufferPercent
	}
}

func validateParameters(p ScenarioParameters) error {
	if p.RiskBufferPercent == nil {
		return nil
	}
	return validatePercent(*p.RiskBufferPercent, ErrInvalidBuffer, "risk buffer")
}

func normalizeAdjustments(in []SquadAdjustment) ([]SquadAdjustment, error) {
	out := make([]SquadAdjustment, 0, len(in))
	index := make(map[string]int, len(in))
	for _, a := range in {
		a.SquadID = strings.TrimSpace(a.SquadID)
		if a.SquadID == "" {
			return nil, fmt.Errorf("%w: adjustment without squad", ErrInvalidInput)
		}
		if math.IsNaN(a.DeltaPercent) || math.Abs(a.DeltaPercent) > MaxAdjustmentPercent {
			return nil, fmt.Errorf("%w: squad %s delta %.2f%%", ErrAdjustmentOutOfRange, a.SquadID, a.DeltaPercent)
		}
		if i, ok := index[a.SquadID]; ok {
			out[i] = a
			continue
		}
		index[a.SquadID] = len(out)
		out = append(out, a)
	}
	return out, nil
}

func copyResult(r ScenarioResult) ScenarioResult {
	out := ScenarioResult{
		Fitting:     append([]string{}, r.Fitting...),
		Overflowing: append([]string{}, r.Overflowing...),
	}
	if len(r.Comments) > 0 {
		out.Comments = append([]string(nil), r.Comments...)
	}
	return out
}
