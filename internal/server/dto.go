package server

import (
	"encoding/json"

	"quarterplan/internal/domain"
	"quarterplan/internal/domain/catalog"
	"quarterplan/internal/engine"
	"quarterplan/internal/insight"
)

// Request payloads

type CreateTenantRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	OwnerID string `json:"owner_id,omitempty"`
}

type CreateSquadRequest struct {
	ID              *string `json:"id,omitempty"`
	Name            string  `json:"name"`
	Slug            string  `json:"slug,omitempty"`
	ProductID       string  `json:"product_id,omitempty"`
	Description     string  `json:"description,omitempty"`
	Status          string  `json:"status,omitempty"`
	DefaultCapacity float64 `json:"default_capacity,omitempty" minimum:"0"`
	Color           string  `json:"color,omitempty"`
	Timezone        string  `json:"timezone,omitempty"`
}

type UpdateSquadRequest struct {
	Name            *string  `json:"name,omitempty"`
	Description     *string  `json:"description,omitempty"`
	Timezone        *string  `json:"timezone,omitempty"`
	Color           *string  `json:"color,omitempty"`
	DefaultCapacity *float64 `json:"default_capacity,omitempty"`
	Status          *string  `json:"status,omitempty"`
}

type ReportCapacityRequest struct {
	SquadID       string         `json:"squad_id"`
	Quarter       string         `json:"quarter" example:"Q3-2024"`
	Total         float64        `json:"total_capacity"`
	Used          float64        `json:"used_capacity"`
	BufferPercent *float64       `json:"buffer_percent,omitempty"`
	Adjustments   map[string]any `json:"adjustments,omitempty"`
}

type CreateEpicRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	SquadID     string  `json:"squad_id,omitempty"`
	ProductID   string  `json:"product_id,omitempty"`
	Quarter     string  `json:"quarter" example:"Q3-2024"`
	Status      string  `json:"status,omitempty"`
	Health      string  `json:"health,omitempty"`
}

type UpdateEpicRequest struct {
	Title           *string  `json:"title,omitempty"`
	Description     *string  `json:"description,omitempty"`
	Status          *string  `json:"status,omitempty"`
	Health          *string  `json:"health,omitempty"`
	ProgressPercent *float64 `json:"progress_percent,omitempty"`
	SquadID         *string  `json:"squad_id,omitempty"`
}

type UpsertFeatureRequest struct {
	EpicID             string   `json:"epic_id,omitempty"`
	Title              *string  `json:"title,omitempty"`
	Description        *string  `json:"description,omitempty"`
	Estimate           *float64 `json:"estimate,omitempty"`
	RiskNotes          *string  `json:"risk_notes,omitempty"`
	AcceptanceCriteria *string  `json:"acceptance_criteria,omitempty"`
	SquadID            *string  `json:"squad_id,omitempty"`
	Status             string   `json:"status,omitempty"`
	DependsOn          []string `json:"depends_on,omitempty"`
}

type CreateDependencyRequest struct {
	ID                *string `json:"id,omitempty"`
	BlockedFeatureID  string  `json:"blocked_feature_id"`
	BlockingFeatureID string  `json:"blocking_feature_id"`
	Type              string  `json:"type,omitempty"`
	Risk              string  `json:"risk,omitempty"`
	Note              string  `json:"note,omitempty"`
}

type UpdateDependencyRequest struct {
	Type string `json:"type,omitempty"`
	Risk string `json:"risk,omitempty"`
	Note string `json:"note,omitempty"`
}

type CreateCycleRequest struct {
	ID        *string                `json:"id,omitempty"`
	ProductID string                 `json:"product_id,omitempty"`
	Quarter   string                 `json:"quarter" example:"Q3-2024"`
	Checklist []domain.ChecklistItem `json:"checklist,omitempty"`
}

type UpdateCycleRequest struct {
	Status                *string                `json:"status,omitempty"`
	Phase                 *int                   `json:"phase,omitempty"`
	Checklist             []domain.ChecklistItem `json:"checklist,omitempty"`
	AgendaURL             *string                `json:"agenda_url,omitempty"`
	ConfirmedParticipants *int                   `json:"confirmed_participants,omitempty"`
	TotalParticipants     *int                   `json:"total_participants,omitempty"`
	PreparationData       map[string]any         `json:"preparation_data,omitempty"`
}

type ScenarioParametersRequest struct {
	IncludeContractors *bool    `json:"include_contractors,omitempty"`
	ConsiderVacations  *bool    `json:"consider_vacations,omitempty"`
	RiskBufferPercent  *float64 `json:"risk_buffer_percent,omitempty"`
}

func (p ScenarioParametersRequest) params() domain.ScenarioParameters {
	return domain.ScenarioParameters{
		IncludeContractors: p.IncludeContractors,
		ConsiderVacations:  p.ConsiderVacations,
		RiskBufferPercent:  p.RiskBufferPercent,
	}
}

type CreateScenarioRequest struct {
	ID              *string                  `json:"id,omitempty"`
	Name            string                   `json:"name"`
	PlanningCycleID string                   `json:"planning_cycle_id,omitempty"`
	Quarter         string                   `json:"quarter,omitempty" example:"Q3-2024"`
	Adjustments     []domain.SquadAdjustment `json:"adjustments,omitempty"`
	ScenarioParametersRequest
}

type UpdateScenarioRequest struct {
	Adjustments []domain.SquadAdjustment `json:"adjustments,omitempty"`
	Status      *string                  `json:"status,omitempty"`
	ScenarioParametersRequest
}

type SaveCommitmentRequest struct {
	PlanningCycleID string   `json:"planning_cycle_id,omitempty"`
	Committed       []string `json:"committed,omitempty"`
	Targeted        []string `json:"targeted,omitempty"`
	Aspirational    []string `json:"aspirational,omitempty"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type ValueResponse struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Label string `json:"label"`
}

type TenantResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type SquadResponse struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	ProductID       string        `json:"product_id,omitempty"`
	Name            string        `json:"name"`
	Slug            string        `json:"slug"`
	Description     string        `json:"description,omitempty"`
	Status          ValueResponse `json:"status"`
	DefaultCapacity float64       `json:"default_capacity"`
	Color           string        `json:"color,omitempty"`
	Timezone        string        `json:"timezone,omitempty"`
	CreatedAt       string        `json:"created_at" format:"date-time"`
	UpdatedAt       string        `json:"updated_at" format:"date-time"`
}

type CapacityResponse struct {
	ID                 string         `json:"id"`
	SquadID            string         `json:"squad_id"`
	Quarter            string         `json:"quarter"`
	TotalCapacity      float64        `json:"total_capacity"`
	UsedCapacity       float64        `json:"used_capacity"`
	BufferPercent      float64        `json:"buffer_percent"`
	UtilizationPercent float64        `json:"utilization_percent"`
	Overloaded         bool           `json:"overloaded"`
	Adjustments        map[string]any `json:"adjustments,omitempty"`
	UpdatedAt          string         `json:"updated_at" format:"date-time"`
}

type EpicResponse struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	SquadID         string        `json:"squad_id,omitempty"`
	ProductID       string        `json:"product_id,omitempty"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	Status          ValueResponse `json:"status"`
	Health          ValueResponse `json:"health"`
	Quarter         string        `json:"quarter"`
	ProgressPercent float64       `json:"progress_percent"`
	CreatedAt       string        `json:"created_at" format:"date-time"`
	UpdatedAt       string        `json:"updated_at" format:"date-time"`
}

type FeatureResponse struct {
	ID                 string        `json:"id"`
	EpicID             string        `json:"epic_id"`
	Title              string        `json:"title"`
	Description        string        `json:"description,omitempty"`
	SquadID            string        `json:"squad_id,omitempty"`
	Estimate           float64       `json:"estimate"`
	Status             ValueResponse `json:"status"`
	RiskNotes          string        `json:"risk_notes,omitempty"`
	AcceptanceCriteria string        `json:"acceptance_criteria,omitempty"`
	DependsOn          []string      `json:"depends_on"`
	ReviewerID         string        `json:"reviewer_id,omitempty"`
	ReviewedAt         *string       `json:"reviewed_at,omitempty" format:"date-time"`
	UpdatedAt          string        `json:"updated_at" format:"date-time"`
}

type DependencyResponse struct {
	ID                string        `json:"id"`
	BlockedFeatureID  string        `json:"blocked_feature_id"`
	BlockingFeatureID string        `json:"blocking_feature_id"`
	Type              ValueResponse `json:"type"`
	Risk              ValueResponse `json:"risk"`
	Note              string        `json:"note,omitempty"`
	CreatedAt         string        `json:"created_at" format:"date-time"`
}

type CycleResponse struct {
	ID                    string                 `json:"id"`
	ProductID             string                 `json:"product_id,omitempty"`
	Quarter               string                 `json:"quarter"`
	Status                ValueResponse          `json:"status"`
	Phase                 int                    `json:"phase"`
	Checklist             []domain.ChecklistItem `json:"checklist"`
	AgendaURL             string                 `json:"agenda_url,omitempty"`
	ConfirmedParticipants int                    `json:"confirmed_participants"`
	TotalParticipants     int                    `json:"total_participants"`
	PreparationData       map[string]any         `json:"preparation_data,omitempty"`
	StartedAt             *string                `json:"started_at,omitempty" format:"date-time"`
	FinishedAt            *string                `json:"finished_at,omitempty" format:"date-time"`
	UpdatedAt             string                 `json:"updated_at" format:"date-time"`
}

type ScenarioResponse struct {
	ID                 string                   `json:"id"`
	Name               string                   `json:"name"`
	PlanningCycleID    string                   `json:"planning_cycle_id,omitempty"`
	Quarter            string                   `json:"quarter"`
	Status             ValueResponse            `json:"status"`
	Adjustments        []domain.SquadAdjustment `json:"adjustments"`
	IncludeContractors bool                     `json:"include_contractors"`
	ConsiderVacations  bool                     `json:"consider_vacations"`
	RiskBufferPercent  float64                  `json:"risk_buffer_percent"`
	Result             *domain.ScenarioResult   `json:"result,omitempty"`
	UpdatedAt          string                   `json:"updated_at" format:"date-time"`
}

type SimulationResponse struct {
	Scenario ScenarioResponse        `json:"scenario"`
	Squads   []insight.SquadCapacity `json:"squads"`
}

type TierResponse struct {
	Tier    ValueResponse `json:"tier"`
	EpicIDs []string      `json:"epic_ids"`
}

type CommitmentResponse struct {
	ID              string         `json:"id"`
	ProductID       string         `json:"product_id"`
	Quarter         string         `json:"quarter"`
	PlanningCycleID string         `json:"planning_cycle_id,omitempty"`
	Tiers           []TierResponse `json:"tiers"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
}

type ReportResponse struct {
	TenantID     string               `json:"tenant_id"`
	Quarter      string               `json:"quarter"`
	Capacity     []CapacityResponse   `json:"capacity"`
	Alerts       []insight.Alert      `json:"alerts"`
	Hints        []insight.Hint       `json:"hints"`
	Commitments  []CommitmentResponse `json:"commitments"`
	Cycles       []CycleResponse      `json:"cycles"`
	Dependencies []DependencyResponse `json:"dependencies"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	TenantID    string   `json:"tenant_id,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type APIKeyResponse struct {
	ID         string  `json:"id"`
	TenantID   string  `json:"tenant_id"`
	ActorID    string  `json:"actor_id"`
	Name       string  `json:"name,omitempty"`
	Key        string  `json:"key,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	LastUsedAt *string `json:"last_used_at,omitempty" format:"date-time"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, TenantID: k.TenantID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt, LastUsedAt: k.LastUsedAt}
}

func valueResponse(v catalog.Value) ValueResponse {
	return ValueResponse{ID: v.ID(), Slug: v.Slug(), Label: v.Label()}
}

func tenantResponse(t domain.Tenant) TenantResponse {
	return TenantResponse{ID: t.ID, Name: t.Name, CreatedAt: t.CreatedAt}
}

func squadResponse(s domain.SquadRecord) SquadResponse {
	return SquadResponse{
		ID:              s.ID,
		TenantID:        s.TenantID,
		ProductID:       s.ProductID,
		Name:            s.Name,
		Slug:            s.Slug,
		Description:     s.Description,
		Status:          valueResponse(s.Status),
		DefaultCapacity: s.DefaultCapacity,
		Color:           s.Color,
		Timezone:        s.Timezone,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func capacityResponse(c domain.CapacityRecord) CapacityResponse {
	return CapacityResponse{
		ID:                 c.ID,
		SquadID:            c.SquadID,
		Quarter:            c.Quarter,
		TotalCapacity:      c.TotalCapacity,
		UsedCapacity:       c.UsedCapacity,
		BufferPercent:      c.BufferPercent,
		UtilizationPercent: c.UtilizationPercent(),
		Overloaded:         c.IsOverloaded(),
		Adjustments:        c.Adjustments,
		UpdatedAt:          c.UpdatedAt,
	}
}

func epicResponse(e domain.EpicRecord) EpicResponse {
	return EpicResponse{
		ID:              e.ID,
		TenantID:        e.TenantID,
		SquadID:         e.SquadID,
		ProductID:       e.ProductID,
		Title:           e.Title,
		Description:     e.Description,
		Status:          valueResponse(e.Status),
		Health:          valueResponse(e.Health),
		Quarter:         e.Quarter,
		ProgressPercent: e.ProgressPercent,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func featureResponse(f domain.FeatureRecord) FeatureResponse {
	return FeatureResponse{
		ID:                 f.ID,
		EpicID:             f.EpicID,
		Title:              f.Title,
		Description:        f.Description,
		SquadID:            f.SquadID,
		Estimate:           f.Estimate,
		Status:             valueResponse(f.Status),
		RiskNotes:          f.RiskNotes,
		AcceptanceCriteria: f.AcceptanceCriteria,
		DependsOn:          nonNilSlice(f.DependsOn),
		ReviewerID:         f.ReviewerID,
		ReviewedAt:         f.ReviewedAt,
		UpdatedAt:          f.UpdatedAt,
	}
}

func dependencyResponse(d domain.DependencyRecord) DependencyResponse {
	return DependencyResponse{
		ID:                d.ID,
		BlockedFeatureID:  d.BlockedFeatureID,
		BlockingFeatureID: d.BlockingFeatureID,
		Type:              valueResponse(d.Type),
		Risk:              valueResponse(d.Risk),
		Note:              d.Note,
		CreatedAt:         d.CreatedAt,
	}
}

func cycleResponse(c domain.PlanningCycleRecord) CycleResponse {
	return CycleResponse{
		ID:                    c.ID,
		ProductID:             c.ProductID,
		Quarter:               c.Quarter,
		Status:                valueResponse(c.Status),
		Phase:                 c.Phase,
		Checklist:             nonNilSlice(c.Checklist),
		AgendaURL:             c.AgendaURL,
		ConfirmedParticipants: c.ConfirmedParticipants,
		TotalParticipants:     c.TotalParticipants,
		PreparationData:       c.PreparationData,
		StartedAt:             c.StartedAt,
		FinishedAt:            c.FinishedAt,
		UpdatedAt:             c.UpdatedAt,
	}
}

func scenarioResponse(s domain.ScenarioRecord) ScenarioResponse {
	return ScenarioResponse{
		ID:                 s.ID,
		Name:               s.Name,
		PlanningCycleID:    s.PlanningCycleID,
		Quarter:            s.Quarter,
		Status:             valueResponse(s.Status),
		Adjustments:        nonNilSlice(s.Adjustments),
		IncludeContractors: s.IncludeContractors,
		ConsiderVacations:  s.ConsiderVacations,
		RiskBufferPercent:  s.RiskBufferPercent,
		Result:             s.Result,
		UpdatedAt:          s.UpdatedAt,
	}
}

func commitmentResponse(c domain.CommitmentView) CommitmentResponse {
	tiers := make([]TierResponse, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		tiers = append(tiers, TierResponse{Tier: valueResponse(t.Tier), EpicIDs: nonNilSlice(t.EpicIDs)})
	}
	return CommitmentResponse{
		ID:              c.ID,
		ProductID:       c.ProductID,
		Quarter:         c.Quarter,
		PlanningCycleID: c.PlanningCycleID,
		Tiers:           tiers,
		UpdatedAt:       c.UpdatedAt,
	}
}

func reportResponse(r engine.PlanningReport) ReportResponse {
	return ReportResponse{
		TenantID:     r.TenantID,
		Quarter:      r.Quarter,
		Capacity:     mapSlice(r.Capacity, capacityResponse),
		Alerts:       nonNilSlice(r.Alerts),
		Hints:        nonNilSlice(r.Hints),
		Commitments:  mapSlice(r.Commitments, commitmentResponse),
		Cycles:       mapSlice(r.Cycles, cycleResponse),
		Dependencies: mapSlice(r.Dependencies, dependencyResponse),
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func mapSlice[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
