package domain

import (
	"fmt"
	"strings"
	"time"

	"quarterplan/internal/domain/catalog"
)

type ChecklistItem struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Done  bool   `json:"done"`
	Owner string `json:"owner,omitempty"`
}

type PlanningCycleRecord struct {
	ID                    string          `json:"id"`
	TenantID              string          `json:"tenant_id"`
	ProductID             string          `json:"product_id,omitempty"`
	Quarter               string          `json:"quarter"`
	Status                catalog.Value   `json:"status"`
	Phase                 int             `json:"phase"`
	Checklist             []ChecklistItem `json:"checklist"`
	AgendaURL             string          `json:"agenda_url,omitempty"`
	ConfirmedParticipants int             `json:"confirmed_participants"`
	TotalParticipants     int             `json:"total_participants"`
	PreparationData       map[string]any  `json:"preparation_data,omitempty"`
	StartedAt             *string         `json:"started_at,omitempty" format:"date-time"`
	FinishedAt            *string         `json:"finished_at,omitempty" format:"date-time"`
	CreatedAt             string          `json:"created_at" format:"date-time"`
	UpdatedAt             string          `json:"updated_at" format:"date-time"`
}

// PlanningCycle tracks the ritual that produces a quarter's plan. Phase is a
// free counter layered over the catalog status.
type PlanningCycle struct {
	rec PlanningCycleRecord
}

type NewPlanningCycleParams struct {
	ID        string
	TenantID  string
	ProductID string
	Quarter   string
	Status    catalog.Value
	Checklist []ChecklistItem
	Now       time.Time
}

func NewPlanningCycle(p NewPlanningCycleParams) (*PlanningCycle, error) {
	if err := requireIdentity(p.ID, p.TenantID); err != nil {
		return nil, err
	}
	quarter, err := ParseQuarter(p.Quarter)
	if err != nil {
		return nil, err
	}
	if err := requireCategory(p.Status, catalog.PlanningCycleStatus); err != nil {
		return nil, err
	}
	checklist, err := normalizeChecklist(p.Checklist)
	if err != nil {
		return nil, err
	}
	now := stamp(p.Now)
	return &PlanningCycle{rec: PlanningCycleRecord{
		ID:        p.ID,
		TenantID:  p.TenantID,
		ProductID: strings.TrimSpace(p.ProductID),
		Quarter:   quarter,
		Status:    p.Status,
		Phase:     1,
		Checklist: checklist,
		CreatedAt: now,
		UpdatedAt: now,
	}}, nil
}

func RestorePlanningCycle(r PlanningCycleRecord) *PlanningCycle {
	return &PlanningCycle{rec: r}
}

func (c *PlanningCycle) ID() string { return c.rec.ID }

func (c *PlanningCycle) Record() PlanningCycleRecord {
	r := c.rec
	r.Checklist = append([]ChecklistItem{}, c.rec.Checklist...)
	r.PreparationData = copyPayload(c.rec.PreparationData)
	return r
}

func (c *PlanningCycle) IsClosed() bool { return c.rec.Status.IsClosed() }

// UpdateStatus moves the cycle to next. StartedAt is stamped the first time
// the status leaves its initial value; FinishedAt whenever next is closed,
// and it is cleared when a closed cycle is reopened.
// Phase changes only when phase is non-nil.
func (c *PlanningCycle) UpdateStatus(next catalog.Value, phase *int, now time.Time) error {
	if err := requireCategory(next, catalog.PlanningCycleStatus); err != nil {
		return err
	}
	if phase != nil && *phase < 1 {
		return fmt.Errorf("%w: phase %d must be >= 1", ErrInvalidPhase, *phase)
	}
	at := stamp(now)
	c.rec.Status = next
	if c.rec.StartedAt == nil && !next.IsInitial() {
		c.rec.StartedAt = &at
	}
	if next.IsClosed() {
		c.rec.FinishedAt = &at
	} else {
		c.rec.FinishedAt = nil
	}
	if phase != nil {
		c.rec.Phase = *phase
	}
	c.rec.UpdatedAt = at
	return nil
}

// UpdateChecklist replaces the checklist.
func (c *PlanningCycle) UpdateChecklist(items []ChecklistItem, now time.Time) error {
	checklist, err := normalizeChecklist(items)
	if err != nil {
		return err
	}
	c.rec.Checklist = checklist
	c.rec.UpdatedAt = stamp(now)
	return nil
}

// ChecklistProgress returns done and total item counts.
func (c *PlanningCycle) ChecklistProgress() (done, total int) {
	for _, item := range c.rec.Checklist {
		if item.Done {
			done++
		}
	}
	return done, len(c.rec.Checklist)
}

func (c *PlanningCycle) RecordParticipants(confirmed, total int, now time.Time) error {
	if confirmed < 0 || total < 0 {
		return fmt.Errorf("%w: counts must not be negative", ErrInvalidParticipants)
	}
	if confirmed > total {
		return fmt.Errorf("%w: %d confirmed of %d", ErrInvalidParticipants, confirmed, total)
	}
	c.rec.ConfirmedParticipants = confirmed
	c.rec.TotalParticipants = total
	c.rec.UpdatedAt = stamp(now)
	return nil
}

func (c *PlanningCycle) UpdateAgenda(url string, now time.Time) {
	c.rec.AgendaURL = strings.TrimSpace(url)
	c.rec.UpdatedAt = stamp(now)
}

func (c *PlanningCycle) UpdatePreparationData(payload map[string]any, now time.Time) {
	c.rec.PreparationData = copyPayload(payload)
	c.rec.UpdatedAt = stamp(now)
}

func normalizeChecklist(items []ChecklistItem) ([]ChecklistItem, error) {
	out := make([]ChecklistItem, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		item.Key = strings.TrimSpace(item.Key)
		item.Label = strings.TrimSpace(item.Label)
		if item.Key == "" || item.Label == "" {
			return nil, fmt.Errorf("%w: checklist item %d needs key and label", ErrInvalidInput, i)
		}
		if _, dup := seen[item.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate checklist key %s", ErrInvalidInput, item.Key)
		}
		seen[item.Key] = struct{}{}
		out = append(out, item)
	}
	return out, nil
}
