package domain

import (
	"fmt"
	"strings"
	"time"

	"quarterplan/internal/domain/catalog"
)

// Tier slugs looked up in the commitment_tier category.
const (
	TierCommitted    = "committed"
	TierTargeted     = "targeted"
	TierAspirational = "aspirational"
)

type CommitmentRecord struct {
	ID              string   `json:"id"`
	TenantID        string   `json:"tenant_id"`
	ProductID       string   `json:"product_id"`
	Quarter         string   `json:"quarter"`
	PlanningCycleID string   `json:"planning_cycle_id,omitempty"`
	Committed       []string `json:"committed"`
	Targeted        []string `json:"targeted"`
	Aspirational    []string `json:"aspirational"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	UpdatedAt       string   `json:"updated_at" format:"date-time"`
}

// Commitment is the finalized tiering of a quarter's epics for one product.
type Commitment struct {
	rec CommitmentRecord
}

type NewCommitmentParams struct {
	ID              string
	TenantID        string
	ProductID       string
	Quarter         string
	PlanningCycleID string
	Committed       []string
	Targeted        []string
	Aspirational    []string
	Now             time.Time
}

func NewCommitment(p NewCommitmentParams) (*Commitment, error) {
	if err := requireIdentity(p.ID, p.TenantID); err != nil {
		return nil, err
	}
	product := strings.TrimSpace(p.ProductID)
	if product == "" {
		return nil, fmt.Errorf("%w: product is required", ErrInvalidInput)
	}
	quarter, err := ParseQuarter(p.Quarter)
	if err != nil {
		return nil, err
	}
	committed, targeted, aspirational, err := normalizeTiers(p.Committed, p.Targeted, p.Aspirational)
	if err != nil {
		return nil, err
	}
	now := stamp(p.Now)
	return &Commitment{rec: CommitmentRecord{
		ID:              p.ID,
		TenantID:        p.TenantID,
		ProductID:       product,
		Quarter:         quarter,
		PlanningCycleID: strings.TrimSpace(p.PlanningCycleID),
		Committed:       committed,
		Targeted:        targeted,
		Aspirational:    aspirational,
		CreatedAt:       now,
		UpdatedAt:       now,
	}}, nil
}

func RestoreCommitment(r CommitmentRecord) *Commitment { return &Commitment{rec: r} }

func (c *Commitment) ID() string { return c.rec.ID }

func (c *Commitment) Record() CommitmentRecord {
	r := c.rec
	r.Committed = append([]string{}, c.rec.Committed...)
	r.Targeted = append([]string{}, c.rec.Targeted...)
	r.Aspirational = append([]string{}, c.rec.Aspirational...)
	return r
}

// ReplaceTiers swaps all three buckets at once.
func (c *Commitment) ReplaceTiers(committed, targeted, aspirational []string, now time.Time) error {
	a, b, d, err := normalizeTiers(committed, targeted, aspirational)
	if err != nil {
		return err
	}
	c.rec.Committed, c.rec.Targeted, c.rec.Aspirational = a, b, d
	c.rec.UpdatedAt = stamp(now)
	return nil
}

// LinkCycle records the planning cycle that produced the commitment.
func (c *Commitment) LinkCycle(cycleID string, now time.Time) {
	c.rec.PlanningCycleID = strings.TrimSpace(cycleID)
	c.rec.UpdatedAt = stamp(now)
}

// TierView is one bucket decorated with its catalog value.
type TierView struct {
	Tier    catalog.Value `json:"tier"`
	EpicIDs []string      `json:"epic_ids"`
}

// CommitmentView is the read projection of a commitment.
type CommitmentView struct {
	CommitmentRecord
	Tiers []TierView `json:"tiers"`
}

// Tiers decorates each bucket with the tenant's commitment_tier values.
func (c *Commitment) Tiers(lookup catalog.Lookup) (CommitmentView, error) {
	rec := c.Record()
	buckets := []struct {
		slug string
		ids  []string
	}{
		{TierCommitted, rec.Committed},
		{TierTargeted, rec.Targeted},
		{TierAspirational, rec.Aspirational},
	}
	view := CommitmentView{CommitmentRecord: rec, Tiers: make([]TierView, 0, len(buckets))}
	for _, b := range buckets {
		tier, err := lookup.Lookup(rec.TenantID, catalog.CommitmentTier, b.slug)
		if err != nil {
			return CommitmentView{}, err
		}
		view.Tiers = append(view.Tiers, TierView{Tier: tier, EpicIDs: b.ids})
	}
	return view, nil
}

// TierOf returns the tier slug holding epicID, or "".
func (c *Commitment) TierOf(epicID string) string {
	for slug, ids := range map[string][]string{
		TierCommitted:    c.rec.Committed,
		TierTargeted:     c.rec.Targeted,
		TierAspirational: c.rec.Aspirational,
	} {
		for _, id := range ids {
			if id == epicID {
				return slug
			}
		}
	}
	return ""
}

func normalizeTiers(committed, targeted, aspirational []string) ([]string, []string, []string, error) {
	buckets := [3][]string{dedupe(committed), dedupe(targeted), dedupe(aspirational)}
	names := [3]string{TierCommitted, TierTargeted, TierAspirational}
	owner := make(map[string]string)
	for i, ids := range buckets {
		for _, id := range ids {
			if prev, ok := owner[id]; ok {
				return nil, nil, nil, fmt.Errorf("%w: %s is both %s and %s", ErrTierConflict, id, prev, names[i])
			}
			owner[id] = names[i]
		}
		if buckets[i] == nil {
			buckets[i] = []string{}
		}
	}
	return buckets[0], buckets[1], buckets[2], nil
}
