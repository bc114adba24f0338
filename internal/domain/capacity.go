package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// MaxOvercommitRatio caps used capacity relative to total.
	MaxOvercommitRatio = 1.5
	// OverloadThresholdPercent is the utilization above which a squad is overloaded.
	OverloadThresholdPercent = 110.0
)

type CapacityRecord struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	SquadID       string         `json:"squad_id"`
	Quarter       string         `json:"quarter"`
	TotalCapacity float64        `json:"total_capacity"`
	UsedCapacity  float64        `json:"used_capacity"`
	BufferPercent float64        `json:"buffer_percent"`
	Adjustments   map[string]any `json:"adjustments,omitempty"`
	CreatedAt     string         `json:"created_at" format:"date-time"`
	UpdatedAt     string         `json:"updated_at" format:"date-time"`
}

// UtilizationPercent is used/total*100 rounded to two decimals, 0 when total is 0.
func (r CapacityRecord) UtilizationPercent() float64 {
	if r.TotalCapacity == 0 {
		return 0
	}
	return round2(r.UsedCapacity / r.TotalCapacity * 100)
}

func (r CapacityRecord) IsOverloaded() bool {
	return r.UtilizationPercent() > OverloadThresholdPercent
}

// CapacitySnapshot is the recorded capacity of one squad in one quarter.
type CapacitySnapshot struct {
	rec CapacityRecord
}

type NewCapacityParams struct {
	ID            string
	TenantID      string
	SquadID       string
	Quarter       string
	TotalCapacity float64
	UsedCapacity  float64
	BufferPercent float64
	Adjustments   map[string]any
	Now           time.Time
}

func NewCapacitySnapshot(p NewCapacityParams) (*CapacitySnapshot, error) {
	if err := requireIdentity(p.ID, p.TenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.SquadID) == "" {
		return nil, fmt.Errorf("%w: squad is required", ErrInvalidInput)
	}
	quarter, err := ParseQuarter(p.Quarter)
	if err != nil {
		return nil, err
	}
	if err := validateCapacity(p.TotalCapacity, p.UsedCapacity); err != nil {
		return nil, err
	}
	if err := validatePercent(p.BufferPercent, ErrInvalidBuffer, "buffer"); err != nil {
		return nil, err
	}
	now := stamp(p.Now)
	return &CapacitySnapshot{rec: CapacityRecord{
		ID:            p.ID,
		TenantID:      p.TenantID,
		SquadID:       p.SquadID,
		Quarter:       quarter,
		TotalCapacity: p.TotalCapacity,
		UsedCapacity:  p.UsedCapacity,
		BufferPercent: p.BufferPercent,
		Adjustments:   copyPayload(p.Adjustments),
		CreatedAt:     now,
		UpdatedAt:     now,
	}}, nil
}

func RestoreCapacitySnapshot(r CapacityRecord) *CapacitySnapshot {
	return &CapacitySnapshot{rec: r}
}

func (c *CapacitySnapshot) ID() string { return c.rec.ID }

func (c *CapacitySnapshot) Record() CapacityRecord {
	r := c.rec
	r.Adjustments = copyPayload(c.rec.Adjustments)
	return r
}

func (c *CapacitySnapshot) UpdateCapacity(total, used float64, now time.Time) error {
	if err := validateCapacity(total, used); err != nil {
		return err
	}
	c.rec.TotalCapacity = total
	c.rec.UsedCapacity = used
	c.rec.UpdatedAt = stamp(now)
	return nil
}

func (c *CapacitySnapshot) UpdateBuffer(percent float64, now time.Time) error {
	if err := validatePercent(percent, ErrInvalidBuffer, "buffer"); err != nil {
		return err
	}
	c.rec.BufferPercent = percent
	c.rec.UpdatedAt = stamp(now)
	return nil
}

// ApplyAdjustments replaces the stored adjustment payload verbatim.
func (c *CapacitySnapshot) ApplyAdjustments(payload map[string]any, now time.Time) {
	c.rec.Adjustments = copyPayload(payload)
	c.rec.UpdatedAt = stamp(now)
}

func (c *CapacitySnapshot) UtilizationPercent() float64 { return c.rec.UtilizationPercent() }
func (c *CapacitySnapshot) IsOverloaded() bool          { return c.rec.IsOverloaded() }

func validateCapacity(total, used float64) error {
	if math.IsNaN(total) || math.IsNaN(used) || math.IsInf(total, 0) || math.IsInf(used, 0) {
		return fmt.Errorf("%w: capacity must be a finite number", ErrInvalidCapacity)
	}
	if total < 0 || used < 0 {
		return fmt.Errorf("%w: total %.2f and used %.2f must not be negative", ErrInvalidCapacity, total, used)
	}
	if used > total*MaxOvercommitRatio {
		return fmt.Errorf("%w: used %.2f exceeds %.0f%% of total %.2f", ErrInvalidCapacity, used, MaxOvercommitRatio*100, total)
	}
	return nil
}

func validatePercent(v float64, sentinel error, name string) error {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return fmt.Errorf("%w: %s %.2f outside [0, 100]", sentinel, name, v)
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
