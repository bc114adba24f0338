package engine

import (
	"context"
	"database/sql"
	"errors"

	"quarterplan/internal/domain"
	"quarterplan/internal/events"
	"quarterplan/internal/insight"
	"quarterplan/internal/repo"
)

// CapacityReportOptions report a squad's capacity for a quarter. A nil
// BufferPercent or Adjustments leaves the stored value untouched.
type CapacityReportOptions struct {
	TenantID      string
	SquadID       string
	Quarter       string
	Total         float64
	Used          float64
	BufferPercent *float64
	Adjustments   map[string]any
	ActorID       string
}

// ReportCapacity upserts the snapshot for (tenant, squad, quarter): the first
// report creates it, later ones update it in place.
func (e Engine) ReportCapacity(ctx context.Context, opts CapacityReportOptions) (domain.CapacityRecord, error) {
	quarter, err := domain.ParseQuarter(opts.Quarter)
	if err != nil {
		return domain.CapacityRecord{}, err
	}
	if _, err := e.Repo.GetSquad(ctx, nil, opts.TenantID, opts.SquadID); err != nil {
		return domain.CapacityRecord{}, err
	}
	now := e.now()
	var rec domain.CapacityRecord
	created := false
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		snap, err := e.Repo.GetCapacity(ctx, tx, opts.TenantID, opts.SquadID, quarter)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			var buffer float64
			if opts.BufferPercent != nil {
				buffer = *opts.BufferPercent
			}
			snap, err = domain.NewCapacitySnapshot(domain.NewCapacityParams{
				ID:            newID(""),
				TenantID:      opts.TenantID,
				SquadID:       opts.SquadID,
				Quarter:       quarter,
				TotalCapacity: opts.Total,
				UsedCapacity:  opts.Used,
				BufferPercent: buffer,
				Adjustments:   opts.Adjustments,
				Now:           now,
			})
			if err != nil {
				return err
			}
			created = true
		case err != nil:
			return err
		default:
			if err := snap.UpdateCapacity(opts.Total, opts.Used, now); err != nil {
				return err
			}
			if opts.BufferPercent != nil {
				if err := snap.UpdateBuffer(*opts.BufferPercent, now); err != nil {
					return err
				}
			}
			if opts.Adjustments != nil {
				snap.ApplyAdjustments(opts.Adjustments, now)
			}
		}
		if err := e.Repo.SaveCapacity(ctx, tx, snap); err != nil {
			return err
		}
		rec = snap.Record()
		return e.emit(ctx, tx, "capacity.report", opts.TenantID, events.KindCapacity, rec.ID, opts.ActorID, events.EventPayload{
			"squad_id":            rec.SquadID,
			"quarter":             rec.Quarter,
			"total_capacity":      rec.TotalCapacity,
			"used_capacity":       rec.UsedCapacity,
			"utilization_percent": rec.UtilizationPercent(),
			"created":             created,
		})
	})
	if err != nil {
		return domain.CapacityRecord{}, err
	}
	if rec.IsOverloaded() {
		e.log().Info("squad overloaded", "tenant", opts.TenantID, "squad", rec.SquadID, "quarter", rec.Quarter, "utilization", rec.UtilizationPercent())
	}
	return rec, nil
}

func (e Engine) mutateCapacity(ctx context.Context, tenantID, squadID, quarter, actorID, evtType string, fn func(*domain.CapacitySnapshot) error) (domain.CapacityRecord, error) {
	q, err := domain.ParseQuarter(quarter)
	if err != nil {
		return domain.CapacityRecord{}, err
	}
	var rec domain.CapacityRecord
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		snap, err := e.Repo.GetCapacity(ctx, tx, tenantID, squadID, q)
		if err != nil {
			return err
		}
		if err := fn(snap); err != nil {
			return err
		}
		if err := e.Repo.SaveCapacity(ctx, tx, snap); err != nil {
			return err
		}
		rec = snap.Record()
		return e.emit(ctx, tx, evtType, tenantID, events.KindCapacity, rec.ID, actorID,
			events.EventPayload{"squad_id": squadID, "quarter": q})
	})
	return rec, err
}

func (e Engine) UpdateCapacityBuffer(ctx context.Context, tenantID, squadID, quarter string, percent float64, actorID string) (domain.CapacityRecord, error) {
	return e.mutateCapacity(ctx, tenantID, squadID, quarter, actorID, "capacity.buffer", func(c *domain.CapacitySnapshot) error {
		return c.UpdateBuffer(percent, e.now())
	})
}

func (e Engine) ApplyCapacityAdjustments(ctx context.Context, tenantID, squadID, quarter string, payload map[string]any, actorID string) (domain.CapacityRecord, error) {
	return e.mutateCapacity(ctx, tenantID, squadID, quarter, actorID, "capacity.adjust", func(c *domain.CapacitySnapshot) error {
		c.ApplyAdjustments(payload, e.now())
		return nil
	})
}

// ListCapacity lists snapshots, for every quarter when quarter is empty.
func (e Engine) ListCapacity(ctx context.Context, tenantID, quarter string) ([]domain.CapacityRecord, error) {
	if quarter != "" {
		q, err := domain.ParseQuarter(quarter)
		if err != nil {
			return nil, err
		}
		quarter = q
	}
	snaps, err := e.Repo.ListCapacity(ctx, tenantID, quarter)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CapacityRecord, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.Record())
	}
	return out, nil
}

// CapacityAlerts evaluates the tenant's snapshots against its configured
// thresholds.
func (e Engine) CapacityAlerts(ctx context.Context, tenantID, quarter string) ([]insight.Alert, error) {
	cfg, err := e.TenantConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	snaps, err := e.ListCapacity(ctx, tenantID, quarter)
	if err != nil {
		return nil, err
	}
	alerts := insight.CapacityAlerts(snaps, cfg.Thresholds())
	if alerts == nil {
		alerts = []insight.Alert{}
	}
	return alerts, nil
}
