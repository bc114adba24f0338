package engine

import (
	"context"
	"database/sql"
	"errors"

	"quarterplan/internal/domain"
	"quarterplan/internal/events"
	"quarterplan/internal/repo"
)

type CommitmentSaveOptions struct {
	TenantID        string
	ProductID       string
	Quarter         string
	PlanningCycleID string
	Committed       []string
	Targeted        []string
	Aspirational    []string
	ActorID         string
}

// SaveCommitment upserts the commitment for (tenant, product, quarter).
// Every listed epic must exist in the tenant.
func (e Engine) SaveCommitment(ctx context.Context, opts CommitmentSaveOptions) (domain.CommitmentView, error) {
	if err := e.requireTenant(ctx, opts.TenantID); err != nil {
		return domain.CommitmentView{}, err
	}
	quarter, err := domain.ParseQuarter(opts.Quarter)
	if err != nil {
		return domain.CommitmentView{}, err
	}
	now := e.now()
	var c *domain.Commitment
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		for _, bucket := range [][]string{opts.Committed, opts.Targeted, opts.Aspirational} {
			for _, id := range bucket {
				if _, err := e.Repo.GetEpic(ctx, tx, opts.TenantID, id); err != nil {
					return err
				}
			}
		}
		if opts.PlanningCycleID != "" {
			if _, err := e.Repo.GetPlanningCycle(ctx, tx, opts.TenantID, opts.PlanningCycleID); err != nil {
				return err
			}
		}
		existing, err := e.Repo.GetCommitment(ctx, tx, opts.TenantID, opts.ProductID, quarter)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			c, err = domain.NewCommitment(domain.NewCommitmentParams{
				ID:              newID(""),
				TenantID:        opts.TenantID,
				ProductID:       opts.ProductID,
				Quarter:         quarter,
				PlanningCycleID: opts.PlanningCycleID,
				Committed:       opts.Committed,
				Targeted:        opts.Targeted,
				Aspirational:    opts.Aspirational,
				Now:             now,
			})
			if err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			c = existing
			if err := c.ReplaceTiers(opts.Committed, opts.Targeted, opts.Aspirational, now); err != nil {
				return err
			}
			if opts.PlanningCycleID != "" {
				c.LinkCycle(opts.PlanningCycleID, now)
			}
		}
		if err := e.Repo.SaveCommitment(ctx, tx, c); err != nil {
			return err
		}
		rec := c.Record()
		return e.emit(ctx, tx, "commitment.save", opts.TenantID, events.KindCommitment, rec.ID, opts.ActorID, events.EventPayload{
			"product_id":   rec.ProductID,
			"quarter":      rec.Quarter,
			"committed":    len(rec.Committed),
			"targeted":     len(rec.Targeted),
			"aspirational": len(rec.Aspirational),
		})
	})
	if err != nil {
		return domain.CommitmentView{}, err
	}
	return c.Tiers(e.Catalog)
}

// GetCommitment returns the commitment decorated with catalog tiers.
func (e Engine) GetCommitment(ctx context.Context, tenantID, productID, quarter string) (domain.CommitmentView, error) {
	q, err := domain.ParseQuarter(quarter)
	if err != nil {
		return domain.CommitmentView{}, err
	}
	c, err := e.Repo.GetCommitment(ctx, nil, tenantID, productID, q)
	if err != nil {
		return domain.CommitmentView{}, err
	}
	return c.Tiers(e.Catalog)
}

func (e Engine) ListCommitments(ctx context.Context, tenantID, quarter string) ([]domain.CommitmentView, error) {
	quarter, err := filterQuarter(quarter)
	if err != nil {
		return nil, err
	}
	commitments, err := e.Repo.ListCommitments(ctx, tenantID, quarter)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CommitmentView, 0, len(commitments))
	for _, c := range commitments {
		view, err := c.Tiers(e.Catalog)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}
