package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"quarterplan/internal/domain"
	"quarterplan/internal/domain/catalog"
)

const scenarioColumns = `id,tenant_id,name,COALESCE(planning_cycle_id,''),quarter,status,adjustments_json,include_contractors,consider_vacations,risk_buffer_percent,result_json,created_at,updated_at`

func (r Repo) scanScenario(row rowScanner) (*domain.Scenario, error) {
	var rec domain.ScenarioRecord
	var status string
	var adjustments, result sql.NullString
	var contractors, vacations int
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.Name, &rec.PlanningCycleID, &rec.Quarter, &status, &adjustments,
		&contractors, &vacations, &rec.RiskBufferPercent, &result, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	v, err := r.value(rec.TenantID, catalog.ScenarioStatus, status)
	if err != nil {
		return nil, err
	}
	rec.Status = v
	rec.IncludeContractors = contractors != 0
	rec.ConsiderVacations = vacations != 0
	if err := unmarshalJSON(adjustments, &rec.Adjustments); err != nil {
		return nil, fmt.Errorf("scenario %s adjustments: %w", rec.ID, err)
	}
	if rec.Adjustments == nil {
		rec.Adjustments = []domain.SquadAdjustment{}
	}
	if result.Valid && result.String != "" {
		var res domain.ScenarioResult
		if err := unmarshalJSON(result, &res); err != nil {
			return nil, fmt.Errorf("scenario %s result: %w", rec.ID, err)
		}
		rec.Result = &res
	}
	return domain.RestoreScenario(rec), nil
}

func (r Repo) SaveScenario(ctx context.Context, tx *sql.Tx, s *domain.Scenario) error {
	rec := s.Record()
	adj := rec.Adjustments
	if adj == nil {
		adj = []domain.SquadAdjustment{}
	}
	adjustments, err := marshalJSON(adj)
	if err != nil {
		return err
	}
	var result any
	if rec.Result != nil {
		raw, err := marshalJSON(rec.Result)
		if err != nil {
			return err
		}
		result = raw
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO scenarios(id,tenant_id,name,planning_cycle_id,quarter,status,adjustments_json,include_contractors,consider_vacations,risk_buffer_percent,result_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(tenant_id,id) DO UPDATE SET name=excluded.name, status=excluded.status, adjustments_json=excluded.adjustments_json,
include_contractors=excluded.include_contractors, consider_vacations=excluded.consider_vacations, risk_buffer_percent=excluded.risk_buffer_percent,
result_json=excluded.result_json, updated_at=excluded.updated_at`,
		rec.ID, rec.TenantID, rec.Name, nullable(rec.PlanningCycleID), rec.Quarter, rec.Status.Slug(), adjustments,
		boolInt(rec.IncludeContractors), boolInt(rec.ConsiderVacations), rec.RiskBufferPercent, result, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r Repo) GetScenario(ctx context.Context, tx *sql.Tx, tenantID, id string) (*domain.Scenario, error) {
	s, err := r.scanScenario(r.q(tx).QueryRowContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE tenant_id=? AND id=?`, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	return s, err
}

func (r Repo) ListScenarios(ctx context.Context, tenantID, quarter, cycleID string) ([]*domain.Scenario, error) {
	query := `SELECT ` + scenarioColumns + ` FROM scenarios WHERE tenant_id=?`
	args := []any{tenantID}
	if quarter != "" {
		query += ` AND quarter=?`
		args = append(args, quarter)
	}
	if cycleID != "" {
		query += ` AND planning_cycle_id=?`
		args = append(args, cycleID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []*domain.Scenario
	for rows.Next() {
		s, err := r.scanScenario(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
