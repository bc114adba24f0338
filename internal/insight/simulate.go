package insight

import (
	"fmt"
	"math"

	"quarterplan/internal/domain"
)

// ContractorsAdjustment is the snapshot adjustment key holding contractor
// capacity in points.
const ContractorsAdjustment = "contractors"

// EpicDemand is one epic's effort, the sum of its feature estimates.
type EpicDemand struct {
	EpicID  string  `json:"epic_id"`
	SquadID string  `json:"squad_id,omitempty"`
	Effort  float64 `json:"effort"`
}

// SquadCapacity is the capacity a squad offers in a simulation.
type SquadCapacity struct {
	SquadID   string  `json:"squad_id"`
	Available float64 `json:"available"`
	Allocated float64 `json:"allocated"`
}

type SimulationInput struct {
	Scenario  domain.ScenarioRecord
	Snapshots []domain.CapacityRecord
	// Epics in priority order.
	Epics []EpicDemand
}

type SimulationResult struct {
	Result domain.ScenarioResult `json:"result"`
	Squads []SquadCapacity       `json:"squads"`
}

// Demands sums feature estimates per epic, keeping epic order.
func Demands(epics []domain.EpicRecord, features []domain.FeatureRecord) []EpicDemand {
	effort := make(map[string]float64, len(epics))
	for _, f := range features {
		effort[f.EpicID] += f.Estimate
	}
	out := make([]EpicDemand, 0, len(epics))
	for _, e := range epics {
		out = append(out, EpicDemand{EpicID: e.ID, SquadID: e.SquadID, Effort: effort[e.ID]})
	}
	return out
}

// AvailableCapacity applies the scenario to one snapshot: the squad delta,
// then vacations (the snapshot buffer) when considered, then contractors
// when excluded, then the risk buffer. The result is never negative.
func AvailableCapacity(s domain.CapacityRecord, sc domain.ScenarioRecord) float64 {
	avail := s.TotalCapacity * (1 + deltaFor(sc, s.SquadID)/100)
	if sc.ConsiderVacations {
		avail -= avail * s.BufferPercent / 100
	}
	if !sc.IncludeContractors {
		avail -= numeric(s.Adjustments[ContractorsAdjustment])
	}
	avail -= avail * sc.RiskBufferPercent / 100
	if avail < 0 || math.IsNaN(avail) {
		return 0
	}
	return round2(avail)
}

// Simulate allocates epics to their squads' available capacity in the
// given order. An epic fits when its whole effort fits the squad's
// remaining capacity; epics without a squad or snapshot overflow.
func Simulate(in SimulationInput) SimulationResult {
	squads := make([]SquadCapacity, 0, len(in.Snapshots))
	index := make(map[string]int, len(in.Snapshots))
	for _, s := range in.Snapshots {
		if in.Scenario.Quarter != "" && s.Quarter != in.Scenario.Quarter {
			continue
		}
		if _, dup := index[s.SquadID]; dup {
			continue
		}
		index[s.SquadID] = len(squads)
		squads = append(squads, SquadCapacity{SquadID: s.SquadID, Available: AvailableCapacity(s, in.Scenario)})
	}

	result := domain.ScenarioResult{Fitting: []string{}, Overflowing: []string{}}
	for _, e := range in.Epics {
		i, ok := index[e.SquadID]
		if e.SquadID == "" || !ok {
			result.Overflowing = append(result.Overflowing, e.EpicID)
			continue
		}
		sq := &squads[i]
		if sq.Allocated+e.Effort <= sq.Available+1e-9 {
			sq.Allocated = round2(sq.Allocated + e.Effort)
			result.Fitting = append(result.Fitting, e.EpicID)
			continue
		}
		result.Overflowing = append(result.Overflowing, e.EpicID)
	}
	return SimulationResult{Result: result, Squads: squads}
}

// ScenarioComments narrates a simulation result.
func ScenarioComments(result domain.ScenarioResult, capacities []SquadCapacity) []string {
	var comments []string
	if n := len(result.Overflowing); n > 0 {
		comments = append(comments, fmt.Sprintf("%d épico(s) excedem a capacidade disponível; recomenda-se replanejar o trimestre.", n))
	} else {
		comments = append(comments, "Todos os épicos cabem na capacidade disponível.")
	}
	for _, c := range capacities {
		if c.Available <= 0 {
			comments = append(comments, fmt.Sprintf("Squad %s sem capacidade registrada.", c.SquadID))
		}
	}
	if len(result.Fitting) > 0 && len(result.Overflowing) > 0 {
		comments = append(comments, "Considere mover épicos Targeted para squads com folga.")
	}
	return comments
}

func deltaFor(sc domain.ScenarioRecord, squadID string) float64 {
	for _, a := range sc.Adjustments {
		if a.SquadID == squadID {
			return a.DeltaPercent
		}
	}
	return 0
}

func numeric(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
