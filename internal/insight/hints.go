package insight

import (
	"fmt"

	"quarterplan/internal/domain"
)

type HintKind string

const (
	HintAssignSquad     HintKind = "assign_squad"
	HintUnknownCapacity HintKind = "unknown_capacity"
	HintHiddenRisk      HintKind = "hidden_risk"
)

type Hint struct {
	EpicID  string   `json:"epic_id"`
	Kind    HintKind `json:"kind"`
	Message string   `json:"message"`
}

// HintRules configures the hidden-risk rule: progress below LowProgress
// while the health slug equals GreenHealth.
type HintRules struct {
	GreenHealth string  `json:"green_health"`
	LowProgress float64 `json:"low_progress"`
}

func DefaultHintRules() HintRules {
	return HintRules{GreenHealth: "green", LowProgress: 25}
}

// SnapshotIndex finds capacity snapshots by squad and quarter.
type SnapshotIndex map[string]domain.CapacityRecord

func IndexSnapshots(snapshots []domain.CapacityRecord) SnapshotIndex {
	idx := make(SnapshotIndex, len(snapshots))
	for _, s := range snapshots {
		idx[snapshotKey(s.SquadID, s.Quarter)] = s
	}
	return idx
}

func (idx SnapshotIndex) Lookup(squadID, quarter string) (domain.CapacityRecord, bool) {
	s, ok := idx[snapshotKey(squadID, quarter)]
	return s, ok
}

func snapshotKey(squadID, quarter string) string { return squadID + "|" + quarter }

// EpicHint returns the first matching hint for the epic, if any.
func EpicHint(epic domain.EpicRecord, snapshots SnapshotIndex, rules HintRules) (Hint, bool) {
	switch {
	case epic.SquadID == "":
		return Hint{
			EpicID:  epic.ID,
			Kind:    HintAssignSquad,
			Message: fmt.Sprintf("Épico %q sem squad atribuída; atribua uma squad para planejar a capacidade.", epic.Title),
		}, true
	case !hasSnapshot(snapshots, epic.SquadID, epic.Quarter):
		return Hint{
			EpicID:  epic.ID,
			Kind:    HintUnknownCapacity,
			Message: fmt.Sprintf("Capacidade da squad %s desconhecida para %s.", epic.SquadID, epic.Quarter),
		}, true
	case epic.ProgressPercent < rules.LowProgress && epic.Health.Slug() == rules.GreenHealth:
		return Hint{
			EpicID:  epic.ID,
			Kind:    HintHiddenRisk,
			Message: fmt.Sprintf("Épico %q está verde com %.0f%% de progresso; pode haver risco oculto.", epic.Title, epic.ProgressPercent),
		}, true
	}
	return Hint{}, false
}

// EpicHints applies EpicHint to each epic, in order.
func EpicHints(epics []domain.EpicRecord, snapshots SnapshotIndex, rules HintRules) []Hint {
	hints := []Hint{}
	for _, e := range epics {
		if h, ok := EpicHint(e, snapshots, rules); ok {
			hints = append(hints, h)
		}
	}
	return hints
}

func hasSnapshot(idx SnapshotIndex, squadID, quarter string) bool {
	_, ok := idx.Lookup(squadID, quarter)
	return ok
}
