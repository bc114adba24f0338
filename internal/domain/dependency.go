package domain

import (
	"fmt"
	"strings"
	"time"

	"quarterplan/internal/domain/catalog"
)

// DependencyRecord states that BlockedFeatureID cannot finish before
// BlockingFeatureID. Features are referenced by ID only.
type DependencyRecord struct {
	ID                string        `json:"id"`
	TenantID          string        `json:"tenant_id"`
	BlockedFeatureID  string        `json:"blocked_feature_id"`
	BlockingFeatureID string        `json:"blocking_feature_id"`
	Type              catalog.Value `json:"type"`
	Risk              catalog.Value `json:"risk"`
	Note              string        `json:"note,omitempty"`
	CreatedAt         string        `json:"created_at" format:"date-time"`
	UpdatedAt         string        `json:"updated_at" format:"date-time"`
}

type Dependency struct {
	rec DependencyRecord
}

type NewDependencyParams struct {
	ID                string
	TenantID          string
	BlockedFeatureID  string
	BlockingFeatureID string
	Type              catalog.Value
	Risk              catalog.Value
	Note              string
	Now               time.Time
}

func NewDependency(p NewDependencyParams) (*Dependency, error) {
	if err := requireIdentity(p.ID, p.TenantID); err != nil {
		return nil, err
	}
	blocked := strings.TrimSpace(p.BlockedFeatureID)
	blocking := strings.TrimSpace(p.BlockingFeatureID)
	if blocked == "" || blocking == "" {
		return nil, fmt.Errorf("%w: blocked and blocking features are required", ErrInvalidInput)
	}
	if blocked == blocking {
		return nil, fmt.Errorf("%w: %s", ErrSelfDependency, blocked)
	}
	if err := requireCategory(p.Type, catalog.DependencyType); err != nil {
		return nil, err
	}
	if err := requireCategory(p.Risk, catalog.DependencyRisk); err != nil {
		return nil, err
	}
	now := stamp(p.Now)
	return &Dependency{rec: DependencyRecord{
		ID:                p.ID,
		TenantID:          p.TenantID,
		BlockedFeatureID:  blocked,
		BlockingFeatureID: blocking,
		Type:              p.Type,
		Risk:              p.Risk,
		Note:              strings.TrimSpace(p.Note),
		CreatedAt:         now,
		UpdatedAt:         now,
	}}, nil
}

func RestoreDependency(r DependencyRecord) *Dependency { return &Dependency{rec: r} }

func (d *Dependency) ID() string               { return d.rec.ID }
func (d *Dependency) Record() DependencyRecord { return d.rec }

func (d *Dependency) UpdateRisk(risk catalog.Value, now time.Time) error {
	if err := requireCategory(risk, catalog.DependencyRisk); err != nil {
		return err
	}
	d.rec.Risk = risk
	d.rec.UpdatedAt = stamp(now)
	return nil
}

func (d *Dependency) UpdateType(typ catalog.Value, now time.Time) error {
	if err := requireCategory(typ, catalog.DependencyType); err != nil {
		return err
	}
	d.rec.Type = typ
	d.rec.UpdatedAt = stamp(now)
	return nil
}

// AddNote appends note as a new line.
func (d *Dependency) AddNote(note string, now time.Time) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return fmt.Errorf("%w: note is empty", ErrInvalidInput)
	}
	if d.rec.Note == "" {
		d.rec.Note = note
	} else {
		d.rec.Note += "\n" + note
	}
	d.rec.UpdatedAt = stamp(now)
	return nil
}

// DependencyGraph indexes blocked feature ID -> blocking feature IDs.
type DependencyGraph struct {
	edges map[string][]string
}

func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{edges: make(map[string][]string)}
}

// BuildDependencyGraph merges explicit dependency edges with the dependency
// lists declared on features.
func BuildDependencyGraph(deps []DependencyRecord, features []FeatureRecord) *DependencyGraph {
	g := NewDependencyGraph()
	for _, d := range deps {
		g.Add(d.BlockedFeatureID, d.BlockingFeatureID)
	}
	for _, f := range features {
		for _, blocking := range f.DependsOn {
			g.Add(f.ID, blocking)
		}
	}
	return g
}

func (g *DependencyGraph) Add(blocked, blocking string) {
	for _, existing := range g.edges[blocked] {
		if existing == blocking {
			return
		}
	}
	g.edges[blocked] = append(g.edges[blocked], blocking)
}

func (g *DependencyGraph) BlockedBy(featureID string) []string {
	return append([]string(nil), g.edges[featureID]...)
}

// WouldCycle reports whether adding blocked->blocking closes a cycle and, if
// so, returns the cycle starting and ending at blocked.
func (g *DependencyGraph) WouldCycle(blocked, blocking string) ([]string, bool) {
	if blocked == blocking {
		return []string{blocked, blocked}, true
	}
	parent := map[string]string{blocking: ""}
	stack := []string{blocking}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == blocked {
			path := []string{}
			for n := cur; n != ""; n = parent[n] {
				path = append(path, n)
			}
			// path runs blocked <- ... <- blocking; reverse and close the loop.
			out := []string{blocked}
			for i := len(path) - 1; i >= 0; i-- {
				out = append(out, path[i])
			}
			return out, true
		}
		next := g.edges[cur]
		for i := len(next) - 1; i >= 0; i-- {
			n := next[i]
			if _, seen := parent[n]; seen {
				continue
			}
			parent[n] = cur
			stack = append(stack, n)
		}
	}
	return nil, false
}

// ValidateEdge applies the self-dependency rule and, when rejectCycles is
// set, the multi-hop cycle rule.
func (g *DependencyGraph) ValidateEdge(blocked, blocking string, rejectCycles bool) error {
	if blocked == blocking {
		return fmt.Errorf("%w: %s", ErrSelfDependency, blocked)
	}
	if !rejectCycles {
		return nil
	}
	if path, ok := g.WouldCycle(blocked, blocking); ok {
		return fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(path, " -> "))
	}
	return nil
}
