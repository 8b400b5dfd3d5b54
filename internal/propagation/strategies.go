package propagation

import (
	"fmt"
	"strings"

	"github.com/agentsites/agentsites/internal/shared"
)

// Strategy describes how one entity type is matched and written on a branch site.
// Rows are always scoped by site_id; Key lists the remaining natural key columns.
type Strategy struct {
	Entity  EntityType
	Table   string
	Key     []string
	Columns []string
}

// Plan is a snapshot reduced to the columns a strategy may write.
type Plan struct {
	Key     []any
	Columns []string
	Values  []any
}

var strategies = map[EntityType]Strategy{
	ContentItem: {
		Entity:  ContentItem,
		Table:   "content_items",
		Key:     []string{"slug"},
		Columns: []string{"title", "description", "body", "image_url", "status", "sort_order"},
	},
	ContentCategory: {
		Entity:  ContentCategory,
		Table:   "content_categories",
		Key:     []string{"slug"},
		Columns: []string{"name", "description", "sort_order"},
	},
	MissionPillar: {
		Entity:  MissionPillar,
		Table:   "mission_pillars",
		Key:     []string{"display_name"},
		Columns: []string{"description", "icon", "sort_order"},
	},
	AgentBranch: {
		Entity:  AgentBranch,
		Table:   "agent_branches",
		Key:     []string{"display_name"},
		Columns: []string{"description", "contact_email", "phone", "address", "sort_order"},
	},
	UtilitiesConfig: {
		Entity:  UtilitiesConfig,
		Table:   "utilities_configs",
		Columns: []string{"settings", "feature_flags"},
	},
}

// StrategyFor returns the upsert strategy of an entity type.
func StrategyFor(t EntityType) (Strategy, error) {
	st, ok := strategies[t]
	if !ok {
		return Strategy{}, fmt.Errorf("%w: unknown entity type %q", shared.ErrValidation, t)
	}
	return st, nil
}

// Strategies lists every strategy keyed by entity type.
func Strategies() map[EntityType]Strategy {
	out := make(map[EntityType]Strategy, len(strategies))
	for k, v := range strategies {
		out[k] = v
	}
	return out
}

// Plan reduces a snapshot to writable columns. Identifiers, the site reference,
// timestamps and unknown keys are dropped. Natural key values must be non-empty strings.
func (s Strategy) Plan(snapshot Snapshot) (Plan, error) {
	if snapshot == nil {
		return Plan{}, fmt.Errorf("%w: %s snapshot required", shared.ErrValidation, s.Entity)
	}
	plan := Plan{}
	for _, col := range s.Key {
		raw, ok := snapshot[col].(string)
		if !ok || strings.TrimSpace(raw) == "" {
			return Plan{}, fmt.Errorf("%w: %s snapshot missing %s", shared.ErrValidation, s.Entity, col)
		}
		plan.Key = append(plan.Key, raw)
	}
	for _, col := range s.Columns {
		v, ok := snapshot[col]
		if !ok {
			continue
		}
		plan.Columns = append(plan.Columns, col)
		plan.Values = append(plan.Values, v)
	}
	return plan, nil
}
