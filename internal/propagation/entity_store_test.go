package propagation

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentsites/agentsites/migrations"
)

func mustPlan(t *testing.T, et EntityType, snap Snapshot) (Strategy, Plan) {
	t.Helper()
	st, err := StrategyFor(et)
	require.NoError(t, err)
	plan, err := st.Plan(snap)
	require.NoError(t, err)
	return st, plan
}

func TestFindSQLMatchesNaturalKey(t *testing.T) {
	site := uuid.New()

	st, plan := mustPlan(t, ContentItem, Snapshot{"slug": "genesis", "title": "Genesis"})
	sql, args := findSQL(st, site, plan)
	require.Equal(t, `SELECT id FROM "content_items" WHERE site_id = $1 AND "slug" = $2 LIMIT 1`, sql)
	require.Equal(t, []any{site, "genesis"}, args)

	st, plan = mustPlan(t, MissionPillar, Snapshot{"display_name": "Service"})
	sql, args = findSQL(st, site, plan)
	require.Equal(t, `SELECT id FROM "mission_pillars" WHERE site_id = $1 AND "display_name" = $2 LIMIT 1`, sql)
	require.Equal(t, []any{site, "Service"}, args)

	st, plan = mustPlan(t, UtilitiesConfig, Snapshot{"settings": map[string]any{}})
	sql, args = findSQL(st, site, plan)
	require.Equal(t, `SELECT id FROM "utilities_configs" WHERE site_id = $1 LIMIT 1`, sql)
	require.Equal(t, []any{site}, args)
}

func TestUpdateSQLLeavesKeyAndSiteAlone(t *testing.T) {
	id := uuid.New()
	st, plan := mustPlan(t, ContentItem, Snapshot{
		"id":      uuid.NewString(),
		"site_id": uuid.NewString(),
		"slug":    "genesis",
		"status":  "published",
		"title":   "Genesis",
	})
	sql, args := updateSQL(st, id, plan)
	require.Equal(t, `UPDATE "content_items" SET updated_at = NOW(), "title" = $2, "status" = $3 WHERE id = $1`, sql)
	require.Equal(t, []any{id, "Genesis", "published"}, args)

	st, plan = mustPlan(t, ContentCategory, Snapshot{"slug": "news"})
	sql, args = updateSQL(st, id, plan)
	require.Equal(t, `UPDATE "content_categories" SET updated_at = NOW() WHERE id = $1`, sql)
	require.Equal(t, []any{id}, args)
}

func TestInsertSQLCarriesSiteAndKey(t *testing.T) {
	site := uuid.New()
	st, plan := mustPlan(t, AgentBranch, Snapshot{"display_name": "Downtown", "phone": "555-0100", "created_at": "2024-01-01"})
	sql, args := insertSQL(st, site, plan)
	require.Equal(t, `INSERT INTO "agent_branches" ("site_id", "display_name", "phone") VALUES ($1, $2, $3) RETURNING id`, sql)
	require.Equal(t, []any{site, "Downtown", "555-0100"}, args)

	flags := map[string]any{"beta": true}
	st, plan = mustPlan(t, UtilitiesConfig, Snapshot{"feature_flags": flags})
	sql, args = insertSQL(st, site, plan)
	require.Equal(t, `INSERT INTO "utilities_configs" ("site_id", "feature_flags") VALUES ($1, $2) RETURNING id`, sql)
	require.Equal(t, []any{site, flags}, args)
}

func TestStrategiesMatchSchema(t *testing.T) {
	raw, err := fs.ReadFile(migrations.Files, "0001_init.up.sql")
	require.NoError(t, err)
	schema := string(raw)

	for et, st := range Strategies() {
		head := "CREATE TABLE " + st.Table + " ("
		start := strings.Index(schema, head)
		require.NotEqual(t, -1, start, et)
		body := schema[start+len(head):]
		body = body[:strings.Index(body, "\n);")]

		columns := map[string]bool{}
		for _, line := range strings.Split(body, "\n") {
			if fields := strings.Fields(line); len(fields) > 0 {
				columns[fields[0]] = true
			}
		}
		want := append([]string{"id", "site_id", "updated_at"}, st.Key...)
		want = append(want, st.Columns...)
		for _, col := range want {
			require.True(t, columns[col], "%s.%s", st.Table, col)
		}
	}
}
