package introspect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOverview() DatabaseOverview {
	return DatabaseOverview{
		Name:   "shop",
		Engine: EnginePostgreSQL,
		Schemas: []Schema{
			{
				Name: "public",
				Tables: []Table{
					{Name: "orders", Indexes: []Index{{Name: "orders_pkey"}, {Name: "orders_user_idx"}}, Triggers: []Trigger{{Name: "audit"}}},
					{Name: "users", Indexes: []Index{{Name: "users_pkey"}}},
				},
				Views:    []Table{{Name: "active_users", Kind: KindView}},
				Routines: []StoredRoutine{{Name: "touch"}},
			},
			{
				Name:   "billing",
				Tables: []Table{{Name: "invoices", Triggers: []Trigger{{Name: "a"}, {Name: "b"}}}},
			},
		},
		TotalTables: 99,
	}
}

func TestFinalizeTotals(t *testing.T) {
	o := sampleOverview().Finalize()

	assert.Equal(t, 3, o.TotalTables)
	assert.Equal(t, 1, o.TotalViews)
	assert.Equal(t, 1, o.TotalRoutines)
	assert.Equal(t, 3, o.TotalTriggers)
	assert.Equal(t, 3, o.TotalIndexes)
}

func TestFinalizeEmptyDatabase(t *testing.T) {
	o := DatabaseOverview{Name: "empty", Engine: EngineSQLite}.Finalize()

	require.NotNil(t, o.Schemas)
	assert.Empty(t, o.Schemas)
	assert.Zero(t, o.TotalTables+o.TotalViews+o.TotalRoutines+o.TotalTriggers+o.TotalIndexes)
}

func TestFilterSchemas(t *testing.T) {
	o := sampleOverview().FilterSchemas([]string{"billing"})

	require.Len(t, o.Schemas, 1)
	assert.Equal(t, "billing", o.Schemas[0].Name)
	assert.Equal(t, 1, o.TotalTables)
	assert.Equal(t, 2, o.TotalTriggers)

	_, ok := o.FindSchema("public")
	assert.False(t, ok)
}

func TestTableCopyOnWrite(t *testing.T) {
	orig := Table{Name: "t", Triggers: []Trigger{{Name: "a"}}}

	enhanced := orig.WithSummary("sum", "rels").WithTriggers([]Trigger{orig.Triggers[0].WithSummary("x")})

	assert.Nil(t, orig.Summary)
	assert.Nil(t, orig.Triggers[0].Summary)
	require.NotNil(t, enhanced.Triggers[0].Summary)
	assert.Equal(t, "x", *enhanced.Triggers[0].Summary)
}

func TestWithSummaryBlankIsAbsent(t *testing.T) {
	tab := Table{Name: "t"}.WithSummary(" Orders placed. ", "  ")
	require.NotNil(t, tab.Summary)
	assert.Equal(t, "Orders placed.", *tab.Summary)
	assert.Nil(t, tab.RelationshipSummary)

	assert.Nil(t, Trigger{Name: "trg"}.WithSummary("\n").Summary)
	assert.Nil(t, StoredRoutine{Name: "f"}.WithSummary("").Summary)
}

func TestTableValidate(t *testing.T) {
	target := "users"
	bad := Table{
		Name:    "t",
		Columns: []Column{{Name: "manager_id", IsForeignKey: true, ForeignTable: &target}},
		Indexes: []Index{{Name: "t_pkey", Primary: true}},
	}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manager_id")
	assert.Contains(t, err.Error(), "t_pkey")

	assert.NoError(t, Table{Name: "ok", Columns: []Column{{Name: "id", IsPrimaryKey: true}}}.Validate())
}
