package extractors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbspelunker/internal/db"
	"dbspelunker/internal/db/dbtest"
	"dbspelunker/internal/introspect"
)

func sqliteExtractor() extractor { return newExtractor(sqliteCatalog{}) }

func TestSQLiteOverview(t *testing.T) {
	conn := dbtest.Open(t, dbtest.Shop...)
	o, err := sqliteExtractor().Overview(context.Background(), conn)
	require.NoError(t, err)

	assert.Equal(t, introspect.EngineSQLite, o.Engine)
	require.NotNil(t, o.Version)
	require.Len(t, o.Schemas, 1)

	s := o.Schemas[0]
	assert.Equal(t, "main", s.Name)
	assert.Equal(t, []string{"order_items", "orders", "users"}, s.TableNames())
	require.Len(t, s.Views, 1)
	assert.Equal(t, "active_users", s.Views[0].Name)
	assert.Equal(t, introspect.KindView, s.Views[0].Kind)
	assert.Equal(t, 3, o.TotalTables)
	assert.Equal(t, 1, o.TotalViews)
}

func TestSQLiteOverviewEmpty(t *testing.T) {
	conn := dbtest.Open(t)
	o, err := sqliteExtractor().Overview(context.Background(), conn)
	require.NoError(t, err)

	require.Len(t, o.Schemas, 1)
	assert.Empty(t, o.Schemas[0].Tables)
	assert.NotNil(t, o.Schemas[0].Tables)
	assert.Zero(t, o.TotalTables)
}

func TestSQLiteTable(t *testing.T) {
	conn := dbtest.Open(t, dbtest.Shop...)
	tab, err := sqliteExtractor().Table(context.Background(), conn, "main", "users")
	require.NoError(t, err)
	require.NoError(t, tab.Validate())

	assert.Equal(t, introspect.KindTable, tab.Kind)
	require.Len(t, tab.Columns, 3)

	id, email, manager := tab.Columns[0], tab.Columns[1], tab.Columns[2]
	assert.True(t, id.IsPrimaryKey)
	assert.Equal(t, introspect.TypeInteger, id.DataType)

	assert.Equal(t, introspect.TypeVarchar, email.DataType)
	assert.False(t, email.Nullable)
	require.NotNil(t, email.MaxLength)
	assert.Equal(t, 255, *email.MaxLength)

	assert.True(t, manager.IsForeignKey)
	require.NotNil(t, manager.ForeignTable)
	assert.Equal(t, "users", *manager.ForeignTable)
	assert.Equal(t, "id", *manager.ForeignColumn)

	kinds := map[introspect.ConstraintKind]int{}
	for _, c := range tab.Constraints {
		kinds[c.Kind]++
	}
	assert.Equal(t, map[introspect.ConstraintKind]int{
		introspect.ConstraintPrimaryKey: 1,
		introspect.ConstraintForeignKey: 1,
		introspect.ConstraintUnique:     1,
		introspect.ConstraintCheck:      1,
	}, kinds)

	require.NotNil(t, tab.RowCount)
	assert.EqualValues(t, 2, *tab.RowCount)

	require.Len(t, tab.Triggers, 1)
	assert.Equal(t, "trg_users_audit", tab.Triggers[0].Name)
	assert.Equal(t, introspect.EventUpdate, tab.Triggers[0].Event)
	assert.Equal(t, introspect.TimingAfter, tab.Triggers[0].Timing)
}

func TestSQLiteViewHasNoStats(t *testing.T) {
	conn := dbtest.Open(t, dbtest.Shop...)
	v, err := sqliteExtractor().Table(context.Background(), conn, "main", "active_users")
	require.NoError(t, err)

	assert.Equal(t, introspect.KindView, v.Kind)
	assert.Nil(t, v.RowCount)
	assert.Nil(t, v.SizeBytes)
}

func TestSQLiteTableNotFound(t *testing.T) {
	conn := dbtest.Open(t, dbtest.Shop...)
	_, err := sqliteExtractor().Table(context.Background(), conn, "main", "nope")
	assert.ErrorIs(t, err, db.ErrTableNotFound)
}

func TestSQLiteRelationships(t *testing.T) {
	conn := dbtest.Open(t, dbtest.Shop...)
	rels, err := sqliteExtractor().Relationships(context.Background(), conn, "main")
	require.NoError(t, err)
	require.Len(t, rels, 2)

	bySource := map[string]introspect.Relationship{}
	for _, r := range rels {
		bySource[r.SourceTable] = r
	}

	self := bySource["users"]
	assert.Equal(t, "manager_id", self.SourceColumn)
	assert.Equal(t, "users", self.TargetTable)
	assert.Equal(t, "id", self.TargetColumn)
	assert.Equal(t, introspect.OneToMany, self.Type)
	require.NotNil(t, self.OnDelete)
	assert.Equal(t, "SET NULL", *self.OnDelete)

	// the implicit parent key resolves to users.id
	orders := bySource["orders"]
	assert.Equal(t, "user_id", orders.SourceColumn)
	assert.Equal(t, "id", orders.TargetColumn)
	assert.Equal(t, introspect.OneToMany, orders.Type)
}

func TestSQLiteIndexes(t *testing.T) {
	conn := dbtest.Open(t, dbtest.Shop...)
	x := sqliteExtractor()

	items, err := x.Indexes(context.Background(), conn, "main", "order_items")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Primary)
	assert.Equal(t, introspect.IndexPrimary, items[0].Kind)
	assert.ElementsMatch(t, []string{"order_id", "line"}, items[0].Columns)

	orders, err := x.Indexes(context.Background(), conn, "main", "orders")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "idx_orders_user", orders[0].Name)
	assert.False(t, orders[0].Unique)
	assert.Equal(t, introspect.IndexBTree, orders[0].Kind)
}

func TestSQLiteRoutinesEmpty(t *testing.T) {
	conn := dbtest.Open(t, dbtest.Shop...)
	rs, err := sqliteExtractor().Routines(context.Background(), conn, "main")
	require.NoError(t, err)
	assert.NotNil(t, rs)
	assert.Empty(t, rs)
}

func TestParseSQLiteTrigger(t *testing.T) {
	tests := []struct {
		ddl    string
		event  introspect.TriggerEvent
		timing introspect.TriggerTiming
	}{
		{"CREATE TRIGGER t AFTER INSERT ON x BEGIN SELECT 1; END", introspect.EventInsert, introspect.TimingAfter},
		{"create trigger if not exists t before delete on x begin select 1; end", introspect.EventDelete, introspect.TimingBefore},
		{"CREATE TRIGGER t INSTEAD OF UPDATE ON v BEGIN SELECT 1; END", introspect.EventUpdate, introspect.TimingInsteadOf},
		{"CREATE TEMP TRIGGER t UPDATE OF a ON x BEGIN SELECT 1; END", introspect.EventUpdate, introspect.TimingBefore},
	}
	for _, tt := range tests {
		event, timing := parseSQLiteTrigger(tt.ddl)
		assert.Equal(t, tt.event, event, tt.ddl)
		assert.Equal(t, tt.timing, timing, tt.ddl)
	}
}
