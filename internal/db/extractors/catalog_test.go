package extractors

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dbspelunker/internal/introspect"
)

func TestRebind(t *testing.T) {
	q := "SELECT 1 WHERE a = ? AND b = ?"
	assert.Equal(t, q, rebind(bindQuestion, q))
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", rebind(bindDollar, q))
	assert.Equal(t, "SELECT 1 WHERE a = @p1 AND b = @p2", rebind(bindAtP, q))
	assert.Equal(t, "SELECT 1 WHERE a = :1 AND b = :2", rebind(bindColon, q))
}

func TestSameSet(t *testing.T) {
	assert.True(t, sameSet([]string{"a", "b"}, []string{"b", "a"}))
	assert.False(t, sameSet([]string{"a"}, []string{"a", "b"}))
	assert.False(t, sameSet([]string{"a", "a"}, []string{"a", "b"}))
	assert.True(t, sameSet(nil, []string{}))
}

func TestBuildIndexes(t *testing.T) {
	raw := []rawIndex{
		{name: "t_pkey", method: "btree", columns: []string{"b", "a"}, unique: true},
		{name: "t_email_key", method: "btree", columns: []string{"email"}, unique: true},
		{name: "t_tags_gin", method: "gin", columns: []string{"tags"}},
		{name: "t_expr", method: "btree"},
	}
	got := buildIndexes("t", raw, []string{"a", "b"})

	assert.Equal(t, introspect.IndexPrimary, got[0].Kind)
	assert.True(t, got[0].Primary)
	assert.Equal(t, introspect.IndexUnique, got[1].Kind)
	assert.False(t, got[1].Primary)
	assert.Equal(t, introspect.IndexGIN, got[2].Kind)
	assert.Equal(t, "t", got[2].Table)
	assert.NotNil(t, got[3].Columns)

	for _, ix := range got {
		assert.NoError(t, ix.Validate())
	}
}

func TestBuildIndexesWithoutPrimaryKey(t *testing.T) {
	got := buildIndexes("t", []rawIndex{{name: "u", columns: []string{}, unique: true}}, nil)
	assert.False(t, got[0].Primary)
}

func TestBuildColumnsMergesCatalogSizes(t *testing.T) {
	n, p, s := 40, 12, 3
	cols := buildColumns([]rawColumn{
		{name: "code", typ: "character varying", maxLength: &n},
		{name: "amount", typ: "numeric", precision: &p, scale: &s},
		{name: "qty", typ: "integer", maxLength: &n},
	}, rawPrimaryKey{}, nil)

	assert.Equal(t, 40, *cols[0].MaxLength)
	assert.Equal(t, 12, *cols[1].Precision)
	assert.Equal(t, 3, *cols[1].Scale)
	assert.Nil(t, cols[2].MaxLength)
}

func TestParsePGArguments(t *testing.T) {
	got := parsePGArguments("p_id integer, OUT total numeric(10,2), INOUT note text DEFAULT 'x'::text, bigint")
	assert.Equal(t, []introspect.Parameter{
		{Name: "p_id", Type: "integer", Mode: introspect.ModeIn},
		{Name: "total", Type: "numeric(10,2)", Mode: introspect.ModeOut},
		{Name: "note", Type: "text", Mode: introspect.ModeInOut},
		{Type: "bigint", Mode: introspect.ModeIn},
	}, got)

	assert.Empty(t, parsePGArguments(""))
	assert.NotNil(t, parsePGArguments(""))
}

func TestDecodeTgType(t *testing.T) {
	tests := []struct {
		tgtype int64
		event  introspect.TriggerEvent
		timing introspect.TriggerTiming
	}{
		{tgTypeBefore | tgTypeInsert | 1, introspect.EventInsert, introspect.TimingBefore},
		{tgTypeUpdate, introspect.EventUpdate, introspect.TimingAfter},
		{tgTypeInstead | tgTypeDelete | 1, introspect.EventDelete, introspect.TimingInsteadOf},
		{tgTypeTruncate, introspect.EventTruncate, introspect.TimingAfter},
	}
	for _, tt := range tests {
		event, timing := decodeTgType(tt.tgtype)
		assert.Equal(t, tt.event, event)
		assert.Equal(t, tt.timing, timing)
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList("a, b"))
	assert.Equal(t, []string{}, splitList(""))
}
