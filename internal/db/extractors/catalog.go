package extractors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"dbspelunker/internal/db"
	"dbspelunker/internal/introspect"
	"dbspelunker/internal/logger"
)

var errUnsupported = errors.New("not supported by this engine")

type dbInfo struct {
	name      string
	version   *string
	size      *int64
	charset   *string
	collation *string
}

type relation struct {
	schema string
	name   string
	view   bool
}

type relationInfo struct {
	kind    introspect.TableKind
	comment *string
}

type rawColumn struct {
	name      string
	typ       string
	nullable  bool
	def       *string
	maxLength *int
	precision *int
	scale     *int
	comment   *string
}

type rawPrimaryKey struct {
	name    string
	columns []string
}

type rawForeignKey struct {
	name       string
	columns    []string
	refTable   string
	refColumns []string
	onDelete   *string
	onUpdate   *string
}

type rawIndex struct {
	name      string
	method    string
	columns   []string
	unique    bool
	clustered bool
	size      *int64
}

type tableStats struct {
	rows *int64
	size *int64
}

// catalog is one engine's set of metadata queries. Every method is a single
// concern so that the extractor can tolerate each failing on its own.
type catalog interface {
	engine() introspect.EngineKind
	databaseInfo(ctx context.Context, q *sql.DB) (dbInfo, error)
	schemas(ctx context.Context, q *sql.DB) ([]string, error)
	relations(ctx context.Context, q *sql.DB) ([]relation, error)
	relationInfo(ctx context.Context, q *sql.DB, schema, table string) (relationInfo, error)
	columns(ctx context.Context, q *sql.DB, schema, table string) ([]rawColumn, error)
	primaryKey(ctx context.Context, q *sql.DB, schema, table string) (rawPrimaryKey, error)
	foreignKeys(ctx context.Context, q *sql.DB, schema, table string) ([]rawForeignKey, error)
	uniques(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Constraint, error)
	checks(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Constraint, error)
	indexes(ctx context.Context, q *sql.DB, schema, table string) ([]rawIndex, error)
	triggers(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Trigger, error)
	routines(ctx context.Context, q *sql.DB, schema string) ([]introspect.StoredRoutine, error)
	exactStats(ctx context.Context, q *sql.DB, schema, table string) (tableStats, error)
	estimatedStats(ctx context.Context, q *sql.DB, schema, table string) (tableStats, error)
}

// tolerate runs one metadata query. Connectivity failures propagate; any
// other failure is logged and replaced by the zero value.
func tolerate[T any](what string, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil {
		return v, nil
	}
	var zero T
	if db.IsConnectivityError(err) {
		return zero, fmt.Errorf("%s: %w", what, err)
	}
	if errors.Is(err, errUnsupported) {
		logger.Debug("%s: %v", what, err)
	} else {
		logger.Warn("%s: %v", what, err)
	}
	return zero, nil
}

// fallback runs the engine-specific query and, when it fails for a reason
// other than connectivity, the generic one instead.
func fallback[T any](what string, specific, generic func() (T, error)) (T, error) {
	v, err := specific()
	if err == nil || db.IsConnectivityError(err) {
		return v, err
	}
	logger.Warn("%s: %v; falling back to information_schema", what, err)
	return generic()
}

// extractor implements db.Extractor on top of a catalog.
type extractor struct {
	cat catalog
}

func newExtractor(cat catalog) extractor {
	return extractor{cat: cat}
}

func (x extractor) Engine() introspect.EngineKind { return x.cat.engine() }

func (x extractor) Overview(ctx context.Context, q *sql.DB) (introspect.DatabaseOverview, error) {
	info, err := tolerate("database info", func() (dbInfo, error) { return x.cat.databaseInfo(ctx, q) })
	if err != nil {
		return introspect.DatabaseOverview{}, err
	}
	names, err := x.cat.schemas(ctx, q)
	if err != nil {
		return introspect.DatabaseOverview{}, fmt.Errorf("query schemas: %w", err)
	}
	rels, err := x.cat.relations(ctx, q)
	if err != nil {
		return introspect.DatabaseOverview{}, fmt.Errorf("query tables: %w", err)
	}

	schemas := make([]introspect.Schema, 0, len(names))
	pos := make(map[string]int, len(names))
	for _, n := range names {
		pos[n] = len(schemas)
		schemas = append(schemas, emptySchema(n))
	}
	for _, r := range rels {
		i, ok := pos[r.schema]
		if !ok {
			pos[r.schema] = len(schemas)
			i = len(schemas)
			schemas = append(schemas, emptySchema(r.schema))
		}
		bare := introspect.Table{
			Name:        r.name,
			Schema:      r.schema,
			Kind:        introspect.KindTable,
			Columns:     []introspect.Column{},
			Constraints: []introspect.Constraint{},
			Indexes:     []introspect.Index{},
			Triggers:    []introspect.Trigger{},
		}
		if r.view {
			bare.Kind = introspect.KindView
			schemas[i].Views = append(schemas[i].Views, bare)
		} else {
			schemas[i].Tables = append(schemas[i].Tables, bare)
		}
	}

	name := info.name
	if name == "" {
		name = "unknown"
	}
	return introspect.DatabaseOverview{
		Name:      name,
		Engine:    x.cat.engine(),
		Version:   info.version,
		Schemas:   schemas,
		SizeBytes: info.size,
		Charset:   info.charset,
		Collation: info.collation,
	}.Finalize(), nil
}

func emptySchema(name string) introspect.Schema {
	return introspect.Schema{
		Name:          name,
		Tables:        []introspect.Table{},
		Views:         []introspect.Table{},
		Routines:      []introspect.StoredRoutine{},
		Relationships: []introspect.Relationship{},
	}
}

func (x extractor) Table(ctx context.Context, q *sql.DB, schema, name string) (introspect.Table, error) {
	where := schema + "." + name
	var t introspect.Table

	rel, err := tolerate("kind of "+where, func() (relationInfo, error) { return x.cat.relationInfo(ctx, q, schema, name) })
	if err != nil {
		return t, err
	}
	if rel.kind == "" {
		rel.kind = introspect.KindTable
	}

	raw, err := x.cat.columns(ctx, q, schema, name)
	if err != nil {
		return t, fmt.Errorf("query columns for %s: %w", where, err)
	}
	if len(raw) == 0 {
		return t, fmt.Errorf("%s: %w", where, db.ErrTableNotFound)
	}

	pk, err := tolerate("primary key of "+where, func() (rawPrimaryKey, error) { return x.cat.primaryKey(ctx, q, schema, name) })
	if err != nil {
		return t, err
	}
	fks, err := tolerate("foreign keys of "+where, func() ([]rawForeignKey, error) { return x.cat.foreignKeys(ctx, q, schema, name) })
	if err != nil {
		return t, err
	}
	uniques, err := tolerate("unique constraints of "+where, func() ([]introspect.Constraint, error) { return x.cat.uniques(ctx, q, schema, name) })
	if err != nil {
		return t, err
	}
	checks, err := tolerate("check constraints of "+where, func() ([]introspect.Constraint, error) { return x.cat.checks(ctx, q, schema, name) })
	if err != nil {
		return t, err
	}
	indexes, err := x.indexes(ctx, q, schema, name, pk.columns)
	if err != nil {
		return t, err
	}
	triggers, err := x.Triggers(ctx, q, schema, name)
	if err != nil {
		return t, err
	}

	t = introspect.Table{
		Name:        name,
		Schema:      schema,
		Kind:        rel.kind,
		Columns:     buildColumns(raw, pk, fks),
		Constraints: buildConstraints(name, pk, fks, uniques, checks),
		Indexes:     indexes,
		Triggers:    triggers,
		Comment:     rel.comment,
	}
	if rel.kind == introspect.KindTable {
		st, err := x.stats(ctx, q, schema, name)
		if err != nil {
			return t, err
		}
		t.RowCount, t.SizeBytes = st.rows, st.size
	}
	return t, nil
}

// stats tries the exact figures first, then the catalog estimate, and
// otherwise leaves both unset.
func (x extractor) stats(ctx context.Context, q *sql.DB, schema, table string) (tableStats, error) {
	st, err := x.cat.exactStats(ctx, q, schema, table)
	if err == nil {
		return st, nil
	}
	if db.IsConnectivityError(err) {
		return tableStats{}, err
	}
	logger.Debug("exact size of %s.%s unavailable: %v", schema, table, err)
	st, err = x.cat.estimatedStats(ctx, q, schema, table)
	if err == nil {
		return st, nil
	}
	if db.IsConnectivityError(err) {
		return tableStats{}, err
	}
	logger.Debug("estimated size of %s.%s unavailable: %v", schema, table, err)
	return tableStats{}, nil
}

func (x extractor) Relationships(ctx context.Context, q *sql.DB, schema string) ([]introspect.Relationship, error) {
	rels, err := x.cat.relations(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	out := []introspect.Relationship{}
	for _, r := range rels {
		if r.schema != schema || r.view {
			continue
		}
		fks, err := tolerate("foreign keys of "+schema+"."+r.name, func() ([]rawForeignKey, error) {
			return x.cat.foreignKeys(ctx, q, schema, r.name)
		})
		if err != nil {
			return nil, err
		}
		for _, fk := range fks {
			for i, col := range fk.columns {
				target := ""
				if i < len(fk.refColumns) {
					target = fk.refColumns[i]
				}
				out = append(out, introspect.Relationship{
					SourceTable:    r.name,
					SourceColumn:   col,
					TargetTable:    fk.refTable,
					TargetColumn:   target,
					ConstraintName: fk.name,
					Type:           introspect.OneToMany,
					OnDelete:       fk.onDelete,
					OnUpdate:       fk.onUpdate,
				})
			}
		}
	}
	return introspect.ClassifyRelationships(out), nil
}

func (x extractor) Indexes(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Index, error) {
	pk, err := tolerate("primary key of "+schema+"."+table, func() (rawPrimaryKey, error) { return x.cat.primaryKey(ctx, q, schema, table) })
	if err != nil {
		return nil, err
	}
	return x.indexes(ctx, q, schema, table, pk.columns)
}

func (x extractor) indexes(ctx context.Context, q *sql.DB, schema, table string, pk []string) ([]introspect.Index, error) {
	raw, err := tolerate("indexes of "+schema+"."+table, func() ([]rawIndex, error) { return x.cat.indexes(ctx, q, schema, table) })
	if err != nil {
		return nil, err
	}
	return buildIndexes(table, raw, pk), nil
}

func (x extractor) Triggers(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Trigger, error) {
	ts, err := tolerate("triggers of "+schema+"."+table, func() ([]introspect.Trigger, error) { return x.cat.triggers(ctx, q, schema, table) })
	if ts == nil && err == nil {
		ts = []introspect.Trigger{}
	}
	return ts, err
}

func (x extractor) Routines(ctx context.Context, q *sql.DB, schema string) ([]introspect.StoredRoutine, error) {
	rs, err := tolerate("routines of "+schema, func() ([]introspect.StoredRoutine, error) { return x.cat.routines(ctx, q, schema) })
	if rs == nil && err == nil {
		rs = []introspect.StoredRoutine{}
	}
	return rs, err
}

func buildColumns(raw []rawColumn, pk rawPrimaryKey, fks []rawForeignKey) []introspect.Column {
	inPK := make(map[string]bool, len(pk.columns))
	for _, c := range pk.columns {
		inPK[c] = true
	}
	type target struct{ table, column string }
	refs := map[string]target{}
	for _, fk := range fks {
		for i, c := range fk.columns {
			if _, seen := refs[c]; seen || i >= len(fk.refColumns) {
				continue
			}
			refs[c] = target{fk.refTable, fk.refColumns[i]}
		}
	}

	cols := make([]introspect.Column, 0, len(raw))
	for _, r := range raw {
		info := introspect.MapColumnType(r.typ)
		col := introspect.Column{
			Name:         r.name,
			DataType:     info.Type,
			RawType:      r.typ,
			Nullable:     r.nullable,
			Default:      r.def,
			MaxLength:    info.MaxLength,
			Precision:    info.Precision,
			Scale:        info.Scale,
			IsPrimaryKey: inPK[r.name],
			Comment:      r.comment,
		}
		if col.MaxLength == nil && r.maxLength != nil && !info.Type.IsNumeric() {
			col.MaxLength = r.maxLength
		}
		if col.Precision == nil && (info.Type == introspect.TypeDecimal || info.Type == introspect.TypeNumeric) {
			col.Precision, col.Scale = r.precision, r.scale
		}
		if ref, ok := refs[r.name]; ok {
			col.IsForeignKey = true
			col.ForeignTable = &ref.table
			col.ForeignColumn = &ref.column
		}
		cols = append(cols, col)
	}
	return cols
}

func buildConstraints(table string, pk rawPrimaryKey, fks []rawForeignKey, uniques, checks []introspect.Constraint) []introspect.Constraint {
	out := []introspect.Constraint{}
	if len(pk.columns) > 0 {
		name := pk.name
		if name == "" {
			name = table + "_pkey"
		}
		out = append(out, introspect.Constraint{Name: name, Kind: introspect.ConstraintPrimaryKey, Columns: pk.columns})
	}
	for i, fk := range fks {
		name := fk.name
		if name == "" {
			name = fmt.Sprintf("%s_fk_%d", table, i)
		}
		ref := fk.refTable
		out = append(out, introspect.Constraint{
			Name:              name,
			Kind:              introspect.ConstraintForeignKey,
			Columns:           fk.columns,
			ReferencedTable:   &ref,
			ReferencedColumns: fk.refColumns,
			OnDelete:          fk.onDelete,
			OnUpdate:          fk.onUpdate,
		})
	}
	out = append(out, uniques...)
	out = append(out, checks...)
	return out
}

// buildIndexes marks as primary the unique index whose column set equals the
// primary key's. A second unique index over exactly the same columns would
// also be marked.
func buildIndexes(table string, raw []rawIndex, pk []string) []introspect.Index {
	out := make([]introspect.Index, 0, len(raw))
	for _, r := range raw {
		cols := r.columns
		if cols == nil {
			cols = []string{}
		}
		idx := introspect.Index{
			Name:      r.name,
			Table:     table,
			Columns:   cols,
			Unique:    r.unique,
			Clustered: r.clustered,
			SizeBytes: r.size,
		}
		idx.Primary = r.unique && len(pk) > 0 && sameSet(cols, pk)
		idx.Kind = indexKind(r.method, idx.Unique, idx.Primary)
		out = append(out, idx)
	}
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		if seen[s] == 0 {
			return false
		}
		seen[s]--
	}
	return true
}

func indexKind(method string, unique, primary bool) introspect.IndexKind {
	switch {
	case primary:
		return introspect.IndexPrimary
	case unique:
		return introspect.IndexUnique
	}
	switch strings.ToLower(method) {
	case "btree", "clustered", "nonclustered", "normal":
		return introspect.IndexBTree
	case "hash":
		return introspect.IndexHash
	case "gin":
		return introspect.IndexGIN
	case "gist", "spgist":
		return introspect.IndexGiST
	case "fulltext":
		return introspect.IndexFulltext
	default:
		return introspect.IndexGeneric
	}
}

type bindStyle int

const (
	bindQuestion bindStyle = iota
	bindDollar
	bindAtP
	bindColon
)

// rebind rewrites ? placeholders for the driver's bind style.
func rebind(style bindStyle, query string) string {
	if style == bindQuestion {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		switch style {
		case bindDollar:
			b.WriteString("$" + strconv.Itoa(n))
		case bindAtP:
			b.WriteString("@p" + strconv.Itoa(n))
		case bindColon:
			b.WriteString(":" + strconv.Itoa(n))
		}
	}
	return b.String()
}

func quoteDouble(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteBacktick(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func quoteBracket(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

func sqlList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return strings.Join(quoted, ", ")
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func splitList(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func triggerEvent(s string) introspect.TriggerEvent {
	switch u := strings.ToUpper(s); {
	case strings.Contains(u, "INSERT"):
		return introspect.EventInsert
	case strings.Contains(u, "UPDATE"):
		return introspect.EventUpdate
	case strings.Contains(u, "DELETE"):
		return introspect.EventDelete
	case strings.Contains(u, "TRUNCATE"):
		return introspect.EventTruncate
	default:
		return introspect.EventInsert
	}
}

func triggerTiming(s string) introspect.TriggerTiming {
	switch u := strings.ToUpper(s); {
	case strings.Contains(u, "INSTEAD"):
		return introspect.TimingInsteadOf
	case strings.Contains(u, "BEFORE"):
		return introspect.TimingBefore
	default:
		return introspect.TimingAfter
	}
}
