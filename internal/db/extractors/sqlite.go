package extractors

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"dbspelunker/internal/db"
	"dbspelunker/internal/introspect"
)

// sqliteCatalog reads sqlite_master and the pragma table functions. SQLite
// has one schema per attached database; only main is reported.
type sqliteCatalog struct{}

const sqliteSchema = "main"

func (sqliteCatalog) engine() introspect.EngineKind { return introspect.EngineSQLite }

func (sqliteCatalog) databaseInfo(ctx context.Context, q *sql.DB) (dbInfo, error) {
	info := dbInfo{name: sqliteSchema}
	var seq int
	var name, file sql.NullString
	if err := q.QueryRowContext(ctx, `PRAGMA database_list`).Scan(&seq, &name, &file); err == nil && file.String != "" {
		info.name = file.String
	}
	var version string
	if err := q.QueryRowContext(ctx, `SELECT sqlite_version()`).Scan(&version); err != nil {
		return info, err
	}
	info.version = &version
	var size int64
	if err := q.QueryRowContext(ctx,
		`SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`).Scan(&size); err == nil {
		info.size = &size
	}
	var enc string
	if err := q.QueryRowContext(ctx, `PRAGMA encoding`).Scan(&enc); err == nil {
		info.charset = &enc
	}
	return info, nil
}

func (sqliteCatalog) schemas(ctx context.Context, q *sql.DB) ([]string, error) {
	return []string{sqliteSchema}, nil
}

func (sqliteCatalog) relations(ctx context.Context, q *sql.DB) ([]relation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT name, type
		FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []relation
	for rows.Next() {
		r := relation{schema: sqliteSchema}
		var typ string
		if err := rows.Scan(&r.name, &typ); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		r.view = typ == "view"
		out = append(out, r)
	}
	return out, rows.Err()
}

func (sqliteCatalog) relationInfo(ctx context.Context, q *sql.DB, schema, table string) (relationInfo, error) {
	var typ string
	err := q.QueryRowContext(ctx, `SELECT type FROM sqlite_master WHERE name = ?`, table).Scan(&typ)
	if err != nil {
		return relationInfo{}, err
	}
	if typ == "view" {
		return relationInfo{kind: introspect.KindView}, nil
	}
	return relationInfo{kind: introspect.KindTable}, nil
}

func (sqliteCatalog) columns(ctx context.Context, q *sql.DB, schema, table string) ([]rawColumn, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, type, "notnull", dflt_value FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rawColumn
	for rows.Next() {
		var c rawColumn
		var notnull int
		var dflt sql.NullString
		if err := rows.Scan(&c.name, &c.typ, &notnull, &dflt); err != nil {
			return nil, fmt.Errorf("scan column for %s.%s: %w", schema, table, err)
		}
		c.nullable = notnull == 0
		c.def = strPtr(dflt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (sqliteCatalog) primaryKey(ctx context.Context, q *sql.DB, schema, table string) (rawPrimaryKey, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk`, table)
	if err != nil {
		return rawPrimaryKey{}, err
	}
	defer rows.Close()

	var pk rawPrimaryKey
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return rawPrimaryKey{}, fmt.Errorf("scan primary key: %w", err)
		}
		pk.columns = append(pk.columns, col)
	}
	return pk, rows.Err()
}

func (c sqliteCatalog) foreignKeys(ctx context.Context, q *sql.DB, schema, table string) ([]rawForeignKey, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, "table", "from", "to", on_update, on_delete
		FROM pragma_foreign_key_list(?)
		ORDER BY id, seq`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rawForeignKey
	lastID := int64(-1)
	for rows.Next() {
		var id int64
		var refTable, from string
		var to, onUpdate, onDelete sql.NullString
		if err := rows.Scan(&id, &refTable, &from, &to, &onUpdate, &onDelete); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		// "to" is NULL when the reference names the parent's primary key implicitly
		refCol := to.String
		if id == lastID {
			n := len(out) - 1
			out[n].columns = append(out[n].columns, from)
			out[n].refColumns = append(out[n].refColumns, refCol)
			continue
		}
		lastID = id
		out = append(out, rawForeignKey{
			name:       fmt.Sprintf("fk_%s_%s_%d", table, refTable, id),
			columns:    []string{from},
			refTable:   refTable,
			refColumns: []string{refCol},
			onDelete:   strPtr(onDelete),
			onUpdate:   strPtr(onUpdate),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, fk := range out {
		if !slices.Contains(fk.refColumns, "") {
			continue
		}
		pk, err := c.primaryKey(ctx, q, schema, fk.refTable)
		if err != nil {
			return nil, err
		}
		if len(pk.columns) == len(fk.columns) {
			out[i].refColumns = pk.columns
		}
	}
	return out, nil
}

type sqliteIndex struct {
	name   string
	unique bool
	origin string
}

func (c sqliteCatalog) indexList(ctx context.Context, q *sql.DB, table string) ([]sqliteIndex, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, "unique", origin FROM pragma_index_list(?) ORDER BY name`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sqliteIndex
	for rows.Next() {
		var ix sqliteIndex
		var unique int
		if err := rows.Scan(&ix.name, &unique, &ix.origin); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		ix.unique = unique != 0
		out = append(out, ix)
	}
	return out, rows.Err()
}

func (c sqliteCatalog) indexColumns(ctx context.Context, q *sql.DB, index string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM pragma_index_info(?) ORDER BY seqno`, index)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := []string{}
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan index column: %w", err)
		}
		// expression columns have no name
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}

func (c sqliteCatalog) uniques(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Constraint, error) {
	list, err := c.indexList(ctx, q, table)
	if err != nil {
		return nil, err
	}
	var out []introspect.Constraint
	for _, ix := range list {
		if ix.origin != "u" {
			continue
		}
		cols, err := c.indexColumns(ctx, q, ix.name)
		if err != nil {
			return nil, err
		}
		out = append(out, introspect.Constraint{Name: ix.name, Kind: introspect.ConstraintUnique, Columns: cols})
	}
	return out, nil
}

var sqliteCheck = regexp.MustCompile(`(?is)(?:CONSTRAINT\s+("?\w+"?)\s+)?CHECK\s*\(`)

// checks pulls CHECK clauses out of the table's CREATE statement.
func (sqliteCatalog) checks(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Constraint, error) {
	var ddl sql.NullString
	if err := q.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&ddl); err != nil {
		return nil, err
	}
	var out []introspect.Constraint
	for i, m := range sqliteCheck.FindAllStringSubmatchIndex(ddl.String, -1) {
		open := m[1] - 1
		clause, ok := balanced(ddl.String[open:])
		if !ok {
			continue
		}
		name := fmt.Sprintf("%s_check_%d", table, i+1)
		if m[2] >= 0 {
			name = strings.Trim(ddl.String[m[2]:m[3]], `"`)
		}
		out = append(out, introspect.Constraint{Name: name, Kind: introspect.ConstraintCheck, Columns: []string{}, CheckClause: &clause})
	}
	return out, nil
}

// balanced returns the parenthesized prefix of s, which must start with "(".
func balanced(s string) (string, bool) {
	depth := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

func (c sqliteCatalog) indexes(ctx context.Context, q *sql.DB, schema, table string) ([]rawIndex, error) {
	list, err := c.indexList(ctx, q, table)
	if err != nil {
		return nil, err
	}
	var out []rawIndex
	for _, ix := range list {
		cols, err := c.indexColumns(ctx, q, ix.name)
		if err != nil {
			return nil, err
		}
		out = append(out, rawIndex{name: ix.name, method: "btree", columns: cols, unique: ix.unique})
	}
	return out, nil
}

var sqliteTrigger = regexp.MustCompile(`(?is)CREATE\s+(?:TEMP\w*\s+)?TRIGGER\s+(?:IF\s+NOT\s+EXISTS\s+)?\S+\s+(BEFORE|AFTER|INSTEAD\s+OF)?\s*(INSERT|UPDATE|DELETE)`)

// parseSQLiteTrigger reads timing and event from a CREATE TRIGGER statement.
// SQLite defaults to BEFORE when no timing is given.
func parseSQLiteTrigger(ddl string) (introspect.TriggerEvent, introspect.TriggerTiming) {
	m := sqliteTrigger.FindStringSubmatch(ddl)
	if m == nil {
		return introspect.EventInsert, introspect.TimingBefore
	}
	timing := introspect.TimingBefore
	if m[1] != "" {
		timing = triggerTiming(m[1])
	}
	return triggerEvent(m[2]), timing
}

func (sqliteCatalog) triggers(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Trigger, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT name, sql
		FROM sqlite_master
		WHERE type = 'trigger' AND tbl_name = ?
		ORDER BY name`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []introspect.Trigger{}
	for rows.Next() {
		var name string
		var ddl sql.NullString
		if err := rows.Scan(&name, &ddl); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		event, timing := parseSQLiteTrigger(ddl.String)
		out = append(out, introspect.Trigger{
			Name:       name,
			Table:      table,
			Event:      event,
			Timing:     timing,
			Definition: ddl.String,
			Enabled:    true,
		})
	}
	return out, rows.Err()
}

func (sqliteCatalog) routines(ctx context.Context, q *sql.DB, schema string) ([]introspect.StoredRoutine, error) {
	return []introspect.StoredRoutine{}, nil
}

func (sqliteCatalog) exactStats(ctx context.Context, q *sql.DB, schema, table string) (tableStats, error) {
	var n int64
	if err := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteDouble(table))).Scan(&n); err != nil {
		return tableStats{}, err
	}
	st := tableStats{rows: &n}
	// dbstat is only present when compiled in
	var size sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT SUM(pgsize) FROM dbstat WHERE name = ?`, table).Scan(&size); err == nil {
		st.size = int64Ptr(size)
	}
	return st, nil
}

func (sqliteCatalog) estimatedStats(ctx context.Context, q *sql.DB, schema, table string) (tableStats, error) {
	var stat string
	if err := q.QueryRowContext(ctx, `SELECT stat FROM sqlite_stat1 WHERE tbl = ? LIMIT 1`, table).Scan(&stat); err != nil {
		return tableStats{}, err
	}
	first, _, _ := strings.Cut(stat, " ")
	n, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return tableStats{}, fmt.Errorf("parse sqlite_stat1 %q: %w", stat, err)
	}
	return tableStats{rows: &n}, nil
}

func init() {
	e := newExtractor(sqliteCatalog{})
	db.Register("sqlite3", e)
	db.Register("sqlite", e)
}
