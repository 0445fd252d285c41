package extractors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dbspelunker/internal/db"
	"dbspelunker/internal/introspect"
)

// pgCatalog answers from pg_catalog where information_schema is too thin:
// indexes, trigger and routine bodies, check clauses, sizes.
type pgCatalog struct {
	infoSchema
}

func newPostgresCatalog() pgCatalog {
	return pgCatalog{infoSchema{
		kind:   introspect.EnginePostgreSQL,
		binds:  bindDollar,
		quote:  quoteDouble,
		system: []string{"pg_catalog", "information_schema", "pg_toast"},
		columnType: `CASE WHEN data_type = 'ARRAY' THEN substr(udt_name, 2) || '[]'
		                  WHEN data_type = 'USER-DEFINED' THEN udt_name
		                  ELSE data_type END`,
		columnComment: `col_description((quote_ident(table_schema)||'.'||quote_ident(table_name))::regclass, ordinal_position)`,
		tableComment:  `obj_description((quote_ident(table_schema)||'.'||quote_ident(table_name))::regclass)`,
		security:      "security_type",
	}}
}

func (c pgCatalog) databaseInfo(ctx context.Context, q *sql.DB) (dbInfo, error) {
	var info dbInfo
	var version, charset, collation sql.NullString
	var size sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT current_database(), version(), pg_database_size(current_database()),
		       pg_encoding_to_char(encoding), datcollate::text
		FROM pg_database
		WHERE datname = current_database()`).Scan(&info.name, &version, &size, &charset, &collation)
	if err != nil {
		return info, err
	}
	info.version, info.size = strPtr(version), int64Ptr(size)
	info.charset, info.collation = strPtr(charset), strPtr(collation)
	return info, nil
}

func (c pgCatalog) checks(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Constraint, error) {
	return fallback("check constraints of "+schema+"."+table,
		func() ([]introspect.Constraint, error) { return c.pgChecks(ctx, q, schema, table) },
		func() ([]introspect.Constraint, error) { return c.infoSchema.checks(ctx, q, schema, table) })
}

func (c pgCatalog) pgChecks(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Constraint, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT con.conname, pg_get_constraintdef(con.oid),
		       COALESCE((SELECT string_agg(a.attname, ',' ORDER BY a.attnum)
		                 FROM pg_attribute a
		                 WHERE a.attrelid = con.conrelid AND a.attnum = ANY(con.conkey)), '')
		FROM pg_constraint con
		JOIN pg_class t ON t.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE con.contype = 'c' AND n.nspname = $1 AND t.relname = $2
		ORDER BY con.conname`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []introspect.Constraint
	for rows.Next() {
		var name, def, cols string
		if err := rows.Scan(&name, &def, &cols); err != nil {
			return nil, fmt.Errorf("scan check constraint: %w", err)
		}
		out = append(out, introspect.Constraint{Name: name, Kind: introspect.ConstraintCheck, Columns: splitList(cols), CheckClause: &def})
	}
	return out, rows.Err()
}

func (c pgCatalog) indexes(ctx context.Context, q *sql.DB, schema, table string) ([]rawIndex, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT i.relname, am.amname, ix.indisunique, ix.indisclustered,
		       COALESCE((SELECT string_agg(a.attname, ',' ORDER BY k.ord)
		                 FROM unnest(ix.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord)
		                 JOIN pg_attribute a ON a.attrelid = ix.indrelid AND a.attnum = k.attnum), ''),
		       pg_relation_size(i.oid)
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_am am ON am.oid = i.relam
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE n.nspname = $1 AND t.relname = $2
		ORDER BY i.relname`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rawIndex
	for rows.Next() {
		var r rawIndex
		var cols string
		var size sql.NullInt64
		if err := rows.Scan(&r.name, &r.method, &r.unique, &r.clustered, &cols, &size); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		r.columns, r.size = splitList(cols), int64Ptr(size)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c pgCatalog) triggers(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Trigger, error) {
	return fallback("triggers of "+schema+"."+table,
		func() ([]introspect.Trigger, error) { return c.pgTriggers(ctx, q, schema, table) },
		func() ([]introspect.Trigger, error) { return c.infoSchema.triggers(ctx, q, schema, table) })
}

// tgtype bits, from pg_trigger.h
const (
	tgTypeBefore   = 1 << 1
	tgTypeInsert   = 1 << 2
	tgTypeDelete   = 1 << 3
	tgTypeUpdate   = 1 << 4
	tgTypeTruncate = 1 << 5
	tgTypeInstead  = 1 << 6
)

func decodeTgType(tgtype int64) (introspect.TriggerEvent, introspect.TriggerTiming) {
	event := introspect.EventInsert
	switch {
	case tgtype&tgTypeInsert != 0:
		event = introspect.EventInsert
	case tgtype&tgTypeUpdate != 0:
		event = introspect.EventUpdate
	case tgtype&tgTypeDelete != 0:
		event = introspect.EventDelete
	case tgtype&tgTypeTruncate != 0:
		event = introspect.EventTruncate
	}
	timing := introspect.TimingAfter
	switch {
	case tgtype&tgTypeInstead != 0:
		timing = introspect.TimingInsteadOf
	case tgtype&tgTypeBefore != 0:
		timing = introspect.TimingBefore
	}
	return event, timing
}

func (c pgCatalog) pgTriggers(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Trigger, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT t.tgname, pg_get_triggerdef(t.oid), t.tgenabled <> 'D', t.tgtype::int
		FROM pg_trigger t
		JOIN pg_class c ON c.oid = t.tgrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE NOT t.tgisinternal AND n.nspname = $1 AND c.relname = $2
		ORDER BY t.tgname`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []introspect.Trigger{}
	for rows.Next() {
		var tr introspect.Trigger
		var tgtype int64
		if err := rows.Scan(&tr.Name, &tr.Definition, &tr.Enabled, &tgtype); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		tr.Table = table
		tr.Event, tr.Timing = decodeTgType(tgtype)
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (c pgCatalog) routines(ctx context.Context, q *sql.DB, schema string) ([]introspect.StoredRoutine, error) {
	return fallback("routines of "+schema,
		func() ([]introspect.StoredRoutine, error) { return c.pgRoutines(ctx, q, schema) },
		func() ([]introspect.StoredRoutine, error) { return c.infoSchema.routines(ctx, q, schema) })
}

func (c pgCatalog) pgRoutines(ctx context.Context, q *sql.DB, schema string) ([]introspect.StoredRoutine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT p.proname, pg_get_function_arguments(p.oid), pg_get_function_result(p.oid),
		       l.lanname, p.provolatile = 'i', p.prosecdef, pg_get_functiondef(p.oid)
		FROM pg_proc p
		JOIN pg_namespace n ON n.oid = p.pronamespace
		JOIN pg_language l ON l.oid = p.prolang
		WHERE n.nspname = $1 AND p.prokind IN ('f', 'p')
		ORDER BY p.proname, p.oid`, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []introspect.StoredRoutine{}
	for rows.Next() {
		var r introspect.StoredRoutine
		var args string
		var result sql.NullString
		var secdef bool
		if err := rows.Scan(&r.Name, &args, &result, &r.Language, &r.Deterministic, &secdef, &r.Definition); err != nil {
			return nil, fmt.Errorf("scan routine: %w", err)
		}
		r.Schema = schema
		r.Parameters = parsePGArguments(args)
		r.ReturnType = strPtr(result)
		r.SecurityType = "INVOKER"
		if secdef {
			r.SecurityType = "DEFINER"
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// parsePGArguments splits pg_get_function_arguments output such as
// "a integer, OUT b numeric(10,2) DEFAULT 0" into parameters.
func parsePGArguments(args string) []introspect.Parameter {
	out := []introspect.Parameter{}
	for _, arg := range splitTopLevel(args) {
		if i := strings.Index(strings.ToUpper(arg), " DEFAULT "); i >= 0 {
			arg = arg[:i]
		}
		fields := strings.Fields(arg)
		if len(fields) == 0 {
			continue
		}
		p := introspect.Parameter{Mode: introspect.ModeIn}
		switch strings.ToUpper(fields[0]) {
		case "IN", "VARIADIC":
			fields = fields[1:]
		case "OUT":
			p.Mode, fields = introspect.ModeOut, fields[1:]
		case "INOUT":
			p.Mode, fields = introspect.ModeInOut, fields[1:]
		}
		switch len(fields) {
		case 0:
			continue
		case 1:
			p.Type = fields[0]
		default:
			p.Name, p.Type = fields[0], strings.Join(fields[1:], " ")
		}
		out = append(out, p)
	}
	return out
}

// splitTopLevel splits on commas outside parentheses.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

func (c pgCatalog) exactStats(ctx context.Context, q *sql.DB, schema, table string) (tableStats, error) {
	ident := quoteDouble(schema) + "." + quoteDouble(table)
	var rows, size int64
	err := q.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT (SELECT COUNT(*) FROM %s), pg_total_relation_size($1::text::regclass)`, ident), ident).Scan(&rows, &size)
	if err != nil {
		return tableStats{}, err
	}
	return tableStats{rows: &rows, size: &size}, nil
}

func (c pgCatalog) estimatedStats(ctx context.Context, q *sql.DB, schema, table string) (tableStats, error) {
	var rows, size sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT c.reltuples::bigint, pg_total_relation_size(c.oid)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2`, schema, table).Scan(&rows, &size)
	if err != nil {
		return tableStats{}, err
	}
	st := tableStats{size: int64Ptr(size)}
	// reltuples is -1 until the table is first analyzed
	if rows.Valid && rows.Int64 >= 0 {
		st.rows = &rows.Int64
	}
	return st, nil
}

func init() {
	e := newExtractor(newPostgresCatalog())
	db.Register("postgres", e)
	db.Register("postgresql", e)
	db.Register("pgx", e)
}
