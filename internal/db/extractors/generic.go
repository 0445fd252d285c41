package extractors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dbspelunker/internal/introspect"
)

// infoSchema answers every catalog question from information_schema. It is
// complete enough on its own for engines that follow the standard, and the
// engine-specific catalogs embed it for whatever they do not override.
type infoSchema struct {
	kind  introspect.EngineKind
	binds bindStyle
	quote func(string) string

	// system schemas are never reported
	system []string

	// SQL expressions selected from information_schema rows; engines differ
	columnType    string
	columnComment string
	tableComment  string
	security      string
}

func (g infoSchema) engine() introspect.EngineKind { return g.kind }

func (g infoSchema) sql(query string) string {
	return rebind(g.binds, query)
}

func (g infoSchema) databaseInfo(ctx context.Context, q *sql.DB) (dbInfo, error) {
	return dbInfo{}, errUnsupported
}

func (g infoSchema) schemas(ctx context.Context, q *sql.DB) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name NOT IN (%s)
		ORDER BY schema_name`, sqlList(g.system)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}
		if g.isSystem(n) {
			continue
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (g infoSchema) isSystem(schema string) bool {
	for _, s := range g.system {
		if strings.EqualFold(s, schema) {
			return true
		}
	}
	return strings.HasPrefix(schema, "pg_temp_") || strings.HasPrefix(schema, "pg_toast_temp_")
}

func (g infoSchema) relations(ctx context.Context, q *sql.DB) ([]relation, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT table_schema, table_name, table_type
		FROM information_schema.tables
		WHERE table_schema NOT IN (%s)
		ORDER BY table_schema, table_name`, sqlList(g.system)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []relation
	for rows.Next() {
		var r relation
		var typ string
		if err := rows.Scan(&r.schema, &r.name, &typ); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		if g.isSystem(r.schema) {
			continue
		}
		r.view = strings.Contains(strings.ToUpper(typ), "VIEW")
		out = append(out, r)
	}
	return out, rows.Err()
}

func (g infoSchema) relationInfo(ctx context.Context, q *sql.DB, schema, table string) (relationInfo, error) {
	var typ string
	var comment sql.NullString
	err := q.QueryRowContext(ctx, g.sql(fmt.Sprintf(`
		SELECT table_type, %s
		FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?`, g.tableComment)), schema, table).Scan(&typ, &comment)
	if err != nil {
		return relationInfo{}, err
	}
	info := relationInfo{kind: introspect.KindTable, comment: strPtr(comment)}
	if strings.Contains(strings.ToUpper(typ), "VIEW") {
		info.kind = introspect.KindView
	}
	if info.comment != nil && *info.comment == "" {
		info.comment = nil
	}
	return info, nil
}

func (g infoSchema) columns(ctx context.Context, q *sql.DB, schema, table string) ([]rawColumn, error) {
	rows, err := q.QueryContext(ctx, g.sql(fmt.Sprintf(`
		SELECT column_name, %s, is_nullable, column_default,
		       character_maximum_length, numeric_precision, numeric_scale, %s
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, g.columnType, g.columnComment)), schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rawColumn
	for rows.Next() {
		var c rawColumn
		var nullable string
		var def, comment sql.NullString
		var maxLen, prec, scale sql.NullInt64
		if err := rows.Scan(&c.name, &c.typ, &nullable, &def, &maxLen, &prec, &scale, &comment); err != nil {
			return nil, fmt.Errorf("scan column for %s.%s: %w", schema, table, err)
		}
		c.nullable = strings.EqualFold(nullable, "YES")
		c.def = strPtr(def)
		c.maxLength, c.precision, c.scale = intPtr(maxLen), intPtr(prec), intPtr(scale)
		if comment.Valid && comment.String != "" {
			c.comment = &comment.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (g infoSchema) primaryKey(ctx context.Context, q *sql.DB, schema, table string) (rawPrimaryKey, error) {
	cs, err := g.keyConstraints(ctx, q, "PRIMARY KEY", schema, table)
	if err != nil || len(cs) == 0 {
		return rawPrimaryKey{}, err
	}
	return rawPrimaryKey{name: cs[0].Name, columns: cs[0].Columns}, nil
}

func (g infoSchema) uniques(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Constraint, error) {
	return g.keyConstraints(ctx, q, "UNIQUE", schema, table)
}

func (g infoSchema) keyConstraints(ctx context.Context, q *sql.DB, kind, schema, table string) ([]introspect.Constraint, error) {
	rows, err := q.QueryContext(ctx, g.sql(`
		SELECT tc.constraint_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name
		 AND kcu.constraint_schema = tc.constraint_schema
		 AND kcu.table_name = tc.table_name
		WHERE tc.constraint_type = ? AND tc.table_schema = ? AND tc.table_name = ?
		ORDER BY tc.constraint_name, kcu.ordinal_position`), kind, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ck := introspect.ConstraintUnique
	if kind == "PRIMARY KEY" {
		ck = introspect.ConstraintPrimaryKey
	}
	var out []introspect.Constraint
	for rows.Next() {
		var name, col string
		if err := rows.Scan(&name, &col); err != nil {
			return nil, fmt.Errorf("scan key column: %w", err)
		}
		if n := len(out); n > 0 && out[n-1].Name == name {
			out[n-1].Columns = append(out[n-1].Columns, col)
			continue
		}
		out = append(out, introspect.Constraint{Name: name, Kind: ck, Columns: []string{col}})
	}
	return out, rows.Err()
}

func (g infoSchema) foreignKeys(ctx context.Context, q *sql.DB, schema, table string) ([]rawForeignKey, error) {
	rows, err := q.QueryContext(ctx, g.sql(`
		SELECT kcu.constraint_name, kcu.column_name, rkcu.table_name, rkcu.column_name,
		       rc.update_rule, rc.delete_rule
		FROM information_schema.referential_constraints rc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = rc.constraint_name
		 AND kcu.constraint_schema = rc.constraint_schema
		JOIN information_schema.key_column_usage rkcu
		  ON rkcu.constraint_name = rc.unique_constraint_name
		 AND rkcu.constraint_schema = rc.unique_constraint_schema
		 AND rkcu.ordinal_position = kcu.ordinal_position
		WHERE kcu.table_schema = ? AND kcu.table_name = ?
		ORDER BY kcu.constraint_name, kcu.ordinal_position`), schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanForeignKeys(rows)
}

// scanForeignKeys groups (name, column, ref table, ref column, update, delete)
// rows by constraint name.
func scanForeignKeys(rows *sql.Rows) ([]rawForeignKey, error) {
	var out []rawForeignKey
	for rows.Next() {
		var name, col, refTable, refCol string
		var onUpdate, onDelete sql.NullString
		if err := rows.Scan(&name, &col, &refTable, &refCol, &onUpdate, &onDelete); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		if n := len(out); n > 0 && out[n-1].name == name {
			out[n-1].columns = append(out[n-1].columns, col)
			out[n-1].refColumns = append(out[n-1].refColumns, refCol)
			continue
		}
		out = append(out, rawForeignKey{
			name:       name,
			columns:    []string{col},
			refTable:   refTable,
			refColumns: []string{refCol},
			onDelete:   strPtr(onDelete),
			onUpdate:   strPtr(onUpdate),
		})
	}
	return out, rows.Err()
}

func (g infoSchema) checks(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Constraint, error) {
	rows, err := q.QueryContext(ctx, g.sql(`
		SELECT tc.constraint_name, cc.check_clause
		FROM information_schema.table_constraints tc
		JOIN information_schema.check_constraints cc
		  ON cc.constraint_name = tc.constraint_name
		 AND cc.constraint_schema = tc.constraint_schema
		WHERE tc.constraint_type = 'CHECK' AND tc.table_schema = ? AND tc.table_name = ?
		ORDER BY tc.constraint_name`), schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []introspect.Constraint
	for rows.Next() {
		var name, clause string
		if err := rows.Scan(&name, &clause); err != nil {
			return nil, fmt.Errorf("scan check constraint: %w", err)
		}
		// catalogs that expose NOT NULL as a check constraint
		if strings.HasSuffix(strings.ToUpper(clause), "IS NOT NULL") {
			continue
		}
		out = append(out, introspect.Constraint{Name: name, Kind: introspect.ConstraintCheck, Columns: []string{}, CheckClause: &clause})
	}
	return out, rows.Err()
}

func (g infoSchema) indexes(ctx context.Context, q *sql.DB, schema, table string) ([]rawIndex, error) {
	return nil, fmt.Errorf("indexes: %w", errUnsupported)
}

func (g infoSchema) triggers(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Trigger, error) {
	rows, err := q.QueryContext(ctx, g.sql(`
		SELECT trigger_name, event_manipulation, action_timing, action_statement
		FROM information_schema.triggers
		WHERE event_object_schema = ? AND event_object_table = ?
		ORDER BY trigger_name`), schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []introspect.Trigger{}
	seen := map[string]bool{}
	for rows.Next() {
		var name, event, timing string
		var stmt sql.NullString
		if err := rows.Scan(&name, &event, &timing, &stmt); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		// one row per event for multi-event triggers
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, introspect.Trigger{
			Name:       name,
			Table:      table,
			Event:      triggerEvent(event),
			Timing:     triggerTiming(timing),
			Definition: stmt.String,
			Enabled:    true,
		})
	}
	return out, rows.Err()
}

func (g infoSchema) routines(ctx context.Context, q *sql.DB, schema string) ([]introspect.StoredRoutine, error) {
	params, err := g.parameters(ctx, q, schema)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, g.sql(fmt.Sprintf(`
		SELECT specific_name, routine_name, routine_type, data_type, routine_body,
		       routine_definition, is_deterministic, %s
		FROM information_schema.routines
		WHERE routine_schema = ?
		ORDER BY routine_name`, g.security)), schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []introspect.StoredRoutine{}
	for rows.Next() {
		var specific, name string
		var typ, returns, body, def, deterministic, security sql.NullString
		if err := rows.Scan(&specific, &name, &typ, &returns, &body, &def, &deterministic, &security); err != nil {
			return nil, fmt.Errorf("scan routine: %w", err)
		}
		r := introspect.StoredRoutine{
			Name:          name,
			Schema:        schema,
			Parameters:    params[specific],
			Definition:    def.String,
			Language:      strings.ToUpper(body.String),
			Deterministic: strings.EqualFold(deterministic.String, "YES"),
			SecurityType:  strings.ToUpper(security.String),
		}
		if r.Parameters == nil {
			r.Parameters = []introspect.Parameter{}
		}
		if strings.EqualFold(typ.String, "FUNCTION") && returns.Valid {
			r.ReturnType = &returns.String
		}
		if r.SecurityType == "" {
			r.SecurityType = "INVOKER"
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (g infoSchema) parameters(ctx context.Context, q *sql.DB, schema string) (map[string][]introspect.Parameter, error) {
	rows, err := q.QueryContext(ctx, g.sql(`
		SELECT specific_name, parameter_mode, parameter_name, data_type
		FROM information_schema.parameters
		WHERE specific_schema = ?
		ORDER BY specific_name, ordinal_position`), schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]introspect.Parameter{}
	for rows.Next() {
		var specific string
		var mode, name, typ sql.NullString
		if err := rows.Scan(&specific, &mode, &name, &typ); err != nil {
			return nil, fmt.Errorf("scan parameter: %w", err)
		}
		// a row without a mode describes the return value
		if !mode.Valid {
			continue
		}
		out[specific] = append(out[specific], introspect.Parameter{
			Name: name.String,
			Type: typ.String,
			Mode: introspect.ParameterMode(strings.ToUpper(mode.String)),
		})
	}
	return out, rows.Err()
}

func (g infoSchema) exactStats(ctx context.Context, q *sql.DB, schema, table string) (tableStats, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", g.quote(schema), g.quote(table))
	if err := q.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return tableStats{}, err
	}
	return tableStats{rows: &n}, nil
}

func (g infoSchema) estimatedStats(ctx context.Context, q *sql.DB, schema, table string) (tableStats, error) {
	return tableStats{}, fmt.Errorf("row estimate: %w", errUnsupported)
}
