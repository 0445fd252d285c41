//go:build oracle

package extractors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/godror/godror"

	"dbspelunker/internal/db"
	"dbspelunker/internal/introspect"
)

// oracleCatalog reads the ALL_* dictionary views. Oracle has no
// information_schema, so nothing here falls back to the generic catalog.
// Schemas are the users that are not Oracle-maintained.
type oracleCatalog struct{}

func (oracleCatalog) engine() introspect.EngineKind { return introspect.EngineOracle }

func (oracleCatalog) databaseInfo(ctx context.Context, q *sql.DB) (dbInfo, error) {
	var info dbInfo
	if err := q.QueryRowContext(ctx, `SELECT SYS_CONTEXT('USERENV', 'DB_NAME') FROM dual`).Scan(&info.name); err != nil {
		return info, err
	}
	var version, charset sql.NullString
	if err := q.QueryRowContext(ctx, `SELECT banner FROM v$version WHERE ROWNUM = 1`).Scan(&version); err == nil {
		info.version = strPtr(version)
	}
	if err := q.QueryRowContext(ctx,
		`SELECT value FROM nls_database_parameters WHERE parameter = 'NLS_CHARACTERSET'`).Scan(&charset); err == nil {
		info.charset = strPtr(charset)
	}
	return info, nil
}

func (oracleCatalog) schemas(ctx context.Context, q *sql.DB) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT username FROM all_users
		WHERE oracle_maintained = 'N'
		ORDER BY username`)
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
		names = append(names, n)
	}
	return names, rows.Err()
}

func (oracleCatalog) relations(ctx context.Context, q *sql.DB) ([]relation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT o.owner, o.object_name, o.object_type
		FROM all_objects o
		JOIN all_users u ON u.username = o.owner
		WHERE u.oracle_maintained = 'N' AND o.object_type IN ('TABLE', 'VIEW')
		ORDER BY o.owner, o.object_name`)
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
		r.view = typ == "VIEW"
		out = append(out, r)
	}
	return out, rows.Err()
}

func (oracleCatalog) relationInfo(ctx context.Context, q *sql.DB, schema, table string) (relationInfo, error) {
	var typ string
	var comment sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT table_type, comments
		FROM all_tab_comments
		WHERE owner = :1 AND table_name = :2`, schema, table).Scan(&typ, &comment)
	if err != nil {
		return relationInfo{}, err
	}
	info := relationInfo{kind: introspect.KindTable, comment: strPtr(comment)}
	if typ == "VIEW" {
		info.kind = introspect.KindView
	}
	return info, nil
}

func (oracleCatalog) columns(ctx context.Context, q *sql.DB, schema, table string) ([]rawColumn, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT c.column_name, c.data_type, c.nullable, c.data_default,
		       c.char_length, c.data_precision, c.data_scale, cc.comments
		FROM all_tab_columns c
		LEFT JOIN all_col_comments cc
		  ON cc.owner = c.owner AND cc.table_name = c.table_name AND cc.column_name = c.column_name
		WHERE c.owner = :1 AND c.table_name = :2
		ORDER BY c.column_id`, schema, table)
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
		c.nullable = nullable == "Y"
		if def.Valid {
			d := strings.TrimSpace(def.String)
			c.def = &d
		}
		if maxLen.Valid && maxLen.Int64 > 0 {
			c.maxLength = intPtr(maxLen)
		}
		c.precision, c.scale = intPtr(prec), intPtr(scale)
		c.comment = strPtr(comment)
		out = append(out, c)
	}
	return out, rows.Err()
}

// consColumns returns constraints of one type with their columns in position order.
func (oracleCatalog) consColumns(ctx context.Context, q *sql.DB, typ, schema, table string) ([]introspect.Constraint, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT ac.constraint_name, acc.column_name
		FROM all_constraints ac
		JOIN all_cons_columns acc
		  ON acc.owner = ac.owner AND acc.constraint_name = ac.constraint_name
		WHERE ac.constraint_type = :1 AND ac.owner = :2 AND ac.table_name = :3
		ORDER BY ac.constraint_name, acc.position`, typ, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []introspect.Constraint
	for rows.Next() {
		var name, col string
		if err := rows.Scan(&name, &col); err != nil {
			return nil, fmt.Errorf("scan constraint column: %w", err)
		}
		if n := len(out); n > 0 && out[n-1].Name == name {
			out[n-1].Columns = append(out[n-1].Columns, col)
			continue
		}
		out = append(out, introspect.Constraint{Name: name, Kind: introspect.ConstraintUnique, Columns: []string{col}})
	}
	return out, rows.Err()
}

func (c oracleCatalog) primaryKey(ctx context.Context, q *sql.DB, schema, table string) (rawPrimaryKey, error) {
	cs, err := c.consColumns(ctx, q, "P", schema, table)
	if err != nil || len(cs) == 0 {
		return rawPrimaryKey{}, err
	}
	return rawPrimaryKey{name: cs[0].Name, columns: cs[0].Columns}, nil
}

func (c oracleCatalog) uniques(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Constraint, error) {
	return c.consColumns(ctx, q, "U", schema, table)
}

func (oracleCatalog) foreignKeys(ctx context.Context, q *sql.DB, schema, table string) ([]rawForeignKey, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT a.constraint_name, acc.column_name, rcc.table_name, rcc.column_name,
		       'NO ACTION', a.delete_rule
		FROM all_constraints a
		JOIN all_cons_columns acc
		  ON a.owner = acc.owner
		 AND a.constraint_name = acc.constraint_name
		JOIN all_cons_columns rcc
		  ON a.r_owner = rcc.owner
		 AND a.r_constraint_name = rcc.constraint_name
		 AND nvl(acc.position, 0) = nvl(rcc.position, 0)
		WHERE a.constraint_type = 'R' AND a.owner = :1 AND a.table_name = :2
		ORDER BY a.constraint_name, acc.position`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanForeignKeys(rows)
}

func (oracleCatalog) checks(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Constraint, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT constraint_name, search_condition_vc
		FROM all_constraints
		WHERE constraint_type = 'C' AND owner = :1 AND table_name = :2
		ORDER BY constraint_name`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []introspect.Constraint
	for rows.Next() {
		var name string
		var cond sql.NullString
		if err := rows.Scan(&name, &cond); err != nil {
			return nil, fmt.Errorf("scan check constraint: %w", err)
		}
		// NOT NULL columns show up as system-generated checks
		if !cond.Valid || strings.HasSuffix(strings.ToUpper(cond.String), "IS NOT NULL") {
			continue
		}
		clause := cond.String
		out = append(out, introspect.Constraint{Name: name, Kind: introspect.ConstraintCheck, Columns: []string{}, CheckClause: &clause})
	}
	return out, rows.Err()
}

func (oracleCatalog) indexes(ctx context.Context, q *sql.DB, schema, table string) ([]rawIndex, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT i.index_name, i.index_type, i.uniqueness, ic.column_name
		FROM all_indexes i
		JOIN all_ind_columns ic ON ic.index_owner = i.owner AND ic.index_name = i.index_name
		WHERE i.table_owner = :1 AND i.table_name = :2
		ORDER BY i.index_name, ic.column_position`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rawIndex
	for rows.Next() {
		var name, typ, uniqueness, col string
		if err := rows.Scan(&name, &typ, &uniqueness, &col); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		if n := len(out); n > 0 && out[n-1].name == name {
			out[n-1].columns = append(out[n-1].columns, col)
			continue
		}
		method := strings.ToLower(typ)
		if method == "normal" {
			method = "btree"
		}
		out = append(out, rawIndex{
			name:      name,
			method:    method,
			columns:   []string{col},
			unique:    uniqueness == "UNIQUE",
			clustered: strings.Contains(typ, "IOT"),
		})
	}
	return out, rows.Err()
}

func (oracleCatalog) triggers(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Trigger, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT trigger_name, triggering_event, trigger_type, status, trigger_body
		FROM all_triggers
		WHERE table_owner = :1 AND table_name = :2
		ORDER BY trigger_name`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []introspect.Trigger{}
	for rows.Next() {
		var name, event, typ, status string
		var body sql.NullString
		if err := rows.Scan(&name, &event, &typ, &status, &body); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		out = append(out, introspect.Trigger{
			Name:       name,
			Table:      table,
			Event:      triggerEvent(event),
			Timing:     triggerTiming(typ),
			Definition: body.String,
			Enabled:    status == "ENABLED",
		})
	}
	return out, rows.Err()
}

func (oracleCatalog) routines(ctx context.Context, q *sql.DB, schema string) ([]introspect.StoredRoutine, error) {
	params, err := oracleArguments(ctx, q, schema)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `
		SELECT p.object_name, p.object_type, p.deterministic, p.authid
		FROM all_procedures p
		WHERE p.owner = :1 AND p.object_type IN ('PROCEDURE', 'FUNCTION')
		ORDER BY p.object_name`, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []introspect.StoredRoutine{}
	for rows.Next() {
		var name, typ string
		var deterministic, authid sql.NullString
		if err := rows.Scan(&name, &typ, &deterministic, &authid); err != nil {
			return nil, fmt.Errorf("scan routine: %w", err)
		}
		r := introspect.StoredRoutine{
			Name:          name,
			Schema:        schema,
			Parameters:    []introspect.Parameter{},
			Language:      "PLSQL",
			Deterministic: deterministic.String == "YES",
			SecurityType:  "DEFINER",
		}
		if authid.String == "CURRENT_USER" {
			r.SecurityType = "INVOKER"
		}
		if a, ok := params[name]; ok {
			r.Parameters = a.params
			if typ == "FUNCTION" {
				r.ReturnType = a.returns
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		def, err := oracleSource(ctx, q, schema, out[i].Name)
		if err != nil {
			return nil, err
		}
		out[i].Definition = def
	}
	return out, nil
}

type oracleArgs struct {
	params  []introspect.Parameter
	returns *string
}

func oracleArguments(ctx context.Context, q *sql.DB, schema string) (map[string]oracleArgs, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT object_name, argument_name, data_type, in_out
		FROM all_arguments
		WHERE owner = :1 AND package_name IS NULL AND data_level = 0
		ORDER BY object_name, position`, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]oracleArgs{}
	for rows.Next() {
		var obj string
		var name, typ, mode sql.NullString
		if err := rows.Scan(&obj, &name, &typ, &mode); err != nil {
			return nil, fmt.Errorf("scan argument: %w", err)
		}
		a := out[obj]
		// the unnamed argument is a function's return value
		if !name.Valid {
			a.returns = strPtr(typ)
		} else {
			a.params = append(a.params, introspect.Parameter{
				Name: name.String,
				Type: typ.String,
				Mode: introspect.ParameterMode(strings.ReplaceAll(mode.String, "/", "")),
			})
		}
		out[obj] = a
	}
	return out, rows.Err()
}

func oracleSource(ctx context.Context, q *sql.DB, schema, name string) (string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT text FROM all_source
		WHERE owner = :1 AND name = :2
		ORDER BY line`, schema, name)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return "", fmt.Errorf("scan source line: %w", err)
		}
		b.WriteString(line)
	}
	return b.String(), rows.Err()
}

func (oracleCatalog) exactStats(ctx context.Context, q *sql.DB, schema, table string) (tableStats, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", quoteDouble(schema), quoteDouble(table))
	if err := q.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return tableStats{}, err
	}
	st := tableStats{rows: &n}
	var size sql.NullInt64
	if err := q.QueryRowContext(ctx, `
		SELECT SUM(bytes) FROM all_segments
		WHERE owner = :1 AND segment_name = :2`, schema, table).Scan(&size); err == nil {
		st.size = int64Ptr(size)
	}
	return st, nil
}

func (oracleCatalog) estimatedStats(ctx context.Context, q *sql.DB, schema, table string) (tableStats, error) {
	var rows, blocks sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT num_rows, blocks
		FROM all_tables
		WHERE owner = :1 AND table_name = :2`, schema, table).Scan(&rows, &blocks)
	if err != nil {
		return tableStats{}, err
	}
	st := tableStats{rows: int64Ptr(rows)}
	if blocks.Valid {
		size := blocks.Int64 * 8192
		st.size = &size
	}
	return st, nil
}

func init() {
	e := newExtractor(oracleCatalog{})
	db.Register("godror", e)
	db.Register("oracle", e)
}
