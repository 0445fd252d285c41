package extractors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dbspelunker/internal/db"
	"dbspelunker/internal/introspect"
)

// mysqlCatalog treats each MySQL database as a schema.
type mysqlCatalog struct {
	infoSchema
}

func newMySQLCatalog() mysqlCatalog {
	return mysqlCatalog{infoSchema{
		kind:          introspect.EngineMySQL,
		binds:         bindQuestion,
		quote:         quoteBacktick,
		system:        []string{"information_schema", "mysql", "performance_schema", "sys"},
		columnType:    "column_type",
		columnComment: "column_comment",
		tableComment:  "table_comment",
		security:      "security_type",
	}}
}

func (c mysqlCatalog) databaseInfo(ctx context.Context, q *sql.DB) (dbInfo, error) {
	var info dbInfo
	var name, version, charset, collation sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT DATABASE(), VERSION(), @@character_set_database, @@collation_database`).
		Scan(&name, &version, &charset, &collation)
	if err != nil {
		return info, err
	}
	info.name = name.String
	info.version, info.charset, info.collation = strPtr(version), strPtr(charset), strPtr(collation)

	var size sql.NullInt64
	if err := q.QueryRowContext(ctx, `
		SELECT SUM(data_length + index_length)
		FROM information_schema.tables
		WHERE table_schema = DATABASE()`).Scan(&size); err == nil {
		info.size = int64Ptr(size)
	}
	return info, nil
}

// foreignKeys reads the referenced columns straight from key_column_usage;
// MySQL names every primary key PRIMARY, so joining on the unique
// constraint name would be ambiguous.
func (c mysqlCatalog) foreignKeys(ctx context.Context, q *sql.DB, schema, table string) ([]rawForeignKey, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT k.constraint_name, k.column_name, k.referenced_table_name, k.referenced_column_name,
		       rc.update_rule, rc.delete_rule
		FROM information_schema.key_column_usage k
		JOIN information_schema.referential_constraints rc
		  ON rc.constraint_schema = k.constraint_schema
		 AND rc.constraint_name = k.constraint_name
		 AND rc.table_name = k.table_name
		WHERE k.table_schema = ? AND k.table_name = ? AND k.referenced_table_name IS NOT NULL
		ORDER BY k.constraint_name, k.ordinal_position`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanForeignKeys(rows)
}

func (c mysqlCatalog) indexes(ctx context.Context, q *sql.DB, schema, table string) ([]rawIndex, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT s.index_name, s.non_unique, s.index_type, s.column_name, t.engine
		FROM information_schema.statistics s
		JOIN information_schema.tables t
		  ON t.table_schema = s.table_schema AND t.table_name = s.table_name
		WHERE s.table_schema = ? AND s.table_name = ?
		ORDER BY s.index_name, s.seq_in_index`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rawIndex
	for rows.Next() {
		var name, method string
		var nonUnique int64
		var col, engine sql.NullString
		if err := rows.Scan(&name, &nonUnique, &method, &col, &engine); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		if n := len(out); n > 0 && out[n-1].name == name {
			if col.Valid {
				out[n-1].columns = append(out[n-1].columns, col.String)
			}
			continue
		}
		r := rawIndex{
			name:    name,
			method:  method,
			columns: []string{},
			unique:  nonUnique == 0,
			// InnoDB stores rows in primary key order
			clustered: name == "PRIMARY" && strings.EqualFold(engine.String, "InnoDB"),
		}
		if col.Valid {
			r.columns = append(r.columns, col.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c mysqlCatalog) exactStats(ctx context.Context, q *sql.DB, schema, table string) (tableStats, error) {
	st, err := c.infoSchema.exactStats(ctx, q, schema, table)
	if err != nil {
		return st, err
	}
	var size sql.NullInt64
	if err := q.QueryRowContext(ctx, `
		SELECT data_length + index_length
		FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?`, schema, table).Scan(&size); err == nil {
		st.size = int64Ptr(size)
	}
	return st, nil
}

func (c mysqlCatalog) estimatedStats(ctx context.Context, q *sql.DB, schema, table string) (tableStats, error) {
	var rows, size sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT table_rows, data_length + index_length
		FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?`, schema, table).Scan(&rows, &size)
	if err != nil {
		return tableStats{}, err
	}
	return tableStats{rows: int64Ptr(rows), size: int64Ptr(size)}, nil
}

func init() {
	e := newExtractor(newMySQLCatalog())
	db.Register("mysql", e)
	db.Register("mariadb", e)
}
