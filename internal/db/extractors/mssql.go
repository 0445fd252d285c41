package extractors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dbspelunker/internal/db"
	"dbspelunker/internal/introspect"
)

// mssqlCatalog is the SQL Server catalog. Comments come from the
// MS_Description extended property.
type mssqlCatalog struct {
	infoSchema
}

func newMSSQLCatalog() mssqlCatalog {
	return mssqlCatalog{infoSchema{
		kind:  introspect.EngineSQLServer,
		binds: bindAtP,
		quote: quoteBracket,
		system: []string{
			"sys", "INFORMATION_SCHEMA", "guest",
			"db_owner", "db_accessadmin", "db_securityadmin", "db_ddladmin",
			"db_backupoperator", "db_datareader", "db_datawriter",
			"db_denydatareader", "db_denydatawriter",
		},
		columnType:    "data_type",
		columnComment: "NULL",
		tableComment:  "NULL",
		security:      "NULL",
	}}
}

func (c mssqlCatalog) databaseInfo(ctx context.Context, q *sql.DB) (dbInfo, error) {
	var info dbInfo
	var version, collation sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT DB_NAME(), @@VERSION, CONVERT(nvarchar(128), DATABASEPROPERTYEX(DB_NAME(), 'Collation'))`).
		Scan(&info.name, &version, &collation)
	if err != nil {
		return info, err
	}
	if version.Valid {
		// first line only; the rest is build and OS detail
		v, _, _ := strings.Cut(version.String, "\n")
		v = strings.TrimSpace(v)
		info.version = &v
	}
	info.collation = strPtr(collation)

	var size sql.NullInt64
	if err := q.QueryRowContext(ctx,
		`SELECT SUM(CAST(size AS bigint)) * 8192 FROM sys.database_files`).Scan(&size); err == nil {
		info.size = int64Ptr(size)
	}
	return info, nil
}

func (c mssqlCatalog) relationInfo(ctx context.Context, q *sql.DB, schema, table string) (relationInfo, error) {
	var typ string
	var comment sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT o.type, CAST(sep.value AS nvarchar(max))
		FROM sys.objects o
		JOIN sys.schemas s ON s.schema_id = o.schema_id
		LEFT JOIN sys.extended_properties sep
		  ON sep.major_id = o.object_id
		 AND sep.minor_id = 0
		 AND sep.name = 'MS_Description'
		WHERE s.name = @p1 AND o.name = @p2 AND o.type IN ('U', 'V')`, schema, table).Scan(&typ, &comment)
	if err != nil {
		return relationInfo{}, err
	}
	info := relationInfo{kind: introspect.KindTable, comment: strPtr(comment)}
	if strings.TrimSpace(typ) == "V" {
		info.kind = introspect.KindView
	}
	return info, nil
}

func (c mssqlCatalog) foreignKeys(ctx context.Context, q *sql.DB, schema, table string) ([]rawForeignKey, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT fk.name, pc.name, OBJECT_NAME(fkc.referenced_object_id), rc.name,
		       REPLACE(fk.update_referential_action_desc, '_', ' '),
		       REPLACE(fk.delete_referential_action_desc, '_', ' ')
		FROM sys.foreign_keys fk
		JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
		JOIN sys.columns pc ON fkc.parent_object_id = pc.object_id AND fkc.parent_column_id = pc.column_id
		JOIN sys.columns rc ON fkc.referenced_object_id = rc.object_id AND fkc.referenced_column_id = rc.column_id
		WHERE OBJECT_SCHEMA_NAME(fk.parent_object_id) = @p1 AND OBJECT_NAME(fk.parent_object_id) = @p2
		ORDER BY fk.name, fkc.constraint_column_id`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanForeignKeys(rows)
}

func (c mssqlCatalog) indexes(ctx context.Context, q *sql.DB, schema, table string) ([]rawIndex, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT i.name, i.type_desc, i.is_unique, col.name,
		       (SELECT SUM(CAST(au.used_pages AS bigint)) * 8192
		        FROM sys.partitions p
		        JOIN sys.allocation_units au ON au.container_id = p.hobt_id
		        WHERE p.object_id = i.object_id AND p.index_id = i.index_id)
		FROM sys.indexes i
		JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
		JOIN sys.columns col ON col.object_id = ic.object_id AND col.column_id = ic.column_id
		WHERE OBJECT_SCHEMA_NAME(i.object_id) = @p1 AND OBJECT_NAME(i.object_id) = @p2
		  AND i.name IS NOT NULL AND ic.is_included_column = 0
		ORDER BY i.name, ic.key_ordinal`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rawIndex
	for rows.Next() {
		var name, typeDesc, col string
		var unique bool
		var size sql.NullInt64
		if err := rows.Scan(&name, &typeDesc, &unique, &col, &size); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		if n := len(out); n > 0 && out[n-1].name == name {
			out[n-1].columns = append(out[n-1].columns, col)
			continue
		}
		method := strings.ToLower(typeDesc)
		out = append(out, rawIndex{
			name:      name,
			method:    method,
			columns:   []string{col},
			unique:    unique,
			clustered: method == "clustered",
			size:      int64Ptr(size),
		})
	}
	return out, rows.Err()
}

func (c mssqlCatalog) triggers(ctx context.Context, q *sql.DB, schema, table string) ([]introspect.Trigger, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT tr.name, te.type_desc, tr.is_instead_of_trigger, tr.is_disabled, OBJECT_DEFINITION(tr.object_id)
		FROM sys.triggers tr
		JOIN sys.trigger_events te ON te.object_id = tr.object_id
		WHERE OBJECT_SCHEMA_NAME(tr.parent_id) = @p1 AND OBJECT_NAME(tr.parent_id) = @p2
		ORDER BY tr.name`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []introspect.Trigger{}
	seen := map[string]bool{}
	for rows.Next() {
		var name, event string
		var insteadOf, disabled bool
		var def sql.NullString
		if err := rows.Scan(&name, &event, &insteadOf, &disabled, &def); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		timing := introspect.TimingAfter
		if insteadOf {
			timing = introspect.TimingInsteadOf
		}
		out = append(out, introspect.Trigger{
			Name:       name,
			Table:      table,
			Event:      triggerEvent(event),
			Timing:     timing,
			Definition: def.String,
			Enabled:    !disabled,
		})
	}
	return out, rows.Err()
}

// exactStats counts rows and sums used pages of every allocation unit.
func (c mssqlCatalog) exactStats(ctx context.Context, q *sql.DB, schema, table string) (tableStats, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s.%s", quoteBracket(schema), quoteBracket(table))
	if err := q.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return tableStats{}, err
	}
	st := tableStats{rows: &n}
	var pages sql.NullInt64
	if err := q.QueryRowContext(ctx, `
		SELECT SUM(CAST(au.used_pages AS bigint))
		FROM sys.partitions p
		JOIN sys.allocation_units au ON au.container_id = p.hobt_id
		WHERE p.object_id = OBJECT_ID(@p1)`, schema+"."+table).Scan(&pages); err == nil && pages.Valid {
		size := pages.Int64 * 8192
		st.size = &size
	}
	return st, nil
}

func (c mssqlCatalog) estimatedStats(ctx context.Context, q *sql.DB, schema, table string) (tableStats, error) {
	var n sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT SUM(p.rows)
		FROM sys.partitions p
		WHERE p.object_id = OBJECT_ID(@p1) AND p.index_id IN (0, 1)`, schema+"."+table).Scan(&n)
	if err != nil {
		return tableStats{}, err
	}
	return tableStats{rows: int64Ptr(n)}, nil
}

func init() {
	e := newExtractor(newMSSQLCatalog())
	db.Register("sqlserver", e)
	db.Register("mssql", e)
}
