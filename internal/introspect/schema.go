package introspect

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// EngineKind identifies the database engine behind a connection.
type EngineKind string

const (
	EnginePostgreSQL EngineKind = "postgresql"
	EngineMySQL      EngineKind = "mysql"
	EngineSQLite     EngineKind = "sqlite"
	EngineSQLServer  EngineKind = "sqlserver"
	EngineOracle     EngineKind = "oracle"
)

type TableKind string

const (
	KindTable TableKind = "table"
	KindView  TableKind = "view"
)

type ConstraintKind string

const (
	ConstraintPrimaryKey ConstraintKind = "primary_key"
	ConstraintForeignKey ConstraintKind = "foreign_key"
	ConstraintUnique     ConstraintKind = "unique"
	ConstraintCheck      ConstraintKind = "check"
	ConstraintNotNull    ConstraintKind = "not_null"
	ConstraintDefault    ConstraintKind = "default"
)

type IndexKind string

const (
	IndexPrimary  IndexKind = "primary"
	IndexUnique   IndexKind = "unique"
	IndexBTree    IndexKind = "btree"
	IndexHash     IndexKind = "hash"
	IndexGIN      IndexKind = "gin"
	IndexGiST     IndexKind = "gist"
	IndexFulltext IndexKind = "fulltext"
	IndexGeneric  IndexKind = "index"
)

type TriggerEvent string

const (
	EventInsert   TriggerEvent = "insert"
	EventUpdate   TriggerEvent = "update"
	EventDelete   TriggerEvent = "delete"
	EventTruncate TriggerEvent = "truncate"
)

type TriggerTiming string

const (
	TimingBefore    TriggerTiming = "before"
	TimingAfter     TriggerTiming = "after"
	TimingInsteadOf TriggerTiming = "instead_of"
)

type ParameterMode string

const (
	ModeIn    ParameterMode = "IN"
	ModeOut   ParameterMode = "OUT"
	ModeInOut ParameterMode = "INOUT"
)

// Column represents a table column.
type Column struct {
	Name          string     `json:"name"`
	DataType      ColumnType `json:"data_type"`
	RawType       string     `json:"raw_type,omitempty"`
	Nullable      bool       `json:"is_nullable"`
	Default       *string    `json:"default_value,omitempty"`
	MaxLength     *int       `json:"max_length,omitempty"`
	Precision     *int       `json:"precision,omitempty"`
	Scale         *int       `json:"scale,omitempty"`
	IsPrimaryKey  bool       `json:"is_primary_key"`
	IsForeignKey  bool       `json:"is_foreign_key"`
	ForeignTable  *string    `json:"foreign_key_table,omitempty"`
	ForeignColumn *string    `json:"foreign_key_column,omitempty"`
	Comment       *string    `json:"comment,omitempty"`
}

// Validate checks that the foreign-key flag agrees with the target fields.
func (c Column) Validate() error {
	hasTarget := c.ForeignTable != nil && c.ForeignColumn != nil
	if c.IsForeignKey != hasTarget {
		return fmt.Errorf("column %s: foreign key flag %v with target present %v", c.Name, c.IsForeignKey, hasTarget)
	}
	return nil
}

// Constraint represents a table constraint.
type Constraint struct {
	Name              string         `json:"name"`
	Kind              ConstraintKind `json:"constraint_type"`
	Columns           []string       `json:"columns"`
	ReferencedTable   *string        `json:"referenced_table,omitempty"`
	ReferencedColumns []string       `json:"referenced_columns,omitempty"`
	OnDelete          *string        `json:"on_delete,omitempty"`
	OnUpdate          *string        `json:"on_update,omitempty"`
	CheckClause       *string        `json:"check_clause,omitempty"`
}

func (c Constraint) Validate() error {
	if c.Kind != ConstraintForeignKey && (c.ReferencedTable != nil || len(c.ReferencedColumns) > 0) {
		return fmt.Errorf("constraint %s: references on a %s constraint", c.Name, c.Kind)
	}
	if c.Kind != ConstraintCheck && c.CheckClause != nil {
		return fmt.Errorf("constraint %s: check clause on a %s constraint", c.Name, c.Kind)
	}
	return nil
}

// Index represents a table index.
type Index struct {
	Name      string    `json:"name"`
	Table     string    `json:"table_name"`
	Kind      IndexKind `json:"index_type"`
	Columns   []string  `json:"columns"`
	Unique    bool      `json:"is_unique"`
	Primary   bool      `json:"is_primary"`
	Clustered bool      `json:"is_clustered"`
	SizeBytes *int64    `json:"size_bytes,omitempty"`
}

func (i Index) Validate() error {
	if i.Primary && !i.Unique {
		return fmt.Errorf("index %s: primary but not unique", i.Name)
	}
	return nil
}

// Trigger represents a table trigger.
type Trigger struct {
	Name       string        `json:"name"`
	Table      string        `json:"table_name"`
	Event      TriggerEvent  `json:"event"`
	Timing     TriggerTiming `json:"timing"`
	Definition string        `json:"definition"`
	Enabled    bool          `json:"is_enabled"`
	Summary    *string       `json:"ai_summary,omitempty"`
}

// WithSummary returns a copy of t carrying summary. Blank text leaves the
// field absent.
func (t Trigger) WithSummary(summary string) Trigger {
	t.Summary = optional(summary)
	return t
}

// Parameter is one argument of a stored routine.
type Parameter struct {
	Name string        `json:"name"`
	Type string        `json:"type"`
	Mode ParameterMode `json:"mode"`
}

// StoredRoutine represents a stored procedure or function.
type StoredRoutine struct {
	Name          string      `json:"name"`
	Schema        string      `json:"schema_name"`
	Parameters    []Parameter `json:"parameters"`
	ReturnType    *string     `json:"return_type,omitempty"`
	Definition    string      `json:"definition"`
	Language      string      `json:"language"`
	Deterministic bool        `json:"is_deterministic"`
	SecurityType  string      `json:"security_type"`
	Summary       *string     `json:"ai_summary,omitempty"`
}

// WithSummary returns a copy of r carrying summary. Blank text leaves the
// field absent.
func (r StoredRoutine) WithSummary(summary string) StoredRoutine {
	r.Summary = optional(summary)
	return r
}

// Table represents a table or view and everything hanging off it.
type Table struct {
	Name                string       `json:"name"`
	Schema              string       `json:"schema_name"`
	Kind                TableKind    `json:"kind"`
	Columns             []Column     `json:"columns"`
	Constraints         []Constraint `json:"constraints"`
	Indexes             []Index      `json:"indexes"`
	Triggers            []Trigger    `json:"triggers"`
	RowCount            *int64       `json:"row_count,omitempty"`
	SizeBytes           *int64       `json:"size_bytes,omitempty"`
	Comment             *string      `json:"comment,omitempty"`
	Summary             *string      `json:"ai_summary,omitempty"`
	RelationshipSummary *string      `json:"relationship_summary,omitempty"`
}

// WithSummary returns a copy of t carrying the AI-authored fields. Blank
// text leaves the matching field absent.
func (t Table) WithSummary(summary, relationships string) Table {
	t.Summary = optional(summary)
	t.RelationshipSummary = optional(relationships)
	return t
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// WithTriggers returns a copy of t whose trigger list is a fresh copy of triggers.
func (t Table) WithTriggers(triggers []Trigger) Table {
	t.Triggers = slices.Clone(triggers)
	return t
}

// PrimaryKey returns the names of the primary-key columns in column order.
func (t Table) PrimaryKey() []string {
	var pk []string
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			pk = append(pk, c.Name)
		}
	}
	return pk
}

func (t Table) Validate() error {
	var errs []error
	for _, c := range t.Columns {
		errs = append(errs, c.Validate())
	}
	for _, c := range t.Constraints {
		errs = append(errs, c.Validate())
	}
	for _, i := range t.Indexes {
		errs = append(errs, i.Validate())
	}
	return errors.Join(errs...)
}

// Relationship is one foreign-key edge between two tables.
type Relationship struct {
	SourceTable    string           `json:"source_table"`
	SourceColumn   string           `json:"source_column"`
	TargetTable    string           `json:"target_table"`
	TargetColumn   string           `json:"target_column"`
	ConstraintName string           `json:"constraint_name"`
	Type           RelationshipType `json:"relationship_type"`
	OnDelete       *string          `json:"on_delete,omitempty"`
	OnUpdate       *string          `json:"on_update,omitempty"`
}

// Schema groups the objects of one database schema.
type Schema struct {
	Name          string          `json:"name"`
	Tables        []Table         `json:"tables"`
	Views         []Table         `json:"views"`
	Routines      []StoredRoutine `json:"stored_procedures"`
	Relationships []Relationship  `json:"relationships"`
	Description   *string         `json:"description,omitempty"`
}

// FindTable looks a table or view up by name.
func (s Schema) FindTable(name string) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	for _, v := range s.Views {
		if v.Name == name {
			return v, true
		}
	}
	return Table{}, false
}

// TableNames returns the names of the schema's tables in order.
func (s Schema) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}
