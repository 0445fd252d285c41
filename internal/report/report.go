// Package report folds an analysed database into the final documentation
// value. Nothing here does I/O; the same inputs always give the same report.
package report

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"dbspelunker/internal/introspect"
)

// Narrative is the prose the synthesizing role writes about the analysis.
type Narrative struct {
	ExecutiveSummary       string   `json:"executive_summary" jsonschema:"description=Two or three paragraphs on what the database is for and how it is organised"`
	RelationshipAnalysis   string   `json:"relationship_analysis" jsonschema:"description=How the tables relate and which entities are central"`
	IndexAnalysis          string   `json:"index_analysis" jsonschema:"description=How well the indexes serve the likely access paths"`
	PerformanceInsights    []string `json:"performance_insights"`
	SecurityConsiderations []string `json:"security_considerations"`
	Recommendations        []string `json:"recommendations"`
}

func (n Narrative) Validate() error {
	if strings.TrimSpace(n.ExecutiveSummary) == "" {
		return errors.New("executive_summary is empty")
	}
	return nil
}

// Meta describes the run that produced a report.
type Meta struct {
	RunID               string
	Model               string
	AnalysisPlan        string
	NextActions         []string
	EnhancementFailures int
	GeneratedAt         time.Time
}

// TableDoc is the documentation entry of one table or view.
type TableDoc struct {
	Schema              string  `json:"schema_name"`
	Name                string  `json:"name"`
	Kind                string  `json:"kind"`
	Columns             int     `json:"columns"`
	Constraints         int     `json:"constraints"`
	Indexes             int     `json:"indexes"`
	Triggers            int     `json:"triggers"`
	RowCount            *int64  `json:"row_count,omitempty"`
	Size                string  `json:"size"`
	Comment             *string `json:"comment,omitempty"`
	Summary             *string `json:"ai_summary,omitempty"`
	RelationshipSummary *string `json:"relationship_summary,omitempty"`
}

type Report struct {
	Overview               introspect.DatabaseOverview `json:"database_overview"`
	ExecutiveSummary       string                      `json:"executive_summary"`
	TableDocumentation     []TableDoc                  `json:"table_documentation"`
	Relationships          []string                    `json:"relationships"`
	Indexes                []string                    `json:"indexes"`
	RelationshipAnalysis   string                      `json:"relationship_analysis"`
	IndexAnalysis          string                      `json:"index_analysis"`
	PerformanceInsights    []string                    `json:"performance_insights"`
	SecurityConsiderations []string                    `json:"security_considerations"`
	Recommendations        []string                    `json:"recommendations"`
	TotalColumns           int                         `json:"total_columns"`
	TotalConstraints       int                         `json:"total_constraints"`
	GeneratedAt            time.Time                   `json:"generated_at"`
	GenerationMetadata     map[string]string           `json:"generation_metadata"`
}

// Assemble builds the report. The overview is finalized first so that its
// totals always match its schemas.
func Assemble(overview introspect.DatabaseOverview, n Narrative, meta Meta) Report {
	o := overview.Finalize()
	r := Report{
		Overview:             o,
		TableDocumentation:   tableDocs(o),
		Relationships:        relationshipLines(o),
		Indexes:              indexLines(o),
		RelationshipAnalysis: n.RelationshipAnalysis,
		IndexAnalysis:        n.IndexAnalysis,
		GeneratedAt:          meta.GeneratedAt,
	}
	for _, d := range r.TableDocumentation {
		r.TotalColumns += d.Columns
		r.TotalConstraints += d.Constraints
	}

	r.ExecutiveSummary = executiveSummary(o, len(r.Relationships), n.ExecutiveSummary)
	if r.RelationshipAnalysis == "" {
		r.RelationshipAnalysis = fmt.Sprintf("%s across %s.",
			plural(len(r.Relationships), "relationship"), plural(o.TotalTables, "table"))
	}
	if r.IndexAnalysis == "" {
		r.IndexAnalysis = fmt.Sprintf("%s defined.", plural(len(r.Indexes), "index"))
	}

	r.PerformanceInsights = append([]string{performanceInsight(o)}, n.PerformanceInsights...)
	r.SecurityConsiderations = append([]string{securityInsight(o)}, n.SecurityConsiderations...)
	r.Recommendations = append([]string{recommendation(o)}, n.Recommendations...)

	r.GenerationMetadata = map[string]string{
		"run_id":               meta.RunID,
		"model":                meta.Model,
		"engine":               string(o.Engine),
		"enhancement_failures": strconv.Itoa(meta.EnhancementFailures),
	}
	if meta.AnalysisPlan != "" {
		r.GenerationMetadata["analysis_plan"] = meta.AnalysisPlan
	}
	if len(meta.NextActions) > 0 {
		r.GenerationMetadata["next_actions"] = strings.Join(meta.NextActions, "; ")
	}
	return r
}

func executiveSummary(o introspect.DatabaseOverview, rels int, prose string) string {
	s := fmt.Sprintf("Database %s (%s) has %s, %s, %s, %s and %s in %s, with %s.",
		o.Name, o.Engine,
		plural(o.TotalTables, "table"),
		plural(o.TotalViews, "view"),
		plural(o.TotalRoutines, "stored procedure"),
		plural(o.TotalTriggers, "trigger"),
		plural(o.TotalIndexes, "index"),
		plural(len(o.Schemas), "schema"),
		plural(rels, "relationship"))
	if prose = strings.TrimSpace(prose); prose != "" {
		s += "\n\n" + prose
	}
	return s
}

func plural(n int, noun string) string {
	switch {
	case n == 1:
		return "1 " + noun
	case strings.HasSuffix(noun, "x"), strings.HasSuffix(noun, "s"):
		return fmt.Sprintf("%d %ses", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func tableDocs(o introspect.DatabaseOverview) []TableDoc {
	docs := []TableDoc{}
	for _, s := range o.Schemas {
		for _, t := range slices.Concat(s.Tables, s.Views) {
			docs = append(docs, TableDoc{
				Schema:              s.Name,
				Name:                t.Name,
				Kind:                string(t.Kind),
				Columns:             len(t.Columns),
				Constraints:         len(t.Constraints),
				Indexes:             len(t.Indexes),
				Triggers:            len(t.Triggers),
				RowCount:            t.RowCount,
				Size:                FormatSize(t.SizeBytes),
				Comment:             t.Comment,
				Summary:             t.Summary,
				RelationshipSummary: t.RelationshipSummary,
			})
		}
	}
	slices.SortStableFunc(docs, func(a, b TableDoc) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Schema, b.Schema))
	})
	return docs
}

// FormatSize renders a byte count for people; unknown sizes read "Unknown".
func FormatSize(b *int64) string {
	if b == nil || *b <= 0 {
		return "Unknown"
	}
	return humanize.IBytes(uint64(*b))
}

func relationshipLines(o introspect.DatabaseOverview) []string {
	var rels []introspect.Relationship
	for _, s := range o.Schemas {
		rels = append(rels, s.Relationships...)
	}
	slices.SortStableFunc(rels, func(a, b introspect.Relationship) int {
		return cmp.Or(
			cmp.Compare(a.SourceTable, b.SourceTable),
			cmp.Compare(a.ConstraintName, b.ConstraintName),
			cmp.Compare(a.SourceColumn, b.SourceColumn))
	})
	lines := make([]string, 0, len(rels))
	for _, r := range rels {
		line := fmt.Sprintf("%s.%s -> %s.%s (%s, %s", r.SourceTable, r.SourceColumn, r.TargetTable, r.TargetColumn, r.ConstraintName, r.Type)
		if r.OnDelete != nil {
			line += ", ON DELETE " + *r.OnDelete
		}
		lines = append(lines, line+")")
	}
	return lines
}

func indexLines(o introspect.DatabaseOverview) []string {
	var idx []introspect.Index
	for _, s := range o.Schemas {
		for _, t := range slices.Concat(s.Tables, s.Views) {
			idx = append(idx, t.Indexes...)
		}
	}
	slices.SortStableFunc(idx, func(a, b introspect.Index) int {
		return cmp.Or(cmp.Compare(a.Table, b.Table), cmp.Compare(a.Name, b.Name))
	})
	lines := make([]string, 0, len(idx))
	for _, i := range idx {
		lines = append(lines, fmt.Sprintf("%s.%s (%s on %s)", i.Table, i.Name, i.Kind, strings.Join(i.Columns, ", ")))
	}
	return lines
}

// performanceInsight counts foreign-key columns that do not lead any index
// of their table.
func performanceInsight(o introspect.DatabaseOverview) string {
	var missing []string
	for _, s := range o.Schemas {
		for _, r := range s.Relationships {
			t, ok := s.FindTable(r.SourceTable)
			if !ok || leadsIndex(t, r.SourceColumn) {
				continue
			}
			missing = append(missing, r.SourceTable+"."+r.SourceColumn)
		}
	}
	if len(missing) == 0 {
		return "Every foreign-key column leads at least one index."
	}
	slices.Sort(missing)
	return fmt.Sprintf("%s without a supporting index: %s.",
		plural(len(missing), "foreign-key column"), strings.Join(slices.Compact(missing), ", "))
}

func leadsIndex(t introspect.Table, col string) bool {
	for _, i := range t.Indexes {
		if len(i.Columns) > 0 && i.Columns[0] == col {
			return true
		}
	}
	// single-column integer primary keys in SQLite are the rowid, with no index
	pk := t.PrimaryKey()
	return len(pk) > 0 && pk[0] == col
}

func securityInsight(o introspect.DatabaseOverview) string {
	var definer []string
	for _, s := range o.Schemas {
		for _, r := range s.Routines {
			if strings.EqualFold(r.SecurityType, "DEFINER") {
				definer = append(definer, s.Name+"."+r.Name)
			}
		}
	}
	if len(definer) == 0 {
		return "No stored procedures run with definer rights."
	}
	slices.Sort(definer)
	return fmt.Sprintf("Stored procedures with definer rights (%d): %s. Review what they grant to callers.",
		len(definer), strings.Join(definer, ", "))
}

func recommendation(o introspect.DatabaseOverview) string {
	var noPK []string
	for _, s := range o.Schemas {
		for _, t := range s.Tables {
			if len(t.PrimaryKey()) == 0 {
				noPK = append(noPK, s.Name+"."+t.Name)
			}
		}
	}
	if len(noPK) == 0 {
		return "Every table has a primary key."
	}
	slices.Sort(noPK)
	return fmt.Sprintf("Add a primary key to %s: %s.", plural(len(noPK), "table"), strings.Join(noPK, ", "))
}
