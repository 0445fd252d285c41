package report

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// WriteMarkdown renders r as a Markdown document. Absent optional fields
// are skipped.
func WriteMarkdown(w io.Writer, r Report) error {
	var b strings.Builder
	o := r.Overview

	fmt.Fprintf(&b, "# %s\n\n", o.Name)
	fmt.Fprintf(&b, "_%s", o.Engine)
	if o.Version != nil {
		fmt.Fprintf(&b, " %s", *o.Version)
	}
	fmt.Fprintf(&b, ", generated %s_\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05 MST"))

	b.WriteString("## Executive summary\n\n")
	b.WriteString(r.ExecutiveSummary + "\n\n")

	b.WriteString("## Overview\n\n| Metric | Value |\n|---|---|\n")
	for _, row := range [][2]string{
		{"Schemas", strconv.Itoa(len(o.Schemas))},
		{"Tables", strconv.Itoa(o.TotalTables)},
		{"Views", strconv.Itoa(o.TotalViews)},
		{"Stored procedures", strconv.Itoa(o.TotalRoutines)},
		{"Triggers", strconv.Itoa(o.TotalTriggers)},
		{"Indexes", strconv.Itoa(o.TotalIndexes)},
		{"Columns", strconv.Itoa(r.TotalColumns)},
		{"Constraints", strconv.Itoa(r.TotalConstraints)},
		{"Size", FormatSize(o.SizeBytes)},
	} {
		fmt.Fprintf(&b, "| %s | %s |\n", row[0], row[1])
	}
	b.WriteString("\n")

	for _, s := range o.Schemas {
		if s.Description != nil {
			fmt.Fprintf(&b, "### Schema %s\n\n%s\n\n", s.Name, *s.Description)
		}
	}

	if len(r.TableDocumentation) > 0 {
		b.WriteString("## Tables\n\n")
		for _, d := range r.TableDocumentation {
			fmt.Fprintf(&b, "### %s.%s (%s)\n\n", d.Schema, d.Name, d.Kind)
			fmt.Fprintf(&b, "%d columns, %d constraints, %d indexes, %d triggers; size %s",
				d.Columns, d.Constraints, d.Indexes, d.Triggers, d.Size)
			if d.RowCount != nil {
				fmt.Fprintf(&b, "; %d rows", *d.RowCount)
			}
			b.WriteString(".\n\n")
			for _, text := range []*string{d.Comment, d.Summary, d.RelationshipSummary} {
				if text != nil && *text != "" {
					b.WriteString(*text + "\n\n")
				}
			}
		}
	}

	section(&b, "Relationships", r.RelationshipAnalysis, r.Relationships)
	section(&b, "Indexes", r.IndexAnalysis, r.Indexes)
	section(&b, "Performance insights", "", r.PerformanceInsights)
	section(&b, "Security considerations", "", r.SecurityConsiderations)
	section(&b, "Recommendations", "", r.Recommendations)

	if len(r.GenerationMetadata) > 0 {
		b.WriteString("## Generation\n\n")
		for _, k := range slices.Sorted(maps.Keys(r.GenerationMetadata)) {
			fmt.Fprintf(&b, "- %s: %s\n", k, r.GenerationMetadata[k])
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func section(b *strings.Builder, title, text string, items []string) {
	if text == "" && len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	if text != "" {
		b.WriteString(text + "\n\n")
	}
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	if len(items) > 0 {
		b.WriteString("\n")
	}
}
