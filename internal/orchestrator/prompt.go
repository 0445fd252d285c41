package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// Block is one titled piece of supporting material in a prompt.
type Block struct {
	Title string
	Body  string
}

// Prompt is the markdown document handed to a role. Empty sections are
// left out of the rendering.
type Prompt struct {
	Title        string
	Mission      []string
	Instructions []string
	Rules        []string
	Output       string
	Supporting   []Block
	Metadata     [][2]string
}

var errNoTitle = errors.New("prompt has no title")

func (p Prompt) Render() (string, error) {
	if strings.TrimSpace(p.Title) == "" {
		return "", errNoTitle
	}
	parts := []string{"# " + clean(p.Title)}
	if len(p.Mission) > 0 {
		parts = append(parts, "## Mission", bullets(p.Mission))
	}
	if len(p.Instructions) > 0 {
		parts = append(parts, "## Instructions", bullets(p.Instructions))
	}
	if len(p.Rules) > 0 {
		parts = append(parts, "## Rules", bullets(p.Rules))
	}
	if out := strings.TrimSpace(p.Output); out != "" {
		parts = append(parts, "## Output", out)
	}
	if len(p.Supporting) > 0 {
		parts = append(parts, "## Supporting information")
		for i, b := range p.Supporting {
			title := clean(b.Title)
			if title == "" {
				title = fmt.Sprintf("Item %d", i+1)
			}
			parts = append(parts, "### "+title, strings.TrimSpace(b.Body))
		}
	}
	parts = append(parts, "## Summary", p.summary())
	if len(p.Metadata) > 0 {
		kv := make([]string, len(p.Metadata))
		for i, m := range p.Metadata {
			kv[i] = fmt.Sprintf("%s=%q", strings.Join(strings.Fields(m[0]), " "), strings.Join(strings.Fields(m[1]), " "))
		}
		parts = append(parts, "<!-- metadata: "+strings.Join(kv, " ")+" -->")
	}

	var kept []string
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			kept = append(kept, part)
		}
	}
	lines := strings.Split(strings.Join(kept, "\n\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.Join(lines, "\n"), nil
}

func (p Prompt) summary() string {
	lines := []string{"- **Directive:** " + clean(p.Title)}
	if n := len(p.Instructions); n > 0 {
		lines = append(lines, fmt.Sprintf("- **Instructions:** %d bullet(s)", n))
	}
	if n := len(p.Rules); n > 0 {
		lines = append(lines, fmt.Sprintf("- **Rules:** %d constraint(s)", n))
	}
	if strings.TrimSpace(p.Output) != "" {
		lines = append(lines, "- **Output:** defined")
	}
	if n := len(p.Supporting); n > 0 {
		lines = append(lines, fmt.Sprintf("- **Supporting info:** %d block(s)", n))
	}
	return strings.Join(lines, "\n")
}

func bullets(items []string) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "* " + clean(it)
	}
	return strings.Join(lines, "\n")
}

func clean(s string) string {
	return strings.TrimSpace(s)
}
