package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbspelunker/internal/introspect"
)

func TestPromptRender(t *testing.T) {
	p := Prompt{
		Title:        "T",
		Instructions: []string{" a "},
		Output:       "o",
		Supporting:   []Block{{Body: " b \n"}},
		Metadata:     [][2]string{{"k", "v  w"}},
	}
	got, err := p.Render()
	require.NoError(t, err)

	want := strings.Join([]string{
		"# T",
		"## Instructions",
		"* a",
		"## Output",
		"o",
		"## Supporting information",
		"### Item 1",
		"b",
		"## Summary",
		"- **Directive:** T\n- **Instructions:** 1 bullet(s)\n- **Output:** defined\n- **Supporting info:** 1 block(s)",
		`<!-- metadata: k="v w" -->`,
	}, "\n\n")
	assert.Equal(t, want, got)
}

func TestPromptRenderSkipsEmptySections(t *testing.T) {
	got, err := Prompt{Title: "Only", Supporting: []Block{{Title: "Empty", Body: "  "}}}.Render()
	require.NoError(t, err)
	assert.NotContains(t, got, "## Rules")
	assert.NotContains(t, got, "## Mission")
	assert.NotContains(t, got, "<!--")
	assert.NotContains(t, got, " \n")
}

func TestPromptRenderNeedsTitle(t *testing.T) {
	_, err := Prompt{Instructions: []string{"x"}}.Render()
	assert.ErrorIs(t, err, errNoTitle)
}

func TestRolePromptsRender(t *testing.T) {
	ret := "integer"
	o := introspect.DatabaseOverview{
		Name:   "shop",
		Engine: introspect.EnginePostgreSQL,
		Schemas: []introspect.Schema{{
			Name:   "public",
			Tables: []introspect.Table{{Name: "users", Kind: introspect.KindTable}},
		}},
	}
	prompts := []Prompt{
		initiatorPrompt(o),
		explorerPrompt(o.Schemas[0]),
		analyzerPrompt(Focus{Schema: "public"}),
		synthesizerPrompt("{}"),
		tablePrompt(o.Schemas[0].Tables[0], nil),
		triggerPrompt(introspect.Trigger{Name: "trg", Table: "users"}),
		routinePrompt(introspect.StoredRoutine{Name: "f", Schema: "public", ReturnType: &ret,
			Parameters: []introspect.Parameter{{Name: "x", Type: "integer", Mode: introspect.ModeIn}}}),
	}
	for _, p := range prompts {
		text, err := p.Render()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(text, "# "), text)
	}

	text, _ := initiatorPrompt(o).Render()
	assert.Contains(t, text, "- public: 1 table (users), 0 views")
	assert.Contains(t, text, "shop (postgresql unknown)")

	text, _ = analyzerPrompt(Focus{Schema: "public"}).Render()
	assert.Contains(t, text, "indexes\ntriggers\nstored procedures")

	text, _ = prompts[6].Render()
	assert.Contains(t, text, "public.f(IN x integer) returns integer")
}
