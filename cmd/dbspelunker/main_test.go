package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbspelunker/internal/introspect"
	"dbspelunker/internal/report"
)

func TestEncode(t *testing.T) {
	tab := introspect.Table{Name: "users", Schema: "main", Kind: introspect.KindTable}

	var buf bytes.Buffer
	require.NoError(t, encode(&buf, "json", tab))
	assert.Contains(t, buf.String(), `"schema_name": "main"`)

	buf.Reset()
	require.NoError(t, encode(&buf, "yaml", tab))
	assert.Contains(t, buf.String(), "schema_name: main\n")
	assert.NotContains(t, buf.String(), "Schema:")

	buf.Reset()
	assert.Error(t, encode(&buf, "markdown", tab))
	assert.Error(t, encode(&buf, "xml", tab))

	buf.Reset()
	rep := report.Assemble(introspect.DatabaseOverview{Name: "shop"}, report.Narrative{ExecutiveSummary: "x"}, report.Meta{})
	require.NoError(t, encode(&buf, "markdown", rep))
	assert.Contains(t, buf.String(), "# shop\n")
}
