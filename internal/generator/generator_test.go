package generator_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentguard/agentguard/internal/generator"
	"github.com/stretchr/testify/require"
)

func TestGenerate_MissingScript(t *testing.T) {
	g := generator.New("/nonexistent/generate_policy.py", "", "")
	_, err := g.Generate(t.Context(), "allow readers to read logs")
	require.Error(t, err)

	var genErr *generator.Error
	require.ErrorAs(t, err, &genErr)
	require.Equal(t, "script_missing", genErr.Reason)
}

func TestGenerate_ParsesValidJSONOutput(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "generate_policy.py")
	require.NoError(t, os.WriteFile(script, []byte(
		"#!/usr/bin/env python3\n"+
			"print('{\"version\": \"1.0.0\", \"name\": \"generated\", \"rules\": []}')\n",
	), 0o755))

	g := generator.New(script, "", "")
	doc, err := g.Generate(t.Context(), "allow readers to read logs")
	require.NoError(t, err)
	require.Equal(t, "generated", doc.Name)
	require.Equal(t, "1.0.0", doc.Version)
}

func TestPolicyDocument_ToCreateDocument_AdaptsToolAndEffect(t *testing.T) {
	doc := generator.PolicyDocument{
		Version:   "2.0.0",
		Name:      "generated-policy",
		CreatedBy: "nl-generator",
		Rules: []generator.GeneratedRule{
			{
				ID:         "r1",
				Roles:      []string{"reader"},
				Tool:       "mcp:read_logs",
				Effect:     "allow",
				Conditions: map[string]any{"limit": map[string]any{"lte": float64(10)}},
			},
		},
		Assumptions: []string{"readers are trusted"},
	}

	created := doc.ToCreateDocument()
	require.Equal(t, "2.0.0", created.Version)
	require.Equal(t, "nl-generator", created.CreatedBy)
	require.Len(t, created.Rules, 1)

	rule, ok := created.Rules[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "mcp:read_logs", rule["tool"])
	require.Equal(t, "ALLOW", rule["effect"])
}

func TestGenerate_InvalidJSONOutput(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "generate_policy.py")
	require.NoError(t, os.WriteFile(script, []byte(
		"#!/usr/bin/env python3\nprint('not json')\n",
	), 0o755))

	g := generator.New(script, "", "")
	_, err := g.Generate(t.Context(), "allow readers to read logs")
	require.Error(t, err)

	var genErr *generator.Error
	require.ErrorAs(t, err, &genErr)
	require.Equal(t, "invalid_json", genErr.Reason)
}
