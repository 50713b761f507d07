// Package generator runs the external natural-language-to-policy
// generator script as a subprocess and validates its output before it
// reaches the policy store, per spec §6.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/agentguard/agentguard/internal/policy"
)

const runTimeout = 60 * time.Second

// PolicyDocument is the rich document emitted on stdout by the external
// NL-to-policy generator script. Only a subset (Version/Name/Rules/
// CreatedBy) is persisted by the policy store; the rest (Assumptions,
// Examples, TestVectors) is recovered from original_source/scripts/
// generate_policy.py's PolicyDocument pydantic model and returned
// as-is to the caller for display, never stored.
type PolicyDocument struct {
	ID          string           `json:"id"`
	Version     string           `json:"version"`
	Name        string           `json:"name"`
	CreatedBy   string           `json:"created_by"`
	CreatedAt   string           `json:"created_at"`
	Description string           `json:"description"`
	Rules       []GeneratedRule  `json:"rules"`
	Assumptions []string         `json:"assumptions"`
	Examples    PolicyExamples   `json:"examples"`
	TestVectors []map[string]any `json:"test_vectors"`
}

// GeneratedRule mirrors the generator script's rule shape, which spells
// the tool reference "tool" rather than "tool_id" — normalized by
// policy.Store.Create on ingest (spec §4.3).
type GeneratedRule struct {
	ID         string         `json:"id"`
	Roles      []string       `json:"roles"`
	Tool       string         `json:"tool"`
	Effect     string         `json:"effect"`
	Conditions map[string]any `json:"conditions"`
}

// PolicyExamples holds the generator's illustrative allowed/blocked
// natural-language call descriptions.
type PolicyExamples struct {
	Allowed []string `json:"allowed"`
	Blocked []string `json:"blocked"`
}

// ToCreateDocument adapts the rich generator output into the subset the
// policy store persists (spec §9 design note: "the adapter from
// document to store entry belongs outside the core").
func (d PolicyDocument) ToCreateDocument() policy.CreateDocument {
	rules := make([]any, 0, len(d.Rules))
	for _, r := range d.Rules {
		roles := make([]any, len(r.Roles))
		for i, role := range r.Roles {
			roles[i] = role
		}
		rules = append(rules, map[string]any{
			"roles":      roles,
			"tool":       r.Tool,
			"effect":     strings.ToUpper(r.Effect),
			"conditions": r.Conditions,
			"reason":     r.ID,
		})
	}
	return policy.CreateDocument{
		Version:   d.Version,
		Name:      d.Name,
		Rules:     rules,
		CreatedBy: d.CreatedBy,
	}
}

// Error describes a failed generation attempt, distinguishing the
// script-missing, timeout, non-zero-exit, and invalid-JSON cases so the
// HTTP layer can report a useful detail string.
type Error struct {
	Reason string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("generator: %s: %s", e.Reason, e.Detail)
}

// Generator invokes scripts/generate_policy.py (or whatever
// PolicyGeneratorPath points at) with the natural-language request and
// parses its stdout as a PolicyDocument.
type Generator struct {
	ScriptPath string
	GeminiKey  string
	Model      string
}

// New constructs a Generator from the resolved configuration values.
func New(scriptPath, geminiKey, model string) *Generator {
	return &Generator{ScriptPath: scriptPath, GeminiKey: geminiKey, Model: model}
}

// Generate runs the generator subprocess for nlText and returns the
// parsed policy document on success.
func (g *Generator) Generate(ctx context.Context, nlText string) (PolicyDocument, error) {
	if _, err := os.Stat(g.ScriptPath); err != nil {
		return PolicyDocument{}, &Error{Reason: "script_missing", Detail: g.ScriptPath}
	}

	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	args := []string{g.ScriptPath, "--nl", nlText}
	if g.Model != "" {
		args = append(args, "--model", g.Model)
	}

	cmd := exec.CommandContext(runCtx, "python3", args...)
	cmd.Env = os.Environ()
	if g.GeminiKey != "" {
		cmd.Env = append(cmd.Env, "GEMINI_API_KEY="+g.GeminiKey)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() != nil {
		return PolicyDocument{}, &Error{Reason: "timeout", Detail: runCtx.Err().Error()}
	}
	if err != nil {
		return PolicyDocument{}, &Error{
			Reason: "generator_failed",
			Detail: fmt.Sprintf("exit error: %v; stderr: %s", err, truncate(stderr.String(), 2000)),
		}
	}

	var doc PolicyDocument
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &doc); err != nil {
		return PolicyDocument{}, &Error{
			Reason: "invalid_json",
			Detail: fmt.Sprintf("%v; stdout: %s", err, truncate(stdout.String(), 4000)),
		}
	}
	return doc, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
