// Package policy implements the versioned policy store and its
// deterministic rule evaluator (the PDP half of AgentGuard).
package policy

import "time"

// Decision is the outcome of a policy evaluation.
type Decision string

const (
	Allow Decision = "ALLOW"
	Block Decision = "BLOCK"
)

// Rule is a single access-control entry inside a Policy. Rules have no
// independent lifecycle; they exist only inside a Policy's Rules slice.
type Rule struct {
	Roles      []string       `json:"roles"`
	ToolID     string         `json:"tool_id"`
	Effect     Decision       `json:"effect"`
	Conditions map[string]any `json:"conditions"`
	Reason     string         `json:"reason"`
}

// Policy is a versioned, immutable set of rules.
type Policy struct {
	ID                   int64     `json:"id"`
	Version              string    `json:"version"`
	Name                 string    `json:"name"`
	Rules                []Rule    `json:"rules"`
	CreatedBy            string    `json:"created_by"`
	SignaturePlaceholder string    `json:"signature_placeholder"`
	CreatedAt            time.Time `json:"created_at"`
}

// CreateDocument is the input accepted by Create. Rules is untyped here
// because the wire format may send raw rule-shaped maps (some of which
// use "tool" instead of "tool_id", or aren't objects at all) that must
// be normalized before they become Rule values.
type CreateDocument struct {
	Version              string `json:"version,omitempty"`
	Name                 string `json:"name,omitempty"`
	Rules                []any  `json:"rules,omitempty"`
	CreatedBy            string `json:"created_by,omitempty"`
	SignaturePlaceholder string `json:"signature_placeholder,omitempty"`
}

// Result is the outcome of Evaluate: (decision, policy version, reason).
type Result struct {
	Decision Decision
	Version  *string
	Reason   string
}
