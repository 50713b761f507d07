package enforce

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agentguard/agentguard/internal/canonicalize"
	"github.com/agentguard/agentguard/internal/policy"
	"github.com/agentguard/agentguard/internal/registry"
	"github.com/agentguard/agentguard/internal/store"
)

// defaultToolVersion is the version substituted when a request omits
// tool_version. It intentionally does NOT match the catalog's "1.0.0":
// the original enforcement path defaulted to the shorter "1.0" string,
// so a request that omits tool_version against the stock catalog always
// misses the registry lookup. Carried over unchanged rather than
// "fixed", since the behavior is documented and tested (spec §9).
const defaultToolVersion = "1.0"

// Pipeline composes registry lookup, signature verification, schema
// validation, and policy evaluation into the single enforcement
// decision described in spec §4.4.
type Pipeline struct {
	registry *registry.Registry
	policies *policy.Store
	store    *store.Store
	logger   *slog.Logger
}

// New constructs a Pipeline over the given registry, policy store, and
// persistence store (for audit writes).
func New(reg *registry.Registry, policies *policy.Store, s *store.Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{registry: reg, policies: policies, store: s, logger: logger}
}

// validate checks the structural preconditions on Request that must
// fail before any audit row is written (spec §4.4: "a request that
// fails structural validation... is a client error, not a security
// event, and is never audited").
func validate(req Request) error {
	if req.AgentID == "" {
		return &ValidationError{Detail: "agent_id is required"}
	}
	if req.ToolID == "" {
		return &ValidationError{Detail: "tool_id is required"}
	}
	if len(req.AgentRoles) == 0 {
		return &ValidationError{Detail: "agent_roles must contain at least one role"}
	}
	if req.Params == nil {
		return &ValidationError{Detail: "params is required (use {} for no parameters)"}
	}
	return nil
}

// Enforce runs the fixed four-step pipeline: tool lookup, signature
// verification, schema validation, policy evaluation. Exactly one audit
// row is written for every request that reaches parameter validation or
// a terminal BLOCK; requests that fail structural validation write none.
func (p *Pipeline) Enforce(ctx context.Context, req Request) (Outcome, error) {
	if err := validate(req); err != nil {
		return Outcome{}, err
	}

	toolVersion := req.ToolVersion
	if toolVersion == "" {
		toolVersion = defaultToolVersion
	}

	// Hash the already-defaulted request with canonicalize (spec §3/§4.4:
	// "canonical (sorted-key) JSON encoding"); hashing req.ToolVersion
	// directly (rather than the resolved toolVersion) would hash an empty
	// string instead of the default for a request that omitted it.
	requestHash := canonicalize.HashHex(map[string]any{
		"agent_id":     req.AgentID,
		"agent_roles":  req.AgentRoles,
		"tool_id":      req.ToolID,
		"tool_version": toolVersion,
		"params":       req.Params,
		"request_id":   req.RequestID,
	})

	// Step 1: tool lookup.
	def, err := p.registry.Get(ctx, req.ToolID, toolVersion)
	if errors.Is(err, registry.ErrNotFound) {
		return p.blockAndAudit(ctx, req, toolVersion, requestHash, nil, "tool_not_found", 404)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("enforce: tool lookup: %w", err)
	}

	// Step 2: signature verification.
	if !p.registry.VerifyDefinition(def) {
		return p.blockAndAudit(ctx, req, toolVersion, requestHash, nil, "invalid_tool_signature", 403)
	}

	// Step 3: schema validation.
	if err := p.registry.ValidateParams(req.ToolID, req.Params); err != nil {
		p.logger.Debug("params failed schema validation", "tool_id", req.ToolID, "error", err)
		reason := fmt.Sprintf("schema_error:%s", err.Error())
		return p.blockAndAudit(ctx, req, toolVersion, requestHash, nil, reason, 400)
	}

	// Step 4: policy evaluation.
	result, err := p.policies.Evaluate(ctx, req.AgentRoles, req.ToolID, req.Params)
	if err != nil {
		return Outcome{}, fmt.Errorf("enforce: policy evaluate: %w", err)
	}

	if err := p.audit(ctx, req, toolVersion, requestHash, result); err != nil {
		return Outcome{}, fmt.Errorf("enforce: write audit row: %w", err)
	}

	status := 200
	if result.Decision == policy.Block {
		status = 403
	}
	return Outcome{
		Status: status,
		Response: Response{
			Decision:      string(result.Decision),
			PolicyVersion: result.Version,
			Reason:        result.Reason,
			RequestHash:   requestHash,
		},
	}, nil
}

func (p *Pipeline) blockAndAudit(ctx context.Context, req Request, toolVersion, requestHash string, version *string, reason string, status int) (Outcome, error) {
	result := policy.Result{Decision: policy.Block, Version: version, Reason: reason}
	if err := p.audit(ctx, req, toolVersion, requestHash, result); err != nil {
		return Outcome{}, fmt.Errorf("enforce: write audit row: %w", err)
	}
	return Outcome{
		Status: status,
		Response: Response{
			Decision:      string(policy.Block),
			PolicyVersion: version,
			Reason:        reason,
			RequestHash:   requestHash,
		},
	}, nil
}

func (p *Pipeline) audit(ctx context.Context, req Request, toolVersion, requestHash string, result policy.Result) error {
	paramsHashJSON, err := json.Marshal(perParamHashes(req.Params))
	if err != nil {
		return fmt.Errorf("enforce: marshal params_hash: %w", err)
	}
	roles := strings.Join(req.AgentRoles, ",")

	var policyVersion sql.NullString
	if result.Version != nil {
		policyVersion = sql.NullString{String: *result.Version, Valid: true}
	}

	return p.store.WithWriteLock(func() error {
		_, err := p.store.DB.ExecContext(ctx,
			`INSERT INTO audit_logs (request_id, agent_id, roles, tool_id, tool_version, params_hash, decision, reason, policy_version, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			req.RequestID, req.AgentID, roles, req.ToolID, toolVersion, string(paramsHashJSON),
			string(result.Decision), result.Reason, policyVersion, time.Now().UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

// perParamHashes hashes each parameter value independently (spec §4.4:
// "so that a later audit consumer can confirm whether a specific
// parameter was unchanged without revealing others"), rather than
// hashing the params object as a single blob.
func perParamHashes(params map[string]any) map[string]string {
	hashes := make(map[string]string, len(params))
	for k, v := range params {
		hashes[k] = canonicalize.HashHex(v)
	}
	return hashes
}
