package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// demoRules mirrors the original Python policy_store.DEMO_RULES seeded
// on first boot when AUTO_SEED is enabled.
var demoRules = []any{
	map[string]any{
		"roles":      []any{"reader"},
		"tool_id":    "mcp:read_logs",
		"effect":     "ALLOW",
		"conditions": map[string]any{"limit": map[string]any{"lte": float64(50)}},
		"reason":     "Reader access to logs",
	},
	map[string]any{
		"roles":      []any{"auditor"},
		"tool_id":    "mcp:list_tools",
		"effect":     "ALLOW",
		"conditions": map[string]any{},
		"reason":     "Auditor can list tools",
	},
	map[string]any{
		"roles":      []any{"policy_admin"},
		"tool_id":    "mcp:modify_policy",
		"effect":     "ALLOW",
		"conditions": map[string]any{},
		"reason":     "Policy admin privileges",
	},
}

// SeedDemoPolicy inserts the built-in demo policy when no policy yet
// exists, recording the insertion in policy_version_history (lazily
// created here, per spec §3/§4.1).
func (s *Store) SeedDemoPolicy(ctx context.Context, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := s.store.EnsurePolicyVersionHistory(ctx); err != nil {
		return fmt.Errorf("policy: seed: ensure history table: %w", err)
	}

	existing, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("policy: seed: list existing: %w", err)
	}
	if len(existing) > 0 {
		logger.Debug("policy seed skipped; policies already exist", "count", len(existing))
		return nil
	}

	rulesJSON, err := json.Marshal(normalizeRules(demoRules))
	if err != nil {
		return fmt.Errorf("policy: seed: marshal rules: %w", err)
	}

	const version = "1.0.0"
	var policyID int64
	err = s.store.WithWriteLock(func() error {
		res, execErr := s.store.DB.ExecContext(ctx,
			`INSERT INTO policies (version, name, rules, created_by, signature_placeholder, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			version, "demo-autoseed-policy", string(rulesJSON), "auto-seed", "approved", time.Now().UTC().Format(time.RFC3339Nano),
		)
		if execErr != nil {
			return execErr
		}
		policyID, execErr = res.LastInsertId()
		if execErr != nil {
			return execErr
		}
		_, execErr = s.store.DB.ExecContext(ctx,
			`INSERT INTO policy_version_history (policy_id, version, detail, recorded_at) VALUES (?, ?, ?, ?)`,
			policyID, version, "auto-seed demo policy", time.Now().UTC().Format(time.RFC3339Nano),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("policy: seed: insert: %w", err)
	}
	logger.Debug("policy seed inserted", "policy_id", policyID, "version", version)
	return nil
}
