package policy

import (
	"context"

	"github.com/Masterminds/semver/v3"
)

// Evaluate selects the active policy and matches roles/tool_id/params
// against its rules in stored order, per spec §4.3.
func (s *Store) Evaluate(ctx context.Context, roles []string, toolID string, params map[string]any) (Result, error) {
	policies, err := s.List(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(policies) == 0 {
		return Result{Decision: Block, Version: nil, Reason: "no_policy"}, nil
	}

	active := selectActive(policies)
	version := active.Version

	for _, rule := range active.Rules {
		if !rolesIntersect(roles, rule.Roles) {
			continue
		}
		if !toolMatches(toolID, rule.ToolID) {
			continue
		}
		if !conditionsMatch(params, rule.Conditions) {
			continue
		}
		reason := rule.Reason
		if reason == "" {
			reason = "rule_matched"
		}
		return Result{Decision: normalizeEffect(rule.Effect), Version: &version, Reason: reason}, nil
	}

	return Result{Decision: Block, Version: &version, Reason: "no_rule_matched"}, nil
}

// normalizeEffect defaults an unrecognized effect to BLOCK per spec §4.3.
func normalizeEffect(effect Decision) Decision {
	if effect == Allow || effect == Block {
		return effect
	}
	return Block
}

// selectActive picks the policy with the greatest semantic version,
// breaking ties by the newest created_at. Unparseable versions sort to
// the lowest priority.
func selectActive(policies []Policy) Policy {
	best := policies[0]
	bestVersion, bestOK := parseVersion(best.Version)

	for _, p := range policies[1:] {
		v, ok := parseVersion(p.Version)
		switch {
		case ok && !bestOK:
			best, bestVersion, bestOK = p, v, true
		case ok && bestOK:
			switch v.Compare(bestVersion) {
			case 1:
				best, bestVersion = p, v
			case 0:
				if p.CreatedAt.After(best.CreatedAt) {
					best, bestVersion = p, v
				}
			}
		case !ok && !bestOK:
			if p.CreatedAt.After(best.CreatedAt) {
				best = p
			}
		}
	}
	return best
}

func parseVersion(raw string) (*semver.Version, bool) {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, false
	}
	return v, true
}

func rolesIntersect(requested, ruleRoles []string) bool {
	set := make(map[string]struct{}, len(ruleRoles))
	for _, r := range ruleRoles {
		set[r] = struct{}{}
	}
	for _, r := range requested {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

// toolMatches implements the mcp: normalization from spec §4.3:
// normalize(t) = {t} ∪ {t[4:]} when t begins with "mcp:", else {t}.
func toolMatches(requested, ruleTool string) bool {
	if requested == ruleTool {
		return true
	}
	if len(ruleTool) > 4 && ruleTool[:4] == "mcp:" && ruleTool[4:] == requested {
		return true
	}
	if len(requested) > 4 && requested[:4] == "mcp:" && requested[4:] == ruleTool {
		return true
	}
	return false
}

func conditionsMatch(params map[string]any, conditions map[string]any) bool {
	for key, matcher := range conditions {
		value, present := params[key]
		switch m := matcher.(type) {
		case map[string]any:
			if !present {
				return false
			}
			if equals, ok := m["equals"]; ok {
				if value != equals {
					return false
				}
			}
			if lte, ok := m["lte"]; ok {
				bound, isNum := toFloat(lte)
				got, gotNum := toFloat(value)
				if !isNum || !gotNum || got > bound {
					return false
				}
			}
		default:
			if !present || value != matcher {
				return false
			}
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
