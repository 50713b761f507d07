package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/agentguard/agentguard/internal/store"
)

// ErrNotFound is returned by Delete when no policy matches the given id.
var ErrNotFound = errors.New("policy: not found")

// Store is the versioned policy store described in spec §4.3.
type Store struct {
	store *store.Store
}

// New wraps a persistence Store with policy-specific operations.
func New(s *store.Store) *Store {
	return &Store{store: s}
}

// Create normalizes the document's rules, assigns a version when absent,
// persists the policy, and returns the assigned version and created_at.
func (s *Store) Create(ctx context.Context, doc CreateDocument) (version string, createdAt time.Time, err error) {
	rules := normalizeRules(doc.Rules)
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("policy: marshal rules: %w", err)
	}

	version = doc.Version
	name := doc.Name
	createdBy := doc.CreatedBy
	if createdBy == "" {
		createdBy = "unknown"
	}
	sigPlaceholder := doc.SignaturePlaceholder
	if sigPlaceholder == "" {
		sigPlaceholder = "pending"
	}

	err = s.store.WithWriteLock(func() error {
		if version == "" {
			v, verr := s.nextVersion(ctx)
			if verr != nil {
				return verr
			}
			version = v
		}
		if name == "" {
			name = fmt.Sprintf("policy-%s", version)
		}
		createdAt = time.Now().UTC()
		_, execErr := s.store.DB.ExecContext(ctx,
			`INSERT INTO policies (version, name, rules, created_by, signature_placeholder, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			version, name, string(rulesJSON), createdBy, sigPlaceholder, createdAt.Format(time.RFC3339Nano),
		)
		return execErr
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("policy: create: %w", err)
	}
	return version, createdAt, nil
}

// normalizeRules applies the rule-normalization rules from spec §4.3:
// copy "tool" into "tool_id" when "tool_id" is absent, and drop anything
// that isn't a structured rule object. Input order of surviving rules
// is preserved.
func normalizeRules(raw []any) []Rule {
	rules := make([]Rule, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if _, hasToolID := entry["tool_id"]; !hasToolID {
			if tool, hasTool := entry["tool"]; hasTool {
				entry["tool_id"] = tool
			}
		}
		rules = append(rules, mapToRule(entry))
	}
	return rules
}

func mapToRule(entry map[string]any) Rule {
	r := Rule{Conditions: map[string]any{}}
	if toolID, ok := entry["tool_id"].(string); ok {
		r.ToolID = toolID
	}
	if reason, ok := entry["reason"].(string); ok {
		r.Reason = reason
	}
	if effect, ok := entry["effect"].(string); ok {
		r.Effect = Decision(effect)
	}
	if roles, ok := entry["roles"].([]any); ok {
		for _, role := range roles {
			if s, ok := role.(string); ok {
				r.Roles = append(r.Roles, s)
			}
		}
	}
	if conditions, ok := entry["conditions"].(map[string]any); ok {
		r.Conditions = conditions
	}
	return r
}

// nextVersion implements auto-versioning: bump the patch component of
// the lexicographically greatest existing version, or "1.0.0" when no
// policy exists.
func (s *Store) nextVersion(ctx context.Context) (string, error) {
	versions, err := s.allVersions(ctx)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "1.0.0", nil
	}

	greatest := versions[0]
	for _, v := range versions[1:] {
		if v > greatest {
			greatest = v
		}
	}

	parsed, err := semver.NewVersion(greatest)
	if err != nil {
		return "1.0.0", nil
	}
	return fmt.Sprintf("%d.%d.%d", parsed.Major(), parsed.Minor(), parsed.Patch()+1), nil
}

func (s *Store) allVersions(ctx context.Context) ([]string, error) {
	rows, err := s.store.DB.QueryContext(ctx, `SELECT version FROM policies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// List returns all policies with Rules deserialized to a structured
// value, never as an opaque string.
func (s *Store) List(ctx context.Context) ([]Policy, error) {
	rows, err := s.store.DB.QueryContext(ctx,
		`SELECT id, version, name, rules, created_by, signature_placeholder, created_at FROM policies ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// Delete removes a policy by id, returning ErrNotFound if absent.
func (s *Store) Delete(ctx context.Context, id int64) error {
	return s.store.WithWriteLock(func() error {
		res, err := s.store.DB.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (Policy, error) {
	var (
		p           Policy
		rulesJSON   string
		createdAtTS string
		sigPlaceholder sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Version, &p.Name, &rulesJSON, &p.CreatedBy, &sigPlaceholder, &createdAtTS); err != nil {
		return Policy{}, err
	}
	p.SignaturePlaceholder = sigPlaceholder.String
	if err := json.Unmarshal([]byte(rulesJSON), &p.Rules); err != nil {
		return Policy{}, fmt.Errorf("policy: decode rules for %s: %w", p.Version, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtTS); err == nil {
		p.CreatedAt = t
	}
	return p, nil
}
