package registry

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agentguard/agentguard/internal/canonicalize"
	"github.com/agentguard/agentguard/internal/store"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrNotFound is returned by Get when no tool matches (tool_id, version).
var ErrNotFound = errors.New("registry: tool not found")

// Registry is the tool registry described in spec §4.2: it loads the
// built-in catalog, signs each definition, and resolves per-tool
// parameter schemas.
type Registry struct {
	store   *store.Store
	secret  []byte
	schemas *schemaCompiler
	logger  *slog.Logger
}

// New constructs a Registry, inserting the built-in catalog into
// persistence (insert-if-absent) and compiling each tool's parameter
// schema. secret is the HMAC key used both at bootstrap and later for
// signature verification during enforcement.
func New(ctx context.Context, s *store.Store, secret []byte, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{store: s, secret: secret, schemas: newSchemaCompiler(), logger: logger}

	for _, tool := range defaultCatalog {
		if err := r.schemas.compile(tool.ToolID, tool.InputSchema); err != nil {
			return nil, err
		}
		if err := r.loadDefault(ctx, tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) loadDefault(ctx context.Context, tool Definition) error {
	signature := Sign(r.secret, tool.ToolID, tool.Version, tool.InputSchema)
	full := tool
	full.Signature = signature

	definitionJSON, err := json.Marshal(full)
	if err != nil {
		return fmt.Errorf("registry: marshal definition %s: %w", tool.ToolID, err)
	}

	return r.store.WithWriteLock(func() error {
		_, err := r.store.DB.ExecContext(ctx,
			`INSERT OR IGNORE INTO tools (tool_id, version, definition) VALUES (?, ?, ?)`,
			tool.ToolID, tool.Version, string(definitionJSON),
		)
		return err
	})
}

// Sign computes the HMAC-SHA256 signature over the tool's canonical
// representation: tool_id|version|canonical_json(input_schema).
func Sign(secret []byte, toolID, version string, schema map[string]Field) string {
	schemaJSON, _ := canonicalize.Marshal(schema)
	message := fmt.Sprintf("%s|%s|%s", toolID, version, schemaJSON)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether a definition's stored signature matches what
// Sign would produce for its current fields, using a constant-time
// comparison per spec §4.4 step 2.
func Verify(secret []byte, def Definition) bool {
	expected := Sign(secret, def.ToolID, def.Version, def.InputSchema)
	return hmac.Equal([]byte(expected), []byte(def.Signature))
}

// VerifyDefinition is Verify bound to this Registry's HMAC secret, so
// callers outside this package never need to hold the key themselves.
func (r *Registry) VerifyDefinition(def Definition) bool {
	return Verify(r.secret, def)
}

// List returns every registered tool definition, signatures included.
func (r *Registry) List(ctx context.Context) ([]Definition, error) {
	rows, err := r.store.DB.QueryContext(ctx, `SELECT definition FROM tools`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var def Definition
		if err := json.Unmarshal([]byte(raw), &def); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Get looks up a tool by (tool_id, version). It returns ErrNotFound when
// absent.
func (r *Registry) Get(ctx context.Context, toolID, version string) (Definition, error) {
	var raw string
	err := r.store.DB.QueryRowContext(ctx,
		`SELECT definition FROM tools WHERE tool_id = ? AND version = ?`,
		toolID, version,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Definition{}, ErrNotFound
	}
	if err != nil {
		return Definition{}, err
	}

	var def Definition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// SchemaFor resolves the compiled parameter schema for toolID, falling
// back to the permissive accept-all schema and logging the fallback.
func (r *Registry) SchemaFor(toolID string) *jsonschema.Schema {
	schema, permissive := r.schemas.get(toolID)
	if permissive {
		r.logger.Debug("no input schema registered for tool; using permissive schema", "tool_id", toolID)
	}
	return schema
}

// ValidateParams validates params against toolID's registered schema
// (the permissive schema when none is registered), returning the
// validation error on failure.
func (r *Registry) ValidateParams(toolID string, params map[string]any) error {
	schema := r.SchemaFor(toolID)
	if schema == nil {
		return nil
	}
	return schema.Validate(params)
}
