package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// permissiveSchemaSource validates any object, used when a tool has no
// registered input_schema (spec §4.2: "permissive accept-all schema
// when none is registered").
const permissiveSchemaSource = `{}`

// schemaCompiler compiles each tool's declarative input_schema into a
// jsonschema.Schema, the same compile-then-validate pattern the
// platform's policy firewall uses for tool parameters.
type schemaCompiler struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

func newSchemaCompiler() *schemaCompiler {
	return &schemaCompiler{schemas: make(map[string]*jsonschema.Schema)}
}

func (c *schemaCompiler) compile(toolID string, fields map[string]Field) error {
	doc := toJSONSchemaDocument(fields)

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://agentguard.local/schemas/%s.schema.json", sanitizeID(toolID))
	if err := compiler.AddResource(url, strings.NewReader(doc)); err != nil {
		return fmt.Errorf("registry: load schema for %s: %w", toolID, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("registry: compile schema for %s: %w", toolID, err)
	}

	c.mu.Lock()
	c.schemas[toolID] = compiled
	c.mu.Unlock()
	return nil
}

// get returns the compiled schema for toolID, or the permissive accept-all
// schema when none was registered. The caller is told this happened so
// callers can log it per spec ("this case must be logged").
func (c *schemaCompiler) get(toolID string) (schema *jsonschema.Schema, isPermissive bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.schemas[toolID]; ok {
		return s, false
	}
	return permissiveSchema(), true
}

var (
	permissiveOnce     sync.Once
	permissiveSchemaV  *jsonschema.Schema
)

func permissiveSchema() *jsonschema.Schema {
	permissiveOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		const url = "https://agentguard.local/schemas/_permissive.schema.json"
		_ = compiler.AddResource(url, strings.NewReader(permissiveSchemaSource))
		permissiveSchemaV, _ = compiler.Compile(url)
	})
	return permissiveSchemaV
}

// toJSONSchemaDocument translates AgentGuard's declarative field map into
// a minimal JSON Schema document: {type: object, properties, required}.
func toJSONSchemaDocument(fields map[string]Field) string {
	var b strings.Builder
	b.WriteString(`{"type":"object","properties":{`)
	first := true
	var required []string
	for name, f := range fields {
		if !first {
			b.WriteString(",")
		}
		first = false
		b.WriteString(fmt.Sprintf("%q:{", name))
		b.WriteString(fmt.Sprintf("%q:%q", "type", jsonSchemaType(f.Type)))
		if f.Max != nil {
			b.WriteString(fmt.Sprintf(`,"maximum":%v`, *f.Max))
		}
		if f.Min != nil {
			b.WriteString(fmt.Sprintf(`,"minimum":%v`, *f.Min))
		}
		b.WriteString("}")
		if f.Required {
			required = append(required, name)
		}
	}
	b.WriteString(`},"required":[`)
	for i, name := range required {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("%q", name))
	}
	b.WriteString(`],"additionalProperties":true}`)
	return b.String()
}

// jsonSchemaType maps AgentGuard's declarative type names onto JSON
// Schema's vocabulary; anything unrecognized is validated as a string.
func jsonSchemaType(t string) string {
	switch t {
	case "integer", "number", "string", "boolean", "object", "array":
		return t
	default:
		return "string"
	}
}

func sanitizeID(toolID string) string {
	return strings.NewReplacer(":", "_", "/", "_").Replace(toolID)
}
