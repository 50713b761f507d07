package registry

func floatPtr(f float64) *float64 { return &f }

// defaultCatalog is the built-in set of MCP tools AgentGuard ships with,
// carried over from the original Python tool_registry.DEFAULT_TOOLS.
var defaultCatalog = []Definition{
	{
		ToolID:      "mcp:read_logs",
		Version:     "1.0.0",
		Description: "Read audit logs",
		InputSchema: map[string]Field{
			"limit": {Type: "integer", Min: floatPtr(1), Max: floatPtr(100), Required: true},
		},
		ExampleCalls: []map[string]any{{"params": map[string]any{"limit": 10}}},
	},
	{
		ToolID:       "mcp:list_tools",
		Version:      "1.0.0",
		Description:  "List MCP tools",
		InputSchema:  map[string]Field{},
		ExampleCalls: []map[string]any{{"params": map[string]any{}}},
	},
	{
		ToolID:      "mcp:get_policy",
		Version:     "1.0.0",
		Description: "Fetch latest policy",
		InputSchema: map[string]Field{
			"version": {Type: "string", Required: true},
		},
		ExampleCalls: []map[string]any{{"params": map[string]any{"version": "1.0.0"}}},
	},
	{
		ToolID:      "mcp:modify_policy",
		Version:     "1.0.0",
		Description: "Modify policy entries",
		InputSchema: map[string]Field{
			"change": {Type: "string", Required: true},
		},
		ExampleCalls: []map[string]any{{"params": map[string]any{"change": "add"}}},
	},
	{
		ToolID:      "mcp:execute_tool_wrapper",
		Version:     "1.0.0",
		Description: "Wraps tool execution",
		InputSchema: map[string]Field{
			"target_tool": {Type: "string", Required: true},
		},
		ExampleCalls: []map[string]any{{"params": map[string]any{"target_tool": "mcp:read_logs"}}},
	},
	{
		ToolID:      "mcp:run_shell_sim",
		Version:     "1.0.0",
		Description: "Simulated shell",
		InputSchema: map[string]Field{
			"cmd": {Type: "string", Required: true},
		},
		ExampleCalls: []map[string]any{{"params": map[string]any{"cmd": "ls"}}},
	},
	{
		ToolID:      "mcp:read_sensitive_sim",
		Version:     "1.0.0",
		Description: "Simulated sensitive reader",
		InputSchema: map[string]Field{
			"path": {Type: "string", Required: true},
		},
		ExampleCalls: []map[string]any{{"params": map[string]any{"path": "/etc/shadow"}}},
	},
	{
		ToolID:      "mcp:metrics_write",
		Version:     "1.0.0",
		Description: "Write metrics",
		InputSchema: map[string]Field{
			"series": {Type: "string", Required: true},
			"value":  {Type: "number", Required: true},
		},
		ExampleCalls: []map[string]any{{"params": map[string]any{"series": "latency", "value": 12}}},
	},
}
