package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/agentguard/agentguard/internal/auditor"
	"github.com/agentguard/agentguard/internal/enforce"
	"github.com/agentguard/agentguard/internal/httpapi"
	"github.com/agentguard/agentguard/internal/policy"
	"github.com/agentguard/agentguard/internal/registry"
	"github.com/agentguard/agentguard/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg, err := registry.New(t.Context(), s, []byte("test-secret"), nil)
	require.NoError(t, err)

	policies := policy.New(s)
	require.NoError(t, policies.SeedDemoPolicy(t.Context(), nil))

	pipeline := enforce.New(reg, policies, s, nil)
	aud := auditor.New(s, nil)

	mux := http.NewServeMux()
	httpapi.New(pipeline, reg, policies, aud, s, nil, nil).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleEnforce_AllowsSeededReaderRule(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"agent_id":     "agent-1",
		"agent_roles":  []string{"reader"},
		"tool_id":      "mcp:read_logs",
		"tool_version": "1.0.0",
		"params":       map[string]any{"limit": 10},
		"request_id":   "req-1",
	})
	resp, err := http.Post(srv.URL+"/enforce", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out enforce.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "ALLOW", out.Decision)
}

func TestHandleEnforce_UnknownToolReturns404(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"agent_id":     "agent-1",
		"agent_roles":  []string{"reader"},
		"tool_id":      "mcp:does_not_exist",
		"tool_version": "1.0.0",
		"params":       map[string]any{},
		"request_id":   "req-2",
	})
	resp, err := http.Post(srv.URL+"/enforce", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var out enforce.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "BLOCK", out.Decision)
	require.Equal(t, "tool_not_found", out.Reason)
}

func TestHandleEnforce_PolicyBlockReturns403(t *testing.T) {
	srv := newTestServer(t)

	// Valid schema (limit <= 100) but no seeded rule grants this role.
	body, _ := json.Marshal(map[string]any{
		"agent_id":     "agent-1",
		"agent_roles":  []string{"unprivileged"},
		"tool_id":      "mcp:read_logs",
		"tool_version": "1.0.0",
		"params":       map[string]any{"limit": 10},
		"request_id":   "req-3",
	})
	resp, err := http.Post(srv.URL+"/enforce", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	var out enforce.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "BLOCK", out.Decision)
	require.Equal(t, "no_rule_matched", out.Reason)
}

func TestHandleEnforce_MalformedBodyIsBadRequest(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/enforce", "application/json", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}

func TestHandleListTools_ReturnsSeededCatalog(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tools []registry.Definition
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tools))
	require.Len(t, tools, 8)
}

func TestHandleCreateAndDeletePolicy(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"name": "extra"})
	resp, err := http.Post(srv.URL+"/policies", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created struct {
		Version string `json:"version"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Equal(t, "1.0.1", created.Version, "demo seed occupies 1.0.0")

	listResp, err := http.Get(srv.URL + "/policies")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var policies []policy.Policy
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&policies))
	require.Len(t, policies, 2)

	var targetID int64
	for _, p := range policies {
		if p.Version == created.Version {
			targetID = p.ID
		}
	}
	require.NotZero(t, targetID)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/policies/"+strconv.FormatInt(targetID, 10), nil)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	require.Equal(t, http.StatusOK, delResp.StatusCode)

	var deleted struct {
		Status   string `json:"status"`
		PolicyID int64  `json:"policy_id"`
	}
	require.NoError(t, json.NewDecoder(delResp.Body).Decode(&deleted))
	require.Equal(t, "deleted", deleted.Status)
	require.Equal(t, targetID, deleted.PolicyID)
}

func TestHandleListAnomalies_EmptyByDefault(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/anomalies")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var anomalies []auditor.Anomaly
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&anomalies))
	require.Empty(t, anomalies)
}

func TestHandleGeneratePolicy_ServiceUnavailableWhenNotConfigured(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"text": "allow readers to read logs"})
	resp, err := http.Post(srv.URL+"/generate_policy", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
