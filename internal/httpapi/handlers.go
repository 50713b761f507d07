// Package httpapi exposes the AgentGuard HTTP surface described in
// spec §6: tool enforcement, audit/anomaly read paths, and policy
// CRUD, plus the natural-language policy generator endpoint.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/agentguard/agentguard/internal/apierror"
	"github.com/agentguard/agentguard/internal/auditor"
	"github.com/agentguard/agentguard/internal/enforce"
	"github.com/agentguard/agentguard/internal/generator"
	"github.com/agentguard/agentguard/internal/policy"
	"github.com/agentguard/agentguard/internal/registry"
	"github.com/agentguard/agentguard/internal/store"
)

const auditListCap = 200

// Handler wires the enforcement pipeline and supporting stores onto an
// http.ServeMux.
type Handler struct {
	pipeline  *enforce.Pipeline
	registry  *registry.Registry
	policies  *policy.Store
	auditor   *auditor.Auditor
	store     *store.Store
	generator *generator.Generator
	limiters  *agentLimiters
	logger    *slog.Logger
}

// enforceRPS and enforceBurst bound per-agent request rate on /enforce.
// A single agent bursting requests (e.g. a runaway retry loop) must not
// be able to starve the shared SQLite writer lock for other agents.
const (
	enforceRPS   = 50
	enforceBurst = 100
)

// New constructs a Handler. gen may be nil, in which case
// POST /generate_policy responds 503.
func New(pipeline *enforce.Pipeline, reg *registry.Registry, policies *policy.Store, aud *auditor.Auditor, s *store.Store, gen *generator.Generator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pipeline:  pipeline,
		registry:  reg,
		policies:  policies,
		auditor:   aud,
		store:     s,
		generator: gen,
		limiters:  newAgentLimiters(enforceRPS, enforceBurst),
		logger:    logger,
	}
}

// RegisterRoutes registers every AgentGuard route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /enforce", h.handleEnforce)
	mux.HandleFunc("GET /audit", h.handleListAudit)
	mux.HandleFunc("GET /policies", h.handleListPolicies)
	mux.HandleFunc("POST /policies", h.handleCreatePolicy)
	mux.HandleFunc("DELETE /policies/{id}", h.handleDeletePolicy)
	mux.HandleFunc("GET /tools", h.handleListTools)
	mux.HandleFunc("GET /anomalies", h.handleListAnomalies)
	mux.HandleFunc("POST /generate_policy", h.handleGeneratePolicy)
	mux.HandleFunc("GET /{$}", h.handleIndex)
}

func (h *Handler) handleEnforce(w http.ResponseWriter, r *http.Request) {
	var req enforce.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.WriteBadRequest(w, "request body is not valid JSON")
		return
	}

	if req.AgentID != "" && !h.limiters.allow(req.AgentID) {
		apierror.Write(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded for this agent")
		return
	}

	outcome, err := h.pipeline.Enforce(r.Context(), req)
	if err != nil {
		var valErr *enforce.ValidationError
		if errors.As(err, &valErr) {
			apierror.WriteBadRequest(w, valErr.Detail)
			return
		}
		apierror.WriteInternal(w, err)
		return
	}

	writeJSON(w, outcome.Status, outcome.Response)
}

func (h *Handler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.DB.QueryContext(r.Context(),
		`SELECT id, request_id, agent_id, roles, tool_id, tool_version, params_hash, decision, reason, policy_version, created_at
		 FROM audit_logs ORDER BY id DESC LIMIT ?`, auditListCap)
	if err != nil {
		apierror.WriteInternal(w, err)
		return
	}
	defer rows.Close()

	type auditRow struct {
		ID            int64   `json:"id"`
		RequestID     string  `json:"request_id"`
		AgentID       string  `json:"agent_id"`
		Roles         string  `json:"roles"`
		ToolID        string  `json:"tool_id"`
		ToolVersion   string  `json:"tool_version"`
		ParamsHash    string  `json:"params_hash"`
		Decision      string  `json:"decision"`
		Reason        string  `json:"reason"`
		PolicyVersion *string `json:"policy_version"`
		CreatedAt     string  `json:"created_at"`
	}

	var out []auditRow
	for rows.Next() {
		var row auditRow
		if err := rows.Scan(&row.ID, &row.RequestID, &row.AgentID, &row.Roles, &row.ToolID, &row.ToolVersion,
			&row.ParamsHash, &row.Decision, &row.Reason, &row.PolicyVersion, &row.CreatedAt); err != nil {
			apierror.WriteInternal(w, err)
			return
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.policies.List(r.Context())
	if err != nil {
		apierror.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

func (h *Handler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var doc policy.CreateDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		apierror.WriteBadRequest(w, "request body is not valid JSON")
		return
	}

	version, createdAt, err := h.policies.Create(r.Context(), doc)
	if err != nil {
		apierror.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    version,
		"created_at": createdAt,
	})
}

func (h *Handler) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		apierror.WriteBadRequest(w, "id must be an integer")
		return
	}

	if err := h.policies.Delete(r.Context(), id); err != nil {
		if errors.Is(err, policy.ErrNotFound) {
			apierror.WriteNotFound(w, "no policy with that id")
			return
		}
		apierror.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "policy_id": id})
}

func (h *Handler) handleListTools(w http.ResponseWriter, r *http.Request) {
	defs, err := h.registry.List(r.Context())
	if err != nil {
		apierror.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (h *Handler) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies, err := h.auditor.List(r.Context())
	if err != nil {
		apierror.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, anomalies)
}

func (h *Handler) handleGeneratePolicy(w http.ResponseWriter, r *http.Request) {
	if h.generator == nil {
		apierror.Write(w, http.StatusServiceUnavailable, "Service Unavailable", "policy generator is not configured")
		return
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Text) == "" {
		apierror.WriteBadRequest(w, "text is required")
		return
	}

	doc, err := h.generator.Generate(r.Context(), body.Text)
	if err != nil {
		var genErr *generator.Error
		if errors.As(err, &genErr) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": genErr.Reason, "detail": genErr.Detail})
			return
		}
		apierror.Write(w, http.StatusInternalServerError, "Generator Failed", err.Error())
		return
	}

	version, createdAt, err := h.policies.Create(r.Context(), doc.ToCreateDocument())
	if err != nil {
		apierror.WriteInternal(w, err)
		return
	}
	// The richer generator document (assumptions/examples/test_vectors)
	// is returned to the caller even though only the subset above was
	// persisted — see SPEC_FULL.md §3 "supplemental fields".
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    version,
		"created_at": createdAt,
		"document":   doc,
	})
}

// handleIndex serves a minimal placeholder for the operator dashboard.
// The real dashboard is a static asset bundle outside this module's
// scope; this keeps GET / from 404ing during local development.
func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("agentguard: policy enforcement point\n"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
