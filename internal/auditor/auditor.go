// Package auditor implements the background anomaly scanner described
// in spec §4.5: it periodically scans recent BLOCK decisions for
// agents tripping a burst threshold and records anomaly rows.
package auditor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentguard/agentguard/internal/store"
)

const (
	// scanInterval is how often the auditor sweeps for new anomalies.
	scanInterval = 5 * time.Second
	// window is how far back a scan looks for BLOCK decisions.
	window = 60 * time.Second
	// threshold is the minimum BLOCK count within window that flags an
	// agent as anomalous.
	threshold = 3
)

// Anomaly is a single flagged-agent record.
type Anomaly struct {
	ID        int64     `json:"id"`
	AgentID   string    `json:"agent_id"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Auditor runs the periodic scan as a background goroutine, started and
// stopped via Run/context cancellation.
type Auditor struct {
	store  *store.Store
	logger *slog.Logger

	mu          sync.Mutex
	lastFlagged map[string]time.Time
}

// New constructs an Auditor over the shared persistence store.
func New(s *store.Store, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{store: s, logger: logger, lastFlagged: make(map[string]time.Time)}
}

// Run scans every scanInterval until ctx is canceled. It is meant to be
// started as `go auditor.Run(ctx)` from main and returns once ctx.Done()
// fires, allowing graceful shutdown alongside the HTTP server.
func (a *Auditor) Run(ctx context.Context) {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("auditor stopped")
			return
		case <-ticker.C:
			// A cycle that has started runs to completion even if ctx is
			// canceled meanwhile; cancellation is observed between cycles.
			if err := a.scanOnce(context.WithoutCancel(ctx)); err != nil {
				// Best-effort: log and continue, never crash the service
				// over a single failed scan.
				a.logger.Error("anomaly scan failed", "error", err)
			}
		}
	}
}

func (a *Auditor) scanOnce(ctx context.Context) error {
	since := time.Now().UTC().Add(-window).Format(time.RFC3339Nano)

	rows, err := a.store.DB.QueryContext(ctx,
		`SELECT agent_id, COUNT(*) FROM audit_logs
		 WHERE decision = 'BLOCK' AND created_at >= ?
		 GROUP BY agent_id`,
		since,
	)
	if err != nil {
		return fmt.Errorf("auditor: scan query: %w", err)
	}
	defer rows.Close()

	type burst struct {
		agentID string
		count   int
	}
	var bursts []burst
	for rows.Next() {
		var b burst
		if err := rows.Scan(&b.agentID, &b.count); err != nil {
			return fmt.Errorf("auditor: scan row: %w", err)
		}
		if b.count >= threshold {
			bursts = append(bursts, b)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, b := range bursts {
		if a.recentlyFlagged(b.agentID) {
			continue
		}
		detailJSON, err := json.Marshal(map[string]int{"blocks_last_minute": b.count})
		if err != nil {
			return fmt.Errorf("auditor: marshal detail for %s: %w", b.agentID, err)
		}
		if err := a.insertAnomaly(ctx, b.agentID, string(detailJSON)); err != nil {
			return fmt.Errorf("auditor: insert anomaly for %s: %w", b.agentID, err)
		}
		a.markFlagged(b.agentID)
		a.logger.Warn("anomaly flagged", "agent_id", b.agentID, "block_count", b.count)
	}
	return nil
}

// recentlyFlagged suppresses duplicate anomaly rows: an agent is only
// flagged once per rolling window, not once per 5s scan cycle while the
// burst condition continues to hold.
func (a *Auditor) recentlyFlagged(agentID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.lastFlagged[agentID]
	return ok && time.Since(last) < window
}

func (a *Auditor) markFlagged(agentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastFlagged[agentID] = time.Now()
}

func (a *Auditor) insertAnomaly(ctx context.Context, agentID, detail string) error {
	return a.store.WithWriteLock(func() error {
		_, err := a.store.DB.ExecContext(ctx,
			`INSERT INTO anomalies (agent_id, detail, created_at) VALUES (?, ?, ?)`,
			agentID, detail, time.Now().UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

// List returns all anomalies, newest first.
func (a *Auditor) List(ctx context.Context) ([]Anomaly, error) {
	rows, err := a.store.DB.QueryContext(ctx,
		`SELECT id, agent_id, detail, created_at FROM anomalies ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var anomalies []Anomaly
	for rows.Next() {
		var (
			an Anomaly
			ts string
		)
		if err := rows.Scan(&an.ID, &an.AgentID, &an.Detail, &ts); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			an.CreatedAt = t
		}
		anomalies = append(anomalies, an)
	}
	return anomalies, rows.Err()
}

// ScanOnce exposes a single scan cycle for tests and for callers that
// want a synchronous sweep instead of waiting on the ticker.
func (a *Auditor) ScanOnce(ctx context.Context) error {
	return a.scanOnce(ctx)
}
