// Package orchestrator implements the scan orchestrator (C7): it drives
// connectors and enrichment sweeps, enforces one-run-per-(tenant,
// connector), and records every run to the relational app-state schema
// (spec §6). Grounded on the teacher's internal/db/jobs.go (job
// CRUD/state-machine shape) and internal/workflows/ingest.go (the
// durable-workflow wrapping pattern), retargeted from the teacher's
// SurrealDB-backed single `job` table onto the sqlite-backed
// tenants/connectors/scan_history/audit_log schema spec §6 names.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/spectra-red/sentinel/internal/domain"
)

// Store owns the relational app-state schema: tenants, connectors,
// scan_history, audit_log (spec §6). It is a thin wrapper over
// database/sql + modernc.org/sqlite, matching the teacher's choice of a
// pure-Go sqlite driver (no cgo) wherever the teacher or pack reaches
// for embedded relational storage.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the sqlite database at dsn and ensures the
// schema exists. dsn is a modernc.org/sqlite data source name, e.g.
// "file:/var/lib/sentinel/orchestrator.db?_pragma=busy_timeout(5000)".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening orchestrator store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY storms
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	plan TEXT NOT NULL DEFAULT 'starter',
	max_assets INTEGER NOT NULL DEFAULT 0,
	settings TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS connectors (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	connector_type TEXT NOT NULL,
	name TEXT NOT NULL,
	config TEXT NOT NULL DEFAULT '{}',
	credential_ref TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	last_sync_at DATETIME,
	last_sync_status TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (tenant_id, connector_type, name)
);

CREATE TABLE IF NOT EXISTS scan_history (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	connector_id TEXT NOT NULL,
	scan_type TEXT NOT NULL,
	target TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	nodes_found INTEGER NOT NULL DEFAULT 0,
	nodes_updated INTEGER NOT NULL DEFAULT 0,
	nodes_stale INTEGER NOT NULL DEFAULT 0,
	engram_session TEXT NOT NULL DEFAULT '',
	error_message TEXT,
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_scan_history_running
	ON scan_history (tenant_id, connector_id, status);

CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	user_id TEXT,
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT,
	details TEXT NOT NULL DEFAULT '{}',
	ip_address TEXT,
	created_at DATETIME NOT NULL
);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("migrating orchestrator schema: %w", err)
	}
	return nil
}

// RunRecord is one scan_history row.
type RunRecord struct {
	ID            string
	TenantID      domain.TenantID
	ConnectorID   string
	ScanType      string
	Target        string
	Status        domain.RunStatus
	NodesFound    int
	NodesUpdated  int
	NodesStale    int
	EngramSession string
	ErrorMessage  string
	StartedAt     time.Time
	CompletedAt   *time.Time
	DurationMS    int64
}

// StartRun inserts a new scan_history row in RunRunning status. The
// caller must already hold the in-process (tenant, connector) lock
// (Orchestrator.tryAcquire) — StartRun itself does not enforce
// AlreadyRunning, since that check must be atomic with acquiring the
// in-memory lock, not a separate database round-trip.
func (s *Store) StartRun(ctx context.Context, id string, tenant domain.TenantID, connectorID, scanType, target string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_history (id, tenant_id, connector_id, scan_type, target, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(tenant), connectorID, scanType, target, string(domain.RunRunning), startedAt)
	if err != nil {
		return fmt.Errorf("inserting scan_history row: %w", err)
	}
	return nil
}

// FinishRun updates a scan_history row with its terminal status and
// counts. status must be one of completed/failed/cancelled/partial.
func (s *Store) FinishRun(ctx context.Context, id string, status domain.RunStatus, nodesFound, nodesUpdated, nodesStale int, engramSession, errorMessage string, completedAt time.Time, durationMS int64) error {
	var errMsg any
	if errorMessage != "" {
		errMsg = errorMessage
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scan_history
		SET status = ?, nodes_found = ?, nodes_updated = ?, nodes_stale = ?,
		    engram_session = ?, error_message = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?`,
		string(status), nodesFound, nodesUpdated, nodesStale, engramSession, errMsg, completedAt, durationMS, id)
	if err != nil {
		return fmt.Errorf("finishing scan_history row %s: %w", id, err)
	}
	return nil
}

// IsRunning reports whether any scan_history row for (tenant, connectorID)
// is currently in RunRunning status. This is a defense-in-depth check
// behind the in-process lock (Orchestrator.running): it catches a
// still-running row left behind by a prior process that crashed before
// updating its in-memory state, at the cost of one extra query per
// RunConnector call.
func (s *Store) IsRunning(ctx context.Context, tenant domain.TenantID, connectorID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scan_history
		WHERE tenant_id = ? AND connector_id = ? AND status = ?`,
		string(tenant), connectorID, string(domain.RunRunning)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking running state for %s/%s: %w", tenant, connectorID, err)
	}
	return count > 0, nil
}

// ListScanHistory returns the most recent runs for tenant, newest first,
// matching the cursor-free limit/offset pagination used by
// internal/graphstore.Page elsewhere in this codebase.
func (s *Store) ListScanHistory(ctx context.Context, tenant domain.TenantID, limit, offset int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, connector_id, scan_type, target, status,
		       nodes_found, nodes_updated, nodes_stale, engram_session,
		       COALESCE(error_message, ''), started_at, completed_at, duration_ms
		FROM scan_history
		WHERE tenant_id = ?
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?`, string(tenant), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing scan_history for %s: %w", tenant, err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var tenantID, status string
		var completedAt sql.NullTime
		if err := rows.Scan(&r.ID, &tenantID, &r.ConnectorID, &r.ScanType, &r.Target, &status,
			&r.NodesFound, &r.NodesUpdated, &r.NodesStale, &r.EngramSession,
			&r.ErrorMessage, &r.StartedAt, &completedAt, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("scanning scan_history row: %w", err)
		}
		r.TenantID = domain.TenantID(tenantID)
		r.Status = domain.RunStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordAudit appends one audit_log row (spec §6). detailsJSON is a
// pre-marshaled JSON object; callers own serialization so this store
// stays free of a domain-specific audit payload type.
func (s *Store) RecordAudit(ctx context.Context, id string, tenant domain.TenantID, userID, action, resourceType, resourceID, detailsJSON, ipAddress string, at time.Time) error {
	var userIDVal, resourceIDVal, ipVal any
	if userID != "" {
		userIDVal = userID
	}
	if resourceID != "" {
		resourceIDVal = resourceID
	}
	if ipAddress != "" {
		ipVal = ipAddress
	}
	if detailsJSON == "" {
		detailsJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, tenant_id, user_id, action, resource_type, resource_id, details, ip_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(tenant), userIDVal, action, resourceType, resourceIDVal, detailsJSON, ipVal, at)
	if err != nil {
		return fmt.Errorf("recording audit_log row: %w", err)
	}
	return nil
}
