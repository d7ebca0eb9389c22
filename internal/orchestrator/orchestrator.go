package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spectra-red/sentinel/internal/connector"
	"github.com/spectra-red/sentinel/internal/domain"
	"github.com/spectra-red/sentinel/internal/engram"
	"github.com/spectra-red/sentinel/internal/enrichment"
	"github.com/spectra-red/sentinel/internal/graphstore"
)

// Registry maps a connector type to its concrete implementation,
// populated once at startup and passed into the Orchestrator — an
// explicit value, not a package-level init()-populated map, per spec
// §9's "no hidden process-wide mutable state" design note.
type Registry map[domain.ConnectorType]connector.Connector

// Orchestrator drives connector runs and enrichment sweeps (C7): it
// enforces exactly one run per (tenant, connector) in flight, records
// every run to the relational scan_history table, and fans out
// ScanStarted/ScanCompleted events. Grounded on the teacher's
// IngestWorkflow (internal/workflows/ingest.go) for the
// started→persisted→completed shape, generalized from one hard-coded
// SurrealDB job row to the provider-agnostic run wrapping every
// connector.Execute / enrichment.Orchestrator.Sweep call.
type Orchestrator struct {
	Registry   Registry
	Store      *Store
	Graph      graphstore.GraphStore
	Engrams    *engram.Manager
	Bus        graphstore.EventBus
	Resolver   connector.CredentialResolver
	Enrichment *enrichment.Orchestrator

	mu      sync.Mutex
	running map[string]struct{}
}

// New wires an Orchestrator from its collaborators.
func New(registry Registry, store *Store, graph graphstore.GraphStore, engrams *engram.Manager, bus graphstore.EventBus, resolver connector.CredentialResolver, enrich *enrichment.Orchestrator) *Orchestrator {
	if bus == nil {
		bus = graphstore.NopEventBus{}
	}
	return &Orchestrator{
		Registry:   registry,
		Store:      store,
		Graph:      graph,
		Engrams:    engrams,
		Bus:        bus,
		Resolver:   resolver,
		Enrichment: enrich,
		running:    make(map[string]struct{}),
	}
}

// ConnectorRunRequest describes one requested connector run.
type ConnectorRunRequest struct {
	Tenant        domain.TenantID
	ConnectorID   string // connectors.id; also the (tenant, connector) lock key
	ConnectorType domain.ConnectorType
	Config        connector.Config
	CredentialRef string
	Target        string // free-form descriptor surfaced in scan_history.target
}

// RunSummary is returned to CLI/workflow callers after a run completes.
type RunSummary struct {
	ScanID        string
	Status        domain.RunStatus
	EngramAddress engram.Address
	Counts        map[string]int
	Err           error
}

func lockKey(tenant domain.TenantID, connectorID string) string {
	return string(tenant) + "/" + connectorID
}

// tryAcquire enforces spec §7's AlreadyRunning rule atomically against
// the in-process lock; the Store.IsRunning check below only catches a
// row orphaned by a previous process crash, since two orchestrator
// processes racing on the same (tenant, connector) is out of scope for
// this single-process design (spec §9 leaves multi-instance scheduling
// to the deployment topology, not the core).
func (o *Orchestrator) tryAcquire(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.running[key]; busy {
		return false
	}
	o.running[key] = struct{}{}
	return true
}

func (o *Orchestrator) release(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, key)
}

// RunConnector drives one connector.Execute call end to end: acquires
// the (tenant, connector) lock, opens a scan_history row, runs the
// connector, and records the terminal status. Returns ErrAlreadyRunning
// (wrapped as domain.KindAlreadyRunning) without touching scan_history
// at all if a run for this (tenant, connector) is already in flight.
func (o *Orchestrator) RunConnector(ctx context.Context, req ConnectorRunRequest, now time.Time) RunSummary {
	key := lockKey(req.Tenant, req.ConnectorID)
	if !o.tryAcquire(key) {
		return RunSummary{Status: domain.RunFailed, Err: domain.NewError(domain.KindAlreadyRunning, "run already in progress for "+key, domain.ErrAlreadyRunning)}
	}
	defer o.release(key)

	if busy, err := o.Store.IsRunning(ctx, req.Tenant, req.ConnectorID); err != nil {
		return RunSummary{Status: domain.RunFailed, Err: err}
	} else if busy {
		return RunSummary{Status: domain.RunFailed, Err: domain.NewError(domain.KindAlreadyRunning, "a prior run for "+key+" is still marked running", domain.ErrAlreadyRunning)}
	}

	c, ok := o.Registry[req.ConnectorType]
	if !ok {
		return RunSummary{Status: domain.RunFailed, Err: domain.NewError(domain.KindConfig, "no connector registered for type "+string(req.ConnectorType), nil)}
	}

	scanID := uuid.NewString()
	if err := o.Store.StartRun(ctx, scanID, req.Tenant, req.ConnectorID, string(req.ConnectorType), req.Target, now); err != nil {
		return RunSummary{Status: domain.RunFailed, Err: err}
	}
	o.recordAudit(ctx, req.Tenant, "scan.start", "connector", req.ConnectorID, scanID, now)
	o.Bus.Publish(ctx, req.Tenant, "ScanStarted", map[string]any{
		"scan_id": scanID, "scan_type": string(req.ConnectorType), "target": req.Target,
	})

	result := connector.Execute(ctx, req.Tenant, c, req.Config, req.CredentialRef, o.Resolver, o.Graph, o.Engrams, now)
	completedAt := now.Add(1 * time.Millisecond) // avoid a zero-width duration when clocks are stamped by the same `now` the caller gave us
	duration := completedAt.Sub(now)

	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
	}
	if err := o.Store.FinishRun(ctx, scanID, result.Status, result.BatchResult.NodesCreated+result.BatchResult.NodesUpdated,
		result.BatchResult.NodesUpdated, 0, string(result.EngramAddress), errMsg, completedAt, duration.Milliseconds()); err != nil {
		if result.Err == nil {
			result.Err = err
		}
	}

	o.recordAudit(ctx, req.Tenant, "scan.finish", "connector", req.ConnectorID, scanID, completedAt)
	o.Bus.Publish(ctx, req.Tenant, "ScanCompleted", map[string]any{
		"scan_id": scanID, "nodes_found": result.BatchResult.NodesCreated, "nodes_updated": result.BatchResult.NodesUpdated,
		"duration_ms": duration.Milliseconds(),
	})

	return RunSummary{
		ScanID: scanID, Status: result.Status, EngramAddress: result.EngramAddress,
		Counts: result.SyncResult.Counts(), Err: result.Err,
	}
}

// recordAudit appends one audit_log row for an orchestrator-driven scan
// start/finish (spec §12: "populated by the orchestrator on every scan
// start/finish"). Best-effort: a logging failure must not fail the scan
// it is describing.
func (o *Orchestrator) recordAudit(ctx context.Context, tenant domain.TenantID, action, resourceType, resourceID, scanID string, at time.Time) {
	_ = o.Store.RecordAudit(ctx, uuid.NewString(), tenant, "", action, resourceType, resourceID, fmt.Sprintf(`{"scan_id":%q}`, scanID), "", at)
}

// EnrichmentScanType is the fixed connector_id/scan_type scan_history
// uses for enrichment sweeps, which have no connectors row of their own
// since C6 is not a discovery source.
const EnrichmentScanType = "enrichment_sweep"

// RunEnrichmentSweep wraps enrichment.Orchestrator.Sweep the same way
// RunConnector wraps connector.Execute: one (tenant, EnrichmentScanType) lock,
// one scan_history row, one ScanStarted/ScanCompleted pair.
func (o *Orchestrator) RunEnrichmentSweep(ctx context.Context, tenant domain.TenantID, now time.Time) RunSummary {
	key := lockKey(tenant, EnrichmentScanType)
	if !o.tryAcquire(key) {
		return RunSummary{Status: domain.RunFailed, Err: domain.NewError(domain.KindAlreadyRunning, "enrichment sweep already in progress for "+string(tenant), domain.ErrAlreadyRunning)}
	}
	defer o.release(key)

	scanID := uuid.NewString()
	if err := o.Store.StartRun(ctx, scanID, tenant, EnrichmentScanType, EnrichmentScanType, "", now); err != nil {
		return RunSummary{Status: domain.RunFailed, Err: err}
	}
	o.recordAudit(ctx, tenant, "scan.start", "enrichment", EnrichmentScanType, scanID, now)
	o.Bus.Publish(ctx, tenant, "ScanStarted", map[string]any{"scan_id": scanID, "scan_type": EnrichmentScanType})

	result := o.Enrichment.Sweep(ctx, tenant, now)
	completedAt := now.Add(1 * time.Millisecond)
	duration := completedAt.Sub(now)

	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
	}
	if err := o.Store.FinishRun(ctx, scanID, result.Status, result.VulnerabilitiesWritten, result.NetNewPairings, 0,
		string(result.EngramAddress), errMsg, completedAt, duration.Milliseconds()); err != nil && result.Err == nil {
		result.Err = err
	}

	o.recordAudit(ctx, tenant, "scan.finish", "enrichment", EnrichmentScanType, scanID, completedAt)
	o.Bus.Publish(ctx, tenant, "ScanCompleted", map[string]any{
		"scan_id": scanID, "nodes_found": result.VulnerabilitiesWritten, "nodes_updated": result.NetNewPairings,
		"duration_ms": duration.Milliseconds(),
	})

	return RunSummary{
		ScanID: scanID, Status: result.Status, EngramAddress: result.EngramAddress,
		Counts: map[string]int{
			"services_scanned": result.ServicesScanned, "services_without_mapping": result.ServicesWithoutMapping,
			"vulnerabilities_written": result.VulnerabilitiesWritten, "net_new_pairings": result.NetNewPairings,
		},
		Err: result.Err,
	}
}
