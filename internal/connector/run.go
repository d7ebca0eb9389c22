package connector

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spectra-red/sentinel/internal/domain"
	"github.com/spectra-red/sentinel/internal/engram"
	"github.com/spectra-red/sentinel/internal/graphstore"
)

// CredentialResolver resolves a connector's opaque credential_ref
// against a secret store (internal/secrets). Declared here, not in
// internal/secrets, so the framework can depend on the narrow interface
// it needs without importing the concrete keyring-backed implementation.
type CredentialResolver interface {
	Resolve(ctx context.Context, credentialRef string) (Credentials, error)
}

// RunResult summarizes one Execute call for the scan orchestrator (C7).
type RunResult struct {
	Status        domain.RunStatus
	SyncResult    SyncResult
	BatchResult   graphstore.BatchResult
	EngramAddress engram.Address
	Err           error
}

// Execute drives one connector run through the full lifecycle described
// in spec §4.4: open engram session, resolve credentials, health-check,
// discover, normalize/apply_batch, close session. Grounded on the
// teacher's IngestWorkflow (internal/workflows/ingest.go), generalized
// from one hard-coded Naabu-specific sequence into the provider-agnostic
// contract every connector now shares.
func Execute(ctx context.Context, tenant domain.TenantID, c Connector, cfg Config, credentialRef string, resolver CredentialResolver, store graphstore.GraphStore, engrams *engram.Manager, now time.Time) RunResult {
	sessionID := uuid.NewString()
	session := engrams.Open(ctx, string(tenant), sessionID, "connector:"+c.Name(), "discover "+c.Name(), map[string]string{"connector_type": string(c.Type())}, now)

	creds, err := resolver.Resolve(ctx, credentialRef)
	if err != nil {
		session.RecordAction(now, "resolve_credentials", credentialRef, "failed", nil)
		addr, _ := session.Close(ctx, engram.OutcomeFailed, "credential resolution failed", now)
		return RunResult{Status: domain.RunFailed, EngramAddress: addr, Err: domain.NewError(domain.KindCredential, "credential_ref resolution failed", err)}
	}

	if err := c.HealthCheck(ctx, cfg, creds); err != nil {
		session.RecordDeadEnd(now, "health check failed", err.Error())
		addr, _ := session.Close(ctx, engram.OutcomeFailed, "health check failed", now)
		return RunResult{Status: domain.RunFailed, EngramAddress: addr, Err: err}
	}
	session.RecordAction(now, "health_check", c.Name(), "ok", nil)

	result, discoverErr := c.Discover(ctx, tenant, cfg, creds)
	if discoverErr != nil {
		if ctx.Err() != nil {
			session.RecordAction(now, "discover", c.Name(), "cancelled", nil)
			addr, _ := session.Close(ctx, engram.OutcomeFailed, "cancelled", now)
			return RunResult{Status: domain.RunCancelled, SyncResult: result, EngramAddress: addr, Err: domain.NewError(domain.KindCancelled, "run cancelled", ctx.Err())}
		}
		session.RecordDeadEnd(now, "discover failed", discoverErr.Error())
		addr, _ := session.Close(ctx, engram.OutcomeFailed, "discover failed", now)
		return RunResult{Status: domain.RunFailed, SyncResult: result, EngramAddress: addr, Err: discoverErr}
	}
	for _, de := range result.DeadEnds {
		session.RecordDeadEnd(now, de.Resource, de.Reason)
	}
	session.RecordAction(now, "discover", c.Name(), "ok", result.Counts())

	batchResult, err := store.ApplyBatch(ctx, tenant, result.AllNodes(), result.Edges, now)
	status := domain.RunCompleted
	outcome := engram.OutcomeSuccess
	if err != nil {
		status = domain.RunFailed
		outcome = engram.OutcomeFailed
		session.RecordDeadEnd(now, "apply_batch failed", err.Error())
	} else {
		for _, de := range batchResult.DroppedEdges {
			session.RecordDeadEnd(now, "edge dropped: "+de.Type, de.Reason)
		}
		if len(result.DeadEnds) > 0 || len(batchResult.DroppedEdges) > 0 {
			status = domain.RunPartial
			outcome = engram.OutcomePartial
		}
	}
	session.RecordAction(now, "apply_batch", c.Name(), string(status), map[string]int{
		"nodes_created": batchResult.NodesCreated, "nodes_updated": batchResult.NodesUpdated,
		"edges_created": batchResult.EdgesCreated, "edges_updated": batchResult.EdgesUpdated,
	})

	summary := "discovery completed"
	if err != nil {
		summary = "apply_batch failed: " + err.Error()
	}
	addr, closeErr := session.Close(ctx, outcome, summary, now)
	if session.Dropped() {
		// Engram buffer overflow must not silently present as a clean
		// success (spec §4.2 failure contract).
		status = domain.RunFailed
	}
	if closeErr != nil && err == nil {
		err = closeErr
	}
	return RunResult{Status: status, SyncResult: result, BatchResult: batchResult, EngramAddress: addr, Err: err}
}
