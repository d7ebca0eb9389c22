package orchestrator

import (
	"context"
	"fmt"
	"time"

	restate "github.com/restatedev/sdk-go"

	"github.com/spectra-red/sentinel/internal/connector"
	"github.com/spectra-red/sentinel/internal/domain"
)

// ConnectorRunWorkflow exposes RunConnector as a durable Restate service
// (spec §4.7/§9's "durable workflow steps" domain dependency), grounded
// on the teacher's IngestWorkflow (internal/workflows/ingest.go). The
// whole run is one restate.Run step: once it has completed, a replay
// returns its recorded result, while a crash during it re-runs the
// connector from scratch.
type ConnectorRunWorkflow struct {
	orch *Orchestrator
}

// NewConnectorRunWorkflow builds the Restate-bound wrapper around orch.
func NewConnectorRunWorkflow(orch *Orchestrator) *ConnectorRunWorkflow {
	return &ConnectorRunWorkflow{orch: orch}
}

func (w *ConnectorRunWorkflow) ServiceName() string { return "ConnectorRunWorkflow" }

// ConnectorRunWorkflowRequest is the durable-invocation request shape.
type ConnectorRunWorkflowRequest struct {
	Tenant        string
	ConnectorID   string
	ConnectorType string
	CredentialRef string
	Target        string
}

// ConnectorRunWorkflowResponse is the durable-invocation response shape.
type ConnectorRunWorkflowResponse struct {
	ScanID string
	Status string
	Error  string
}

// Run executes one connector run as a single durable step. Unlike the
// teacher's IngestWorkflow, which breaks parsing/persisting/state-update
// into separate restate.Run steps so a retry can skip already-completed
// substeps, connector.Execute already owns its own apply_batch
// boundary — wrapping
// the whole call in one restate.Run step is therefore the correct grain:
// a workflow retry re-runs the connector from scratch rather than
// resuming mid-discovery, which matches spec §4.4's retry-the-sub-unit
// policy rather than inventing step-level idempotency the connector
// contract doesn't provide.
func (w *ConnectorRunWorkflow) Run(ctx restate.Context, req ConnectorRunWorkflowRequest) (ConnectorRunWorkflowResponse, error) {
	result, err := restate.Run[RunSummary](ctx, func(runCtx restate.RunContext) (RunSummary, error) {
		summary := w.orch.RunConnector(context.Background(), ConnectorRunRequest{
			Tenant:        domain.TenantID(req.Tenant),
			ConnectorID:   req.ConnectorID,
			ConnectorType: domain.ConnectorType(req.ConnectorType),
			Config:        connector.DefaultConfig(),
			CredentialRef: req.CredentialRef,
			Target:        req.Target,
		}, nowFunc())
		if summary.Err != nil {
			return summary, fmt.Errorf("%s", summary.Err.Error())
		}
		return summary, nil
	})
	if err != nil {
		return ConnectorRunWorkflowResponse{ScanID: result.ScanID, Status: string(domain.RunFailed), Error: err.Error()}, err
	}
	return ConnectorRunWorkflowResponse{ScanID: result.ScanID, Status: string(result.Status)}, nil
}

// EnrichmentSweepWorkflow exposes RunEnrichmentSweep as a durable
// Restate service, the C6 counterpart to ConnectorRunWorkflow.
type EnrichmentSweepWorkflow struct {
	orch *Orchestrator
}

func NewEnrichmentSweepWorkflow(orch *Orchestrator) *EnrichmentSweepWorkflow {
	return &EnrichmentSweepWorkflow{orch: orch}
}

func (w *EnrichmentSweepWorkflow) ServiceName() string { return "EnrichmentSweepWorkflow" }

type EnrichmentSweepWorkflowRequest struct {
	Tenant string
}

type EnrichmentSweepWorkflowResponse struct {
	ScanID                 string
	Status                 string
	VulnerabilitiesWritten int
	Error                  string
}

func (w *EnrichmentSweepWorkflow) Run(ctx restate.Context, req EnrichmentSweepWorkflowRequest) (EnrichmentSweepWorkflowResponse, error) {
	result, err := restate.Run[RunSummary](ctx, func(runCtx restate.RunContext) (RunSummary, error) {
		summary := w.orch.RunEnrichmentSweep(context.Background(), domain.TenantID(req.Tenant), nowFunc())
		if summary.Err != nil {
			return summary, fmt.Errorf("%s", summary.Err.Error())
		}
		return summary, nil
	})
	if err != nil {
		return EnrichmentSweepWorkflowResponse{ScanID: result.ScanID, Status: string(domain.RunFailed), Error: err.Error()}, err
	}
	return EnrichmentSweepWorkflowResponse{
		ScanID: result.ScanID, Status: string(result.Status),
		VulnerabilitiesWritten: result.Counts["vulnerabilities_written"],
	}, nil
}

// nowFunc is a replaceable clock seam; Restate steps must be
// deterministic on replay, so wall-clock reads are isolated here rather
// than sprinkled through Run.
var nowFunc = func() time.Time { return time.Now().UTC() }
