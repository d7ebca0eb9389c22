package enrichment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/spectra-red/sentinel/internal/connector"
	"github.com/spectra-red/sentinel/internal/domain"
	"github.com/spectra-red/sentinel/internal/engram"
	"github.com/spectra-red/sentinel/internal/graphstore"
)

// DefaultPageSize bounds how many Service nodes the sweep pages
// through at once (spec §4.6 step 2).
const DefaultPageSize = 100

// Orchestrator implements the C6 enrichment sweep (spec §4.6): it pages
// Service nodes out of C3, resolves each to candidate CPEs, queries the
// three intel sources, and writes Vulnerability nodes + HAS_CVE edges
// back through C3. Grounded on connector.Execute's engram-session
// lifecycle (internal/connector/run.go), generalized from one
// connector run to one enrichment sweep per spec §4.2 ("Responsibility:
// record the reasoning trail of exactly one unit of work (one
// connector run, one enrichment sweep)").
type Orchestrator struct {
	Store    graphstore.GraphStore
	Engrams  *engram.Manager
	Bus      graphstore.EventBus
	KEV      *KEVClient
	NVD      *NVDClient
	EPSS     *EPSSClient
	PageSize int
}

// SweepResult summarizes one Sweep call for the scan orchestrator (C7).
type SweepResult struct {
	Status                 domain.RunStatus
	ServicesScanned        int
	ServicesWithoutMapping int
	VulnerabilitiesWritten int
	NetNewPairings         int
	EngramAddress          engram.Address
	Err                    error
}

// Sweep runs one complete enrichment pass for tenant. Grouped per spec
// §4.6's 6-step sequence; a failure in any one intel source degrades
// (missing fields stay null) rather than aborting the whole sweep: the
// failure is recorded as a dead-end in the engram and the session closes
// partial. Such source failures are not returned in SweepResult.Err,
// which is set only for a cancelled sweep, a failed service listing or
// a failed session close.
func (o *Orchestrator) Sweep(ctx context.Context, tenant domain.TenantID, now time.Time) SweepResult {
	bus := o.Bus
	if bus == nil {
		bus = graphstore.NopEventBus{}
	}
	pageSize := o.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	session := o.Engrams.Open(ctx, string(tenant), uuid.NewString(), "enrichment", "enrichment sweep", nil, now)

	// KEV is refreshed once up front per spec §5's single-refresher
	// discipline; a stale-but-present catalog is preferable to blocking
	// the whole sweep on a KEV outage, so a refresh failure is recorded
	// but does not abort the sweep (Lookup still serves whatever was
	// last cached, possibly nothing on a cold start).
	degraded := false
	if err := o.KEV.RefreshIfStale(ctx); err != nil {
		session.RecordDeadEnd(now, "KEV catalog refresh failed", err.Error())
		degraded = true
	}

	result := SweepResult{Status: domain.RunCompleted}
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			session.RecordAction(now, "sweep", string(tenant), "cancelled", nil)
			addr, _ := session.Close(ctx, engram.OutcomeFailed, "cancelled", now)
			return SweepResult{Status: domain.RunCancelled, EngramAddress: addr, Err: domain.NewError(domain.KindCancelled, "sweep cancelled", err)}
		}

		page, err := o.Store.ListNodes(ctx, tenant, domain.LabelService, nil, pageSize, offset)
		if err != nil {
			session.RecordDeadEnd(now, "list_nodes(Service) failed", err.Error())
			addr, _ := session.Close(ctx, engram.OutcomeFailed, "listing services failed", now)
			return SweepResult{Status: domain.RunFailed, EngramAddress: addr, Err: err}
		}

		batchDegraded := o.processBatch(ctx, tenant, session, bus, page.Nodes, now, &result)
		degraded = degraded || batchDegraded

		if !page.HasMore {
			break
		}
		offset = page.NextOffset
	}

	outcome := engram.OutcomeSuccess
	if degraded {
		result.Status = domain.RunPartial
		outcome = engram.OutcomePartial
	}
	session.RecordAction(now, "sweep", string(tenant), string(result.Status), map[string]int{
		"services_scanned":        result.ServicesScanned,
		"services_without_mapping": result.ServicesWithoutMapping,
		"vulnerabilities_written":  result.VulnerabilitiesWritten,
		"net_new_pairings":         result.NetNewPairings,
	})
	addr, closeErr := session.Close(ctx, outcome, "enrichment sweep completed", now)
	if session.Dropped() {
		result.Status = domain.RunFailed
	}
	result.EngramAddress = addr
	if closeErr != nil && result.Err == nil {
		result.Err = closeErr
	}
	return result
}

// processBatch resolves CPEs, queries the three intel sources and
// writes Vulnerability nodes + HAS_CVE edges for one page of services.
// Returns true if any part of the batch degraded gracefully (a source
// failure, an unmapped service).
func (o *Orchestrator) processBatch(ctx context.Context, tenant domain.TenantID, session *engram.SessionHandle, bus graphstore.EventBus, services []domain.Node, now time.Time, result *SweepResult) bool {
	degraded := false

	type candidate struct {
		service domain.Service
		cpes    []CPEIdentifier
	}
	var candidates []candidate
	cveItemsByCPE := make(map[string][]CVEItem)

	for _, n := range services {
		svc, ok := n.(domain.Service)
		if !ok {
			continue
		}
		result.ServicesScanned++

		cpes := GenerateCPE(svc)
		if len(cpes) == 0 {
			result.ServicesWithoutMapping++
			session.RecordDeadEnd(now, "service has no CPE mapping", svc.ID())
			degraded = true
			continue
		}
		candidates = append(candidates, candidate{service: svc, cpes: cpes})

		for _, cpe := range cpes {
			if _, seen := cveItemsByCPE[cpe.CPE]; seen {
				continue
			}
			items, err := o.NVD.QueryByCPE(ctx, cpe.CPE)
			if err != nil {
				session.RecordDeadEnd(now, "NVD query failed for "+cpe.CPE, err.Error())
				degraded = true
				cveItemsByCPE[cpe.CPE] = nil
				continue
			}
			cveItemsByCPE[cpe.CPE] = items
		}
	}

	if len(candidates) == 0 {
		return degraded
	}

	cveIndex := make(map[string]CVEItem)
	cveIDSet := make(map[string]struct{})
	for _, items := range cveItemsByCPE {
		for _, item := range items {
			cveIndex[item.CVEID] = item
			cveIDSet[item.CVEID] = struct{}{}
		}
	}
	cveIDs := make([]string, 0, len(cveIDSet))
	for id := range cveIDSet {
		cveIDs = append(cveIDs, id)
	}

	var epssScores map[string]float64
	if len(cveIDs) > 0 {
		var err error
		epssScores, err = o.EPSS.Scores(ctx, cveIDs)
		if err != nil {
			session.RecordDeadEnd(now, "EPSS batch query failed", err.Error())
			degraded = true
		}
	}

	for _, c := range candidates {
		seenCVEs := make(map[string]bool)
		for _, cpe := range c.cpes {
			for _, item := range cveItemsByCPE[cpe.CPE] {
				if seenCVEs[item.CVEID] {
					continue
				}
				seenCVEs[item.CVEID] = true
				o.writeVulnerability(ctx, tenant, session, bus, c.service, item, epssScores, now, result)
			}
		}
	}

	return degraded
}

// writeVulnerability constructs/updates one Vulnerability node and its
// HAS_CVE edge from svc, per spec §4.6 step 5. Emits VulnerabilityFound
// only when the edge itself is net-new.
func (o *Orchestrator) writeVulnerability(ctx context.Context, tenant domain.TenantID, session *engram.SessionHandle, bus graphstore.EventBus, svc domain.Service, item CVEItem, epssScores map[string]float64, now time.Time, result *SweepResult) {
	v := domain.NewVulnerability(tenant, item.CVEID)
	v.Description = item.Description
	v.CVSSVector = item.CVSSVector
	if item.CVSSScore > 0 {
		score := item.CVSSScore
		v.CVSSScore = &score
		v.Severity = domain.SeverityFromCVSS(score)
	} else {
		v.Severity = domain.SeverityNone
	}
	if !item.Published.IsZero() {
		v.PublishedDate = item.Published.Format("2006-01-02")
	}
	if inKEV, _ := o.KEV.Lookup(item.CVEID); inKEV {
		v.InKEV = true
	}
	var epssScore *float64
	if score, ok := epssScores[item.CVEID]; ok {
		s := score
		epssScore = &s
		v.EPSSScore = &s
	}
	v.Exploitable = v.Actionable()

	if err := domain.ValidateVulnerability(v); err != nil {
		session.RecordDeadEnd(now, "vulnerability failed invariant validation for "+item.CVEID, err.Error())
		return
	}

	if _, err := o.Store.UpsertNode(ctx, tenant, v, now); err != nil {
		session.RecordDeadEnd(now, "upsert_node(Vulnerability) failed for "+item.CVEID, err.Error())
		return
	}

	var attrs map[string]any
	if epssScore != nil {
		attrs = map[string]any{"exploitability_score": *epssScore}
	}
	edgeResult, err := o.Store.UpsertEdge(ctx, tenant, connector.MakeEdge(tenant, svc, v, domain.EdgeHasCVE, attrs), now)
	if err != nil {
		session.RecordDeadEnd(now, "upsert_edge(HAS_CVE) failed for "+item.CVEID, err.Error())
		return
	}

	result.VulnerabilitiesWritten++
	if edgeResult.Created {
		result.NetNewPairings++
		bus.Publish(ctx, tenant, "VulnerabilityFound", map[string]any{
			"service_id": svc.ID(), "cve_id": item.CVEID, "severity": string(v.Severity), "exploitable": v.Exploitable,
		})
	}
}
