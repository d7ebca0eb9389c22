package graphstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spectra-red/sentinel/internal/domain"
)

type storedNode struct {
	node      domain.Node
	firstSeen time.Time
	lastSeen  time.Time
	stale     bool
}

type storedEdge struct {
	edge     domain.Edge
	firstSeen time.Time
	lastSeen time.Time
}

// MemoryStore is an in-process GraphStore implementation used by unit
// tests across C4/C6/C7. It enforces the
// same tenant-isolation and batch-ordering invariants as the SurrealDB
// adapter (I1, I3, §4.3 concurrency contract) so behavior under test
// matches production.
type MemoryStore struct {
	mu    sync.Mutex
	nodes map[domain.TenantID]map[string]*storedNode // keyed by natural_key
	edges map[domain.TenantID]map[string]*storedEdge // keyed by EdgeNaturalKey
	bus   EventBus
}

func NewMemoryStore(bus EventBus) *MemoryStore {
	if bus == nil {
		bus = NopEventBus{}
	}
	return &MemoryStore{
		nodes: make(map[domain.TenantID]map[string]*storedNode),
		edges: make(map[domain.TenantID]map[string]*storedEdge),
		bus:   bus,
	}
}

func (m *MemoryStore) tenantNodes(tenant domain.TenantID) map[string]*storedNode {
	tn, ok := m.nodes[tenant]
	if !ok {
		tn = make(map[string]*storedNode)
		m.nodes[tenant] = tn
	}
	return tn
}

func (m *MemoryStore) tenantEdges(tenant domain.TenantID) map[string]*storedEdge {
	te, ok := m.edges[tenant]
	if !ok {
		te = make(map[string]*storedEdge)
		m.edges[tenant] = te
	}
	return te
}

func (m *MemoryStore) UpsertNode(ctx context.Context, tenant domain.TenantID, node domain.Node, now time.Time) (UpsertResult, error) {
	if err := requireSameTenant(tenant, node.Tenant()); err != nil {
		return UpsertResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tn := m.tenantNodes(tenant)
	key := node.NaturalKey()
	existing, found := tn[key]
	if !found {
		tn[key] = &storedNode{node: node, firstSeen: now, lastSeen: now}
		m.bus.Publish(ctx, tenant, "NodeDiscovered", map[string]any{"id": node.ID(), "label": string(node.Label())})
		return UpsertResult{Created: true, ID: node.ID()}, nil
	}
	existing.node = node
	existing.stale = false
	if now.After(existing.lastSeen) {
		existing.lastSeen = now
	}
	// first_seen is left untouched (spec §4.3 upsert_node contract).
	m.bus.Publish(ctx, tenant, "NodeUpdated", map[string]any{"id": node.ID(), "label": string(node.Label())})
	return UpsertResult{Created: false, ID: node.ID()}, nil
}

func (m *MemoryStore) UpsertEdge(ctx context.Context, tenant domain.TenantID, edge domain.Edge, now time.Time) (UpsertResult, error) {
	if err := requireSameTenant(tenant, edge.TenantID); err != nil {
		return UpsertResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkEndpointsLocked(tenant, edge); err != nil {
		return UpsertResult{}, err
	}
	te := m.tenantEdges(tenant)
	key := edge.EdgeNaturalKey()
	existing, found := te[key]
	if !found {
		te[key] = &storedEdge{edge: edge, firstSeen: now, lastSeen: now}
		m.bus.Publish(ctx, tenant, "EdgeDiscovered", map[string]any{"type": string(edge.Type), "source": edge.SourceID, "target": edge.TargetID})
		return UpsertResult{Created: true}, nil
	}
	existing.edge = edge
	if now.After(existing.lastSeen) {
		existing.lastSeen = now
	}
	return UpsertResult{Created: false}, nil
}

// checkEndpointsLocked requires m.mu already held.
func (m *MemoryStore) checkEndpointsLocked(tenant domain.TenantID, edge domain.Edge) error {
	tn := m.tenantNodes(tenant)
	if _, ok := tn[edge.SourceID]; !ok {
		if !m.hasNodeByIDLocked(tenant, edge.SourceID) {
			return domain.NewError(domain.KindEndpointMissing, "edge source endpoint missing", domain.ErrEndpointMissing)
		}
	}
	if !m.hasNodeByIDLocked(tenant, edge.TargetID) {
		return domain.NewError(domain.KindEndpointMissing, "edge target endpoint missing", domain.ErrEndpointMissing)
	}
	return nil
}

// hasNodeByIDLocked checks by node.ID() rather than natural_key, since
// edges reference nodes by their resolved graph ID (== natural key in
// this engine's design, domain.Node.ID() == NaturalKey()).
func (m *MemoryStore) hasNodeByIDLocked(tenant domain.TenantID, id string) bool {
	for _, sn := range m.nodes[tenant] {
		if sn.node.ID() == id {
			return true
		}
	}
	return false
}

func (m *MemoryStore) ListNodes(ctx context.Context, tenant domain.TenantID, label domain.Label, filter Filter, limit, offset int) (Page, error) {
	if _, forbidden := filter["tenant_id"]; forbidden {
		return Page{}, ErrTenantFilterForbidden
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []domain.Node
	for _, sn := range m.tenantNodes(tenant) {
		if sn.node.Label() != label {
			continue
		}
		if !matchesFilter(sn.node.Properties(), filter) {
			continue
		}
		matched = append(matched, sn.node)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID() < matched[j].ID() })
	total := len(matched)
	end := offset + limit
	if end > total {
		end = total
	}
	var page []domain.Node
	if offset < total {
		page = matched[offset:end]
	}
	hasMore := total > offset+len(page)
	next := 0
	if hasMore {
		next = offset + limit
	}
	return Page{Nodes: page, Total: total, Limit: limit, Offset: offset, HasMore: hasMore, NextOffset: next}, nil
}

func matchesFilter(props map[string]any, filter Filter) bool {
	for k, v := range filter {
		if props[k] != v {
			return false
		}
	}
	return true
}

func (m *MemoryStore) Neighbors(ctx context.Context, tenant domain.TenantID, nodeID string, dir Direction, edgeTypes []domain.EdgeType) ([]domain.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[domain.EdgeType]bool, len(edgeTypes))
	for _, t := range edgeTypes {
		wanted[t] = true
	}
	var neighborIDs []string
	for _, se := range m.tenantEdges(tenant) {
		if len(wanted) > 0 && !wanted[se.edge.Type] {
			continue
		}
		switch dir {
		case DirOut:
			if se.edge.SourceID == nodeID {
				neighborIDs = append(neighborIDs, se.edge.TargetID)
			}
		case DirIn:
			if se.edge.TargetID == nodeID {
				neighborIDs = append(neighborIDs, se.edge.SourceID)
			}
		default:
			if se.edge.SourceID == nodeID {
				neighborIDs = append(neighborIDs, se.edge.TargetID)
			}
			if se.edge.TargetID == nodeID {
				neighborIDs = append(neighborIDs, se.edge.SourceID)
			}
		}
	}
	var out []domain.Node
	for _, sn := range m.tenantNodes(tenant) {
		for _, nid := range neighborIDs {
			if sn.node.ID() == nid {
				out = append(out, sn.node)
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) Search(ctx context.Context, tenant domain.TenantID, index string, q string, limit int) ([]domain.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q = strings.ToLower(q)
	var out []domain.Node
	for _, sn := range m.tenantNodes(tenant) {
		for _, v := range sn.node.Properties() {
			s, ok := v.(string)
			if ok && strings.Contains(strings.ToLower(s), q) {
				out = append(out, sn.node)
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Stats(ctx context.Context, tenant domain.TenantID) (StatsResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := make(StatsResult)
	for _, sn := range m.tenantNodes(tenant) {
		stats[sn.node.Label()]++
	}
	return stats, nil
}

func (m *MemoryStore) SweepStale(ctx context.Context, tenant domain.TenantID, label domain.Label, olderThan time.Time, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, sn := range m.tenantNodes(tenant) {
		if sn.node.Label() != label {
			continue
		}
		if sn.lastSeen.Before(olderThan) && !sn.stale {
			sn.stale = true
			count++
			m.bus.Publish(ctx, tenant, "NodeStale", map[string]any{"id": sn.node.ID(), "label": string(label)})
		}
	}
	return count, nil
}

// ApplyBatch applies nodes in (label, natural_key) order, then edges,
// checking each edge's endpoints as it is applied. Each upsert takes the
// store lock on its own, so the batch is not isolated from concurrent
// writers, and an error partway through leaves the upserts already made
// in place.
func (m *MemoryStore) ApplyBatch(ctx context.Context, tenant domain.TenantID, nodes []domain.Node, edges []domain.Edge, now time.Time) (BatchResult, error) {
	ordered := make([]domain.Node, len(nodes))
	copy(ordered, nodes)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Label() != ordered[j].Label() {
			return ordered[i].Label() < ordered[j].Label()
		}
		return ordered[i].NaturalKey() < ordered[j].NaturalKey()
	})

	var result BatchResult
	for _, n := range ordered {
		res, err := m.UpsertNode(ctx, tenant, n, now)
		if err != nil {
			return result, err
		}
		if res.Created {
			result.NodesCreated++
		} else {
			result.NodesUpdated++
		}
	}
	for _, e := range edges {
		res, err := m.UpsertEdge(ctx, tenant, e, now)
		if err != nil {
			if kind, ok := domain.KindOf(err); ok && kind == domain.KindEndpointMissing {
				result.DroppedEdges = append(result.DroppedEdges, EdgeDeadEnd{
					Type: string(e.Type), Source: e.SourceID, Target: e.TargetID, Reason: err.Error(),
				})
				continue
			}
			return result, err
		}
		if res.Created {
			result.EdgesCreated++
		} else {
			result.EdgesUpdated++
		}
	}
	return result, nil
}

func requireSameTenant(expected, actual domain.TenantID) error {
	if expected != actual {
		return domain.NewError(domain.KindSchemaMismatch, "node/edge tenant does not match caller tenant", domain.ErrTenantMismatch)
	}
	return nil
}
