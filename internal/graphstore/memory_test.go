package graphstore

import (
	"context"
	"testing"
	"time"

	"github.com/spectra-red/sentinel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertNodeCreateThenUpdatePreservesFirstSeen(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	tenant := domain.TenantID("t1")
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	host := domain.NewHost(tenant, "10.0.0.1", "web-1", "linux", "", "", "", "", domain.CriticalityMedium, nil)

	res, err := store.UpsertNode(ctx, tenant, host, t0)
	require.NoError(t, err)
	assert.True(t, res.Created)

	host2 := domain.NewHost(tenant, "10.0.0.1", "web-1-renamed", "linux", "", "", "", "", domain.CriticalityHigh, nil)
	res2, err := store.UpsertNode(ctx, tenant, host2, t1)
	require.NoError(t, err)
	assert.False(t, res2.Created)

	page, err := store.ListNodes(ctx, tenant, domain.LabelHost, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Nodes, 1)
	assert.Equal(t, "web-1-renamed", page.Nodes[0].Properties()["hostname"])
}

func TestUpsertNodeRejectsTenantMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	host := domain.NewHost("t1", "10.0.0.1", "", "", "", "", "", "", domain.CriticalityLow, nil)
	_, err := store.UpsertNode(ctx, "t2", host, time.Now())
	require.Error(t, err)
}

func TestUpsertEdgeFailsWhenEndpointMissing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	tenant := domain.TenantID("t1")
	now := time.Now().UTC()

	host := domain.NewHost(tenant, "10.0.0.1", "", "", "", "", "", "", domain.CriticalityLow, nil)
	_, err := store.UpsertNode(ctx, tenant, host, now)
	require.NoError(t, err)

	edge := domain.Edge{
		TenantID: tenant, Type: domain.EdgeBelongsToSubnet,
		SourceID: host.ID(), SourceLabel: domain.LabelHost,
		TargetID: "does-not-exist", TargetLabel: domain.LabelSubnet,
	}
	_, err = store.UpsertEdge(ctx, tenant, edge, now)
	require.Error(t, err)
}

func TestApplyBatchOrdersNodesBeforeEdges(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	tenant := domain.TenantID("t1")
	now := time.Now().UTC()

	host := domain.NewHost(tenant, "10.0.0.1", "", "", "", "", "", "", domain.CriticalityLow, nil)
	subnet := domain.NewSubnet(tenant, "10.0.0.0/24", "us-east-1", false)
	edge := domain.Edge{
		TenantID: tenant, Type: domain.EdgeBelongsToSubnet,
		SourceID: host.ID(), SourceLabel: domain.LabelHost,
		TargetID: subnet.ID(), TargetLabel: domain.LabelSubnet,
	}

	result, err := store.ApplyBatch(ctx, tenant, []domain.Node{host, subnet}, []domain.Edge{edge}, now)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NodesCreated)
	assert.Equal(t, 1, result.EdgesCreated)
}

func TestApplyBatchDropsMissingEndpointEdgesButAppliesTheRest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	tenant := domain.TenantID("t1")
	now := time.Now().UTC()

	host := domain.NewHost(tenant, "10.0.0.1", "", "", "", "", "", "", domain.CriticalityLow, nil)
	subnet := domain.NewSubnet(tenant, "10.0.0.0/24", "us-east-1", false)
	goodEdge := domain.Edge{
		TenantID: tenant, Type: domain.EdgeBelongsToSubnet,
		SourceID: host.ID(), SourceLabel: domain.LabelHost,
		TargetID: subnet.ID(), TargetLabel: domain.LabelSubnet,
	}
	danglingEdge := domain.Edge{
		TenantID: tenant, Type: domain.EdgeBelongsToSubnet,
		SourceID: host.ID(), SourceLabel: domain.LabelHost,
		TargetID: "does-not-exist", TargetLabel: domain.LabelSubnet,
	}

	result, err := store.ApplyBatch(ctx, tenant, []domain.Node{host, subnet}, []domain.Edge{danglingEdge, goodEdge}, now)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NodesCreated)
	assert.Equal(t, 1, result.EdgesCreated)
	require.Len(t, result.DroppedEdges, 1)
	assert.Equal(t, "does-not-exist", result.DroppedEdges[0].Target)

	out, err := store.Neighbors(ctx, tenant, host.ID(), DirOut, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.LabelSubnet, out[0].Label())
}

func TestListNodesRejectsTenantIDFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	_, err := store.ListNodes(ctx, "t1", domain.LabelHost, Filter{"tenant_id": "t2"}, 10, 0)
	require.ErrorIs(t, err, ErrTenantFilterForbidden)
}

func TestSweepStaleMarksOldNodesOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	tenant := domain.TenantID("t1")
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cutoff := old.Add(24 * time.Hour)
	now := old.Add(48 * time.Hour)

	host := domain.NewHost(tenant, "10.0.0.1", "", "", "", "", "", "", domain.CriticalityLow, nil)
	_, err := store.UpsertNode(ctx, tenant, host, old)
	require.NoError(t, err)

	n, err := store.SweepStale(ctx, tenant, domain.LabelHost, cutoff, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Idempotent: a second sweep over the same window finds nothing new.
	n2, err := store.SweepStale(ctx, tenant, domain.LabelHost, cutoff, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n2)
}

func TestNeighborsRespectsDirectionAndEdgeTypeFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	tenant := domain.TenantID("t1")
	now := time.Now().UTC()

	host := domain.NewHost(tenant, "10.0.0.1", "", "", "", "", "", "", domain.CriticalityLow, nil)
	subnet := domain.NewSubnet(tenant, "10.0.0.0/24", "us-east-1", false)
	_, _ = store.UpsertNode(ctx, tenant, host, now)
	_, _ = store.UpsertNode(ctx, tenant, subnet, now)
	edge := domain.Edge{TenantID: tenant, Type: domain.EdgeBelongsToSubnet, SourceID: host.ID(), SourceLabel: domain.LabelHost, TargetID: subnet.ID(), TargetLabel: domain.LabelSubnet}
	_, err := store.UpsertEdge(ctx, tenant, edge, now)
	require.NoError(t, err)

	out, err := store.Neighbors(ctx, tenant, host.ID(), DirOut, []domain.EdgeType{domain.EdgeBelongsToSubnet})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.LabelSubnet, out[0].Label())

	in, err := store.Neighbors(ctx, tenant, host.ID(), DirIn, nil)
	require.NoError(t, err)
	assert.Empty(t, in)
}

type recordingBus struct {
	events []string
}

func (b *recordingBus) Publish(_ context.Context, _ domain.TenantID, topic string, _ map[string]any) {
	b.events = append(b.events, topic)
}

func TestEventsPublishedInOrder(t *testing.T) {
	ctx := context.Background()
	bus := &recordingBus{}
	store := NewMemoryStore(bus)
	tenant := domain.TenantID("t1")
	now := time.Now().UTC()

	host := domain.NewHost(tenant, "10.0.0.1", "", "", "", "", "", "", domain.CriticalityLow, nil)
	_, err := store.UpsertNode(ctx, tenant, host, now)
	require.NoError(t, err)
	_, err = store.UpsertNode(ctx, tenant, host, now)
	require.NoError(t, err)

	require.Len(t, bus.events, 2)
	assert.Equal(t, "NodeDiscovered", bus.events[0])
	assert.Equal(t, "NodeUpdated", bus.events[1])
}
