package graphstore

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/spectra-red/sentinel/internal/domain"
	"github.com/surrealdb/surrealdb.go"
	"go.uber.org/zap"
)

// maxContentionRetries bounds the backend-contention retry loop (spec
// §4.3: "at most five attempts").
const maxContentionRetries = 5

// SurrealStore is the production GraphStore backed by SurrealDB,
// grounded directly on the teacher's GraphQueryExecutor
// (internal/db/graph.go) and the upsert/RELATE idiom of
// internal/workflows/ingest.go, generalized from the teacher's
// single host/port/service/vuln schema to every domain node/edge
// variant via a table-per-label convention (`type::thing(label, id)`).
type SurrealStore struct {
	db     *surrealdb.DB
	logger *zap.Logger
	bus    EventBus
}

func NewSurrealStore(db *surrealdb.DB, logger *zap.Logger, bus EventBus) *SurrealStore {
	if bus == nil {
		bus = NopEventBus{}
	}
	return &SurrealStore{db: db, logger: logger, bus: bus}
}

// withContentionRetry runs fn with bounded exponential backoff,
// retrying only on transient backend contention, matching the error
// classification convention in domain.IsRetryable.
func withContentionRetry(ctx context.Context, logger *zap.Logger, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxContentionRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !domain.IsRetryable(lastErr) {
			return lastErr
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * 50 * time.Millisecond
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2 + 1))
		logger.Warn("graph store contention, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff+jitter),
			zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return lastErr
}

func (s *SurrealStore) UpsertNode(ctx context.Context, tenant domain.TenantID, node domain.Node, now time.Time) (UpsertResult, error) {
	if err := requireSameTenant(tenant, node.Tenant()); err != nil {
		return UpsertResult{}, err
	}
	table := tableFor(node.Label())
	props := node.Properties()
	props["tenant_id"] = string(tenant)
	props["last_seen"] = now
	props["fingerprint_id"] = node.ID()

	probe, err := surrealdb.Query[[]map[string]interface{}](ctx, s.db, `SELECT id FROM type::thing($table, $id)`, map[string]interface{}{
		"table": table, "id": node.ID(),
	})
	if err != nil {
		return UpsertResult{}, domain.NewError(domain.KindTransient, "surreal upsert_node existence probe failed", err)
	}
	created := len(extractRows(probe)) == 0

	var result UpsertResult
	err = withContentionRetry(ctx, s.logger, func() error {
		query := fmt.Sprintf(`
			LET $thing = type::thing('%s', $id);
			LET $existing = (SELECT * FROM $thing);
			IF array::len($existing) == 0 THEN (
				CREATE $thing CONTENT $content
			) ELSE (
				UPDATE $thing MERGE $merge
			) END;
		`, table)

		merge := map[string]interface{}{}
		for k, v := range props {
			if k != "first_seen" {
				merge[k] = v
			}
		}
		content := map[string]interface{}{}
		for k, v := range props {
			content[k] = v
		}
		content["first_seen"] = now

		_, err := surrealdb.Query[interface{}](ctx, s.db, query, map[string]interface{}{
			"id":      node.ID(),
			"content": content,
			"merge":   merge,
		})
		if err != nil {
			return domain.NewError(domain.KindTransient, "surreal upsert_node failed", err)
		}
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	if err := s.upsertNodeIndex(ctx, tenant, node.Label(), node.ID()); err != nil {
		// node_index is a routing aid, not the source of truth; log and
		// continue rather than fail the whole upsert over it.
		s.logger.Warn("node_index upsert failed", zap.String("id", node.ID()), zap.Error(err))
	}

	// As in the teacher's ingest.go, a separate existence probe (above,
	// before the write) decides "created"; the write itself folds
	// CREATE vs UPDATE into one round trip via the IF/ELSE.
	result = UpsertResult{Created: created, ID: node.ID()}
	topic := "NodeDiscovered"
	if !created {
		topic = "NodeUpdated"
	}
	s.bus.Publish(ctx, tenant, topic, map[string]any{"id": node.ID(), "label": string(node.Label())})
	return result, nil
}

func (s *SurrealStore) UpsertEdge(ctx context.Context, tenant domain.TenantID, edge domain.Edge, now time.Time) (UpsertResult, error) {
	if err := requireSameTenant(tenant, edge.TenantID); err != nil {
		return UpsertResult{}, err
	}
	if edge.SourceLabel == "" || edge.TargetLabel == "" {
		return UpsertResult{}, domain.NewError(domain.KindSchemaMismatch, "edge missing endpoint label for table routing", nil)
	}

	err := withContentionRetry(ctx, s.logger, func() error {
		existsQuery := `
			LET $source = type::thing($source_table, $source_id);
			LET $target = type::thing($target_table, $target_id);
			SELECT * FROM $source; SELECT * FROM $target;
		`
		endpoints, err := surrealdb.Query[[]map[string]interface{}](ctx, s.db, existsQuery, map[string]interface{}{
			"source_table": tableFor(edge.SourceLabel), "source_id": edge.SourceID,
			"target_table": tableFor(edge.TargetLabel), "target_id": edge.TargetID,
		})
		if err != nil {
			return domain.NewError(domain.KindTransient, "surreal endpoint check failed", err)
		}
		if endpoints == nil || len(*endpoints) < 2 {
			return domain.NewError(domain.KindEndpointMissing, "edge endpoint missing", domain.ErrEndpointMissing)
		}
		sourceRows, targetRows := (*endpoints)[0], (*endpoints)[1]
		if sourceRows.Error != nil || targetRows.Error != nil || len(sourceRows.Result) == 0 || len(targetRows.Result) == 0 {
			return domain.NewError(domain.KindEndpointMissing, "edge endpoint missing", domain.ErrEndpointMissing)
		}

		relateQuery := `
			LET $source = type::thing($source_table, $source_id);
			LET $target = type::thing($target_table, $target_id);
			LET $existing = (SELECT * FROM $source_table->$edge_table->$target_table WHERE in = $source AND out = $target);
			IF array::len($existing) == 0 THEN (
				RELATE $source->type::table($edge_table)->$target CONTENT $content
			) ELSE (
				UPDATE $source->type::table($edge_table)->$target MERGE $content
			) END;
		`
		content := map[string]interface{}{"last_seen": now, "tenant_id": string(tenant)}
		for k, v := range edge.Attrs {
			content[k] = v
		}
		_, err = surrealdb.Query[interface{}](ctx, s.db, relateQuery, map[string]interface{}{
			"source_table": tableFor(edge.SourceLabel),
			"source_id":    edge.SourceID,
			"target_table": tableFor(edge.TargetLabel),
			"target_id":    edge.TargetID,
			"edge_table":   string(edge.Type),
			"content":      content,
		})
		if err != nil {
			return domain.NewError(domain.KindTransient, "surreal upsert_edge failed", err)
		}
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	s.bus.Publish(ctx, tenant, "EdgeDiscovered", map[string]any{"type": string(edge.Type), "source": edge.SourceID, "target": edge.TargetID})
	return UpsertResult{Created: true}, nil
}

func (s *SurrealStore) ListNodes(ctx context.Context, tenant domain.TenantID, label domain.Label, filter Filter, limit, offset int) (Page, error) {
	if _, forbidden := filter["tenant_id"]; forbidden {
		return Page{}, ErrTenantFilterForbidden
	}
	table := tableFor(label)
	where := "WHERE tenant_id = $tenant"
	params := map[string]interface{}{"tenant": string(tenant), "limit": limit, "offset": offset}
	for k, v := range filter {
		where += fmt.Sprintf(" AND %s = $%s", k, k)
		params[k] = v
	}
	query := fmt.Sprintf(`SELECT * FROM %s %s ORDER BY last_seen DESC LIMIT $limit START $offset`, table, where)

	start := time.Now()
	result, err := surrealdb.Query[[]map[string]interface{}](ctx, s.db, query, params)
	if err != nil {
		return Page{}, domain.NewError(domain.KindTransient, "surreal list_nodes failed", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		s.logger.Warn("slow query detected", zap.String("label", string(label)), zap.Duration("elapsed", elapsed))
	}

	rows := extractRows(result)
	nodes := make([]domain.Node, 0, len(rows))
	for _, row := range rows {
		n, err := decodeNode(label, tenant, str(row, "fingerprint_id"), row)
		if err != nil {
			return Page{}, err
		}
		nodes = append(nodes, n)
	}
	total := len(rows) // rows on this page only; no COUNT() query is issued, so Total is not the count across pages
	hasMore := total == limit // heuristic: a full page suggests more may follow
	next := 0
	if hasMore {
		next = offset + limit
	}
	return Page{Nodes: nodes, Total: total, Limit: limit, Offset: offset, HasMore: hasMore, NextOffset: next}, nil
}

// Neighbors resolves nodeID's owning table via the node_index lookup
// table (maintained alongside every UpsertNode call, see upsertNodeIndex)
// before traversing, since bare fingerprint IDs do not themselves carry
// table/label information.
func (s *SurrealStore) Neighbors(ctx context.Context, tenant domain.TenantID, nodeID string, dir Direction, edgeTypes []domain.EdgeType) ([]domain.Node, error) {
	label, err := s.resolveLabel(ctx, tenant, nodeID)
	if err != nil {
		return nil, err
	}
	arrow := "->"
	if dir == DirIn {
		arrow = "<-"
	}
	edgeFilter := ""
	if len(edgeTypes) > 0 {
		names := make([]string, len(edgeTypes))
		for i, et := range edgeTypes {
			names[i] = string(et)
		}
		edgeFilter = fmt.Sprintf("(%s)", joinEdgeTypes(names))
	} else {
		edgeFilter = "?"
	}
	query := fmt.Sprintf(`SELECT %s%s%s.* AS neighbor FROM type::thing($table, $id)`, arrow, edgeFilter, arrow)
	result, err := surrealdb.Query[[]map[string]interface{}](ctx, s.db, query, map[string]interface{}{
		"table": tableFor(label),
		"id":    nodeID,
	})
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "surreal neighbors failed", err)
	}
	rows := extractRows(result)
	out := make([]domain.Node, 0, len(rows))
	for _, row := range rows {
		nLabel := domain.Label(str(row, "label"))
		n, err := decodeNode(nLabel, tenant, str(row, "fingerprint_id"), row)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func joinEdgeTypes(names []string) string {
	out := names[0]
	for _, n := range names[1:] {
		out += "," + n
	}
	return out
}

// resolveLabel looks up which table a bare fingerprint ID lives in via
// the node_index table maintained by upsertNodeIndex.
func (s *SurrealStore) resolveLabel(ctx context.Context, tenant domain.TenantID, id string) (domain.Label, error) {
	query := `SELECT label FROM node_index WHERE tenant_id = $tenant AND fingerprint_id = $id LIMIT 1`
	result, err := surrealdb.Query[[]map[string]interface{}](ctx, s.db, query, map[string]interface{}{"tenant": string(tenant), "id": id})
	if err != nil {
		return "", domain.NewError(domain.KindTransient, "surreal node_index lookup failed", err)
	}
	rows := extractRows(result)
	if len(rows) == 0 {
		return "", domain.NewError(domain.KindSchemaMismatch, "unknown node id", domain.ErrNodeNotFound)
	}
	return domain.Label(str(rows[0], "label")), nil
}

// upsertNodeIndex maintains the id->label routing index a bare
// fingerprint ID needs for Neighbors/edge-endpoint lookups, since
// fingerprints (internal/domain.Fingerprint) carry no table information
// of their own.
func (s *SurrealStore) upsertNodeIndex(ctx context.Context, tenant domain.TenantID, label domain.Label, id string) error {
	query := `
		LET $thing = type::thing('node_index', $id);
		UPDATE $thing MERGE { tenant_id: $tenant, label: $label, fingerprint_id: $id } ON DUPLICATE KEY UPDATE label = $label;
	`
	_, err := surrealdb.Query[interface{}](ctx, s.db, query, map[string]interface{}{
		"id": id, "tenant": string(tenant), "label": string(label),
	})
	if err != nil {
		return domain.NewError(domain.KindTransient, "surreal node_index upsert failed", err)
	}
	return nil
}

func (s *SurrealStore) Search(ctx context.Context, tenant domain.TenantID, index string, q string, limit int) ([]domain.Node, error) {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE tenant_id = $tenant AND %s @@ $q LIMIT $limit`, index, index)
	result, err := surrealdb.Query[[]map[string]interface{}](ctx, s.db, query, map[string]interface{}{
		"tenant": string(tenant), "q": q, "limit": limit,
	})
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "surreal search failed", err)
	}
	rows := extractRows(result)
	out := make([]domain.Node, 0, len(rows))
	for _, row := range rows {
		label := domain.Label(index) // by convention, index name matches its label's table
		n, err := decodeNode(label, tenant, str(row, "fingerprint_id"), row)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *SurrealStore) Stats(ctx context.Context, tenant domain.TenantID) (StatsResult, error) {
	stats := make(StatsResult)
	for _, label := range allLabels() {
		query := fmt.Sprintf(`SELECT count() FROM %s WHERE tenant_id = $tenant GROUP ALL`, tableFor(label))
		result, err := surrealdb.Query[[]struct{ Count int `json:"count"` }](ctx, s.db, query, map[string]interface{}{"tenant": string(tenant)})
		if err != nil {
			return nil, domain.NewError(domain.KindTransient, "surreal stats failed", err)
		}
		rows := extractCountRows(result)
		if len(rows) > 0 {
			stats[label] = rows[0].Count
		}
	}
	return stats, nil
}

func (s *SurrealStore) SweepStale(ctx context.Context, tenant domain.TenantID, label domain.Label, olderThan time.Time, now time.Time) (int, error) {
	table := tableFor(label)
	query := fmt.Sprintf(`UPDATE %s SET stale = true WHERE tenant_id = $tenant AND last_seen < $older_than AND (stale IS NONE OR stale = false) RETURN id`, table)
	result, err := surrealdb.Query[[]map[string]interface{}](ctx, s.db, query, map[string]interface{}{
		"tenant": string(tenant), "older_than": olderThan,
	})
	if err != nil {
		return 0, domain.NewError(domain.KindTransient, "surreal sweep_stale failed", err)
	}
	rows := extractRows(result)
	for range rows {
		s.bus.Publish(ctx, tenant, "NodeStale", map[string]any{"label": string(label)})
	}
	return len(rows), nil
}

func (s *SurrealStore) ApplyBatch(ctx context.Context, tenant domain.TenantID, nodes []domain.Node, edges []domain.Edge, now time.Time) (BatchResult, error) {
	ordered := make([]domain.Node, len(nodes))
	copy(ordered, nodes)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Label() != ordered[j].Label() {
			return ordered[i].Label() < ordered[j].Label()
		}
		return ordered[i].NaturalKey() < ordered[j].NaturalKey()
	})

	var result BatchResult
	// Each node and edge below is written by its own UpsertNode/UpsertEdge
	// round trip (each LET/IF query is atomic on its own). The batch as a
	// whole is not wrapped in one transaction: an error partway through
	// leaves the earlier writes in place.
	for _, n := range ordered {
		res, err := s.UpsertNode(ctx, tenant, n, now)
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
		res, err := s.UpsertEdge(ctx, tenant, e, now)
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

func tableFor(label domain.Label) string {
	return string(label)
}

func extractRows(results *[]surrealdb.QueryResult[[]map[string]interface{}]) []map[string]interface{} {
	if results == nil || len(*results) == 0 {
		return nil
	}
	qr := (*results)[0]
	if qr.Error != nil || qr.Result == nil {
		return nil
	}
	return qr.Result
}

func extractCountRows(results *[]surrealdb.QueryResult[[]struct{ Count int `json:"count"` }]) []struct{ Count int `json:"count"` } {
	if results == nil || len(*results) == 0 {
		return nil
	}
	qr := (*results)[0]
	if qr.Error != nil || qr.Result == nil {
		return nil
	}
	return qr.Result
}

func allLabels() []domain.Label {
	return []domain.Label{
		domain.LabelHost, domain.LabelService, domain.LabelPort, domain.LabelUser,
		domain.LabelGroup, domain.LabelRole, domain.LabelPolicy, domain.LabelSubnet,
		domain.LabelVpc, domain.LabelVulnerability, domain.LabelCertificate,
		domain.LabelApplication, domain.LabelMcpServer, domain.LabelFinding,
		domain.LabelConfigSnapshot,
	}
}
