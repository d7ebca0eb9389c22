package engram

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
)

// SurrealIndexStore is the production IndexStore, backed by the same
// SurrealDB handle the graph store (C3) uses — grounded on
// internal/graphstore/surreal.go's query idiom (`surrealdb.Query[T]`
// with a named-parameter map), applied here to a dedicated
// `engram_index` table rather than the property-graph tables, since a
// session index entry is metadata about reasoning, not a domain node.
type SurrealIndexStore struct {
	db *surrealdb.DB
}

func NewSurrealIndexStore(db *surrealdb.DB) *SurrealIndexStore {
	return &SurrealIndexStore{db: db}
}

func (s *SurrealIndexStore) Record(ctx context.Context, entry IndexEntry) error {
	const query = `CREATE engram_index CONTENT {
		tenant: $tenant,
		session_id: $session_id,
		agent_id: $agent_id,
		intent: $intent,
		address: $address,
		outcome: $outcome,
		closed_at: $closed_at
	}`
	_, err := surrealdb.Query[interface{}](ctx, s.db, query, map[string]interface{}{
		"tenant":     entry.Tenant,
		"session_id": entry.SessionID,
		"agent_id":   entry.AgentID,
		"intent":     entry.Intent,
		"address":    string(entry.Address),
		"outcome":    string(entry.Outcome),
		"closed_at":  entry.ClosedAt,
	})
	if err != nil {
		return fmt.Errorf("recording engram index entry: %w", err)
	}
	return nil
}

func (s *SurrealIndexStore) List(ctx context.Context, tenant string, limit int) ([]IndexEntry, error) {
	const query = `SELECT * FROM engram_index WHERE tenant = $tenant ORDER BY closed_at DESC LIMIT $limit`
	result, err := surrealdb.Query[[]map[string]interface{}](ctx, s.db, query, map[string]interface{}{
		"tenant": tenant,
		"limit":  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("listing engram index for %s: %w", tenant, err)
	}
	if result == nil || len(*result) == 0 {
		return nil, nil
	}
	rows := (*result)[0].Result

	out := make([]IndexEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, IndexEntry{
			Tenant:    stringField(row, "tenant"),
			SessionID: stringField(row, "session_id"),
			AgentID:   stringField(row, "agent_id"),
			Intent:    stringField(row, "intent"),
			Address:   Address(stringField(row, "address")),
			Outcome:   Outcome(stringField(row, "outcome")),
			ClosedAt:  stringField(row, "closed_at"),
		})
	}
	return out, nil
}

func stringField(row map[string]interface{}, key string) string {
	v, ok := row[key].(string)
	if !ok {
		return ""
	}
	return v
}
