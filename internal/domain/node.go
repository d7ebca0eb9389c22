package domain

import "time"

// Node is the common view every node variant exposes to the graph store
// adapter (C3) and the connector framework (C4). Concrete variants are
// plain structs, not a dynamically-typed property bag — the framework's
// "SyncResult is a product of typed collections" design note (§9).
type Node interface {
	Tenant() TenantID
	ID() string
	Label() Label
	// Properties returns the primitive-typed attribute map used for
	// upsert and for full-text indexing. It never includes tenant_id or
	// id themselves; those are addressed separately.
	Properties() map[string]any
	// NaturalKey is the deterministic fingerprint (I6) the graph store
	// uses to find an existing node across repeated discovery runs.
	NaturalKey() string
}

// Base carries the fields common to every node variant: tenant scoping
// and identity. Concrete variants embed Base and add their own typed
// fields plus a NaturalKey()/Label()/Properties() implementation.
type Base struct {
	TenantID TenantID
	NodeID   string
}

func (b Base) Tenant() TenantID { return b.TenantID }
func (b Base) ID() string       { return b.NodeID }

// Timestamped is embedded by stored nodes (as opposed to freshly
// discovered ones) to carry first_seen/last_seen. Discovery-time node
// variants do not carry these; the graph store adapter (C3) computes
// them on upsert per the lifecycle rules in spec §3.
type Timestamped struct {
	FirstSeen time.Time
	LastSeen  time.Time
}

// Edge is the common relationship type materialized between two nodes
// of the same tenant (I3). Edge identity is (tenant, type, source, target).
// SourceLabel/TargetLabel are storage routing metadata (which table each
// endpoint lives in) and are not part of that identity.
type Edge struct {
	TenantID    TenantID
	Type        EdgeType
	SourceID    string
	SourceLabel Label
	TargetID    string
	TargetLabel Label
	Attrs       map[string]any
}

// EdgeNaturalKey returns the deterministic identity of an edge, used by
// the graph store adapter for upsert matching.
func (e Edge) EdgeNaturalKey() string {
	return string(e.TenantID) + "|" + string(e.Type) + "|" + e.SourceID + "|" + e.TargetID
}
