// Package connector is the uniform contract every source-specific
// discovery implementation (C5: AWS, Azure, GCP, Entra ID, Okta)
// satisfies. Grounded on the teacher's internal/workflows/ingest.go
// (the one concrete connector the teacher ships, for Naabu scan
// results), generalized from a single hard-coded workflow into a
// registrable interface plus a shared execution contract.
package connector

import (
	"context"
	"time"

	"github.com/spectra-red/sentinel/internal/domain"
)

// Connector is the contract every concrete source implements (spec
// §4.4).
type Connector interface {
	Name() string
	Type() domain.ConnectorType
	// Discover runs one full enumeration pass and returns a SyncResult.
	// tenant is threaded through explicitly (rather than via context)
	// because every domain.Node constructor requires it at creation
	// time. All I/O must respect ctx cancellation at sub-request and
	// pagination boundaries (spec §5 cancellation contract).
	Discover(ctx context.Context, tenant domain.TenantID, cfg Config, creds Credentials) (SyncResult, error)
	// HealthCheck verifies the source is reachable and the supplied
	// credentials are valid before Discover is attempted.
	HealthCheck(ctx context.Context, cfg Config, creds Credentials) error
}

// Config is the recognized configuration surface for any connector
// (spec §4.4 config_schema).
type Config struct {
	Regions        []string
	MaxParallelism int
	RateLimit      RateLimitConfig
	Retry          RetryConfig
	PageSize       int
	Include        []string
	Exclude        []string
}

// RateLimitConfig bounds the connector's own outbound request rate.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// RetryConfig bounds the connector's exponential backoff on transient
// failures (spec §4.4 retries: "only transient errors ... are
// retried").
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	CapDelay    time.Duration
}

// DefaultConfig returns the framework defaults applied when a connector
// is configured with zero values, matching the teacher's
// viper-defaults-then-override layering (internal/cli/config.go).
func DefaultConfig() Config {
	return Config{
		MaxParallelism: 8,
		RateLimit:      RateLimitConfig{RPS: 10, Burst: 20},
		Retry:          RetryConfig{MaxAttempts: 5, BaseDelay: 250 * time.Millisecond, CapDelay: 30 * time.Second},
		PageSize:       100,
	}
}

// Credentials carries resolved secret material for exactly the duration
// of one Discover call. Never logged, never placed in SyncResult, never
// persisted in an engram record (spec §4.4: "Credentials: never logged
// ... never persisted in engram").
type Credentials struct {
	// Values holds provider-specific resolved fields (access keys,
	// bearer tokens, client secrets). Deliberately untyped so the
	// framework itself never needs to know a provider's credential
	// shape — only internal/secrets and each connector package do.
	Values map[string]string
}

// Redacted returns a copy safe to pass to a logger: every value is
// replaced with a fixed-width mask, preserving only the key set so log
// output shows what fields were present without leaking material.
func (c Credentials) Redacted() map[string]string {
	out := make(map[string]string, len(c.Values))
	for k := range c.Values {
		out[k] = "****"
	}
	return out
}

// SyncResult is a pure value produced by one Discover call: a typed
// collection per node variant plus edges and a terminating status
// (spec §4.4/§9 design note: "SyncResult is a product of typed
// collections").
type SyncResult struct {
	Hosts          []domain.Host
	Services       []domain.Service
	Ports          []domain.Port
	Users          []domain.User
	Groups         []domain.Group
	Roles          []domain.Role
	Policies       []domain.Policy
	Subnets        []domain.Subnet
	Vpcs           []domain.Vpc
	Certificates   []domain.Certificate
	Applications   []domain.Application
	McpServers     []domain.McpServer
	Findings       []domain.Finding
	Edges          []domain.Edge
	Status         domain.RunStatus
	DeadEnds       []DeadEnd
}

// DeadEnd records one sub-enumeration failure the framework tolerated
// (spec §4.4 step 4: "a single sub-failure is logged as partial").
type DeadEnd struct {
	Resource string
	Reason   string
}

// AllNodes flattens every typed collection into the polymorphic Node
// view the graph store adapter (C3) expects for apply_batch.
func (r SyncResult) AllNodes() []domain.Node {
	var out []domain.Node
	for _, h := range r.Hosts {
		out = append(out, h)
	}
	for _, s := range r.Services {
		out = append(out, s)
	}
	for _, p := range r.Ports {
		out = append(out, p)
	}
	for _, u := range r.Users {
		out = append(out, u)
	}
	for _, g := range r.Groups {
		out = append(out, g)
	}
	for _, role := range r.Roles {
		out = append(out, role)
	}
	for _, p := range r.Policies {
		out = append(out, p)
	}
	for _, s := range r.Subnets {
		out = append(out, s)
	}
	for _, v := range r.Vpcs {
		out = append(out, v)
	}
	for _, c := range r.Certificates {
		out = append(out, c)
	}
	for _, a := range r.Applications {
		out = append(out, a)
	}
	for _, m := range r.McpServers {
		out = append(out, m)
	}
	for _, f := range r.Findings {
		out = append(out, f)
	}
	return out
}

// Counts summarizes a SyncResult for scan-history/engram close
// reporting.
func (r SyncResult) Counts() map[string]int {
	return map[string]int{
		"hosts": len(r.Hosts), "services": len(r.Services), "ports": len(r.Ports),
		"users": len(r.Users), "groups": len(r.Groups), "roles": len(r.Roles),
		"policies": len(r.Policies), "subnets": len(r.Subnets), "vpcs": len(r.Vpcs),
		"certificates": len(r.Certificates), "applications": len(r.Applications),
		"mcp_servers": len(r.McpServers), "findings": len(r.Findings), "edges": len(r.Edges),
	}
}

// MakeEdge fills in the tenant/timestamps a connector doesn't need to
// track itself, matching spec §4.4's "framework provides a helper
// make_edge(source, target, type, attrs)".
func MakeEdge(tenant domain.TenantID, source domain.Node, target domain.Node, edgeType domain.EdgeType, attrs map[string]any) domain.Edge {
	return domain.Edge{
		TenantID:    tenant,
		Type:        edgeType,
		SourceID:    source.ID(),
		SourceLabel: source.Label(),
		TargetID:    target.ID(),
		TargetLabel: target.Label(),
		Attrs:       attrs,
	}
}
