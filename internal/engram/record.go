// Package engram captures the reasoning trail of one unit of autonomous
// work (one connector run, one enrichment sweep) as a tamper-evident,
// content-addressed, append-only log. The design generalizes the
// teacher's per-run logging (scattered zap.Logger calls tagged with a
// job_id across internal/workflows/*.go) into a first-class audit
// artifact with its own content-addressed storage.
package engram

import "time"

// Outcome is the terminal disposition of a session (spec §4.2).
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// RecordKind discriminates the shape of a Record's Payload.
type RecordKind string

const (
	KindDecision RecordKind = "decision"
	KindAction   RecordKind = "action"
	KindDeadEnd  RecordKind = "dead_end"
)

// Decision captures a choice point: what was considered, what was picked,
// and why.
type Decision struct {
	Description  string   `json:"description"`
	Alternatives []string `json:"alternatives"`
	Chosen       string   `json:"chosen"`
	Rationale    string   `json:"rationale"`
}

// Action captures one externally-visible step taken and its result.
type Action struct {
	Kind    string         `json:"kind"`
	Target  string         `json:"target"`
	Outcome string         `json:"outcome"`
	Counts  map[string]int `json:"counts,omitempty"`
}

// DeadEnd captures an approach that was tried and abandoned.
type DeadEnd struct {
	Description string `json:"description"`
	Evidence    string `json:"evidence"`
}

// Record is one entry in a session's append-only log. Exactly one of
// Decision/Action/DeadEnd is populated, matching Kind.
type Record struct {
	Kind      RecordKind `json:"kind"`
	Timestamp time.Time  `json:"timestamp"`
	Decision  *Decision  `json:"decision,omitempty"`
	Action    *Action    `json:"action,omitempty"`
	DeadEnd   *DeadEnd   `json:"dead_end,omitempty"`
}

// Document is the canonical, serializable shape of a closed or in-flight
// session: exactly what gets BLAKE3-hashed for its content address (I7).
// Field order matters for canonical JSON — see canonicalBytes in hash.go.
type Document struct {
	SessionID string            `json:"session_id"`
	AgentID   string            `json:"agent_id"`
	Intent    string            `json:"intent"`
	Context   map[string]string `json:"context,omitempty"`
	Records   []Record          `json:"records"`
	Outcome   Outcome           `json:"outcome,omitempty"`
	Summary   string            `json:"summary,omitempty"`
	OpenedAt  time.Time         `json:"opened_at"`
	ClosedAt  *time.Time        `json:"closed_at,omitempty"`
}
