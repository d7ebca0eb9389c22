package engram

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrObjectNotFound indicates a Get against an address the store has
// never seen.
var ErrObjectNotFound = errors.New("engram: object not found")

// DefaultBufferLimit bounds the in-memory record buffer per session
// before a SessionDropped event fires (spec §4.2 failure contract).
const DefaultBufferLimit = 4096

// EventSink receives engram lifecycle events. The orchestrator (C7) and
// connector framework (C4) subscribe to this to learn about
// SessionDropped without engram failures propagating as errors (spec
// §4.2: "Engram failures never abort the surrounding work.").
type EventSink interface {
	SessionDropped(tenant, sessionID, reason string)
}

// NopEventSink discards every event; used where no sink is wired.
type NopEventSink struct{}

func (NopEventSink) SessionDropped(string, string, string) {}

// Manager opens and tracks sessions for one process. It owns the object
// and index stores, matching the teacher's pattern of a single
// long-lived dependency struct wired once in cmd/sentineld and passed
// into every workflow step.
type Manager struct {
	objects ObjectStore
	index   IndexStore
	sink    EventSink
	bufCap  int
}

func NewManager(objects ObjectStore, index IndexStore, sink EventSink) *Manager {
	if sink == nil {
		sink = NopEventSink{}
	}
	return &Manager{objects: objects, index: index, sink: sink, bufCap: DefaultBufferLimit}
}

// SessionHandle is the scoped handle returned by Open. Every record call
// is buffered until Close serializes and addresses the whole session;
// this matches the spec's framing of a session as "one unit of work"
// whose document is only meaningful as a whole, not record-by-record.
type SessionHandle struct {
	mgr     *Manager
	tenant  string
	doc     Document
	mu      sync.Mutex
	closed  bool
	dropped bool
}

// Open begins a new session scoped to tenant, for agentID performing
// intent, with free-form context key/values (spec §4.2: "open(agent_id,
// intent, context) → SessionHandle").
func (m *Manager) Open(ctx context.Context, tenant, sessionID, agentID, intent string, sessionContext map[string]string, now time.Time) *SessionHandle {
	return &SessionHandle{
		mgr:    m,
		tenant: tenant,
		doc: Document{
			SessionID: sessionID,
			AgentID:   agentID,
			Intent:    intent,
			Context:   sessionContext,
			OpenedAt:  now,
		},
	}
}

func (h *SessionHandle) append(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.dropped {
		return
	}
	if len(h.doc.Records) >= h.mgr.bufCap {
		h.dropped = true
		h.mgr.sink.SessionDropped(h.tenant, h.doc.SessionID, "buffer overflow")
		return
	}
	h.doc.Records = append(h.doc.Records, r)
}

// RecordDecision appends a decision record.
func (h *SessionHandle) RecordDecision(now time.Time, description string, alternatives []string, chosen, rationale string) {
	h.append(Record{
		Kind:      KindDecision,
		Timestamp: now,
		Decision:  &Decision{Description: description, Alternatives: alternatives, Chosen: chosen, Rationale: rationale},
	})
}

// RecordAction appends an action record.
func (h *SessionHandle) RecordAction(now time.Time, kind, target, outcome string, counts map[string]int) {
	h.append(Record{
		Kind:      KindAction,
		Timestamp: now,
		Action:    &Action{Kind: kind, Target: target, Outcome: outcome, Counts: counts},
	})
}

// RecordDeadEnd appends a dead-end record.
func (h *SessionHandle) RecordDeadEnd(now time.Time, description, evidence string) {
	h.append(Record{
		Kind:      KindDeadEnd,
		Timestamp: now,
		DeadEnd:   &DeadEnd{Description: description, Evidence: evidence},
	})
}

// Dropped reports whether this session's buffer overflowed. The
// orchestrator checks this after Close to decide whether a run that
// otherwise succeeded must still be reported as failed, per the failure
// contract.
func (h *SessionHandle) Dropped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close finalizes the session with the given outcome and summary,
// serializes it to canonical JSON, computes its BLAKE3 content address,
// writes it to the object store, and records it in the index. Close is
// idempotent: calling it twice is a no-op after the first call, so
// callers can safely defer Close alongside an early explicit Close on
// the success path (mirrors the teacher's "scoped construct" framing in
// spec §5 non-goals/design notes).
func (h *SessionHandle) Close(ctx context.Context, outcome Outcome, summary string, now time.Time) (Address, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return "", nil
	}
	h.closed = true
	h.doc.Outcome = outcome
	h.doc.Summary = summary
	h.doc.ClosedAt = &now
	doc := h.doc
	h.mu.Unlock()

	bytes, err := canonicalBytes(doc)
	if err != nil {
		return "", err
	}
	addr := addressOf(bytes)

	if err := h.mgr.objects.Put(ctx, h.tenant, addr, bytes); err != nil {
		return "", err
	}
	entry := IndexEntry{
		Tenant:    h.tenant,
		SessionID: doc.SessionID,
		AgentID:   doc.AgentID,
		Intent:    doc.Intent,
		Address:   addr,
		Outcome:   outcome,
		ClosedAt:  now.Format(time.RFC3339Nano),
	}
	if err := h.mgr.index.Record(ctx, entry); err != nil {
		return addr, err
	}
	return addr, nil
}

// Verify recomputes the content address of the stored bytes at addr and
// compares it against addr itself (spec P5: "recomputing the content
// hash of G's serialized bytes equals its recorded address").
func Verify(ctx context.Context, objects ObjectStore, tenant string, addr Address) (bool, error) {
	raw, err := objects.Get(ctx, tenant, addr)
	if err != nil {
		return false, err
	}
	return addressOf(raw) == addr, nil
}

// Reopen loads a previously closed session's document back out of the
// object store, for the R3 round-trip property ("open → append* →
// close → reopen-and-verify returns exactly the recorded records in
// order").
func Reopen(ctx context.Context, objects ObjectStore, tenant string, addr Address) (Document, error) {
	raw, err := objects.Get(ctx, tenant, addr)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := unmarshalCanonical(raw, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}
