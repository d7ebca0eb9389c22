package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectra-red/sentinel/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStartAndFinishRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := domain.TenantID("t1")
	now := time.Now().UTC()

	require.NoError(t, s.StartRun(ctx, "scan-1", tenant, "conn-1", "aws", "us-east-1", now))

	running, err := s.IsRunning(ctx, tenant, "conn-1")
	require.NoError(t, err)
	assert.True(t, running)

	require.NoError(t, s.FinishRun(ctx, "scan-1", domain.RunCompleted, 10, 3, 0, "engram://t1/scan-1", "", now.Add(time.Second), 1000))

	running, err = s.IsRunning(ctx, tenant, "conn-1")
	require.NoError(t, err)
	assert.False(t, running)

	history, err := s.ListScanHistory(ctx, tenant, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.RunCompleted, history[0].Status)
	assert.Equal(t, 10, history[0].NodesFound)
}

func TestListScanHistoryOrdersNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := domain.TenantID("t1")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.StartRun(ctx, "scan-1", tenant, "conn-1", "aws", "", base))
	require.NoError(t, s.FinishRun(ctx, "scan-1", domain.RunCompleted, 1, 0, 0, "", "", base, 1))
	require.NoError(t, s.StartRun(ctx, "scan-2", tenant, "conn-1", "aws", "", base.Add(time.Hour)))
	require.NoError(t, s.FinishRun(ctx, "scan-2", domain.RunCompleted, 2, 0, 0, "", "", base.Add(time.Hour), 1))

	history, err := s.ListScanHistory(ctx, tenant, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "scan-2", history[0].ID)
	assert.Equal(t, "scan-1", history[1].ID)
}

func TestFinishRunRecordsErrorMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := domain.TenantID("t1")
	now := time.Now().UTC()

	require.NoError(t, s.StartRun(ctx, "scan-1", tenant, "conn-1", "aws", "", now))
	require.NoError(t, s.FinishRun(ctx, "scan-1", domain.RunFailed, 0, 0, 0, "", "credential rejected", now, 50))

	history, err := s.ListScanHistory(ctx, tenant, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.RunFailed, history[0].Status)
	assert.Equal(t, "credential rejected", history[0].ErrorMessage)
}

func TestRecordAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := domain.TenantID("t1")

	err := s.RecordAudit(ctx, "audit-1", tenant, "user-1", "connector.run", "connector", "conn-1", `{"target":"us-east-1"}`, "10.0.0.1", time.Now().UTC())
	require.NoError(t, err)
}
