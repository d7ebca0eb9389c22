package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectra-red/sentinel/internal/domain"
	"github.com/spectra-red/sentinel/internal/engram"
	"github.com/spectra-red/sentinel/internal/graphstore"
)

type recordingBus struct {
	events []string
}

func (b *recordingBus) Publish(_ context.Context, _ domain.TenantID, topic string, _ map[string]any) {
	b.events = append(b.events, topic)
}

func newTestOrchestrator(t *testing.T, bus graphstore.EventBus, nvdBody, epssBody, kevBody string) (*Orchestrator, *graphstore.MemoryStore) {
	t.Helper()

	nvdSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, nvdBody)
	}))
	t.Cleanup(nvdSrv.Close)
	epssSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, epssBody)
	}))
	t.Cleanup(epssSrv.Close)
	kevSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, kevBody)
	}))
	t.Cleanup(kevSrv.Close)

	nvd := NewNVDClient("")
	nvd.baseURL = nvdSrv.URL
	epss := NewEPSSClient()
	epss.baseURL = epssSrv.URL
	kev := NewKEVClient(time.Hour)
	kev.catalogURL = kevSrv.URL

	store := graphstore.NewMemoryStore(bus)
	engrams := engram.NewManager(engram.NewMemoryObjectStore(), engram.NewMemoryIndexStore(), nil)

	return &Orchestrator{Store: store, Engrams: engrams, Bus: bus, KEV: kev, NVD: nvd, EPSS: epss}, store
}

const nvdCVEResponse = `{"vulnerabilities":[{"cve":{"id":"CVE-2024-1234","published":"2024-01-10T00:00:00.000Z","descriptions":[{"lang":"en","value":"nginx heap overflow"}],"metrics":{"cvssMetricV31":[{"cvssData":{"baseScore":9.8,"vectorString":"CVSS:3.1/AV:N","baseSeverity":"CRITICAL"}}]}}}]}`

func TestSweepWritesVulnerabilityAndEmitsEvent(t *testing.T) {
	bus := &recordingBus{}
	o, store := newTestOrchestrator(t, bus,
		nvdCVEResponse,
		`{"data":[{"cve":"CVE-2024-1234","epss":"0.62"}]}`,
		`{"vulnerabilities":[{"cveID":"CVE-2024-1234","dateAdded":"2024-01-15"}]}`,
	)

	ctx := context.Background()
	tenant := domain.TenantID("t1")
	now := time.Now().UTC()

	svc := domain.NewService(tenant, "host1", "nginx", "1.24.0", 80, domain.ProtoTCP, domain.ServiceRunning, "")
	_, err := store.UpsertNode(ctx, tenant, svc, now)
	require.NoError(t, err)

	result := o.Sweep(ctx, tenant, now)

	require.NoError(t, result.Err)
	assert.Equal(t, domain.RunCompleted, result.Status)
	assert.Equal(t, 1, result.ServicesScanned)
	assert.Equal(t, 1, result.VulnerabilitiesWritten)
	assert.Equal(t, 1, result.NetNewPairings)
	assert.Contains(t, bus.events, "VulnerabilityFound")

	page, err := store.ListNodes(ctx, tenant, domain.LabelVulnerability, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Nodes, 1)
	vuln := page.Nodes[0].(domain.Vulnerability)
	assert.Equal(t, "CVE-2024-1234", vuln.CVEID)
	assert.Equal(t, domain.SeverityCritical, vuln.Severity)
	assert.True(t, vuln.InKEV)
	require.NotNil(t, vuln.EPSSScore)
	assert.Equal(t, 0.62, *vuln.EPSSScore)
	assert.True(t, vuln.Exploitable)
}

func TestSweepRecordsDeadEndForUnmappedService(t *testing.T) {
	bus := &recordingBus{}
	o, store := newTestOrchestrator(t, bus, `{"vulnerabilities":[]}`, `{"data":[]}`, `{"vulnerabilities":[]}`)

	ctx := context.Background()
	tenant := domain.TenantID("t1")
	now := time.Now().UTC()

	svc := domain.NewService(tenant, "host1", "mystery-daemon", "", 9999, domain.ProtoTCP, domain.ServiceRunning, "")
	_, err := store.UpsertNode(ctx, tenant, svc, now)
	require.NoError(t, err)

	result := o.Sweep(ctx, tenant, now)

	assert.Equal(t, domain.RunPartial, result.Status)
	assert.Equal(t, 1, result.ServicesWithoutMapping)
	assert.Equal(t, 0, result.VulnerabilitiesWritten)
}

func TestSweepSkipsVulnerabilityWithOutOfRangeEPSSScore(t *testing.T) {
	bus := &recordingBus{}
	o, store := newTestOrchestrator(t, bus,
		nvdCVEResponse,
		`{"data":[{"cve":"CVE-2024-1234","epss":"1.5"}]}`,
		`{"vulnerabilities":[]}`,
	)

	ctx := context.Background()
	tenant := domain.TenantID("t1")
	now := time.Now().UTC()

	svc := domain.NewService(tenant, "host1", "nginx", "1.24.0", 80, domain.ProtoTCP, domain.ServiceRunning, "")
	_, err := store.UpsertNode(ctx, tenant, svc, now)
	require.NoError(t, err)

	result := o.Sweep(ctx, tenant, now)

	assert.Equal(t, 0, result.VulnerabilitiesWritten)
	assert.NotContains(t, bus.events, "VulnerabilityFound")

	page, err := store.ListNodes(ctx, tenant, domain.LabelVulnerability, nil, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Nodes)
}

func TestSweepDegradesGracefullyOnEPSSFailure(t *testing.T) {
	bus := &recordingBus{}
	nvdSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, nvdCVEResponse)
	}))
	defer nvdSrv.Close()
	epssSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer epssSrv.Close()
	kevSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"vulnerabilities":[]}`)
	}))
	defer kevSrv.Close()

	nvd := NewNVDClient("")
	nvd.baseURL = nvdSrv.URL
	epss := NewEPSSClient()
	epss.baseURL = epssSrv.URL
	kev := NewKEVClient(time.Hour)
	kev.catalogURL = kevSrv.URL

	store := graphstore.NewMemoryStore(bus)
	engrams := engram.NewManager(engram.NewMemoryObjectStore(), engram.NewMemoryIndexStore(), nil)
	o := &Orchestrator{Store: store, Engrams: engrams, Bus: bus, KEV: kev, NVD: nvd, EPSS: epss}

	ctx := context.Background()
	tenant := domain.TenantID("t1")
	now := time.Now().UTC()

	svc := domain.NewService(tenant, "host1", "nginx", "1.24.0", 80, domain.ProtoTCP, domain.ServiceRunning, "")
	_, err := store.UpsertNode(ctx, tenant, svc, now)
	require.NoError(t, err)

	result := o.Sweep(ctx, tenant, now)

	assert.Equal(t, domain.RunPartial, result.Status)
	assert.Equal(t, 1, result.VulnerabilitiesWritten)

	page, err := store.ListNodes(ctx, tenant, domain.LabelVulnerability, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Nodes, 1)
	vuln := page.Nodes[0].(domain.Vulnerability)
	assert.Nil(t, vuln.EPSSScore)
	assert.True(t, vuln.Exploitable) // cvss 9.8 >= 9.0 still makes it actionable
}
