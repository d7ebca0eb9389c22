package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	kevCatalogURL     = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"
	kevRequestTimeout = 30 * time.Second

	// DefaultKEVRefreshInterval is spec §4.6's default refresh cadence
	// for the KEV catalog: "a small, slow-changing list... refreshes on
	// an interval (default 24h)".
	DefaultKEVRefreshInterval = 24 * time.Hour
)

// kevEntry is one row of the CISA Known Exploited Vulnerabilities
// catalog, reduced to the fields the orchestrator needs.
type kevEntry struct {
	CVEID     string `json:"cveID"`
	DateAdded string `json:"dateAdded"`
}

type kevCatalogResponse struct {
	Vulnerabilities []kevEntry `json:"vulnerabilities"`
}

// KEVClient holds the KEV catalog entirely in memory, refreshed on an
// interval rather than per-query (spec §4.6: "a small, slow-changing
// list"). Grounded on the teacher's NVDCache/CacheEntry TTL-caching
// idiom (internal/enrichment/nvd.go), here applied to a single
// whole-catalog entry instead of one entry per query key, since KEV
// membership is process-wide and tenant-independent (spec §5: "KEV
// cache: process-wide, one entry per tenant-independent catalog,
// protected by a reader-writer discipline (many readers, single
// refresher)").
type KEVClient struct {
	httpClient *http.Client
	catalogURL string

	mu          sync.RWMutex
	byCVE       map[string]time.Time // cveID -> dateAdded
	lastRefresh time.Time
	interval    time.Duration

	refreshing sync.Mutex // serializes concurrent RefreshIfStale callers (single refresher)
}

// NewKEVClient builds a client with an empty catalog; the first
// RefreshIfStale call fetches it (Lookup never fetches).
func NewKEVClient(interval time.Duration) *KEVClient {
	if interval <= 0 {
		interval = DefaultKEVRefreshInterval
	}
	return &KEVClient{
		httpClient: &http.Client{Timeout: kevRequestTimeout},
		catalogURL: kevCatalogURL,
		byCVE:      make(map[string]time.Time),
		interval:   interval,
	}
}

// RefreshIfStale re-fetches the catalog if the last refresh is older
// than the configured interval. Safe for concurrent callers: only one
// goroutine performs the actual HTTP fetch (single-refresher
// discipline); the rest observe the refreshed result once it
// completes.
func (c *KEVClient) RefreshIfStale(ctx context.Context) error {
	c.mu.RLock()
	stale := time.Since(c.lastRefresh) >= c.interval
	c.mu.RUnlock()
	if !stale {
		return nil
	}

	c.refreshing.Lock()
	defer c.refreshing.Unlock()

	// Re-check: another goroutine may have refreshed while we waited.
	c.mu.RLock()
	stale = time.Since(c.lastRefresh) >= c.interval
	c.mu.RUnlock()
	if !stale {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.catalogURL, nil)
	if err != nil {
		return fmt.Errorf("building KEV request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("KEV request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("KEV catalog returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed kevCatalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decoding KEV catalog: %w", err)
	}

	byCVE := make(map[string]time.Time, len(parsed.Vulnerabilities))
	for _, entry := range parsed.Vulnerabilities {
		added, _ := time.Parse("2006-01-02", entry.DateAdded)
		byCVE[entry.CVEID] = added
	}

	c.mu.Lock()
	c.byCVE = byCVE
	c.lastRefresh = time.Now()
	c.mu.Unlock()
	return nil
}

// Lookup reports whether cveID is in the KEV catalog and, if so, the
// date it was added. A caller that needs a guaranteed-fresh view
// should call RefreshIfStale first; Lookup itself never blocks on
// network I/O so it is safe to call from a hot path.
func (c *KEVClient) Lookup(cveID string) (inKEV bool, dateAdded time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	added, ok := c.byCVE[cveID]
	return ok, added
}
