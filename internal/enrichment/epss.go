package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	epssBaseURL = "https://api.first.org/data/v1/epss"

	// epssBatchSize is spec §4.6's exact batching unit: "the client
	// groups requests into batches of 30 CVEs".
	epssBatchSize = 30

	epssRequestTimeout = 30 * time.Second

	// epssRateLimit is the request rate (per second, with an equal
	// burst) that every batch waits on before dispatch; all batches are
	// started concurrently. FIRST.org's public EPSS API publishes no
	// documented hard limit.
	epssRateLimit = 10
)

type epssResponse struct {
	Data []struct {
		CVE  string `json:"cve"`
		EPSS string `json:"epss"`
	} `json:"data"`
}

// EPSSClient queries the FIRST.org EPSS API for exploit-probability
// scores, batching CVE IDs and dispatching batches concurrently under
// a rate limiter per spec §4.6.
type EPSSClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

func NewEPSSClient() *EPSSClient {
	return &EPSSClient{
		httpClient: &http.Client{Timeout: epssRequestTimeout},
		baseURL:    epssBaseURL,
		limiter:    rate.NewLimiter(rate.Limit(epssRateLimit), epssRateLimit),
	}
}

// Scores resolves EPSS scores for every cveID, batching into groups of
// epssBatchSize and dispatching the batches concurrently. A CVE absent
// from the response (EPSS has no opinion on it) is simply absent from
// the returned map rather than an error; the orchestrator treats a
// missing score as null, not as a failure.
func (c *EPSSClient) Scores(ctx context.Context, cveIDs []string) (map[string]float64, error) {
	batches := batchStrings(cveIDs, epssBatchSize)
	results := make([]map[string]float64, len(batches))
	errs := make([]error, len(batches))

	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []string) {
			defer wg.Done()
			scores, err := c.queryBatch(ctx, batch)
			results[i] = scores
			errs[i] = err
		}(i, batch)
	}
	wg.Wait()

	merged := make(map[string]float64, len(cveIDs))
	var firstErr error
	for i, scores := range results {
		for cve, score := range scores {
			merged[cve] = score
		}
		if errs[i] != nil && firstErr == nil {
			firstErr = errs[i]
		}
	}
	// Partial-failure posture matches the rest of C6: a batch failure
	// degrades (missing scores stay null) rather than aborting the sweep,
	// but the first error is still surfaced so the orchestrator can
	// record the dead-end.
	return merged, firstErr
}

func (c *EPSSClient) queryBatch(ctx context.Context, cveIDs []string) (map[string]float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid EPSS base URL: %w", err)
	}
	q := reqURL.Query()
	q.Set("cve", strings.Join(cveIDs, ","))
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building EPSS request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("EPSS request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("EPSS API returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed epssResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding EPSS response: %w", err)
	}

	scores := make(map[string]float64, len(parsed.Data))
	for _, row := range parsed.Data {
		score, err := strconv.ParseFloat(row.EPSS, 64)
		if err != nil {
			continue
		}
		scores[row.CVE] = score
	}
	return scores, nil
}

func batchStrings(items []string, size int) [][]string {
	if size <= 0 {
		size = len(items)
	}
	var batches [][]string
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}
	return batches
}
