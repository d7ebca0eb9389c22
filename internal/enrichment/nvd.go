package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	nvdBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

	// Rate limits (requests per 30 seconds), spec §4.6: "rate-limited to
	// two regimes: unauthenticated (low) and authenticated-via-key
	// (higher)". Selected by NewNVDClient based on apiKey presence.
	nvdRateLimitPublic  = 5
	nvdRateLimitWithKey = 50

	nvdRequestTimeout = 30 * time.Second
)

// NVDClient queries NVD for authoritative CVE metadata (description,
// CVSS score/vector) either by CPE (resolves the candidate CVE set for
// a service) or by CVE ID (refreshes a known CVE's metadata).
// Unlike KEV, NVD results are not cached here — spec §4.6 step 4 calls
// out NVD and EPSS as live queries, with only KEV served from cache.
type NVDClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	limiter    *rate.Limiter
}

// CVEItem is one CVE record as returned by NVD, reduced to the fields
// the orchestrator folds into a domain.Vulnerability.
type CVEItem struct {
	CVEID       string
	Description string
	CVSSScore   float64
	CVSSVector  string
	Severity    string // CRITICAL, HIGH, MEDIUM, LOW, or "" if NVD scored nothing
	Published   time.Time
}

type nvdResponse struct {
	Vulnerabilities []struct {
		CVE struct {
			ID           string `json:"id"`
			Published    string `json:"published"`
			Descriptions []struct {
				Lang  string `json:"lang"`
				Value string `json:"value"`
			} `json:"descriptions"`
			Metrics struct {
				CVSSMetricV31 []struct {
					CVSSData struct {
						BaseScore    float64 `json:"baseScore"`
						VectorString string  `json:"vectorString"`
						BaseSeverity string  `json:"baseSeverity"`
					} `json:"cvssData"`
				} `json:"cvssMetricV31"`
				CVSSMetricV30 []struct {
					CVSSData struct {
						BaseScore    float64 `json:"baseScore"`
						VectorString string  `json:"vectorString"`
						BaseSeverity string  `json:"baseSeverity"`
					} `json:"cvssData"`
				} `json:"cvssMetricV30"`
				CVSSMetricV2 []struct {
					CVSSData struct {
						BaseScore    float64 `json:"baseScore"`
						VectorString string  `json:"vectorString"`
					} `json:"cvssData"`
					BaseSeverity string `json:"baseSeverity"`
				} `json:"cvssMetricV2"`
			} `json:"metrics"`
		} `json:"cve"`
	} `json:"vulnerabilities"`
}

// NewNVDClient builds a client whose rate limit regime is selected by
// apiKey presence, per spec §4.6.
func NewNVDClient(apiKey string) *NVDClient {
	rps := nvdRateLimitPublic
	if apiKey != "" {
		rps = nvdRateLimitWithKey
	}
	return &NVDClient{
		httpClient: &http.Client{Timeout: nvdRequestTimeout},
		apiKey:     apiKey,
		baseURL:    nvdBaseURL,
		limiter:    rate.NewLimiter(rate.Every(30*time.Second/time.Duration(rps)), rps),
	}
}

// QueryByCPE resolves the CVEs NVD has indexed against a candidate CPE.
// On a 429 it waits the Retry-After duration once (when the header gives
// one) and then returns an error; the request is not re-sent.
func (c *NVDClient) QueryByCPE(ctx context.Context, cpe string) ([]CVEItem, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid NVD base URL: %w", err)
	}
	q := reqURL.Query()
	q.Set("cpeName", cpe)
	reqURL.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, reqURL.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed nvdResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding NVD response: %w", err)
	}
	return convertNVDResponse(parsed), nil
}

// QueryByCVEID fetches metadata for exactly one CVE, used when the
// orchestrator already knows the CVE ID (e.g. from a prior run) and
// only needs a metadata refresh.
func (c *NVDClient) QueryByCVEID(ctx context.Context, cveID string) (*CVEItem, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid NVD base URL: %w", err)
	}
	q := reqURL.Query()
	q.Set("cveId", cveID)
	reqURL.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, reqURL.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed nvdResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding NVD response: %w", err)
	}
	items := convertNVDResponse(parsed)
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (c *NVDClient) doRequest(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building NVD request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("apiKey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("NVD request failed: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := retryAfterDuration(resp.Header.Get("Retry-After"))
		resp.Body.Close()
		if wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		return nil, fmt.Errorf("NVD rate limited, retry after %s", wait)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("NVD API returned status %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

// retryAfterDuration parses a Retry-After header value (seconds form
// only; NVD does not emit the HTTP-date form).
func retryAfterDuration(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func convertNVDResponse(resp nvdResponse) []CVEItem {
	items := make([]CVEItem, 0, len(resp.Vulnerabilities))
	for _, v := range resp.Vulnerabilities {
		cve := v.CVE

		description := ""
		for _, d := range cve.Descriptions {
			if d.Lang == "en" {
				description = d.Value
				break
			}
		}

		var score float64
		var vector, severity string
		switch {
		case len(cve.Metrics.CVSSMetricV31) > 0:
			m := cve.Metrics.CVSSMetricV31[0].CVSSData
			score, vector, severity = m.BaseScore, m.VectorString, m.BaseSeverity
		case len(cve.Metrics.CVSSMetricV30) > 0:
			m := cve.Metrics.CVSSMetricV30[0].CVSSData
			score, vector, severity = m.BaseScore, m.VectorString, m.BaseSeverity
		case len(cve.Metrics.CVSSMetricV2) > 0:
			m := cve.Metrics.CVSSMetricV2[0]
			score, vector, severity = m.CVSSData.BaseScore, m.CVSSData.VectorString, m.BaseSeverity
		}

		published, _ := time.Parse(time.RFC3339, cve.Published)

		items = append(items, CVEItem{
			CVEID:       cve.ID,
			Description: description,
			CVSSScore:   score,
			CVSSVector:  vector,
			Severity:    severity,
			Published:   published,
		})
	}
	return items
}
