package enrichment

import (
	"testing"
)

func TestNewNVDClient(t *testing.T) {
	tests := []struct {
		name      string
		apiKey    string
		wantLimit int
	}{
		{name: "without API key", apiKey: "", wantLimit: nvdRateLimitPublic},
		{name: "with API key", apiKey: "test-api-key-123", wantLimit: nvdRateLimitWithKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewNVDClient(tt.apiKey)
			if client == nil {
				t.Fatal("NewNVDClient() returned nil")
			}
			if client.httpClient == nil {
				t.Error("httpClient is nil")
			}
			if client.limiter == nil {
				t.Error("limiter is nil")
			}
			if client.apiKey != tt.apiKey {
				t.Errorf("apiKey = %v, want %v", client.apiKey, tt.apiKey)
			}
			if int(client.limiter.Burst()) != tt.wantLimit {
				t.Errorf("limiter burst = %v, want %v", client.limiter.Burst(), tt.wantLimit)
			}
		})
	}
}

func TestRetryAfterDuration(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int64 // seconds
	}{
		{name: "empty header", header: "", want: 0},
		{name: "valid seconds", header: "30", want: 30},
		{name: "negative is rejected", header: "-5", want: 0},
		{name: "non-numeric is rejected", header: "Wed, 21 Oct 2026 07:28:00 GMT", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := retryAfterDuration(tt.header)
			if got.Seconds() != float64(tt.want) {
				t.Errorf("retryAfterDuration(%q) = %v, want %ds", tt.header, got, tt.want)
			}
		})
	}
}

func TestConvertNVDResponse(t *testing.T) {
	mockResp := nvdResponse{}
	mockResp.Vulnerabilities = make([]struct {
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
	}, 1)

	mockResp.Vulnerabilities[0].CVE.ID = "CVE-2023-1234"
	mockResp.Vulnerabilities[0].CVE.Published = "2023-03-15T10:00:00.000Z"
	mockResp.Vulnerabilities[0].CVE.Descriptions = append(mockResp.Vulnerabilities[0].CVE.Descriptions, struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	}{Lang: "en", Value: "Test vulnerability description"})
	mockResp.Vulnerabilities[0].CVE.Metrics.CVSSMetricV31 = append(mockResp.Vulnerabilities[0].CVE.Metrics.CVSSMetricV31, struct {
		CVSSData struct {
			BaseScore    float64 `json:"baseScore"`
			VectorString string  `json:"vectorString"`
			BaseSeverity string  `json:"baseSeverity"`
		} `json:"cvssData"`
	}{CVSSData: struct {
		BaseScore    float64 `json:"baseScore"`
		VectorString string  `json:"vectorString"`
		BaseSeverity string  `json:"baseSeverity"`
	}{BaseScore: 9.8, VectorString: "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H", BaseSeverity: "CRITICAL"}})

	items := convertNVDResponse(mockResp)
	if len(items) != 1 {
		t.Fatalf("convertNVDResponse() returned %d items, want 1", len(items))
	}

	item := items[0]
	if item.CVEID != "CVE-2023-1234" {
		t.Errorf("CVE ID = %v, want CVE-2023-1234", item.CVEID)
	}
	if item.CVSSScore != 9.8 {
		t.Errorf("CVSSScore = %v, want 9.8", item.CVSSScore)
	}
	if item.Severity != "CRITICAL" {
		t.Errorf("Severity = %v, want CRITICAL", item.Severity)
	}
	if item.CVSSVector == "" {
		t.Error("CVSSVector should not be empty")
	}
	if item.Description != "Test vulnerability description" {
		t.Errorf("Description = %v, want 'Test vulnerability description'", item.Description)
	}
	if item.Published.IsZero() {
		t.Error("Published should be parsed, got zero time")
	}
}

func TestConvertNVDResponseNoMetrics(t *testing.T) {
	mockResp := nvdResponse{}
	mockResp.Vulnerabilities = make([]struct {
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
	}, 1)
	mockResp.Vulnerabilities[0].CVE.ID = "CVE-2023-9999"

	items := convertNVDResponse(mockResp)
	if len(items) != 1 {
		t.Fatalf("convertNVDResponse() returned %d items, want 1", len(items))
	}
	if items[0].CVSSScore != 0 {
		t.Errorf("CVSSScore = %v, want 0 when no metrics present", items[0].CVSSScore)
	}
	if items[0].Severity != "" {
		t.Errorf("Severity = %v, want empty when no metrics present", items[0].Severity)
	}
}
