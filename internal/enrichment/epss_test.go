package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEPSSClientScoresSingleBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"cve":"CVE-2024-1","epss":"0.55"},{"cve":"CVE-2024-2","epss":"0.01"}]}`)
	}))
	defer srv.Close()

	c := NewEPSSClient()
	c.baseURL = srv.URL

	scores, err := c.Scores(context.Background(), []string{"CVE-2024-1", "CVE-2024-2"})

	require.NoError(t, err)
	assert.Equal(t, 0.55, scores["CVE-2024-1"])
	assert.Equal(t, 0.01, scores["CVE-2024-2"])
}

func TestEPSSClientBatchesLargeCVELists(t *testing.T) {
	var gotCVECounts []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCVECounts = append(gotCVECounts, len(strings.Split(r.URL.Query().Get("cve"), ",")))
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	c := NewEPSSClient()
	c.baseURL = srv.URL

	cves := make([]string, 65)
	for i := range cves {
		cves[i] = fmt.Sprintf("CVE-2024-%d", i)
	}

	_, err := c.Scores(context.Background(), cves)
	require.NoError(t, err)

	require.Len(t, gotCVECounts, 3) // 65 CVEs / batches of 30 = 3 batches
	total := 0
	for _, n := range gotCVECounts {
		total += n
	}
	assert.Equal(t, 65, total)
}

func TestEPSSClientMissingCVEIsNullNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"cve":"CVE-2024-1","epss":"0.2"}]}`)
	}))
	defer srv.Close()

	c := NewEPSSClient()
	c.baseURL = srv.URL

	scores, err := c.Scores(context.Background(), []string{"CVE-2024-1", "CVE-2024-unknown"})

	require.NoError(t, err)
	_, ok := scores["CVE-2024-unknown"]
	assert.False(t, ok)
}

func TestEPSSClientSurfacesBatchFailureButKeepsOtherScores(t *testing.T) {
	batchSize := epssBatchSize
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"data":[{"cve":"CVE-2024-ok","epss":"0.3"}]}`)
	}))
	defer srv.Close()

	c := NewEPSSClient()
	c.baseURL = srv.URL

	cves := make([]string, batchSize+1)
	for i := range cves {
		cves[i] = fmt.Sprintf("CVE-2024-%d", i)
	}
	cves[batchSize] = "CVE-2024-ok"

	scores, err := c.Scores(context.Background(), cves)

	require.Error(t, err)
	assert.Equal(t, 0.3, scores["CVE-2024-ok"])
}
