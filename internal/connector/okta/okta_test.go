package okta

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"golang.org/x/time/rate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectra-red/sentinel/internal/connector"
	"github.com/spectra-red/sentinel/internal/domain"
)

type pathResponse struct {
	suffix string
	body   string
}

type fakeDoer struct {
	responses  []pathResponse
	statusCode int
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	for _, pr := range f.responses {
		if strings.Contains(req.URL.Path, pr.suffix) {
			code := f.statusCode
			if code == 0 {
				code = http.StatusOK
			}
			return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(pr.body))}, nil
		}
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`[]`))}, nil
}

func newTestConnector(doer httpDoer) *Connector {
	c := New("okta-prod", "https://acme.okta.com")
	c.client = doer
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

func TestDiscoverBuildsUsersGroupsAndMemberships(t *testing.T) {
	doer := &fakeDoer{responses: []pathResponse{
		{suffix: "g1/users", body: `[{"id":"u1"}]`},
		{suffix: "/users", body: `[{"id":"u1","status":"ACTIVE","profile":{"login":"alice@co.com","firstName":"Alice","lastName":"Smith"}}]`},
		{suffix: "/groups", body: `[{"id":"g1","profile":{"name":"Admins"}}]`},
	}}
	c := newTestConnector(doer)
	creds := connector.Credentials{Values: map[string]string{"api_token": "tok"}}

	result, err := c.Discover(context.Background(), domain.TenantID("t1"), connector.DefaultConfig(), creds)

	require.NoError(t, err)
	require.Len(t, result.Users, 1)
	assert.Equal(t, "Alice Smith", result.Users[0].Name)
	assert.Nil(t, result.Users[0].MFAEnabled)
	require.Len(t, result.Groups, 1)
	require.Len(t, result.Edges, 1)
	assert.Equal(t, domain.EdgeMemberOf, result.Edges[0].Type)
}

func TestGetSurfacesRateLimitAsHTTPError(t *testing.T) {
	doer := &fakeDoer{statusCode: http.StatusTooManyRequests, responses: []pathResponse{{suffix: "/users", body: "{}"}}}
	c := newTestConnector(doer)
	creds := connector.Credentials{Values: map[string]string{"api_token": "tok"}}

	_, err := c.get(context.Background(), creds, "/api/v1/users?limit=1")
	require.Error(t, err)
	kind := connector.Classify(err)
	assert.Equal(t, domain.KindTransient, kind.Kind)
}

func TestHealthCheckRequiresAPIToken(t *testing.T) {
	c := newTestConnector(&fakeDoer{})
	err := c.HealthCheck(context.Background(), connector.DefaultConfig(), connector.Credentials{})
	require.Error(t, err)
}
