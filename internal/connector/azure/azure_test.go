package azure

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

type fakeDoer struct {
	byPathSuffix map[string]string
	statusCode   int
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	for suffix, body := range f.byPathSuffix {
		if strings.Contains(req.URL.Path, suffix) {
			code := f.statusCode
			if code == 0 {
				code = http.StatusOK
			}
			return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(body))}, nil
		}
	}
	return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("{}"))}, nil
}

const vnetBody = `{"value":[{"id":"/vnets/v1","name":"v1","location":"eastus","properties":{"subnets":[{"name":"sn1","properties":{"addressPrefix":"10.0.0.0/24"}}]}}]}`
const nsgBody = `{"value":[{"id":"/nsgs/n1","name":"n1","properties":{"securityRules":[{"name":"allow-ssh"}]}}]}`
const vmBody = `{"value":[{"id":"/vms/vm1","name":"vm1","location":"eastus","properties":{"osProfile":{"computerName":"web-1"},"storageProfile":{"osDisk":{"osType":"Linux"}}}}]}`

func newTestConnector(doer httpDoer) *Connector {
	c := New("azure-prod", "sub-1")
	c.client = doer
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

func TestDiscoverBuildsAzureGraph(t *testing.T) {
	doer := &fakeDoer{byPathSuffix: map[string]string{
		"virtualNetworks":        vnetBody,
		"networkSecurityGroups":  nsgBody,
		"virtualMachines":        vmBody,
	}}
	c := newTestConnector(doer)
	creds := connector.Credentials{Values: map[string]string{"bearer_token": "tok"}}

	result, err := c.Discover(context.Background(), domain.TenantID("t1"), connector.DefaultConfig(), creds)

	require.NoError(t, err)
	assert.Len(t, result.Vpcs, 1)
	assert.Len(t, result.Subnets, 1)
	assert.Len(t, result.Policies, 1)
	require.Len(t, result.Hosts, 1)
	assert.Equal(t, "web-1", result.Hosts[0].Hostname)
}

func TestGetFailsWithoutBearerToken(t *testing.T) {
	c := newTestConnector(&fakeDoer{})
	err := c.HealthCheck(context.Background(), connector.DefaultConfig(), connector.Credentials{})
	require.Error(t, err)
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindCredential, kind)
}

func TestDiscoverRecordsDeadEndOn403(t *testing.T) {
	doer := &fakeDoer{statusCode: http.StatusForbidden, byPathSuffix: map[string]string{"virtualNetworks": "{}"}}
	c := newTestConnector(doer)
	creds := connector.Credentials{Values: map[string]string{"bearer_token": "tok"}}

	result, err := c.Discover(context.Background(), domain.TenantID("t1"), connector.DefaultConfig(), creds)

	require.NoError(t, err)
	assert.NotEmpty(t, result.DeadEnds)
}
