package gcp

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/api/compute/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectra-red/sentinel/internal/connector"
	"github.com/spectra-red/sentinel/internal/domain"
)

type fakeCompute struct {
	instancesErr error
}

func (f *fakeCompute) ListInstances(ctx context.Context, project, zone string) ([]*compute.Instance, error) {
	if f.instancesErr != nil {
		return nil, f.instancesErr
	}
	if zone != "us-central1-a" {
		return nil, nil
	}
	return []*compute.Instance{{
		Id: 42, Name: "web-1",
		NetworkInterfaces: []*compute.NetworkInterface{{NetworkIP: "10.128.0.5"}},
	}}, nil
}

func (f *fakeCompute) ListNetworks(ctx context.Context, project string) ([]*compute.Network, error) {
	return []*compute.Network{{Name: "default", SelfLink: "projects/p/global/networks/default"}}, nil
}

func (f *fakeCompute) ListSubnetworks(ctx context.Context, project, region string) ([]*compute.Subnetwork, error) {
	return []*compute.Subnetwork{{IpCidrRange: "10.128.0.0/20", Network: "projects/p/global/networks/default"}}, nil
}

func (f *fakeCompute) ListFirewalls(ctx context.Context, project string) ([]*compute.Firewall, error) {
	return []*compute.Firewall{{Id: 7, Name: "allow-ssh", Direction: "INGRESS", Allowed: []*compute.FirewallAllowed{{IPProtocol: "tcp"}}}}, nil
}

func newTestConnector(api computeAPI) *Connector {
	c := New("gcp-prod", "proj-1")
	c.newService = func(ctx context.Context, creds connector.Credentials) (computeAPI, error) {
		return api, nil
	}
	return c
}

func TestDiscoverBuildsGCPGraph(t *testing.T) {
	cfg := connector.DefaultConfig()
	cfg.Regions = []string{"us-central1"}
	c := newTestConnector(&fakeCompute{})

	result, err := c.Discover(context.Background(), domain.TenantID("t1"), cfg, connector.Credentials{})

	require.NoError(t, err)
	assert.Len(t, result.Vpcs, 1)
	assert.Len(t, result.Subnets, 1)
	assert.Len(t, result.Policies, 1)
	assert.Len(t, result.Hosts, 1)
	assert.Equal(t, "web-1", result.Hosts[0].Hostname)

	var sawBelongsToVpc bool
	for _, e := range result.Edges {
		if e.Type == domain.EdgeBelongsToVpc {
			sawBelongsToVpc = true
		}
	}
	assert.True(t, sawBelongsToVpc)
}

func TestDiscoverRecordsDeadEndOnInstanceListFailure(t *testing.T) {
	cfg := connector.DefaultConfig()
	cfg.Regions = []string{"us-central1"}
	c := newTestConnector(&fakeCompute{instancesErr: errors.New("permission denied")})

	result, err := c.Discover(context.Background(), domain.TenantID("t1"), cfg, connector.Credentials{})

	require.NoError(t, err)
	assert.NotEmpty(t, result.DeadEnds)
	assert.Empty(t, result.Hosts)
}

func TestHealthCheckPropagatesCredentialFailure(t *testing.T) {
	c := New("gcp-prod", "proj-1")
	c.newService = func(ctx context.Context, creds connector.Credentials) (computeAPI, error) {
		return nil, domain.NewError(domain.KindCredential, "bad service account json", nil)
	}
	err := c.HealthCheck(context.Background(), connector.DefaultConfig(), connector.Credentials{})
	require.Error(t, err)
}
