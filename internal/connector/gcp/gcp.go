// Package gcp discovers Compute Engine instances, VPC networks,
// subnetworks and firewall rules in one GCP project. Grounded on the
// same narrow-fetch-function pattern the teacher uses for its
// enrichment HTTP clients (internal/enrichment/nvd.go's single
// QueryByCPE method wrapping the whole HTTP round-trip) — here each
// fetch method wraps one chained googleapis Do() call so tests can
// substitute it without a live project.
package gcp

import (
	"context"
	"fmt"

	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"

	"github.com/spectra-red/sentinel/internal/connector"
	"github.com/spectra-red/sentinel/internal/domain"
)

// computeAPI is the subset of Compute Engine operations Connector
// exercises, narrowed from the generated *compute.Service so tests can
// substitute a fake.
type computeAPI interface {
	ListInstances(ctx context.Context, project, zone string) ([]*compute.Instance, error)
	ListNetworks(ctx context.Context, project string) ([]*compute.Network, error)
	ListSubnetworks(ctx context.Context, project, region string) ([]*compute.Subnetwork, error)
	ListFirewalls(ctx context.Context, project string) ([]*compute.Firewall, error)
}

type serviceFactory func(ctx context.Context, creds connector.Credentials) (computeAPI, error)

// Connector discovers GCP compute and networking resources (spec §4.5).
type Connector struct {
	name       string
	project    string
	newService serviceFactory
}

// New builds the production connector for the given GCP project,
// resolving a Compute service from a service-account JSON key.
func New(name, project string) *Connector {
	return &Connector{name: name, project: project, newService: defaultServiceFactory}
}

func defaultServiceFactory(ctx context.Context, creds connector.Credentials) (computeAPI, error) {
	keyJSON := creds.Values["service_account_json"]
	if keyJSON == "" {
		return nil, domain.NewError(domain.KindCredential, "gcp connector requires service_account_json", nil)
	}
	svc, err := compute.NewService(ctx, option.WithCredentialsJSON([]byte(keyJSON)))
	if err != nil {
		return nil, domain.NewError(domain.KindConfig, "failed to build gcp compute service", err)
	}
	return &liveComputeAPI{svc: svc}, nil
}

// liveComputeAPI wraps the real generated client, flattening its
// per-zone/per-region aggregation into the one-shot slices Discover
// wants.
type liveComputeAPI struct{ svc *compute.Service }

func (l *liveComputeAPI) ListInstances(ctx context.Context, project, zone string) ([]*compute.Instance, error) {
	var out []*compute.Instance
	err := l.svc.Instances.List(project, zone).Pages(ctx, func(page *compute.InstanceList) error {
		out = append(out, page.Items...)
		return nil
	})
	return out, err
}

func (l *liveComputeAPI) ListNetworks(ctx context.Context, project string) ([]*compute.Network, error) {
	var out []*compute.Network
	err := l.svc.Networks.List(project).Pages(ctx, func(page *compute.NetworkList) error {
		out = append(out, page.Items...)
		return nil
	})
	return out, err
}

func (l *liveComputeAPI) ListSubnetworks(ctx context.Context, project, region string) ([]*compute.Subnetwork, error) {
	var out []*compute.Subnetwork
	err := l.svc.Subnetworks.List(project, region).Pages(ctx, func(page *compute.SubnetworkList) error {
		out = append(out, page.Items...)
		return nil
	})
	return out, err
}

func (l *liveComputeAPI) ListFirewalls(ctx context.Context, project string) ([]*compute.Firewall, error) {
	var out []*compute.Firewall
	err := l.svc.Firewalls.List(project).Pages(ctx, func(page *compute.FirewallList) error {
		out = append(out, page.Items...)
		return nil
	})
	return out, err
}

func (c *Connector) Name() string               { return c.name }
func (c *Connector) Type() domain.ConnectorType { return domain.ConnectorGCP }

// HealthCheck confirms the service account key resolves to a usable
// Compute client and the project accepts a cheap network listing.
func (c *Connector) HealthCheck(ctx context.Context, cfg connector.Config, creds connector.Credentials) error {
	svc, err := c.newService(ctx, creds)
	if err != nil {
		return err
	}
	if _, err := svc.ListNetworks(ctx, c.project); err != nil {
		return domain.NewError(domain.KindCredential, "gcp networks.list failed", err)
	}
	return nil
}

// Discover enumerates every configured region/zone independently,
// recording a sub-failure as a dead-end rather than aborting the run
// (spec §4.4 step 4).
func (c *Connector) Discover(ctx context.Context, tenant domain.TenantID, cfg connector.Config, creds connector.Credentials) (connector.SyncResult, error) {
	svc, err := c.newService(ctx, creds)
	if err != nil {
		return connector.SyncResult{}, err
	}

	regions := cfg.Regions
	if len(regions) == 0 {
		regions = []string{"us-central1"}
	}

	result := connector.SyncResult{Status: domain.RunCompleted}

	networks, err := svc.ListNetworks(ctx, c.project)
	if err != nil {
		result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "networks", Reason: err.Error()})
	}
	vpcByURL := map[string]domain.Vpc{}
	for _, n := range networks {
		vpc := domain.NewVpc(tenant, n.Name, "global", false)
		result.Vpcs = append(result.Vpcs, vpc)
		vpcByURL[n.SelfLink] = vpc
	}

	firewalls, err := svc.ListFirewalls(ctx, c.project)
	if err != nil {
		result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "firewalls", Reason: err.Error()})
	}
	for _, fw := range firewalls {
		rules := map[string]any{"direction": fw.Direction, "allowed": len(fw.Allowed), "denied": len(fw.Denied)}
		result.Policies = append(result.Policies, domain.NewPolicy(tenant, fmt.Sprintf("%d", fw.Id), domain.PolicyFirewallRule, fw.Name, rules))
	}

	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		subnets, err := svc.ListSubnetworks(ctx, c.project, region)
		if err != nil {
			result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "subnetworks:" + region, Reason: err.Error()})
			continue
		}
		for _, sn := range subnets {
			subnet := domain.NewSubnet(tenant, sn.IpCidrRange, region, false)
			result.Subnets = append(result.Subnets, subnet)
			if vpc, ok := vpcByURL[sn.Network]; ok {
				result.Edges = append(result.Edges, connector.MakeEdge(tenant, subnet, vpc, domain.EdgeBelongsToVpc, nil))
			}
		}

		zones := []string{region + "-a", region + "-b"}
		for _, zone := range zones {
			instances, err := svc.ListInstances(ctx, c.project, zone)
			if err != nil {
				result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "instances:" + zone, Reason: err.Error()})
				continue
			}
			for _, inst := range instances {
				host := domain.NewHost(tenant, firstInternalIP(inst), inst.Name, "", "", "gcp", fmt.Sprintf("%d", inst.Id), region, domain.CriticalityMedium, nil)
				result.Hosts = append(result.Hosts, host)
			}
		}
	}
	return result, nil
}

func firstInternalIP(inst *compute.Instance) string {
	for _, ni := range inst.NetworkInterfaces {
		if ni.NetworkIP != "" {
			return ni.NetworkIP
		}
	}
	return ""
}
