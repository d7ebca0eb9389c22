// Package azure discovers Azure VMs, virtual networks, subnets and
// network security groups via the Azure Resource Manager REST API.
// Grounded on the teacher's hand-rolled HTTP client idiom
// (internal/enrichment/nvd.go's NVDClient: *http.Client field, bearer
// header, json.Decode into a typed response) — no Azure Go SDK appears
// anywhere in the retrieved pack, so this package imitates the
// established HTTP-client pattern rather than reaching for one.
package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/spectra-red/sentinel/internal/connector"
	"github.com/spectra-red/sentinel/internal/domain"
)

const (
	managementBaseURL = "https://management.azure.com"
	apiVersion        = "2023-09-01"
	requestTimeout    = 30 * time.Second
)

// httpDoer is the single method Connector needs from *http.Client,
// narrowed so tests can substitute a fake transport.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Connector discovers Azure compute and networking resources (spec
// §4.5).
type Connector struct {
	name           string
	subscriptionID string
	client         httpDoer
	limiter        *rate.Limiter
}

// New builds the production connector for one Azure subscription.
func New(name, subscriptionID string) *Connector {
	return &Connector{
		name:           name,
		subscriptionID: subscriptionID,
		client:         &http.Client{Timeout: requestTimeout},
		limiter:        rate.NewLimiter(rate.Limit(10), 10),
	}
}

func (c *Connector) Name() string               { return c.name }
func (c *Connector) Type() domain.ConnectorType { return domain.ConnectorAzure }

type resourceList[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"nextLink"`
}

type vmResource struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Location   string `json:"location"`
	Properties struct {
		OSProfile struct {
			ComputerName string `json:"computerName"`
		} `json:"osProfile"`
		StorageProfile struct {
			OSDisk struct {
				OSType string `json:"osType"`
			} `json:"osDisk"`
		} `json:"storageProfile"`
	} `json:"properties"`
}

type vnetResource struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Location   string `json:"location"`
	Properties struct {
		Subnets []struct {
			Name       string `json:"name"`
			Properties struct {
				AddressPrefix string `json:"addressPrefix"`
			} `json:"properties"`
		} `json:"subnets"`
	} `json:"properties"`
}

type nsgResource struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Properties struct {
		SecurityRules []struct {
			Name string `json:"name"`
		} `json:"securityRules"`
	} `json:"properties"`
}

// HealthCheck confirms the bearer token is accepted by issuing a cheap
// virtual-networks listing.
func (c *Connector) HealthCheck(ctx context.Context, cfg connector.Config, creds connector.Credentials) error {
	_, err := c.get(ctx, creds, "/providers/Microsoft.Network/virtualNetworks")
	if err != nil {
		return domain.NewError(domain.KindCredential, "azure health check failed", err)
	}
	return nil
}

// Discover enumerates virtual machines, virtual networks and network
// security groups subscription-wide (ARM resource listings are not
// region-scoped). cfg.Regions is not applied: resources in every region
// are returned, each node recording the resource's own location as its
// region.
func (c *Connector) Discover(ctx context.Context, tenant domain.TenantID, cfg connector.Config, creds connector.Credentials) (connector.SyncResult, error) {
	result := connector.SyncResult{Status: domain.RunCompleted}

	vnetByID := map[string]domain.Vpc{}
	vnetBody, err := c.get(ctx, creds, "/providers/Microsoft.Network/virtualNetworks")
	if err != nil {
		result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "virtualNetworks", Reason: err.Error()})
	} else {
		var list resourceList[vnetResource]
		if err := json.Unmarshal(vnetBody, &list); err != nil {
			result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "virtualNetworks", Reason: err.Error()})
		}
		for _, v := range list.Value {
			vpc := domain.NewVpc(tenant, v.ID, v.Location, false)
			result.Vpcs = append(result.Vpcs, vpc)
			vnetByID[v.ID] = vpc
			for _, sn := range v.Properties.Subnets {
				subnet := domain.NewSubnet(tenant, sn.Properties.AddressPrefix, v.Location, false)
				result.Subnets = append(result.Subnets, subnet)
				result.Edges = append(result.Edges, connector.MakeEdge(tenant, subnet, vpc, domain.EdgeBelongsToVpc, nil))
			}
		}
	}

	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	nsgBody, err := c.get(ctx, creds, "/providers/Microsoft.Network/networkSecurityGroups")
	if err != nil {
		result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "networkSecurityGroups", Reason: err.Error()})
	} else {
		var list resourceList[nsgResource]
		if err := json.Unmarshal(nsgBody, &list); err != nil {
			result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "networkSecurityGroups", Reason: err.Error()})
		}
		for _, nsg := range list.Value {
			rules := map[string]any{"rule_count": len(nsg.Properties.SecurityRules)}
			result.Policies = append(result.Policies, domain.NewPolicy(tenant, nsg.ID, domain.PolicySecurityGroup, nsg.Name, rules))
		}
	}

	vmBody, err := c.get(ctx, creds, "/providers/Microsoft.Compute/virtualMachines")
	if err != nil {
		result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "virtualMachines", Reason: err.Error()})
		return result, nil
	}
	var vmList resourceList[vmResource]
	if err := json.Unmarshal(vmBody, &vmList); err != nil {
		result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "virtualMachines", Reason: err.Error()})
		return result, nil
	}
	for _, vm := range vmList.Value {
		host := domain.NewHost(tenant, "", vm.Properties.OSProfile.ComputerName, vm.Properties.StorageProfile.OSDisk.OSType, "", "azure", vm.ID, vm.Location, domain.CriticalityMedium, nil)
		result.Hosts = append(result.Hosts, host)
	}
	return result, nil
}

func (c *Connector) get(ctx context.Context, creds connector.Credentials, path string) ([]byte, error) {
	token := creds.Values["bearer_token"]
	if token == "" {
		return nil, domain.NewError(domain.KindCredential, "azure connector requires bearer_token", nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL, err := url.Parse(managementBaseURL + "/subscriptions/" + c.subscriptionID + path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", path, err)
	}
	q := reqURL.Query()
	q.Set("api-version", apiVersion)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &connector.HTTPError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading azure response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &connector.HTTPError{StatusCode: resp.StatusCode, Err: fmt.Errorf("azure arm returned status %d", resp.StatusCode)}
	}
	return body, nil
}
