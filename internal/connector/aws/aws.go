// Package aws discovers EC2 compute, VPC networking and security-group
// resources in one AWS account. Grounded on the narrow-interface-over-
// SDK-client pattern in mateoblack-sentinel's permissions.Checker
// (iamCheckerAPI/stsCheckerAPI), generalized to the connector
// framework's Discover/HealthCheck contract.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/spectra-red/sentinel/internal/connector"
	"github.com/spectra-red/sentinel/internal/domain"
)

// ec2API is the subset of the EC2 client Connector exercises, narrowed
// so tests can substitute a fake without standing up a real account.
type ec2API interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeVpcs(ctx context.Context, in *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	DescribeSubnets(ctx context.Context, in *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	DescribeSecurityGroups(ctx context.Context, in *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
}

type stsAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// clientFactory builds the narrow API interfaces from resolved
// credentials. A field rather than a free function so tests can inject
// fakes without a network round-trip.
type clientFactory func(ctx context.Context, creds connector.Credentials, region string) (ec2API, stsAPI, error)

// Connector discovers AWS compute and networking resources (spec §4.5
// cloud connector: EC2 → Host, VPC → Vpc, subnet → Subnet, security
// group → Policy; edges BELONGS_TO_SUBNET, BELONGS_TO_VPC, HAS_ACCESS).
type Connector struct {
	name       string
	newClients clientFactory
}

// New builds the production connector, resolving SDK clients from
// access-key/secret-key/session-token credential fields.
func New(name string) *Connector {
	return &Connector{name: name, newClients: defaultClientFactory}
}

func defaultClientFactory(ctx context.Context, creds connector.Credentials, region string) (ec2API, stsAPI, error) {
	accessKey := creds.Values["access_key_id"]
	secretKey := creds.Values["secret_access_key"]
	sessionToken := creds.Values["session_token"]
	if accessKey == "" || secretKey == "" {
		return nil, nil, domain.NewError(domain.KindCredential, "aws connector requires access_key_id and secret_access_key", nil)
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, sessionToken)),
	)
	if err != nil {
		return nil, nil, domain.NewError(domain.KindConfig, "failed to build aws config", err)
	}
	return ec2.NewFromConfig(cfg), sts.NewFromConfig(cfg), nil
}

func (c *Connector) Name() string               { return c.name }
func (c *Connector) Type() domain.ConnectorType { return domain.ConnectorAWS }

// HealthCheck confirms the resolved credentials are accepted by STS
// before a full Discover is attempted, matching the caller-identity
// check mateoblack-sentinel's Checker performs before simulating any
// policy (permissions/checker.go:Check).
func (c *Connector) HealthCheck(ctx context.Context, cfg connector.Config, creds connector.Credentials) error {
	region := firstRegion(cfg)
	_, stsClient, err := c.newClients(ctx, creds, region)
	if err != nil {
		return err
	}
	if _, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}); err != nil {
		return domain.NewError(domain.KindCredential, "sts GetCallerIdentity failed", err)
	}
	return nil
}

// Discover enumerates every configured region independently; a failure
// in one region is recorded as a dead-end and does not abort the others
// (spec §4.4 step 4, §4.5 "each connector is independent").
func (c *Connector) Discover(ctx context.Context, tenant domain.TenantID, cfg connector.Config, creds connector.Credentials) (connector.SyncResult, error) {
	regions := cfg.Regions
	if len(regions) == 0 {
		regions = []string{"us-east-1"}
	}

	result := connector.SyncResult{Status: domain.RunCompleted}
	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		ec2Client, _, err := c.newClients(ctx, creds, region)
		if err != nil {
			result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "region:" + region, Reason: err.Error()})
			continue
		}
		if err := discoverRegion(ctx, tenant, ec2Client, region, &result); err != nil {
			result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "region:" + region, Reason: err.Error()})
		}
	}
	return result, nil
}

func discoverRegion(ctx context.Context, tenant domain.TenantID, client ec2API, region string, result *connector.SyncResult) error {
	vpcByExternalID := map[string]domain.Vpc{}
	vpcsOut, err := client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{})
	if err != nil {
		return fmt.Errorf("describe vpcs: %w", err)
	}
	for _, v := range vpcsOut.Vpcs {
		vpc := domain.NewVpc(tenant, aws.ToString(v.VpcId), region, false)
		result.Vpcs = append(result.Vpcs, vpc)
		vpcByExternalID[aws.ToString(v.VpcId)] = vpc
	}

	subnetByID := map[string]domain.Subnet{}
	subnetsOut, err := client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{})
	if err != nil {
		return fmt.Errorf("describe subnets: %w", err)
	}
	for _, s := range subnetsOut.Subnets {
		public := aws.ToBool(s.MapPublicIpOnLaunch)
		subnet := domain.NewSubnet(tenant, aws.ToString(s.CidrBlock), region, public)
		result.Subnets = append(result.Subnets, subnet)
		subnetByID[aws.ToString(s.SubnetId)] = subnet
		if vpc, ok := vpcByExternalID[aws.ToString(s.VpcId)]; ok {
			result.Edges = append(result.Edges, connector.MakeEdge(tenant, subnet, vpc, domain.EdgeBelongsToVpc, nil))
		}
	}

	sgOut, err := client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{})
	if err != nil {
		return fmt.Errorf("describe security groups: %w", err)
	}
	policyBySgID := map[string]domain.Policy{}
	for _, sg := range sgOut.SecurityGroups {
		rules := map[string]any{"ingress": len(sg.IpPermissions), "egress": len(sg.IpPermissionsEgress)}
		policy := domain.NewPolicy(tenant, aws.ToString(sg.GroupId), domain.PolicySecurityGroup, aws.ToString(sg.GroupName), rules)
		result.Policies = append(result.Policies, policy)
		policyBySgID[aws.ToString(sg.GroupId)] = policy
	}

	instOut, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{})
	if err != nil {
		return fmt.Errorf("describe instances: %w", err)
	}
	for _, res := range instOut.Reservations {
		for _, inst := range res.Instances {
			if inst.State != nil && inst.State.Name == ec2types.InstanceStateNameTerminated {
				continue
			}
			host := domain.NewHost(
				tenant,
				aws.ToString(inst.PrivateIpAddress),
				instanceName(inst.Tags),
				string(inst.Platform),
				"",
				"aws",
				aws.ToString(inst.InstanceId),
				region,
				domain.CriticalityMedium,
				tagsToMap(inst.Tags),
			)
			result.Hosts = append(result.Hosts, host)
			if subnet, ok := subnetByID[aws.ToString(inst.SubnetId)]; ok {
				result.Edges = append(result.Edges, connector.MakeEdge(tenant, host, subnet, domain.EdgeBelongsToSubnet, nil))
			}
			for _, sgRef := range inst.SecurityGroups {
				if policy, ok := policyBySgID[aws.ToString(sgRef.GroupId)]; ok {
					result.Edges = append(result.Edges, connector.MakeEdge(tenant, host, policy, domain.EdgeHasAccess, nil))
				}
			}
		}
	}
	return nil
}

func firstRegion(cfg connector.Config) string {
	if len(cfg.Regions) > 0 {
		return cfg.Regions[0]
	}
	return "us-east-1"
}

func instanceName(tags []ec2types.Tag) string {
	for _, t := range tags {
		if aws.ToString(t.Key) == "Name" {
			return aws.ToString(t.Value)
		}
	}
	return ""
}

func tagsToMap(tags []ec2types.Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}
