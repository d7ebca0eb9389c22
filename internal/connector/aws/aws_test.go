package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectra-red/sentinel/internal/connector"
	"github.com/spectra-red/sentinel/internal/domain"
)

type fakeEC2 struct {
	vpcsErr      error
	subnetsErr   error
	sgErr        error
	instancesErr error
}

func (f *fakeEC2) DescribeVpcs(context.Context, *ec2.DescribeVpcsInput, ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	if f.vpcsErr != nil {
		return nil, f.vpcsErr
	}
	return &ec2.DescribeVpcsOutput{Vpcs: []ec2types.Vpc{{VpcId: aws.String("vpc-1")}}}, nil
}

func (f *fakeEC2) DescribeSubnets(context.Context, *ec2.DescribeSubnetsInput, ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	if f.subnetsErr != nil {
		return nil, f.subnetsErr
	}
	return &ec2.DescribeSubnetsOutput{Subnets: []ec2types.Subnet{
		{SubnetId: aws.String("subnet-1"), VpcId: aws.String("vpc-1"), CidrBlock: aws.String("10.0.0.0/24"), MapPublicIpOnLaunch: aws.Bool(true)},
	}}, nil
}

func (f *fakeEC2) DescribeSecurityGroups(context.Context, *ec2.DescribeSecurityGroupsInput, ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	if f.sgErr != nil {
		return nil, f.sgErr
	}
	return &ec2.DescribeSecurityGroupsOutput{SecurityGroups: []ec2types.SecurityGroup{
		{GroupId: aws.String("sg-1"), GroupName: aws.String("web")},
	}}, nil
}

func (f *fakeEC2) DescribeInstances(context.Context, *ec2.DescribeInstancesInput, ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if f.instancesErr != nil {
		return nil, f.instancesErr
	}
	return &ec2.DescribeInstancesOutput{Reservations: []ec2types.Reservation{{
		Instances: []ec2types.Instance{{
			InstanceId:       aws.String("i-1"),
			PrivateIpAddress: aws.String("10.0.0.5"),
			SubnetId:         aws.String("subnet-1"),
			State:            &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
			SecurityGroups:   []ec2types.GroupIdentifier{{GroupId: aws.String("sg-1")}},
			Tags:             []ec2types.Tag{{Key: aws.String("Name"), Value: aws.String("web-1")}},
		}},
	}}}, nil
}

type fakeSTS struct{ err error }

func (f fakeSTS) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{Arn: aws.String("arn:aws:iam::123456789012:user/scanner")}, nil
}

func newTestConnector(ec2Client ec2API, stsClient stsAPI, factoryErr error) *Connector {
	c := New("aws-prod")
	c.newClients = func(ctx context.Context, creds connector.Credentials, region string) (ec2API, stsAPI, error) {
		if factoryErr != nil {
			return nil, nil, factoryErr
		}
		return ec2Client, stsClient, nil
	}
	return c
}

func TestDiscoverBuildsHostsVpcsSubnetsAndEdges(t *testing.T) {
	c := newTestConnector(&fakeEC2{}, fakeSTS{}, nil)
	result, err := c.Discover(context.Background(), domain.TenantID("t1"), connector.DefaultConfig(), connector.Credentials{})

	require.NoError(t, err)
	assert.Len(t, result.Hosts, 1)
	assert.Len(t, result.Vpcs, 1)
	assert.Len(t, result.Subnets, 1)
	assert.Len(t, result.Policies, 1)
	assert.Equal(t, "web-1", result.Hosts[0].Hostname)

	var sawBelongsToSubnet, sawBelongsToVpc, sawHasAccess bool
	for _, e := range result.Edges {
		switch e.Type {
		case domain.EdgeBelongsToSubnet:
			sawBelongsToSubnet = true
		case domain.EdgeBelongsToVpc:
			sawBelongsToVpc = true
		case domain.EdgeHasAccess:
			sawHasAccess = true
		}
	}
	assert.True(t, sawBelongsToSubnet)
	assert.True(t, sawBelongsToVpc)
	assert.True(t, sawHasAccess)
}

func TestDiscoverRecordsDeadEndOnRegionFailureWithoutAbortingOthers(t *testing.T) {
	cfg := connector.DefaultConfig()
	cfg.Regions = []string{"us-east-1", "eu-west-1"}

	c := New("aws-prod")
	calls := 0
	c.newClients = func(ctx context.Context, creds connector.Credentials, region string) (ec2API, stsAPI, error) {
		calls++
		if region == "eu-west-1" {
			return &fakeEC2{vpcsErr: errors.New("throttled")}, fakeSTS{}, nil
		}
		return &fakeEC2{}, fakeSTS{}, nil
	}

	result, err := c.Discover(context.Background(), domain.TenantID("t1"), cfg, connector.Credentials{})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, result.DeadEnds, 1)
	assert.Contains(t, result.DeadEnds[0].Resource, "eu-west-1")
	assert.Len(t, result.Hosts, 1)
}

func TestHealthCheckFailsOnRejectedCredentials(t *testing.T) {
	c := newTestConnector(&fakeEC2{}, fakeSTS{err: errors.New("signature mismatch")}, nil)
	err := c.HealthCheck(context.Background(), connector.DefaultConfig(), connector.Credentials{})
	require.Error(t, err)
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindCredential, kind)
}

func TestHealthCheckFailsWhenCredentialFieldsMissing(t *testing.T) {
	c := newTestConnector(&fakeEC2{}, fakeSTS{}, domain.NewError(domain.KindCredential, "missing fields", nil))
	err := c.HealthCheck(context.Background(), connector.DefaultConfig(), connector.Credentials{})
	require.Error(t, err)
}
