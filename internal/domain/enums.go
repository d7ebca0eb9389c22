package domain

// Criticality ranks a Host's business importance.
type Criticality string

const (
	CriticalityCritical Criticality = "critical"
	CriticalityHigh     Criticality = "high"
	CriticalityMedium   Criticality = "medium"
	CriticalityLow      Criticality = "low"
	CriticalityInfo     Criticality = "info"
)

// ServiceProtocol enumerates the transport/application protocols a
// Service node can run.
type ServiceProtocol string

const (
	ProtoTCP   ServiceProtocol = "tcp"
	ProtoUDP   ServiceProtocol = "udp"
	ProtoHTTP  ServiceProtocol = "http"
	ProtoHTTPS ServiceProtocol = "https"
	ProtoSSH   ServiceProtocol = "ssh"
	ProtoRDP   ServiceProtocol = "rdp"
	ProtoDNS   ServiceProtocol = "dns"
)

// ServiceState is the observed run state of a Service.
type ServiceState string

const (
	ServiceRunning ServiceState = "running"
	ServiceStopped ServiceState = "stopped"
	ServiceUnknown ServiceState = "unknown"
)

// PortState is the observed state of a Port.
type PortState string

const (
	PortOpen     PortState = "open"
	PortClosed   PortState = "closed"
	PortFiltered PortState = "filtered"
)

// IdentitySource enumerates the identity systems a User/Group/Role can
// originate from.
type IdentitySource string

const (
	SourceEntraID  IdentitySource = "entra_id"
	SourceOkta     IdentitySource = "okta"
	SourceAWSIAM   IdentitySource = "aws_iam"
	SourceAzureRBAC IdentitySource = "azure_rbac"
	SourceGCPIAM   IdentitySource = "gcp_iam"
	SourceLocal    IdentitySource = "local"
)

// UserType distinguishes human accounts from machine identities.
type UserType string

const (
	UserHuman          UserType = "human"
	UserServiceAccount UserType = "service_account"
	UserSystem         UserType = "system"
)

// PolicyType enumerates the shapes of access-control documents a Policy
// node can represent.
type PolicyType string

const (
	PolicyIAM               PolicyType = "iam_policy"
	PolicyFirewallRule       PolicyType = "firewall_rule"
	PolicySecurityGroup      PolicyType = "security_group"
	PolicyConditionalAccess  PolicyType = "conditional_access"
	PolicyNetworkACL         PolicyType = "network_acl"
)

// Severity ranks a Vulnerability under the CVSS-bucket mapping of I4:
// >=9 critical, >=7 high, >=4 medium, >0 low, 0 none.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityNone     Severity = "none"
)

// SeverityFromCVSS maps a CVSS base score onto the bucketed Severity
// enum per invariant I4. Scores outside [0,10] are not checked here;
// domain.ValidateVulnerability rejects them.
func SeverityFromCVSS(cvss float64) Severity {
	switch {
	case cvss >= 9:
		return SeverityCritical
	case cvss >= 7:
		return SeverityHigh
	case cvss >= 4:
		return SeverityMedium
	case cvss > 0:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// ConnectorType enumerates the concrete source kinds the framework (C4)
// can run.
type ConnectorType string

const (
	ConnectorAWS     ConnectorType = "aws"
	ConnectorAzure   ConnectorType = "azure"
	ConnectorGCP     ConnectorType = "gcp"
	ConnectorEntraID ConnectorType = "entra_id"
	ConnectorOkta    ConnectorType = "okta"
	ConnectorElastic ConnectorType = "elastic"
)

// RunStatus is the terminal or in-flight status of a connector run or
// scan (C7, spec §6 scan_history.status).
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
	RunPartial   RunStatus = "partial"
)

// EdgeType enumerates the relationship kinds materialized between nodes.
type EdgeType string

const (
	EdgeConnectsTo         EdgeType = "CONNECTS_TO"
	EdgeHasAccess          EdgeType = "HAS_ACCESS"
	EdgeMemberOf           EdgeType = "MEMBER_OF"
	EdgeRunsOn             EdgeType = "RUNS_ON"
	EdgeTrusts             EdgeType = "TRUSTS"
	EdgeRoutesTo           EdgeType = "ROUTES_TO"
	EdgeExposes            EdgeType = "EXPOSES"
	EdgeDependsOn          EdgeType = "DEPENDS_ON"
	EdgeCanReach           EdgeType = "CAN_REACH"
	EdgeHasCVE             EdgeType = "HAS_CVE"
	EdgeHasPort            EdgeType = "HAS_PORT"
	EdgeHasCertificate     EdgeType = "HAS_CERTIFICATE"
	EdgeBelongsToSubnet    EdgeType = "BELONGS_TO_SUBNET"
	EdgeBelongsToVpc       EdgeType = "BELONGS_TO_VPC"
	EdgeHasFinding         EdgeType = "HAS_FINDING"
)

// Label enumerates the node variants (spec §3/§4.1).
type Label string

const (
	LabelHost          Label = "Host"
	LabelService       Label = "Service"
	LabelPort          Label = "Port"
	LabelUser          Label = "User"
	LabelGroup         Label = "Group"
	LabelRole          Label = "Role"
	LabelPolicy        Label = "Policy"
	LabelSubnet        Label = "Subnet"
	LabelVpc           Label = "Vpc"
	LabelVulnerability Label = "Vulnerability"
	LabelCertificate   Label = "Certificate"
	LabelApplication   Label = "Application"
	LabelMcpServer     Label = "McpServer"
	LabelFinding       Label = "Finding"
	LabelConfigSnapshot Label = "ConfigSnapshot"
)
