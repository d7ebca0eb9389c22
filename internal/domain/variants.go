package domain

// Host is a discovered compute asset: a bare-metal box, VM, or cloud
// instance.
type Host struct {
	Base
	IP          string
	Hostname    string
	OS          string
	MAC         string
	Provider    string // cloud provider, empty for non-cloud hosts
	InstanceID  string
	Region      string
	Criticality Criticality
	Tags        map[string]string
}

// NewHost builds a Host with its natural key derived from cloud coordinates
// when present (stable across re-discovery of the same instance), falling
// back to IP address for non-cloud sources.
func NewHost(tenant TenantID, ip, hostname, os, mac, provider, instanceID, region string, criticality Criticality, tags map[string]string) Host {
	key := ip
	if provider != "" && instanceID != "" {
		key = provider + ":" + instanceID
	}
	id := Fingerprint(LabelHost, tenant, key)
	return Host{
		Base:        Base{TenantID: tenant, NodeID: id},
		IP:          ip,
		Hostname:    hostname,
		OS:          os,
		MAC:         mac,
		Provider:    provider,
		InstanceID:  instanceID,
		Region:      region,
		Criticality: criticality,
		Tags:        tags,
	}
}

func (h Host) Label() Label { return LabelHost }
func (h Host) NaturalKey() string { return h.NodeID }
func (h Host) Properties() map[string]any {
	return map[string]any{
		"ip": h.IP, "hostname": h.Hostname, "os": h.OS, "mac": h.MAC,
		"provider": h.Provider, "instance_id": h.InstanceID, "region": h.Region,
		"criticality": string(h.Criticality), "tags": h.Tags,
	}
}

// Service is a network-facing software service running on a Host's Port.
type Service struct {
	Base
	Name     string
	Version  string
	Port     int
	Protocol ServiceProtocol
	State    ServiceState
	Banner   string
}

// NewService derives its natural key from the owning host, service name,
// port number and protocol: the same named service on the same host/port
// is the same node across runs, independent of banner text or version
// drift.
func NewService(tenant TenantID, hostID string, name string, version string, port int, protocol ServiceProtocol, state ServiceState, banner string) Service {
	id := Fingerprint(LabelService, tenant, hostID, name, itoa(port), string(protocol))
	return Service{
		Base: Base{TenantID: tenant, NodeID: id}, Name: name, Version: version,
		Port: port, Protocol: protocol, State: state, Banner: banner,
	}
}

func (s Service) Label() Label { return LabelService }
func (s Service) NaturalKey() string { return s.NodeID }
func (s Service) Properties() map[string]any {
	return map[string]any{
		"name": s.Name, "version": s.Version, "port": s.Port,
		"protocol": string(s.Protocol), "state": string(s.State), "banner": s.Banner,
	}
}

// Port is a discovered open/closed/filtered network port on a Host.
type Port struct {
	Base
	Number   int
	Protocol string
	State    PortState
}

func NewPort(tenant TenantID, hostID string, number int, protocol string, state PortState) Port {
	id := Fingerprint(LabelPort, tenant, hostID, itoa(number), protocol)
	return Port{Base: Base{TenantID: tenant, NodeID: id}, Number: number, Protocol: protocol, State: state}
}

func (p Port) Label() Label { return LabelPort }
func (p Port) NaturalKey() string { return p.NodeID }
func (p Port) Properties() map[string]any {
	return map[string]any{"number": p.Number, "protocol": p.Protocol, "state": string(p.State)}
}

// identityPrincipal carries the fields shared by User, Group and Role.
type identityPrincipal struct {
	Source       IdentitySource
	ExternalID   string // source-native ID (e.g. Entra object ID, IAM ARN)
	Name         string
}

// User is a human, service-account or system identity.
type User struct {
	Base
	identityPrincipal
	UserType   UserType
	Enabled    bool
	MFAEnabled *bool
}

func NewUser(tenant TenantID, source IdentitySource, externalID, name string, userType UserType, enabled bool, mfaEnabled *bool) User {
	id := Fingerprint(LabelUser, tenant, string(source), externalID)
	return User{
		Base:              Base{TenantID: tenant, NodeID: id},
		identityPrincipal: identityPrincipal{Source: source, ExternalID: externalID, Name: name},
		UserType:          userType, Enabled: enabled, MFAEnabled: mfaEnabled,
	}
}

func (u User) Label() Label { return LabelUser }
func (u User) NaturalKey() string { return u.NodeID }
func (u User) Properties() map[string]any {
	props := map[string]any{
		"source": string(u.Source), "external_id": u.ExternalID, "name": u.Name,
		"user_type": string(u.UserType), "enabled": u.Enabled,
	}
	if u.MFAEnabled != nil {
		props["mfa_enabled"] = *u.MFAEnabled
	}
	return props
}

// Group is an identity-system group.
type Group struct {
	Base
	identityPrincipal
}

func NewGroup(tenant TenantID, source IdentitySource, externalID, name string) Group {
	id := Fingerprint(LabelGroup, tenant, string(source), externalID)
	return Group{Base: Base{TenantID: tenant, NodeID: id}, identityPrincipal: identityPrincipal{Source: source, ExternalID: externalID, Name: name}}
}

func (g Group) Label() Label { return LabelGroup }
func (g Group) NaturalKey() string { return g.NodeID }
func (g Group) Properties() map[string]any {
	return map[string]any{"source": string(g.Source), "external_id": g.ExternalID, "name": g.Name}
}

// Role is an identity-system role or IAM role.
type Role struct {
	Base
	identityPrincipal
}

func NewRole(tenant TenantID, source IdentitySource, externalID, name string) Role {
	id := Fingerprint(LabelRole, tenant, string(source), externalID)
	return Role{Base: Base{TenantID: tenant, NodeID: id}, identityPrincipal: identityPrincipal{Source: source, ExternalID: externalID, Name: name}}
}

func (r Role) Label() Label { return LabelRole }
func (r Role) NaturalKey() string { return r.NodeID }
func (r Role) Properties() map[string]any {
	return map[string]any{"source": string(r.Source), "external_id": r.ExternalID, "name": r.Name}
}

// Policy is an access-control document: IAM policy, firewall rule,
// security group, conditional-access policy, or network ACL.
type Policy struct {
	Base
	PolicyType PolicyType
	Name       string
	Rules      map[string]any // opaque rules document
}

func NewPolicy(tenant TenantID, externalID string, policyType PolicyType, name string, rules map[string]any) Policy {
	id := Fingerprint(LabelPolicy, tenant, string(policyType), externalID)
	return Policy{Base: Base{TenantID: tenant, NodeID: id}, PolicyType: policyType, Name: name, Rules: rules}
}

func (p Policy) Label() Label { return LabelPolicy }
func (p Policy) NaturalKey() string { return p.NodeID }
func (p Policy) Properties() map[string]any {
	return map[string]any{"policy_type": string(p.PolicyType), "name": p.Name, "rules": p.Rules}
}

// Subnet is a network subnet, identified by CIDR within a region.
type Subnet struct {
	Base
	CIDR   string
	Region string
	Public bool
}

func NewSubnet(tenant TenantID, cidr, region string, public bool) Subnet {
	id := Fingerprint(LabelSubnet, tenant, cidr, region)
	return Subnet{Base: Base{TenantID: tenant, NodeID: id}, CIDR: cidr, Region: region, Public: public}
}

func (s Subnet) Label() Label { return LabelSubnet }
func (s Subnet) NaturalKey() string { return s.NodeID }
func (s Subnet) Properties() map[string]any {
	return map[string]any{"cidr": s.CIDR, "region": s.Region, "public": s.Public}
}

// Vpc is a virtual network.
type Vpc struct {
	Base
	ExternalID string
	Region     string
	Public     bool
}

func NewVpc(tenant TenantID, externalID, region string, public bool) Vpc {
	id := Fingerprint(LabelVpc, tenant, externalID)
	return Vpc{Base: Base{TenantID: tenant, NodeID: id}, ExternalID: externalID, Region: region, Public: public}
}

func (v Vpc) Label() Label { return LabelVpc }
func (v Vpc) NaturalKey() string { return v.NodeID }
func (v Vpc) Properties() map[string]any {
	return map[string]any{"external_id": v.ExternalID, "region": v.Region, "public": v.Public}
}

// Vulnerability is a CVE correlated against one or more discovered
// services by the enrichment orchestrator (C6). Unlike every other
// variant, it is created by enrichment rather than a connector, and may
// outlive the Service that first surfaced it.
type Vulnerability struct {
	Base
	CVEID         string
	CVSSScore     *float64
	CVSSVector    string
	EPSSScore     *float64
	Severity      Severity
	Exploitable   bool
	InKEV         bool
	Description   string
	PublishedDate string
}

func NewVulnerability(tenant TenantID, cveID string) Vulnerability {
	id := Fingerprint(LabelVulnerability, tenant, cveID)
	return Vulnerability{Base: Base{TenantID: tenant, NodeID: id}, CVEID: cveID}
}

func (v Vulnerability) Label() Label { return LabelVulnerability }
func (v Vulnerability) NaturalKey() string { return v.NodeID }
func (v Vulnerability) Properties() map[string]any {
	props := map[string]any{
		"cve_id": v.CVEID, "severity": string(v.Severity), "exploitable": v.Exploitable,
		"in_kev": v.InKEV, "description": v.Description, "published_date": v.PublishedDate,
		"cvss_vector": v.CVSSVector,
	}
	if v.CVSSScore != nil {
		props["cvss_score"] = *v.CVSSScore
	}
	if v.EPSSScore != nil {
		props["epss_score"] = *v.EPSSScore
	}
	return props
}

// Actionable implements the composition rule of spec §4.6: a CVE is
// actionable-for-remediation iff in_kev OR epss>=0.5 OR cvss>=9.0. Pure
// function of stored attributes, per the design note on dual-import-free
// enum validation (§9).
func (v Vulnerability) Actionable() bool {
	if v.InKEV {
		return true
	}
	if v.EPSSScore != nil && *v.EPSSScore >= 0.5 {
		return true
	}
	if v.CVSSScore != nil && *v.CVSSScore >= 9.0 {
		return true
	}
	return false
}

// Certificate is a TLS certificate observed on a Service.
type Certificate struct {
	Base
	Subject     string
	Issuer      string
	Serial      string
	NotBefore   string
	NotAfter    string
	SHA256      string
}

func NewCertificate(tenant TenantID, sha256Fingerprint, subject, issuer, serial, notBefore, notAfter string) Certificate {
	id := Fingerprint(LabelCertificate, tenant, sha256Fingerprint)
	return Certificate{Base: Base{TenantID: tenant, NodeID: id}, Subject: subject, Issuer: issuer, Serial: serial, NotBefore: notBefore, NotAfter: notAfter, SHA256: sha256Fingerprint}
}

func (c Certificate) Label() Label { return LabelCertificate }
func (c Certificate) NaturalKey() string { return c.NodeID }
func (c Certificate) Properties() map[string]any {
	return map[string]any{
		"subject": c.Subject, "issuer": c.Issuer, "serial": c.Serial,
		"not_before": c.NotBefore, "not_after": c.NotAfter, "sha256": c.SHA256,
	}
}

// Application is a higher-level workload: an object-storage bucket, a
// container cluster, a serverless function.
type Application struct {
	Base
	ExternalID string
	Kind       string // bucket, cluster, function
	Name       string
	Region     string
}

func NewApplication(tenant TenantID, externalID, kind, name, region string) Application {
	id := Fingerprint(LabelApplication, tenant, kind, externalID)
	return Application{Base: Base{TenantID: tenant, NodeID: id}, ExternalID: externalID, Kind: kind, Name: name, Region: region}
}

func (a Application) Label() Label { return LabelApplication }
func (a Application) NaturalKey() string { return a.NodeID }
func (a Application) Properties() map[string]any {
	return map[string]any{"external_id": a.ExternalID, "kind": a.Kind, "name": a.Name, "region": a.Region}
}

// McpServer is a discovered Model Context Protocol server endpoint.
type McpServer struct {
	Base
	Name     string
	Endpoint string
	Version  string
}

func NewMcpServer(tenant TenantID, endpoint, name, version string) McpServer {
	id := Fingerprint(LabelMcpServer, tenant, endpoint)
	return McpServer{Base: Base{TenantID: tenant, NodeID: id}, Name: name, Endpoint: endpoint, Version: version}
}

func (m McpServer) Label() Label { return LabelMcpServer }
func (m McpServer) NaturalKey() string { return m.NodeID }
func (m McpServer) Properties() map[string]any {
	return map[string]any{"name": m.Name, "endpoint": m.Endpoint, "version": m.Version}
}

// Finding is a point-in-time observation (e.g. a misconfiguration) raised
// against another node, distinct from a Vulnerability (which is CVE-based).
type Finding struct {
	Base
	ExternalID string
	Kind       string
	Severity   Severity
	Detail     string
	SubjectID  string // the node this finding is about
}

func NewFinding(tenant TenantID, externalID, kind string, severity Severity, detail, subjectID string) Finding {
	id := Fingerprint(LabelFinding, tenant, kind, externalID)
	return Finding{Base: Base{TenantID: tenant, NodeID: id}, ExternalID: externalID, Kind: kind, Severity: severity, Detail: detail, SubjectID: subjectID}
}

func (f Finding) Label() Label { return LabelFinding }
func (f Finding) NaturalKey() string { return f.NodeID }
func (f Finding) Properties() map[string]any {
	return map[string]any{
		"external_id": f.ExternalID, "kind": f.Kind, "severity": string(f.Severity),
		"detail": f.Detail, "subject_id": f.SubjectID,
	}
}

// ConfigSnapshot is a point-in-time capture of a resource's configuration
// document, used for drift detection by collaborators outside this core.
type ConfigSnapshot struct {
	Base
	SubjectID string
	TakenAt   string
	Document  map[string]any
}

func NewConfigSnapshot(tenant TenantID, subjectID, takenAt string, document map[string]any) ConfigSnapshot {
	id := Fingerprint(LabelConfigSnapshot, tenant, subjectID, takenAt)
	return ConfigSnapshot{Base: Base{TenantID: tenant, NodeID: id}, SubjectID: subjectID, TakenAt: takenAt, Document: document}
}

func (c ConfigSnapshot) Label() Label { return LabelConfigSnapshot }
func (c ConfigSnapshot) NaturalKey() string { return c.NodeID }
func (c ConfigSnapshot) Properties() map[string]any {
	return map[string]any{"subject_id": c.SubjectID, "taken_at": c.TakenAt, "document": c.Document}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
