package graphstore

import (
	"fmt"

	"github.com/spectra-red/sentinel/internal/domain"
)

// decodeNode rebuilds a typed domain.Node from a SurrealDB row (a plain
// property map, as returned by SELECT *) for the given label. This is
// the read-side counterpart of Node.Properties(): every field written
// by a variant's constructor is read back here. Kept as one switch
// rather than per-label files to match the teacher's single
// extractHostResults helper (internal/db/graph.go) scaled up to every
// label this engine supports.
func decodeNode(label domain.Label, tenant domain.TenantID, id string, row map[string]interface{}) (domain.Node, error) {
	base := domain.Base{TenantID: tenant, NodeID: id}
	switch label {
	case domain.LabelHost:
		return domain.Host{
			Base:        base,
			IP:          str(row, "ip"),
			Hostname:    str(row, "hostname"),
			OS:          str(row, "os"),
			MAC:         str(row, "mac"),
			Provider:    str(row, "provider"),
			InstanceID:  str(row, "instance_id"),
			Region:      str(row, "region"),
			Criticality: domain.Criticality(str(row, "criticality")),
			Tags:        strMap(row, "tags"),
		}, nil
	case domain.LabelService:
		return domain.Service{
			Base:     base,
			Name:     str(row, "name"),
			Version:  str(row, "version"),
			Port:     intOf(row, "port"),
			Protocol: domain.ServiceProtocol(str(row, "protocol")),
			State:    domain.ServiceState(str(row, "state")),
			Banner:   str(row, "banner"),
		}, nil
	case domain.LabelPort:
		return domain.Port{
			Base:     base,
			Number:   intOf(row, "number"),
			Protocol: str(row, "protocol"),
			State:    domain.PortState(str(row, "state")),
		}, nil
	case domain.LabelUser:
		var mfa *bool
		if v, ok := row["mfa_enabled"].(bool); ok {
			mfa = &v
		}
		u := domain.User{Base: base, UserType: domain.UserType(str(row, "user_type")), Enabled: boolOf(row, "enabled"), MFAEnabled: mfa}
		setIdentityPrincipal(&u.Source, &u.ExternalID, &u.Name, row)
		return u, nil
	case domain.LabelGroup:
		g := domain.Group{Base: base}
		setIdentityPrincipal(&g.Source, &g.ExternalID, &g.Name, row)
		return g, nil
	case domain.LabelRole:
		r := domain.Role{Base: base}
		setIdentityPrincipal(&r.Source, &r.ExternalID, &r.Name, row)
		return r, nil
	case domain.LabelPolicy:
		return domain.Policy{
			Base:       base,
			PolicyType: domain.PolicyType(str(row, "policy_type")),
			Name:       str(row, "name"),
			Rules:      anyMap(row, "rules"),
		}, nil
	case domain.LabelSubnet:
		return domain.Subnet{Base: base, CIDR: str(row, "cidr"), Region: str(row, "region"), Public: boolOf(row, "public")}, nil
	case domain.LabelVpc:
		return domain.Vpc{Base: base, ExternalID: str(row, "external_id"), Region: str(row, "region"), Public: boolOf(row, "public")}, nil
	case domain.LabelVulnerability:
		var cvss, epss *float64
		if v, ok := row["cvss_score"].(float64); ok {
			cvss = &v
		}
		if v, ok := row["epss_score"].(float64); ok {
			epss = &v
		}
		return domain.Vulnerability{
			Base: base, CVEID: str(row, "cve_id"), CVSSScore: cvss, CVSSVector: str(row, "cvss_vector"),
			EPSSScore: epss, Severity: domain.Severity(str(row, "severity")), Exploitable: boolOf(row, "exploitable"),
			InKEV: boolOf(row, "in_kev"), Description: str(row, "description"), PublishedDate: str(row, "published_date"),
		}, nil
	case domain.LabelCertificate:
		return domain.Certificate{
			Base: base, Subject: str(row, "subject"), Issuer: str(row, "issuer"), Serial: str(row, "serial"),
			NotBefore: str(row, "not_before"), NotAfter: str(row, "not_after"), SHA256: str(row, "sha256"),
		}, nil
	case domain.LabelApplication:
		return domain.Application{Base: base, ExternalID: str(row, "external_id"), Kind: str(row, "kind"), Name: str(row, "name"), Region: str(row, "region")}, nil
	case domain.LabelMcpServer:
		return domain.McpServer{Base: base, Name: str(row, "name"), Endpoint: str(row, "endpoint"), Version: str(row, "version")}, nil
	case domain.LabelFinding:
		return domain.Finding{
			Base: base, ExternalID: str(row, "external_id"), Kind: str(row, "kind"),
			Severity: domain.Severity(str(row, "severity")), Detail: str(row, "detail"), SubjectID: str(row, "subject_id"),
		}, nil
	case domain.LabelConfigSnapshot:
		return domain.ConfigSnapshot{Base: base, SubjectID: str(row, "subject_id"), TakenAt: str(row, "taken_at"), Document: anyMap(row, "document")}, nil
	default:
		return nil, fmt.Errorf("graphstore: unknown label %q", label)
	}
}

// setIdentityPrincipal fills the promoted Source/ExternalID/Name fields
// shared by User/Group/Role. The underlying embedded struct
// (domain.identityPrincipal) is unexported, so graphstore cannot name it
// directly in a composite literal; writing through the promoted field
// addresses is the idiomatic way to populate it from outside the
// package.
func setIdentityPrincipal(source *domain.IdentitySource, externalID, name *string, row map[string]interface{}) {
	*source = domain.IdentitySource(str(row, "source"))
	*externalID = str(row, "external_id")
	*name = str(row, "name")
}

func str(row map[string]interface{}, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func boolOf(row map[string]interface{}, key string) bool {
	v, _ := row[key].(bool)
	return v
}

func intOf(row map[string]interface{}, key string) int {
	switch v := row[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func strMap(row map[string]interface{}, key string) map[string]string {
	raw, ok := row[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func anyMap(row map[string]interface{}, key string) map[string]any {
	raw, ok := row[key].(map[string]interface{})
	if !ok {
		return nil
	}
	return raw
}
