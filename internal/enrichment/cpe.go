// Package enrichment implements the vulnerability correlation engine
// (spec §4.6/C6): three independent intel clients (kev.go, epss.go,
// nvd.go) composed by an orchestrator (orchestrator.go) that walks
// discovered Service nodes and writes Vulnerability nodes + HAS_CVE
// edges back through C3.
package enrichment

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spectra-red/sentinel/internal/domain"
)

// CPEIdentifier is one candidate CPE 2.3 binding resolved for a Service.
type CPEIdentifier struct {
	Vendor  string
	Product string
	Version string
	CPE     string
}

// BannerPattern parses a raw service banner into a vendor/product pair
// plus the version capture group.
type BannerPattern struct {
	Regex   *regexp.Regexp
	Vendor  string
	Product string
}

// bannerPatterns is the declared mapping table of spec §4.6 step 3:
// "Resolve (name, version) -> candidate CPEs using a declared mapping
// table; services without a mapping are recorded as dead-ends and
// skipped."
var bannerPatterns = []BannerPattern{
	// SSH
	{Regex: regexp.MustCompile(`SSH-[\d.]+-OpenSSH[_-]([\d.p]+)`), Vendor: "openbsd", Product: "openssh"},
	{Regex: regexp.MustCompile(`SSH-[\d.]+-Cisco-[\d.]+-(.+)`), Vendor: "cisco", Product: "ssh"},

	// HTTP servers
	{Regex: regexp.MustCompile(`nginx/([\d.]+)`), Vendor: "nginx", Product: "nginx"},
	{Regex: regexp.MustCompile(`Apache/([\d.]+)`), Vendor: "apache", Product: "http_server"},
	{Regex: regexp.MustCompile(`Microsoft-IIS/([\d.]+)`), Vendor: "microsoft", Product: "internet_information_services"},
	{Regex: regexp.MustCompile(`lighttpd/([\d.]+)`), Vendor: "lighttpd", Product: "lighttpd"},
	{Regex: regexp.MustCompile(`Caddy\s+v?([\d.]+)`), Vendor: "caddyserver", Product: "caddy"},

	// Databases
	{Regex: regexp.MustCompile(`MySQL/([\d.]+)`), Vendor: "mysql", Product: "mysql"},
	{Regex: regexp.MustCompile(`PostgreSQL\s+([\d.]+)`), Vendor: "postgresql", Product: "postgresql"},
	{Regex: regexp.MustCompile(`MariaDB-([\d.]+)`), Vendor: "mariadb", Product: "mariadb"},
	{Regex: regexp.MustCompile(`MongoDB\s+([\d.]+)`), Vendor: "mongodb", Product: "mongodb"},
	{Regex: regexp.MustCompile(`Redis\s+server\s+v=([\d.]+)`), Vendor: "redislabs", Product: "redis"},

	// Application servers
	{Regex: regexp.MustCompile(`Tomcat/([\d.]+)`), Vendor: "apache", Product: "tomcat"},
	{Regex: regexp.MustCompile(`Jetty\(?([\d.]+)`), Vendor: "eclipse", Product: "jetty"},

	// FTP
	{Regex: regexp.MustCompile(`ProFTPD\s+([\d.]+)`), Vendor: "proftpd", Product: "proftpd"},
	{Regex: regexp.MustCompile(`vsftpd\s+([\d.]+)`), Vendor: "vsftpd_project", Product: "vsftpd"},

	// DNS
	{Regex: regexp.MustCompile(`BIND\s+([\d.]+)`), Vendor: "isc", Product: "bind"},
	{Regex: regexp.MustCompile(`dnsmasq-([\d.]+)`), Vendor: "thekelleys", Product: "dnsmasq"},

	// Mail
	{Regex: regexp.MustCompile(`Postfix\s+([\d.]+)`), Vendor: "postfix", Product: "postfix"},
	{Regex: regexp.MustCompile(`Exim\s+([\d.]+)`), Vendor: "exim", Product: "exim"},
	{Regex: regexp.MustCompile(`Sendmail/([\d.]+)`), Vendor: "sendmail", Product: "sendmail"},

	// Proxy/cache
	{Regex: regexp.MustCompile(`squid/([\d.]+)`), Vendor: "squid-cache", Product: "squid"},
	{Regex: regexp.MustCompile(`Varnish/([\d.]+)`), Vendor: "varnish-cache", Product: "varnish"},
	{Regex: regexp.MustCompile(`HAProxy\s+([\d.]+)`), Vendor: "haproxy", Product: "haproxy"},
}

// ProductVendorMap resolves a Service.Name to a vendor when no banner
// is available to regex-match (services that expose a clean product
// name directly, as most C5 connectors do for Host-attached services).
var ProductVendorMap = map[string]string{
	"nginx":         "nginx",
	"apache":        "apache",
	"openssh":       "openbsd",
	"mysql":         "mysql",
	"postgresql":    "postgresql",
	"mariadb":       "mariadb",
	"mongodb":       "mongodb",
	"redis":         "redislabs",
	"elasticsearch": "elastic",
	"kibana":        "elastic",
	"logstash":      "elastic",
	"php":           "php",
	"python":        "python",
	"node":          "nodejs",
	"tomcat":        "apache",
	"jetty":         "eclipse",
	"iis":           "microsoft",
	"openssl":       "openssl",
	"bind":          "isc",
	"postfix":       "postfix",
	"dovecot":       "dovecot",
	"haproxy":       "haproxy",
}

// ParseBanner extracts product, version and vendor from a raw banner
// string, matching it against bannerPatterns in table order.
func ParseBanner(banner string) (product, version, vendor string) {
	if banner == "" {
		return "", "", ""
	}
	for _, pattern := range bannerPatterns {
		if matches := pattern.Regex.FindStringSubmatch(banner); len(matches) >= 2 {
			return pattern.Product, matches[1], pattern.Vendor
		}
	}
	return "", "", ""
}

// GenerateCPE resolves a domain.Service to its candidate CPE 2.3
// bindings per spec §4.6 step 3. Three strategies accumulate distinct
// candidates: the declared (name, version) pair, a banner-regex parse
// (which may disagree with Name — e.g. a banner identifying the
// underlying http_server behind a generic "http" service name), and a
// versionless fuzzy binding when no version is known at all and the
// name has an entry in ProductVendorMap. A Service with neither a
// version nor a parseable banner nor a mapped name yields nil, which
// the orchestrator records as a dead-end (spec: "services without a
// mapping are recorded as dead-ends and skipped").
func GenerateCPE(svc domain.Service) []CPEIdentifier {
	var cpes []CPEIdentifier

	if svc.Name != "" && svc.Version != "" {
		vendor := normalizeVendor(svc.Name)
		cpe := formatCPE23(vendor, svc.Name, svc.Version)
		cpes = append(cpes, CPEIdentifier{Vendor: vendor, Product: svc.Name, Version: svc.Version, CPE: cpe})
	}

	if svc.Banner != "" {
		if product, version, vendor := ParseBanner(svc.Banner); product != "" && version != "" {
			cpe := formatCPE23(vendor, product, version)
			if !containsCPE(cpes, cpe) {
				cpes = append(cpes, CPEIdentifier{Vendor: vendor, Product: product, Version: version, CPE: cpe})
			}
		}
	}

	if svc.Name != "" && svc.Version == "" && len(cpes) == 0 {
		if vendor, ok := ProductVendorMap[strings.ToLower(strings.TrimSpace(svc.Name))]; ok {
			cpe := formatCPE23(vendor, svc.Name, "*")
			cpes = append(cpes, CPEIdentifier{Vendor: vendor, Product: svc.Name, Version: "*", CPE: cpe})
		}
	}

	return cpes
}

// normalizeVendor maps a product/service name to its CPE vendor,
// falling back to the name itself when the mapping table has no entry.
func normalizeVendor(product string) string {
	normalized := strings.ToLower(strings.TrimSpace(product))
	if vendor, ok := ProductVendorMap[normalized]; ok {
		return vendor
	}
	return normalized
}

// formatCPE23 builds a CPE 2.3 formatted string: part = 'a'
// (application), wildcards for every unspecified field.
func formatCPE23(vendor, product, version string) string {
	vendor = normalizeCPEComponent(vendor)
	product = normalizeCPEComponent(product)
	version = normalizeCPEComponent(version)
	return fmt.Sprintf("cpe:2.3:a:%s:%s:%s:*:*:*:*:*:*:*", vendor, product, version)
}

var cpeInvalidComponent = regexp.MustCompile(`[^a-z0-9._\-]`)

func normalizeCPEComponent(s string) string {
	if s == "" || s == "*" {
		return "*"
	}
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "_")
	return cpeInvalidComponent.ReplaceAllString(s, "")
}

func containsCPE(cpes []CPEIdentifier, cpe string) bool {
	for _, c := range cpes {
		if c.CPE == cpe {
			return true
		}
	}
	return false
}
