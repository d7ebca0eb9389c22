package enrichment

import (
	"testing"

	"github.com/spectra-red/sentinel/internal/domain"
)

func TestParseBanner(t *testing.T) {
	tests := []struct {
		name        string
		banner      string
		wantProduct string
		wantVersion string
		wantVendor  string
	}{
		{name: "OpenSSH standard", banner: "SSH-2.0-OpenSSH_9.0", wantProduct: "openssh", wantVersion: "9.0", wantVendor: "openbsd"},
		{name: "OpenSSH with patch", banner: "SSH-2.0-OpenSSH_9.0p1", wantProduct: "openssh", wantVersion: "9.0p1", wantVendor: "openbsd"},
		{name: "nginx", banner: "nginx/1.24.0", wantProduct: "nginx", wantVersion: "1.24.0", wantVendor: "nginx"},
		{name: "Apache", banner: "Apache/2.4.57 (Unix)", wantProduct: "http_server", wantVersion: "2.4.57", wantVendor: "apache"},
		{name: "MySQL", banner: "MySQL/8.0.35", wantProduct: "mysql", wantVersion: "8.0.35", wantVendor: "mysql"},
		{name: "PostgreSQL", banner: "PostgreSQL 15.4", wantProduct: "postgresql", wantVersion: "15.4", wantVendor: "postgresql"},
		{name: "Redis", banner: "Redis server v=7.0.12", wantProduct: "redis", wantVersion: "7.0.12", wantVendor: "redislabs"},
		{name: "Microsoft IIS", banner: "Microsoft-IIS/10.0", wantProduct: "internet_information_services", wantVersion: "10.0", wantVendor: "microsoft"},
		{name: "empty banner", banner: "", wantProduct: "", wantVersion: "", wantVendor: ""},
		{name: "unknown format", banner: "Some Unknown Server", wantProduct: "", wantVersion: "", wantVendor: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotProduct, gotVersion, gotVendor := ParseBanner(tt.banner)
			if gotProduct != tt.wantProduct {
				t.Errorf("ParseBanner() product = %v, want %v", gotProduct, tt.wantProduct)
			}
			if gotVersion != tt.wantVersion {
				t.Errorf("ParseBanner() version = %v, want %v", gotVersion, tt.wantVersion)
			}
			if gotVendor != tt.wantVendor {
				t.Errorf("ParseBanner() vendor = %v, want %v", gotVendor, tt.wantVendor)
			}
		})
	}
}

func TestGenerateCPE(t *testing.T) {
	tests := []struct {
		name        string
		service     domain.Service
		wantCPEsLen int
		wantCPE     string
	}{
		{
			name:        "nginx with version",
			service:     domain.NewService("t1", "host1", "nginx", "1.24.0", 80, domain.ProtoTCP, domain.ServiceRunning, ""),
			wantCPEsLen: 1,
			wantCPE:     "cpe:2.3:a:nginx:nginx:1.24.0:*:*:*:*:*:*:*",
		},
		{
			name:        "openssh from banner only",
			service:     domain.NewService("t1", "host1", "ssh", "", 22, domain.ProtoTCP, domain.ServiceRunning, "SSH-2.0-OpenSSH_9.0p1"),
			wantCPEsLen: 1,
			wantCPE:     "cpe:2.3:a:openbsd:openssh:9.0p1:*:*:*:*:*:*:*",
		},
		{
			name:        "apache with banner and name disagreeing",
			service:     domain.NewService("t1", "host1", "apache", "2.4.57", 80, domain.ProtoTCP, domain.ServiceRunning, "Apache/2.4.57 (Unix)"),
			wantCPEsLen: 2, // name/version pair first, then the distinct apache:http_server banner binding
			wantCPE:     "cpe:2.3:a:apache:apache:2.4.57:*:*:*:*:*:*:*",
		},
		{
			name:        "name without version",
			service:     domain.NewService("t1", "host1", "nginx", "", 80, domain.ProtoTCP, domain.ServiceRunning, ""),
			wantCPEsLen: 1,
			wantCPE:     "cpe:2.3:a:nginx:nginx:*:*:*:*:*:*:*:*",
		},
		{
			name:        "no name or banner",
			service:     domain.NewService("t1", "host1", "", "", 0, domain.ProtoTCP, domain.ServiceRunning, ""),
			wantCPEsLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateCPE(tt.service)
			if len(got) != tt.wantCPEsLen {
				t.Errorf("GenerateCPE() returned %d CPEs, want %d", len(got), tt.wantCPEsLen)
			}
			if tt.wantCPEsLen > 0 && len(got) > 0 && got[0].CPE != tt.wantCPE {
				t.Errorf("GenerateCPE() first CPE = %v, want %v", got[0].CPE, tt.wantCPE)
			}
		})
	}
}

func TestFormatCPE23(t *testing.T) {
	tests := []struct {
		name, vendor, product, version, want string
	}{
		{name: "standard CPE", vendor: "nginx", product: "nginx", version: "1.24.0", want: "cpe:2.3:a:nginx:nginx:1.24.0:*:*:*:*:*:*:*"},
		{name: "CPE with spaces in product", vendor: "apache", product: "http server", version: "2.4.57", want: "cpe:2.3:a:apache:http_server:2.4.57:*:*:*:*:*:*:*"},
		{name: "wildcard version", vendor: "mysql", product: "mysql", version: "*", want: "cpe:2.3:a:mysql:mysql:*:*:*:*:*:*:*:*"},
		{name: "version with patch", vendor: "openbsd", product: "openssh", version: "9.0p1", want: "cpe:2.3:a:openbsd:openssh:9.0p1:*:*:*:*:*:*:*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatCPE23(tt.vendor, tt.product, tt.version); got != tt.want {
				t.Errorf("formatCPE23() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeCPEComponent(t *testing.T) {
	tests := []struct{ name, input, want string }{
		{name: "lowercase conversion", input: "Nginx", want: "nginx"},
		{name: "space to underscore", input: "http server", want: "http_server"},
		{name: "remove special chars", input: "product@#$name", want: "productname"},
		{name: "preserve dots and dashes", input: "1.2.3-beta", want: "1.2.3-beta"},
		{name: "wildcard preserved", input: "*", want: "*"},
		{name: "empty string", input: "", want: "*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeCPEComponent(tt.input); got != tt.want {
				t.Errorf("normalizeCPEComponent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateCPENoMappingIsEmpty(t *testing.T) {
	svc := domain.NewService("t1", "host1", "mystery-daemon", "", 9999, domain.ProtoTCP, domain.ServiceRunning, "")
	got := GenerateCPE(svc)
	if len(got) != 0 {
		t.Errorf("GenerateCPE() for unmapped service = %v, want empty", got)
	}
}
