// Package secrets resolves a connector's opaque credential_ref against
// an OS-native keyring, implementing connector.CredentialResolver.
// Grounded on spec §4.4/§6 ("credential_ref points to a secret store
// entry resolved at run time; the framework never persists credentials
// in configuration, logs, or engrams"); no example repo in the
// retrieval pack manages secrets itself (mateoblack-sentinel defers to
// AWS Secrets Manager/SSM at the CLI layer, never a local keyring), so
// the 99designs/keyring backend is wired in directly against the
// ecosystem's standard abstraction over OS keychains rather than
// invented from scratch.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/spectra-red/sentinel/internal/connector"
	"github.com/spectra-red/sentinel/internal/domain"
)

// Resolver resolves a credential_ref to a keyring item and decodes its
// JSON payload into connector.Credentials.Values.
type Resolver struct {
	ring keyring.Keyring
}

// Config controls which keyring backend is opened. ServiceName
// namespaces entries so multiple Sentinel deployments can share a
// single OS keychain without collision.
type Config struct {
	ServiceName    string
	FileDir        string // used only by the file backend (CI/headless)
	FilePassphrase string
}

// Open opens the configured keyring backend. AllowedBackends is left
// to keyring's own platform detection (macOS Keychain, Secret Service,
// Windows Credential Manager) with the file backend as explicit
// fallback for headless/CI environments, matching the same
// headless-friendly posture as 99designs/keyring's own CLI.
func Open(cfg Config) (*Resolver, error) {
	krCfg := keyring.Config{
		ServiceName:              cfg.ServiceName,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.FilePassphrase),
		KeychainTrustApplication: true,
	}
	ring, err := keyring.Open(krCfg)
	if err != nil {
		return nil, domain.NewError(domain.KindConfig, "failed to open secret store", err)
	}
	return &Resolver{ring: ring}, nil
}

// Resolve implements connector.CredentialResolver. credentialRef is the
// keyring item key exactly as stored by the operator (e.g. via
// `sentinelctl secrets set <ref>`); the item's Data is a JSON object of
// string fields (access_key_id, secret_access_key, bearer_token,
// api_token, service_account_json, ...) matching whatever the target
// connector package expects in Credentials.Values.
func (r *Resolver) Resolve(ctx context.Context, credentialRef string) (connector.Credentials, error) {
	if credentialRef == "" {
		return connector.Credentials{}, domain.NewError(domain.KindCredential, "empty credential_ref", nil)
	}
	item, err := r.ring.Get(credentialRef)
	if err != nil {
		return connector.Credentials{}, domain.NewError(domain.KindCredential, fmt.Sprintf("credential_ref %q not found in secret store", credentialRef), err)
	}
	var values map[string]string
	if err := json.Unmarshal(item.Data, &values); err != nil {
		return connector.Credentials{}, domain.NewError(domain.KindSchemaMismatch, fmt.Sprintf("credential_ref %q has malformed payload", credentialRef), err)
	}
	return connector.Credentials{Values: values}, nil
}

// Store writes a credential payload under credentialRef, used by the
// CLI's `secrets set` command and by tests. Never logs values.
func (r *Resolver) Store(credentialRef string, values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return domain.NewError(domain.KindSchemaMismatch, "failed to encode credential payload", err)
	}
	return r.ring.Set(keyring.Item{
		Key:  credentialRef,
		Data: data,
	})
}
