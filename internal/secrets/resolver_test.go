package secrets

import (
	"context"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectra-red/sentinel/internal/domain"
)

// fakeKeyring is an in-memory stand-in for keyring.Keyring so tests
// never touch a real OS keychain.
type fakeKeyring struct {
	items map[string]keyring.Item
}

func newFakeKeyring() *fakeKeyring { return &fakeKeyring{items: map[string]keyring.Item{}} }

func (f *fakeKeyring) Get(key string) (keyring.Item, error) {
	item, ok := f.items[key]
	if !ok {
		return keyring.Item{}, keyring.ErrKeyNotFound
	}
	return item, nil
}

func (f *fakeKeyring) GetMetadata(key string) (keyring.Metadata, error) {
	return keyring.Metadata{}, nil
}

func (f *fakeKeyring) Set(item keyring.Item) error {
	f.items[item.Key] = item
	return nil
}

func (f *fakeKeyring) Remove(key string) error {
	delete(f.items, key)
	return nil
}

func (f *fakeKeyring) Keys() ([]string, error) {
	out := make([]string, 0, len(f.items))
	for k := range f.items {
		out = append(out, k)
	}
	return out, nil
}

func TestResolveRoundTripsStoredCredentials(t *testing.T) {
	ring := newFakeKeyring()
	r := &Resolver{ring: ring}
	require.NoError(t, r.Store("aws-prod", map[string]string{"access_key_id": "AKIA123", "secret_access_key": "shh"}))

	creds, err := r.Resolve(context.Background(), "aws-prod")

	require.NoError(t, err)
	assert.Equal(t, "AKIA123", creds.Values["access_key_id"])
	assert.Equal(t, "shh", creds.Values["secret_access_key"])
}

func TestResolveMissingRefReturnsCredentialError(t *testing.T) {
	r := &Resolver{ring: newFakeKeyring()}
	_, err := r.Resolve(context.Background(), "does-not-exist")
	require.Error(t, err)
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindCredential, kind)
}

func TestResolveEmptyRefIsRejected(t *testing.T) {
	r := &Resolver{ring: newFakeKeyring()}
	_, err := r.Resolve(context.Background(), "")
	require.Error(t, err)
}
