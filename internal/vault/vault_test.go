package vault

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/gravitational/fleetctl/internal/model"
)

type fakeStore struct {
	keys map[string]*model.VaultKey
}

func newFakeStore() *fakeStore { return &fakeStore{keys: make(map[string]*model.VaultKey)} }

func (f *fakeStore) CreateVaultKey(k *model.VaultKey) error {
	f.keys[k.ID] = k
	return nil
}

func (f *fakeStore) GetVaultKey(id string) (*model.VaultKey, error) {
	k, ok := f.keys[id]
	if !ok {
		return nil, notFoundErr{id}
	}
	return k, nil
}

func (f *fakeStore) ListVaultKeys(includeDeleted bool) ([]*model.VaultKey, error) {
	var out []*model.VaultKey
	for _, k := range f.keys {
		if k.DeletedAt != nil && !includeDeleted {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

func (f *fakeStore) SoftDeleteVaultKey(id string) error {
	k, ok := f.keys[id]
	if !ok {
		return notFoundErr{id}
	}
	now := time.Now()
	k.DeletedAt = &now
	return nil
}

type notFoundErr struct{ id string }

func (e notFoundErr) Error() string { return "vault key " + e.id + " not found" }

func rsaPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func ed25519PEM(t *testing.T) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func TestVaultImportAndUnwrapRSA(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	v, err := New(store, "test-master-key")
	require.NoError(t, err)

	meta, err := v.Import("deploy-key", rsaPEM(t), "", 1)
	require.NoError(t, err)
	require.Equal(t, model.KeyTypeRSA, meta.KeyType)
	require.NotEmpty(t, meta.Fingerprint)
	require.NotEmpty(t, meta.PublicKey)

	signer, err := v.Unwrap(meta.ID)
	require.NoError(t, err)
	require.Equal(t, meta.PublicKey, string(ssh.MarshalAuthorizedKey(signer.PublicKey())))
}

func TestVaultImportAndUnwrapEd25519(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	v, err := New(store, "test-master-key")
	require.NoError(t, err)

	meta, err := v.Import("ci-key", ed25519PEM(t), "", 2)
	require.NoError(t, err)
	require.Equal(t, model.KeyTypeEd25519, meta.KeyType)

	_, err = v.Unwrap(meta.ID)
	require.NoError(t, err)
}

func TestVaultImportRejectsGarbage(t *testing.T) {
	t.Parallel()

	v, err := New(newFakeStore(), "test-master-key")
	require.NoError(t, err)

	_, err = v.Import("bad", []byte("not a key"), "", 1)
	require.Error(t, err)
}

func TestVaultGetHidesSoftDeleted(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	v, err := New(store, "test-master-key")
	require.NoError(t, err)

	meta, err := v.Import("deploy-key", rsaPEM(t), "", 1)
	require.NoError(t, err)

	require.NoError(t, v.Delete(meta.ID))

	_, err = v.Get(meta.ID)
	require.Error(t, err)
}

func TestVaultUnwrapRefusesSoftDeleted(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	v, err := New(store, "test-master-key")
	require.NoError(t, err)

	meta, err := v.Import("deploy-key", rsaPEM(t), "", 1)
	require.NoError(t, err)
	require.NoError(t, v.Delete(meta.ID))

	_, err = v.Unwrap(meta.ID)
	require.Error(t, err)
}

func TestVaultListIncludeDeleted(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	v, err := New(store, "test-master-key")
	require.NoError(t, err)

	meta, err := v.Import("deploy-key", rsaPEM(t), "", 1)
	require.NoError(t, err)
	require.NoError(t, v.Delete(meta.ID))

	visible, err := v.List(false)
	require.NoError(t, err)
	require.Empty(t, visible)

	all, err := v.List(true)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestNewWithEmptyMasterKeyGeneratesEphemeral(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	v, err := New(store, "")
	require.NoError(t, err)
	require.True(t, v.ephemeral)

	meta, err := v.Import("deploy-key", rsaPEM(t), "", 1)
	require.NoError(t, err)
	_, err = v.Unwrap(meta.ID)
	require.NoError(t, err)
}

func TestFingerprintIsDeterministic(t *testing.T) {
	t.Parallel()

	data := []byte("some-public-key-bytes")
	require.Equal(t, Fingerprint(data), Fingerprint(data))
	require.Contains(t, Fingerprint(data), "SHA256:")
}

func TestWrapPasswordRoundTrips(t *testing.T) {
	t.Parallel()

	v, err := New(newFakeStore(), "test-master-key")
	require.NoError(t, err)

	wrapped, err := v.WrapPassword("s3cret!")
	require.NoError(t, err)
	require.NotContains(t, string(wrapped), "s3cret!")

	plaintext, err := v.UnwrapPassword(wrapped)
	require.NoError(t, err)
	require.Equal(t, "s3cret!", plaintext)
}

func TestWrapPasswordUsesFreshNoncePerCall(t *testing.T) {
	t.Parallel()

	v, err := New(newFakeStore(), "test-master-key")
	require.NoError(t, err)

	a, err := v.WrapPassword("s3cret!")
	require.NoError(t, err)
	b, err := v.WrapPassword("s3cret!")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestUnwrapPasswordRejectsTamperedCiphertext(t *testing.T) {
	t.Parallel()

	v, err := New(newFakeStore(), "test-master-key")
	require.NoError(t, err)

	wrapped, err := v.WrapPassword("s3cret!")
	require.NoError(t, err)
	wrapped[len(wrapped)-1] ^= 0xFF

	_, err = v.UnwrapPassword(wrapped)
	require.Error(t, err)
}

func TestUnwrapPasswordRejectsShortInput(t *testing.T) {
	t.Parallel()

	v, err := New(newFakeStore(), "test-master-key")
	require.NoError(t, err)

	_, err = v.UnwrapPassword([]byte("short"))
	require.Error(t, err)
}
