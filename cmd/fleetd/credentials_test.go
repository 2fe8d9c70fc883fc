package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/fleetctl/internal/model"
	"github.com/gravitational/fleetctl/internal/store"
	"github.com/gravitational/fleetctl/internal/vault"
)

func newTestVault(t *testing.T) (*vault.Vault, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	v, err := vault.New(st, "test-master-key")
	require.NoError(t, err)
	return v, st
}

func ed25519PEM(t *testing.T) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func TestSSHCredResolverPrefersVaultKey(t *testing.T) {
	t.Parallel()

	v, _ := newTestVault(t)
	meta, err := v.Import("deploy-key", ed25519PEM(t), "", 1)
	require.NoError(t, err)

	r := sshCredResolver{vault: v}
	creds, err := r.Resolve(&model.Host{ID: 1, SSHKeyVaultRef: meta.ID})
	require.NoError(t, err)
	require.NotNil(t, creds.Signer)
}

func TestSSHCredResolverFallsBackToKeyPath(t *testing.T) {
	t.Parallel()

	v, _ := newTestVault(t)
	r := sshCredResolver{vault: v}
	creds, err := r.Resolve(&model.Host{ID: 1, SSHKeyPath: "/etc/fleetd/id_ed25519"})
	require.NoError(t, err)
	require.Equal(t, "/etc/fleetd/id_ed25519", creds.KeyPath)
}

func TestSSHCredResolverFallsBackToWrappedPassword(t *testing.T) {
	t.Parallel()

	v, _ := newTestVault(t)
	wrapped, err := v.WrapPassword("s3cret!")
	require.NoError(t, err)

	r := sshCredResolver{vault: v}
	creds, err := r.Resolve(&model.Host{ID: 1, SSHPasswordWrapped: wrapped})
	require.NoError(t, err)
	require.Equal(t, "s3cret!", creds.Password)
}

func TestSSHCredResolverErrorsWithoutCredential(t *testing.T) {
	t.Parallel()

	v, _ := newTestVault(t)
	r := sshCredResolver{vault: v}
	_, err := r.Resolve(&model.Host{ID: 1})
	require.Error(t, err)
}
