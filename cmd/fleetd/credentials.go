package main

import (
	"github.com/gravitational/trace"

	"github.com/gravitational/fleetctl/internal/model"
	"github.com/gravitational/fleetctl/internal/sshpool"
	"github.com/gravitational/fleetctl/internal/vault"
)

// sshCredResolver implements both tasks.CredentialResolver and
// stats.CredentialResolver (structurally identical interfaces) by
// following the same vault-then-keyfile precedence httpapi's
// resolveCredentials uses for inventory refresh.
type sshCredResolver struct {
	vault *vault.Vault
}

func (r sshCredResolver) Resolve(h *model.Host) (sshpool.Credentials, error) {
	if h.SSHKeyVaultRef != "" {
		signer, err := r.vault.Unwrap(h.SSHKeyVaultRef)
		if err != nil {
			return sshpool.Credentials{}, trace.Wrap(err)
		}
		return sshpool.Credentials{Signer: signer}, nil
	}
	if h.SSHKeyPath != "" {
		return sshpool.Credentials{KeyPath: h.SSHKeyPath}, nil
	}
	if len(h.SSHPasswordWrapped) > 0 {
		password, err := r.vault.UnwrapPassword(h.SSHPasswordWrapped)
		if err != nil {
			return sshpool.Credentials{}, trace.Wrap(err)
		}
		return sshpool.Credentials{Password: password}, nil
	}
	return sshpool.Credentials{}, trace.BadParameter("host %d has no usable credential configured", h.ID)
}
