package httpapi

import (
	"github.com/gravitational/trace"

	"github.com/gravitational/fleetctl/internal/model"
	"github.com/gravitational/fleetctl/internal/sshpool"
)

// resolveCredentials follows the host's configured auth precedence
// (vault key, then key file, then vault-wrapped password) to build the
// Credentials sshpool/inventory need to dial, per spec.md:43.
func (s *Server) resolveCredentials(h *model.Host) (sshpool.Credentials, error) {
	if h.SSHKeyVaultRef != "" {
		signer, err := s.vault.Unwrap(h.SSHKeyVaultRef)
		if err != nil {
			return sshpool.Credentials{}, trace.Wrap(err)
		}
		return sshpool.Credentials{Signer: signer}, nil
	}
	if h.SSHKeyPath != "" {
		return sshpool.Credentials{KeyPath: h.SSHKeyPath}, nil
	}
	if len(h.SSHPasswordWrapped) > 0 {
		password, err := s.vault.UnwrapPassword(h.SSHPasswordWrapped)
		if err != nil {
			return sshpool.Credentials{}, trace.Wrap(err)
		}
		return sshpool.Credentials{Password: password}, nil
	}
	return sshpool.Credentials{}, trace.BadParameter("host %d has no usable credential configured", h.ID)
}
