package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/ssh"

	"github.com/gravitational/fleetctl/internal/authn"
	"github.com/gravitational/fleetctl/internal/model"
	"github.com/gravitational/fleetctl/internal/obslog"
	"github.com/gravitational/fleetctl/internal/sshpool"
	"github.com/gravitational/fleetctl/internal/terminal"
	"github.com/gravitational/fleetctl/internal/vault"
)

var termLog = obslog.New(obslog.Component("cmd/fleetd/terminal"))

var terminalUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handshakeFrame is the terminal WebSocket protocol's required first
// client frame, per spec.md §6: "first frame {token, server_id,
// ssh_key_id?}".
type handshakeFrame struct {
	Token    string `json:"token"`
	ServerID int64  `json:"server_id"`
	SSHKeyID string `json:"ssh_key_id,omitempty"`
}

// sshDialer adapts sshpool.DialDirect (the unpooled dial path
// internal/sshpool exposes for one-shot callers) into terminal.Dialer.
type sshDialer struct{}

func (sshDialer) Dial(host *model.Host, creds terminal.Credentials) (*ssh.Client, error) {
	return sshpool.DialDirect(host.Address, host.Port, host.Username, sshpool.Credentials{
		Signer: creds.Signer, KeyPath: creds.KeyPath, Password: creds.Password,
	}, 0)
}

// terminalServer upgrades, authenticates, and bridges terminal
// WebSocket connections, per spec.md §4.5/§6.
type terminalServer struct {
	broker   *terminal.Broker
	authn    *authn.Service
	store    *hostGetter
	vault    *vault.Vault
	shutdown <-chan struct{}
}

// hostGetter is the narrow store dependency the terminal/stats
// entrypoints need: looking a host up by ID.
type hostGetter struct {
	GetHost func(id int64) (*model.Host, error)
}

func (s *terminalServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := terminalUpgrader.Upgrade(w, r, nil)
	if err != nil {
		termLog.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var hs handshakeFrame
	if err := json.Unmarshal(raw, &hs); err != nil {
		conn.WriteJSON(map[string]string{"type": "error", "message": "malformed handshake"})
		return
	}

	identity, err := s.authn.Authenticate(hs.Token)
	if err != nil {
		conn.WriteJSON(map[string]string{"type": "error", "message": "unauthorized"})
		return
	}
	if identity.Role != model.RoleAdmin && identity.Role != model.RoleOperator {
		conn.WriteJSON(map[string]string{"type": "error", "message": "forbidden"})
		return
	}

	host, err := s.store.GetHost(hs.ServerID)
	if err != nil {
		conn.WriteJSON(map[string]string{"type": "error", "message": "server not found"})
		return
	}

	creds, vaultRef, err := s.resolveCredentials(host, hs.SSHKeyID)
	if err != nil {
		conn.WriteJSON(map[string]string{"type": "error", "message": err.Error()})
		return
	}

	s.broker.Serve(conn, host, identity.UserID, vaultRef, creds, s.shutdown)
}

func (s *terminalServer) resolveCredentials(h *model.Host, overrideKeyID string) (terminal.Credentials, string, error) {
	ref := overrideKeyID
	if ref == "" {
		ref = h.SSHKeyVaultRef
	}
	if ref != "" {
		signer, err := s.vault.Unwrap(ref)
		if err != nil {
			return terminal.Credentials{}, "", err
		}
		return terminal.Credentials{Signer: signer}, ref, nil
	}
	if h.SSHKeyPath != "" {
		return terminal.Credentials{KeyPath: h.SSHKeyPath}, "", nil
	}
	if len(h.SSHPasswordWrapped) > 0 {
		password, err := s.vault.UnwrapPassword(h.SSHPasswordWrapped)
		if err != nil {
			return terminal.Credentials{}, "", err
		}
		return terminal.Credentials{Password: password}, "", nil
	}
	return terminal.Credentials{}, "", errNoCredential
}
