package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHostHasCredential(t *testing.T) {
	t.Parallel()

	require.False(t, (&Host{}).HasCredential())
	require.True(t, (&Host{SSHKeyVaultRef: "vault-key-1"}).HasCredential())
	require.True(t, (&Host{SSHKeyPath: "/home/user/.ssh/id_ed25519"}).HasCredential())
	require.True(t, (&Host{SSHPasswordWrapped: []byte{1, 2, 3}}).HasCredential())
}

func TestWebhookMatchesEventType(t *testing.T) {
	t.Parallel()

	all := &Webhook{}
	require.True(t, all.MatchesEventType("host.created"))
	require.True(t, all.MatchesEventType("anything"))

	filtered := &Webhook{EventTypes: []string{"host.created", "alert.raised"}}
	require.True(t, filtered.MatchesEventType("host.created"))
	require.True(t, filtered.MatchesEventType("alert.raised"))
	require.False(t, filtered.MatchesEventType("task.completed"))
}
