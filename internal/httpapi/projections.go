package httpapi

import (
	"time"

	"github.com/gravitational/fleetctl/internal/model"
)

// These sanitized projections enforce the vault-opacity guarantee
// spec.md demands: ciphertext, IV, auth tag, plaintext, wrapped
// passwords, and webhook secrets never cross into an API response.

type userSanitized struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Role      model.Role `json:"role"`
	IsActive  bool       `json:"is_active"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func sanitizeUser(u *model.User) userSanitized {
	return userSanitized{
		ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role,
		IsActive: u.IsActive, LastLogin: u.LastLogin, CreatedAt: u.CreatedAt,
	}
}

type hostSanitized struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Address     string           `json:"address"`
	Port        int              `json:"port"`
	Username    string           `json:"username"`
	Description string           `json:"description"`
	AgentPort   int              `json:"agent_port"`
	Tags        []string         `json:"tags"`
	GroupRef    string           `json:"group_ref,omitempty"`
	Status      model.HostStatus `json:"status"`
	LastSeen    *time.Time       `json:"last_seen,omitempty"`
	HasCred     bool             `json:"has_credential"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func sanitizeHost(h *model.Host) hostSanitized {
	return hostSanitized{
		ID: h.ID, Name: h.Name, Address: h.Address, Port: h.Port, Username: h.Username,
		Description: h.Description, AgentPort: h.AgentPort, Tags: h.Tags, GroupRef: h.GroupRef,
		Status: h.Status, LastSeen: h.LastSeen, HasCred: h.HasCredential(),
		CreatedAt: h.CreatedAt, UpdatedAt: h.UpdatedAt,
	}
}

func sanitizeHosts(hosts []*model.Host) []hostSanitized {
	out := make([]hostSanitized, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, sanitizeHost(h))
	}
	return out
}

const redactedSecret = "***REDACTED***"

type webhookSanitized struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Secret          string     `json:"secret"`
	Enabled         bool       `json:"enabled"`
	EventTypes      []string   `json:"event_types,omitempty"`
	RetryMax        int        `json:"retry_max"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

func sanitizeWebhook(w *model.Webhook) webhookSanitized {
	secret := ""
	if w.Secret != "" {
		secret = redactedSecret
	}
	return webhookSanitized{
		ID: w.ID, Name: w.Name, URL: w.URL, Secret: secret, Enabled: w.Enabled,
		EventTypes: w.EventTypes, RetryMax: w.RetryMax, CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt, LastTriggeredAt: w.LastTriggeredAt,
	}
}

func sanitizeWebhooks(webhooks []*model.Webhook) []webhookSanitized {
	out := make([]webhookSanitized, 0, len(webhooks))
	for _, w := range webhooks {
		out = append(out, sanitizeWebhook(w))
	}
	return out
}
