// Package model defines the domain entities stored by the control plane
// and the enums that constrain their lifecycle transitions.
package model

import "time"

// HostStatus is the liveness state of a Host, mutated only by the
// monitoring path (the stats broadcaster), never by request handlers.
type HostStatus string

const (
	HostUnknown HostStatus = "unknown"
	HostOnline  HostStatus = "online"
	HostOffline HostStatus = "offline"
)

// Host is a target machine reachable over SSH.
type Host struct {
	ID                 int64
	Name               string
	Address            string
	Port               int
	Username           string
	Description        string
	AgentPort          int
	Tags               []string
	GroupRef           string
	Status             HostStatus
	LastSeen           *time.Time
	SSHKeyPath         string
	SSHPasswordWrapped []byte
	SSHKeyVaultRef     string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasCredential reports whether at least one of the three credential
// fields is populated. The engine prefers VaultRef, then KeyPath, then
// the wrapped password.
func (h *Host) HasCredential() bool {
	return h.SSHKeyVaultRef != "" || h.SSHKeyPath != "" || len(h.SSHPasswordWrapped) > 0
}

// KeyType enumerates the SSH private key algorithms the vault accepts.
type KeyType string

const (
	KeyTypeRSA     KeyType = "rsa"
	KeyTypeEd25519 KeyType = "ed25519"
	KeyTypeECDSA   KeyType = "ecdsa"
	KeyTypeDSA     KeyType = "dsa"
)

// VaultKey is the metadata record for an encrypted SSH private key.
// Plaintext, ciphertext, iv and auth tag never cross into an API
// response; see vault.Metadata for the HTTP-safe projection.
type VaultKey struct {
	ID          string
	Name        string
	KeyType     KeyType
	Fingerprint string
	Ciphertext  []byte
	IV          []byte
	AuthTag     []byte
	PublicKey   string
	CreatedBy   int64
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// Role is the fixed RBAC role of a User.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
	RoleAuditor  Role = "auditor"
)

// User is a control-plane operator account.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	IsActive     bool
	LastLogin    *time.Time
	CreatedAt    time.Time
}

// Session is a legacy opaque-token credential, kept alongside JWTs
// because both must verify per spec.
type Session struct {
	Token     string
	UserRef   int64
	ExpiresAt time.Time
}

// TaskStatus is the lifecycle state of a Task. The tasks engine moves a
// task from queued to running and then to success, failed, timeout or
// cancelled; a queued task can also end cancelled or failed without
// running, and startup recovery marks running tasks interrupted.
type TaskStatus string

const (
	TaskQueued      TaskStatus = "queued"
	TaskRunning     TaskStatus = "running"
	TaskSuccess     TaskStatus = "success"
	TaskFailed      TaskStatus = "failed"
	TaskTimeout     TaskStatus = "timeout"
	TaskCancelled   TaskStatus = "cancelled"
	TaskInterrupted TaskStatus = "interrupted"
)

// Task is an operator-supplied shell command dispatched to a Host.
type Task struct {
	ID             string
	HostRef        int64
	UserRef        int64
	Command        string
	Status         TaskStatus
	ExitCode       *int
	Stdout         *string
	Stderr         *string
	TimeoutSeconds int
	StoreOutput    bool
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// TerminalStatus is the lifecycle state of a TerminalSession.
type TerminalStatus string

const (
	TerminalActive      TerminalStatus = "active"
	TerminalClosed      TerminalStatus = "closed"
	TerminalTimeout     TerminalStatus = "timeout"
	TerminalStopped     TerminalStatus = "stopped"
	TerminalInterrupted TerminalStatus = "interrupted"
	TerminalError       TerminalStatus = "error"
)

// TerminalSession is the durable ledger row for an interactive PTY
// bridge; the live SSH channel itself lives only in process memory,
// owned by terminal.Broker.
type TerminalSession struct {
	ID           string
	HostRef      int64
	UserRef      int64
	VaultKeyRef  string
	StartedAt    time.Time
	EndedAt      *time.Time
	LastActivity time.Time
	Status       TerminalStatus
}

// AuditLog is an append-only record of a domain mutation.
type AuditLog struct {
	ID         string
	UserRef    *int64
	Action     string
	TargetType string
	TargetID   string
	Meta       map[string]any
	IP         string
	UserAgent  string
	CreatedAt  time.Time
}

// DeliveryStatus is the outcome of a single webhook delivery attempt.
type DeliveryStatus string

const (
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliveryRetrying DeliveryStatus = "retrying"
)

// Webhook is a registered outbound HTTP delivery target.
type Webhook struct {
	ID              string
	Name            string
	URL             string
	Secret          string
	Enabled         bool
	EventTypes      []string // nil means "all event types"
	RetryMax        int
	Timeout         time.Duration
	CreatedBy       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastTriggeredAt *time.Time
}

// MatchesEventType reports whether this webhook should receive events of
// the given type, per its event_types filter (nil/empty means all).
func (w *Webhook) MatchesEventType(eventType string) bool {
	if len(w.EventTypes) == 0 {
		return true
	}
	for _, t := range w.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// WebhookDelivery is one append-only attempt record for a (Webhook,
// Event) pair.
type WebhookDelivery struct {
	ID           string
	WebhookRef   string
	EventID      string
	EventType    string
	Status       DeliveryStatus
	StatusCode   int
	ResponseBody string
	Error        string
	Attempt      int
	DeliveredAt  time.Time
}

// HostInventoryLatest is the upserted "latest facts" row per host.
type HostInventoryLatest struct {
	HostRef     int64
	CollectedAt time.Time
	JSON        string
}

// HostInventorySnapshot is one append-only historical inventory row.
type HostInventorySnapshot struct {
	ID          string
	HostRef     int64
	CollectedAt time.Time
	JSON        string
}

// MonitoringHistory is one time-series sample of a metric for a host.
type MonitoringHistory struct {
	HostRef    int64
	MetricType string
	JSON       string
	Timestamp  time.Time
}

// Alert is raised by the stats broadcaster's threshold evaluation.
type Alert struct {
	ID        int64
	HostRef   int64
	Severity  string
	Metric    string
	Value     float64
	Threshold float64
	Message   string
	IsRead    bool
	CreatedAt time.Time
}

// Event is an immutable record of a domain state change; it drives the
// audit log and the webhook dispatcher.
type Event struct {
	EventID    string
	EventType  string
	UserRef    *int64
	TargetType string
	TargetID   string
	Meta       map[string]any
	IP         string
	UserAgent  string
	Severity   string
	Timestamp  time.Time
}

// Severity values used by Event.Severity and Alert.Severity.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)
