package authn

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/gravitational/fleetctl/internal/events"
	"github.com/gravitational/fleetctl/internal/model"
)

// NotAuthenticatedError marks a caller as presenting no valid credentials
// at all (missing, malformed, or expired token/session), as opposed to an
// authenticated caller who simply lacks permission. httpapi's
// statusFromError checks for this type before falling back to trace-kind
// mapping, so it renders 401 instead of the 403 trace.AccessDenied maps
// to — the split spec.md §197 requires between "not authenticated" and
// "RBAC/policy denied".
type NotAuthenticatedError struct {
	msg string
}

func (e *NotAuthenticatedError) Error() string { return e.msg }

// NewNotAuthenticatedError builds a NotAuthenticatedError, exported so
// callers outside this package (httpapi's tests, most notably) can
// construct one without reaching into an unexported field.
func NewNotAuthenticatedError(format string, args ...interface{}) error {
	return &NotAuthenticatedError{msg: fmt.Sprintf(format, args...)}
}

const legacySessionTTL = 24 * time.Hour

// Store is the persistence contract C9 needs from C2.
type Store interface {
	GetUserByUsername(username string) (*model.User, error)
	GetUser(id int64) (*model.User, error)
	UpdateUserPasswordHash(id int64, hash string) error
	RecordLogin(id int64) error
	CreateSession(sess *model.Session) error
	GetSession(token string) (*model.Session, error)
	DeleteSession(token string) error
}

// EventEmitter is the narrow Bus contract C9 needs to record login
// audit events.
type EventEmitter interface {
	Emit(in events.EventInput)
}

// LoginFailureRecorder lets the rate limiter be informed of failed
// logins without authn importing internal/ratelimit.
type LoginFailureRecorder interface {
	RecordLoginFailure(ip string)
}

// Service wires password verification, JWT issuance, and legacy
// session fallback into the login/verify operations spec.md §4.9 names.
type Service struct {
	store    Store
	issuer   *Issuer
	eventBus EventEmitter
	limiter  LoginFailureRecorder
}

// NewService constructs a Service. limiter may be nil if no rate
// limiter is wired (e.g. in tests).
func NewService(store Store, issuer *Issuer, eventBus EventEmitter, limiter LoginFailureRecorder) *Service {
	return &Service{store: store, issuer: issuer, eventBus: eventBus, limiter: limiter}
}

// Login verifies credentials, migrates legacy password hashes to the
// salted format on successful verification, issues a JWT, and emits an
// audit event on both outcomes per spec.md §4.9.
func (s *Service) Login(username, password, ip, userAgent string) (token string, user *model.User, err error) {
	u, err := s.store.GetUserByUsername(username)
	if err != nil {
		s.recordFailure(nil, username, ip, userAgent, "user not found")
		return "", nil, trace.AccessDenied("invalid username or password")
	}
	if !u.IsActive {
		s.recordFailure(&u.ID, username, ip, userAgent, "account disabled")
		return "", nil, trace.AccessDenied("account is disabled")
	}
	if !VerifyPassword(password, u.PasswordHash) {
		s.recordFailure(&u.ID, username, ip, userAgent, "bad password")
		return "", nil, trace.AccessDenied("invalid username or password")
	}

	if !isSaltedFormat(u.PasswordHash) {
		if newHash, err := HashPassword(password); err == nil {
			if err := s.store.UpdateUserPasswordHash(u.ID, newHash); err != nil {
				log.WithError(err).Warn("failed to migrate legacy password hash")
			}
		}
	}

	if err := s.store.RecordLogin(u.ID); err != nil {
		log.WithError(err).Warn("failed to stamp last_login")
	}

	signed, err := s.issuer.Issue(u)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}

	s.emit(events.EventInput{
		EventType: "auth.login.success", UserRef: &u.ID, TargetType: "user",
		TargetID: u.Username, IP: ip, UserAgent: userAgent, Severity: model.SeverityInfo,
	})
	return signed, u, nil
}

func (s *Service) recordFailure(userRef *int64, username, ip, userAgent, reason string) {
	if s.limiter != nil {
		s.limiter.RecordLoginFailure(ip)
	}
	s.emit(events.EventInput{
		EventType: "auth.login.failure", UserRef: userRef, TargetType: "user",
		TargetID: username, Meta: map[string]any{"reason": reason},
		IP: ip, UserAgent: userAgent, Severity: model.SeverityWarning,
	})
}

func (s *Service) emit(in events.EventInput) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Emit(in)
}

// Identity is the resolved caller identity after Authenticate succeeds.
type Identity struct {
	UserID      int64
	Username    string
	Role        model.Role
	Permissions []string
}

// Authenticate implements spec.md §4.9's inbound verification order:
// try JWT first, then fall back to an opaque Session lookup.
func (s *Service) Authenticate(authHeader string) (*Identity, error) {
	token := bearerToken(authHeader)
	if token == "" {
		return nil, NewNotAuthenticatedError("missing credentials")
	}

	if claims, err := s.issuer.Verify(token); err == nil {
		return &Identity{
			UserID: claims.UserID, Username: claims.Username,
			Role: model.Role(claims.Role), Permissions: claims.Permissions,
		}, nil
	}

	sess, err := s.store.GetSession(token)
	if err != nil {
		return nil, NewNotAuthenticatedError("invalid or expired credentials")
	}
	u, err := s.store.GetUser(sess.UserRef)
	if err != nil {
		return nil, NewNotAuthenticatedError("invalid or expired credentials")
	}
	return &Identity{
		UserID: u.ID, Username: u.Username, Role: u.Role,
		Permissions: ExpandRole(u.Role),
	}, nil
}

// IssueLegacySession mints an opaque-token session for callers that
// still rely on the pre-JWT credential path.
func (s *Service) IssueLegacySession(userID int64) (*model.Session, error) {
	sess := &model.Session{
		Token: uuid.NewString(), UserRef: userID,
		ExpiresAt: time.Now().Add(legacySessionTTL),
	}
	if err := s.store.CreateSession(sess); err != nil {
		return nil, trace.Wrap(err)
	}
	return sess, nil
}

// Logout revokes a legacy session token; JWTs are stateless and cannot
// be revoked server-side, matching spec.md's scope.
func (s *Service) Logout(token string) error {
	return trace.Wrap(s.store.DeleteSession(token))
}

func isSaltedFormat(hash string) bool {
	return len(hash) > len(saltedHashPrefix) && hash[:len(saltedHashPrefix)] == saltedHashPrefix
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return header
}
