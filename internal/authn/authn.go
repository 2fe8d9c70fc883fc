// Package authn implements password verification, JWT issue/verify, and
// RBAC permission expansion (C9).
//
// Grounded on spec.md §4.9. The teacher's own lib/jwt is a go-jose/x509
// CA-backed signer built for cluster-to-cluster trust, far more than this
// single-process control plane needs; per SPEC_FULL.md's DOMAIN STACK
// table, authn is built on golang-jwt/jwt/v4 instead — already an
// indirect dependency of the teacher's go.mod, promoted here to direct.
package authn

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gravitational/trace"

	"github.com/gravitational/fleetctl/internal/model"
	"github.com/gravitational/fleetctl/internal/obslog"
)

var log = obslog.New(obslog.Component("authn"))

const (
	saltBytes        = 16
	defaultTokenTTL  = 24 * time.Hour
	saltedHashPrefix = "sha256$"
)

// HashPassword produces the current salted-SHA-256 format:
// "sha256$<salt-hex>$<hash-hex>". New passwords are always written in
// this form; legacy bare-SHA-256 hashes are verified but never created.
func HashPassword(plaintext string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", trace.Wrap(err)
	}
	saltHex := hex.EncodeToString(salt)
	return saltedHashPrefix + saltHex + "$" + hashWithSalt(plaintext, saltHex), nil
}

// VerifyPassword checks plaintext against a stored hash in either the
// current salted format or the legacy plain-SHA-256 format, per spec.md
// §4.9's "both must verify existing hashes" requirement.
func VerifyPassword(plaintext, stored string) bool {
	if strings.HasPrefix(stored, saltedHashPrefix) {
		parts := strings.SplitN(strings.TrimPrefix(stored, saltedHashPrefix), "$", 2)
		if len(parts) != 2 {
			return false
		}
		saltHex, wantHash := parts[0], parts[1]
		gotHash := hashWithSalt(plaintext, saltHex)
		return subtle.ConstantTimeCompare([]byte(gotHash), []byte(wantHash)) == 1
	}

	// Legacy: bare hex SHA-256 of the plaintext, no salt.
	sum := sha256.Sum256([]byte(plaintext))
	gotHash := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(gotHash), []byte(stored)) == 1
}

func hashWithSalt(plaintext, saltHex string) string {
	sum := sha256.Sum256([]byte(saltHex + plaintext))
	return hex.EncodeToString(sum[:])
}

// Claims is the JWT payload shape carried on every issued token.
type Claims struct {
	UserID      int64    `json:"user_id"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies JWTs with an HMAC-SHA256 secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer builds an Issuer. If secret is empty, a random one is
// generated and a warning is logged — tokens will not survive a
// restart, matching spec.md §4.9's "random fallback with warning".
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			panic(trace.Wrap(err, "generating fallback JWT secret"))
		}
		log.Warn("JWT_SECRET not set; using a random secret for this process. " +
			"Tokens issued now will not verify after a restart.")
		secret = hex.EncodeToString(buf)
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue mints a signed token for the given user.
func (iss *Issuer) Issue(u *model.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:      u.ID,
		Username:    u.Username,
		Role:        string(u.Role),
		Permissions: ExpandRole(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(iss.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(iss.secret)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (iss *Issuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return iss.secret, nil
	})
	if err != nil {
		return nil, trace.AccessDenied("invalid token: %v", err)
	}
	if !token.Valid {
		return nil, trace.AccessDenied("invalid token")
	}
	return claims, nil
}

// ExpandRole maps a Role to its fixed permission set, per spec.md
// §4.9's permission table.
func ExpandRole(role model.Role) []string {
	switch role {
	case model.RoleAdmin:
		return []string{"*"}
	case model.RoleOperator:
		return []string{"server:view", "server:edit", "terminal:use", "alerts:view", "alerts:ack"}
	case model.RoleViewer, model.RoleAuditor:
		return []string{"server:view", "alerts:view"}
	default:
		return nil
	}
}

// HasPermission reports whether a permission set grants perm, honoring
// the "*" wildcard used by admin.
func HasPermission(granted []string, perm string) bool {
	for _, g := range granted {
		if g == "*" || g == perm {
			return true
		}
	}
	return false
}
