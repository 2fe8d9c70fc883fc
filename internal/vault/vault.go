// Package vault implements the credential vault (C1): AES-256-GCM
// wrap/unwrap of SSH private keys, soft-delete, and fingerprinting.
//
// Grounded on spec.md §4.1; the teacher has no direct analog (teleport
// stores key material in its own CA/cert subsystem, which this system
// doesn't carry), so the AEAD plumbing follows stdlib crypto/cipher
// idiom directly while the surrounding store/error/logging conventions
// follow the teacher (trace-wrapped errors, logrus component logger).
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"

	"github.com/gravitational/fleetctl/internal/model"
	"github.com/gravitational/fleetctl/internal/obslog"
)

var log = obslog.New(obslog.Component("vault"))

// Store is the persistence contract the vault needs from C2; kept
// narrow so vault can be tested against a fake.
type Store interface {
	CreateVaultKey(k *model.VaultKey) error
	GetVaultKey(id string) (*model.VaultKey, error)
	ListVaultKeys(includeDeleted bool) ([]*model.VaultKey, error)
	SoftDeleteVaultKey(id string) error
}

// Vault wraps/unwraps SSH private key material with AES-256-GCM.
type Vault struct {
	store     Store
	masterKey [32]byte
	ephemeral bool
}

// New builds a Vault. The AES-256 key is the SHA-256 digest of
// masterKey, so any non-empty string is accepted as is; if masterKey is
// empty, a random process-local key is generated and a warning logged,
// per spec.md §4.1 ("if absent, the process starts with a process-local
// random key").
func New(store Store, masterKey string) (*Vault, error) {
	v := &Vault{store: store}
	if masterKey == "" {
		if _, err := io.ReadFull(rand.Reader, v.masterKey[:]); err != nil {
			return nil, trace.Wrap(err, "generating ephemeral vault key")
		}
		v.ephemeral = true
		log.Warn("KEY_VAULT_MASTER_KEY not set; using a process-local random key. Encrypted data will not survive a restart.")
		return v, nil
	}
	sum := sha256.Sum256([]byte(masterKey))
	v.masterKey = sum
	return v, nil
}

// Metadata is the HTTP-safe projection of a VaultKey: no ciphertext,
// iv, auth_tag, or plaintext ever appear here.
type Metadata struct {
	ID          string
	Name        string
	KeyType     model.KeyType
	Fingerprint string
	PublicKey   string
	CreatedBy   int64
	CreatedAt   string
	DeletedAt   *string
}

func toMetadata(k *model.VaultKey) *Metadata {
	m := &Metadata{
		ID:          k.ID,
		Name:        k.Name,
		KeyType:     k.KeyType,
		Fingerprint: k.Fingerprint,
		PublicKey:   k.PublicKey,
		CreatedBy:   k.CreatedBy,
		CreatedAt:   k.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if k.DeletedAt != nil {
		s := k.DeletedAt.Format("2006-01-02T15:04:05Z07:00")
		m.DeletedAt = &s
	}
	return m
}

// Fingerprint computes the display fingerprint of a canonical SSH key
// byte form: "SHA256:" + unpadded base64url(sha256(data)).
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return "SHA256:" + base64.RawURLEncoding.EncodeToString(sum[:])
}

// Import parses a PEM-encoded SSH private key, detects its algorithm
// via the RSA→Ed25519→ECDSA fallback order from the original Python
// ssh_manager.py, encrypts it, and persists the VaultKey row.
func (v *Vault) Import(name string, pemKey []byte, passphrase string, createdBy int64) (*Metadata, error) {
	signer, keyType, err := parsePrivateKey(pemKey, passphrase)
	if err != nil {
		return nil, trace.BadParameter("invalid private key: %v", err)
	}

	nonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, trace.Wrap(err, "generating nonce")
	}
	block, err := aes.NewCipher(v.masterKey[:])
	if err != nil {
		return nil, trace.Wrap(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sealed := gcm.Seal(nil, nonce, pemKey, nil)
	// Go's GCM appends the 16-byte auth tag to the ciphertext; split it
	// out so the stored shape matches the spec's three distinct fields.
	if len(sealed) < gcm.Overhead() {
		return nil, trace.Errorf("sealed output shorter than auth tag")
	}
	ciphertext := sealed[:len(sealed)-gcm.Overhead()]
	authTag := sealed[len(sealed)-gcm.Overhead():]

	k := &model.VaultKey{
		ID:          uuid.NewString(),
		Name:        name,
		KeyType:     keyType,
		Fingerprint: Fingerprint(signer.PublicKey().Marshal()),
		Ciphertext:  ciphertext,
		IV:          nonce,
		AuthTag:     authTag,
		PublicKey:   string(ssh.MarshalAuthorizedKey(signer.PublicKey())),
		CreatedBy:   createdBy,
	}
	if err := v.store.CreateVaultKey(k); err != nil {
		return nil, trace.Wrap(err)
	}
	return toMetadata(k), nil
}

// Get returns the HTTP-safe metadata for a key, or NotFound if it is
// missing or soft-deleted.
func (v *Vault) Get(id string) (*Metadata, error) {
	k, err := v.store.GetVaultKey(id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if k.DeletedAt != nil {
		return nil, trace.NotFound("ssh key %q not found", id)
	}
	return toMetadata(k), nil
}

// List returns metadata for all non-deleted keys unless includeDeleted
// is set (internal use only, e.g. audit tooling).
func (v *Vault) List(includeDeleted bool) ([]*Metadata, error) {
	keys, err := v.store.ListVaultKeys(includeDeleted)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]*Metadata, 0, len(keys))
	for _, k := range keys {
		out = append(out, toMetadata(k))
	}
	return out, nil
}

// Delete soft-deletes a key; ciphertext is retained for audit per
// spec.md §3's ownership & lifecycle rule.
func (v *Vault) Delete(id string) error {
	return trace.Wrap(v.store.SoftDeleteVaultKey(id))
}

// Unwrap decrypts and parses the signer for a given key id, for use by
// the connection pool. It refuses soft-deleted keys.
func (v *Vault) Unwrap(id string) (ssh.Signer, error) {
	k, err := v.store.GetVaultKey(id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if k.DeletedAt != nil {
		return nil, trace.NotFound("ssh key %q has been deleted", id)
	}
	block, err := aes.NewCipher(v.masterKey[:])
	if err != nil {
		return nil, trace.Wrap(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sealed := append(append([]byte{}, k.Ciphertext...), k.AuthTag...)
	plaintext, err := gcm.Open(nil, k.IV, sealed, nil)
	if err != nil {
		return nil, trace.AccessDenied("failed to decrypt key %q: %v", id, err)
	}
	signer, _, err := parsePrivateKey(plaintext, "")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return signer, nil
}

// WrapPassword encrypts an SSH password for storage in
// Host.SSHPasswordWrapped, per spec.md §209 ("Secrets ... are at-rest
// encrypted with the vault master key or an equivalent application-level
// key"). Host has a single storage column for this credential, unlike
// VaultKey's three separate ciphertext/iv/auth_tag columns, so the nonce
// is prepended to the sealed output instead of split out.
func (v *Vault) WrapPassword(plaintext string) ([]byte, error) {
	nonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, trace.Wrap(err, "generating nonce")
	}
	block, err := aes.NewCipher(v.masterKey[:])
	if err != nil {
		return nil, trace.Wrap(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// UnwrapPassword decrypts a value previously produced by WrapPassword,
// for use by the connection pool and terminal/task credential resolvers.
func (v *Vault) UnwrapPassword(wrapped []byte) (string, error) {
	block, err := aes.NewCipher(v.masterKey[:])
	if err != nil {
		return "", trace.Wrap(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if len(wrapped) < gcm.NonceSize() {
		return "", trace.BadParameter("wrapped password is shorter than the nonce")
	}
	nonce, sealed := wrapped[:gcm.NonceSize()], wrapped[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", trace.AccessDenied("failed to decrypt wrapped password: %v", err)
	}
	return string(plaintext), nil
}

// parsePrivateKey tries RSA, then Ed25519, then ECDSA — the precedence
// order used by the original Python ssh_manager.py — by delegating to
// x/crypto/ssh's generic parser and inspecting the resulting key type,
// since Go's PEM parser does not itself expose a per-algorithm
// fallback knob.
func parsePrivateKey(pemKey []byte, passphrase string) (ssh.Signer, model.KeyType, error) {
	var signer ssh.Signer
	var err error
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pemKey, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pemKey)
	}
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	switch t := signer.PublicKey().Type(); {
	case t == ssh.KeyAlgoRSA:
		return signer, model.KeyTypeRSA, nil
	case t == ssh.KeyAlgoED25519:
		return signer, model.KeyTypeEd25519, nil
	case t == ssh.KeyAlgoECDSA256 || t == ssh.KeyAlgoECDSA384 || t == ssh.KeyAlgoECDSA521:
		return signer, model.KeyTypeECDSA, nil
	case t == ssh.KeyAlgoDSA:
		return signer, model.KeyTypeDSA, nil
	default:
		return nil, "", trace.BadParameter("unsupported key algorithm %q", t)
	}
}
