// Package user holds the user, role, and API key model for the ingestion core.
package user

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
	"github.com/xbcsmith/xzepr/pkg/ulid"
)

// Role is one of the closed set of roles a user may hold.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleEventManager Role = "event_manager"
	RoleEventViewer  Role = "event_viewer"
	RoleUser         Role = "user"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleEventManager, RoleEventViewer, RoleUser:
		return Role(s), nil
	}
	return "", errors.InvalidInput("role", fmt.Sprintf("unknown role %q", s))
}

// AuthProvider tags how a user authenticates.
type AuthProvider string

const (
	ProviderLocal  AuthProvider = "local"
	ProviderOIDC   AuthProvider = "oidc"
	ProviderAPIKey AuthProvider = "api_key"
)

// ParseAuthProvider validates a provider tag.
func ParseAuthProvider(s string) (AuthProvider, error) {
	switch AuthProvider(s) {
	case ProviderLocal, ProviderOIDC, ProviderAPIKey:
		return AuthProvider(s), nil
	}
	return "", errors.InvalidInput("auth_provider", fmt.Sprintf("unknown provider %q", s))
}

// User represents an account that owns resources and holds roles.
type User struct {
	ID              ulid.UserID
	Name            string
	Email           string
	PasswordHash    string
	Provider        AuthProvider
	ExternalSubject string
	Enabled         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// New constructs a user, enforcing invariants.
func New(name, email string, provider AuthProvider) (*User, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.InvalidInput("name", "must not be empty")
	}
	if strings.TrimSpace(email) == "" || !strings.Contains(email, "@") {
		return nil, errors.InvalidInput("email", "must be a valid address")
	}
	if _, err := ParseAuthProvider(string(provider)); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &User{
		ID:        ulid.NewUserID(),
		Name:      name,
		Email:     email,
		Provider:  provider,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SetPassword hashes the plaintext with Argon2id and stores the encoded hash.
func (u *User) SetPassword(plaintext string) error {
	if len(plaintext) < 8 {
		return errors.InvalidInput("password", "must be at least 8 characters")
	}
	hash, err := HashPassword(plaintext)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// VerifyPassword checks the plaintext against the stored Argon2id hash.
func (u *User) VerifyPassword(plaintext string) bool {
	return VerifyPassword(u.PasswordHash, plaintext)
}

// Argon2id parameters. Time/memory follow the RFC 9106 second recommended
// option for interactive logins.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// HashPassword produces an encoded Argon2id hash.
func HashPassword(plaintext string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Internal("generating salt", err)
	}
	key := argon2.IDKey([]byte(plaintext), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// VerifyPassword checks plaintext against an encoded Argon2id hash in
// constant time.
func VerifyPassword(encoded, plaintext string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(plaintext), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// RoleAssignment binds a role to a user.
type RoleAssignment struct {
	UserID ulid.UserID
	Role   Role
}

// APIKey is a stored credential. Only the SHA-256 hash of the secret is
// persisted; the plaintext is returned once at creation.
type APIKey struct {
	ID         ulid.APIKeyID
	UserID     ulid.UserID
	SecretHash string
	Label      string
	ExpiresAt  *time.Time
	Enabled    bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// NewAPIKey mints a key for the user and returns the record together with the
// plaintext secret.
func NewAPIKey(userID ulid.UserID, label string, expiresAt *time.Time) (*APIKey, string, error) {
	if strings.TrimSpace(label) == "" {
		return nil, "", errors.InvalidInput("label", "must not be empty")
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", errors.Internal("generating api key", err)
	}
	secret := "xzepr_" + base64.RawURLEncoding.EncodeToString(raw)
	key := &APIKey{
		ID:         ulid.NewAPIKeyID(),
		UserID:     userID,
		SecretHash: HashSecret(secret),
		Label:      label,
		ExpiresAt:  expiresAt,
		Enabled:    true,
		CreatedAt:  time.Now().UTC(),
	}
	return key, secret, nil
}

// HashSecret returns the lowercase hex SHA-256 of an API key secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Valid reports whether the key is usable at the given instant.
func (k *APIKey) Valid(now time.Time) bool {
	if !k.Enabled {
		return false
	}
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return false
	}
	return true
}
