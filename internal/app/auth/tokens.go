// Package auth issues, verifies, refreshes and revokes the JWTs that
// authenticate requests to the ingestion core.
package auth

import (
	"crypto/rsa"
	stderrors "errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
)

// Token types embedded in claims so a refresh token cannot be replayed as an
// access token.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Config for the token manager.
type Config struct {
	Algorithm      string // HS256 | RS256
	SecretKey      string
	PrivateKeyPath string
	PublicKeyPath  string
	Issuer         string
	Audience       string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	EnableRotation bool
	Leeway         time.Duration
}

// Claims carried by every token.
type Claims struct {
	UserID    string   `json:"user_id"`
	Roles     []string `json:"roles"`
	TokenType string   `json:"token_type"`
	jwt.RegisteredClaims
}

// Manager issues, verifies, refreshes, and revokes tokens.
type Manager struct {
	cfg        Config
	method     jwt.SigningMethod
	secret     []byte
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	blacklist  *Blacklist
}

// NewManager validates the signing configuration eagerly.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}

	m := &Manager{
		cfg:       cfg,
		blacklist: NewBlacklist(),
	}

	switch cfg.Algorithm {
	case "", "HS256":
		if cfg.SecretKey == "" {
			return nil, errors.MissingParameter("auth.jwt.secret_key")
		}
		m.method = jwt.SigningMethodHS256
		m.secret = []byte(cfg.SecretKey)
	case "RS256":
		if cfg.PrivateKeyPath == "" || cfg.PublicKeyPath == "" {
			return nil, errors.MissingParameter("auth.jwt.private_key_path")
		}
		privPEM, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, errors.Internal("reading jwt private key", err)
		}
		priv, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
		if err != nil {
			return nil, errors.Internal("parsing jwt private key", err)
		}
		pubPEM, err := os.ReadFile(cfg.PublicKeyPath)
		if err != nil {
			return nil, errors.Internal("reading jwt public key", err)
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
		if err != nil {
			return nil, errors.Internal("parsing jwt public key", err)
		}
		m.method = jwt.SigningMethodRS256
		m.privateKey = priv
		m.publicKey = pub
	default:
		return nil, errors.InvalidInput("auth.jwt.algorithm", "must be HS256 or RS256")
	}

	return m, nil
}

// Blacklist exposes the revocation list so the owner can run its sweep.
func (m *Manager) Blacklist() *Blacklist {
	return m.blacklist
}

func (m *Manager) signingKey() interface{} {
	if m.privateKey != nil {
		return m.privateKey
	}
	return m.secret
}

func (m *Manager) verifyingKey() interface{} {
	if m.publicKey != nil {
		return m.publicKey
	}
	return m.secret
}

// Issue mints an access/refresh token pair for the user.
func (m *Manager) Issue(userID string, roles []string) (access, refresh string, err error) {
	access, err = m.mint(userID, roles, TokenTypeAccess, m.cfg.AccessTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err = m.mint(userID, roles, TokenTypeRefresh, m.cfg.RefreshTTL)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (m *Manager) mint(userID string, roles []string, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID:    userID,
		Roles:     roles,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.cfg.Issuer,
			Audience:  jwt.ClaimStrings{m.cfg.Audience},
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.signingKey())
	if err != nil {
		return "", errors.Internal("signing token", err)
	}
	return signed, nil
}

// Verify parses and validates a token of the expected type.
func (m *Manager) Verify(tokenString, expectedType string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithLeeway(m.cfg.Leeway),
	}
	if m.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.cfg.Issuer))
	}
	if m.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(m.cfg.Audience))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return m.verifyingKey(), nil
	}, opts...)
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.TokenExpired()
		}
		return nil, errors.InvalidToken(err)
	}
	if !token.Valid {
		return nil, errors.InvalidToken(nil)
	}
	if claims.TokenType != expectedType {
		return nil, errors.Unauthorized("wrong token type")
	}
	if m.blacklist.Contains(claims.ID) {
		return nil, errors.Unauthorized("token has been revoked")
	}
	return &claims, nil
}

// Refresh validates a refresh token and issues a fresh pair. With rotation
// enabled the presented refresh token is revoked so it cannot be replayed.
func (m *Manager) Refresh(refreshToken string) (access, refresh string, err error) {
	claims, err := m.Verify(refreshToken, TokenTypeRefresh)
	if err != nil {
		return "", "", err
	}
	if m.cfg.EnableRotation {
		m.Revoke(claims)
	}
	return m.Issue(claims.UserID, claims.Roles)
}

// Revoke blacklists a token until its natural expiry.
func (m *Manager) Revoke(claims *Claims) {
	expiry := time.Now().Add(m.cfg.RefreshTTL)
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}
	m.blacklist.Add(claims.ID, expiry)
}
