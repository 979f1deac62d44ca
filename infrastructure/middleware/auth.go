package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
	"github.com/xbcsmith/xzepr/infrastructure/httputil"
	"github.com/xbcsmith/xzepr/infrastructure/logging"
	"github.com/xbcsmith/xzepr/infrastructure/metrics"
	"github.com/xbcsmith/xzepr/internal/app/auth"
	"github.com/xbcsmith/xzepr/internal/app/domain/user"
	"github.com/xbcsmith/xzepr/internal/app/storage"
	"github.com/xbcsmith/xzepr/pkg/ulid"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller as seen by the transport layer.
type Principal struct {
	UserID    ulid.UserID
	Roles     []user.Role
	Method    string // jwt | api_key
	SessionID string
}

// IsAdmin reports whether the principal holds the admin role.
func (p *Principal) IsAdmin() bool {
	for _, r := range p.Roles {
		if r == user.RoleAdmin {
			return true
		}
	}
	return false
}

// WithPrincipal stores the principal in the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the principal, or nil for anonymous requests.
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// AuthMiddleware resolves `Authorization: Bearer <jwt>` or `X-API-Key`
// credentials into a Principal.
type AuthMiddleware struct {
	tokens  *auth.Manager
	users   storage.UserStore
	metrics *metrics.Metrics
	log     *logging.Logger
}

// NewAuthMiddleware creates the middleware.
func NewAuthMiddleware(tokens *auth.Manager, users storage.UserStore, m *metrics.Metrics, log *logging.Logger) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users, metrics: m, log: log}
}

// Handler authenticates the request and rejects bad credentials. Requests
// without credentials pass through anonymous; handlers that need identity
// pair this with RequireAuth.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.resolve(r)
		if err != nil {
			m.metrics.RecordAuthAttempt("failure")
			m.metrics.RecordAuthFailure("invalid_credential", "")
			httputil.WriteServiceError(w, err)
			return
		}
		if principal != nil {
			m.metrics.RecordAuthAttempt("success")
			m.metrics.RecordAuthSuccess(principal.Method, principal.UserID.String())
			ctx := WithPrincipal(r.Context(), principal)
			ctx = logging.WithUserID(ctx, principal.UserID.String())
			if principal.SessionID != "" {
				ctx = logging.WithSessionID(ctx, principal.SessionID)
			}
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) resolve(r *http.Request) (*Principal, error) {
	start := time.Now()
	defer func() {
		m.metrics.ObserveAuthDuration("resolve", time.Since(start))
	}()

	if header := r.Header.Get("Authorization"); header != "" {
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return nil, errors.Unauthorized("malformed Authorization header")
		}
		return m.resolveJWT(r.Context(), strings.TrimSpace(tokenString))
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return m.resolveAPIKey(r.Context(), key)
	}

	return nil, nil
}

func (m *AuthMiddleware) resolveJWT(ctx context.Context, tokenString string) (*Principal, error) {
	claims, err := m.tokens.Verify(tokenString, auth.TokenTypeAccess)
	if err != nil {
		return nil, err
	}

	userID, err := ulid.ParseUserID(claims.UserID)
	if err != nil {
		return nil, errors.Unauthorized("invalid subject")
	}

	roles := make([]user.Role, 0, len(claims.Roles))
	for _, raw := range claims.Roles {
		role, err := user.ParseRole(raw)
		if err != nil {
			continue
		}
		roles = append(roles, role)
	}

	return &Principal{
		UserID:    userID,
		Roles:     roles,
		Method:    "jwt",
		SessionID: claims.ID,
	}, nil
}

func (m *AuthMiddleware) resolveAPIKey(ctx context.Context, key string) (*Principal, error) {
	record, err := m.users.GetAPIKeyByHash(ctx, user.HashSecret(key))
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			return nil, errors.Unauthorized("unknown API key")
		}
		return nil, err
	}
	if !record.Valid(time.Now()) {
		return nil, errors.Unauthorized("API key disabled or expired")
	}

	owner, err := m.users.GetUser(ctx, record.UserID)
	if err != nil {
		return nil, errors.Unauthorized("API key owner not found")
	}
	if !owner.Enabled {
		return nil, errors.Unauthorized("account disabled")
	}

	roles, err := m.users.GetRoles(ctx, owner.ID)
	if err != nil {
		return nil, err
	}

	if err := m.users.TouchAPIKey(ctx, record.ID, time.Now().UTC()); err != nil {
		m.log.WithError(err).Warn("updating api key last use")
	}

	return &Principal{
		UserID: owner.ID,
		Roles:  roles,
		Method: "api_key",
	}, nil
}

// RequireAuth rejects anonymous requests.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetPrincipal(r.Context()) == nil {
			httputil.WriteServiceError(w, errors.Unauthorized("authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
