package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/xbcsmith/xzepr/internal/app/domain/user"
	"github.com/xbcsmith/xzepr/pkg/ulid"
)

const userColumns = `id, name, email, password_hash, provider, external_subject, enabled, created_at, updated_at`

func (s *Store) SaveUser(ctx context.Context, u *user.User) error {
	var passwordHash sql.NullString
	if u.PasswordHash != "" {
		passwordHash = sql.NullString{String: u.PasswordHash, Valid: true}
	}
	var externalSubject sql.NullString
	if u.ExternalSubject != "" {
		externalSubject = sql.NullString{String: u.ExternalSubject, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			password_hash = EXCLUDED.password_hash,
			external_subject = EXCLUDED.external_subject,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`, u.ID.String(), u.Name, u.Email, passwordHash, string(u.Provider),
		externalSubject, u.Enabled, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return wrapErr("save user", "user", u.ID.String(), err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id ulid.UserID) (*user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())

	u, err := scanUser(row)
	if err != nil {
		return nil, wrapErr("get user", "user", id.String(), err)
	}
	return u, nil
}

func (s *Store) GetUserByName(ctx context.Context, name string) (*user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE name = $1
	`, name)

	u, err := scanUser(row)
	if err != nil {
		return nil, wrapErr("get user by name", "user", name, err)
	}
	return u, nil
}

func (s *Store) GetRoles(ctx context.Context, id ulid.UserID) ([]user.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role
	`, id.String())
	if err != nil {
		return nil, wrapErr("get roles", "user", id.String(), err)
	}
	defer rows.Close()

	var roles []user.Role
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapErr("get roles", "user", id.String(), err)
		}
		role, err := user.ParseRole(raw)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("get roles", "user", id.String(), err)
	}
	return roles, nil
}

func (s *Store) AssignRole(ctx context.Context, id ulid.UserID, role user.Role) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id, role) DO NOTHING
	`, id.String(), string(role))
	if err != nil {
		return wrapErr("assign role", "user", id.String(), err)
	}
	return nil
}

func (s *Store) RemoveRole(ctx context.Context, id ulid.UserID, role user.Role) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM user_roles WHERE user_id = $1 AND role = $2
	`, id.String(), string(role))
	if err != nil {
		return wrapErr("remove role", "user", id.String(), err)
	}
	return nil
}

func (s *Store) SaveAPIKey(ctx context.Context, key *user.APIKey) error {
	var expiresAt sql.NullTime
	if key.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *key.ExpiresAt, Valid: true}
	}
	var lastUsedAt sql.NullTime
	if key.LastUsedAt != nil {
		lastUsedAt = sql.NullTime{Time: *key.LastUsedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, secret_hash, label, expires_at, enabled, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			label = EXCLUDED.label,
			expires_at = EXCLUDED.expires_at,
			enabled = EXCLUDED.enabled,
			last_used_at = EXCLUDED.last_used_at
	`, key.ID.String(), key.UserID.String(), key.SecretHash, key.Label,
		expiresAt, key.Enabled, key.CreatedAt, lastUsedAt)
	if err != nil {
		return wrapErr("save api key", "api_key", key.ID.String(), err)
	}
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, secretHash string) (*user.APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, secret_hash, label, expires_at, enabled, created_at, last_used_at
		FROM api_keys
		WHERE secret_hash = $1
	`, secretHash)

	var (
		key        user.APIKey
		id, userID string
		expiresAt  sql.NullTime
		lastUsedAt sql.NullTime
	)
	if err := row.Scan(&id, &userID, &key.SecretHash, &key.Label,
		&expiresAt, &key.Enabled, &key.CreatedAt, &lastUsedAt); err != nil {
		return nil, wrapErr("get api key", "api_key", "", err)
	}

	var err error
	if key.ID, err = ulid.ParseAPIKeyID(id); err != nil {
		return nil, err
	}
	if key.UserID, err = ulid.ParseUserID(userID); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		key.LastUsedAt = &lastUsedAt.Time
	}
	return &key, nil
}

func (s *Store) TouchAPIKey(ctx context.Context, id ulid.APIKeyID, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used_at = $2 WHERE id = $1
	`, id.String(), usedAt)
	if err != nil {
		return wrapErr("touch api key", "api_key", id.String(), err)
	}
	return nil
}

func scanUser(row rowScanner) (*user.User, error) {
	var (
		u               user.User
		id              string
		passwordHash    sql.NullString
		provider        string
		externalSubject sql.NullString
	)
	if err := row.Scan(&id, &u.Name, &u.Email, &passwordHash, &provider,
		&externalSubject, &u.Enabled, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if u.ID, err = ulid.ParseUserID(id); err != nil {
		return nil, err
	}
	if u.Provider, err = user.ParseAuthProvider(provider); err != nil {
		return nil, err
	}
	u.PasswordHash = passwordHash.String
	u.ExternalSubject = externalSubject.String
	return &u, nil
}
