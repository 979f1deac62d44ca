package postgres

import (
	"context"
	stderrors "errors"

	"github.com/lib/pq"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
	"github.com/xbcsmith/xzepr/internal/app/domain/receiver"
	"github.com/xbcsmith/xzepr/pkg/ulid"
)

const receiverColumns = `id, name, type, version, description, schema, fingerprint, owner_id, resource_version, created_at`

func (s *Store) SaveReceiver(ctx context.Context, r *receiver.EventReceiver) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_receivers (`+receiverColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			description = EXCLUDED.description,
			resource_version = EXCLUDED.resource_version
	`, r.ID.String(), r.Name, r.Type, r.Version, r.Description, []byte(r.Schema),
		r.Fingerprint, r.OwnerID.String(), r.ResourceVersion, r.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return errors.DuplicateFingerprint(r.Fingerprint)
		}
		return wrapErr("save receiver", "event_receiver", r.ID.String(), err)
	}
	return nil
}

func (s *Store) GetReceiver(ctx context.Context, id ulid.EventReceiverID) (*receiver.EventReceiver, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+receiverColumns+`
		FROM event_receivers
		WHERE id = $1
	`, id.String())

	r, err := scanReceiver(row)
	if err != nil {
		return nil, wrapErr("get receiver", "event_receiver", id.String(), err)
	}
	return r, nil
}

func (s *Store) FindReceivers(ctx context.Context, name, typ, version string) ([]*receiver.EventReceiver, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+receiverColumns+`
		FROM event_receivers
		WHERE ($1 = '' OR name = $1)
		  AND ($2 = '' OR type = $2)
		  AND ($3 = '' OR version = $3)
		ORDER BY created_at DESC
	`, name, typ, version)
	if err != nil {
		return nil, wrapErr("find receivers", "event_receiver", "", err)
	}
	defer rows.Close()

	var result []*receiver.EventReceiver
	for rows.Next() {
		r, err := scanReceiver(rows)
		if err != nil {
			return nil, wrapErr("find receivers", "event_receiver", "", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("find receivers", "event_receiver", "", err)
	}
	return result, nil
}

func (s *Store) ListReceiversByOwner(ctx context.Context, owner ulid.UserID, limit, offset int) ([]*receiver.EventReceiver, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+receiverColumns+`
		FROM event_receivers
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, owner.String(), limit, offset)
	if err != nil {
		return nil, wrapErr("list receivers by owner", "event_receiver", "", err)
	}
	defer rows.Close()

	var result []*receiver.EventReceiver
	for rows.Next() {
		r, err := scanReceiver(rows)
		if err != nil {
			return nil, wrapErr("list receivers by owner", "event_receiver", "", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list receivers by owner", "event_receiver", "", err)
	}
	return result, nil
}

// UpdateReceiver applies an optimistic-concurrency update: the predicate pins
// the resource version the caller read, and zero affected rows means another
// writer got there first.
func (s *Store) UpdateReceiver(ctx context.Context, r *receiver.EventReceiver, expectedVersion int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE event_receivers
		SET description = $2, resource_version = $3
		WHERE id = $1 AND resource_version = $4
	`, r.ID.String(), r.Description, r.ResourceVersion, expectedVersion)
	if err != nil {
		return wrapErr("update receiver", "event_receiver", r.ID.String(), err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return wrapErr("update receiver", "event_receiver", r.ID.String(), err)
	}
	if rows == 0 {
		if _, err := s.GetReceiverResourceVersion(ctx, r.ID); err != nil {
			return err
		}
		return errors.VersionConflict("event_receiver", r.ID.String(), expectedVersion)
	}
	return nil
}

// DeleteReceiver refuses to remove a receiver that still has events.
func (s *Store) DeleteReceiver(ctx context.Context, id ulid.EventReceiverID) error {
	var hasEvents bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM events WHERE event_receiver_id = $1)
	`, id.String()).Scan(&hasEvents)
	if err != nil {
		return wrapErr("delete receiver", "event_receiver", id.String(), err)
	}
	if hasEvents {
		return errors.Conflict("receiver still has events").WithDetails("id", id.String())
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM event_receivers WHERE id = $1
	`, id.String())
	if err != nil {
		return wrapErr("delete receiver", "event_receiver", id.String(), err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NotFound("event_receiver", id.String())
	}
	return nil
}

func (s *Store) IsReceiverOwner(ctx context.Context, id ulid.EventReceiverID, userID ulid.UserID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM event_receivers WHERE id = $1 AND owner_id = $2)
	`, id.String(), userID.String()).Scan(&exists)
	if err != nil {
		return false, wrapErr("is receiver owner", "event_receiver", id.String(), err)
	}
	return exists, nil
}

func (s *Store) GetReceiverResourceVersion(ctx context.Context, id ulid.EventReceiverID) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `
		SELECT resource_version FROM event_receivers WHERE id = $1
	`, id.String()).Scan(&version)
	if err != nil {
		return 0, wrapErr("get receiver resource version", "event_receiver", id.String(), err)
	}
	return version, nil
}

func scanReceiver(row rowScanner) (*receiver.EventReceiver, error) {
	var (
		r       receiver.EventReceiver
		id      string
		ownerID string
		schema  []byte
	)
	if err := row.Scan(&id, &r.Name, &r.Type, &r.Version, &r.Description,
		&schema, &r.Fingerprint, &ownerID, &r.ResourceVersion, &r.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if r.ID, err = ulid.ParseEventReceiverID(id); err != nil {
		return nil, err
	}
	if r.OwnerID, err = ulid.ParseUserID(ownerID); err != nil {
		return nil, err
	}
	r.Schema = schema
	return &r, nil
}
