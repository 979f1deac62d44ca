package postgres

import (
	"context"

	"github.com/xbcsmith/xzepr/internal/app/domain/event"
	"github.com/xbcsmith/xzepr/pkg/ulid"
)

const eventColumns = `id, event_receiver_id, name, version, release, platform_id, package, description, payload, success, owner_id, resource_version, created_at`

func (s *Store) SaveEvent(ctx context.Context, ev *event.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID.String(), ev.ReceiverID.String(), ev.Name, ev.Version, ev.Release,
		ev.PlatformID, ev.Package, ev.Description, []byte(ev.Payload), ev.Success,
		ev.OwnerID.String(), ev.ResourceVersion, ev.CreatedAt)
	if err != nil {
		return wrapErr("save event", "event", ev.ID.String(), err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id ulid.EventID) (*event.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE id = $1
	`, id.String())

	ev, err := scanEvent(row)
	if err != nil {
		return nil, wrapErr("get event", "event", id.String(), err)
	}
	return ev, nil
}

func (s *Store) FindEvents(ctx context.Context, criteria event.Criteria) ([]*event.Event, error) {
	// Fixed predicate set keeps the query parameterized regardless of which
	// criteria are present.
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE ($1::text IS NULL OR name = $1)
		  AND ($2::text IS NULL OR version = $2)
		  AND ($3::text IS NULL OR release = $3)
		  AND ($4::text IS NULL OR platform_id = $4)
		  AND ($5::text IS NULL OR package = $5)
		  AND ($6::boolean IS NULL OR success = $6)
		  AND ($7::text IS NULL OR event_receiver_id = $7)
		  AND ($8::text IS NULL OR owner_id = $8)
		ORDER BY created_at DESC
	`
	var receiverID, ownerID *string
	if criteria.ReceiverID != nil {
		v := criteria.ReceiverID.String()
		receiverID = &v
	}
	if criteria.OwnerID != nil {
		v := criteria.OwnerID.String()
		ownerID = &v
	}

	rows, err := s.db.QueryContext(ctx, query,
		criteria.Name, criteria.Version, criteria.Release, criteria.PlatformID,
		criteria.Package, criteria.Success, receiverID, ownerID)
	if err != nil {
		return nil, wrapErr("find events", "event", "", err)
	}
	defer rows.Close()

	var result []*event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, wrapErr("find events", "event", "", err)
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("find events", "event", "", err)
	}
	return result, nil
}

func (s *Store) ListEventsByOwner(ctx context.Context, owner ulid.UserID, limit, offset int) ([]*event.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, owner.String(), limit, offset)
	if err != nil {
		return nil, wrapErr("list events by owner", "event", "", err)
	}
	defer rows.Close()

	var result []*event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, wrapErr("list events by owner", "event", "", err)
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list events by owner", "event", "", err)
	}
	return result, nil
}

func (s *Store) IsEventOwner(ctx context.Context, id ulid.EventID, userID ulid.UserID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM events WHERE id = $1 AND owner_id = $2)
	`, id.String(), userID.String()).Scan(&exists)
	if err != nil {
		return false, wrapErr("is event owner", "event", id.String(), err)
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*event.Event, error) {
	var (
		ev         event.Event
		id         string
		receiverID string
		ownerID    string
		payload    []byte
	)
	if err := row.Scan(&id, &receiverID, &ev.Name, &ev.Version, &ev.Release,
		&ev.PlatformID, &ev.Package, &ev.Description, &payload, &ev.Success,
		&ownerID, &ev.ResourceVersion, &ev.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if ev.ID, err = ulid.ParseEventID(id); err != nil {
		return nil, err
	}
	if ev.ReceiverID, err = ulid.ParseEventReceiverID(receiverID); err != nil {
		return nil, err
	}
	if ev.OwnerID, err = ulid.ParseUserID(ownerID); err != nil {
		return nil, err
	}
	ev.Payload = payload
	return &ev, nil
}
