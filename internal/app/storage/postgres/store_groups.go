package postgres

import (
	"context"
	stderrors "errors"

	"github.com/lib/pq"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
	"github.com/xbcsmith/xzepr/internal/app/domain/group"
	"github.com/xbcsmith/xzepr/pkg/ulid"
)

const groupColumns = `id, name, type, version, description, enabled, event_receiver_ids, owner_id, resource_version, created_at, updated_at`

func (s *Store) SaveGroup(ctx context.Context, g *group.EventReceiverGroup) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_receiver_groups (`+groupColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			description = EXCLUDED.description,
			enabled = EXCLUDED.enabled,
			event_receiver_ids = EXCLUDED.event_receiver_ids,
			resource_version = EXCLUDED.resource_version,
			updated_at = EXCLUDED.updated_at
	`, g.ID.String(), g.Name, g.Type, g.Version, g.Description, g.Enabled,
		pq.Array(receiverIDStrings(g.ReceiverIDs)), g.OwnerID.String(),
		g.ResourceVersion, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return wrapErr("save group", "event_receiver_group", g.ID.String(), err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id ulid.EventReceiverGroupID) (*group.EventReceiverGroup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+groupColumns+`
		FROM event_receiver_groups
		WHERE id = $1
	`, id.String())

	g, err := scanGroup(row)
	if err != nil {
		return nil, wrapErr("get group", "event_receiver_group", id.String(), err)
	}
	return g, nil
}

func (s *Store) FindGroups(ctx context.Context, name, typ, version string) ([]*group.EventReceiverGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+groupColumns+`
		FROM event_receiver_groups
		WHERE ($1 = '' OR name = $1)
		  AND ($2 = '' OR type = $2)
		  AND ($3 = '' OR version = $3)
		ORDER BY created_at DESC
	`, name, typ, version)
	if err != nil {
		return nil, wrapErr("find groups", "event_receiver_group", "", err)
	}
	defer rows.Close()

	return collectGroups(rows)
}

func (s *Store) ListGroupsByOwner(ctx context.Context, owner ulid.UserID, limit, offset int) ([]*group.EventReceiverGroup, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+groupColumns+`
		FROM event_receiver_groups
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, owner.String(), limit, offset)
	if err != nil {
		return nil, wrapErr("list groups by owner", "event_receiver_group", "", err)
	}
	defer rows.Close()

	return collectGroups(rows)
}

// UpdateGroup applies an optimistic-concurrency update pinned to the version
// the caller read.
func (s *Store) UpdateGroup(ctx context.Context, g *group.EventReceiverGroup, expectedVersion int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE event_receiver_groups
		SET description = $2, enabled = $3, event_receiver_ids = $4,
		    resource_version = $5, updated_at = $6
		WHERE id = $1 AND resource_version = $7
	`, g.ID.String(), g.Description, g.Enabled, pq.Array(receiverIDStrings(g.ReceiverIDs)),
		g.ResourceVersion, g.UpdatedAt, expectedVersion)
	if err != nil {
		return wrapErr("update group", "event_receiver_group", g.ID.String(), err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return wrapErr("update group", "event_receiver_group", g.ID.String(), err)
	}
	if rows == 0 {
		if _, err := s.GetGroupResourceVersion(ctx, g.ID); err != nil {
			return err
		}
		return errors.VersionConflict("event_receiver_group", g.ID.String(), expectedVersion)
	}
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, id ulid.EventReceiverGroupID) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM event_receiver_groups WHERE id = $1
	`, id.String())
	if err != nil {
		return wrapErr("delete group", "event_receiver_group", id.String(), err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NotFound("event_receiver_group", id.String())
	}
	return nil
}

func (s *Store) IsGroupOwner(ctx context.Context, id ulid.EventReceiverGroupID, userID ulid.UserID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM event_receiver_groups WHERE id = $1 AND owner_id = $2)
	`, id.String(), userID.String()).Scan(&exists)
	if err != nil {
		return false, wrapErr("is group owner", "event_receiver_group", id.String(), err)
	}
	return exists, nil
}

func (s *Store) GetGroupResourceVersion(ctx context.Context, id ulid.EventReceiverGroupID) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `
		SELECT resource_version FROM event_receiver_groups WHERE id = $1
	`, id.String()).Scan(&version)
	if err != nil {
		return 0, wrapErr("get group resource version", "event_receiver_group", id.String(), err)
	}
	return version, nil
}

// Membership

func (s *Store) IsMember(ctx context.Context, groupID ulid.EventReceiverGroupID, userID ulid.UserID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM event_receiver_group_members WHERE group_id = $1 AND user_id = $2)
	`, groupID.String(), userID.String()).Scan(&exists)
	if err != nil {
		return false, wrapErr("is member", "event_receiver_group", groupID.String(), err)
	}
	return exists, nil
}

func (s *Store) GetMembers(ctx context.Context, groupID ulid.EventReceiverGroupID) ([]group.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id, user_id, added_by_user_id, added_at
		FROM event_receiver_group_members
		WHERE group_id = $1
		ORDER BY added_at
	`, groupID.String())
	if err != nil {
		return nil, wrapErr("get members", "event_receiver_group", groupID.String(), err)
	}
	defer rows.Close()

	var members []group.Member
	for rows.Next() {
		var (
			m                     group.Member
			gid, uid, addedByUser string
		)
		if err := rows.Scan(&gid, &uid, &addedByUser, &m.AddedAt); err != nil {
			return nil, wrapErr("get members", "event_receiver_group", groupID.String(), err)
		}
		if m.GroupID, err = ulid.ParseEventReceiverGroupID(gid); err != nil {
			return nil, err
		}
		if m.UserID, err = ulid.ParseUserID(uid); err != nil {
			return nil, err
		}
		if m.AddedBy, err = ulid.ParseUserID(addedByUser); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("get members", "event_receiver_group", groupID.String(), err)
	}
	return members, nil
}

// AddMember records the membership (with who added it) and touches the
// group's updated_at in one transaction.
// A duplicate (group, user) pair is a conflict.
func (s *Store) AddMember(ctx context.Context, groupID ulid.EventReceiverGroupID, userID, addedBy ulid.UserID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("add member", "event_receiver_group", groupID.String(), err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO event_receiver_group_members (group_id, user_id, added_by_user_id, added_at)
		VALUES ($1, $2, $3, NOW())
	`, groupID.String(), userID.String(), addedBy.String())
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return errors.Conflict("user is already a member").
				WithDetails("group_id", groupID.String()).
				WithDetails("user_id", userID.String())
		}
		return wrapErr("add member", "event_receiver_group", groupID.String(), err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE event_receiver_groups SET updated_at = NOW() WHERE id = $1
	`, groupID.String())
	if err != nil {
		return wrapErr("add member", "event_receiver_group", groupID.String(), err)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("add member", "event_receiver_group", groupID.String(), err)
	}
	return nil
}

// RemoveMember refuses to remove the group owner.
func (s *Store) RemoveMember(ctx context.Context, groupID ulid.EventReceiverGroupID, userID ulid.UserID) error {
	var ownerID string
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id FROM event_receiver_groups WHERE id = $1
	`, groupID.String()).Scan(&ownerID)
	if err != nil {
		return wrapErr("remove member", "event_receiver_group", groupID.String(), err)
	}
	if ownerID == userID.String() {
		return errors.Conflict("cannot remove the group owner from the group").
			WithDetails("group_id", groupID.String())
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM event_receiver_group_members WHERE group_id = $1 AND user_id = $2
	`, groupID.String(), userID.String())
	if err != nil {
		return wrapErr("remove member", "event_receiver_group", groupID.String(), err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NotFound("group_member", userID.String())
	}
	return nil
}

func (s *Store) ListGroupsForUser(ctx context.Context, userID ulid.UserID) ([]*group.EventReceiverGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.type, g.version, g.description, g.enabled,
		       g.event_receiver_ids, g.owner_id, g.resource_version, g.created_at, g.updated_at
		FROM event_receiver_groups g
		JOIN event_receiver_group_members m ON m.group_id = g.id
		WHERE m.user_id = $1
		ORDER BY g.created_at DESC
	`, userID.String())
	if err != nil {
		return nil, wrapErr("list groups for user", "event_receiver_group", "", err)
	}
	defer rows.Close()

	return collectGroups(rows)
}

func (s *Store) ListGroupsForReceiver(ctx context.Context, receiverID ulid.EventReceiverID) ([]*group.EventReceiverGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+groupColumns+`
		FROM event_receiver_groups
		WHERE $1 = ANY(event_receiver_ids)
		ORDER BY created_at DESC
	`, receiverID.String())
	if err != nil {
		return nil, wrapErr("list groups for receiver", "event_receiver_group", "", err)
	}
	defer rows.Close()

	return collectGroups(rows)
}

func collectGroups(rows interface {
	Next() bool
	Err() error
	Scan(dest ...any) error
}) ([]*group.EventReceiverGroup, error) {
	var result []*group.EventReceiverGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, wrapErr("scan group", "event_receiver_group", "", err)
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("scan group", "event_receiver_group", "", err)
	}
	return result, nil
}

func scanGroup(row rowScanner) (*group.EventReceiverGroup, error) {
	var (
		g           group.EventReceiverGroup
		id, ownerID string
		receiverIDs pq.StringArray
	)
	if err := row.Scan(&id, &g.Name, &g.Type, &g.Version, &g.Description, &g.Enabled,
		&receiverIDs, &ownerID, &g.ResourceVersion, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if g.ID, err = ulid.ParseEventReceiverGroupID(id); err != nil {
		return nil, err
	}
	if g.OwnerID, err = ulid.ParseUserID(ownerID); err != nil {
		return nil, err
	}
	g.ReceiverIDs = make([]ulid.EventReceiverID, 0, len(receiverIDs))
	for _, rid := range receiverIDs {
		parsed, err := ulid.ParseEventReceiverID(rid)
		if err != nil {
			return nil, err
		}
		g.ReceiverIDs = append(g.ReceiverIDs, parsed)
	}
	return &g, nil
}

func receiverIDStrings(ids []ulid.EventReceiverID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
