package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
	"github.com/xbcsmith/xzepr/internal/app/domain/event"
	"github.com/xbcsmith/xzepr/internal/app/domain/receiver"
	"github.com/xbcsmith/xzepr/pkg/ulid"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func testReceiver(t *testing.T) *receiver.EventReceiver {
	t.Helper()
	r, err := receiver.New("foobar", "foo.bar", "1.1.3", "d", json.RawMessage(`{"type":"object"}`), ulid.NewUserID())
	require.NoError(t, err)
	return r
}

func testEvent(t *testing.T, receiverID ulid.EventReceiverID) *event.Event {
	t.Helper()
	ev, err := event.New(receiverID, "magnificent", "7.0.1", "r", "p", "pkg", "d", json.RawMessage(`{"name":"joe"}`), true, ulid.NewUserID())
	require.NoError(t, err)
	return ev
}

func TestSaveEvent(t *testing.T) {
	store, mock := newMockStore(t)
	ev := testEvent(t, ulid.NewEventReceiverID())

	mock.ExpectExec(`INSERT INTO events`).
		WithArgs(ev.ID.String(), ev.ReceiverID.String(), ev.Name, ev.Version, ev.Release,
			ev.PlatformID, ev.Package, ev.Description, []byte(ev.Payload), ev.Success,
			ev.OwnerID.String(), ev.ResourceVersion, ev.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SaveEvent(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEventNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := ulid.NewEventID()

	mock.ExpectQuery(`FROM events`).
		WithArgs(id.String()).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetEvent(context.Background(), id)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestGetEventScans(t *testing.T) {
	store, mock := newMockStore(t)
	ev := testEvent(t, ulid.NewEventReceiverID())

	rows := sqlmock.NewRows([]string{
		"id", "event_receiver_id", "name", "version", "release", "platform_id",
		"package", "description", "payload", "success", "owner_id", "resource_version", "created_at",
	}).AddRow(ev.ID.String(), ev.ReceiverID.String(), ev.Name, ev.Version, ev.Release,
		ev.PlatformID, ev.Package, ev.Description, []byte(ev.Payload), ev.Success,
		ev.OwnerID.String(), ev.ResourceVersion, ev.CreatedAt)

	mock.ExpectQuery(`FROM events`).
		WithArgs(ev.ID.String()).
		WillReturnRows(rows)

	got, err := store.GetEvent(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, ev.Name, got.Name)
	assert.JSONEq(t, string(ev.Payload), string(got.Payload))
}

func TestSaveReceiverDuplicateFingerprint(t *testing.T) {
	store, mock := newMockStore(t)
	r := testReceiver(t)

	mock.ExpectExec(`INSERT INTO event_receivers`).
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.SaveReceiver(context.Background(), r)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConflict))

	serviceErr := errors.GetServiceError(err)
	assert.Equal(t, r.Fingerprint, serviceErr.Details["fingerprint"])
}

func TestUpdateReceiverVersionConflict(t *testing.T) {
	store, mock := newMockStore(t)
	r := testReceiver(t)
	r.UpdateDescription("v2")

	mock.ExpectExec(`UPDATE event_receivers`).
		WithArgs(r.ID.String(), r.Description, r.ResourceVersion, 1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT resource_version FROM event_receivers`).
		WithArgs(r.ID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"resource_version"}).AddRow(2))

	err := store.UpdateReceiver(context.Background(), r, 1)
	assert.True(t, errors.IsKind(err, errors.KindConflict))
}

func TestUpdateReceiverMissingRowIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	r := testReceiver(t)
	r.UpdateDescription("v2")

	mock.ExpectExec(`UPDATE event_receivers`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT resource_version FROM event_receivers`).
		WillReturnError(sql.ErrNoRows)

	err := store.UpdateReceiver(context.Background(), r, 1)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestDeleteReceiverWithEventsConflicts(t *testing.T) {
	store, mock := newMockStore(t)
	id := ulid.NewEventReceiverID()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := store.DeleteReceiver(context.Background(), id)
	assert.True(t, errors.IsKind(err, errors.KindConflict))
}

func TestDeleteReceiverClean(t *testing.T) {
	store, mock := newMockStore(t)
	id := ulid.NewEventReceiverID()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`DELETE FROM event_receivers`).
		WithArgs(id.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.DeleteReceiver(context.Background(), id))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddMemberDuplicateConflicts(t *testing.T) {
	store, mock := newMockStore(t)
	groupID := ulid.NewEventReceiverGroupID()
	userID := ulid.NewUserID()
	addedBy := ulid.NewUserID()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO event_receiver_group_members`).
		WithArgs(groupID.String(), userID.String(), addedBy.String()).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := store.AddMember(context.Background(), groupID, userID, addedBy)
	assert.True(t, errors.IsKind(err, errors.KindConflict))
}

func TestAddMemberCommitsTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	groupID := ulid.NewEventReceiverGroupID()
	userID := ulid.NewUserID()
	addedBy := ulid.NewUserID()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO event_receiver_group_members`).
		WithArgs(groupID.String(), userID.String(), addedBy.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE event_receiver_groups`).
		WithArgs(groupID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.AddMember(context.Background(), groupID, userID, addedBy))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveMemberOwnerConflicts(t *testing.T) {
	store, mock := newMockStore(t)
	groupID := ulid.NewEventReceiverGroupID()
	owner := ulid.NewUserID()

	mock.ExpectQuery(`SELECT owner_id FROM event_receiver_groups`).
		WithArgs(groupID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(owner.String()))

	err := store.RemoveMember(context.Background(), groupID, owner)
	assert.True(t, errors.IsKind(err, errors.KindConflict))
}

func TestIsOwnerQueries(t *testing.T) {
	store, mock := newMockStore(t)
	id := ulid.NewEventReceiverID()
	userID := ulid.NewUserID()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(id.String(), userID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	isOwner, err := store.IsReceiverOwner(context.Background(), id, userID)
	require.NoError(t, err)
	assert.True(t, isOwner)
}

func TestGetGroupResourceVersion(t *testing.T) {
	store, mock := newMockStore(t)
	id := ulid.NewEventReceiverGroupID()

	mock.ExpectQuery(`SELECT resource_version FROM event_receiver_groups`).
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{"resource_version"}).AddRow(7))

	version, err := store.GetGroupResourceVersion(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 7, version)
}

func TestFindEventsByOwnerPaginated(t *testing.T) {
	store, mock := newMockStore(t)
	owner := ulid.NewUserID()
	ev := testEvent(t, ulid.NewEventReceiverID())

	rows := sqlmock.NewRows([]string{
		"id", "event_receiver_id", "name", "version", "release", "platform_id",
		"package", "description", "payload", "success", "owner_id", "resource_version", "created_at",
	}).AddRow(ev.ID.String(), ev.ReceiverID.String(), ev.Name, ev.Version, ev.Release,
		ev.PlatformID, ev.Package, ev.Description, []byte(ev.Payload), ev.Success,
		owner.String(), 1, time.Now().UTC())

	mock.ExpectQuery(`FROM events`).
		WithArgs(owner.String(), 10, 0).
		WillReturnRows(rows)

	events, err := store.ListEventsByOwner(context.Background(), owner, 10, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
