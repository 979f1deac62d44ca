package ingest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/xbcsmith/xzepr/infrastructure/audit"
	"github.com/xbcsmith/xzepr/infrastructure/authz"
	"github.com/xbcsmith/xzepr/infrastructure/errors"
	"github.com/xbcsmith/xzepr/infrastructure/logging"
	"github.com/xbcsmith/xzepr/infrastructure/metrics"
	"github.com/xbcsmith/xzepr/internal/app/domain/event"
	"github.com/xbcsmith/xzepr/internal/app/domain/user"
	"github.com/xbcsmith/xzepr/internal/app/storage/memory"
	"github.com/xbcsmith/xzepr/pkg/ulid"
)

// fakePublisher captures published records and optionally fails.
type fakePublisher struct {
	mu       sync.Mutex
	records  []publishedRecord
	failWith error
}

type publishedRecord struct {
	Topic string
	Key   string
	Value []byte
}

func (f *fakePublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.records = append(f.records, publishedRecord{Topic: topic, Key: key, Value: value})
	return nil
}

func (f *fakePublisher) DefaultTopic() string { return "xzepr.events" }

func (f *fakePublisher) published() []publishedRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedRecord(nil), f.records...)
}

// allowAllEvaluator approves everything.
type allowAllEvaluator struct{}

func (allowAllEvaluator) Evaluate(context.Context, authz.Identity, authz.Action, authz.ResourceContext) (bool, error) {
	return true, nil
}

// recordingEvaluator captures the decision inputs before answering.
type recordingEvaluator struct {
	decide func(authz.Identity, authz.Action, authz.ResourceContext) bool
	inputs []evalInput
}

type evalInput struct {
	Identity authz.Identity
	Action   authz.Action
	Resource authz.ResourceContext
}

func (r *recordingEvaluator) Evaluate(_ context.Context, id authz.Identity, action authz.Action, resource authz.ResourceContext) (bool, error) {
	r.inputs = append(r.inputs, evalInput{Identity: id, Action: action, Resource: resource})
	return r.decide(id, action, resource), nil
}

type fixture struct {
	service   *Service
	store     *memory.Store
	publisher *fakePublisher
	metrics   *metrics.Metrics
	auth      *authz.Authorizer
}

func newFixture(t *testing.T, evaluator authz.Evaluator) *fixture {
	t.Helper()
	m := metrics.NewWithRegistry("test", prometheus.NewRegistry())
	log := logging.New("test", "error", "json")
	a := authz.New(authz.Config{
		EvaluatorURL: "http://localhost:0/unused",
		CacheTTL:     time.Minute,
	}, m, audit.Nop{}, log)
	a.WithEvaluator(evaluator)

	store := memory.New()
	publisher := &fakePublisher{}
	svc := NewService(store, a, publisher, m, audit.Nop{}, log)
	return &fixture{service: svc, store: store, publisher: publisher, metrics: m, auth: a}
}

func (f *fixture) addUser(t *testing.T, name string, roles ...user.Role) Principal {
	t.Helper()
	u, err := user.New(name, name+"@example.com", user.ProviderLocal)
	require.NoError(t, err)
	require.NoError(t, f.store.SaveUser(context.Background(), u))
	for _, role := range roles {
		require.NoError(t, f.store.AssignRole(context.Background(), u.ID, role))
	}
	return Principal{UserID: u.ID, Roles: roles}
}

var receiverSchema = json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)

func (f *fixture) createReceiver(t *testing.T, p Principal) ulid.EventReceiverID {
	t.Helper()
	id, err := f.service.CreateReceiver(context.Background(), p, CreateReceiverInput{
		Name:        "foobar",
		Type:        "foo.bar",
		Version:     "1.1.3",
		Description: "test receiver",
		Schema:      receiverSchema,
	})
	require.NoError(t, err)
	return id
}

func TestCreateReceiverAndPostEvent(t *testing.T) {
	f := newFixture(t, allowAllEvaluator{})
	owner := f.addUser(t, "alice", user.RoleEventManager)

	receiverID := f.createReceiver(t, owner)

	eventID, err := f.service.CreateEvent(context.Background(), owner, CreateEventInput{
		ReceiverID:  receiverID,
		Name:        "magnificent",
		Version:     "7.0.1",
		Release:     "2023.11",
		PlatformID:  "x86-64-gnu-linux-9",
		Package:     "docker",
		Description: "a magnificent event",
		Payload:     json.RawMessage(`{"name":"joe"}`),
		Success:     true,
	})
	require.NoError(t, err)
	assert.False(t, eventID.IsZero())

	// Persisted and queryable.
	ev, err := f.store.GetEvent(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, "magnificent", ev.Name)
	assert.Equal(t, owner.UserID, ev.OwnerID)
	assert.Equal(t, 1, ev.ResourceVersion)

	// Published: system event for the receiver plus the client event.
	records := f.publisher.published()
	require.Len(t, records, 2)

	record := records[1]
	assert.Equal(t, "xzepr.events", record.Topic)
	assert.Equal(t, eventID.String(), record.Key)

	value := string(record.Value)
	assert.Equal(t, "magnificent", gjson.Get(value, "type").String())
	assert.Equal(t, "1.0.1", gjson.Get(value, "specversion").String())
	assert.Equal(t, "joe", gjson.Get(value, "data.payload.name").String())
	assert.Equal(t, "xzepr.event.receiver."+receiverID.String(), gjson.Get(value, "source").String())
	assert.Equal(t, eventID.String(), gjson.Get(value, "id").String())
	assert.True(t, gjson.Get(value, "success").Bool())
}

func TestSchemaViolationRejectsWithoutPersistOrPublish(t *testing.T) {
	f := newFixture(t, allowAllEvaluator{})
	owner := f.addUser(t, "alice", user.RoleEventManager)
	receiverID := f.createReceiver(t, owner)

	before := len(f.publisher.published())

	_, err := f.service.CreateEvent(context.Background(), owner, CreateEventInput{
		ReceiverID: receiverID,
		Name:       "bad",
		Version:    "1.0.0",
		Payload:    json.RawMessage(`{"name":42}`),
		Success:    true,
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindBadRequest))

	events, err := f.store.FindEvents(context.Background(), event.Criteria{})
	require.NoError(t, err)
	assert.Empty(t, events)

	assert.Len(t, f.publisher.published(), before)
}

func TestUnknownReceiverRejected(t *testing.T) {
	f := newFixture(t, allowAllEvaluator{})
	owner := f.addUser(t, "alice", user.RoleEventManager)

	_, err := f.service.CreateEvent(context.Background(), owner, CreateEventInput{
		ReceiverID: ulid.NewEventReceiverID(),
		Name:       "orphan",
		Version:    "1.0.0",
		Payload:    json.RawMessage(`{"name":"joe"}`),
		Success:    true,
	})
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t, allowAllEvaluator{})
	owner := f.addUser(t, "alice", user.RoleEventManager)
	receiverID := f.createReceiver(t, owner)

	f.publisher.failWith = stderrors.New("broker unreachable")

	eventID, err := f.service.CreateEvent(context.Background(), owner, CreateEventInput{
		ReceiverID: receiverID,
		Name:       "resilient",
		Version:    "1.0.0",
		Payload:    json.RawMessage(`{"name":"joe"}`),
		Success:    true,
	})
	require.NoError(t, err)

	// Event remains queryable immediately.
	_, err = f.store.GetEvent(context.Background(), eventID)
	require.NoError(t, err)

	errCount := testutil.ToFloat64(f.metrics.PublicationAttemptsTotal.WithLabelValues("error", "xzepr.events"))
	assert.Equal(t, 1.0, errCount)
}

func TestOwnershipEnforcedThroughPolicy(t *testing.T) {
	eval := &recordingEvaluator{
		decide: func(id authz.Identity, _ authz.Action, resource authz.ResourceContext) bool {
			return resource.OwnerID == "" || resource.OwnerID == id.UserID
		},
	}
	f := newFixture(t, eval)
	alice := f.addUser(t, "alice", user.RoleEventManager)
	bob := f.addUser(t, "bob", user.RoleEventManager)

	receiverID := f.createReceiver(t, alice)

	_, err := f.service.UpdateReceiver(context.Background(), bob, receiverID, "hijacked")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindForbidden))

	// The policy saw the real owner and the caller.
	last := eval.inputs[len(eval.inputs)-1]
	assert.Equal(t, authz.ActionReceiverUpdate, last.Action)
	assert.Equal(t, alice.UserID.String(), last.Resource.OwnerID)
	assert.Equal(t, bob.UserID.String(), last.Identity.UserID)
}

func TestGroupMembershipEnablesEventPosting(t *testing.T) {
	eval := &recordingEvaluator{
		decide: func(id authz.Identity, action authz.Action, resource authz.ResourceContext) bool {
			if action != authz.ActionEventCreate {
				return true
			}
			if resource.OwnerID == id.UserID {
				return true
			}
			for _, member := range resource.Members {
				if member == id.UserID {
					return true
				}
			}
			return false
		},
	}
	f := newFixture(t, eval)
	alice := f.addUser(t, "alice", user.RoleEventManager)
	carol := f.addUser(t, "carol", user.RoleUser)
	dave := f.addUser(t, "dave", user.RoleUser)

	receiverID := f.createReceiver(t, alice)
	groupID, err := f.service.CreateGroup(context.Background(), alice, CreateGroupInput{
		Name:        "posters",
		Type:        "ci",
		Version:     "1.0.0",
		ReceiverIDs: []ulid.EventReceiverID{receiverID},
	})
	require.NoError(t, err)
	require.NoError(t, f.service.AddMember(context.Background(), alice, groupID, carol.UserID))

	input := CreateEventInput{
		ReceiverID: receiverID,
		Name:       "member-post",
		Version:    "1.0.0",
		Payload:    json.RawMessage(`{"name":"joe"}`),
		Success:    true,
	}

	_, err = f.service.CreateEvent(context.Background(), carol, input)
	assert.NoError(t, err)

	_, err = f.service.CreateEvent(context.Background(), dave, input)
	assert.True(t, errors.IsKind(err, errors.KindForbidden))
}

func TestUpdateGroupOptimisticConflict(t *testing.T) {
	f := newFixture(t, allowAllEvaluator{})
	alice := f.addUser(t, "alice", user.RoleEventManager)

	groupID, err := f.service.CreateGroup(context.Background(), alice, CreateGroupInput{
		Name:    "racy",
		Type:    "ci",
		Version: "1.0.0",
	})
	require.NoError(t, err)

	// Two writers read version 1; the second loses.
	g1, err := f.store.GetGroup(context.Background(), groupID)
	require.NoError(t, err)
	g2, err := f.store.GetGroup(context.Background(), groupID)
	require.NoError(t, err)

	require.NoError(t, g1.Update("first", true, nil))
	require.NoError(t, f.store.UpdateGroup(context.Background(), g1, 1))

	require.NoError(t, g2.Update("second", true, nil))
	err = f.store.UpdateGroup(context.Background(), g2, 1)
	assert.True(t, errors.IsKind(err, errors.KindConflict))

	current, err := f.store.GetGroup(context.Background(), groupID)
	require.NoError(t, err)
	assert.Equal(t, 2, current.ResourceVersion)
	assert.Equal(t, "first", current.Description)
}

func TestUpdateReceiverBumpsVersion(t *testing.T) {
	f := newFixture(t, allowAllEvaluator{})
	alice := f.addUser(t, "alice", user.RoleEventManager)
	receiverID := f.createReceiver(t, alice)

	rcv, err := f.service.UpdateReceiver(context.Background(), alice, receiverID, "v2")
	require.NoError(t, err)
	assert.Equal(t, 2, rcv.ResourceVersion)

	rcv, err = f.service.UpdateReceiver(context.Background(), alice, receiverID, "v3")
	require.NoError(t, err)
	assert.Equal(t, 3, rcv.ResourceVersion)
}

func TestDeleteReceiverWithEventsConflicts(t *testing.T) {
	f := newFixture(t, allowAllEvaluator{})
	alice := f.addUser(t, "alice", user.RoleEventManager)
	receiverID := f.createReceiver(t, alice)

	_, err := f.service.CreateEvent(context.Background(), alice, CreateEventInput{
		ReceiverID: receiverID,
		Name:       "pin",
		Version:    "1.0.0",
		Payload:    json.RawMessage(`{"name":"joe"}`),
		Success:    true,
	})
	require.NoError(t, err)

	err = f.service.DeleteReceiver(context.Background(), alice, receiverID)
	assert.True(t, errors.IsKind(err, errors.KindConflict))
}

func TestRemoveOwnerFromGroupConflicts(t *testing.T) {
	f := newFixture(t, allowAllEvaluator{})
	alice := f.addUser(t, "alice", user.RoleEventManager)

	groupID, err := f.service.CreateGroup(context.Background(), alice, CreateGroupInput{
		Name:    "mine",
		Type:    "ci",
		Version: "1.0.0",
	})
	require.NoError(t, err)

	err = f.service.RemoveMember(context.Background(), alice, groupID, alice.UserID)
	assert.True(t, errors.IsKind(err, errors.KindConflict))
}

func TestAddMemberTwiceConflicts(t *testing.T) {
	f := newFixture(t, allowAllEvaluator{})
	alice := f.addUser(t, "alice", user.RoleEventManager)
	carol := f.addUser(t, "carol", user.RoleUser)

	groupID, err := f.service.CreateGroup(context.Background(), alice, CreateGroupInput{
		Name:    "once",
		Type:    "ci",
		Version: "1.0.0",
	})
	require.NoError(t, err)

	require.NoError(t, f.service.AddMember(context.Background(), alice, groupID, carol.UserID))
	err = f.service.AddMember(context.Background(), alice, groupID, carol.UserID)
	assert.True(t, errors.IsKind(err, errors.KindConflict))
}

func TestSystemEventEmittedOnReceiverCreate(t *testing.T) {
	f := newFixture(t, allowAllEvaluator{})
	alice := f.addUser(t, "alice", user.RoleEventManager)

	receiverID := f.createReceiver(t, alice)

	records := f.publisher.published()
	require.Len(t, records, 1)
	value := string(records[0].Value)
	assert.Equal(t, SystemReceiverCreated, gjson.Get(value, "type").String())
	assert.Equal(t, "xzepr.event.receiver."+receiverID.String(), gjson.Get(value, "source").String())
	assert.Equal(t, "1.0.1", gjson.Get(value, "specversion").String())
}
