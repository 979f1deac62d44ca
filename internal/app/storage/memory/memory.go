// Package memory provides an in-memory implementation of the storage
// contracts for tests and single-process development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
	"github.com/xbcsmith/xzepr/internal/app/domain/event"
	"github.com/xbcsmith/xzepr/internal/app/domain/group"
	"github.com/xbcsmith/xzepr/internal/app/domain/receiver"
	"github.com/xbcsmith/xzepr/internal/app/domain/user"
	"github.com/xbcsmith/xzepr/internal/app/storage"
	"github.com/xbcsmith/xzepr/pkg/ulid"
)

// Store keeps everything in maps guarded by one RW mutex.
type Store struct {
	mu        sync.RWMutex
	events    map[string]*event.Event
	receivers map[string]*receiver.EventReceiver
	groups    map[string]*group.EventReceiverGroup
	members   map[string][]group.Member // keyed by group id
	users     map[string]*user.User
	roles     map[string][]user.Role
	apiKeys   map[string]*user.APIKey // keyed by secret hash
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		events:    make(map[string]*event.Event),
		receivers: make(map[string]*receiver.EventReceiver),
		groups:    make(map[string]*group.EventReceiverGroup),
		members:   make(map[string][]group.Member),
		users:     make(map[string]*user.User),
		roles:     make(map[string][]user.Role),
		apiKeys:   make(map[string]*user.APIKey),
	}
}

// Events

func (s *Store) SaveEvent(_ context.Context, ev *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *ev
	s.events[ev.ID.String()] = &copied
	return nil
}

func (s *Store) GetEvent(_ context.Context, id ulid.EventID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id.String()]
	if !ok {
		return nil, errors.NotFound("event", id.String())
	}
	copied := *ev
	return &copied, nil
}

func (s *Store) FindEvents(_ context.Context, criteria event.Criteria) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*event.Event
	for _, ev := range s.events {
		if criteria.Name != nil && ev.Name != *criteria.Name {
			continue
		}
		if criteria.Version != nil && ev.Version != *criteria.Version {
			continue
		}
		if criteria.Release != nil && ev.Release != *criteria.Release {
			continue
		}
		if criteria.PlatformID != nil && ev.PlatformID != *criteria.PlatformID {
			continue
		}
		if criteria.Package != nil && ev.Package != *criteria.Package {
			continue
		}
		if criteria.Success != nil && ev.Success != *criteria.Success {
			continue
		}
		if criteria.ReceiverID != nil && ev.ReceiverID != *criteria.ReceiverID {
			continue
		}
		if criteria.OwnerID != nil && ev.OwnerID != *criteria.OwnerID {
			continue
		}
		copied := *ev
		result = append(result, &copied)
	}
	sortEventsByCreated(result)
	return result, nil
}

func (s *Store) ListEventsByOwner(_ context.Context, owner ulid.UserID, limit, offset int) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*event.Event
	for _, ev := range s.events {
		if ev.OwnerID == owner {
			copied := *ev
			result = append(result, &copied)
		}
	}
	sortEventsByCreated(result)
	return paginate(result, limit, offset), nil
}

func (s *Store) IsEventOwner(_ context.Context, id ulid.EventID, userID ulid.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id.String()]
	return ok && ev.OwnerID == userID, nil
}

// Receivers

func (s *Store) SaveReceiver(_ context.Context, r *receiver.EventReceiver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.receivers {
		if existing.Fingerprint == r.Fingerprint && existing.ID != r.ID {
			return errors.DuplicateFingerprint(r.Fingerprint)
		}
	}
	copied := *r
	s.receivers[r.ID.String()] = &copied
	return nil
}

func (s *Store) GetReceiver(_ context.Context, id ulid.EventReceiverID) (*receiver.EventReceiver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receivers[id.String()]
	if !ok {
		return nil, errors.NotFound("event_receiver", id.String())
	}
	copied := *r
	return &copied, nil
}

func (s *Store) FindReceivers(_ context.Context, name, typ, version string) ([]*receiver.EventReceiver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*receiver.EventReceiver
	for _, r := range s.receivers {
		if name != "" && r.Name != name {
			continue
		}
		if typ != "" && r.Type != typ {
			continue
		}
		if version != "" && r.Version != version {
			continue
		}
		copied := *r
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListReceiversByOwner(_ context.Context, owner ulid.UserID, limit, offset int) ([]*receiver.EventReceiver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*receiver.EventReceiver
	for _, r := range s.receivers {
		if r.OwnerID == owner {
			copied := *r
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return paginate(result, limit, offset), nil
}

func (s *Store) UpdateReceiver(_ context.Context, r *receiver.EventReceiver, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.receivers[r.ID.String()]
	if !ok {
		return errors.NotFound("event_receiver", r.ID.String())
	}
	if existing.ResourceVersion != expectedVersion {
		return errors.VersionConflict("event_receiver", r.ID.String(), expectedVersion)
	}
	copied := *r
	s.receivers[r.ID.String()] = &copied
	return nil
}

func (s *Store) DeleteReceiver(_ context.Context, id ulid.EventReceiverID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receivers[id.String()]; !ok {
		return errors.NotFound("event_receiver", id.String())
	}
	for _, ev := range s.events {
		if ev.ReceiverID == id {
			return errors.Conflict("receiver still has events").WithDetails("id", id.String())
		}
	}
	delete(s.receivers, id.String())
	return nil
}

func (s *Store) IsReceiverOwner(_ context.Context, id ulid.EventReceiverID, userID ulid.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receivers[id.String()]
	return ok && r.OwnerID == userID, nil
}

func (s *Store) GetReceiverResourceVersion(_ context.Context, id ulid.EventReceiverID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receivers[id.String()]
	if !ok {
		return 0, errors.NotFound("event_receiver", id.String())
	}
	return r.ResourceVersion, nil
}

// Groups

func (s *Store) SaveGroup(_ context.Context, g *group.EventReceiverGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *g
	copied.ReceiverIDs = append([]ulid.EventReceiverID(nil), g.ReceiverIDs...)
	s.groups[g.ID.String()] = &copied
	return nil
}

func (s *Store) GetGroup(_ context.Context, id ulid.EventReceiverGroupID) (*group.EventReceiverGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id.String()]
	if !ok {
		return nil, errors.NotFound("event_receiver_group", id.String())
	}
	copied := *g
	copied.ReceiverIDs = append([]ulid.EventReceiverID(nil), g.ReceiverIDs...)
	return &copied, nil
}

func (s *Store) FindGroups(_ context.Context, name, typ, version string) ([]*group.EventReceiverGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*group.EventReceiverGroup
	for _, g := range s.groups {
		if name != "" && g.Name != name {
			continue
		}
		if typ != "" && g.Type != typ {
			continue
		}
		if version != "" && g.Version != version {
			continue
		}
		copied := *g
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListGroupsByOwner(_ context.Context, owner ulid.UserID, limit, offset int) ([]*group.EventReceiverGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*group.EventReceiverGroup
	for _, g := range s.groups {
		if g.OwnerID == owner {
			copied := *g
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return paginate(result, limit, offset), nil
}

func (s *Store) UpdateGroup(_ context.Context, g *group.EventReceiverGroup, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.groups[g.ID.String()]
	if !ok {
		return errors.NotFound("event_receiver_group", g.ID.String())
	}
	if existing.ResourceVersion != expectedVersion {
		return errors.VersionConflict("event_receiver_group", g.ID.String(), expectedVersion)
	}
	copied := *g
	copied.ReceiverIDs = append([]ulid.EventReceiverID(nil), g.ReceiverIDs...)
	s.groups[g.ID.String()] = &copied
	return nil
}

func (s *Store) DeleteGroup(_ context.Context, id ulid.EventReceiverGroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id.String()]; !ok {
		return errors.NotFound("event_receiver_group", id.String())
	}
	delete(s.groups, id.String())
	delete(s.members, id.String())
	return nil
}

func (s *Store) IsGroupOwner(_ context.Context, id ulid.EventReceiverGroupID, userID ulid.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id.String()]
	return ok && g.OwnerID == userID, nil
}

func (s *Store) GetGroupResourceVersion(_ context.Context, id ulid.EventReceiverGroupID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id.String()]
	if !ok {
		return 0, errors.NotFound("event_receiver_group", id.String())
	}
	return g.ResourceVersion, nil
}

// Membership

func (s *Store) IsMember(_ context.Context, groupID ulid.EventReceiverGroupID, userID ulid.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members[groupID.String()] {
		if m.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetMembers(_ context.Context, groupID ulid.EventReceiverGroupID) ([]group.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]group.Member(nil), s.members[groupID.String()]...), nil
}

func (s *Store) AddMember(_ context.Context, groupID ulid.EventReceiverGroupID, userID, addedBy ulid.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID.String()]; !ok {
		return errors.NotFound("event_receiver_group", groupID.String())
	}
	for _, m := range s.members[groupID.String()] {
		if m.UserID == userID {
			return errors.Conflict("user is already a member").
				WithDetails("group_id", groupID.String()).
				WithDetails("user_id", userID.String())
		}
	}
	s.members[groupID.String()] = append(s.members[groupID.String()], group.Member{
		GroupID: groupID,
		UserID:  userID,
		AddedBy: addedBy,
		AddedAt: time.Now().UTC(),
	})
	return nil
}

func (s *Store) RemoveMember(_ context.Context, groupID ulid.EventReceiverGroupID, userID ulid.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID.String()]
	if !ok {
		return errors.NotFound("event_receiver_group", groupID.String())
	}
	if g.OwnerID == userID {
		return errors.Conflict("cannot remove the group owner from the group").
			WithDetails("group_id", groupID.String())
	}
	members := s.members[groupID.String()]
	for i, m := range members {
		if m.UserID == userID {
			s.members[groupID.String()] = append(members[:i], members[i+1:]...)
			return nil
		}
	}
	return errors.NotFound("group_member", userID.String())
}

func (s *Store) ListGroupsForUser(_ context.Context, userID ulid.UserID) ([]*group.EventReceiverGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*group.EventReceiverGroup
	for gid, members := range s.members {
		for _, m := range members {
			if m.UserID == userID {
				if g, ok := s.groups[gid]; ok {
					copied := *g
					result = append(result, &copied)
				}
				break
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListGroupsForReceiver(_ context.Context, receiverID ulid.EventReceiverID) ([]*group.EventReceiverGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*group.EventReceiverGroup
	for _, g := range s.groups {
		if g.ContainsReceiver(receiverID) {
			copied := *g
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// Users

func (s *Store) SaveUser(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.ID != u.ID && (strings.EqualFold(existing.Name, u.Name) || strings.EqualFold(existing.Email, u.Email)) {
			return errors.Conflict("user name or email already taken").WithDetails("name", u.Name)
		}
	}
	copied := *u
	s.users[u.ID.String()] = &copied
	return nil
}

func (s *Store) GetUser(_ context.Context, id ulid.UserID) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id.String()]
	if !ok {
		return nil, errors.NotFound("user", id.String())
	}
	copied := *u
	return &copied, nil
}

func (s *Store) GetUserByName(_ context.Context, name string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Name == name {
			copied := *u
			return &copied, nil
		}
	}
	return nil, errors.NotFound("user", name)
}

func (s *Store) GetRoles(_ context.Context, id ulid.UserID) ([]user.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]user.Role(nil), s.roles[id.String()]...), nil
}

func (s *Store) AssignRole(_ context.Context, id ulid.UserID, role user.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles[id.String()] {
		if r == role {
			return nil
		}
	}
	s.roles[id.String()] = append(s.roles[id.String()], role)
	return nil
}

func (s *Store) RemoveRole(_ context.Context, id ulid.UserID, role user.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	roles := s.roles[id.String()]
	for i, r := range roles {
		if r == role {
			s.roles[id.String()] = append(roles[:i], roles[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *Store) SaveAPIKey(_ context.Context, key *user.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *key
	s.apiKeys[key.SecretHash] = &copied
	return nil
}

func (s *Store) GetAPIKeyByHash(_ context.Context, secretHash string) (*user.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.apiKeys[secretHash]
	if !ok {
		return nil, errors.NotFound("api_key", "")
	}
	copied := *key
	return &copied, nil
}

func (s *Store) TouchAPIKey(_ context.Context, id ulid.APIKeyID, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.apiKeys {
		if key.ID == id {
			t := usedAt
			key.LastUsedAt = &t
			return nil
		}
	}
	return errors.NotFound("api_key", id.String())
}

// helpers

func sortEventsByCreated(events []*event.Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })
}

func paginate[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
