// Package storage declares the persistence contracts for the ingestion core.
// Implementations live in the postgres and memory subpackages; the narrow
// interfaces exist so services can be tested against in-memory fakes.
package storage

import (
	"context"
	"time"

	"github.com/xbcsmith/xzepr/internal/app/domain/event"
	"github.com/xbcsmith/xzepr/internal/app/domain/group"
	"github.com/xbcsmith/xzepr/internal/app/domain/receiver"
	"github.com/xbcsmith/xzepr/internal/app/domain/user"
	"github.com/xbcsmith/xzepr/pkg/ulid"
)

// EventStore persists immutable events. Events are append-only: there are no
// update or delete operations.
type EventStore interface {
	SaveEvent(ctx context.Context, ev *event.Event) error
	GetEvent(ctx context.Context, id ulid.EventID) (*event.Event, error)
	FindEvents(ctx context.Context, criteria event.Criteria) ([]*event.Event, error)
	ListEventsByOwner(ctx context.Context, owner ulid.UserID, limit, offset int) ([]*event.Event, error)
	IsEventOwner(ctx context.Context, id ulid.EventID, userID ulid.UserID) (bool, error)
}

// EventReceiverStore persists receivers.
type EventReceiverStore interface {
	SaveReceiver(ctx context.Context, r *receiver.EventReceiver) error
	GetReceiver(ctx context.Context, id ulid.EventReceiverID) (*receiver.EventReceiver, error)
	FindReceivers(ctx context.Context, name, typ, version string) ([]*receiver.EventReceiver, error)
	ListReceiversByOwner(ctx context.Context, owner ulid.UserID, limit, offset int) ([]*receiver.EventReceiver, error)
	UpdateReceiver(ctx context.Context, r *receiver.EventReceiver, expectedVersion int) error
	DeleteReceiver(ctx context.Context, id ulid.EventReceiverID) error
	IsReceiverOwner(ctx context.Context, id ulid.EventReceiverID, userID ulid.UserID) (bool, error)
	GetReceiverResourceVersion(ctx context.Context, id ulid.EventReceiverID) (int, error)
}

// EventReceiverGroupStore persists groups and their membership association.
type EventReceiverGroupStore interface {
	SaveGroup(ctx context.Context, g *group.EventReceiverGroup) error
	GetGroup(ctx context.Context, id ulid.EventReceiverGroupID) (*group.EventReceiverGroup, error)
	FindGroups(ctx context.Context, name, typ, version string) ([]*group.EventReceiverGroup, error)
	ListGroupsByOwner(ctx context.Context, owner ulid.UserID, limit, offset int) ([]*group.EventReceiverGroup, error)
	UpdateGroup(ctx context.Context, g *group.EventReceiverGroup, expectedVersion int) error
	DeleteGroup(ctx context.Context, id ulid.EventReceiverGroupID) error
	IsGroupOwner(ctx context.Context, id ulid.EventReceiverGroupID, userID ulid.UserID) (bool, error)
	GetGroupResourceVersion(ctx context.Context, id ulid.EventReceiverGroupID) (int, error)

	IsMember(ctx context.Context, groupID ulid.EventReceiverGroupID, userID ulid.UserID) (bool, error)
	GetMembers(ctx context.Context, groupID ulid.EventReceiverGroupID) ([]group.Member, error)
	AddMember(ctx context.Context, groupID ulid.EventReceiverGroupID, userID, addedBy ulid.UserID) error
	RemoveMember(ctx context.Context, groupID ulid.EventReceiverGroupID, userID ulid.UserID) error
	ListGroupsForUser(ctx context.Context, userID ulid.UserID) ([]*group.EventReceiverGroup, error)
	ListGroupsForReceiver(ctx context.Context, receiverID ulid.EventReceiverID) ([]*group.EventReceiverGroup, error)
}

// UserStore persists users, role assignments, and API keys. Users are
// administered out-of-band; the core reads them for authentication and
// authorization.
type UserStore interface {
	SaveUser(ctx context.Context, u *user.User) error
	GetUser(ctx context.Context, id ulid.UserID) (*user.User, error)
	GetUserByName(ctx context.Context, name string) (*user.User, error)
	GetRoles(ctx context.Context, id ulid.UserID) ([]user.Role, error)
	AssignRole(ctx context.Context, id ulid.UserID, role user.Role) error
	RemoveRole(ctx context.Context, id ulid.UserID, role user.Role) error

	SaveAPIKey(ctx context.Context, key *user.APIKey) error
	GetAPIKeyByHash(ctx context.Context, secretHash string) (*user.APIKey, error)
	TouchAPIKey(ctx context.Context, id ulid.APIKeyID, usedAt time.Time) error
}

// Store aggregates every contract; the Postgres and memory implementations
// satisfy all of them on one value.
type Store interface {
	EventStore
	EventReceiverStore
	EventReceiverGroupStore
	UserStore
}
