// Package group holds the event receiver group model.
package group

import (
	"strings"
	"time"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
	"github.com/xbcsmith/xzepr/pkg/ulid"
)

// EventReceiverGroup is a named collection of receivers whose membership list
// scopes which users may post events through them.
type EventReceiverGroup struct {
	ID              ulid.EventReceiverGroupID
	Name            string
	Type            string
	Version         string
	Description     string
	Enabled         bool
	ReceiverIDs     []ulid.EventReceiverID
	OwnerID         ulid.UserID
	ResourceVersion int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Member records a user admitted to a group.
type Member struct {
	GroupID ulid.EventReceiverGroupID
	UserID  ulid.UserID
	AddedBy ulid.UserID
	AddedAt time.Time
}

// New constructs a group, enforcing invariants.
func New(name, typ, version, description string, receivers []ulid.EventReceiverID, owner ulid.UserID) (*EventReceiverGroup, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.InvalidInput("name", "must not be empty")
	}
	if strings.TrimSpace(typ) == "" {
		return nil, errors.InvalidInput("type", "must not be empty")
	}
	if strings.TrimSpace(version) == "" {
		return nil, errors.InvalidInput("version", "must not be empty")
	}
	if owner.IsZero() {
		return nil, errors.InvalidInput("owner_id", "must be set")
	}
	for _, id := range receivers {
		if id.IsZero() {
			return nil, errors.InvalidInput("event_receiver_ids", "must not contain empty identifiers")
		}
	}

	now := time.Now().UTC()
	return &EventReceiverGroup{
		ID:              ulid.NewEventReceiverGroupID(),
		Name:            name,
		Type:            typ,
		Version:         version,
		Description:     description,
		Enabled:         true,
		ReceiverIDs:     receivers,
		OwnerID:         owner,
		ResourceVersion: 1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Update replaces the mutable fields and bumps the resource version.
func (g *EventReceiverGroup) Update(description string, enabled bool, receivers []ulid.EventReceiverID) error {
	for _, id := range receivers {
		if id.IsZero() {
			return errors.InvalidInput("event_receiver_ids", "must not contain empty identifiers")
		}
	}
	g.Description = description
	g.Enabled = enabled
	g.ReceiverIDs = receivers
	g.ResourceVersion++
	g.UpdatedAt = time.Now().UTC()
	return nil
}

// ContainsReceiver reports whether the group includes the receiver.
func (g *EventReceiverGroup) ContainsReceiver(id ulid.EventReceiverID) bool {
	for _, rid := range g.ReceiverIDs {
		if rid == id {
			return true
		}
	}
	return false
}
