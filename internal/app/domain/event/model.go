// Package event holds the immutable event model.
package event

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
	"github.com/xbcsmith/xzepr/pkg/ulid"
)

// Event is an immutable record whose payload conformed to its receiver's
// schema at persist time. Events carry no update or delete operations; the
// resource version is fixed at creation.
type Event struct {
	ID              ulid.EventID
	ReceiverID      ulid.EventReceiverID
	Name            string
	Version         string
	Release         string
	PlatformID      string
	Package         string
	Description     string
	Payload         json.RawMessage
	Success         bool
	OwnerID         ulid.UserID
	ResourceVersion int
	CreatedAt       time.Time
}

// New constructs an event, enforcing invariants. Schema validation against
// the receiver happens in the ingestion pipeline, which is the only place
// that has the receiver at hand.
func New(receiverID ulid.EventReceiverID, name, version, release, platformID, pkg, description string, payload json.RawMessage, success bool, owner ulid.UserID) (*Event, error) {
	if receiverID.IsZero() {
		return nil, errors.InvalidInput("event_receiver_id", "must be set")
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.InvalidInput("name", "must not be empty")
	}
	if strings.TrimSpace(version) == "" {
		return nil, errors.InvalidInput("version", "must not be empty")
	}
	if owner.IsZero() {
		return nil, errors.InvalidInput("owner_id", "must be set")
	}
	if len(payload) == 0 {
		return nil, errors.InvalidInput("payload", "must be a JSON value")
	}
	if !json.Valid(payload) {
		return nil, errors.InvalidInput("payload", "must be valid JSON")
	}

	return &Event{
		ID:              ulid.NewEventID(),
		ReceiverID:      receiverID,
		Name:            name,
		Version:         version,
		Release:         release,
		PlatformID:      platformID,
		Package:         pkg,
		Description:     description,
		Payload:         payload,
		Success:         success,
		OwnerID:         owner,
		ResourceVersion: 1,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// Criteria filters event searches. Nil fields are ignored.
type Criteria struct {
	Name       *string
	Version    *string
	Release    *string
	PlatformID *string
	Package    *string
	Success    *bool
	ReceiverID *ulid.EventReceiverID
	OwnerID    *ulid.UserID
}
