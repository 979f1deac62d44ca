// Package receiver holds the event receiver model.
package receiver

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
	"github.com/xbcsmith/xzepr/internal/app/schema"
	"github.com/xbcsmith/xzepr/pkg/ulid"
)

// EventReceiver is a registered destination holding a payload schema and a
// content-addressed fingerprint over its identity-defining fields.
type EventReceiver struct {
	ID              ulid.EventReceiverID
	Name            string
	Type            string
	Version         string
	Description     string
	Schema          json.RawMessage
	Fingerprint     string
	OwnerID         ulid.UserID
	ResourceVersion int
	CreatedAt       time.Time
}

// New constructs a receiver, canonicalizing the schema and computing the
// fingerprint. The fingerprint is a function of (name, type, version, schema)
// only; later updates that leave those fields untouched do not change it.
func New(name, typ, version, description string, schemaDoc json.RawMessage, owner ulid.UserID) (*EventReceiver, error) {
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

	canonical, err := schema.CanonicalizeSchema(schemaDoc)
	if err != nil {
		return nil, err
	}
	fingerprint, err := schema.Fingerprint(name, typ, version, canonical)
	if err != nil {
		return nil, err
	}

	return &EventReceiver{
		ID:              ulid.NewEventReceiverID(),
		Name:            name,
		Type:            typ,
		Version:         version,
		Description:     description,
		Schema:          canonical,
		Fingerprint:     fingerprint,
		OwnerID:         owner,
		ResourceVersion: 1,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// UpdateDescription changes the description and bumps the resource version.
// The fingerprint is untouched because the description is not part of it.
func (r *EventReceiver) UpdateDescription(description string) {
	r.Description = description
	r.ResourceVersion++
}
