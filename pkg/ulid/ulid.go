// Package ulid provides the lexicographically sortable identifiers used for
// every persisted entity. The string form is the canonical 26-character
// Crockford base32 encoding; the embedded 48-bit timestamp gives
// millisecond-resolution creation ordering.
package ulid

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
)

// ULID is a 128-bit identifier whose byte and string orderings are monotone
// with creation time to millisecond resolution.
type ULID struct {
	value ulid.ULID
}

// New generates an identifier stamped with the current wall time.
func New() ULID {
	return ULID{value: ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader)}
}

// Parse decodes the canonical 26-character form.
func Parse(s string) (ULID, error) {
	v, err := ulid.ParseStrict(s)
	if err != nil {
		return ULID{}, errors.InvalidIdentifier(s, err)
	}
	return ULID{value: v}, nil
}

// String returns the canonical 26-character Crockford base32 form.
func (u ULID) String() string {
	return u.value.String()
}

// Time returns the embedded creation timestamp in milliseconds since the
// Unix epoch.
func (u ULID) Time() uint64 {
	return u.value.Time()
}

// IsZero reports whether the identifier is the zero value.
func (u ULID) IsZero() bool {
	return u.value == ulid.ULID{}
}

// Compare orders two identifiers by their 128-bit value.
func (u ULID) Compare(other ULID) int {
	return u.value.Compare(other.value)
}

// Bytes returns the raw 16-byte value.
func (u ULID) Bytes() []byte {
	b := u.value
	return b[:]
}

func parseTyped(kind, s string) (ULID, error) {
	v, err := ulid.ParseStrict(s)
	if err != nil {
		return ULID{}, errors.InvalidIdentifier(s, err).WithDetails("kind", kind)
	}
	return ULID{value: v}, nil
}

// Typed wrappers. Each entity kind gets its own defined type so a function
// expecting an EventReceiverID cannot be handed an EventID.

// EventID identifies an event.
type EventID struct{ ULID }

// EventReceiverID identifies an event receiver.
type EventReceiverID struct{ ULID }

// EventReceiverGroupID identifies an event receiver group.
type EventReceiverGroupID struct{ ULID }

// UserID identifies a user.
type UserID struct{ ULID }

// APIKeyID identifies an API key.
type APIKeyID struct{ ULID }

// NewEventID generates a fresh event identifier.
func NewEventID() EventID { return EventID{New()} }

// NewEventReceiverID generates a fresh receiver identifier.
func NewEventReceiverID() EventReceiverID { return EventReceiverID{New()} }

// NewEventReceiverGroupID generates a fresh group identifier.
func NewEventReceiverGroupID() EventReceiverGroupID { return EventReceiverGroupID{New()} }

// NewUserID generates a fresh user identifier.
func NewUserID() UserID { return UserID{New()} }

// NewAPIKeyID generates a fresh API key identifier.
func NewAPIKeyID() APIKeyID { return APIKeyID{New()} }

// ParseEventID decodes an event identifier.
func ParseEventID(s string) (EventID, error) {
	v, err := parseTyped("event", s)
	return EventID{v}, err
}

// ParseEventReceiverID decodes a receiver identifier.
func ParseEventReceiverID(s string) (EventReceiverID, error) {
	v, err := parseTyped("event_receiver", s)
	return EventReceiverID{v}, err
}

// ParseEventReceiverGroupID decodes a group identifier.
func ParseEventReceiverGroupID(s string) (EventReceiverGroupID, error) {
	v, err := parseTyped("event_receiver_group", s)
	return EventReceiverGroupID{v}, err
}

// ParseUserID decodes a user identifier.
func ParseUserID(s string) (UserID, error) {
	v, err := parseTyped("user", s)
	return UserID{v}, err
}

// ParseAPIKeyID decodes an API key identifier.
func ParseAPIKeyID(s string) (APIKeyID, error) {
	v, err := parseTyped("api_key", s)
	return APIKeyID{v}, err
}
