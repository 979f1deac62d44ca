package ingest

import (
	"encoding/json"
	"time"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
	"github.com/xbcsmith/xzepr/internal/app/domain/event"
	"github.com/xbcsmith/xzepr/pkg/ulid"
)

// CloudEvent is the published record value: CloudEvents 1.0.1 with the
// extensions every consumer of the bus relies on. The record key is the
// event identifier.
type CloudEvent struct {
	Success     bool           `json:"success"`
	ID          string         `json:"id"`
	SpecVersion string         `json:"specversion"`
	Type        string         `json:"type"`
	Source      string         `json:"source"`
	APIVersion  string         `json:"api_version"`
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Release     string         `json:"release"`
	PlatformID  string         `json:"platform_id"`
	Package     string         `json:"package"`
	Data        CloudEventData `json:"data"`
}

// CloudEventData carries the event body.
type CloudEventData struct {
	Description     string          `json:"description"`
	EventReceiverID string          `json:"event_receiver_id"`
	CreatedAt       string          `json:"created_at"`
	Payload         json.RawMessage `json:"payload"`
}

const (
	specVersion = "1.0.1"
	apiVersion  = "v1"
	sourcePrefix = "xzepr.event.receiver."
)

// newCloudEvent frames a persisted event for publication. The envelope type
// is the event name; the source names the receiver it arrived through.
func newCloudEvent(ev *event.Event) CloudEvent {
	return CloudEvent{
		Success:     ev.Success,
		ID:          ev.ID.String(),
		SpecVersion: specVersion,
		Type:        ev.Name,
		Source:      sourcePrefix + ev.ReceiverID.String(),
		APIVersion:  apiVersion,
		Name:        ev.Name,
		Version:     ev.Version,
		Release:     ev.Release,
		PlatformID:  ev.PlatformID,
		Package:     ev.Package,
		Data: CloudEventData{
			Description:     ev.Description,
			EventReceiverID: ev.ReceiverID.String(),
			CreatedAt:       ev.CreatedAt.UTC().Format(time.RFC3339),
			Payload:         ev.Payload,
		},
	}
}

// newSystemEvent frames a lifecycle notification (receiver or group created,
// updated, deleted). System events travel through the same publication path
// as client events; each carries a fresh identifier and names the resource
// it is about.
func newSystemEvent(eventType, resourceID, description string) CloudEvent {
	return CloudEvent{
		Success:     true,
		ID:          ulid.New().String(),
		SpecVersion: specVersion,
		Type:        eventType,
		Source:      sourcePrefix + resourceID,
		APIVersion:  apiVersion,
		Name:        eventType,
		Data: CloudEventData{
			Description: description,
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// Encode renders the envelope as the record value.
func (c CloudEvent) Encode() ([]byte, error) {
	value, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Internal("encoding cloud event", err)
	}
	return value, nil
}
