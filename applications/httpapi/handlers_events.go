package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/xbcsmith/xzepr/infrastructure/httputil"
	"github.com/xbcsmith/xzepr/internal/app/domain/event"
	"github.com/xbcsmith/xzepr/internal/app/ingest"
	"github.com/xbcsmith/xzepr/pkg/ulid"
)

type createEventRequest struct {
	Name            string          `json:"name"`
	Version         string          `json:"version"`
	Release         string          `json:"release"`
	PlatformID      string          `json:"platform_id"`
	Package         string          `json:"package"`
	Description     string          `json:"description"`
	Payload         json.RawMessage `json:"payload"`
	Success         bool            `json:"success"`
	EventReceiverID string          `json:"event_receiver_id"`
}

func (h *handlers) createEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	receiverID, err := ulid.ParseEventReceiverID(req.EventReceiverID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	id, err := h.ingest.CreateEvent(r.Context(), principalFrom(r), ingest.CreateEventInput{
		ReceiverID:  receiverID,
		Name:        req.Name,
		Version:     req.Version,
		Release:     req.Release,
		PlatformID:  req.PlatformID,
		Package:     req.Package,
		Description: req.Description,
		Payload:     req.Payload,
		Success:     req.Success,
	})
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	httputil.WriteData(w, http.StatusCreated, id.String())
}

type eventResponse struct {
	ID              string          `json:"id"`
	EventReceiverID string          `json:"event_receiver_id"`
	Name            string          `json:"name"`
	Version         string          `json:"version"`
	Release         string          `json:"release"`
	PlatformID      string          `json:"platform_id"`
	Package         string          `json:"package"`
	Description     string          `json:"description"`
	Payload         json.RawMessage `json:"payload"`
	Success         bool            `json:"success"`
	CreatedAt       string          `json:"created_at"`
}

func renderEvent(ev *event.Event) eventResponse {
	return eventResponse{
		ID:              ev.ID.String(),
		EventReceiverID: ev.ReceiverID.String(),
		Name:            ev.Name,
		Version:         ev.Version,
		Release:         ev.Release,
		PlatformID:      ev.PlatformID,
		Package:         ev.Package,
		Description:     ev.Description,
		Payload:         ev.Payload,
		Success:         ev.Success,
		CreatedAt:       ev.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	id, err := ulid.ParseEventID(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	ev, err := h.ingest.GetEvent(r.Context(), principalFrom(r), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, renderEvent(ev))
}

func (h *handlers) findEvents(w http.ResponseWriter, r *http.Request) {
	criteria := event.Criteria{}
	q := r.URL.Query()

	if v := q.Get("name"); v != "" {
		criteria.Name = &v
	}
	if v := q.Get("version"); v != "" {
		criteria.Version = &v
	}
	if v := q.Get("release"); v != "" {
		criteria.Release = &v
	}
	if v := q.Get("platform_id"); v != "" {
		criteria.PlatformID = &v
	}
	if v := q.Get("package"); v != "" {
		criteria.Package = &v
	}
	if v := q.Get("success"); v != "" {
		success := v == "true"
		criteria.Success = &success
	}
	if v := q.Get("event_receiver_id"); v != "" {
		receiverID, err := ulid.ParseEventReceiverID(v)
		if err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
		criteria.ReceiverID = &receiverID
	}
	if v := q.Get("owner_id"); v != "" {
		ownerID, err := ulid.ParseUserID(v)
		if err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
		criteria.OwnerID = &ownerID
	}

	events, err := h.ingest.FindEvents(r.Context(), principalFrom(r), criteria)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	rendered := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		rendered = append(rendered, renderEvent(ev))
	}
	httputil.WriteData(w, http.StatusOK, rendered)
}
