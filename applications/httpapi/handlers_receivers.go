package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/xbcsmith/xzepr/infrastructure/httputil"
	"github.com/xbcsmith/xzepr/internal/app/domain/receiver"
	"github.com/xbcsmith/xzepr/internal/app/ingest"
	"github.com/xbcsmith/xzepr/pkg/ulid"
)

type createReceiverRequest struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

func (h *handlers) createReceiver(w http.ResponseWriter, r *http.Request) {
	var req createReceiverRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	id, err := h.ingest.CreateReceiver(r.Context(), principalFrom(r), ingest.CreateReceiverInput{
		Name:        req.Name,
		Type:        req.Type,
		Version:     req.Version,
		Description: req.Description,
		Schema:      req.Schema,
	})
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	httputil.WriteData(w, http.StatusCreated, id.String())
}

type receiverResponse struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	Version         string          `json:"version"`
	Description     string          `json:"description"`
	Schema          json.RawMessage `json:"schema"`
	Fingerprint     string          `json:"fingerprint"`
	ResourceVersion int             `json:"resource_version"`
	CreatedAt       string          `json:"created_at"`
}

func renderReceiver(rcv *receiver.EventReceiver) receiverResponse {
	return receiverResponse{
		ID:              rcv.ID.String(),
		Name:            rcv.Name,
		Type:            rcv.Type,
		Version:         rcv.Version,
		Description:     rcv.Description,
		Schema:          rcv.Schema,
		Fingerprint:     rcv.Fingerprint,
		ResourceVersion: rcv.ResourceVersion,
		CreatedAt:       rcv.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *handlers) getReceiver(w http.ResponseWriter, r *http.Request) {
	id, err := ulid.ParseEventReceiverID(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	rcv, err := h.ingest.GetReceiver(r.Context(), principalFrom(r), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, renderReceiver(rcv))
}

func (h *handlers) findReceivers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	receivers, err := h.ingest.FindReceivers(r.Context(), principalFrom(r), q.Get("name"), q.Get("type"), q.Get("version"))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	rendered := make([]receiverResponse, 0, len(receivers))
	for _, rcv := range receivers {
		rendered = append(rendered, renderReceiver(rcv))
	}
	httputil.WriteData(w, http.StatusOK, rendered)
}

type updateReceiverRequest struct {
	Description string `json:"description"`
}

func (h *handlers) updateReceiver(w http.ResponseWriter, r *http.Request) {
	id, err := ulid.ParseEventReceiverID(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	var req updateReceiverRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	rcv, err := h.ingest.UpdateReceiver(r.Context(), principalFrom(r), id, req.Description)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, renderReceiver(rcv))
}

func (h *handlers) deleteReceiver(w http.ResponseWriter, r *http.Request) {
	id, err := ulid.ParseEventReceiverID(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	if err := h.ingest.DeleteReceiver(r.Context(), principalFrom(r), id); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
