package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/xbcsmith/xzepr/infrastructure/httputil"
	"github.com/xbcsmith/xzepr/internal/app/domain/group"
	"github.com/xbcsmith/xzepr/internal/app/ingest"
	"github.com/xbcsmith/xzepr/pkg/ulid"
)

type createGroupRequest struct {
	Name             string   `json:"name"`
	Type             string   `json:"type"`
	Version          string   `json:"version"`
	Description      string   `json:"description"`
	EventReceiverIDs []string `json:"event_receiver_ids"`
}

func parseReceiverIDs(raw []string) ([]ulid.EventReceiverID, error) {
	ids := make([]ulid.EventReceiverID, 0, len(raw))
	for _, s := range raw {
		id, err := ulid.ParseEventReceiverID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (h *handlers) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	receiverIDs, err := parseReceiverIDs(req.EventReceiverIDs)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	id, err := h.ingest.CreateGroup(r.Context(), principalFrom(r), ingest.CreateGroupInput{
		Name:        req.Name,
		Type:        req.Type,
		Version:     req.Version,
		Description: req.Description,
		ReceiverIDs: receiverIDs,
	})
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	httputil.WriteData(w, http.StatusCreated, id.String())
}

type groupResponse struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Type             string   `json:"type"`
	Version          string   `json:"version"`
	Description      string   `json:"description"`
	Enabled          bool     `json:"enabled"`
	EventReceiverIDs []string `json:"event_receiver_ids"`
	ResourceVersion  int      `json:"resource_version"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

func renderGroup(g *group.EventReceiverGroup) groupResponse {
	receiverIDs := make([]string, 0, len(g.ReceiverIDs))
	for _, id := range g.ReceiverIDs {
		receiverIDs = append(receiverIDs, id.String())
	}
	return groupResponse{
		ID:               g.ID.String(),
		Name:             g.Name,
		Type:             g.Type,
		Version:          g.Version,
		Description:      g.Description,
		Enabled:          g.Enabled,
		EventReceiverIDs: receiverIDs,
		ResourceVersion:  g.ResourceVersion,
		CreatedAt:        g.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        g.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *handlers) getGroup(w http.ResponseWriter, r *http.Request) {
	id, err := ulid.ParseEventReceiverGroupID(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	g, err := h.ingest.GetGroup(r.Context(), principalFrom(r), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, renderGroup(g))
}

func (h *handlers) findGroups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	groups, err := h.ingest.FindGroups(r.Context(), principalFrom(r), q.Get("name"), q.Get("type"), q.Get("version"))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	rendered := make([]groupResponse, 0, len(groups))
	for _, g := range groups {
		rendered = append(rendered, renderGroup(g))
	}
	httputil.WriteData(w, http.StatusOK, rendered)
}

type updateGroupRequest struct {
	Description      string   `json:"description"`
	Enabled          bool     `json:"enabled"`
	EventReceiverIDs []string `json:"event_receiver_ids"`
}

func (h *handlers) updateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := ulid.ParseEventReceiverGroupID(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	var req updateGroupRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	receiverIDs, err := parseReceiverIDs(req.EventReceiverIDs)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	g, err := h.ingest.UpdateGroup(r.Context(), principalFrom(r), id, ingest.UpdateGroupInput{
		Description: req.Description,
		Enabled:     req.Enabled,
		ReceiverIDs: receiverIDs,
	})
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, renderGroup(g))
}

func (h *handlers) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := ulid.ParseEventReceiverGroupID(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	if err := h.ingest.DeleteGroup(r.Context(), principalFrom(r), id); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Membership

type addMemberRequest struct {
	UserID string `json:"user_id"`
}

func (h *handlers) addMember(w http.ResponseWriter, r *http.Request) {
	groupID, err := ulid.ParseEventReceiverGroupID(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	var req addMemberRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	userID, err := ulid.ParseUserID(req.UserID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	if err := h.ingest.AddMember(r.Context(), principalFrom(r), groupID, userID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, userID.String())
}

type memberResponse struct {
	UserID  string `json:"user_id"`
	AddedBy string `json:"added_by"`
	AddedAt string `json:"added_at"`
}

func (h *handlers) listMembers(w http.ResponseWriter, r *http.Request) {
	groupID, err := ulid.ParseEventReceiverGroupID(mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	members, err := h.ingest.ListMembers(r.Context(), principalFrom(r), groupID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	rendered := make([]memberResponse, 0, len(members))
	for _, m := range members {
		rendered = append(rendered, memberResponse{
			UserID:  m.UserID.String(),
			AddedBy: m.AddedBy.String(),
			AddedAt: m.AddedAt.UTC().Format(time.RFC3339),
		})
	}
	httputil.WriteData(w, http.StatusOK, rendered)
}

func (h *handlers) removeMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	groupID, err := ulid.ParseEventReceiverGroupID(vars["id"])
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	userID, err := ulid.ParseUserID(vars["user_id"])
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	if err := h.ingest.RemoveMember(r.Context(), principalFrom(r), groupID, userID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
