// Package authz implements the policy decision point: an external policy
// evaluator guarded by a circuit breaker, a version-keyed decision cache,
// and a role-table fallback that keeps the server answering when the
// evaluator is unavailable.
package authz

import (
	"fmt"

	"github.com/xbcsmith/xzepr/infrastructure/errors"
)

// Action is one of the closed set of action strings understood by the policy.
type Action string

const (
	ActionEventCreate Action = "event:create"
	ActionEventRead   Action = "event:read"
	ActionEventUpdate Action = "event:update"
	ActionEventDelete Action = "event:delete"

	ActionReceiverCreate Action = "event_receiver:create"
	ActionReceiverRead   Action = "event_receiver:read"
	ActionReceiverUpdate Action = "event_receiver:update"
	ActionReceiverDelete Action = "event_receiver:delete"

	ActionGroupCreate Action = "event_receiver_group:create"
	ActionGroupRead   Action = "event_receiver_group:read"
	ActionGroupUpdate Action = "event_receiver_group:update"
	ActionGroupDelete Action = "event_receiver_group:delete"

	ActionGroupAddMember    Action = "group:add_member"
	ActionGroupRemoveMember Action = "group:remove_member"
	ActionGroupListMembers  Action = "group:list_members"
)

var allActions = map[Action]struct{}{
	ActionEventCreate: {}, ActionEventRead: {}, ActionEventUpdate: {}, ActionEventDelete: {},
	ActionReceiverCreate: {}, ActionReceiverRead: {}, ActionReceiverUpdate: {}, ActionReceiverDelete: {},
	ActionGroupCreate: {}, ActionGroupRead: {}, ActionGroupUpdate: {}, ActionGroupDelete: {},
	ActionGroupAddMember: {}, ActionGroupRemoveMember: {}, ActionGroupListMembers: {},
}

// ParseAction validates an action string.
func ParseAction(s string) (Action, error) {
	if _, ok := allActions[Action(s)]; !ok {
		return "", errors.InvalidInput("action", fmt.Sprintf("unknown action %q", s))
	}
	return Action(s), nil
}

// Identity is the authenticated principal presented to the policy.
type Identity struct {
	UserID      string   `json:"user_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// ResourceContext describes the resource a decision is about. Members holds
// the user identifiers allowed to post under a group; the caller looks it up
// through the repository before asking for a group-scoped decision.
type ResourceContext struct {
	ResourceType    string   `json:"resource_type"`
	ResourceID      string   `json:"resource_id"`
	OwnerID         string   `json:"owner_id,omitempty"`
	GroupID         string   `json:"group_id,omitempty"`
	Members         []string `json:"members,omitempty"`
	ResourceVersion int      `json:"resource_version"`
}
