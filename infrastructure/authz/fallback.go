package authz

import "context"

// FallbackEvaluator answers from a fixed role-permission table when the
// policy evaluator cannot. It never consults ownership or membership; it is
// intentionally coarser than the policy.
type FallbackEvaluator struct {
	table map[string]map[Action]struct{}
}

var _ Evaluator = (*FallbackEvaluator)(nil)

// NewFallbackEvaluator builds the fixed role table.
func NewFallbackEvaluator() *FallbackEvaluator {
	manager := []Action{
		ActionEventCreate, ActionEventRead, ActionEventUpdate,
		ActionReceiverCreate, ActionReceiverRead, ActionReceiverUpdate,
		ActionGroupCreate, ActionGroupRead, ActionGroupUpdate,
	}
	viewer := []Action{ActionEventRead, ActionReceiverRead, ActionGroupRead}
	plain := []Action{ActionEventRead}

	table := map[string]map[Action]struct{}{
		"event_manager": actionSet(manager),
		"event_viewer":  actionSet(viewer),
		"user":          actionSet(plain),
	}
	return &FallbackEvaluator{table: table}
}

func actionSet(actions []Action) map[Action]struct{} {
	set := make(map[Action]struct{}, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	return set
}

// Evaluate implements Evaluator. Admins are allowed everything; other roles
// consult the table. It never fails.
func (f *FallbackEvaluator) Evaluate(_ context.Context, identity Identity, action Action, _ ResourceContext) (bool, error) {
	for _, role := range identity.Roles {
		if role == "admin" {
			return true, nil
		}
		if allowed, ok := f.table[role]; ok {
			if _, ok := allowed[action]; ok {
				return true, nil
			}
		}
	}
	return false, nil
}
