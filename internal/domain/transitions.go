package domain

// AssignmentAction names a mutation of an active assignment.
type AssignmentAction string

const (
	ActionStart    AssignmentAction = "start"
	ActionPickUp   AssignmentAction = "pick_up"
	ActionDeliver  AssignmentAction = "deliver"
	ActionUnassign AssignmentAction = "unassign"
	ActionReassign AssignmentAction = "reassign"
)

var transitionMap = map[AssignmentAction][]AssignmentStatus{
	ActionStart:    {AssignmentStatusAssigned},
	ActionPickUp:   {AssignmentStatusAssigned, AssignmentStatusInProgress},
	ActionDeliver:  {AssignmentStatusPickedUp},
	ActionUnassign: {AssignmentStatusAssigned, AssignmentStatusInProgress, AssignmentStatusPickedUp},
	ActionReassign: {AssignmentStatusAssigned, AssignmentStatusInProgress, AssignmentStatusPickedUp},
}

var actionTargets = map[AssignmentAction]AssignmentStatus{
	ActionStart:   AssignmentStatusInProgress,
	ActionPickUp:  AssignmentStatusPickedUp,
	ActionDeliver: AssignmentStatusDelivered,
}

// CanTransition reports whether action is allowed from the given status.
func CanTransition(action AssignmentAction, from AssignmentStatus) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == from {
			return true
		}
	}
	return false
}

// TargetStatus returns the status an in-place action moves an assignment to.
// Unassign and reassign do not change the status of the row they act on.
func TargetStatus(action AssignmentAction) (AssignmentStatus, bool) {
	s, ok := actionTargets[action]
	return s, ok
}
