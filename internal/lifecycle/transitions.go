package lifecycle

import (
	"slices"

	"github.com/tjfontaine/taskgate/internal/core/domain"
)

var transitions = map[domain.TaskStatus][]domain.TaskStatus{
	domain.TaskStatusBacklog:    {domain.TaskStatusTodo, domain.TaskStatusCancelled},
	domain.TaskStatusTodo:       {domain.TaskStatusInProgress, domain.TaskStatusBlocked, domain.TaskStatusCancelled},
	domain.TaskStatusInProgress: {domain.TaskStatusReview, domain.TaskStatusBlocked, domain.TaskStatusCancelled},
	domain.TaskStatusReview:     {domain.TaskStatusDone, domain.TaskStatusInProgress, domain.TaskStatusCancelled},
	domain.TaskStatusBlocked:    {domain.TaskStatusTodo, domain.TaskStatusInProgress, domain.TaskStatusCancelled},
	domain.TaskStatusDone:       {},
	domain.TaskStatusCancelled:  {},
}

// IsValidTransition reports whether from → to is an edge of the state machine.
func IsValidTransition(from, to domain.TaskStatus) bool {
	return slices.Contains(transitions[from], to)
}

// ValidateTransition returns an InvalidTransition error when from → to is not
// an edge of the state machine.
func ValidateTransition(from, to domain.TaskStatus) error {
	if !IsValidTransition(from, to) {
		return domain.InvalidTransition(from, to)
	}
	return nil
}

// ValidTransitions returns the statuses reachable from status in one step.
// Unknown and terminal statuses have none.
func ValidTransitions(status domain.TaskStatus) []domain.TaskStatus {
	return slices.Clone(transitions[status])
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status domain.TaskStatus) bool {
	next, ok := transitions[status]
	return ok && len(next) == 0
}
