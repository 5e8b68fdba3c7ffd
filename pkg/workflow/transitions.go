package workflow

import "github.com/Ramsey-B/fern/pkg/models"

var stepTransitions = map[models.StepStatus]map[models.StepStatus]bool{
	models.StepStatusPending: {
		models.StepStatusInProgress: true,
		models.StepStatusCompleted:  true,
		models.StepStatusCancelled:  true,
	},
	models.StepStatusInProgress: {
		models.StepStatusCompleted: true,
		models.StepStatusCancelled: true,
	},
}

// CanTransition reports whether a step may move from one status to another.
// Keeping the same status is always allowed; it is a metadata edit.
func CanTransition(from, to models.StepStatus) bool {
	if from == to {
		return true
	}
	return stepTransitions[from][to]
}
