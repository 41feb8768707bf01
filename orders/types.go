// Package orders drives production orders through the steps of their
// process and owns the order state machine.
package orders

// Order statuses
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusPaused     = "PAUSED"
	StatusCompleted  = "COMPLETED"
	StatusCancelled  = "CANCELLED"
	StatusError      = "ERROR"
)

// Order step statuses
const (
	StepPending    = "pending"
	StepInProgress = "in_progress"
	StepCompleted  = "completed"
	StepSkipped    = "skipped"
	StepError      = "error"
)

// validTransitions defines which status transitions are allowed.
var validTransitions = map[string][]string{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusPaused, StatusCompleted, StatusError, StatusCancelled},
	StatusPaused:     {StatusInProgress, StatusCancelled},
	StatusError:      {StatusInProgress, StatusCancelled},
}

// IsValidTransition checks if a status transition is allowed.
func IsValidTransition(from, to string) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status is a terminal state.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// stepDone reports whether an order step no longer needs work.
func stepDone(status string) bool {
	return status == StepCompleted || status == StepSkipped
}
