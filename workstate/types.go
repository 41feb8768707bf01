// Package workstate keeps the per-workstation execution snapshot: SQL is
// the source of truth and Redis, when configured, is a write-through cache.
package workstate

import "time"

// OrderRef identifies the order a workstation is executing.
type OrderRef struct {
	ID          int64  `json:"id"`
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
}

// Progress counts what has been done on the current order.
type Progress struct {
	CompletedSteps   int    `json:"completedSteps"`
	TotalSteps       int    `json:"totalSteps"`
	CompletedActions int    `json:"completedActions"`
	TotalActions     int    `json:"totalActions"`
	Attempt          int    `json:"attempt"`
	LastActionID     int64  `json:"lastActionId,omitempty"`
	LastResult       string `json:"lastResult,omitempty"`
}

// Snapshot is the serialized progress marker.
type Snapshot struct {
	CurrentOrder       *OrderRef `json:"currentOrder"`
	CurrentStepIndex   int       `json:"currentStepIndex"`
	CurrentActionIndex int       `json:"currentActionIndex"`
	IsExecutionMode    bool      `json:"isExecutionMode"`
	Progress           Progress  `json:"progress"`
	Operator           string    `json:"operator,omitempty"`
}

// State is a stored snapshot with its bookkeeping.
type State struct {
	WorkstationID string    `json:"workstationId"`
	Snapshot      Snapshot  `json:"snapshot"`
	IsActive      bool      `json:"isActive"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Percent is completed steps over total steps, plus the live share of the
// step in progress.
func (p Progress) Percent() float64 {
	if p.TotalSteps <= 0 {
		return 0
	}
	done := float64(p.CompletedSteps)
	if p.TotalActions > 0 && p.CompletedSteps < p.TotalSteps {
		done += float64(p.CompletedActions) / float64(p.TotalActions)
	}
	pct := done / float64(p.TotalSteps) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
