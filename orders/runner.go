package orders

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"simplemes/actions"
	"simplemes/errs"
	"simplemes/metrics"
	"simplemes/store"
	"simplemes/workstate"
)

// ActionRunner executes one action with its retries.
type ActionRunner interface {
	Run(ctx context.Context, a store.Action, in actions.Input, onAttempt func(actions.Attempt)) actions.Outcome
}

// Snapshots persists workstation progress.
type Snapshots interface {
	Save(ctx context.Context, workstationID string, snap workstate.Snapshot) error
	Active(ctx context.Context, workstationID string) (*workstate.State, error)
	Clear(ctx context.Context, workstationID string) error
}

// RunRequest is one execution of one order step.
type RunRequest struct {
	Order         store.Order
	OrderStep     store.OrderStep
	Step          store.Step
	WorkstationID string
	// RunToken is the claim taken on OrderStep before the run.
	RunToken       string
	Input          actions.Input
	StepIndex      int
	CompletedSteps int
	TotalSteps     int
}

// ActionReport is what happened to one action of the step.
type ActionReport struct {
	Action  store.Action    `json:"action"`
	Outcome actions.Outcome `json:"outcome"`
	// Ignored is set when a non-required action failed and the step went on.
	Ignored bool `json:"ignored"`
}

// StepOutcome is the result of running a step's actions. It is applied to
// storage with Apply.
type StepOutcome struct {
	OrderStepID  int64          `json:"orderStepId"`
	StepID       int64          `json:"stepId"`
	Status       string         `json:"status"`
	Actions      []ActionReport `json:"actions"`
	FailedAction *store.Action  `json:"failedAction,omitempty"`
	Message      string         `json:"message,omitempty"`
	Err          error          `json:"-"`

	logs  []store.ActionLog
	token string
}

// Failed reports whether a required action failed.
func (o *StepOutcome) Failed() bool { return o.Status == StepError }

// StepRunner runs the actions of one step strictly in sequence.
type StepRunner struct {
	db        *store.DB
	exec      ActionRunner
	snapshots Snapshots
	emit      EventEmitter
	log       *zap.Logger
	now       func() time.Time
}

func NewStepRunner(db *store.DB, exec ActionRunner, snapshots Snapshots, emit EventEmitter, log *zap.Logger) *StepRunner {
	if emit == nil {
		emit = nopEmitter{}
	}
	return &StepRunner{db: db, exec: exec, snapshots: snapshots, emit: emit, log: log, now: time.Now}
}

// Run executes the step's actions. It performs the device I/O and returns
// the outcome without touching order state; the caller commits it with
// Apply inside its transaction. A required action's terminal failure stops
// the step and later actions are never attempted.
func (r *StepRunner) Run(ctx context.Context, req RunRequest) (*StepOutcome, error) {
	acts, err := r.db.ListActions(ctx, req.Step.ID)
	if err != nil {
		return nil, fmt.Errorf("list actions for step %d: %w", req.Step.ID, err)
	}

	out := &StepOutcome{OrderStepID: req.OrderStep.ID, StepID: req.Step.ID, Status: StepCompleted, token: req.RunToken}
	if len(acts) == 0 {
		// Nothing to run on this station.
		out.Status = StepSkipped
		metrics.StepOutcomes.WithLabelValues(out.Status).Inc()
		return out, nil
	}
	for i, a := range acts {
		done := i
		outcome := r.exec.Run(ctx, a, req.Input, func(att actions.Attempt) {
			l := r.actionLog(req, a, att)
			out.logs = append(out.logs, l)
			r.emit.EmitActionAttempt(req.Order.ID, l)
			completed := done
			if att.Result.Success {
				completed++
			}
			r.snapshot(ctx, req, workstate.Progress{
				CompletedSteps:   req.CompletedSteps,
				TotalSteps:       req.TotalSteps,
				CompletedActions: completed,
				TotalActions:     len(acts),
				Attempt:          att.Number,
				LastActionID:     a.ID,
				LastResult:       resultLabel(att.Result),
			}, i)
		})

		report := ActionReport{Action: a, Outcome: outcome}
		if !outcome.Succeeded() {
			if a.IsRequired {
				out.Actions = append(out.Actions, report)
				out.Status = StepError
				failed := a
				out.FailedAction = &failed
				out.Message = fmt.Sprintf("step %q action %d %q (%s) failed: %s",
					req.Step.Name, a.Sequence, a.Name, a.ActionType, outcome.Final.Error)
				out.Err = outcome.Err
				r.log.Warn("required action failed",
					zap.Int64("order_id", req.Order.ID),
					zap.Int64("step_id", req.Step.ID),
					zap.Int64("action_id", a.ID),
					zap.Int("attempts", len(outcome.Attempts)),
					zap.String("error", outcome.Final.Error),
				)
				break
			}
			report.Ignored = true
			r.log.Info("optional action failed, continuing",
				zap.Int64("order_id", req.Order.ID),
				zap.Int64("action_id", a.ID),
				zap.String("error", outcome.Final.Error),
			)
		}
		out.Actions = append(out.Actions, report)
	}
	metrics.StepOutcomes.WithLabelValues(out.Status).Inc()
	return out, nil
}

// Apply writes the action logs and the order step's new status in tx. The
// status write needs the run's claim; a lost claim is a conflict and tx
// must be rolled back.
func (r *StepRunner) Apply(ctx context.Context, tx *store.Tx, out *StepOutcome, now time.Time) error {
	for i := range out.logs {
		if _, err := tx.InsertActionLog(ctx, &out.logs[i]); err != nil {
			return fmt.Errorf("insert action log: %w", err)
		}
	}
	switch {
	case out.Status == StepSkipped:
		return tx.SkipOrderStep(ctx, out.OrderStepID, out.token, now)
	case out.Failed():
		return tx.FailOrderStep(ctx, out.OrderStepID, out.token, out.Message, now)
	}
	return tx.CompleteOrderStep(ctx, out.OrderStepID, out.token, now)
}

func (r *StepRunner) actionLog(req RunRequest, a store.Action, att actions.Attempt) store.ActionLog {
	res := att.Result
	value := ""
	if res.Value != nil {
		value = fmt.Sprint(res.Value)
	}
	deviceID := res.DeviceID
	if deviceID == "" {
		deviceID = a.DeviceID
	}
	return store.ActionLog{
		OrderID:      req.Order.ID,
		OrderStepID:  req.OrderStep.ID,
		ActionID:     a.ID,
		Attempt:      att.Number,
		ResultValue:  value,
		Success:      res.Success,
		Simulated:    res.Simulated,
		DurationMs:   res.DurationMs,
		ErrorMessage: res.Error,
		DeviceID:     deviceID,
		Address:      res.Address,
		ExecutedBy:   req.Input.ExecutedBy,
		CreatedAt:    att.At.UTC(),
	}
}

func (r *StepRunner) snapshot(ctx context.Context, req RunRequest, p workstate.Progress, actionIndex int) {
	if r.snapshots == nil || req.WorkstationID == "" {
		return
	}
	snap := workstate.Snapshot{
		CurrentOrder:       &workstate.OrderRef{ID: req.Order.ID, OrderNumber: req.Order.OrderNumber, Status: req.Order.Status},
		CurrentStepIndex:   req.StepIndex,
		CurrentActionIndex: actionIndex,
		IsExecutionMode:    true,
		Progress:           p,
		Operator:           req.Input.ExecutedBy,
	}
	if err := r.snapshots.Save(ctx, req.WorkstationID, snap); err != nil {
		r.log.Warn("save work state", zap.String("workstation", req.WorkstationID), zap.Error(err))
	}
}

func resultLabel(res actions.Result) string {
	switch {
	case res.Success && res.Simulated:
		return "simulated"
	case res.Success:
		return "success"
	default:
		return "failure"
	}
}

// stepFailure wraps a failed step outcome for callers.
func stepFailure(o store.Order, out *StepOutcome) error {
	e := errs.E(errs.KindActionFailed, "orders.ExecuteStep", "%s", out.Message).
		WithDetails(map[string]any{
			"orderId":     o.ID,
			"orderStepId": out.OrderStepID,
			"stepId":      out.StepID,
			"actionId":    out.FailedAction.ID,
		})
	if out.Err != nil {
		e = e.Wrap(out.Err)
	}
	return e
}
