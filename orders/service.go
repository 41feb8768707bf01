package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"simplemes/actions"
	"simplemes/errs"
	"simplemes/metrics"
	"simplemes/store"
	"simplemes/workstate"
)

// SessionChecker confirms a workstation is occupied.
type SessionChecker interface {
	RequireActive(ctx context.Context, workstationID string) (*store.WorkstationSession, error)
}

// NewOrder is the input to CreateOrder.
type NewOrder struct {
	OrderNumber      string     `json:"order_number"`
	ProductionNumber string     `json:"production_number"`
	ProductID        int64      `json:"product_id"`
	ProcessID        int64      `json:"process_id"`
	BOMID            *int64     `json:"bom_id,omitempty"`
	Quantity         int        `json:"quantity"`
	Priority         int        `json:"priority"`
	Sequence         int64      `json:"sequence"`
	PlannedDate      *time.Time `json:"planned_date,omitempty"`
	Notes            string     `json:"notes"`
}

// ExecuteRequest runs the order's current step.
type ExecuteRequest struct {
	WorkstationID string        `json:"workstation_id"`
	Input         actions.Input `json:"input"`
}

// ExecuteResult is the state after one step execution.
type ExecuteResult struct {
	Order     *store.Order     `json:"order"`
	OrderStep *store.OrderStep `json:"orderStep"`
	NextStep  *store.OrderStep `json:"nextStep,omitempty"`
	Outcome   *StepOutcome     `json:"outcome"`
}

// ExecutionStatus is the live view of an order.
type ExecutionStatus struct {
	Order          *store.Order      `json:"order"`
	Steps          []store.OrderStep `json:"steps"`
	CurrentStep    *store.OrderStep  `json:"currentStep,omitempty"`
	CurrentAction  *store.Action     `json:"currentAction,omitempty"`
	CompletedSteps int               `json:"completedSteps"`
	TotalSteps     int               `json:"totalSteps"`
	Progress       float64           `json:"progress"`
	WorkState      *workstate.State  `json:"workState,omitempty"`
}

// Service owns every order mutation.
type Service struct {
	db        *store.DB
	runner    *StepRunner
	sessions  SessionChecker
	snapshots Snapshots
	emit      EventEmitter
	log       *zap.Logger
	now       func() time.Time
}

func NewService(db *store.DB, runner *StepRunner, sessions SessionChecker, snapshots Snapshots, emit EventEmitter, log *zap.Logger) *Service {
	if emit == nil {
		emit = nopEmitter{}
	}
	return &Service{
		db:        db,
		runner:    runner,
		sessions:  sessions,
		snapshots: snapshots,
		emit:      emit,
		log:       log,
		now:       time.Now,
	}
}

// CreateOrder inserts a PENDING order with one pending order step per step
// of its process.
func (s *Service) CreateOrder(ctx context.Context, in NewOrder) (*store.Order, error) {
	const op = "orders.CreateOrder"
	switch {
	case strings.TrimSpace(in.OrderNumber) == "":
		return nil, errs.Validation(op, "order number is required")
	case in.Quantity <= 0:
		return nil, errs.Validation(op, "quantity must be positive")
	case in.ProductID <= 0:
		return nil, errs.Validation(op, "product is required")
	case in.ProcessID <= 0:
		return nil, errs.Validation(op, "process is required")
	case in.Sequence < 0:
		return nil, errs.Validation(op, "sequence must not be negative")
	}
	if _, err := s.db.GetProduct(ctx, in.ProductID); err != nil {
		return nil, asValidation(op, err)
	}
	if _, err := s.db.GetProcess(ctx, in.ProcessID); err != nil {
		return nil, asValidation(op, err)
	}
	if in.BOMID != nil {
		if _, err := s.db.GetBOM(ctx, *in.BOMID); err != nil {
			return nil, asValidation(op, err)
		}
	}
	steps, err := s.db.ListSteps(ctx, in.ProcessID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, errs.Validation(op, "process %d has no steps", in.ProcessID)
	}

	o := &store.Order{
		OrderNumber:      strings.TrimSpace(in.OrderNumber),
		ProductionNumber: in.ProductionNumber,
		ProductID:        in.ProductID,
		ProcessID:        in.ProcessID,
		BOMID:            in.BOMID,
		Quantity:         in.Quantity,
		Priority:         in.Priority,
		Sequence:         in.Sequence,
		Status:           StatusPending,
		PlannedDate:      in.PlannedDate,
		Notes:            in.Notes,
	}
	now := s.now().UTC()
	err = s.db.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.CreateOrder(ctx, o, now); err != nil {
			return err
		}
		for _, st := range steps {
			if _, err := tx.CreateOrderStep(ctx, o.ID, st); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	created, err := s.db.GetOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("order created",
		zap.Int64("order_id", created.ID),
		zap.String("order_number", created.OrderNumber),
		zap.Int64("sequence", created.Sequence),
		zap.Int("steps", len(steps)),
	)
	s.emit.EmitOrderCreated(*created)
	return created, nil
}

// Start moves a PENDING order to IN_PROGRESS and opens its first step. The
// target workstation must have an active session.
func (s *Service) Start(ctx context.Context, orderID int64, workstationID, changedBy string) (*store.Order, error) {
	const op = "orders.Start"
	o, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(op, o, StatusInProgress); err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, errs.Validation(op, "order %d is %s; use resume", o.ID, o.Status).WithCode(errs.CodeInvalidTransition)
	}
	steps, err := s.db.ListOrderSteps(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	first, _ := currentStep(o, steps)
	if first == nil {
		return nil, errs.Validation(op, "order %d has no open steps", o.ID)
	}
	ws := firstNonEmpty(workstationID, first.WorkstationID)
	if ws == "" {
		return nil, errs.Validation(op, "workstation is required to start order %d", o.ID)
	}
	if _, err := s.sessions.RequireActive(ctx, ws); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	err = s.db.WithTx(ctx, func(tx *store.Tx) error {
		if err := s.transition(ctx, tx, o, StatusInProgress, changedBy, "started", now); err != nil {
			return err
		}
		if err := tx.StartOrderStep(ctx, first.ID, ws, now); err != nil {
			return err
		}
		stepID := first.StepID
		return tx.SetOrderCursor(ctx, o.ID, &stepID, ws, now)
	})
	if err != nil {
		return nil, err
	}
	updated, err := s.db.GetOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	s.saveSnapshot(ctx, ws, updated, 0, 0, workstate.Progress{TotalSteps: len(steps)}, changedBy)
	s.emit.EmitOrderStatusChanged(*updated, StatusPending, StatusInProgress, "started")
	return updated, nil
}

// Pause moves an IN_PROGRESS order to PAUSED.
func (s *Service) Pause(ctx context.Context, orderID int64, changedBy, reason string) (*store.Order, error) {
	return s.simpleTransition(ctx, "orders.Pause", orderID, StatusInProgress, StatusPaused, changedBy, firstNonEmpty(reason, "paused"))
}

// Resume moves a PAUSED or ERROR order back to IN_PROGRESS. After an error
// the failed step is reopened; its earlier action logs are kept and the
// next ExecuteStep re-runs its actions.
func (s *Service) Resume(ctx context.Context, orderID int64, workstationID, changedBy, reason string) (*store.Order, error) {
	const op = "orders.Resume"
	o, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPaused && o.Status != StatusError {
		return nil, errs.Validation(op, "cannot resume order %d from %s", o.ID, o.Status).WithCode(errs.CodeInvalidTransition)
	}
	steps, err := s.db.ListOrderSteps(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	cur, _ := currentStep(o, steps)
	ws := workstationID
	if cur != nil {
		ws = firstNonEmpty(workstationID, cur.WorkstationID, o.CurrentStationID)
	}
	if ws != "" {
		if _, err := s.sessions.RequireActive(ctx, ws); err != nil {
			return nil, err
		}
	}

	from := o.Status
	reason = firstNonEmpty(reason, "resumed")
	now := s.now().UTC()
	// The last step can finish while the order is paused; there is nothing
	// left to run, so the order completes right after resuming.
	finished := cur == nil && countDone(steps) == len(steps)
	err = s.db.WithTx(ctx, func(tx *store.Tx) error {
		if err := s.transition(ctx, tx, o, StatusInProgress, changedBy, reason, now); err != nil {
			return err
		}
		if finished {
			running := *o
			running.Status = StatusInProgress
			if err := s.transition(ctx, tx, &running, StatusCompleted, changedBy, "all steps completed", now); err != nil {
				return err
			}
			return tx.SetOrderCursor(ctx, o.ID, nil, o.CurrentStationID, now)
		}
		if cur == nil {
			return nil
		}
		if err := tx.StartOrderStep(ctx, cur.ID, ws, now); err != nil {
			return err
		}
		stepID := cur.StepID
		return tx.SetOrderCursor(ctx, o.ID, &stepID, ws, now)
	})
	if err != nil {
		return nil, err
	}
	updated, err := s.db.GetOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	s.emit.EmitOrderStatusChanged(*updated, from, StatusInProgress, reason)
	if finished {
		s.emit.EmitOrderStatusChanged(*updated, StatusInProgress, StatusCompleted, "all steps completed")
		s.releaseSnapshot(ctx, updated)
	}
	return updated, nil
}

// Cancel moves any non-terminal order to CANCELLED.
func (s *Service) Cancel(ctx context.Context, orderID int64, changedBy, reason string) (*store.Order, error) {
	const op = "orders.Cancel"
	o, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(op, o, StatusCancelled); err != nil {
		return nil, err
	}
	from := o.Status
	reason = firstNonEmpty(reason, "cancelled")
	now := s.now().UTC()
	err = s.db.WithTx(ctx, func(tx *store.Tx) error {
		return s.transition(ctx, tx, o, StatusCancelled, changedBy, reason, now)
	})
	if err != nil {
		return nil, err
	}
	updated, err := s.db.GetOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	s.releaseSnapshot(ctx, updated)
	s.emit.EmitOrderStatusChanged(*updated, from, StatusCancelled, reason)
	return updated, nil
}

func (s *Service) simpleTransition(ctx context.Context, op string, orderID int64, from, to, changedBy, reason string) (*store.Order, error) {
	o, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != from {
		return nil, errs.Validation(op, "order %d is %s, not %s", o.ID, o.Status, from).WithCode(errs.CodeInvalidTransition)
	}
	now := s.now().UTC()
	err = s.db.WithTx(ctx, func(tx *store.Tx) error {
		return s.transition(ctx, tx, o, to, changedBy, reason, now)
	})
	if err != nil {
		return nil, err
	}
	updated, err := s.db.GetOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	s.emit.EmitOrderStatusChanged(*updated, from, to, reason)
	return updated, nil
}

// ExecuteStep runs the order's current step. The step is claimed first, so
// a concurrent call fails with STEP_CLAIMED before touching any device.
// Device I/O happens next; the action logs, the order step and any
// order-level change are then committed in one transaction. When a required action fails the order moves to ERROR
// and the returned error is an ActionFailed carrying the failing step and
// action; the result is returned alongside it.
func (s *Service) ExecuteStep(ctx context.Context, orderID int64, req ExecuteRequest) (*ExecuteResult, error) {
	const op = "orders.ExecuteStep"
	o, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusInProgress {
		return nil, errs.Validation(op, "order %d is %s, not %s", o.ID, o.Status, StatusInProgress).
			WithCode(errs.CodeInvalidTransition)
	}
	steps, err := s.db.ListOrderSteps(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	cur, idx := currentStep(o, steps)
	if cur == nil {
		return nil, errs.Validation(op, "order %d has no open steps", o.ID)
	}
	ws := firstNonEmpty(req.WorkstationID, cur.WorkstationID, o.CurrentStationID)
	if ws == "" {
		return nil, errs.Validation(op, "workstation is required to execute order %d", o.ID)
	}
	if _, err := s.sessions.RequireActive(ctx, ws); err != nil {
		return nil, err
	}
	step, err := s.db.GetStep(ctx, cur.StepID)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	if err := s.db.ClaimOrderStep(ctx, cur.ID, token, ws, s.now().UTC()); err != nil {
		return nil, err
	}
	applied := false
	defer func() {
		if applied {
			return
		}
		if err := s.db.ReleaseOrderStep(context.WithoutCancel(ctx), cur.ID, token); err != nil {
			s.log.Warn("release order step", zap.Int64("order_step_id", cur.ID), zap.Error(err))
		}
	}()

	completed := countDone(steps)
	outcome, err := s.runner.Run(ctx, RunRequest{
		Order:          *o,
		OrderStep:      *cur,
		Step:           *step,
		WorkstationID:  ws,
		RunToken:       token,
		Input:          req.Input,
		StepIndex:      idx,
		CompletedSteps: completed,
		TotalSteps:     len(steps),
	})
	if err != nil {
		return nil, err
	}

	changedBy := firstNonEmpty(req.Input.ExecutedBy, "system")
	now := s.now().UTC()
	var next *store.OrderStep
	var transitioned string
	err = s.db.WithTx(ctx, func(tx *store.Tx) error {
		if err := s.runner.Apply(ctx, tx, outcome, now); err != nil {
			return err
		}
		latest, err := tx.GetOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		if latest.Status != StatusInProgress {
			// Paused or cancelled while the devices were running. The step
			// keeps its result; Resume picks up from there.
			return nil
		}
		if outcome.Failed() {
			transitioned = StatusError
			return s.transition(ctx, tx, latest, StatusError, changedBy, outcome.Message, now)
		}
		next = nextStep(steps, cur.ID)
		if next == nil {
			transitioned = StatusCompleted
			if err := s.transition(ctx, tx, latest, StatusCompleted, changedBy, "all steps completed", now); err != nil {
				return err
			}
			return tx.SetOrderCursor(ctx, o.ID, nil, ws, now)
		}
		nextWS := firstNonEmpty(next.WorkstationID, ws)
		if err := tx.StartOrderStep(ctx, next.ID, nextWS, now); err != nil {
			return err
		}
		stepID := next.StepID
		return tx.SetOrderCursor(ctx, o.ID, &stepID, nextWS, now)
	})
	if err != nil {
		return nil, err
	}
	applied = true

	res := &ExecuteResult{Outcome: outcome}
	if res.Order, err = s.db.GetOrder(ctx, o.ID); err != nil {
		return nil, err
	}
	if res.OrderStep, err = s.db.GetOrderStep(ctx, cur.ID); err != nil {
		return nil, err
	}
	if next != nil {
		if res.NextStep, err = s.db.GetOrderStep(ctx, next.ID); err != nil {
			return nil, err
		}
	}

	s.emit.EmitStepFinished(*res.Order, *res.OrderStep)
	if transitioned != "" {
		s.emit.EmitOrderStatusChanged(*res.Order, StatusInProgress, transitioned, outcome.Message)
	}
	switch {
	case transitioned == StatusCompleted:
		s.saveSnapshot(ctx, ws, res.Order, len(steps)-1, 0,
			workstate.Progress{CompletedSteps: len(steps), TotalSteps: len(steps)}, changedBy)
		s.releaseSnapshot(ctx, res.Order)
	case IsTerminal(res.Order.Status):
		s.releaseSnapshot(ctx, res.Order)
	case outcome.Failed():
		s.saveSnapshot(ctx, ws, res.Order, idx, len(outcome.Actions)-1,
			workstate.Progress{CompletedSteps: completed, TotalSteps: len(steps)}, changedBy)
	case next != nil:
		s.saveSnapshot(ctx, firstNonEmpty(next.WorkstationID, ws), res.Order, idx+1, 0,
			workstate.Progress{CompletedSteps: completed + 1, TotalSteps: len(steps)}, changedBy)
	}

	s.log.Info("step executed",
		zap.Int64("order_id", o.ID),
		zap.Int64("order_step_id", cur.ID),
		zap.String("status", outcome.Status),
		zap.String("order_status", res.Order.Status),
	)
	if outcome.Failed() {
		return res, stepFailure(*res.Order, outcome)
	}
	return res, nil
}

// Status returns the order with its steps, current position and progress.
func (s *Service) Status(ctx context.Context, orderID int64) (*ExecutionStatus, error) {
	o, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	steps, err := s.db.ListOrderSteps(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	st := &ExecutionStatus{Order: o, Steps: steps, TotalSteps: len(steps), CompletedSteps: countDone(steps)}
	if !IsTerminal(o.Status) {
		st.CurrentStep, _ = currentStep(o, steps)
	}
	p := workstate.Progress{CompletedSteps: st.CompletedSteps, TotalSteps: st.TotalSteps}

	if st.CurrentStep != nil && s.snapshots != nil {
		ws := firstNonEmpty(o.CurrentStationID, st.CurrentStep.WorkstationID)
		if ws != "" {
			snap, err := s.snapshots.Active(ctx, ws)
			if err != nil {
				s.log.Warn("read work state", zap.String("workstation", ws), zap.Error(err))
			}
			if snap != nil && snap.Snapshot.CurrentOrder != nil && snap.Snapshot.CurrentOrder.ID == o.ID {
				st.WorkState = snap
				if snap.Snapshot.Progress.TotalActions > 0 && snap.Snapshot.Progress.CompletedSteps == st.CompletedSteps {
					p.CompletedActions = snap.Snapshot.Progress.CompletedActions
					p.TotalActions = snap.Snapshot.Progress.TotalActions
				}
				acts, err := s.db.ListActions(ctx, st.CurrentStep.StepID)
				if err == nil && snap.Snapshot.CurrentActionIndex < len(acts) {
					a := acts[snap.Snapshot.CurrentActionIndex]
					st.CurrentAction = &a
				}
			}
		}
	}
	if o.Status == StatusCompleted {
		p.CompletedSteps = p.TotalSteps
	}
	st.Progress = p.Percent()
	return st, nil
}

// History returns the order's status transitions, oldest first.
func (s *Service) History(ctx context.Context, orderID int64) ([]store.OrderStatusHistory, error) {
	if _, err := s.db.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.db.ListStatusHistory(ctx, orderID)
}

// ActionLogs returns every recorded action attempt of the order.
func (s *Service) ActionLogs(ctx context.Context, orderID int64) ([]store.ActionLog, error) {
	if _, err := s.db.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.db.ListActionLogs(ctx, orderID)
}

// UpdateMetadata changes priority, planned date, notes, sequence and
// quantity. Terminal orders accept nothing; a running order accepts only
// priority, planned date and notes.
func (s *Service) UpdateMetadata(ctx context.Context, orderID int64, m store.OrderMetadata) (*store.Order, error) {
	const op = "orders.UpdateMetadata"
	o, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if IsTerminal(o.Status) {
		return nil, errs.Validation(op, "order %d is %s and cannot be edited", o.ID, o.Status).WithCode(errs.CodeInvalidTransition)
	}
	if o.Status == StatusInProgress && (m.Sequence != nil || m.Quantity != nil) {
		return nil, errs.Validation(op, "sequence and quantity cannot change while order %d is in progress", o.ID)
	}
	if m.Quantity != nil && *m.Quantity <= 0 {
		return nil, errs.Validation(op, "quantity must be positive")
	}
	if m.Quantity != nil && *m.Quantity < o.CompletedQuantity {
		return nil, errs.Validation(op, "quantity %d is below completed quantity %d", *m.Quantity, o.CompletedQuantity)
	}
	if m.Sequence != nil && *m.Sequence <= 0 {
		return nil, errs.Validation(op, "sequence must be positive")
	}
	if err := s.db.UpdateOrderMetadata(ctx, o.ID, m, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.db.GetOrder(ctx, o.ID)
}

// ReportProduction adds produced units while the order is running or
// paused.
func (s *Service) ReportProduction(ctx context.Context, orderID int64, units int) (*store.Order, error) {
	const op = "orders.ReportProduction"
	if units <= 0 {
		return nil, errs.Validation(op, "units must be positive")
	}
	if _, err := s.db.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	if err := s.db.AddCompletedQuantity(ctx, orderID, units, s.now().UTC()); err != nil {
		return nil, err
	}
	o, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.emit.EmitProductionReported(*o, units)
	return o, nil
}

// transition applies one accepted status change and its history row.
func (s *Service) transition(ctx context.Context, tx *store.Tx, o *store.Order, to, changedBy, reason string, now time.Time) error {
	if err := checkTransition("orders.transition", o, to); err != nil {
		return err
	}
	if err := tx.CompareAndSetOrderStatus(ctx, o.ID, o.Status, to, now); err != nil {
		return err
	}
	if _, err := tx.InsertStatusHistory(ctx, &store.OrderStatusHistory{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   to,
		ChangedBy:  firstNonEmpty(changedBy, "system"),
		Reason:     reason,
		CreatedAt:  now,
	}); err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	metrics.OrderTransitions.WithLabelValues(o.Status, to).Inc()
	s.log.Info("order status changed",
		zap.Int64("order_id", o.ID),
		zap.String("from", o.Status),
		zap.String("to", to),
		zap.String("by", changedBy),
		zap.String("reason", reason),
	)
	return nil
}

func checkTransition(op string, o *store.Order, to string) error {
	if IsTerminal(o.Status) {
		return errs.Validation(op, "order %d is %s", o.ID, o.Status).WithCode(errs.CodeInvalidTransition)
	}
	if !IsValidTransition(o.Status, to) {
		return errs.Validation(op, "invalid transition from %s to %s", o.Status, to).WithCode(errs.CodeInvalidTransition)
	}
	return nil
}

func (s *Service) saveSnapshot(ctx context.Context, ws string, o *store.Order, stepIdx, actionIdx int, p workstate.Progress, operator string) {
	if s.snapshots == nil || ws == "" {
		return
	}
	snap := workstate.Snapshot{
		CurrentOrder:       &workstate.OrderRef{ID: o.ID, OrderNumber: o.OrderNumber, Status: o.Status},
		CurrentStepIndex:   stepIdx,
		CurrentActionIndex: actionIdx,
		IsExecutionMode:    o.Status == StatusInProgress,
		Progress:           p,
		Operator:           operator,
	}
	if err := s.snapshots.Save(ctx, ws, snap); err != nil {
		s.log.Warn("save work state", zap.String("workstation", ws), zap.Error(err))
	}
}

// releaseSnapshot clears the station's snapshot when it points at o.
func (s *Service) releaseSnapshot(ctx context.Context, o *store.Order) {
	if s.snapshots == nil || o.CurrentStationID == "" {
		return
	}
	st, err := s.snapshots.Active(ctx, o.CurrentStationID)
	if err != nil || st == nil || st.Snapshot.CurrentOrder == nil || st.Snapshot.CurrentOrder.ID != o.ID {
		return
	}
	if err := s.snapshots.Clear(ctx, o.CurrentStationID); err != nil {
		s.log.Warn("clear work state", zap.String("workstation", o.CurrentStationID), zap.Error(err))
	}
}

// currentStep returns the step the cursor points at, or the first step
// still open, with its index.
func currentStep(o *store.Order, steps []store.OrderStep) (*store.OrderStep, int) {
	if o.CurrentStepID != nil {
		for i := range steps {
			if steps[i].StepID == *o.CurrentStepID && !stepDone(steps[i].Status) {
				return &steps[i], i
			}
		}
	}
	for i := range steps {
		if !stepDone(steps[i].Status) {
			return &steps[i], i
		}
	}
	return nil, -1
}

func nextStep(steps []store.OrderStep, afterID int64) *store.OrderStep {
	seen := false
	for i := range steps {
		if steps[i].ID == afterID {
			seen = true
			continue
		}
		if seen && !stepDone(steps[i].Status) {
			return &steps[i]
		}
	}
	return nil
}

func countDone(steps []store.OrderStep) int {
	n := 0
	for _, st := range steps {
		if stepDone(st.Status) {
			n++
		}
	}
	return n
}

// asValidation turns a missing reference into a validation error.
func asValidation(op string, err error) error {
	if errors.Is(err, errs.ErrNotFound) {
		return errs.Validation(op, "%v", err)
	}
	return err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
