package store

import (
	"context"
	"database/sql"
	"time"

	"simplemes/errs"
)

// OrderStep is the per-order execution cursor for one process step.
type OrderStep struct {
	ID            int64      `json:"id"`
	OrderID       int64      `json:"order_id"`
	StepID        int64      `json:"step_id"`
	Sequence      int        `json:"sequence"`
	Status        string     `json:"status"`
	WorkstationID string     `json:"workstation_id"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ErrorMessage  string     `json:"error_message"`
}

const orderStepSelectCols = `id, order_id, step_id, sequence, status, workstation_id, started_at, completed_at, error_message`

func scanOrderStep(row interface{ Scan(...any) error }) (*OrderStep, error) {
	var s OrderStep
	var started, completed any
	if err := row.Scan(&s.ID, &s.OrderID, &s.StepID, &s.Sequence, &s.Status, &s.WorkstationID,
		&started, &completed, &s.ErrorMessage); err != nil {
		return nil, err
	}
	s.StartedAt = parseTimePtr(started)
	s.CompletedAt = parseTimePtr(completed)
	return &s, nil
}

func scanOrderSteps(rows *sql.Rows) ([]OrderStep, error) {
	var out []OrderStep
	for rows.Next() {
		s, err := scanOrderStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// CreateOrderStep inserts the pending cursor for one (order, step) pair.
func (q *Queries) CreateOrderStep(ctx context.Context, orderID int64, step Step) (int64, error) {
	var id int64
	err := q.r.QueryRowContext(ctx, q.q(`INSERT INTO order_steps (order_id, step_id, sequence, status, workstation_id)
		VALUES (?, ?, ?, 'pending', ?) RETURNING id`),
		orderID, step.ID, step.Sequence, step.WorkstationID).Scan(&id)
	if err != nil {
		return 0, conflict(err, "store.CreateOrderStep", "", "order %d already has step %d", orderID, step.ID)
	}
	return id, nil
}

func (q *Queries) GetOrderStep(ctx context.Context, id int64) (*OrderStep, error) {
	s, err := scanOrderStep(q.r.QueryRowContext(ctx,
		q.q(`SELECT `+orderStepSelectCols+` FROM order_steps WHERE id=?`), id))
	if err != nil {
		return nil, notFound(err, "store.GetOrderStep", "order step %d not found", id)
	}
	return s, nil
}

// ListOrderSteps returns an order's steps in ascending sequence.
func (q *Queries) ListOrderSteps(ctx context.Context, orderID int64) ([]OrderStep, error) {
	rows, err := q.r.QueryContext(ctx, q.q(`SELECT `+orderStepSelectCols+` FROM order_steps
		WHERE order_id=? ORDER BY sequence`), orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderSteps(rows)
}

// StartOrderStep marks a step in_progress, clearing any previous error.
// Any claim still held on the step is dropped.
func (q *Queries) StartOrderStep(ctx context.Context, id int64, workstationID string, now time.Time) error {
	_, err := q.r.ExecContext(ctx, q.q(`UPDATE order_steps SET status='in_progress', error_message='', run_token='',
		started_at=COALESCE(started_at, ?),
		workstation_id=CASE WHEN ? = '' THEN workstation_id ELSE ? END
		WHERE id=?`), q.ts(now), workstationID, workstationID, id)
	return err
}

// ClaimOrderStep reserves an open step for one run identified by token.
// The claim holds only while the step is unclaimed and its order is
// IN_PROGRESS; otherwise it fails with a conflict.
func (q *Queries) ClaimOrderStep(ctx context.Context, id int64, token, workstationID string, now time.Time) error {
	res, err := q.r.ExecContext(ctx, q.q(`UPDATE order_steps SET status='in_progress', error_message='', run_token=?,
		started_at=COALESCE(started_at, ?),
		workstation_id=CASE WHEN ? = '' THEN workstation_id ELSE ? END
		WHERE id=? AND run_token='' AND status IN ('pending', 'in_progress')
		AND EXISTS (SELECT 1 FROM orders o WHERE o.id=order_steps.order_id AND o.status='IN_PROGRESS')`),
		token, q.ts(now), workstationID, workstationID, id)
	if err != nil {
		return err
	}
	return claimHeld(res, "store.ClaimOrderStep", id)
}

// ReleaseOrderStep drops token's claim without changing the step status.
func (q *Queries) ReleaseOrderStep(ctx context.Context, id int64, token string) error {
	_, err := q.r.ExecContext(ctx, q.q(`UPDATE order_steps SET run_token='' WHERE id=? AND run_token=?`), id, token)
	return err
}

// CompleteOrderStep marks a claimed step completed and releases the claim.
func (q *Queries) CompleteOrderStep(ctx context.Context, id int64, token string, now time.Time) error {
	res, err := q.r.ExecContext(ctx, q.q(`UPDATE order_steps SET status='completed', error_message='', run_token='',
		started_at=COALESCE(started_at, ?), completed_at=? WHERE id=? AND run_token=?`),
		q.ts(now), q.ts(now), id, token)
	if err != nil {
		return err
	}
	return claimHeld(res, "store.CompleteOrderStep", id)
}

// FailOrderStep marks a claimed step error with a message.
func (q *Queries) FailOrderStep(ctx context.Context, id int64, token, msg string, now time.Time) error {
	res, err := q.r.ExecContext(ctx, q.q(`UPDATE order_steps SET status='error', error_message=?, run_token='',
		started_at=COALESCE(started_at, ?) WHERE id=? AND run_token=?`), msg, q.ts(now), id, token)
	if err != nil {
		return err
	}
	return claimHeld(res, "store.FailOrderStep", id)
}

// SkipOrderStep marks a claimed step skipped.
func (q *Queries) SkipOrderStep(ctx context.Context, id int64, token string, now time.Time) error {
	res, err := q.r.ExecContext(ctx, q.q(`UPDATE order_steps SET status='skipped', run_token='', completed_at=?
		WHERE id=? AND run_token=?`), q.ts(now), id, token)
	if err != nil {
		return err
	}
	return claimHeld(res, "store.SkipOrderStep", id)
}

func claimHeld(res sql.Result, op string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.Conflict(op, "order step %d is being run elsewhere", id).WithCode(errs.CodeStepClaimed)
	}
	return nil
}
