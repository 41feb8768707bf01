package store

import (
	"context"
	"time"
)

// ActionLog records one action attempt. Rows are only ever inserted.
type ActionLog struct {
	ID           int64     `json:"id"`
	OrderID      int64     `json:"order_id"`
	OrderStepID  int64     `json:"order_step_id"`
	ActionID     int64     `json:"action_id"`
	Attempt      int       `json:"attempt"`
	ResultValue  string    `json:"result_value"`
	Success      bool      `json:"success"`
	Simulated    bool      `json:"simulated"`
	DurationMs   int64     `json:"duration_ms"`
	ErrorMessage string    `json:"error_message"`
	DeviceID     string    `json:"device_id"`
	Address      string    `json:"address"`
	ExecutedBy   string    `json:"executed_by"`
	CreatedAt    time.Time `json:"created_at"`
}

const actionLogSelectCols = `id, order_id, order_step_id, action_id, attempt, result_value, success, simulated,
	duration_ms, error_message, device_id, address, executed_by, created_at`

func (q *Queries) InsertActionLog(ctx context.Context, l *ActionLog) (int64, error) {
	var id int64
	err := q.r.QueryRowContext(ctx, q.q(`INSERT INTO action_logs (order_id, order_step_id, action_id, attempt,
		result_value, success, simulated, duration_ms, error_message, device_id, address, executed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		l.OrderID, l.OrderStepID, l.ActionID, l.Attempt, l.ResultValue, l.Success, l.Simulated, l.DurationMs,
		l.ErrorMessage, l.DeviceID, l.Address, l.ExecutedBy, q.ts(l.CreatedAt)).Scan(&id)
	if err != nil {
		return 0, err
	}
	l.ID = id
	return id, nil
}

// ListActionLogs returns an order's attempts in insertion order.
func (q *Queries) ListActionLogs(ctx context.Context, orderID int64) ([]ActionLog, error) {
	rows, err := q.r.QueryContext(ctx, q.q(`SELECT `+actionLogSelectCols+` FROM action_logs
		WHERE order_id=? ORDER BY id`), orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ActionLog
	for rows.Next() {
		var l ActionLog
		var createdAt any
		if err := rows.Scan(&l.ID, &l.OrderID, &l.OrderStepID, &l.ActionID, &l.Attempt, &l.ResultValue,
			&l.Success, &l.Simulated, &l.DurationMs, &l.ErrorMessage, &l.DeviceID, &l.Address,
			&l.ExecutedBy, &createdAt); err != nil {
			return nil, err
		}
		l.CreatedAt = parseTime(createdAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// CountActionLogs counts the attempts of one action within an order.
func (q *Queries) CountActionLogs(ctx context.Context, orderID, actionID int64) (int, error) {
	var n int
	err := q.r.QueryRowContext(ctx, q.q(`SELECT COUNT(*) FROM action_logs WHERE order_id=? AND action_id=?`),
		orderID, actionID).Scan(&n)
	return n, err
}
