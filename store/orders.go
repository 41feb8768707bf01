package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"simplemes/errs"
)

type Order struct {
	ID                int64      `json:"id"`
	OrderNumber       string     `json:"order_number"`
	ProductionNumber  string     `json:"production_number"`
	ProductID         int64      `json:"product_id"`
	ProcessID         int64      `json:"process_id"`
	BOMID             *int64     `json:"bom_id,omitempty"`
	Quantity          int        `json:"quantity"`
	CompletedQuantity int        `json:"completed_quantity"`
	Priority          int        `json:"priority"`
	Sequence          int64      `json:"sequence"`
	Status            string     `json:"status"`
	CurrentStationID  string     `json:"current_station_id"`
	CurrentStepID     *int64     `json:"current_step_id,omitempty"`
	PlannedDate       *time.Time `json:"planned_date,omitempty"`
	Notes             string     `json:"notes"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// OrderStatusHistory is one accepted status transition.
type OrderStatusHistory struct {
	ID         int64     `json:"id"`
	OrderID    int64     `json:"order_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ChangedBy  string    `json:"changed_by"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// OrderMetadata carries the non-state-machine fields; nil means unchanged.
type OrderMetadata struct {
	Priority    *int
	PlannedDate *time.Time
	Notes       *string
	Sequence    *int64
	Quantity    *int
}

const orderSelectCols = `id, order_number, production_number, product_id, process_id, bom_id, quantity,
	completed_quantity, priority, sequence, status, current_station_id, current_step_id, planned_date,
	notes, started_at, completed_at, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*Order, error) {
	var o Order
	var bomID, stepID sql.NullInt64
	var planned, started, completed, createdAt, updatedAt any
	if err := row.Scan(&o.ID, &o.OrderNumber, &o.ProductionNumber, &o.ProductID, &o.ProcessID, &bomID,
		&o.Quantity, &o.CompletedQuantity, &o.Priority, &o.Sequence, &o.Status, &o.CurrentStationID,
		&stepID, &planned, &o.Notes, &started, &completed, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if bomID.Valid {
		o.BOMID = &bomID.Int64
	}
	if stepID.Valid {
		o.CurrentStepID = &stepID.Int64
	}
	o.PlannedDate = parseTimePtr(planned)
	o.StartedAt = parseTimePtr(started)
	o.CompletedAt = parseTimePtr(completed)
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]Order, error) {
	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// NextOrderSequence returns MAX(sequence)+1.
func (q *Queries) NextOrderSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := q.r.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM orders`).Scan(&seq)
	return seq, err
}

// CreateOrder inserts a PENDING order. A zero Sequence is assigned the next
// free value.
func (q *Queries) CreateOrder(ctx context.Context, o *Order, now time.Time) (int64, error) {
	if o.Sequence == 0 {
		seq, err := q.NextOrderSequence(ctx)
		if err != nil {
			return 0, err
		}
		o.Sequence = seq
	}
	if o.Status == "" {
		o.Status = "PENDING"
	}
	var id int64
	err := q.r.QueryRowContext(ctx, q.q(`INSERT INTO orders (order_number, production_number, product_id,
		process_id, bom_id, quantity, priority, sequence, status, planned_date, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		o.OrderNumber, o.ProductionNumber, o.ProductID, o.ProcessID, o.BOMID, o.Quantity, o.Priority,
		o.Sequence, o.Status, q.tsPtr(o.PlannedDate), o.Notes, q.ts(now), q.ts(now)).Scan(&id)
	if err != nil {
		return 0, orderConflict(err, "store.CreateOrder", o)
	}
	o.ID = id
	return id, nil
}

func orderConflict(err error, op string, o *Order) error {
	if !IsUniqueViolation(err) {
		return err
	}
	if strings.Contains(err.Error(), "sequence") {
		return errs.Conflict(op, "order sequence %d already in use", o.Sequence).
			WithCode(errs.CodeSequenceCollision).Wrap(err)
	}
	return errs.Conflict(op, "order number %s already exists", o.OrderNumber).Wrap(err)
}

func (q *Queries) GetOrder(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrder(q.r.QueryRowContext(ctx, q.q(`SELECT `+orderSelectCols+` FROM orders WHERE id=?`), id))
	if err != nil {
		return nil, notFound(err, "store.GetOrder", "order %d not found", id)
	}
	return o, nil
}

func (q *Queries) GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	o, err := scanOrder(q.r.QueryRowContext(ctx,
		q.q(`SELECT `+orderSelectCols+` FROM orders WHERE order_number=?`), orderNumber))
	if err != nil {
		return nil, notFound(err, "store.GetOrderByNumber", "order %s not found", orderNumber)
	}
	return o, nil
}

// ListOrders returns orders in scheduling order (priority desc, sequence
// asc). An empty status lists all.
func (q *Queries) ListOrders(ctx context.Context, status string) ([]Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY priority DESC, sequence`
	rows, err := q.r.QueryContext(ctx, q.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// CompareAndSetOrderStatus moves an order from one status to another. It
// fails with a Conflict when the stored status is no longer from.
// started_at is stamped on the first move to IN_PROGRESS and completed_at
// on COMPLETED or CANCELLED.
func (q *Queries) CompareAndSetOrderStatus(ctx context.Context, id int64, from, to string, now time.Time) error {
	set := `status=?, updated_at=?`
	args := []any{to, q.ts(now)}
	switch to {
	case "IN_PROGRESS":
		set += `, started_at=COALESCE(started_at, ?)`
		args = append(args, q.ts(now))
	case "COMPLETED", "CANCELLED":
		set += `, completed_at=?`
		args = append(args, q.ts(now))
	}
	args = append(args, id, from)
	res, err := q.r.ExecContext(ctx, q.q(`UPDATE orders SET `+set+` WHERE id=? AND status=?`), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.Conflict("store.CompareAndSetOrderStatus",
			"order %d is no longer %s", id, from).WithCode(errs.CodeInvalidTransition)
	}
	return nil
}

// InsertStatusHistory appends one transition row.
func (q *Queries) InsertStatusHistory(ctx context.Context, h *OrderStatusHistory) (int64, error) {
	var id int64
	err := q.r.QueryRowContext(ctx, q.q(`INSERT INTO order_status_history
		(order_id, from_status, to_status, changed_by, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		h.OrderID, h.FromStatus, h.ToStatus, h.ChangedBy, h.Reason, q.ts(h.CreatedAt)).Scan(&id)
	return id, err
}

func (q *Queries) ListStatusHistory(ctx context.Context, orderID int64) ([]OrderStatusHistory, error) {
	rows, err := q.r.QueryContext(ctx, q.q(`SELECT id, order_id, from_status, to_status, changed_by, reason, created_at
		FROM order_status_history WHERE order_id=? ORDER BY id`), orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OrderStatusHistory
	for rows.Next() {
		var h OrderStatusHistory
		var createdAt any
		if err := rows.Scan(&h.ID, &h.OrderID, &h.FromStatus, &h.ToStatus, &h.ChangedBy, &h.Reason, &createdAt); err != nil {
			return nil, err
		}
		h.CreatedAt = parseTime(createdAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

// SetOrderCursor records the step currently being worked and its station.
func (q *Queries) SetOrderCursor(ctx context.Context, id int64, stepID *int64, stationID string, now time.Time) error {
	_, err := q.r.ExecContext(ctx, q.q(`UPDATE orders SET current_step_id=?, current_station_id=?, updated_at=? WHERE id=?`),
		stepID, stationID, q.ts(now), id)
	return err
}

// AddCompletedQuantity increments completed_quantity while the order is
// running or paused.
func (q *Queries) AddCompletedQuantity(ctx context.Context, id int64, units int, now time.Time) error {
	res, err := q.r.ExecContext(ctx, q.q(`UPDATE orders SET completed_quantity = completed_quantity + ?, updated_at=?
		WHERE id=? AND status IN ('IN_PROGRESS', 'PAUSED')`), units, q.ts(now), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.Conflict("store.AddCompletedQuantity", "order %d is not running", id).
			WithCode(errs.CodeInvalidTransition)
	}
	return nil
}

// UpdateOrderMetadata writes the non-nil fields of m.
func (q *Queries) UpdateOrderMetadata(ctx context.Context, id int64, m OrderMetadata, now time.Time) error {
	var sets []string
	var args []any
	if m.Priority != nil {
		sets = append(sets, "priority=?")
		args = append(args, *m.Priority)
	}
	if m.PlannedDate != nil {
		sets = append(sets, "planned_date=?")
		args = append(args, q.ts(*m.PlannedDate))
	}
	if m.Notes != nil {
		sets = append(sets, "notes=?")
		args = append(args, *m.Notes)
	}
	if m.Sequence != nil {
		sets = append(sets, "sequence=?")
		args = append(args, *m.Sequence)
	}
	if m.Quantity != nil {
		sets = append(sets, "quantity=?")
		args = append(args, *m.Quantity)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at=?")
	args = append(args, q.ts(now), id)
	_, err := q.r.ExecContext(ctx, q.q(`UPDATE orders SET `+strings.Join(sets, ", ")+` WHERE id=?`), args...)
	if err != nil && m.Sequence != nil && IsUniqueViolation(err) {
		return errs.Conflict("store.UpdateOrderMetadata", "order sequence %d already in use", *m.Sequence).
			WithCode(errs.CodeSequenceCollision).Wrap(err)
	}
	return err
}

// DeleteOrder removes a PENDING order and its order steps. Orders that have
// ever started are kept.
func (q *Queries) DeleteOrder(ctx context.Context, id int64) error {
	var status string
	var started any
	err := q.r.QueryRowContext(ctx, q.q(`SELECT status, started_at FROM orders WHERE id=?`), id).Scan(&status, &started)
	if err != nil {
		return notFound(err, "store.DeleteOrder", "order %d not found", id)
	}
	if status != "PENDING" || parseTimePtr(started) != nil {
		return errs.Conflict("store.DeleteOrder", "order %d is %s and cannot be deleted", id, status).
			WithCode(errs.CodeInvalidTransition)
	}
	if _, err := q.r.ExecContext(ctx, q.q(`DELETE FROM order_steps WHERE order_id=?`), id); err != nil {
		return err
	}
	_, err = q.r.ExecContext(ctx, q.q(`DELETE FROM orders WHERE id=? AND status='PENDING'`), id)
	return err
}
