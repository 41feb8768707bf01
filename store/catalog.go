package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"simplemes/errs"
)

// Product, BOM and Process rows are maintained by external editors; the
// engine only reads them and needs minimal creation for seeding and tests.

type Product struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type BOM struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Code      string `json:"code"`
	Version   string `json:"version"`
}

type Process struct {
	ID        int64  `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	ProductID *int64 `json:"product_id,omitempty"`
}

type Step struct {
	ID            int64  `json:"id"`
	ProcessID     int64  `json:"process_id"`
	Sequence      int    `json:"sequence"`
	Name          string `json:"name"`
	WorkstationID string `json:"workstation_id"`
}

type Action struct {
	ID             int64           `json:"id"`
	StepID         int64           `json:"step_id"`
	Sequence       int             `json:"sequence"`
	Name           string          `json:"name"`
	ActionType     string          `json:"action_type"`
	DeviceID       string          `json:"device_id"`
	DeviceAddress  string          `json:"device_address"`
	ExpectedValue  string          `json:"expected_value"`
	ValidationRule string          `json:"validation_rule"`
	TimeoutMs      int             `json:"timeout_ms"`
	RetryCount     int             `json:"retry_count"`
	IsRequired     bool            `json:"is_required"`
	Parameters     json.RawMessage `json:"parameters"`
}

func (q *Queries) CreateProduct(ctx context.Context, p *Product) (int64, error) {
	var id int64
	err := q.r.QueryRowContext(ctx, q.q(`INSERT INTO products (code, name) VALUES (?, ?) RETURNING id`),
		p.Code, p.Name).Scan(&id)
	if err != nil {
		return 0, conflict(err, "store.CreateProduct", "", "product %s already exists", p.Code)
	}
	return id, nil
}

func (q *Queries) GetProduct(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := q.r.QueryRowContext(ctx, q.q(`SELECT id, code, name FROM products WHERE id=?`), id).
		Scan(&p.ID, &p.Code, &p.Name)
	if err != nil {
		return nil, notFound(err, "store.GetProduct", "product %d not found", id)
	}
	return &p, nil
}

func (q *Queries) CreateBOM(ctx context.Context, b *BOM) (int64, error) {
	var id int64
	err := q.r.QueryRowContext(ctx, q.q(`INSERT INTO boms (product_id, code, version) VALUES (?, ?, ?) RETURNING id`),
		b.ProductID, b.Code, b.Version).Scan(&id)
	if err != nil {
		return 0, conflict(err, "store.CreateBOM", "", "bom %s already exists", b.Code)
	}
	return id, nil
}

func (q *Queries) GetBOM(ctx context.Context, id int64) (*BOM, error) {
	var b BOM
	err := q.r.QueryRowContext(ctx, q.q(`SELECT id, product_id, code, version FROM boms WHERE id=?`), id).
		Scan(&b.ID, &b.ProductID, &b.Code, &b.Version)
	if err != nil {
		return nil, notFound(err, "store.GetBOM", "bom %d not found", id)
	}
	return &b, nil
}

func (q *Queries) CreateProcess(ctx context.Context, p *Process) (int64, error) {
	var id int64
	err := q.r.QueryRowContext(ctx, q.q(`INSERT INTO processes (code, name, product_id) VALUES (?, ?, ?) RETURNING id`),
		p.Code, p.Name, p.ProductID).Scan(&id)
	if err != nil {
		return 0, conflict(err, "store.CreateProcess", "", "process %s already exists", p.Code)
	}
	return id, nil
}

func (q *Queries) GetProcess(ctx context.Context, id int64) (*Process, error) {
	var p Process
	var productID sql.NullInt64
	err := q.r.QueryRowContext(ctx, q.q(`SELECT id, code, name, product_id FROM processes WHERE id=?`), id).
		Scan(&p.ID, &p.Code, &p.Name, &productID)
	if err != nil {
		return nil, notFound(err, "store.GetProcess", "process %d not found", id)
	}
	if productID.Valid {
		p.ProductID = &productID.Int64
	}
	return &p, nil
}

// CreateStep inserts a step; (process_id, sequence) is unique.
func (q *Queries) CreateStep(ctx context.Context, s *Step) (int64, error) {
	var id int64
	err := q.r.QueryRowContext(ctx, q.q(`INSERT INTO steps (process_id, sequence, name, workstation_id)
		VALUES (?, ?, ?, ?) RETURNING id`),
		s.ProcessID, s.Sequence, s.Name, s.WorkstationID).Scan(&id)
	if err != nil {
		return 0, conflict(err, "store.CreateStep", errs.CodeSequenceCollision,
			"step sequence %d already used in process %d", s.Sequence, s.ProcessID)
	}
	return id, nil
}

func (q *Queries) GetStep(ctx context.Context, id int64) (*Step, error) {
	var s Step
	err := q.r.QueryRowContext(ctx, q.q(`SELECT id, process_id, sequence, name, workstation_id FROM steps WHERE id=?`), id).
		Scan(&s.ID, &s.ProcessID, &s.Sequence, &s.Name, &s.WorkstationID)
	if err != nil {
		return nil, notFound(err, "store.GetStep", "step %d not found", id)
	}
	return &s, nil
}

// ListSteps returns a process's steps in ascending sequence.
func (q *Queries) ListSteps(ctx context.Context, processID int64) ([]Step, error) {
	rows, err := q.r.QueryContext(ctx, q.q(`SELECT id, process_id, sequence, name, workstation_id
		FROM steps WHERE process_id=? ORDER BY sequence`), processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Step
	for rows.Next() {
		var s Step
		if err := rows.Scan(&s.ID, &s.ProcessID, &s.Sequence, &s.Name, &s.WorkstationID); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const actionSelectCols = `id, step_id, sequence, name, action_type, device_id, device_address,
	expected_value, validation_rule, timeout_ms, retry_count, is_required, parameters`

func scanAction(row interface{ Scan(...any) error }) (*Action, error) {
	var a Action
	var params string
	if err := row.Scan(&a.ID, &a.StepID, &a.Sequence, &a.Name, &a.ActionType, &a.DeviceID, &a.DeviceAddress,
		&a.ExpectedValue, &a.ValidationRule, &a.TimeoutMs, &a.RetryCount, &a.IsRequired, &params); err != nil {
		return nil, err
	}
	if params == "" {
		params = "{}"
	}
	a.Parameters = json.RawMessage(params)
	return &a, nil
}

// CreateAction inserts an action; (step_id, sequence) is unique.
func (q *Queries) CreateAction(ctx context.Context, a *Action) (int64, error) {
	params := string(a.Parameters)
	if params == "" {
		params = "{}"
	}
	var id int64
	err := q.r.QueryRowContext(ctx, q.q(`INSERT INTO actions (step_id, sequence, name, action_type, device_id,
		device_address, expected_value, validation_rule, timeout_ms, retry_count, is_required, parameters)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		a.StepID, a.Sequence, a.Name, a.ActionType, a.DeviceID, a.DeviceAddress, a.ExpectedValue,
		a.ValidationRule, a.TimeoutMs, a.RetryCount, a.IsRequired, params).Scan(&id)
	if err != nil {
		return 0, conflict(err, "store.CreateAction", errs.CodeSequenceCollision,
			"action sequence %d already used in step %d", a.Sequence, a.StepID)
	}
	return id, nil
}

// ListActions returns a step's actions in ascending sequence.
func (q *Queries) ListActions(ctx context.Context, stepID int64) ([]Action, error) {
	rows, err := q.r.QueryContext(ctx, q.q(`SELECT `+actionSelectCols+` FROM actions WHERE step_id=? ORDER BY sequence`), stepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
