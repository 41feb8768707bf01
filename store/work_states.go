package store

import (
	"context"
	"encoding/json"
	"time"
)

// WorkState is the persisted progress snapshot of a workstation.
type WorkState struct {
	WorkstationID string          `json:"workstation_id"`
	State         json.RawMessage `json:"state"`
	IsActive      bool            `json:"is_active"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// UpsertWorkState writes the snapshot and marks it active.
func (q *Queries) UpsertWorkState(ctx context.Context, workstationID string, state []byte, now time.Time) error {
	_, err := q.r.ExecContext(ctx, q.q(`INSERT INTO workstation_work_states (workstation_id, state, is_active, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(workstation_id) DO UPDATE SET
			state=excluded.state, is_active=excluded.is_active, updated_at=excluded.updated_at`),
		workstationID, string(state), true, q.ts(now))
	return err
}

func (q *Queries) GetWorkState(ctx context.Context, workstationID string) (*WorkState, error) {
	var w WorkState
	var state string
	var updatedAt any
	err := q.r.QueryRowContext(ctx, q.q(`SELECT workstation_id, state, is_active, updated_at
		FROM workstation_work_states WHERE workstation_id=?`), workstationID).
		Scan(&w.WorkstationID, &state, &w.IsActive, &updatedAt)
	if err != nil {
		return nil, notFound(err, "store.GetWorkState", "no work state for %s", workstationID)
	}
	w.State = json.RawMessage(state)
	w.UpdatedAt = parseTime(updatedAt)
	return &w, nil
}

// DeactivateWorkState marks the snapshot inactive; the row is kept.
func (q *Queries) DeactivateWorkState(ctx context.Context, workstationID string, now time.Time) error {
	_, err := q.r.ExecContext(ctx, q.q(`UPDATE workstation_work_states SET is_active=?, updated_at=?
		WHERE workstation_id=?`), false, q.ts(now), workstationID)
	return err
}

// ListWorkStates returns every stored snapshot, active or not.
func (q *Queries) ListWorkStates(ctx context.Context) ([]*WorkState, error) {
	rows, err := q.r.QueryContext(ctx, `SELECT workstation_id, state, is_active, updated_at
		FROM workstation_work_states ORDER BY workstation_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*WorkState
	for rows.Next() {
		var w WorkState
		var state string
		var updatedAt any
		if err := rows.Scan(&w.WorkstationID, &state, &w.IsActive, &updatedAt); err != nil {
			return nil, err
		}
		w.State = json.RawMessage(state)
		w.UpdatedAt = parseTime(updatedAt)
		out = append(out, &w)
	}
	return out, rows.Err()
}
