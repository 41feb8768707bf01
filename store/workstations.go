package store

import (
	"context"
	"strings"
	"time"
)

type Workstation struct {
	ID            int64     `json:"id"`
	WorkstationID string    `json:"workstation_id"`
	Name          string    `json:"name"`
	Location      string    `json:"location"`
	AutoLogin     bool      `json:"auto_login"`
	AllowedIPs    []string  `json:"allowed_ips"`
	CreatedAt     time.Time `json:"created_at"`
}

const workstationSelectCols = `id, workstation_id, name, location, auto_login, allowed_ips, created_at`

func scanWorkstation(row interface{ Scan(...any) error }) (*Workstation, error) {
	var w Workstation
	var ips string
	var createdAt any
	if err := row.Scan(&w.ID, &w.WorkstationID, &w.Name, &w.Location, &w.AutoLogin, &ips, &createdAt); err != nil {
		return nil, err
	}
	w.AllowedIPs = splitCSV(ips)
	w.CreatedAt = parseTime(createdAt)
	return &w, nil
}

// UpsertWorkstation creates or refreshes a workstation from seed config.
func (q *Queries) UpsertWorkstation(ctx context.Context, w *Workstation) error {
	_, err := q.r.ExecContext(ctx, q.q(`INSERT INTO workstations (workstation_id, name, location, auto_login, allowed_ips)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(workstation_id) DO UPDATE SET
			name=excluded.name, location=excluded.location,
			auto_login=excluded.auto_login, allowed_ips=excluded.allowed_ips`),
		w.WorkstationID, w.Name, w.Location, w.AutoLogin, strings.Join(w.AllowedIPs, ","))
	return err
}

func (q *Queries) GetWorkstation(ctx context.Context, workstationID string) (*Workstation, error) {
	w, err := scanWorkstation(q.r.QueryRowContext(ctx,
		q.q(`SELECT `+workstationSelectCols+` FROM workstations WHERE workstation_id=?`), workstationID))
	if err != nil {
		return nil, notFound(err, "store.GetWorkstation", "workstation %s not found", workstationID)
	}
	return w, nil
}

func (q *Queries) ListWorkstations(ctx context.Context) ([]Workstation, error) {
	rows, err := q.r.QueryContext(ctx, `SELECT `+workstationSelectCols+` FROM workstations ORDER BY workstation_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Workstation
	for rows.Next() {
		w, err := scanWorkstation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
