package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"simplemes/errs"
)

// WorkstationSession is one occupancy of a workstation.
type WorkstationSession struct {
	ID               int64             `json:"id"`
	SessionID        string            `json:"session_id"`
	WorkstationID    string            `json:"workstation_id"`
	UserID           string            `json:"user_id"`
	Username         string            `json:"username"`
	ClientIP         string            `json:"client_ip"`
	LoginTime        time.Time         `json:"login_time"`
	LastActivity     time.Time         `json:"last_activity"`
	LogoutTime       *time.Time        `json:"logout_time,omitempty"`
	IsActive         bool              `json:"is_active"`
	ConnectedDevices map[string]string `json:"connected_devices"`
}

const sessionSelectCols = `id, session_id, workstation_id, user_id, username, client_ip, login_time,
	last_activity, logout_time, is_active, connected_devices`

func scanSession(row interface{ Scan(...any) error }) (*WorkstationSession, error) {
	var s WorkstationSession
	var login, last, logout any
	var devices string
	if err := row.Scan(&s.ID, &s.SessionID, &s.WorkstationID, &s.UserID, &s.Username, &s.ClientIP,
		&login, &last, &logout, &s.IsActive, &devices); err != nil {
		return nil, err
	}
	s.LoginTime = parseTime(login)
	s.LastActivity = parseTime(last)
	s.LogoutTime = parseTimePtr(logout)
	s.ConnectedDevices = map[string]string{}
	if devices != "" {
		json.Unmarshal([]byte(devices), &s.ConnectedDevices)
	}
	return &s, nil
}

func scanSessions(rows *sql.Rows) ([]WorkstationSession, error) {
	var out []WorkstationSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// InsertSession creates an active session. The partial unique index turns a
// second active row for the same workstation into an occupied Conflict.
func (q *Queries) InsertSession(ctx context.Context, s *WorkstationSession) (int64, error) {
	devices, _ := json.Marshal(s.ConnectedDevices)
	if s.ConnectedDevices == nil {
		devices = []byte("{}")
	}
	var id int64
	err := q.r.QueryRowContext(ctx, q.q(`INSERT INTO workstation_sessions (session_id, workstation_id, user_id,
		username, client_ip, login_time, last_activity, is_active, connected_devices)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		s.SessionID, s.WorkstationID, s.UserID, s.Username, s.ClientIP, q.ts(s.LoginTime),
		q.ts(s.LastActivity), true, string(devices)).Scan(&id)
	if err != nil {
		return 0, conflict(err, "store.InsertSession", errs.CodeWorkstationOccupied,
			"workstation %s is occupied", s.WorkstationID)
	}
	s.ID = id
	s.IsActive = true
	return id, nil
}

// GetActiveSession returns the open session for a workstation.
func (q *Queries) GetActiveSession(ctx context.Context, workstationID string) (*WorkstationSession, error) {
	s, err := scanSession(q.r.QueryRowContext(ctx, q.q(`SELECT `+sessionSelectCols+` FROM workstation_sessions
		WHERE workstation_id=? AND is_active=? AND logout_time IS NULL`), workstationID, true))
	if err != nil {
		return nil, notFound(err, "store.GetActiveSession", "no active session on %s", workstationID)
	}
	return s, nil
}

func (q *Queries) GetSession(ctx context.Context, sessionID string) (*WorkstationSession, error) {
	s, err := scanSession(q.r.QueryRowContext(ctx,
		q.q(`SELECT `+sessionSelectCols+` FROM workstation_sessions WHERE session_id=?`), sessionID))
	if err != nil {
		return nil, notFound(err, "store.GetSession", "session %s not found", sessionID)
	}
	return s, nil
}

// CloseSession ends an open session. It reports whether a row changed.
func (q *Queries) CloseSession(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	res, err := q.r.ExecContext(ctx, q.q(`UPDATE workstation_sessions SET is_active=?, logout_time=?
		WHERE session_id=? AND is_active=? AND logout_time IS NULL`), false, q.ts(now), sessionID, true)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// TouchSession refreshes last_activity on an open session.
func (q *Queries) TouchSession(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	res, err := q.r.ExecContext(ctx, q.q(`UPDATE workstation_sessions SET last_activity=?
		WHERE session_id=? AND is_active=? AND logout_time IS NULL`), q.ts(now), sessionID, true)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateSessionDevices stores the device→status map from login bootstrap.
func (q *Queries) UpdateSessionDevices(ctx context.Context, sessionID string, devices map[string]string) error {
	data, err := json.Marshal(devices)
	if err != nil {
		return err
	}
	_, err = q.r.ExecContext(ctx, q.q(`UPDATE workstation_sessions SET connected_devices=? WHERE session_id=?`),
		string(data), sessionID)
	return err
}

// ListStaleSessions returns open sessions idle since before cutoff.
func (q *Queries) ListStaleSessions(ctx context.Context, cutoff time.Time) ([]WorkstationSession, error) {
	rows, err := q.r.QueryContext(ctx, q.q(`SELECT `+sessionSelectCols+` FROM workstation_sessions
		WHERE is_active=? AND logout_time IS NULL AND last_activity < ? ORDER BY id`), true, q.ts(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListSessions returns a workstation's sessions, newest first.
func (q *Queries) ListSessions(ctx context.Context, workstationID string, limit int) ([]WorkstationSession, error) {
	rows, err := q.r.QueryContext(ctx, q.q(`SELECT `+sessionSelectCols+` FROM workstation_sessions
		WHERE workstation_id=? ORDER BY id DESC LIMIT ?`), workstationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}
