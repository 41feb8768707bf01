// Package sessions enforces one active operator session per workstation.
package sessions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"simplemes/config"
	"simplemes/errs"
	"simplemes/metrics"
	"simplemes/plc"
	"simplemes/store"
	"simplemes/workstate"
)

// DeviceConnector opens device connections during login bootstrap.
type DeviceConnector interface {
	Connect(ctx context.Context, deviceID string) (plc.ConnectResult, error)
}

// LoginRequest identifies who is claiming a workstation and from where.
type LoginRequest struct {
	WorkstationID string `json:"workstation_id"`
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	ClientIP      string `json:"client_ip"`
}

// Occupant describes the session holding a workstation, for a takeover
// prompt.
type Occupant struct {
	SessionID    string           `json:"sessionId"`
	UserID       string           `json:"userId"`
	Username     string           `json:"username"`
	LoginTime    time.Time        `json:"loginTime"`
	LastActivity time.Time        `json:"lastActivity"`
	WorkState    *workstate.State `json:"workState,omitempty"`
}

// LoginResult is a successful login or takeover.
type LoginResult struct {
	Session   *store.WorkstationSession `json:"session"`
	Closed    *store.WorkstationSession `json:"closed,omitempty"`
	Devices   map[string]string         `json:"devices"`
	WorkState *workstate.State          `json:"workState,omitempty"`
}

const bootstrapConcurrency = 4

// Manager owns workstation occupancy.
type Manager struct {
	db      *store.DB
	states  *workstate.Manager
	devices DeviceConnector
	emit    EventEmitter
	cfg     config.SessionConfig
	log     *zap.Logger
	now     func() time.Time

	stopChan chan struct{}
	done     chan struct{}
}

// New returns a session manager. devices and emit may be nil.
func New(db *store.DB, states *workstate.Manager, devices DeviceConnector, emit EventEmitter, cfg config.SessionConfig, log *zap.Logger) *Manager {
	if emit == nil {
		emit = nopEmitter{}
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Hour
	}
	return &Manager{
		db:      db,
		states:  states,
		devices: devices,
		emit:    emit,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Login opens a session on an unoccupied workstation. A session idle for
// longer than the stale threshold is closed first; a fresh one makes the
// login fail with WORKSTATION_OCCUPIED and the occupant in the details.
func (m *Manager) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	const op = "sessions.Login"
	ws, err := m.admit(ctx, op, req)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	var sess, closed *store.WorkstationSession
	err = m.db.WithTx(ctx, func(tx *store.Tx) error {
		cur, err := tx.GetActiveSession(ctx, ws.WorkstationID)
		switch {
		case errors.Is(err, errs.ErrNotFound):
		case err != nil:
			return err
		case m.isStale(cur, now):
			if _, err := tx.CloseSession(ctx, cur.SessionID, now); err != nil {
				return err
			}
			cur.IsActive = false
			cur.LogoutTime = &now
			closed = cur
		default:
			return errs.Conflict(op, "workstation %s is occupied by %s", ws.WorkstationID, cur.Username).
				WithCode(errs.CodeWorkstationOccupied)
		}
		sess = newSession(req, ws.WorkstationID, now)
		_, err = tx.InsertSession(ctx, sess)
		return err
	})
	if err != nil {
		if errs.CodeOf(err) == errs.CodeWorkstationOccupied {
			metrics.SessionEvents.WithLabelValues("occupied").Inc()
			return nil, m.occupied(ctx, op, ws.WorkstationID, err)
		}
		return nil, err
	}

	if closed != nil {
		metrics.SessionEvents.WithLabelValues("stale_closed").Inc()
		m.log.Info("closed stale session",
			zap.String("workstation", ws.WorkstationID),
			zap.String("session_id", closed.SessionID),
			zap.String("username", closed.Username),
			zap.Time("last_activity", closed.LastActivity),
		)
		m.emit.EmitSessionClosed(*closed, CloseStale)
	}
	metrics.SessionEvents.WithLabelValues("login").Inc()
	m.log.Info("workstation login",
		zap.String("workstation", ws.WorkstationID),
		zap.String("session_id", sess.SessionID),
		zap.String("username", sess.Username),
		zap.String("client_ip", sess.ClientIP),
	)
	m.emit.EmitSessionOpened(*sess, false)

	res := &LoginResult{Session: sess, Closed: closed}
	res.Devices = m.bootstrapDevices(ctx, sess)
	res.WorkState = m.activeWorkState(ctx, ws.WorkstationID)
	return res, nil
}

// Takeover closes whatever session holds the workstation and opens one for
// the caller. The work-state snapshot is left as it is so the new operator
// can resume.
func (m *Manager) Takeover(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	const op = "sessions.Takeover"
	ws, err := m.admit(ctx, op, req)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	var sess, closed *store.WorkstationSession
	err = m.db.WithTx(ctx, func(tx *store.Tx) error {
		cur, err := tx.GetActiveSession(ctx, ws.WorkstationID)
		switch {
		case errors.Is(err, errs.ErrNotFound):
		case err != nil:
			return err
		default:
			if _, err := tx.CloseSession(ctx, cur.SessionID, now); err != nil {
				return err
			}
			cur.IsActive = false
			cur.LogoutTime = &now
			closed = cur
		}
		sess = newSession(req, ws.WorkstationID, now)
		_, err = tx.InsertSession(ctx, sess)
		return err
	})
	if err != nil {
		return nil, err
	}

	if closed != nil {
		m.log.Info("workstation taken over",
			zap.String("workstation", ws.WorkstationID),
			zap.String("from", closed.Username),
			zap.String("to", sess.Username),
		)
		m.emit.EmitSessionClosed(*closed, CloseTakeover)
	}
	metrics.SessionEvents.WithLabelValues("takeover").Inc()
	m.emit.EmitSessionOpened(*sess, true)

	res := &LoginResult{Session: sess, Closed: closed}
	res.Devices = m.bootstrapDevices(ctx, sess)
	res.WorkState = m.activeWorkState(ctx, ws.WorkstationID)
	return res, nil
}

// Heartbeat refreshes a session's last activity.
func (m *Manager) Heartbeat(ctx context.Context, sessionID string) (*store.WorkstationSession, error) {
	ok, err := m.db.TouchSession(ctx, sessionID, m.now().UTC())
	if err != nil {
		return nil, err
	}
	s, err := m.db.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Conflict("sessions.Heartbeat", "session %s is closed", sessionID).
			WithCode(errs.CodeNoActiveSession)
	}
	metrics.SessionEvents.WithLabelValues("heartbeat").Inc()
	return s, nil
}

// Logout closes a session. Closing an already closed session is a no-op.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	ok, err := m.db.CloseSession(ctx, sessionID, m.now().UTC())
	if err != nil {
		return err
	}
	s, err := m.db.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if ok {
		metrics.SessionEvents.WithLabelValues("logout").Inc()
		m.log.Info("workstation logout",
			zap.String("workstation", s.WorkstationID),
			zap.String("session_id", s.SessionID),
			zap.String("username", s.Username),
		)
		m.emit.EmitSessionClosed(*s, CloseLogout)
	}
	return nil
}

// ActiveSession returns the open session on a workstation. A stale session
// is still returned until a login or sweep closes it.
func (m *Manager) ActiveSession(ctx context.Context, workstationID string) (*store.WorkstationSession, error) {
	return m.db.GetActiveSession(ctx, workstationID)
}

// RequireActive is ActiveSession with a Conflict when nobody is logged in.
func (m *Manager) RequireActive(ctx context.Context, workstationID string) (*store.WorkstationSession, error) {
	s, err := m.db.GetActiveSession(ctx, workstationID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.Conflict("sessions.RequireActive", "no active session on workstation %s", workstationID).
			WithCode(errs.CodeNoActiveSession)
	}
	return s, err
}

// IsStale reports whether s has been idle past the stale threshold.
func (m *Manager) IsStale(s *store.WorkstationSession) bool {
	return m.isStale(s, m.now().UTC())
}

func (m *Manager) isStale(s *store.WorkstationSession, now time.Time) bool {
	return now.Sub(s.LastActivity) > m.cfg.StaleAfter
}

// admit validates the request and applies the workstation's IP allow-list.
func (m *Manager) admit(ctx context.Context, op string, req LoginRequest) (*store.Workstation, error) {
	if strings.TrimSpace(req.WorkstationID) == "" {
		return nil, errs.Validation(op, "workstation id is required")
	}
	if strings.TrimSpace(req.UserID) == "" && strings.TrimSpace(req.Username) == "" {
		return nil, errs.Validation(op, "user is required")
	}
	ws, err := m.db.GetWorkstation(ctx, req.WorkstationID)
	if err != nil {
		return nil, err
	}
	if ws.AutoLogin && len(ws.AllowedIPs) > 0 && !ipAllowed(req.ClientIP, ws.AllowedIPs) {
		metrics.SessionEvents.WithLabelValues("ip_rejected").Inc()
		m.log.Warn("login rejected by ip allow-list",
			zap.String("workstation", ws.WorkstationID),
			zap.String("client_ip", req.ClientIP),
		)
		return nil, errs.Validation(op, "client %s is not allowed on workstation %s", req.ClientIP, ws.WorkstationID).
			WithCode(errs.CodeIPAddressMismatch).
			WithDetails(map[string]any{"clientIp": req.ClientIP})
	}
	return ws, nil
}

// occupied rebuilds the occupied error with the occupant attached. The
// occupant is read after the transaction so a lost race against a
// concurrent login reports the winner.
func (m *Manager) occupied(ctx context.Context, op, workstationID string, cause error) error {
	cur, err := m.db.GetActiveSession(ctx, workstationID)
	if err != nil {
		return cause
	}
	occ := Occupant{
		SessionID:    cur.SessionID,
		UserID:       cur.UserID,
		Username:     cur.Username,
		LoginTime:    cur.LoginTime,
		LastActivity: cur.LastActivity,
		WorkState:    m.activeWorkState(ctx, workstationID),
	}
	return errs.Conflict(op, "workstation %s is occupied by %s", workstationID, cur.Username).
		WithCode(errs.CodeWorkstationOccupied).
		WithDetails(map[string]any{"occupant": occ})
}

// OccupantOf extracts the occupant from a WORKSTATION_OCCUPIED error.
func OccupantOf(err error) (Occupant, bool) {
	var e *errs.Error
	if !errors.As(err, &e) || e.Code != errs.CodeWorkstationOccupied {
		return Occupant{}, false
	}
	occ, ok := e.Details["occupant"].(Occupant)
	return occ, ok
}

func (m *Manager) activeWorkState(ctx context.Context, workstationID string) *workstate.State {
	if m.states == nil {
		return nil
	}
	st, err := m.states.Active(ctx, workstationID)
	if err != nil {
		m.log.Warn("read work state", zap.String("workstation", workstationID), zap.Error(err))
		return nil
	}
	return st
}

// bootstrapDevices connects every device bound to the workstation
// concurrently. Failures are recorded per device and never fail the login.
func (m *Manager) bootstrapDevices(ctx context.Context, sess *store.WorkstationSession) map[string]string {
	statuses := map[string]string{}
	if m.devices == nil {
		return statuses
	}
	ids, err := m.db.ListWorkstationDeviceIDs(ctx, sess.WorkstationID)
	if err != nil {
		m.log.Warn("list workstation devices", zap.String("workstation", sess.WorkstationID), zap.Error(err))
		return statuses
	}
	if len(ids) == 0 {
		return statuses
	}

	results := make([]string, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bootstrapConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			res, err := m.devices.Connect(gctx, id)
			switch {
			case err != nil:
				results[i] = plc.StatusError
				m.log.Warn("device bootstrap failed",
					zap.String("workstation", sess.WorkstationID),
					zap.String("device_id", id),
					zap.Error(err),
				)
			case !res.Success:
				results[i] = plc.StatusOffline
			default:
				results[i] = plc.StatusOnline
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range ids {
		statuses[id] = results[i]
	}
	if err := m.db.UpdateSessionDevices(ctx, sess.SessionID, statuses); err != nil {
		m.log.Warn("store session devices", zap.String("session_id", sess.SessionID), zap.Error(err))
	}
	sess.ConnectedDevices = statuses
	return statuses
}

func newSession(req LoginRequest, workstationID string, now time.Time) *store.WorkstationSession {
	username := req.Username
	if username == "" {
		username = req.UserID
	}
	return &store.WorkstationSession{
		SessionID:     uuid.NewString(),
		WorkstationID: workstationID,
		UserID:        req.UserID,
		Username:      username,
		ClientIP:      stripPort(req.ClientIP),
		LoginTime:     now,
		LastActivity:  now,
		IsActive:      true,
	}
}
