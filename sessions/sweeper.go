package sessions

import (
	"context"
	"time"

	"go.uber.org/zap"

	"simplemes/metrics"
)

// Sweep closes every open session idle past the stale threshold and
// returns how many it closed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := m.now().UTC()
	stale, err := m.db.ListStaleSessions(ctx, now.Add(-m.cfg.StaleAfter))
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, s := range stale {
		ok, err := m.db.CloseSession(ctx, s.SessionID, now)
		if err != nil {
			m.log.Warn("sweep close session", zap.String("session_id", s.SessionID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		closed++
		s.IsActive = false
		s.LogoutTime = &now
		metrics.SessionEvents.WithLabelValues("stale_closed").Inc()
		m.emit.EmitSessionClosed(s, CloseStale)
	}
	if closed > 0 {
		m.log.Info("swept stale sessions", zap.Int("closed", closed))
	}
	return closed, nil
}

// StartSweeper runs Sweep every SweepInterval until StopSweeper. A zero
// interval leaves staleness to be detected at login only.
func (m *Manager) StartSweeper() {
	if m.cfg.SweepInterval <= 0 || m.stopChan != nil {
		return
	}
	m.stopChan = make(chan struct{})
	m.done = make(chan struct{})
	go m.sweepLoop(m.cfg.SweepInterval)
}

// StopSweeper stops the background sweep and waits for it to exit.
func (m *Manager) StopSweeper() {
	if m.stopChan == nil {
		return
	}
	select {
	case <-m.stopChan:
	default:
		close(m.stopChan)
	}
	<-m.done
}

func (m *Manager) sweepLoop(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if _, err := m.Sweep(ctx); err != nil {
				m.log.Warn("session sweep", zap.Error(err))
			}
			cancel()
		}
	}
}
