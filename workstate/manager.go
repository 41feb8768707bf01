package workstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"simplemes/errs"
	"simplemes/store"
)

// Store is the SQL side of the snapshot store.
type Store interface {
	UpsertWorkState(ctx context.Context, workstationID string, state []byte, now time.Time) error
	GetWorkState(ctx context.Context, workstationID string) (*store.WorkState, error)
	DeactivateWorkState(ctx context.Context, workstationID string, now time.Time) error
	ListWorkStates(ctx context.Context) ([]*store.WorkState, error)
}

// Manager provides write-through snapshot management: SQL first, then
// Redis. Cache failures are logged and never fail a call.
type Manager struct {
	db    Store
	cache *RedisStore
	log   *zap.Logger
	now   func() time.Time
}

// NewManager returns a manager; cache may be nil.
func NewManager(db Store, cache *RedisStore, log *zap.Logger) *Manager {
	return &Manager{db: db, cache: cache, log: log, now: time.Now}
}

// Save upserts the snapshot and marks it active.
func (m *Manager) Save(ctx context.Context, workstationID string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	now := m.now().UTC()
	if err := m.db.UpsertWorkState(ctx, workstationID, data, now); err != nil {
		return fmt.Errorf("save work state %s: %w", workstationID, err)
	}
	m.cacheSet(ctx, &State{WorkstationID: workstationID, Snapshot: snap, IsActive: true, UpdatedAt: now})
	return nil
}

// Get returns the stored snapshot, active or not. A workstation that never
// saved one yields a NotFound error.
func (m *Manager) Get(ctx context.Context, workstationID string) (*State, error) {
	if m.cache != nil {
		st, err := m.cache.Get(ctx, workstationID)
		if err != nil {
			m.log.Warn("workstate cache read failed", zap.String("workstation", workstationID), zap.Error(err))
		} else if st != nil {
			return st, nil
		}
	}
	row, err := m.db.GetWorkState(ctx, workstationID)
	if err != nil {
		return nil, err
	}
	st, err := fromRow(row)
	if err != nil {
		return nil, err
	}
	m.cacheSet(ctx, st)
	return st, nil
}

// Active returns the snapshot only when it is active; nil otherwise.
func (m *Manager) Active(ctx context.Context, workstationID string) (*State, error) {
	st, err := m.Get(ctx, workstationID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !st.IsActive {
		return nil, nil
	}
	return st, nil
}

// Clear marks the snapshot inactive. The row is kept for inspection.
func (m *Manager) Clear(ctx context.Context, workstationID string) error {
	if err := m.db.DeactivateWorkState(ctx, workstationID, m.now().UTC()); err != nil {
		return fmt.Errorf("clear work state %s: %w", workstationID, err)
	}
	if m.cache != nil {
		if err := m.cache.Delete(ctx, workstationID); err != nil {
			m.log.Warn("workstate cache delete failed", zap.String("workstation", workstationID), zap.Error(err))
		}
	}
	return nil
}

// SyncCache rebuilds the Redis cache from SQL. Called on startup.
func (m *Manager) SyncCache(ctx context.Context) error {
	if m.cache == nil {
		return nil
	}
	if err := m.cache.Flush(ctx); err != nil {
		return fmt.Errorf("flush work state cache: %w", err)
	}
	rows, err := m.db.ListWorkStates(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		st, err := fromRow(row)
		if err != nil {
			m.log.Warn("skipping unreadable work state", zap.String("workstation", row.WorkstationID), zap.Error(err))
			continue
		}
		m.cacheSet(ctx, st)
	}
	m.log.Info("work state cache synced", zap.Int("workstations", len(rows)))
	return nil
}

func (m *Manager) cacheSet(ctx context.Context, st *State) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Set(ctx, st); err != nil {
		m.log.Warn("workstate cache write failed", zap.String("workstation", st.WorkstationID), zap.Error(err))
	}
}

func fromRow(row *store.WorkState) (*State, error) {
	st := &State{WorkstationID: row.WorkstationID, IsActive: row.IsActive, UpdatedAt: row.UpdatedAt}
	if len(row.State) > 0 {
		if err := json.Unmarshal(row.State, &st.Snapshot); err != nil {
			return nil, fmt.Errorf("decode work state %s: %w", row.WorkstationID, err)
		}
	}
	return st, nil
}
