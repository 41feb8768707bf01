package orders

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"simplemes/actions"
	"simplemes/errs"
	"simplemes/plc"
	"simplemes/store"
	"simplemes/workstate"
)

// fakeGateway serves reads per register number. onRead and onWrite run
// before the device call returns, outside the lock.
type fakeGateway struct {
	mu      sync.Mutex
	values  map[int]any
	reads   int
	writes  int
	onRead  func(reg int)
	onWrite func(reg int)
}

func (g *fakeGateway) set(reg int, v any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[reg] = v
}

func (g *fakeGateway) Read(_ context.Context, _ string, desc plc.AddressDescriptor) (plc.ReadResult, error) {
	g.mu.Lock()
	g.reads++
	hook := g.onRead
	g.mu.Unlock()
	if hook != nil {
		hook(desc.Number)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return plc.ReadResult{Success: true, Value: g.values[desc.Number], Address: desc.String()}, nil
}

func (g *fakeGateway) ReadStrict(ctx context.Context, id string, desc plc.AddressDescriptor, _ time.Duration) (plc.ReadResult, error) {
	return g.Read(ctx, id, desc)
}

func (g *fakeGateway) Write(_ context.Context, _ string, desc plc.AddressDescriptor, _ any) (plc.WriteResult, error) {
	g.mu.Lock()
	g.writes++
	hook := g.onWrite
	g.mu.Unlock()
	if hook != nil {
		hook(desc.Number)
	}
	return plc.WriteResult{Success: true, Address: desc.String()}, nil
}

func (g *fakeGateway) counts() (reads, writes int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reads, g.writes
}

type fakeSessions struct {
	active map[string]bool
}

func (f *fakeSessions) RequireActive(_ context.Context, ws string) (*store.WorkstationSession, error) {
	if !f.active[ws] {
		return nil, errs.Conflict("sessions.RequireActive", "no active session on workstation %s", ws).
			WithCode(errs.CodeNoActiveSession)
	}
	return &store.WorkstationSession{WorkstationID: ws, IsActive: true}, nil
}

type fixture struct {
	db        *store.DB
	svc       *Service
	gw        *fakeGateway
	sessions  *fakeSessions
	states    *workstate.Manager
	productID int64
	processID int64
	readID    int64
	confirmID int64
	writeID   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, gw: &fakeGateway{values: map[int]any{100: 1}}, sessions: &fakeSessions{active: map[string]bool{"WS-001": true}}}

	f.productID, err = db.CreateProduct(ctx, &store.Product{Code: "P-1", Name: "Valve"})
	require.NoError(t, err)
	f.processID, err = db.CreateProcess(ctx, &store.Process{Code: "PR-1", Name: "Valve assembly", ProductID: &f.productID})
	require.NoError(t, err)

	step1, err := db.CreateStep(ctx, &store.Step{ProcessID: f.processID, Sequence: 10, Name: "Press", WorkstationID: "WS-001"})
	require.NoError(t, err)
	step2, err := db.CreateStep(ctx, &store.Step{ProcessID: f.processID, Sequence: 20, Name: "Mark", WorkstationID: "WS-001"})
	require.NoError(t, err)

	f.readID, err = db.CreateAction(ctx, &store.Action{StepID: step1, Sequence: 1, Name: "Part present",
		ActionType: string(actions.DeviceRead), DeviceID: "plc-1", DeviceAddress: "D100",
		ExpectedValue: "1", TimeoutMs: 500, RetryCount: 2, IsRequired: true})
	require.NoError(t, err)
	f.confirmID, err = db.CreateAction(ctx, &store.Action{StepID: step1, Sequence: 2, Name: "Visual check",
		ActionType: string(actions.ManualConfirm), IsRequired: true,
		Parameters: json.RawMessage(`{"prompt":"Check seal"}`)})
	require.NoError(t, err)
	_, err = db.CreateAction(ctx, &store.Action{StepID: step2, Sequence: 1, Name: "Optional scan",
		ActionType: string(actions.BarcodeScan), IsRequired: false})
	require.NoError(t, err)
	f.writeID, err = db.CreateAction(ctx, &store.Action{StepID: step2, Sequence: 2, Name: "Laser mark",
		ActionType: string(actions.DeviceWrite), DeviceID: "plc-1", DeviceAddress: "D200",
		ExpectedValue: "1", TimeoutMs: 500, IsRequired: true})
	require.NoError(t, err)

	v := actions.NewValidator()
	exec := actions.NewExecutor(f.gw, actions.NewRegistry(v), v, time.Second, zap.NewNop())
	f.states = workstate.NewManager(db, nil, zap.NewNop())
	runner := NewStepRunner(db, exec, f.states, nil, zap.NewNop())
	f.svc = NewService(db, runner, f.sessions, f.states, nil, zap.NewNop())
	return f
}

func (f *fixture) create(t *testing.T, number string) *store.Order {
	t.Helper()
	o, err := f.svc.CreateOrder(context.Background(), NewOrder{
		OrderNumber: number, ProductID: f.productID, ProcessID: f.processID, Quantity: 10,
	})
	require.NoError(t, err)
	return o
}

func confirmed(by string) ExecuteRequest {
	return ExecuteRequest{Input: actions.Input{ExecutedBy: by, Acknowledged: true}}
}

// assertHistoryPath checks every recorded transition is allowed and chains
// from PENDING.
func assertHistoryPath(t *testing.T, f *fixture, orderID int64) []string {
	t.Helper()
	hist, err := f.svc.History(context.Background(), orderID)
	require.NoError(t, err)
	prev := StatusPending
	var path []string
	for _, h := range hist {
		assert.Equal(t, prev, h.FromStatus)
		assert.True(t, IsValidTransition(h.FromStatus, h.ToStatus), "%s -> %s", h.FromStatus, h.ToStatus)
		prev = h.ToStatus
		path = append(path, h.ToStatus)
	}
	return path
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.create(t, "WO-1")
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, int64(1), o.Sequence)

	steps, err := f.db.ListOrderSteps(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	for _, s := range steps {
		assert.Equal(t, StepPending, s.Status)
		assert.Equal(t, "WS-001", s.WorkstationID)
	}

	o2 := f.create(t, "WO-2")
	assert.Equal(t, int64(2), o2.Sequence)

	_, err = f.svc.CreateOrder(ctx, NewOrder{OrderNumber: "WO-1", ProductID: f.productID, ProcessID: f.processID, Quantity: 1})
	assert.True(t, errors.Is(err, errs.ErrConflict))

	_, err = f.svc.CreateOrder(ctx, NewOrder{OrderNumber: "WO-3", ProductID: f.productID, ProcessID: f.processID, Quantity: 1, Sequence: 2})
	assert.Equal(t, errs.CodeSequenceCollision, errs.CodeOf(err))

	_, err = f.svc.CreateOrder(ctx, NewOrder{OrderNumber: "WO-4", ProductID: f.productID, ProcessID: 999, Quantity: 1})
	assert.True(t, errors.Is(err, errs.ErrValidation))

	_, err = f.svc.CreateOrder(ctx, NewOrder{OrderNumber: "WO-5", ProductID: f.productID, ProcessID: f.processID})
	assert.True(t, errors.Is(err, errs.ErrValidation))
}

func TestStartRequiresActiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "WO-1")

	_, err := f.svc.Start(ctx, o.ID, "WS-002", "alice")
	require.Error(t, err)
	assert.Equal(t, errs.CodeNoActiveSession, errs.CodeOf(err))

	got, err := f.db.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, assertHistoryPath(t, f, o.ID))

	started, err := f.svc.Start(ctx, o.ID, "", "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)
	require.NotNil(t, started.StartedAt)
	assert.Equal(t, "WS-001", started.CurrentStationID)
	require.NotNil(t, started.CurrentStepID)

	steps, err := f.db.ListOrderSteps(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StepInProgress, steps[0].Status)
	assert.Equal(t, StepPending, steps[1].Status)
	assert.Equal(t, steps[0].StepID, *started.CurrentStepID)

	st, err := f.states.Active(ctx, "WS-001")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, o.ID, st.Snapshot.CurrentOrder.ID)
	assert.True(t, st.Snapshot.IsExecutionMode)

	_, err = f.svc.Start(ctx, o.ID, "", "alice")
	assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))
}

func TestRequiredActionFailureStopsStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "WO-1")
	_, err := f.svc.Start(ctx, o.ID, "", "alice")
	require.NoError(t, err)

	f.gw.set(100, 0)
	res, err := f.svc.ExecuteStep(ctx, o.ID, confirmed("alice"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrActionFailed))
	require.NotNil(t, res)

	assert.Equal(t, StatusError, res.Order.Status)
	assert.Equal(t, StepError, res.OrderStep.Status)
	assert.Contains(t, res.OrderStep.ErrorMessage, "Part present")
	require.NotNil(t, res.Outcome.FailedAction)
	assert.Equal(t, f.readID, res.Outcome.FailedAction.ID)

	n, err := f.db.CountActionLogs(ctx, o.ID, f.readID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = f.db.CountActionLogs(ctx, o.ID, f.confirmID)
	require.NoError(t, err)
	assert.Zero(t, n)

	hist, err := f.svc.History(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, StatusError, hist[1].ToStatus)
	assert.Contains(t, hist[1].Reason, "Part present")
	assert.Equal(t, []string{StatusInProgress, StatusError}, assertHistoryPath(t, f, o.ID))
}

func TestResumeAfterErrorRerunsFailedStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "WO-1")
	_, err := f.svc.Start(ctx, o.ID, "", "alice")
	require.NoError(t, err)

	f.gw.set(100, 0)
	_, err = f.svc.ExecuteStep(ctx, o.ID, confirmed("alice"))
	require.Error(t, err)

	_, err = f.svc.ExecuteStep(ctx, o.ID, confirmed("alice"))
	assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err), "an errored order must be resumed first")

	f.gw.set(100, 1)
	resumed, err := f.svc.Resume(ctx, o.ID, "", "bob", "sensor fixed")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, resumed.Status)

	res, err := f.svc.ExecuteStep(ctx, o.ID, confirmed("bob"))
	require.NoError(t, err)
	assert.Equal(t, StepCompleted, res.OrderStep.Status)
	require.NotNil(t, res.NextStep)
	assert.Equal(t, StepInProgress, res.NextStep.Status)
	assert.Equal(t, res.NextStep.StepID, *res.Order.CurrentStepID)

	n, err := f.db.CountActionLogs(ctx, o.ID, f.readID)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "earlier attempts are kept")

	res, err = f.svc.ExecuteStep(ctx, o.ID, confirmed("bob"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Order.Status)
	assert.NotNil(t, res.Order.CompletedAt)
	assert.Nil(t, res.Order.CurrentStepID)
	assert.Equal(t, 1, f.gw.writes)

	// The optional scan had no value and failed without stopping the step.
	require.Len(t, res.Outcome.Actions, 2)
	assert.True(t, res.Outcome.Actions[0].Ignored)

	assert.Equal(t,
		[]string{StatusInProgress, StatusError, StatusInProgress, StatusCompleted},
		assertHistoryPath(t, f, o.ID))

	st, err := f.states.Active(ctx, "WS-001")
	require.NoError(t, err)
	assert.Nil(t, st, "completed order releases the work state")

	_, err = f.svc.Cancel(ctx, o.ID, "bob", "")
	assert.True(t, errors.Is(err, errs.ErrValidation))
	assert.Len(t, assertHistoryPath(t, f, o.ID), 4)
}

func TestPauseResumeCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "WO-1")

	_, err := f.svc.Pause(ctx, o.ID, "alice", "")
	assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))

	_, err = f.svc.Start(ctx, o.ID, "WS-001", "alice")
	require.NoError(t, err)
	p, err := f.svc.Pause(ctx, o.ID, "alice", "break")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, p.Status)

	_, err = f.svc.ExecuteStep(ctx, o.ID, confirmed("alice"))
	assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))

	r, err := f.svc.Resume(ctx, o.ID, "", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, r.Status)

	c, err := f.svc.Cancel(ctx, o.ID, "supervisor", "material shortage")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, c.Status)
	assert.NotNil(t, c.CompletedAt)

	_, err = f.svc.Resume(ctx, o.ID, "", "alice", "")
	assert.True(t, errors.Is(err, errs.ErrValidation))

	assert.Equal(t,
		[]string{StatusInProgress, StatusPaused, StatusInProgress, StatusCancelled},
		assertHistoryPath(t, f, o.ID))

	st, err := f.states.Active(ctx, "WS-001")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestStatusProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "WO-1")

	st, err := f.svc.Status(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, st.Progress)
	assert.Equal(t, 2, st.TotalSteps)

	_, err = f.svc.Start(ctx, o.ID, "", "alice")
	require.NoError(t, err)
	_, err = f.svc.ExecuteStep(ctx, o.ID, confirmed("alice"))
	require.NoError(t, err)

	st, err = f.svc.Status(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.CompletedSteps)
	assert.Equal(t, 50.0, st.Progress)
	require.NotNil(t, st.CurrentStep)
	assert.Equal(t, StepInProgress, st.CurrentStep.Status)
	require.NotNil(t, st.WorkState)
	require.NotNil(t, st.CurrentAction)
	assert.Equal(t, "Optional scan", st.CurrentAction.Name)

	_, err = f.svc.Status(ctx, 4040)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestUpdateMetadataRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "WO-1")
	f.create(t, "WO-2")

	prio, qty, seq := 5, 20, int64(50)
	notes := "rush"
	got, err := f.svc.UpdateMetadata(ctx, o.ID, store.OrderMetadata{Priority: &prio, Quantity: &qty, Sequence: &seq})
	require.NoError(t, err)
	assert.Equal(t, 5, got.Priority)
	assert.Equal(t, 20, got.Quantity)
	assert.Equal(t, int64(50), got.Sequence)

	dup := int64(2)
	_, err = f.svc.UpdateMetadata(ctx, o.ID, store.OrderMetadata{Sequence: &dup})
	assert.Equal(t, errs.CodeSequenceCollision, errs.CodeOf(err))

	_, err = f.svc.Start(ctx, o.ID, "", "alice")
	require.NoError(t, err)

	_, err = f.svc.UpdateMetadata(ctx, o.ID, store.OrderMetadata{Quantity: &qty})
	assert.True(t, errors.Is(err, errs.ErrValidation))
	got, err = f.svc.UpdateMetadata(ctx, o.ID, store.OrderMetadata{Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, "rush", got.Notes)

	_, err = f.svc.Cancel(ctx, o.ID, "alice", "")
	require.NoError(t, err)
	_, err = f.svc.UpdateMetadata(ctx, o.ID, store.OrderMetadata{Notes: &notes})
	assert.Equal(t, errs.CodeInvalidTransition, errs.CodeOf(err))
}

func TestReportProduction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "WO-1")

	_, err := f.svc.ReportProduction(ctx, o.ID, 2)
	assert.True(t, errors.Is(err, errs.ErrConflict))

	_, err = f.svc.Start(ctx, o.ID, "", "alice")
	require.NoError(t, err)
	_, err = f.svc.ReportProduction(ctx, o.ID, 0)
	assert.True(t, errors.Is(err, errs.ErrValidation))

	got, err := f.svc.ReportProduction(ctx, o.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CompletedQuantity)

	_, err = f.svc.Pause(ctx, o.ID, "alice", "")
	require.NoError(t, err)
	got, err = f.svc.ReportProduction(ctx, o.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, got.CompletedQuantity)
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, IsValidTransition(StatusPending, StatusInProgress))
	assert.True(t, IsValidTransition(StatusError, StatusInProgress))
	assert.True(t, IsValidTransition(StatusPaused, StatusCancelled))
	assert.False(t, IsValidTransition(StatusPending, StatusCompleted))
	assert.False(t, IsValidTransition(StatusPaused, StatusCompleted))
	for _, to := range []string{StatusPending, StatusInProgress, StatusPaused, StatusError, StatusCancelled} {
		assert.False(t, IsValidTransition(StatusCompleted, to))
		assert.False(t, IsValidTransition(StatusCancelled, to))
	}
	assert.True(t, IsTerminal(StatusCompleted))
	assert.False(t, IsTerminal(StatusError))
}

func TestStepWithoutActionsIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.db.CreateStep(ctx, &store.Step{ProcessID: f.processID, Sequence: 30, Name: "Handover", WorkstationID: "WS-001"})
	require.NoError(t, err)
	o := f.create(t, "WO-SKIP")

	_, err = f.svc.Start(ctx, o.ID, "", "alice")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = f.svc.ExecuteStep(ctx, o.ID, confirmed("alice"))
		require.NoError(t, err)
	}
	res, err := f.svc.ExecuteStep(ctx, o.ID, confirmed("alice"))
	require.NoError(t, err)
	assert.Equal(t, StepSkipped, res.Outcome.Status)
	assert.Equal(t, StepSkipped, res.OrderStep.Status)
	assert.Equal(t, StatusCompleted, res.Order.Status)

	st, err := f.svc.Status(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, st.CompletedSteps)
}

func TestCreateOrderChecksBOM(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bomID, err := f.db.CreateBOM(ctx, &store.BOM{ProductID: f.productID, Code: "BOM-1", Version: "A"})
	require.NoError(t, err)

	o, err := f.svc.CreateOrder(ctx, NewOrder{OrderNumber: "WO-BOM", ProductID: f.productID, ProcessID: f.processID, BOMID: &bomID, Quantity: 1})
	require.NoError(t, err)
	require.NotNil(t, o.BOMID)
	assert.Equal(t, bomID, *o.BOMID)

	missing := bomID + 100
	_, err = f.svc.CreateOrder(ctx, NewOrder{OrderNumber: "WO-BOM2", ProductID: f.productID, ProcessID: f.processID, BOMID: &missing, Quantity: 1})
	assert.True(t, errors.Is(err, errs.ErrValidation))
}
