package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"simplemes/config"
	"simplemes/errs"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fixture struct {
	productID int64
	processID int64
	steps     []Step
}

func seedProcess(t *testing.T, db *DB, stepCount int) fixture {
	t.Helper()
	ctx := context.Background()
	pid, err := db.CreateProduct(ctx, &Product{Code: "P-100", Name: "Widget"})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	procID, err := db.CreateProcess(ctx, &Process{Code: "PR-100", Name: "Assembly", ProductID: &pid})
	if err != nil {
		t.Fatalf("create process: %v", err)
	}
	f := fixture{productID: pid, processID: procID}
	for i := 1; i <= stepCount; i++ {
		s := Step{ProcessID: procID, Sequence: i * 10, Name: "step", WorkstationID: "WS-001"}
		id, err := db.CreateStep(ctx, &s)
		if err != nil {
			t.Fatalf("create step: %v", err)
		}
		s.ID = id
		f.steps = append(f.steps, s)
	}
	return f
}

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func TestRebind(t *testing.T) {
	got := Rebind(`UPDATE x SET a=?, b=? WHERE id=?`)
	want := `UPDATE x SET a=$1, b=$2 WHERE id=$3`
	if got != want {
		t.Errorf("Rebind = %q, want %q", got, want)
	}
}

func TestParseTime(t *testing.T) {
	cases := []any{
		"2026-03-01 08:00:00.000000",
		"2026-03-01 08:00:00",
		"2026-03-01T08:00:00Z",
		t0,
		[]byte("2026-03-01 08:00:00.000000"),
	}
	for _, c := range cases {
		if got := parseTime(c); !got.Equal(t0) {
			t.Errorf("parseTime(%v) = %v, want %v", c, got, t0)
		}
	}
	if parseTimePtr(nil) != nil {
		t.Error("parseTimePtr(nil) should be nil")
	}
}

func TestStepAndActionSequenceUnique(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	f := seedProcess(t, db, 1)

	_, err := db.CreateStep(ctx, &Step{ProcessID: f.processID, Sequence: 10})
	if !errors.Is(err, &errs.Error{Kind: errs.KindConflict, Code: errs.CodeSequenceCollision}) {
		t.Fatalf("duplicate step sequence: got %v", err)
	}

	a := &Action{StepID: f.steps[0].ID, Sequence: 1, ActionType: "DEVICE_READ", IsRequired: true,
		Parameters: json.RawMessage(`{"bit":3}`)}
	if _, err := db.CreateAction(ctx, a); err != nil {
		t.Fatalf("create action: %v", err)
	}
	if _, err := db.CreateAction(ctx, a); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("duplicate action sequence: got %v", err)
	}
	b := &Action{StepID: f.steps[0].ID, Sequence: 2, ActionType: "MANUAL_CONFIRM"}
	if _, err := db.CreateAction(ctx, b); err != nil {
		t.Fatalf("create action: %v", err)
	}

	list, err := db.ListActions(ctx, f.steps[0].ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(list) != 2 || list[0].Sequence != 1 || list[1].Sequence != 2 {
		t.Fatalf("actions out of order: %+v", list)
	}
	if !list[0].IsRequired || list[1].IsRequired {
		t.Errorf("IsRequired not round-tripped: %v %v", list[0].IsRequired, list[1].IsRequired)
	}
	if string(list[0].Parameters) != `{"bit":3}` {
		t.Errorf("Parameters = %s", list[0].Parameters)
	}
	if string(list[1].Parameters) != `{}` {
		t.Errorf("default Parameters = %s", list[1].Parameters)
	}
}

func TestOrderSequenceAndStatusCAS(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	f := seedProcess(t, db, 2)

	o1 := &Order{OrderNumber: "MO-1", ProductID: f.productID, ProcessID: f.processID, Quantity: 5}
	if _, err := db.CreateOrder(ctx, o1, t0); err != nil {
		t.Fatalf("create order: %v", err)
	}
	o2 := &Order{OrderNumber: "MO-2", ProductID: f.productID, ProcessID: f.processID, Quantity: 5}
	if _, err := db.CreateOrder(ctx, o2, t0); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if o1.Sequence != 1 || o2.Sequence != 2 {
		t.Errorf("sequences = %d, %d; want 1, 2", o1.Sequence, o2.Sequence)
	}

	dup := &Order{OrderNumber: "MO-3", ProductID: f.productID, ProcessID: f.processID, Sequence: 2}
	_, err := db.CreateOrder(ctx, dup, t0)
	if errs.CodeOf(err) != errs.CodeSequenceCollision {
		t.Fatalf("sequence collision: got %v", err)
	}
	dupNum := &Order{OrderNumber: "MO-1", ProductID: f.productID, ProcessID: f.processID}
	if _, err := db.CreateOrder(ctx, dupNum, t0); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("duplicate order number: got %v", err)
	}

	if err := db.CompareAndSetOrderStatus(ctx, o1.ID, "PENDING", "IN_PROGRESS", t0.Add(time.Minute)); err != nil {
		t.Fatalf("cas: %v", err)
	}
	err = db.CompareAndSetOrderStatus(ctx, o1.ID, "PENDING", "IN_PROGRESS", t0.Add(time.Minute))
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("stale cas should conflict, got %v", err)
	}

	got, err := db.GetOrder(ctx, o1.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "IN_PROGRESS" {
		t.Errorf("Status = %s", got.Status)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("StartedAt = %v", got.StartedAt)
	}
	if got.CompletedAt != nil {
		t.Errorf("CompletedAt should be nil")
	}

	if _, err := db.GetOrder(ctx, 999); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("missing order: got %v", err)
	}
}

func TestDeleteOrderRefusesStarted(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	f := seedProcess(t, db, 1)

	o := &Order{OrderNumber: "MO-1", ProductID: f.productID, ProcessID: f.processID}
	db.CreateOrder(ctx, o, t0)
	if _, err := db.CreateOrderStep(ctx, o.ID, f.steps[0]); err != nil {
		t.Fatalf("create order step: %v", err)
	}
	db.CompareAndSetOrderStatus(ctx, o.ID, "PENDING", "IN_PROGRESS", t0)
	if err := db.DeleteOrder(ctx, o.ID); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("delete in-progress: got %v", err)
	}

	p := &Order{OrderNumber: "MO-2", ProductID: f.productID, ProcessID: f.processID}
	db.CreateOrder(ctx, p, t0)
	db.CreateOrderStep(ctx, p.ID, f.steps[0])
	if err := db.DeleteOrder(ctx, p.ID); err != nil {
		t.Fatalf("delete pending: %v", err)
	}
	if _, err := db.GetOrder(ctx, p.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("order should be gone, got %v", err)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	f := seedProcess(t, db, 1)
	o := &Order{OrderNumber: "MO-1", ProductID: f.productID, ProcessID: f.processID}
	db.CreateOrder(ctx, o, t0)

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.CompareAndSetOrderStatus(ctx, o.ID, "PENDING", "IN_PROGRESS", t0); err != nil {
			return err
		}
		if _, err := tx.InsertStatusHistory(ctx, &OrderStatusHistory{OrderID: o.ID, FromStatus: "PENDING",
			ToStatus: "IN_PROGRESS", CreatedAt: t0}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx err = %v", err)
	}
	got, _ := db.GetOrder(ctx, o.ID)
	if got.Status != "PENDING" {
		t.Errorf("status after rollback = %s", got.Status)
	}
	hist, _ := db.ListStatusHistory(ctx, o.ID)
	if len(hist) != 0 {
		t.Errorf("history rows after rollback = %d", len(hist))
	}
}

func TestSessionSingleActivePerWorkstation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	first := &WorkstationSession{SessionID: "s1", WorkstationID: "WS-001", Username: "alice",
		LoginTime: t0, LastActivity: t0}
	if _, err := db.InsertSession(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	second := &WorkstationSession{SessionID: "s2", WorkstationID: "WS-001", Username: "bob",
		LoginTime: t0, LastActivity: t0}
	_, err := db.InsertSession(ctx, second)
	if errs.CodeOf(err) != errs.CodeWorkstationOccupied {
		t.Fatalf("second active session: got %v", err)
	}

	other := &WorkstationSession{SessionID: "s3", WorkstationID: "WS-002", LoginTime: t0, LastActivity: t0}
	if _, err := db.InsertSession(ctx, other); err != nil {
		t.Fatalf("other workstation: %v", err)
	}

	closed, err := db.CloseSession(ctx, "s1", t0.Add(time.Hour))
	if err != nil || !closed {
		t.Fatalf("close: %v %v", closed, err)
	}
	closed, _ = db.CloseSession(ctx, "s1", t0.Add(time.Hour))
	if closed {
		t.Error("closing twice should not match")
	}
	if _, err := db.InsertSession(ctx, second); err != nil {
		t.Fatalf("insert after close: %v", err)
	}

	active, err := db.GetActiveSession(ctx, "WS-001")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.SessionID != "s2" || !active.IsActive {
		t.Errorf("active = %+v", active)
	}
	old, _ := db.GetSession(ctx, "s1")
	if old.IsActive || old.LogoutTime == nil {
		t.Errorf("closed session = %+v", old)
	}
}

func TestSessionConcurrentInsertOneWins(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := &WorkstationSession{SessionID: string(rune('a' + i)), WorkstationID: "WS-009",
				LoginTime: t0, LastActivity: t0}
			_, results[i] = db.InsertSession(ctx, s)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else if errs.CodeOf(err) != errs.CodeWorkstationOccupied {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestStaleSessions(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	db.InsertSession(ctx, &WorkstationSession{SessionID: "old", WorkstationID: "WS-1", LoginTime: t0, LastActivity: t0})
	db.InsertSession(ctx, &WorkstationSession{SessionID: "new", WorkstationID: "WS-2", LoginTime: t0,
		LastActivity: t0.Add(3 * time.Hour)})

	stale, err := db.ListStaleSessions(ctx, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if len(stale) != 1 || stale[0].SessionID != "old" {
		t.Errorf("stale = %+v", stale)
	}

	if ok, _ := db.TouchSession(ctx, "old", t0.Add(2*time.Hour)); !ok {
		t.Error("touch should match open session")
	}
	stale, _ = db.ListStaleSessions(ctx, t0.Add(time.Hour))
	if len(stale) != 0 {
		t.Errorf("stale after touch = %d", len(stale))
	}

	if err := db.UpdateSessionDevices(ctx, "old", map[string]string{"PLC-1": "ONLINE"}); err != nil {
		t.Fatalf("devices: %v", err)
	}
	s, _ := db.GetSession(ctx, "old")
	if s.ConnectedDevices["PLC-1"] != "ONLINE" {
		t.Errorf("ConnectedDevices = %v", s.ConnectedDevices)
	}
}

func TestWorkStateUpsertAndDeactivate(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.GetWorkState(ctx, "WS-1"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("missing work state: %v", err)
	}
	db.UpsertWorkState(ctx, "WS-1", []byte(`{"currentStepIndex":1}`), t0)
	db.UpsertWorkState(ctx, "WS-1", []byte(`{"currentStepIndex":2}`), t0.Add(time.Second))

	w, err := db.GetWorkState(ctx, "WS-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(w.State) != `{"currentStepIndex":2}` || !w.IsActive {
		t.Errorf("work state = %s active=%v", w.State, w.IsActive)
	}
	db.DeactivateWorkState(ctx, "WS-1", t0.Add(2*time.Second))
	w, _ = db.GetWorkState(ctx, "WS-1")
	if w.IsActive {
		t.Error("should be inactive")
	}
	if string(w.State) != `{"currentStepIndex":2}` {
		t.Error("deactivate should keep the snapshot")
	}
}

func TestDeviceStatusAcrossTables(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	db.CreateDevice(ctx, &Device{DeviceID: "PLC-LEGACY", Brand: "Siemens", IPAddress: "10.0.0.10", Port: 102,
		WorkstationID: "WS-1"})
	tpl := &DeviceTemplate{Code: "S7-1200", Brand: "Siemens", Protocol: "S7", DefaultPort: 102}
	db.CreateDeviceTemplate(ctx, tpl)
	db.CreateWorkstationDevice(ctx, &WorkstationDevice{InstanceID: "PLC-NEW", WorkstationID: "WS-1",
		TemplateID: tpl.ID, IPAddress: "10.0.0.11"})

	ids, err := db.ListWorkstationDeviceIDs(ctx, "WS-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "PLC-LEGACY" || ids[1] != "PLC-NEW" {
		t.Errorf("ids = %v", ids)
	}

	hb := t0
	if ok, _ := db.SetDeviceStatus(ctx, "PLC-NEW", "ONLINE", &hb); !ok {
		t.Fatal("status update should match template instance")
	}
	wd, _ := db.GetWorkstationDevice(ctx, "PLC-NEW")
	if wd.Status != "ONLINE" || wd.LastHeartbeat == nil || !wd.LastHeartbeat.Equal(t0) {
		t.Errorf("device = %+v", wd)
	}
	if wd.Template.Protocol != "S7" {
		t.Errorf("template not joined: %+v", wd.Template)
	}
	if ok, _ := db.SetDeviceStatus(ctx, "NOPE", "ONLINE", &hb); ok {
		t.Error("unknown device should not match")
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, err := db.EnqueueOutbox(ctx, "simplemes/events", []byte(`{"a":1}`), "order.status")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msgs, _ := db.ListPendingOutbox(ctx, 10, 5)
	if len(msgs) != 1 || msgs[0].ID != id {
		t.Fatalf("pending = %+v", msgs)
	}
	db.IncrementOutboxRetries(ctx, id)
	msgs, _ = db.ListPendingOutbox(ctx, 10, 1)
	if len(msgs) != 0 {
		t.Error("message over retry cap should be skipped")
	}
	db.AckOutbox(ctx, id)
	msgs, _ = db.ListPendingOutbox(ctx, 10, 5)
	if len(msgs) != 0 {
		t.Error("acked message should not be pending")
	}
}

func TestAdminUsers(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	exists, _ := db.AdminUserExists(ctx)
	if exists {
		t.Fatal("no admin expected")
	}
	db.CreateAdminUser(ctx, "admin", "hash")
	if _, err := db.CreateAdminUser(ctx, "admin", "hash"); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("duplicate admin: %v", err)
	}
	u, err := db.GetAdminUser(ctx, "admin")
	if err != nil || u.PasswordHash != "hash" {
		t.Fatalf("get admin: %v %+v", err, u)
	}
}

func TestOrderStepClaim(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	f := seedProcess(t, db, 1)

	o := &Order{OrderNumber: "MO-1", ProductID: f.productID, ProcessID: f.processID}
	db.CreateOrder(ctx, o, t0)
	id, err := db.CreateOrderStep(ctx, o.ID, f.steps[0])
	if err != nil {
		t.Fatalf("create order step: %v", err)
	}
	claimed := &errs.Error{Kind: errs.KindConflict, Code: errs.CodeStepClaimed}

	if err := db.ClaimOrderStep(ctx, id, "run-a", "WS-001", t0); !errors.Is(err, claimed) {
		t.Fatalf("claim on pending order: got %v", err)
	}
	db.CompareAndSetOrderStatus(ctx, o.ID, "PENDING", "IN_PROGRESS", t0)
	if err := db.ClaimOrderStep(ctx, id, "run-a", "WS-001", t0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := db.ClaimOrderStep(ctx, id, "run-b", "WS-001", t0); !errors.Is(err, claimed) {
		t.Fatalf("second claim: got %v", err)
	}
	if err := db.CompleteOrderStep(ctx, id, "run-b", t0); !errors.Is(err, claimed) {
		t.Fatalf("complete with foreign token: got %v", err)
	}
	got, _ := db.GetOrderStep(ctx, id)
	if got.Status != "in_progress" {
		t.Fatalf("status = %q, want in_progress", got.Status)
	}

	// Restarting the step drops the claim, so the old run can no longer
	// write its result.
	if err := db.StartOrderStep(ctx, id, "", t0); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := db.FailOrderStep(ctx, id, "run-a", "late", t0); !errors.Is(err, claimed) {
		t.Fatalf("fail after restart: got %v", err)
	}
	if err := db.ClaimOrderStep(ctx, id, "run-b", "", t0); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if err := db.ReleaseOrderStep(ctx, id, "run-a"); err != nil {
		t.Fatalf("release foreign: %v", err)
	}
	if err := db.CompleteOrderStep(ctx, id, "run-b", t0.Add(time.Minute)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = db.GetOrderStep(ctx, id)
	if got.Status != "completed" || got.CompletedAt == nil {
		t.Errorf("step = %+v", got)
	}
	if err := db.ClaimOrderStep(ctx, id, "run-c", "", t0); !errors.Is(err, claimed) {
		t.Errorf("claim on completed step: got %v", err)
	}
}
