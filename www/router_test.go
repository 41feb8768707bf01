package www

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"simplemes/config"
	"simplemes/engine"
	"simplemes/errs"
	"simplemes/store"
)

type testServer struct {
	t       *testing.T
	eng     *engine.Engine
	handler http.Handler
	cookies []*http.Cookie
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, nil)
}

func newTestServerWith(t *testing.T, configure func(*config.Config)) *testServer {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "www.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Defaults()
	cfg.DeviceService.BaseURL = "http://127.0.0.1:1"
	cfg.Workstations = []config.WorkstationConfig{{ID: "WS-001", Name: "Press line"}}
	if configure != nil {
		configure(cfg)
	}

	eng := engine.New(engine.Config{AppConfig: cfg, DB: db, Logger: zap.NewNop()})
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Stop)

	h, stop := NewRouter(eng)
	t.Cleanup(stop)
	return &testServer{t: t, eng: eng, handler: h}
}

// do sends a request carrying the cookies collected so far.
func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range s.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if got := rec.Result().Cookies(); len(got) > 0 {
		s.cookies = got
	}
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (s *testServer) seedOrder() int64 {
	s.t.Helper()
	ctx := context.Background()
	db := s.eng.DB()
	productID, err := db.CreateProduct(ctx, &store.Product{Code: "P-1", Name: "Valve"})
	require.NoError(s.t, err)
	processID, err := db.CreateProcess(ctx, &store.Process{Code: "PR-1", Name: "Assembly", ProductID: &productID})
	require.NoError(s.t, err)
	stepID, err := db.CreateStep(ctx, &store.Step{ProcessID: processID, Sequence: 1, Name: "Confirm", WorkstationID: "WS-001"})
	require.NoError(s.t, err)
	_, err = db.CreateAction(ctx, &store.Action{StepID: stepID, Sequence: 1, Name: "OK", ActionType: "MANUAL_CONFIRM", IsRequired: true})
	require.NoError(s.t, err)

	rec := s.do(http.MethodPost, "/api/orders", map[string]any{
		"order_number": "WO-1", "product_id": productID, "process_id": processID, "quantity": 3,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var o store.Order
	decodeBody(s.t, rec, &o)
	return o.ID
}

func TestLoginOccupiedTakeover(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/workstations/WS-001/login", map[string]string{"user_id": "u1", "username": "alice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first struct {
		Session store.WorkstationSession `json:"session"`
	}
	decodeBody(t, rec, &first)
	assert.True(t, first.Session.IsActive)
	assert.NotEmpty(t, s.cookies, "login sets the browser cookie")

	rec = s.do(http.MethodPost, "/api/workstations/WS-001/login", map[string]string{"user_id": "u2", "username": "bob"})
	require.Equal(t, http.StatusConflict, rec.Code)
	var occ errorBody
	decodeBody(t, rec, &occ)
	assert.Equal(t, errs.CodeWorkstationOccupied, occ.Code)
	require.Contains(t, occ.Details, "occupant")
	assert.Equal(t, "alice", occ.Details["occupant"].(map[string]any)["username"])

	rec = s.do(http.MethodPost, "/api/workstations/WS-001/takeover", map[string]string{"user_id": "u2", "username": "bob"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/workstations/WS-001/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var active struct {
		Session store.WorkstationSession `json:"session"`
		Stale   bool                     `json:"stale"`
	}
	decodeBody(t, rec, &active)
	assert.Equal(t, "bob", active.Session.Username)
	assert.False(t, active.Stale)

	rec = s.do(http.MethodPost, "/api/sessions/"+first.Session.SessionID+"/heartbeat", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "closed session cannot heartbeat")

	rec = s.do(http.MethodPost, "/api/sessions/"+active.Session.SessionID+"/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, "/api/sessions/"+active.Session.SessionID+"/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "logout is idempotent")

	rec = s.do(http.MethodGet, "/api/workstations/WS-001/sessions?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []store.WorkstationSession
	decodeBody(t, rec, &history)
	require.Len(t, history, 2)
	assert.Equal(t, "bob", history[0].Username)
	assert.False(t, history[1].IsActive)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := s.seedOrder()
	base := "/api/orders/" + strconv.FormatInt(id, 10)

	rec := s.do(http.MethodPost, base+"/start", map[string]string{"changed_by": "alice"})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	var e errorBody
	decodeBody(t, rec, &e)
	assert.Equal(t, errs.CodeNoActiveSession, e.Code)

	rec = s.do(http.MethodPost, "/api/workstations/WS-001/login", map[string]string{"user_id": "u1", "username": "alice"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodPost, base+"/start", map[string]string{"changed_by": "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, base+"/execute", map[string]any{"input": map[string]any{"executedBy": "alice"}})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	decodeBody(t, rec, &e)
	require.NotNil(t, e.Result, "failed execution returns its result")
	assert.Equal(t, "ERROR", e.Result.(map[string]any)["order"].(map[string]any)["status"])

	rec = s.do(http.MethodPost, base+"/resume", map[string]string{"changed_by": "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, base+"/execute", map[string]any{"input": map[string]any{"executedBy": "alice", "acknowledged": true}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, base+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st struct {
		Order    store.Order `json:"order"`
		Progress float64     `json:"progress"`
	}
	decodeBody(t, rec, &st)
	assert.Equal(t, "COMPLETED", st.Order.Status)
	assert.InDelta(t, 100.0, st.Progress, 0.001)

	rec = s.do(http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist []store.OrderStatusHistory
	decodeBody(t, rec, &hist)
	assert.Len(t, hist, 4)

	rec = s.do(http.MethodGet, base+"/action-logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []store.ActionLog
	decodeBody(t, rec, &logs)
	assert.Len(t, logs, 2)

	rec = s.do(http.MethodPut, base, map[string]any{"notes": "late"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "completed orders are read-only")
	decodeBody(t, rec, &e)
	assert.Equal(t, errs.CodeInvalidTransition, e.Code)
}

func TestOrderRequestErrors(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/orders/abc/status", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/orders/999/status", nil).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/orders", map[string]any{"order_number": "", "quantity": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestAdminGuard(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodDelete, "/api/workstations/WS-001/work-state", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(http.MethodPost, "/api/admin/sessions/sweep", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/admin/login", credentials{Username: "admin", Password: "secret123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodDelete, "/api/workstations/WS-001/work-state", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/admin/sessions/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"closed":0}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/admin/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, "/api/admin/sessions/sweep", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/admin/login", credentials{Username: "admin", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeviceEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/devices/PLC-1/read", readBody{Address: "X"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/devices/PLC-1/write", writeBody{Address: "D100"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "value is required")

	rec = s.do(http.MethodPost, "/api/devices/NOPE/connect", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterWorkstation(t *testing.T) {
	s := newTestServer(t)
	body := config.WorkstationConfig{ID: "WS-002", Name: "Kiosk", AutoLogin: true, AllowedIPs: []string{"10.0.0.0/8"}}

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/admin/workstations", body).Code)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/admin/login", credentials{Username: "admin", Password: "secret123"}).Code)
	rec := s.do(http.MethodPost, "/api/admin/workstations", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// httptest requests come from 192.0.2.1, outside the allow-list.
	rec = s.do(http.MethodPost, "/api/workstations/WS-002/login", map[string]string{"user_id": "u1", "username": "alice"})
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/workstations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []store.Workstation
	decodeBody(t, rec, &list)
	assert.Len(t, list, 2)
}

func TestForwardedHeadersNeedTrustedProxy(t *testing.T) {
	s := newTestServerWith(t, func(cfg *config.Config) {
		cfg.Web.TrustedProxies = []string{"192.0.2.0/28"}
		cfg.Workstations = append(cfg.Workstations, config.WorkstationConfig{
			ID: "WS-002", Name: "Kiosk", AutoLogin: true, AllowedIPs: []string{"10.0.0.5"},
		})
	})
	login := func(remoteAddr string) *httptest.ResponseRecorder {
		body := bytes.NewBufferString(`{"user_id":"u1","username":"alice"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/workstations/WS-002/login", body)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", "10.0.0.5")
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := login("203.0.113.9:41234")
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, errs.CodeIPAddressMismatch, body.Code)

	rec = login("192.0.2.10:41234")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}
