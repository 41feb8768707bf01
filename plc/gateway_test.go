package plc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"simplemes/config"
	"simplemes/errs"
)

type fakeDirectory struct {
	mu       sync.Mutex
	devices  map[string]DeviceInfo
	statuses map[string]string
	beats    map[string]time.Time
}

func newFakeDirectory(infos ...DeviceInfo) *fakeDirectory {
	d := &fakeDirectory{devices: map[string]DeviceInfo{}, statuses: map[string]string{}, beats: map[string]time.Time{}}
	for _, info := range infos {
		d.devices[info.DeviceID] = info
	}
	return d
}

func (d *fakeDirectory) Resolve(_ context.Context, id string) (DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.devices[id]
	if !ok {
		return DeviceInfo{}, errs.NotFound("fake", "device %s", id).WithCode(errs.CodeDeviceNotFound)
	}
	return info, nil
}

func (d *fakeDirectory) MarkStatus(_ context.Context, id, status string, hb *time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[id] = status
	if hb != nil {
		d.beats[id] = *hb
	}
	return nil
}

var plc1 = DeviceInfo{DeviceID: "PLC-1", DeviceType: "PLC", IPAddress: "10.0.0.10", Port: 102, Brand: "Siemens", Protocol: "S7"}

func testConfig(baseURL string) config.DeviceServiceConfig {
	cfg := config.Defaults().DeviceService
	cfg.BaseURL = baseURL
	cfg.ReadTimeout = 200 * time.Millisecond
	cfg.WriteTimeout = 200 * time.Millisecond
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.ReadRetries = 0
	return cfg
}

func newTestGateway(t *testing.T, baseURL string, dir DeviceDirectory) *Gateway {
	t.Helper()
	g := NewGateway(dir, testConfig(baseURL), zap.NewNop())
	g.randBit = func() int { return 1 }
	return g
}

// deadURL returns the address of a server that has already shut down.
func deadURL(t *testing.T) string {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestReadSendsTranslatedAddress(t *testing.T) {
	var got executeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/devices/execute", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{"value": 42}})
	}))
	defer srv.Close()

	g := newTestGateway(t, srv.URL+"/api", newFakeDirectory(plc1))
	res, err := g.Read(context.Background(), "PLC-1", AddressDescriptor{RegisterType: "DB", Number: 10, Byte: Int(0), Bit: Int(1)})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.False(t, res.Simulated)
	assert.EqualValues(t, 42, res.Value)
	assert.Equal(t, "DB10.DBX0.1", res.Address)

	assert.Equal(t, "PLC-1", got.DeviceID)
	assert.Equal(t, "PLC", got.DeviceType)
	assert.Equal(t, "10.0.0.10", got.DeviceInfo.IPAddress)
	assert.Equal(t, "Siemens", got.DeviceInfo.PLCType)
	assert.Equal(t, OpRead, got.Operation.Type)
	assert.Equal(t, "DB10.DBX0.1", got.Operation.Address)
	assert.Equal(t, "BOOL", got.Operation.DataType)
}

// Reads degrade to a flagged simulated success; writes fail hard.
func TestUnreachableServiceReadSimulatesWriteFails(t *testing.T) {
	g := newTestGateway(t, deadURL(t), newFakeDirectory(plc1))
	desc := AddressDescriptor{RegisterType: "DB", Number: 1, Byte: Int(0), Bit: Int(0)}

	read, err := g.Read(context.Background(), "PLC-1", desc)
	require.NoError(t, err)
	assert.True(t, read.Success)
	assert.True(t, read.Simulated)
	assert.Contains(t, []any{0, 1}, read.Value)

	write, err := g.Write(context.Background(), "PLC-1", desc, 1)
	require.Error(t, err)
	assert.False(t, write.Success)
	assert.True(t, errors.Is(err, errs.ErrDeviceUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, errs.HTTPStatus(err))
}

func TestReadStrictDoesNotSimulate(t *testing.T) {
	g := newTestGateway(t, deadURL(t), newFakeDirectory(plc1))
	res, err := g.ReadStrict(context.Background(), "PLC-1", AddressDescriptor{RegisterType: "M", Number: 1, Bit: Int(0)}, 0)
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.False(t, res.Simulated)
}

func TestReadSimulationDisabled(t *testing.T) {
	cfg := testConfig(deadURL(t))
	cfg.SimulateReads = false
	g := NewGateway(newFakeDirectory(plc1), cfg, zap.NewNop())
	_, err := g.Read(context.Background(), "PLC-1", AddressDescriptor{RegisterType: "M", Number: 1, Bit: Int(0)})
	assert.True(t, errors.Is(err, errs.ErrDeviceUnavailable))
}

func TestReadRemoteErrorSimulates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "PLC not connected"})
	}))
	defer srv.Close()

	g := newTestGateway(t, srv.URL, newFakeDirectory(plc1))
	res, err := g.Read(context.Background(), "PLC-1", AddressDescriptor{RegisterType: "M", Number: 1, Bit: Int(0)})
	require.NoError(t, err)
	assert.True(t, res.Simulated)
	assert.Contains(t, res.Error, "PLC not connected")
}

func TestWriteCarriesIdempotencyKey(t *testing.T) {
	var header string
	var body executeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Idempotency-Key")
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	g := newTestGateway(t, srv.URL, newFakeDirectory(plc1))
	res, err := g.Write(context.Background(), "PLC-1", AddressDescriptor{RegisterType: "DB", Number: 2, Byte: Int(1), Bit: Int(0)}, 0)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, header)
	assert.Equal(t, header, res.IdempotencyKey)
	assert.Equal(t, header, body.Operation.IdempotencyKey)
	assert.Equal(t, OpWrite, body.Operation.Type)
	assert.EqualValues(t, 0, body.Operation.Value)
}

func TestWriteTimeoutReportsUnknownOutcome(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	g := newTestGateway(t, srv.URL, newFakeDirectory(plc1))
	res, err := g.Write(context.Background(), "PLC-1", AddressDescriptor{RegisterType: "M", Number: 1, Bit: Int(0)}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrDeviceTimeout))
	assert.Contains(t, err.Error(), "outcome unknown")
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.IdempotencyKey)
}

func TestConnectMarksOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req executeRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, OpConnect, req.Operation.Type)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "message": "connected"})
	}))
	defer srv.Close()

	dir := newFakeDirectory(plc1)
	g := newTestGateway(t, srv.URL, dir)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	res, err := g.Connect(context.Background(), "PLC-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, StatusOnline, dir.statuses["PLC-1"])
	assert.Equal(t, fixed, dir.beats["PLC-1"])
}

func TestConnectTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	g := newTestGateway(t, srv.URL, newFakeDirectory(plc1))
	_, err := g.Connect(context.Background(), "PLC-1")
	require.Error(t, err)
	assert.Equal(t, errs.CodeConnectionTimeout, errs.CodeOf(err))
	assert.Equal(t, http.StatusRequestTimeout, errs.HTTPStatus(err))
}

func TestStatusUnregisteredIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/devices/PLC-1/status" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "ONLINE", "isOnline": true})
	}))
	defer srv.Close()

	other := plc1
	other.DeviceID = "PLC-2"
	g := newTestGateway(t, srv.URL, newFakeDirectory(plc1, other))

	st, err := g.Status(context.Background(), "PLC-1")
	require.NoError(t, err)
	assert.Equal(t, StatusResult{IsConnected: false, Status: StatusOffline}, st)

	st, err = g.Status(context.Background(), "PLC-2")
	require.NoError(t, err)
	assert.Equal(t, StatusResult{IsConnected: true, Status: StatusOnline}, st)
}

func TestUnknownDeviceMakesNoNetworkCall(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	g := newTestGateway(t, srv.URL, newFakeDirectory())
	ctx := context.Background()
	desc := AddressDescriptor{RegisterType: "M", Number: 1, Bit: Int(0)}

	_, err := g.Connect(ctx, "GHOST")
	assert.Equal(t, errs.CodeDeviceNotFound, errs.CodeOf(err))
	_, err = g.Read(ctx, "GHOST", desc)
	assert.Equal(t, errs.CodeDeviceNotFound, errs.CodeOf(err))
	_, err = g.Write(ctx, "GHOST", desc, 1)
	assert.Equal(t, errs.CodeDeviceNotFound, errs.CodeOf(err))
	_, err = g.Status(ctx, "GHOST")
	assert.Equal(t, errs.CodeDeviceNotFound, errs.CodeOf(err))

	assert.Zero(t, hits.Load())
}
