package plc

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"simplemes/config"
	"simplemes/errs"
	"simplemes/metrics"
)

// Operation types understood by the device-communication service.
const (
	OpConnect = "CONNECT"
	OpRead    = "READ"
	OpWrite   = "WRITE"
)

// Device statuses recorded in the directory.
const (
	StatusOnline  = "ONLINE"
	StatusOffline = "OFFLINE"
	StatusError   = "ERROR"
)

type ConnectResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ReadResult always carries Simulated explicitly; a simulated value is not
// a real device reading.
type ReadResult struct {
	Success   bool   `json:"success"`
	Value     any    `json:"value"`
	Address   string `json:"address"`
	Simulated bool   `json:"simulated"`
	Error     string `json:"error,omitempty"`
}

type WriteResult struct {
	Success        bool   `json:"success"`
	Address        string `json:"address"`
	IdempotencyKey string `json:"idempotencyKey"`
	Error          string `json:"error,omitempty"`
}

type StatusResult struct {
	IsConnected bool   `json:"isConnected"`
	Status      string `json:"status"`
}

type executeRequest struct {
	DeviceID   string         `json:"deviceId"`
	DeviceType string         `json:"deviceType"`
	DeviceInfo wireDeviceInfo `json:"deviceInfo"`
	Operation  operation      `json:"operation"`
}

type wireDeviceInfo struct {
	IPAddress string `json:"ipAddress"`
	Port      int    `json:"port"`
	PLCType   string `json:"plcType"`
	Protocol  string `json:"protocol"`
}

type operation struct {
	Type           string `json:"type"`
	Address        string `json:"address,omitempty"`
	Value          any    `json:"value,omitempty"`
	DataType       string `json:"dataType,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type executeResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Value any `json:"value"`
	} `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type statusResponse struct {
	Status   string `json:"status"`
	IsOnline bool   `json:"isOnline"`
}

// Gateway dispatches device operations to the external device-communication
// service.
type Gateway struct {
	dir    DeviceDirectory
	cfg    config.DeviceServiceConfig
	log    *zap.Logger
	client *resty.Client // connect, write, status: never retried
	reader *resty.Client // reads: retried within the read deadline

	randBit func() int
	now     func() time.Time
}

func NewGateway(dir DeviceDirectory, cfg config.DeviceServiceConfig, log *zap.Logger) *Gateway {
	base := strings.TrimRight(cfg.BaseURL, "/")
	client := resty.New().
		SetBaseURL(base).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	reader := resty.New().
		SetBaseURL(base).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.ReadRetries).
		SetRetryWaitTime(20 * time.Millisecond).
		SetRetryMaxWaitTime(50 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &Gateway{
		dir:     dir,
		cfg:     cfg,
		log:     log,
		client:  client,
		reader:  reader,
		randBit: func() int { return rand.IntN(2) },
		now:     time.Now,
	}
}

// Directory exposes the resolver the gateway was built with.
func (g *Gateway) Directory() DeviceDirectory { return g.dir }

func (g *Gateway) request(info DeviceInfo, op operation) executeRequest {
	deviceType := info.DeviceType
	if deviceType == "" {
		deviceType = "PLC"
	}
	return executeRequest{
		DeviceID:   info.DeviceID,
		DeviceType: deviceType,
		DeviceInfo: wireDeviceInfo{
			IPAddress: info.IPAddress,
			Port:      info.Port,
			PLCType:   info.Brand,
			Protocol:  info.Protocol,
		},
		Operation: op,
	}
}

// Connect asks the service to open a connection to the device. A success
// marks the device ONLINE with a fresh heartbeat.
func (g *Gateway) Connect(ctx context.Context, deviceID string) (ConnectResult, error) {
	info, err := g.dir.Resolve(ctx, deviceID)
	if err != nil {
		metrics.DeviceRequests.WithLabelValues(OpConnect, "not_found").Inc()
		return ConnectResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.ConnectTimeout)
	defer cancel()

	var out executeResponse
	start := time.Now()
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(g.request(info, operation{Type: OpConnect})).
		SetResult(&out).
		SetError(&out).
		Post("/devices/execute")
	metrics.DeviceRequestDuration.WithLabelValues(OpConnect).Observe(time.Since(start).Seconds())
	if err != nil {
		if isTimeout(err) {
			metrics.DeviceRequests.WithLabelValues(OpConnect, "timeout").Inc()
			g.log.Warn("device connect timed out", zap.String("device_id", deviceID), zap.Duration("timeout", g.cfg.ConnectTimeout))
			return ConnectResult{}, errs.E(errs.KindDeviceTimeout, "plc.Connect",
				"connect to %s timed out after %s", deviceID, g.cfg.ConnectTimeout).
				WithCode(errs.CodeConnectionTimeout).Wrap(err)
		}
		metrics.DeviceRequests.WithLabelValues(OpConnect, "unavailable").Inc()
		return ConnectResult{}, errs.E(errs.KindDeviceUnavailable, "plc.Connect",
			"device service unreachable").Wrap(err)
	}
	if resp.StatusCode() >= 500 {
		metrics.DeviceRequests.WithLabelValues(OpConnect, "unavailable").Inc()
		return ConnectResult{}, errs.E(errs.KindDeviceUnavailable, "plc.Connect",
			"device service returned HTTP %d", resp.StatusCode())
	}
	if !resp.IsSuccess() || !out.Success {
		metrics.DeviceRequests.WithLabelValues(OpConnect, "failed").Inc()
		if err := g.dir.MarkStatus(ctx, deviceID, StatusError, nil); err != nil {
			g.log.Warn("mark device status", zap.String("device_id", deviceID), zap.Error(err))
		}
		return ConnectResult{Success: false, Message: firstNonEmpty(out.Error, out.Message, resp.Status())}, nil
	}

	now := g.now()
	if err := g.dir.MarkStatus(ctx, deviceID, StatusOnline, &now); err != nil {
		g.log.Warn("mark device online", zap.String("device_id", deviceID), zap.Error(err))
	}
	metrics.DeviceRequests.WithLabelValues(OpConnect, "ok").Inc()
	return ConnectResult{Success: true, Message: firstNonEmpty(out.Message, "connected")}, nil
}

// Read reads one address. When the service is unreachable, times out or
// reports an error, and simulation is enabled, the result is a simulated
// success carrying a 0 or 1 value.
func (g *Gateway) Read(ctx context.Context, deviceID string, desc AddressDescriptor) (ReadResult, error) {
	return g.read(ctx, deviceID, desc, g.cfg.ReadTimeout, g.cfg.SimulateReads)
}

// ReadStrict is Read without simulation, used where a fabricated value
// would be wrong (barcode scans).
func (g *Gateway) ReadStrict(ctx context.Context, deviceID string, desc AddressDescriptor, timeout time.Duration) (ReadResult, error) {
	if timeout <= 0 {
		timeout = g.cfg.ReadTimeout
	}
	return g.read(ctx, deviceID, desc, timeout, false)
}

func (g *Gateway) read(ctx context.Context, deviceID string, desc AddressDescriptor, timeout time.Duration, simulate bool) (ReadResult, error) {
	info, err := g.dir.Resolve(ctx, deviceID)
	if err != nil {
		metrics.DeviceRequests.WithLabelValues(OpRead, "not_found").Inc()
		return ReadResult{}, err
	}
	addr, err := TranslateAddress(desc, info)
	if err != nil {
		return ReadResult{}, errs.Validation("plc.Read", "%v", err).Wrap(err)
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out executeResponse
	start := time.Now()
	resp, err := g.reader.R().
		SetContext(rctx).
		SetBody(g.request(info, operation{Type: OpRead, Address: addr, DataType: dataType(desc)})).
		SetResult(&out).
		SetError(&out).
		Post("/devices/execute")
	metrics.DeviceRequestDuration.WithLabelValues(OpRead).Observe(time.Since(start).Seconds())

	var failure *errs.Error
	switch {
	case err != nil && isTimeout(err):
		metrics.DeviceRequests.WithLabelValues(OpRead, "timeout").Inc()
		failure = errs.E(errs.KindDeviceTimeout, "plc.Read", "read %s on %s timed out after %s", addr, deviceID, timeout).Wrap(err)
	case err != nil:
		metrics.DeviceRequests.WithLabelValues(OpRead, "unavailable").Inc()
		failure = errs.E(errs.KindDeviceUnavailable, "plc.Read", "device service unreachable").Wrap(err)
	case resp.StatusCode() >= 500:
		metrics.DeviceRequests.WithLabelValues(OpRead, "unavailable").Inc()
		failure = errs.E(errs.KindDeviceUnavailable, "plc.Read", "device service returned HTTP %d", resp.StatusCode())
	case !resp.IsSuccess() || !out.Success:
		metrics.DeviceRequests.WithLabelValues(OpRead, "failed").Inc()
		failure = errs.E(errs.KindDeviceUnavailable, "plc.Read", "read %s on %s failed: %s", addr, deviceID,
			firstNonEmpty(out.Error, out.Message, resp.Status()))
	}

	if failure == nil {
		metrics.DeviceRequests.WithLabelValues(OpRead, "ok").Inc()
		var value any
		if out.Data != nil {
			value = out.Data.Value
		}
		return ReadResult{Success: true, Value: value, Address: addr, Simulated: false}, nil
	}
	if !simulate {
		return ReadResult{Success: false, Address: addr, Simulated: false, Error: failure.Error()}, failure
	}

	value := g.randBit()
	metrics.SimulatedReads.WithLabelValues(deviceID).Inc()
	g.log.Warn("device read failed, returning simulated value",
		zap.String("device_id", deviceID),
		zap.String("address", addr),
		zap.Int("value", value),
		zap.Error(failure),
	)
	return ReadResult{Success: true, Value: value, Address: addr, Simulated: true, Error: failure.Error()}, nil
}

// Write writes one address. Writes are never simulated or retried. Each
// carries an idempotency key so the service can drop a duplicate when the
// caller retries after a timeout whose outcome it cannot know.
func (g *Gateway) Write(ctx context.Context, deviceID string, desc AddressDescriptor, value any) (WriteResult, error) {
	info, err := g.dir.Resolve(ctx, deviceID)
	if err != nil {
		metrics.DeviceRequests.WithLabelValues(OpWrite, "not_found").Inc()
		return WriteResult{}, err
	}
	addr, err := TranslateAddress(desc, info)
	if err != nil {
		return WriteResult{}, errs.Validation("plc.Write", "%v", err).Wrap(err)
	}

	key := uuid.NewString()
	wctx, cancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
	defer cancel()

	var out executeResponse
	start := time.Now()
	resp, err := g.client.R().
		SetContext(wctx).
		SetHeader("Idempotency-Key", key).
		SetBody(g.request(info, operation{Type: OpWrite, Address: addr, Value: value, DataType: dataType(desc), IdempotencyKey: key})).
		SetResult(&out).
		SetError(&out).
		Post("/devices/execute")
	metrics.DeviceRequestDuration.WithLabelValues(OpWrite).Observe(time.Since(start).Seconds())

	result := WriteResult{Address: addr, IdempotencyKey: key}
	if err != nil {
		if isTimeout(err) {
			metrics.DeviceRequests.WithLabelValues(OpWrite, "timeout").Inc()
			e := errs.E(errs.KindDeviceTimeout, "plc.Write",
				"write %s on %s timed out after %s; outcome unknown", addr, deviceID, g.cfg.WriteTimeout).
				WithDetails(map[string]any{"idempotencyKey": key, "address": addr}).Wrap(err)
			result.Error = e.Error()
			return result, e
		}
		metrics.DeviceRequests.WithLabelValues(OpWrite, "unavailable").Inc()
		e := errs.E(errs.KindDeviceUnavailable, "plc.Write", "device service unreachable").Wrap(err)
		result.Error = e.Error()
		return result, e
	}
	if resp.StatusCode() >= 500 {
		metrics.DeviceRequests.WithLabelValues(OpWrite, "unavailable").Inc()
		e := errs.E(errs.KindDeviceUnavailable, "plc.Write", "device service returned HTTP %d", resp.StatusCode())
		result.Error = e.Error()
		return result, e
	}
	if !resp.IsSuccess() || !out.Success {
		metrics.DeviceRequests.WithLabelValues(OpWrite, "failed").Inc()
		result.Error = firstNonEmpty(out.Error, out.Message, resp.Status())
		return result, nil
	}
	metrics.DeviceRequests.WithLabelValues(OpWrite, "ok").Inc()
	result.Success = true
	return result, nil
}

// Status queries the service's view of the device. A device the service
// has never seen (404) is OFFLINE, not an error.
func (g *Gateway) Status(ctx context.Context, deviceID string) (StatusResult, error) {
	if _, err := g.dir.Resolve(ctx, deviceID); err != nil {
		metrics.DeviceRequests.WithLabelValues("STATUS", "not_found").Inc()
		return StatusResult{}, err
	}

	sctx, cancel := context.WithTimeout(ctx, g.cfg.StatusTimeout)
	defer cancel()

	var out statusResponse
	resp, err := g.client.R().
		SetContext(sctx).
		SetResult(&out).
		Get("/devices/" + url.PathEscape(deviceID) + "/status")
	if err != nil {
		if isTimeout(err) {
			metrics.DeviceRequests.WithLabelValues("STATUS", "timeout").Inc()
			return StatusResult{}, errs.E(errs.KindDeviceTimeout, "plc.Status", "status of %s timed out", deviceID).Wrap(err)
		}
		metrics.DeviceRequests.WithLabelValues("STATUS", "unavailable").Inc()
		return StatusResult{}, errs.E(errs.KindDeviceUnavailable, "plc.Status", "device service unreachable").Wrap(err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		metrics.DeviceRequests.WithLabelValues("STATUS", "ok").Inc()
		return StatusResult{IsConnected: false, Status: StatusOffline}, nil
	}
	if !resp.IsSuccess() {
		metrics.DeviceRequests.WithLabelValues("STATUS", "unavailable").Inc()
		return StatusResult{}, errs.E(errs.KindDeviceUnavailable, "plc.Status", "device service returned HTTP %d", resp.StatusCode())
	}
	metrics.DeviceRequests.WithLabelValues("STATUS", "ok").Inc()
	status := out.Status
	if status == "" {
		status = StatusOffline
		if out.IsOnline {
			status = StatusOnline
		}
	}
	return StatusResult{IsConnected: out.IsOnline, Status: status}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func dataType(desc AddressDescriptor) string {
	if desc.Bit != nil {
		return "BOOL"
	}
	return "WORD"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
