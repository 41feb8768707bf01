// Package engine assembles the execution services and routes their events
// to live subscribers and the outbox.
package engine

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"simplemes/actions"
	"simplemes/config"
	"simplemes/errs"
	"simplemes/orders"
	"simplemes/plc"
	"simplemes/sessions"
	"simplemes/store"
	"simplemes/workstate"
)

// LogFunc is the logging callback signature.
type LogFunc func(format string, args ...any)

// Engine owns the services and the event bus that connects them.
type Engine struct {
	cfg        *config.Config
	configPath string
	db         *store.DB
	log        *zap.Logger
	logFn      LogFunc
	debugFn    LogFunc

	gateway   *plc.Gateway
	executor  *actions.Executor
	states    *workstate.Manager
	sessions  *sessions.Manager
	orders    *orders.Service
	directory *plc.StoreDirectory

	Events   *EventBus
	stopChan chan struct{}
}

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	DB         *store.DB
	// Cache is the optional Redis work-state cache.
	Cache   *workstate.RedisStore
	Logger  *zap.Logger
	LogFunc LogFunc
	Debug   bool
}

// New creates the engine and its services. Call Start to seed data and
// start background work.
func New(c Config) *Engine {
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}
	logFn := c.LogFunc
	if logFn == nil {
		logFn = log.Sugar().Infof
	}
	debugFn := LogFunc(func(string, ...any) {})
	if c.Debug {
		debugFn = log.Sugar().Debugf
	}

	e := &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		db:         c.DB,
		log:        log,
		logFn:      logFn,
		debugFn:    debugFn,
		Events:     NewEventBus(),
		stopChan:   make(chan struct{}),
	}

	orderEmit := &orderEmitter{bus: e.Events}
	sessionEmit := &sessionEmitter{bus: e.Events}

	e.directory = plc.NewStoreDirectory(c.DB)
	e.gateway = plc.NewGateway(e.directory, e.cfg.DeviceService, log.Named("plc"))
	v := actions.NewValidator()
	e.executor = actions.NewExecutor(e.gateway, actions.NewRegistry(v), v, e.cfg.DeviceService.ScanTimeout, log.Named("actions"))
	e.states = workstate.NewManager(c.DB, c.Cache, log.Named("workstate"))
	e.sessions = sessions.New(c.DB, e.states, e.gateway, sessionEmit, e.cfg.Session, log.Named("sessions"))
	runner := orders.NewStepRunner(c.DB, e.executor, e.states, orderEmit, log.Named("orders"))
	e.orders = orders.NewService(c.DB, runner, e.sessions, e.states, orderEmit, log.Named("orders"))
	return e
}

// Start seeds configured workstations, wires event handlers and starts the
// session sweeper.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.seedWorkstations(ctx); err != nil {
		return err
	}
	if err := e.states.SyncCache(ctx); err != nil {
		e.log.Warn("sync work-state cache", zap.Error(err))
	}
	e.wireEventHandlers()
	e.sessions.StartSweeper()

	e.logFn("Engine started: plant=%s workstations=%d messaging=%t",
		e.cfg.Plant, len(e.cfg.Workstations), e.cfg.Messaging.Enabled)
	return nil
}

// Stop shuts down background work.
func (e *Engine) Stop() {
	select {
	case <-e.stopChan:
		return
	default:
		close(e.stopChan)
	}
	e.sessions.StopSweeper()
	e.logFn("Engine stopped")
}

func (e *Engine) seedWorkstations(ctx context.Context) error {
	for _, ws := range e.cfg.Workstations {
		if ws.ID == "" {
			continue
		}
		if err := e.upsertWorkstation(ctx, ws); err != nil {
			return err
		}
		e.debugFn("seeded workstation %s (auto_login=%t allowed=%v)", ws.ID, ws.AutoLogin, ws.AllowedIPs)
	}
	return nil
}

func (e *Engine) upsertWorkstation(ctx context.Context, ws config.WorkstationConfig) error {
	return e.db.UpsertWorkstation(ctx, &store.Workstation{
		WorkstationID: ws.ID,
		Name:          ws.Name,
		Location:      ws.Location,
		AutoLogin:     ws.AutoLogin,
		AllowedIPs:    ws.AllowedIPs,
	})
}

// RegisterWorkstation stores a workstation and records it in the seed list
// so it survives a restart. The config file is rewritten when the engine
// was loaded from one.
func (e *Engine) RegisterWorkstation(ctx context.Context, ws config.WorkstationConfig) error {
	if ws.ID == "" {
		return errs.Validation("engine.RegisterWorkstation", "workstation id is required")
	}
	for _, entry := range ws.AllowedIPs {
		if !validAllowEntry(entry) {
			return errs.Validation("engine.RegisterWorkstation", "invalid allowed_ips entry %q", entry)
		}
	}
	if err := e.upsertWorkstation(ctx, ws); err != nil {
		return err
	}
	e.cfg.PutWorkstation(ws)
	if e.configPath != "" {
		if err := e.cfg.Save(e.configPath); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}
	e.logFn("Workstation %s registered", ws.ID)
	return nil
}

func validAllowEntry(s string) bool {
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// DB returns the database handle.
func (e *Engine) DB() *store.DB { return e.db }

// AppConfig returns the app config.
func (e *Engine) AppConfig() *config.Config { return e.cfg }

// ConfigPath returns the config file path.
func (e *Engine) ConfigPath() string { return e.configPath }

// Logger returns the engine logger.
func (e *Engine) Logger() *zap.Logger { return e.log }

// Gateway returns the device-action gateway.
func (e *Engine) Gateway() *plc.Gateway { return e.gateway }

// Sessions returns the workstation session manager.
func (e *Engine) Sessions() *sessions.Manager { return e.sessions }

// Orders returns the order execution service.
func (e *Engine) Orders() *orders.Service { return e.orders }

// WorkStates returns the work-state snapshot store.
func (e *Engine) WorkStates() *workstate.Manager { return e.states }

// MarkDevice records a device status change and announces it.
func (e *Engine) MarkDevice(ctx context.Context, deviceID, status string, heartbeat time.Time) error {
	var hb *time.Time
	if !heartbeat.IsZero() {
		hb = &heartbeat
	}
	if err := e.directory.MarkStatus(ctx, deviceID, status, hb); err != nil {
		return err
	}
	e.Events.Emit(Event{Type: EventDeviceStatus, Payload: DeviceStatusEvent{DeviceID: deviceID, Status: status}})
	return nil
}
