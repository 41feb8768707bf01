package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"simplemes/errs"
	"simplemes/metrics"
	"simplemes/plc"
	"simplemes/store"
)

// DeviceGateway is the device I/O the executor needs.
type DeviceGateway interface {
	Read(ctx context.Context, deviceID string, desc plc.AddressDescriptor) (plc.ReadResult, error)
	ReadStrict(ctx context.Context, deviceID string, desc plc.AddressDescriptor, timeout time.Duration) (plc.ReadResult, error)
	Write(ctx context.Context, deviceID string, desc plc.AddressDescriptor, value any) (plc.WriteResult, error)
}

// Executor runs one action, retrying up to its retry count.
type Executor struct {
	gw          DeviceGateway
	validator   *Validator
	registry    *Registry
	log         *zap.Logger
	scanTimeout time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(gw DeviceGateway, registry *Registry, validator *Validator, scanTimeout time.Duration, log *zap.Logger) *Executor {
	return &Executor{
		gw:          gw,
		validator:   validator,
		registry:    registry,
		log:         log,
		scanTimeout: scanTimeout,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Validator returns the rule evaluator shared with extensions.
func (e *Executor) Validator() *Validator { return e.validator }

// Run executes a with up to 1+RetryCount attempts and no backoff. Each
// attempt runs under the action's timeout and is reported to onAttempt
// (which may be nil) before the next one starts.
func (e *Executor) Run(ctx context.Context, a store.Action, in Input, onAttempt func(Attempt)) Outcome {
	typ := Type(a.ActionType)
	out := Outcome{ActionID: a.ID, Type: typ}

	params, err := DecodeParams(typ, a.Parameters)
	if err != nil {
		res := Result{Success: false, Error: err.Error(), DeviceID: a.DeviceID}
		att := Attempt{Number: 1, Result: res, At: e.now()}
		out.Attempts = append(out.Attempts, att)
		out.Final = res
		out.Err = errs.E(errs.KindActionFailed, "actions.Run", "action %d (%s): invalid parameters", a.ID, typ).Wrap(err)
		metrics.ActionAttempts.WithLabelValues(string(typ), "invalid").Inc()
		if onAttempt != nil {
			onAttempt(att)
		}
		return out
	}

	attempts := 1 + max(a.RetryCount, 0)
	var lastErr error
	for n := 1; n <= attempts; n++ {
		res, err := e.attempt(ctx, a, typ, params, in)
		att := Attempt{Number: n, Result: res, At: e.now()}
		out.Attempts = append(out.Attempts, att)
		out.Final = res
		if res.Success {
			metrics.ActionAttempts.WithLabelValues(string(typ), "success").Inc()
		} else {
			metrics.ActionAttempts.WithLabelValues(string(typ), "failure").Inc()
		}
		if onAttempt != nil {
			onAttempt(att)
		}
		if res.Success {
			return out
		}
		lastErr = err
		if lastErr == nil {
			lastErr = errors.New(res.Error)
		}
		e.log.Info("action attempt failed",
			zap.Int64("action_id", a.ID),
			zap.String("type", string(typ)),
			zap.Int("attempt", n),
			zap.Int("of", attempts),
			zap.String("error", res.Error),
		)
		if ctx.Err() != nil {
			break
		}
	}

	out.Err = errs.E(errs.KindActionFailed, "actions.Run", "action %d (%s) failed after %d attempt(s): %s",
		a.ID, typ, len(out.Attempts), out.Final.Error).
		WithDetails(map[string]any{"actionId": a.ID, "attempts": len(out.Attempts)}).
		Wrap(lastErr)
	return out
}

func (e *Executor) attempt(ctx context.Context, a store.Action, typ Type, params Params, in Input) (Result, error) {
	start := time.Now()
	var res Result
	var err error

	if typ == DelayWait {
		res, err = e.delay(ctx, params.(DelayParams))
	} else {
		actx := ctx
		if a.TimeoutMs > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, time.Duration(a.TimeoutMs)*time.Millisecond)
			defer cancel()
		}
		switch typ {
		case DeviceRead:
			res, err = e.deviceRead(actx, a, params.(DeviceParams))
		case DeviceWrite:
			res, err = e.deviceWrite(actx, a, params.(DeviceParams))
		case BarcodeScan:
			res, err = e.scan(actx, a, params.(ScanParams), in)
		case ManualConfirm:
			res = e.confirm(a, params.(ConfirmParams), in)
		case DataValidation, CameraCheck, CustomScript:
			res, err = e.extension(actx, a, typ, params.(ExtensionParams), in)
		default:
			err = fmt.Errorf("unsupported action type %q", typ)
			res = Result{Error: err.Error()}
		}
	}
	if err != nil && res.Error == "" {
		res.Error = err.Error()
	}
	if res.DeviceID == "" {
		res.DeviceID = a.DeviceID
	}
	res.DurationMs = time.Since(start).Milliseconds()
	return res, err
}

func (e *Executor) deviceRead(ctx context.Context, a store.Action, p DeviceParams) (Result, error) {
	desc, err := p.Descriptor(a)
	if err != nil {
		return Result{}, err
	}
	rr, err := e.gw.Read(ctx, a.DeviceID, desc)
	res := Result{Value: rr.Value, Address: rr.Address, Simulated: rr.Simulated, Error: rr.Error}
	if err != nil {
		return res, err
	}
	if !rr.Success {
		return res, nil
	}
	ok, err := e.validator.Check(a.ValidationRule, rr.Value, a.ExpectedValue)
	if err != nil {
		return res, err
	}
	res.Success = ok
	if ok {
		res.Error = ""
	} else {
		res.Error = fmt.Sprintf("value %v at %s failed %s %q", rr.Value, rr.Address, ruleName(a.ValidationRule), a.ExpectedValue)
	}
	return res, nil
}

func (e *Executor) deviceWrite(ctx context.Context, a store.Action, p DeviceParams) (Result, error) {
	desc, err := p.Descriptor(a)
	if err != nil {
		return Result{}, err
	}
	value := p.Value
	if value == nil {
		value = writeValue(a.ExpectedValue)
	}
	wr, err := e.gw.Write(ctx, a.DeviceID, desc, value)
	res := Result{Success: wr.Success && err == nil, Value: value, Address: wr.Address, Error: wr.Error}
	return res, err
}

func (e *Executor) scan(ctx context.Context, a store.Action, p ScanParams, in Input) (Result, error) {
	var value any
	res := Result{}
	switch {
	case in.ScanValue != "":
		value = in.ScanValue
	case a.DeviceID != "":
		addr := p.Address
		if addr == "" {
			addr = a.DeviceAddress
		}
		desc, err := plc.ParseAddress(addr)
		if err != nil {
			return res, err
		}
		timeout := e.scanTimeout
		if p.TimeoutMs > 0 {
			timeout = time.Duration(p.TimeoutMs) * time.Millisecond
		}
		rr, err := e.gw.ReadStrict(ctx, a.DeviceID, desc, timeout)
		res.Address = rr.Address
		if err != nil {
			return res, err
		}
		if !rr.Success {
			res.Error = rr.Error
			return res, nil
		}
		value = rr.Value
	default:
		res.Error = "no scan value supplied"
		return res, nil
	}

	res.Value = value
	rule := a.ValidationRule
	if rule == "" {
		rule = "not_empty"
	}
	ok, err := e.validator.Check(rule, value, a.ExpectedValue)
	if err != nil {
		return res, err
	}
	res.Success = ok
	if !ok {
		res.Error = fmt.Sprintf("scan %q failed %s", stringify(value), rule)
	}
	return res, nil
}

func (e *Executor) confirm(a store.Action, p ConfirmParams, in Input) Result {
	if !in.Acknowledged {
		msg := "operator confirmation required"
		if p.Prompt != "" {
			msg += ": " + p.Prompt
		}
		return Result{Success: false, Error: msg}
	}
	return Result{Success: true, Value: in.ExecutedBy}
}

func (e *Executor) delay(ctx context.Context, p DelayParams) (Result, error) {
	if err := e.sleep(ctx, time.Duration(p.DelayMs)*time.Millisecond); err != nil {
		return Result{Success: false, Error: err.Error()}, err
	}
	return Result{Success: true, Value: p.DelayMs}, nil
}

func (e *Executor) extension(ctx context.Context, a store.Action, typ Type, p ExtensionParams, in Input) (Result, error) {
	ext, ok := e.registry.Lookup(typ)
	if !ok {
		return Result{}, fmt.Errorf("no extension registered for %s", typ)
	}
	r, err := ext.Evaluate(ctx, a, p, in)
	if err != nil {
		return Result{Error: err.Error()}, err
	}
	return Result{Success: r.Success, Value: r.Value, Error: r.Error}, nil
}

// writeValue turns a stored expected value into the value written: numbers
// and booleans are sent typed, anything else as text.
func writeValue(s string) any {
	switch s {
	case "":
		return 1
	case "true", "TRUE":
		return true
	case "false", "FALSE":
		return false
	}
	if f, ok := toFloat(s); ok {
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
