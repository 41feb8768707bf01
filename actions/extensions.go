package actions

import (
	"context"
	"fmt"
	"sync"

	"simplemes/store"
)

// Extension evaluates DATA_VALIDATION, CAMERA_CHECK and CUSTOM_SCRIPT
// actions. The executor records whatever result it returns.
type Extension interface {
	Evaluate(ctx context.Context, a store.Action, p ExtensionParams, in Input) (ExternalResult, error)
}

// ExtensionFunc adapts a function to Extension.
type ExtensionFunc func(ctx context.Context, a store.Action, p ExtensionParams, in Input) (ExternalResult, error)

func (f ExtensionFunc) Evaluate(ctx context.Context, a store.Action, p ExtensionParams, in Input) (ExternalResult, error) {
	return f(ctx, a, p, in)
}

// Registry maps extension action types to their handlers.
type Registry struct {
	mu   sync.RWMutex
	exts map[Type]Extension
}

// NewRegistry returns a registry with the built-in extensions installed.
func NewRegistry(v *Validator) *Registry {
	r := &Registry{exts: make(map[Type]Extension)}
	r.Register(DataValidation, dataValidation(v))
	r.Register(CustomScript, customScript(v))
	r.Register(CameraCheck, ExtensionFunc(externalResult))
	return r
}

func (r *Registry) Register(t Type, ext Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exts[t] = ext
}

func (r *Registry) Lookup(t Type) (Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext, ok := r.exts[t]
	return ext, ok
}

// dataValidation checks caller-supplied data. With an expression it is
// evaluated over data; otherwise the action's validation rule is applied
// to data[field] (default "value").
func dataValidation(v *Validator) Extension {
	return ExtensionFunc(func(_ context.Context, a store.Action, p ExtensionParams, in Input) (ExternalResult, error) {
		if p.Expression != "" {
			out, err := v.Eval(p.Expression, ruleEnv{Value: in.Data["value"], Expected: a.ExpectedValue, Data: in.Data, Config: p.Config})
			if err != nil {
				return ExternalResult{}, err
			}
			ok, isBool := out.(bool)
			if !isBool {
				return ExternalResult{}, fmt.Errorf("validation expression returned %T, not bool", out)
			}
			return ExternalResult{Success: ok, Value: ok}, nil
		}
		field := p.Field
		if field == "" {
			field = "value"
		}
		value := in.Data[field]
		ok, err := v.Check(a.ValidationRule, value, a.ExpectedValue)
		if err != nil {
			return ExternalResult{}, err
		}
		res := ExternalResult{Success: ok, Value: value}
		if !ok {
			res.Error = fmt.Sprintf("%s=%v failed %q", field, value, ruleName(a.ValidationRule))
		}
		return res, nil
	})
}

// customScript evaluates the expression; a bool result is the verdict and
// any other result is recorded as a successful value.
func customScript(v *Validator) Extension {
	return ExtensionFunc(func(_ context.Context, a store.Action, p ExtensionParams, in Input) (ExternalResult, error) {
		if p.Expression == "" {
			return ExternalResult{}, fmt.Errorf("action %d has no script expression", a.ID)
		}
		out, err := v.Eval(p.Expression, ruleEnv{Value: in.Data["value"], Expected: a.ExpectedValue, Data: in.Data, Config: p.Config})
		if err != nil {
			return ExternalResult{}, err
		}
		if ok, isBool := out.(bool); isBool {
			return ExternalResult{Success: ok, Value: ok}, nil
		}
		return ExternalResult{Success: true, Value: out}, nil
	})
}

// externalResult consumes a verdict supplied by the caller, e.g. from a
// vision system.
func externalResult(_ context.Context, a store.Action, _ ExtensionParams, in Input) (ExternalResult, error) {
	if in.External == nil {
		return ExternalResult{Success: false, Error: fmt.Sprintf("no external result supplied for action %d", a.ID)}, nil
	}
	return *in.External, nil
}

func ruleName(rule string) string {
	if rule == "" {
		return "equals"
	}
	return rule
}
