package actions

import (
	"bytes"
	"encoding/json"
	"fmt"

	"simplemes/plc"
	"simplemes/store"
)

// Params is the typed configuration of an action, one shape per type.
type Params interface {
	isParams()
}

// DeviceParams configures DEVICE_READ and DEVICE_WRITE. Explicit register
// fields override the action's device_address shorthand.
type DeviceParams struct {
	RegisterType string `json:"registerType,omitempty"`
	Number       *int   `json:"dbOrRegisterNumber,omitempty"`
	Byte         *int   `json:"byte,omitempty"`
	Bit          *int   `json:"bit,omitempty"`
	Value        any    `json:"value,omitempty"`
}

// ScanParams configures BARCODE_SCAN.
type ScanParams struct {
	Address   string `json:"address,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// ConfirmParams configures MANUAL_CONFIRM.
type ConfirmParams struct {
	Prompt string `json:"prompt,omitempty"`
}

// DelayParams configures DELAY_WAIT.
type DelayParams struct {
	DelayMs int `json:"delayMs"`
}

// ExtensionParams configures DATA_VALIDATION, CAMERA_CHECK and
// CUSTOM_SCRIPT.
type ExtensionParams struct {
	Expression string         `json:"expression,omitempty"`
	Field      string         `json:"field,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

func (DeviceParams) isParams()    {}
func (ScanParams) isParams()      {}
func (ConfirmParams) isParams()   {}
func (DelayParams) isParams()     {}
func (ExtensionParams) isParams() {}

// DecodeParams decodes the stored parameter JSON into the shape for t.
// Unknown fields are rejected so a misconfigured action fails loudly.
func DecodeParams(t Type, raw json.RawMessage) (Params, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		raw = json.RawMessage("{}")
	}
	var p Params
	switch t {
	case DeviceRead, DeviceWrite:
		var v DeviceParams
		if err := strictDecode(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case BarcodeScan:
		var v ScanParams
		if err := strictDecode(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case ManualConfirm:
		var v ConfirmParams
		if err := strictDecode(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case DelayWait:
		var v DelayParams
		if err := strictDecode(raw, &v); err != nil {
			return nil, err
		}
		if v.DelayMs < 0 {
			return nil, fmt.Errorf("delayMs must not be negative")
		}
		p = v
	case DataValidation, CameraCheck, CustomScript:
		var v ExtensionParams
		if err := strictDecode(raw, &v); err != nil {
			return nil, err
		}
		for k, val := range v.Config {
			v.Config[k] = plainNumbers(val)
		}
		p = v
	default:
		return nil, fmt.Errorf("unknown action type %q", t)
	}
	return p, nil
}

func strictDecode(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	return nil
}

// plainNumbers converts json.Number values to int64 or float64 so that
// expressions can compare them.
func plainNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, val := range t {
			t[k] = plainNumbers(val)
		}
	case []any:
		for i, val := range t {
			t[i] = plainNumbers(val)
		}
	}
	return v
}

// Descriptor builds the register address for a device action.
func (p DeviceParams) Descriptor(a store.Action) (plc.AddressDescriptor, error) {
	var desc plc.AddressDescriptor
	if a.DeviceAddress != "" {
		d, err := plc.ParseAddress(a.DeviceAddress)
		if err != nil {
			return plc.AddressDescriptor{}, err
		}
		desc = d
	}
	if p.RegisterType != "" {
		desc.RegisterType = p.RegisterType
	}
	if p.Number != nil {
		desc.Number = *p.Number
	}
	if p.Byte != nil {
		desc.Byte = p.Byte
	}
	if p.Bit != nil {
		desc.Bit = p.Bit
	}
	if desc.RegisterType == "" {
		return plc.AddressDescriptor{}, fmt.Errorf("%w: action %d has no device address", plc.ErrIncompleteAddress, a.ID)
	}
	return desc, nil
}
