// Package actions executes single process actions against devices,
// operators and extension hooks.
package actions

import (
	"time"
)

// Type is the kind of an action.
type Type string

const (
	DeviceRead     Type = "DEVICE_READ"
	DeviceWrite    Type = "DEVICE_WRITE"
	BarcodeScan    Type = "BARCODE_SCAN"
	ManualConfirm  Type = "MANUAL_CONFIRM"
	DataValidation Type = "DATA_VALIDATION"
	DelayWait      Type = "DELAY_WAIT"
	CameraCheck    Type = "CAMERA_CHECK"
	CustomScript   Type = "CUSTOM_SCRIPT"
)

// Types lists every supported action type.
var Types = []Type{DeviceRead, DeviceWrite, BarcodeScan, ManualConfirm, DataValidation, DelayWait, CameraCheck, CustomScript}

// Valid reports whether t is a known action type.
func (t Type) Valid() bool {
	for _, k := range Types {
		if k == t {
			return true
		}
	}
	return false
}

// Result is the outcome of one attempt.
type Result struct {
	Success    bool   `json:"success"`
	Value      any    `json:"value,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Simulated  bool   `json:"simulated"`
	Address    string `json:"address,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
}

// Attempt is one try of an action.
type Attempt struct {
	Number int       `json:"number"`
	Result Result    `json:"result"`
	At     time.Time `json:"at"`
}

// Outcome is every attempt of one action plus the final verdict. Err is
// an ActionFailed error when the action did not succeed.
type Outcome struct {
	ActionID int64     `json:"actionId"`
	Type     Type      `json:"type"`
	Attempts []Attempt `json:"attempts"`
	Final    Result    `json:"final"`
	Err      error     `json:"-"`
}

func (o Outcome) Succeeded() bool { return o.Final.Success }

// Input carries what the operator or caller supplies for an execution.
type Input struct {
	ExecutedBy   string          `json:"executedBy"`
	Acknowledged bool            `json:"acknowledged"`
	ScanValue    string          `json:"scanValue,omitempty"`
	Data         map[string]any  `json:"data,omitempty"`
	External     *ExternalResult `json:"external,omitempty"`
}

// ExternalResult is a verdict produced outside the engine, e.g. by a
// vision system for CAMERA_CHECK.
type ExternalResult struct {
	Success bool   `json:"success"`
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
}
