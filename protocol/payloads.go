package protocol

import "time"

// --- MES -> plant bus ---

// OrderCreated announces a new PENDING order.
type OrderCreated struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	ProductID   int64  `json:"product_id"`
	ProcessID   int64  `json:"process_id"`
	Quantity    int    `json:"quantity"`
	Sequence    int64  `json:"sequence"`
}

// OrderStatusChanged reports one accepted order transition.
type OrderStatusChanged struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	OldStatus   string `json:"old_status"`
	NewStatus   string `json:"new_status"`
	Reason      string `json:"reason,omitempty"`
	StationID   string `json:"station_id,omitempty"`
}

// OrderStepFinished reports a step leaving in_progress.
type OrderStepFinished struct {
	OrderID       int64  `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	OrderStepID   int64  `json:"order_step_id"`
	StepID        int64  `json:"step_id"`
	Status        string `json:"status"`
	WorkstationID string `json:"workstation_id"`
	Error         string `json:"error,omitempty"`
}

// ActionAttempt mirrors one action log row.
type ActionAttempt struct {
	OrderID     int64  `json:"order_id"`
	OrderStepID int64  `json:"order_step_id"`
	ActionID    int64  `json:"action_id"`
	Attempt     int    `json:"attempt"`
	Success     bool   `json:"success"`
	Simulated   bool   `json:"simulated"`
	Value       string `json:"value,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
	DeviceID    string `json:"device_id,omitempty"`
	Address     string `json:"address,omitempty"`
}

// ProductionReported reports units added to an order.
type ProductionReported struct {
	OrderID           int64  `json:"order_id"`
	OrderNumber       string `json:"order_number"`
	Units             int    `json:"units"`
	CompletedQuantity int    `json:"completed_quantity"`
	Quantity          int    `json:"quantity"`
}

// SessionOpened reports a login or takeover.
type SessionOpened struct {
	SessionID     string    `json:"session_id"`
	WorkstationID string    `json:"workstation_id"`
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	Takeover      bool      `json:"takeover"`
	LoginTime     time.Time `json:"login_time"`
}

// SessionClosed reports a logout, stale close or takeover close.
type SessionClosed struct {
	SessionID     string `json:"session_id"`
	WorkstationID string `json:"workstation_id"`
	UserID        string `json:"user_id"`
	Reason        string `json:"reason"`
}

// --- Plant bus -> MES ---

// ProductionCount is a line counter reporting units against an order,
// identified by id or by order number.
type ProductionCount struct {
	OrderID     int64  `json:"order_id,omitempty"`
	OrderNumber string `json:"order_number,omitempty"`
	Units       int    `json:"units"`
}

// DeviceStatus is pushed by the device-communication service when a
// device's connection state changes.
type DeviceStatus struct {
	DeviceID  string    `json:"device_id"`
	Status    string    `json:"status"`
	Heartbeat time.Time `json:"heartbeat"`
}
