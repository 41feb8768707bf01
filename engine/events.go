package engine

import "time"

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Order events
	EventOrderCreated EventType = iota + 1
	EventOrderStatusChanged
	EventOrderCompleted
	EventStepFinished
	EventActionAttempt
	EventProductionReported

	// Session events
	EventSessionOpened
	EventSessionClosed

	// Device events
	EventDeviceStatus
)

var eventNames = map[EventType]string{
	EventOrderCreated:       "order-created",
	EventOrderStatusChanged: "order-status",
	EventOrderCompleted:     "order-completed",
	EventStepFinished:       "step-finished",
	EventActionAttempt:      "action-attempt",
	EventProductionReported: "production",
	EventSessionOpened:      "session-opened",
	EventSessionClosed:      "session-closed",
	EventDeviceStatus:       "device-status",
}

// String returns the SSE event name.
func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

// OrderCreatedEvent is emitted when a new order is placed.
type OrderCreatedEvent struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	ProductID   int64  `json:"product_id"`
	ProcessID   int64  `json:"process_id"`
	Quantity    int    `json:"quantity"`
	Sequence    int64  `json:"sequence"`
}

// OrderStatusChangedEvent is emitted on order state transitions.
type OrderStatusChangedEvent struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	OldStatus   string `json:"old_status"`
	NewStatus   string `json:"new_status"`
	Reason      string `json:"reason,omitempty"`
	StationID   string `json:"station_id,omitempty"`
}

// OrderCompletedEvent is emitted when an order reaches COMPLETED.
type OrderCompletedEvent struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

// StepFinishedEvent is emitted after every step execution.
type StepFinishedEvent struct {
	OrderID       int64  `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	OrderStepID   int64  `json:"order_step_id"`
	StepID        int64  `json:"step_id"`
	Status        string `json:"status"`
	WorkstationID string `json:"workstation_id"`
	Error         string `json:"error,omitempty"`
}

// ActionAttemptEvent is emitted for every action attempt.
type ActionAttemptEvent struct {
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

// ProductionReportedEvent is emitted when units are added to an order.
type ProductionReportedEvent struct {
	OrderID           int64  `json:"order_id"`
	OrderNumber       string `json:"order_number"`
	Units             int    `json:"units"`
	CompletedQuantity int    `json:"completed_quantity"`
	Quantity          int    `json:"quantity"`
}

// SessionOpenedEvent is emitted on login and takeover.
type SessionOpenedEvent struct {
	SessionID     string    `json:"session_id"`
	WorkstationID string    `json:"workstation_id"`
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	Takeover      bool      `json:"takeover"`
	LoginTime     time.Time `json:"login_time"`
}

// SessionClosedEvent is emitted when a session ends for any reason.
type SessionClosedEvent struct {
	SessionID     string `json:"session_id"`
	WorkstationID string `json:"workstation_id"`
	UserID        string `json:"user_id"`
	Reason        string `json:"reason"`
}

// DeviceStatusEvent is emitted when a device's connection state changes.
type DeviceStatusEvent struct {
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
}
