package protocol

// Message type constants.
const (
	// MES -> plant bus (published on the events topic)
	TypeOrderCreated       = "order.created"
	TypeOrderStatusChanged = "order.status_changed"
	TypeOrderStepFinished  = "order.step_finished"
	TypeActionAttempt      = "order.action_attempt"
	TypeProductionReported = "order.production_reported"
	TypeSessionOpened      = "session.opened"
	TypeSessionClosed      = "session.closed"

	// Plant bus -> MES (consumed from the inbound topic)
	TypeProductionCount = "line.production_count"
	TypeDeviceStatus    = "device.status"
)

// Roles for Address.Role.
const (
	RoleMES     = "mes"
	RoleLine    = "line"
	RoleDevices = "devices"
	RoleAny     = "*"
)

// Protocol version.
const Version = 1
