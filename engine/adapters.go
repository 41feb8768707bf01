package engine

import "simplemes/store"

// orderEmitter adapts the engine's EventBus to the orders.EventEmitter interface.
type orderEmitter struct {
	bus *EventBus
}

func (e *orderEmitter) EmitOrderCreated(o store.Order) {
	e.bus.Emit(Event{Type: EventOrderCreated, Payload: OrderCreatedEvent{
		OrderID: o.ID, OrderNumber: o.OrderNumber, ProductID: o.ProductID, ProcessID: o.ProcessID,
		Quantity: o.Quantity, Sequence: o.Sequence,
	}})
}

func (e *orderEmitter) EmitOrderStatusChanged(o store.Order, oldStatus, newStatus, reason string) {
	e.bus.Emit(Event{Type: EventOrderStatusChanged, Payload: OrderStatusChangedEvent{
		OrderID: o.ID, OrderNumber: o.OrderNumber, OldStatus: oldStatus, NewStatus: newStatus,
		Reason: reason, StationID: o.CurrentStationID,
	}})
}

func (e *orderEmitter) EmitStepFinished(o store.Order, s store.OrderStep) {
	e.bus.Emit(Event{Type: EventStepFinished, Payload: StepFinishedEvent{
		OrderID: o.ID, OrderNumber: o.OrderNumber, OrderStepID: s.ID, StepID: s.StepID,
		Status: s.Status, WorkstationID: s.WorkstationID, Error: s.ErrorMessage,
	}})
}

func (e *orderEmitter) EmitActionAttempt(orderID int64, l store.ActionLog) {
	e.bus.Emit(Event{Type: EventActionAttempt, Payload: ActionAttemptEvent{
		OrderID: orderID, OrderStepID: l.OrderStepID, ActionID: l.ActionID, Attempt: l.Attempt,
		Success: l.Success, Simulated: l.Simulated, Value: l.ResultValue, DurationMs: l.DurationMs,
		Error: l.ErrorMessage, DeviceID: l.DeviceID, Address: l.Address,
	}})
}

func (e *orderEmitter) EmitProductionReported(o store.Order, units int) {
	e.bus.Emit(Event{Type: EventProductionReported, Payload: ProductionReportedEvent{
		OrderID: o.ID, OrderNumber: o.OrderNumber, Units: units,
		CompletedQuantity: o.CompletedQuantity, Quantity: o.Quantity,
	}})
}

// sessionEmitter adapts the engine's EventBus to the sessions.EventEmitter interface.
type sessionEmitter struct {
	bus *EventBus
}

func (e *sessionEmitter) EmitSessionOpened(s store.WorkstationSession, takeover bool) {
	e.bus.Emit(Event{Type: EventSessionOpened, Payload: SessionOpenedEvent{
		SessionID: s.SessionID, WorkstationID: s.WorkstationID, UserID: s.UserID,
		Username: s.Username, Takeover: takeover, LoginTime: s.LoginTime,
	}})
}

func (e *sessionEmitter) EmitSessionClosed(s store.WorkstationSession, reason string) {
	e.bus.Emit(Event{Type: EventSessionClosed, Payload: SessionClosedEvent{
		SessionID: s.SessionID, WorkstationID: s.WorkstationID, UserID: s.UserID, Reason: reason,
	}})
}
