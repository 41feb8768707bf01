package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"simplemes/orders"
	"simplemes/protocol"
)

// wireEventHandlers sets up the event chain:
// OrderStatusChanged(COMPLETED) → OrderCompleted
// session events → debug log
// every outbound event → outbox envelope (when messaging is enabled)
func (e *Engine) wireEventHandlers() {
	e.Events.SubscribeTypes(func(evt Event) {
		changed := evt.Payload.(OrderStatusChangedEvent)
		if changed.NewStatus == orders.StatusCompleted {
			e.Events.Emit(Event{Type: EventOrderCompleted, Payload: OrderCompletedEvent{
				OrderID: changed.OrderID, OrderNumber: changed.OrderNumber,
			}})
		}
	}, EventOrderStatusChanged)

	e.Events.SubscribeTypes(func(evt Event) {
		switch p := evt.Payload.(type) {
		case SessionOpenedEvent:
			e.debugFn("session %s opened on %s by %s (takeover=%t)", p.SessionID, p.WorkstationID, p.UserID, p.Takeover)
		case SessionClosedEvent:
			e.debugFn("session %s on %s closed: %s", p.SessionID, p.WorkstationID, p.Reason)
		}
	}, EventSessionOpened, EventSessionClosed)

	if e.cfg.Messaging.Enabled {
		e.Events.SubscribeTypes(e.enqueueEvent,
			EventOrderCreated, EventOrderStatusChanged, EventStepFinished, EventActionAttempt,
			EventProductionReported, EventSessionOpened, EventSessionClosed)
	}
}

// outboundMessage maps a bus event to its protocol type and payload.
func outboundMessage(evt Event) (string, any, bool) {
	switch p := evt.Payload.(type) {
	case OrderCreatedEvent:
		return protocol.TypeOrderCreated, protocol.OrderCreated(p), true
	case OrderStatusChangedEvent:
		return protocol.TypeOrderStatusChanged, protocol.OrderStatusChanged(p), true
	case StepFinishedEvent:
		return protocol.TypeOrderStepFinished, protocol.OrderStepFinished(p), true
	case ActionAttemptEvent:
		return protocol.TypeActionAttempt, protocol.ActionAttempt(p), true
	case ProductionReportedEvent:
		return protocol.TypeProductionReported, protocol.ProductionReported(p), true
	case SessionOpenedEvent:
		return protocol.TypeSessionOpened, protocol.SessionOpened(p), true
	case SessionClosedEvent:
		return protocol.TypeSessionClosed, protocol.SessionClosed(p), true
	}
	return "", nil, false
}

// enqueueEvent writes evt to the outbox. It runs on the emitting goroutine
// after the originating transaction has committed.
func (e *Engine) enqueueEvent(evt Event) {
	msgType, payload, ok := outboundMessage(evt)
	if !ok {
		return
	}
	src := protocol.Address{Role: protocol.RoleMES, Node: e.cfg.Messaging.MQTT.ClientID, Plant: e.cfg.Plant}
	dst := protocol.Address{Role: protocol.RoleAny, Plant: e.cfg.Plant}
	env, err := protocol.NewEnvelope(msgType, src, dst, payload)
	if err != nil {
		e.log.Error("build envelope", zap.String("type", msgType), zap.Error(err))
		return
	}
	data, err := env.Encode()
	if err != nil {
		e.log.Error("encode envelope", zap.String("type", msgType), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := e.db.EnqueueOutbox(ctx, e.cfg.Messaging.EventsTopic, data, msgType); err != nil {
		e.log.Error("enqueue outbox", zap.String("type", msgType), zap.Error(err))
	}
}
