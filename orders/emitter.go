package orders

import "simplemes/store"

// EventEmitter is the interface the orders package uses to emit events.
type EventEmitter interface {
	EmitOrderCreated(o store.Order)
	EmitOrderStatusChanged(o store.Order, oldStatus, newStatus, reason string)
	EmitStepFinished(o store.Order, s store.OrderStep)
	EmitActionAttempt(orderID int64, log store.ActionLog)
	EmitProductionReported(o store.Order, units int)
}

type nopEmitter struct{}

func (nopEmitter) EmitOrderCreated(store.Order)                               {}
func (nopEmitter) EmitOrderStatusChanged(store.Order, string, string, string) {}
func (nopEmitter) EmitStepFinished(store.Order, store.OrderStep)              {}
func (nopEmitter) EmitActionAttempt(int64, store.ActionLog)                   {}
func (nopEmitter) EmitProductionReported(store.Order, int)                    {}
