package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"simplemes/plc"
	"simplemes/protocol"
)

// inboundHandler applies plant-bus messages to the engine.
type inboundHandler struct {
	protocol.NoOpHandler
	eng     *Engine
	timeout time.Duration
}

// InboundHandler returns the protocol handler for the inbound topic.
func (e *Engine) InboundHandler() protocol.MessageHandler {
	return &inboundHandler{eng: e, timeout: 10 * time.Second}
}

func (h *inboundHandler) HandleProductionCount(env *protocol.Envelope, p *protocol.ProductionCount) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	orderID := p.OrderID
	if orderID == 0 && p.OrderNumber != "" {
		o, err := h.eng.db.GetOrderByNumber(ctx, p.OrderNumber)
		if err != nil {
			h.eng.log.Warn("production count for unknown order",
				zap.String("msg_id", env.ID), zap.String("order_number", p.OrderNumber), zap.Error(err))
			return
		}
		orderID = o.ID
	}
	if orderID == 0 {
		h.eng.log.Warn("production count without order reference", zap.String("msg_id", env.ID))
		return
	}
	if _, err := h.eng.orders.ReportProduction(ctx, orderID, p.Units); err != nil {
		h.eng.log.Warn("apply production count",
			zap.String("msg_id", env.ID), zap.Int64("order_id", orderID), zap.Int("units", p.Units), zap.Error(err))
		return
	}
	h.eng.debugFn("production count: order=%d units=%d from=%s", orderID, p.Units, env.Src.Node)
}

func (h *inboundHandler) HandleDeviceStatus(env *protocol.Envelope, p *protocol.DeviceStatus) {
	if p.DeviceID == "" {
		return
	}
	switch p.Status {
	case plc.StatusOnline, plc.StatusOffline, plc.StatusError:
	default:
		h.eng.log.Warn("unknown device status", zap.String("device_id", p.DeviceID), zap.String("status", p.Status))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.eng.MarkDevice(ctx, p.DeviceID, p.Status, p.Heartbeat); err != nil {
		h.eng.log.Warn("apply device status", zap.String("msg_id", env.ID), zap.String("device_id", p.DeviceID), zap.Error(err))
	}
}
