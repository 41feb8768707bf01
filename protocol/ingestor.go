package protocol

import (
	"encoding/json"

	"go.uber.org/zap"
)

// FilterFunc returns true if the message should be processed.
type FilterFunc func(hdr *RawHeader) bool

// MessageHandler defines callbacks for inbound message types.
// Embed NoOpHandler and override only the methods you need.
type MessageHandler interface {
	HandleProductionCount(env *Envelope, p *ProductionCount)
	HandleDeviceStatus(env *Envelope, p *DeviceStatus)
}

// NoOpHandler implements MessageHandler with no-op methods.
type NoOpHandler struct{}

func (NoOpHandler) HandleProductionCount(*Envelope, *ProductionCount) {}
func (NoOpHandler) HandleDeviceStatus(*Envelope, *DeviceStatus)       {}

var _ MessageHandler = NoOpHandler{}

// Ingestor performs two-phase decode and dispatches to a MessageHandler.
type Ingestor struct {
	handler MessageHandler
	filter  FilterFunc
	log     *zap.Logger
}

// NewIngestor creates an ingestor with the given handler and filter.
func NewIngestor(handler MessageHandler, filter FilterFunc, log *zap.Logger) *Ingestor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingestor{handler: handler, filter: filter, log: log}
}

// HandleRaw is the entry point for raw message bytes from the messaging layer.
func (ing *Ingestor) HandleRaw(data []byte) {
	// Phase 1: routing header only
	var hdr RawHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		ing.log.Warn("protocol: header decode error", zap.Error(err))
		return
	}
	if hdr.Version != Version {
		ing.log.Warn("protocol: unsupported version", zap.Int("v", hdr.Version), zap.String("id", hdr.ID))
		return
	}
	if IsExpiredHeader(&hdr) {
		ing.log.Info("protocol: dropping expired message", zap.String("id", hdr.ID), zap.String("type", hdr.Type))
		return
	}
	if ing.filter != nil && !ing.filter(&hdr) {
		return
	}

	// Phase 2: full envelope
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		ing.log.Warn("protocol: envelope decode error", zap.Error(err))
		return
	}

	switch env.Type {
	case TypeProductionCount:
		decodeAndCall(ing, ing.handler.HandleProductionCount, &env)
	case TypeDeviceStatus:
		decodeAndCall(ing, ing.handler.HandleDeviceStatus, &env)
	default:
		ing.log.Debug("protocol: ignoring message type", zap.String("type", env.Type))
	}
}

func decodeAndCall[T any](ing *Ingestor, fn func(*Envelope, *T), env *Envelope) {
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		ing.log.Warn("protocol: payload decode error", zap.String("type", env.Type), zap.Error(err))
		return
	}
	fn(env, &p)
}

// ForMES accepts messages addressed to the MES role or broadcast.
func ForMES(plant string) FilterFunc {
	return func(hdr *RawHeader) bool {
		if hdr.Dst.Role != RoleMES && hdr.Dst.Role != RoleAny {
			return false
		}
		return hdr.Dst.Plant == "" || plant == "" || hdr.Dst.Plant == plant
	}
}
