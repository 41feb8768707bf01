package messaging

import (
	"fmt"

	"go.uber.org/zap"

	"simplemes/protocol"
)

// Subscriber is the inbound side of a messaging client.
type Subscriber interface {
	Subscribe(topic string, handler func(payload []byte)) error
}

// SubscribeInbound routes every message on topic through the protocol
// ingestor.
func SubscribeInbound(sub Subscriber, topic string, ing *protocol.Ingestor, log *zap.Logger) error {
	if topic == "" {
		return nil
	}
	if err := sub.Subscribe(topic, ing.HandleRaw); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	log.Info("subscribed to inbound topic", zap.String("topic", topic))
	return nil
}
