package messaging

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"simplemes/config"
	"simplemes/metrics"
	"simplemes/store"
)

// Publisher is the outbound side of a messaging client.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	IsConnected() bool
}

const (
	drainBatch = 50
	// Sent rows are kept this long for inspection, then purged.
	sentRetention = 24 * time.Hour
	purgeEvery    = time.Hour
)

// OutboxDrainer periodically sends pending outbox messages.
type OutboxDrainer struct {
	db       *store.DB
	pub      Publisher
	cfg      config.MessagingConfig
	log      *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewOutboxDrainer creates a new outbox drainer.
func NewOutboxDrainer(db *store.DB, pub Publisher, cfg config.MessagingConfig, log *zap.Logger) *OutboxDrainer {
	if cfg.OutboxMaxRetries <= 0 {
		cfg.OutboxMaxRetries = 10
	}
	return &OutboxDrainer{
		db:       db,
		pub:      pub,
		cfg:      cfg,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Start begins the outbox drain loop.
func (d *OutboxDrainer) Start() {
	d.wg.Add(1)
	go d.drainLoop()
}

// Stop stops the outbox drain loop.
func (d *OutboxDrainer) Stop() {
	select {
	case <-d.stopChan:
	default:
		close(d.stopChan)
	}
	d.wg.Wait()
}

func (d *OutboxDrainer) drainLoop() {
	defer d.wg.Done()

	interval := d.cfg.OutboxDrainInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var lastPurge time.Time

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if _, err := d.Drain(ctx); err != nil {
				d.log.Error("drain outbox", zap.Error(err))
			}
			if now := time.Now(); now.Sub(lastPurge) >= purgeEvery {
				lastPurge = now
				if _, err := d.Purge(ctx, now.Add(-sentRetention)); err != nil {
					d.log.Warn("purge outbox", zap.Error(err))
				}
			}
			cancel()
		}
	}
}

// Drain publishes one batch of pending messages and returns how many were
// sent. Failed messages have their retry count bumped and stay queued
// until they reach the retry limit.
func (d *OutboxDrainer) Drain(ctx context.Context) (int, error) {
	if !d.pub.IsConnected() {
		return 0, nil
	}

	msgs, err := d.db.ListPendingOutbox(ctx, drainBatch, d.cfg.OutboxMaxRetries)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, msg := range msgs {
		if err := d.pub.Publish(ctx, msg.Topic, msg.Payload); err != nil {
			metrics.OutboxPublished.WithLabelValues("error").Inc()
			d.log.Warn("publish outbox message",
				zap.Int64("id", msg.ID),
				zap.String("type", msg.MsgType),
				zap.Int("retries", msg.Retries+1),
				zap.Error(err),
			)
			if err := d.db.IncrementOutboxRetries(ctx, msg.ID); err != nil {
				d.log.Error("bump outbox retries", zap.Int64("id", msg.ID), zap.Error(err))
			}
			continue
		}
		if err := d.db.AckOutbox(ctx, msg.ID); err != nil {
			d.log.Error("ack outbox message", zap.Int64("id", msg.ID), zap.Error(err))
			continue
		}
		metrics.OutboxPublished.WithLabelValues("sent").Inc()
		sent++
	}
	return sent, nil
}

// Purge deletes messages sent before cutoff.
func (d *OutboxDrainer) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := d.db.PurgeSentOutbox(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.log.Debug("purged sent outbox messages", zap.Int64("count", n))
	}
	return n, nil
}
