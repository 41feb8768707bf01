package store

import (
	"context"
	"time"
)

// OutboxMessage is a queued outbound event.
type OutboxMessage struct {
	ID        int64      `json:"id"`
	Topic     string     `json:"topic"`
	Payload   []byte     `json:"payload"`
	MsgType   string     `json:"msg_type"`
	Retries   int        `json:"retries"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

func (q *Queries) EnqueueOutbox(ctx context.Context, topic string, payload []byte, msgType string) (int64, error) {
	var id int64
	err := q.r.QueryRowContext(ctx, q.q(`INSERT INTO outbox (topic, payload, msg_type, created_at)
		VALUES (?, ?, ?, ?) RETURNING id`), topic, payload, msgType, q.ts(time.Now())).Scan(&id)
	return id, err
}

// ListPendingOutbox returns unsent messages with fewer than maxRetries
// failed attempts, oldest first.
func (q *Queries) ListPendingOutbox(ctx context.Context, limit, maxRetries int) ([]OutboxMessage, error) {
	rows, err := q.r.QueryContext(ctx, q.q(`SELECT id, topic, payload, msg_type, retries, created_at FROM outbox
		WHERE sent_at IS NULL AND retries < ? ORDER BY id LIMIT ?`), maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		var createdAt any
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.MsgType, &m.Retries, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (q *Queries) AckOutbox(ctx context.Context, id int64) error {
	_, err := q.r.ExecContext(ctx, q.q(`UPDATE outbox SET sent_at=? WHERE id=?`), q.ts(time.Now()), id)
	return err
}

func (q *Queries) IncrementOutboxRetries(ctx context.Context, id int64) error {
	_, err := q.r.ExecContext(ctx, q.q(`UPDATE outbox SET retries = retries + 1 WHERE id=?`), id)
	return err
}

// PurgeSentOutbox deletes messages sent before cutoff.
func (q *Queries) PurgeSentOutbox(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.r.ExecContext(ctx, q.q(`DELETE FROM outbox WHERE sent_at IS NOT NULL AND sent_at < ?`), q.ts(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
