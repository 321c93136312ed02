package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// Notification types.
const (
	NotifyInfo     = "INFO"
	NotifySecurity = "SECURITY"
)

// Notification is a commit-time customer alert. The engine decides when to
// notify and with what classification; delivery (SMS, push, email) belongs
// to a downstream consumer of the queue.
type Notification struct {
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"` // INFO or SECURITY
	CreatedAt time.Time `json:"created_at"`
}

// Notifier enqueues notifications for delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// QueueNotifier pushes notifications onto a Redis list consumed by the
// delivery workers. A nil client degrades to logging so the engine keeps
// working when Redis is down.
type QueueNotifier struct {
	redis *redis.Client
	queue string
}

func NewQueueNotifier(client *redis.Client, queue string) *QueueNotifier {
	return &QueueNotifier{redis: client, queue: queue}
}

func (q *QueueNotifier) Notify(ctx context.Context, n Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if q.redis == nil {
		log.Printf("[NOTIFY] redis unavailable, notification logged only: %s", string(data))
		return nil
	}
	return q.redis.RPush(ctx, q.queue, data).Err()
}
