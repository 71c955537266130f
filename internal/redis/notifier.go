package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CalendarChange tells subscribers that a doctor's day must be re-fetched.
type CalendarChange struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Day      string    `json:"day"` // YYYY-MM-DD in clinic time; empty means every day
	Reason   string    `json:"reason"`
}

// Notifier fans out calendar changes so listeners can refresh their snapshot
// and regenerate slots.
type Notifier interface {
	Publish(ctx context.Context, change CalendarChange) error
	Subscribe(ctx context.Context, doctorID uuid.UUID) (<-chan CalendarChange, error)
}

type redisNotifier struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisNotifier(client *redis.Client, log *zap.Logger) Notifier {
	return &redisNotifier{client: client, log: log}
}

func CalendarChannel(doctorID uuid.UUID) string {
	return fmt.Sprintf("calendar:%s", doctorID)
}

func (n *redisNotifier) Publish(ctx context.Context, change CalendarChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal calendar change: %w", err)
	}
	if err := n.client.Publish(ctx, CalendarChannel(change.DoctorID), data).Err(); err != nil {
		return fmt.Errorf("publish calendar change: %w", err)
	}
	return nil
}

// Subscribe delivers changes for doctorID until ctx is done. The returned
// channel is closed when the subscription ends.
func (n *redisNotifier) Subscribe(ctx context.Context, doctorID uuid.UUID) (<-chan CalendarChange, error) {
	sub := n.client.Subscribe(ctx, CalendarChannel(doctorID))

	receiveCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	_, err := sub.Receive(receiveCtx)
	cancel()
	if err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe calendar %s: %w", doctorID, err)
	}

	out := make(chan CalendarChange, 8)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change CalendarChange
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					n.log.Warn("dropping malformed calendar change",
						zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
