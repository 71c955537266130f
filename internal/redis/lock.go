package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("calendar lock not acquired")

	// ErrLockUnavailable wraps transport failures talking to the lock store.
	ErrLockUnavailable = errors.New("calendar lock store unavailable")
)

// Locker serialises bookings on one doctor's calendar day across api-server replicas.
type Locker interface {
	WithCalendarLock(ctx context.Context, doctorID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error
}

// LockOptions tune the calendar lock. TTL bounds how long a crashed holder
// can block a calendar; Wait is how long a caller queues behind a live
// holder before giving up.
type LockOptions struct {
	TTL        time.Duration
	Wait       time.Duration
	RetryEvery time.Duration
}

type redisCalendarLocker struct {
	client *redis.Client
	opts   LockOptions
}

func NewRedisCalendarLocker(client *redis.Client, opts LockOptions) Locker {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Second
	}
	if opts.RetryEvery <= 0 {
		opts.RetryEvery = 25 * time.Millisecond
	}
	return &redisCalendarLocker{client: client, opts: opts}
}

// CalendarLockKey is the Redis key guarding doctorID's calendar on day.
func CalendarLockKey(doctorID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("lock:calendar:%s:%s", doctorID, day.Format(time.DateOnly))
}

// WithCalendarLock runs fn while holding the doctor's lock for day. fn's
// context expires with the lock so work cannot outlive it.
func (l *redisCalendarLocker) WithCalendarLock(ctx context.Context, doctorID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error {
	key := CalendarLockKey(doctorID, day)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	held, cancel := context.WithTimeout(ctx, l.opts.TTL)
	defer cancel()

	return fn(held)
}

func (l *redisCalendarLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.opts.Wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.opts.TTL).Result()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLockUnavailable, err)
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.opts.RetryEvery):
		}
	}
}

// Only the holder may delete the key; an expired lock may already belong to
// someone else.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *redisCalendarLocker) release(ctx context.Context, key, token string) error {
	if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release calendar lock: %w", err)
	}
	return nil
}
