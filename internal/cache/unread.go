package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrMiss is returned when no counter is cached for the conversation.
var ErrMiss = errors.New("cache miss")

// UnreadCounter caches per-conversation unread counts keyed by the reader
// role. Counters are advisory; the SQL count stays authoritative on a miss,
// and entries expire so skew from conversations the reader is not currently
// subscribed to stays bounded.
type UnreadCounter interface {
	Incr(ctx context.Context, conversationID string, readerRole string) error
	Reset(ctx context.Context, conversationID string, readerRole string) error
	Get(ctx context.Context, conversationID string, readerRole string) (int, error)
}

// NewUnreadCounter builds a Redis-backed counter, or a noop counter when the
// url is empty or Redis is unreachable.
func NewUnreadCounter(url string, log *zap.Logger) UnreadCounter {
	if url == "" {
		log.Info("unread cache disabled, using noop", zap.String("reason", "empty redis url"))
		return noopCounter{}
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("unread cache disabled, using noop", zap.Error(err))
		return noopCounter{}
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		log.Warn("unread cache disabled, using noop", zap.Error(err))
		return noopCounter{}
	}

	log.Info("unread cache connected")
	return &redisCounter{client: client}
}

// counterTTL bounds how long a skewed counter survives without a Reset; on
// expiry the SQL count takes over again.
const counterTTL = time.Hour

type redisCounter struct {
	client *redis.Client
}

func counterKey(conversationID, readerRole string) string {
	return fmt.Sprintf("unread:%s:%s", conversationID, readerRole)
}

func (r *redisCounter) Incr(ctx context.Context, conversationID string, readerRole string) error {
	key := counterKey(conversationID, readerRole)
	pipe := r.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, counterTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *redisCounter) Reset(ctx context.Context, conversationID string, readerRole string) error {
	return r.client.Del(ctx, counterKey(conversationID, readerRole)).Err()
}

func (r *redisCounter) Get(ctx context.Context, conversationID string, readerRole string) (int, error) {
	val, err := r.client.Get(ctx, counterKey(conversationID, readerRole)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, ErrMiss
	}
	return val, err
}

type noopCounter struct{}

func (noopCounter) Incr(ctx context.Context, conversationID string, readerRole string) error {
	return nil
}

func (noopCounter) Reset(ctx context.Context, conversationID string, readerRole string) error {
	return nil
}

func (noopCounter) Get(ctx context.Context, conversationID string, readerRole string) (int, error) {
	return 0, ErrMiss
}
