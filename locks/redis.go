package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"estate-harvester/utils"
)

const (
	keyPrefix      = "harvester:source-lock:"
	releaseTimeout = 5 * time.Second
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// refreshScript extends the key's expiry only if it still holds our token.
var refreshScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLocker is a SourceLocker shared by every process using the same
// Redis. The TTL bounds how long a crashed holder blocks a source; a live
// holder refreshes it every third of the TTL until release.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger utils.Logger
}

// NewRedisLocker creates a RedisLocker.
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger utils.Logger) *RedisLocker {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &RedisLocker{client: client, ttl: ttl, logger: logger}
}

// TryLock implements SourceLocker.
func (l *RedisLocker) TryLock(ctx context.Context, code string) (func(), error) {
	key := keyPrefix + code
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", code, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, code, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("Failed to release source lock",
					utils.String("source", code), utils.Err(err))
			}
		})
	}, nil
}

func (l *RedisLocker) keepAlive(key, code, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := l.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		n, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			l.logger.Warn("Failed to refresh source lock", utils.String("source", code), utils.Err(err))
		case n == 0:
			l.logger.Error("Source lock lost before release", utils.String("source", code))
			return
		}
	}
}
