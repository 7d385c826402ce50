package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pasantias-monitor/internal/domain"
)

// releaseScript удаляет ключ, только если он всё ещё принадлежит нам.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis держит блокировку цикла между процессами через SET NX PX со случайным токеном.
type Redis struct {
	client redisClient
	key    string
	ttl    time.Duration
	log    zerolog.Logger
}

var _ domain.CycleLock = (*Redis)(nil)

// NewRedis создаёт блокировку. ttl должен быть больше самой долгой проверки.
func NewRedis(client redisClient, key string, ttl time.Duration, logger zerolog.Logger) *Redis {
	if key == "" {
		key = "pasantias:cycle"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Redis{client: client, key: key, ttl: ttl, log: logger.With().Str("component", "lock").Logger()}
}

// Connect подключается к Redis и проверяет соединение.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// TryAcquire берёт блокировку без ожидания.
func (l *Redis) TryAcquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.log.Warn().Err(err).Str("key", l.key).Msg("lock: не удалось снять блокировку, истечёт по TTL")
		}
	}
	return release, true, nil
}
