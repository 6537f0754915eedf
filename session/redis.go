package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix    = "denguebot:"
	DefaultLockTTL      = 30 * time.Second
	DefaultPollInterval = 20 * time.Millisecond
)

var (
	ErrInvalidRedisURL = errors.New("session: invalid redis url")
	ErrRedisNotReady   = errors.New("session: redis not ready")
)

// releaseScript deletes the lock only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisBackend stores sessions as JSON values and implements user locks
// with SET NX PX plus a token-checked release, so several webhook replicas
// can share it.
type RedisBackend struct {
	client       redis.UniversalClient
	prefix       string
	ttl          time.Duration
	lockTTL      time.Duration
	pollInterval time.Duration
}

type RedisOption func(*RedisBackend)

// WithKeyPrefix changes the prefix of every key the backend writes.
func WithKeyPrefix(prefix string) RedisOption {
	return func(b *RedisBackend) { b.prefix = prefix }
}

// WithSessionTTL expires sessions that have not been saved for ttl.
func WithSessionTTL(ttl time.Duration) RedisOption {
	return func(b *RedisBackend) { b.ttl = ttl }
}

// WithLockTTL bounds how long a crashed holder can keep a user locked.
func WithLockTTL(ttl time.Duration) RedisOption {
	return func(b *RedisBackend) { b.lockTTL = ttl }
}

func WithPollInterval(d time.Duration) RedisOption {
	return func(b *RedisBackend) { b.pollInterval = d }
}

func NewRedisBackend(client redis.UniversalClient, opts ...RedisOption) *RedisBackend {
	b := &RedisBackend{
		client:       client,
		prefix:       DefaultKeyPrefix,
		lockTTL:      DefaultLockTTL,
		pollInterval: DefaultPollInterval,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

var _ Backend = (*RedisBackend)(nil)

func (b *RedisBackend) sessionKey(userID string) string {
	return b.prefix + "session:" + userID
}

func (b *RedisBackend) lockKey(userID string) string {
	return b.prefix + "lock:" + userID
}

func (b *RedisBackend) Load(ctx context.Context, userID string) (Session, bool, error) {
	raw, err := b.client.Get(ctx, b.sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}

	if err != nil {
		return Session{}, false, err
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, false, fmt.Errorf("decode session %s: %w", userID, err)
	}

	return s, true, nil
}

func (b *RedisBackend) Save(ctx context.Context, s Session) error {
	if s.UserID == "" {
		return ErrUserIDRequired
	}

	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}

	return b.client.Set(ctx, b.sessionKey(s.UserID), raw, b.ttl).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, userID string) error {
	return b.client.Del(ctx, b.sessionKey(userID)).Err()
}

// Lock polls until the lock key is acquired or ctx ends.
func (b *RedisBackend) Lock(ctx context.Context, userID string) (func(), error) {
	key := b.lockKey(userID)
	token := uuid.NewString()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := b.client.SetNX(ctx, key, token, b.lockTTL).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire lock %s: %w", userID, err)
		}

		if ok {
			return func() {
				// The caller's context may already be done.
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
				defer cancel()

				_ = releaseScript.Run(releaseCtx, b.client, []string{key}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Ping reports whether the server is reachable.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// ConnectConfig describes how to reach Redis.
type ConnectConfig struct {
	URL            string
	ConnectTimeout time.Duration
	RetryAttempts  int
	RetryInterval  time.Duration
}

// Connect parses cfg.URL and pings the server until it answers, the attempts
// run out, or the connect timeout elapses.
func Connect(ctx context.Context, cfg ConnectConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrInvalidRedisURL, err)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	attempts := max(cfg.RetryAttempts, 1)

	var lastErr error

	for attempt := range attempts {
		client := redis.NewClient(opts)

		lastErr = client.Ping(ctx).Err()
		if lastErr == nil {
			return client, nil
		}

		_ = client.Close()

		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, errors.Join(ErrRedisNotReady, lastErr)
}
