package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/sso-gateway/internal/errors"
	"github.com/jrsteele09/sso-gateway/retry"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// RedisMaxConnectAttempts is how many consecutive connection failures are
	// tolerated before the backend is declared unavailable.
	RedisMaxConnectAttempts = 20
	redisConnectStep        = 500 * time.Millisecond
)

// RedisStore keeps sessions in Redis as JSON under {prefix}:{id}, expiring with the session.
type RedisStore struct {
	rdb     *redis.Client
	prefix  string
	logger  zerolog.Logger
	connect retry.Policy
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client, prefix string, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
		logger: logger.With().Str("component", "redis_session_store").Logger(),
		connect: retry.Policy{
			MaxAttempts: RedisMaxConnectAttempts,
			Backoff:     retry.Linear(redisConnectStep),
			IsRetryable: func(error) bool { return true },
		},
	}
}

// NewRedisStoreFromURL parses a redis:// or rediss:// connection string.
func NewRedisStoreFromURL(redisURL, prefix string, logger zerolog.Logger) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	return NewRedisStore(redis.NewClient(opt), prefix, logger), nil
}

// WithConnectWait replaces the wait used between connection attempts.
func (s *RedisStore) WithConnectWait(wait func(ctx context.Context, d time.Duration) error) *RedisStore {
	s.connect.Wait = wait
	return s
}

// Connect pings Redis until it answers. The wait after the n-th failure is
// n × 500ms; after RedisMaxConnectAttempts failures it gives up with
// ErrSessionBackendUnavailable.
func (s *RedisStore) Connect(ctx context.Context) error {
	attempts, err := s.connect.Do(ctx, func(ctx context.Context, attempt int) error {
		err := s.rdb.Ping(ctx).Err()
		if err != nil {
			s.logger.Error().Err(err).Int("attempt", attempt).Msg("redis client error")
		}
		return err
	})
	if err != nil {
		s.logger.Error().Int("attempts", attempts).Msg("too many attempts to reconnect, redis connection was terminated")
		return fmt.Errorf("%w: %d attempts: %v", apperrors.ErrSessionBackendUnavailable, attempts, err)
	}
	s.logger.Info().Int("attempts", attempts).Msg("redis session store connected")
	return nil
}

// Monitor pings Redis every interval until ctx is done. A failed ping re-runs
// the Connect policy; if the connection cannot be restored Monitor returns
// ErrSessionBackendUnavailable.
func (s *RedisStore) Monitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := s.rdb.Ping(ctx).Err()
		if err == nil || ctx.Err() != nil {
			continue
		}
		s.logger.Warn().Err(err).Msg("redis connection lost, reconnecting")
		if err := s.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, apperrors.ErrSessionNotFound
	}
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetch session")
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, errors.Wrap(err, "parse session")
	}
	if sess.Expired(time.Now()) {
		return nil, apperrors.ErrSessionNotFound
	}
	return &sess, nil
}

// Set writes the session with a TTL until sess.ExpiresAt. A session that has
// already expired is removed instead.
func (s *RedisStore) Set(ctx context.Context, id string, sess *Session) error {
	if id == "" {
		return errors.New("session id is required")
	}
	if sess == nil {
		return errors.New("session is required")
	}

	var ttl time.Duration
	if !sess.ExpiresAt.IsZero() {
		ttl = time.Until(sess.ExpiresAt)
		if ttl <= 0 {
			return s.Destroy(ctx, id)
		}
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "marshal session")
	}
	if err := s.rdb.Set(ctx, s.key(id), payload, ttl).Err(); err != nil {
		return errors.Wrap(err, "cache session")
	}
	return nil
}

func (s *RedisStore) Destroy(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return errors.Wrap(err, "delete session")
	}
	return nil
}
