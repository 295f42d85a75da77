package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/willibrandon/ChronoState/pkg/recorder"
)

const (
	defaultRedisPoolSize    = 10
	defaultRedisMaxRetries  = 3
	defaultRedisDialTimeout = 5 * time.Second
	defaultRedisPrefix      = "chronostate"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	PoolSize    int
	MaxRetries  int
	DialTimeout time.Duration
}

// RedisStore keeps each snapshot in a hash, the steps of a session in a
// sorted set and the session names in a set.
type RedisStore struct {
	client redis.UniversalClient
	prefix string

	closeOnce sync.Once
	closeErr  error
}

// NewRedisStore connects to redis and pings it.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	conf, err := normalizeRedisConfig(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:        conf.Addr,
		Password:    conf.Password,
		DB:          conf.DB,
		PoolSize:    conf.PoolSize,
		MaxRetries:  conf.MaxRetries,
		DialTimeout: conf.DialTimeout,
	})

	s := &RedisStore{client: client, prefix: conf.Prefix}
	if err := s.pingWithRetry(context.Background(), conf.MaxRetries); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

func normalizeRedisConfig(cfg *RedisConfig) (*RedisConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	conf := *cfg
	if conf.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if conf.Prefix == "" {
		conf.Prefix = defaultRedisPrefix
	}
	if conf.PoolSize <= 0 {
		conf.PoolSize = defaultRedisPoolSize
	}
	if conf.MaxRetries <= 0 {
		conf.MaxRetries = defaultRedisMaxRetries
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = defaultRedisDialTimeout
	}
	return &conf, nil
}

func (s *RedisStore) pingWithRetry(ctx context.Context, maxRetries int) error {
	attempts := max(maxRetries+1, 1)
	backoff := 100 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := s.client.Ping(ctx).Err(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if lastErr == nil {
		lastErr = errors.New("ping failed with unknown error")
	}
	return lastErr
}

func (s *RedisStore) snapKey(session string, step uint64) string {
	return fmt.Sprintf("%s:snap:%s:%d", s.prefix, session, step)
}

func (s *RedisStore) stepsKey(session string) string {
	return s.prefix + ":steps:" + session
}

func (s *RedisStore) sessionsKey() string {
	return s.prefix + ":sessions"
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, snap Snapshot) error {
	if err := validateSession(snap.Session); err != nil {
		return err
	}
	step := strconv.FormatUint(snap.Step, 10)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.snapKey(snap.Session, snap.Step),
			"data", snap.Data,
			"flags", int(snap.Flags),
			"checksum", snap.Checksum,
			"created_at", snap.CreatedAt.UTC().UnixNano(),
		)
		pipe.ZAdd(ctx, s.stepsKey(snap.Session), redis.Z{Score: float64(snap.Step), Member: step})
		pipe.SAdd(ctx, s.sessionsKey(), snap.Session)
		return nil
	})
	if err != nil {
		return fmt.Errorf("snapshot: redis put step %d: %w", snap.Step, err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, session string, step uint64) (Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, s.snapKey(session, step)).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: redis get step %d: %w", step, err)
	}
	if len(fields) == 0 {
		return Snapshot{}, ErrNotFound
	}
	flags, err := strconv.ParseUint(fields["flags"], 10, 8)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: redis flags: %w", err)
	}
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: redis created_at: %w", err)
	}
	snap := Snapshot{
		Session:   session,
		Step:      step,
		Flags:     recorder.StateFlags(flags),
		Data:      []byte(fields["data"]),
		Checksum:  fields["checksum"],
		CreatedAt: time.Unix(0, created).UTC(),
	}
	if err := snap.Verify(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Steps implements Store.
func (s *RedisStore) Steps(ctx context.Context, session string) ([]uint64, error) {
	members, err := s.client.ZRangeByScore(ctx, s.stepsKey(session), &redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("snapshot: redis list steps: %w", err)
	}
	if len(members) == 0 {
		return nil, ErrNotFound
	}
	steps := make([]uint64, 0, len(members))
	for _, m := range members {
		step, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("snapshot: redis step %q: %w", m, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// Sessions implements Store.
func (s *RedisStore) Sessions(ctx context.Context) ([]string, error) {
	sessions, err := s.client.SMembers(ctx, s.sessionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("snapshot: redis list sessions: %w", err)
	}
	sort.Strings(sessions)
	return sessions, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, session string) error {
	steps, err := s.Steps(ctx, session)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(steps)+1)
	for _, step := range steps {
		keys = append(keys, s.snapKey(session, step))
	}
	keys = append(keys, s.stepsKey(session))
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, s.sessionsKey(), session)
		return nil
	})
	if err != nil {
		return fmt.Errorf("snapshot: redis delete session: %w", err)
	}
	return nil
}

// Close releases Redis resources. It is idempotent.
func (s *RedisStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}
