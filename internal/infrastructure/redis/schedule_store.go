package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces schedule keys: post_race_sync:{season}:{round}.
const DefaultKeyPrefix = "post_race_sync"

const (
	scanBatch     = 100
	updateRetries = 10
)

func NewClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 20
	opts.MinIdleConns = 2

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

type ScheduleStore struct {
	client goredis.UniversalClient
	prefix string
	logger *slog.Logger
}

func NewScheduleStore(client goredis.UniversalClient, logger *slog.Logger) *ScheduleStore {
	return &ScheduleStore{
		client: client,
		prefix: DefaultKeyPrefix,
		logger: logger.With("component", "schedule_store"),
	}
}

func (s *ScheduleStore) key(k domain.EventKey) string {
	return fmt.Sprintf("%s:%d:%d", s.prefix, k.Season, k.Round)
}

func (s *ScheduleStore) Get(ctx context.Context, key domain.EventKey) (*domain.Schedule, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("get schedule %s: %w: %w", key, domain.ErrStoreUnavailable, err)
	}

	sched, err := decodeSchedule(data)
	if err != nil {
		return nil, fmt.Errorf("decode schedule %s: %w", key, err)
	}
	if sched.Key != key {
		return nil, fmt.Errorf("decode schedule %s: %w: stored key %s", key, domain.ErrMalformedSchedule, sched.Key)
	}
	return sched, nil
}

func (s *ScheduleStore) Create(ctx context.Context, sched *domain.Schedule, ttl time.Duration) (bool, error) {
	data, err := encodeSchedule(sched)
	if err != nil {
		return false, err
	}
	created, err := s.client.SetNX(ctx, s.key(sched.Key), data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("create schedule %s: %w: %w", sched.Key, domain.ErrStoreUnavailable, err)
	}
	return created, nil
}

func (s *ScheduleStore) Update(ctx context.Context, key domain.EventKey, fn func(*domain.Schedule) (time.Duration, error)) (*domain.Schedule, error) {
	k := s.key(key)
	var (
		out   *domain.Schedule
		fnErr error
	)
	txf := func(tx *goredis.Tx) error {
		fnErr = nil
		data, err := tx.Get(ctx, k).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return domain.ErrScheduleNotFound
			}
			return fmt.Errorf("get schedule %s: %w: %w", key, domain.ErrStoreUnavailable, err)
		}
		sched, err := decodeSchedule(data)
		if err != nil {
			return fmt.Errorf("decode schedule %s: %w", key, err)
		}
		if sched.Key != key {
			return fmt.Errorf("decode schedule %s: %w: stored key %s", key, domain.ErrMalformedSchedule, sched.Key)
		}

		ttl, err := fn(sched)
		if err != nil {
			fnErr = err
			return err
		}
		encoded, err := encodeSchedule(sched)
		if err != nil {
			fnErr = err
			return err
		}

		// EXEC aborts with TxFailedErr if the key changed or expired since GET.
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, k, encoded, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		out = sched
		return nil
	}

	for attempt := 1; attempt <= updateRetries; attempt++ {
		err := s.client.Watch(ctx, txf, k)
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, goredis.TxFailedErr):
			s.logger.DebugContext(ctx, "schedule changed during update, retrying", "event_key", key.String(), "attempt", attempt)
			continue
		case fnErr != nil,
			errors.Is(err, domain.ErrScheduleNotFound),
			errors.Is(err, domain.ErrMalformedSchedule),
			errors.Is(err, domain.ErrStoreUnavailable):
			return nil, err
		default:
			return nil, fmt.Errorf("update schedule %s: %w: %w", key, domain.ErrStoreUnavailable, err)
		}
	}
	return nil, fmt.Errorf("update schedule %s: %w: still contended after %d tries", key, domain.ErrStoreUnavailable, updateRetries)
}

func (s *ScheduleStore) Delete(ctx context.Context, key domain.EventKey) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("delete schedule %s: %w: %w", key, domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *ScheduleStore) ListKeys(ctx context.Context, season int) ([]domain.EventKey, error) {
	pattern := s.prefix + ":*"
	if season > 0 {
		pattern = fmt.Sprintf("%s:%d:*", s.prefix, season)
	}

	// SCAN may return a key more than once.
	seen := make(map[domain.EventKey]struct{})
	iter := s.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		raw := iter.Val()
		k, err := domain.ParseEventKey(strings.TrimPrefix(raw, s.prefix+":"))
		if err != nil {
			s.logger.Warn("skipping unrecognised schedule key", "key", raw, "error", err)
			continue
		}
		seen[k] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan schedules: %w: %w", domain.ErrStoreUnavailable, err)
	}

	keys := make([]domain.EventKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Season != keys[j].Season {
			return keys[i].Season < keys[j].Season
		}
		return keys[i].Round < keys[j].Round
	})
	return keys, nil
}

// Ping is used by the readiness check.
func (s *ScheduleStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
