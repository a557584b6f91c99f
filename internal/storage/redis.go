package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"

	"github.com/go-redis/redis"
)

const (
	redisEntriesKey   = "remindbot:entries"
	redisMarkerPrefix = "remindbot:sent:"
)

// redisStore keeps entries in one hash (field = entry id, value = JSON) and
// each sent marker as its own key with a TTL, so SETNX is the claim.
type redisStore struct {
	client *redis.Client
	log    logx.Logger
	now    func() time.Time
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for redis driver")
	}
	var opts *redis.Options
	if strings.Contains(dsn, "://") {
		o, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = o
	} else {
		opts = &redis.Options{Addr: dsn}
	}
	client := redis.NewClient(opts)
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &redisStore{client: client, log: log, now: time.Now}, nil
}

func (s *redisStore) Close() error { return s.client.Close() }

func (s *redisStore) Append(ctx context.Context, e reminder.Entry) (reminder.Entry, error) {
	e, err := prepare(e, s.now())
	if err != nil {
		return e, err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return e, err
	}
	if err := s.client.WithContext(ctx).HSet(redisEntriesKey, e.ID, b).Err(); err != nil {
		return e, fmt.Errorf("store entry: %w", err)
	}
	return e, nil
}

func (s *redisStore) List(ctx context.Context) ([]reminder.Entry, error) {
	m, err := s.client.WithContext(ctx).HGetAll(redisEntriesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	out := make([]reminder.Entry, 0, len(m))
	for id, raw := range m {
		var e reminder.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			s.log.Warn("skipping malformed entry", logx.String("id", id), logx.Err(err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *redisStore) ClaimOccurrence(ctx context.Context, key string, until time.Time) (bool, error) {
	if key == "" {
		return false, errors.New("empty occurrence key")
	}
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := s.client.WithContext(ctx).SetNX(redisMarkerPrefix+key, until.UnixMilli(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim occurrence: %w", err)
	}
	return ok, nil
}

func (s *redisStore) ReleaseOccurrence(ctx context.Context, key string) error {
	if err := s.client.WithContext(ctx).Del(redisMarkerPrefix + key).Err(); err != nil {
		return fmt.Errorf("release occurrence: %w", err)
	}
	return nil
}
