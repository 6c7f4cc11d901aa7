package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	applogger "MarketPulse/pkg/logger"
)

// RedisWatchStore is the durable collaborator for watch state. It is a
// recovery backstop only: the in-memory registry stays authoritative and
// write failures here never block the pipeline.
type RedisWatchStore struct {
	rdb    *redis.Client
	prefix string
	log    *applogger.Logger
}

func NewRedisWatchStore(rdb *redis.Client, prefix string, log *applogger.Logger) domrepo.WatchStore {
	if prefix == "" {
		prefix = "marketpulse"
	}
	return &RedisWatchStore{rdb: rdb, prefix: prefix, log: log}
}

func (s *RedisWatchStore) watchKey(signalID string) string {
	return fmt.Sprintf("%s:watch:%s", s.prefix, signalID)
}

func (s *RedisWatchStore) activeKey() string {
	return s.prefix + ":watches:active"
}

// SaveWatch upserts the watch document and keeps the active index in sync.
func (s *RedisWatchStore) SaveWatch(ctx context.Context, w *models.Watch) error {
	b, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal watch %s: %w", w.SignalID, err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.watchKey(w.SignalID), b, 0)
	if w.Active() {
		pipe.SAdd(ctx, s.activeKey(), w.SignalID)
	} else {
		pipe.SRem(ctx, s.activeKey(), w.SignalID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save watch %s: %w", w.SignalID, err)
	}
	return nil
}

// LoadActiveWatches reads every watch in the active index. Entries that fail
// to decode are skipped, not fatal.
func (s *RedisWatchStore) LoadActiveWatches(ctx context.Context) ([]*models.Watch, error) {
	ids, err := s.rdb.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list active watches: %w", err)
	}
	watches := make([]*models.Watch, 0, len(ids))
	for _, id := range ids {
		raw, err := s.rdb.Get(ctx, s.watchKey(id)).Result()
		if errors.Is(err, redis.Nil) {
			s.rdb.SRem(ctx, s.activeKey(), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load watch %s: %w", id, err)
		}
		var w models.Watch
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			s.log.Warn("skipping undecodable watch",
				applogger.String("signal_id", id), applogger.Error(err))
			continue
		}
		watches = append(watches, &w)
	}
	return watches, nil
}

// UpdateSignalStatus rewrites the stored watch's state and maintains the
// active index. A missing document records the status standalone so the
// transition is never lost.
func (s *RedisWatchStore) UpdateSignalStatus(ctx context.Context, signalID, status string) error {
	raw, err := s.rdb.Get(ctx, s.watchKey(signalID)).Result()
	if errors.Is(err, redis.Nil) {
		key := fmt.Sprintf("%s:signal:%s:status", s.prefix, signalID)
		return s.rdb.Set(ctx, key, status, 7*24*time.Hour).Err()
	}
	if err != nil {
		return fmt.Errorf("load watch %s: %w", signalID, err)
	}

	var w models.Watch
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return fmt.Errorf("decode watch %s: %w", signalID, err)
	}
	w.State = models.WatchState(status)
	w.UpdatedAt = time.Now()
	return s.SaveWatch(ctx, &w)
}
