package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/groundtruth-ai/restaurant-chat/internal/cache"
)

const maxTxRetries = 100

// RedisStore keeps the notification list as one JSON document and updates it
// with optimistic WATCH/MULTI transactions.
type RedisStore struct {
	client *redis.Client
	key    string
	max    int
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed store keeping at most max notifications
func NewRedisStore(client *redis.Client, keyPrefix string, max int) *RedisStore {
	return &RedisStore{
		client: client,
		key:    cache.Key(keyPrefix, "notifications"),
		max:    max,
		now:    time.Now,
	}
}

// getter is satisfied by both *redis.Client and *redis.Tx
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, g getter) ([]Notification, error) {
	data, err := g.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []Notification{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load notifications: %w", err)
	}

	var list []Notification
	if err := json.Unmarshal(data, &list); err != nil {
		// an unreadable document is treated as empty and replaced on next write
		return []Notification{}, nil
	}
	return list, nil
}

// update applies fn to the stored list inside a transaction
func (s *RedisStore) update(ctx context.Context, fn func([]Notification) ([]Notification, error)) ([]Notification, error) {
	var result []Notification

	txf := func(tx *redis.Tx) error {
		list, err := s.load(ctx, tx)
		if err != nil {
			return err
		}

		updated, err := fn(list)
		if err != nil {
			return err
		}

		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to encode notifications: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, 0)
			return nil
		})
		if err == nil {
			result = updated
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, s.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return result, err
	}
	return nil, fmt.Errorf("failed to update notifications: too much contention")
}

func (s *RedisStore) Add(ctx context.Context, n Notification) (Notification, error) {
	n = prepare(n, s.now())
	_, err := s.update(ctx, func(list []Notification) ([]Notification, error) {
		return prepend(list, n, s.max), nil
	})
	if err != nil {
		return Notification{}, err
	}
	return n, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Notification, error) {
	return s.load(ctx, s.client)
}

func (s *RedisStore) MarkRead(ctx context.Context, id string) ([]Notification, error) {
	return s.update(ctx, func(list []Notification) ([]Notification, error) {
		updated, found := markRead(list, id)
		if !found {
			return nil, ErrNotificationNotFound
		}
		return updated, nil
	})
}

func (s *RedisStore) MarkAllRead(ctx context.Context) ([]Notification, error) {
	return s.update(ctx, func(list []Notification) ([]Notification, error) {
		for i := range list {
			list[i].Read = true
		}
		return list, nil
	})
}

func (s *RedisStore) UnreadCount(ctx context.Context) (int, error) {
	list, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return countUnread(list), nil
}
