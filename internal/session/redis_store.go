package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "session:"
)

// RedisStore はセッションを Redis に保存します。
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
	}
}

// Get はセッションを取得します。
func (s *RedisStore) Get(ctx context.Context, id string) (*Bundle, error) {
	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}
	data, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	return &bundle, nil
}

// Save はセッションを保存します。キーの有効期限はセッションの ExpiresAt に合わせます。
func (s *RedisStore) Save(ctx context.Context, bundle *Bundle) error {
	if bundle == nil {
		return fmt.Errorf("bundle is nil")
	}
	if bundle.ID == "" {
		return fmt.Errorf("bundle.ID is required")
	}
	stamp(bundle, s.ttl)

	ttl := remaining(bundle)
	if ttl <= 0 {
		return fmt.Errorf("session: expiresAt must be in the future")
	}

	payload, err := json.Marshal(bundle)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, sessionKey(bundle.ID), payload, ttl).Err()
}

// Delete はセッションを削除します。
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, sessionKey(id)).Err()
}

// Update はセッションを読み出して書き換えます。同時更新があった場合はやり直します。
func (s *RedisStore) Update(ctx context.Context, id string, mutate func(*Bundle)) error {
	key := sessionKey(id)
	for {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrNotFound
				}
				return err
			}
			var bundle Bundle
			if err := json.Unmarshal(data, &bundle); err != nil {
				return err
			}
			mutate(&bundle)
			bundle.ID = id
			bundle.UpdatedAt = time.Now().UTC()

			ttl := remaining(&bundle)
			if ttl <= 0 {
				// 期限切れなら延長せず削除する
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			payload, err := json.Marshal(&bundle)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, ttl)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}
