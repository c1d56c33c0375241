package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/go-redis/redis/v8"
	"github.com/rewired-gh/marketalert/internal/models"
)

const maxTxRetries = 5

// RedisStore keeps dedupe state as one JSON value per symbol, for deployments where
// several processes share state.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to addr and verifies the connection with PING.
func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisStoreFromClient(client, prefix), nil
}

func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "marketalert"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) key(symbol string) string {
	return r.prefix + ":state:" + symbol
}

func decodeState(raw string) (*models.DedupeState, error) {
	var st models.DedupeState
	if err := sonic.UnmarshalString(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &st, nil
}

func (r *RedisStore) LoadState(ctx context.Context, symbol string) (*models.DedupeState, error) {
	raw, err := r.client.Get(ctx, r.key(symbol)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return decodeState(raw)
}

// UpdateState uses WATCH/MULTI so a concurrent writer aborts and retries the transaction
// instead of losing an update.
func (r *RedisStore) UpdateState(ctx context.Context, symbol string, fn func(*models.DedupeState) error) error {
	key := r.key(symbol)
	txf := func(tx *redis.Tx) error {
		state := &models.DedupeState{PreviousLevel: models.NoAlert}
		raw, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if state, err = decodeState(raw); err != nil {
				return err
			}
		}

		if err := fn(state); err != nil {
			return err
		}
		data, err := sonic.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to save state: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to save state for %s: too much contention", symbol)
}
