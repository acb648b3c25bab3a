package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/identity-api/internal/models"
)

// ErrBlockContention is returned when optimistic Redis transactions keep
// losing to concurrent writers.
var ErrBlockContention = errors.New("block entry update contention")

// BlockRedisRepository keeps guard entries in Redis so several instances share
// one view. Each update is an optimistic WATCH/MULTI/EXEC cycle on one key.
type BlockRedisRepository struct {
	client     *redis.Client
	prefix     string
	maxRetries int
	logger     *zap.Logger
}

// NewBlockRedisRepository constructs a Redis-backed store.
func NewBlockRedisRepository(client *redis.Client, prefix string, maxRetries int, logger *zap.Logger) *BlockRedisRepository {
	if maxRetries <= 0 {
		maxRetries = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlockRedisRepository{client: client, prefix: prefix, maxRetries: maxRetries, logger: logger}
}

// Update applies fn atomically for key. The entry expires after the ttl the
// mutator returns.
func (r *BlockRedisRepository) Update(ctx context.Context, key string, fn BlockMutator) (*models.BlockEntry, error) {
	redisKey := r.prefix + key
	var result *models.BlockEntry

	txf := func(tx *redis.Tx) error {
		current, err := r.read(ctx, tx, redisKey)
		if err != nil {
			return err
		}

		next, ttl := fn(current)
		result = next
		if next == current {
			return nil
		}

		var payload []byte
		if next != nil {
			if payload, err = json.Marshal(next); err != nil {
				return fmt.Errorf("marshal block entry: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, redisKey)
				return nil
			}
			pipe.Set(ctx, redisKey, payload, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, redisKey)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("redis update %s: %w", redisKey, err)
		}
		r.logger.Debug("block entry transaction retried", zap.Int("attempt", attempt+1))
	}
	return nil, ErrBlockContention
}

// Get returns the current entry for key, or nil.
func (r *BlockRedisRepository) Get(ctx context.Context, key string) (*models.BlockEntry, error) {
	return r.read(ctx, r.client, r.prefix+key)
}

func (r *BlockRedisRepository) read(ctx context.Context, cmd redis.Cmdable, redisKey string) (*models.BlockEntry, error) {
	raw, err := cmd.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", redisKey, err)
	}

	var entry models.BlockEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal block entry %s: %w", redisKey, err)
	}
	return &entry, nil
}
