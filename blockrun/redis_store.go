package blockrun

import (
	"context"
	"time"

	"github.com/kbukum/blockflow/errors"
	"github.com/kbukum/blockflow/redis"
)

// RedisStore keeps the runs of one pipeline run in a single Redis hash,
// one field per block run uuid, so separate processes share run state.
type RedisStore struct {
	hash *redis.HashStore[BlockRun]
}

// NewRedisStore creates a store over client. A positive ttl expires a
// pipeline run's hash after its last write.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{hash: redis.NewHashStore[BlockRun](client, "block_runs", ttl)}
}

func (s *RedisStore) Create(ctx context.Context, run *BlockRun) (*BlockRun, bool, error) {
	ok, err := s.hash.PutIfAbsent(ctx, run.PipelineRunID, run.BlockUUID, run)
	if err != nil {
		return nil, false, errors.StorageError(run.PipelineRunID, err)
	}
	if ok {
		return copyRun(run), true, nil
	}
	existing, err := s.Get(ctx, run.PipelineRunID, run.BlockUUID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *RedisStore) Get(ctx context.Context, pipelineRunID, blockUUID string) (*BlockRun, error) {
	run, err := s.hash.Get(ctx, pipelineRunID, blockUUID)
	if err != nil {
		return nil, errors.StorageError(pipelineRunID, err)
	}
	if run == nil {
		return nil, notFound(pipelineRunID, blockUUID)
	}
	return run, nil
}

func (s *RedisStore) List(ctx context.Context, pipelineRunID string) ([]*BlockRun, error) {
	return s.list(ctx, pipelineRunID, func(string) bool { return true })
}

func (s *RedisStore) ListByBase(ctx context.Context, pipelineRunID, base string) ([]*BlockRun, error) {
	runs, err := s.list(ctx, pipelineRunID, func(id string) bool { return hasBase(id, base) })
	if err != nil {
		return nil, err
	}
	sortRuns(runs)
	return runs, nil
}

func (s *RedisStore) list(ctx context.Context, pipelineRunID string, keep func(string) bool) ([]*BlockRun, error) {
	all, err := s.hash.All(ctx, pipelineRunID)
	if err != nil {
		return nil, errors.StorageError(pipelineRunID, err)
	}
	out := make([]*BlockRun, 0, len(all))
	for id, run := range all {
		if keep(id) {
			out = append(out, run)
		}
	}
	sortByUUID(out)
	return out, nil
}

func (s *RedisStore) Update(ctx context.Context, run *BlockRun) error {
	if _, err := s.Get(ctx, run.PipelineRunID, run.BlockUUID); err != nil {
		return err
	}
	if err := s.hash.Put(ctx, run.PipelineRunID, run.BlockUUID, run); err != nil {
		return errors.StorageError(run.PipelineRunID, err)
	}
	return nil
}

// DeleteRun drops every run recorded for a pipeline run.
func (s *RedisStore) DeleteRun(ctx context.Context, pipelineRunID string) error {
	return s.hash.Delete(ctx, pipelineRunID)
}

var _ Store = (*RedisStore)(nil)
