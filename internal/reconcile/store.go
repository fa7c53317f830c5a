package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "AgentCanvas/internal/errors"
)

// OutputStore 保存一次运行内可被下游步骤复用的输出，键为步骤身份。
type OutputStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context) error
}

// MemoryOutputStore 是进程内的 OutputStore。
type MemoryOutputStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryOutputStore 创建空的内存存储。
func NewMemoryOutputStore() *MemoryOutputStore {
	return &MemoryOutputStore{values: make(map[string]string)}
}

// Get 读取输出。
func (s *MemoryOutputStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// Set 写入输出。
func (s *MemoryOutputStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Clear 清空全部输出。
func (s *MemoryOutputStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
	return nil
}

// RedisOutputStore 将一次运行的输出保存在一个 Redis hash 中，键为 "{prefix}:{runID}"。
type RedisOutputStore struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// NewRedisOutputStore 创建运行隔离的 Redis 存储。ttl > 0 时每次写入刷新过期时间。
func NewRedisOutputStore(client redis.Cmdable, prefix, runID string, ttl time.Duration) (*RedisOutputStore, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "redis client is nil")
	}
	if runID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "run id is empty")
	}
	if prefix == "" {
		prefix = "canvas:outputs"
	}
	return &RedisOutputStore{client: client, key: fmt.Sprintf("%s:%s", prefix, runID), ttl: ttl}, nil
}

// Key 返回该运行使用的 Redis 键。
func (s *RedisOutputStore) Key() string { return s.key }

// Get 读取输出。
func (s *RedisOutputStore) Get(ctx context.Context, field string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read chained output")
	}
	return v, true, nil
}

// Set 写入输出。
func (s *RedisOutputStore) Set(ctx context.Context, field, value string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key, field, value)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "write chained output")
	}
	return nil
}

// Clear 删除该运行的全部输出。
func (s *RedisOutputStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "clear chained outputs")
	}
	return nil
}

var (
	_ OutputStore = (*MemoryOutputStore)(nil)
	_ OutputStore = (*RedisOutputStore)(nil)
)
