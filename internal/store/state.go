// Package store keeps per-meeting session records and stream buffers in Redis.
//
// The session record is a hash at meeting:{id}:state with the fields
// <kind>, <kind>_bytes and <kind>_chunks. Each stream buffer is a list at
// meeting:{id}:<kind>_buffer holding raw chunks in arrival order.
package store

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dkeye/meetstream/internal/core"
	"github.com/dkeye/meetstream/internal/domain"
)

type RedisStateStore struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

var _ core.StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore wraps client. A positive ttl is refreshed on the record
// and buffer keys on every write; zero keeps keys until the meeting ends.
func NewRedisStateStore(client goredis.UniversalClient, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{client: client, ttl: ttl}
}

func BufferKey(id domain.MeetingID, kind domain.StreamKind) string {
	return fmt.Sprintf("meeting:%s:%s_buffer", id, kind)
}

func StateKey(id domain.MeetingID) string {
	return fmt.Sprintf("meeting:%s:state", id)
}

func (s *RedisStateStore) expire(ctx context.Context, pipe goredis.Pipeliner, keys ...string) {
	if s.ttl <= 0 {
		return
	}
	for _, k := range keys {
		pipe.Expire(ctx, k, s.ttl)
	}
}

func (s *RedisStateStore) Seed(ctx context.Context, id domain.MeetingID, kind domain.StreamKind) error {
	key := StateKey(id)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			kind.StatusField(), domain.StreamConnected,
			kind.BytesField(), 0,
			kind.ChunksField(), 0,
		)
		s.expire(ctx, pipe, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed session record %s: %w", id, err)
	}
	return nil
}

func (s *RedisStateStore) MarkConnected(ctx context.Context, id domain.MeetingID, kind domain.StreamKind) error {
	key := StateKey(id)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, kind.StatusField(), domain.StreamConnected)
		pipe.HSetNX(ctx, key, kind.BytesField(), 0)
		pipe.HSetNX(ctx, key, kind.ChunksField(), 0)
		s.expire(ctx, pipe, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark %s connected for %s: %w", kind, id, err)
	}
	return nil
}

func (s *RedisStateStore) RecordChunk(ctx context.Context, id domain.MeetingID, kind domain.StreamKind, chunk core.Chunk) (domain.StreamState, error) {
	stateKey := StateKey(id)
	bufKey := BufferKey(id, kind)

	var bytesCmd, chunksCmd *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, bufKey, []byte(chunk))
		pipe.HSet(ctx, stateKey, kind.StatusField(), domain.StreamConnected)
		bytesCmd = pipe.HIncrBy(ctx, stateKey, kind.BytesField(), int64(len(chunk)))
		chunksCmd = pipe.HIncrBy(ctx, stateKey, kind.ChunksField(), 1)
		s.expire(ctx, pipe, stateKey, bufKey)
		return nil
	})
	if err != nil {
		return domain.StreamState{}, fmt.Errorf("record %s chunk for %s: %w", kind, id, err)
	}
	return domain.StreamState{
		Connected: true,
		Bytes:     bytesCmd.Val(),
		Chunks:    chunksCmd.Val(),
	}, nil
}

func (s *RedisStateStore) Record(ctx context.Context, id domain.MeetingID) (domain.SessionRecord, bool, error) {
	fields, err := s.client.HGetAll(ctx, StateKey(id)).Result()
	if err != nil {
		return domain.SessionRecord{}, false, fmt.Errorf("read session record %s: %w", id, err)
	}
	if len(fields) == 0 {
		return domain.SessionRecord{}, false, nil
	}
	rec, err := domain.SessionRecordFromFields(fields)
	if err != nil {
		return domain.SessionRecord{}, false, fmt.Errorf("decode session record %s: %w", id, err)
	}
	return rec, true, nil
}

func (s *RedisStateStore) Buffer(ctx context.Context, id domain.MeetingID, kind domain.StreamKind) ([]core.Chunk, error) {
	raw, err := s.client.LRange(ctx, BufferKey(id, kind), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s buffer for %s: %w", kind, id, err)
	}
	out := make([]core.Chunk, len(raw))
	for i, r := range raw {
		out[i] = core.Chunk(r)
	}
	return out, nil
}

func (s *RedisStateStore) DeleteBuffer(ctx context.Context, id domain.MeetingID, kind domain.StreamKind) (bool, error) {
	return s.delete(ctx, BufferKey(id, kind))
}

func (s *RedisStateStore) DeleteRecord(ctx context.Context, id domain.MeetingID) (bool, error) {
	return s.delete(ctx, StateKey(id))
}

func (s *RedisStateStore) delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	return n == 1, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
