package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/weftlabs/weft/pkg/api"
)

// RedisRunStore is a RunStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>run:<id>               => gob-encoded redisRunPayload
//	<prefix>steps:<id>             => LIST of gob-encoded redisStepPayload
//	<prefix>idx:all                => LIST of run IDs in insertion order
//	<prefix>idx:graph:<graph>      => SET of run IDs for a given graph
//	<prefix>idx:status:<status>    => SET of run IDs for a given status
//
// The indexes are always updated on Save/Update; ListRuns walks the
// insertion-order list and filters through the sets.
type RedisRunStore struct {
	client *redis.Client
	prefix string
}

var _ RunStore = (*RedisRunStore)(nil)

type redisRunPayload struct {
	ID         string
	Graph      string
	Status     string
	Supersteps int
	Final      []byte
	Error      string
}

type redisStepPayload struct {
	Superstep int
	Nodes     []string
	State     []byte
}

// NewRedisRunStore creates a RedisRunStore.
// prefix is optional but recommended (e.g. "weft:").
func NewRedisRunStore(client *redis.Client, prefix string) *RedisRunStore {
	if prefix == "" {
		prefix = "weft:"
	}
	return &RedisRunStore{client: client, prefix: prefix}
}

func (s *RedisRunStore) keyRun(id string) string      { return s.prefix + "run:" + id }
func (s *RedisRunStore) keySteps(id string) string    { return s.prefix + "steps:" + id }
func (s *RedisRunStore) keyAll() string               { return s.prefix + "idx:all" }
func (s *RedisRunStore) keyGraph(g string) string     { return s.prefix + "idx:graph:" + g }
func (s *RedisRunStore) keyStatus(st string) string   { return s.prefix + "idx:status:" + st }

func (s *RedisRunStore) SaveRun(ctx context.Context, run *api.Run) error {
	payload, err := encodeRunPayload(run)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyRun(run.ID), payload, 0)
	pipe.RPush(ctx, s.keyAll(), run.ID)
	pipe.SAdd(ctx, s.keyGraph(run.Graph), run.ID)
	pipe.SAdd(ctx, s.keyStatus(string(run.Status)), run.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisRunStore) UpdateRun(ctx context.Context, run *api.Run) error {
	old, err := s.GetRun(ctx, run.ID)
	if err != nil {
		return err
	}
	payload, err := encodeRunPayload(run)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyRun(run.ID), payload, 0)
	if old.Status != run.Status {
		pipe.SRem(ctx, s.keyStatus(string(old.Status)), run.ID)
		pipe.SAdd(ctx, s.keyStatus(string(run.Status)), run.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisRunStore) AppendStep(ctx context.Context, runID string, superstep int, nodes []string, state api.State) error {
	encoded, err := EncodeState(state)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(redisStepPayload{
		Superstep: superstep,
		Nodes:     nodes,
		State:     encoded,
	}); err != nil {
		return err
	}
	return s.client.RPush(ctx, s.keySteps(runID), buf.Bytes()).Err()
}

func (s *RedisRunStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	raw, err := s.client.Get(ctx, s.keyRun(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRunPayload(raw)
}

func (s *RedisRunStore) ListRuns(ctx context.Context, filter api.RunFilter) ([]*api.Run, error) {
	ids, err := s.client.LRange(ctx, s.keyAll(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var out []*api.Run
	for _, id := range ids {
		run, err := s.GetRun(ctx, id)
		if errors.Is(err, ErrRunNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if matchesFilter(run, filter) {
			out = append(out, run)
		}
	}
	return out, nil
}

func (s *RedisRunStore) ListSteps(ctx context.Context, runID string) ([]StepRecord, error) {
	raws, err := s.client.LRange(ctx, s.keySteps(runID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]StepRecord, 0, len(raws))
	for _, raw := range raws {
		var payload redisStepPayload
		if err := gob.NewDecoder(bytes.NewReader([]byte(raw))).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode step record: %w", err)
		}
		state, err := DecodeState(payload.State)
		if err != nil {
			return nil, err
		}
		out = append(out, StepRecord{
			RunID:     runID,
			Superstep: payload.Superstep,
			Nodes:     payload.Nodes,
			State:     state,
		})
	}
	return out, nil
}

func encodeRunPayload(run *api.Run) ([]byte, error) {
	final, err := EncodeState(run.Final)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(redisRunPayload{
		ID:         run.ID,
		Graph:      run.Graph,
		Status:     string(run.Status),
		Supersteps: run.Supersteps,
		Final:      final,
		Error:      errString(run.Err),
	}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRunPayload(raw []byte) (*api.Run, error) {
	var payload redisRunPayload
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&payload); err != nil {
		return nil, err
	}
	final, err := DecodeState(payload.Final)
	if err != nil {
		return nil, err
	}
	run := &api.Run{
		ID:         payload.ID,
		Graph:      payload.Graph,
		Status:     api.RunStatus(payload.Status),
		Supersteps: payload.Supersteps,
		Final:      final,
	}
	if payload.Error != "" {
		run.Err = errors.New(payload.Error)
	}
	return run, nil
}
