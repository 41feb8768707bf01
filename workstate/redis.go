package workstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func stateKey(workstationID string) string {
	return fmt.Sprintf("simplemes:workstate:%s", workstationID)
}

const allStationsKey = "simplemes:workstates"

func (r *RedisStore) Set(ctx context.Context, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, stateKey(st.WorkstationID), data, 0)
	pipe.SAdd(ctx, allStationsKey, st.WorkstationID)
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns nil, nil on a cache miss.
func (r *RedisStore) Get(ctx context.Context, workstationID string) (*State, error) {
	data, err := r.client.Get(ctx, stateKey(workstationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *RedisStore) Delete(ctx context.Context, workstationID string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, stateKey(workstationID))
	pipe.SRem(ctx, allStationsKey, workstationID)
	_, err := pipe.Exec(ctx)
	return err
}

// Flush removes every cached snapshot.
func (r *RedisStore) Flush(ctx context.Context) error {
	ids, err := r.client.SMembers(ctx, allStationsKey).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, stateKey(id))
	}
	keys = append(keys, allStationsKey)
	return r.client.Del(ctx, keys...).Err()
}
