package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"mediaPipeline/api/apperrors"
	"mediaPipeline/api/database"
	"mediaPipeline/api/models"
)

const (
	assetsKey = "assets"
	tasksKey  = "tasks"
	seqKey    = "seq"

	maxTxRetries = 5
)

// RedisRepo keeps the two tables as hashes keyed by id with JSON rows.
// Multi-row writes run under WATCH so a concurrent writer aborts the batch.
type RedisRepo struct {
	client *redis.Client
	prefix string
}

func NewRedisRepo(cache *database.Cache, prefix string) *RedisRepo {
	return &RedisRepo{client: cache.Client(), prefix: prefix}
}

func (r *RedisRepo) key(name string) string {
	return r.prefix + name
}

func (r *RedisRepo) CreateAsset(ctx context.Context, asset *models.VideoAsset) error {
	seq, err := r.client.Incr(ctx, r.key(seqKey)).Result()
	if err != nil {
		return err
	}
	asset.Seq = seq

	data, err := json.Marshal(asset)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.key(assetsKey), asset.ID, data).Err()
}

func (r *RedisRepo) GetAsset(ctx context.Context, id string) (*models.VideoAsset, error) {
	data, err := r.client.HGet(ctx, r.key(assetsKey), id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("get_asset", id, ErrAssetNotFound)
		}
		return nil, err
	}

	var a models.VideoAsset
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode asset %s: %w", id, err)
	}
	return &a, nil
}

func (r *RedisRepo) ListAssets(ctx context.Context) ([]models.VideoAsset, error) {
	rows, err := r.client.HGetAll(ctx, r.key(assetsKey)).Result()
	if err != nil {
		return nil, err
	}

	assets := make([]models.VideoAsset, 0, len(rows))
	for id, data := range rows {
		var a models.VideoAsset
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("decode asset %s: %w", id, err)
		}
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Seq < assets[j].Seq })
	return assets, nil
}

func (r *RedisRepo) CreateTasks(ctx context.Context, tasks []models.ProcessingTask) error {
	if len(tasks) == 0 {
		return nil
	}
	assetIDs := make([]string, 0, len(tasks))
	for _, t := range tasks {
		assetIDs = append(assetIDs, t.AssetID)
	}

	return r.watch(ctx, func(tx *redis.Tx) error {
		found, err := tx.HMGet(ctx, r.key(assetsKey), assetIDs...).Result()
		if err != nil {
			return err
		}
		for i, v := range found {
			if v == nil {
				return apperrors.NotFound("create_tasks", assetIDs[i], ErrAssetNotFound)
			}
		}

		last, err := r.client.IncrBy(ctx, r.key(seqKey), int64(len(tasks))).Result()
		if err != nil {
			return err
		}
		fields := make([]interface{}, 0, 2*len(tasks))
		for i := range tasks {
			tasks[i].Seq = last - int64(len(tasks)) + int64(i) + 1
			data, err := json.Marshal(tasks[i])
			if err != nil {
				return err
			}
			fields = append(fields, tasks[i].ID, data)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.key(tasksKey), fields...)
			return nil
		})
		return err
	}, r.key(assetsKey), r.key(tasksKey))
}

func (r *RedisRepo) GetTask(ctx context.Context, id string) (*models.ProcessingTask, error) {
	data, err := r.client.HGet(ctx, r.key(tasksKey), id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("get_task", id, ErrTaskNotFound)
		}
		return nil, err
	}

	var t models.ProcessingTask
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}

func (r *RedisRepo) ListTasks(ctx context.Context) ([]models.ProcessingTask, error) {
	rows, err := r.client.HGetAll(ctx, r.key(tasksKey)).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]models.ProcessingTask, 0, len(rows))
	for id, data := range rows {
		var t models.ProcessingTask
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", id, err)
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })
	return tasks, nil
}

func (r *RedisRepo) UpdateTask(ctx context.Context, task models.ProcessingTask) error {
	return r.UpdateTasks(ctx, []models.ProcessingTask{task})
}

func (r *RedisRepo) UpdateTasks(ctx context.Context, tasks []models.ProcessingTask) error {
	if len(tasks) == 0 {
		return nil
	}
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}

	return r.watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HMGet(ctx, r.key(tasksKey), ids...).Result()
		if err != nil {
			return err
		}

		fields := make([]interface{}, 0, 2*len(tasks))
		for i, v := range current {
			raw, ok := v.(string)
			if !ok {
				return apperrors.NotFound("update_task", ids[i], ErrTaskNotFound)
			}
			var stored models.ProcessingTask
			if err := json.Unmarshal([]byte(raw), &stored); err != nil {
				return fmt.Errorf("decode task %s: %w", ids[i], err)
			}
			t := tasks[i]
			t.Seq = stored.Seq
			data, err := json.Marshal(t)
			if err != nil {
				return err
			}
			fields = append(fields, t.ID, data)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.key(tasksKey), fields...)
			return nil
		})
		return err
	}, r.key(tasksKey))
}

func (r *RedisRepo) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key(assetsKey), r.key(tasksKey), r.key(seqKey)).Err()
}

func (r *RedisRepo) Close() error {
	return r.client.Close()
}

func (r *RedisRepo) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis transaction on %v: %w", keys, redis.TxFailedErr)
}
