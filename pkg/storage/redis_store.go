package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/z-wentao/voicetrace/pkg/apperr"
	"github.com/z-wentao/voicetrace/pkg/models"
)

// RedisJobStore Redis 任务存储
// 整条任务序列化为 JSON，SET 即原子替换；支持分布式部署
type RedisJobStore struct {
	client *redis.Client
	ttl    time.Duration // 数据过期时间
	ctx    context.Context
}

// NewRedisJobStore 创建 Redis 任务存储
func NewRedisJobStore(addr, password string, db int, ttl time.Duration) (*RedisJobStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	return &RedisJobStore{
		client: client,
		ttl:    ttl,
		ctx:    ctx,
	}, nil
}

// getKey 生成 Redis key
// 格式: "voicetrace:job:{jobID}"
func (rs *RedisJobStore) getKey(jobID string) string {
	return fmt.Sprintf("voicetrace:job:%s", jobID)
}

const jobIndexKey = "voicetrace:jobs:index"

// Save 保存任务到 Redis
func (rs *RedisJobStore) Save(job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("序列化任务失败: %w", err)
	}

	key := rs.getKey(job.ID)
	if err := rs.client.Set(rs.ctx, key, data, rs.ttl).Err(); err != nil {
		return fmt.Errorf("保存到 Redis 失败: %w: %v", apperr.ErrStorageFailure, err)
	}

	// 将 JobID 加入索引集合（用于 List），score 为创建时间戳
	score := float64(job.CreatedAt.Unix())
	if err := rs.client.ZAdd(rs.ctx, jobIndexKey, redis.Z{
		Score:  score,
		Member: job.ID,
	}).Err(); err != nil {
		return fmt.Errorf("添加到索引失败: %w: %v", apperr.ErrStorageFailure, err)
	}

	return nil
}

// Get 从 Redis 获取任务
func (rs *RedisJobStore) Get(jobID string) (*models.Job, error) {
	key := rs.getKey(jobID)

	data, err := rs.client.Get(rs.ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("任务不存在: %s: %w", jobID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("从 Redis 获取失败: %w: %v", apperr.ErrStorageFailure, err)
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("反序列化任务失败: %w", err)
	}

	return &job, nil
}

// Update 更新任务
// 读出-回调-整体写回；跨进程的竞争由调用方（Orchestrator 的按键锁）序列化
func (rs *RedisJobStore) Update(jobID string, updateFn func(*models.Job) error) error {
	job, err := rs.Get(jobID)
	if err != nil {
		return err
	}

	if err := updateFn(job); err != nil {
		return err
	}

	return rs.Save(job)
}

// List 列出所有任务（按创建时间倒序）
func (rs *RedisJobStore) List() ([]*models.Job, error) {
	jobIDs, err := rs.client.ZRevRange(rs.ctx, jobIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("获取任务索引失败: %w: %v", apperr.ErrStorageFailure, err)
	}

	jobs := make([]*models.Job, 0, len(jobIDs))
	for _, jobID := range jobIDs {
		job, err := rs.Get(jobID)
		if err != nil {
			// 任务可能已过期，跳过并清理索引
			rs.client.ZRem(rs.ctx, jobIndexKey, jobID)
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Delete 删除任务
func (rs *RedisJobStore) Delete(jobID string) error {
	key := rs.getKey(jobID)

	deleted, err := rs.client.Del(rs.ctx, key).Result()
	if err != nil {
		return fmt.Errorf("删除任务失败: %w: %v", apperr.ErrStorageFailure, err)
	}

	if deleted == 0 {
		return fmt.Errorf("任务不存在: %s: %w", jobID, apperr.ErrNotFound)
	}

	rs.client.ZRem(rs.ctx, jobIndexKey, jobID)

	return nil
}

// Close 关闭 Redis 连接
func (rs *RedisJobStore) Close() error {
	return rs.client.Close()
}

// RedisResultStore Redis 分析结果存储
type RedisResultStore struct {
	client *redis.Client
	ttl    time.Duration
	ctx    context.Context
}

// NewRedisResultStore 创建 Redis 结果存储
func NewRedisResultStore(addr, password string, db int, ttl time.Duration) (*RedisResultStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	return &RedisResultStore{
		client: client,
		ttl:    ttl,
		ctx:    ctx,
	}, nil
}

// getKey 格式: "voicetrace:analysis:{analysisID}"
func (rs *RedisResultStore) getKey(analysisID string) string {
	return fmt.Sprintf("voicetrace:analysis:%s", analysisID)
}

// Save 保存结果（SET 整条 JSON，原子替换）
func (rs *RedisResultStore) Save(result *models.AnalysisResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}

	key := rs.getKey(result.AnalysisID)
	if err := rs.client.Set(rs.ctx, key, data, rs.ttl).Err(); err != nil {
		return fmt.Errorf("保存到 Redis 失败: %w: %v", apperr.ErrStorageFailure, err)
	}

	return nil
}

// Get 获取结果
func (rs *RedisResultStore) Get(analysisID string) (*models.AnalysisResult, error) {
	data, err := rs.client.Get(rs.ctx, rs.getKey(analysisID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("分析结果不存在: %s: %w", analysisID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("从 Redis 获取失败: %w: %v", apperr.ErrStorageFailure, err)
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("反序列化结果失败: %w", err)
	}

	return &result, nil
}

// Update 更新结果（读出-回调-整体写回）
func (rs *RedisResultStore) Update(analysisID string, updateFn func(*models.AnalysisResult) error) error {
	result, err := rs.Get(analysisID)
	if err != nil {
		return err
	}

	if err := updateFn(result); err != nil {
		return err
	}

	return rs.Save(result)
}

// Delete 删除结果
func (rs *RedisResultStore) Delete(analysisID string) error {
	deleted, err := rs.client.Del(rs.ctx, rs.getKey(analysisID)).Result()
	if err != nil {
		return fmt.Errorf("删除结果失败: %w: %v", apperr.ErrStorageFailure, err)
	}
	if deleted == 0 {
		return fmt.Errorf("分析结果不存在: %s: %w", analysisID, apperr.ErrNotFound)
	}
	return nil
}

// Close 关闭 Redis 连接
func (rs *RedisResultStore) Close() error {
	return rs.client.Close()
}
