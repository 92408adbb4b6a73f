package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/z-wentao/voicetrace/pkg/apperr"
	"github.com/z-wentao/voicetrace/pkg/models"
)

// MemoryJobStore 任务存储（内存实现）
// 读写都经过深拷贝，外部拿到的永远是快照
type MemoryJobStore struct {
	jobs map[string]*models.Job
	mu   sync.RWMutex
}

// NewMemoryJobStore 创建内存任务存储
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]*models.Job),
	}
}

// Save 保存任务
func (js *MemoryJobStore) Save(job *models.Job) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	js.jobs[job.ID] = job.Clone()
	return nil
}

// Get 获取任务
func (js *MemoryJobStore) Get(jobID string) (*models.Job, error) {
	js.mu.RLock()
	defer js.mu.RUnlock()

	job, exists := js.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("任务不存在: %s: %w", jobID, apperr.ErrNotFound)
	}

	return job.Clone(), nil
}

// Update 更新任务
// 回调在写锁内对副本执行，成功后整体替换——并发读者看不到中间状态
func (js *MemoryJobStore) Update(jobID string, updateFn func(*models.Job) error) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	job, exists := js.jobs[jobID]
	if !exists {
		return fmt.Errorf("任务不存在: %s: %w", jobID, apperr.ErrNotFound)
	}

	next := job.Clone()
	if err := updateFn(next); err != nil {
		return err
	}

	js.jobs[jobID] = next
	return nil
}

// List 列出所有任务（按创建时间倒序）
func (js *MemoryJobStore) List() ([]*models.Job, error) {
	js.mu.RLock()
	defer js.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(js.jobs))
	for _, job := range js.jobs {
		jobs = append(jobs, job.Clone())
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	return jobs, nil
}

// Delete 删除任务
func (js *MemoryJobStore) Delete(jobID string) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if _, exists := js.jobs[jobID]; !exists {
		return fmt.Errorf("任务不存在: %s: %w", jobID, apperr.ErrNotFound)
	}

	delete(js.jobs, jobID)
	return nil
}

// Close 关闭存储（内存存储无需关闭）
func (js *MemoryJobStore) Close() error {
	return nil
}

// MemoryResultStore 分析结果存储（内存实现）
type MemoryResultStore struct {
	results map[string]*models.AnalysisResult
	mu      sync.RWMutex
}

// NewMemoryResultStore 创建内存结果存储
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{
		results: make(map[string]*models.AnalysisResult),
	}
}

// Save 保存结果（原子替换）
func (rs *MemoryResultStore) Save(result *models.AnalysisResult) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.results[result.AnalysisID] = result.Clone()
	return nil
}

// Get 获取结果
func (rs *MemoryResultStore) Get(analysisID string) (*models.AnalysisResult, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	result, exists := rs.results[analysisID]
	if !exists {
		return nil, fmt.Errorf("分析结果不存在: %s: %w", analysisID, apperr.ErrNotFound)
	}

	return result.Clone(), nil
}

// Update 更新结果
// 回调在写锁内对副本执行，成功后整体替换；
// 读者要么看到编辑前的完整结果，要么看到编辑后的完整结果
func (rs *MemoryResultStore) Update(analysisID string, updateFn func(*models.AnalysisResult) error) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	result, exists := rs.results[analysisID]
	if !exists {
		return fmt.Errorf("分析结果不存在: %s: %w", analysisID, apperr.ErrNotFound)
	}

	next := result.Clone()
	if err := updateFn(next); err != nil {
		return err
	}

	rs.results[analysisID] = next
	return nil
}

// Delete 删除结果
func (rs *MemoryResultStore) Delete(analysisID string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, exists := rs.results[analysisID]; !exists {
		return fmt.Errorf("分析结果不存在: %s: %w", analysisID, apperr.ErrNotFound)
	}

	delete(rs.results, analysisID)
	return nil
}

// Close 关闭存储（内存存储无需关闭）
func (rs *MemoryResultStore) Close() error {
	return nil
}
