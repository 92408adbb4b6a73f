package storage

import (
	"errors"
	"log"
	"time"

	"github.com/z-wentao/voicetrace/pkg/apperr"
	"github.com/z-wentao/voicetrace/pkg/models"
)

// HybridJobStore 混合任务存储：Redis（热数据） + PostgreSQL（冷数据）
// 状态流转期间走 Redis，进入终态后异步落库
type HybridJobStore struct {
	redis     JobStore
	db        JobStore
	syncQueue chan *models.Job // 异步同步队列
	stopCh    chan struct{}
}

// NewHybridJobStore 创建混合任务存储
func NewHybridJobStore(redis, db JobStore) *HybridJobStore {
	store := &HybridJobStore{
		redis:     redis,
		db:        db,
		syncQueue: make(chan *models.Job, 100),
		stopCh:    make(chan struct{}),
	}

	// 启动后台同步 Worker
	go store.syncWorker()

	log.Println("✓ 混合任务存储初始化成功（Redis + PostgreSQL）")

	return store
}

// Save 保存任务
// 策略：立即写 Redis，终态任务异步落库
func (s *HybridJobStore) Save(job *models.Job) error {
	if err := s.redis.Save(job); err != nil {
		log.Printf("⚠️ Redis 写入失败: %v", err)
		// Redis 失败不影响业务，继续写数据库
	}

	if job.State.Terminal() {
		s.asyncSyncToDB(job)
	}

	return nil
}

// Get 获取任务
// 策略：优先 Redis，未命中查数据库并回写 Redis
func (s *HybridJobStore) Get(jobID string) (*models.Job, error) {
	job, err := s.redis.Get(jobID)
	if err == nil {
		return job, nil
	}

	log.Printf("📚 Redis 缓存未命中，查询数据库: %s", jobID)
	job, err = s.db.Get(jobID)
	if err != nil {
		return nil, err
	}

	// 回写 Redis（缓存预热）
	go func() {
		if err := s.redis.Save(job); err != nil {
			log.Printf("⚠️ 回写 Redis 失败: %v", err)
		}
	}()

	return job, nil
}

// Update 更新任务
// 策略：更新 Redis，进入终态时同步数据库
func (s *HybridJobStore) Update(jobID string, updateFn func(*models.Job) error) error {
	err := s.redis.Update(jobID, updateFn)
	if err != nil {
		log.Printf("⚠️ Redis 更新失败: %v, 尝试更新数据库", err)
		return s.db.Update(jobID, updateFn)
	}

	job, _ := s.redis.Get(jobID)
	if job != nil && job.State.Terminal() {
		s.asyncSyncToDB(job)
	}

	return nil
}

// List 列出任务
// 策略：优先 Redis，失败降级到数据库
func (s *HybridJobStore) List() ([]*models.Job, error) {
	jobs, err := s.redis.List()
	if err != nil {
		log.Printf("⚠️ Redis 列表查询失败: %v, 降级到数据库", err)
		return s.db.List()
	}

	return jobs, nil
}

// Delete 删除任务（Redis 和数据库都删）
// 非终态任务可能从未落库，数据库侧的 NotFound 不算失败
func (s *HybridJobStore) Delete(jobID string) error {
	redisErr := s.redis.Delete(jobID)
	if redisErr != nil {
		log.Printf("⚠️ Redis 删除失败: %v", redisErr)
	}

	dbErr := s.db.Delete(jobID)
	if dbErr != nil && !errors.Is(dbErr, apperr.ErrNotFound) {
		log.Printf("⚠️ 数据库删除失败: %v", dbErr)
		return dbErr
	}

	if redisErr != nil && dbErr != nil {
		return redisErr
	}
	return nil
}

// Close 关闭存储
func (s *HybridJobStore) Close() error {
	// 1. 停止同步 Worker
	close(s.stopCh)

	// 2. 等待队列清空（最多等待 5 秒）
	timeout := time.After(5 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			log.Printf("⚠️ 同步队列清空超时，剩余 %d 个任务", len(s.syncQueue))
			goto cleanup
		case <-ticker.C:
			if len(s.syncQueue) == 0 {
				goto cleanup
			}
		}
	}

cleanup:
	s.redis.Close()
	s.db.Close()

	log.Println("✓ 混合任务存储已关闭")
	return nil
}

// asyncSyncToDB 异步同步到数据库
func (s *HybridJobStore) asyncSyncToDB(job *models.Job) {
	select {
	case s.syncQueue <- job:
		// 成功加入队列
	default:
		// 队列满，同步写入（阻塞）
		log.Printf("⚠️ 同步队列已满，同步写入数据库")
		if err := s.db.Save(job); err != nil {
			log.Printf("❌ 同步写入数据库失败: %v", err)
		}
	}
}

// syncWorker 后台同步 Worker
// 策略：批量写入（50条或5秒）
func (s *HybridJobStore) syncWorker() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	batch := make([]*models.Job, 0, 50)

	for {
		select {
		case job, ok := <-s.syncQueue:
			if !ok {
				s.batchSave(batch)
				return
			}

			batch = append(batch, job)

			if len(batch) >= 50 {
				s.batchSave(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.batchSave(batch)
				batch = batch[:0]
			}

		case <-s.stopCh:
			s.batchSave(batch)
			return
		}
	}
}

// batchSave 批量保存到数据库
func (s *HybridJobStore) batchSave(jobs []*models.Job) {
	if len(jobs) == 0 {
		return
	}

	for _, job := range jobs {
		if err := s.db.Save(job); err != nil {
			log.Printf("❌ 同步任务 %s 到数据库失败: %v", job.ID, err)
		}
	}
}

// HybridResultStore 混合结果存储：写入双写，读取 Redis 优先
// 编辑（Update）必须同步双写，保证两边都是完整快照
type HybridResultStore struct {
	redis ResultStore
	db    ResultStore
}

// NewHybridResultStore 创建混合结果存储
func NewHybridResultStore(redis, db ResultStore) *HybridResultStore {
	log.Println("✓ 混合结果存储初始化成功（Redis + PostgreSQL）")
	return &HybridResultStore{redis: redis, db: db}
}

// Save 保存结果（先库后缓存，以库为准）
func (s *HybridResultStore) Save(result *models.AnalysisResult) error {
	if err := s.db.Save(result); err != nil {
		return err
	}
	if err := s.redis.Save(result); err != nil {
		log.Printf("⚠️ Redis 写入失败: %v", err)
	}
	return nil
}

// Get 获取结果（Redis 优先，未命中回源并预热）
func (s *HybridResultStore) Get(analysisID string) (*models.AnalysisResult, error) {
	result, err := s.redis.Get(analysisID)
	if err == nil {
		return result, nil
	}

	result, err = s.db.Get(analysisID)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := s.redis.Save(result); err != nil {
			log.Printf("⚠️ 回写 Redis 失败: %v", err)
		}
	}()

	return result, nil
}

// Update 更新结果（对库内快照执行回调后整体双写）
func (s *HybridResultStore) Update(analysisID string, updateFn func(*models.AnalysisResult) error) error {
	result, err := s.db.Get(analysisID)
	if err != nil {
		return err
	}

	if err := updateFn(result); err != nil {
		return err
	}

	return s.Save(result)
}

// Delete 删除结果
func (s *HybridResultStore) Delete(analysisID string) error {
	if err := s.redis.Delete(analysisID); err != nil {
		log.Printf("⚠️ Redis 删除失败: %v", err)
	}
	return s.db.Delete(analysisID)
}

// Close 关闭存储
func (s *HybridResultStore) Close() error {
	s.redis.Close()
	return s.db.Close()
}
