package queue

import (
	"fmt"
	"sync"

	"github.com/z-wentao/voicetrace/pkg/apperr"
	"github.com/z-wentao/voicetrace/pkg/models"
)

// MemoryQueue 基于 Channel 的内存队列实现
// Channel 保证每条消息只会被一个 Worker 读到
type MemoryQueue struct {
	queue chan *models.Job

	// 取消标记集合：RequestCancel 只做打标，物理移除推迟到 Dequeue
	mu       sync.Mutex
	canceled map[string]struct{}

	closeOnce sync.Once
}

// NewMemoryQueue 创建内存队列
// maxPending 是待处理任务上限，入队超限返回错误（背压）
func NewMemoryQueue(maxPending int) *MemoryQueue {
	return &MemoryQueue{
		queue:    make(chan *models.Job, maxPending),
		canceled: make(map[string]struct{}),
	}
}

// Enqueue 将任务加入队列
func (mq *MemoryQueue) Enqueue(job *models.Job) error {
	select {
	case mq.queue <- job:
		return nil
	default:
		return fmt.Errorf("队列已满: %w", apperr.ErrCapacityExceeded)
	}
}

// Dequeue 从队列取出任务（阻塞等待）
// 已标记取消的任务在这里被丢弃，调用方继续等下一个
func (mq *MemoryQueue) Dequeue() (*models.Job, error) {
	for {
		job, ok := <-mq.queue
		if !ok {
			return nil, fmt.Errorf("队列已关闭")
		}

		if mq.consumeCancelMark(job.ID) {
			continue // 任务已取消，丢弃
		}
		return job, nil
	}
}

// RequestCancel 标记取消意向（O(1)）
func (mq *MemoryQueue) RequestCancel(jobID string) {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	mq.canceled[jobID] = struct{}{}
}

// consumeCancelMark 检查并清除取消标记
func (mq *MemoryQueue) consumeCancelMark(jobID string) bool {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	if _, ok := mq.canceled[jobID]; ok {
		delete(mq.canceled, jobID)
		return true
	}
	return false
}

// Ack 内存队列无需确认
func (mq *MemoryQueue) Ack(job *models.Job) error {
	return nil
}

// Nack 内存队列的重新入队
func (mq *MemoryQueue) Nack(job *models.Job, requeue bool) error {
	if requeue {
		return mq.Enqueue(job)
	}
	return nil
}

// Close 关闭队列（幂等），唤醒所有阻塞在 Dequeue 的 Worker
func (mq *MemoryQueue) Close() error {
	mq.closeOnce.Do(func() {
		close(mq.queue)
	})
	return nil
}
