package queue

import "github.com/z-wentao/voicetrace/pkg/models"

// Queue 任务队列接口
// queued 任务之间保持 FIFO；同一任务绝不会被两个 Worker 同时取到
type Queue interface {
    // Enqueue 将任务加入队列；队列满时返回 CapacityExceeded 类错误
    Enqueue(job *models.Job) error

    // Dequeue 从队列取出任务（阻塞）
    // 多个 Worker 并发调用是安全的，各自拿到不同的任务
    Dequeue() (*models.Job, error)

    // RequestCancel 标记取消意向，O(1)，不扫描队列
    // 已标记的任务在 Dequeue 时被丢弃，不会交付给 Worker
    RequestCancel(jobID string)

    // Ack 确认消息（任务处理完成，无论结果）
    Ack(job *models.Job) error

    // Nack 拒绝消息
    // requeue: 是否重新入队
    Nack(job *models.Job, requeue bool) error

    // Close 关闭队列
    Close() error
}
