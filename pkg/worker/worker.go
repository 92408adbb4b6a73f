package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/z-wentao/voicetrace/pkg/engine"
	"github.com/z-wentao/voicetrace/pkg/models"
	"github.com/z-wentao/voicetrace/pkg/normalizer"
	"github.com/z-wentao/voicetrace/pkg/orchestrator"
	"github.com/z-wentao/voicetrace/pkg/queue"
)

// Pool Worker 池：同时 running 的任务数以池大小 N 为上限
// 每个 Worker 循环：Dequeue -> Claim -> 推理 -> 归一化 -> 写结果/失败
type Pool struct {
	queue  queue.Queue
	orch   *orchestrator.Orchestrator
	engine engine.Engine

	size       int
	jobTimeout time.Duration
	cancelPoll time.Duration // 取消标记轮询间隔

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool 创建 Worker 池
func NewPool(
	q queue.Queue,
	orch *orchestrator.Orchestrator,
	eng engine.Engine,
	size int,
	jobTimeout time.Duration,
	cancelPoll time.Duration,
) *Pool {
	if size <= 0 {
		size = 2
	}
	if cancelPoll <= 0 {
		cancelPoll = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		queue:      q,
		orch:       orch,
		engine:     eng,
		size:       size,
		jobTimeout: jobTimeout,
		cancelPoll: cancelPoll,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start 启动 N 个 Worker Goroutine
func (p *Pool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	log.Printf("✓ Worker 池已启动 (N=%d)", p.size)
}

// Stop 停止 Worker 池并等待退出
// 先撤销 ctx 再关队列：关队列唤醒阻塞在 Dequeue 的 Worker（Close 幂等）
func (p *Pool) Stop() {
	log.Println("正在停止 Worker 池...")
	p.cancel()
	p.queue.Close()
	p.wg.Wait()
	log.Println("Worker 池已停止")
}

// run Worker 主循环
func (p *Pool) run(workerID int) {
	defer p.wg.Done()

	log.Printf("Worker #%d 已启动，等待任务...", workerID)

	for {
		select {
		case <-p.ctx.Done():
			log.Printf("Worker #%d 已停止", workerID)
			return
		default:
		}

		// 从队列获取任务（阻塞）
		job, err := p.queue.Dequeue()
		if err != nil {
			select {
			case <-p.ctx.Done():
				log.Printf("Worker #%d 已停止", workerID)
				return
			default:
			}
			log.Printf("从队列获取任务失败: %v", err)
			time.Sleep(1 * time.Second)
			continue
		}

		p.processJob(workerID, job)
	}
}

// processJob 处理单个任务
// 失败永远落成任务的终态，不会让任务凭空消失；单个任务的错误不影响池
func (p *Pool) processJob(workerID int, job *models.Job) {
	defer p.queue.Ack(job)

	// 领取任务：queued -> running
	// 转移失败说明任务已被并发取消，跳过
	if err := p.orch.Claim(job.ID); err != nil {
		log.Printf("⚠️ [Worker-%d] 领取任务 %s 失败，跳过: %v", workerID, job.ID, err)
		return
	}

	log.Printf("📝 [Worker-%d] 开始处理任务: %s (%s)", workerID, job.ID, job.InputRef)

	raw, err := p.runInference(job)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		canceled, ferr := p.orch.Fail(job.ID, reason)
		if ferr != nil {
			log.Printf("❌ [Worker-%d] 记录任务 %s 失败状态出错: %v", workerID, job.ID, ferr)
			return
		}
		if canceled {
			log.Printf("🛑 [Worker-%d] 任务 %s 已取消", workerID, job.ID)
		} else {
			log.Printf("❌ [Worker-%d] 任务 %s 失败: %s", workerID, job.ID, reason)
		}
		return
	}

	// 归一化：松散的原始输出在这里被校验并固化为规范 Schema
	analysisID := uuid.New().String()
	result, err := normalizer.Normalize(analysisID, job.InputRef, p.engine.Name(), raw)
	if err != nil {
		canceled, ferr := p.orch.Fail(job.ID, err.Error())
		if ferr != nil {
			log.Printf("❌ [Worker-%d] 记录任务 %s 失败状态出错: %v", workerID, job.ID, ferr)
			return
		}
		if !canceled {
			log.Printf("❌ [Worker-%d] 任务 %s 归一化失败: %v", workerID, job.ID, err)
		}
		return
	}

	// 终态写入：取消意向先到则结果被丢弃
	canceled, err := p.orch.Complete(job.ID, result)
	if err != nil {
		// 结果写入失败对该任务是致命的，但池继续服务其他任务
		if _, ferr := p.orch.Fail(job.ID, err.Error()); ferr != nil {
			log.Printf("❌ [Worker-%d] 记录任务 %s 失败状态出错: %v", workerID, job.ID, ferr)
		}
		log.Printf("❌ [Worker-%d] 任务 %s 写入结果失败: %v", workerID, job.ID, err)
		return
	}

	if canceled {
		log.Printf("🛑 [Worker-%d] 任务 %s 在完成前被取消，结果已丢弃", workerID, job.ID)
		return
	}

	log.Printf("🎉 [Worker-%d] 任务 %s 完成: %d 个片段, %d 个说话人",
		workerID, job.ID, len(result.Segments), result.TotalSpeakers)
}

// runInference 调用推理引擎，带超时和协作式取消
// 推理在独立 Goroutine 中执行，本函数按固定间隔轮询取消意向，
// 观察到取消即撤销 ctx（对底层调用是尽力而为的抢占）
func (p *Pool) runInference(job *models.Job) (*engine.RawOutput, error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.jobTimeout)
	defer cancel()

	type inferResult struct {
		raw *engine.RawOutput
		err error
	}

	done := make(chan inferResult, 1)
	go func() {
		raw, err := p.engine.Analyze(ctx, job.InputRef, job.Options)
		done <- inferResult{raw: raw, err: err}
	}()

	ticker := time.NewTicker(p.cancelPoll)
	defer ticker.Stop()

	for {
		select {
		case res := <-done:
			if res.err != nil && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return res.raw, res.err
		case <-ticker.C:
			// 取消检查点
			if p.orch.CancelRequested(job.ID) {
				cancel()
			}
		}
	}
}
