package orchestrator

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/z-wentao/voicetrace/pkg/apperr"
	"github.com/z-wentao/voicetrace/pkg/models"
	"github.com/z-wentao/voicetrace/pkg/queue"
	"github.com/z-wentao/voicetrace/pkg/storage"
)

// Orchestrator 任务编排器
// 任务状态机、取消语义和结果编辑的唯一入口；
// 状态转移和编辑都在按键锁内执行，不同任务/结果完全并行
type Orchestrator struct {
	jobs    storage.JobStore
	results storage.ResultStore
	queue   queue.Queue

	jobLocks    *keyedMutex
	resultLocks *keyedMutex
}

// New 创建编排器
func New(jobs storage.JobStore, results storage.ResultStore, q queue.Queue) *Orchestrator {
	return &Orchestrator{
		jobs:        jobs,
		results:     results,
		queue:       q,
		jobLocks:    newKeyedMutex(),
		resultLocks: newKeyedMutex(),
	}
}

// validAudioExtensions 提交时的扩展名白名单
// Whisper 支持的格式：mp3, mp4, mpeg, mpga, m4a, wav, webm, flac, aac
var validAudioExtensions = map[string]bool{
	".mp3":  true,
	".mp4":  true,
	".mpeg": true,
	".mpga": true,
	".m4a":  true,
	".wav":  true,
	".webm": true,
	".flac": true,
	".aac":  true,
}

// ValidAudioFormat 验证音频文件扩展名
func ValidAudioFormat(ext string) bool {
	return validAudioExtensions[strings.ToLower(ext)]
}

// Submit 提交分析任务：创建 Job（queued）并入队
// 入队失败（队列满）时任务记录一并回收，调用方稍后重试
func (o *Orchestrator) Submit(inputRef, filename string, opts models.Options) (*models.Job, error) {
	if strings.TrimSpace(inputRef) == "" {
		return nil, fmt.Errorf("audio_path 不能为空: %w", apperr.ErrInvalidInput)
	}
	if ext := filepath.Ext(inputRef); !ValidAudioFormat(ext) {
		return nil, fmt.Errorf("不支持的文件格式 %s: %w", ext, apperr.ErrInvalidInput)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New().String(),
		InputRef:  inputRef,
		Filename:  filename,
		Options:   opts,
		State:     models.StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := o.jobs.Save(job); err != nil {
		return nil, fmt.Errorf("保存任务失败: %w", err)
	}

	if err := o.queue.Enqueue(job); err != nil {
		o.jobs.Delete(job.ID)
		return nil, err
	}

	return job, nil
}

// SubmitItem 批量提交的单项输入
type SubmitItem struct {
	InputRef string
	Filename string
	Options  models.Options
}

// SubmitOutcome 批量提交的单项结果
type SubmitOutcome struct {
	Job *models.Job
	Err error
}

// SubmitBatch 批量提交：逐个入队，无跨项原子性，部分成功是预期行为
func (o *Orchestrator) SubmitBatch(items []SubmitItem) []SubmitOutcome {
	outcomes := make([]SubmitOutcome, 0, len(items))
	for _, item := range items {
		job, err := o.Submit(item.InputRef, item.Filename, item.Options)
		outcomes = append(outcomes, SubmitOutcome{Job: job, Err: err})
	}
	return outcomes
}

// GetJob 查询任务（快照）
func (o *Orchestrator) GetJob(jobID string) (*models.Job, error) {
	return o.jobs.Get(jobID)
}

// ListJobs 列出所有任务
func (o *Orchestrator) ListJobs() ([]*models.Job, error) {
	return o.jobs.List()
}

// GetResult 查询分析结果（快照）
func (o *Orchestrator) GetResult(analysisID string) (*models.AnalysisResult, error) {
	return o.results.Get(analysisID)
}

// GetJobWithResult 查询任务，completed 时带上分析结果
func (o *Orchestrator) GetJobWithResult(jobID string) (*models.Job, *models.AnalysisResult, error) {
	job, err := o.jobs.Get(jobID)
	if err != nil {
		return nil, nil, err
	}

	if job.State != models.StateCompleted || job.AnalysisID == "" {
		return job, nil, nil
	}

	result, err := o.results.Get(job.AnalysisID)
	if err != nil {
		return job, nil, err
	}
	return job, result, nil
}

// RequestCancel 请求取消任务
// queued 任务立即转 canceled（保证生效）；running 任务只记录取消意向，
// Worker 在下一个检查点观察；终态任务返回冲突错误
func (o *Orchestrator) RequestCancel(jobID string) (*models.Job, error) {
	unlock := o.jobLocks.Lock(jobID)
	defer unlock()

	job, err := o.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}

	if job.State.Terminal() {
		return nil, fmt.Errorf("任务已是终态 %s: %w", job.State, apperr.ErrInvalidStateTransition)
	}

	now := time.Now().UTC()

	switch job.State {
	case models.StateQueued:
		// 先打队列标记（O(1)），再立即转 canceled
		o.queue.RequestCancel(jobID)
		err = o.jobs.Update(jobID, func(j *models.Job) error {
			j.CancelRequestedAt = &now
			return transition(j, models.StateCanceled)
		})
	case models.StateRunning:
		// 协作式取消：只记录意向，终态写入前生效则覆盖自然结果
		err = o.jobs.Update(jobID, func(j *models.Job) error {
			if j.CancelRequestedAt == nil {
				j.CancelRequestedAt = &now
				j.UpdatedAt = now
			}
			return nil
		})
	}
	if err != nil {
		return nil, err
	}

	return o.jobs.Get(jobID)
}

// CancelRequested 查询取消意向（Worker 轮询用）
func (o *Orchestrator) CancelRequested(jobID string) bool {
	job, err := o.jobs.Get(jobID)
	if err != nil {
		return false
	}
	return job.CancelRequestedAt != nil
}

// Claim Worker 领取任务：queued -> running
// 与 Dequeue 合在一起保证同一任务最多只有一个 Worker 在处理：
// 并发取消导致转移失败时 Worker 跳过该任务
func (o *Orchestrator) Claim(jobID string) error {
	unlock := o.jobLocks.Lock(jobID)
	defer unlock()

	return o.jobs.Update(jobID, func(j *models.Job) error {
		return transition(j, models.StateRunning)
	})
}

// Complete 写入结果并完成任务：running -> completed
// 终态写入前先检查取消意向（"先记录者胜"）：
// 取消意向已存在则转 canceled 且不写结果，返回 canceled=true
func (o *Orchestrator) Complete(jobID string, result *models.AnalysisResult) (canceled bool, err error) {
	unlock := o.jobLocks.Lock(jobID)
	defer unlock()

	job, err := o.jobs.Get(jobID)
	if err != nil {
		return false, err
	}
	if job.State != models.StateRunning {
		return false, fmt.Errorf("任务不在 running 状态: %s: %w", job.State, apperr.ErrInvalidStateTransition)
	}

	if job.CancelRequestedAt != nil {
		err = o.jobs.Update(jobID, func(j *models.Job) error {
			return transition(j, models.StateCanceled)
		})
		return true, err
	}

	// 先写结果再转状态：completed 可见时结果一定存在
	if err := o.results.Save(result); err != nil {
		return false, fmt.Errorf("写入结果失败: %w", err)
	}

	err = o.jobs.Update(jobID, func(j *models.Job) error {
		j.AnalysisID = result.AnalysisID
		return transition(j, models.StateCompleted)
	})
	return false, err
}

// Fail 任务失败：running -> failed（或取消意向在先则 -> canceled）
// error 只在进入 failed 时写入，之后不再清除
func (o *Orchestrator) Fail(jobID string, reason string) (canceled bool, err error) {
	unlock := o.jobLocks.Lock(jobID)
	defer unlock()

	job, err := o.jobs.Get(jobID)
	if err != nil {
		return false, err
	}
	if job.State != models.StateRunning {
		return false, fmt.Errorf("任务不在 running 状态: %s: %w", job.State, apperr.ErrInvalidStateTransition)
	}

	if job.CancelRequestedAt != nil {
		err = o.jobs.Update(jobID, func(j *models.Job) error {
			return transition(j, models.StateCanceled)
		})
		return true, err
	}

	err = o.jobs.Update(jobID, func(j *models.Job) error {
		j.Error = reason
		return transition(j, models.StateFailed)
	})
	return false, err
}

// RenameSpeaker 重命名说话人：改写该结果内共享 speaker_id 的全部片段
// 在结果的按键锁 + 存储的原子替换内完成，读者看不到改了一半的状态
func (o *Orchestrator) RenameSpeaker(analysisID, speakerID, newLabel string) (*models.AnalysisResult, error) {
	if strings.TrimSpace(newLabel) == "" {
		return nil, fmt.Errorf("new_label 不能为空: %w", apperr.ErrInvalidInput)
	}

	unlock := o.resultLocks.Lock(analysisID)
	defer unlock()

	err := o.results.Update(analysisID, func(r *models.AnalysisResult) error {
		matched := 0
		for i := range r.Segments {
			if r.Segments[i].SpeakerID == speakerID {
				r.Segments[i].SpeakerLabel = newLabel
				matched++
			}
		}
		if matched == 0 {
			return fmt.Errorf("说话人不存在: %s: %w", speakerID, apperr.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return o.results.Get(analysisID)
}

// EditSegmentText 修改单个片段的文本
// 不改 id / speaker_id / 时间边界，不重排片段
func (o *Orchestrator) EditSegmentText(analysisID, segmentID, newText string) (*models.AnalysisResult, error) {
	unlock := o.resultLocks.Lock(analysisID)
	defer unlock()

	err := o.results.Update(analysisID, func(r *models.AnalysisResult) error {
		for i := range r.Segments {
			if r.Segments[i].ID == segmentID {
				r.Segments[i].Text = newText
				return nil
			}
		}
		return fmt.Errorf("片段不存在: %s: %w", segmentID, apperr.ErrNotFound)
	})
	if err != nil {
		return nil, err
	}

	return o.results.Get(analysisID)
}
