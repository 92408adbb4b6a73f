package models

import "time"

type JobState string

const (
    StateQueued    JobState = "queued"    // 已入队，等待 Worker 领取
    StateRunning   JobState = "running"   // Worker 处理中
    StateCompleted JobState = "completed" // 分析完成，结果已写入
    StateFailed    JobState = "failed"    // 推理/归一化/存储失败
    StateCanceled  JobState = "canceled"  // 用户取消
)

// Terminal 判断状态是否为终态（终态不可再转移）
func (s JobState) Terminal() bool {
    switch s {
    case StateCompleted, StateFailed, StateCanceled:
        return true
    default:
        return false
    }
}

// Options 分析选项（提交时指定，之后不可变）
type Options struct {
    Language           string `json:"language"`
    SpeakerDiarization bool   `json:"speaker_diarization"`
}

// Job 分析任务
// InputRef 创建后不可变；状态转移由 Orchestrator 统一控制
type Job struct {
    ID         string    `json:"id"`
    InputRef   string    `json:"input_ref"`
    Filename   string    `json:"filename,omitempty"`
    Options    Options   `json:"options"`
    State      JobState  `json:"state"`
    AnalysisID string    `json:"analysis_id,omitempty"` // 完成后关联的分析结果 ID
    Error      string    `json:"error,omitempty"`       // 仅在进入 failed 时写入，之后不再清除
    CreatedAt  time.Time `json:"created_at"`
    UpdatedAt  time.Time `json:"updated_at"`

    // 取消意向标记：记录取消请求到达的时间
    // running 任务的取消是协作式的，Worker 在检查点观察此标记
    CancelRequestedAt *time.Time `json:"cancel_requested_at,omitempty"`

    // RabbitMQ 相关（不序列化到 JSON）
    DeliveryTag      uint64 `json:"-"`
    RabbitMQDelivery any    `json:"-"`
}

// Clone 返回任务的深拷贝（读者拿到的永远是快照）
func (j *Job) Clone() *Job {
    cp := *j
    if j.CancelRequestedAt != nil {
        t := *j.CancelRequestedAt
        cp.CancelRequestedAt = &t
    }
    return &cp
}
