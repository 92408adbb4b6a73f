package engine

import (
    "context"

    "github.com/z-wentao/voicetrace/pkg/models"
)

// RawSegment 推理运行时输出的原始片段（未经校验）
type RawSegment struct {
    Speaker    string   `json:"speaker"`
    StartTime  float64  `json:"start_time"`
    EndTime    float64  `json:"end_time"`
    Text       string   `json:"text"`
    Confidence *float64 `json:"confidence,omitempty"`
}

// RawMetadata 推理运行时上报的元数据
// Duration 以运行时上报为准，不从片段边界反推
type RawMetadata struct {
    Duration       float64 `json:"duration"`
    NumSpeakers    int     `json:"num_speakers"`
    ProcessingTime float64 `json:"processing_time"`
    Language       string  `json:"language"`
    ModelPrecision string  `json:"model_precision,omitempty"`
}

// RawOutput 推理运行时的完整输出
// 这是松散类型数据的唯一入口，必须经过 Normalizer 才能进入存储
type RawOutput struct {
    Status      string            `json:"status"`
    Error       string            `json:"error,omitempty"`
    Segments    []RawSegment      `json:"segments"`
    Metadata    RawMetadata       `json:"metadata"`
    Diagnostics map[string]string `json:"diagnostics,omitempty"`
}

// Engine 推理能力接口（黑盒）：infer(audio) -> raw_segments
// Analyze 可能长时间阻塞，取消通过 ctx 传递（尽力而为）
type Engine interface {
    // Name 引擎标识，写入结果 metadata.runtime
    Name() string

    // Analyze 对音频文件做转写+说话人分离
    Analyze(ctx context.Context, inputRef string, opts models.Options) (*RawOutput, error)
}
