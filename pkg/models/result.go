package models

import "time"

// SchemaVersion 结果 Schema 版本号（metadata.version，编辑操作不会改变它）
const SchemaVersion = "1.0"

// Segment 说话人片段
// ID 在归一化时一次性分配，编辑后不变也不复用
// SpeakerID 是推理分配的不可变身份；SpeakerLabel 是人类可读的别名，可改
type Segment struct {
    ID           string   `json:"id"`
    SpeakerID    string   `json:"speaker_id"`
    SpeakerLabel string   `json:"speaker_label"`
    StartTime    float64  `json:"start_time"`
    EndTime      float64  `json:"end_time"`
    Text         string   `json:"text"`
    Confidence   *float64 `json:"confidence,omitempty"`
}

// Metadata 结果元数据
type Metadata struct {
    Runtime         string    `json:"runtime"`
    CreatedAt       time.Time `json:"created_at"`
    Version         string    `json:"version"`
    Language        string    `json:"language,omitempty"`
    ProcessingTimeS float64   `json:"processing_time_s,omitempty"`
    DroppedCount    int       `json:"dropped_count"`
}

// AnalysisResult 规范化的分析结果
// 每个完成的任务对应一份；analysis_id 与 job.id 一一对应但相互独立
// segments 按 start_time 升序，由 Normalizer 在写入时保证，之后不再重排
type AnalysisResult struct {
    AnalysisID    string    `json:"analysis_id"`
    SourceFile    string    `json:"source_file"`
    DurationS     float64   `json:"duration_s"`
    TotalSpeakers int       `json:"total_speakers"`
    Segments      []Segment `json:"segments"`
    Metadata      Metadata  `json:"metadata"`
}

// Clone 深拷贝（并发读者之间互不影响）
func (r *AnalysisResult) Clone() *AnalysisResult {
    cp := *r
    cp.Segments = make([]Segment, len(r.Segments))
    for i, seg := range r.Segments {
        cp.Segments[i] = seg
        if seg.Confidence != nil {
            c := *seg.Confidence
            cp.Segments[i].Confidence = &c
        }
    }
    return &cp
}

// SpeakerLabels 从 segments 重建 speaker_id -> speaker_label 映射
// 同一 speaker_id 的所有片段的 label 始终一致（重命名整体生效）
func (r *AnalysisResult) SpeakerLabels() map[string]string {
    labels := make(map[string]string)
    for _, seg := range r.Segments {
        labels[seg.SpeakerID] = seg.SpeakerLabel
    }
    return labels
}
