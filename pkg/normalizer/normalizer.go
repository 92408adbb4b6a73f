package normalizer

import (
	"fmt"
	"sort"
	"time"

	"github.com/z-wentao/voicetrace/pkg/apperr"
	"github.com/z-wentao/voicetrace/pkg/engine"
	"github.com/z-wentao/voicetrace/pkg/models"
)

// Normalize 把推理运行时的原始输出映射为规范化的 AnalysisResult
//
// 规则：
//  1. 逐条校验片段，非法片段丢弃并计数（部分成功优于整单失败）
//  2. 片段 ID 按输入顺序分配（seg_0001, seg_0002, ...），与说话人无关，
//     相同输入两次归一化得到相同的 ID 和顺序
//  3. speaker_label 按 speaker_id 首次出现的顺序默认为 "Speaker N"
//  4. 片段按 start_time 升序写入，之后不再重排
//  5. duration_s 以运行时上报为准；零个有效片段则返回 EmptyResult
func Normalize(analysisID, sourceFile, runtime string, raw *engine.RawOutput) (*models.AnalysisResult, error) {
	duration := raw.Metadata.Duration

	// 1. 校验并丢弃非法片段
	valid := make([]engine.RawSegment, 0, len(raw.Segments))
	dropped := 0
	for _, seg := range raw.Segments {
		if !validSegment(seg, duration) {
			dropped++
			continue
		}
		valid = append(valid, seg)
	}

	if len(valid) == 0 {
		return nil, fmt.Errorf("归一化后没有可用片段 (丢弃 %d 条): %w", dropped, apperr.ErrEmptyResult)
	}

	// 运行时没报时长时退化为最大片段右边界
	if duration <= 0 {
		for _, seg := range valid {
			if seg.EndTime > duration {
				duration = seg.EndTime
			}
		}
	}

	// 2. 按输入顺序分配片段 ID，按首次出现顺序分配默认说话人别名
	labels := make(map[string]string)
	speakerOrder := 0
	segments := make([]models.Segment, 0, len(valid))
	for i, seg := range valid {
		speakerID := seg.Speaker
		if speakerID == "" {
			speakerID = "SPEAKER_00"
		}
		if _, ok := labels[speakerID]; !ok {
			speakerOrder++
			labels[speakerID] = fmt.Sprintf("Speaker %d", speakerOrder)
		}

		segments = append(segments, models.Segment{
			ID:           fmt.Sprintf("seg_%04d", i+1),
			SpeakerID:    speakerID,
			SpeakerLabel: labels[speakerID],
			StartTime:    seg.StartTime,
			EndTime:      seg.EndTime,
			Text:         seg.Text,
			Confidence:   seg.Confidence,
		})
	}

	// 3. 按 start_time 升序（稳定排序保证确定性）
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartTime < segments[j].StartTime
	})

	return &models.AnalysisResult{
		AnalysisID:    analysisID,
		SourceFile:    sourceFile,
		DurationS:     duration,
		TotalSpeakers: len(labels),
		Segments:      segments,
		Metadata: models.Metadata{
			Runtime:         runtime,
			CreatedAt:       time.Now().UTC(),
			Version:         models.SchemaVersion,
			Language:        raw.Metadata.Language,
			ProcessingTimeS: raw.Metadata.ProcessingTime,
			DroppedCount:    dropped,
		},
	}, nil
}

// validSegment 校验 0 <= start < end <= duration（duration 未知时跳过右边界检查）
func validSegment(seg engine.RawSegment, duration float64) bool {
	if seg.StartTime < 0 {
		return false
	}
	if seg.StartTime >= seg.EndTime {
		return false
	}
	if duration > 0 && seg.EndTime > duration {
		return false
	}
	return true
}
