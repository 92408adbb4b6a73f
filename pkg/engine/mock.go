package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/z-wentao/voicetrace/pkg/models"
)

// MockEngine 固定结果引擎（UI 调试 / 测试用）
type MockEngine struct{}

// NewMockEngine 创建 Mock 引擎
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

// Name 引擎标识
func (m *MockEngine) Name() string {
	return "mock"
}

// Analyze 返回单说话人的固定结果
func (m *MockEngine) Analyze(ctx context.Context, inputRef string, opts models.Options) (*RawOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := fmt.Sprintf("Mock transcription for %s.", filepath.Base(inputRef))
	language := opts.Language
	if language == "" {
		language = "auto"
	}

	return &RawOutput{
		Status: "success",
		Segments: []RawSegment{
			{
				Speaker:   "SPEAKER_00",
				StartTime: 0.0,
				EndTime:   3.8,
				Text:      text,
			},
		},
		Metadata: RawMetadata{
			Duration:       3.8,
			NumSpeakers:    1,
			ProcessingTime: 0.1,
			Language:       language,
		},
		Diagnostics: map[string]string{
			"backend": "mock",
			"worker":  "mock",
		},
	}, nil
}
