package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/z-wentao/voicetrace/pkg/apperr"
	"github.com/z-wentao/voicetrace/pkg/models"
)

const (
	whisperAPIURL = "https://api.openai.com/v1/audio/transcriptions"
)

// WhisperEngine OpenAI Whisper API 推理引擎
// Whisper 不做说话人分离，所有片段归入单一说话人轨
type WhisperEngine struct {
	apiKey     string
	maxRetries int
	httpClient *http.Client
}

// NewWhisperEngine 创建 Whisper 引擎
func NewWhisperEngine(apiKey string, maxRetries int) *WhisperEngine {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &WhisperEngine{
		apiKey:     apiKey,
		maxRetries: maxRetries,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// Name 引擎标识
func (we *WhisperEngine) Name() string {
	return "openai-whisper"
}

// whisperResponse API 响应（verbose_json 格式）
type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Analyze 转写音频（带重试），输出统一的原始结果
func (we *WhisperEngine) Analyze(ctx context.Context, inputRef string, opts models.Options) (*RawOutput, error) {
	start := time.Now()

	resp, err := we.transcribeWithRetry(ctx, inputRef, opts.Language)
	if err != nil {
		return nil, err
	}

	segments := make([]RawSegment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		segments = append(segments, RawSegment{
			Speaker:   "SPEAKER_00",
			StartTime: seg.Start,
			EndTime:   seg.End,
			Text:      seg.Text,
		})
	}

	duration := resp.Duration
	numSpeakers := 0
	if len(segments) > 0 {
		numSpeakers = 1
	}

	return &RawOutput{
		Status:   "success",
		Segments: segments,
		Metadata: RawMetadata{
			Duration:       duration,
			NumSpeakers:    numSpeakers,
			ProcessingTime: time.Since(start).Seconds(),
			Language:       resp.Language,
		},
		Diagnostics: map[string]string{
			"backend": "openai-whisper",
			"model":   "whisper-1",
		},
	}, nil
}

// transcribe 调用 Whisper API（verbose_json 拿时间戳）
func (we *WhisperEngine) transcribe(ctx context.Context, audioPath string, language string) (*whisperResponse, error) {
	// 1. 打开音频文件
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("打开文件失败: %v", err)
	}
	defer file.Close()

	// 2. 构造 multipart 表单
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("创建表单失败: %v", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("复制文件失败: %v", err)
	}

	writer.WriteField("model", "whisper-1")

	// 语言参数可选，不指定则自动检测
	if language != "" && language != "auto" {
		writer.WriteField("language", language)
	}

	writer.WriteField("response_format", "verbose_json")

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("关闭表单失败: %v", err)
	}

	// 3. 创建 HTTP 请求
	req, err := http.NewRequestWithContext(ctx, "POST", whisperAPIURL, body)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %v", err)
	}

	req.Header.Set("Authorization", "Bearer "+we.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	// 4. 发送请求
	resp, err := we.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %v", err)
	}
	defer resp.Body.Close()

	// 5. 检查响应状态
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API 返回错误 (状态码 %d): %s", resp.StatusCode, string(bodyBytes))
	}

	// 6. 解析响应
	var whisperResp whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&whisperResp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %v", err)
	}

	return &whisperResp, nil
}

// transcribeWithRetry 带指数退避的重试
func (we *WhisperEngine) transcribeWithRetry(ctx context.Context, audioPath string, language string) (*whisperResponse, error) {
	var lastErr error

	for i := 0; i < we.maxRetries; i++ {
		resp, err := we.transcribe(ctx, audioPath, language)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		// Context 取消直接退出
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// 指数退避
		if i < we.maxRetries-1 {
			waitTime := time.Duration(1<<uint(i)) * time.Second // 1s, 2s, 4s...
			select {
			case <-time.After(waitTime):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("重试 %d 次后仍然失败: %v: %w", we.maxRetries, lastErr, apperr.ErrInferenceFailure)
}
