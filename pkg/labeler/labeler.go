package labeler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/z-wentao/voicetrace/pkg/models"
)

// Labeler AI 说话人别名建议器
// 根据转写文本推测每个说话人的角色/称呼，只给建议，
// 实际改名仍然走显式的 rename 操作
type Labeler struct {
	client *openai.Client
}

// NewLabeler 创建别名建议器
func NewLabeler(apiKey string) *Labeler {
	return &Labeler{
		client: openai.NewClient(apiKey),
	}
}

// Suggestion 单个说话人的别名建议
type Suggestion struct {
	SpeakerID    string `json:"speaker_id"`
	CurrentLabel string `json:"current_label"`
	Suggested    string `json:"suggested"`
	Reason       string `json:"reason"`
}

// Suggest 为结果中的每个说话人生成别名建议
func (l *Labeler) Suggest(ctx context.Context, result *models.AnalysisResult) ([]Suggestion, error) {
	prompt := buildPrompt(result)

	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openai.GPT4oMini,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "你是一个会议/访谈转写分析助手。你的任务是根据各说话人的发言内容推测其角色或称呼。只返回 JSON 格式的数据，不要有任何其他文字。",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})

	if err != nil {
		return nil, fmt.Errorf("调用 OpenAI API 失败: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("OpenAI API 未返回结果")
	}

	content := resp.Choices[0].Message.Content
	var parsed struct {
		Suggestions []Suggestion `json:"suggestions"`
	}

	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("解析 AI 响应失败: %w, 原始响应: %s", err, content)
	}

	// 只保留结果中真实存在的 speaker_id，补齐当前别名
	labels := result.SpeakerLabels()
	suggestions := make([]Suggestion, 0, len(parsed.Suggestions))
	for _, s := range parsed.Suggestions {
		current, ok := labels[s.SpeakerID]
		if !ok {
			continue
		}
		s.CurrentLabel = current
		suggestions = append(suggestions, s)
	}

	return suggestions, nil
}

// buildPrompt 构建提示词：每个说话人附发言采样
func buildPrompt(result *models.AnalysisResult) string {
	// 每个说话人的采样文本上限（避免超出 token 限制）
	const maxPerSpeaker = 1200

	samples := make(map[string]*strings.Builder)
	for _, seg := range result.Segments {
		b, ok := samples[seg.SpeakerID]
		if !ok {
			b = &strings.Builder{}
			samples[seg.SpeakerID] = b
		}
		if b.Len() < maxPerSpeaker {
			b.WriteString(strings.TrimSpace(seg.Text))
			b.WriteString(" ")
		}
	}

	speakerIDs := make([]string, 0, len(samples))
	for id := range samples {
		speakerIDs = append(speakerIDs, id)
	}
	sort.Strings(speakerIDs)

	var b strings.Builder
	b.WriteString(`请根据以下各说话人的发言内容推测其角色或称呼（如 "主持人"、"受访者"、"Interviewer"），发言是什么语言就用什么语言。

输出格式（严格遵循 JSON 格式）：
{
  "suggestions": [
    {
      "speaker_id": "SPEAKER_00",
      "suggested": "主持人",
      "reason": "多次引导话题并提问"
    }
  ]
}

发言内容：
`)
	labels := result.SpeakerLabels()
	for _, id := range speakerIDs {
		fmt.Fprintf(&b, "\n[%s] (当前别名: %s)\n%s\n", id, labels[id], strings.TrimSpace(samples[id].String()))
	}

	b.WriteString("\n请严格按照 JSON 格式输出，不要包含任何其他说明文字。")
	return b.String()
}
