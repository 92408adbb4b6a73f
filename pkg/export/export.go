package export

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/z-wentao/voicetrace/pkg/apperr"
	"github.com/z-wentao/voicetrace/pkg/models"
)

// Format 导出格式
type Format string

const (
	FormatTXT      Format = "txt"
	FormatMarkdown Format = "md"
	FormatJSON     Format = "json"
)

// ParseFormat 解析格式参数
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatTXT:
		return FormatTXT, nil
	case FormatMarkdown:
		return FormatMarkdown, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("不支持的导出格式: %s: %w", s, apperr.ErrInvalidInput)
	}
}

// ContentType 格式对应的 Content-Type
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Render 纯函数：把一份结果快照渲染为目标格式，不触碰存储
func Render(result *models.AnalysisResult, format Format) ([]byte, error) {
	switch format {
	case FormatTXT:
		return renderTXT(result), nil
	case FormatMarkdown:
		return renderMarkdown(result), nil
	case FormatJSON:
		return renderJSON(result)
	default:
		return nil, fmt.Errorf("不支持的导出格式: %s: %w", format, apperr.ErrInvalidInput)
	}
}

// renderTXT 按存储顺序逐片段一行: [speaker_label] text
func renderTXT(result *models.AnalysisResult) []byte {
	var b strings.Builder
	for _, seg := range result.Segments {
		fmt.Fprintf(&b, "[%s] %s\n", seg.SpeakerLabel, strings.TrimSpace(seg.Text))
	}
	return []byte(b.String())
}

// renderMarkdown 连续同说话人片段合并为一节：标题带时间范围，正文按行拼接
func renderMarkdown(result *models.AnalysisResult) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# Transcript: %s\n\n", result.SourceFile)
	fmt.Fprintf(&b, "- Speakers: %d\n", result.TotalSpeakers)
	fmt.Fprintf(&b, "- Duration: %s\n", secToTimestamp(result.DurationS))
	if result.Metadata.Runtime != "" {
		fmt.Fprintf(&b, "- Runtime: `%s`\n", result.Metadata.Runtime)
	}
	b.WriteString("\n---\n\n")

	for _, run := range speakerRuns(result.Segments) {
		fmt.Fprintf(&b, "## %s [%s - %s]\n\n",
			run.label, secToTimestamp(run.start), secToTimestamp(run.end))
		for _, line := range run.lines {
			b.WriteString(strings.TrimSpace(line))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	return []byte(b.String())
}

// renderJSON 结构化直通：规范 Schema 原样序列化，无损
func renderJSON(result *models.AnalysisResult) ([]byte, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("序列化结果失败: %w", err)
	}
	return data, nil
}

// run 连续同说话人片段段落
type run struct {
	speakerID string
	label     string
	start     float64
	end       float64
	lines     []string
}

// speakerRuns 把片段按连续相同 speaker_id 分组（label 可重名，身份以 id 为准）
func speakerRuns(segments []models.Segment) []run {
	var runs []run
	for _, seg := range segments {
		if n := len(runs); n > 0 && runs[n-1].speakerID == seg.SpeakerID {
			runs[n-1].end = seg.EndTime
			runs[n-1].lines = append(runs[n-1].lines, seg.Text)
			continue
		}
		runs = append(runs, run{
			speakerID: seg.SpeakerID,
			label:     seg.SpeakerLabel,
			start:     seg.StartTime,
			end:       seg.EndTime,
			lines:     []string{seg.Text},
		})
	}
	return runs
}

// secToTimestamp 秒数 -> mm:ss / hh:mm:ss
func secToTimestamp(sec float64) string {
	d := time.Duration(sec*1000) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
