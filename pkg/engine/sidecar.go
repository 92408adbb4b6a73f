package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/z-wentao/voicetrace/pkg/apperr"
	"github.com/z-wentao/voicetrace/pkg/models"
)

// SidecarEngine 子进程推理引擎
// 协议：向 worker 脚本的 stdin 写一行 JSON 请求，从 stdout 读一行 JSON 结果
// 取消通过 exec.CommandContext 实现：ctx 取消即杀掉子进程
type SidecarEngine struct {
	python string // python 可执行文件
	script string // worker 脚本路径
}

// NewSidecarEngine 创建子进程引擎
func NewSidecarEngine(python, script string) *SidecarEngine {
	if python == "" {
		python = "python3"
	}
	return &SidecarEngine{
		python: python,
		script: script,
	}
}

// Name 引擎标识
func (s *SidecarEngine) Name() string {
	return "sidecar"
}

// sidecarRequest worker 脚本的请求格式
type sidecarRequest struct {
	AudioPath string `json:"audio_path"`
	Language  string `json:"language"`
	Diarize   bool   `json:"diarize"`
}

// Analyze 调用 worker 子进程
func (s *SidecarEngine) Analyze(ctx context.Context, inputRef string, opts models.Options) (*RawOutput, error) {
	language := opts.Language
	if language == "" {
		language = "auto"
	}

	payload, err := json.Marshal(sidecarRequest{
		AudioPath: inputRef,
		Language:  language,
		Diarize:   opts.SpeakerDiarization,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.python, s.script)
	cmd.Stdin = bytes.NewReader(payload)

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// 尽量带出 stderr 信息
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(string(exitErr.Stderr))
			if msg == "" {
				msg = "unknown worker error"
			}
			return nil, fmt.Errorf("worker 进程失败: %s: %w", msg, apperr.ErrInferenceFailure)
		}
		return nil, fmt.Errorf("启动 worker 进程失败: %v: %w", err, apperr.ErrInferenceFailure)
	}

	stdout := strings.TrimSpace(string(out))
	if stdout == "" {
		return nil, fmt.Errorf("worker 返回空输出: %w", apperr.ErrInferenceFailure)
	}

	var raw RawOutput
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		return nil, fmt.Errorf("解析 worker 输出失败: %v: %w", err, apperr.ErrInferenceFailure)
	}

	if raw.Status != "success" {
		msg := raw.Error
		if msg == "" {
			msg = "worker returned non-success status"
		}
		return nil, fmt.Errorf("%s: %w", msg, apperr.ErrInferenceFailure)
	}

	return &raw, nil
}
