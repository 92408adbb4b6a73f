package orchestrator

import (
	"fmt"
	"time"

	"github.com/z-wentao/voicetrace/pkg/apperr"
	"github.com/z-wentao/voicetrace/pkg/models"
)

// validTransition 任务状态机的合法边
//
//	queued  -> running   (Worker 领取)
//	queued  -> canceled  (未领取前用户取消)
//	running -> completed (推理+归一化成功)
//	running -> failed    (推理/归一化/超时失败)
//	running -> canceled  (检查点观察到取消)
//
// completed / failed / canceled 为终态
func validTransition(from, to models.JobState) bool {
	switch from {
	case models.StateQueued:
		return to == models.StateRunning || to == models.StateCanceled
	case models.StateRunning:
		return to == models.StateCompleted || to == models.StateFailed || to == models.StateCanceled
	default:
		return false
	}
}

// transition 校验并应用状态转移，每次转移都刷新 updated_at
func transition(job *models.Job, to models.JobState) error {
	if !validTransition(job.State, to) {
		return fmt.Errorf("非法状态转移: %s -> %s: %w", job.State, to, apperr.ErrInvalidStateTransition)
	}
	job.State = to
	job.UpdatedAt = time.Now().UTC()
	return nil
}
