package storage

import "github.com/z-wentao/voicetrace/pkg/models"

// JobStore 任务存储接口
// Update 使用回调函数模式：回调在存储的原子替换临界区内执行，
// 回调返回错误则本次更新整体放弃
type JobStore interface {
    // Save 保存任务
    Save(job *models.Job) error

    // Get 获取任务（返回快照）
    Get(jobID string) (*models.Job, error)

    // Update 更新任务
    Update(jobID string, updateFn func(*models.Job) error) error

    // List 列出所有任务（按创建时间倒序）
    List() ([]*models.Job, error)

    // Delete 删除任务
    Delete(jobID string) error

    // Close 关闭存储连接
    Close() error
}

// ResultStore 分析结果存储接口
// 写入方必须整体替换记录，读者永远看不到半份结果
type ResultStore interface {
    // Save 保存结果（原子替换）
    Save(result *models.AnalysisResult) error

    // Get 获取结果（返回快照）
    Get(analysisID string) (*models.AnalysisResult, error)

    // Update 更新结果（编辑操作走这里，原子替换）
    Update(analysisID string, updateFn func(*models.AnalysisResult) error) error

    // Delete 删除结果
    Delete(analysisID string) error

    // Close 关闭存储连接
    Close() error
}
