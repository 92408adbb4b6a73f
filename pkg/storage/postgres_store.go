package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/z-wentao/voicetrace/pkg/apperr"
	"github.com/z-wentao/voicetrace/pkg/models"
)

// PostgresJobStore PostgreSQL 任务存储
type PostgresJobStore struct {
	db *sql.DB
}

// NewPostgresJobStore 创建 PostgreSQL 任务存储
func NewPostgresJobStore(connStr string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("打开数据库连接失败: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 设置连接池
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	store := &PostgresJobStore{db: db}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) ensureSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS analysis_jobs (
	    job_id              TEXT PRIMARY KEY,
	    input_ref           TEXT NOT NULL,
	    filename            TEXT,
	    options             JSONB,
	    state               TEXT NOT NULL,
	    analysis_id         TEXT,
	    error               TEXT,
	    created_at          TIMESTAMPTZ NOT NULL,
	    updated_at          TIMESTAMPTZ NOT NULL,
	    cancel_requested_at TIMESTAMPTZ
	)`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("初始化 jobs 表失败: %w: %v", apperr.ErrStorageFailure, err)
	}
	return nil
}

// Save 保存任务（UPSERT，整行替换）
func (s *PostgresJobStore) Save(job *models.Job) error {
	optionsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("序列化 options 失败: %w", err)
	}

	query := `
	INSERT INTO analysis_jobs (
	    job_id, input_ref, filename, options, state,
	    analysis_id, error, created_at, updated_at, cancel_requested_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (job_id)
	DO UPDATE SET
	    state = EXCLUDED.state,
	    analysis_id = EXCLUDED.analysis_id,
	    error = EXCLUDED.error,
	    updated_at = EXCLUDED.updated_at,
	    cancel_requested_at = EXCLUDED.cancel_requested_at`

	var analysisID, errMsg sql.NullString
	if job.AnalysisID != "" {
		analysisID = sql.NullString{String: job.AnalysisID, Valid: true}
	}
	if job.Error != "" {
		errMsg = sql.NullString{String: job.Error, Valid: true}
	}
	var cancelAt sql.NullTime
	if job.CancelRequestedAt != nil {
		cancelAt = sql.NullTime{Time: *job.CancelRequestedAt, Valid: true}
	}

	_, err = s.db.Exec(query,
		job.ID, job.InputRef, job.Filename, optionsJSON, string(job.State),
		analysisID, errMsg, job.CreatedAt, job.UpdatedAt, cancelAt,
	)
	if err != nil {
		return fmt.Errorf("保存任务失败: %w: %v", apperr.ErrStorageFailure, err)
	}

	return nil
}

// Get 获取任务
func (s *PostgresJobStore) Get(jobID string) (*models.Job, error) {
	query := `
	SELECT job_id, input_ref, filename, options, state,
	       analysis_id, error, created_at, updated_at, cancel_requested_at
	FROM analysis_jobs WHERE job_id = $1`

	job, err := scanJob(s.db.QueryRow(query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("任务不存在: %s: %w", jobID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("查询任务失败: %w: %v", apperr.ErrStorageFailure, err)
	}

	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var optionsJSON []byte
	var filename, analysisID, errMsg sql.NullString
	var state string
	var cancelAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.InputRef, &filename, &optionsJSON, &state,
		&analysisID, &errMsg, &job.CreatedAt, &job.UpdatedAt, &cancelAt,
	)
	if err != nil {
		return nil, err
	}

	job.State = models.JobState(state)

	// 处理 NULL 值
	if filename.Valid {
		job.Filename = filename.String
	}
	if analysisID.Valid {
		job.AnalysisID = analysisID.String
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	if cancelAt.Valid {
		t := cancelAt.Time
		job.CancelRequestedAt = &t
	}

	if len(optionsJSON) > 0 {
		json.Unmarshal(optionsJSON, &job.Options)
	}

	return &job, nil
}

// Update 更新任务（读出-回调-UPSERT 写回）
// 跨进程的竞争由调用方的按键锁序列化
func (s *PostgresJobStore) Update(jobID string, updateFn func(*models.Job) error) error {
	job, err := s.Get(jobID)
	if err != nil {
		return err
	}

	if err := updateFn(job); err != nil {
		return err
	}

	return s.Save(job)
}

// List 列出所有任务（按创建时间倒序）
func (s *PostgresJobStore) List() ([]*models.Job, error) {
	query := `
	SELECT job_id, input_ref, filename, options, state,
	       analysis_id, error, created_at, updated_at, cancel_requested_at
	FROM analysis_jobs ORDER BY created_at DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("查询任务列表失败: %w: %v", apperr.ErrStorageFailure, err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Delete 删除任务
func (s *PostgresJobStore) Delete(jobID string) error {
	result, err := s.db.Exec(`DELETE FROM analysis_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("删除任务失败: %w: %v", apperr.ErrStorageFailure, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取删除结果失败: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("任务不存在: %s: %w", jobID, apperr.ErrNotFound)
	}

	return nil
}

// Close 关闭数据库连接
func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

// PostgresResultStore PostgreSQL 结果存储
// 整条结果存为一行（segments/metadata 为 JSONB），UPSERT 即原子替换
type PostgresResultStore struct {
	db *sql.DB
}

// NewPostgresResultStore 创建 PostgreSQL 结果存储
func NewPostgresResultStore(connStr string) (*PostgresResultStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("打开数据库连接失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	store := &PostgresResultStore{db: db}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresResultStore) ensureSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS analysis_results (
	    analysis_id    TEXT PRIMARY KEY,
	    source_file    TEXT NOT NULL,
	    duration_s     DOUBLE PRECISION NOT NULL,
	    total_speakers INTEGER NOT NULL,
	    segments       JSONB NOT NULL,
	    metadata       JSONB NOT NULL
	)`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("初始化 results 表失败: %w: %v", apperr.ErrStorageFailure, err)
	}
	return nil
}

// Save 保存结果（UPSERT，整行替换）
func (s *PostgresResultStore) Save(result *models.AnalysisResult) error {
	segmentsJSON, err := json.Marshal(result.Segments)
	if err != nil {
		return fmt.Errorf("序列化 segments 失败: %w", err)
	}
	metadataJSON, err := json.Marshal(result.Metadata)
	if err != nil {
		return fmt.Errorf("序列化 metadata 失败: %w", err)
	}

	query := `
	INSERT INTO analysis_results (
	    analysis_id, source_file, duration_s, total_speakers, segments, metadata
	) VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (analysis_id)
	DO UPDATE SET
	    source_file = EXCLUDED.source_file,
	    duration_s = EXCLUDED.duration_s,
	    total_speakers = EXCLUDED.total_speakers,
	    segments = EXCLUDED.segments,
	    metadata = EXCLUDED.metadata`

	_, err = s.db.Exec(query,
		result.AnalysisID, result.SourceFile, result.DurationS,
		result.TotalSpeakers, segmentsJSON, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("保存结果失败: %w: %v", apperr.ErrStorageFailure, err)
	}

	return nil
}

// Get 获取结果
func (s *PostgresResultStore) Get(analysisID string) (*models.AnalysisResult, error) {
	query := `
	SELECT analysis_id, source_file, duration_s, total_speakers, segments, metadata
	FROM analysis_results WHERE analysis_id = $1`

	var result models.AnalysisResult
	var segmentsJSON, metadataJSON []byte

	err := s.db.QueryRow(query, analysisID).Scan(
		&result.AnalysisID, &result.SourceFile, &result.DurationS,
		&result.TotalSpeakers, &segmentsJSON, &metadataJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("分析结果不存在: %s: %w", analysisID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("查询结果失败: %w: %v", apperr.ErrStorageFailure, err)
	}

	if err := json.Unmarshal(segmentsJSON, &result.Segments); err != nil {
		return nil, fmt.Errorf("反序列化 segments 失败: %w", err)
	}
	if err := json.Unmarshal(metadataJSON, &result.Metadata); err != nil {
		return nil, fmt.Errorf("反序列化 metadata 失败: %w", err)
	}

	return &result, nil
}

// Update 更新结果（读出-回调-UPSERT 写回）
func (s *PostgresResultStore) Update(analysisID string, updateFn func(*models.AnalysisResult) error) error {
	result, err := s.Get(analysisID)
	if err != nil {
		return err
	}

	if err := updateFn(result); err != nil {
		return err
	}

	return s.Save(result)
}

// Delete 删除结果
func (s *PostgresResultStore) Delete(analysisID string) error {
	result, err := s.db.Exec(`DELETE FROM analysis_results WHERE analysis_id = $1`, analysisID)
	if err != nil {
		return fmt.Errorf("删除结果失败: %w: %v", apperr.ErrStorageFailure, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取删除结果失败: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("分析结果不存在: %s: %w", analysisID, apperr.ErrNotFound)
	}

	return nil
}

// Close 关闭数据库连接
func (s *PostgresResultStore) Close() error {
	return s.db.Close()
}
