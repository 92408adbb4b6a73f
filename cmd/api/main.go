package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/z-wentao/voicetrace/pkg/apperr"
	"github.com/z-wentao/voicetrace/pkg/config"
	"github.com/z-wentao/voicetrace/pkg/engine"
	"github.com/z-wentao/voicetrace/pkg/export"
	"github.com/z-wentao/voicetrace/pkg/labeler"
	"github.com/z-wentao/voicetrace/pkg/models"
	"github.com/z-wentao/voicetrace/pkg/orchestrator"
	"github.com/z-wentao/voicetrace/pkg/queue"
	"github.com/z-wentao/voicetrace/pkg/storage"
	"github.com/z-wentao/voicetrace/pkg/worker"
)

// App 应用上下文（依赖注入）
type App struct {
	config      *config.Config
	jobStore    storage.JobStore
	resultStore storage.ResultStore
	queue       queue.Queue
	orch        *orchestrator.Orchestrator
	pool        *worker.Pool
	labeler     *labeler.Labeler
}

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("❌ 加载配置失败: %v", err)
	}
	log.Println("✓ 配置加载成功")

	// 2. 确保上传目录存在
	if err := os.MkdirAll(cfg.Server.UploadDir, 0755); err != nil {
		log.Fatalf("❌ 创建 %s 目录失败: %v", cfg.Server.UploadDir, err)
	}

	app := &App{config: cfg}

	// 3. 初始化存储（根据配置选择类型）
	if err := app.setupStores(); err != nil {
		log.Fatalf("❌ 初始化存储失败: %v", err)
	}

	// 4. 初始化队列
	switch cfg.Queue.Type {
	case "memory":
		app.queue = queue.NewMemoryQueue(cfg.Queue.MaxPending)
		log.Println("✓ 使用内存队列")
	case "rabbitmq":
		q, err := queue.NewRabbitMQQueue(cfg.Queue.RabbitMQ.URL, cfg.Queue.RabbitMQ.QueueName, cfg.Queue.RabbitMQ.PrefetchCount)
		if err != nil {
			log.Fatalf("❌ 初始化 RabbitMQ 队列失败: %v", err)
		}
		app.queue = q
		log.Println("✓ 使用 RabbitMQ 队列")
	default:
		log.Fatalf("❌ 不支持的队列类型: %s", cfg.Queue.Type)
	}

	// 5. 初始化推理引擎
	eng, err := buildEngine(cfg)
	if err != nil {
		log.Fatalf("❌ 初始化推理引擎失败: %v", err)
	}
	log.Printf("✓ 推理引擎初始化成功 (%s)", eng.Name())

	// 5.1 别名建议器（可选，需要 OpenAI API Key）
	if cfg.Engine.APIKey != "" {
		app.labeler = labeler.NewLabeler(cfg.Engine.APIKey)
		log.Println("✓ 说话人别名建议器初始化成功")
	}

	// 6. 编排器 + Worker 池
	app.orch = orchestrator.New(app.jobStore, app.resultStore, app.queue)
	app.pool = worker.NewPool(
		app.queue,
		app.orch,
		eng,
		cfg.Worker.PoolSize,
		time.Duration(cfg.Worker.JobTimeoutSeconds)*time.Second,
		time.Duration(cfg.Worker.CancelPollMillis)*time.Millisecond,
	)
	app.pool.Start()

	// 7. 启动 HTTP 服务器
	router := app.setupRouter()
	port := fmt.Sprintf(":%d", cfg.Server.Port)

	log.Printf("🚀 VoiceTrace 服务器启动在 http://localhost:%d", cfg.Server.Port)
	log.Printf("📝 配置信息:")
	log.Printf("   - Worker 池大小: %d", cfg.Worker.PoolSize)
	log.Printf("   - 任务超时: %d 秒", cfg.Worker.JobTimeoutSeconds)
	log.Printf("   - 队列类型: %s (上限 %d)", cfg.Queue.Type, cfg.Queue.MaxPending)
	log.Printf("   - 存储类型: %s", cfg.Store.Type)

	go func() {
		if err := router.Run(port); err != nil {
			log.Fatalf("❌ 服务器启动失败: %v", err)
		}
	}()

	// 8. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 正在关闭服务器...")
	app.pool.Stop()
	app.queue.Close()
	app.jobStore.Close()
	app.resultStore.Close()
	log.Println("✓ 服务器已关闭")
}

// setupStores 初始化任务/结果存储
func (app *App) setupStores() error {
	cfg := app.config
	switch cfg.Store.Type {
	case "memory":
		app.jobStore = storage.NewMemoryJobStore()
		app.resultStore = storage.NewMemoryResultStore()
		log.Println("✓ 使用内存存储")
	case "redis":
		ttl := time.Duration(cfg.Store.Redis.TTLHours) * time.Hour
		js, err := storage.NewRedisJobStore(cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB, ttl)
		if err != nil {
			return err
		}
		rs, err := storage.NewRedisResultStore(cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB, ttl)
		if err != nil {
			return err
		}
		app.jobStore = js
		app.resultStore = rs
		log.Println("✓ 使用 Redis 存储")
	case "postgres":
		js, err := storage.NewPostgresJobStore(cfg.Store.Postgres.ConnStr)
		if err != nil {
			return err
		}
		rs, err := storage.NewPostgresResultStore(cfg.Store.Postgres.ConnStr)
		if err != nil {
			return err
		}
		app.jobStore = js
		app.resultStore = rs
		log.Println("✓ 使用 PostgreSQL 存储")
	case "hybrid":
		ttl := time.Duration(cfg.Store.Redis.TTLHours) * time.Hour
		redisJobs, err := storage.NewRedisJobStore(cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB, ttl)
		if err != nil {
			return err
		}
		pgJobs, err := storage.NewPostgresJobStore(cfg.Store.Postgres.ConnStr)
		if err != nil {
			return err
		}
		redisResults, err := storage.NewRedisResultStore(cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB, ttl)
		if err != nil {
			return err
		}
		pgResults, err := storage.NewPostgresResultStore(cfg.Store.Postgres.ConnStr)
		if err != nil {
			return err
		}
		app.jobStore = storage.NewHybridJobStore(redisJobs, pgJobs)
		app.resultStore = storage.NewHybridResultStore(redisResults, pgResults)
		log.Println("✓ 使用 Redis + PostgreSQL 混合存储")
	default:
		return fmt.Errorf("不支持的存储类型: %s", cfg.Store.Type)
	}
	return nil
}

// buildEngine 根据配置构建推理引擎
func buildEngine(cfg *config.Config) (engine.Engine, error) {
	switch cfg.Engine.Type {
	case "mock":
		return engine.NewMockEngine(), nil
	case "sidecar":
		return engine.NewSidecarEngine(cfg.Engine.Python, cfg.Engine.SidecarScript), nil
	case "whisper":
		return engine.NewWhisperEngine(cfg.Engine.APIKey, cfg.Engine.MaxRetries), nil
	default:
		return nil, fmt.Errorf("不支持的引擎类型: %s", cfg.Engine.Type)
	}
}

// setupRouter 设置路由
func (app *App) setupRouter() *gin.Engine {
	r := gin.Default()

	api := r.Group("/api")
	{
		api.GET("/ping", app.handlePing)
		api.POST("/jobs", app.handleSubmit)                // 提交分析任务
		api.POST("/jobs/batch", app.handleSubmitBatch)     // 批量提交
		api.POST("/upload", app.handleUpload)              // 上传文件并提交
		api.GET("/jobs", app.handleListJobs)               // 列出所有任务
		api.GET("/jobs/:job_id", app.handleGetJob)         // 查询任务状态（完成时带结果）
		api.POST("/jobs/:job_id/cancel", app.handleCancel) // 取消任务

		api.POST("/analyses/:analysis_id/rename-speaker", app.handleRenameSpeaker) // 重命名说话人
		api.POST("/analyses/:analysis_id/edit-segment", app.handleEditSegment)     // 修改片段文本
		api.GET("/analyses/:analysis_id/export", app.handleExport)                 // 导出 txt/md/json
		api.POST("/analyses/:analysis_id/suggest-labels", app.handleSuggestLabels) // AI 别名建议
	}

	return r
}

// abortWithError 按错误类别映射状态码
func abortWithError(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": err.Error()})
}

// handlePing 健康检查
func (app *App) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"version": "0.1.0",
	})
}

// SubmitRequest 提交请求
type SubmitRequest struct {
	AudioPath string         `json:"audio_path" binding:"required"`
	Options   models.Options `json:"options"`
}

// handleSubmit 提交分析任务
func (app *App) handleSubmit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}

	// 文件存在性检查（路径是请求载荷，不存在属于 400）
	if _, err := os.Stat(req.AudioPath); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("音频文件不存在: %s", req.AudioPath)})
		return
	}

	job, err := app.orch.Submit(req.AudioPath, filepath.Base(req.AudioPath), req.Options)
	if err != nil {
		abortWithError(c, err)
		return
	}

	log.Printf("✓ 任务已加入队列: %s", job.ID)

	c.JSON(http.StatusOK, gin.H{
		"job_id": job.ID,
		"status": job.State,
	})
}

// BatchSubmitRequest 批量提交请求
type BatchSubmitRequest struct {
	Items []SubmitRequest `json:"items" binding:"required"`
}

// handleSubmitBatch 批量提交：逐项独立入队，部分成功是预期行为
func (app *App) handleSubmitBatch(c *gin.Context) {
	var req BatchSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}

	type itemResult struct {
		JobID  string `json:"job_id,omitempty"`
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}

	// 先做文件存在性检查，通过的条目交给编排器批量入队
	results := make([]itemResult, len(req.Items))
	var items []orchestrator.SubmitItem
	var indices []int
	for i, item := range req.Items {
		if _, err := os.Stat(item.AudioPath); err != nil {
			results[i] = itemResult{
				Status: "rejected",
				Error:  fmt.Sprintf("音频文件不存在: %s", item.AudioPath),
			}
			continue
		}
		items = append(items, orchestrator.SubmitItem{
			InputRef: item.AudioPath,
			Filename: filepath.Base(item.AudioPath),
			Options:  item.Options,
		})
		indices = append(indices, i)
	}

	accepted := 0
	for k, outcome := range app.orch.SubmitBatch(items) {
		i := indices[k]
		if outcome.Err != nil {
			results[i] = itemResult{Status: "rejected", Error: outcome.Err.Error()}
			continue
		}
		accepted++
		results[i] = itemResult{JobID: outcome.Job.ID, Status: string(outcome.Job.State)}
	}

	c.JSON(http.StatusOK, gin.H{
		"results":  results,
		"accepted": accepted,
		"total":    len(req.Items),
	})
}

// handleUpload 上传文件并提交分析
func (app *App) handleUpload(c *gin.Context) {
	// 1. 获取文件
	file, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请上传文件"})
		return
	}

	// 2. 验证文件格式
	ext := filepath.Ext(file.Filename)
	if !orchestrator.ValidAudioFormat(ext) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("不支持的文件格式 %s，支持: .mp3, .wav, .m4a, .mp4, .flac, .aac", ext),
		})
		return
	}

	// 3. 验证文件大小
	if file.Size > app.config.Server.MaxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("文件太大，最大 %.0f MB", float64(app.config.Server.MaxUploadSize)/1024/1024),
		})
		return
	}

	// 4. 保存为唯一文件名
	savePath := filepath.Join(app.config.Server.UploadDir, uuid.New().String()+ext)
	if err := c.SaveUploadedFile(file, savePath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存文件失败"})
		return
	}

	log.Printf("✓ 文件已保存: %s (%.2f MB)", savePath, float64(file.Size)/1024/1024)

	// 5. 选项来自表单字段
	opts := models.Options{
		Language:           c.PostForm("language"),
		SpeakerDiarization: c.PostForm("speaker_diarization") != "false",
	}

	job, err := app.orch.Submit(savePath, file.Filename, opts)
	if err != nil {
		abortWithError(c, err)
		return
	}

	log.Printf("✓ 任务已加入队列: %s", job.ID)

	c.JSON(http.StatusOK, gin.H{
		"job_id":   job.ID,
		"filename": file.Filename,
		"size":     file.Size,
		"status":   job.State,
	})
}

// handleListJobs 列出所有任务
func (app *App) handleListJobs(c *gin.Context) {
	jobs, err := app.orch.ListJobs()
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// handleGetJob 查询任务状态，completed 时附带分析结果
func (app *App) handleGetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	job, result, err := app.orch.GetJobWithResult(jobID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := gin.H{"job": job}
	if result != nil {
		resp["analysis"] = result
	}

	c.JSON(http.StatusOK, resp)
}

// handleCancel 取消任务
// queued 立即生效；running 记录意向由 Worker 在检查点观察；终态返回 409
func (app *App) handleCancel(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := app.orch.RequestCancel(jobID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	log.Printf("🛑 收到取消请求: %s (当前状态 %s)", jobID, job.State)

	c.JSON(http.StatusOK, gin.H{
		"job_id": job.ID,
		"status": job.State,
	})
}

// RenameSpeakerRequest 重命名说话人请求
type RenameSpeakerRequest struct {
	SpeakerID string `json:"speaker_id" binding:"required"`
	NewLabel  string `json:"new_label" binding:"required"`
}

// handleRenameSpeaker 重命名说话人（该结果内共享 speaker_id 的全部片段一起改）
func (app *App) handleRenameSpeaker(c *gin.Context) {
	analysisID := c.Param("analysis_id")

	var req RenameSpeakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}

	result, err := app.orch.RenameSpeaker(analysisID, req.SpeakerID, req.NewLabel)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// EditSegmentRequest 修改片段文本请求
type EditSegmentRequest struct {
	SegmentID string `json:"segment_id" binding:"required"`
	NewText   string `json:"new_text"`
}

// handleEditSegment 修改单个片段的文本
func (app *App) handleEditSegment(c *gin.Context) {
	analysisID := c.Param("analysis_id")

	var req EditSegmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}

	result, err := app.orch.EditSegmentText(analysisID, req.SegmentID, req.NewText)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleExport 导出分析结果
// 三种格式都从同一份快照读出来渲染
func (app *App) handleExport(c *gin.Context) {
	analysisID := c.Param("analysis_id")

	format, err := export.ParseFormat(c.DefaultQuery("format", "json"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	result, err := app.orch.GetResult(analysisID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	payload, err := export.Render(result, format)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Data(http.StatusOK, format.ContentType(), payload)
}

// handleSuggestLabels AI 说话人别名建议
func (app *App) handleSuggestLabels(c *gin.Context) {
	if app.labeler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "未配置 OpenAI API Key，别名建议不可用"})
		return
	}

	analysisID := c.Param("analysis_id")

	result, err := app.orch.GetResult(analysisID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	suggestions, err := app.labeler.Suggest(c.Request.Context(), result)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("生成别名建议失败: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"analysis_id": analysisID,
		"suggestions": suggestions,
	})
}
