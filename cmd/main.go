package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fyerfyer/tender-response-system/api"
	"github.com/fyerfyer/tender-response-system/api/handler"
	"github.com/fyerfyer/tender-response-system/api/middleware"
	appconfig "github.com/fyerfyer/tender-response-system/config"
	"github.com/fyerfyer/tender-response-system/internal/cache"
	"github.com/fyerfyer/tender-response-system/internal/composer"
	"github.com/fyerfyer/tender-response-system/internal/database"
	"github.com/fyerfyer/tender-response-system/internal/detector"
	"github.com/fyerfyer/tender-response-system/internal/document"
	"github.com/fyerfyer/tender-response-system/internal/embedding"
	"github.com/fyerfyer/tender-response-system/internal/extractor"
	"github.com/fyerfyer/tender-response-system/internal/llm"
	"github.com/fyerfyer/tender-response-system/internal/matcher"
	"github.com/fyerfyer/tender-response-system/internal/repository"
	"github.com/fyerfyer/tender-response-system/internal/services"
	"github.com/fyerfyer/tender-response-system/internal/vectordb"
	"github.com/fyerfyer/tender-response-system/pkg/storage"
	"github.com/fyerfyer/tender-response-system/pkg/taskqueue"
)

// 命令行选项
type flags struct {
	ConfigFile string // 配置文件路径
	Mode       string // 运行模式 (debug/release)
	LogLevel   string // 日志级别
	LogFile    string // 日志文件路径，为空时只输出到标准输出
}

func main() {
	// 加载.env文件（如果存在）
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment variables from .env")
	}

	f := parseFlags()

	// 加载配置文件
	cfg, err := appconfig.Load(f.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 设置Gin模式
	gin.SetMode(f.Mode)

	// 初始化日志
	logger := setupLogger(f.LogLevel, f.LogFile)
	logger.Info("Starting tender response system...")

	// 初始化数据库
	if err := setupDatabase(cfg, logger); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// 创建文件存储服务
	fileStorage, err := setupStorage(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	// 创建向量索引
	vectorIndex, err := setupVectorDB(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize vector index: %v", err)
	}
	defer vectorIndex.Close()

	// 创建嵌入客户端
	embeddingClient, err := setupEmbedding(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize embedding client: %v", err)
	}

	// 创建大语言模型客户端
	llmClient, err := setupLLM(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize LLM client: %v", err)
	}

	// 创建缓存服务
	var cacheService cache.Cache
	if cfg.Cache.Enable {
		cacheService, err = setupCache(cfg)
		if err != nil {
			logger.Fatalf("Failed to initialize cache: %v", err)
		}
	}

	// 初始化任务队列（如果启用）
	var queue taskqueue.Queue
	if cfg.Queue.Enable {
		queue, err = setupTaskQueue(cfg, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer queue.Close()
		logger.Info("Task queue initialized successfully")
	}

	// 批量嵌入处理器，匹配服务复用它做知识库同步
	batchProcessor := embedding.NewBatchProcessor(embeddingClient, cfg.Embed.BatchSize, 4)

	// 匹配服务
	matchService := matcher.NewService(embeddingClient, vectorIndex,
		matcher.WithTopK(cfg.Matcher.TopK),
		matcher.WithMinScore(cfg.Matcher.MinScore),
		matcher.WithBatchProcessor(batchProcessor),
		matcher.WithLogger(logger),
	)

	// AI痕迹降痕器
	humanizer := detector.NewHumanizer(
		detector.WithLLMClient(llmClient),
		detector.WithLogger(logger),
	)

	// 应答合成服务
	composeService := composer.NewService(
		composer.WithLLMClient(llmClient),
		composer.WithHumanizer(humanizer),
		composer.WithMaxAIPercentage(cfg.Composer.MaxAIPercentage),
		composer.WithMaxAttempts(cfg.Composer.MaxAttempts),
		composer.WithLogger(logger),
	)

	// 需求提取器
	ext := extractor.New(
		extractor.WithLLMClient(llmClient),
		extractor.WithMaxItems(cfg.Extract.MaxItems),
		extractor.WithLogger(logger),
	)

	// 初始化仓储
	var docRepo repository.DocumentRepository
	if queue != nil {
		docRepo = repository.NewDocumentRepositoryWithQueue(database.MustDB(), queue)
		logger.Info("Using document repository with task queue")
	} else {
		docRepo = repository.NewDocumentRepositoryWithDB(database.MustDB())
	}
	kbRepo := repository.NewKnowledgeBaseRepositoryWithDB(database.MustDB())
	respRepo := repository.NewResponseRepositoryWithDB(database.MustDB())

	statusManager := services.NewDocumentStatusManager(docRepo, logger)

	// 文档解析器选项
	parserOpts := []document.ParserOption{
		document.WithMinTextLength(cfg.Parser.MinTextLength),
	}
	if cfg.Parser.EnableOCR {
		parserOpts = append(parserOpts, document.WithOCREngine(
			document.NewOCREngine(document.WithOCRLogger(logger)),
		))
	}

	// 标书处理流水线
	pipeline := services.NewPipeline(
		statusManager,
		docRepo,
		fileStorage,
		ext,
		matchService,
		services.WithParserOptions(parserOpts...),
		services.WithPipelineLogger(logger),
	)

	// 文档服务，根据是否启用队列进行配置
	documentServiceOptions := []services.DocumentOption{
		services.WithStatusManager(statusManager),
		services.WithLogger(logger),
	}
	if queue != nil {
		documentServiceOptions = append(documentServiceOptions,
			services.WithTaskQueue(queue),
			services.WithAsyncProcessing(true),
		)
		logger.Info("Document processing will use async task queue")
	}

	documentService := services.NewDocumentService(
		fileStorage,
		pipeline,
		docRepo,
		documentServiceOptions...,
	)
	if err := documentService.Init(); err != nil {
		logger.Fatalf("Failed to initialize document service: %v", err)
	}

	// 知识库服务
	kbService := services.NewKnowledgeBaseService(kbRepo, matchService, logger)

	// 应答生成服务
	responseServiceOptions := []services.ResponseOption{
		services.WithResponseLogger(logger),
	}
	if cacheService != nil {
		responseServiceOptions = append(responseServiceOptions,
			services.WithResponseCache(cacheService),
		)
	}
	responseService := services.NewResponseService(
		respRepo,
		docRepo,
		matchService,
		composeService,
		responseServiceOptions...,
	)

	// 启动任务处理Worker（与API同进程运行）
	var worker taskqueue.Worker
	if queue != nil {
		worker, err = setupWorker(cfg, queue, pipeline, responseService, kbService, logger)
		if err != nil {
			logger.Fatalf("Failed to start task worker: %v", err)
		}
		defer worker.Stop()
	}

	// 初始化API处理器
	docHandler := handler.NewDocumentHandler(documentService)
	kbHandler := handler.NewKnowledgeHandler(kbService, queue)
	respHandler := handler.NewResponseHandler(responseService, queue)
	humanizeHandler := handler.NewHumanizeHandler(humanizer)
	taskHandler := handler.NewTaskHandler(queue)

	// 设置路由
	r := api.SetupRouter(docHandler, kbHandler, respHandler, humanizeHandler, taskHandler)

	// 启动HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Infof("Server is running on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// parseFlags 解析命令行参数
func parseFlags() flags {
	f := flags{}

	flag.StringVar(&f.ConfigFile, "config", "", "Path to config file")
	flag.StringVar(&f.Mode, "mode", "debug", "Run mode (debug/release)")
	flag.StringVar(&f.LogLevel, "log-level", "info", "Log level (debug/info/warn/error)")
	flag.StringVar(&f.LogFile, "log-file", "", "Log file path (empty for stdout only)")

	flag.Parse()
	return f
}

// setupLogger 设置日志系统
// 指定日志文件时同时输出到标准输出和带轮转的文件
func setupLogger(level string, logFile string) *logrus.Logger {
	logger := middleware.GetLogger()

	switch level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if logFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     30, // 天
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}

	return logger
}

// setupDatabase 设置数据库
func setupDatabase(cfg *appconfig.Config, logger *logrus.Logger) error {
	dbConfig := database.DefaultConfig()
	dbConfig.Type = cfg.Database.Type
	dbConfig.DSN = cfg.Database.DSN

	return database.Setup(dbConfig, logger)
}

// setupStorage 设置文件存储服务
func setupStorage(cfg *appconfig.Config) (storage.Storage, error) {
	switch cfg.Storage.Type {
	case "minio":
		return storage.NewMinioStorage(storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
		})
	default:
		if err := os.MkdirAll(cfg.Storage.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %v", err)
		}
		return storage.NewLocalStorage(storage.LocalConfig{
			Path: cfg.Storage.Path,
		})
	}
}

// setupVectorDB 设置向量索引
// FAISS初始化失败时回退到内存实现
func setupVectorDB(cfg *appconfig.Config) (vectordb.Repository, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.VectorDB.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create vector index directory: %v", err)
	}

	faissConfig := vectordb.Config{
		Type:              "faiss",
		Path:              cfg.VectorDB.Path,
		Dimension:         cfg.VectorDB.Dim,
		DistanceType:      vectordb.DistanceType(cfg.VectorDB.Distance),
		CreateIfNotExists: true,
	}

	repo, err := vectordb.NewRepository(faissConfig)
	if err != nil {
		log.Printf("Warning: Failed to initialize FAISS vector index: %v", err)
		log.Printf("Falling back to in-memory vector index")

		return vectordb.NewRepository(vectordb.Config{
			Type:         "memory",
			Dimension:    cfg.VectorDB.Dim,
			DistanceType: vectordb.DistanceType(cfg.VectorDB.Distance),
		})
	}

	return repo, nil
}

// setupEmbedding 设置嵌入模型客户端
func setupEmbedding(cfg *appconfig.Config) (embedding.Client, error) {
	if cfg.Embed.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}

	return embedding.NewClient(cfg.Embed.Provider,
		embedding.WithAPIKey(cfg.Embed.APIKey),
		embedding.WithModel(cfg.Embed.Model),
		embedding.WithBaseURL(cfg.Embed.Endpoint),
		embedding.WithDimensions(cfg.Embed.Dimensions),
		embedding.WithBatchSize(cfg.Embed.BatchSize),
	)
}

// setupLLM 设置大语言模型客户端
func setupLLM(cfg *appconfig.Config) (llm.Client, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("LLM API key is required")
	}

	return llm.NewClient(cfg.LLM.Provider,
		llm.WithAPIKey(cfg.LLM.APIKey),
		llm.WithModel(cfg.LLM.Model),
		llm.WithBaseURL(cfg.LLM.Endpoint),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithTemperature(cfg.LLM.Temperature),
	)
}

// setupCache 设置缓存服务
func setupCache(cfg *appconfig.Config) (cache.Cache, error) {
	cacheConfig := cache.Config{
		Type:       cfg.Cache.Type,
		DefaultTTL: time.Duration(cfg.Cache.TTL) * time.Second,
	}

	if cfg.Cache.Type == "redis" {
		cacheConfig.RedisAddr = cfg.Cache.Address
		cacheConfig.RedisPassword = cfg.Cache.Password
		cacheConfig.RedisDB = cfg.Cache.DB
	}

	return cache.NewCache(cacheConfig)
}

// setupTaskQueue 设置任务队列
func setupTaskQueue(cfg *appconfig.Config, logger *logrus.Logger) (taskqueue.Queue, error) {
	queueConfig := &taskqueue.Config{
		RedisAddr:     cfg.Queue.RedisAddr,
		RedisPassword: cfg.Queue.RedisPassword,
		RedisDB:       cfg.Queue.RedisDB,
		Concurrency:   cfg.Queue.Concurrency,
		RetryLimit:    cfg.Queue.RetryLimit,
		RetryDelay:    time.Duration(cfg.Queue.RetryDelay) * time.Second,
	}

	logger.WithFields(logrus.Fields{
		"type":        cfg.Queue.Type,
		"redis_addr":  cfg.Queue.RedisAddr,
		"concurrency": cfg.Queue.Concurrency,
		"retry_limit": cfg.Queue.RetryLimit,
	}).Info("Setting up task queue")

	return taskqueue.NewQueue(cfg.Queue.Type, queueConfig)
}

// setupWorker 创建并启动任务处理Worker
// Worker与API服务运行在同一进程内，消费队列中的流水线和应答生成任务
func setupWorker(
	cfg *appconfig.Config,
	queue taskqueue.Queue,
	pipeline *services.Pipeline,
	responses *services.ResponseService,
	knowledge *services.KnowledgeBaseService,
	logger *logrus.Logger,
) (taskqueue.Worker, error) {
	redisQueue, ok := queue.(*taskqueue.RedisQueue)
	if !ok {
		return nil, fmt.Errorf("task worker requires a redis queue, got %T", queue)
	}

	processor := services.NewTaskProcessor(pipeline, responses, knowledge, queue, logger)

	queueConfig := &taskqueue.Config{
		RedisAddr:     cfg.Queue.RedisAddr,
		RedisPassword: cfg.Queue.RedisPassword,
		RedisDB:       cfg.Queue.RedisDB,
		Concurrency:   cfg.Queue.Concurrency,
		RetryLimit:    cfg.Queue.RetryLimit,
		RetryDelay:    time.Duration(cfg.Queue.RetryDelay) * time.Second,
	}

	worker := taskqueue.NewRedisWorker(redisQueue, queueConfig)
	for _, taskType := range processor.GetTaskTypes() {
		worker.RegisterHandler(taskType, processor)
	}

	if err := worker.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %v", err)
	}

	logger.Info("Task worker started")
	return worker, nil
}
