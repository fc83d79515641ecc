package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// 任务数据键前缀
	taskKeyPrefix = "task:"
	// 文档任务集合键前缀
	documentTasksKeyPrefix = "document_tasks:"
	// 任务状态变更的发布/订阅频道前缀
	taskStatusChannelPrefix = "task_status:"
	// 任务数据保留7天，覆盖一次完整的投标周期
	defaultTaskExpiry = 7 * 24 * time.Hour
)

// taskKey 任务数据在Redis中的键
func taskKey(taskID string) string {
	return taskKeyPrefix + taskID
}

// documentTasksKey 文档关联任务集合的键
func documentTasksKey(documentID string) string {
	return documentTasksKeyPrefix + documentID
}

// taskStatusChannel 任务状态变更通知频道
func taskStatusChannel(taskID string) string {
	return taskStatusChannelPrefix + taskID
}

// RedisQueue 基于asynq和Redis的任务队列实现
// asynq负责投递和重试，任务的状态与结果另存于Redis供API查询
type RedisQueue struct {
	client      *asynq.Client    // 任务投递
	inspector   *asynq.Inspector // 队列内未处理任务的删除
	redisClient *redis.Client    // 任务状态与结果存储
	cfg         *Config
	logger      *logrus.Logger
}

// NewRedisQueue 创建Redis任务队列实例
func NewRedisQueue(cfg *Config) (Queue, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &RedisQueue{
		client:      asynq.NewClient(redisOpt),
		inspector:   asynq.NewInspector(redisOpt),
		redisClient: redisClient,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// Enqueue 将任务加入队列，按任务类型路由到对应优先级队列
func (q *RedisQueue) Enqueue(ctx context.Context, taskType TaskType, documentID string, payload interface{}) (string, error) {
	return q.enqueue(ctx, taskType, documentID, payload)
}

// EnqueueAt 在指定时间将任务加入队列
func (q *RedisQueue) EnqueueAt(ctx context.Context, taskType TaskType, documentID string, payload interface{}, processAt time.Time) (string, error) {
	return q.enqueue(ctx, taskType, documentID, payload, asynq.ProcessAt(processAt))
}

// EnqueueIn 在指定延迟后将任务加入队列
func (q *RedisQueue) EnqueueIn(ctx context.Context, taskType TaskType, documentID string, payload interface{}, delay time.Duration) (string, error) {
	return q.enqueue(ctx, taskType, documentID, payload, asynq.ProcessIn(delay))
}

// enqueue 创建任务记录并投递到asynq
// asynq任务的负载只携带任务ID，任务数据保存在Redis里
func (q *RedisQueue) enqueue(ctx context.Context, taskType TaskType, documentID string, payload interface{}, opts ...asynq.Option) (string, error) {
	taskID := uuid.New().String()

	payloadBytes, err := MarshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := &Task{
		ID:         taskID,
		Type:       taskType,
		DocumentID: documentID,
		Status:     StatusPending,
		Payload:    payloadBytes,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
		MaxRetries: q.cfg.RetryLimit,
	}

	if err := q.persistTask(ctx, task); err != nil {
		return "", fmt.Errorf("failed to save task to redis: %w", err)
	}

	queueName := QueueForTaskType(taskType)
	opts = append(opts, asynq.Queue(queueName))

	asynqTask := asynq.NewTask(string(taskType), []byte(taskID))
	if _, err := q.client.EnqueueContext(ctx, asynqTask, opts...); err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.logger.WithFields(logrus.Fields{
		"task_id":     taskID,
		"task_type":   taskType,
		"document_id": documentID,
		"queue":       queueName,
	}).Info("Task enqueued successfully")

	return taskID, nil
}

// GetTask 获取任务信息
func (q *RedisQueue) GetTask(ctx context.Context, taskID string) (*Task, error) {
	data, err := q.redisClient.Get(ctx, taskKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task from redis: %w", err)
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task data: %w", err)
	}

	return &task, nil
}

// GetTasksByDocument 获取文档相关的所有任务
func (q *RedisQueue) GetTasksByDocument(ctx context.Context, documentID string) ([]*Task, error) {
	taskIDs, err := q.redisClient.SMembers(ctx, documentTasksKey(documentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get document tasks: %w", err)
	}

	tasks := make([]*Task, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			if errors.Is(err, ErrTaskNotFound) {
				// 任务数据已过期，集合里的ID是残留
				continue
			}
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

// WaitForTask 等待任务完成并返回结果
// 订阅状态变更通知，同时每秒轮询一次兜底
func (q *RedisQueue) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*Task, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status == StatusCompleted || task.Status == StatusFailed {
		return task, nil
	}

	pubsub := q.redisClient.Subscribe(ctx, taskStatusChannel(taskID))
	defer pubsub.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ErrTaskTimeout
		case <-ticker.C:
			task, err := q.GetTask(ctx, taskID)
			if err != nil {
				return nil, err
			}
			if task.Status == StatusCompleted || task.Status == StatusFailed {
				return task, nil
			}
		}
	}
}

// DeleteTask 删除任务
func (q *RedisQueue) DeleteTask(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if task.DocumentID != "" {
		if err := q.redisClient.SRem(ctx, documentTasksKey(task.DocumentID), taskID).Err(); err != nil {
			return fmt.Errorf("failed to remove task from document tasks: %w", err)
		}
	}

	if err := q.redisClient.Del(ctx, taskKey(taskID)).Err(); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	// 任务尚未被消费时从asynq队列撤下，按任务类型找到所在队列
	// 已在处理中的任务无法撤回，失败只记录日志
	if err := q.inspector.DeleteTask(QueueForTaskType(task.Type), taskID); err != nil {
		q.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to delete task from asynq queue")
	}

	return nil
}

// UpdateTaskStatus 更新任务状态
// result为nil时保留已有结果，errMsg为空时保留已有错误信息
func (q *RedisQueue) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, result interface{}, errMsg string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	task.Status = status
	task.UpdatedAt = time.Now()

	if status == StatusProcessing && task.StartedAt == nil {
		now := time.Now()
		task.StartedAt = &now
	}

	if status == StatusCompleted || status == StatusFailed {
		now := time.Now()
		task.CompletedAt = &now
	}

	if result != nil {
		resultBytes, err := MarshalPayload(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		task.Result = resultBytes
	}

	if errMsg != "" {
		task.Error = errMsg
	}

	return q.persistTask(ctx, task)
}

// NotifyTaskUpdate 通知任务状态更新
func (q *RedisQueue) NotifyTaskUpdate(ctx context.Context, taskID string) error {
	return q.redisClient.Publish(ctx, taskStatusChannel(taskID), "updated").Err()
}

// Close 关闭队列连接
func (q *RedisQueue) Close() error {
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.redisClient.Close()
}

// persistTask 保存任务数据并维护文档任务集合
func (q *RedisQueue) persistTask(ctx context.Context, task *Task) error {
	taskData, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := q.redisClient.Set(ctx, taskKey(task.ID), taskData, defaultTaskExpiry).Err(); err != nil {
		return fmt.Errorf("failed to save task data: %w", err)
	}

	if task.DocumentID != "" {
		docKey := documentTasksKey(task.DocumentID)
		if err := q.redisClient.SAdd(ctx, docKey, task.ID).Err(); err != nil {
			return fmt.Errorf("failed to add task to document tasks: %w", err)
		}
		q.redisClient.Expire(ctx, docKey, defaultTaskExpiry)
	}

	return nil
}

// RedisWorker 基于asynq服务器的工作者实现
type RedisWorker struct {
	server   *asynq.Server
	queue    *RedisQueue
	handlers map[TaskType]Handler
	logger   *logrus.Logger
}

// NewRedisWorker 创建Redis工作者
func NewRedisWorker(queue *RedisQueue, cfg *Config) Worker {
	if cfg == nil {
		cfg = queue.cfg
	}

	serverConfig := asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      cfg.Queues,
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return cfg.RetryDelay
		},
		Logger: queue.logger,
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		serverConfig,
	)

	return &RedisWorker{
		server:   server,
		queue:    queue,
		handlers: make(map[TaskType]Handler),
		logger:   queue.logger,
	}
}

// RegisterHandler 注册任务处理器
func (w *RedisWorker) RegisterHandler(taskType TaskType, handler Handler) {
	w.handlers[taskType] = handler
}

// Start 启动工作者
// asynq任务负载里只有任务ID，真正的任务数据从Redis取回后交给Handler
func (w *RedisWorker) Start() error {
	mux := asynq.NewServeMux()

	for taskType, handler := range w.handlers {
		h := handler

		mux.HandleFunc(string(taskType), func(ctx context.Context, asynqTask *asynq.Task) error {
			taskID := string(asynqTask.Payload())

			task, err := w.queue.GetTask(ctx, taskID)
			if err != nil {
				w.logger.WithError(err).WithField("task_id", taskID).Error("Failed to get task info")
				return err
			}

			if err := w.queue.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, ""); err != nil {
				w.logger.WithError(err).WithField("task_id", taskID).Error("Failed to update task status to processing")
			}
			w.queue.NotifyTaskUpdate(ctx, taskID)

			if err := h.ProcessTask(ctx, task); err != nil {
				if updateErr := w.queue.UpdateTaskStatus(ctx, taskID, StatusFailed, nil, err.Error()); updateErr != nil {
					w.logger.WithError(updateErr).WithField("task_id", taskID).Error("Failed to update task status after failure")
				}
				w.queue.NotifyTaskUpdate(ctx, taskID)
				return err
			}

			if err := w.queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, nil, ""); err != nil {
				w.logger.WithError(err).WithField("task_id", taskID).Error("Failed to update task status after completion")
			}
			w.queue.NotifyTaskUpdate(ctx, taskID)
			return nil
		})

		w.logger.WithField("task_type", taskType).Info("Registered handler for task type")
	}

	return w.server.Start(mux)
}

// Stop 停止工作者
func (w *RedisWorker) Stop() {
	w.server.Shutdown()
}

var queueFactories = make(map[string]Factory)

// RegisterQueueFactory 注册队列工厂函数
func RegisterQueueFactory(name string, factory Factory) {
	queueFactories[name] = factory
}

// NewQueue 根据名称创建队列实例
func NewQueue(name string, cfg *Config) (Queue, error) {
	factory, exists := queueFactories[name]
	if !exists {
		return nil, fmt.Errorf("unknown queue implementation: %s", name)
	}
	return factory(cfg)
}

func init() {
	RegisterQueueFactory("redis", func(cfg *Config) (Queue, error) {
		return NewRedisQueue(cfg)
	})
}
