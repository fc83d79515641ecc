package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisTest 设置一个miniredis实例用于测试
// 返回Redis地址和一个清理函数
func setupRedisTest(t *testing.T) (string, func()) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	return mr.Addr(), func() {
		mr.Close()
	}
}

func newTestQueue(t *testing.T) (Queue, func()) {
	t.Helper()

	redisAddr, cleanup := setupRedisTest(t)

	cfg := &Config{
		RedisAddr:   redisAddr,
		Concurrency: 2,
		RetryLimit:  2,
		RetryDelay:  time.Second,
	}

	queue, err := NewRedisQueue(cfg)
	require.NoError(t, err)

	return queue, func() {
		queue.Close()
		cleanup()
	}
}

// TestNewRedisQueue 测试创建Redis队列实例
func TestNewRedisQueue(t *testing.T) {
	redisAddr, cleanup := setupRedisTest(t)
	defer cleanup()

	cfg := &Config{
		RedisAddr:   redisAddr,
		Concurrency: 2,
		RetryLimit:  2,
		RetryDelay:  time.Second,
	}

	queue, err := NewRedisQueue(cfg)
	assert.NoError(t, err)
	assert.NotNil(t, queue)

	err = queue.Close()
	assert.NoError(t, err)
}

// TestRedisQueue_Enqueue 测试队列入队功能
func TestRedisQueue_Enqueue(t *testing.T) {
	queue, cleanup := newTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	payload := &ProcessDocumentPayload{
		DocumentID: "doc-123",
		FilePath:   "/path/to/tender.pdf",
		FileName:   "tender.pdf",
		FileType:   "pdf",
	}

	taskID, err := queue.Enqueue(ctx, TaskProcessDocument, "doc-123", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	// 验证任务已保存
	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, taskID, task.ID)
	assert.Equal(t, TaskProcessDocument, task.Type)
	assert.Equal(t, "doc-123", task.DocumentID)
	assert.Equal(t, StatusPending, task.Status)
}

// TestRedisQueue_EnqueueAt 测试定时任务入队
func TestRedisQueue_EnqueueAt(t *testing.T) {
	queue, cleanup := newTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	payload := &RebuildIndexPayload{TenantID: "tenant-a"}

	processAt := time.Now().Add(time.Hour)
	taskID, err := queue.EnqueueAt(ctx, TaskRebuildIndex, "", payload, processAt)
	require.NoError(t, err)

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, TaskRebuildIndex, task.Type)
	assert.Equal(t, StatusPending, task.Status)
}

// TestRedisQueue_EnqueueIn 测试延迟任务入队
func TestRedisQueue_EnqueueIn(t *testing.T) {
	queue, cleanup := newTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	payload := &GenerateBatchPayload{DocumentID: "doc-456"}

	taskID, err := queue.EnqueueIn(ctx, TaskGenerateBatch, "doc-456", payload, time.Minute)
	require.NoError(t, err)

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, TaskGenerateBatch, task.Type)
	assert.Equal(t, "doc-456", task.DocumentID)
}

// TestRedisQueue_GetTasksByDocument 测试按文档查询任务
func TestRedisQueue_GetTasksByDocument(t *testing.T) {
	queue, cleanup := newTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	documentID := "doc-789"

	payloads := []interface{}{
		&ProcessDocumentPayload{DocumentID: documentID, FileName: "tender.pdf", FileType: "pdf"},
		&GenerateBatchPayload{DocumentID: documentID},
		&GenerateResponsePayload{DocumentID: documentID, RequirementID: "req-1"},
	}
	taskTypes := []TaskType{
		TaskProcessDocument,
		TaskGenerateBatch,
		TaskGenerateResponse,
	}

	for i, payload := range payloads {
		_, err := queue.Enqueue(ctx, taskTypes[i], documentID, payload)
		require.NoError(t, err)
	}

	// 另一个文档的任务不应出现在结果中
	_, err := queue.Enqueue(ctx, TaskProcessDocument, "other-doc", &ProcessDocumentPayload{DocumentID: "other-doc"})
	require.NoError(t, err)

	tasks, err := queue.GetTasksByDocument(ctx, documentID)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, documentID, task.DocumentID)
	}
}

// TestRedisQueue_UpdateTaskStatus 测试任务状态更新
func TestRedisQueue_UpdateTaskStatus(t *testing.T) {
	queue, cleanup := newTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	payload := &ProcessDocumentPayload{DocumentID: "doc-status", FileName: "tender.pdf", FileType: "pdf"}

	taskID, err := queue.Enqueue(ctx, TaskProcessDocument, "doc-status", payload)
	require.NoError(t, err)

	// 更新为处理中
	err = queue.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, "")
	require.NoError(t, err)

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, task.Status)
	assert.NotNil(t, task.StartedAt, "StartedAt should be set when processing")

	// 更新为完成并写入结果
	result := &ProcessDocumentResult{
		DocumentID:       "doc-status",
		RequirementCount: 12,
		MatchedCount:     9,
		OverallMatch:     74.5,
	}
	err = queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, result, "")
	require.NoError(t, err)

	task, err = queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.NotNil(t, task.CompletedAt, "CompletedAt should be set when completed")
	assert.NotEmpty(t, task.Result, "Result should be stored")

	// nil结果不应覆盖已保存的结果
	err = queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, nil, "")
	require.NoError(t, err)

	task, err = queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.NotEmpty(t, task.Result, "Stored result should survive nil updates")
}

// TestRedisQueue_FailedTask 测试失败任务的错误信息
func TestRedisQueue_FailedTask(t *testing.T) {
	queue, cleanup := newTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	taskID, err := queue.Enqueue(ctx, TaskProcessDocument, "doc-fail", &ProcessDocumentPayload{DocumentID: "doc-fail"})
	require.NoError(t, err)

	err = queue.UpdateTaskStatus(ctx, taskID, StatusFailed, nil, "failed to parse document")
	require.NoError(t, err)

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, "failed to parse document", task.Error)
}

// TestRedisQueue_DeleteTask 测试任务删除
func TestRedisQueue_DeleteTask(t *testing.T) {
	queue, cleanup := newTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	taskID, err := queue.Enqueue(ctx, TaskGenerateResponse, "doc-del", &GenerateResponsePayload{
		DocumentID:    "doc-del",
		RequirementID: "req-del",
	})
	require.NoError(t, err)

	err = queue.DeleteTask(ctx, taskID)
	require.NoError(t, err)

	_, err = queue.GetTask(ctx, taskID)
	assert.Error(t, err, "Deleted task should not be retrievable")
}

// TestRedisQueue_WaitForTask 测试等待任务完成
func TestRedisQueue_WaitForTask(t *testing.T) {
	queue, cleanup := newTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	taskID, err := queue.Enqueue(ctx, TaskProcessDocument, "doc-wait", &ProcessDocumentPayload{DocumentID: "doc-wait"})
	require.NoError(t, err)

	// 在后台完成任务
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = queue.UpdateTaskStatus(context.Background(), taskID, StatusCompleted, nil, "")
		_ = queue.NotifyTaskUpdate(context.Background(), taskID)
	}()

	task, err := queue.WaitForTask(ctx, taskID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
}

// TestRedisQueue_WaitForTaskTimeout 测试等待超时
func TestRedisQueue_WaitForTaskTimeout(t *testing.T) {
	queue, cleanup := newTestQueue(t)
	defer cleanup()

	ctx := context.Background()
	taskID, err := queue.Enqueue(ctx, TaskProcessDocument, "doc-timeout", &ProcessDocumentPayload{DocumentID: "doc-timeout"})
	require.NoError(t, err)

	// 任务永远不会完成
	_, err = queue.WaitForTask(ctx, taskID, 300*time.Millisecond)
	assert.Error(t, err, "Waiting for an unfinished task should time out")
}

// TestQueueForTaskType 测试任务类型到优先级队列的路由
func TestQueueForTaskType(t *testing.T) {
	assert.Equal(t, QueueCritical, QueueForTaskType(TaskProcessDocument))
	assert.Equal(t, QueueDefault, QueueForTaskType(TaskGenerateResponse))
	assert.Equal(t, QueueDefault, QueueForTaskType(TaskGenerateBatch))
	assert.Equal(t, QueueLow, QueueForTaskType(TaskRebuildIndex))

	// 未知类型进默认队列
	assert.Equal(t, QueueDefault, QueueForTaskType(TaskType("unknown")))

	// 每个路由目标都要在默认配置的队列表里
	cfg := DefaultConfig()
	for _, taskType := range []TaskType{TaskProcessDocument, TaskGenerateResponse, TaskGenerateBatch, TaskRebuildIndex} {
		_, ok := cfg.Queues[QueueForTaskType(taskType)]
		assert.True(t, ok, "queue for %s missing from default config", taskType)
	}
}

// TestRedisQueue_EnqueueRoutesByPriority 测试不同类型任务各自入队成功
func TestRedisQueue_EnqueueRoutesByPriority(t *testing.T) {
	queue, cleanup := newTestQueue(t)
	defer cleanup()

	ctx := context.Background()

	pipelineID, err := queue.Enqueue(ctx, TaskProcessDocument, "doc-route-1", nil)
	require.NoError(t, err)

	rebuildID, err := queue.Enqueue(ctx, TaskRebuildIndex, "", nil)
	require.NoError(t, err)

	pipelineTask, err := queue.GetTask(ctx, pipelineID)
	require.NoError(t, err)
	assert.Equal(t, TaskProcessDocument, pipelineTask.Type)

	rebuildTask, err := queue.GetTask(ctx, rebuildID)
	require.NoError(t, err)
	assert.Equal(t, TaskRebuildIndex, rebuildTask.Type)
}
