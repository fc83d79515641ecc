package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue 内存实现的任务队列，用于回调处理测试
type fakeQueue struct {
	tasks        map[string]*Task
	notified     []string
	statusCalls  int
	failUpdate   bool
	nextTaskID   int
	lastStatus   TaskStatus
	lastErrorMsg string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{tasks: make(map[string]*Task)}
}

func (f *fakeQueue) addTask(taskType TaskType, documentID string) *Task {
	f.nextTaskID++
	task := &Task{
		ID:         fmt.Sprintf("task-%d", f.nextTaskID),
		Type:       taskType,
		DocumentID: documentID,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	f.tasks[task.ID] = task
	return task
}

func (f *fakeQueue) Enqueue(ctx context.Context, taskType TaskType, documentID string, payload interface{}) (string, error) {
	task := f.addTask(taskType, documentID)
	return task.ID, nil
}

func (f *fakeQueue) EnqueueAt(ctx context.Context, taskType TaskType, documentID string, payload interface{}, processAt time.Time) (string, error) {
	return f.Enqueue(ctx, taskType, documentID, payload)
}

func (f *fakeQueue) EnqueueIn(ctx context.Context, taskType TaskType, documentID string, payload interface{}, delay time.Duration) (string, error) {
	return f.Enqueue(ctx, taskType, documentID, payload)
}

func (f *fakeQueue) GetTask(ctx context.Context, taskID string) (*Task, error) {
	task, ok := f.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	return task, nil
}

func (f *fakeQueue) GetTasksByDocument(ctx context.Context, documentID string) ([]*Task, error) {
	var result []*Task
	for _, task := range f.tasks {
		if task.DocumentID == documentID {
			result = append(result, task)
		}
	}
	return result, nil
}

func (f *fakeQueue) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*Task, error) {
	return f.GetTask(ctx, taskID)
}

func (f *fakeQueue) DeleteTask(ctx context.Context, taskID string) error {
	delete(f.tasks, taskID)
	return nil
}

func (f *fakeQueue) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, result interface{}, errMsg string) error {
	if f.failUpdate {
		return fmt.Errorf("update failed")
	}
	task, ok := f.tasks[taskID]
	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	f.statusCalls++
	f.lastStatus = status
	f.lastErrorMsg = errMsg
	task.Status = status
	task.Error = errMsg
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		task.Result = data
	}
	return nil
}

func (f *fakeQueue) NotifyTaskUpdate(ctx context.Context, taskID string) error {
	f.notified = append(f.notified, taskID)
	return nil
}

func (f *fakeQueue) Close() error { return nil }

func newTestProcessor(t *testing.T) (*CallbackProcessor, *fakeQueue) {
	t.Helper()

	queue := newFakeQueue()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	return NewCallbackProcessor(queue, logger), queue
}

func marshalCallback(t *testing.T, callback *TaskCallback) []byte {
	t.Helper()

	data, err := json.Marshal(callback)
	require.NoError(t, err)
	return data
}

func TestNewCallbackProcessor(t *testing.T) {
	processor, _ := newTestProcessor(t)
	assert.NotNil(t, processor)
	assert.Empty(t, processor.GetRegisteredHandlerTypes())

	// logger为nil时应使用默认logger
	processor = NewCallbackProcessor(newFakeQueue(), nil)
	assert.NotNil(t, processor)
}

func TestRegisterHandler(t *testing.T) {
	processor, _ := newTestProcessor(t)

	processor.RegisterHandler(TaskProcessDocument, func(ctx context.Context, task *Task, result json.RawMessage) error {
		return nil
	})

	types := processor.GetRegisteredHandlerTypes()
	assert.True(t, types[TaskProcessDocument])
	assert.False(t, types[TaskGenerateResponse])
}

func TestProcessCallback(t *testing.T) {
	processor, queue := newTestProcessor(t)
	ctx := context.Background()

	task := queue.addTask(TaskProcessDocument, "doc-1")

	var handledTaskID string
	var handledResult ProcessDocumentResult
	processor.RegisterHandler(TaskProcessDocument, func(ctx context.Context, task *Task, result json.RawMessage) error {
		handledTaskID = task.ID
		return json.Unmarshal(result, &handledResult)
	})

	resultData, err := json.Marshal(&ProcessDocumentResult{
		DocumentID:       "doc-1",
		RequirementCount: 8,
		MatchedCount:     5,
		OverallMatch:     62.5,
	})
	require.NoError(t, err)

	callbackData := marshalCallback(t, &TaskCallback{
		TaskID:     task.ID,
		DocumentID: "doc-1",
		Status:     StatusCompleted,
		Type:       TaskProcessDocument,
		Result:     resultData,
		Timestamp:  time.Now(),
	})

	err = processor.ProcessCallback(ctx, callbackData)
	require.NoError(t, err)

	assert.Equal(t, task.ID, handledTaskID)
	assert.Equal(t, 8, handledResult.RequirementCount)
	assert.Equal(t, StatusCompleted, queue.lastStatus)
	assert.Contains(t, queue.notified, task.ID)
}

func TestProcessCallbackInvalidData(t *testing.T) {
	processor, _ := newTestProcessor(t)

	err := processor.ProcessCallback(context.Background(), []byte("not json"))
	assert.Error(t, err)
}

func TestProcessCallbackTaskNotFound(t *testing.T) {
	processor, _ := newTestProcessor(t)

	callbackData := marshalCallback(t, &TaskCallback{
		TaskID: "missing-task",
		Status: StatusCompleted,
		Type:   TaskProcessDocument,
	})

	err := processor.ProcessCallback(context.Background(), callbackData)
	assert.Error(t, err)
}

func TestProcessCallbackFailedTask(t *testing.T) {
	processor, queue := newTestProcessor(t)
	ctx := context.Background()

	task := queue.addTask(TaskGenerateBatch, "doc-2")

	handlerCalled := false
	processor.RegisterHandler(TaskGenerateBatch, func(ctx context.Context, task *Task, result json.RawMessage) error {
		handlerCalled = true
		return nil
	})

	callbackData := marshalCallback(t, &TaskCallback{
		TaskID:     task.ID,
		DocumentID: "doc-2",
		Status:     StatusFailed,
		Type:       TaskGenerateBatch,
		Error:      "batch generation failed",
	})

	err := processor.ProcessCallback(ctx, callbackData)
	require.NoError(t, err)

	// 失败状态会被记录到任务上，处理函数照常接到回调
	assert.Equal(t, StatusFailed, queue.lastStatus)
	assert.Equal(t, "batch generation failed", queue.lastErrorMsg)
	assert.True(t, handlerCalled)
}

func TestProcessCallbackDefaultHandler(t *testing.T) {
	processor, queue := newTestProcessor(t)
	ctx := context.Background()

	task := queue.addTask(TaskRebuildIndex, "")

	defaultCalled := false
	processor.SetDefaultHandler(func(ctx context.Context, task *Task, result json.RawMessage) error {
		defaultCalled = true
		return nil
	})

	callbackData := marshalCallback(t, &TaskCallback{
		TaskID: task.ID,
		Status: StatusCompleted,
		Type:   TaskRebuildIndex,
	})

	err := processor.ProcessCallback(ctx, callbackData)
	require.NoError(t, err)
	assert.True(t, defaultCalled)
}

func TestProcessCallbackNoHandler(t *testing.T) {
	processor, queue := newTestProcessor(t)
	ctx := context.Background()

	task := queue.addTask(TaskGenerateResponse, "doc-3")

	callbackData := marshalCallback(t, &TaskCallback{
		TaskID:     task.ID,
		DocumentID: "doc-3",
		Status:     StatusCompleted,
		Type:       TaskGenerateResponse,
	})

	// 没有注册任何处理函数时不应报错
	err := processor.ProcessCallback(ctx, callbackData)
	assert.NoError(t, err)
}

func TestHandleCallback(t *testing.T) {
	processor, queue := newTestProcessor(t)
	ctx := context.Background()

	task := queue.addTask(TaskGenerateResponse, "doc-4")

	resultData, err := json.Marshal(&GenerateResponseResult{
		ResponseID:    "resp-1",
		RequirementID: "req-1",
		AIPercentage:  25.0,
		KBPercentage:  75.0,
		GatePassed:    true,
	})
	require.NoError(t, err)

	req := &CallbackRequest{
		TaskID:     task.ID,
		DocumentID: "doc-4",
		Status:     StatusCompleted,
		Type:       TaskGenerateResponse,
		Result:     resultData,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	resp, err := processor.HandleCallback(ctx, req)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, task.ID, resp.TaskID)
	assert.NotEmpty(t, resp.Timestamp)
}

func TestHandleCallbackTimestampFormats(t *testing.T) {
	processor, queue := newTestProcessor(t)
	ctx := context.Background()

	timestamps := []string{
		"2026-08-29T10:30:00Z",
		"2026-08-29T10:30:00.123456",
		"2026-08-29T10:30:00",
		"not-a-timestamp", // 解析失败时回退到当前时间
		"",
	}

	for _, ts := range timestamps {
		task := queue.addTask(TaskProcessDocument, "doc-ts")
		req := &CallbackRequest{
			TaskID:    task.ID,
			Status:    StatusCompleted,
			Type:      TaskProcessDocument,
			Timestamp: ts,
		}

		resp, err := processor.HandleCallback(ctx, req)
		require.NoError(t, err, "timestamp %q should not fail the callback", ts)
		assert.True(t, resp.Success)
	}
}

func TestHandleCallbackProcessError(t *testing.T) {
	processor, queue := newTestProcessor(t)
	ctx := context.Background()

	task := queue.addTask(TaskProcessDocument, "doc-5")
	queue.failUpdate = true

	req := &CallbackRequest{
		TaskID: task.ID,
		Status: StatusCompleted,
		Type:   TaskProcessDocument,
	}

	resp, err := processor.HandleCallback(ctx, req)
	assert.Error(t, err)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Message)
}

func TestRegisterDefaultHandlers(t *testing.T) {
	processor, queue := newTestProcessor(t)

	processor.RegisterDefaultHandlers(queue)

	types := processor.GetRegisteredHandlerTypes()
	assert.True(t, types[TaskProcessDocument])
	assert.True(t, types[TaskGenerateResponse])
	assert.True(t, types[TaskGenerateBatch])
	assert.True(t, types[TaskRebuildIndex])
}

func TestDefaultHandlersProcessResults(t *testing.T) {
	processor, queue := newTestProcessor(t)
	ctx := context.Background()

	processor.RegisterDefaultHandlers(queue)

	cases := []struct {
		taskType TaskType
		result   interface{}
	}{
		{TaskProcessDocument, &ProcessDocumentResult{DocumentID: "doc-a", RequirementCount: 3, MatchedCount: 2, OverallMatch: 80}},
		{TaskGenerateResponse, &GenerateResponseResult{ResponseID: "resp-a", RequirementID: "req-a", AIPercentage: 30, GatePassed: true}},
		{TaskGenerateBatch, &GenerateBatchResult{DocumentID: "doc-a", Generated: 3, Failed: 0}},
		{TaskRebuildIndex, &RebuildIndexResult{TenantID: "tenant-a", ItemCount: 42}},
	}

	for _, tc := range cases {
		task := queue.addTask(tc.taskType, "doc-a")
		resultData, err := json.Marshal(tc.result)
		require.NoError(t, err)

		callbackData := marshalCallback(t, &TaskCallback{
			TaskID:     task.ID,
			DocumentID: "doc-a",
			Status:     StatusCompleted,
			Type:       tc.taskType,
			Result:     resultData,
		})

		err = processor.ProcessCallback(ctx, callbackData)
		assert.NoError(t, err, "default handler for %s should accept its result", tc.taskType)
	}

	// 结果格式错误时默认处理函数应报错
	task := queue.addTask(TaskProcessDocument, "doc-b")
	callbackData := marshalCallback(t, &TaskCallback{
		TaskID:     task.ID,
		DocumentID: "doc-b",
		Status:     StatusCompleted,
		Type:       TaskProcessDocument,
		Result:     json.RawMessage(`"not an object"`),
	})

	err := processor.ProcessCallback(ctx, callbackData)
	assert.Error(t, err)
}
