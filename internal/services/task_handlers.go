package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/tender-response-system/internal/composer"
	"github.com/fyerfyer/tender-response-system/internal/detector"
	"github.com/fyerfyer/tender-response-system/pkg/taskqueue"
)

// TaskProcessor 任务队列的处理器实现
// 在Worker进程内执行文档流水线、应答生成和索引重建任务
type TaskProcessor struct {
	pipeline  *Pipeline             // 文档处理流水线
	responses *ResponseService      // 应答生成服务
	knowledge *KnowledgeBaseService // 知识库服务
	queue     taskqueue.Queue       // 任务队列，用于写回任务结果
	logger    *logrus.Logger        // 日志记录器
}

// NewTaskProcessor 创建任务处理器
func NewTaskProcessor(
	pipeline *Pipeline,
	responses *ResponseService,
	knowledge *KnowledgeBaseService,
	queue taskqueue.Queue,
	logger *logrus.Logger,
) *TaskProcessor {
	if logger == nil {
		logger = logrus.New()
	}

	return &TaskProcessor{
		pipeline:  pipeline,
		responses: responses,
		knowledge: knowledge,
		queue:     queue,
		logger:    logger,
	}
}

// GetTaskTypes 返回此处理器支持的任务类型
func (p *TaskProcessor) GetTaskTypes() []taskqueue.TaskType {
	return []taskqueue.TaskType{
		taskqueue.TaskProcessDocument,
		taskqueue.TaskGenerateResponse,
		taskqueue.TaskGenerateBatch,
		taskqueue.TaskRebuildIndex,
	}
}

// ProcessTask 按任务类型分发执行
func (p *TaskProcessor) ProcessTask(ctx context.Context, task *taskqueue.Task) error {
	p.logger.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"task_type":   task.Type,
		"document_id": task.DocumentID,
	}).Info("Processing task")

	switch task.Type {
	case taskqueue.TaskProcessDocument:
		return p.processDocument(ctx, task)
	case taskqueue.TaskGenerateResponse:
		return p.generateResponse(ctx, task)
	case taskqueue.TaskGenerateBatch:
		return p.generateBatch(ctx, task)
	case taskqueue.TaskRebuildIndex:
		return p.rebuildIndex(ctx, task)
	default:
		return fmt.Errorf("unsupported task type: %s", task.Type)
	}
}

// processDocument 执行文档处理流水线任务
func (p *TaskProcessor) processDocument(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.ProcessDocumentPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	result, err := p.pipeline.Process(ctx, payload.DocumentID)
	if err != nil {
		// 流水线内部已将文档置为ERROR，任务状态由Worker框架更新
		return err
	}

	p.storeResult(ctx, task.ID, taskqueue.ProcessDocumentResult{
		DocumentID:       result.DocumentID,
		RequirementCount: result.RequirementCount,
		MatchedCount:     result.MatchedCount,
		OverallMatch:     result.OverallMatch,
	})
	return nil
}

// generateResponse 执行单条应答生成任务
func (p *TaskProcessor) generateResponse(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.GenerateResponsePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	resp, err := p.responses.GenerateForRequirement(ctx, payload.RequirementID, composeOptionsFromPayload(payload.Style, payload.Mode, payload.Tone))
	if err != nil {
		return err
	}

	p.storeResult(ctx, task.ID, taskqueue.GenerateResponseResult{
		ResponseID:    resp.ID,
		RequirementID: resp.RequirementID,
		AIPercentage:  resp.AIPercentage,
		KBPercentage:  resp.KBPercentage,
		GatePassed:    resp.GatePassed,
	})
	return nil
}

// generateBatch 执行批量应答生成任务
func (p *TaskProcessor) generateBatch(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.GenerateBatchPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	result, err := p.responses.GenerateForDocument(ctx, payload.DocumentID, composeOptionsFromPayload(payload.Style, payload.Mode, payload.Tone))
	if err != nil {
		return err
	}

	p.storeResult(ctx, task.ID, taskqueue.GenerateBatchResult{
		DocumentID: result.DocumentID,
		Generated:  result.Generated,
		Failed:     result.Failed,
	})
	return nil
}

// rebuildIndex 执行知识库索引重建任务
func (p *TaskProcessor) rebuildIndex(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.RebuildIndexPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	count, err := p.knowledge.SyncIndex(ctx, payload.TenantID)
	if err != nil {
		return err
	}

	p.storeResult(ctx, task.ID, taskqueue.RebuildIndexResult{
		TenantID:  payload.TenantID,
		ItemCount: count,
	})
	return nil
}

// storeResult 将任务结果写回队列
// Worker框架随后把状态置为完成时会保留已写入的结果
func (p *TaskProcessor) storeResult(ctx context.Context, taskID string, result interface{}) {
	if p.queue == nil {
		return
	}

	if err := p.queue.UpdateTaskStatus(ctx, taskID, taskqueue.StatusProcessing, result, ""); err != nil {
		p.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to store task result")
	}
}

// composeOptionsFromPayload 将任务载荷中的风格参数转换为合成选项
// 空字段使用默认值
func composeOptionsFromPayload(style, mode, tone string) composer.ComposeOptions {
	opts := composer.DefaultComposeOptions()
	if style != "" {
		opts.Style = style
	}
	if mode != "" {
		opts.Mode = detectorIntensity(mode)
	}
	if tone != "" {
		opts.Tone = tone
	}
	return opts
}

// detectorIntensity 校验改写力度参数，未知值回落到均衡档
func detectorIntensity(mode string) detector.Intensity {
	switch detector.Intensity(mode) {
	case detector.IntensityLight, detector.IntensityBalanced, detector.IntensityAggressive:
		return detector.Intensity(mode)
	default:
		return detector.IntensityBalanced
	}
}
