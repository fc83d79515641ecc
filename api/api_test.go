package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fyerfyer/tender-response-system/api/handler"
	"github.com/fyerfyer/tender-response-system/api/model"
	"github.com/fyerfyer/tender-response-system/internal/composer"
	"github.com/fyerfyer/tender-response-system/internal/detector"
	"github.com/fyerfyer/tender-response-system/internal/extractor"
	"github.com/fyerfyer/tender-response-system/internal/matcher"
	"github.com/fyerfyer/tender-response-system/internal/models"
	"github.com/fyerfyer/tender-response-system/internal/repository"
	"github.com/fyerfyer/tender-response-system/internal/services"
	"github.com/fyerfyer/tender-response-system/internal/vectordb"
	"github.com/fyerfyer/tender-response-system/pkg/storage"
	"github.com/fyerfyer/tender-response-system/pkg/taskqueue"
)

const testEmbeddingDim = 8

// flatEmbedder 任何文本都返回同一个归一化向量，让检索结果稳定可预期
type flatEmbedder struct{}

func (f *flatEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, testEmbeddingDim)
	val := float32(1.0 / math.Sqrt(float64(testEmbeddingDim)))
	for i := range vec {
		vec[i] = val
	}
	return vec, nil
}

func (f *flatEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vec, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *flatEmbedder) Name() string    { return "flat" }
func (f *flatEmbedder) Dimensions() int { return testEmbeddingDim }

// stubQueue 内存任务队列，API测试里异步端点只验证入队行为
type stubQueue struct {
	tasks  map[string]*taskqueue.Task
	nextID int
}

func newStubQueue() *stubQueue {
	return &stubQueue{tasks: make(map[string]*taskqueue.Task)}
}

func (q *stubQueue) Enqueue(ctx context.Context, taskType taskqueue.TaskType, documentID string, payload interface{}) (string, error) {
	q.nextID++
	id := fmt.Sprintf("task-%d", q.nextID)
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	q.tasks[id] = &taskqueue.Task{
		ID:         id,
		Type:       taskType,
		DocumentID: documentID,
		Status:     taskqueue.StatusPending,
		Payload:    data,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	return id, nil
}

func (q *stubQueue) EnqueueAt(ctx context.Context, taskType taskqueue.TaskType, documentID string, payload interface{}, processAt time.Time) (string, error) {
	return q.Enqueue(ctx, taskType, documentID, payload)
}

func (q *stubQueue) EnqueueIn(ctx context.Context, taskType taskqueue.TaskType, documentID string, payload interface{}, delay time.Duration) (string, error) {
	return q.Enqueue(ctx, taskType, documentID, payload)
}

func (q *stubQueue) GetTask(ctx context.Context, taskID string) (*taskqueue.Task, error) {
	task, ok := q.tasks[taskID]
	if !ok {
		return nil, taskqueue.ErrTaskNotFound
	}
	return task, nil
}

func (q *stubQueue) GetTasksByDocument(ctx context.Context, documentID string) ([]*taskqueue.Task, error) {
	var result []*taskqueue.Task
	for _, task := range q.tasks {
		if task.DocumentID == documentID {
			result = append(result, task)
		}
	}
	return result, nil
}

func (q *stubQueue) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*taskqueue.Task, error) {
	return q.GetTask(ctx, taskID)
}

func (q *stubQueue) DeleteTask(ctx context.Context, taskID string) error {
	delete(q.tasks, taskID)
	return nil
}

func (q *stubQueue) UpdateTaskStatus(ctx context.Context, taskID string, status taskqueue.TaskStatus, result interface{}, errMsg string) error {
	task, ok := q.tasks[taskID]
	if !ok {
		return taskqueue.ErrTaskNotFound
	}
	task.Status = status
	task.Error = errMsg
	return nil
}

func (q *stubQueue) NotifyTaskUpdate(ctx context.Context, taskID string) error { return nil }

func (q *stubQueue) Close() error { return nil }

// apiFixture API测试环境
type apiFixture struct {
	router *gin.Engine
	queue  *stubQueue
}

var fixtureCounter int

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()

	gin.SetMode(gin.TestMode)

	fixtureCounter++
	dsn := fmt.Sprintf("file:memdb_api_%d_%d?mode=memory&cache=shared", fixtureCounter, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Document{},
		&models.Requirement{},
		&models.MatchRecord{},
		&models.MatchSummary{},
		&models.Response{},
		&models.KnowledgeBaseItem{},
	))

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store, err := storage.NewLocalStorage(storage.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	index, err := vectordb.NewMemoryRepository(vectordb.Config{
		Dimension:    testEmbeddingDim,
		DistanceType: vectordb.Cosine,
	})
	require.NoError(t, err)

	matchService := matcher.NewService(&flatEmbedder{}, index)

	docRepo := repository.NewDocumentRepositoryWithDB(db)
	kbRepo := repository.NewKnowledgeBaseRepositoryWithDB(db)
	respRepo := repository.NewResponseRepositoryWithDB(db)

	statusManager := services.NewDocumentStatusManager(docRepo, logger)
	pipeline := services.NewPipeline(statusManager, docRepo, store, extractor.New(), matchService,
		services.WithPipelineLogger(logger))

	docService := services.NewDocumentService(store, pipeline, docRepo,
		services.WithStatusManager(statusManager),
		services.WithLogger(logger),
	)
	require.NoError(t, docService.Init())

	kbService := services.NewKnowledgeBaseService(kbRepo, matchService, logger)
	composeService := composer.NewService(composer.WithLogger(logger))
	respService := services.NewResponseService(respRepo, docRepo, matchService, composeService,
		services.WithResponseLogger(logger))

	humanizer := detector.NewHumanizer(detector.WithLogger(logger))

	queue := newStubQueue()

	docHandler := handler.NewDocumentHandler(docService)
	kbHandler := handler.NewKnowledgeHandler(kbService, queue)
	respHandler := handler.NewResponseHandler(respService, queue)
	humanizeHandler := handler.NewHumanizeHandler(humanizer)
	taskHandler := handler.NewTaskHandler(queue)

	router := SetupRouter(docHandler, kbHandler, respHandler, humanizeHandler, taskHandler)

	return &apiFixture{router: router, queue: queue}
}

// apiResponse 通用响应信封
type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, *apiResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp apiResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err, "response should be valid JSON: %s", w.Body.String())

	return w, &resp
}

func (f *apiFixture) uploadFile(t *testing.T, filename string, content string, tenantID string) (*httptest.ResponseRecorder, *apiResponse) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)

	if tenantID != "" {
		require.NoError(t, writer.WriteField("tenant_id", tenantID))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp apiResponse
	err = json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err, "upload response should be valid JSON: %s", w.Body.String())

	return w, &resp
}

func (f *apiFixture) createKBItem(t *testing.T, title, content string) model.KnowledgeItemInfo {
	t.Helper()

	w, resp := f.do(t, http.MethodPost, "/api/knowledge-base", model.KnowledgeItemRequest{
		Title:   title,
		Content: content,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var item model.KnowledgeItemInfo
	require.NoError(t, json.Unmarshal(resp.Data, &item))
	return item
}

const tenderFileContent = `Invitation to tender for a document management platform.

The bidder must have ISO 27001 certification for information security management. The system shall support at least 1000 concurrent users during peak hours. The supplier shall provide audited financial statements for the last three fiscal years.`

const kbItemContent = `Our organization holds ISO 27001 and ISO 9001 certifications covering information security management across all delivery centers. The platform has been load tested with over five thousand concurrent users in production deployments. Audited financial statements are available for the last five fiscal years and demonstrate consistent revenue growth.`

func TestHealthEndpoint(t *testing.T) {
	f := setupAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestDocumentUploadAndProcessing(t *testing.T) {
	f := setupAPI(t)

	f.createKBItem(t, "Certifications", kbItemContent)

	w, resp := f.uploadFile(t, "tender.txt", tenderFileContent, "tenant-a")
	require.Equal(t, http.StatusOK, w.Code)

	var upload model.DocumentUploadResponse
	require.NoError(t, json.Unmarshal(resp.Data, &upload))
	assert.NotEmpty(t, upload.DocumentID)
	assert.Equal(t, "tender.txt", upload.FileName)

	// 同步模式下上传返回时流水线已经跑完
	assert.Equal(t, string(models.DocStatusReady), upload.Status)
	assert.Equal(t, 100, upload.Progress)

	// 状态端点
	w, resp = f.do(t, http.MethodGet, "/api/documents/"+upload.DocumentID+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var info model.DocumentInfo
	require.NoError(t, json.Unmarshal(resp.Data, &info))
	assert.Equal(t, string(models.DocStatusReady), info.Status)
	assert.Equal(t, "tenant-a", info.TenantID)
	assert.NotNil(t, info.ProcessedAt)

	// 需求条目
	w, resp = f.do(t, http.MethodGet, "/api/documents/"+upload.DocumentID+"/requirements", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var requirements []model.RequirementInfo
	require.NoError(t, json.Unmarshal(resp.Data, &requirements))
	assert.NotEmpty(t, requirements)

	// 匹配记录
	w, resp = f.do(t, http.MethodGet, "/api/documents/"+upload.DocumentID+"/matches", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var matches []model.MatchInfo
	require.NoError(t, json.Unmarshal(resp.Data, &matches))
	assert.NotEmpty(t, matches)
	assert.Equal(t, 1, matches[0].Rank)

	// 匹配汇总
	w, resp = f.do(t, http.MethodGet, "/api/documents/"+upload.DocumentID+"/match-summary", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var summary model.MatchSummaryInfo
	require.NoError(t, json.Unmarshal(resp.Data, &summary))
	assert.Equal(t, upload.DocumentID, summary.DocumentID)
	assert.Equal(t, len(requirements), summary.TotalRequirements)

	// 文档列表
	w, resp = f.do(t, http.MethodGet, "/api/documents?tenant_id=tenant-a", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list model.DocumentListResponse
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Equal(t, int64(1), list.Total)
}

func TestDocumentUploadRejectsUnsupportedType(t *testing.T) {
	f := setupAPI(t)

	w, _ := f.uploadFile(t, "tender.exe", "binary content here", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentNotFound(t *testing.T) {
	f := setupAPI(t)

	w, _ := f.do(t, http.MethodGet, "/api/documents/ghost/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/documents/ghost/requirements", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentDelete(t *testing.T) {
	f := setupAPI(t)

	f.createKBItem(t, "Certifications", kbItemContent)

	_, resp := f.uploadFile(t, "tender.txt", tenderFileContent, "")
	var upload model.DocumentUploadResponse
	require.NoError(t, json.Unmarshal(resp.Data, &upload))

	w, _ := f.do(t, http.MethodDelete, "/api/documents/"+upload.DocumentID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/documents/"+upload.DocumentID+"/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentReprocess(t *testing.T) {
	f := setupAPI(t)

	f.createKBItem(t, "Certifications", kbItemContent)

	_, resp := f.uploadFile(t, "tender.txt", tenderFileContent, "")
	var upload model.DocumentUploadResponse
	require.NoError(t, json.Unmarshal(resp.Data, &upload))
	require.Equal(t, string(models.DocStatusReady), upload.Status)

	// READY状态的文档允许重新处理，流水线重新跑完后回到READY
	w, _ := f.do(t, http.MethodPost, "/api/documents/"+upload.DocumentID+"/reprocess", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = f.do(t, http.MethodGet, "/api/documents/"+upload.DocumentID+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var info model.DocumentInfo
	require.NoError(t, json.Unmarshal(resp.Data, &info))
	assert.Equal(t, string(models.DocStatusReady), info.Status)
	assert.Equal(t, 100, info.Progress)
}

func TestResponseGeneration(t *testing.T) {
	f := setupAPI(t)

	f.createKBItem(t, "Certifications", kbItemContent)

	_, resp := f.uploadFile(t, "tender.txt", tenderFileContent, "")
	var upload model.DocumentUploadResponse
	require.NoError(t, json.Unmarshal(resp.Data, &upload))
	require.Equal(t, string(models.DocStatusReady), upload.Status)

	// 批量生成（同步）
	w, resp := f.do(t, http.MethodPost, "/api/documents/"+upload.DocumentID+"/responses/generate", model.GenerateResponsesRequest{})
	require.Equal(t, http.StatusOK, w.Code)

	var genResult model.GenerateResponsesResponse
	require.NoError(t, json.Unmarshal(resp.Data, &genResult))
	assert.Greater(t, genResult.Generated, 0)
	assert.Equal(t, 0, genResult.Failed)

	// 应答列表
	w, resp = f.do(t, http.MethodGet, "/api/documents/"+upload.DocumentID+"/responses", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var responses []model.ResponseInfo
	require.NoError(t, json.Unmarshal(resp.Data, &responses))
	require.Len(t, responses, genResult.Generated)
	assert.NotEmpty(t, responses[0].Text)
	assert.Equal(t, string(models.ResponseStatusDraft), responses[0].Status)

	// 审核状态流转
	w, _ = f.do(t, http.MethodPut, "/api/responses/"+responses[0].ID+"/status", model.ResponseStatusRequest{
		Status: string(models.ResponseStatusInReview),
	})
	assert.Equal(t, http.StatusOK, w.Code)

	// 非法状态被拒绝
	w, _ = f.do(t, http.MethodPut, "/api/responses/"+responses[0].ID+"/status", model.ResponseStatusRequest{
		Status: "PUBLISHED",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResponseGenerationAsync(t *testing.T) {
	f := setupAPI(t)

	f.createKBItem(t, "Certifications", kbItemContent)

	_, resp := f.uploadFile(t, "tender.txt", tenderFileContent, "")
	var upload model.DocumentUploadResponse
	require.NoError(t, json.Unmarshal(resp.Data, &upload))

	w, resp := f.do(t, http.MethodPost, "/api/documents/"+upload.DocumentID+"/responses/generate", model.GenerateResponsesRequest{
		Async: true,
		Mode:  "aggressive",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var genResult model.GenerateResponsesResponse
	require.NoError(t, json.Unmarshal(resp.Data, &genResult))
	assert.NotEmpty(t, genResult.TaskID)

	// 任务已入队且载荷正确
	task := f.queue.tasks[genResult.TaskID]
	require.NotNil(t, task)
	assert.Equal(t, taskqueue.TaskGenerateBatch, task.Type)
	assert.Equal(t, upload.DocumentID, task.DocumentID)

	// 任务状态端点
	w, resp = f.do(t, http.MethodGet, "/api/tasks/"+genResult.TaskID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var taskInfo map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &taskInfo))
	assert.Equal(t, string(taskqueue.TaskGenerateBatch), taskInfo["type"])
}

func TestKnowledgeBaseCRUD(t *testing.T) {
	f := setupAPI(t)

	// 创建
	item := f.createKBItem(t, "Security", "ISO 27001 certified since 2018 with annual surveillance audits.")
	assert.True(t, item.Active)
	assert.NotEmpty(t, item.ID)

	// 详情
	w, resp := f.do(t, http.MethodGet, "/api/knowledge-base/"+item.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var fetched model.KnowledgeItemInfo
	require.NoError(t, json.Unmarshal(resp.Data, &fetched))
	assert.Equal(t, item.Title, fetched.Title)

	// 更新
	w, resp = f.do(t, http.MethodPut, "/api/knowledge-base/"+item.ID, model.KnowledgeItemUpdateRequest{
		Title: "Security Certifications",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var updated model.KnowledgeItemInfo
	require.NoError(t, json.Unmarshal(resp.Data, &updated))
	assert.Equal(t, "Security Certifications", updated.Title)
	assert.Equal(t, item.Content, updated.Content, "content should be preserved when not provided")

	// 列表
	w, resp = f.do(t, http.MethodGet, "/api/knowledge-base", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Total int64                     `json:"total"`
		Items []model.KnowledgeItemInfo `json:"items"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Equal(t, int64(1), list.Total)

	// 同步重建索引
	w, resp = f.do(t, http.MethodPost, "/api/knowledge-base/sync", model.KnowledgeSyncRequest{})
	require.Equal(t, http.StatusOK, w.Code)

	var sync model.KnowledgeSyncResponse
	require.NoError(t, json.Unmarshal(resp.Data, &sync))
	assert.Equal(t, 1, sync.ItemCount)

	// 删除
	w, _ = f.do(t, http.MethodDelete, "/api/knowledge-base/"+item.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/knowledge-base/"+item.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKnowledgeBaseValidation(t *testing.T) {
	f := setupAPI(t)

	w, _ := f.do(t, http.MethodPost, "/api/knowledge-base", model.KnowledgeItemRequest{Title: "no content"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHumanizeEndpoint(t *testing.T) {
	f := setupAPI(t)

	text := "Furthermore, it is important to note that we will leverage comprehensive solutions to facilitate seamless integration across the organization."

	w, resp := f.do(t, http.MethodPost, "/api/humanize", model.HumanizeRequest{
		Text: text,
		Mode: "balanced",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result model.HumanizeResponse
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Equal(t, text, result.OriginalText)
	assert.NotEmpty(t, result.HumanizedText)
	assert.LessOrEqual(t, result.FinalScore, result.OriginalScore)

	// 过短文本被拒绝
	w, _ = f.do(t, http.MethodPost, "/api/humanize", model.HumanizeRequest{Text: "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHumanizeScore(t *testing.T) {
	f := setupAPI(t)

	w, resp := f.do(t, http.MethodPost, "/api/humanize/score", model.HumanizeRequest{
		Text: "Moreover, it is worth noting that the comprehensive framework will facilitate robust outcomes.",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result struct {
		Score    float64  `json:"score"`
		Patterns []string `json:"patterns"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.Greater(t, result.Score, 0.0)
}
