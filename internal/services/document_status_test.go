package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fyerfyer/tender-response-system/internal/models"
	"github.com/fyerfyer/tender-response-system/internal/repository"
)

func setupStatusManager(t *testing.T) *DocumentStatusManager {
	t.Helper()

	dbName := fmt.Sprintf("file:memdb_status_%d?mode=memory", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err, "Failed to open in-memory database")

	err = db.AutoMigrate(
		&models.Document{},
		&models.Requirement{},
		&models.MatchRecord{},
		&models.MatchSummary{},
		&models.Response{},
	)
	require.NoError(t, err, "Failed to run migrations")

	repo := repository.NewDocumentRepositoryWithDB(db)
	return NewDocumentStatusManager(repo, nil)
}

func TestMarkAsUploaded(t *testing.T) {
	manager := setupStatusManager(t)
	ctx := context.Background()

	err := manager.MarkAsUploaded(ctx, "doc-1", "tender.pdf", "/files/tender.pdf", 2048, "tenant-a")
	require.NoError(t, err)

	doc, err := manager.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusUploaded, doc.Status)
	assert.Equal(t, 0, doc.Progress)
	assert.Equal(t, "pdf", doc.FileType, "File type should be derived from filename")
	assert.Equal(t, "tenant-a", doc.TenantID)
}

func TestTransitionForward(t *testing.T) {
	manager := setupStatusManager(t)
	ctx := context.Background()

	require.NoError(t, manager.MarkAsUploaded(ctx, "doc-2", "tender.txt", "/files/tender.txt", 100, ""))

	// 沿流水线依次推进
	stages := []struct {
		status   models.DocumentStatus
		progress int
	}{
		{models.DocStatusParsing, 10},
		{models.DocStatusExtracting, 40},
		{models.DocStatusMatching, 70},
	}

	for _, stage := range stages {
		err := manager.Transition(ctx, "doc-2", stage.status, stage.progress)
		require.NoError(t, err, "Forward transition to %s should succeed", stage.status)

		doc, err := manager.GetDocument(ctx, "doc-2")
		require.NoError(t, err)
		assert.Equal(t, stage.status, doc.Status)
		assert.Equal(t, stage.progress, doc.Progress)
	}
}

func TestTransitionBackwardRejected(t *testing.T) {
	manager := setupStatusManager(t)
	ctx := context.Background()

	require.NoError(t, manager.MarkAsUploaded(ctx, "doc-3", "tender.txt", "/files/tender.txt", 100, ""))
	require.NoError(t, manager.Transition(ctx, "doc-3", models.DocStatusMatching, 70))

	// 状态不能回退
	err := manager.Transition(ctx, "doc-3", models.DocStatusParsing, 10)
	assert.Error(t, err, "Backward transition should be rejected")

	doc, err := manager.GetDocument(ctx, "doc-3")
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusMatching, doc.Status, "Status should be unchanged after rejected transition")
}

func TestMarkAsReady(t *testing.T) {
	manager := setupStatusManager(t)
	ctx := context.Background()

	require.NoError(t, manager.MarkAsUploaded(ctx, "doc-4", "tender.txt", "/files/tender.txt", 100, ""))
	require.NoError(t, manager.Transition(ctx, "doc-4", models.DocStatusMatching, 90))

	err := manager.MarkAsReady(ctx, "doc-4")
	require.NoError(t, err)

	doc, err := manager.GetDocument(ctx, "doc-4")
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusReady, doc.Status)
	assert.Equal(t, 100, doc.Progress)
	assert.NotNil(t, doc.ProcessedAt, "ProcessedAt should be set when ready")
}

func TestMarkAsError(t *testing.T) {
	manager := setupStatusManager(t)
	ctx := context.Background()

	require.NoError(t, manager.MarkAsUploaded(ctx, "doc-5", "tender.txt", "/files/tender.txt", 100, ""))
	require.NoError(t, manager.Transition(ctx, "doc-5", models.DocStatusParsing, 10))

	err := manager.MarkAsError(ctx, "doc-5", "failed to parse document: corrupt file")
	require.NoError(t, err)

	doc, err := manager.GetDocument(ctx, "doc-5")
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusError, doc.Status)
	assert.Equal(t, "failed to parse document: corrupt file", doc.ErrorMessage)
}

func TestMarkAsErrorFromReadyRejected(t *testing.T) {
	manager := setupStatusManager(t)
	ctx := context.Background()

	require.NoError(t, manager.MarkAsUploaded(ctx, "doc-6", "tender.txt", "/files/tender.txt", 100, ""))
	require.NoError(t, manager.Transition(ctx, "doc-6", models.DocStatusMatching, 90))
	require.NoError(t, manager.MarkAsReady(ctx, "doc-6"))

	// READY是终止状态，不能再进入ERROR
	err := manager.MarkAsError(ctx, "doc-6", "late failure")
	assert.Error(t, err, "Terminal state should reject error transition")
}

func TestUpdateProgressMonotonic(t *testing.T) {
	manager := setupStatusManager(t)
	ctx := context.Background()

	require.NoError(t, manager.MarkAsUploaded(ctx, "doc-7", "tender.txt", "/files/tender.txt", 100, ""))
	require.NoError(t, manager.Transition(ctx, "doc-7", models.DocStatusParsing, 10))

	require.NoError(t, manager.UpdateProgress(ctx, "doc-7", 30))

	// 进度不能倒退
	err := manager.UpdateProgress(ctx, "doc-7", 20)
	assert.Error(t, err, "Decreasing progress should be rejected")

	doc, err := manager.GetDocument(ctx, "doc-7")
	require.NoError(t, err)
	assert.Equal(t, 30, doc.Progress)
}
