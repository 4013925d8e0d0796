package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/blueprint-dashboard/internal/jobs"
	"github.com/feichai0017/blueprint-dashboard/internal/models"
	"github.com/feichai0017/blueprint-dashboard/internal/service/blueprint"
	"github.com/feichai0017/blueprint-dashboard/internal/tempstore"
	"github.com/feichai0017/blueprint-dashboard/pkg/logger"
	"github.com/feichai0017/blueprint-dashboard/pkg/queue"
	"github.com/feichai0017/blueprint-dashboard/pkg/storage/local"
)

// memQueue keeps tasks and final snapshots in memory for handler tests.
type memQueue struct {
	mu       sync.Mutex
	enqueued []*queue.Task
	finals   map[string]*models.Job
}

func newMemQueue() *memQueue {
	return &memQueue{finals: make(map[string]*models.Job)}
}

func (m *memQueue) Enqueue(ctx context.Context, task *queue.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued = append(m.enqueued, task)
	return nil
}

func (m *memQueue) SaveFinalStatus(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finals[job.ID] = job
	return nil
}

func (m *memQueue) GetFinalStatus(ctx context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finals[jobID], nil
}

type handlerFixture struct {
	registry *jobs.Registry
	staging  *tempstore.Store
	queue    *memQueue
	service  blueprint.Service
	storage  *local.LocalStorage
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewTestLogger()
	store, err := local.NewLocalStorage(t.TempDir(), log)
	require.NoError(t, err)

	staging, err := tempstore.NewStore(t.TempDir(), time.Minute, log)
	require.NoError(t, err)
	t.Cleanup(staging.Close)

	b := jobs.NewBroadcaster(log)
	registry := jobs.NewRegistry(b, store, 0, log)
	t.Cleanup(registry.Reset)

	q := newMemQueue()
	return &handlerFixture{
		registry: registry,
		staging:  staging,
		queue:    q,
		service:  blueprint.NewService(staging, registry, q, log),
		storage:  store,
	}
}

func jsonRequest(method, url string, payload any) *http.Request {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (f *handlerFixture) stageFile(t *testing.T, name string) string {
	t.Helper()
	batch, err := f.staging.SaveFiles([]tempstore.IncomingFile{{
		Name:        name,
		ContentType: "image/png",
		Data:        strings.NewReader("png-bytes"),
	}})
	require.NoError(t, err)
	return batch.Token
}

func TestStartProcessing(t *testing.T) {
	f := newHandlerFixture(t)
	h := NewJobHandler(f.service, logger.NewTestLogger())
	token := f.stageFile(t, "plan.png")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodPost, "/api/v1/jobs/process", gin.H{"token": token})

	h.StartProcessing(c)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	jobID := resp["jobId"]
	require.NotEmpty(t, jobID)

	// job is registered as queued and a task is on the queue
	job, ok := f.registry.Get(jobID)
	require.True(t, ok)
	assert.Equal(t, models.StatusQueued, job.Status)
	require.Len(t, f.queue.enqueued, 1)
	assert.Equal(t, jobID, f.queue.enqueued[0].JobID)
	assert.Equal(t, token, f.queue.enqueued[0].Token)
}

func TestStartProcessingUnknownToken(t *testing.T) {
	f := newHandlerFixture(t)
	h := NewJobHandler(f.service, logger.NewTestLogger())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodPost, "/api/v1/jobs/process", gin.H{"token": "expired"})

	h.StartProcessing(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "token not found")
}

func TestStartProcessingTokenNotFoundSentinel(t *testing.T) {
	f := newHandlerFixture(t)

	_, err := f.service.StartProcessing(context.Background(), "expired")
	assert.ErrorIs(t, err, blueprint.ErrTokenNotFound)
}

func TestStartProcessingMissingToken(t *testing.T) {
	f := newHandlerFixture(t)
	h := NewJobHandler(f.service, logger.NewTestLogger())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodPost, "/api/v1/jobs/process", gin.H{})

	h.StartProcessing(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetJob(t *testing.T) {
	f := newHandlerFixture(t)
	h := NewJobHandler(f.service, logger.NewTestLogger())
	f.registry.CreateOrReplace("job-1", models.Job{Status: models.StatusProcessing, Progress: 30})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1", nil)
	c.Params = gin.Params{{Key: "jobId", Value: "job-1"}}

	h.GetJob(c)

	require.Equal(t, http.StatusOK, w.Code)
	var job models.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, models.StatusProcessing, job.Status)
	assert.Equal(t, 30, job.Progress)
}

func TestGetJobFallsBackToFinalStatus(t *testing.T) {
	f := newHandlerFixture(t)
	h := NewJobHandler(f.service, logger.NewTestLogger())

	// evicted from the registry, only the redis mirror remains
	f.queue.SaveFinalStatus(context.Background(), &models.Job{
		ID:       "old-job",
		Status:   models.StatusCompleted,
		Progress: 100,
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/old-job", nil)
	c.Params = gin.Params{{Key: "jobId", Value: "old-job"}}

	h.GetJob(c)

	require.Equal(t, http.StatusOK, w.Code)
	var job models.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, models.StatusCompleted, job.Status)
}

func TestGetJobNotFound(t *testing.T) {
	f := newHandlerFixture(t)
	h := NewJobHandler(f.service, logger.NewTestLogger())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/ghost", nil)
	c.Params = gin.Params{{Key: "jobId", Value: "ghost"}}

	h.GetJob(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Job not found")
}

func TestDeleteImage(t *testing.T) {
	f := newHandlerFixture(t)
	h := NewJobHandler(f.service, logger.NewTestLogger())

	path, err := f.storage.Store(context.Background(), strings.NewReader("png"), "job-1/page_1.png")
	require.NoError(t, err)

	f.registry.CreateOrReplace("job-1", models.Job{
		Status:          models.StatusCompleted,
		ProcessedImages: []models.ProcessedImage{{ID: "img-1", Path: path}},
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodDelete, "/api/v1/jobs/images", gin.H{
		"jobId":     "job-1",
		"imagePath": path,
	})

	h.DeleteImage(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)

	job, _ := f.registry.Get("job-1")
	assert.Empty(t, job.ProcessedImages)
}

func TestDeleteImageNotFound(t *testing.T) {
	f := newHandlerFixture(t)
	h := NewJobHandler(f.service, logger.NewTestLogger())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodDelete, "/api/v1/jobs/images", gin.H{
		"jobId":     "ghost",
		"imagePath": "x.png",
	})

	h.DeleteImage(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteImageMissingFields(t *testing.T) {
	f := newHandlerFixture(t)
	h := NewJobHandler(f.service, logger.NewTestLogger())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(http.MethodDelete, "/api/v1/jobs/images", gin.H{"jobId": "job-1"})

	h.DeleteImage(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
