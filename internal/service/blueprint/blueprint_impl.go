package blueprint

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/blueprint-dashboard/internal/jobs"
	"github.com/feichai0017/blueprint-dashboard/internal/models"
	"github.com/feichai0017/blueprint-dashboard/internal/tempstore"
	"github.com/feichai0017/blueprint-dashboard/pkg/logger"
	"github.com/feichai0017/blueprint-dashboard/pkg/queue"
)

type blueprintService struct {
	staging  *tempstore.Store
	registry *jobs.Registry
	queue    queue.Queue
	logger   logger.Logger
}

func NewService(
	staging *tempstore.Store,
	registry *jobs.Registry,
	q queue.Queue,
	log logger.Logger,
) Service {
	return &blueprintService{
		staging:  staging,
		registry: registry,
		queue:    q,
		logger:   log,
	}
}

// StageUpload 暂存一批上传文件
func (s *blueprintService) StageUpload(ctx context.Context, files []tempstore.IncomingFile) (*tempstore.SavedBatch, error) {
	batch, err := s.staging.SaveFiles(files)
	if err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	return batch, nil
}

func (s *blueprintService) StagedFiles(ctx context.Context, token string) ([]tempstore.StagedFile, bool) {
	return s.staging.GetFiles(token)
}

func (s *blueprintService) ReadStagedFile(ctx context.Context, token, filename string) ([]byte, string, bool) {
	return s.staging.ReadFileBuffer(token, filename)
}

// StartProcessing creates a queued job for the staged batch and hands it
// to the pipeline queue. The token stays resolvable until the pipeline
// claims and reclaims it.
func (s *blueprintService) StartProcessing(ctx context.Context, token string) (string, error) {
	if _, ok := s.staging.GetFiles(token); !ok {
		return "", ErrTokenNotFound
	}

	jobID := uuid.NewString()
	s.registry.CreateOrReplace(jobID, models.Job{
		Status:          models.StatusQueued,
		ProcessedImages: []models.ProcessedImage{},
	})

	if err := s.queue.Enqueue(ctx, &queue.Task{
		JobID:     jobID,
		Token:     token,
		CreatedAt: time.Now(),
	}); err != nil {
		failed := models.StatusFailed
		s.registry.Update(jobID, jobs.UpdatePatch{Status: &failed, Error: "failed to enqueue"})
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info("blueprint job queued",
		logger.String("jobId", jobID),
		logger.String("token", token),
	)
	return jobID, nil
}

// GetJob reads the registry first and falls back to the redis final-status
// record for jobs the registry has already evicted. Returns nil without
// error when the job is unknown in both places.
func (s *blueprintService) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	if job, ok := s.registry.Get(jobID); ok {
		return &job, nil
	}
	return s.queue.GetFinalStatus(ctx, jobID)
}

func (s *blueprintService) DeleteImage(ctx context.Context, jobID, imagePath string) bool {
	return s.registry.DeleteImage(ctx, jobID, imagePath)
}
