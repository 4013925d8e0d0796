package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/feichai0017/blueprint-dashboard/internal/jobs"
	"github.com/feichai0017/blueprint-dashboard/internal/models"
	"github.com/feichai0017/blueprint-dashboard/internal/tempstore"
	"github.com/feichai0017/blueprint-dashboard/pkg/logger"
	"github.com/feichai0017/blueprint-dashboard/pkg/queue"
	"github.com/feichai0017/blueprint-dashboard/pkg/storage"
)

// Pipeline turns a staged upload batch into processed page images,
// reporting progress through the job registry as it goes. PDF uploads are
// split into per-page previews; raster uploads are normalized in place.
type Pipeline struct {
	registry *jobs.Registry
	staging  *tempstore.Store
	store    storage.Storage
	queue    queue.Queue
	logger   logger.Logger
}

func NewPipeline(
	registry *jobs.Registry,
	staging *tempstore.Store,
	store storage.Storage,
	q queue.Queue,
	log logger.Logger,
) *Pipeline {
	return &Pipeline{
		registry: registry,
		staging:  staging,
		store:    store,
		queue:    q,
		logger:   log,
	}
}

// Process runs one blueprint job end to end. The job must already exist
// in the registry (queued). The staged batch is reclaimed when processing
// finishes, successfully or not.
func (p *Pipeline) Process(ctx context.Context, jobID, token string) error {
	files, ok := p.staging.GetFiles(token)
	if !ok {
		p.fail(ctx, jobID, "upload expired before processing started")
		return fmt.Errorf("staged upload %s not found", token)
	}
	defer p.staging.Reclaim(token)

	processing := models.StatusProcessing
	zero := 0
	p.registry.Update(jobID, jobs.UpdatePatch{Status: &processing, Progress: &zero})

	p.logger.Info("processing blueprint job",
		logger.String("jobId", jobID),
		logger.Int("files", len(files)),
	)

	for i, f := range files {
		var (
			images []models.ProcessedImage
			err    error
		)
		if isPDF(f) {
			images, err = p.processPDF(ctx, jobID, f)
		} else {
			images, err = p.processImage(ctx, jobID, f)
		}
		if err != nil {
			p.fail(ctx, jobID, fmt.Sprintf("failed to process %s: %v", f.OriginalName, err))
			return err
		}

		progress := (i + 1) * 100 / len(files)
		p.registry.Update(jobID, jobs.UpdatePatch{
			Progress: &progress,
			Images:   images,
		})
	}

	completed := models.StatusCompleted
	hundred := 100
	p.registry.Update(jobID, jobs.UpdatePatch{Status: &completed, Progress: &hundred})
	p.saveFinal(ctx, jobID)

	p.logger.Info("blueprint job completed", logger.String("jobId", jobID))
	return nil
}

func (p *Pipeline) fail(ctx context.Context, jobID, message string) {
	failed := models.StatusFailed
	p.registry.Update(jobID, jobs.UpdatePatch{Status: &failed, Error: message})
	p.saveFinal(ctx, jobID)

	p.logger.Error("blueprint job failed",
		logger.String("jobId", jobID),
		logger.String("reason", message),
	)
}

// saveFinal mirrors the terminal snapshot to redis so status lookups keep
// working after the registry evicts the job.
func (p *Pipeline) saveFinal(ctx context.Context, jobID string) {
	job, ok := p.registry.Get(jobID)
	if !ok {
		return
	}
	if err := p.queue.SaveFinalStatus(ctx, &job); err != nil {
		p.logger.Warn("failed to save final job status",
			logger.String("jobId", jobID),
			logger.Error(err),
		)
	}
}

func isPDF(f tempstore.StagedFile) bool {
	if f.MimeType == "application/pdf" {
		return true
	}
	return strings.EqualFold(filepath.Ext(f.OriginalName), ".pdf")
}
