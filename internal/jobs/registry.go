package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/feichai0017/blueprint-dashboard/internal/models"
	"github.com/feichai0017/blueprint-dashboard/pkg/logger"
	"github.com/feichai0017/blueprint-dashboard/pkg/storage"
)

// UpdatePatch 任务状态增量更新
// Nil fields are left untouched; Images are appended to the existing list.
type UpdatePatch struct {
	Status   *models.JobStatus
	Progress *int
	Images   []models.ProcessedImage
	Error    string
}

// Registry is the single source of truth for in-flight job state. It is
// safe for concurrent use: the processing pipeline mutates entries while
// any number of request handlers read them or stream their events.
//
// Terminal jobs are evicted after retention elapses, mirroring the staging
// store's timer-based reclamation, so the in-memory map cannot grow without
// bound.
type Registry struct {
	mu          sync.RWMutex
	jobs        map[string]*models.Job
	evictTimers map[string]*time.Timer

	broadcaster *Broadcaster
	store       storage.Storage
	retention   time.Duration
	logger      logger.Logger
}

// NewRegistry creates a registry publishing into broadcaster and deleting
// image files through store. retention bounds how long completed/failed
// jobs stay resident; zero disables eviction.
func NewRegistry(broadcaster *Broadcaster, store storage.Storage, retention time.Duration, log logger.Logger) *Registry {
	return &Registry{
		jobs:        make(map[string]*models.Job),
		evictTimers: make(map[string]*time.Timer),
		broadcaster: broadcaster,
		store:       store,
		retention:   retention,
		logger:      log,
	}
}

// CreateOrReplace inserts a job under id. A later call for the same id
// overwrites the earlier entry (last write wins).
func (r *Registry) CreateOrReplace(id string, job models.Job) {
	job.ID = id
	if job.Status == "" {
		job.Status = models.StatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = time.Now()

	r.mu.Lock()
	if timer, ok := r.evictTimers[id]; ok {
		timer.Stop()
		delete(r.evictTimers, id)
	}
	stored := job.Clone()
	r.jobs[id] = &stored
	r.mu.Unlock()

	r.logger.Debug("job registered",
		logger.String("jobId", id),
		logger.String("status", string(job.Status)),
	)
}

// Get returns a snapshot of the job, or false when the id is unknown.
// Absence is an expected outcome, not an error.
func (r *Registry) Get(id string) (models.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return job.Clone(), true
}

// Update merges patch into the job and broadcasts the matching event to
// every subscriber of id before returning. Illegal status transitions and
// progress regressions while processing are discarded. Returns false when
// the id is unknown (no-op).
func (r *Registry) Update(id string, patch UpdatePatch) bool {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("update for unknown job", logger.String("jobId", id))
		return false
	}

	if patch.Status != nil && job.Status.CanTransitionTo(*patch.Status) {
		job.Status = *patch.Status
	}
	if patch.Progress != nil && !job.Status.IsTerminal() {
		// progress is monotonic while processing
		if *patch.Progress > job.Progress {
			job.Progress = clampProgress(*patch.Progress)
		}
	}
	if patch.Status != nil && *patch.Status == models.StatusCompleted && job.Status == models.StatusCompleted {
		job.Progress = 100
	}
	if len(patch.Images) > 0 {
		job.ProcessedImages = append(job.ProcessedImages, patch.Images...)
	}
	if patch.Error != "" {
		job.Error = patch.Error
	}
	job.UpdatedAt = time.Now()

	snapshot := job.Clone()
	terminal := job.Status.IsTerminal()
	if terminal {
		r.armEvictionLocked(id)
	}
	r.mu.Unlock()

	r.broadcaster.Publish(id, eventFor(snapshot))
	return true
}

// DeleteImage removes the descriptor matching imagePath from the job's
// image list and deletes the stored file. Returns false when the job or
// the path is unknown; the image list is left untouched in that case.
// Subscribers are notified with an imageRemoved event.
func (r *Registry) DeleteImage(ctx context.Context, jobID, imagePath string) bool {
	r.mu.Lock()
	job, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return false
	}

	idx := -1
	for i, img := range job.ProcessedImages {
		if img.Path == imagePath {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return false
	}

	job.ProcessedImages = append(job.ProcessedImages[:idx], job.ProcessedImages[idx+1:]...)
	job.UpdatedAt = time.Now()
	snapshot := job.Clone()
	r.mu.Unlock()

	if err := r.store.Delete(ctx, imagePath); err != nil {
		// best effort: the descriptor is already gone, the file is orphaned
		r.logger.Warn("failed to delete image file",
			logger.String("jobId", jobID),
			logger.String("path", imagePath),
			logger.Error(err),
		)
	}

	r.broadcaster.Publish(jobID, models.NewImageRemovedEvent(snapshot))
	return true
}

// Reset evicts every job and stops pending timers. Test teardown hook.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, timer := range r.evictTimers {
		timer.Stop()
		delete(r.evictTimers, id)
	}
	r.jobs = make(map[string]*models.Job)
}

// armEvictionLocked schedules removal of a terminal job. Callers hold r.mu.
func (r *Registry) armEvictionLocked(id string) {
	if r.retention <= 0 {
		return
	}
	if timer, ok := r.evictTimers[id]; ok {
		timer.Stop()
	}
	r.evictTimers[id] = time.AfterFunc(r.retention, func() {
		r.evict(id)
	})
}

func (r *Registry) evict(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	delete(r.evictTimers, id)
	r.mu.Unlock()

	r.logger.Debug("job evicted", logger.String("jobId", id))
}

func eventFor(job models.Job) models.JobEvent {
	switch job.Status {
	case models.StatusCompleted:
		return models.NewCompletedEvent(job)
	case models.StatusFailed:
		return models.NewFailedEvent(job)
	default:
		return models.NewProgressEvent(job)
	}
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
