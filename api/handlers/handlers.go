package handlers

import (
	"time"

	"github.com/feichai0017/blueprint-dashboard/internal/jobs"
	"github.com/feichai0017/blueprint-dashboard/internal/service/blueprint"
	"github.com/feichai0017/blueprint-dashboard/pkg/logger"
)

type Handlers struct {
	Upload *UploadHandler
	Jobs   *JobHandler
	Stream *StreamHandler
}

func NewHandlers(
	service blueprint.Service,
	registry *jobs.Registry,
	broadcaster *jobs.Broadcaster,
	heartbeat time.Duration,
	uploadTTL time.Duration,
	log logger.Logger,
) *Handlers {
	return &Handlers{
		Upload: NewUploadHandler(service, uploadTTL, log),
		Jobs:   NewJobHandler(service, log),
		Stream: NewStreamHandler(registry, broadcaster, heartbeat, log),
	}
}
