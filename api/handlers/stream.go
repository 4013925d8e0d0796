package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/blueprint-dashboard/internal/jobs"
	"github.com/feichai0017/blueprint-dashboard/internal/models"
	"github.com/feichai0017/blueprint-dashboard/pkg/logger"
)

// DefaultHeartbeat keeps intermediaries from timing out idle streams.
const DefaultHeartbeat = 15 * time.Second

// StreamHandler bridges one SSE connection to the registry/broadcaster
// pair for a single job id, for the lifetime of the connection.
type StreamHandler struct {
	registry    *jobs.Registry
	broadcaster *jobs.Broadcaster
	heartbeat   time.Duration
	logger      logger.Logger
}

func NewStreamHandler(registry *jobs.Registry, broadcaster *jobs.Broadcaster, heartbeat time.Duration, log logger.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &StreamHandler{
		registry:    registry,
		broadcaster: broadcaster,
		heartbeat:   heartbeat,
		logger:      log,
	}
}

// StreamJob 推送指定任务的实时事件流
//
// Protocol: one snapshot frame, or an error frame when the job is
// unknown. The connection stays open either way so a job created moments
// later is still observed. After that, every published event in order,
// plus keepalive frames. The stream ends only on client disconnect or
// server shutdown.
func (h *StreamHandler) StreamJob(c *gin.Context) {
	jobID := c.Query("jobId")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Job ID required"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	// Subscribe before reading the snapshot so an update racing the
	// connect window is delivered rather than lost.
	events, unsubscribe := h.broadcaster.Subscribe(jobID)
	defer unsubscribe()

	var first models.JobEvent
	if job, ok := h.registry.Get(jobID); ok {
		first = models.NewSnapshotEvent(job)
	} else {
		first = models.NewErrorEvent(jobID, "Job not found")
	}
	if err := writeEvent(c.Writer, first); err != nil {
		return
	}
	c.Writer.Flush()

	h.logger.Debug("stream opened", logger.String("jobId", jobID))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			// client went away; normal teardown, not an error
			h.logger.Debug("stream closed", logger.String("jobId", jobID))
			return

		case event, ok := <-events:
			if !ok {
				// evicted as a slow consumer
				h.logger.Warn("stream dropped", logger.String("jobId", jobID))
				return
			}
			if err := writeEvent(c.Writer, event); err != nil {
				return
			}
			c.Writer.Flush()

		case <-ticker.C:
			if err := sse.Encode(c.Writer, sse.Event{Event: "keepalive", Data: "ping"}); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// writeEvent encodes one job event as a self-contained SSE data frame.
func writeEvent(w io.Writer, event models.JobEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return sse.Encode(w, sse.Event{Data: string(payload)})
}
