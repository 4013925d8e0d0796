package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/blueprint-dashboard/internal/pipeline"
	"github.com/feichai0017/blueprint-dashboard/pkg/logger"
	"github.com/feichai0017/blueprint-dashboard/pkg/queue"
)

// BlueprintWorker runs the processing pipeline off the asynq queue. It is
// embedded in the server process so pipeline updates land in the same
// in-memory registry the stream handlers read from.
type BlueprintWorker struct {
	BaseWorker
	pipeline *pipeline.Pipeline
}

func NewBlueprintWorker(cfg *Config, p *pipeline.Pipeline, log logger.Logger) *BlueprintWorker {
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Minute
			},
		},
	)

	w := &BlueprintWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		pipeline: p,
	}

	w.mux.HandleFunc(queue.TaskTypeBlueprintProcess, w.handleProcess)
	return w
}

func (w *BlueprintWorker) handleProcess(ctx context.Context, t *asynq.Task) error {
	var task queue.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.logger.Error("Failed to unmarshal task",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("failed to unmarshal task: %w", err)
	}

	if task.JobID == "" || task.Token == "" {
		return fmt.Errorf("invalid task data: missing required fields")
	}

	w.logger.Info("Processing blueprint task",
		logger.String("jobId", task.JobID),
		logger.String("token", task.Token),
	)

	return w.pipeline.Process(ctx, task.JobID, task.Token)
}

func (w *BlueprintWorker) Start(ctx context.Context) error {
	go func() {
		if err := w.server.Run(w.mux); err != nil {
			w.logger.Error("Worker server stopped", logger.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	return nil
}
