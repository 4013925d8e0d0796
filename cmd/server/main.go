package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/blueprint-dashboard/api/handlers"
	"github.com/feichai0017/blueprint-dashboard/api/routes"
	"github.com/feichai0017/blueprint-dashboard/config"
	"github.com/feichai0017/blueprint-dashboard/internal/jobs"
	"github.com/feichai0017/blueprint-dashboard/internal/pipeline"
	"github.com/feichai0017/blueprint-dashboard/internal/service/blueprint"
	"github.com/feichai0017/blueprint-dashboard/internal/tempstore"
	"github.com/feichai0017/blueprint-dashboard/pkg/logger"
	"github.com/feichai0017/blueprint-dashboard/pkg/queue"
	"github.com/feichai0017/blueprint-dashboard/pkg/storage"
	"github.com/feichai0017/blueprint-dashboard/pkg/worker"
)

func main() {
	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/app.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.LoadServerConfig("config.yaml")
	if err != nil {
		log.Fatal("Failed to load config", logger.Error(err))
	}

	// processed image storage backend
	store, err := storage.NewStorage(storage.StorageType(cfg.StorageType), cfg.StorageDir, log)
	if err != nil {
		log.Fatal("Failed to initialize storage", logger.Error(err))
	}

	// upload staging area
	staging, err := tempstore.NewStore(cfg.StagingDir, cfg.UploadTTL, log)
	if err != nil {
		log.Fatal("Failed to initialize staging store", logger.Error(err))
	}
	defer staging.Close()

	// job registry + event fan-out
	broadcaster := jobs.NewBroadcaster(log.Named("broadcaster"))
	registry := jobs.NewRegistry(broadcaster, store, cfg.JobRetention, log.Named("registry"))

	// processing queue
	redisCfg := config.GetRedisConfig()
	q := queue.NewAsynqQueue(&queue.Config{
		RedisAddr: redisCfg.Addr,
		RedisDB:   redisCfg.DB,
	})
	defer q.Close()

	// embedded pipeline worker; keeps registry updates in-process so the
	// stream handlers observe them live
	p := pipeline.NewPipeline(registry, staging, store, q, log.Named("pipeline"))
	bw := worker.NewBlueprintWorker(&worker.Config{
		RedisAddr:   redisCfg.Addr,
		RedisDB:     redisCfg.DB,
		Concurrency: cfg.QueueConcurrency,
		Queues:      map[string]int{"default": 1},
	}, p, log.Named("worker"))

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if err := bw.Start(workerCtx); err != nil {
		log.Fatal("Failed to start worker", logger.Error(err))
	}

	// periodic cleanup of aged processed images
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				if err := store.CleanupBefore(workerCtx, time.Now().Add(-cfg.ImageRetention)); err != nil {
					log.Warn("Image cleanup failed", logger.Error(err))
				}
			}
		}
	}()

	svc := blueprint.NewService(staging, registry, q, log.Named("service"))
	h := handlers.NewHandlers(svc, registry, broadcaster, cfg.HeartbeatInterval, cfg.UploadTTL, log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = cfg.MaxUploadSize
	routes.SetupRoutes(r, h)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}

	workerCancel()
	bw.Stop()
}
