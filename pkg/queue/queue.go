package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/blueprint-dashboard/internal/models"
)

// TaskTypeBlueprintProcess 蓝图处理任务类型
const TaskTypeBlueprintProcess = "blueprint:process"

// finalStatusTTL is how long a terminal job snapshot stays readable in
// redis after the in-memory registry has evicted it.
const finalStatusTTL = 24 * time.Hour

// Queue 接口定义
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	SaveFinalStatus(ctx context.Context, job *models.Job) error
	GetFinalStatus(ctx context.Context, jobID string) (*models.Job, error)
}

// Task 定义任务结构
type Task struct {
	JobID     string    `json:"jobId"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
}

// Config 定义队列配置
type Config struct {
	RedisAddr string
	RedisDB   int
}

// AsynqQueue 实现
type AsynqQueue struct {
	client *asynq.Client
	redis  *redis.Client
}

// NewAsynqQueue 创建新的队列实例
func NewAsynqQueue(cfg *Config) *AsynqQueue {
	redisOpt := asynq.RedisClientOpt{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	}

	return &AsynqQueue{
		client: asynq.NewClient(redisOpt),
		redis: redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		}),
	}
}

// Enqueue 将处理任务加入队列
func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Timeout(30 * time.Minute),
		asynq.TaskID(task.JobID),
	}

	t := asynq.NewTask(TaskTypeBlueprintProcess, payload, opts...)
	if _, err := q.client.EnqueueContext(ctx, t); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	return nil
}

// SaveFinalStatus 保存最终任务状态
func (q *AsynqQueue) SaveFinalStatus(ctx context.Context, job *models.Job) error {
	key := finalStatusKey(job.ID)
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if err := q.redis.Set(ctx, key, data, finalStatusTTL).Err(); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}

	return nil
}

// GetFinalStatus 获取已结束任务的最终状态
func (q *AsynqQueue) GetFinalStatus(ctx context.Context, jobID string) (*models.Job, error) {
	data, err := q.redis.Get(ctx, finalStatusKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status from redis: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &job, nil
}

// Close releases the asynq and redis clients.
func (q *AsynqQueue) Close() error {
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.redis.Close()
}

func finalStatusKey(jobID string) string {
	return fmt.Sprintf("job_status:%s", jobID)
}
