package models

// EventType 任务事件类型
type EventType string

const (
	EventSnapshot     EventType = "snapshot"
	EventProgress     EventType = "progress"
	EventCompleted    EventType = "completed"
	EventFailed       EventType = "failed"
	EventImageRemoved EventType = "imageRemoved"
	EventError        EventType = "error"
)

// JobEvent is one transient notification of a job state change. Events are
// never stored; a subscriber only sees events published after it attached,
// plus the initial snapshot. Construct events through the New*Event helpers
// so the type/payload combinations stay closed.
type JobEvent struct {
	Type            EventType        `json:"type"`
	JobID           string           `json:"jobId"`
	Status          JobStatus        `json:"status,omitempty"`
	Progress        *int             `json:"progress,omitempty"`
	ProcessedImages []ProcessedImage `json:"processedImages,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// NewSnapshotEvent 新订阅者收到的初始状态事件
func NewSnapshotEvent(job Job) JobEvent {
	progress := job.Progress
	return JobEvent{
		Type:            EventSnapshot,
		JobID:           job.ID,
		Status:          job.Status,
		Progress:        &progress,
		ProcessedImages: job.ProcessedImages,
		Error:           job.Error,
	}
}

// NewProgressEvent 处理进度事件
func NewProgressEvent(job Job) JobEvent {
	progress := job.Progress
	return JobEvent{
		Type:            EventProgress,
		JobID:           job.ID,
		Status:          job.Status,
		Progress:        &progress,
		ProcessedImages: job.ProcessedImages,
	}
}

// NewCompletedEvent 任务完成事件
func NewCompletedEvent(job Job) JobEvent {
	progress := job.Progress
	return JobEvent{
		Type:            EventCompleted,
		JobID:           job.ID,
		Status:          StatusCompleted,
		Progress:        &progress,
		ProcessedImages: job.ProcessedImages,
	}
}

// NewFailedEvent 任务失败事件
func NewFailedEvent(job Job) JobEvent {
	return JobEvent{
		Type:   EventFailed,
		JobID:  job.ID,
		Status: StatusFailed,
		Error:  job.Error,
	}
}

// NewImageRemovedEvent carries the remaining image list after an
// out-of-band image deletion.
func NewImageRemovedEvent(job Job) JobEvent {
	return JobEvent{
		Type:            EventImageRemoved,
		JobID:           job.ID,
		Status:          job.Status,
		ProcessedImages: job.ProcessedImages,
	}
}

// NewErrorEvent 未知任务等错误事件
func NewErrorEvent(jobID, message string) JobEvent {
	return JobEvent{
		Type:  EventError,
		JobID: jobID,
		Error: message,
	}
}
