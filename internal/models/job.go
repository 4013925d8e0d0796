package models

import (
	"time"
)

// JobStatus 任务状态
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status permits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal
// forward transition (queued → processing → completed/failed).
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusCompleted || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// ProcessedImage 处理结果图片
type ProcessedImage struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	PageNumber int    `json:"pageNumber,omitempty"`
	Overlay    string `json:"overlay,omitempty"`
}

// Job 一次后台处理任务
type Job struct {
	ID              string           `json:"id"`
	Status          JobStatus        `json:"status"`
	Progress        int              `json:"progress"`
	Error           string           `json:"error,omitempty"`
	ProcessedImages []ProcessedImage `json:"processedImages"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy so callers can't mutate registry state.
func (j *Job) Clone() Job {
	out := *j
	if j.ProcessedImages != nil {
		out.ProcessedImages = make([]ProcessedImage, len(j.ProcessedImages))
		copy(out.ProcessedImages, j.ProcessedImages)
	}
	return out
}
